package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Registry 数据源注册表
type Registry struct {
	mu        sync.RWMutex
	providers map[string]MetadataProvider
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]MetadataProvider)}
}

// Register 注册数据源
func (r *Registry) Register(id string, p MetadataProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = p
}

// Provider 获取元数据提供者
func (r *Registry) Provider(id string) (MetadataProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return p, nil
}

// Live 获取可在线查询的数据源
func (r *Registry) Live(id string) (LiveSource, error) {
	p, err := r.Provider(id)
	if err != nil {
		return nil, err
	}
	live, ok := p.(LiveSource)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotQueryable, id)
	}
	return live, nil
}

// IDs 已注册的数据源标识（有序）
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close 关闭所有连接
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, p := range r.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Open 按配置打开数据源
func Open(ctx context.Context, cfg SourceConfig) (MetadataProvider, error) {
	if cfg.ID == "" {
		return nil, errors.New("source id is required")
	}
	switch strings.ToLower(cfg.Type) {
	case "mysql":
		src, err := NewMySQLAdapter(ctx, cfg.ID, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, err
		}
		return src.WithStats(cfg.CollectStats), nil
	case "sqlserver", "mssql":
		src, err := NewSQLServerAdapter(ctx, cfg.ID, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, err
		}
		return src.WithStats(cfg.CollectStats), nil
	case "postgres", "postgresql":
		src, err := NewPostgresAdapter(ctx, cfg.ID, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, err
		}
		return src.WithStats(cfg.CollectStats), nil
	case "file":
		return NewFileProvider(cfg.ID, cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", cfg.Type)
	}
}
