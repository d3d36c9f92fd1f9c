// Package app 组装存储、数据源、发现引擎和查询服务，供 CLI 与 HTTP 服务共用
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/config"
	"lineage-analyzer/internal/discovery"
	"lineage-analyzer/internal/events"
	"lineage-analyzer/internal/evidence"
	"lineage-analyzer/internal/graph"
	"lineage-analyzer/internal/impact"
	"lineage-analyzer/internal/lock"
	"lineage-analyzer/internal/store"
)

// App 运行时依赖
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    graph.Store
	Registry *adapter.Registry
	Engine   *discovery.Engine
	Evidence *evidence.Service
	Impact   *impact.Analyzer
	Hub      *events.Hub

	redis   *redis.Client
	closers []io.Closer
}

// New 按配置创建应用；任一步失败时已打开的资源会被关闭
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Store, err = openStore(cfg.Store); err != nil {
		return nil, err
	}
	if c, ok := a.Store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.Registry = adapter.NewRegistry()
	a.closers = append(a.closers, a.Registry)
	for _, sc := range cfg.Sources {
		a.Registry.Register(sc.ID, openSource(ctx, sc, logger))
	}

	var locker lock.Locker = lock.NewLocal()
	a.Hub = events.NewHub(logger.Named("hub"))
	publishers := events.Multi{a.Hub}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		if locker, err = lock.NewRedis(a.redis, cfg.Redis.LockTTL); err != nil {
			return nil, err
		}
		pub, perr := events.NewRedisPublisher(a.redis, cfg.Redis.Channel)
		if perr != nil {
			return nil, perr
		}
		publishers = append(publishers, pub)
	}

	a.Engine = discovery.NewEngine(a.Store, a.Registry, locker, publishers, logger.Named("discovery"), discovery.Options{
		RunConfig:        cfg.Discovery.RunConfig(),
		UpsertWorkers:    cfg.Discovery.UpsertWorkers,
		WaitForLock:      cfg.Discovery.WaitForLock,
		LockPollInterval: cfg.Discovery.LockPollInterval,
	})
	a.Evidence = evidence.NewService(a.Store, a.Registry, logger.Named("evidence"), cfg.Evidence.Options())
	a.Impact = impact.NewAnalyzer(a.Store)
	return a, nil
}

func openStore(cfg config.StoreConfig) (graph.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return graph.NewMemoryStore(), nil
	case "sqlite":
		s, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open graph store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// openSource 连接失败不阻止启动，发现运行时报告为元数据不可用
func openSource(ctx context.Context, sc adapter.SourceConfig, logger *zap.Logger) adapter.MetadataProvider {
	p, err := adapter.Open(ctx, sc)
	if err != nil {
		logger.Warn("data source unavailable",
			zap.String("data_source", sc.ID),
			zap.String("type", sc.Type),
			zap.Error(err))
		return unavailable{err: err}
	}
	return p
}

// unavailable 打开失败的数据源
type unavailable struct {
	err error
}

func (u unavailable) Snapshot(context.Context) (*adapter.Snapshot, error) {
	return nil, u.err
}

// Close 释放所有资源
func (a *App) Close() error {
	var errs []error
	if a.Hub != nil {
		a.Hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
		a.redis = nil
	}
	return errors.Join(errs...)
}
