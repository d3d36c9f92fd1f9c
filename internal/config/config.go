package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lineage-analyzer/internal/adapter"
	"lineage-analyzer/internal/analyzer"
	"lineage-analyzer/internal/evidence"
)

// Config 应用配置
type Config struct {
	Log       LogConfig              `koanf:"log"`
	Store     StoreConfig            `koanf:"store"`
	Redis     RedisConfig            `koanf:"redis"`
	Server    ServerConfig           `koanf:"server"`
	Discovery DiscoveryConfig        `koanf:"discovery"`
	Evidence  EvidenceConfig         `koanf:"evidence"`
	Sources   []adapter.SourceConfig `koanf:"sources"`
}

// LogConfig 日志
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json/console
}

// StoreConfig 图存储
type StoreConfig struct {
	Driver string `koanf:"driver"` // memory/sqlite
	Path   string `koanf:"path"`
}

// RedisConfig 分布式锁与事件发布
type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	Channel  string        `koanf:"channel"`
}

// ServerConfig HTTP 服务
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DiscoveryConfig 发现策略开关与参数
type DiscoveryConfig struct {
	ExactMatch           bool          `koanf:"exact_match"`
	FKPattern            bool          `koanf:"fk_pattern"`
	Semantic             bool          `koanf:"semantic"`
	Cardinality          bool          `koanf:"cardinality"`
	SemanticMaxDistance  int           `koanf:"semantic_max_distance"`
	CardinalityTolerance float64       `koanf:"cardinality_tolerance"`
	ExcludePII           bool          `koanf:"exclude_pii"`
	UpsertWorkers        int           `koanf:"upsert_workers"`
	WaitForLock          bool          `koanf:"wait_for_lock"`
	LockPollInterval     time.Duration `koanf:"lock_poll_interval"`
}

// EvidenceConfig 采样与校验预算
type EvidenceConfig struct {
	DefaultSampleSize int           `koanf:"default_sample_size"`
	MaxSampleSize     int           `koanf:"max_sample_size"`
	Timeout           time.Duration `koanf:"timeout"`
	ValidationTimeout time.Duration `koanf:"validation_timeout"`
	MaxValidationRows int64         `koanf:"max_validation_rows"`
	TimeColumns       []string      `koanf:"time_columns"`
}

// RunConfig 转换为每次运行显式传入的策略配置
func (d DiscoveryConfig) RunConfig() analyzer.RunConfig {
	rc := analyzer.DefaultRunConfig()
	rc.ExactMatch = d.ExactMatch
	rc.FKPattern = d.FKPattern
	rc.Semantic = d.Semantic
	rc.Cardinality = d.Cardinality
	rc.ExcludePII = d.ExcludePII
	if d.SemanticMaxDistance > 0 {
		rc.SemanticMaxDistance = d.SemanticMaxDistance
	}
	if d.CardinalityTolerance > 0 {
		rc.CardinalityTolerance = d.CardinalityTolerance
	}
	return rc
}

// Options 转换为证据服务参数
func (e EvidenceConfig) Options() evidence.Options {
	return evidence.Options{
		DefaultSampleSize: e.DefaultSampleSize,
		MaxSampleSize:     e.MaxSampleSize,
		Timeout:           e.Timeout,
		ValidationTimeout: e.ValidationTimeout,
		MaxValidationRows: e.MaxValidationRows,
		TimeColumns:       e.TimeColumns,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Discovery.CardinalityTolerance < 0 || c.Discovery.CardinalityTolerance >= 1 {
		errs = append(errs, fmt.Errorf("discovery.cardinality_tolerance must be in [0, 1), got %v", c.Discovery.CardinalityTolerance))
	}
	if c.Evidence.MaxSampleSize > 0 && c.Evidence.DefaultSampleSize > c.Evidence.MaxSampleSize {
		errs = append(errs, errors.New("evidence.default_sample_size exceeds evidence.max_sample_size"))
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("sources[%d]: id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID))
		case strings.Contains(s.ID, ":"):
			errs = append(errs, fmt.Errorf("sources[%d]: id %q must not contain ':'", i, s.ID))
		}
		seen[s.ID] = true
		switch strings.ToLower(s.Type) {
		case "file":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: path is required for file sources", i))
			}
		case "mysql", "sqlserver", "mssql", "postgres", "postgresql":
			if s.DSN == "" {
				errs = append(errs, fmt.Errorf("sources[%d]: dsn is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sources[%d]: unsupported type %q", i, s.Type))
		}
	}
	return errors.Join(errs...)
}
