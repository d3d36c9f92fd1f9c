package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix 环境变量前缀，LINEAGE_REDIS__ADDR -> redis.addr
const EnvPrefix = "LINEAGE_"

// DefaultFile 未指定时查找的配置文件
var DefaultFile = []string{"lineage.yaml", "lineage.yml"}

// defaults 默认值
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                       "info",
		"log.format":                      "json",
		"store.driver":                    "memory",
		"store.path":                      "lineage.db",
		"redis.enabled":                   false,
		"redis.addr":                      "localhost:6379",
		"redis.db":                        0,
		"redis.lock_ttl":                  "10m",
		"redis.channel":                   "lineage:events",
		"server.addr":                     ":8080",
		"server.read_timeout":             "15s",
		"server.write_timeout":            "120s",
		"discovery.exact_match":           true,
		"discovery.fk_pattern":            true,
		"discovery.semantic":              true,
		"discovery.cardinality":           true,
		"discovery.semantic_max_distance": 3,
		"discovery.cardinality_tolerance": 0.20,
		"discovery.exclude_pii":           false,
		"discovery.upsert_workers":        4,
		"discovery.wait_for_lock":         false,
		"discovery.lock_poll_interval":    "500ms",
		"evidence.default_sample_size":    10,
		"evidence.max_sample_size":        1000,
		"evidence.timeout":                "30s",
		"evidence.validation_timeout":     "60s",
		"evidence.max_validation_rows":    100000,
		"evidence.time_columns":           []string{"updated_at", "modified_at", "created_at"},
	}
}

// flagKeys 命令行参数到配置键的映射
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"store":      "store.driver",
	"store-path": "store.path",
	"addr":       "server.addr",
	"redis":      "redis.enabled",
	"redis-addr": "redis.addr",
}

// Load 加载配置，优先级：flags > env > 配置文件 > 默认值
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if cfgFile == "" {
		for _, name := range DefaultFile {
			if _, err := os.Stat(name); err == nil {
				cfgFile = name
				break
			}
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// 只取显式设置的参数
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
