// Package config loads dsync settings from a yaml file and DSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/songzhibin97/dolphin-sync/types"
)

// EnvPrefix is the prefix of every environment override, e.g. DSYNC_ENGINE_BASE_URL.
const EnvPrefix = "DSYNC"

var (
	ErrInvalidMode        = errors.New("invalid ingest mode")
	ErrInvalidStoreDriver = errors.New("invalid store driver")
	ErrInvalidCacheDriver = errors.New("invalid cache driver")
	ErrMissingDSN         = errors.New("store dsn is required")
)

// Config holds all dsync settings.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Matcher MatcherConfig `mapstructure:"matcher"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig points at the scheduler's REST API.
type EngineConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    uint64        `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// MatcherConfig points at the lineage matching service.
type MatcherConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    uint64        `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// StoreConfig selects the catalog backend: memory, sqlite or postgres.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig selects the matcher cache: none, memory or redis.
type CacheConfig struct {
	Driver        string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Prefix        string `mapstructure:"prefix"`
}

// SyncConfig tunes the sync pipeline.
type SyncConfig struct {
	Mode            string `mapstructure:"mode"`
	StrictEdges     bool   `mapstructure:"strict_edges"`
	DataSourceCheck bool   `mapstructure:"datasource_check"`
	DiffContext     int    `mapstructure:"diff_context"`
}

// IngestMode returns the configured mode as a typed value.
func (c SyncConfig) IngestMode() types.IngestMode {
	return types.IngestMode(c.Mode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.base_url", "http://localhost:12345/dolphinscheduler")
	v.SetDefault("engine.token", "")
	v.SetDefault("engine.timeout", 30*time.Second)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_interval", 500*time.Millisecond)
	v.SetDefault("matcher.base_url", "http://localhost:8090")
	v.SetDefault("matcher.timeout", 10*time.Second)
	v.SetDefault("matcher.max_retries", 2)
	v.SetDefault("matcher.retry_interval", 200*time.Millisecond)
	v.SetDefault("matcher.cache_ttl", 10*time.Minute)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "dsync:")
	v.SetDefault("sync.mode", string(types.ModeExportShadow))
	v.SetDefault("sync.strict_edges", true)
	v.SetDefault("sync.datasource_check", true)
	v.SetDefault("sync.diff_context", 3)
}

// Load reads the configuration. An empty path looks for dsync.yaml in the
// working directory and ./config; a missing file there is not an error.
// overrides are applied last, keyed like "sync.mode".
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dsync")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.Sync.IngestMode() {
	case types.ModeLegacy, types.ModeExportShadow, types.ModeExportOnly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Sync.Mode)
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w for driver %s", ErrMissingDSN, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreDriver, c.Store.Driver)
	}
	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCacheDriver, c.Cache.Driver)
	}
	return nil
}
