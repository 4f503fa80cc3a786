package laiqclient

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds deployment settings loaded from a file and environment
// variables. Environment variables use the LAIQ_ prefix, e.g.
// LAIQ_BASE_URL or LAIQ_REDIS_ADDR.
type Config struct {
	Environment string        `mapstructure:"environment"`
	BaseURL     string        `mapstructure:"base_url"`
	PageOrigin  string        `mapstructure:"page_origin"`
	Timeout     time.Duration `mapstructure:"timeout"`

	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	BatchWindow  time.Duration `mapstructure:"batch_window"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`

	Debug bool `mapstructure:"debug"`
}

// LoadConfig reads configuration from the optional file at path plus
// LAIQ_-prefixed environment variables. A missing file is not an error;
// everything has a default.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("base_url", "")
	v.SetDefault("page_origin", "")
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("cache_max_entries", 100)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("batch_window", 100*time.Millisecond)
	v.SetDefault("max_batch_size", 10)
	v.SetDefault("max_retries", 3)
	v.SetDefault("debug", false)

	if fileExists(path) {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ResolveBaseURL picks the API origin: an explicit base URL wins, a
// production deployment serves the API from its own origin under /api,
// and everything else falls back to the local development server.
func (c *Config) ResolveBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Environment == "production" && c.PageOrigin != "" {
		return strings.TrimSuffix(c.PageOrigin, "/") + "/api"
	}
	return "http://localhost:3000/api"
}

// ClientOptions translates the config into client options.
func (c *Config) ClientOptions() []Option {
	opts := []Option{
		WithBaseURL(c.ResolveBaseURL()),
		WithTimeout(c.Timeout),
		WithDefaultCacheTTL(c.CacheTTL),
		WithCacheMaxEntries(c.CacheMaxEntries),
		WithSweepInterval(c.SweepInterval),
		WithBatchWindow(c.BatchWindow),
		WithMaxBatchSize(c.MaxBatchSize),
		WithMaxRetries(c.MaxRetries),
	}
	if c.PageOrigin != "" {
		opts = append(opts, WithPageOrigin(c.PageOrigin))
	}
	if c.Debug {
		opts = append(opts, WithDebug())
	}
	return opts
}
