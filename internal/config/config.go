package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required"`
	Env  string `mapstructure:"env"`
	// APIKey is the single shared bearer token gating the API. Empty disables auth.
	APIKey string `mapstructure:"api_key"`
}

type StoreConfig struct {
	Path      string `mapstructure:"path" validate:"required"`
	BackupDir string `mapstructure:"backup_dir" validate:"required"`
	// SeedFile is an optional providers.yaml imported when no providers are persisted.
	SeedFile string `mapstructure:"seed_file"`
}

// UpstreamConfig holds the legacy single-upstream settings used to seed a
// default provider the first time the registry is loaded.
type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	HealthInterval time.Duration `mapstructure:"health_interval" validate:"gt=0"`
}

type AuditConfig struct {
	Key           string `mapstructure:"key"`
	RetentionDays int    `mapstructure:"retention_days" validate:"gt=0"`
}

type CacheConfig struct {
	Driver string        `mapstructure:"driver" validate:"oneof=memory redis none"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type TelemetryConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Server.APIKey = resolveSecret(v, cfg.Server.APIKey)
	cfg.Upstream.APIKey = resolveSecret(v, cfg.Upstream.APIKey)
	cfg.Audit.Key = resolveSecret(v, cfg.Audit.Key)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.api_key", "")

	v.SetDefault("store.path", "data/gateway.sqlite")
	v.SetDefault("store.backup_dir", "data/backups")
	v.SetDefault("store.seed_file", "")

	v.SetDefault("upstream.base_url", "http://localhost:11434")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.model", "default")
	v.SetDefault("upstream.default_timeout", 60*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", 5*time.Second)
	v.SetDefault("scheduler.health_interval", 30*time.Second)

	v.SetDefault("audit.key", "")
	v.SetDefault("audit.retention_days", 180)

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("telemetry.service_name", "model-gateway")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.metrics_enabled", true)
}

// resolveSecret expands "ENV:NAME" references.
func resolveSecret(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	envVar := strings.TrimPrefix(value, "ENV:")
	// Check process environment first (explicit override)
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}
