package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures" validate:"required_if=Enabled true"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory postgres redis"`
	// Timeout bounds every store call made while admitting one request.
	Timeout         time.Duration `mapstructure:"timeout"`
	RecordRetention time.Duration `mapstructure:"record_retention"`
	PurgeInterval   time.Duration `mapstructure:"purge_interval"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
	SSLMode     string `mapstructure:"sslmode"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AuthConfig struct {
	TokenLifetimeSeconds int64 `mapstructure:"token_lifetime_seconds" validate:"gt=0"`
	// FailOpen treats a token store failure as an unauthenticated caller
	// instead of rejecting the request.
	FailOpen bool `mapstructure:"fail_open"`
}

type GatewayConfig struct {
	UpstreamURL string `mapstructure:"upstream_url" validate:"omitempty,url"`
	// TrustXForwardedFor attributes requests to the last X-Forwarded-For hop.
	// Enable it only when exactly one trusted proxy sits in front of the
	// service and appends the client address; otherwise callers can choose
	// their own rate-limit identity.
	TrustXForwardedFor bool `mapstructure:"trust_x_forwarded_for"`
}

type PolicyConfig struct {
	AuthenticatedLimit   int   `mapstructure:"authenticated_limit" validate:"gte=0"`
	UnauthenticatedLimit int   `mapstructure:"unauthenticated_limit" validate:"gte=0"`
	WindowSeconds        int64 `mapstructure:"window_seconds" validate:"gt=0"`
}

type RouteConfig struct {
	Path        string        `mapstructure:"path" validate:"required,startswith=/"`
	RequireAuth bool          `mapstructure:"require_auth"`
	Policy      *PolicyConfig `mapstructure:"policy"`
}

type Config struct {
	Server        ServerConfig   `mapstructure:"server"`
	Log           LogConfig      `mapstructure:"log"`
	Store         StoreConfig    `mapstructure:"store"`
	Database      DatabaseConfig `mapstructure:"database"`
	Redis         RedisConfig    `mapstructure:"redis"`
	Auth          AuthConfig     `mapstructure:"auth"`
	Gateway       GatewayConfig  `mapstructure:"gateway"`
	DefaultPolicy PolicyConfig   `mapstructure:"default_policy"`
	Routes        []RouteConfig  `mapstructure:"routes" validate:"unique=Path,dive"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.timeout", 2*time.Second)
	v.SetDefault("store.record_retention", 24*time.Hour)
	v.SetDefault("store.purge_interval", 10*time.Minute)
	v.SetDefault("store.breaker.enabled", true)
	v.SetDefault("store.breaker.max_failures", 5)
	v.SetDefault("store.breaker.open_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "admission")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "admission:")

	v.SetDefault("auth.token_lifetime_seconds", 2592000)
	v.SetDefault("auth.fail_open", false)

	v.SetDefault("gateway.upstream_url", "")
	v.SetDefault("gateway.trust_x_forwarded_for", false)

	v.SetDefault("default_policy.authenticated_limit", 100)
	v.SetDefault("default_policy.unauthenticated_limit", 20)
	v.SetDefault("default_policy.window_seconds", 60)
}

// LoadConfig reads config.yml from path, overlays environment variables such
// as STORE_BACKEND or AUTH_FAIL_OPEN, and validates the result. A missing
// config file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
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

// Validate checks field constraints and the rule that rate-limit records are
// retained for at least the longest configured window.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if maxWindow := time.Duration(c.MaxWindowSeconds()) * time.Second; c.Store.RecordRetention < maxWindow {
		return fmt.Errorf("invalid config: store.record_retention %s is shorter than the longest window %s",
			c.Store.RecordRetention, maxWindow)
	}
	if c.Store.Timeout < 0 {
		return fmt.Errorf("invalid config: store.timeout must not be negative")
	}
	return nil
}

// MaxWindowSeconds returns the longest window across the default policy and
// every route.
func (c *Config) MaxWindowSeconds() int64 {
	maxWindow := c.DefaultPolicy.WindowSeconds
	for _, r := range c.Routes {
		if r.Policy != nil && r.Policy.WindowSeconds > maxWindow {
			maxWindow = r.Policy.WindowSeconds
		}
	}
	return maxWindow
}

// TokenLifetime returns the configured token lifetime.
func (c *Config) TokenLifetime() time.Duration {
	return time.Duration(c.Auth.TokenLifetimeSeconds) * time.Second
}
