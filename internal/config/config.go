package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingSecret is returned by Validate when a signing secret is not configured.
var ErrMissingSecret = errors.New("signing secret is not configured")

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	Password     PasswordConfig     `mapstructure:"password"`
	Tokens       TokenConfig        `mapstructure:"tokens"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	Revocation   RevocationConfig   `mapstructure:"revocation"`
}

// PasswordConfig holds password hashing configuration
type PasswordConfig struct {
	Argon2Memory      uint32 `mapstructure:"argon2_memory"`
	Argon2Iterations  uint32 `mapstructure:"argon2_iterations"`
	Argon2Parallelism uint8  `mapstructure:"argon2_parallelism"`
}

// TokenConfig holds JWT token configuration
type TokenConfig struct {
	// Secret is the HMAC-SHA256 key. A strict base64 value is decoded to raw
	// bytes, anything else is used verbatim.
	Secret string `mapstructure:"secret"`
	// AccessTokenTTL is the absolute lifetime of an access token (default 15m)
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// InactivityTimeout is the sliding window measured from last_activity (default 15m)
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	// RefreshTokenTTL is the absolute lifetime of a refresh token (default 168h)
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	DefaultWindow string `mapstructure:"default_window"`
}

// RevocationConfig controls the jti denylist checked on every authenticated request
type RevocationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig holds audit trail signing and query configuration
type AuditConfig struct {
	Secret       string `mapstructure:"secret"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/authcore")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have no defaults, so AutomaticEnv alone would not surface them to Unmarshal.
	_ = v.BindEnv("security.tokens.secret")
	_ = v.BindEnv("audit.secret")
	_ = v.BindEnv("database.password")
	_ = v.BindEnv("redis.password")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.Tokens.Secret) == "" {
		return fmt.Errorf("security.tokens.secret: %w", ErrMissingSecret)
	}
	if strings.TrimSpace(c.Audit.Secret) == "" {
		return fmt.Errorf("audit.secret: %w", ErrMissingSecret)
	}
	if c.Security.Tokens.AccessTokenTTL < 0 || c.Security.Tokens.InactivityTimeout < 0 || c.Security.Tokens.RefreshTokenTTL < 0 {
		return errors.New("security.tokens: durations must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "authcore")
	v.SetDefault("database.user", "authcore")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Security defaults
	v.SetDefault("security.password.argon2_memory", 65536)
	v.SetDefault("security.password.argon2_iterations", 3)
	v.SetDefault("security.password.argon2_parallelism", 4)

	v.SetDefault("security.tokens.access_token_ttl", "15m")
	v.SetDefault("security.tokens.inactivity_timeout", "15m")
	v.SetDefault("security.tokens.refresh_token_ttl", "168h")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.default_limit", 100)
	v.SetDefault("security.rate_limiting.default_window", "1m")

	v.SetDefault("security.revocation.enabled", true)

	// Audit defaults
	v.SetDefault("audit.default_limit", 50)
	v.SetDefault("audit.max_limit", 500)
}
