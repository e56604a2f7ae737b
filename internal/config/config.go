package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CASHFLOW"
	defaultHTTPAddress      = "0.0.0.0:4000"
	defaultDatabasePath     = "cashflow.db"
	defaultLogLevel         = "info"
	defaultAllowedOrigins   = "http://localhost:8080,http://localhost:3000,http://127.0.0.1:8080"
	defaultRateLimitPerMin  = 100
	defaultHeartbeatSeconds = 25
	defaultShutdownSeconds  = 10
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AllowedOrigins    []string
	RateLimitEnabled  bool
	RequestsPerMinute int
	RateLimitBurst    int
	StreamHeartbeat   time.Duration
	ShutdownTimeout   time.Duration
	MetricsEnabled    bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_timeout_seconds", defaultShutdownSeconds)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("rate_limit.enabled", true)
	configViper.SetDefault("rate_limit.requests_per_minute", defaultRateLimitPerMin)
	configViper.SetDefault("rate_limit.burst", 0)
	configViper.SetDefault("stream.heartbeat_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("metrics.enabled", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AllowedOrigins:    splitOrigins(configViper.GetString("cors.allowed_origins")),
		RateLimitEnabled:  configViper.GetBool("rate_limit.enabled"),
		RequestsPerMinute: configViper.GetInt("rate_limit.requests_per_minute"),
		RateLimitBurst:    configViper.GetInt("rate_limit.burst"),
		StreamHeartbeat:   time.Duration(configViper.GetInt("stream.heartbeat_seconds")) * time.Second,
		ShutdownTimeout:   time.Duration(configViper.GetInt("http.shutdown_timeout_seconds")) * time.Second,
		MetricsEnabled:    configViper.GetBool("metrics.enabled"),
	}
	// An unset burst admits a full minute's allowance at once.
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = cfg.RequestsPerMinute
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			continue
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("cors.allowed_origins contains an invalid origin %q", origin)
		}
	}
	if c.RateLimitEnabled {
		if c.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be positive")
		}
		if c.RateLimitBurst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout_seconds must be positive")
	}
	if c.StreamHeartbeat <= 0 {
		return fmt.Errorf("stream.heartbeat_seconds must be positive")
	}
	return nil
}

// splitOrigins accepts a comma separated list. Blank items are dropped.
func splitOrigins(raw string) []string {
	origins := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
