// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig                `yaml:"server"`
	Session       SessionConfig               `yaml:"session"`
	Backend       BackendConfig               `yaml:"backend"`
	Collections   map[string]CollectionConfig `yaml:"collections"`
	Drafts        DraftsConfig                `yaml:"drafts"`
	Definitions   DefinitionsConfig           `yaml:"definitions"`
	Workspace     WorkspaceConfig             `yaml:"workspace"`
	Alerts        AlertsConfig                `yaml:"alerts"`
	Observability ObservabilityConfig         `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// SessionConfig describes the login boundary the UI is sent to after a 401.
type SessionConfig struct {
	LoginRedirect string `yaml:"login_redirect"`
	// NamespaceDrafts prefixes draft keys with the token subject so two
	// users of one process never share a draft slot.
	NamespaceDrafts bool `yaml:"namespace_drafts"`
}

// BackendConfig describes the port-agency REST backend.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	OpenAPISpec    string               `yaml:"openapi_spec"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for idempotent backend calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// CollectionConfig binds a named collection to its list endpoint. Either
// Path or OperationID must be set; OperationID is resolved through the
// backend's OpenAPI document.
type CollectionConfig struct {
	Path        string `yaml:"path"`
	OperationID string `yaml:"operation_id"`
	// ItemsKey is the response key holding the items ("permissions",
	// "accessLevels", "data", ...).
	ItemsKey string `yaml:"items_key"`
	// EntityPath is the delete endpoint; "{id}" is substituted.
	EntityPath        string `yaml:"entity_path"`
	DeleteOperationID string `yaml:"delete_operation_id"`
	// DocumentPath serves an entity's rendered document (PDF); "{id}" is
	// substituted.
	DocumentPath string `yaml:"document_path"`
	// IDField names the item identifier, "id" when empty.
	IDField string `yaml:"id_field"`
	// SearchFields are matched by the collection search box.
	SearchFields []string `yaml:"search_fields"`
	// LatestOnly applies only the most recently issued refresh.
	LatestOnly bool `yaml:"latest_only"`
}

// DraftsConfig describes draft persistence.
type DraftsConfig struct {
	Driver   string        `yaml:"driver"`
	TTL      time.Duration `yaml:"ttl"`
	Redis    RedisConfig   `yaml:"redis"`
	SQLite   SQLiteConfig  `yaml:"sqlite"`
	Postgres PgConfig      `yaml:"postgres"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	AddrEnv string `yaml:"addr_env"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Prefix  string `yaml:"prefix"`
}

// SQLiteConfig describes the local SQLite draft file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PgConfig describes a PostgreSQL connection pool.
type PgConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefinitionsConfig describes where to find additional form schema files.
// Built-in forms are always loaded.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// WorkspaceConfig describes workspace lifetime settings.
type WorkspaceConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxPerProcess int           `yaml:"max_per_process"`
}

// AlertsConfig describes document-expiry alert settings.
type AlertsConfig struct {
	DocumentsCollection string `yaml:"documents_collection"`
	SoonDays            int    `yaml:"soon_days"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // json or console
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Session: SessionConfig{
			LoginRedirect: "/login",
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Collections: map[string]CollectionConfig{},
		Drafts: DraftsConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Prefix: "portdesk:draft:",
			},
			SQLite: SQLiteConfig{
				Path: "portdesk-drafts.db",
			},
			Postgres: PgConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Workspace: WorkspaceConfig{
			IdleTimeout:   2 * time.Hour,
			SweepInterval: 5 * time.Minute,
			MaxPerProcess: 1000,
		},
		Alerts: AlertsConfig{
			DocumentsCollection: "documents",
			SoonDays:            7,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	switch c.Drafts.Driver {
	case "memory", "redis", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("drafts.driver %q is not supported (memory, redis, sqlite, postgres)", c.Drafts.Driver))
	}
	for name, coll := range c.Collections {
		if coll.Path == "" && coll.OperationID == "" {
			errs = append(errs, fmt.Sprintf("collections.%s needs path or operation_id", name))
		}
		if coll.OperationID != "" && c.Backend.OpenAPISpec == "" {
			errs = append(errs, fmt.Sprintf("collections.%s uses operation_id but backend.openapi_spec is not set", name))
		}
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not supported (json, console)", c.Observability.LogFormat))
	}
	if c.Alerts.SoonDays < 0 {
		errs = append(errs, "alerts.soon_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads PORTDESK_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTDESK_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORTDESK_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("PORTDESK_DRAFTS_DRIVER"); v != "" {
		cfg.Drafts.Driver = v
	}
	if v := os.Getenv("PORTDESK_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("PORTDESK_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("PORTDESK_SESSION_LOGIN_REDIRECT"); v != "" {
		cfg.Session.LoginRedirect = v
	}
}
