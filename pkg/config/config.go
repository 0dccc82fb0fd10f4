// Package config loads and validates the runtime configuration shared by
// cmd/gateway, cmd/memoryservice, and cmd/recallworker.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize() and
// threaded explicitly through process startup (never read from a global).
type Config struct {
	configDir string

	Server    *ServerConfig    `yaml:"server"`
	Database  *DatabaseConfig  `yaml:"database"`
	Redis     *RedisConfig     `yaml:"redis"`
	Qdrant    *QdrantConfig    `yaml:"qdrant"`
	Auth      *AuthConfig      `yaml:"auth"`
	Providers *ProvidersConfig `yaml:"providers"`
	Router    *RouterConfig    `yaml:"router"`
	Timeouts  *TimeoutsConfig  `yaml:"timeouts"`
	Flags     *FlagsConfig     `yaml:"flags"`
	Memory    *MemoryConfig    `yaml:"memory"`
	Tiers     *TiersConfig     `yaml:"tiers"`
	Retention *RetentionConfig `yaml:"retention"`
	Telemetry *TelemetryConfig `yaml:"telemetry"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ServerConfig holds HTTP listener settings shared by all three binaries.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// InternalServiceHeader is the header value the gateway presents to the
	// memory service for service-to-service calls (x-internal-service).
	InternalServiceHeader string `yaml:"internal_service_header"`
	// MemoryServiceURL is the base URL the gateway calls for recall and
	// message-event ingestion (pkg/memoryclient).
	MemoryServiceURL string `yaml:"memory_service_url"`
}

// DatabaseConfig holds Postgres connection settings, consumed by pkg/database.
type DatabaseConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"required"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" validate:"required"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds connection settings for the shared cache/bus.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QdrantConfig holds connection settings for the vector store.
type QdrantConfig struct {
	Host                  string `yaml:"host" validate:"required"`
	Port                  int    `yaml:"port"`
	APIKey                string `yaml:"api_key"`
	UseTLS                bool   `yaml:"use_tls"`
	MemoryCollection      string `yaml:"memory_collection"`
	ConversationCollect   string `yaml:"conversation_collection"`
	VectorSize            uint64 `yaml:"vector_size"`
}

// AuthConfig holds OIDC bearer-token verification settings (§4.1 step 1).
type AuthConfig struct {
	IssuerURL      string        `yaml:"issuer_url" validate:"required"`
	Audience       string        `yaml:"audience"`
	ClockSkew      time.Duration `yaml:"clock_skew"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	MaxConcurrent  int           `yaml:"max_concurrent_streams"`
}

// RetentionConfig controls background cleanup of soft-deleted gateway rows.
type RetentionConfig struct {
	MessageRetentionDays int           `yaml:"message_retention_days"`
	EventTTL             time.Duration `yaml:"event_ttl"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// TelemetryConfig controls the OTel exporters (pkg/telemetry).
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Stats is a trivial summary used for startup logging.
type Stats struct {
	Providers int
}

// Stats returns configuration statistics for logging at startup.
func (c *Config) Stats() Stats {
	n := 0
	if c.Providers != nil {
		n = len(c.Providers.Profiles)
	}
	return Stats{Providers: n}
}
