// Package config loads the runq configuration.
package config

// Config represents the full runq configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`            // HTTP listen port (default: 4000)
	AllowedOrigins []string `mapstructure:"allowed_origins"` // CORS / WebSocket origins
}

// QueueConfig configures the job processing core
type QueueConfig struct {
	MaxWorkers        int `mapstructure:"max_workers"`         // Upper bound on concurrent workers (default: 10)
	MinWorkers        int `mapstructure:"min_workers"`         // Workers kept alive through idle cleanup (default: 1)
	DefaultTimeoutMS  int `mapstructure:"default_timeout_ms"`  // Per-job execution deadline when unset (default: 30000)
	DefaultMaxRetries int `mapstructure:"default_max_retries"` // Retry budget when unset (default: 3)
	Capacity          int `mapstructure:"capacity"`            // Soft bound on pending jobs; exceeding it logs, never rejects (default: 1000)
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json"` // Structured JSON output instead of console
}

// Default values
const (
	DefaultServerPort    = 4000
	DefaultMaxWorkers    = 10
	DefaultMinWorkers    = 1
	DefaultTimeoutMS     = 30000
	DefaultMaxRetries    = 3
	DefaultQueueCapacity = 1000
)
