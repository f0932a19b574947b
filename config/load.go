package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/veldtlabs/runq/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the runq configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Environment variables: RUNQ_SERVER_PORT, RUNQ_QUEUE_MAX_WORKERS, ...
	v.SetEnvPrefix("RUNQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Optional runq.toml in the working directory; absence is not an error
	v.SetConfigName("runq")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}

// SetDefaults applies the default configuration values to a Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost"})
	v.SetDefault("queue.max_workers", DefaultMaxWorkers)
	v.SetDefault("queue.min_workers", DefaultMinWorkers)
	v.SetDefault("queue.default_timeout_ms", DefaultTimeoutMS)
	v.SetDefault("queue.default_max_retries", DefaultMaxRetries)
	v.SetDefault("queue.capacity", DefaultQueueCapacity)
	v.SetDefault("log.json", false)
}
