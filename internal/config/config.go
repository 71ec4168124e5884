package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 3001
	DefaultDir          = "logs"
	DefaultMaxBodyBytes = 100 << 10
	DefaultCORSOrigin   = "*"
	DefaultHistory      = 100
)

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

// LoadConfig loads the configuration from the specified YAML file.
// An empty path yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return Default(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return config, nil
}

// Validate fills in defaults and parses the duration fields.
func Validate(config *Config) error {
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.Port < 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes == 0 {
		config.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid maxBodyBytes: %d", config.Server.MaxBodyBytes)
	}

	if config.Storage.Dir == "" {
		config.Storage.Dir = DefaultDir
	}

	if config.Security.CORSOrigin == "" {
		config.Security.CORSOrigin = DefaultCORSOrigin
	}

	if config.Stream.History == 0 {
		config.Stream.History = DefaultHistory
	}
	if config.Stream.History < 0 {
		return fmt.Errorf("invalid stream history: %d", config.Stream.History)
	}

	var err error
	if config.retention, err = parseDuration("retention", config.Storage.Retention, 0); err != nil {
		return err
	}
	if config.cleanInterval, err = parseDuration("cleanInterval", config.Storage.CleanInterval, time.Hour); err != nil {
		return err
	}
	if config.cleanInterval <= 0 {
		return fmt.Errorf("cleanInterval must be positive")
	}
	if config.shutdownTimeout, err = parseDuration("shutdownTimeout", config.Server.ShutdownTimeout, 5*time.Second); err != nil {
		return err
	}

	return nil
}

func parseDuration(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
