package config

import "time"

// Config holds every setting of the log service. Zero values are replaced
// by defaults during validation.
type Config struct {
	Server struct {
		Port            int    `yaml:"port"`
		MaxBodyBytes    int64  `yaml:"maxBodyBytes"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
		Gzip            *bool  `yaml:"gzip"`
	} `yaml:"server"`

	Storage struct {
		Dir           string `yaml:"dir"`
		Retention     string `yaml:"retention"`
		CleanInterval string `yaml:"cleanInterval"`
	} `yaml:"storage"`

	Security struct {
		CORSOrigin string `yaml:"corsOrigin"`
	} `yaml:"security"`

	Stream struct {
		History int `yaml:"history"`
	} `yaml:"stream"`

	retention       time.Duration
	cleanInterval   time.Duration
	shutdownTimeout time.Duration
}

// Retention is the parsed storage retention; zero disables the cleaner.
func (c *Config) Retention() time.Duration { return c.retention }

// CleanInterval is how often the cleaner runs.
func (c *Config) CleanInterval() time.Duration { return c.cleanInterval }

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration { return c.shutdownTimeout }

// GzipEnabled reports whether API responses are compressed.
func (c *Config) GzipEnabled() bool {
	return c.Server.Gzip == nil || *c.Server.Gzip
}
