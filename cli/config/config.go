// Package config provides configuration management for the busline CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the busline CLI configuration
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Service configuration
	Service ServiceConfig `yaml:"service"`

	// Transport configuration
	Transport TransportConfig `yaml:"transport"`

	// Store configuration
	Store StoreConfig `yaml:"store"`

	// Retry configuration
	Retry RetryConfig `yaml:"retry"`
}

// ServiceConfig contains service-level settings
type ServiceConfig struct {
	// Name of the service
	Name string `yaml:"name"`

	// Queue is the input queue the service consumes from
	Queue string `yaml:"queue"`

	// Workers is the number of concurrent consumers
	Workers int `yaml:"workers"`
}

// TransportConfig contains message transport settings
type TransportConfig struct {
	// Kind is the transport kind (memory, kafka, sns)
	Kind string `yaml:"kind"`

	// Brokers are the Kafka broker addresses
	Brokers []string `yaml:"brokers,omitempty"`

	// TopicARNPrefix is the SNS topic ARN prefix
	TopicARNPrefix string `yaml:"topic_arn_prefix,omitempty"`
}

// StoreConfig contains saga store settings
type StoreConfig struct {
	// Driver is the store driver (memory, postgres, redis)
	Driver string `yaml:"driver"`

	// URL is the connection string (postgres) or address (redis)
	URL string `yaml:"url,omitempty"`

	// Schema is the database schema (postgres only)
	Schema string `yaml:"schema,omitempty"`

	// Table is the saga table or key prefix
	Table string `yaml:"table,omitempty"`

	// LockLease is how long a claimed saga record stays claimed
	LockLease time.Duration `yaml:"lock_lease,omitempty"`
}

// RetryConfig contains redelivery settings
type RetryConfig struct {
	// MaxRetries before a message dead-letters
	MaxRetries int `yaml:"max_retries"`

	// Delay between redelivery attempts
	Delay time.Duration `yaml:"delay"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Service: ServiceConfig{
			Name:    "my-busline-service",
			Queue:   "my-busline-service",
			Workers: 1,
		},
		Transport: TransportConfig{
			Kind:    "kafka",
			Brokers: []string{"localhost:9092"},
		},
		Store: StoreConfig{
			Driver:    "postgres",
			Schema:    "public",
			Table:     "busline_sagas",
			LockLease: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      3 * time.Second,
		},
	}
}

// ConfigFileName is the default config file name
const ConfigFileName = "busline.yaml"

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached root, config not found
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var errors []string

	if c.Service.Name == "" {
		errors = append(errors, "service.name is required")
	}

	if c.Service.Queue == "" {
		errors = append(errors, "service.queue is required")
	}

	switch c.Transport.Kind {
	case "memory", "sns":
	case "kafka":
		if len(c.Transport.Brokers) == 0 {
			errors = append(errors, "transport.brokers is required for kafka transport")
		}
	case "":
		errors = append(errors, "transport.kind is required")
	default:
		errors = append(errors, "transport.kind must be 'memory', 'kafka' or 'sns'")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres", "redis":
		if c.Store.URL == "" {
			errors = append(errors, fmt.Sprintf("store.url is required for %s driver", c.Store.Driver))
		}
	case "":
		errors = append(errors, "store.driver is required")
	default:
		errors = append(errors, "store.driver must be 'memory', 'postgres' or 'redis'")
	}

	if c.Retry.MaxRetries < 0 {
		errors = append(errors, "retry.max_retries must be zero or positive")
	}

	return errors
}

// GenerateYAML generates YAML content with comments
func GenerateYAML(cfg *Config) string {
	brokers := ""
	for _, b := range cfg.Transport.Brokers {
		brokers += "\n    - \"" + b + "\""
	}

	return `# Busline Configuration File
# This file configures the busline CLI and service runtime

version: "1"

# Service settings
service:
  # Name of your service
  name: "` + cfg.Service.Name + `"

  # Input queue the service consumes from
  queue: "` + cfg.Service.Queue + `"

  # Number of concurrent consumer workers
  workers: ` + fmt.Sprintf("%d", cfg.Service.Workers) + `

# Message transport
transport:
  # Kind: memory, kafka or sns
  kind: "` + cfg.Transport.Kind + `"

  # Kafka broker addresses
  brokers:` + brokers + `

# Saga store
store:
  # Driver: memory, postgres or redis
  driver: "` + cfg.Store.Driver + `"

  # Connection URL (postgres) or address (redis)
  url: "${BUSLINE_STORE_URL}"

  # Database schema (postgres only)
  schema: "` + cfg.Store.Schema + `"

  # Saga table name or key prefix
  table: "` + cfg.Store.Table + `"

  # Lock lease for claimed saga records
  lock_lease: ` + cfg.Store.LockLease.String() + `

# Redelivery policy
retry:
  max_retries: ` + fmt.Sprintf("%d", cfg.Retry.MaxRetries) + `
  delay: ` + cfg.Retry.Delay.String() + `
`
}
