// Package config loads the orchestrator configuration from an optional YAML
// file, a .env file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Session struct {
		PausedPolicy    string `yaml:"paused_policy"`
		SubscriberQueue int    `yaml:"subscriber_queue"`
	} `yaml:"session"`

	Scoring struct {
		GroupBonus bool `yaml:"group_bonus"`
	} `yaml:"scoring"`

	Catalog struct {
		Source string `yaml:"source"`
		Path   string `yaml:"path"`
	} `yaml:"catalog"`

	Store struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`

	Outbox struct {
		MaxRetries    int           `yaml:"max_retries"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
		MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	} `yaml:"outbox"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
		IngestSubject string `yaml:"ingest_subject"`
		Consumer      string `yaml:"consumer"`
	} `yaml:"nats"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.Server.Port = 8080
	c.Server.AllowedOrigins = []string{"*"}
	c.Session.PausedPolicy = "reject"
	c.Session.SubscriberQueue = 256
	c.Scoring.GroupBonus = true
	c.Catalog.Source = "file"
	c.Catalog.Path = "tokens.json"
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = "aln.db"
	c.Outbox.MaxRetries = 3
	c.Outbox.RetryDelay = time.Second
	c.Outbox.MaxRetryDelay = 30 * time.Second
	c.NATS.URL = "nats://127.0.0.1:4222"
	c.NATS.Stream = "ALN_EVENTS"
	c.NATS.SubjectPrefix = "aln.events"
	c.NATS.IngestSubject = "aln.ingest"
	c.NATS.Consumer = "aln-orchestrator"
	c.Log.Level = "info"
	return c
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("ALN_PORT", c.Server.Port)
	if origins := os.Getenv("ALN_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Log.Level = getEnv("ALN_LOG_LEVEL", c.Log.Level)
	c.Session.PausedPolicy = getEnv("ALN_PAUSED_POLICY", c.Session.PausedPolicy)
	c.Catalog.Source = getEnv("ALN_CATALOG_SOURCE", c.Catalog.Source)
	c.Catalog.Path = getEnv("ALN_CATALOG_PATH", c.Catalog.Path)
	c.Store.Driver = getEnv("ALN_STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = getEnv("ALN_SQLITE_PATH", c.Store.SQLitePath)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Enabled = getEnvAsBool("NATS_ENABLED", c.NATS.Enabled)
}

// Validate rejects unknown enum values and impossible sizes.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Session.PausedPolicy {
	case "reject", "accept_late":
	default:
		errs = append(errs, fmt.Errorf("session.paused_policy %q must be reject or accept_late", c.Session.PausedPolicy))
	}
	if c.Session.SubscriberQueue < 1 {
		errs = append(errs, fmt.Errorf("session.subscriber_queue must be positive"))
	}
	switch c.Catalog.Source {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Errorf("catalog.source %q must be file or postgres", c.Catalog.Source))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be sqlite, postgres or none", c.Store.Driver))
	}
	if c.Outbox.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("outbox.max_retries cannot be negative"))
	}
	if c.Outbox.MaxRetryDelay < c.Outbox.RetryDelay {
		errs = append(errs, fmt.Errorf("outbox.max_retry_delay cannot be below outbox.retry_delay"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, fmt.Errorf("nats.url is required when nats is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
