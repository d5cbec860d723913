// Copyright 2024 The shelf-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration management for shelfd: the HTTP
// listener, the database connection, logging and the change event publisher.
//
// Values come from defaults, then an optional YAML or JSON file, then
// SHELF_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHELF_"

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address" json:"listen_address" env:"LISTEN_ADDRESS"`
	// ShutdownGrace bounds the drain of in-flight requests. Zero waits for
	// them without a bound.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace" env:"SHUTDOWN_GRACE"`
}

// DatabaseConfig configures the connection owned by the database actor.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// URL is a complete connection string. When set it wins over the
	// individual postgres fields.
	URL            string        `yaml:"url" json:"url" env:"URL"`
	Host           string        `yaml:"host" json:"host" env:"HOST"`
	Port           int           `yaml:"port" json:"port" env:"PORT"`
	User           string        `yaml:"user" json:"user" env:"USER"`
	Password       string        `yaml:"password" json:"password" env:"PASSWORD"`
	Name           string        `yaml:"name" json:"name" env:"NAME"`
	SSLMode        string        `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	Path           string        `yaml:"path" json:"path" env:"PATH"`
	Migrate        bool          `yaml:"migrate" json:"migrate" env:"MIGRATE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DSN returns the driver specific data source name. Postgres gets a
// postgres:// URL so that empty or quoted values survive lib/pq's parser.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case DriverPostgres:
		if d.URL != "" {
			return d.URL
		}
		u := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
			Path:   "/" + d.Name,
		}
		switch {
		case d.Password != "":
			u.User = url.UserPassword(d.User, d.Password)
		case d.User != "":
			u.User = url.User(d.User)
		}
		if d.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
		}
		return u.String()
	case DriverSQLite:
		if d.URL != "" {
			return d.URL
		}
		return d.Path
	default:
		return ""
	}
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"`
}

// EventsConfig configures the MQTT change event publisher. An empty broker
// disables it.
type EventsConfig struct {
	Broker         string        `yaml:"broker" json:"broker" env:"BROKER"`
	ClientID       string        `yaml:"client_id" json:"client_id" env:"CLIENT_ID"`
	TopicPrefix    string        `yaml:"topic_prefix" json:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS            int           `yaml:"qos" json:"qos" env:"QOS"`
	MailboxSize    int           `yaml:"mailbox_size" json:"mailbox_size" env:"MAILBOX_SIZE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// Enabled reports whether a broker is configured.
func (e EventsConfig) Enabled() bool {
	return e.Broker != ""
}

// Config holds the complete configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" json:"database" envPrefix:"DATABASE_"`
	Log      LogConfig      `yaml:"log" json:"log" envPrefix:"LOG_"`
	Events   EventsConfig   `yaml:"events" json:"events" envPrefix:"EVENTS_"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:8080",
			ShutdownGrace: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         DriverMemory,
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Name:           "shelf",
			SSLMode:        "disable",
			Migrate:        true,
			ConnectTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Events: EventsConfig{
			ClientID:       "shelfd",
			TopicPrefix:    "shelf/books",
			QoS:            1,
			MailboxSize:    16,
			ConnectTimeout: 5 * time.Second,
		},
	}
}

// LoadConfig loads configuration from a file, applies environment overrides
// and validates the result. An empty path starts from the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}

		ext := strings.ToLower(filepath.Ext(configPath))
		switch ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		case ".json":
			err = json.Unmarshal(data, config)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, configPath string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return nil
}

func validateConfig(config *Config) error {
	if config.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if config.Server.ShutdownGrace < 0 {
		return fmt.Errorf("server.shutdown_grace cannot be negative")
	}

	db := config.Database
	switch db.Driver {
	case DriverMemory:
	case DriverPostgres:
		if db.URL == "" && (db.Host == "" || db.Name == "") {
			return fmt.Errorf("database: postgres needs url or host and name")
		}
		if db.URL == "" && (db.Port < 1 || db.Port > 65535) {
			return fmt.Errorf("database.port out of range: %d", db.Port)
		}
	case DriverSQLite:
		if db.URL == "" && db.Path == "" {
			return fmt.Errorf("database: sqlite3 needs url or path")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q (supported: %s, %s, %s)",
			db.Driver, DriverMemory, DriverPostgres, DriverSQLite)
	}
	if db.ConnectTimeout <= 0 {
		return fmt.Errorf("database.connect_timeout must be positive")
	}

	switch config.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log format: %q (supported: console, json)", config.Log.Format)
	}

	if config.Events.Enabled() {
		if config.Events.QoS < 0 || config.Events.QoS > 2 {
			return fmt.Errorf("events.qos must be 0, 1 or 2: %d", config.Events.QoS)
		}
		if config.Events.MailboxSize < 1 {
			return fmt.Errorf("events.mailbox_size must be at least 1")
		}
		if config.Events.TopicPrefix == "" {
			return fmt.Errorf("events.topic_prefix cannot be empty")
		}
	}
	return nil
}
