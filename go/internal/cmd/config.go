package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leadengine/syncgateway/go/internal/auction"
	"github.com/leadengine/syncgateway/go/internal/gateway"
)

type Config struct {
	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`

	HTTP struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Marketplace struct {
		BaseURL         string        `yaml:"base_url"`
		Token           string        `yaml:"token"`
		PageSize        int           `yaml:"page_size"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
	} `yaml:"marketplace"`

	Auction    auction.Config           `yaml:"auction"`
	Connection gateway.ConnectionConfig `yaml:"connection"`

	Socket struct {
		Enabled              bool `yaml:"enabled"`
		gateway.SocketConfig `yaml:",inline"`
	} `yaml:"socket"`

	JetStream struct {
		Enabled                         bool `yaml:"enabled"`
		gateway.JetStreamConsumerConfig `yaml:",inline"`
	} `yaml:"jetstream"`

	Listener struct {
		Enabled                bool `yaml:"enabled"`
		gateway.ListenerConfig `yaml:",inline"`
	} `yaml:"listener"`

	Journal struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"journal"`
}

func defaultConfig() *Config {
	var config Config
	config.Log.Level = "info"
	config.Log.Console = true
	config.HTTP.Port = "8080"
	config.HTTP.ShutdownTimeout = 10 * time.Second
	config.Marketplace.BaseURL = "http://localhost:3000"
	config.Marketplace.RefreshInterval = 30 * time.Second
	config.Auction = auction.DefaultConfig()
	config.Connection = gateway.DefaultConnectionConfig()
	config.Socket.Enabled = true
	config.Socket.SocketConfig = gateway.DefaultSocketConfig()
	config.Socket.URL = "ws://localhost:3000/ws/leads"
	config.JetStream.JetStreamConsumerConfig = gateway.DefaultJetStreamConsumerConfig()
	config.Listener.ListenerConfig = gateway.DefaultListenerConfig()
	return &config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file keeps the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// applyEnvOverrides lets deployment secrets and endpoints come from the
// environment rather than the config file.
func applyEnvOverrides(config *Config) {
	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.HTTP.Port = getEnv("PORT", config.HTTP.Port)

	config.Marketplace.BaseURL = getEnv("MARKETPLACE_API_URL", config.Marketplace.BaseURL)
	config.Marketplace.Token = getEnv("MARKETPLACE_API_TOKEN", config.Marketplace.Token)

	config.Socket.URL = getEnv("MARKETPLACE_SOCKET_URL", config.Socket.URL)
	config.Socket.Token = getEnv("MARKETPLACE_API_TOKEN", config.Socket.Token)
	config.Socket.Enabled = getEnvAsBool("SOCKET_ENABLED", config.Socket.Enabled)

	config.JetStream.URL = getEnv("NATS_URL", config.JetStream.URL)
	config.JetStream.Enabled = getEnvAsBool("JETSTREAM_ENABLED", config.JetStream.Enabled)

	config.Listener.Enabled = getEnvAsBool("LISTENER_ENABLED", config.Listener.Enabled)
	config.Journal.Enabled = getEnvAsBool("JOURNAL_ENABLED", config.Journal.Enabled)
}

// usesDatabase reports whether any enabled component needs Postgres.
func (c *Config) usesDatabase() bool {
	return c.Journal.Enabled || c.Listener.Enabled
}

// gatewayConfig maps the file layout onto the service configuration.
func (c *Config) gatewayConfig(databaseURL string) gateway.Config {
	gc := gateway.Config{
		Auction:         c.Auction,
		Connection:      c.Connection,
		RefreshInterval: c.Marketplace.RefreshInterval,
	}
	if c.Socket.Enabled {
		socket := c.Socket.SocketConfig
		gc.Socket = &socket
	}
	if c.JetStream.Enabled {
		js := c.JetStream.JetStreamConsumerConfig
		gc.JetStream = &js
	}
	if c.Listener.Enabled {
		listener := c.Listener.ListenerConfig
		listener.DatabaseURL = databaseURL
		gc.Listener = &listener
	}
	return gc
}
