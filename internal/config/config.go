package config

import (
	"encoding/base64"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultSendBufferSize = 256
	DefaultMaxMessageSize = 64 * 1024
	DefaultInitTimeout    = 30 * time.Second
)

var supportedDrivers = []string{"postgres", "sqlite3", "memory"}

type Config struct {
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	// SigningKey verifies connection tokens. When empty the websocket
	// endpoint accepts unauthenticated upgrades.
	SigningKey     []byte
	AllowedOrigins []string
	RedisURL       string
	// InitTimeout bounds how long a connection may stay unregistered.
	// Zero disables the limit.
	InitTimeout    time.Duration
	SendBufferSize int
	MaxMessageSize int64
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	return key, nil
}

func NewConfig(serverAddr, driver, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !slices.Contains(supportedDrivers, driver) {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if databaseDSN == "" && driver != "memory" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	cfg := &Config{
		ServerAddr:     serverAddr,
		DatabaseDriver: driver,
		DatabaseDSN:    databaseDSN,
		AllowedOrigins: allowedOrigins,
		InitTimeout:    DefaultInitTimeout,
		SendBufferSize: DefaultSendBufferSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}

	if base64Secret != "" {
		signingKey, err := decodeSigningSecret(base64Secret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
		cfg.SigningKey = signingKey
	}

	return cfg, nil
}

// WithDefaults replaces unset or invalid tuning values with defaults.
func (c *Config) WithDefaults() *Config {
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = DefaultSendBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.InitTimeout < 0 {
		c.InitTimeout = 0
	}
	return c
}
