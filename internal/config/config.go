package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents a profile's config.toml.
type Config struct {
	DefaultProfile string         `toml:"default_profile"`
	Server         ServerConfig   `toml:"server"`
	Conn           ConnConfig     `toml:"conn"`
	Store          StoreConfig    `toml:"store"`
	Presence       PresenceConfig `toml:"presence"`
}

// ServerConfig holds the remote endpoints.
type ServerConfig struct {
	APIURL string `toml:"api_url"`
	WSURL  string `toml:"ws_url"`
}

// ConnConfig tunes the realtime connection. Intervals are in seconds; zero
// means the engine default. ReconnectJitter is a fraction of the delay, 0..1.
type ConnConfig struct {
	KeepaliveSeconds         int     `toml:"keepalive_seconds"`
	ReconnectDelaySeconds    int     `toml:"reconnect_delay_seconds"`
	ReconnectMaxDelaySeconds int     `toml:"reconnect_max_delay_seconds"`
	ReconnectJitter          float64 `toml:"reconnect_jitter"`
}

// StoreConfig tunes the message log.
type StoreConfig struct {
	MaxMessages int `toml:"max_messages"`
}

// PresenceConfig tunes the contact presence cache.
type PresenceConfig struct {
	Capacity int `toml:"capacity"`
}

// Keepalive returns the configured ping interval, or zero for the default.
func (c ConnConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}

// ReconnectDelay returns the configured base reconnect delay.
func (c ConnConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// ReconnectMaxDelay returns the configured backoff ceiling.
func (c ConnConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelaySeconds) * time.Second
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
