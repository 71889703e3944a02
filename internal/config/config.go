// Package config loads and validates the brainwaved YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Frame    FrameConfig    `yaml:"frame"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	SMS      SMSConfig      `yaml:"sms"`
	Location LocationConfig `yaml:"location"`
	LogLevel string         `yaml:"log_level"`
}

// DeviceConfig identifies the paired wearable and how to reach it.
type DeviceConfig struct {
	Name           string        `yaml:"name"`      // exact bonded-device name, e.g. "NBLK-WAX9X"
	Address        string        `yaml:"address"`   // optional; resolved from the bonded list when empty
	Transport      string        `yaml:"transport"` // "bluez", "ble" or "serial"
	SerialPort     string        `yaml:"serial_port"`
	SerialBaud     int           `yaml:"serial_baud"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// FrameConfig bounds the JSON frame accumulator.
type FrameConfig struct {
	MaxBufferBytes int `yaml:"max_buffer_bytes"` // 0 = unlimited
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database file
}

// SMSConfig configures the outbound SMS gateway. An empty URL disables
// real sends; messages are logged instead.
type SMSConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	APIKey     string `yaml:"api_key"`
}

// LocationConfig seeds the best-effort location provider.
type LocationConfig struct {
	Latitude   float64 `yaml:"latitude"`
	Longitude  float64 `yaml:"longitude"`
	Address    string  `yaml:"address"`
	GeocodeURL string  `yaml:"geocode_url"` // optional reverse-geocode endpoint
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "brainwaved")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dbPath := filepath.Join(home, ".local", "share", "brainwaved", "brainwaved.db")

	return &Config{
		Device: DeviceConfig{
			Name:           "NBLK-WAX9X",
			Transport:      "bluez",
			SerialBaud:     115200,
			ReconnectDelay: 5 * time.Second,
		},
		Frame: FrameConfig{
			MaxBufferBytes: 1 << 20,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8416",
		},
		Store: StoreConfig{
			Path: dbPath,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" && c.Device.Address == "" {
		return fmt.Errorf("device.name or device.address must be set")
	}

	switch c.Device.Transport {
	case "bluez", "ble", "serial":
	default:
		return fmt.Errorf("device.transport must be \"bluez\", \"ble\" or \"serial\", got %q", c.Device.Transport)
	}

	if c.Device.Transport == "serial" && c.Device.SerialPort == "" {
		return fmt.Errorf("device.serial_port must be set when device.transport is \"serial\"")
	}

	if c.Device.ReconnectDelay <= 0 {
		return fmt.Errorf("device.reconnect_delay must be > 0")
	}

	if c.Frame.MaxBufferBytes < 0 {
		return fmt.Errorf("frame.max_buffer_bytes must be >= 0")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
