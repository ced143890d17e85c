// Package config loads the server settings from an optional YAML file and
// ROUTEMATRIX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ROUTEMATRIX_SERIAL_PORT.
const EnvPrefix = "ROUTEMATRIX"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	WebDir string `mapstructure:"web_dir"`
	Open   bool   `mapstructure:"open"`
}

type SerialConfig struct {
	Port         string        `mapstructure:"port"`
	Baud         int           `mapstructure:"baud"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	MaxLineBytes int           `mapstructure:"max_line_bytes"`
}

type SimulatorConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	PortCache  string `mapstructure:"port_cache"`
	ProfileDir string `mapstructure:"profile_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.web_dir", "./web")
	v.SetDefault("server.open", false)

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.max_line_bytes", 64*1024)

	v.SetDefault("simulator.delay", "200ms")
	v.SetDefault("log.level", "")

	v.SetDefault("storage.port_cache", defaultPortCache())
	v.SetDefault("storage.profile_dir", "./profiles")
}

func defaultPortCache() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "ports.json")
	}
	return filepath.Join(home, ".routematrix", "ports.json")
}

// New returns a viper instance with defaults and environment binding.
// Flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (YAML) into v when path is set and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the serial layer cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("serial.read_timeout must be positive, got %s", c.Serial.ReadTimeout))
	}
	if c.Serial.MaxLineBytes < 64 {
		errs = append(errs, fmt.Errorf("serial.max_line_bytes must be at least 64, got %d", c.Serial.MaxLineBytes))
	}
	if c.Simulator.Delay < 0 {
		errs = append(errs, fmt.Errorf("simulator.delay must not be negative, got %s", c.Simulator.Delay))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	return errors.Join(errs...)
}
