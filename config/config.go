// Package config loads and saves the bridge's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
	"github.com/nedpals/davi-nfc-bridge/logging"
	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// Fallback policy names for Decoder.Fallback
const (
	FallbackNone   = "none"
	FallbackBase64 = "base64"
)

// Config represents the bridge configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Discovery Discovery `yaml:"discovery"`
	Decoder   Decoder   `yaml:"decoder"`
	Logging   Logging   `yaml:"logging"`
}

// Server contains listener and security settings
type Server struct {
	Bind            string        `yaml:"bind"`
	Port            int           `yaml:"port"`
	APISecret       string        `yaml:"api_secret"`
	CertFile        string        `yaml:"cert_file"`
	KeyFile         string        `yaml:"key_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Discovery contains mDNS advertisement settings
type Discovery struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	ServiceType string `yaml:"service_type"`
	Domain      string `yaml:"domain"`
}

// Decoder controls how undecodable text records are presented
type Decoder struct {
	Fallback      string   `yaml:"fallback"`
	FallbackOn    []string `yaml:"fallback_on"` // error kinds; empty means all
	NoMessageText string   `yaml:"no_message_text"`
}

// Logging contains logging configuration
type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Output      string `yaml:"output"` // file path; empty logs to stderr
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Bind:            "0.0.0.0",
			Port:            18080,
			ShutdownTimeout: 5 * time.Second,
		},
		Discovery: Discovery{
			Enabled:     true,
			ServiceName: buildinfo.DisplayName,
			ServiceType: "_nfc-bridge._tcp",
			Domain:      "local.",
		},
		Decoder: Decoder{
			Fallback:      FallbackBase64,
			NoMessageText: protocol.DefaultNoMessageText,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the configuration at path. Fields missing from the file keep
// their defaults. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Save writes the configuration to path with secure permissions
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold the API secret
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user config location, falling back to the
// working directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return buildinfo.DirName + ".yaml"
	}
	return filepath.Join(dir, buildinfo.DirName, "config.yaml")
}

// Exists checks if a configuration file exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		errs = append(errs, errors.New("server.cert_file and server.key_file must be set together"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if _, err := c.Decoder.Recovery(); err != nil {
		errs = append(errs, err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// Recovery builds the recovery policy described by the decoder settings.
// A nil policy means failures are reported as-is.
func (d Decoder) Recovery() (nfc.Recovery, error) {
	var recovery nfc.Recovery
	switch strings.ToLower(d.Fallback) {
	case "", FallbackNone:
		return nil, nil
	case FallbackBase64:
		recovery = nfc.Base64Recovery
	default:
		return nil, fmt.Errorf("decoder.fallback %q is not one of %q, %q", d.Fallback, FallbackBase64, FallbackNone)
	}

	if len(d.FallbackOn) == 0 {
		return recovery, nil
	}

	codes := make([]nfc.ErrorCode, 0, len(d.FallbackOn))
	for _, name := range d.FallbackOn {
		code, ok := nfc.ParseErrorCode(name)
		if !ok {
			return nil, fmt.Errorf("decoder.fallback_on: unknown error kind %q", name)
		}
		codes = append(codes, code)
	}
	return nfc.RecoverOn(recovery, codes...), nil
}

// Options converts the logging settings to logger options.
func (l Logging) Options() []logging.Option {
	options := []logging.Option{
		logging.WithLevel(l.Level),
		logging.WithDevelopment(l.Development),
	}
	if l.Output != "" {
		options = append(options, logging.WithOutputPaths(l.Output))
	}
	return options
}
