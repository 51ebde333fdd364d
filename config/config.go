// Package config loads the daemon configuration from YAML.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportSim       = "sim"
	TransportHCISocket = "hci-socket"
	TransportHCIUART   = "hci-uart"
	TransportTinyGo    = "tinygo"
)

// Config holds all daemon configuration.
type Config struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	BondFile string `yaml:"bond_file"`
	// PairingTimeout bounds the wait for the host to finish pairing. Zero disables it.
	PairingTimeout Duration        `yaml:"pairing_timeout"`
	Transport      TransportConfig `yaml:"transport"`
}

// TransportConfig selects and parameterises the radio.
type TransportConfig struct {
	Kind     string `yaml:"kind"`
	HCIIndex int    `yaml:"hci_index"`
	UARTPath string `yaml:"uart_path"`
	BaudRate uint   `yaml:"baud_rate"`
}

// Duration is a time.Duration written as a Go duration string ("60s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns a Config for the simulated transport.
func Default() *Config {
	return &Config{
		Name:           "periph HID",
		LogLevel:       "info",
		BondFile:       filepath.Join(dataDir(), "bonds.json"),
		PairingTimeout: Duration(60 * time.Second),
		Transport: TransportConfig{
			Kind:     TransportSim,
			HCIIndex: 0,
			UARTPath: "/dev/ttyACM0",
			BaudRate: 1000000,
		},
	}
}

// dataDir follows the snap convention, then the XDG one.
func dataDir() string {
	if d := os.Getenv("SNAP_DATA"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "periph")
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	cfg.BondFile = expandTilde(cfg.BondFile)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name must not be empty")
	}
	// the name travels alone in the scan response
	if len(c.Name) > 29 {
		return errors.Errorf("name must be at most 29 bytes, got %d", len(c.Name))
	}
	if c.BondFile == "" {
		return errors.New("bond_file must not be empty")
	}
	if c.PairingTimeout < 0 {
		return errors.Errorf("pairing_timeout must not be negative, got %v", time.Duration(c.PairingTimeout))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	t := c.Transport
	switch t.Kind {
	case TransportSim, TransportTinyGo:
	case TransportHCISocket:
		if t.HCIIndex < 0 {
			return errors.Errorf("transport.hci_index must be >= 0, got %d", t.HCIIndex)
		}
	case TransportHCIUART:
		if t.UARTPath == "" {
			return errors.New("transport.uart_path must not be empty")
		}
		if t.BaudRate == 0 {
			return errors.New("transport.baud_rate must be > 0")
		}
	default:
		return errors.Errorf("transport.kind must be one of sim, hci-socket, hci-uart, tinygo, got %q", t.Kind)
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
