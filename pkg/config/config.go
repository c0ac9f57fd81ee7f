package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
	"github.com/nasa/XPlaneConnect/pkg/transport"
)

// Monitor is a dataref the monitor and bridge subscribe to at startup.
type Monitor struct {
	Name string `yaml:"name" json:"name"`
	Freq int    `yaml:"freq" json:"freq"`
}

// Config holds the xpcctl configuration.
type Config struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	LocalPort    int           `yaml:"local_port" json:"local_port"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	OutputFormat string        `yaml:"output_format" json:"output_format"`
	LogLevel     string        `yaml:"log_level" json:"log_level"`
	MetricsAddr  string        `yaml:"metrics_addr" json:"metrics_addr"`
	BridgeAddr   string        `yaml:"bridge_addr" json:"bridge_addr"`
	EmulatorAddr string        `yaml:"emulator_addr" json:"emulator_addr"`
	Monitor      []Monitor     `yaml:"monitor" json:"monitor"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Host:         "localhost",
		Port:         protocol.DefaultPort,
		Timeout:      transport.DefaultTimeout,
		OutputFormat: "table",
		LogLevel:     "warn",
		BridgeAddr:   ":8089",
		EmulatorAddr: fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort),
	}
}

// DefaultPath returns the default config file path: ~/.xpc/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".xpc", "config.yaml")
	}
	return filepath.Join(home, ".xpc", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns Default() with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	// Group or world writable files let other users redirect the client.
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		fmt.Fprintf(os.Stderr,
			"warning: config file %s has permissions %04o, expected 0600 or 0644\n",
			path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges the transport would otherwise reject later.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", c.Port)
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("local_port %d out of range 0..65535", c.LocalPort)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout %v must be >= 0", c.Timeout)
	}
	for _, m := range c.Monitor {
		if m.Name == "" || m.Freq < 1 {
			return fmt.Errorf("monitor entry %q needs a name and freq >= 1", m.Name)
		}
	}
	return nil
}

// Transport returns the session configuration.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		Host:      c.Host,
		Port:      c.Port,
		LocalPort: c.LocalPort,
		Timeout:   c.Timeout,
	}
}
