// Package client provides the binserve CLI client for talking to binserved.
package client

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ClientConfig represents the binserve CLI configuration stored in
// ~/.binserve/client.yaml.
type ClientConfig struct {
	// Server is the binserved address (e.g., "builds.example.com:3000").
	// If empty, DefaultServer is used.
	Server string `yaml:"server,omitempty"`

	// OutputDir is where fetched binaries are written when no output file
	// is given.
	OutputDir string `yaml:"output_dir,omitempty"`
}

// configFilePath returns the path to the config file (~/.binserve/client.yaml).
func configFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".binserve", "client.yaml"), nil
}

// LoadConfig reads the client configuration from ~/.binserve/client.yaml.
// Returns an empty config (not error) if the file doesn't exist.
func LoadConfig() (*ClientConfig, error) {
	path, err := configFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// Return empty config if file doesn't exist
		return &ClientConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to ~/.binserve/client.yaml.
func (c *ClientConfig) Save() error {
	path, err := configFilePath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get retrieves a configuration value by key.
// Supported keys: "server", "output-dir".
func (c *ClientConfig) Get(key string) string {
	switch key {
	case "server":
		return c.Server
	case "output-dir":
		return c.OutputDir
	default:
		return ""
	}
}

// Set sets a configuration value by key.
// Supported keys: "server", "output-dir".
// Returns an error for unknown keys.
func (c *ClientConfig) Set(key, value string) error {
	switch key {
	case "server":
		c.Server = value
	case "output-dir":
		c.OutputDir = value
	default:
		return fmt.Errorf("unknown config key: %s (supported: server, output-dir)", key)
	}
	return nil
}

// ServerOrDefault returns the configured server, or DefaultServer.
func (c *ClientConfig) ServerOrDefault() string {
	if c.Server == "" {
		return DefaultServer
	}
	return c.Server
}
