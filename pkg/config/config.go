// Package config loads client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ClientConfig is the YAML shape for connecting a gateway client.
type ClientConfig struct {
	// URL of the gateway endpoint. ws/wss selects the persistent-socket
	// transport, http/https the long-poll transport.
	URL string `yaml:"url"`

	// Optional credentials attached to every outgoing message.
	APISecret string `yaml:"api_secret,omitempty"`
	Token     string `yaml:"token,omitempty"`

	// AdminSecret is used only by the admin/monitor client.
	AdminSecret string `yaml:"admin_secret,omitempty"`

	DefaultTimeout    Duration `yaml:"default_timeout,omitempty"`
	KeepaliveInterval Duration `yaml:"keepalive_interval,omitempty"`
}

// DefaultClientConfig returns the defaults applied to unset fields.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DefaultTimeout:    Duration(30 * time.Second),
		KeepaliveInterval: Duration(30 * time.Second),
	}
}

// Parse decodes a YAML document and validates it.
func Parse(data []byte) (*ClientConfig, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("configuration cannot be empty")
	}

	cfg := DefaultClientConfig()
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseFile loads and validates a YAML configuration file.
func ParseFile(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return Parse(data)
}

// Validate checks field constraints and fills defaults for unset values.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("configuration error: url is required")
	}
	switch {
	case strings.HasPrefix(c.URL, "ws://"), strings.HasPrefix(c.URL, "wss://"),
		strings.HasPrefix(c.URL, "http://"), strings.HasPrefix(c.URL, "https://"):
	default:
		return fmt.Errorf("configuration error: url must use ws, wss, http or https scheme")
	}

	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = Duration(30 * time.Second)
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = Duration(30 * time.Second)
	}
	if c.KeepaliveInterval.Std() >= 60*time.Second {
		return fmt.Errorf("configuration error: keepalive_interval must stay below the gateway's 60s session timeout")
	}
	return nil
}
