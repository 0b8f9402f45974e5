// Package config handles ufvbridge configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default ports used by UniFi Video when api_port is omitted.
const (
	DefaultHTTPPort  = 7080
	DefaultHTTPSPort = 7443
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ufvbridge/config.yaml, /etc/ufvbridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ufvbridge", "config.yaml"))
	}

	paths = append(paths, "/etc/ufvbridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all ufvbridge configuration.
type Config struct {
	NVRs      []NVRConfig  `yaml:"nvrs"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	Listen    ListenConfig `yaml:"listen"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"`
}

// NVRConfig identifies one UniFi Video NVR endpoint.
type NVRConfig struct {
	// Name is an optional label used in logs. Defaults to APIHost.
	Name        string `yaml:"name"`
	APIHost     string `yaml:"api_host"`
	APIPort     int    `yaml:"api_port"`
	APIProtocol string `yaml:"api_protocol"` // http or https
	APIKey      string `yaml:"api_key"`

	// InsecureSkipVerify disables TLS certificate verification for
	// this NVR. UniFi Video ships with a self-signed certificate, so
	// most https installs need this set explicitly.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Label returns the human-readable name for logs.
func (n NVRConfig) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.APIHost
}

// Scheme returns the URL scheme for API requests. Anything other than
// "https" is treated as plain http.
func (n NVRConfig) Scheme() string {
	if strings.EqualFold(n.APIProtocol, "https") {
		return "https"
	}
	return "http"
}

// MQTTConfig configures the Home Assistant MQTT accessory registry.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	DeviceName      string `yaml:"device_name"`
}

// Configured reports whether an MQTT broker was provided.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// ListenConfig defines the status API server settings. A zero Port
// disables the server.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Listen: ListenConfig{Port: 9477},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.NVRs {
		n := &c.NVRs[i]
		n.APIProtocol = strings.ToLower(strings.TrimSpace(n.APIProtocol))
		if n.APIProtocol == "" {
			n.APIProtocol = "http"
		}
		if n.APIPort == 0 {
			if n.APIProtocol == "https" {
				n.APIPort = DefaultHTTPSPort
			} else {
				n.APIPort = DefaultHTTPPort
			}
		}
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "ufvbridge"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate checks startup preconditions. A bridge with no NVRs has
// nothing to do, so an empty list is an error.
func (c *Config) Validate() error {
	var errs []error

	if len(c.NVRs) == 0 {
		errs = append(errs, errors.New("nvrs: at least one NVR must be configured"))
	}
	for i, n := range c.NVRs {
		if n.APIHost == "" {
			errs = append(errs, fmt.Errorf("nvrs[%d].api_host is required", i))
		}
		if n.APIKey == "" {
			errs = append(errs, fmt.Errorf("nvrs[%d].api_key is required", i))
		}
		if n.APIProtocol != "http" && n.APIProtocol != "https" {
			errs = append(errs, fmt.Errorf("nvrs[%d].api_protocol %q must be http or https", i, n.APIProtocol))
		}
		if n.APIPort < 1 || n.APIPort > 65535 {
			errs = append(errs, fmt.Errorf("nvrs[%d].api_port %d out of range", i, n.APIPort))
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}

	return errors.Join(errs...)
}
