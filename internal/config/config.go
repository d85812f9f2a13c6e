// Package config holds the framework configuration: proxy defaults, the
// platform description used for native code selection, dependency defaults
// and logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bayleafwalker/felix-core/internal/dependency"
	"github.com/bayleafwalker/felix-core/internal/handler"
	"github.com/bayleafwalker/felix-core/internal/nativelib"
)

// Proxy modes.
const (
	ProxyEnabled  = "enabled"
	ProxyDisabled = "disabled"
)

// Config is the framework configuration.
type Config struct {
	Proxy      ProxyConfig      `yaml:"proxy"`
	Platform   PlatformConfig   `yaml:"platform"`
	Dependency DependencyConfig `yaml:"dependency"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ProxyConfig sets the default proxy behaviour of scalar dependencies.
type ProxyConfig struct {
	Mode string `yaml:"mode"`
	Type string `yaml:"type"`
}

// PlatformConfig describes the platform native code is selected for. Empty
// fields are taken from the running process.
type PlatformConfig struct {
	OSName    string `yaml:"os_name,omitempty"`
	OSVersion string `yaml:"os_version,omitempty"`
	Processor string `yaml:"processor,omitempty"`
	Language  string `yaml:"language,omitempty"`

	// Alias tables keyed by canonical name, values are comma separated
	// aliases.
	OSAliases        map[string]string `yaml:"os_aliases,omitempty"`
	ProcessorAliases map[string]string `yaml:"processor_aliases,omitempty"`

	// Properties are extra framework properties visible to selection
	// filters.
	Properties map[string]string `yaml:"properties,omitempty"`
}

type DependencyConfig struct {
	// Timeout is the default provider wait, in milliseconds or "infinite".
	Timeout string `yaml:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Mode: ProxyEnabled,
			Type: dependency.ProxyTypeSmart,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IPOJO_PROXY"); v != "" {
		c.Proxy.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("IPOJO_PROXY_TYPE"); v != "" {
		c.Proxy.Type = strings.ToLower(v)
	}
	if v := os.Getenv("FELIX_OS_NAME"); v != "" {
		c.Platform.OSName = v
	}
	if v := os.Getenv("FELIX_OS_VERSION"); v != "" {
		c.Platform.OSVersion = v
	}
	if v := os.Getenv("FELIX_PROCESSOR"); v != "" {
		c.Platform.Processor = v
	}
	if v := os.Getenv("FELIX_LANGUAGE"); v != "" {
		c.Platform.Language = v
	}
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.Proxy.Mode {
	case ProxyEnabled, ProxyDisabled:
	default:
		return fmt.Errorf("invalid proxy mode: %q (valid: %s, %s)", c.Proxy.Mode, ProxyEnabled, ProxyDisabled)
	}
	if _, err := dependency.ParseProxyType(c.Proxy.Type); err != nil {
		return err
	}
	if _, err := handler.ParseTimeout(c.Dependency.Timeout); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

// ProxySettings converts the proxy section for the dependency handler.
func (c *Config) ProxySettings() (handler.ProxySettings, error) {
	typ, err := dependency.ParseProxyType(c.Proxy.Type)
	if err != nil {
		return handler.ProxySettings{}, err
	}
	return handler.ProxySettings{Enabled: c.Proxy.Mode != ProxyDisabled, Type: typ}, nil
}

// DefaultTimeout is the provider wait applied when a dependency declares
// none.
func (c *Config) DefaultTimeout() (time.Duration, error) {
	return handler.ParseTimeout(c.Dependency.Timeout)
}

// FrameworkProperties renders the platform section as framework
// properties. Unset platform fields come from the running process.
func (c *Config) FrameworkProperties() map[string]string {
	current := nativelib.CurrentPlatform()
	props := make(map[string]string, len(c.Platform.Properties)+4)
	for k, v := range c.Platform.Properties {
		props[k] = v
	}
	props[nativelib.OSNameKey] = or(c.Platform.OSName, current.OSName)
	props[nativelib.OSVersionKey] = or(c.Platform.OSVersion, current.OSVersion)
	props[nativelib.ProcessorKey] = or(c.Platform.Processor, current.Processor)
	props[nativelib.LanguageKey] = or(c.Platform.Language, current.Language)
	for name, aliases := range c.Platform.OSAliases {
		props[nativelib.OSNameAliasPrefix+name] = aliases
	}
	for name, aliases := range c.Platform.ProcessorAliases {
		props[nativelib.ProcessorAliasPrefix+name] = aliases
	}
	return props
}

// NativePlatform is the platform described by FrameworkProperties.
func (c *Config) NativePlatform() nativelib.Platform {
	return nativelib.PlatformFromProperties(c.FrameworkProperties())
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
