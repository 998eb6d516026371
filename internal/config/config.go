// Package config provides configuration management for the LM Bridge
// server. It handles loading and parsing YAML configuration files and
// provides structured access to application settings including the
// listen address, the local ComfyUI origin, the remote LoRA Manager
// endpoint and its path mappings, debug settings, and TLS options.
// Environment variables override the remote endpoint settings so a bare
// LM_REMOTE_URL is enough to bring the bridge up without a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	// EnvRemoteURL overrides remote.base-url.
	EnvRemoteURL = "LM_REMOTE_URL"

	// EnvRemoteTimeout overrides remote.timeout-seconds.
	EnvRemoteTimeout = "LM_REMOTE_TIMEOUT"
)

const (
	// DefaultPort is the bridge's listen port, one above the ComfyUI
	// default so both fit on one host out of the box.
	DefaultPort = 8189

	// DefaultComfyURL is the local ComfyUI origin unmatched requests are
	// relayed to when comfy-url is not set.
	DefaultComfyURL = "http://127.0.0.1:8188"

	// DefaultRemoteTimeoutSeconds is the total budget for one remote HTTP
	// exchange, body transfer included.
	DefaultRemoteTimeoutSeconds = 30
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the bridge listens on. Empty binds all interfaces.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the TCP port the bridge listens on.
	Port int `yaml:"port" json:"port"`

	// ComfyURL is the local ComfyUI origin unmatched requests fall through
	// to. Empty means DefaultComfyURL.
	ComfyURL string `yaml:"comfy-url,omitempty" json:"comfy-url,omitempty"`

	// ProxyURL routes WebSocket tunnels to the remote through an HTTP(S)
	// or SOCKS5 proxy. Empty falls back to the environment's proxy
	// settings, which also govern plain HTTP traffic.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// Remote points the bridge at the remote LoRA Manager instance. An
	// empty base URL disables bridging entirely: every request passes
	// through to ComfyUI untouched.
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile redirects logs from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir overrides the directory rotating log files are written to.
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// MetricsEnabled toggles Prometheus collection and the /metrics
	// endpoint. nil means default (true).
	MetricsEnabled *bool `yaml:"metrics-enabled,omitempty" json:"metrics-enabled,omitempty"`

	// AllowedOrigins lists origins granted CORS access. Empty allows any.
	AllowedOrigins []string `yaml:"allowed-origins,omitempty" json:"allowed-origins,omitempty"`

	// TLS configures optional TLS termination for the listener.
	TLS TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig holds optional TLS listener settings.
type TLSConfig struct {
	// Enable turns on TLS for the listener.
	Enable bool `yaml:"enable" json:"enable"`

	// Cert is the path to the PEM certificate.
	Cert string `yaml:"cert,omitempty" json:"cert,omitempty"`

	// Key is the path to the PEM private key.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// RemoteConfig describes the remote LoRA Manager endpoint.
type RemoteConfig struct {
	// BaseURL is the remote origin, scheme included. Trailing slashes are
	// stripped on load. Empty means bridging is disabled.
	BaseURL string `yaml:"base-url" json:"base-url"`

	// TimeoutSeconds is the total budget for one remote HTTP exchange.
	// <= 0 means default (30).
	TimeoutSeconds int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`

	// PathMappings rewrite remote filesystem prefixes into local ones
	// before relative paths are derived. Order matters: the first matching
	// prefix wins, so mappings are a list rather than a map.
	PathMappings []PathMapping `yaml:"path-mappings,omitempty" json:"path-mappings,omitempty"`
}

// PathMapping maps one remote filesystem prefix onto its local equivalent.
type PathMapping struct {
	// Remote is the prefix as the remote instance reports it.
	Remote string `yaml:"remote" json:"remote"`

	// Local is the replacement prefix on this machine.
	Local string `yaml:"local" json:"local"`
}

// Configured reports whether a remote endpoint is set.
func (r *RemoteConfig) Configured() bool {
	return r != nil && r.BaseURL != ""
}

// Timeout returns the per-exchange budget as a duration.
func (r *RemoteConfig) Timeout() time.Duration {
	if r == nil || r.TimeoutSeconds <= 0 {
		return DefaultRemoteTimeoutSeconds * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// MapPath rewrites a remote filesystem path using the first matching
// prefix mapping. Paths without a matching prefix come back unchanged.
func (r *RemoteConfig) MapPath(p string) string {
	if r == nil {
		return p
	}
	for _, m := range r.PathMappings {
		if m.Remote != "" && strings.HasPrefix(p, m.Remote) {
			return m.Local + strings.TrimPrefix(p, m.Remote)
		}
	}
	return p
}

// GetMetricsEnabled returns whether metrics collection is on (default true).
func (c *Config) GetMetricsEnabled() bool {
	if c == nil || c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

// GetComfyURL returns the local ComfyUI origin, defaulted and slash-trimmed.
func (c *Config) GetComfyURL() string {
	if c == nil || c.ComfyURL == "" {
		return DefaultComfyURL
	}
	return strings.TrimRight(c.ComfyURL, "/")
}

// LoadConfig reads and parses a YAML config file, applying environment
// overrides and normalization. A missing file is an error; use
// LoadConfigOptional when the file may legitimately be absent.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional behaves like LoadConfig but, when optional is true,
// returns a default config instead of failing on a missing or invalid
// file. Environment overrides still apply in that case, so LM_REMOTE_URL
// alone can configure a file-less deployment.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional {
			finalize(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		if optional {
			cfg = &Config{}
			finalize(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	finalize(cfg)
	return cfg, nil
}

// finalize applies environment overrides, fills defaults, and
// normalizes URL fields.
func finalize(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvRemoteURL)); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRemoteTimeout)); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Remote.TimeoutSeconds = secs
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	cfg.Remote.BaseURL = strings.TrimRight(cfg.Remote.BaseURL, "/")
	cfg.ComfyURL = strings.TrimRight(cfg.ComfyURL, "/")
}

// ValidateConfig checks a loaded config for fatal problems and returns
// non-fatal findings as warnings.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range (1-65535)", cfg.Port)
	}

	var warnings []string
	if !cfg.Remote.Configured() {
		warnings = append(warnings, "no remote base-url configured; bridging is disabled and all traffic passes through")
	} else if !strings.HasPrefix(cfg.Remote.BaseURL, "http://") && !strings.HasPrefix(cfg.Remote.BaseURL, "https://") {
		warnings = append(warnings, fmt.Sprintf("remote base-url %q has no http(s) scheme", cfg.Remote.BaseURL))
	}
	if cfg.Remote.TimeoutSeconds < 0 {
		warnings = append(warnings, "negative remote timeout-seconds; using default")
	}
	for i, m := range cfg.Remote.PathMappings {
		if m.Remote == "" {
			warnings = append(warnings, fmt.Sprintf("path-mappings[%d] has an empty remote prefix and will never match", i))
		}
	}
	if cfg.TLS.Enable && (cfg.TLS.Cert == "" || cfg.TLS.Key == "") {
		warnings = append(warnings, "tls enabled without cert/key paths")
	}
	return warnings, nil
}
