// Package config provides configuration parsing and validation for pushrelay.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Connection modes.
const (
	ModeAutomatic = "automatic"
	ModeManual    = "manual"
)

// Config represents the complete client configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Relay     RelayConfig     `yaml:"relay"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Network   NetworkConfig   `yaml:"network"`
	Push      PushConfig      `yaml:"push"`
	Echo      EchoConfig      `yaml:"echo"`
	Health    HealthConfig    `yaml:"health"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RelayConfig describes the relay connection.
type RelayConfig struct {
	URL       string `yaml:"url"`
	ProjectID string `yaml:"project_id"`

	// ClientKey is the hex ed25519 seed used to sign relay auth tokens.
	// Empty generates an ephemeral key at startup.
	ClientKey string `yaml:"client_key"`

	AuthTTL        time.Duration `yaml:"auth_ttl"`
	ConnectionMode string        `yaml:"connection_mode"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectRate caps dial attempts per second; 0 is unlimited.
	ReconnectRate  float64 `yaml:"reconnect_rate"`
	ReconnectBurst int     `yaml:"reconnect_burst"`
}

// LifecycleConfig controls app lifecycle handling.
type LifecycleConfig struct {
	InitialState    string        `yaml:"initial_state"`
	BackgroundGrant time.Duration `yaml:"background_grant"`
	Signals         bool          `yaml:"signals"`
}

// NetworkConfig controls reachability probing.
type NetworkConfig struct {
	ProbeAddress  string        `yaml:"probe_address"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// PushConfig controls the subscription handshake.
type PushConfig struct {
	// AckTimeout bounds the wait for a subscription acknowledgment.
	// Zero waits until the caller gives up.
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

// EchoConfig describes device token registration.
type EchoConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url"`
	ProjectID string        `yaml:"project_id"`
	ClientID  string        `yaml:"client_id"`
	PushType  string        `yaml:"push_type"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Pprof        bool          `yaml:"pprof"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Relay: RelayConfig{
			URL:            "wss://relay.walletconnect.org",
			AuthTTL:        24 * time.Hour,
			ConnectionMode: ModeAutomatic,
			DialTimeout:    15 * time.Second,
			RequestTimeout: 30 * time.Second,
			ReconnectRate:  1,
			ReconnectBurst: 3,
		},
		Lifecycle: LifecycleConfig{
			InitialState:    "foreground",
			BackgroundGrant: 30 * time.Second,
			Signals:         true,
		},
		Network: NetworkConfig{
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Push: PushConfig{
			AckTimeout: 60 * time.Second,
		},
		Echo: EchoConfig{
			Enabled:  false,
			URL:      "https://echo.walletconnect.com",
			PushType: "apns",
			Timeout:  15 * time.Second,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown variables are kept as is.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if varName, defaultVal, ok := strings.Cut(name, ":-"); ok {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if err := validateRelayURL(c.Relay.URL); err != nil {
		errs = append(errs, fmt.Sprintf("relay.url: %v", err))
	}
	switch c.Relay.ConnectionMode {
	case ModeAutomatic, ModeManual:
	default:
		errs = append(errs, fmt.Sprintf("invalid relay.connection_mode: %s (must be automatic or manual)", c.Relay.ConnectionMode))
	}
	if c.Relay.ClientKey != "" && len(c.Relay.ClientKey) != 64 {
		errs = append(errs, "relay.client_key must be a 32-byte hex seed")
	}
	if c.Relay.DialTimeout <= 0 {
		errs = append(errs, "relay.dial_timeout must be positive")
	}
	if c.Relay.RequestTimeout <= 0 {
		errs = append(errs, "relay.request_timeout must be positive")
	}
	if c.Relay.ReconnectRate < 0 {
		errs = append(errs, "relay.reconnect_rate must not be negative")
	}
	if c.Relay.ReconnectBurst < 1 {
		errs = append(errs, "relay.reconnect_burst must be at least 1")
	}

	switch c.Lifecycle.InitialState {
	case "foreground", "background":
	default:
		errs = append(errs, fmt.Sprintf("invalid lifecycle.initial_state: %s (must be foreground or background)", c.Lifecycle.InitialState))
	}
	if c.Lifecycle.BackgroundGrant < 0 {
		errs = append(errs, "lifecycle.background_grant must not be negative")
	}

	if c.Network.ProbeAddress != "" {
		if _, _, err := net.SplitHostPort(c.Network.ProbeAddress); err != nil {
			errs = append(errs, fmt.Sprintf("network.probe_address: %v", err))
		}
	}
	if c.Network.ProbeInterval <= 0 {
		errs = append(errs, "network.probe_interval must be positive")
	}

	if c.Push.AckTimeout < 0 {
		errs = append(errs, "push.ack_timeout must not be negative")
	}

	if c.Echo.Enabled {
		if c.Echo.URL == "" {
			errs = append(errs, "echo.url is required when enabled")
		}
		if c.Echo.ClientID == "" {
			errs = append(errs, "echo.client_id is required when enabled")
		}
		switch c.Echo.PushType {
		case "apns", "fcm":
		default:
			errs = append(errs, fmt.Sprintf("invalid echo.push_type: %s (must be apns or fcm)", c.Echo.PushType))
		}
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func validateRelayURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// EchoProjectID returns the echo project, falling back to the relay's.
func (c *Config) EchoProjectID() string {
	if c.Echo.ProjectID != "" {
		return c.Echo.ProjectID
	}
	return c.Relay.ProjectID
}

// ProbeAddress returns the address to probe for reachability, defaulting
// to the relay host.
func (c *Config) ProbeAddress() string {
	if c.Network.ProbeAddress != "" {
		return c.Network.ProbeAddress
	}
	u, err := url.Parse(c.Relay.URL)
	if err != nil {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "ws" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// String returns a string representation of the config (for debugging).
// WARNING: This method redacts sensitive values. Use StringUnsafe() for full output.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// StringUnsafe returns a string representation including sensitive values.
// Use with caution - do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values redacted.
// This is safe to log or display to users.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Relay.ProjectID != "" {
		redacted.Relay.ProjectID = redactedValue
	}
	if redacted.Relay.ClientKey != "" {
		redacted.Relay.ClientKey = redactedValue
	}
	if redacted.Echo.ProjectID != "" {
		redacted.Echo.ProjectID = redactedValue
	}
	if redacted.Echo.ClientID != "" {
		redacted.Echo.ClientID = redactedValue
	}

	return redacted
}

// HasSensitiveData returns true if the config contains any sensitive data.
func (c *Config) HasSensitiveData() bool {
	return c.Relay.ProjectID != "" || c.Relay.ClientKey != "" ||
		c.Echo.ProjectID != "" || c.Echo.ClientID != ""
}
