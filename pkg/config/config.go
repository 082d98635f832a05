// Package config provides configuration structures and loading logic for the
// orchestration console, its CLI and the gateway emulator.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	crdptls "github.com/polisai/crdp-orchestrator/internal/tls"
	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// Defaults mirror the reference CRDP deployment.
const (
	DefaultBaseURL          = "http://localhost:8000/api/crdp"
	DefaultHost             = "192.168.0.231"
	DefaultPort             = "32082"
	DefaultPolicy           = "P03"
	DefaultSampleProtect    = "1234567890123"
	DefaultSampleBulk       = "001\n002\n003"
	DefaultEmulatorListen   = ":8000"
	DefaultEmulatorTokenTTL = 60 * time.Minute
	DefaultBulkBatchSize    = 25
)

// Config holds the global configuration.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
}

// GatewayConfig locates the gateway and the credential passed through to it.
type GatewayConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is an opaque bearer credential. TokenEnv names an environment variable read
	// on every call instead; it wins when both are set.
	Token    string         `yaml:"token"`
	TokenEnv string         `yaml:"token_env"`
	TLS      crdptls.Config `yaml:"tls"`
}

// SessionConfig seeds a console session.
type SessionConfig struct {
	Settings      domain.Settings `yaml:",inline"`
	SampleProtect string          `yaml:"sample_protect"`
	SampleBulk    string          `yaml:"sample_bulk"`
	BatchSize     int             `yaml:"batch_size"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// EmulatorConfig configures the local gateway emulator.
type EmulatorConfig struct {
	Listen    string        `yaml:"listen"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	// TLS serves HTTPS when a certificate is set; a CA file also requires client certificates.
	TLS crdptls.Config `yaml:"tls"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{BaseURL: DefaultBaseURL},
		Session: SessionConfig{
			Settings:      domain.Settings{Host: DefaultHost, Port: DefaultPort, Policy: DefaultPolicy},
			SampleProtect: DefaultSampleProtect,
			SampleBulk:    DefaultSampleBulk,
			BatchSize:     DefaultBulkBatchSize,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "crdpctl"},
		Emulator: EmulatorConfig{
			Listen:   DefaultEmulatorListen,
			TokenTTL: DefaultEmulatorTokenTTL,
			Username: "demo",
			Password: "demo",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path yields defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CRDP_GATEWAY_URL"); val != "" {
		cfg.Gateway.BaseURL = val
	}
	if val := os.Getenv("CRDP_GATEWAY_TOKEN"); val != "" {
		cfg.Gateway.Token = val
	}
	if val := os.Getenv("CRDP_GATEWAY_CA_FILE"); val != "" {
		cfg.Gateway.TLS.CAFile = val
	}

	if val := os.Getenv("CRDP_API_HOST"); val != "" {
		cfg.Session.Settings.Host = val
	}
	if val := os.Getenv("CRDP_API_PORT"); val != "" {
		cfg.Session.Settings.Port = val
	}
	if val := os.Getenv("CRDP_PROTECTION_POLICY"); val != "" {
		cfg.Session.Settings.Policy = val
	}
	if val := os.Getenv("CRDP_SAMPLE_DATA"); val != "" {
		cfg.Session.SampleProtect = val
	}

	if val := os.Getenv("CRDP_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("CRDP_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("CRDP_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("CRDP_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("CRDP_EMULATOR_LISTEN"); val != "" {
		cfg.Emulator.Listen = val
	}
	if val := os.Getenv("CRDP_EMULATOR_JWT_SECRET"); val != "" {
		cfg.Emulator.JWTSecret = val
	}
}

// Validate performs validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway configuration: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Emulator.Validate(); err != nil {
		return fmt.Errorf("emulator configuration: %w", err)
	}

	return nil
}

// Validate checks the gateway base URL.
func (c *GatewayConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q must use http or https", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", c.BaseURL)
	}
	if c.TLS.Enabled() && u.Scheme != "https" {
		return fmt.Errorf("tls settings require an https base_url, got %q", c.BaseURL)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

// Validate fills session defaults. Session settings are deliberately not parsed here:
// an invalid port is reported per invocation, when a request is built.
func (c *SessionConfig) Validate() error {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBulkBatchSize
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate checks the emulator configuration.
func (c *EmulatorConfig) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultEmulatorListen
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultEmulatorTokenTTL
	}
	if c.JWTSecret != "" && (c.Username == "" || c.Password == "") {
		return fmt.Errorf("username and password are required when jwt_secret is set")
	}
	if c.TLS.Enabled() && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls: cert_file and key_file are required to serve TLS")
	}
	return nil
}
