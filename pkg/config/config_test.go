package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Gateway.BaseURL)
	assert.Equal(t, domain.Settings{Host: "192.168.0.231", Port: "32082", Policy: "P03"}, cfg.Session.Settings)
	assert.Equal(t, "1234567890123", cfg.Session.SampleProtect)
	assert.Equal(t, "001\n002\n003", cfg.Session.SampleBulk)
	assert.Equal(t, 25, cfg.Session.BatchSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, time.Hour, cfg.Emulator.TokenTTL)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "crdp.yaml", `
gateway:
  base_url: "https://crdp.example.com/api/crdp"
  token_env: "CRDP_TEST_TOKEN"
session:
  host: "10.0.0.5"
  port: 443
  policy: "P07"
  batch_size: 10
logging:
  level: "DEBUG"
  pretty: true
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
emulator:
  listen: ":9000"
  jwt_secret: "s3cret"
  token_ttl: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://crdp.example.com/api/crdp", cfg.Gateway.BaseURL)
	assert.Equal(t, "CRDP_TEST_TOKEN", cfg.Gateway.TokenEnv)
	assert.Equal(t, domain.Settings{Host: "10.0.0.5", Port: "443", Policy: "P07"}, cfg.Session.Settings)
	assert.Equal(t, 10, cfg.Session.BatchSize)
	assert.Equal(t, DefaultSampleProtect, cfg.Session.SampleProtect)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, ":9000", cfg.Emulator.Listen)
	assert.Equal(t, 5*time.Minute, cfg.Emulator.TokenTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRDP_GATEWAY_URL", "http://gateway.internal:8000/api/crdp")
	t.Setenv("CRDP_API_HOST", "crdp.internal")
	t.Setenv("CRDP_API_PORT", "8090")
	t.Setenv("CRDP_PROTECTION_POLICY", "P01")
	t.Setenv("CRDP_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://gateway.internal:8000/api/crdp", cfg.Gateway.BaseURL)
	assert.Equal(t, domain.Settings{Host: "crdp.internal", Port: "8090", Policy: "P01"}, cfg.Session.Settings)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadKeepsUnparseablePort(t *testing.T) {
	t.Setenv("CRDP_API_PORT", "abc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Session.Settings.Port)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bad scheme",
			content: "gateway:\n  base_url: \"ftp://example.com\"\n",
			want:    "gateway configuration",
		},
		{
			name:    "bad log level",
			content: "logging:\n  level: \"loud\"\n",
			want:    "logging configuration",
		},
		{
			name:    "negative batch",
			content: "session:\n  batch_size: -1\n",
			want:    "session configuration",
		},
		{
			name:    "jwt without credentials",
			content: "emulator:\n  jwt_secret: \"x\"\n  username: \"\"\n",
			want:    "emulator configuration",
		},
		{
			name:    "tls over http",
			content: "gateway:\n  tls:\n    ca_file: \"/etc/crdp/ca.crt\"\n",
			want:    "require an https base_url",
		},
		{
			name:    "client certificate without key",
			content: "gateway:\n  base_url: \"https://crdp.internal/api/crdp\"\n  tls:\n    cert_file: \"client.crt\"\n",
			want:    "both cert_file and key_file",
		},
		{
			name:    "emulator tls without certificate",
			content: "emulator:\n  tls:\n    ca_file: \"ca.crt\"\n",
			want:    "emulator configuration",
		},
		{
			name:    "malformed yaml",
			content: "gateway: [",
			want:    "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "crdp.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
