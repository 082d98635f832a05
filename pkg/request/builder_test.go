package request

import (
	"strconv"
	"testing"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testConfig = domain.Configuration{Host: "192.168.0.231", Port: 32082, Policy: "P03"}

func TestParseConfiguration(t *testing.T) {
	cfg, err := ParseConfiguration(domain.Settings{Host: " 10.0.0.1 ", Port: "80", Policy: "P03"})
	require.NoError(t, err)
	assert.Equal(t, domain.Configuration{Host: "10.0.0.1", Port: 80, Policy: "P03"}, cfg)
}

func TestParseConfigurationRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings domain.Settings
		field    string
		sentinel error
	}{
		{"non-numeric port", domain.Settings{Host: "h", Port: "80a", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"empty port", domain.Settings{Host: "h", Port: "", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"hex port", domain.Settings{Host: "h", Port: "0x50", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"signed port", domain.Settings{Host: "h", Port: "+80", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"negative port", domain.Settings{Host: "h", Port: "-80", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"zero port", domain.Settings{Host: "h", Port: "0", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"port too large", domain.Settings{Host: "h", Port: "65536", Policy: "P"}, "port", domain.ErrInvalidPort},
		{"empty policy", domain.Settings{Host: "h", Port: "80", Policy: "  "}, "policy", domain.ErrInvalidPolicy},
		{"empty host", domain.Settings{Host: "", Port: "80", Policy: "P"}, "host", domain.ErrInvalidHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfiguration(tt.settings)
			var cerr *domain.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
		})
	}
}

func TestParsePortTrimsWhitespace(t *testing.T) {
	port, err := ParsePort(" 80 ")
	require.NoError(t, err)
	assert.Equal(t, 80, port)

	_, err = ParsePort("+80")
	require.ErrorContains(t, err, "sign not allowed")
}

func TestParsePortInRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(1, 65535).Draw(t, "port")
		got, err := ParsePort(strconv.Itoa(port))
		require.NoError(t, err)
		assert.Equal(t, port, got)
	})
}

func TestProtect(t *testing.T) {
	req, err := Protect("1234567890123", testConfig)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtectRequest{Data: "1234567890123", Policy: "P03", Host: "192.168.0.231", Port: 32082}, req)

	_, err = Protect("12345", testConfig)
	assert.ErrorIs(t, err, domain.ErrFormatMismatch)
}

func TestReveal(t *testing.T) {
	req, err := Reveal("TOKEN", "", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "TOKEN", req.ProtectedData)
	assert.Empty(t, req.Username)

	req, err = Reveal("TOKEN", " auditor ", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "auditor", req.Username)

	_, err = Reveal("   ", "", testConfig)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestBulkRequests(t *testing.T) {
	p, err := BulkProtect("001\n\n 002 \n001", testConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "001"}, p.DataArray)
	assert.Equal(t, "P03", p.Policy)

	r, err := BulkReveal("t1\nt2\n", "", testConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, r.ProtectedDataArray)

	_, err = BulkProtect("\n", testConfig)
	assert.ErrorIs(t, err, domain.ErrNothingToSubmit)
	_, err = BulkReveal("", "", testConfig)
	assert.ErrorIs(t, err, domain.ErrNothingToSubmit)
}
