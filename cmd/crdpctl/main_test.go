package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crdptls "github.com/polisai/crdp-orchestrator/internal/tls"
	"github.com/polisai/crdp-orchestrator/pkg/config"
	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/emulator"
	"github.com/polisai/crdp-orchestrator/pkg/runner"
)

func startEmulator(t *testing.T) (*emulator.Server, string) {
	t.Helper()
	s := emulator.New(emulator.Options{
		Defaults: domain.Configuration{Host: "192.168.0.231", Port: 32082, Policy: "P03"},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts.URL + emulator.APIPrefix
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))

	err := root.Execute()
	return stdout.String(), err
}

func decodeOutput(t *testing.T, out string) operationOutput {
	t.Helper()
	var parsed operationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	return parsed
}

func TestProtectThenReveal(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "", "protect", "1234567890123", "--gateway-url", url)
	require.NoError(t, err)
	protected := decodeOutput(t, out)
	require.NotNil(t, protected.Result)
	require.NotNil(t, protected.Result.ProtectedData)

	out, err = execute(t, "", "reveal", *protected.Result.ProtectedData, "--gateway-url", url, "-u", "alice")
	require.NoError(t, err)
	revealed := decodeOutput(t, out)
	require.NotNil(t, revealed.Result.Data)
	assert.Equal(t, "1234567890123", *revealed.Result.Data)
}

func TestProtectRejectsMalformedInput(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "", "protect", "12-34", "--gateway-url", url, "--show-log")
	require.ErrorIs(t, err, errOperationFailed)

	parsed := decodeOutput(t, out)
	assert.Equal(t, 422, parsed.Result.StatusCode)
	assert.Equal(t, "input must be exactly 13 digits", parsed.Result.Error)
	assert.Empty(t, parsed.Log)
}

func TestInvalidPortFlag(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "", "protect", "--gateway-url", url, "--port", "abc")
	require.ErrorIs(t, err, errOperationFailed)
	parsed := decodeOutput(t, out)
	assert.Equal(t, 422, parsed.Result.StatusCode)
	assert.Contains(t, parsed.Result.Error, `invalid port "abc"`)
}

func TestBulkCommandsFromStdinAndFile(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "001\n\n 002 \n003\n", "protect-bulk", "-", "--gateway-url", url)
	require.NoError(t, err)
	protected := decodeOutput(t, out)
	require.Len(t, protected.Result.ProtectedDataArray, 3)

	path := filepath.Join(t.TempDir(), "tokens.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(protected.Result.ProtectedDataArray, "\n")), 0o600))

	out, err = execute(t, "", "reveal-bulk", path, "--gateway-url", url, "--show-log")
	require.NoError(t, err)
	revealed := decodeOutput(t, out)
	assert.Equal(t, []string{"001", "002", "003"}, revealed.Result.DataArray)
	require.Len(t, revealed.Log, 1)
	assert.Equal(t, domain.StageRevealBulk, revealed.Log[0].Stage)
}

func TestHealthCommand(t *testing.T) {
	s, url := startEmulator(t)

	out, err := execute(t, "", "health", "--gateway-url", url, "--host", "h", "--port", "1", "--policy", "P07")
	require.NoError(t, err)
	parsed := decodeOutput(t, out)
	assert.Equal(t, &domain.HealthStatus{OK: true, Message: "host=h, port=1, policy=P07"}, parsed.Health)

	s.SetOutage("gateway down")
	out, err = execute(t, "", "health", "--gateway-url", url)
	require.ErrorIs(t, err, errOperationFailed)
	assert.Equal(t, "health check failed: gateway down", decodeOutput(t, out).Health.Message)
}

func TestOutageIsReportedOnResult(t *testing.T) {
	s, url := startEmulator(t)
	s.SetOutage("gateway down")

	out, err := execute(t, "", "protect", "--gateway-url", url)
	require.ErrorIs(t, err, errOperationFailed)
	parsed := decodeOutput(t, out)
	assert.Equal(t, 503, parsed.Result.StatusCode)
	assert.Equal(t, "gateway down", parsed.Result.Error)
}

func TestRoundTripCommand(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "", "roundtrip", "--count", "3", "--gateway-url", url)
	require.NoError(t, err)

	var parsed roundTripOutput
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, 3, parsed.Summary.Items)
	assert.Equal(t, 3, parsed.Summary.Matched)
	assert.Len(t, parsed.Iterations, 3)

	block := strings.Repeat("1234\n", 30)
	out, err = execute(t, block, "roundtrip", "-", "--bulk", "--batch-size", "10", "--gateway-url", url)
	require.NoError(t, err)

	parsed = roundTripOutput{}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Len(t, parsed.Batches, 3)
	assert.Equal(t, runner.Summary{Items: 30, Matched: 30, Duration: parsed.Summary.Duration}, parsed.Summary)
}

func TestBulkRoundTripRejectsBlankInput(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "\n  \n", "roundtrip", "-", "--bulk", "--gateway-url", url)
	require.ErrorIs(t, err, domain.ErrNothingToSubmit)
	assert.NotErrorIs(t, err, errOperationFailed)
	assert.Empty(t, out)
}

func TestSessionChainsProtectIntoReveal(t *testing.T) {
	_, url := startEmulator(t)

	script := strings.Join([]string{
		"help",
		"run protect",
		"wait",
		"run reveal",
		"wait",
		"set bulk-protect 7\\n8",
		"run bulk_protect",
		"wait",
		"inputs",
		"set port abc",
		"run health",
		"wait",
		"bogus",
		"quit",
	}, "\n")

	out, err := execute(t, script, "session", "--gateway-url", url)
	require.NoError(t, err)

	assert.Contains(t, out, "protect started")
	assert.Contains(t, out, `"data": "1234567890123"`)
	assert.Contains(t, out, `"data_array"`)
	assert.Contains(t, out, "settings: host=192.168.0.231, port=abc, policy=P03")
	assert.Contains(t, out, "health check failed: invalid port")
	assert.Contains(t, out, `error: unknown command "bogus"`)
}

func TestSessionLoadsSettingsFile(t *testing.T) {
	_, url := startEmulator(t)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 10.0.0.9\nport: \"9443\"\npolicy: P11\n"), 0o600))

	out, err := execute(t, "settings\nset policy P12\nquit\n", "session", "--gateway-url", url, "--settings-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"policy": "P11"`)
	assert.Contains(t, out, "settings: host=10.0.0.9, port=9443, policy=P12")
}

func TestSessionRejectsBlankAndUnknownSlots(t *testing.T) {
	_, url := startEmulator(t)

	out, err := execute(t, "set bulk-reveal \\n\nrun bulk_reveal\nrun nope\n", "session", "--gateway-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "error: bulk_reveal: nothing to submit")
	assert.Contains(t, out, `error: unknown slot "nope"`)
}

func TestConfigFileAndFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crdp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  policy: P09\nlogging:\n  level: loud\n"), 0o600))

	_, err := execute(t, "", "health", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging configuration")

	cfg := config.Default()
	root := newRootCmd()
	sub, _, err := root.Find([]string{"health"})
	require.NoError(t, err)
	require.NoError(t, sub.ParseFlags([]string{"--policy", "P01", "--pretty"}))
	require.NoError(t, applyFlagOverrides(sub, cfg))
	assert.Equal(t, "P01", cfg.Session.Settings.Policy)
	assert.True(t, cfg.Logging.Pretty)
}

func TestReadBlock(t *testing.T) {
	root := newRootCmd()
	root.SetIn(strings.NewReader("a\r\nb\r\n"))

	block, err := readBlock(root, []string{"-"}, "")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", block)

	block, err = readBlock(root, nil, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", block)

	_, err = readBlock(root, []string{filepath.Join(t.TempDir(), "missing")}, "")
	require.Error(t, err)
}

func TestProtectOverMutualTLS(t *testing.T) {
	set, err := crdptls.GenerateDevelopmentSet(t.TempDir())
	require.NoError(t, err)
	serverTLS, err := crdptls.BuildServer(set.Server())
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(emulator.New(emulator.Options{}).Handler())
	ts.TLS = serverTLS
	ts.StartTLS()
	t.Cleanup(ts.Close)

	client := set.Client()
	path := filepath.Join(t.TempDir(), "crdp.yaml")
	content := "gateway:\n" +
		"  base_url: \"" + ts.URL + emulator.APIPrefix + "\"\n" +
		"  tls:\n" +
		"    ca_file: \"" + client.CAFile + "\"\n" +
		"    cert_file: \"" + client.CertFile + "\"\n" +
		"    key_file: \"" + client.KeyFile + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := execute(t, "", "protect", "--config", path)
	require.NoError(t, err)
	assert.NotNil(t, decodeOutput(t, out).Result.ProtectedData)
}
