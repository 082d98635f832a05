package emulator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/gateway"
	"github.com/polisai/crdp-orchestrator/pkg/orchestrator"
)

var defaults = domain.Configuration{Host: "192.168.0.231", Port: 32082, Policy: "P03"}

func newServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Defaults == (domain.Configuration{}) {
		opts.Defaults = defaults
	}
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func newClient(t *testing.T, ts *httptest.Server, creds gateway.CredentialSource) *gateway.Client {
	t.Helper()
	client, err := gateway.New(gateway.Options{
		BaseURL:     ts.URL + APIPrefix,
		HTTPClient:  ts.Client(),
		Credentials: creds,
	})
	require.NoError(t, err)
	return client
}

func TestProtectRevealRoundTrip(t *testing.T) {
	_, ts := newServer(t, Options{})
	client := newClient(t, ts, nil)
	ctx := context.Background()

	protected := client.Protect(ctx, domain.ProtectRequest{Data: "1234567890123", Policy: "P03", Host: "h", Port: 1})
	require.False(t, protected.Failed(), protected.Error)
	require.NotNil(t, protected.ProtectedData)
	assert.Len(t, *protected.ProtectedData, 13)

	revealed := client.Reveal(ctx, domain.RevealRequest{ProtectedData: *protected.ProtectedData, Policy: "P03", Host: "h", Port: 1})
	require.False(t, revealed.Failed(), revealed.Error)
	assert.Equal(t, "1234567890123", *revealed.Data)
}

func TestBulkRoundTripPreservesOrder(t *testing.T) {
	_, ts := newServer(t, Options{})
	client := newClient(t, ts, nil)
	ctx := context.Background()

	items := []string{"001", "002", "001", "abc"}
	protected := client.BulkProtect(ctx, domain.BulkProtectRequest{DataArray: items, Policy: "P03", Host: "h", Port: 1})
	require.False(t, protected.Failed(), protected.Error)
	require.Len(t, protected.ProtectedDataArray, 4)
	assert.Equal(t, protected.ProtectedDataArray[0], protected.ProtectedDataArray[2], "duplicates map to the same token")

	revealed := client.BulkReveal(ctx, domain.BulkRevealRequest{ProtectedDataArray: protected.ProtectedDataArray, Policy: "P03", Host: "h", Port: 1})
	require.False(t, revealed.Failed(), revealed.Error)
	assert.Equal(t, items, revealed.DataArray)
}

func TestRevealUnderOtherPolicyFails(t *testing.T) {
	_, ts := newServer(t, Options{})
	client := newClient(t, ts, nil)
	ctx := context.Background()

	protected := client.Protect(ctx, domain.ProtectRequest{Data: "1234567890123", Policy: "P03", Host: "h", Port: 1})
	require.False(t, protected.Failed())

	revealed := client.Reveal(ctx, domain.RevealRequest{ProtectedData: *protected.ProtectedData, Policy: "P01", Host: "h", Port: 1})
	assert.True(t, revealed.Failed())
	assert.Equal(t, http.StatusNotFound, revealed.StatusCode)
	assert.Contains(t, revealed.Error, "token not found")
	assert.Nil(t, revealed.Data)
}

func TestOutageIsNormalized(t *testing.T) {
	s, ts := newServer(t, Options{})
	client := newClient(t, ts, nil)
	s.SetOutage("gateway down")

	result := client.Protect(context.Background(), domain.ProtectRequest{Data: "1234567890123", Policy: "P03", Host: "h", Port: 1})
	assert.Equal(t, 503, result.StatusCode)
	assert.Equal(t, "gateway down", result.Error)

	health := client.HealthCheck(context.Background(), defaults)
	assert.False(t, health.OK)
	assert.Equal(t, "health check failed: gateway down", health.Message)

	s.SetOutage("")
	health = client.HealthCheck(context.Background(), domain.Configuration{Host: "h", Port: 1, Policy: "P07"})
	assert.True(t, health.OK)
	assert.Equal(t, "host=h, port=1, policy=P07", health.Message)
}

func TestInvalidBodyIs422(t *testing.T) {
	_, ts := newServer(t, Options{})

	resp, err := ts.Client().Post(ts.URL+APIPrefix+"/protect", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["detail"], "invalid request body")
}

func TestAuthFlow(t *testing.T) {
	auth := NewAuthenticator("secret", time.Minute, "demo", "demo")
	_, ts := newServer(t, Options{Auth: auth})

	unauthenticated := newClient(t, ts, nil)
	result := unauthenticated.Protect(context.Background(), domain.ProtectRequest{Data: "1234567890123", Policy: "P03", Host: "h", Port: 1})
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "Not authenticated", result.Error)

	// Health stays open.
	assert.True(t, unauthenticated.HealthCheck(context.Background(), defaults).OK)

	resp, err := ts.Client().PostForm(ts.URL+"/api/auth/login", url.Values{"username": {"demo"}, "password": {"wrong"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = ts.Client().PostForm(ts.URL+"/api/auth/login", url.Values{"username": {"demo"}, "password": {"demo"}})
	require.NoError(t, err)
	var token tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	resp.Body.Close()
	assert.Equal(t, "bearer", token.TokenType)

	authenticated := newClient(t, ts, gateway.StaticCredential(token.AccessToken))
	result = authenticated.Protect(context.Background(), domain.ProtectRequest{Data: "1234567890123", Policy: "P03", Host: "h", Port: 1})
	assert.False(t, result.Failed(), result.Error)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	var me map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	resp.Body.Close()
	assert.Equal(t, "demo", me["username"])
}

func TestAuthenticatorRejectsForeignTokens(t *testing.T) {
	a := NewAuthenticator("secret", time.Minute, "demo", "demo")
	other := NewAuthenticator("other", time.Minute, "demo", "demo")

	token, err := other.Login("demo", "demo")
	require.NoError(t, err)

	_, err = a.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := NewAuthenticator("secret", -time.Minute, "demo", "demo")
	token, err = expired.issue("demo")
	require.NoError(t, err)
	subject, err := a.Validate(token)
	require.NoError(t, err, "a non-positive expiry issues tokens without exp")
	assert.Equal(t, "demo", subject)

	var disabled *Authenticator
	_, err = disabled.Validate(token)
	require.ErrorIs(t, err, ErrAuthDisabled)
}

func TestLoginDisabledWithoutSecret(t *testing.T) {
	_, ts := newServer(t, Options{})
	resp, err := ts.Client().PostForm(ts.URL+"/api/auth/login", url.Values{"username": {"demo"}, "password": {"demo"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsAreExported(t *testing.T) {
	_, ts := newServer(t, Options{})
	client := newClient(t, ts, nil)
	ctx := context.Background()

	client.BulkProtect(ctx, domain.BulkProtectRequest{DataArray: []string{"1", "2"}, Policy: "P03", Host: "h", Port: 1})
	client.HealthCheck(ctx, defaults)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `crdp_emulator_items_total{operation="protect"} 2`)
	assert.Contains(t, body, `crdp_emulator_requests_total{route="/api/crdp/protect-bulk",status_code="200"} 1`)
	assert.Contains(t, body, `crdp_emulator_requests_total{route="/api/crdp/health",status_code="200"} 1`)
	assert.Contains(t, body, "crdp_emulator_tokens 2")
}

func TestControllerAgainstEmulator(t *testing.T) {
	_, ts := newServer(t, Options{})
	client := newClient(t, ts, nil)

	c, err := orchestrator.New(orchestrator.Options{
		Gateway:  client,
		Settings: orchestrator.StaticSettings{Host: "192.168.0.231", Port: "32082", Policy: "P03"},
		Defaults: orchestrator.Inputs{Protect: "1234567890123", BulkProtect: "001\n002\n003"},
	})
	require.NoError(t, err)
	ctx := context.Background()

	protect, err := c.Run(ctx, orchestrator.SlotProtect)
	require.NoError(t, err)
	require.False(t, protect.Result.Failed(), protect.Result.Error)
	assert.Equal(t, *protect.Result.ProtectedData, c.Inputs().Reveal)

	reveal, err := c.Run(ctx, orchestrator.SlotReveal)
	require.NoError(t, err)
	assert.Equal(t, "1234567890123", *reveal.Result.Data)
	assert.Equal(t, 2, c.Log().Len())

	bulk, err := c.Run(ctx, orchestrator.SlotBulkProtect)
	require.NoError(t, err)
	require.Len(t, bulk.Result.ProtectedDataArray, 3)

	bulkReveal, err := c.Run(ctx, orchestrator.SlotBulkReveal)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "003"}, bulkReveal.Result.DataArray)

	health, err := c.Run(ctx, orchestrator.SlotHealth)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatus{OK: true, Message: "host=192.168.0.231, port=32082, policy=P03"}, *health.Health)
}
