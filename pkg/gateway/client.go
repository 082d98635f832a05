// Package gateway is the HTTP client for the tokenization gateway. Every operation is a
// single round-trip; transport and application failures are normalized into the result
// value so callers never receive a raised error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// Routes relative to the gateway base URL.
const (
	RouteProtect     = "protect"
	RouteReveal      = "reveal"
	RouteProtectBulk = "protect-bulk"
	RouteRevealBulk  = "reveal-bulk"
	RouteHealth      = "health"
)

const (
	tracerName = "crdp.gateway"

	// transportFailureStatus is reported when no HTTP response was received.
	transportFailureStatus = http.StatusInternalServerError
)

// Options configures a Client.
type Options struct {
	// BaseURL is the gateway prefix the routes are appended to, e.g. http://localhost:8000/api/crdp.
	BaseURL string
	// HTTPClient overrides the default instrumented client. No timeout is applied by default.
	HTTPClient *http.Client
	// Credentials optionally supplies a bearer token for every call.
	Credentials CredentialSource
	Logger      *slog.Logger
}

// Client calls the five gateway operations.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	credentials CredentialSource
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates a gateway client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("gateway: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported base URL scheme %q", base.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     base,
		httpClient:  httpClient,
		credentials: opts.Credentials,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Protect submits one value for protection.
func (c *Client) Protect(ctx context.Context, req domain.ProtectRequest) domain.OperationResult {
	return c.call(ctx, RouteProtect, req, "protected_data", func(r domain.OperationResult) bool {
		return r.ProtectedData != nil
	})
}

// Reveal submits one token for reveal.
func (c *Client) Reveal(ctx context.Context, req domain.RevealRequest) domain.OperationResult {
	return c.call(ctx, RouteReveal, req, "data", func(r domain.OperationResult) bool {
		return r.Data != nil
	})
}

// BulkProtect submits a batch of values for protection.
func (c *Client) BulkProtect(ctx context.Context, req domain.BulkProtectRequest) domain.OperationResult {
	return c.call(ctx, RouteProtectBulk, req, "protected_data_array", func(r domain.OperationResult) bool {
		return r.ProtectedDataArray != nil
	})
}

// BulkReveal submits a batch of tokens for reveal.
func (c *Client) BulkReveal(ctx context.Context, req domain.BulkRevealRequest) domain.OperationResult {
	return c.call(ctx, RouteRevealBulk, req, "data_array", func(r domain.OperationResult) bool {
		return r.DataArray != nil
	})
}

// call performs a POST round-trip and normalizes every outcome into an OperationResult.
func (c *Client) call(ctx context.Context, route string, body any, payloadField string, hasPayload func(domain.OperationResult) bool) domain.OperationResult {
	ctx, span := c.tracer.Start(ctx, "gateway."+route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := c.do(ctx, http.MethodPost, route, nil, body)
	if err != nil {
		return c.fail(span, route, transportError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(span, route, transportError(fmt.Errorf("read response: %w", err)))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(span, route, applicationError(resp.StatusCode, raw))
	}

	var result domain.OperationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return c.fail(span, route, &domain.GatewayError{
			Kind:       domain.KindApplication,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("invalid gateway response: %v", err),
			Err:        err,
		})
	}
	if result.StatusCode == 0 {
		result.StatusCode = resp.StatusCode
	}

	// Exactly one of payload or error survives.
	if result.Error != "" {
		gerr := &domain.GatewayError{Kind: domain.KindApplication, StatusCode: result.StatusCode, Detail: result.Error}
		failed := c.fail(span, route, gerr)
		failed.Debug = result.Debug
		return failed
	}
	if !hasPayload(result) {
		return c.fail(span, route, &domain.GatewayError{
			Kind:       domain.KindApplication,
			StatusCode: result.StatusCode,
			Detail:     fmt.Sprintf("gateway response missing %s", payloadField),
		})
	}

	c.logger.Debug("gateway call succeeded",
		"route", route,
		"status_code", result.StatusCode,
	)
	return result
}

func (c *Client) fail(span trace.Span, route string, gerr *domain.GatewayError) domain.OperationResult {
	span.RecordError(gerr)
	span.SetStatus(codes.Error, string(gerr.Kind))
	c.logger.Warn("gateway call failed",
		"route", route,
		"kind", gerr.Kind,
		"status_code", gerr.StatusCode,
		"error", gerr.Error(),
	)
	return domain.FailureResult(gerr.StatusCode, gerr)
}

// HealthCheck queries the gateway health route. Unlike the other operations it reports
// failure as OK=false with a message rather than as an OperationResult.
func (c *Client) HealthCheck(ctx context.Context, cfg domain.Configuration) domain.HealthStatus {
	ctx, span := c.tracer.Start(ctx, "gateway."+RouteHealth, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	query := url.Values{}
	query.Set("host", cfg.Host)
	query.Set("port", strconv.Itoa(cfg.Port))
	query.Set("policy", cfg.Policy)

	resp, err := c.do(ctx, http.MethodGet, RouteHealth, query, nil)
	if err != nil {
		return c.unhealthy(span, transportError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.unhealthy(span, transportError(fmt.Errorf("read response: %w", err)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.unhealthy(span, applicationError(resp.StatusCode, raw))
	}

	var health healthResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&health); err != nil {
		return c.unhealthy(span, &domain.GatewayError{
			Kind:       domain.KindApplication,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("invalid health response: %v", err),
			Err:        err,
		})
	}

	status := domain.HealthStatus{
		OK:      strings.EqualFold(fmt.Sprint(valueOrEmpty(health.Status)), "healthy"),
		Message: health.message(),
	}
	span.SetAttributes(attribute.Bool("crdp.healthy", status.OK))
	c.logger.Debug("gateway health checked", "ok", status.OK, "message", status.Message)
	return status
}

func (c *Client) unhealthy(span trace.Span, gerr *domain.GatewayError) domain.HealthStatus {
	span.RecordError(gerr)
	span.SetStatus(codes.Error, string(gerr.Kind))
	c.logger.Warn("gateway health check failed", "kind", gerr.Kind, "error", gerr.Error())
	return domain.HealthStatus{OK: false, Message: "health check failed: " + gerr.Error()}
}

func (c *Client) do(ctx context.Context, method, route string, query url.Values, body any) (*http.Response, error) {
	target := c.baseURL.JoinPath(route)
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.credentials != nil {
		token, err := c.credentials.Credential(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credential: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return c.httpClient.Do(req)
}

func transportError(err error) *domain.GatewayError {
	return &domain.GatewayError{
		Kind:       domain.KindTransport,
		StatusCode: transportFailureStatus,
		Detail:     err.Error(),
		Err:        err,
	}
}

// applicationError extracts the gateway's detail field, falling back to the generic
// status message when the body carries none.
func applicationError(status int, body []byte) *domain.GatewayError {
	return &domain.GatewayError{
		Kind:       domain.KindApplication,
		StatusCode: status,
		Detail:     errorDetail(status, body),
	}
}

func errorDetail(status int, body []byte) string {
	var errResp domain.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != nil {
		switch detail := errResp.Detail.(type) {
		case string:
			if detail != "" {
				return detail
			}
		default:
			if encoded, err := json.Marshal(detail); err == nil {
				return string(encoded)
			}
		}
	}
	return fmt.Sprintf("Request failed with status code %d", status)
}
