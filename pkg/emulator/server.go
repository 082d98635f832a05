// Package emulator implements an in-process CRDP gateway for local runs and tests.
//
// It serves the protect, reveal, bulk and health routes under /api/crdp, a demo login
// under /api/auth and Prometheus metrics under /metrics. Tokens come from a
// storage.TokenVault and are scoped by protection policy.
package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/storage"
)

// APIPrefix is the path the gateway routes are mounted under.
const APIPrefix = "/api/crdp"

// Options configures a Server.
type Options struct {
	Vault  storage.TokenVault
	Auth   *Authenticator
	Logger *slog.Logger
	// Defaults fill host, port and policy when a request omits them.
	Defaults domain.Configuration
}

// Server is the emulated gateway.
type Server struct {
	vault    storage.TokenVault
	auth     *Authenticator
	logger   *slog.Logger
	metrics  *Metrics
	defaults domain.Configuration

	mu      sync.RWMutex
	outage  string
	handler http.Handler
}

// New creates a Server.
func New(opts Options) *Server {
	vault := opts.Vault
	if vault == nil {
		vault = storage.NewMemoryTokenVault()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		vault:    vault,
		auth:     opts.Auth,
		logger:   logger,
		defaults: opts.Defaults,
	}
	s.metrics = NewMetrics(vault.Len)
	s.handler = otelhttp.NewHandler(s.routes(), "crdp.emulator")
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// SetOutage makes every gateway route answer 503 with detail until cleared with "".
func (s *Server) SetOutage(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outage = detail
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.With(s.auth.Middleware).Get("/me", s.handleMe)
	})

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.outageMiddleware)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/protect", s.handleProtect)
			r.Post("/reveal", s.handleReveal)
			r.Post("/protect-bulk", s.handleProtectBulk)
			r.Post("/reveal-bulk", s.handleRevealBulk)
		})
	})

	return r
}

func (s *Server) outageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		outage := s.outage
		s.mu.RUnlock()

		if outage != "" {
			writeDetail(w, http.StatusServiceUnavailable, outage)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeDetail(w, http.StatusNotFound, "authentication is disabled")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form body")
		return
	}

	token, err := s.auth.Login(r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		s.logger.Warn("emulator login rejected", "username", r.PostForm.Get("username"))
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"username": subject})
}

type healthResponse struct {
	Status string `json:"status"`
	Host   string `json:"crdp_api_host"`
	Port   int    `json:"crdp_api_port"`
	Policy string `json:"protection_policy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.defaults
	q := r.URL.Query()
	if host := q.Get("host"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(q.Get("port")); err == nil {
		cfg.Port = port
	}
	if policy := q.Get("policy"); policy != "" {
		cfg.Policy = policy
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Host:   cfg.Host,
		Port:   cfg.Port,
		Policy: cfg.Policy,
	})
}

// operationResponse mirrors the gateway's reply envelope.
type operationResponse struct {
	StatusCode         int      `json:"status_code"`
	ProtectedData      *string  `json:"protected_data,omitempty"`
	Data               *string  `json:"data,omitempty"`
	ProtectedDataArray []string `json:"protected_data_array,omitempty"`
	DataArray          []string `json:"data_array,omitempty"`
	Error              string   `json:"error,omitempty"`
}

func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	var req domain.ProtectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Data == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "data is required")
		return
	}

	policy := s.policy(req.Policy)
	token, err := s.vault.Tokenize(r.Context(), req.Data, policy)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.RecordItems("protect", 1)
	s.logger.Debug("emulator protected value", "policy", policy)
	writeJSON(w, http.StatusOK, operationResponse{StatusCode: http.StatusOK, ProtectedData: &token})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req domain.RevealRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProtectedData == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "protected_data is required")
		return
	}

	policy := s.policy(req.Policy)
	value, err := s.vault.Detokenize(r.Context(), req.ProtectedData, policy)
	if err != nil {
		s.revealFailed(w, err)
		return
	}

	s.metrics.RecordItems("reveal", 1)
	s.logger.Debug("emulator revealed token", "policy", policy, "username", req.Username)
	writeJSON(w, http.StatusOK, operationResponse{StatusCode: http.StatusOK, Data: &value})
}

func (s *Server) handleProtectBulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkProtectRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.DataArray) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "data_array is required")
		return
	}

	tokens, err := mapItems(r.Context(), req.DataArray, s.policy(req.Policy), s.vault.Tokenize)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.RecordItems("protect", len(tokens))
	writeJSON(w, http.StatusOK, operationResponse{StatusCode: http.StatusOK, ProtectedDataArray: tokens})
}

func (s *Server) handleRevealBulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkRevealRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.ProtectedDataArray) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "protected_data_array is required")
		return
	}

	values, err := mapItems(r.Context(), req.ProtectedDataArray, s.policy(req.Policy), s.vault.Detokenize)
	if err != nil {
		s.revealFailed(w, err)
		return
	}

	s.metrics.RecordItems("reveal", len(values))
	s.logger.Debug("emulator revealed tokens", "count", len(values), "username", req.Username)
	writeJSON(w, http.StatusOK, operationResponse{StatusCode: http.StatusOK, DataArray: values})
}

// revealFailed reports unknown tokens inside a 200 envelope, the way the upstream
// service relays downstream failures.
func (s *Server) revealFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrTokenNotFound) {
		writeJSON(w, http.StatusOK, operationResponse{StatusCode: http.StatusNotFound, Error: err.Error()})
		return
	}
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

func mapItems(ctx context.Context, items []string, policy string, fn func(context.Context, string, string) (string, error)) ([]string, error) {
	out := make([]string, 0, len(items))
	for i, item := range items {
		v, err := fn(ctx, item, policy)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Server) policy(requested string) string {
	if p := strings.TrimSpace(requested); p != "" {
		return p
	}
	return s.defaults.Policy
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, domain.ErrorResponse{Detail: detail})
}
