package emulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("authentication disabled")
	// ErrInvalidToken is returned for malformed, expired or foreign tokens.
	ErrInvalidToken = errors.New("could not validate credentials")
)

// Authenticator issues and verifies the bearer tokens accepted by the emulator.
type Authenticator struct {
	secret   []byte
	expiry   time.Duration
	username string
	password string
}

// NewAuthenticator builds an Authenticator for a single demo account. An empty secret
// disables authentication.
func NewAuthenticator(secret string, expiry time.Duration, username, password string) *Authenticator {
	return &Authenticator{secret: []byte(secret), expiry: expiry, username: username, password: password}
}

// Enabled reports whether bearer tokens are required.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Login checks the account credentials and issues a signed token.
func (a *Authenticator) Login(username, password string) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}
	if username != a.username || password != a.password {
		return "", errors.New("incorrect username or password")
	}
	return a.issue(username)
}

func (a *Authenticator) issue(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if a.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses a token and returns its subject.
func (a *Authenticator) Validate(token string) (string, error) {
	if !a.Enabled() {
		return "", ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

type subjectKey struct{}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey{}).(string)
	return subject, ok
}

// Middleware rejects requests without a valid bearer token when authentication is
// enabled and passes everything through otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		subject, err := a.Validate(strings.TrimSpace(token))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}
