package gateway

import (
	"context"
	"os"
	"strings"
)

// CredentialSource supplies the opaque bearer credential attached to gateway calls.
// The client never inspects the value; an empty credential means no Authorization header.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a fixed bearer token.
type StaticCredential string

// Credential returns the token.
func (c StaticCredential) Credential(context.Context) (string, error) {
	return strings.TrimSpace(string(c)), nil
}

// EnvCredential reads the bearer token from the named environment variable on every call,
// so a refreshed token is picked up by the next request.
type EnvCredential string

// Credential returns the current value of the environment variable.
func (c EnvCredential) Credential(context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(string(c))), nil
}
