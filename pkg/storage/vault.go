// Package storage holds the token vault backing the local gateway emulator.
package storage

import (
	"context"
	"errors"
)

// ErrTokenNotFound is returned when a token was never issued under the given policy.
var ErrTokenNotFound = errors.New("token not found")

// TokenVault manages the storage and retrieval of protected values.
type TokenVault interface {
	// Tokenize stores the sensitive value under policy and returns its token.
	// Tokenizing the same value under the same policy yields the same token.
	Tokenize(ctx context.Context, value string, policy string) (string, error)

	// Detokenize retrieves the original value for a token issued under policy.
	Detokenize(ctx context.Context, token string, policy string) (string, error)

	// Len reports how many tokens have been issued.
	Len() int
}
