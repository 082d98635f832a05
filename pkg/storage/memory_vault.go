package storage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// maxNumericAttempts bounds the search for an unused digit token before falling back
// to an opaque token. Short inputs such as "001" have a small token space.
const maxNumericAttempts = 32

type vaultKey struct {
	policy string
	value  string
}

// MemoryTokenVault is an in-memory implementation of TokenVault. All-digit values get
// tokens of the same length so that protected data keeps its shape.
type MemoryTokenVault struct {
	mu      sync.RWMutex
	tokens  map[vaultKey]string // (policy, token) -> original value
	reverse map[vaultKey]string // (policy, value) -> token
}

// NewMemoryTokenVault creates a new in-memory token vault.
func NewMemoryTokenVault() *MemoryTokenVault {
	return &MemoryTokenVault{
		tokens:  make(map[vaultKey]string),
		reverse: make(map[vaultKey]string),
	}
}

// Tokenize stores the sensitive value and returns a token scoped to policy.
func (v *MemoryTokenVault) Tokenize(_ context.Context, value string, policy string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if token, ok := v.reverse[vaultKey{policy: policy, value: value}]; ok {
		return token, nil
	}

	token := v.newToken(value, policy)
	v.tokens[vaultKey{policy: policy, value: token}] = value
	v.reverse[vaultKey{policy: policy, value: value}] = token
	return token, nil
}

// Detokenize retrieves the original sensitive value for a given token.
func (v *MemoryTokenVault) Detokenize(_ context.Context, token string, policy string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	value, ok := v.tokens[vaultKey{policy: policy, value: token}]
	if !ok {
		return "", fmt.Errorf("%w: policy %s", ErrTokenNotFound, policy)
	}
	return value, nil
}

// Len reports how many tokens have been issued across all policies.
func (v *MemoryTokenVault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.tokens)
}

// newToken must be called with the write lock held.
func (v *MemoryTokenVault) newToken(value, policy string) string {
	if isDigits(value) {
		for range maxNumericAttempts {
			candidate := randomDigits(len(value))
			if candidate == value {
				continue
			}
			if _, taken := v.tokens[vaultKey{policy: policy, value: candidate}]; !taken {
				return candidate
			}
		}
	}
	return fmt.Sprintf("[TOKEN::%s]", uuid.New().String())
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func randomDigits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + rand.IntN(10)) //nolint:gosec // tokens from the emulator are not secrets
	}
	return string(b)
}
