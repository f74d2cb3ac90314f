package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const tokenBytes = 16

type storedToken struct {
	value   string
	expires time.Time
}

// TokenStore issues one-time password reset tokens keyed by email.
// A new token for the same email replaces the old one.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]storedToken
	ttl    time.Duration
}

// NewTokenStore creates a store whose tokens expire after ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{
		tokens: make(map[string]storedToken),
		ttl:    ttl,
	}
}

// GenerateToken mints a fresh token for the email.
func (ts *TokenStore) GenerateToken(email string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tokens[email] = storedToken{
		value:   token,
		expires: time.Now().Add(ts.ttl),
	}
	return token, nil
}

// ConsumeToken validates and invalidates the token for the email.
// It returns false for unknown, mismatched, or expired tokens.
func (ts *TokenStore) ConsumeToken(email, token string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	stored, ok := ts.tokens[email]
	if !ok {
		return false
	}
	delete(ts.tokens, email)

	if time.Now().After(stored.expires) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored.value), []byte(token)) == 1
}
