// Package authstate implements the short-lived CSRF state store protecting
// the authorization handshake. A nonce issued at login initiation must come
// back on the callback within the validity window, and is consumed on first
// use: a callback that fails after validation still requires a fresh login.
package authstate

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// TTL is the validity window for a state nonce
const TTL = 10 * time.Minute

type record struct {
	createdAt    time.Time
	redirectHint string
}

// Store holds pending authorization state nonces. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	states map[string]record
}

// NewStore creates an empty state store
func NewStore() *Store {
	return &Store{states: make(map[string]record)}
}

// Issue creates a new state nonce with an optional redirect hint to restore
// after the callback completes.
func (s *Store) Issue(redirectHint string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.states[nonce] = record{createdAt: time.Now(), redirectHint: redirectHint}
	s.mu.Unlock()

	return nonce, nil
}

// ValidateAndConsume checks the nonce and removes it in the same critical
// section, returning its redirect hint. The hint is captured before the
// delete so the record is never read after consumption. Returns false for an
// absent, expired, or already-consumed nonce.
func (s *Store) ValidateAndConsume(nonce string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.states[nonce]
	if !ok {
		return "", false
	}
	if time.Since(rec.createdAt) > TTL {
		delete(s.states, nonce)
		return "", false
	}

	hint := rec.redirectHint
	delete(s.states, nonce)
	return hint, true
}

// SweepExpired removes nonces that were issued but never consumed and have
// passed the validity window. Returns the count removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for nonce, rec := range s.states {
		if now.Sub(rec.createdAt) > TTL {
			delete(s.states, nonce)
			removed++
		}
	}
	return removed
}

// Len returns the number of pending nonces
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
