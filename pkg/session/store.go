package session

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is the session lifetime applied when a store is created with a
// non-positive TTL.
const DefaultTTL = 24 * time.Hour

// Subject identifies the authenticated principal behind a session
type Subject struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Session holds the server-side state for an authenticated session
type Session struct {
	Token       string    `json:"-"`
	Subject     Subject   `json:"subject"`
	Scopes      []string  `json:"scopes"`
	AccessToken string    `json:"-"` // provider credential, held in memory only
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry time
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// clone returns a fully detached copy: mutating the copy, including its
// Scopes slice, never reaches the stored session.
func (s *Session) clone() *Session {
	dup := *s
	dup.Scopes = append([]string(nil), s.Scopes...)
	return &dup
}

// Stats holds session store statistics for observability
type Stats struct {
	ActiveCount  int `json:"active_count"`
	CapacityHint int `json:"capacity_hint"`
}

// Store holds active sessions keyed by their opaque token. All operations are
// safe for concurrent use. Expired sessions are treated as absent on read
// (lazy expiry); SweepExpired reclaims the rest on a schedule.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	ttl          time.Duration
	capacityHint int
}

// NewStore creates a session store with the given session lifetime
func NewStore(ttl time.Duration, capacityHint int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions:     make(map[string]*Session),
		ttl:          ttl,
		capacityHint: capacityHint,
	}
}

// Create issues a fresh opaque token for the given subject and stores the
// session. The returned session carries the token and expiry.
func (s *Store) Create(subject Subject, scopes []string, accessToken string) (*Session, error) {
	sess, err := s.newSession(subject, scopes, accessToken)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	return sess.clone(), nil
}

// Replace issues a new session for the subject and removes the old token
// under one lock: at no point are both tokens valid.
func (s *Store) Replace(oldToken string, subject Subject, scopes []string, accessToken string) (*Session, error) {
	sess, err := s.newSession(subject, scopes, accessToken)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.sessions, oldToken)
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	return sess.clone(), nil
}

func (s *Store) newSession(subject Subject, scopes []string, accessToken string) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	return &Session{
		Token:       token,
		Subject:     subject,
		Scopes:      append([]string(nil), scopes...),
		AccessToken: accessToken,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	}, nil
}

// Get returns the session for the token if it exists and has not expired.
// An expired session is removed as a side effect and reported as absent, so
// correctness does not depend on the background sweep.
func (s *Store) Get(token string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, false
	}
	if sess.Expired(time.Now()) {
		delete(s.sessions, token)
		return nil, false
	}

	return sess.clone(), true
}

// Invalidate removes the session for the token. Removing an absent token is
// a no-op.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// SweepExpired removes every expired session and returns the count removed
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Stats returns session store statistics
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ActiveCount:  len(s.sessions),
		CapacityHint: s.capacityHint,
	}
}
