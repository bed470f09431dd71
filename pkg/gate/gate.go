// Package gate is the request-facing access control contract: it
// authenticates bearer tokens against the session store, resolves permission
// levels through the resolver, and enforces the level hierarchy.
//
// Per request the progression is Unauthenticated -> Authenticated ->
// Authorized or Forbidden; there is no other path to an allow.
package gate

import (
	"context"
	"net/http"

	"github.com/hubgate/hubgate/pkg/httputil"
	"github.com/hubgate/hubgate/pkg/permissions"
	"github.com/hubgate/hubgate/pkg/session"
)

// Gate authenticates requests and enforces permission levels
type Gate struct {
	sessions *session.Store
	resolver *permissions.Resolver
}

// New creates an access control gate
func New(sessions *session.Store, resolver *permissions.Resolver) *Gate {
	return &Gate{sessions: sessions, resolver: resolver}
}

// Authenticate extracts the bearer token and looks up its session. A
// missing, unknown, or expired token yields ErrUnauthenticated.
func (g *Gate) Authenticate(r *http.Request) (*session.Session, error) {
	token := httputil.BearerToken(r)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	sess, ok := g.sessions.Get(token)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return sess, nil
}

// Authorize resolves the session subject's level on the resource and compares
// it to the required level. Below the required rank it returns a
// ForbiddenError carrying the resolved level and role; the resolved entry is
// returned in both cases for diagnostics.
func (g *Gate) Authorize(ctx context.Context, sess *session.Session, owner, resource string, required permissions.Level) (*permissions.Entry, error) {
	entry := g.resolver.Resolve(ctx, sess.AccessToken, sess.Subject.ID, sess.Subject.Login, owner, resource, false)
	if !permissions.CanPerform(entry.Level, required) {
		return entry, &ForbiddenError{
			Required: required,
			Actual:   entry.Level,
			Role:     entry.Role,
		}
	}
	return entry, nil
}
