// Package provider defines the identity/permission provider contract the
// gateway depends on, plus the GitHub implementation of it.
//
// The gateway never stores roles itself: every permission decision is
// ultimately derived from GetPermission, cached upstream of this package.
// Provider failures are surfaced as errors here; callers are responsible for
// collapsing them to the least-privileged outcome.
package provider

import (
	"context"
	"errors"
)

// ErrInvalidCode is returned when the authorization code exchange is rejected
var ErrInvalidCode = errors.New("invalid authorization code")

// ErrInvalidToken is returned when the provider rejects an access token
var ErrInvalidToken = errors.New("invalid access token")

// Token is the credential obtained from a successful code exchange
type Token struct {
	AccessToken string
	Scopes      []string
}

// Identity describes the authenticated principal as reported by the provider
type Identity struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Provider is the outbound contract to the identity/permission provider.
// Implementations must bound every call with a timeout; a timed-out call is
// indistinguishable from any other failure to callers.
type Provider interface {
	// AuthorizeURL returns the provider URL to redirect the user to for the
	// authorization handshake, bound to the given state nonce.
	AuthorizeURL(state string) string

	// ExchangeCode trades an authorization code for an access token.
	// Fails with ErrInvalidCode when the provider rejects the code.
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	// GetIdentity fetches the identity behind an access token.
	// Fails with ErrInvalidToken when the token is rejected.
	GetIdentity(ctx context.Context, accessToken string) (*Identity, error)

	// GetPermission returns the permission label the subject holds on the
	// resource: one of admin, maintain, write, read, none. Any failure
	// (network, 404, rate limit) must be treated as none by the caller.
	GetPermission(ctx context.Context, accessToken, owner, resource, login string) (string, error)

	// ValidateToken reports whether an access token is still accepted by the
	// provider. Implemented as a lightweight identity call.
	ValidateToken(ctx context.Context, accessToken string) bool
}
