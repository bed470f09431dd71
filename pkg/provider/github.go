package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL    = "https://github.com/login/oauth/authorize"
	defaultTokenURL   = "https://github.com/login/oauth/access_token"
	defaultAPIBaseURL = "https://api.github.com"

	// DefaultTimeout bounds every provider call
	DefaultTimeout = 10 * time.Second

	// identityCacheSize and identityCacheTTL bound the token->identity cache
	// in front of GetIdentity/ValidateToken, so validate polling does not
	// hammer the upstream. True LRU is fine here: entries are pure lookups
	// with no eviction-order invariant.
	identityCacheSize = 1024
	identityCacheTTL  = time.Minute
)

// Config holds GitHub provider configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// AuthURL, TokenURL and APIBaseURL are overridable for tests and GitHub
	// Enterprise deployments.
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	Timeout time.Duration
}

// Configured reports whether client credentials are present
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// GitHubClient implements Provider against the GitHub OAuth and REST APIs
type GitHubClient struct {
	oauth      *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
	timeout    time.Duration
	identities *lru.LRU[string, *Identity]
}

// NewGitHubClient creates a GitHub provider client
func NewGitHubClient(cfg Config) *GitHubClient {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	apiBaseURL := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &GitHubClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
		},
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		identities: lru.NewLRU[string, *Identity](identityCacheSize, nil, identityCacheTTL),
	}
}

// AuthorizeURL returns the GitHub authorization URL bound to the state nonce
func (c *GitHubClient) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token
func (c *GitHubClient) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		if retrieveErr, ok := err.(*oauth2.RetrieveError); ok && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, ErrInvalidCode
	}

	var scopes []string
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	}

	return &Token{AccessToken: token.AccessToken, Scopes: scopes}, nil
}

// GetIdentity fetches the identity behind an access token, serving repeat
// lookups from the short-TTL identity cache.
func (c *GitHubClient) GetIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	if identity, ok := c.identities.Get(accessToken); ok {
		return identity, nil
	}

	var identity Identity
	status, err := c.apiGet(ctx, "/user", accessToken, &identity)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("identity request failed with status %d", status)
	}

	c.identities.Add(accessToken, &identity)
	return &identity, nil
}

// permissionResponse mirrors the GitHub collaborator permission payload. The
// legacy permission field only knows admin/write/read/none; role_name carries
// the finer-grained maintain role when present.
type permissionResponse struct {
	Permission string `json:"permission"`
	RoleName   string `json:"role_name"`
}

// GetPermission returns the permission label the subject holds on the resource
func (c *GitHubClient) GetPermission(ctx context.Context, accessToken, owner, resource, login string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s/permission", owner, resource, login)

	var perm permissionResponse
	status, err := c.apiGet(ctx, path, accessToken, &perm)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("permission request failed with status %d", status)
	}

	switch perm.RoleName {
	case "admin", "maintain", "write", "read", "none":
		return perm.RoleName, nil
	}
	return perm.Permission, nil
}

// ValidateToken reports whether an access token is still accepted. On a
// positive cache hit this costs nothing; otherwise it is one identity call.
func (c *GitHubClient) ValidateToken(ctx context.Context, accessToken string) bool {
	_, err := c.GetIdentity(ctx, accessToken)
	return err == nil
}

// InvalidateIdentity drops a token from the identity cache, forcing the next
// validation to hit the provider. Used after logout and refresh.
func (c *GitHubClient) InvalidateIdentity(accessToken string) {
	c.identities.Remove(accessToken)
}

// apiGet performs an authenticated GET against the REST API and decodes a
// 2xx JSON body into out. Returns the status code for non-2xx responses with
// a nil error so callers can branch on status.
func (c *GitHubClient) apiGet(ctx context.Context, path, accessToken string, out interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
