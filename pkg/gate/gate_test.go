package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hubgate/hubgate/pkg/permissions"
	"github.com/hubgate/hubgate/pkg/provider"
	"github.com/hubgate/hubgate/pkg/session"
)

type stubProvider struct {
	label string
	err   error
}

func (s *stubProvider) AuthorizeURL(state string) string { return "https://example.com/auth" }

func (s *stubProvider) ExchangeCode(ctx context.Context, code string) (*provider.Token, error) {
	return nil, provider.ErrInvalidCode
}

func (s *stubProvider) GetIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	return nil, provider.ErrInvalidToken
}

func (s *stubProvider) GetPermission(ctx context.Context, accessToken, owner, resource, login string) (string, error) {
	return s.label, s.err
}

func (s *stubProvider) ValidateToken(ctx context.Context, accessToken string) bool {
	return s.err == nil
}

func newTestGate(t *testing.T, p provider.Provider) (*Gate, *session.Store) {
	t.Helper()
	sessions := session.NewStore(time.Hour, 0)
	resolver := permissions.NewResolver(permissions.NewCache(100, time.Minute), p, nil, nil)
	return New(sessions, resolver), sessions
}

func TestAuthenticate(t *testing.T) {
	g, sessions := newTestGate(t, &stubProvider{label: "read"})
	sess, err := sessions.Create(session.Subject{ID: 7, Login: "octocat"}, nil, "gho_tok")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"valid token", "Bearer " + sess.Token, true},
		{"lowercase scheme", "bearer " + sess.Token, true},
		{"missing header", "", false},
		{"wrong scheme", "Basic " + sess.Token, false},
		{"unknown token", "Bearer nosuchtokennosuchtokennosuchtok", false},
		{"bare token without scheme", sess.Token, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := g.Authenticate(r)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Authenticate() error = %v", err)
				}
				if got.Subject.Login != "octocat" {
					t.Errorf("subject = %q, want octocat", got.Subject.Login)
				}
				return
			}
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("Authenticate() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	sessions := session.NewStore(5*time.Millisecond, 0)
	resolver := permissions.NewResolver(permissions.NewCache(10, time.Minute), &stubProvider{}, nil, nil)
	g := New(sessions, resolver)

	sess, err := sessions.Create(session.Subject{ID: 7, Login: "octocat"}, nil, "tok")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+sess.Token)
	if _, err := g.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Authenticate() on expired session error = %v, want ErrUnauthenticated", err)
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		label    string
		required permissions.Level
		wantErr  bool
	}{
		{"admin allows admin", "admin", permissions.LevelAdmin, false},
		{"admin allows read", "admin", permissions.LevelRead, false},
		{"write allows write", "write", permissions.LevelWrite, false},
		{"write denies maintain", "write", permissions.LevelMaintain, true},
		{"read denies write", "read", permissions.LevelWrite, true},
		{"none denies read", "none", permissions.LevelRead, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, sessions := newTestGate(t, &stubProvider{label: tt.label})
			sess, err := sessions.Create(session.Subject{ID: 7, Login: "octocat"}, nil, "tok")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			entry, err := g.Authorize(context.Background(), sess, "org", "repo", tt.required)
			if entry == nil {
				t.Fatal("Authorize() returned a nil entry")
			}
			if tt.wantErr {
				var forbidden *ForbiddenError
				if !errors.As(err, &forbidden) {
					t.Fatalf("Authorize() error = %v, want ForbiddenError", err)
				}
				if forbidden.Required != tt.required {
					t.Errorf("required = %v, want %v", forbidden.Required, tt.required)
				}
				if forbidden.Actual != permissions.ParseLevel(tt.label) {
					t.Errorf("actual = %v, want %v", forbidden.Actual, permissions.ParseLevel(tt.label))
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
		})
	}
}

func TestAuthorizeProviderFailureForbids(t *testing.T) {
	g, sessions := newTestGate(t, &stubProvider{err: errors.New("boom")})
	sess, err := sessions.Create(session.Subject{ID: 7, Login: "octocat"}, nil, "tok")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = g.Authorize(context.Background(), sess, "org", "repo", permissions.LevelRead)
	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("Authorize() error = %v, want ForbiddenError", err)
	}
	if forbidden.Actual != permissions.LevelNone {
		t.Errorf("actual = %v, want LevelNone", forbidden.Actual)
	}
	if forbidden.Role != "Denied" {
		t.Errorf("role = %q, want Denied", forbidden.Role)
	}
}

func TestMiddleware(t *testing.T) {
	g, sessions := newTestGate(t, &stubProvider{label: "read"})
	sess, err := sessions.Create(session.Subject{ID: 7, Login: "octocat"}, nil, "tok")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var seen *session.Session
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+sess.Token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen == nil || seen.Subject.ID != 7 {
		t.Error("session was not placed in the request context")
	}

	// No token: handler must not run.
	seen = nil
	r = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if seen != nil {
		t.Error("handler ran without authentication")
	}
}
