package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubgate/hubgate/pkg/authstate"
	"github.com/hubgate/hubgate/pkg/gate"
	"github.com/hubgate/hubgate/pkg/middleware"
	"github.com/hubgate/hubgate/pkg/permissions"
	"github.com/hubgate/hubgate/pkg/provider"
	"github.com/hubgate/hubgate/pkg/session"
)

// fakeProvider is an in-memory provider for handler tests
type fakeProvider struct {
	codes       map[string]*provider.Token
	identities  map[string]*provider.Identity
	permissions map[string]string
	permErr     error
	revoked     map[string]bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		codes: map[string]*provider.Token{
			"good-code": {AccessToken: "gho_tok", Scopes: []string{"read:org"}},
		},
		identities: map[string]*provider.Identity{
			"gho_tok": {ID: 42, Login: "octocat", Name: "The Octocat"},
		},
		permissions: map[string]string{"octo-org/widgets": "write"},
		revoked:     map[string]bool{},
	}
}

func (f *fakeProvider) AuthorizeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*provider.Token, error) {
	token, ok := f.codes[code]
	if !ok {
		return nil, provider.ErrInvalidCode
	}
	return token, nil
}

func (f *fakeProvider) GetIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	if f.revoked[accessToken] {
		return nil, provider.ErrInvalidToken
	}
	identity, ok := f.identities[accessToken]
	if !ok {
		return nil, provider.ErrInvalidToken
	}
	return identity, nil
}

func (f *fakeProvider) GetPermission(ctx context.Context, accessToken, owner, resource, login string) (string, error) {
	if f.permErr != nil {
		return "", f.permErr
	}
	return f.permissions[owner+"/"+resource], nil
}

func (f *fakeProvider) ValidateToken(ctx context.Context, accessToken string) bool {
	_, err := f.GetIdentity(ctx, accessToken)
	return err == nil
}

type testEnv struct {
	router   *mux.Router
	provider *fakeProvider
	sessions *session.Store
	states   *authstate.Store
	cache    *permissions.Cache
}

func newTestEnv(t *testing.T, configured bool) *testEnv {
	return newTestEnvWithLimits(t, configured, nil)
}

func newTestEnvWithLimits(t *testing.T, configured bool, limits *middleware.RateLimitMiddleware) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fake := newFakeProvider()
	sessions := session.NewStore(time.Hour, 0)
	states := authstate.NewStore()
	cache := permissions.NewCache(100, time.Minute)
	resolver := permissions.NewResolver(cache, fake, logger, nil)
	g := gate.New(sessions, resolver)

	handlers := NewHandlers(sessions, states, resolver, fake, g, logger, nil, configured)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router, limits)

	return &testEnv{router: router, provider: fake, sessions: sessions, states: states, cache: cache}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

// authenticate runs the full handshake and returns the session token
func (e *testEnv) authenticate(t *testing.T) string {
	t.Helper()
	w := e.do(http.MethodGet, "/auth/login", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&login))

	w = e.do(http.MethodGet, "/auth/callback?code=good-code&state="+login.State, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess SessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sess))
	return sess.Token
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodGet, "/auth/login?redirect_to=/dashboard", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.State)
	assert.Equal(t, "https://provider.example/authorize?state="+resp.State, resp.AuthorizeURL)
	assert.Equal(t, 1, env.states.Len())
}

func TestLoginProviderNotConfigured(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/auth/login", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = env.do(http.MethodGet, "/auth/callback?code=x&state=y", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCallbackFullHandshake(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodGet, "/auth/login?redirect_to=/dashboard", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&login))

	w = env.do(http.MethodGet, "/auth/callback?code=good-code&state="+login.State, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sess SessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sess))
	assert.Len(t, sess.Token, session.TokenLength)
	assert.Equal(t, "octocat", sess.Subject.Login)
	assert.Equal(t, []string{"read:org"}, sess.Scopes)
	assert.Equal(t, "/dashboard", sess.RedirectTo)

	// The issued token authenticates subsequent requests.
	w = env.do(http.MethodGet, "/auth/me", sess.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallbackMissingParams(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{
		"/auth/callback",
		"/auth/callback?code=good-code",
		"/auth/callback?state=something",
	} {
		w := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "path %s", path)
	}
}

func TestCallbackStateReplayRejected(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodGet, "/auth/login", "", nil)
	var login LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&login))

	w = env.do(http.MethodGet, "/auth/callback?code=good-code&state="+login.State, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Same state again: rejected, no second session issued.
	w = env.do(http.MethodGet, "/auth/callback?code=good-code&state="+login.State, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, env.sessions.Stats().ActiveCount)
}

func TestCallbackForgedState(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(http.MethodGet, "/auth/callback?code=good-code&state=forged", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackBadCodeConsumesState(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodGet, "/auth/login", "", nil)
	var login LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&login))

	w = env.do(http.MethodGet, "/auth/callback?code=bad-code&state="+login.State, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The nonce was consumed before the exchange; retrying it fails too.
	w = env.do(http.MethodGet, "/auth/callback?code=good-code&state="+login.State, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.sessions.Stats().ActiveCount)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	var sess session.Session
	require.NoError(t, json.NewDecoder(strings.NewReader(body)).Decode(&sess))
	assert.Equal(t, int64(42), sess.Subject.ID)

	// The opaque token and provider credential never appear in the body.
	assert.NotContains(t, body, token)
	assert.NotContains(t, body, "gho_tok")
}

func TestMeUnauthenticated(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodPost, "/auth/validate", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, true, resp["valid"])
}

func TestValidateRevokedTokenDestroysSession(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	env.provider.revoked["gho_tok"] = true

	w := env.do(http.MethodPost, "/auth/validate", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The session is gone: the token no longer authenticates at all.
	w = env.do(http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Logging out again with the dead token is just unauthorized.
	w = env.do(http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodPost, "/auth/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEqual(t, token, resp.Token)

	// Old token is dead, new one works.
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/auth/me", token, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/auth/me", resp.Token, nil).Code)
}

func TestRefreshRevokedToken(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	env.provider.revoked["gho_tok"] = true

	w := env.do(http.MethodPost, "/auth/refresh", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, env.sessions.Stats().ActiveCount)
}

func TestGetPermission(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodGet, "/permissions/octo-org/widgets", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PermissionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "octo-org", resp.Owner)
	assert.Equal(t, "widgets", resp.Resource)
	assert.Equal(t, "Collaborator", resp.Role)
	assert.True(t, resp.CanRead)
	assert.True(t, resp.CanWrite)
	assert.False(t, resp.CanMaintain)
	assert.False(t, resp.CanAdmin)
}

func TestGetPermissionForceRefresh(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodGet, "/permissions/octo-org/widgets", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.provider.permissions["octo-org/widgets"] = "admin"

	// Without refresh the cached level is served.
	var resp PermissionResponse
	w = env.do(http.MethodGet, "/permissions/octo-org/widgets", token, nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.CanAdmin)

	w = env.do(http.MethodGet, "/permissions/octo-org/widgets?refresh=true", token, nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.CanAdmin)
}

func TestGetPermissionProviderFailure(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	env.provider.permErr = context.DeadlineExceeded

	w := env.do(http.MethodGet, "/permissions/octo-org/widgets", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PermissionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Denied", resp.Role)
	assert.False(t, resp.CanRead)
}

func TestCanAction(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	tests := []struct {
		action  string
		allowed bool
	}{
		{"read", true},
		{"write", true},
		{"maintain", false},
		{"admin", false},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			w := env.do(http.MethodPost, "/permissions/octo-org/widgets/can-action", token,
				CanActionRequest{Action: tt.action})
			require.Equal(t, http.StatusOK, w.Code)

			var resp CanActionResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.action, resp.Action)
			assert.Equal(t, tt.allowed, resp.Allowed)
		})
	}
}

func TestCanActionBadRequest(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodPost, "/permissions/octo-org/widgets/can-action", token,
		CanActionRequest{Action: "none"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/permissions/octo-org/widgets/can-action", token,
		CanActionRequest{Action: "deploy"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/permissions/octo-org/widgets/can-action", token,
		map[string]string{"verb": "read"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireAction(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	// Held level is write on octo-org/widgets.
	w := env.do(http.MethodPost, "/permissions/octo-org/widgets/require", token,
		CanActionRequest{Action: "write"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodPost, "/permissions/octo-org/widgets/require", token,
		CanActionRequest{Action: "admin"})
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "admin", resp.Details["required"])
	assert.Equal(t, "write", resp.Details["actual"])
	assert.Equal(t, "Collaborator", resp.Details["role"])
}

func TestRequireActionBadRequest(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodPost, "/permissions/octo-org/widgets/require", token,
		CanActionRequest{Action: "none"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodGet, "/no/such/route", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.NotEmpty(t, body["error"])
}

// Authenticated traffic must run on the per-subject limiter, not the tight
// per-IP handshake limiter, with the full production route wiring in place.
func TestAuthenticatedTrafficNotHandshakeLimited(t *testing.T) {
	env := newTestEnvWithLimits(t, true, middleware.NewRateLimitMiddleware())
	token := env.authenticate(t)

	// Well past the handshake cap of 35 per IP; every request still passes.
	for i := 0; i < 50; i++ {
		w := env.do(http.MethodGet, "/auth/me", token, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d throttled", i)
	}
}

func TestHandshakeTrafficIsIPLimited(t *testing.T) {
	env := newTestEnvWithLimits(t, true, middleware.NewRateLimitMiddleware())

	// httptest requests all share one RemoteAddr, exhausting one IP bucket.
	limited := false
	for i := 0; i < 40; i++ {
		w := env.do(http.MethodGet, "/auth/login", "", nil)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.True(t, limited, "handshake endpoint never rate limited a single IP")
}

func TestInvalidatePermission(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.authenticate(t)

	w := env.do(http.MethodGet, "/permissions/octo-org/widgets", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, env.cache.Stats().Size)

	w = env.do(http.MethodPost, "/permissions/octo-org/widgets/invalidate", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, env.cache.Stats().Size)

	// Invalidating an absent pair still succeeds.
	w = env.do(http.MethodPost, "/permissions/octo-org/widgets/invalidate", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
