// Package api implements the gateway's HTTP request surface: the
// authorization handshake, session lifecycle endpoints, and permission
// queries.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hubgate/hubgate/pkg/authstate"
	"github.com/hubgate/hubgate/pkg/gate"
	"github.com/hubgate/hubgate/pkg/httputil"
	"github.com/hubgate/hubgate/pkg/middleware"
	"github.com/hubgate/hubgate/pkg/observability"
	"github.com/hubgate/hubgate/pkg/permissions"
	"github.com/hubgate/hubgate/pkg/provider"
	"github.com/hubgate/hubgate/pkg/session"
)

// Handlers handles authentication and permission HTTP requests
type Handlers struct {
	sessions *session.Store
	states   *authstate.Store
	resolver *permissions.Resolver
	provider provider.Provider
	gate     *gate.Gate
	logger   *logrus.Logger
	metrics  *observability.Metrics

	// providerConfigured gates the handshake endpoints: without client
	// credentials they fail with a configuration error instead of a broken
	// redirect.
	providerConfigured bool
}

// NewHandlers creates the API handlers
func NewHandlers(
	sessions *session.Store,
	states *authstate.Store,
	resolver *permissions.Resolver,
	p provider.Provider,
	g *gate.Gate,
	logger *logrus.Logger,
	metrics *observability.Metrics,
	providerConfigured bool,
) *Handlers {
	return &Handlers{
		sessions:           sessions,
		states:             states,
		resolver:           resolver,
		provider:           p,
		gate:               g,
		logger:             logger,
		metrics:            metrics,
		providerConfigured: providerConfigured,
	}
}

// RegisterRoutes registers all routes on the router. The rate limiters are
// optional; when present the anonymous limiter guards the handshake routes
// and the session limiter runs after authentication, so it keys by the
// subject the auth middleware placed in the context.
func (h *Handlers) RegisterRoutes(router *mux.Router, limits *middleware.RateLimitMiddleware) {
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})

	public := router.NewRoute().Subrouter()
	if limits != nil {
		public.Use(limits.Handshake)
	}
	public.HandleFunc("/auth/login", h.login).Methods("GET")
	public.HandleFunc("/auth/callback", h.callback).Methods("GET")

	protected := router.NewRoute().Subrouter()
	protected.Use(h.gate.Middleware)
	if limits != nil {
		protected.Use(limits.Session)
	}
	protected.HandleFunc("/auth/me", h.me).Methods("GET")
	protected.HandleFunc("/auth/validate", h.validate).Methods("POST")
	protected.HandleFunc("/auth/logout", h.logout).Methods("POST")
	protected.HandleFunc("/auth/refresh", h.refresh).Methods("POST")
	protected.HandleFunc("/permissions/{owner}/{resource}", h.getPermission).Methods("GET")
	protected.HandleFunc("/permissions/{owner}/{resource}/can-action", h.canAction).Methods("POST")
	protected.HandleFunc("/permissions/{owner}/{resource}/require", h.requireAction).Methods("POST")
	protected.HandleFunc("/permissions/{owner}/{resource}/invalidate", h.invalidatePermission).Methods("POST")
}

// LoginResponse is returned by GET /auth/login
type LoginResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// login handles GET /auth/login: issues a state nonce and returns the
// provider redirect URL.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	if !h.providerConfigured {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "provider client credentials are not configured")
		return
	}

	state, err := h.states.Issue(r.URL.Query().Get("redirect_to"))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, LoginResponse{
		AuthorizeURL: h.provider.AuthorizeURL(state),
		State:        state,
	})
}

// SessionResponse is returned whenever a session token is issued
type SessionResponse struct {
	Token      string          `json:"token"`
	Subject    session.Subject `json:"subject"`
	Scopes     []string        `json:"scopes"`
	ExpiresAt  time.Time       `json:"expires_at"`
	RedirectTo string          `json:"redirect_to,omitempty"`
}

// callback handles GET /auth/callback: validates and consumes the state
// nonce, exchanges the code, fetches the identity, and creates a session.
// A handshake-phase provider failure aborts authentication; no session is
// created.
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	if !h.providerConfigured {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "provider client credentials are not configured")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		httputil.WriteBadRequest(w, "code and state parameters are required")
		return
	}

	redirectTo, ok := h.states.ValidateAndConsume(state)
	if !ok {
		httputil.WriteBadRequest(w, "invalid or expired state, restart the login flow")
		return
	}

	token, err := h.provider.ExchangeCode(r.Context(), code)
	if err != nil {
		h.providerCall("exchange_code", err)
		h.logger.WithError(err).Warn("code exchange failed")
		httputil.WriteUnauthorized(w, "authentication failed: code exchange rejected")
		return
	}
	h.providerCall("exchange_code", nil)

	identity, err := h.provider.GetIdentity(r.Context(), token.AccessToken)
	if err != nil {
		h.providerCall("get_identity", err)
		h.logger.WithError(err).Warn("identity fetch failed")
		httputil.WriteUnauthorized(w, "authentication failed: could not fetch identity")
		return
	}
	h.providerCall("get_identity", nil)

	sess, err := h.sessions.Create(subjectFromIdentity(identity), token.Scopes, token.AccessToken)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsIssuedTotal.Inc()
	}
	h.logger.WithFields(logrus.Fields{
		"subject": identity.Login,
		"expires": sess.ExpiresAt,
	}).Info("session created")

	httputil.WriteSuccess(w, SessionResponse{
		Token:      sess.Token,
		Subject:    sess.Subject,
		Scopes:     sess.Scopes,
		ExpiresAt:  sess.ExpiresAt,
		RedirectTo: redirectTo,
	})
}

// me handles GET /auth/me
func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)
	httputil.WriteSuccess(w, sess)
}

// validate handles POST /auth/validate: revalidates the provider credential
// and destroys the session when the provider no longer accepts it.
func (h *Handlers) validate(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)

	if !h.provider.ValidateToken(r.Context(), sess.AccessToken) {
		h.invalidateSession(sess)
		httputil.WriteUnauthorized(w, "provider no longer accepts the access token")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"valid":      true,
		"expires_at": sess.ExpiresAt,
	})
}

// logout handles POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)
	h.invalidateSession(sess)
	httputil.WriteNoContent(w)
}

// refresh handles POST /auth/refresh: revalidates the credential, then
// replaces the session wholesale. The swap is atomic in the store, so the
// old and new tokens are never valid at the same time.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)

	if !h.provider.ValidateToken(r.Context(), sess.AccessToken) {
		h.invalidateSession(sess)
		httputil.WriteUnauthorized(w, "provider no longer accepts the access token")
		return
	}

	fresh, err := h.sessions.Replace(sess.Token, sess.Subject, sess.Scopes, sess.AccessToken)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsIssuedTotal.Inc()
		h.metrics.SessionsInvalidatedTotal.Inc()
	}

	httputil.WriteSuccess(w, SessionResponse{
		Token:     fresh.Token,
		Subject:   fresh.Subject,
		Scopes:    fresh.Scopes,
		ExpiresAt: fresh.ExpiresAt,
	})
}

// PermissionResponse is returned by the permission endpoints
type PermissionResponse struct {
	Owner       string            `json:"owner"`
	Resource    string            `json:"resource"`
	Level       permissions.Level `json:"level"`
	Role        string            `json:"role"`
	CachedAt    time.Time         `json:"cached_at"`
	CanRead     bool              `json:"can_read"`
	CanWrite    bool              `json:"can_write"`
	CanMaintain bool              `json:"can_maintain"`
	CanAdmin    bool              `json:"can_admin"`
}

// getPermission handles GET /permissions/{owner}/{resource}
func (h *Handlers) getPermission(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)
	vars := mux.Vars(r)
	forceRefresh := httputil.QueryBool(r, "refresh")

	entry := h.resolver.Resolve(r.Context(), sess.AccessToken, sess.Subject.ID, sess.Subject.Login,
		vars["owner"], vars["resource"], forceRefresh)

	httputil.WriteSuccess(w, permissionResponseFrom(entry))
}

// CanActionRequest is the body of POST .../can-action
type CanActionRequest struct {
	Action string `json:"action"`
}

// CanActionResponse is the decision for one action
type CanActionResponse struct {
	Action  string            `json:"action"`
	Allowed bool              `json:"allowed"`
	Level   permissions.Level `json:"level"`
	Role    string            `json:"role"`
}

// canAction handles POST /permissions/{owner}/{resource}/can-action
func (h *Handlers) canAction(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)
	vars := mux.Vars(r)

	var req CanActionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	required, err := permissions.ParseAction(req.Action)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entry := h.resolver.Resolve(r.Context(), sess.AccessToken, sess.Subject.ID, sess.Subject.Login,
		vars["owner"], vars["resource"], false)

	httputil.WriteSuccess(w, CanActionResponse{
		Action:  req.Action,
		Allowed: permissions.CanPerform(entry.Level, required),
		Level:   entry.Level,
		Role:    entry.Role,
	})
}

// requireAction handles POST /permissions/{owner}/{resource}/require: it
// enforces the action instead of reporting on it. Allowed requests get 204;
// denied ones get 403 with the required and resolved levels in the body.
func (h *Handlers) requireAction(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)
	vars := mux.Vars(r)

	var req CanActionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	required, err := permissions.ParseAction(req.Action)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if _, err := h.gate.Authorize(r.Context(), sess, vars["owner"], vars["resource"], required); err != nil {
		var forbidden *gate.ForbiddenError
		if errors.As(err, &forbidden) {
			httputil.WriteDetailedError(w, http.StatusForbidden, forbidden.Error(), map[string]string{
				"required": forbidden.Required.String(),
				"actual":   forbidden.Actual.String(),
				"role":     forbidden.Role,
			})
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// invalidatePermission handles POST /permissions/{owner}/{resource}/invalidate.
// Invalidating an absent pair is a no-op, not an error.
func (h *Handlers) invalidatePermission(w http.ResponseWriter, r *http.Request) {
	sess := gate.SessionFromRequest(r)
	vars := mux.Vars(r)

	h.resolver.Cache().Invalidate(sess.Subject.ID, vars["owner"], vars["resource"])
	httputil.WriteNoContent(w)
}

// invalidateSession removes the session and drops the cached provider
// identity so a replayed credential is re-checked upstream.
func (h *Handlers) invalidateSession(sess *session.Session) {
	h.sessions.Invalidate(sess.Token)
	if h.metrics != nil {
		h.metrics.SessionsInvalidatedTotal.Inc()
	}
	if inv, ok := h.provider.(interface{ InvalidateIdentity(string) }); ok {
		inv.InvalidateIdentity(sess.AccessToken)
	}
}

// providerCall records a provider call outcome in metrics
func (h *Handlers) providerCall(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.metrics.ProviderCallsTotal.WithLabelValues(operation, outcome).Inc()
}

func subjectFromIdentity(identity *provider.Identity) session.Subject {
	return session.Subject{
		ID:        identity.ID,
		Login:     identity.Login,
		Name:      identity.Name,
		Email:     identity.Email,
		AvatarURL: identity.AvatarURL,
	}
}

func permissionResponseFrom(entry *permissions.Entry) PermissionResponse {
	return PermissionResponse{
		Owner:       entry.Owner,
		Resource:    entry.Resource,
		Level:       entry.Level,
		Role:        entry.Role,
		CachedAt:    entry.CachedAt,
		CanRead:     permissions.CanPerform(entry.Level, permissions.LevelRead),
		CanWrite:    permissions.CanPerform(entry.Level, permissions.LevelWrite),
		CanMaintain: permissions.CanPerform(entry.Level, permissions.LevelMaintain),
		CanAdmin:    permissions.CanPerform(entry.Level, permissions.LevelAdmin),
	}
}
