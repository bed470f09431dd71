package gate

import (
	"net/http"
	"strconv"

	"github.com/hubgate/hubgate/pkg/contextkeys"
	"github.com/hubgate/hubgate/pkg/httputil"
	"github.com/hubgate/hubgate/pkg/session"
)

// Middleware wraps a handler with session authentication. Requests without a
// valid session are rejected with 401 before the handler runs; otherwise the
// session is placed in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := g.Authenticate(r)
		if err != nil {
			httputil.WriteUnauthorized(w, "missing or invalid session token")
			return
		}

		ctx := contextkeys.WithSession(r.Context(), sess)
		ctx = contextkeys.WithSubjectID(ctx, strconv.FormatInt(sess.Subject.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromRequest retrieves the authenticated session placed in the
// request context by Middleware. Returns nil when the request did not pass
// through it.
func SessionFromRequest(r *http.Request) *session.Session {
	v := r.Context().Value(contextkeys.SessionKey)
	if v == nil {
		return nil
	}
	sess, ok := v.(*session.Session)
	if !ok {
		return nil
	}
	return sess
}
