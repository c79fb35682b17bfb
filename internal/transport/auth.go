package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/session"
	"github.com/pitabwire/portdesk/model"
)

type tokenKey struct{}

// TokenFrom returns the bearer token of the current request, or "".
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
// Any other scheme counts as no token.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// Authenticate stores the bearer token in the context and builds the
// RequestContext from its unverified claims. The backend verifies the token
// on every call it receives; a request without one is forwarded as is.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		claims, _ := session.PeekClaims(token)

		ctx := context.WithValue(r.Context(), tokenKey{}, token)
		rctx := &model.RequestContext{
			SubjectID:     claims.Subject,
			CorrelationID: CorrelationIDFrom(ctx),
			TraceID:       observability.TraceIDFromContext(ctx),
		}
		ctx = model.WithRequestContext(ctx, rctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
