package model

import "context"

// Session is the injected session capability. Every component that talks to
// the backend receives one instead of reaching into ambient storage.
type Session interface {
	// Token returns the bearer token and true, or "" and false when no token
	// is held. Absence is a valid state: requests are sent without the header.
	Token() (string, bool)

	// Invalidate tears the session down after a 401: the token is cleared and
	// the redirect-to-login side effect fires. It is safe to call repeatedly.
	Invalidate(ctx context.Context)
}

// RequestContext carries identity and tracing information for one API call
// against a workspace. It is immutable after construction.
type RequestContext struct {
	SubjectID     string
	WorkspaceID   string
	CorrelationID string
	TraceID       string
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
