// Package session holds the bearer token a workspace uses to talk to the
// backend and runs the teardown hooks when the backend rejects it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/observability"
)

// Claims are the unverified claims peeked from a JWT bearer token. The
// backend is the authority on validity; these are used only to namespace
// drafts and enrich logs.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// PeekClaims extracts the subject and expiry from a JWT without verifying
// its signature. Opaque (non-JWT) tokens yield empty claims and ok=false.
func PeekClaims(token string) (Claims, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, false
	}
	var c Claims
	if sub, err := parsed.Claims.GetSubject(); err == nil {
		c.Subject = sub
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, true
}

// Session implements model.Session for one workspace.
type Session struct {
	mu          sync.RWMutex
	token       string
	claims      Claims
	revoked     string
	invalidated bool
	hooks       []func(ctx context.Context)
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics records invalidations.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New creates a session holding token. An empty token is valid: requests are
// then sent without an Authorization header.
func New(token string, opts ...Option) *Session {
	s := &Session{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.setLocked(token)
	return s
}

// Token returns the current bearer token.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Subject returns the token subject, or "" for opaque or absent tokens.
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims.Subject
}

// Claims returns the peeked claims of the current token.
func (s *Session) Claims() Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

// Invalidated reports whether the session has been torn down and not yet
// re-established with a new token.
func (s *Session) Invalidated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.invalidated
}

// SetToken replaces the token, e.g. after the user signs in again, and
// reports whether the session now holds token. The token that was last
// invalidated is refused so a stale client cannot revive it.
func (s *Session) SetToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == s.token {
		return true
	}
	if token != "" && token == s.revoked {
		return false
	}
	s.setLocked(token)
	s.invalidated = false
	return true
}

func (s *Session) setLocked(token string) {
	s.token = token
	s.claims = Claims{}
	if token != "" {
		s.claims, _ = PeekClaims(token)
	}
}

// OnInvalid registers a hook run by Invalidate. Hooks run outside the lock,
// in registration order.
func (s *Session) OnInvalid(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Invalidate clears the token and runs the teardown hooks. Repeated calls
// for the same token run the hooks once.
func (s *Session) Invalidate(ctx context.Context) {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	s.revoked = s.token
	subject := s.claims.Subject
	s.token = ""
	s.claims = Claims{}
	hooks := make([]func(context.Context), len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	s.metrics.RecordSessionInvalidation()
	observability.LoggerFrom(ctx, s.logger).Info("session invalidated",
		zap.String("subject_id", subject),
	)
	for _, fn := range hooks {
		fn(ctx)
	}
}
