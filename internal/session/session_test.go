package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/model"
)

var _ model.Session = (*Session)(nil)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestPeekClaims(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	claims, ok := PeekClaims(signedToken(t, "agent-7", exp))
	if !ok {
		t.Fatal("PeekClaims() ok = false")
	}
	if claims.Subject != "agent-7" {
		t.Errorf("Subject = %q, want agent-7", claims.Subject)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, exp)
	}

	if _, ok := PeekClaims("opaque-token"); ok {
		t.Error("PeekClaims(opaque) ok = true")
	}
}

func TestSession_tokenPresenceAndAbsence(t *testing.T) {
	s := New("")
	if tok, ok := s.Token(); ok || tok != "" {
		t.Errorf("Token() = %q, %v, want absent", tok, ok)
	}

	s = New(signedToken(t, "agent-7", time.Now().Add(time.Hour)))
	if _, ok := s.Token(); !ok {
		t.Error("Token() should be present")
	}
	if s.Subject() != "agent-7" {
		t.Errorf("Subject() = %q", s.Subject())
	}
}

func TestSession_invalidateRunsHooksOnce(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	s := New("opaque", WithMetrics(metrics))

	var calls []string
	s.OnInvalid(func(context.Context) { calls = append(calls, "clear") })
	s.OnInvalid(func(context.Context) { calls = append(calls, "redirect") })

	s.Invalidate(context.Background())
	s.Invalidate(context.Background())

	if len(calls) != 2 || calls[0] != "clear" || calls[1] != "redirect" {
		t.Errorf("hooks = %v, want [clear redirect] once", calls)
	}
	if _, ok := s.Token(); ok {
		t.Error("token should be cleared after Invalidate")
	}
	if !s.Invalidated() {
		t.Error("Invalidated() = false")
	}
	if got := testutil.ToFloat64(metrics.SessionInvalidationsTotal); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
}

func TestSession_setTokenRevives(t *testing.T) {
	s := New("old")
	s.Invalidate(context.Background())

	// The revoked token cannot come back.
	if s.SetToken("old") {
		t.Error("SetToken(revoked) = true, want false")
	}
	if _, ok := s.Token(); ok {
		t.Error("revoked token was accepted again")
	}
	if !s.Invalidated() {
		t.Error("session should stay invalidated")
	}

	if !s.SetToken("fresh") {
		t.Error("SetToken(fresh) = false, want true")
	}
	if tok, _ := s.Token(); tok != "fresh" {
		t.Errorf("Token() = %q, want fresh", tok)
	}
	if s.Invalidated() {
		t.Error("new token should re-establish the session")
	}

	// A second invalidation fires hooks again.
	fired := 0
	s.OnInvalid(func(context.Context) { fired++ })
	s.Invalidate(context.Background())
	if fired != 1 {
		t.Errorf("hooks fired %d times, want 1", fired)
	}
}

func TestSession_concurrentInvalidate(t *testing.T) {
	s := New("tok")
	var mu sync.Mutex
	fired := 0
	s.OnInvalid(func(context.Context) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Invalidate(context.Background())
		}()
	}
	wg.Wait()

	if fired != 1 {
		t.Errorf("hooks fired %d times, want 1", fired)
	}
}
