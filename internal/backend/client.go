// Package backend is the authenticated HTTP client for the port-agency REST
// backend. Every call attaches the session's bearer token when one is
// present, runs behind a circuit breaker with bounded retries, and turns
// 401 into session teardown.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/openapi"
	"github.com/pitabwire/portdesk/model"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 10 << 20

// Endpoint addresses a backend operation either by OpenAPI operationId or by
// a literal method and path template.
type Endpoint struct {
	OperationID string `yaml:"operation_id" json:"operation_id,omitempty"`
	Method      string `yaml:"method" json:"method,omitempty"`
	Path        string `yaml:"path" json:"path,omitempty"`
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool {
	return e.OperationID == "" && e.Path == ""
}

// label is the low-cardinality name used for metrics and spans.
func (e Endpoint) label() string {
	if e.OperationID != "" {
		return e.OperationID
	}
	return e.Path
}

// Response is a raw backend response.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client calls the backend.
type Client struct {
	baseURL       string
	http          *http.Client
	breaker       *CircuitBreaker
	retry         config.RetryConfig
	index         *openapi.Index
	loginRedirect string
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithIndex resolves operation ids through idx.
func WithIndex(idx *openapi.Index) Option {
	return func(c *Client) { c.index = idx }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLoginRedirect sets the redirect carried by session-invalid errors.
func WithLoginRedirect(redirect string) Option {
	return func(c *Client) { c.loginRedirect = redirect }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records backend request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client from backend configuration.
func New(cfg config.BackendConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		retry:  cfg.Retry,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" && c.index != nil {
		c.baseURL = strings.TrimRight(c.index.ServerURL(), "/")
	}
	c.breaker.OnStateChange(func(s BreakerState) {
		c.metrics.SetBackendCircuitBreakerState(float64(s))
		c.logger.Warn("backend circuit breaker state changed", zap.String("state", s.String()))
	})
	return c
}

// Breaker exposes the circuit breaker for diagnostics.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// HealthCheck fails while the circuit breaker is open.
func (c *Client) HealthCheck(context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Resolve turns an endpoint and its path parameters into a method and
// concrete path. defaultMethod applies to literal endpoints without one.
func (c *Client) Resolve(ep Endpoint, params map[string]string, defaultMethod string) (method, path string, err error) {
	if ep.OperationID != "" {
		if c.index == nil {
			return "", "", fmt.Errorf("backend: operation %q requires an OpenAPI index", ep.OperationID)
		}
		return c.index.Resolve(ep.OperationID, params)
	}
	if ep.Path == "" {
		return "", "", errors.New("backend: endpoint has neither operation_id nor path")
	}
	path, err = openapi.ExpandPath(ep.Path, params)
	if err != nil {
		return "", "", err
	}
	method = strings.ToUpper(ep.Method)
	if method == "" {
		method = defaultMethod
	}
	return method, path, nil
}

// Do sends one request. A 401 invalidates sess and returns a session-invalid
// error; transport failures return a request-failed error. Any other status
// is returned to the caller for interpretation.
func (c *Client) Do(ctx context.Context, sess model.Session, method, path, label string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
		if ce := observability.LoggerFrom(ctx, c.logger).Check(zap.DebugLevel, "backend request body"); ce != nil {
			var doc any
			if json.Unmarshal(payload, &doc) == nil {
				ce.Write(zap.String("endpoint", label), zap.Any("body", observability.RedactDocument(doc)))
			}
		}
	}

	ctx, span := observability.StartSpan(ctx, "backend "+method,
		observability.AttrEndpoint.String(label),
	)
	resp, err := c.executeWithRetry(ctx, sess, method, path, label, payload)
	observability.EndSpanWithError(span, err)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		if sess != nil {
			sess.Invalidate(ctx)
		}
		return resp, model.NewSessionInvalidError(c.loginRedirect)
	}
	return resp, nil
}

func (c *Client) executeWithRetry(ctx context.Context, sess model.Session, method, path, label string, payload []byte) (*Response, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method)
	logger := observability.LoggerFrom(ctx, c.logger)

	var lastErr error
	var lastResp *Response
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordBackendRetry()
			select {
			case <-ctx.Done():
				return nil, model.NewRequestFailedError(0, "").WithCause(ctx.Err())
			case <-time.After(calculateBackoff(c.retry, attempt)):
			}
		}

		resp, err := c.executeOnce(ctx, sess, method, path, label, payload)
		if err != nil {
			lastErr = err
			if !canRetry || errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
				return nil, err
			}
			logger.Debug("backend: retrying after error",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if canRetry && isRetryableStatus(resp.Status) && attempt < maxAttempts-1 {
			lastResp = resp
			logger.Debug("backend: retrying after status",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", resp.Status),
			)
			continue
		}
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (c *Client) executeOnce(ctx context.Context, sess model.Session, method, path, label string, payload []byte) (*Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, model.NewRequestFailedError(http.StatusServiceUnavailable, "Backend unavailable").WithCause(err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	c.setHeaders(ctx, req, sess, payload != nil)

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordBackendRequest(method, label, 0, time.Since(start))
		observability.LoggerFrom(ctx, c.logger).Warn("backend request failed",
			zap.String("method", method),
			zap.String("endpoint", label),
			zap.Error(err),
		)
		return nil, model.NewRequestFailedError(0, "").WithCause(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(method, label, httpResp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, model.NewRequestFailedError(httpResp.StatusCode, "").WithCause(err)
	}

	if httpResp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}

	return &Response{
		Status:      httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, sess model.Session, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if sess != nil {
		if token, ok := sess.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+sanitizeHeader(token))
		}
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, req.Header)
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
