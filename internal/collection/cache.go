// Package collection holds per-workspace snapshots of backend collections.
// A snapshot is replaced wholesale on refresh and never patched in place.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/model"
)

// Refresh outcomes recorded in metrics.
const (
	OutcomeSuccess      = "success"
	OutcomeEmpty        = "empty"
	OutcomeUnauthorized = "unauthorized"
	OutcomeFailed       = "failed"
	OutcomeSuperseded   = "superseded"
	OutcomeClosed       = "closed"
)

// Fetcher issues the collection's list request and normalizes the response.
type Fetcher func(ctx context.Context) model.ListResult

type options struct {
	latestOnly bool
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// Option configures a Cache.
type Option func(*options)

// WithLatestOnly applies only the response to the most recently issued
// refresh. Without it, overlapping refreshes each apply in landing order.
func WithLatestOnly() Option {
	return func(o *options) { o.latestOnly = true }
}

// WithLogger sets the cache logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Cache is the last-fetched snapshot of one named collection.
type Cache[T any] struct {
	name  string
	fetch Fetcher
	opts  options

	mu       sync.RWMutex
	items    []T
	inflight int
	lastErr  error
	closed   bool
	issued   uint64
}

// New creates an empty cache. Nothing is fetched until Refresh.
func New[T any](name string, fetch Fetcher, opts ...Option) *Cache[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{name: name, fetch: fetch, opts: o, items: []T{}}
}

// Name returns the collection name.
func (c *Cache[T]) Name() string {
	return c.name
}

// Refresh fetches the collection and replaces the snapshot. On any failure
// the snapshot becomes empty and LastError reports the cause; a valid empty
// response is not a failure. The returned error mirrors LastError for this
// call. Responses landing after Close are dropped.
func (c *Cache[T]) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.issued++
	gen := c.issued
	c.inflight++
	c.mu.Unlock()

	start := time.Now()
	res := c.fetch(ctx)
	items, err := c.decode(res)

	c.mu.Lock()
	c.inflight--
	outcome := outcomeOf(items, err)
	switch {
	case c.closed:
		outcome = OutcomeClosed
	case c.opts.latestOnly && gen != c.issued:
		outcome = OutcomeSuperseded
	default:
		if err != nil {
			c.items = []T{}
		} else {
			c.items = items
		}
		c.lastErr = err
	}
	c.mu.Unlock()

	c.opts.metrics.RecordCollectionRefresh(c.name, outcome, time.Since(start))
	logger := observability.LoggerFrom(ctx, c.opts.logger)
	if err != nil {
		logger.Warn("collection refresh failed",
			zap.String("collection", c.name),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	} else {
		logger.Debug("collection refreshed",
			zap.String("collection", c.name),
			zap.String("outcome", outcome),
			zap.Int("items", len(items)),
		)
	}
	return err
}

func (c *Cache[T]) decode(res model.ListResult) ([]T, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	if !res.Success {
		return nil, model.NewRequestFailedError(0, "")
	}
	items := make([]T, 0, len(res.Items))
	for i, raw := range res.Items {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, model.NewRequestFailedError(0, "").
				WithCause(fmt.Errorf("collection %s: item %d: %w", c.name, i, err))
		}
		items = append(items, item)
	}
	return items, nil
}

func outcomeOf[T any](items []T, err error) string {
	switch {
	case model.IsCode(err, model.ErrSessionInvalid):
		return OutcomeUnauthorized
	case err != nil:
		return OutcomeFailed
	case len(items) == 0:
		return OutcomeEmpty
	default:
		return OutcomeSuccess
	}
}

// Items returns a copy of the current snapshot in server order.
func (c *Cache[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// IsLoading reports whether any refresh is outstanding.
func (c *Cache[T]) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inflight > 0
}

// LastError returns the error of the last applied refresh, nil after a
// successful one.
func (c *Cache[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Close discards the snapshot. Refreshes completing afterwards are dropped.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = []T{}
}

// Decode converts JSON-shaped documents into typed values.
func Decode[T any](docs []map[string]any) ([]T, error) {
	data, err := json.Marshal(docs)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
