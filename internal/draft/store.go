// Package draft persists in-progress form edits so they survive a user
// navigating away and back. A Store serializes drafts as JSON and delegates
// byte storage to a Backend (memory, Redis, SQLite or PostgreSQL).
//
// The store degrades gracefully: a failing backend never blocks editing or
// submission. Save reports the failure so the caller can warn once; Load
// treats every failure as "no draft".
package draft

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/model"
)

// Backend stores raw draft payloads by key.
type Backend interface {
	// Get returns the payload for key, or found=false if there is none.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put overwrites the payload for key.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Store is the JSON draft store used by form controllers.
type Store struct {
	backend Backend
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewStore creates a Store over backend. logger and metrics may be nil.
func NewStore(backend Backend, logger *zap.Logger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger, metrics: metrics}
}

// Save serializes value and writes it under key, overwriting any prior
// draft. Both encoding and backend failures are reported as a
// DRAFT_SERIALIZATION envelope wrapping the cause.
func (s *Store) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		s.metrics.RecordDraftOperation("save", "error")
		return model.NewDraftSerializationError(key).WithCause(err)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		s.metrics.RecordDraftOperation("save", "error")
		return model.NewDraftSerializationError(key).WithCause(err)
	}
	s.metrics.RecordDraftOperation("save", "ok")
	observability.LoggerFrom(ctx, s.logger).Debug("draft saved",
		zap.String("draft_key", key),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Load decodes the draft stored under key into dst and reports whether one
// was found. A missing key, an unreachable backend and an undecodable
// payload all yield false; undecodable payloads are deleted. dst is left in
// an unspecified state when Load returns false.
func (s *Store) Load(ctx context.Context, key string, dst any) bool {
	logger := observability.LoggerFrom(ctx, s.logger)

	data, found, err := s.backend.Get(ctx, key)
	if err != nil {
		s.metrics.RecordDraftOperation("load", "error")
		logger.Warn("draft load failed, continuing without draft",
			zap.String("draft_key", key),
			zap.Error(err),
		)
		return false
	}
	if !found {
		s.metrics.RecordDraftOperation("load", "miss")
		return false
	}

	if err := decode(data, dst); err != nil {
		s.metrics.RecordDraftOperation("load", "corrupt")
		logger.Warn("discarding corrupt draft",
			zap.String("draft_key", key),
			zap.Error(model.NewDraftCorruptError(key).WithCause(err)),
		)
		if err := s.backend.Delete(ctx, key); err != nil {
			logger.Warn("corrupt draft could not be removed",
				zap.String("draft_key", key),
				zap.Error(err),
			)
		}
		return false
	}

	s.metrics.RecordDraftOperation("load", "ok")
	return true
}

// Clear removes the draft under key. Clearing an absent key is not an error.
func (s *Store) Clear(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.metrics.RecordDraftOperation("clear", "error")
		return err
	}
	s.metrics.RecordDraftOperation("clear", "ok")
	return nil
}

// HealthCheck reports backend reachability when the backend supports it.
func (s *Store) HealthCheck(ctx context.Context) error {
	if hc, ok := s.backend.(observability.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

var errInvalidJSON = errors.New("payload is not valid JSON")

func decode(data []byte, dst any) error {
	if !json.Valid(data) {
		return errInvalidJSON
	}
	return json.Unmarshal(data, dst)
}
