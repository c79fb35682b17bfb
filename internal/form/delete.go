package form

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/model"
)

// DefaultConfirmationTTL bounds how long a delete confirmation stays valid.
const DefaultConfirmationTTL = 5 * time.Minute

// Deleter removes one entity on the backend.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// PendingDelete is an unconfirmed delete request.
type PendingDelete struct {
	Token     string    `json:"token"`
	EntityID  string    `json:"entity_id"`
	Label     string    `json:"label"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeleteFlow gates destructive operations behind an explicit confirmation:
// Request only records intent, and only Confirm sends the DELETE.
type DeleteFlow struct {
	collection string
	deleter    Deleter
	refresher  Refresher
	notify     func(model.Notification)
	logger     *zap.Logger
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]PendingDelete
}

// NewDeleteFlow creates a confirmation flow for one collection. refresher
// and notify may be nil.
func NewDeleteFlow(collection string, deleter Deleter, refresher Refresher, notify func(model.Notification), logger *zap.Logger) *DeleteFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeleteFlow{
		collection: collection,
		deleter:    deleter,
		refresher:  refresher,
		notify:     notify,
		logger:     logger,
		ttl:        DefaultConfirmationTTL,
		now:        time.Now,
		pending:    make(map[string]PendingDelete),
	}
}

// Request records the intent to delete entityID and returns the
// confirmation the user must answer. Nothing is sent.
func (d *DeleteFlow) Request(entityID, label string) (PendingDelete, error) {
	if entityID == "" {
		return PendingDelete{}, model.NewBadRequestError("entity id is required")
	}
	if label == "" {
		label = entityID
	}
	p := PendingDelete{
		Token:     uuid.NewString(),
		EntityID:  entityID,
		Label:     label,
		ExpiresAt: d.now().Add(d.ttl),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictExpiredLocked()
	d.pending[p.Token] = p
	return p, nil
}

// Cancel drops a pending confirmation.
func (d *DeleteFlow) Cancel(token string) {
	d.mu.Lock()
	delete(d.pending, token)
	d.mu.Unlock()
}

// Confirm sends the DELETE for a pending request. On success a confirmation
// notification is raised and the collection refreshed; on failure the
// collection is left untouched and the failure is notified. Each token can
// be confirmed once.
func (d *DeleteFlow) Confirm(ctx context.Context, token string) error {
	d.mu.Lock()
	p, ok := d.pending[token]
	if ok {
		delete(d.pending, token)
	}
	d.mu.Unlock()
	if !ok || d.now().After(p.ExpiresAt) {
		return model.NewNotFoundError("delete confirmation not found or expired")
	}

	ctx, span := observability.StartSpan(ctx, "collection.delete",
		observability.AttrCollection.String(d.collection),
		observability.AttrEntityID.String(p.EntityID),
	)
	err := d.deleter.Delete(ctx, p.EntityID)
	observability.EndSpanWithError(span, err)

	logger := observability.LoggerFrom(ctx, d.logger)
	if err != nil {
		logger.Warn("delete failed",
			zap.String("collection", d.collection),
			zap.String("entity_id", p.EntityID),
			zap.Error(err),
		)
		if !model.IsCode(err, model.ErrSessionInvalid) {
			d.send(model.NotifyFailure, messageOf(err))
		}
		return err
	}

	logger.Info("entity deleted",
		zap.String("collection", d.collection),
		zap.String("entity_id", p.EntityID),
	)
	d.send(model.NotifySuccess, fmt.Sprintf("%s deleted", p.Label))
	if d.refresher != nil {
		_ = d.refresher.Refresh(ctx)
	}
	return nil
}

// Pending returns the number of unconfirmed requests.
func (d *DeleteFlow) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictExpiredLocked()
	return len(d.pending)
}

func (d *DeleteFlow) evictExpiredLocked() {
	now := d.now()
	for k, p := range d.pending {
		if now.After(p.ExpiresAt) {
			delete(d.pending, k)
		}
	}
}

func (d *DeleteFlow) send(severity, message string) {
	if d.notify != nil {
		d.notify(model.Notification{Severity: severity, Message: message, Source: d.collection})
	}
}
