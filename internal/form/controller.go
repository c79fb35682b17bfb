// Package form implements the draft-synchronized form controller: one
// Controller per open form instance, holding the working document, saving
// it to the draft store after every mutation, validating it, and running
// the submit and close sequences.
package form

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/derived"
	"github.com/pitabwire/portdesk/internal/docpath"
	"github.com/pitabwire/portdesk/internal/draft"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/model"
)

// DraftUnavailableMessage is the warning raised the first time a draft
// cannot be saved.
const DraftUnavailableMessage = "Draft saving is unavailable for this session; your changes will not survive leaving the page."

// Submitter sends a validated document to the backend. entityID is empty
// for a create.
type Submitter interface {
	Submit(ctx context.Context, entityID string, doc map[string]any) error
}

// Refresher refetches the collection that owns the form's entities.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// SourceIDs returns the ids of a named collection in snapshot order, or
// ok=false when the collection is not loaded.
type SourceIDs func(collection, idField string) (ids []string, ok bool)

// Deps are the collaborators of a Controller. Drafts and Submitter are
// required.
type Deps struct {
	Drafts    *draft.Store
	Submitter Submitter
	Refresher Refresher
	Sources   SourceIDs
	Notify    func(model.Notification)
	// Namespace isolates draft slots per user, usually the session subject.
	Namespace string
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Controller is the state machine of one form instance.
type Controller struct {
	def  definition.FormDefinition
	deps Deps

	mu       sync.Mutex
	state    State
	epoch    uint64
	entityID string
	key      string
	baseline map[string]any
	working  map[string]any
	resumed  bool
	version  uint64

	saveMu       sync.Mutex
	savedVersion uint64
	draftWarning error
}

// New creates a closed controller for def.
func New(def definition.FormDefinition, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Controller{def: def, deps: deps}
}

// Definition returns the form definition.
func (c *Controller) Definition() definition.FormDefinition {
	return c.def
}

// OpenAdd opens the form for a new entity. A saved add-mode draft is
// resumed when present; otherwise the blank document is used.
func (c *Controller) OpenAdd(ctx context.Context) error {
	blank, err := normalizeDoc(c.def.Blank)
	if err != nil {
		return model.NewInternalError().WithCause(err)
	}
	return c.open(ctx, "", blank)
}

// OpenEdit opens the form for an existing entity. A saved draft for this
// entity wins over entity, since it holds the user's unsaved intent.
func (c *Controller) OpenEdit(ctx context.Context, entityID string, entity any) error {
	if entityID == "" {
		return model.NewBadRequestError("entity id is required")
	}
	blank, err := normalizeDoc(c.def.Blank)
	if err != nil {
		return model.NewInternalError().WithCause(err)
	}
	doc, err := normalizeDoc(entity)
	if err != nil {
		return model.NewBadRequestError(err.Error())
	}
	return c.open(ctx, entityID, overlay(blank, doc))
}

func (c *Controller) open(ctx context.Context, entityID string, initial map[string]any) error {
	key := draft.Namespaced(c.deps.Namespace, draft.Key(c.def.DraftKey, entityID))
	baseline := shape(c.def, initial)

	// The draft store may be remote; load before taking the lock.
	var saved map[string]any
	resumed := c.deps.Drafts.Load(ctx, key, &saved) && saved != nil

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		return model.NewInvalidStateError(fmt.Sprintf("form is %s", c.state))
	}

	c.epoch++
	c.state = Editing
	c.entityID = entityID
	c.key = key
	c.baseline = baseline
	c.working = baseline
	c.resumed = resumed
	if resumed {
		c.working = shape(c.def, saved)
	}
	c.deps.Metrics.AddFormSessions(1)
	observability.LoggerFrom(ctx, c.deps.Logger).Debug("form opened",
		zap.String("form_id", c.def.ID),
		zap.String("entity_id", entityID),
		zap.Bool("resumed_draft", resumed),
	)
	return nil
}

// mutate applies fn to the working document and saves the result as the
// draft. fn receives a document it may not modify in place.
func (c *Controller) mutate(ctx context.Context, fn func(doc map[string]any) (map[string]any, error)) error {
	c.mu.Lock()
	if err := c.requireLocked(Editing); err != nil {
		c.mu.Unlock()
		return err
	}
	next, err := fn(c.working)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if next == nil {
		c.mu.Unlock()
		return nil
	}
	c.working = shape(c.def, next)
	c.version++
	version, key, doc := c.version, c.key, c.working
	c.mu.Unlock()

	c.persist(ctx, key, version, doc)
	return nil
}

// persist saves doc unless a newer version has already been saved. Save
// failures raise a single non-blocking warning per controller.
func (c *Controller) persist(ctx context.Context, key string, version uint64, doc map[string]any) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if version <= c.savedVersion {
		return
	}
	c.savedVersion = version

	err := c.deps.Drafts.Save(ctx, key, doc)
	if err == nil {
		return
	}
	observability.LoggerFrom(ctx, c.deps.Logger).Warn("draft save failed",
		zap.String("form_id", c.def.ID),
		zap.String("draft_key", key),
		zap.Error(err),
	)
	if c.draftWarning == nil {
		c.draftWarning = err
		c.notify(model.NotifyWarning, DraftUnavailableMessage)
	}
}

// clearDraft removes the draft slot and drops any older pending save, so
// a save racing the clear cannot resurrect the draft. A failed clear is
// logged and the calling sequence continues.
func (c *Controller) clearDraft(ctx context.Context, key string, version uint64) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if version > c.savedVersion {
		c.savedVersion = version
	}
	if err := c.deps.Drafts.Clear(ctx, key); err != nil {
		observability.LoggerFrom(ctx, c.deps.Logger).Warn("draft clear failed",
			zap.String("form_id", c.def.ID),
			zap.String("draft_key", key),
			zap.Error(err),
		)
	}
}

func (c *Controller) requireLocked(want State) error {
	if c.state == want {
		return nil
	}
	if c.state == Submitting {
		return model.NewSubmitInProgressError()
	}
	return model.NewInvalidStateError(fmt.Sprintf("form is %s, want %s", c.state, want))
}

// SetField replaces the value at path.
func (c *Controller) SetField(ctx context.Context, path string, value any) error {
	v, err := docpath.Normalize(value)
	if err != nil {
		return model.NewBadRequestError(err.Error())
	}
	return c.mutate(ctx, func(doc map[string]any) (map[string]any, error) {
		next, err := docpath.Set(doc, path, v)
		if err != nil {
			return nil, model.NewBadRequestError(err.Error())
		}
		return next.(map[string]any), nil
	})
}

// AddGroupItem appends an element to the group at path. A nil template
// uses the group's declared default. Numbered groups are renumbered.
func (c *Controller) AddGroupItem(ctx context.Context, path string, template any) error {
	g, ok := groupFor(c.def, path)
	if !ok {
		return model.NewBadRequestError(fmt.Sprintf("%q is not a repeated group", path))
	}
	el := newElement(g)
	if template != nil {
		n, err := docpath.Normalize(template)
		if err != nil {
			return model.NewBadRequestError(err.Error())
		}
		el = n
	}
	return c.mutate(ctx, func(doc map[string]any) (map[string]any, error) {
		if _, exists := docpath.Get(doc, path); exists && docpath.GetList(doc, path) == nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("%q does not hold a list", path))
		}
		items := slices.Clone(docpath.GetList(doc, path))
		next, err := docpath.Set(doc, path, append(items, el))
		if err != nil {
			return nil, model.NewBadRequestError(err.Error())
		}
		return next.(map[string]any), nil
	})
}

// RemoveGroupItem removes element index from the group at path. Removing the
// last element of a non-empty group is a no-op.
func (c *Controller) RemoveGroupItem(ctx context.Context, path string, index int) error {
	g, ok := groupFor(c.def, path)
	if !ok {
		return model.NewBadRequestError(fmt.Sprintf("%q is not a repeated group", path))
	}
	return c.mutate(ctx, func(doc map[string]any) (map[string]any, error) {
		items := docpath.GetList(doc, path)
		if index < 0 || index >= len(items) {
			return nil, model.NewBadRequestError(fmt.Sprintf("index %d out of range for %q", index, path))
		}
		if g.NonEmpty && len(items) <= 1 {
			return nil, nil
		}
		next, err := docpath.Set(doc, path, slices.Delete(slices.Clone(items), index, index+1))
		if err != nil {
			return nil, model.NewBadRequestError(err.Error())
		}
		return next.(map[string]any), nil
	})
}

// ToggleSetMembership adds id to the set at path if absent and removes it
// if present.
func (c *Controller) ToggleSetMembership(ctx context.Context, path, id string) error {
	if _, ok := c.def.Set(path); !ok {
		return model.NewBadRequestError(fmt.Sprintf("%q is not a selection set", path))
	}
	return c.mutate(ctx, func(doc map[string]any) (map[string]any, error) {
		ids := stringList(doc, path)
		if i := slices.Index(ids, id); i >= 0 {
			ids = slices.Delete(ids, i, i+1)
		} else {
			ids = append(ids, id)
		}
		next, err := docpath.Set(doc, path, toAny(ids))
		if err != nil {
			return nil, model.NewBadRequestError(err.Error())
		}
		return next.(map[string]any), nil
	})
}

// BulkSetMembership includes or excludes exactly the given ids, typically
// the currently visible (filtered) items. Members not listed are untouched.
func (c *Controller) BulkSetMembership(ctx context.Context, path string, ids []string, included bool) error {
	if _, ok := c.def.Set(path); !ok {
		return model.NewBadRequestError(fmt.Sprintf("%q is not a selection set", path))
	}
	return c.mutate(ctx, func(doc map[string]any) (map[string]any, error) {
		current := stringList(doc, path)
		var out []string
		if included {
			out = current
			for _, id := range ids {
				if !slices.Contains(out, id) {
					out = append(out, id)
				}
			}
		} else {
			out = slices.DeleteFunc(current, func(id string) bool { return slices.Contains(ids, id) })
		}
		next, err := docpath.Set(doc, path, toAny(out))
		if err != nil {
			return nil, model.NewBadRequestError(err.Error())
		}
		return next.(map[string]any), nil
	})
}

// Selection returns the members of the set at path that still exist in its
// source collection, in source order. Stale ids are dropped from the view;
// the stored draft is pruned on submit.
func (c *Controller) Selection(path string) []string {
	c.mu.Lock()
	doc := c.working
	c.mu.Unlock()
	return c.selection(doc, path)
}

func (c *Controller) selection(doc map[string]any, path string) []string {
	ids := stringList(doc, path)
	set, ok := c.def.Set(path)
	if !ok || c.deps.Sources == nil {
		return ids
	}
	source, loaded := c.deps.Sources(set.Source, set.SourceIDField())
	if !loaded {
		return ids
	}
	return derived.OrderBySource(ids, source)
}

// prune replaces every selection set with its source-ordered live members.
func (c *Controller) prune(doc map[string]any) map[string]any {
	var cur any = doc
	for _, s := range c.def.Sets {
		if _, exists := docpath.Get(cur, s.Path); !exists {
			continue
		}
		if next, err := docpath.Set(cur, s.Path, toAny(c.selection(cur.(map[string]any), s.Path))); err == nil {
			cur = next
		}
	}
	return cur.(map[string]any)
}

// Submit validates the working document and sends it. Validation failures
// return a VALIDATION_ERROR envelope without any network call. On success
// the draft is cleared, then the owning collection is refreshed, then the
// form closes with a success notification. On failure the
// form returns to Editing with its draft intact; a 401 raises no
// notification since session teardown has already run.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if err := c.requireLocked(Editing); err != nil {
		c.mu.Unlock()
		return err
	}
	if errs := c.validate(c.working); len(errs) > 0 {
		c.mu.Unlock()
		c.deps.Metrics.RecordFormValidationFailure(c.def.ID)
		return model.NewValidationError(errs)
	}
	c.state = Submitting
	epoch, entityID, key, version := c.epoch, c.entityID, c.key, c.version
	doc := c.prune(c.working)
	c.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "form.submit",
		observability.AttrFormID.String(c.def.ID),
		observability.AttrEntityID.String(entityID),
	)
	start := time.Now()
	err := c.deps.Submitter.Submit(ctx, entityID, doc)
	observability.EndSpanWithError(span, err)
	logger := observability.LoggerFrom(ctx, c.deps.Logger)

	if err != nil {
		c.mu.Lock()
		live := c.epoch == epoch && c.state == Submitting
		if live {
			c.state = Editing
		}
		c.mu.Unlock()

		outcome := "failed"
		if model.IsCode(err, model.ErrSessionInvalid) {
			outcome = "unauthorized"
		} else if model.IsCode(err, model.ErrValidationError) {
			outcome = "rejected"
		}
		c.deps.Metrics.RecordFormSubmit(c.def.ID, outcome, time.Since(start))
		logger.Warn("form submit failed",
			zap.String("form_id", c.def.ID),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		if live && outcome != "unauthorized" {
			c.notify(model.NotifyFailure, messageOf(err))
		}
		return err
	}

	c.deps.Metrics.RecordFormSubmit(c.def.ID, "success", time.Since(start))

	// A controller closed or reopened while the submit was outstanding
	// keeps its current draft and state; only the collection is refreshed.
	c.mu.Lock()
	live := c.epoch == epoch && c.state == Submitting
	c.mu.Unlock()

	if live {
		c.clearDraft(ctx, key, version)
	}
	if c.deps.Refresher != nil {
		// A failed refresh is reported by the collection itself.
		_ = c.deps.Refresher.Refresh(ctx)
	}
	if !live {
		return nil
	}

	c.mu.Lock()
	live = c.epoch == epoch && c.state == Submitting
	if live {
		c.closeLocked()
	}
	c.mu.Unlock()
	if live {
		verb := "created"
		if entityID != "" {
			verb = "updated"
		}
		c.notify(model.NotifySuccess, fmt.Sprintf("%s %s", c.def.Title, verb))
	}
	return nil
}

// RequestClose closes an unchanged form directly and moves a changed one to
// ConfirmDiscard. It returns the resulting state.
func (c *Controller) RequestClose(context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed, ConfirmDiscard:
		return c.state, nil
	case Submitting:
		return c.state, model.NewSubmitInProgressError()
	}
	if docpath.Equal(c.working, c.baseline) {
		c.closeLocked()
		return Closed, nil
	}
	c.state = ConfirmDiscard
	return ConfirmDiscard, nil
}

// ResolveClose answers the ConfirmDiscard prompt. SaveDraft leaves the
// draft slot populated, Discard clears it, and Cancel resumes editing.
func (c *Controller) ResolveClose(ctx context.Context, choice CloseChoice) (State, error) {
	if !choice.Valid() {
		return c.State(), model.NewBadRequestError(fmt.Sprintf("unknown close choice %q", choice))
	}

	c.mu.Lock()
	if err := c.requireLocked(ConfirmDiscard); err != nil {
		state := c.state
		c.mu.Unlock()
		return state, err
	}
	key, doc := c.key, c.working
	c.version++
	version := c.version

	switch choice {
	case Cancel:
		c.state = Editing
		c.mu.Unlock()
		return Editing, nil
	case Discard:
		c.closeLocked()
		c.mu.Unlock()
		c.clearDraft(ctx, key, version)
		return Closed, nil
	default:
		c.closeLocked()
		c.mu.Unlock()
		c.persist(ctx, key, version, doc)
		return Closed, nil
	}
}

// Abandon closes the form without prompting, leaving any saved draft in
// place. In-flight submits completing afterwards are ignored.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		c.closeLocked()
	}
}

func (c *Controller) closeLocked() {
	c.state = Closed
	c.epoch++
	c.working = nil
	c.baseline = nil
	c.resumed = false
	c.deps.Metrics.AddFormSessions(-1)
}

func (c *Controller) notify(severity, message string) {
	if c.deps.Notify == nil {
		return
	}
	c.deps.Notify(model.Notification{Severity: severity, Message: message, Source: c.def.ID})
}

// messageOf returns the user-facing message of err.
func messageOf(err error) string {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Message != "" {
		return ee.Message
	}
	return model.DefaultRequestFailedMessage
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Working returns a copy of the working document, nil when closed.
func (c *Controller) Working() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working == nil {
		return nil
	}
	return docpath.Clone(c.working).(map[string]any)
}

// Dirty reports whether the working document differs from the value the
// form was opened with.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.working != nil && !docpath.Equal(c.working, c.baseline)
}

// EntityID returns the edited entity, "" in add mode.
func (c *Controller) EntityID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entityID
}

// DraftKey returns the draft slot of the current instance.
func (c *Controller) DraftKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Resumed reports whether the form was opened from a saved draft.
func (c *Controller) Resumed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumed
}

// DraftWarning returns the first draft save failure, if any.
func (c *Controller) DraftWarning() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.draftWarning
}
