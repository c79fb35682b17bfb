// Package workspace composes one UI session: the collections a page mounts,
// the form instances opened over them, pending delete confirmations and the
// notification queue the UI drains.
package workspace

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/backend"
	"github.com/pitabwire/portdesk/internal/collection"
	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/derived"
	"github.com/pitabwire/portdesk/internal/docpath"
	"github.com/pitabwire/portdesk/internal/form"
	"github.com/pitabwire/portdesk/internal/forms"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/session"
	"github.com/pitabwire/portdesk/model"
)

// maxNotifications bounds the undrained queue; the oldest entries are
// dropped first.
const maxNotifications = 100

// Item is one collection entry in its generic JSON shape.
type Item = map[string]any

// Workspace is the server-side state behind one open UI page.
type Workspace struct {
	id      string
	created time.Time
	sess    *session.Session
	deps    *Deps
	logger  *zap.Logger

	// The creator: a JWT subject, or the exact token when it is opaque.
	ownerSubject string
	ownerToken   string

	collections map[string]*collection.Cache[Item]

	mu       sync.Mutex
	forms    map[string]*formSession
	deletes  map[string]*form.DeleteFlow
	notes    []model.Notification
	lastSeen time.Time
	closed   bool
}

type formSession struct {
	id       string
	formID   string
	entityID string
	ctrl     *form.Controller
}

func newWorkspace(deps *Deps, token string, now time.Time) *Workspace {
	id := uuid.NewString()
	logger := deps.Logger.With(zap.String("workspace_id", id))
	w := &Workspace{
		id:          id,
		created:     now,
		deps:        deps,
		logger:      logger,
		collections: make(map[string]*collection.Cache[Item], len(deps.Collections)),
		forms:       make(map[string]*formSession),
		deletes:     make(map[string]*form.DeleteFlow),
		lastSeen:    now,
	}
	if claims, ok := session.PeekClaims(token); ok && claims.Subject != "" {
		w.ownerSubject = claims.Subject
	} else {
		w.ownerToken = token
	}
	w.sess = session.New(token, session.WithLogger(logger), session.WithMetrics(deps.Metrics))
	w.sess.OnInvalid(w.onSessionInvalid)

	for name, cc := range deps.Collections {
		w.collections[name] = w.newCollection(name, cc)
	}
	return w
}

func (w *Workspace) newCollection(name string, cc config.CollectionConfig) *collection.Cache[Item] {
	ep := backend.Endpoint{OperationID: cc.OperationID, Path: cc.Path}
	fetch := func(ctx context.Context) model.ListResult {
		return w.deps.Client.List(ctx, w.sess, ep, cc.ItemsKey)
	}
	opts := []collection.Option{
		collection.WithLogger(w.logger),
		collection.WithMetrics(w.deps.Metrics),
	}
	if cc.LatestOnly {
		opts = append(opts, collection.WithLatestOnly())
	}
	return collection.New[Item](name, fetch, opts...)
}

// ID returns the workspace id.
func (w *Workspace) ID() string {
	return w.id
}

// Session returns the workspace's session.
func (w *Workspace) Session() *session.Session {
	return w.sess
}

// Attach admits a request carrying token and makes it the session token, so
// a client can re-attach after signing in again. A JWT must carry the
// creator's subject and an opaque token must be the creator's own; any other
// token is told the workspace does not exist.
func (w *Workspace) Attach(token string) error {
	if token == "" {
		return model.NewSessionInvalidError(w.deps.Session.LoginRedirect)
	}
	if !w.ownedBy(token) {
		return model.NewNotFoundError(fmt.Sprintf("workspace %q not found", w.id))
	}
	if !w.sess.SetToken(token) {
		return model.NewSessionInvalidError(w.deps.Session.LoginRedirect)
	}
	return nil
}

func (w *Workspace) ownedBy(token string) bool {
	if w.ownerSubject == "" {
		return subtle.ConstantTimeCompare([]byte(token), []byte(w.ownerToken)) == 1
	}
	claims, _ := session.PeekClaims(token)
	return claims.Subject == w.ownerSubject
}

// Info describes a workspace to the UI.
type Info struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Collections []string  `json:"collections"`
	Forms       []string  `json:"forms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Info returns the workspace description.
func (w *Workspace) Info() Info {
	names := make([]string, 0, len(w.collections))
	for name := range w.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	var formIDs []string
	for _, d := range w.deps.Registry.AllForms() {
		formIDs = append(formIDs, d.ID)
	}
	return Info{
		ID:          w.id,
		SubjectID:   w.sess.Subject(),
		Collections: names,
		Forms:       formIDs,
		CreatedAt:   w.created,
	}
}

// Mount refreshes every collection concurrently, once per page mount.
// Individual failures are recorded on each collection; only a rejected
// session fails the mount.
func (w *Workspace) Mount(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range w.collections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Refresh(ctx)
		}()
	}
	wg.Wait()
	if w.sess.Invalidated() {
		return model.NewSessionInvalidError(w.deps.Session.LoginRedirect)
	}
	return nil
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

func (w *Workspace) collection(name string) (*collection.Cache[Item], error) {
	c, ok := w.collections[name]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("collection %q not found", name))
	}
	return c, nil
}

// CollectionView is a filtered collection snapshot.
type CollectionView struct {
	Name    string `json:"name"`
	Items   []Item `json:"items"`
	Total   int    `json:"total"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Collection returns the snapshot of name filtered by term over the
// collection's search fields.
func (w *Workspace) Collection(name, term string) (CollectionView, error) {
	c, err := w.collection(name)
	if err != nil {
		return CollectionView{}, err
	}
	items := c.Items()
	fields := w.deps.Collections[name].SearchFields
	if len(fields) == 0 {
		fields = []string{"name"}
	}
	getters := make([]func(Item) string, len(fields))
	for i, f := range fields {
		getters[i] = func(it Item) string { return docpath.GetString(it, f) }
	}
	v := CollectionView{
		Name:    name,
		Items:   derived.FilterBySearchTerm(items, term, getters...),
		Total:   len(items),
		Loading: c.IsLoading(),
	}
	if err := c.LastError(); err != nil {
		v.Error = messageOf(err)
	}
	return v, nil
}

// RefreshCollection refetches one collection.
func (w *Workspace) RefreshCollection(ctx context.Context, name string) error {
	c, err := w.collection(name)
	if err != nil {
		return err
	}
	return c.Refresh(ctx)
}

func (w *Workspace) idField(name string) string {
	if f := w.deps.Collections[name].IDField; f != "" {
		return f
	}
	return "id"
}

// entity finds an item of collection name by id.
func (w *Workspace) entity(name, id string) (Item, error) {
	c, err := w.collection(name)
	if err != nil {
		return nil, err
	}
	field := w.idField(name)
	for _, it := range c.Items() {
		if docpath.GetString(it, field) == id {
			return it, nil
		}
	}
	return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", name, id))
}

// sourceIDs lists the ids of a loaded collection for selection sets.
func (w *Workspace) sourceIDs(name, idField string) ([]string, bool) {
	c, ok := w.collections[name]
	if !ok || c.LastError() != nil {
		return nil, false
	}
	return derived.IDs(c.Items(), func(it Item) string { return docpath.GetString(it, idField) }), true
}

// OpenForm opens formID in add mode, or in edit mode over the entity with
// entityID from the form's collection. Opening a form whose draft slot is
// already open in this workspace returns the existing session.
func (w *Workspace) OpenForm(ctx context.Context, formID, entityID string) (string, error) {
	def, ok := w.deps.Registry.GetForm(formID)
	if !ok {
		return "", model.NewNotFoundError(fmt.Sprintf("form %q not found", formID))
	}

	w.mu.Lock()
	existing := w.openSessionLocked(formID, entityID)
	w.mu.Unlock()
	if existing != "" {
		return existing, nil
	}

	var entity Item
	if entityID != "" {
		if def.Collection == "" {
			return "", model.NewBadRequestError(fmt.Sprintf("form %q has no collection to edit from", formID))
		}
		e, err := w.entity(def.Collection, entityID)
		if err != nil {
			return "", err
		}
		entity = e
	}

	deps := form.Deps{
		Drafts: w.deps.Drafts,
		Submitter: w.deps.Client.NewFormSubmitter(w.sess,
			backend.Endpoint(def.Submit.Create),
			backend.Endpoint(def.Submit.Update),
		),
		Sources: w.sourceIDs,
		Notify:  w.notify,
		Logger:  w.logger,
		Metrics: w.deps.Metrics,
	}
	if c, ok := w.collections[def.Collection]; ok {
		deps.Refresher = c
	}
	if w.deps.Session.NamespaceDrafts {
		deps.Namespace = w.sess.Subject()
	}

	ctrl := form.New(def, deps)
	var err error
	if entityID == "" {
		err = ctrl.OpenAdd(ctx)
	} else {
		err = ctrl.OpenEdit(ctx, entityID, entity)
	}
	if err != nil {
		return "", err
	}

	fs := &formSession{id: uuid.NewString(), formID: formID, entityID: entityID, ctrl: ctrl}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		ctrl.Abandon()
		return "", model.NewNotFoundError("workspace closed")
	}
	// A concurrent open of the same slot may have won while this one loaded.
	if existing := w.openSessionLocked(formID, entityID); existing != "" {
		w.mu.Unlock()
		ctrl.Abandon()
		return existing, nil
	}
	w.forms[fs.id] = fs
	w.mu.Unlock()
	return fs.id, nil
}

// openSessionLocked returns the id of a session already editing formID over
// entityID, or "".
func (w *Workspace) openSessionLocked(formID, entityID string) string {
	for _, fs := range w.forms {
		if fs.formID == formID && fs.entityID == entityID && fs.ctrl.State() != form.Closed {
			return fs.id
		}
	}
	return ""
}

// Form returns the controller of an open form session.
func (w *Workspace) Form(sid string) (*form.Controller, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fs, ok := w.forms[sid]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("form session %q not found", sid))
	}
	return fs.ctrl, nil
}

// Release forgets a form session once it has closed.
func (w *Workspace) Release(sid string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if fs, ok := w.forms[sid]; ok && fs.ctrl.State() == form.Closed {
		delete(w.forms, sid)
	}
}

// FormSessions returns the ids of the open form sessions, sorted.
func (w *Workspace) FormSessions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.forms))
	for id := range w.forms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FormView is a form view enriched with the screen-specific projections of
// the built-in forms.
type FormView struct {
	form.View
	SessionID string                `json:"session_id"`
	Invoice   *forms.InvoiceSummary `json:"invoice,omitempty"`
	Modules   []forms.ModuleSummary `json:"modules,omitempty"`
}

// View renders a form session.
func (w *Workspace) View(sid string) (FormView, error) {
	ctrl, err := w.Form(sid)
	if err != nil {
		return FormView{}, err
	}
	v := FormView{View: ctrl.View(), SessionID: sid}
	if v.Document == nil {
		return v, nil
	}
	switch v.FormID {
	case forms.PDA, forms.WorkDone:
		s := forms.InvoiceTotals(v.Document)
		v.Invoice = &s
	case forms.AccessLevel:
		v.Modules = forms.ModuleSelectionSummary(w.permissions(), v.Selections["permissions"])
	}
	return v, nil
}

func (w *Workspace) permissions() []model.Permission {
	c, ok := w.collections["permissions"]
	if !ok {
		return nil
	}
	perms, err := collection.Decode[model.Permission](c.Items())
	if err != nil {
		w.logger.Warn("permissions do not decode", zap.Error(err))
		return nil
	}
	return perms
}

// SelectModule includes or excludes the permissions of module that match
// term in the set at path of an access-level form.
func (w *Workspace) SelectModule(ctx context.Context, sid, path, module, term string, included bool) error {
	ctrl, err := w.Form(sid)
	if err != nil {
		return err
	}
	ids := forms.VisibleInModule(w.permissions(), module, term)
	if len(ids) == 0 {
		return nil
	}
	return ctrl.BulkSetMembership(ctx, path, ids, included)
}

func (w *Workspace) deleteFlow(name string) (*form.DeleteFlow, error) {
	c, err := w.collection(name)
	if err != nil {
		return nil, err
	}
	cc := w.deps.Collections[name]
	ep := backend.Endpoint{OperationID: cc.DeleteOperationID, Path: cc.EntityPath}
	if ep.IsZero() {
		return nil, model.NewBadRequestError(fmt.Sprintf("collection %q does not support delete", name))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	flow, ok := w.deletes[name]
	if !ok {
		flow = form.NewDeleteFlow(name, w.deps.Client.NewEntityDeleter(w.sess, ep), c, w.notify, w.logger)
		w.deletes[name] = flow
	}
	return flow, nil
}

// RequestDelete asks for confirmation to delete an entity. Nothing is sent
// until ConfirmDelete.
func (w *Workspace) RequestDelete(name, entityID string) (form.PendingDelete, error) {
	flow, err := w.deleteFlow(name)
	if err != nil {
		return form.PendingDelete{}, err
	}
	label := entityID
	if e, err := w.entity(name, entityID); err == nil {
		if n := docpath.GetString(e, "name"); n != "" {
			label = n
		}
	}
	return flow.Request(entityID, label)
}

// ConfirmDelete sends the delete behind a confirmation token.
func (w *Workspace) ConfirmDelete(ctx context.Context, name, token string) error {
	flow, err := w.deleteFlow(name)
	if err != nil {
		return err
	}
	return flow.Confirm(ctx, token)
}

// CancelDelete drops a confirmation token.
func (w *Workspace) CancelDelete(name, token string) error {
	flow, err := w.deleteFlow(name)
	if err != nil {
		return err
	}
	flow.Cancel(token)
	return nil
}

// Document fetches the rendered document of an entity, such as an invoice
// PDF.
func (w *Workspace) Document(ctx context.Context, name, entityID string) (*backend.Document, error) {
	if _, err := w.collection(name); err != nil {
		return nil, err
	}
	cc := w.deps.Collections[name]
	if cc.DocumentPath == "" {
		return nil, model.NewBadRequestError(fmt.Sprintf("collection %q has no documents", name))
	}
	ep := backend.Endpoint{Method: http.MethodGet, Path: cc.DocumentPath}
	return w.deps.Client.FetchDocument(ctx, w.sess, ep, map[string]string{"id": entityID})
}

// DocumentAlerts classifies the documents collection by expiry.
func (w *Workspace) DocumentAlerts(now time.Time) ([]forms.AlertGroup, error) {
	c, err := w.collection(w.deps.Alerts.DocumentsCollection)
	if err != nil {
		return nil, err
	}
	docs, err := collection.Decode[model.VesselDocument](c.Items())
	if err != nil {
		return nil, model.NewInternalError().WithCause(err)
	}
	return forms.DocumentAlerts(docs, now, w.deps.Alerts.SoonDays), nil
}

func (w *Workspace) notify(n model.Notification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes = append(w.notes, n)
	if over := len(w.notes) - maxNotifications; over > 0 {
		w.notes = w.notes[over:]
	}
}

// Notifications drains the notification queue.
func (w *Workspace) Notifications() []model.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.notes
	w.notes = nil
	if out == nil {
		out = []model.Notification{}
	}
	return out
}

// onSessionInvalid leaves the page: open forms are abandoned with their
// drafts kept for the next login.
func (w *Workspace) onSessionInvalid(ctx context.Context) {
	w.mu.Lock()
	sessions := make([]*formSession, 0, len(w.forms))
	for _, fs := range w.forms {
		sessions = append(sessions, fs)
	}
	w.mu.Unlock()

	for _, fs := range sessions {
		fs.ctrl.Abandon()
	}
	observability.LoggerFrom(ctx, w.logger).Info("workspace session invalidated",
		zap.Int("abandoned_forms", len(sessions)),
	)
}

// Close abandons every form and stops every collection. Drafts are kept.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	sessions := w.forms
	w.forms = map[string]*formSession{}
	w.mu.Unlock()

	for _, fs := range sessions {
		fs.ctrl.Abandon()
	}
	for _, c := range w.collections {
		c.Close()
	}
}

func messageOf(err error) string {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Message != "" {
		return ee.Message
	}
	return model.DefaultRequestFailedMessage
}

var _ form.Refresher = (*collection.Cache[Item])(nil)
