package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/portdesk/internal/backend"
	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/draft"
	"github.com/pitabwire/portdesk/internal/forms"
	"github.com/pitabwire/portdesk/internal/openapi"
	"github.com/pitabwire/portdesk/internal/workspace"
	"github.com/pitabwire/portdesk/model"
)

// agency is a minimal port-agency backend.
type agency struct {
	reject atomic.Bool

	mu           sync.Mutex
	accessLevels []map[string]any
	deleted      []string
}

func (a *agency) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/permissions", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"permissions":[
			{"id":"p1","name":"View vendors","module":"Vendors"},
			{"id":"p2","name":"Edit vendors","module":"Vendors"},
			{"id":"p3","name":"View invoices","module":"Invoices"}]}`)
	})
	mux.HandleFunc("GET /api/access-levels", func(w http.ResponseWriter, _ *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessLevels": a.accessLevels})
	})
	mux.HandleFunc("POST /api/access-levels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		body["id"] = fmt.Sprintf("al-%d", len(a.accessLevels)+1)
		a.accessLevels = append(a.accessLevels, body)
		a.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"success":true}`)
	})
	mux.HandleFunc("DELETE /api/access-levels/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		a.mu.Lock()
		a.deleted = append(a.deleted, id)
		a.accessLevels = slices.DeleteFunc(a.accessLevels, func(al map[string]any) bool { return al["id"] == id })
		a.mu.Unlock()
		fmt.Fprint(w, `{"success":true}`)
	})
	mux.HandleFunc("GET /api/documents", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":[
			{"id":"d1","type":"Crew permit","name":"Permit A","expiry_date":"2026-03-01"},
			{"id":"d2","type":"Crew permit","name":"Permit B","expiry_date":"2027-01-01"}]}`)
	})
	mux.HandleFunc("GET /api/invoices", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":[{"id":"inv-1"}]}`)
	})
	mux.HandleFunc("GET /api/invoices/{id}/pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 invoice"))
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.reject.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"token expired"}`)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

type apiEnv struct {
	agency *agency
	router chi.Router
	mgr    *workspace.Manager
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ag := &agency{accessLevels: []map[string]any{
		{"id": "al-1", "name": "Clerks", "description": "Front desk", "permissions": []any{"p1"}},
	}}
	srv := httptest.NewServer(ag.handler())
	t.Cleanup(srv.Close)

	idx := openapi.NewIndex()
	if err := idx.Load(context.Background(), "../openapi/testdata/portagency.yaml"); err != nil {
		t.Fatalf("load index: %v", err)
	}
	defs, err := forms.Definitions()
	if err != nil {
		t.Fatal(err)
	}

	deps := testDeps()
	client := backend.New(config.BackendConfig{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 50},
	}, backend.WithIndex(idx), backend.WithLoginRedirect("/login"), backend.WithMetrics(deps.Metrics))

	mgr := workspace.NewManager(workspace.Deps{
		Client:   client,
		Registry: definition.NewRegistry(defs),
		Drafts:   draft.NewStore(draft.NewMemoryBackend(0), nil, deps.Metrics),
		Collections: map[string]config.CollectionConfig{
			"permissions":   {Path: "/api/permissions", ItemsKey: "permissions", SearchFields: []string{"name", "module"}},
			"access_levels": {Path: "/api/access-levels", ItemsKey: "accessLevels", EntityPath: "/api/access-levels/{id}"},
			"documents":     {Path: "/api/documents"},
			"invoices":      {Path: "/api/invoices", DocumentPath: "/api/invoices/{id}/pdf"},
		},
		Session:   config.SessionConfig{LoginRedirect: "/login"},
		Workspace: config.WorkspaceConfig{IdleTimeout: time.Hour},
		Alerts:    config.AlertsConfig{DocumentsCollection: "documents", SoonDays: 7},
		Metrics:   deps.Metrics,
	})
	t.Cleanup(mgr.CloseAll)

	deps.Manager = mgr
	deps.Now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return &apiEnv{agency: ag, router: NewRouter(deps), mgr: mgr}
}

// do sends a request through the router and decodes a JSON response into
// out when out is non-nil.
func (e *apiEnv) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer tok-1")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w
}

func (e *apiEnv) createWorkspace(t *testing.T) string {
	t.Helper()
	var info workspace.Info
	w := e.do(t, http.MethodPost, "/api/workspaces", nil, &info)
	if w.Code != http.StatusCreated {
		t.Fatalf("create workspace status = %d: %s", w.Code, w.Body.String())
	}
	return info.ID
}

func (e *apiEnv) openForm(t *testing.T, ws, formID, entityID string) workspace.FormView {
	t.Helper()
	var view workspace.FormView
	w := e.do(t, http.MethodPost, "/api/workspaces/"+ws+"/forms/"+formID, openFormRequest{EntityID: entityID}, &view)
	if w.Code != http.StatusCreated {
		t.Fatalf("open form status = %d: %s", w.Code, w.Body.String())
	}
	return view
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d: %s", w.Code, want, w.Body.String())
	}
}

func TestAPI_createAndGetWorkspace(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)

	var info workspace.Info
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws, nil, &info), http.StatusOK)
	if info.ID != ws || !slices.Contains(info.Forms, forms.AccessLevel) {
		t.Errorf("Info = %+v", info)
	}

	wantStatus(t, env.do(t, http.MethodDelete, "/api/workspaces/"+ws, nil, nil), http.StatusNoContent)
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws, nil, nil), http.StatusNotFound)
}

func TestAPI_unknownWorkspace(t *testing.T) {
	env := newAPIEnv(t)
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/nope/notifications", nil, &resp), http.StatusNotFound)
	if resp.Error.Code != model.ErrNotFound {
		t.Errorf("code = %q, want NOT_FOUND", resp.Error.Code)
	}
}

func TestAPI_rejectedTokenFailsCreate(t *testing.T) {
	env := newAPIEnv(t)
	env.agency.reject.Store(true)

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	wantStatus(t, env.do(t, http.MethodPost, "/api/workspaces", nil, &resp), http.StatusUnauthorized)
	if resp.Error.Redirect != "/login" {
		t.Errorf("redirect = %q, want /login", resp.Error.Redirect)
	}
	if env.mgr.Len() != 0 {
		t.Errorf("workspaces = %d, want 0", env.mgr.Len())
	}
}

func TestAPI_collectionSearchAndRefresh(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)

	var view workspace.CollectionView
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/collections/permissions?q=invoices", nil, &view), http.StatusOK)
	if view.Total != 3 || len(view.Items) != 1 || view.Items[0]["id"] != "p3" {
		t.Errorf("filtered view = %+v", view)
	}

	wantStatus(t, env.do(t, http.MethodPost, "/api/workspaces/"+ws+"/collections/permissions/refresh", nil, &view), http.StatusOK)
	if view.Total != 3 || len(view.Items) != 3 {
		t.Errorf("refreshed view = %+v", view)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/collections/ships", nil, nil), http.StatusNotFound)
}

func TestAPI_addAccessLevel(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	view := env.openForm(t, ws, forms.AccessLevel, "")
	base := "/api/workspaces/" + ws + "/sessions/" + view.SessionID

	wantStatus(t, env.do(t, http.MethodPatch, base+"/fields", setFieldRequest{Path: "name", Value: "Operators"}, nil), http.StatusOK)
	wantStatus(t, env.do(t, http.MethodPost, base+"/sets/module", selectModuleRequest{Path: "permissions", Module: "Vendors", Included: true}, nil), http.StatusOK)

	var got workspace.FormView
	wantStatus(t, env.do(t, http.MethodPost, base+"/sets/toggle", toggleSetRequest{Path: "permissions", ID: "p2"}, &got), http.StatusOK)
	if diff := cmp.Diff([]string{"p1"}, got.Selections["permissions"]); diff != "" {
		t.Errorf("selection (-want +got):\n%s", diff)
	}
	if !got.Dirty {
		t.Error("form should be dirty")
	}

	wantStatus(t, env.do(t, http.MethodPost, base+"/submit", nil, &got), http.StatusOK)
	if got.State.String() != "closed" {
		t.Errorf("state after submit = %v, want closed", got.State)
	}
	wantStatus(t, env.do(t, http.MethodGet, base, nil, nil), http.StatusNotFound)

	var notes notificationsResponse
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/notifications", nil, &notes), http.StatusOK)
	want := []model.Notification{{Severity: model.NotifySuccess, Message: "Access level created", Source: forms.AccessLevel}}
	if diff := cmp.Diff(want, notes.Notifications); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}

	var levels workspace.CollectionView
	env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/collections/access_levels", nil, &levels)
	if levels.Total != 2 {
		t.Errorf("access levels after submit = %d, want 2", levels.Total)
	}
}

func TestAPI_submitValidationError(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	view := env.openForm(t, ws, forms.AccessLevel, "")

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	w := env.do(t, http.MethodPost, "/api/workspaces/"+ws+"/sessions/"+view.SessionID+"/submit", nil, &resp)
	wantStatus(t, w, http.StatusUnprocessableEntity)
	if len(resp.Error.Details) == 0 || resp.Error.Details[0].Field != "name" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}

func TestAPI_sessionInvalidDuringSubmit(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	view := env.openForm(t, ws, forms.AccessLevel, "")
	base := "/api/workspaces/" + ws + "/sessions/" + view.SessionID
	env.do(t, http.MethodPatch, base+"/fields", setFieldRequest{Path: "name", Value: "Night shift"}, nil)

	env.agency.reject.Store(true)
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	wantStatus(t, env.do(t, http.MethodPost, base+"/submit", nil, &resp), http.StatusUnauthorized)
	if resp.Error.Code != model.ErrSessionInvalid || resp.Error.Redirect != "/login" {
		t.Errorf("envelope = %+v", resp.Error)
	}

	// The rejected token cannot keep using the workspace.
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/notifications", nil, nil), http.StatusUnauthorized)
	w, err := env.mgr.Get(ws)
	if err != nil {
		t.Fatal(err)
	}
	if notes := w.Notifications(); len(notes) != 0 {
		t.Errorf("notifications = %+v, want none after a 401", notes)
	}
}

func TestAPI_closeChangedFormSavesDraft(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	view := env.openForm(t, ws, forms.AccessLevel, "")
	base := "/api/workspaces/" + ws + "/sessions/" + view.SessionID
	env.do(t, http.MethodPatch, base+"/fields", setFieldRequest{Path: "name", Value: "Half done"}, nil)

	var closed closeResponse
	wantStatus(t, env.do(t, http.MethodDelete, base, nil, &closed), http.StatusOK)
	if closed.State.String() != "confirm_discard" {
		t.Fatalf("state = %v, want confirm_discard", closed.State)
	}

	wantStatus(t, env.do(t, http.MethodPost, base+"/close", map[string]string{"choice": "bogus"}, nil), http.StatusBadRequest)
	wantStatus(t, env.do(t, http.MethodPost, base+"/close", map[string]string{"choice": "save_draft"}, &closed), http.StatusOK)
	if closed.State.String() != "closed" {
		t.Fatalf("state = %v, want closed", closed.State)
	}

	resumed := env.openForm(t, ws, forms.AccessLevel, "")
	if !resumed.Resumed || resumed.Document["name"] != "Half done" {
		t.Errorf("reopened view = %+v", resumed.View)
	}
}

func TestAPI_groupsOnVendorForm(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	view := env.openForm(t, ws, forms.Vendor, "")
	base := "/api/workspaces/" + ws + "/sessions/" + view.SessionID

	var got workspace.FormView
	wantStatus(t, env.do(t, http.MethodPost, base+"/groups", addGroupRequest{Path: "pics"}, &got), http.StatusOK)
	if pics, _ := got.Document["pics"].([]any); len(pics) != 2 {
		t.Fatalf("pics = %v, want 2 entries", got.Document["pics"])
	}

	wantStatus(t, env.do(t, http.MethodDelete, base+"/groups?path=pics&index=x", nil, nil), http.StatusBadRequest)
	wantStatus(t, env.do(t, http.MethodDelete, base+"/groups?path=pics&index=1", nil, &got), http.StatusOK)
	if pics, _ := got.Document["pics"].([]any); len(pics) != 1 {
		t.Errorf("pics = %v, want 1 entry", got.Document["pics"])
	}
}

func TestAPI_deleteNeedsConfirmation(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	base := "/api/workspaces/" + ws + "/collections/access_levels/delete-requests"

	var pending struct {
		Token string `json:"token"`
		Label string `json:"label"`
	}
	wantStatus(t, env.do(t, http.MethodPost, base, deleteRequest{EntityID: "al-1"}, &pending), http.StatusCreated)
	if pending.Token == "" || pending.Label != "Clerks" {
		t.Fatalf("pending = %+v", pending)
	}
	env.agency.mu.Lock()
	sent := len(env.agency.deleted)
	env.agency.mu.Unlock()
	if sent != 0 {
		t.Fatal("delete sent before confirmation")
	}

	wantStatus(t, env.do(t, http.MethodPost, base+"/"+pending.Token+"/confirm", nil, nil), http.StatusNoContent)
	wantStatus(t, env.do(t, http.MethodPost, base+"/"+pending.Token+"/confirm", nil, nil), http.StatusNotFound)

	env.agency.mu.Lock()
	deleted := slices.Clone(env.agency.deleted)
	env.agency.mu.Unlock()
	if diff := cmp.Diff([]string{"al-1"}, deleted); diff != "" {
		t.Errorf("deleted (-want +got):\n%s", diff)
	}
}

func TestAPI_cancelDelete(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)
	base := "/api/workspaces/" + ws + "/collections/access_levels/delete-requests"

	var pending struct {
		Token string `json:"token"`
	}
	env.do(t, http.MethodPost, base, deleteRequest{EntityID: "al-1"}, &pending)
	wantStatus(t, env.do(t, http.MethodDelete, base+"/"+pending.Token, nil, nil), http.StatusNoContent)
	wantStatus(t, env.do(t, http.MethodPost, base+"/"+pending.Token+"/confirm", nil, nil), http.StatusNotFound)
}

func TestAPI_document(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)

	w := env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/collections/invoices/inv-1/document", nil, nil)
	wantStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", ct)
	}
	if w.Body.String() != "%PDF-1.4 invoice" {
		t.Errorf("body = %q", w.Body.String())
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/collections/permissions/p1/document", nil, nil), http.StatusBadRequest)
}

func TestAPI_documentAlerts(t *testing.T) {
	env := newAPIEnv(t)
	ws := env.createWorkspace(t)

	var resp alertsResponse
	wantStatus(t, env.do(t, http.MethodGet, "/api/workspaces/"+ws+"/alerts/documents", nil, &resp), http.StatusOK)
	if len(resp.Groups) != 1 || resp.Groups[0].Key != "Crew permit" {
		t.Fatalf("groups = %+v", resp.Groups)
	}
	if items := resp.Groups[0].Items; len(items) != 1 || items[0].Name != "Permit A" {
		t.Errorf("items = %+v", items)
	}
}
