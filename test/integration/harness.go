// Package integration provides a reusable test harness for end-to-end
// integration testing of the portdesk server. It starts the full HTTP stack
// against a mock port-agency backend, a selectable draft store and a test
// JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/portdesk/internal/backend"
	"github.com/pitabwire/portdesk/internal/config"
	"github.com/pitabwire/portdesk/internal/definition"
	"github.com/pitabwire/portdesk/internal/draft"
	"github.com/pitabwire/portdesk/internal/forms"
	"github.com/pitabwire/portdesk/internal/observability"
	"github.com/pitabwire/portdesk/internal/openapi"
	"github.com/pitabwire/portdesk/internal/transport"
	"github.com/pitabwire/portdesk/internal/workspace"
)

// TestHarness encapsulates a fully wired portdesk instance with a mock
// backend for integration testing.
type TestHarness struct {
	t       *testing.T
	server  *httptest.Server
	issuer  *tokenIssuer
	backend *MockBackend

	// Internal components exposed for advanced test scenarios.
	Config       *config.Config
	OAIndex      *openapi.Index
	Registry     *definition.Registry
	Client       *backend.Client
	DraftBackend draft.Backend
	Drafts       *draft.Store
	Manager      *workspace.Manager
	Metrics      *observability.Metrics
	Gatherer     *prometheus.Registry
	Redis        *miniredis.Miniredis
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	draftDriver      string
	namespaceDrafts  bool
	handlerTimeout   time.Duration
	backendTimeout   time.Duration
	failureThreshold int
	breakerTimeout   time.Duration
}

// WithDraftDriver selects the draft store: "memory", "redis" (backed by
// miniredis) or "sqlite" (a file in the test's temp dir).
func WithDraftDriver(driver string) HarnessOption {
	return func(c *harnessConfig) {
		c.draftDriver = driver
	}
}

// WithNamespacedDrafts keys drafts by the token subject.
func WithNamespacedDrafts() HarnessOption {
	return func(c *harnessConfig) {
		c.namespaceDrafts = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithBackendTimeout sets the backend client timeout.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.backendTimeout = d
	}
}

// WithCircuitBreaker sets the backend circuit breaker threshold and open
// timeout.
func WithCircuitBreaker(failureThreshold int, timeout time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.failureThreshold = failureThreshold
		c.breakerTimeout = timeout
	}
}

// NewTestHarness creates and starts a full portdesk test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{draftDriver: "memory"}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}
	ctx := context.Background()

	// Step 1: Start the token issuer and the mock backend.
	h.issuer = newTokenIssuer(t)
	h.backend = newMockBackend(t, h.issuer)
	seedFixtures(h.backend)

	// Step 2: Write the config with the backend URL and load it the way
	// the server does.
	h.Config = loadConfig(t, h.backend.URL())
	if hc.handlerTimeout > 0 {
		h.Config.Server.HandlerTimeout = hc.handlerTimeout
	}
	if hc.backendTimeout > 0 {
		h.Config.Backend.Timeout = hc.backendTimeout
	}
	if hc.failureThreshold > 0 {
		h.Config.Backend.CircuitBreaker.FailureThreshold = hc.failureThreshold
		h.Config.Backend.CircuitBreaker.Timeout = hc.breakerTimeout
	}
	h.Config.Session.NamespaceDrafts = hc.namespaceDrafts
	h.Config.Drafts.Driver = hc.draftDriver

	// Step 3: Observability on a private registry.
	logger := zap.NewNop()
	h.Gatherer = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Gatherer)

	// Step 4: Load the OpenAPI index.
	h.OAIndex = openapi.NewIndex()
	if err := h.OAIndex.Load(ctx, h.Config.Backend.OpenAPISpec); err != nil {
		t.Fatalf("load OpenAPI document: %v", err)
	}

	// Step 5: Load and validate the built-in forms.
	defs, err := forms.Definitions()
	if err != nil {
		t.Fatalf("built-in forms: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs, h.OAIndex); len(verrs) > 0 {
		t.Fatalf("definition validation: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	// Step 6: Build the draft store.
	h.DraftBackend = h.newDraftBackend(hc.draftDriver)
	h.Drafts = draft.NewStore(h.DraftBackend, logger, h.Metrics)

	// Step 7: Backend client and workspace manager.
	h.Client = backend.New(h.Config.Backend,
		backend.WithIndex(h.OAIndex),
		backend.WithLoginRedirect(h.Config.Session.LoginRedirect),
		backend.WithLogger(logger),
		backend.WithMetrics(h.Metrics),
	)
	h.Manager = workspace.NewManager(workspace.Deps{
		Client:      h.Client,
		Registry:    h.Registry,
		Drafts:      h.Drafts,
		Collections: h.Config.Collections,
		Session:     h.Config.Session,
		Workspace:   h.Config.Workspace,
		Alerts:      h.Config.Alerts,
		Logger:      logger,
		Metrics:     h.Metrics,
	})
	t.Cleanup(h.Manager.CloseAll)

	// Step 8: Build the router with the full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:   h.Config,
		Manager:  h.Manager,
		Logger:   logger,
		Metrics:  h.Metrics,
		Gatherer: h.Gatherer,
		Ready: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return h.Registry.Len() > 0 },
			OpenAPILoaded:     func() bool { return h.OAIndex.Len() > 0 },
			DraftStore:        h.Drafts,
			Backend:           h.Client,
		},
	})

	// Step 9: Start the test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

func loadConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	dir := testdataDir()
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config template: %v", err)
	}
	content := strings.NewReplacer(
		"{{BACKEND_URL}}", backendURL,
		"{{SPEC_PATH}}", filepath.Join(dir, "portagency.yaml"),
	).Replace(string(data))

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func (h *TestHarness) newDraftBackend(driver string) draft.Backend {
	h.t.Helper()
	switch driver {
	case "memory":
		return draft.NewMemoryBackend(h.Config.Drafts.TTL)
	case "redis":
		h.Redis = miniredis.RunT(h.t)
		rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		h.t.Cleanup(func() { rdb.Close() })
		return draft.NewRedisBackend(rdb, h.Config.Drafts.Redis.Prefix, h.Config.Drafts.TTL)
	case "sqlite":
		b, err := draft.OpenSQLite(context.Background(), filepath.Join(h.t.TempDir(), "drafts.db"))
		if err != nil {
			h.t.Fatalf("open sqlite drafts: %v", err)
		}
		h.t.Cleanup(func() { b.Close() })
		return b
	default:
		h.t.Fatalf("unsupported draft driver %q", driver)
		return nil
	}
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Backend returns the mock port-agency backend.
func (h *TestHarness) Backend() *MockBackend {
	return h.backend
}

// GenerateToken creates a valid JWT for subject.
func (h *TestHarness) GenerateToken(subject string) string {
	h.t.Helper()
	return h.issuer.generateToken(h.t, subject)
}

// GenerateExpiredToken creates a JWT for subject that has already expired.
func (h *TestHarness) GenerateExpiredToken(subject string) string {
	h.t.Helper()
	return h.issuer.generateExpiredToken(h.t, subject)
}

// DraftKey returns the backend key a form's draft is stored under.
func (h *TestHarness) DraftKey(subject, formKey, entityID string) string {
	key := draft.Key(formKey, entityID)
	if h.Config.Session.NamespaceDrafts {
		key = draft.Namespaced(subject, key)
	}
	return key
}

// HasDraft reports whether the draft store holds a value under key.
func (h *TestHarness) HasDraft(key string) bool {
	h.t.Helper()
	_, found, err := h.DraftBackend.Get(context.Background(), key)
	if err != nil {
		h.t.Fatalf("draft get %q: %v", key, err)
	}
	return found
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPatch, path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code and
// closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Workspace helpers ---

// CreateWorkspace opens a workspace for token and returns its id.
func (h *TestHarness) CreateWorkspace(t *testing.T, token string) string {
	t.Helper()
	var info workspace.Info
	h.AssertJSON(t, h.POST("/api/workspaces", nil, token), http.StatusCreated, &info)
	return info.ID
}

// OpenForm opens formID in ws, editing entityID when it is non-empty.
func (h *TestHarness) OpenForm(t *testing.T, ws, formID, entityID, token string) workspace.FormView {
	t.Helper()
	var view workspace.FormView
	body := map[string]string{"entity_id": entityID}
	h.AssertJSON(t, h.POST("/api/workspaces/"+ws+"/forms/"+formID, body, token), http.StatusCreated, &view)
	return view
}

// SessionPath returns the API path of a form session.
func SessionPath(ws, sid string) string {
	return "/api/workspaces/" + ws + "/sessions/" + sid
}

// ErrorBody is the decoded error response envelope.
type ErrorBody struct {
	Error struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Redirect string `json:"redirect"`
		Details  []struct {
			Field string `json:"field"`
		} `json:"details"`
	} `json:"error"`
}

// --- Fixtures ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// seedFixtures configures the list endpoints every workspace mounts.
func seedFixtures(mb *MockBackend) {
	mb.OnOperation("listPermissions").RespondWith(http.StatusOK, map[string]any{
		"success": true,
		"permissions": []any{
			map[string]any{"id": "p1", "name": "View vendors", "module": "Vendors"},
			map[string]any{"id": "p2", "name": "Edit vendors", "module": "Vendors"},
			map[string]any{"id": "p3", "name": "View invoices", "module": "Invoices"},
			map[string]any{"id": "p4", "name": "Edit invoices", "module": "Invoices"},
		},
	})
	mb.OnOperation("listAccessLevels").RespondWith(http.StatusOK, map[string]any{
		"success": true,
		"accessLevels": []any{
			map[string]any{"id": "al-1", "name": "Clerks", "description": "Front desk", "permissions": []any{"p1"}},
		},
	})
	mb.OnOperation("listVendors").RespondWith(http.StatusOK, ListFixture("data", VendorFixture("v-1", "Harbour Supplies")))
	mb.OnOperation("listServices").RespondWith(http.StatusOK, ListFixture("data",
		map[string]any{"id": "s1", "name": "Bunkering"},
		map[string]any{"id": "s2", "name": "Launch"},
	))
	mb.OnOperation("listInvoices").RespondWith(http.StatusOK, ListFixture("data", InvoiceFixture("inv-1", "100.00")))
	mb.OnOperation("listDocuments").RespondWith(http.StatusOK, ListFixture("data",
		map[string]any{"id": "d1", "type": "Crew permit", "name": "Permit A", "expiry_date": "2020-01-01"},
		map[string]any{"id": "d2", "type": "Crew permit", "name": "Permit B", "expiry_date": "2999-01-01"},
	))
}

// ListFixture returns a success list response holding items under key.
func ListFixture(key string, items ...map[string]any) map[string]any {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return map[string]any{"success": true, key: list}
}

// VendorFixture returns a vendor with one person in charge.
func VendorFixture(id, name string) map[string]any {
	return map[string]any{
		"id":       id,
		"name":     name,
		"email":    "ops@harbour.test",
		"phone":    "",
		"address":  "",
		"services": []any{"s1"},
		"pics": []any{map[string]any{
			"name":            "Ana",
			"designation":     "Manager",
			"contact_numbers": []any{"+1 555 0100"},
			"emails":          []any{"ana@harbour.test"},
		}},
	}
}

// InvoiceFixture returns a PDA invoice with one table holding one row.
func InvoiceFixture(id, amount string) map[string]any {
	return map[string]any{
		"id":           id,
		"port_call_id": "pc-7",
		"kind":         "pda",
		"currency":     "USD",
		"date":         "2026-03-10",
		"time":         "09:00",
		"tables": []any{map[string]any{
			"title": "Port dues",
			"rows": []any{map[string]any{
				"no": float64(1), "description": "Light dues", "amount": amount, "remarks": "",
			}},
		}},
	}
}

// ErrorFixture returns an agency error body.
func ErrorFixture(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
