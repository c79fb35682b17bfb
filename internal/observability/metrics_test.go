package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	// Record a value for each vector so they appear in Gather.
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 100)
	m.RecordDraftOperation("save", "ok")
	m.RecordCollectionRefresh("permissions", "success", time.Millisecond)
	m.RecordFormSubmit("vendor", "success", time.Millisecond)
	m.RecordFormValidationFailure("vendor")
	m.AddFormSessions(1)
	m.RecordSessionInvalidation()
	m.RecordBackendRequest("GET", "/api/permissions", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState(0)
	m.RecordBackendRetry()
	m.AddWorkspaces(1)
	m.SetDefinitionsLoaded(4)
	m.SetOpenAPIOperationsIndexed(12)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"portdesk_http_requests_total",
		"portdesk_http_request_duration_seconds",
		"portdesk_http_response_size_bytes",
		"portdesk_draft_operations_total",
		"portdesk_collection_refresh_total",
		"portdesk_collection_refresh_duration_seconds",
		"portdesk_form_submits_total",
		"portdesk_form_submit_duration_seconds",
		"portdesk_form_validation_failures_total",
		"portdesk_form_sessions_active",
		"portdesk_session_invalidations_total",
		"portdesk_backend_requests_total",
		"portdesk_backend_request_duration_seconds",
		"portdesk_backend_circuit_breaker_state",
		"portdesk_backend_retries_total",
		"portdesk_workspaces_active",
		"portdesk_definitions_loaded",
		"portdesk_openapi_operations_indexed",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordDraftOperation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDraftOperation("load", "corrupt")
	m.RecordDraftOperation("load", "corrupt")
	m.RecordDraftOperation("save", "error")

	if got := testutil.ToFloat64(m.DraftOperationsTotal.WithLabelValues("load", "corrupt")); got != 2 {
		t.Errorf("load/corrupt = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DraftOperationsTotal.WithLabelValues("save", "error")); got != 1 {
		t.Errorf("save/error = %v, want 1", got)
	}
}

func TestRecordCollectionRefresh(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCollectionRefresh("access_levels", "success", 10*time.Millisecond)
	m.RecordCollectionRefresh("access_levels", "session_invalid", 5*time.Millisecond)

	if got := testutil.ToFloat64(m.CollectionRefreshTotal.WithLabelValues("access_levels", "session_invalid")); got != 1 {
		t.Errorf("session_invalid refreshes = %v, want 1", got)
	}
}

func TestGauges_addAndSubtract(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.AddFormSessions(1)
	m.AddFormSessions(1)
	m.AddFormSessions(-1)
	m.AddWorkspaces(3)

	if got := testutil.ToFloat64(m.FormSessionsActive); got != 1 {
		t.Errorf("form sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.WorkspacesActive); got != 3 {
		t.Errorf("workspaces = %v, want 3", got)
	}
}

func TestMetrics_nilSafe(t *testing.T) {
	var m *Metrics
	m.RecordDraftOperation("save", "ok")
	m.RecordFormSubmit("vendor", "success", time.Second)
	m.RecordBackendRetry()
	m.AddWorkspaces(1)
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/workspaces/{ws}/sessions/{sid}/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/w1/sessions/s1/submit", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/workspaces/{ws}/sessions/{sid}/submit", "422"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
	if testutil.CollectAndCount(m.HTTPResponseSizeBytes) == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordDraftOperation("clear", "ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "portdesk_draft_operations_total") {
		t.Error("metrics response should contain draft operations counter")
	}
}
