package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portdesk"

var (
	// Latency of the API itself, which waits on the backend.
	apiLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// Latency of a single backend round trip.
	backendLatencyBuckets = prometheus.ExponentialBuckets(0.005, 2.5, 9)
	// Payload sizes from an empty envelope up to a full invoice with tables.
	payloadBuckets = prometheus.ExponentialBuckets(128, 4, 7)
)

// Metrics holds the Prometheus instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	DraftOperationsTotal *prometheus.CounterVec

	CollectionRefreshTotal    *prometheus.CounterVec
	CollectionRefreshDuration *prometheus.HistogramVec

	FormSubmitsTotal          *prometheus.CounterVec
	FormSubmitDuration        *prometheus.HistogramVec
	FormValidationFailures    *prometheus.CounterVec
	FormSessionsActive        prometheus.Gauge
	SessionInvalidationsTotal prometheus.Counter

	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        prometheus.Counter

	WorkspacesActive         prometheus.Gauge
	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed prometheus.Gauge
}

// InitMetrics creates every instrument and registers it with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	httpLabels := []string{"method", "path_pattern"}

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by route and status.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "API request latency.", Buckets: apiLatencyBuckets,
		}, httpLabels),
		HTTPRequestSizeBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_size_bytes",
			Help: "API request body size.", Buckets: payloadBuckets,
		}, httpLabels),
		HTTPResponseSizeBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "response_size_bytes",
			Help: "API response body size.", Buckets: payloadBuckets,
		}, httpLabels),

		DraftOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "draft", Name: "operations_total",
			Help: "Draft store operations by op (save, load, clear) and result (ok, miss, corrupt, error).",
		}, []string{"op", "result"}),

		CollectionRefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "collection", Name: "refresh_total",
			Help: "Collection refreshes by outcome.",
		}, []string{"collection", "outcome"}),
		CollectionRefreshDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "collection", Name: "refresh_duration_seconds",
			Help: "Collection refresh latency.", Buckets: backendLatencyBuckets,
		}, []string{"collection"}),

		FormSubmitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "form", Name: "submits_total",
			Help: "Form submissions by outcome.",
		}, []string{"form_id", "outcome"}),
		FormSubmitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "form", Name: "submit_duration_seconds",
			Help: "Form submission latency.", Buckets: backendLatencyBuckets,
		}, []string{"form_id"}),
		FormValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "form", Name: "validation_failures_total",
			Help: "Submissions stopped by local required-field checks.",
		}, []string{"form_id"}),
		FormSessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "form", Name: "sessions_active",
			Help: "Open form sessions.",
		}),
		SessionInvalidationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "invalidations_total",
			Help: "Sessions torn down after the backend answered 401.",
		}),

		BackendRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backend", Name: "requests_total",
			Help: "Backend calls by endpoint and status; status 0 is a transport failure.",
		}, []string{"method", "endpoint", "status"}),
		BackendRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "backend", Name: "request_duration_seconds",
			Help: "Backend round-trip latency.", Buckets: backendLatencyBuckets,
		}, []string{"method"}),
		BackendCircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "backend", Name: "circuit_breaker_state",
			Help: "Backend circuit breaker: 0 closed, 1 open, 2 half-open.",
		}),
		BackendRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "backend", Name: "retries_total",
			Help: "Backend calls retried after a transient failure.",
		}),

		WorkspacesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workspaces_active",
			Help: "Open workspaces.",
		}),
		DefinitionsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "definitions_loaded",
			Help: "Form definitions in the registry.",
		}),
		OpenAPIOperationsIndexed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "openapi_operations_indexed",
			Help: "Operations indexed from the backend OpenAPI document.",
		}),
	}
}

// RecordHTTPRequest observes one completed API request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	if reqSize > 0 {
		m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	}
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

func (m *Metrics) RecordDraftOperation(op, result string) {
	if m != nil {
		m.DraftOperationsTotal.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) RecordCollectionRefresh(collection, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CollectionRefreshTotal.WithLabelValues(collection, outcome).Inc()
	m.CollectionRefreshDuration.WithLabelValues(collection).Observe(duration.Seconds())
}

func (m *Metrics) RecordFormSubmit(formID, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FormSubmitsTotal.WithLabelValues(formID, outcome).Inc()
	m.FormSubmitDuration.WithLabelValues(formID).Observe(duration.Seconds())
}

func (m *Metrics) RecordFormValidationFailure(formID string) {
	if m != nil {
		m.FormValidationFailures.WithLabelValues(formID).Inc()
	}
}

func (m *Metrics) AddFormSessions(delta float64) {
	if m != nil {
		m.FormSessionsActive.Add(delta)
	}
}

func (m *Metrics) RecordSessionInvalidation() {
	if m != nil {
		m.SessionInvalidationsTotal.Inc()
	}
}

func (m *Metrics) RecordBackendRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState publishes the numeric breaker state.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m != nil {
		m.BackendCircuitBreakerState.Set(state)
	}
}

func (m *Metrics) RecordBackendRetry() {
	if m != nil {
		m.BackendRetriesTotal.Inc()
	}
}

func (m *Metrics) AddWorkspaces(delta float64) {
	if m != nil {
		m.WorkspacesActive.Add(delta)
	}
}

func (m *Metrics) SetDefinitionsLoaded(count float64) {
	if m != nil {
		m.DefinitionsLoaded.Set(count)
	}
}

func (m *Metrics) SetOpenAPIOperationsIndexed(count float64) {
	if m != nil {
		m.OpenAPIOperationsIndexed.Set(count)
	}
}

// MetricsMiddleware records every request under its chi route pattern so
// workspace and session ids never become label values.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start), int(max(r.ContentLength, 0)), ww.BytesWritten())
	})
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern returns the matched chi pattern, or the raw path when the
// request was not routed by chi.
func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if pattern := strings.TrimSuffix(strings.Join(rc.RoutePatterns, ""), "/*"); pattern != "" {
		return pattern
	}
	return r.URL.Path
}
