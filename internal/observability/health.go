package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Set at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the body of GET /ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult reports one readiness probe.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by dependencies that can probe themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks lists what must be up before the service takes traffic.
// DefinitionsLoaded is always probed; nil optional entries are skipped.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool

	OpenAPILoaded func() bool
	DraftStore    HealthChecker
	Backend       HealthChecker
}

const checkTimeout = 2 * time.Second

type probe struct {
	name string
	run  func(ctx context.Context) error
}

func flagProbe(name string, loaded func() bool, failure string) probe {
	return probe{name: name, run: func(context.Context) error {
		if loaded == nil || !loaded() {
			return errors.New(failure)
		}
		return nil
	}}
}

func (c ReadinessChecks) probes() []probe {
	probes := []probe{flagProbe("definitions", c.DefinitionsLoaded, "no form definitions loaded")}
	if c.OpenAPILoaded != nil {
		probes = append(probes, flagProbe("openapi_index", c.OpenAPILoaded, "backend OpenAPI document not loaded"))
	}
	if c.DraftStore != nil {
		probes = append(probes, probe{name: "draft_store", run: c.DraftStore.HealthCheck})
	}
	if c.Backend != nil {
		probes = append(probes, probe{name: "backend", run: c.Backend.HealthCheck})
	}
	return probes
}

// HandleHealth serves the liveness probe. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady serves the readiness probe. All checks run concurrently, each
// bounded by checkTimeout; any failure answers 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make([]CheckResult, len(probes))

		var wg sync.WaitGroup
		for i, p := range probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runProbe(r.Context(), p)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(probes))}
		status := http.StatusOK
		for i, p := range probes {
			resp.Checks[p.name] = results[i]
			if results[i].Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
			}
		}
		writeProbeJSON(w, status, resp)
	}
}

func runProbe(parent context.Context, p probe) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.run(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeProbeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
