package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// agencyEndpoints maps each backend operation the harness serves to its
// net/http mux pattern. Operations without an operationId in the OpenAPI
// document are named here only.
var agencyEndpoints = map[string]string{
	"listPermissions":   "GET /api/permissions",
	"listAccessLevels":  "GET /api/access-levels",
	"createAccessLevel": "POST /api/access-levels",
	"updateAccessLevel": "PUT /api/access-levels/{id}",
	"deleteAccessLevel": "DELETE /api/access-levels/{id}",
	"listVendors":       "GET /api/vendors",
	"createVendor":      "POST /api/vendors",
	"updateVendor":      "PUT /api/vendors/{id}",
	"listServices":      "GET /api/services",
	"listInvoices":      "GET /api/invoices",
	"createInvoice":     "POST /api/invoices",
	"updateInvoice":     "PUT /api/invoices/{id}",
	"invoicePDF":        "GET /api/invoices/{id}/pdf",
	"listDocuments":     "GET /api/documents",
}

// MockBackend stands in for the port agency API. Every call is checked
// against the harness token issuer, answered from a per-operation script and
// recorded.
type MockBackend struct {
	server *httptest.Server
	issuer *tokenIssuer

	mu      sync.Mutex
	scripts map[string]*script
	calls   map[string][]*RecordedRequest
}

// RecordedRequest is one call received by the mock backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Subject    string // verified token subject, "" when rejected
	Body       map[string]any
	RawBody    []byte
	ReceivedAt time.Time
}

// reply is one scripted answer. Exactly one of body, raw or dropConn applies.
type reply struct {
	status      int
	body        any
	raw         []byte
	contentType string
	delay       time.Duration
	dropConn    bool
}

// script plays replies in order and then keeps repeating the last one.
type script struct {
	replies []reply
	next    int
}

func (s *script) take() (reply, bool) {
	if len(s.replies) == 0 {
		return reply{}, false
	}
	i := min(s.next, len(s.replies)-1)
	if s.next < len(s.replies) {
		s.next++
	}
	return s.replies[i], true
}

func newMockBackend(t *testing.T, issuer *tokenIssuer) *MockBackend {
	t.Helper()
	mb := &MockBackend{
		issuer:  issuer,
		scripts: make(map[string]*script),
		calls:   make(map[string][]*RecordedRequest),
	}
	mux := http.NewServeMux()
	for op, pattern := range agencyEndpoints {
		mux.HandleFunc(pattern, mb.serve(op))
	}
	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL is the backend base URL written into the harness config.
func (mb *MockBackend) URL() string { return mb.server.URL }

// Script queues replies for one operation.
type Script struct {
	mb *MockBackend
	op string
}

// OnOperation starts scripting op. Replies queue behind any already there.
func (mb *MockBackend) OnOperation(op string) *Script {
	return &Script{mb: mb, op: op}
}

func (s *Script) push(r reply) *Script {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	sc := s.mb.scripts[s.op]
	if sc == nil {
		sc = &script{}
		s.mb.scripts[s.op] = sc
	}
	sc.replies = append(sc.replies, r)
	return s
}

// RespondWith queues a JSON reply.
func (s *Script) RespondWith(status int, body any) *Script {
	return s.push(reply{status: status, body: body})
}

// RespondWithText queues a plain-text reply, as some agency endpoints send
// on failure.
func (s *Script) RespondWithText(status int, text string) *Script {
	return s.push(reply{status: status, raw: []byte(text), contentType: "text/plain; charset=utf-8"})
}

// RespondWithBytes queues a 200 binary reply such as a PDF.
func (s *Script) RespondWithBytes(contentType string, data []byte) *Script {
	return s.push(reply{status: http.StatusOK, raw: data, contentType: contentType})
}

// RespondWithDelay queues a JSON reply sent after delay, unless the caller
// gives up first.
func (s *Script) RespondWithDelay(delay time.Duration, status int, body any) *Script {
	return s.push(reply{status: status, body: body, delay: delay})
}

// RespondWithConnectionError queues a reply that drops the connection.
func (s *Script) RespondWithConnectionError() *Script {
	return s.push(reply{dropConn: true})
}

func (mb *MockBackend) serve(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := &RecordedRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			Headers:    r.Header.Clone(),
			ReceivedAt: time.Now(),
		}
		call.RawBody, _ = io.ReadAll(r.Body)
		if len(call.RawBody) > 0 {
			_ = json.Unmarshal(call.RawBody, &call.Body)
		}
		subject, authErr := mb.issuer.verify(r)
		call.Subject = subject

		mb.mu.Lock()
		mb.calls[op] = append(mb.calls[op], call)
		var (
			rep      reply
			scripted bool
		)
		if sc := mb.scripts[op]; sc != nil {
			rep, scripted = sc.take()
		}
		mb.mu.Unlock()

		switch {
		case authErr != nil:
			writeMockJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"message": "unauthorized: " + authErr.Error(),
			})
		case !scripted:
			writeMockJSON(w, http.StatusOK, map[string]any{"success": true})
		case rep.dropConn:
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
		default:
			if rep.delay > 0 {
				t := time.NewTimer(rep.delay)
				defer t.Stop()
				select {
				case <-t.C:
				case <-r.Context().Done():
					return
				}
			}
			if rep.raw != nil {
				w.Header().Set("Content-Type", rep.contentType)
				w.WriteHeader(rep.status)
				_, _ = w.Write(rep.raw)
				return
			}
			writeMockJSON(w, rep.status, rep.body)
		}
	}
}

func writeMockJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// AssertCalled fails t unless op was called exactly want times.
func (mb *MockBackend) AssertCalled(t *testing.T, op string, want int) {
	t.Helper()
	if got := len(mb.AllRequests(op)); got != want {
		t.Errorf("mock backend: %s called %d times, want %d", op, got, want)
	}
}

// AssertNotCalled fails t if op was called at all.
func (mb *MockBackend) AssertNotCalled(t *testing.T, op string) {
	t.Helper()
	mb.AssertCalled(t, op, 0)
}

// LastRequest returns the most recent call to op, or nil.
func (mb *MockBackend) LastRequest(op string) *RecordedRequest {
	calls := mb.AllRequests(op)
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

// AllRequests returns the calls to op in arrival order.
func (mb *MockBackend) AllRequests(op string) []*RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return append([]*RecordedRequest(nil), mb.calls[op]...)
}
