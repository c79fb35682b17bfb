package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitabwire/portdesk/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("form session not found"))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
	ee := decodeEnvelope(t, w)
	if ee.Code != model.ErrNotFound || ee.Message != "form session not found" {
		t.Errorf("envelope = %+v", ee)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	err := fmt.Errorf("open form: %w", model.NewSessionInvalidError("/login"))
	WriteError(w, err)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	ee := decodeEnvelope(t, w)
	if ee.Code != model.ErrSessionInvalid || ee.Redirect != "/login" {
		t.Errorf("envelope = %+v", ee)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("boom"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ee := decodeEnvelope(t, w); ee.Code != model.ErrInternalError {
		t.Errorf("code = %q, want INTERNAL_ERROR", ee.Code)
	}
}

func TestWriteError_validationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewValidationError([]model.FieldError{
		{Field: "name", Code: "REQUIRED", Message: "Name is required"},
	}))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	ee := decodeEnvelope(t, w)
	if len(ee.Details) != 1 || ee.Details[0].Field != "name" {
		t.Errorf("details = %+v", ee.Details)
	}
}

func TestStatusForCode_coverage(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrBadRequest, 400},
		{model.ErrSessionInvalid, 401},
		{model.ErrNotFound, 404},
		{model.ErrConflict, 409},
		{model.ErrSubmitInProgress, 409},
		{model.ErrInvalidState, 409},
		{model.ErrValidationError, 422},
		{model.ErrInternalError, 500},
		{model.ErrRequestFailed, 502},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := statusForCode[tt.code]; got != tt.want {
				t.Errorf("statusForCode[%s] = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Path string `json:"path"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"path":"name"}`))
	if err := decodeJSON(r, &v); err != nil || v.Path != "name" {
		t.Errorf("decodeJSON() = %v, path %q", err, v.Path)
	}

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	if err := decodeJSON(r, &v); err != nil {
		t.Errorf("decodeJSON(empty) error = %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"path":`))
	if err := decodeJSON(r, &v); !model.IsCode(err, model.ErrBadRequest) {
		t.Errorf("decodeJSON(truncated) error = %v, want BAD_REQUEST", err)
	}

	big := `{"path":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	r.Body = http.MaxBytesReader(httptest.NewRecorder(), r.Body, maxBodyBytes)
	err := decodeJSON(r, &v)
	if !model.IsCode(err, model.ErrBadRequest) || !strings.Contains(err.Error(), "too large") {
		t.Errorf("decodeJSON(oversized) error = %v, want body too large", err)
	}
}
