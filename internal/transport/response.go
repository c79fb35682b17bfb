// Package transport contains the HTTP router, middleware chain, and the
// request handlers that expose workspaces, collections and form sessions.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/portdesk/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrSessionInvalid:     http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrSubmitInProgress:   http.StatusConflict,
	model.ErrInvalidState:       http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrDraftCorrupt:       http.StatusInternalServerError,
	model.ErrDraftSerialization: http.StatusInternalServerError,
	model.ErrRequestFailed:      http.StatusBadGateway,
}

// maxBodyBytes caps request bodies. The largest payload is a form document
// with its tables and groups.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error *model.ErrorEnvelope `json:"error"`
}

func statusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON encodes body as the JSON response. A nil body writes headers only.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err as {"error": envelope}. Errors without an envelope
// in their chain are reported as INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, statusFor(ee.Code), errorBody{Error: ee})
}

// WriteNotFound writes a NOT_FOUND envelope with msg.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return model.NewBadRequestError("request body too large")
	default:
		return model.NewBadRequestError("invalid JSON body")
	}
}
