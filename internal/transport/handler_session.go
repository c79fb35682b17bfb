package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/portdesk/internal/form"
	"github.com/pitabwire/portdesk/model"
)

type openFormRequest struct {
	EntityID string `json:"entity_id"`
}

func handleOpenForm(w http.ResponseWriter, r *http.Request) {
	var req openFormRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ws := WorkspaceFrom(r.Context())
	sid, err := ws.OpenForm(r.Context(), chi.URLParam(r, "formId"), req.EntityID)
	if err != nil {
		WriteError(w, err)
		return
	}
	view, err := ws.View(sid)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, view)
}

// writeView renders the session after a successful operation.
func writeView(w http.ResponseWriter, r *http.Request) {
	view, err := WorkspaceFrom(r.Context()).View(chi.URLParam(r, "sid"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// withController resolves {sid} and runs op against its controller, then
// renders the session view.
func withController(w http.ResponseWriter, r *http.Request, op func(c *form.Controller) error) {
	ctrl, err := WorkspaceFrom(r.Context()).Form(chi.URLParam(r, "sid"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := op(ctrl); err != nil {
		WriteError(w, err)
		return
	}
	writeView(w, r)
}

func handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeView(w, r)
}

type setFieldRequest struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func handleSetField(w http.ResponseWriter, r *http.Request) {
	var req setFieldRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Path == "" {
		WriteError(w, model.NewBadRequestError("path is required"))
		return
	}
	withController(w, r, func(c *form.Controller) error {
		return c.SetField(r.Context(), req.Path, req.Value)
	})
}

type addGroupRequest struct {
	Path     string `json:"path"`
	Template any    `json:"template,omitempty"`
}

func handleAddGroupItem(w http.ResponseWriter, r *http.Request) {
	var req addGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	withController(w, r, func(c *form.Controller) error {
		return c.AddGroupItem(r.Context(), req.Path, req.Template)
	})
}

func handleRemoveGroupItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	index, err := strconv.Atoi(q.Get("index"))
	if err != nil {
		WriteError(w, model.NewBadRequestError("index must be an integer"))
		return
	}
	withController(w, r, func(c *form.Controller) error {
		return c.RemoveGroupItem(r.Context(), q.Get("path"), index)
	})
}

type toggleSetRequest struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

func handleToggleSet(w http.ResponseWriter, r *http.Request) {
	var req toggleSetRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	withController(w, r, func(c *form.Controller) error {
		return c.ToggleSetMembership(r.Context(), req.Path, req.ID)
	})
}

type bulkSetRequest struct {
	Path     string   `json:"path"`
	IDs      []string `json:"ids"`
	Included bool     `json:"included"`
}

func handleBulkSet(w http.ResponseWriter, r *http.Request) {
	var req bulkSetRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	withController(w, r, func(c *form.Controller) error {
		return c.BulkSetMembership(r.Context(), req.Path, req.IDs, req.Included)
	})
}

type selectModuleRequest struct {
	Path     string `json:"path"`
	Module   string `json:"module"`
	Term     string `json:"term"`
	Included bool   `json:"included"`
}

func handleSelectModule(w http.ResponseWriter, r *http.Request) {
	var req selectModuleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	ws := WorkspaceFrom(r.Context())
	if err := ws.SelectModule(r.Context(), chi.URLParam(r, "sid"), req.Path, req.Module, req.Term, req.Included); err != nil {
		WriteError(w, err)
		return
	}
	writeView(w, r)
}

// handleSubmit returns the final view of a submitted form and releases its
// session.
func handleSubmit(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	sid := chi.URLParam(r, "sid")
	ctrl, err := ws.Form(sid)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := ctrl.Submit(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	view, err := ws.View(sid)
	if err != nil {
		WriteError(w, err)
		return
	}
	ws.Release(sid)
	WriteJSON(w, http.StatusOK, view)
}

type closeRequest struct {
	Choice form.CloseChoice `json:"choice"`
}

type closeResponse struct {
	State form.State `json:"state"`
}

// handleRequestClose closes an unchanged form at once; a changed one moves
// to confirm_discard and waits for a choice.
func handleRequestClose(w http.ResponseWriter, r *http.Request) {
	closeSession(w, r, func(c *form.Controller) (form.State, error) {
		return c.RequestClose(r.Context())
	})
}

func handleResolveClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	closeSession(w, r, func(c *form.Controller) (form.State, error) {
		return c.ResolveClose(r.Context(), req.Choice)
	})
}

func closeSession(w http.ResponseWriter, r *http.Request, op func(c *form.Controller) (form.State, error)) {
	ws := WorkspaceFrom(r.Context())
	sid := chi.URLParam(r, "sid")
	ctrl, err := ws.Form(sid)
	if err != nil {
		WriteError(w, err)
		return
	}
	state, err := op(ctrl)
	if err != nil {
		WriteError(w, err)
		return
	}
	if state == form.Closed {
		ws.Release(sid)
	}
	WriteJSON(w, http.StatusOK, closeResponse{State: state})
}
