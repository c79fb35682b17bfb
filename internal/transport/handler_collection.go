package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func handleGetCollection(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	view, err := ws.Collection(chi.URLParam(r, "name"), r.URL.Query().Get("q"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func handleRefreshCollection(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	name := chi.URLParam(r, "name")
	if err := ws.RefreshCollection(r.Context(), name); err != nil {
		WriteError(w, err)
		return
	}
	view, err := ws.Collection(name, r.URL.Query().Get("q"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

type deleteRequest struct {
	EntityID string `json:"entity_id"`
}

func handleRequestDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	p, err := WorkspaceFrom(r.Context()).RequestDelete(chi.URLParam(r, "name"), req.EntityID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

func handleConfirmDelete(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	if err := ws.ConfirmDelete(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "token")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleCancelDelete(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	if err := ws.CancelDelete(chi.URLParam(r, "name"), chi.URLParam(r, "token")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleDocument(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFrom(r.Context())
	doc, err := ws.Document(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	ct := doc.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Data)
}
