package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type threadRequest struct {
	Name *string `json:"name"`
}

// CreateThread handles POST /v1/threads.
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req threadRequest
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &req); err != nil {
			h.Error(w, err)
			return
		}
	}
	thread, err := h.threads.Create(r.Context(), req.Name)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, thread)
}

// ListThreads handles GET /v1/threads.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	params, err := pageParams(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	page, err := h.threads.List(r.Context(), params)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

// GetThread handles GET /v1/threads/{threadId}.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.threads.Get(r.Context(), chi.URLParam(r, "threadId"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, thread)
}

// RenameThread handles POST /v1/threads/{threadId}.
func (h *Handler) RenameThread(w http.ResponseWriter, r *http.Request) {
	var req threadRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	thread, err := h.threads.Rename(r.Context(), chi.URLParam(r, "threadId"), req.Name)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, thread)
}

// DeleteThread handles DELETE /v1/threads/{threadId}. Deleting a thread
// cancels its active run and cascades to messages, runs and events.
func (h *Handler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadId")
	if err := h.threads.Delete(r.Context(), id); err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
