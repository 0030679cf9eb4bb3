package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
)

type createMessageRequest struct {
	ParentID string        `json:"parent_id"`
	Role     string        `json:"role"`
	Content  model.Content `json:"content"`
}

// CreateMessage handles POST /v1/threads/{threadId}/messages.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	msg, err := h.messages.Create(r.Context(), chi.URLParam(r, "threadId"), service.CreateMessageRequest{
		ParentID: req.ParentID,
		Role:     req.Role,
		Content:  req.Content,
	})
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// ListMessages handles GET /v1/threads/{threadId}/messages. The page walks
// the thread's main branch unless a cursor pins a different path.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	params, err := pageParams(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	page, err := h.messages.List(r.Context(), chi.URLParam(r, "threadId"), params)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

// GetMessage handles GET /v1/threads/{threadId}/messages/{messageId}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.messages.Get(r.Context(), chi.URLParam(r, "threadId"), chi.URLParam(r, "messageId"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /v1/threads/{threadId}/messages/{messageId}.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	if err := h.messages.Delete(r.Context(), chi.URLParam(r, "threadId"), id); err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
