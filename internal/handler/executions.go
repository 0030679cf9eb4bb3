package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/service"
)

type createRunRequest struct {
	ThreadID     string  `json:"thread_id"`
	AssistantID  *string `json:"assistant_id"`
	WorkflowID   *string `json:"workflow_id"`
	Model        string  `json:"model"`
	Instructions string  `json:"instructions"`
}

// runView is a run on the wire: the stored record plus its derived status.
type runView struct {
	*model.Run
	Status string `json:"status"`
}

func viewRun(run *model.Run) runView {
	return runView{Run: run, Status: run.Status(time.Now().UTC())}
}

// CreateRun handles POST /v1/executions. The response returns immediately
// with the queued run; execution proceeds in the background.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, err)
		return
	}
	run, err := h.runs.Create(r.Context(), service.CreateRunRequest{
		ThreadID:     req.ThreadID,
		AssistantID:  req.AssistantID,
		WorkflowID:   req.WorkflowID,
		Model:        req.Model,
		Instructions: req.Instructions,
	})
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, viewRun(run))
}

// ListRuns handles GET /v1/executions, optionally filtered by thread_id.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	params, err := pageParams(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	page, err := h.runs.List(r.Context(), r.URL.Query().Get("thread_id"), params)
	if err != nil {
		h.Error(w, err)
		return
	}
	views := pagination.Page[runView]{
		Object:  page.Object,
		FirstID: page.FirstID,
		LastID:  page.LastID,
		HasMore: page.HasMore,
		Data:    make([]runView, 0, len(page.Data)),
	}
	for _, run := range page.Data {
		views.Data = append(views.Data, viewRun(run))
	}
	h.JSON(w, http.StatusOK, views)
}

// GetRun handles GET /v1/executions/{executionId}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, viewRun(run))
}

// ModifyRun handles PATCH /v1/executions/{executionId}. Only the status
// field is writable, and only to request cancellation; any other field in
// the body is rejected.
func (h *Handler) ModifyRun(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := h.DecodeJSON(r, &body); err != nil {
		h.Error(w, err)
		return
	}
	req := service.ModifyRequest{}
	for field, raw := range body {
		if field == "status" {
			if err := json.Unmarshal(raw, &req.Status); err != nil {
				h.Error(w, apierror.InvalidArgument("status must be a string"))
				return
			}
			continue
		}
		req.Extra = append(req.Extra, field)
	}
	run, err := h.runs.Modify(r.Context(), chi.URLParam(r, "executionId"), req)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, viewRun(run))
}
