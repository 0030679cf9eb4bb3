// Package handler is the HTTP surface. Handlers decode requests, call
// services, and encode responses; all domain rules live below them.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/service"
)

// Handler contains all HTTP handlers.
type Handler struct {
	cfg    *config.Config
	log    *logger.Logger
	broker *events.Broker

	threads    *service.ThreadService
	messages   *service.MessageService
	runs       *service.RunService
	files      *service.FileService
	assistants *service.ResourceService[*model.Assistant]
	workflows  *service.ResourceService[*model.Workflow]
	mcpConfigs *service.ResourceService[*model.MCPConfig]
}

// Services bundles everything the handlers call.
type Services struct {
	Threads    *service.ThreadService
	Messages   *service.MessageService
	Runs       *service.RunService
	Files      *service.FileService
	Assistants *service.ResourceService[*model.Assistant]
	Workflows  *service.ResourceService[*model.Workflow]
	MCPConfigs *service.ResourceService[*model.MCPConfig]
}

// New creates a Handler over the given services.
func New(cfg *config.Config, log *logger.Logger, broker *events.Broker, svcs Services) *Handler {
	return &Handler{
		cfg:        cfg,
		log:        log,
		broker:     broker,
		threads:    svcs.Threads,
		messages:   svcs.Messages,
		runs:       svcs.Runs,
		files:      svcs.Files,
		assistants: svcs.Assistants,
		workflows:  svcs.Workflows,
		mcpConfigs: svcs.MCPConfigs,
	}
}

// JSON writes a JSON response.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error maps a domain error onto its HTTP status with a {"detail": ...} body.
func (h *Handler) Error(w http.ResponseWriter, err error) {
	status := apierror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
	}
	h.JSON(w, status, map[string]string{"detail": apierror.Detail(err)})
}

// DecodeJSON decodes a request body, rejecting malformed JSON.
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

// pageParams reads the shared list query parameters. Validation happens in
// Params.Normalize below the service boundary.
func pageParams(r *http.Request) (pagination.Params, error) {
	q := r.URL.Query()
	p := pagination.Params{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Order:  q.Get("order"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return p, apierror.InvalidArgument("limit must be an integer, got %q", raw)
		}
		p.Limit = limit
	}
	return p, nil
}
