package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/loomhq/loom/internal/middleware"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/version"
)

// Routes builds the full router: global middleware, the health endpoint,
// and the /v1 API surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(h.log))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.WorkspaceHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		h.JSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Get()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Workspace)

		// Event streams hold their connections open, so they mount
		// outside the request timeout.
		r.Get("/executions/{executionId}/events", h.StreamEvents)
		r.Get("/executions/{executionId}/events/ws", h.StreamEventsWS)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(60 * time.Second))

			r.Route("/threads", func(r chi.Router) {
				r.Post("/", h.CreateThread)
				r.Get("/", h.ListThreads)
				r.Route("/{threadId}", func(r chi.Router) {
					r.Get("/", h.GetThread)
					r.Post("/", h.RenameThread)
					r.Delete("/", h.DeleteThread)

					r.Route("/messages", func(r chi.Router) {
						r.Post("/", h.CreateMessage)
						r.Get("/", h.ListMessages)
						r.Get("/{messageId}", h.GetMessage)
						r.Delete("/{messageId}", h.DeleteMessage)
					})
				})
			})

			r.Route("/executions", func(r chi.Router) {
				r.Post("/", h.CreateRun)
				r.Get("/", h.ListRuns)
				r.Get("/{executionId}", h.GetRun)
				r.Patch("/{executionId}", h.ModifyRun)
			})

			r.Route("/files", func(r chi.Router) {
				r.Post("/", h.UploadFile)
				r.Get("/", h.ListFiles)
				r.Get("/{fileId}", h.GetFile)
				r.Get("/{fileId}/content", h.GetFileContent)
				r.Delete("/{fileId}", h.DeleteFile)
			})

			r.Route("/assistants", func(r chi.Router) {
				resourceRoutes[model.Assistant](h, r, h.assistants, "assistantId")
			})
			r.Route("/workflows", func(r chi.Router) {
				resourceRoutes[model.Workflow](h, r, h.workflows, "workflowId")
			})
			r.Route("/mcp-configs", func(r chi.Router) {
				resourceRoutes[model.MCPConfig](h, r, h.mcpConfigs, "configId")
			})
		})
	})

	return r
}
