package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/middleware"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/service"
)

// scoped mirrors the service-side constraint for the simple
// workspace-visible resources.
type scoped interface {
	model.Entity
	model.WorkspaceScoped
}

// resourceRoutes mounts CRUD for one workspace-scoped resource type under
// the current route group. idParam names the URL parameter.
func resourceRoutes[E any, PT interface {
	*E
	scoped
}](h *Handler, r chi.Router, svc *service.ResourceService[PT], idParam string) {
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		entity := PT(new(E))
		if err := h.DecodeJSON(r, entity); err != nil {
			h.Error(w, err)
			return
		}
		created, err := svc.Create(r.Context(), middleware.WorkspaceID(r.Context()), entity)
		if err != nil {
			h.Error(w, err)
			return
		}
		h.JSON(w, http.StatusCreated, created)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		params, err := pageParams(r)
		if err != nil {
			h.Error(w, err)
			return
		}
		page, err := svc.List(r.Context(), middleware.WorkspaceID(r.Context()), params)
		if err != nil {
			h.Error(w, err)
			return
		}
		h.JSON(w, http.StatusOK, page)
	})

	r.Get("/{"+idParam+"}", func(w http.ResponseWriter, r *http.Request) {
		entity, err := svc.Get(r.Context(), middleware.WorkspaceID(r.Context()), chi.URLParam(r, idParam))
		if err != nil {
			h.Error(w, err)
			return
		}
		h.JSON(w, http.StatusOK, entity)
	})

	r.Post("/{"+idParam+"}", func(w http.ResponseWriter, r *http.Request) {
		entity := PT(new(E))
		if err := h.DecodeJSON(r, entity); err != nil {
			h.Error(w, err)
			return
		}
		entity.SetID(chi.URLParam(r, idParam))
		updated, err := svc.Update(r.Context(), middleware.WorkspaceID(r.Context()), entity)
		if err != nil {
			h.Error(w, err)
			return
		}
		h.JSON(w, http.StatusOK, updated)
	})

	r.Delete("/{"+idParam+"}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, idParam)
		if err := svc.Delete(r.Context(), middleware.WorkspaceID(r.Context()), id); err != nil {
			h.Error(w, err)
			return
		}
		h.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
	})
}
