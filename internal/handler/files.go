package handler

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/middleware"
	"github.com/loomhq/loom/internal/service"
)

// UploadFile handles POST /v1/files: multipart form with a "file" part and
// an optional "purpose" field.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Parse headers only; the part body streams through to blob storage.
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		h.Error(w, apierror.InvalidArgument("invalid multipart form: %v", err))
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		h.Error(w, apierror.InvalidArgument("missing 'file' form field"))
		return
	}
	defer part.Close()

	var workspaceID *string
	if ws := middleware.WorkspaceID(r.Context()); ws != "" {
		workspaceID = &ws
	}

	file, err := h.files.Upload(r.Context(), service.UploadRequest{
		WorkspaceID: workspaceID,
		Filename:    header.Filename,
		Purpose:     r.FormValue("purpose"),
		ContentType: header.Header.Get("Content-Type"),
		Body:        part,
	})
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, file)
}

// ListFiles handles GET /v1/files.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	params, err := pageParams(r)
	if err != nil {
		h.Error(w, err)
		return
	}
	page, err := h.files.List(r.Context(), middleware.WorkspaceID(r.Context()), params)
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, page)
}

// GetFile handles GET /v1/files/{fileId}.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.files.Get(r.Context(), middleware.WorkspaceID(r.Context()), chi.URLParam(r, "fileId"))
	if err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, file)
}

// GetFileContent handles GET /v1/files/{fileId}/content, serving the raw
// bytes as an attachment.
func (h *Handler) GetFileContent(w http.ResponseWriter, r *http.Request) {
	file, rc, err := h.files.Content(r.Context(), middleware.WorkspaceID(r.Context()), chi.URLParam(r, "fileId"))
	if err != nil {
		h.Error(w, err)
		return
	}
	defer rc.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", file.SizeBytes))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// DeleteFile handles DELETE /v1/files/{fileId}, removing metadata and blob.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileId")
	if err := h.files.Delete(r.Context(), middleware.WorkspaceID(r.Context()), id); err != nil {
		h.Error(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
