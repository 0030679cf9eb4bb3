package service

import (
	"context"
	"io"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/blob"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
	"github.com/loomhq/loom/internal/store"
)

// FileService manages uploaded files: metadata in the store, bytes in the
// blob area.
type FileService struct {
	store   store.Store
	blobs   *blob.Store
	maxSize int64
}

// NewFileService creates a file service enforcing the upload size cap.
func NewFileService(s store.Store, blobs *blob.Store, maxSize int64) *FileService {
	return &FileService{store: s, blobs: blobs, maxSize: maxSize}
}

// UploadRequest are the parameters of a file upload.
type UploadRequest struct {
	WorkspaceID *string
	Filename    string
	Purpose     string
	ContentType string
	Body        io.Reader
}

// Upload stores a new file. An upload larger than the configured cap is
// LimitReached; the metadata record is rolled back if the bytes cannot be
// stored.
func (s *FileService) Upload(ctx context.Context, req UploadRequest) (*model.File, error) {
	if req.Filename == "" {
		return nil, apierror.InvalidArgument("filename is required")
	}

	file := &model.File{
		WorkspaceID: req.WorkspaceID,
		Filename:    req.Filename,
		Purpose:     req.Purpose,
		ContentType: req.ContentType,
	}
	if err := s.store.Files().Create(ctx, file); err != nil {
		return nil, err
	}

	// Read one byte past the cap so an oversized body is detected without
	// buffering it whole.
	limited := io.LimitReader(req.Body, s.maxSize+1)
	n, err := s.blobs.Put(file.ID, req.WorkspaceID, limited)
	if err != nil {
		_ = s.store.Files().Delete(ctx, file.ID)
		return nil, err
	}
	if n > s.maxSize {
		_ = s.blobs.Delete(file.ID, req.WorkspaceID)
		_ = s.store.Files().Delete(ctx, file.ID)
		return nil, apierror.LimitReached("file exceeds the maximum size of %d bytes", s.maxSize)
	}

	file.SizeBytes = n
	if err := s.store.Files().Update(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}

// Get returns a file's metadata if it is visible to the workspace.
func (s *FileService) Get(ctx context.Context, workspace, id string) (*model.File, error) {
	file, err := s.store.Files().FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(file, workspace) {
		return nil, apierror.NotFound("no such resource: %s", id)
	}
	return file, nil
}

// List returns a page of files visible to the workspace.
func (s *FileService) List(ctx context.Context, workspace string, params pagination.Params) (pagination.Page[*model.File], error) {
	params, err := params.Normalize()
	if err != nil {
		return pagination.Page[*model.File]{}, err
	}
	all, err := s.store.Files().All(ctx, nil)
	if err != nil {
		return pagination.Page[*model.File]{}, err
	}
	visible := all[:0:0]
	for _, f := range all {
		if visibleTo(f, workspace) {
			visible = append(visible, f)
		}
	}
	return pagination.Slice(visible, params, func(f *model.File) string { return f.ID })
}

// Content opens the file's bytes for download.
func (s *FileService) Content(ctx context.Context, workspace, id string) (*model.File, io.ReadCloser, error) {
	file, err := s.Get(ctx, workspace, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(file.ID, file.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

// Delete removes a file's metadata and bytes.
func (s *FileService) Delete(ctx context.Context, workspace, id string) error {
	file, err := s.Get(ctx, workspace, id)
	if err != nil {
		return err
	}
	if err := s.store.Files().Delete(ctx, id); err != nil {
		return err
	}
	return s.blobs.Delete(file.ID, file.WorkspaceID)
}

// visibleTo implements workspace scoping: unscoped resources are globally
// visible, scoped ones only to their own workspace.
func visibleTo(e model.WorkspaceScoped, workspace string) bool {
	ws := e.GetWorkspaceID()
	return ws == nil || *ws == workspace
}
