// Package blob stores uploaded file bytes on disk, segregated by workspace.
// Metadata lives in the files table; this package only moves bytes.
package blob

import (
	"io"
	"os"
	"path/filepath"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/ident"
)

// globalScope is the directory for blobs with no workspace.
const globalScope = "global"

// Store writes blobs under root/{workspace|global}/{raw-file-id}.
type Store struct {
	root string
}

// New creates a blob store rooted at dataDir/blobs.
func New(dataDir string) (*Store, error) {
	root := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apierror.Storage(err, "create blob root")
	}
	return &Store{root: root}, nil
}

func (s *Store) path(fileID string, workspaceID *string) (string, error) {
	raw, err := ident.StripPrefix(fileID)
	if err != nil {
		return "", apierror.InvalidArgument("malformed file id %q", fileID)
	}
	scope := globalScope
	if workspaceID != nil && *workspaceID != "" {
		scope = *workspaceID
	}
	return filepath.Join(s.root, scope, raw), nil
}

// Put stores the blob, replacing any previous content. The write goes
// through a temp file and rename so readers never see partial bytes.
func (s *Store) Put(fileID string, workspaceID *string, r io.Reader) (int64, error) {
	path, err := s.path(fileID, workspaceID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, apierror.Storage(err, "create blob dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, apierror.Storage(err, "create blob temp")
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, apierror.Storage(err, "write blob %s", fileID)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, apierror.Storage(err, "close blob %s", fileID)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, apierror.Storage(err, "store blob %s", fileID)
	}
	return n, nil
}

// Open returns a reader over the blob's bytes. The caller closes it.
func (s *Store) Open(fileID string, workspaceID *string) (io.ReadCloser, error) {
	path, err := s.path(fileID, workspaceID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierror.NotFound("no content for file %s", fileID)
		}
		return nil, apierror.Storage(err, "open blob %s", fileID)
	}
	return f, nil
}

// Delete removes the blob's bytes. Missing bytes are not an error: the
// metadata record is the source of truth for existence.
func (s *Store) Delete(fileID string, workspaceID *string) error {
	path, err := s.path(fileID, workspaceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apierror.Storage(err, "delete blob %s", fileID)
	}
	return nil
}
