package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/ident"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
)

// File is the file-backed Repository backend: one JSON document per entity
// in a collection directory, named by the prefix-stripped raw id. Exclusive
// file creation gives atomic create; update is temp-file + rename with
// last-writer-wins (no version check, a known consistency gap).
type File[E any, PT interface {
	*E
	model.Entity
}] struct {
	dir string
}

// NewFile builds a file-backed repository rooted at the collection
// directory, creating it if needed.
func NewFile[E any, PT interface {
	*E
	model.Entity
}](dir string) (*File[E, PT], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierror.Storage(err, "create collection dir %s", dir)
	}
	return &File[E, PT]{dir: dir}, nil
}

func (r *File[E, PT]) path(id string) (string, error) {
	raw, err := ident.StripPrefix(id)
	if err != nil {
		return "", apierror.InvalidArgument("malformed id %q", id)
	}
	return filepath.Join(r.dir, raw+".json"), nil
}

func (r *File[E, PT]) Create(ctx context.Context, entity PT) error {
	if entity.GetID() == "" {
		entity.SetID(ident.New(entity.IDPrefix()))
	}
	stampCreatedAt(entity, time.Now().UTC())

	path, err := r.path(entity.GetID())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return apierror.Storage(err, "encode %s", entity.GetID())
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return apierror.Conflict("id %s already exists", entity.GetID())
		}
		return apierror.Storage(err, "create %s", entity.GetID())
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return apierror.Storage(err, "write %s", entity.GetID())
	}
	return f.Close()
}

func (r *File[E, PT]) FindOne(ctx context.Context, id string) (PT, error) {
	path, err := r.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierror.NotFound("no such resource: %s", id)
		}
		return nil, apierror.Storage(err, "read %s", id)
	}
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apierror.Storage(err, "decode %s", id)
	}
	return PT(&e), nil
}

func (r *File[E, PT]) Update(ctx context.Context, entity PT) error {
	path, err := r.path(entity.GetID())
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return apierror.NotFound("no such resource: %s", entity.GetID())
		}
		return apierror.Storage(err, "stat %s", entity.GetID())
	}
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return apierror.Storage(err, "encode %s", entity.GetID())
	}
	return atomicWrite(path, data)
}

func (r *File[E, PT]) Delete(ctx context.Context, id string) error {
	path, err := r.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apierror.NotFound("no such resource: %s", id)
		}
		return apierror.Storage(err, "delete %s", id)
	}
	return nil
}

func (r *File[E, PT]) Find(ctx context.Context, q Query) (pagination.Page[PT], error) {
	items, err := r.All(ctx, q.Filters)
	if err != nil {
		return pagination.Page[PT]{}, err
	}
	return pagination.Slice(items, q.Params, func(e PT) string { return e.GetID() })
}

func (r *File[E, PT]) All(ctx context.Context, filters map[string]any) ([]PT, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, apierror.Storage(err, "read collection dir %s", r.dir)
	}

	// Raw ids start with a fixed-width millisecond timestamp, so sorted file
	// names are creation order.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var out []PT
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue // deleted concurrently
			}
			return nil, apierror.Storage(err, "read %s", name)
		}
		var e E
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, apierror.Storage(err, "decode %s", name)
		}
		entity := PT(&e)
		if matchesFilters(entity, filters) {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (r *File[E, PT]) Exists(ctx context.Context, id string) (bool, error) {
	path, err := r.path(id)
	if err != nil {
		return false, nil
	}
	_, statErr := os.Stat(path)
	return statErr == nil, nil
}

// matchesFilters compares filter values against the entity's JSON form, so
// the same column-style keys work for both backends.
func matchesFilters(entity any, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return false
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	for key, want := range filters {
		got, ok := doc[key]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// atomicWrite replaces path's contents via a temp file and rename so readers
// never observe a partial document.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return apierror.Storage(err, "create temp for %s", path)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apierror.Storage(err, "write temp for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apierror.Storage(err, "sync temp for %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apierror.Storage(err, "close temp for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apierror.Storage(err, "replace %s", path)
	}
	return nil
}

// stampCreatedAt fills a zero CreatedAt field. The relational backend gets
// this from GORM's autoCreateTime; the file backend sets it here.
func stampCreatedAt(entity any, now time.Time) {
	v := reflect.ValueOf(entity).Elem().FieldByName("CreatedAt")
	if v.IsValid() && v.CanSet() {
		if t, ok := v.Interface().(time.Time); ok && t.IsZero() {
			v.Set(reflect.ValueOf(now))
		}
	}
}
