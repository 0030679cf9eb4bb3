package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomhq/loom/internal/ident"
	"github.com/loomhq/loom/internal/model"
)

// deletedDir is the soft-delete area migrations move replaced data into, so
// a downgrade can restore it.
const deletedDir = ".deleted"

// Revisions returns the built-in revision chain.
func Revisions() []Revision {
	return []Revision{
		{
			Version:     1,
			Name:        "initial_schema",
			Predecessor: 0,
			Upgrade:     upgradeInitialSchema,
		},
		{
			Version:     2,
			Name:        "import_legacy_collections",
			Predecessor: 1,
			Upgrade:     upgradeImportLegacyCollections,
		},
		{
			Version:     3,
			Name:        "drop_message_position",
			Predecessor: 2,
			Upgrade:     upgradeDropMessagePosition,
		},
		{
			Version:     4,
			Name:        "workspace_blob_layout",
			Predecessor: 3,
			Upgrade:     upgradeWorkspaceBlobLayout,
		},
	}
}

// upgradeInitialSchema creates or extends every table. AutoMigrate only adds
// columns and tables, which makes re-runs safe.
func upgradeInitialSchema(ctx context.Context, env *Env) error {
	return env.DB.WithContext(ctx).AutoMigrate(model.AllModels()...)
}

// upgradeImportLegacyCollections imports the pre-versioning file layout
// (data_dir/collections and data_dir/events) into the relational tables,
// then moves the directories under .deleted/ so the import never repeats and
// the data stays recoverable.
func upgradeImportLegacyCollections(ctx context.Context, env *Env) error {
	if err := importCollections(ctx, env); err != nil {
		return err
	}
	if err := importEvents(ctx, env); err != nil {
		return err
	}
	for _, name := range []string{"collections", "events"} {
		if err := softDelete(env.DataDir, name); err != nil {
			return err
		}
	}
	return nil
}

func importCollections(ctx context.Context, env *Env) error {
	root := filepath.Join(env.DataDir, "collections")
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	// Threads before messages and runs so foreign references resolve in
	// order; each record is created only if its id is not already imported.
	type collection struct {
		dir string
		new func() any
	}
	for _, c := range []collection{
		{"threads", func() any { return &model.Thread{} }},
		{"assistants", func() any { return &model.Assistant{} }},
		{"workflows", func() any { return &model.Workflow{} }},
		{"mcp_configs", func() any { return &model.MCPConfig{} }},
		{"files", func() any { return &model.File{} }},
		{"messages", func() any { return &model.Message{} }},
		{"runs", func() any { return &model.Run{} }},
	} {
		dir := filepath.Join(root, c.dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return fmt.Errorf("read %s/%s: %w", c.dir, entry.Name(), err)
			}
			record := c.new()
			if err := json.Unmarshal(data, record); err != nil {
				return fmt.Errorf("decode %s/%s: %w", c.dir, entry.Name(), err)
			}
			entity, ok := record.(model.Entity)
			if !ok {
				continue
			}
			res := env.DB.WithContext(ctx).Where("id = ?", entity.GetID()).FirstOrCreate(record)
			if res.Error != nil {
				return fmt.Errorf("import %s/%s: %w", c.dir, entry.Name(), res.Error)
			}
		}
		env.Log.Info("imported legacy collection", "collection", c.dir, "files", len(entries))
	}
	return nil
}

func importEvents(ctx context.Context, env *Env) error {
	root := filepath.Join(env.DataDir, "events")
	runDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", root, err)
	}

	for _, runDir := range runDirs {
		if !runDir.IsDir() {
			continue
		}
		runID := ident.AddPrefix(ident.PrefixRun, runDir.Name())
		files, err := os.ReadDir(filepath.Join(root, runDir.Name()))
		if err != nil {
			return fmt.Errorf("read events of %s: %w", runID, err)
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, runDir.Name(), f.Name()))
			if err != nil {
				return fmt.Errorf("read event %s of %s: %w", f.Name(), runID, err)
			}
			var event model.Event
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("decode event %s of %s: %w", f.Name(), runID, err)
			}
			// The global ordinal is reassigned by the table; only the
			// per-run sequence carries over.
			event.ID = 0
			res := env.DB.WithContext(ctx).
				Where("run_id = ? AND sequence_num = ?", event.RunID, event.SequenceNum).
				FirstOrCreate(&event)
			if res.Error != nil {
				return fmt.Errorf("import event %s of %s: %w", f.Name(), runID, res.Error)
			}
		}
	}
	return nil
}

// softDelete moves data_dir/name under data_dir/.deleted/. A missing source
// means a previous run already moved it.
func softDelete(dataDir, name string) error {
	src := filepath.Join(dataDir, name)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	dst := filepath.Join(dataDir, deletedDir, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create soft-delete area: %w", err)
	}
	if _, err := os.Stat(dst); err == nil {
		// A prior partial run left a copy; keep the newer data alongside it.
		dst = dst + ".1"
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("soft-delete %s: %w", name, err)
	}
	return nil
}

// upgradeDropMessagePosition removes the obsolete messages.position column.
// Position is derived from id order, so this is a documented hard drop of
// derived data, not a soft delete.
func upgradeDropMessagePosition(ctx context.Context, env *Env) error {
	migrator := env.DB.WithContext(ctx).Migrator()
	if !migrator.HasColumn(&model.Message{}, "position") {
		return nil
	}
	// SQLite rebuilds the table on column drop, which trips foreign key
	// checks from referencing tables.
	if env.DB.IsSQLite() {
		env.DB.Exec("PRAGMA foreign_keys = OFF")
		defer env.DB.Exec("PRAGMA foreign_keys = ON")
	}
	return migrator.DropColumn(&model.Message{}, "position")
}

// upgradeWorkspaceBlobLayout moves flat blobs/{id} files into per-workspace
// subdirectories (blobs/{workspace}/{id}, "global" for unscoped files).
func upgradeWorkspaceBlobLayout(ctx context.Context, env *Env) error {
	root := filepath.Join(env.DataDir, "blobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read blobs dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue // already migrated
		}
		raw := entry.Name()

		workspace := "global"
		var file model.File
		err := env.DB.WithContext(ctx).
			First(&file, "id = ?", ident.AddPrefix(ident.PrefixFile, raw)).Error
		if err == nil && file.WorkspaceID != nil {
			workspace = *file.WorkspaceID
		}

		dst := filepath.Join(root, workspace, raw)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create workspace blob dir: %w", err)
		}
		if err := os.Rename(filepath.Join(root, raw), dst); err != nil {
			return fmt.Errorf("move blob %s: %w", raw, err)
		}
	}
	return nil
}
