// Package migrate upgrades persisted state across schema revisions. The
// revision chain is forward-only and strictly linear: each revision names
// its predecessor, every upgrade is idempotent, and a failure aborts the run
// leaving the recorded version at the last fully-applied revision.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/database"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/model"
)

// Env carries the state a revision upgrades.
type Env struct {
	DB      *database.DB
	DataDir string
	Log     *logger.Logger
}

// Revision is one schema upgrade step. Upgrade must be idempotent: it checks
// current state before acting, so re-running after a partial success neither
// fails nor duplicates effects.
type Revision struct {
	Version     int
	Name        string
	Predecessor int // 0 marks the first revision
	Upgrade     func(ctx context.Context, env *Env) error
}

// Runner applies pending revisions in chain order.
type Runner struct {
	env       Env
	revisions []Revision
}

// NewRunner builds a Runner over the built-in revision chain.
func NewRunner(db *database.DB, dataDir string, log *logger.Logger) *Runner {
	return &Runner{
		env:       Env{DB: db, DataDir: dataDir, Log: log},
		revisions: Revisions(),
	}
}

// AppliedVersion reads the last recorded revision, 0 when the store predates
// versioning.
func (r *Runner) AppliedVersion(ctx context.Context) (int, error) {
	// The version table itself must exist before it can be read.
	if err := r.env.DB.WithContext(ctx).AutoMigrate(&model.SchemaMigration{}); err != nil {
		return 0, apierror.Storage(err, "ensure schema_migrations table")
	}
	var version int
	err := r.env.DB.WithContext(ctx).
		Model(&model.SchemaMigration{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	if err != nil {
		return 0, apierror.Storage(err, "read applied version")
	}
	return version, nil
}

// ShouldMigrate reports whether pending revisions exist.
func (r *Runner) ShouldMigrate(ctx context.Context) (bool, error) {
	applied, err := r.AppliedVersion(ctx)
	if err != nil {
		return false, err
	}
	return applied < r.latest(), nil
}

// Migrate applies every pending revision in order, recording each as it
// completes. The first error aborts the run; the process must not serve
// traffic when Migrate fails.
func (r *Runner) Migrate(ctx context.Context) error {
	chain, err := orderedChain(r.revisions)
	if err != nil {
		return err
	}

	applied, err := r.AppliedVersion(ctx)
	if err != nil {
		return err
	}

	for _, rev := range chain {
		if rev.Version <= applied {
			continue
		}
		r.env.Log.Info("applying migration", "version", rev.Version, "name", rev.Name)
		if err := rev.Upgrade(ctx, &r.env); err != nil {
			return fmt.Errorf("migration %d (%s): %w", rev.Version, rev.Name, err)
		}
		record := &model.SchemaMigration{Version: rev.Version, Name: rev.Name}
		if err := r.env.DB.WithContext(ctx).Create(record).Error; err != nil {
			return apierror.Storage(err, "record migration %d", rev.Version)
		}
	}
	return nil
}

func (r *Runner) latest() int {
	latest := 0
	for _, rev := range r.revisions {
		if rev.Version > latest {
			latest = rev.Version
		}
	}
	return latest
}

// orderedChain validates that the revisions form one unbroken linked chain
// and returns them in application order.
func orderedChain(revisions []Revision) ([]Revision, error) {
	if len(revisions) == 0 {
		return nil, nil
	}

	chain := make([]Revision, len(revisions))
	copy(chain, revisions)
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version < chain[j].Version })

	seen := make(map[int]bool, len(chain))
	for i, rev := range chain {
		if seen[rev.Version] {
			return nil, apierror.InvalidState("duplicate migration version %d", rev.Version)
		}
		seen[rev.Version] = true

		if i == 0 {
			if rev.Predecessor != 0 {
				return nil, apierror.InvalidState("first migration %d declares predecessor %d", rev.Version, rev.Predecessor)
			}
			continue
		}
		if rev.Predecessor != chain[i-1].Version {
			return nil, apierror.InvalidState(
				"broken migration chain: %d declares predecessor %d, expected %d",
				rev.Version, rev.Predecessor, chain[i-1].Version)
		}
	}
	return chain, nil
}
