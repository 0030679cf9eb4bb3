package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/loomhq/loom/internal/apierror"
	"github.com/loomhq/loom/internal/model"
	"github.com/loomhq/loom/internal/pagination"
)

// SQL is the relational Repository backend. The primary-key constraint gives
// atomic create; cursor pagination is pushed down as id comparisons, valid
// because ids are lexically time-ordered.
type SQL[E any, PT interface {
	*E
	model.Entity
}] struct {
	db *gorm.DB
}

// NewSQL builds a relational repository for one entity type.
func NewSQL[E any, PT interface {
	*E
	model.Entity
}](db *gorm.DB) *SQL[E, PT] {
	return &SQL[E, PT]{db: db}
}

func (r *SQL[E, PT]) Create(ctx context.Context, entity PT) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		if isDuplicate(err) {
			return apierror.Conflict("id %s already exists", entity.GetID())
		}
		return apierror.Storage(err, "create %s", entity.GetID())
	}
	return nil
}

func (r *SQL[E, PT]) FindOne(ctx context.Context, id string) (PT, error) {
	var e E
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.NotFound("no such resource: %s", id)
		}
		return nil, apierror.Storage(err, "find %s", id)
	}
	return PT(&e), nil
}

func (r *SQL[E, PT]) Update(ctx context.Context, entity PT) error {
	res := r.db.WithContext(ctx).Model(entity).Select("*").Omit("created_at").Updates(entity)
	if res.Error != nil {
		return apierror.Storage(res.Error, "update %s", entity.GetID())
	}
	if res.RowsAffected == 0 {
		return apierror.NotFound("no such resource: %s", entity.GetID())
	}
	return nil
}

func (r *SQL[E, PT]) Delete(ctx context.Context, id string) error {
	var e E
	res := r.db.WithContext(ctx).Delete(&e, "id = ?", id)
	if res.Error != nil {
		return apierror.Storage(res.Error, "delete %s", id)
	}
	if res.RowsAffected == 0 {
		return apierror.NotFound("no such resource: %s", id)
	}
	return nil
}

func (r *SQL[E, PT]) Find(ctx context.Context, q Query) (pagination.Page[PT], error) {
	tx := r.db.WithContext(ctx)
	for col, val := range q.Filters {
		tx = tx.Where(col+" = ?", val)
	}

	p := q.Params
	asc := p.Order == pagination.OrderAsc

	// The cursor is an exclusive id boundary. A before cursor pages backward,
	// so the scan runs in the opposite direction and the window is reversed
	// afterwards.
	reversed := false
	switch {
	case p.After != "":
		if asc {
			tx = tx.Where("id > ?", p.After)
		} else {
			tx = tx.Where("id < ?", p.After)
		}
	case p.Before != "":
		reversed = true
		if asc {
			tx = tx.Where("id < ?", p.Before)
		} else {
			tx = tx.Where("id > ?", p.Before)
		}
	}

	scanAsc := asc != reversed
	if scanAsc {
		tx = tx.Order("id ASC")
	} else {
		tx = tx.Order("id DESC")
	}

	var rows []E
	if err := tx.Limit(p.Limit + 1).Find(&rows).Error; err != nil {
		return pagination.Page[PT]{}, apierror.Storage(err, "list")
	}

	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}
	if reversed {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	data := make([]PT, len(rows))
	for i := range rows {
		data[i] = PT(&rows[i])
	}
	return pagination.NewPage(data, func(e PT) string { return e.GetID() }, hasMore), nil
}

func (r *SQL[E, PT]) All(ctx context.Context, filters map[string]any) ([]PT, error) {
	tx := r.db.WithContext(ctx)
	for col, val := range filters {
		tx = tx.Where(col+" = ?", val)
	}
	var rows []E
	if err := tx.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, apierror.Storage(err, "list all")
	}
	out := make([]PT, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out, nil
}

func (r *SQL[E, PT]) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	var e E
	if err := r.db.WithContext(ctx).Model(&e).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, apierror.Storage(err, "exists %s", id)
	}
	return count > 0, nil
}

// isDuplicate recognizes primary-key violations across drivers. GORM's error
// translation covers postgres; the sqlite driver surfaces the raw constraint
// message.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
