package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
)

type DiscoveryRunRepo interface {
	Record(ctx context.Context, run *types.DiscoveryRun) error
	Recent(ctx context.Context, kind string, limit int) ([]*types.DiscoveryRun, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type discoveryRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDiscoveryRunRepo(db *gorm.DB, baseLog *logger.Logger) DiscoveryRunRepo {
	return &discoveryRunRepo{
		db:  db,
		log: baseLog.With("repo", "DiscoveryRunRepo"),
	}
}

func (r *discoveryRunRepo) Record(ctx context.Context, run *types.DiscoveryRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return err
	}
	return nil
}

func (r *discoveryRunRepo) Recent(ctx context.Context, kind string, limit int) ([]*types.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	var out []*types.DiscoveryRun
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *discoveryRunRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("started_at < ?", cutoff).
		Delete(&types.DiscoveryRun{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
