package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type InsightCacheRepo interface {
	GetByUserAndKey(dbc dbctx.Context, userID uuid.UUID, cacheKey string) (*types.InsightCache, error)
	Upsert(dbc dbctx.Context, row *types.InsightCache) error
	DeleteOtherVersions(dbc dbctx.Context, promptVersion string) (int64, error)
	DeleteOlderThan(dbc dbctx.Context, cutoff time.Time) (int64, error)
}

type insightCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInsightCacheRepo(db *gorm.DB, baseLog *logger.Logger) InsightCacheRepo {
	return &insightCacheRepo{
		db:  db,
		log: baseLog.With("repo", "InsightCacheRepo"),
	}
}

func (r *insightCacheRepo) GetByUserAndKey(dbc dbctx.Context, userID uuid.UUID, cacheKey string) (*types.InsightCache, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || cacheKey == "" {
		return nil, nil
	}
	var row types.InsightCache
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND cache_key = ?", userID, cacheKey).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *insightCacheRepo) Upsert(dbc dbctx.Context, row *types.InsightCache) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil || row.UserID == uuid.Nil || row.CacheKey == "" {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.UpdatedAt = time.Now()

	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"video_ids",
				"prompt_version",
				"tree",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *insightCacheRepo) DeleteOtherVersions(dbc dbctx.Context, promptVersion string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if promptVersion == "" {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("prompt_version <> ?", promptVersion).
		Delete(&types.InsightCache{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *insightCacheRepo) DeleteOlderThan(dbc dbctx.Context, cutoff time.Time) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("updated_at < ?", cutoff).
		Delete(&types.InsightCache{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
