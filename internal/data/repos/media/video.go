package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type VideoRepo interface {
	Create(dbc dbctx.Context, videos []*types.Video) ([]*types.Video, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Video, error)
	GetByUserAndID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Video, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Video, error)
	GetByUserAndIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.Video, error)
	GetLiveByUserAndSourceURL(dbc dbctx.Context, userID uuid.UUID, sourceURL string) (*types.Video, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Video, error)
	ListRecentCompleted(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Video, error)
	ListStale(dbc dbctx.Context, statuses []string, updatedBefore time.Time, limit int) ([]*types.Video, error)
	ListDeleted(dbc dbctx.Context, limit int) ([]*types.Video, error)
	ListUserIDs(dbc dbctx.Context) ([]uuid.UUID, error)
	SumAudioSizeMBByUser(dbc dbctx.Context, userID uuid.UUID) (float64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return &videoRepo{
		db:  db,
		log: baseLog.With("repo", "VideoRepo"),
	}
}

func (r *videoRepo) Create(dbc dbctx.Context, videos []*types.Video) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(videos) == 0 {
		return []*types.Video{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *videoRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var video types.Video
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&video).Error
	if err != nil {
		return nil, err
	}
	if video.ID == uuid.Nil {
		return nil, nil
	}
	return &video, nil
}

func (r *videoRepo) GetByUserAndID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var video types.Video
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Find(&video).Error
	if err != nil {
		return nil, err
	}
	if video.ID == uuid.Nil {
		return nil, nil
	}
	return &video, nil
}

// GetLiveByUserAndSourceURL finds the user's most recent live video for a
// source URL: not deleted, not failed, not canceled. A re-submitted URL
// resolves to the ingestion already underway (or done) instead of a second
// copy.
func (r *videoRepo) GetLiveByUserAndSourceURL(dbc dbctx.Context, userID uuid.UUID, sourceURL string) (*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || sourceURL == "" {
		return nil, nil
	}
	var video types.Video
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND source_url = ? AND is_deleted = ? AND status NOT IN ?",
			userID, sourceURL, false, []string{types.VideoStatusFailed, types.VideoStatusCanceled}).
		Order("created_at DESC").
		Limit(1).
		Find(&video).Error
	if err != nil {
		return nil, err
	}
	if video.ID == uuid.Nil {
		return nil, nil
	}
	return &video, nil
}

func (r *videoRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) GetByUserAndIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	if userID == uuid.Nil || len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND id IN ? AND is_deleted = ?", userID, ids, false).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	if userID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) ListRecentCompleted(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	if userID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND status = ? AND is_deleted = ?", userID, types.VideoStatusCompleted, false).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) ListStale(dbc dbctx.Context, statuses []string, updatedBefore time.Time, limit int) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	if len(statuses) == 0 {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("status IN ? AND updated_at < ? AND is_deleted = ?", statuses, updatedBefore, false).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) ListDeleted(dbc dbctx.Context, limit int) ([]*types.Video, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Video
	q := transaction.WithContext(dbc.Ctx).
		Where("is_deleted = ?", true).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) ListUserIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uuid.UUID
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Video{}).
		Distinct("user_id").
		Pluck("user_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoRepo) SumAudioSizeMBByUser(dbc dbctx.Context, userID uuid.UUID) (float64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return 0, nil
	}
	var total float64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Video{}).
		Where("user_id = ? AND is_deleted = ?", userID, false).
		Select("COALESCE(SUM(audio_size_mb), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *videoRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Video{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus refuses the write when the row has moved into one
// of the disallowed statuses. Pipeline stages use it so a cancellation that
// landed between checkpoints is never overwritten.
func (r *videoRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&types.Video{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
