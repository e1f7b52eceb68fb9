package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type ChunkRepo interface {
	Create(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error)
	GetByVideoID(dbc dbctx.Context, videoID uuid.UUID) ([]*types.Chunk, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error)
	GetByUserAndIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.Chunk, error)
	ListUnindexed(dbc dbctx.Context, videoID uuid.UUID) ([]*types.Chunk, error)
	CountByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error)
	CountIndexedByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error)
	SumTextBytesByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error)
	SumTextBytesByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
	CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
	CountIndexedByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
	MarkIndexed(dbc dbctx.Context, ids []uuid.UUID) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error)
	DeleteByVideoIDs(dbc dbctx.Context, videoIDs []uuid.UUID) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{
		db:  db,
		log: baseLog.With("repo", "ChunkRepo"),
	}
}

func (r *chunkRepo) Create(dbc dbctx.Context, chunks []*types.Chunk) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.Chunk{}, nil
	}

	// Keep batches small because Text is large
	const batchSize = 100

	if err := transaction.WithContext(dbc.Ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) GetByVideoID(dbc dbctx.Context, videoID uuid.UUID) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chunk
	if videoID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("video_id = ?", videoID).
		Order("chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chunk
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

func (r *chunkRepo) GetByUserAndIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chunk
	if userID == uuid.Nil || len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) ListUnindexed(dbc dbctx.Context, videoID uuid.UUID) ([]*types.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chunk
	if videoID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("video_id = ? AND is_indexed = ?", videoID, false).
		Order("chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) CountByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("video_id = ?", videoID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *chunkRepo) SumTextBytesByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	var total int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("video_id = ?", videoID).
		Select("COALESCE(SUM(LENGTH(text)), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *chunkRepo) SumTextBytesByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return 0, nil
	}
	var total int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(LENGTH(text)), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *chunkRepo) CountByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *chunkRepo) CountIndexedByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("video_id = ? AND is_indexed = ?", videoID, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *chunkRepo) CountIndexedByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("user_id = ? AND is_indexed = ?", userID, true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *chunkRepo) MarkIndexed(dbc dbctx.Context, ids []uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Chunk{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_indexed": true,
			"updated_at": time.Now(),
		}).Error
}

func (r *chunkRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Chunk{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chunkRepo) DeleteByVideoID(dbc dbctx.Context, videoID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("video_id = ?", videoID).
		Delete(&types.Chunk{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *chunkRepo) DeleteByVideoIDs(dbc dbctx.Context, videoIDs []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(videoIDs) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("video_id IN ?", videoIDs).
		Delete(&types.Chunk{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
