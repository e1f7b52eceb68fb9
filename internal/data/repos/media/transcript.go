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

type TranscriptRepo interface {
	UpsertByVideoID(dbc dbctx.Context, row *types.Transcript) error
	GetByVideoID(dbc dbctx.Context, videoID uuid.UUID) (*types.Transcript, error)
	DeleteByVideoID(dbc dbctx.Context, videoID uuid.UUID) error
	SumFullTextBytesByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
}

type transcriptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptRepo {
	return &transcriptRepo{
		db:  db,
		log: baseLog.With("repo", "TranscriptRepo"),
	}
}

// UpsertByVideoID makes transcription idempotent: a stage retry after a
// partial failure replaces the previous row instead of erroring on the
// video_id unique index.
func (r *transcriptRepo) UpsertByVideoID(dbc dbctx.Context, row *types.Transcript) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil || row.VideoID == uuid.Nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.UpdatedAt = time.Now()

	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "video_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"full_text",
				"segments",
				"language",
				"word_count",
				"duration_seconds",
				"has_speaker_labels",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *transcriptRepo) GetByVideoID(dbc dbctx.Context, videoID uuid.UUID) (*types.Transcript, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return nil, nil
	}
	var transcript types.Transcript
	err := transaction.WithContext(dbc.Ctx).
		Where("video_id = ?", videoID).
		Limit(1).
		Find(&transcript).Error
	if err != nil {
		return nil, err
	}
	if transcript.ID == uuid.Nil {
		return nil, nil
	}
	return &transcript, nil
}

func (r *transcriptRepo) DeleteByVideoID(dbc dbctx.Context, videoID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if videoID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("video_id = ?", videoID).
		Delete(&types.Transcript{}).Error
}

func (r *transcriptRepo) SumFullTextBytesByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return 0, nil
	}
	var total int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Transcript{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(LENGTH(full_text)), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
