package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type ConversationFactRepo interface {
	CreateIgnoreExisting(dbc dbctx.Context, facts []*types.ConversationFact) error
	GetByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.ConversationFact, error)
	CountByConversation(dbc dbctx.Context, conversationID uuid.UUID) (int64, error)
	MarkAccessed(dbc dbctx.Context, ids []uuid.UUID) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
}

type conversationFactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationFactRepo(db *gorm.DB, baseLog *logger.Logger) ConversationFactRepo {
	return &conversationFactRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationFactRepo"),
	}
}

// CreateIgnoreExisting inserts facts, silently skipping rows whose
// (conversation_id, key) already exists. Extraction never overwrites an
// established fact.
func (r *conversationFactRepo) CreateIgnoreExisting(dbc dbctx.Context, facts []*types.ConversationFact) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(facts) == 0 {
		return nil
	}
	for _, fact := range facts {
		if fact.ID == uuid.Nil {
			fact.ID = uuid.New()
		}
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&facts).Error
}

func (r *conversationFactRepo) GetByConversation(dbc dbctx.Context, conversationID uuid.UUID) ([]*types.ConversationFact, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ConversationFact
	if conversationID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationFactRepo) CountByConversation(dbc dbctx.Context, conversationID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if conversationID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.ConversationFact{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *conversationFactRepo) MarkAccessed(dbc dbctx.Context, ids []uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.ConversationFact{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": now,
			"updated_at":    now,
		}).Error
}

func (r *conversationFactRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ConversationFact{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationFactRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.ConversationFact{}).Error
}
