package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, conversations []*types.Conversation) ([]*types.Conversation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	GetByUserAndID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Conversation, error)
	ListIdleSince(dbc dbctx.Context, updatedBefore time.Time, limit int) ([]*types.Conversation, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	IncrementCounters(dbc dbctx.Context, id uuid.UUID, messageDelta, tokenDelta int) error
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return &conversationRepo{
		db:  db,
		log: baseLog.With("repo", "ConversationRepo"),
	}
}

func (r *conversationRepo) Create(dbc dbctx.Context, conversations []*types.Conversation) ([]*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(conversations) == 0 {
		return []*types.Conversation{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&conversations).Error; err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var conversation types.Conversation
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&conversation).Error
	if err != nil {
		return nil, err
	}
	if conversation.ID == uuid.Nil {
		return nil, nil
	}
	return &conversation, nil
}

func (r *conversationRepo) GetByUserAndID(dbc dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var conversation types.Conversation
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Limit(1).
		Find(&conversation).Error
	if err != nil {
		return nil, err
	}
	if conversation.ID == uuid.Nil {
		return nil, nil
	}
	return &conversation, nil
}

func (r *conversationRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Conversation
	if userID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC")
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

func (r *conversationRepo) ListIdleSince(dbc dbctx.Context, updatedBefore time.Time, limit int) ([]*types.Conversation, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Conversation
	q := transaction.WithContext(dbc.Ctx).
		Where("updated_at < ? AND message_count > 0", updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conversationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *conversationRepo) IncrementCounters(dbc dbctx.Context, id uuid.UUID, messageDelta, tokenDelta int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || (messageDelta == 0 && tokenDelta == 0) {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"message_count": gorm.Expr("message_count + ?", messageDelta),
			"token_total":   gorm.Expr("token_total + ?", tokenDelta),
			"updated_at":    time.Now(),
		}).Error
}
