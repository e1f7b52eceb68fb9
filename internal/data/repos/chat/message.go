package chat

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, messages []*types.Message) ([]*types.Message, error)
	ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit, offset int) ([]*types.Message, error)
	ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error)
	CountByConversation(dbc dbctx.Context, conversationID uuid.UUID) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{
		db:  db,
		log: baseLog.With("repo", "MessageRepo"),
	}
}

func (r *messageRepo) Create(dbc dbctx.Context, messages []*types.Message) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(messages) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepo) ListByConversation(dbc dbctx.Context, conversationID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Message
	if conversationID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC")
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

// ListRecent returns the newest messages oldest-first, ready for a prompt
// context window.
func (r *messageRepo) ListRecent(dbc dbctx.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Message
	if conversationID == uuid.Nil || limit <= 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *messageRepo) CountByConversation(dbc dbctx.Context, conversationID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if conversationID == uuid.Nil {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

type MessageChunkRefRepo interface {
	Create(dbc dbctx.Context, refs []*types.MessageChunkRef) ([]*types.MessageChunkRef, error)
	ListByMessageIDs(dbc dbctx.Context, messageIDs []uuid.UUID) ([]*types.MessageChunkRef, error)
}

type messageChunkRefRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageChunkRefRepo(db *gorm.DB, baseLog *logger.Logger) MessageChunkRefRepo {
	return &messageChunkRefRepo{
		db:  db,
		log: baseLog.With("repo", "MessageChunkRefRepo"),
	}
}

func (r *messageChunkRefRepo) Create(dbc dbctx.Context, refs []*types.MessageChunkRef) ([]*types.MessageChunkRef, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(refs) == 0 {
		return []*types.MessageChunkRef{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *messageChunkRefRepo) ListByMessageIDs(dbc dbctx.Context, messageIDs []uuid.UUID) ([]*types.MessageChunkRef, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MessageChunkRef
	if len(messageIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("message_id IN ?", messageIDs).
		Order("rank ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
