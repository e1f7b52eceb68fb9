package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Role    string `gorm:"not null;index" json:"role"`
	Content string `gorm:"type:text;not null" json:"content"`

	TokensIn  *int   `json:"tokens_in,omitempty"`
	TokensOut *int   `json:"tokens_out,omitempty"`
	Model     string `json:"model,omitempty"`
	Provider  string `json:"provider,omitempty"`

	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Message) TableName() string { return "message" }

// MessageChunkRef records which retrieved chunks backed an assistant
// message, with the relevance score and rank at answer time.
type MessageChunkRef struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	ChunkID   uuid.UUID `gorm:"type:uuid;not null;index" json:"chunk_id"`

	RelevanceScore float64 `gorm:"not null;default:0" json:"relevance_score"`
	Rank           int     `gorm:"not null;default:0" json:"rank"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (MessageChunkRef) TableName() string { return "message_chunk_ref" }
