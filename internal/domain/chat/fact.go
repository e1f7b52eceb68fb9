package chat

import (
	"time"

	"github.com/google/uuid"
)

// Fact categories in descending recall priority. Identity facts are never
// pruned or decayed by consolidation.
const (
	FactCategoryIdentity   = "identity"
	FactCategoryTopic      = "topic"
	FactCategoryPreference = "preference"
	FactCategorySession    = "session"
	FactCategoryEphemeral  = "ephemeral"
)

// ConversationFact is a key/value assertion extracted from a Q&A turn.
// (conversation_id, key) is unique; extraction skips keys that already
// exist rather than overwriting.
type ConversationFact struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_fact_conversation_key,priority:1" json:"conversation_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Key   string `gorm:"not null;uniqueIndex:idx_fact_conversation_key,priority:2" json:"key"`
	Value string `gorm:"type:text;not null" json:"value"`

	Category   string  `gorm:"not null;default:'topic';index" json:"category"`
	Importance float64 `gorm:"not null;default:0.5" json:"importance"`
	Confidence float64 `gorm:"not null;default:1.0" json:"confidence"`
	SourceTurn int     `gorm:"not null;default:0" json:"source_turn"`

	AccessCount  int        `gorm:"not null;default:0" json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ConversationFact) TableName() string { return "conversation_fact" }
