package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chat modes bias retrieval breadth and the answer style. Unknown modes
// fall back to conservative retrieval defaults.
const (
	ModeSummarize      = "summarize"
	ModeCompareSources = "compare_sources"
	ModeDeepDive       = "deep_dive"
	ModeTimeline       = "timeline"
	ModeExtractActions = "extract_actions"
	ModeQuizMe         = "quiz_me"
)

type Conversation struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title            string         `json:"title"`
	SelectedVideoIDs datatypes.JSON `gorm:"type:jsonb" json:"selected_video_ids,omitempty"`

	MessageCount int `gorm:"not null;default:0" json:"message_count"`
	TokenTotal   int `gorm:"not null;default:0" json:"token_total"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }
