package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Chunk struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	VideoID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_chunk_video_index,priority:1" json:"video_id"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunk_video_index,priority:2" json:"chunk_index"`
	Text       string `gorm:"type:text;not null" json:"text"`
	TokenCount int    `gorm:"not null;default:0" json:"token_count"`

	StartTS float64 `gorm:"not null;default:0;index" json:"start_ts"`
	EndTS   float64 `gorm:"not null;default:0" json:"end_ts"`

	Speakers     datatypes.JSON `gorm:"type:jsonb" json:"speakers,omitempty"`
	ChapterTitle *string        `json:"chapter_title,omitempty"`
	ChapterIndex *int           `json:"chapter_index,omitempty"`

	Title         string         `json:"title,omitempty"`
	Summary       string         `gorm:"type:text" json:"summary,omitempty"`
	Keywords      datatypes.JSON `gorm:"type:jsonb" json:"keywords,omitempty"`
	EmbeddingText string         `gorm:"type:text" json:"embedding_text,omitempty"`

	IsIndexed bool `gorm:"not null;default:false;index" json:"is_indexed"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chunk) TableName() string { return "chunk" }
