package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Segment is a time-coded span of transcript text. Speaker is nil when
// the source (captions, non-diarized STT) carries no speaker labels.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker,omitempty"`
}

type Transcript struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	VideoID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"video_id"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	FullText string         `gorm:"type:text;not null" json:"full_text"`
	Segments datatypes.JSON `gorm:"type:jsonb;not null" json:"segments"`

	Language         string  `json:"language"`
	WordCount        int     `gorm:"not null;default:0" json:"word_count"`
	DurationSeconds  float64 `gorm:"not null;default:0" json:"duration_seconds"`
	HasSpeakerLabels bool    `gorm:"not null;default:false" json:"has_speaker_labels"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Transcript) TableName() string { return "transcript" }
