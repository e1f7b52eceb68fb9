package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Video status values. Terminal states are completed, failed and canceled;
// the cancellation engine rejects videos already in a terminal state.
const (
	VideoStatusPending      = "pending"
	VideoStatusDownloading  = "downloading"
	VideoStatusTranscribing = "transcribing"
	VideoStatusChunking     = "chunking"
	VideoStatusEnriching    = "enriching"
	VideoStatusIndexing     = "indexing"
	VideoStatusCompleted    = "completed"
	VideoStatusFailed       = "failed"
	VideoStatusCanceled     = "canceled"
)

const (
	TranscriptSourceCaptions = "captions"
	TranscriptSourceWhisper  = "whisper"
)

func TerminalVideoStatus(status string) bool {
	switch status {
	case VideoStatusCompleted, VideoStatusFailed, VideoStatusCanceled:
		return true
	default:
		return false
	}
}

type Video struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	SourceURL string    `gorm:"not null" json:"source_url"`
	SourceID  string    `gorm:"index" json:"source_id"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel"`

	DurationSeconds float64        `gorm:"not null;default:0" json:"duration_seconds"`
	Chapters        datatypes.JSON `gorm:"type:jsonb" json:"chapters,omitempty"`
	Metadata        datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	Status          string `gorm:"not null;default:'pending';index" json:"status"`
	ProgressPercent int    `gorm:"not null;default:0" json:"progress_percent"`
	ErrorMessage    string `json:"error_message,omitempty"`

	TranscriptSource      string `json:"transcript_source,omitempty"`
	TranscriptionLanguage string `json:"transcription_language,omitempty"`

	AudioPath      *string  `json:"audio_path,omitempty"`
	AudioSizeMB    *float64 `json:"audio_size_mb,omitempty"`
	TranscriptPath *string  `json:"transcript_path,omitempty"`

	ChunkCount int  `gorm:"not null;default:0" json:"chunk_count"`
	IsIndexed  bool `gorm:"not null;default:false" json:"is_indexed"`

	// Video-level rollup produced after chunk enrichment; the COVERAGE
	// retrieval path reads these instead of searching chunks.
	Summary   string         `gorm:"type:text" json:"summary,omitempty"`
	KeyTopics datatypes.JSON `gorm:"type:jsonb" json:"key_topics,omitempty"`

	// Soft delete is explicit, not gorm-managed: reconciliation still
	// needs to see deleted rows to purge their chunks.
	IsDeleted bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Video) TableName() string { return "video" }

// Chapter is the decoded element type of Video.Chapters.
type Chapter struct {
	Title    string  `json:"title"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}
