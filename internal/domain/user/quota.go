package user

import (
	"time"

	"github.com/google/uuid"
)

// UserQuota tracks usage against the rolling 30-day period. Storage is
// delta-applied on the hot path; the nightly reconciliation job overwrites
// it from ground truth when drift exceeds the tolerance.
type UserQuota struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Tier   string    `gorm:"not null;default:'free'" json:"tier"`

	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null;index" json:"period_end"`

	VideosUsed  int `gorm:"not null;default:0" json:"videos_used"`
	VideosLimit int `gorm:"not null;default:0" json:"videos_limit"`

	MinutesUsed  float64 `gorm:"not null;default:0" json:"minutes_used"`
	MinutesLimit float64 `gorm:"not null;default:0" json:"minutes_limit"`

	MessagesUsed  int `gorm:"not null;default:0" json:"messages_used"`
	MessagesLimit int `gorm:"not null;default:0" json:"messages_limit"`

	StorageMBUsed  float64 `gorm:"not null;default:0" json:"storage_mb_used"`
	StorageMBLimit float64 `gorm:"not null;default:0" json:"storage_mb_limit"`

	EmbeddingTokensUsed  int64 `gorm:"not null;default:0" json:"embedding_tokens_used"`
	EmbeddingTokensLimit int64 `gorm:"not null;default:0" json:"embedding_tokens_limit"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserQuota) TableName() string { return "user_quota" }
