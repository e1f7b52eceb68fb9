package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// InsightCache stores a generated topic tree keyed by the sorted video id
// set plus the extraction prompt version. Bumping the prompt version
// orphans old rows, which the cleanup scheduler eventually removes.
type InsightCache struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_insight_user_key,priority:1" json:"user_id"`

	CacheKey      string         `gorm:"not null;uniqueIndex:idx_insight_user_key,priority:2" json:"cache_key"`
	VideoIDs      datatypes.JSON `gorm:"type:jsonb;not null" json:"video_ids"`
	PromptVersion string         `gorm:"not null" json:"prompt_version"`

	Tree datatypes.JSON `gorm:"type:jsonb;not null" json:"tree"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (InsightCache) TableName() string { return "insight_cache" }
