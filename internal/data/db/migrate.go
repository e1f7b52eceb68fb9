package db

import (
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Identity + quota
		// =========================
		&types.User{},
		&types.UserQuota{},

		// =========================
		// Media (videos + transcripts + chunks)
		// =========================
		&types.Video{},
		&types.Transcript{},
		&types.Chunk{},
		&types.InsightCache{},

		// =========================
		// Chat (conversations + memory)
		// =========================
		&types.Conversation{},
		&types.Message{},
		&types.MessageChunkRef{},
		&types.ConversationFact{},

		// =========================
		// Background jobs
		// =========================
		&types.JobRun{},
	)
}
