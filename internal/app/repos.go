package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type Repos struct {
	Users        repos.UserRepo
	Quotas       repos.UserQuotaRepo
	Videos       repos.VideoRepo
	Transcripts  repos.TranscriptRepo
	Chunks       repos.ChunkRepo
	InsightCache repos.InsightCacheRepo

	Conversations repos.ConversationRepo
	Messages      repos.MessageRepo
	ChunkRefs     repos.MessageChunkRefRepo
	Facts         repos.ConversationFactRepo

	Jobs repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Users:        repos.NewUserRepo(db, log),
		Quotas:       repos.NewUserQuotaRepo(db, log),
		Videos:       repos.NewVideoRepo(db, log),
		Transcripts:  repos.NewTranscriptRepo(db, log),
		Chunks:       repos.NewChunkRepo(db, log),
		InsightCache: repos.NewInsightCacheRepo(db, log),

		Conversations: repos.NewConversationRepo(db, log),
		Messages:      repos.NewMessageRepo(db, log),
		ChunkRefs:     repos.NewMessageChunkRefRepo(db, log),
		Facts:         repos.NewConversationFactRepo(db, log),

		Jobs: repos.NewJobRunRepo(db, log),
	}
}
