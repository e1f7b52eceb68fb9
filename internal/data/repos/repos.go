package repos

import (
	"github.com/yungbote/vidscribe-backend/internal/data/repos/chat"
	"github.com/yungbote/vidscribe-backend/internal/data/repos/jobs"
	"github.com/yungbote/vidscribe-backend/internal/data/repos/media"
	"github.com/yungbote/vidscribe-backend/internal/data/repos/user"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type UserRepo = user.UserRepo
type UserQuotaRepo = user.UserQuotaRepo

type VideoRepo = media.VideoRepo
type TranscriptRepo = media.TranscriptRepo
type ChunkRepo = media.ChunkRepo
type InsightCacheRepo = media.InsightCacheRepo

type ConversationRepo = chat.ConversationRepo
type MessageRepo = chat.MessageRepo
type MessageChunkRefRepo = chat.MessageChunkRefRepo
type ConversationFactRepo = chat.ConversationFactRepo

type JobRunRepo = jobs.JobRunRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return user.NewUserRepo(db, baseLog) }
func NewUserQuotaRepo(db *gorm.DB, baseLog *logger.Logger) UserQuotaRepo {
	return user.NewUserQuotaRepo(db, baseLog)
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	return media.NewVideoRepo(db, baseLog)
}
func NewTranscriptRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptRepo {
	return media.NewTranscriptRepo(db, baseLog)
}
func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return media.NewChunkRepo(db, baseLog)
}
func NewInsightCacheRepo(db *gorm.DB, baseLog *logger.Logger) InsightCacheRepo {
	return media.NewInsightCacheRepo(db, baseLog)
}

func NewConversationRepo(db *gorm.DB, baseLog *logger.Logger) ConversationRepo {
	return chat.NewConversationRepo(db, baseLog)
}
func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return chat.NewMessageRepo(db, baseLog)
}
func NewMessageChunkRefRepo(db *gorm.DB, baseLog *logger.Logger) MessageChunkRefRepo {
	return chat.NewMessageChunkRefRepo(db, baseLog)
}
func NewConversationFactRepo(db *gorm.DB, baseLog *logger.Logger) ConversationFactRepo {
	return chat.NewConversationFactRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
