// Package domain re-exports the gorm models so callers can import one
// package as `types` rather than each area package.
package domain

import (
	"github.com/yungbote/vidscribe-backend/internal/domain/chat"
	"github.com/yungbote/vidscribe-backend/internal/domain/jobs"
	"github.com/yungbote/vidscribe-backend/internal/domain/media"
	"github.com/yungbote/vidscribe-backend/internal/domain/user"
)

type User = user.User
type UserQuota = user.UserQuota

type Video = media.Video
type Chapter = media.Chapter
type Transcript = media.Transcript
type Segment = media.Segment
type Chunk = media.Chunk
type InsightCache = media.InsightCache

type Conversation = chat.Conversation
type Message = chat.Message
type MessageChunkRef = chat.MessageChunkRef
type ConversationFact = chat.ConversationFact

type JobRun = jobs.JobRun

const (
	TierFree       = user.TierFree
	TierStarter    = user.TierStarter
	TierPro        = user.TierPro
	TierBusiness   = user.TierBusiness
	TierEnterprise = user.TierEnterprise
)

const (
	VideoStatusPending      = media.VideoStatusPending
	VideoStatusDownloading  = media.VideoStatusDownloading
	VideoStatusTranscribing = media.VideoStatusTranscribing
	VideoStatusChunking     = media.VideoStatusChunking
	VideoStatusEnriching    = media.VideoStatusEnriching
	VideoStatusIndexing     = media.VideoStatusIndexing
	VideoStatusCompleted    = media.VideoStatusCompleted
	VideoStatusFailed       = media.VideoStatusFailed
	VideoStatusCanceled     = media.VideoStatusCanceled

	TranscriptSourceCaptions = media.TranscriptSourceCaptions
	TranscriptSourceWhisper  = media.TranscriptSourceWhisper
)

const (
	RoleSystem    = chat.RoleSystem
	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
)

const (
	ModeSummarize      = chat.ModeSummarize
	ModeCompareSources = chat.ModeCompareSources
	ModeDeepDive       = chat.ModeDeepDive
	ModeTimeline       = chat.ModeTimeline
	ModeExtractActions = chat.ModeExtractActions
	ModeQuizMe         = chat.ModeQuizMe
)

const (
	FactCategoryIdentity   = chat.FactCategoryIdentity
	FactCategoryTopic      = chat.FactCategoryTopic
	FactCategoryPreference = chat.FactCategoryPreference
	FactCategorySession    = chat.FactCategorySession
	FactCategoryEphemeral  = chat.FactCategoryEphemeral
)

const (
	JobStatusQueued    = jobs.JobStatusQueued
	JobStatusRunning   = jobs.JobStatusRunning
	JobStatusSucceeded = jobs.JobStatusSucceeded
	JobStatusFailed    = jobs.JobStatusFailed
	JobStatusCanceled  = jobs.JobStatusCanceled

	JobTypeVideoIngest = jobs.JobTypeVideoIngest
)

var TerminalVideoStatus = media.TerminalVideoStatus
