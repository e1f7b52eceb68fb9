// Package quota enforces per-user usage limits over rolling 30-day
// periods and tracks consumption. Storage is a gauge credited and debited
// by delta; the other counters reset when the period rolls.
package quota

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const periodLength = 30 * 24 * time.Hour

type Kind string

const (
	KindVideos          Kind = "videos"
	KindMinutes         Kind = "minutes"
	KindMessages        Kind = "messages"
	KindStorageMB       Kind = "storage_mb"
	KindEmbeddingTokens Kind = "embedding_tokens"
)

type Limits struct {
	Videos          int
	Minutes         float64
	Messages        int
	StorageMB       float64
	EmbeddingTokens int64
}

func freeLimits() Limits {
	return Limits{
		Videos:          envutil.Int("FREE_TIER_VIDEO_LIMIT", 10),
		Minutes:         envutil.Float("FREE_TIER_MINUTES_LIMIT", 300),
		Messages:        envutil.Int("FREE_TIER_MESSAGE_LIMIT", 200),
		StorageMB:       envutil.Float("FREE_TIER_STORAGE_MB", 500),
		EmbeddingTokens: envutil.Int64("FREE_TIER_EMBEDDING_TOKENS", 2_000_000),
	}
}

func tierMultiplier(tier string) int64 {
	switch tier {
	case types.TierStarter:
		return 5
	case types.TierPro:
		return 20
	case types.TierBusiness:
		return 100
	case types.TierEnterprise:
		return 10_000
	default:
		return 1
	}
}

// LimitsFor scales the free-tier baseline by the tier multiplier.
func LimitsFor(tier string) Limits {
	base := freeLimits()
	m := tierMultiplier(tier)
	return Limits{
		Videos:          base.Videos * int(m),
		Minutes:         base.Minutes * float64(m),
		Messages:        base.Messages * int(m),
		StorageMB:       base.StorageMB * float64(m),
		EmbeddingTokens: base.EmbeddingTokens * m,
	}
}

// VectorBytesEstimate is the assumed storage cost of one indexed vector,
// used when crediting freed space and when reconciling the storage gauge
// against ground truth. Default covers a 1536-dim float32 vector; payload
// overhead is ignored.
func VectorBytesEstimate() float64 {
	return envutil.Float("VECTOR_BYTES_ESTIMATE", 6144)
}

type Service interface {
	// Current returns the user's quota row for the present period,
	// creating it on first use and rolling the window forward when it
	// has lapsed. Limits re-sync when the user's tier changed.
	Current(dbc dbctx.Context, userID uuid.UUID) (*types.UserQuota, error)

	// Check rejects with a QuotaError when used+amount would exceed the
	// limit for kind. Admin users always pass. Negative amounts pass.
	Check(dbc dbctx.Context, userID uuid.UUID, kind Kind, amount float64) error

	TrackVideoIngestion(dbc dbctx.Context, userID uuid.UUID, durationMinutes, audioMB float64, videoID uuid.UUID) error
	TrackTranscription(dbc dbctx.Context, userID uuid.UUID, minutes float64) error
	TrackChatMessage(dbc dbctx.Context, userID uuid.UUID) error
	TrackEmbeddingGeneration(dbc dbctx.Context, userID uuid.UUID, tokenCount int64) error

	// TrackStorage applies a signed storage delta in MB. Credits (negative
	// deltas) are always accepted; the stored gauge floors at zero.
	TrackStorage(dbc dbctx.Context, userID uuid.UUID, deltaMB float64, reason string, videoID *uuid.UUID) error

	// OverwriteStorage sets the storage gauge outright; reconciliation
	// uses it after recomputing ground truth.
	OverwriteStorage(dbc dbctx.Context, userID uuid.UUID, actualMB float64) error
}

type service struct {
	log    *logger.Logger
	users  repos.UserRepo
	quotas repos.UserQuotaRepo
	now    func() time.Time
}

func New(log *logger.Logger, users repos.UserRepo, quotas repos.UserQuotaRepo) Service {
	return &service{
		log:    log.With("service", "QuotaService"),
		users:  users,
		quotas: quotas,
		now:    time.Now,
	}
}

func (s *service) Current(dbc dbctx.Context, userID uuid.UUID) (*types.UserQuota, error) {
	u, err := s.users.GetByID(dbc, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errdef.NotFound("user")
	}
	return s.currentForUser(dbc, u)
}

func (s *service) currentForUser(dbc dbctx.Context, u *types.User) (*types.UserQuota, error) {
	q, err := s.quotas.GetByUserID(dbc, u.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if q == nil {
		lim := LimitsFor(u.Tier)
		q = &types.UserQuota{
			UserID:      u.ID,
			Tier:        u.Tier,
			PeriodStart: now,
			PeriodEnd:   now.Add(periodLength),
		}
		applyLimits(q, lim)
		created, err := s.quotas.Create(dbc, []*types.UserQuota{q})
		if err != nil {
			return nil, err
		}
		return created[0], nil
	}

	updates := map[string]interface{}{}
	if now.After(q.PeriodEnd) {
		start, end := advanceWindow(q.PeriodStart, q.PeriodEnd, now)
		q.PeriodStart, q.PeriodEnd = start, end
		q.VideosUsed, q.MinutesUsed, q.MessagesUsed, q.EmbeddingTokensUsed = 0, 0, 0, 0
		updates["period_start"] = start
		updates["period_end"] = end
		updates["videos_used"] = 0
		updates["minutes_used"] = 0
		updates["messages_used"] = 0
		updates["embedding_tokens_used"] = 0
		s.log.Info("quota period rolled", "user_id", u.ID, "period_end", end)
	}
	if q.Tier != u.Tier {
		lim := LimitsFor(u.Tier)
		q.Tier = u.Tier
		applyLimits(q, lim)
		updates["tier"] = u.Tier
		updates["videos_limit"] = lim.Videos
		updates["minutes_limit"] = lim.Minutes
		updates["messages_limit"] = lim.Messages
		updates["storage_mb_limit"] = lim.StorageMB
		updates["embedding_tokens_limit"] = lim.EmbeddingTokens
	}
	if len(updates) > 0 {
		if err := s.quotas.UpdateFields(dbc, q.ID, updates); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// advanceWindow steps the period forward in whole 30-day increments so
// the billing anchor survives idle stretches.
func advanceWindow(start, end, now time.Time) (time.Time, time.Time) {
	for !end.After(now) {
		start = end
		end = end.Add(periodLength)
	}
	return start, end
}

func applyLimits(q *types.UserQuota, lim Limits) {
	q.VideosLimit = lim.Videos
	q.MinutesLimit = lim.Minutes
	q.MessagesLimit = lim.Messages
	q.StorageMBLimit = lim.StorageMB
	q.EmbeddingTokensLimit = lim.EmbeddingTokens
}

func (s *service) Check(dbc dbctx.Context, userID uuid.UUID, kind Kind, amount float64) error {
	u, err := s.users.GetByID(dbc, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return errdef.NotFound("user")
	}
	if u.IsAdmin {
		return nil
	}
	q, err := s.currentForUser(dbc, u)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return nil
	}

	var used, limit float64
	switch kind {
	case KindVideos:
		used, limit = float64(q.VideosUsed), float64(q.VideosLimit)
	case KindMinutes:
		used, limit = q.MinutesUsed, q.MinutesLimit
	case KindMessages:
		used, limit = float64(q.MessagesUsed), float64(q.MessagesLimit)
	case KindStorageMB:
		used, limit = q.StorageMBUsed, q.StorageMBLimit
	case KindEmbeddingTokens:
		used, limit = float64(q.EmbeddingTokensUsed), float64(q.EmbeddingTokensLimit)
	default:
		return errdef.Internal("unknown quota kind " + string(kind))
	}
	if used+amount > limit {
		return errdef.Quota(string(kind), used, limit, q.Tier)
	}
	return nil
}

func (s *service) TrackVideoIngestion(dbc dbctx.Context, userID uuid.UUID, durationMinutes, audioMB float64, videoID uuid.UUID) error {
	if err := s.bump(dbc, userID, map[string]interface{}{
		"videos_used":  gorm.Expr("videos_used + 1"),
		"minutes_used": gorm.Expr("minutes_used + ?", durationMinutes),
	}); err != nil {
		return err
	}
	if audioMB != 0 {
		return s.TrackStorage(dbc, userID, audioMB, "video_ingestion", &videoID)
	}
	return nil
}

// TrackTranscription records transcribed minutes as a billing signal
// without double-counting the per-video minutes from ingestion.
func (s *service) TrackTranscription(dbc dbctx.Context, userID uuid.UUID, minutes float64) error {
	s.log.Info("transcription tracked", "user_id", userID, "minutes", minutes)
	return nil
}

func (s *service) TrackChatMessage(dbc dbctx.Context, userID uuid.UUID) error {
	return s.bump(dbc, userID, map[string]interface{}{
		"messages_used": gorm.Expr("messages_used + 1"),
	})
}

func (s *service) TrackEmbeddingGeneration(dbc dbctx.Context, userID uuid.UUID, tokenCount int64) error {
	if tokenCount <= 0 {
		return nil
	}
	return s.bump(dbc, userID, map[string]interface{}{
		"embedding_tokens_used": gorm.Expr("embedding_tokens_used + ?", tokenCount),
	})
}

func (s *service) TrackStorage(dbc dbctx.Context, userID uuid.UUID, deltaMB float64, reason string, videoID *uuid.UUID) error {
	if deltaMB == 0 {
		return nil
	}
	err := s.bump(dbc, userID, map[string]interface{}{
		"storage_mb_used": gorm.Expr("GREATEST(storage_mb_used + ?, 0)", deltaMB),
	})
	if err != nil {
		return err
	}
	s.log.Info("storage tracked",
		"user_id", userID,
		"delta_mb", deltaMB,
		"reason", reason,
		"video_id", videoID,
	)
	return nil
}

func (s *service) OverwriteStorage(dbc dbctx.Context, userID uuid.UUID, actualMB float64) error {
	if actualMB < 0 {
		actualMB = 0
	}
	return s.quotas.UpdateFieldsByUserID(dbc, userID, map[string]interface{}{
		"storage_mb_used": actualMB,
	})
}

// bump ensures the row exists and the period is current, then applies
// atomic column increments.
func (s *service) bump(dbc dbctx.Context, userID uuid.UUID, updates map[string]interface{}) error {
	if _, err := s.Current(dbc, userID); err != nil {
		return err
	}
	return s.quotas.UpdateFieldsByUserID(dbc, userID, updates)
}
