// Package cleanup runs the periodic maintenance jobs: stale pipeline GC,
// orphaned file GC, storage reconciliation against ground truth, and
// memory consolidation for idle conversations.
package cleanup

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/cancel"
	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/blob"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

// Consolidator compacts conversation memories once a conversation has gone
// idle. Implemented by the memory service; the scheduler only needs this
// slice of it.
type Consolidator interface {
	ConsolidateIdle(dbc dbctx.Context, idleFor time.Duration) (int, error)
}

// driftToleranceMB is how far the tracked storage gauge may wander from
// ground truth before reconciliation overwrites it.
const driftToleranceMB = 10.0

type Scheduler struct {
	log          *logger.Logger
	videos       repos.VideoRepo
	transcripts  repos.TranscriptRepo
	chunks       repos.ChunkRepo
	quotas       repos.UserQuotaRepo
	canceler     cancel.Service
	usage        quota.Service
	store        blob.Store
	consolidator Consolidator

	staleAfter time.Duration
}

func New(
	baseLog *logger.Logger,
	videos repos.VideoRepo,
	transcripts repos.TranscriptRepo,
	chunks repos.ChunkRepo,
	quotas repos.UserQuotaRepo,
	canceler cancel.Service,
	usage quota.Service,
	store blob.Store,
	consolidator Consolidator,
) *Scheduler {
	return &Scheduler{
		log:          baseLog.With("component", "CleanupScheduler"),
		videos:       videos,
		transcripts:  transcripts,
		chunks:       chunks,
		quotas:       quotas,
		canceler:     canceler,
		usage:        usage,
		store:        store,
		consolidator: consolidator,
		staleAfter:   envutil.Duration("STALE_VIDEO_MAX_AGE", 24*time.Hour),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.runLoop(ctx, "stale_video_gc", envutil.Duration("CLEANUP_STALE_INTERVAL", time.Hour), s.runStaleVideoGC)
	go s.runLoop(ctx, "orphan_file_gc", envutil.Duration("CLEANUP_ORPHAN_INTERVAL", 24*time.Hour), s.runOrphanFileGC)
	go s.runLoop(ctx, "storage_reconciliation", envutil.Duration("CLEANUP_RECONCILE_INTERVAL", 24*time.Hour), s.runReconciliation)
	go s.runLoop(ctx, "memory_consolidation", envutil.Duration("CLEANUP_CONSOLIDATE_INTERVAL", 24*time.Hour), s.runConsolidation)
	s.log.Info("cleanup scheduler started")
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	if interval <= 0 {
		s.log.Info("cleanup job disabled", "job", name)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (s *Scheduler) runStaleVideoGC(ctx context.Context) {
	n, err := s.StaleVideoGC(ctx)
	if err != nil {
		s.log.Warn("stale video gc failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("stale video gc finished", "canceled", n)
	}
}

// StaleVideoGC cancels videos stuck in pending or downloading past the
// stale window; their workers died or never picked them up.
func (s *Scheduler) StaleVideoGC(ctx context.Context) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().Add(-s.staleAfter)

	stale, err := s.videos.ListStale(dbc,
		[]string{types.VideoStatusPending, types.VideoStatusDownloading},
		cutoff, 200)
	if err != nil {
		return 0, err
	}

	canceled := 0
	for _, v := range stale {
		if _, err := s.canceler.Cancel(dbc, v.UserID, v.ID, cancel.KeepVideo); err != nil {
			s.log.Warn("stale video cancel failed", "video_id", v.ID, "error", err)
			continue
		}
		canceled++
		s.log.Info("canceled stale video",
			"video_id", v.ID,
			"status", v.Status,
			"idle", time.Since(v.UpdatedAt).Round(time.Minute),
		)
	}
	return canceled, nil
}

func (s *Scheduler) runOrphanFileGC(ctx context.Context) {
	removed, freed, err := s.OrphanFileGC(ctx)
	if err != nil {
		s.log.Warn("orphan file gc failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Info("orphan file gc finished", "dirs_removed", removed, "freed_bytes", freed)
	}
}

// OrphanFileGC removes storage directories whose video row no longer
// exists. Returns dirs removed and bytes freed.
func (s *Scheduler) OrphanFileGC(ctx context.Context) (int, int64, error) {
	dbc := dbctx.Context{Ctx: ctx}

	entries, err := s.store.ListVideoDirs(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.VideoID)
	}
	rows, err := s.videos.GetByIDs(dbc, ids)
	if err != nil {
		return 0, 0, err
	}
	existing := make(map[uuid.UUID]bool, len(rows))
	for _, v := range rows {
		existing[v.ID] = true
	}

	removed := 0
	var freed int64
	for _, e := range entries {
		if existing[e.VideoID] {
			continue
		}
		n, err := s.store.DeleteVideoDirs(ctx, e.UserID, e.VideoID)
		if err != nil {
			s.log.Warn("orphan dir delete failed", "user_id", e.UserID, "video_id", e.VideoID, "error", err)
			continue
		}
		removed++
		freed += n
		s.log.Info("removed orphaned video dir", "user_id", e.UserID, "video_id", e.VideoID, "freed_bytes", n)
	}
	return removed, freed, nil
}

func (s *Scheduler) runReconciliation(ctx context.Context) {
	stats, err := s.ReconcileStorage(ctx)
	if err != nil {
		s.log.Warn("storage reconciliation failed", "error", err)
		return
	}
	s.log.Info("storage reconciliation finished",
		"users_checked", stats.UsersChecked,
		"corrected", stats.Corrected,
		"orphan_chunks_deleted", stats.OrphanChunksDeleted,
	)
}

type ReconcileStats struct {
	UsersChecked        int
	Corrected           int
	OrphanChunksDeleted int64
}

// ReconcileStorage recomputes each user's storage footprint from ground
// truth (files on disk, text bytes in the DB, indexed vectors) and
// overwrites the tracked gauge when drift exceeds the tolerance. Chunks of
// soft-deleted videos are purged first; they are the main drift source.
func (s *Scheduler) ReconcileStorage(ctx context.Context) (*ReconcileStats, error) {
	dbc := dbctx.Context{Ctx: ctx}
	stats := &ReconcileStats{}

	deleted, err := s.videos.ListDeleted(dbc, 500)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		ids := make([]uuid.UUID, len(deleted))
		for i, v := range deleted {
			ids[i] = v.ID
		}
		n, err := s.chunks.DeleteByVideoIDs(dbc, ids)
		if err != nil {
			s.log.Warn("orphan chunk purge failed", "error", err)
		} else {
			stats.OrphanChunksDeleted = n
		}
	}

	userIDs, err := s.quotas.ListUserIDs(dbc)
	if err != nil {
		return nil, err
	}
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		actual, err := s.actualStorageMB(dbc, userID)
		if err != nil {
			s.log.Warn("storage recompute failed", "user_id", userID, "error", err)
			continue
		}
		q, err := s.quotas.GetByUserID(dbc, userID)
		if err != nil {
			s.log.Warn("quota row read failed", "user_id", userID, "error", err)
			continue
		}
		if q == nil {
			continue
		}
		stats.UsersChecked++

		drift := actual - q.StorageMBUsed
		if math.Abs(drift) <= driftToleranceMB {
			continue
		}
		if err := s.usage.OverwriteStorage(dbc, userID, actual); err != nil {
			s.log.Warn("storage overwrite failed", "user_id", userID, "error", err)
			continue
		}
		stats.Corrected++
		s.log.Info("storage gauge corrected",
			"user_id", userID,
			"tracked_mb", q.StorageMBUsed,
			"actual_mb", actual,
			"drift_mb", drift,
		)
	}
	return stats, nil
}

func (s *Scheduler) actualStorageMB(dbc dbctx.Context, userID uuid.UUID) (float64, error) {
	diskMB, err := s.store.UsageMB(dbc.Ctx, userID)
	if err != nil {
		return 0, err
	}
	chunkBytes, err := s.chunks.SumTextBytesByUser(dbc, userID)
	if err != nil {
		return 0, err
	}
	transcriptBytes, err := s.transcripts.SumFullTextBytesByUser(dbc, userID)
	if err != nil {
		return 0, err
	}
	indexed, err := s.chunks.CountIndexedByUser(dbc, userID)
	if err != nil {
		return 0, err
	}
	const mb = 1024 * 1024
	return diskMB + float64(chunkBytes+transcriptBytes)/mb + float64(indexed)*quota.VectorBytesEstimate()/mb, nil
}

func (s *Scheduler) runConsolidation(ctx context.Context) {
	if s.consolidator == nil {
		return
	}
	idleFor := envutil.Duration("MEMORY_CONSOLIDATION_IDLE", 24*time.Hour)
	n, err := s.consolidator.ConsolidateIdle(dbctx.Context{Ctx: ctx}, idleFor)
	if err != nil {
		s.log.Warn("memory consolidation failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("memory consolidation finished", "conversations", n)
	}
}
