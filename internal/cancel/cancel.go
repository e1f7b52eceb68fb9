// Package cancel stops in-flight ingestion and reclaims the state a video
// produced along the way: vectors, chunk rows, the transcript, stored
// files, and the storage quota they consumed.
package cancel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/blob"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

// Option selects what remains of the video after cancellation.
type Option string

const (
	// KeepVideo leaves the row visible with status canceled.
	KeepVideo Option = "keep_video"
	// FullDelete additionally soft-deletes the row.
	FullDelete Option = "full_delete"
)

// Result reports what a cancel or delete actually did.
type Result struct {
	VideoID         uuid.UUID `json:"video_id"`
	AlreadyCanceled bool      `json:"already_canceled"`
	RevokeIssued    bool      `json:"revoke_issued"`
	FreedMB         float64   `json:"freed_mb"`
}

type Service interface {
	// Cancel stops the video's pipeline and reclaims partial state. Only
	// non-terminal videos are cancellable; canceling an already-canceled
	// video is a no-op success.
	Cancel(dbc dbctx.Context, userID, videoID uuid.UUID, opt Option) (*Result, error)

	// Delete removes a video in any state: an active ingestion is canceled
	// first, then derived state is reclaimed and the row soft-deleted.
	// Deleting an already-deleted video is a no-op success.
	Delete(dbc dbctx.Context, userID, videoID uuid.UUID) (*Result, error)
}

type service struct {
	log         *logger.Logger
	videos      repos.VideoRepo
	transcripts repos.TranscriptRepo
	chunks      repos.ChunkRepo
	jobs        repos.JobRunRepo
	usage       quota.Service
	store       blob.Store
	index       vectorstore.Index
	revocations *jobrt.Revocations
	notify      jobrt.Notifier
}

func New(
	baseLog *logger.Logger,
	videos repos.VideoRepo,
	transcripts repos.TranscriptRepo,
	chunks repos.ChunkRepo,
	jobs repos.JobRunRepo,
	usage quota.Service,
	store blob.Store,
	index vectorstore.Index,
	revocations *jobrt.Revocations,
	notify jobrt.Notifier,
) Service {
	return &service{
		log:         baseLog.With("service", "CancelService"),
		videos:      videos,
		transcripts: transcripts,
		chunks:      chunks,
		jobs:        jobs,
		usage:       usage,
		store:       store,
		index:       index,
		revocations: revocations,
		notify:      notify,
	}
}

func (s *service) Cancel(dbc dbctx.Context, userID, videoID uuid.UUID, opt Option) (*Result, error) {
	v, err := s.videos.GetByUserAndID(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errdef.NotFound("video")
	}

	if v.Status == types.VideoStatusCanceled {
		return &Result{VideoID: v.ID, AlreadyCanceled: true}, nil
	}
	if types.TerminalVideoStatus(v.Status) {
		return nil, errdef.InvalidInput(fmt.Sprintf("video is %s; only an active ingestion can be canceled", v.Status))
	}

	// Status flips first: active stages observe the cancel at their next
	// checkpoint regardless of whether the revoke signal reaches them.
	if err := s.videos.UpdateFields(dbc, v.ID, map[string]interface{}{
		"status": types.VideoStatusCanceled,
	}); err != nil {
		return nil, err
	}

	res := &Result{VideoID: v.ID}
	res.RevokeIssued = s.revokeJob(dbc, v)
	res.FreedMB = s.cleanup(dbc, v, allCleanup(), "cancel_cleanup")

	if opt == FullDelete {
		if err := s.softDelete(dbc, v.ID); err != nil {
			return nil, err
		}
	}

	s.log.Info("video canceled",
		"video_id", v.ID,
		"option", string(opt),
		"revoke_issued", res.RevokeIssued,
		"freed_mb", res.FreedMB,
	)
	return res, nil
}

func (s *service) Delete(dbc dbctx.Context, userID, videoID uuid.UUID) (*Result, error) {
	v, err := s.videos.GetByUserAndID(dbc, userID, videoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errdef.NotFound("video")
	}
	if v.IsDeleted {
		return &Result{VideoID: v.ID, AlreadyCanceled: v.Status == types.VideoStatusCanceled}, nil
	}

	res := &Result{VideoID: v.ID}
	if !types.TerminalVideoStatus(v.Status) {
		if err := s.videos.UpdateFields(dbc, v.ID, map[string]interface{}{
			"status": types.VideoStatusCanceled,
		}); err != nil {
			return nil, err
		}
		res.RevokeIssued = s.revokeJob(dbc, v)
	}

	res.FreedMB = s.cleanup(dbc, v, allCleanup(), "video_delete")
	if err := s.softDelete(dbc, v.ID); err != nil {
		return nil, err
	}

	s.log.Info("video deleted", "video_id", v.ID, "freed_mb", res.FreedMB)
	return res, nil
}

// revokeJob marks the video's active job row canceled and interrupts the
// worker running it, when this process owns it. Returns whether a revoke
// signal was actually issued.
func (s *service) revokeJob(dbc dbctx.Context, v *types.Video) bool {
	job, err := s.jobs.GetLatestByEntity(dbc, v.UserID, "video", v.ID, types.JobTypeVideoIngest)
	if err != nil {
		s.log.Warn("job lookup during cancel failed", "video_id", v.ID, "error", err)
		return false
	}
	if job == nil {
		return false
	}
	if job.Status != types.JobStatusQueued && job.Status != types.JobStatusRunning {
		return false
	}

	ok, err := s.jobs.UpdateFieldsUnlessStatus(dbc, job.ID,
		[]string{types.JobStatusSucceeded, types.JobStatusFailed, types.JobStatusCanceled},
		map[string]interface{}{
			"status":    types.JobStatusCanceled,
			"locked_at": nil,
		})
	if err != nil {
		s.log.Warn("job row cancel failed", "job_id", job.ID, "error", err)
	}

	issued := false
	if s.revocations != nil {
		issued = s.revocations.Revoke(job.ID)
	}
	if ok && s.notify != nil {
		job.Status = types.JobStatusCanceled
		s.notify.JobCanceled(v.UserID, job, job.Stage)
	}
	return issued
}

type cleanupFlags struct {
	deleteFiles     bool
	deleteVectors   bool
	deleteDBRecords bool
	trackQuota      bool
}

func allCleanup() cleanupFlags {
	return cleanupFlags{deleteFiles: true, deleteVectors: true, deleteDBRecords: true, trackQuota: true}
}

// cleanup reclaims derived state and reports the MB credited back. Partial
// failure logs and continues; a missing file or vector row must never fail
// the cancel. Sizes are probed before each deletion so the credit matches
// what was actually freed.
func (s *service) cleanup(dbc dbctx.Context, v *types.Video, flags cleanupFlags, reason string) float64 {
	var freedBytes float64

	if flags.deleteVectors {
		indexed, err := s.chunks.CountIndexedByVideoID(dbc, v.ID)
		if err != nil {
			s.log.Warn("indexed count failed during cleanup", "video_id", v.ID, "error", err)
			indexed = 0
		}
		if err := s.index.DeleteByFilter(dbc.Ctx, vectorstore.Filter{UserID: v.UserID, VideoIDs: []uuid.UUID{v.ID}}); err != nil {
			s.log.Warn("vector delete failed during cleanup", "video_id", v.ID, "error", err)
		} else {
			freedBytes += float64(indexed) * quota.VectorBytesEstimate()
		}
	}

	if flags.deleteDBRecords {
		textBytes, err := s.chunks.SumTextBytesByVideoID(dbc, v.ID)
		if err != nil {
			s.log.Warn("chunk size probe failed during cleanup", "video_id", v.ID, "error", err)
			textBytes = 0
		}
		if _, err := s.chunks.DeleteByVideoID(dbc, v.ID); err != nil {
			s.log.Warn("chunk delete failed during cleanup", "video_id", v.ID, "error", err)
		} else {
			freedBytes += float64(textBytes)
		}
		if err := s.transcripts.DeleteByVideoID(dbc, v.ID); err != nil {
			s.log.Warn("transcript row delete failed during cleanup", "video_id", v.ID, "error", err)
		}
	}

	if flags.deleteFiles {
		freedAudio, err := s.store.DeleteAudio(dbc.Ctx, v.UserID, v.ID)
		if err != nil {
			s.log.Warn("audio delete failed during cleanup", "video_id", v.ID, "error", err)
		} else {
			freedBytes += float64(freedAudio)
		}
		freedTranscript, err := s.store.DeleteTranscript(dbc.Ctx, v.UserID, v.ID)
		if err != nil {
			s.log.Warn("transcript file delete failed during cleanup", "video_id", v.ID, "error", err)
		} else {
			freedBytes += float64(freedTranscript)
		}
	}

	freedMB := freedBytes / (1024 * 1024)
	if flags.trackQuota && freedMB > 0 {
		if err := s.usage.TrackStorage(dbc, v.UserID, -freedMB, reason, &v.ID); err != nil {
			s.log.Warn("storage credit failed during cleanup", "video_id", v.ID, "error", err)
		}
	}

	if err := s.videos.UpdateFields(dbc, v.ID, map[string]interface{}{
		"audio_path":      nil,
		"audio_size_mb":   nil,
		"transcript_path": nil,
		"chunk_count":     0,
		"is_indexed":      false,
	}); err != nil {
		s.log.Warn("column reset failed during cleanup", "video_id", v.ID, "error", err)
	}
	return freedMB
}

func (s *service) softDelete(dbc dbctx.Context, videoID uuid.UUID) error {
	return s.videos.UpdateFields(dbc, videoID, map[string]interface{}{
		"is_deleted": true,
		"deleted_at": time.Now(),
	})
}
