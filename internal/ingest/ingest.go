// Package ingest accepts video submissions. It owns the synchronous edge
// of the pipeline: quota admission, the pending Video row, and the queued
// job. Everything after that happens in the videoingest pipeline.
package ingest

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

// Submission is the accepted request: the video row to poll and the job
// that will ingest it.
type Submission struct {
	Video *types.Video  `json:"video"`
	Job   *types.JobRun `json:"job"`
}

type Service interface {
	// Submit admits one URL for ingestion. The quota check runs before
	// any row is written, so a rejected request leaves nothing behind.
	Submit(dbc dbctx.Context, userID uuid.UUID, sourceURL string) (*Submission, error)
}

type service struct {
	log    *logger.Logger
	videos repos.VideoRepo
	jobs   repos.JobRunRepo
	usage  quota.Service
}

func New(baseLog *logger.Logger, videos repos.VideoRepo, jobs repos.JobRunRepo, usage quota.Service) Service {
	return &service{
		log:    baseLog.With("service", "IngestService"),
		videos: videos,
		jobs:   jobs,
		usage:  usage,
	}
}

func (s *service) Submit(dbc dbctx.Context, userID uuid.UUID, sourceURL string) (*Submission, error) {
	if userID == uuid.Nil {
		return nil, errdef.InvalidInput("missing user")
	}
	cleaned, err := normalizeURL(sourceURL)
	if err != nil {
		return nil, err
	}

	// A live duplicate resolves to the existing ingestion instead of a
	// second copy; failed and canceled videos stay retryable.
	if existing, err := s.videos.GetLiveByUserAndSourceURL(dbc, userID, cleaned); err != nil {
		return nil, errdef.MapDBError("lookup existing video", err)
	} else if existing != nil {
		job, err := s.jobs.GetLatestByEntity(dbc, userID, "video", existing.ID, types.JobTypeVideoIngest)
		if err != nil {
			return nil, errdef.MapDBError("lookup existing job", err)
		}
		s.log.Info("duplicate submission resolved to existing video",
			"user_id", userID, "video_id", existing.ID)
		return &Submission{Video: existing, Job: job}, nil
	}

	if err := s.usage.Check(dbc, userID, quota.KindVideos, 1); err != nil {
		return nil, err
	}

	videos, err := s.videos.Create(dbc, []*types.Video{{
		UserID:    userID,
		SourceURL: cleaned,
		Status:    types.VideoStatusPending,
	}})
	if err != nil {
		return nil, errdef.MapDBError("create video", err)
	}
	v := videos[0]

	payload := map[string]any{
		"video_id": v.ID.String(),
		"url":      cleaned,
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
	}

	row, err := jobrt.NewJobRun(userID, types.JobTypeVideoIngest, "video", &v.ID, payload)
	if err != nil {
		return nil, err
	}
	created, err := s.jobs.Create(dbc, []*types.JobRun{row})
	if err != nil {
		// The pending video without a job would sit until stale GC;
		// surface the failure and mark it failed now instead.
		_ = s.markSubmitFailed(dbc, v.ID, err)
		return nil, errdef.MapDBError("enqueue ingest job", err)
	}

	s.log.Info("video submitted", "user_id", userID, "video_id", v.ID, "job_id", created[0].ID)
	return &Submission{Video: v, Job: created[0]}, nil
}

func (s *service) markSubmitFailed(dbc dbctx.Context, videoID uuid.UUID, cause error) error {
	msg := "submission failed"
	if cause != nil {
		msg = cause.Error()
	}
	return s.videos.UpdateFields(dbc, videoID, map[string]interface{}{
		"status":        types.VideoStatusFailed,
		"error_message": msg,
	})
}

// normalizeURL validates the submitted URL and strips fragments. Only
// http(s) URLs with a host are accepted.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errdef.InvalidInput("missing url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errdef.InvalidInput("malformed url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errdef.InvalidInput("url must be http or https")
	}
	if u.Host == "" {
		return "", errdef.InvalidInput("url missing host")
	}
	u.Fragment = ""
	return u.String(), nil
}
