package videoingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	videoID, ok := jc.PayloadUUID("video_id")
	if !ok || videoID == uuid.Nil {
		jc.Fail("validate", fmt.Errorf("missing video_id"))
		return nil
	}

	err := p.run(jc, videoID)
	if err == nil {
		return nil
	}
	if errors.Is(err, errdef.ErrCanceled) || errors.Is(err, context.Canceled) {
		p.log.Info("pipeline canceled", "video_id", videoID, "stage", jc.Job.Stage)
		jc.Canceled(jc.Job.Stage)
		return nil
	}

	p.log.Error("pipeline failed", "video_id", videoID, "stage", jc.Job.Stage, "error", err)
	p.markVideoFailed(jc.Ctx, videoID, err)
	jc.Fail(jc.Job.Stage, err)
	return nil
}

func (p *Pipeline) run(jc *jobrt.Context, videoID uuid.UUID) error {
	err := p.retryStage(jc, stageTranscribe, stageBackoffs(p.log, stageTranscribe), errdef.Retryable, func() error {
		v, err := p.checkpoint(jc.Ctx, videoID)
		if err != nil {
			return err
		}
		return p.stageTranscribe(jc, v)
	})
	if err != nil {
		return err
	}

	jc.Progress(checkpointAfterTranscription, 100, "transcription complete")

	err = p.retryStage(jc, stageChunkEnrich, stageBackoffs(p.log, stageChunkEnrich), stageRetryable, func() error {
		v, err := p.checkpoint(jc.Ctx, videoID)
		if err != nil {
			return err
		}
		return p.stageChunkEnrich(jc, v)
	})
	if err != nil {
		return err
	}
	jc.Progress(checkpointAfterChunkEnrich, 90, "chunks ready")

	err = p.retryStage(jc, stageEmbedIndex, stageBackoffs(p.log, stageEmbedIndex), stageRetryable, func() error {
		v, err := p.checkpoint(jc.Ctx, videoID)
		if err != nil {
			return err
		}
		return p.stageEmbedIndex(jc, v)
	})
	if err != nil {
		return err
	}

	v, err := p.videos.GetByID(dbctx.Context{Ctx: jc.Ctx}, videoID)
	if err != nil || v == nil {
		jc.Succeed("done", map[string]any{"video_id": videoID.String()})
		return nil
	}
	jc.Succeed("done", map[string]any{
		"video_id":          videoID.String(),
		"transcript_source": v.TranscriptSource,
		"chunk_count":       v.ChunkCount,
	})
	return nil
}

// checkpoint refreshes the video row and stops the run when cancellation
// has been requested since the last look.
func (p *Pipeline) checkpoint(ctx context.Context, videoID uuid.UUID) (*types.Video, error) {
	v, err := p.videos.GetByID(dbctx.Context{Ctx: ctx}, videoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errdef.NotFound("video")
	}
	if v.Status == types.VideoStatusCanceled {
		return nil, fmt.Errorf("video %s: %w", videoID, errdef.ErrCanceled)
	}
	return v, nil
}

// stageRetryable is the retry gate for the chunk and index stages. Caller
// mistakes, exhausted quotas, malformed model output, and cancellation are
// final; anything else is assumed to be provider weather worth retrying.
func stageRetryable(err error) bool {
	switch {
	case errors.Is(err, errdef.ErrCanceled),
		errors.Is(err, context.Canceled),
		errors.Is(err, errdef.ErrQuotaExceeded),
		errors.Is(err, errdef.ErrInvalidInput),
		errors.Is(err, errdef.ErrParse),
		errors.Is(err, errdef.ErrNotFound):
		return false
	}
	return true
}

// retryStage runs fn, retrying per the stage's backoff schedule while the
// gate allows. Each attempt is observed for the stage metrics.
func (p *Pipeline) retryStage(jc *jobrt.Context, stage string, backoffs []time.Duration, retryable func(error) bool, fn func() error) error {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := fn()
		observability.Current().ObservePipelineStage(stage, stageStatus(err), time.Since(start))
		if err == nil {
			return nil
		}
		if attempt >= len(backoffs) || !retryable(err) {
			return err
		}
		p.log.Warn("stage failed, will retry",
			"stage", stage,
			"attempt", attempt+1,
			"backoff", backoffs[attempt],
			"error", err,
		)
		if serr := sleepCtx(jc.Ctx, backoffs[attempt]); serr != nil {
			return serr
		}
	}
}

func stageStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errdef.ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// setVideo applies updates guarded against a concurrent cancel. A rejected
// write means the cancellation engine got there first.
func (p *Pipeline) setVideo(ctx context.Context, videoID uuid.UUID, updates map[string]interface{}) error {
	ok, err := p.videos.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, videoID, []string{types.VideoStatusCanceled}, updates)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("video %s: %w", videoID, errdef.ErrCanceled)
	}
	return nil
}

// bumpVideoProgress raises progress monotonically within a stage. Stage
// boundaries reset progress through setVideo instead.
func (p *Pipeline) bumpVideoProgress(ctx context.Context, videoID uuid.UUID, pct int) error {
	return p.setVideo(ctx, videoID, map[string]interface{}{
		"progress_percent": gorm.Expr("GREATEST(progress_percent, ?)", pct),
	})
}

func (p *Pipeline) markVideoFailed(ctx context.Context, videoID uuid.UUID, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	ok, err := p.videos.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, videoID,
		[]string{types.VideoStatusCanceled},
		map[string]interface{}{
			"status":        types.VideoStatusFailed,
			"error_message": msg,
		})
	if err != nil {
		p.log.Warn("failed to mark video failed", "video_id", videoID, "error", err)
	}
	_ = ok
}
