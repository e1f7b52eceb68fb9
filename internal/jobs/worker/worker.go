// Package worker runs the claim-based job queue consumers. Each loop
// polls the job_run table once a second and executes at most one job at a
// time; WORKER_CONCURRENCY loops give the pool its parallelism.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type Worker struct {
	db          *gorm.DB
	log         *logger.Logger
	repo        repos.JobRunRepo
	registry    *runtime.Registry
	notify      runtime.Notifier
	revocations *runtime.Revocations
}

func New(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify runtime.Notifier, revocations *runtime.Revocations) *Worker {
	return &Worker{
		db:          db,
		log:         baseLog.With("component", "JobWorker"),
		repo:        repo,
		registry:    registry,
		notify:      notify,
		revocations: revocations,
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting job worker pool",
		"concurrency", concurrency,
		"job_types", w.registry.Types())

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	maxAttempts := envutil.Int("JOB_MAX_ATTEMPTS", 3)
	retryDelay := envutil.Duration("JOB_RETRY_DELAY", 60*time.Second)
	staleRunning := envutil.Duration("JOB_STALE_RUNNING", 5*time.Minute)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, maxAttempts, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, workerID, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, workerID int, job *types.JobRun) {
	jobCtx, cancel := context.WithCancel(ctx)
	w.revocations.Register(job.ID, cancel)
	defer func() {
		w.revocations.Unregister(job.ID)
		cancel()
	}()

	jc := runtime.NewContext(jobCtx, w.db, job, w.repo, w.notify)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type",
			"worker_id", workerID,
			"job_type", job.JobType,
			"job_id", job.ID,
		)
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic",
					"worker_id", workerID,
					"job_id", job.ID,
					"job_type", job.JobType,
					"panic", r,
				)
				jc.Fail("panic", errFromRecover(r))
			}
		}()

		runErr := h.Run(jc)
		if runErr == nil {
			return
		}
		// Most pipelines settle the row themselves; this is a safety net.
		if errors.Is(runErr, errdef.ErrCanceled) || errors.Is(runErr, context.Canceled) {
			jc.Canceled(job.Stage)
			return
		}
		jc.Fail("run", runErr)
	}()
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
