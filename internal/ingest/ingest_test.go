package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

type fakeVideos struct {
	created []*types.Video
	updated map[uuid.UUID]map[string]interface{}
	live    *types.Video
}

func (f *fakeVideos) Create(_ dbctx.Context, videos []*types.Video) ([]*types.Video, error) {
	for _, v := range videos {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
	}
	f.created = append(f.created, videos...)
	return videos, nil
}
func (f *fakeVideos) GetByID(dbctx.Context, uuid.UUID) (*types.Video, error) { return nil, nil }
func (f *fakeVideos) GetByUserAndID(dbctx.Context, uuid.UUID, uuid.UUID) (*types.Video, error) {
	return nil, nil
}
func (f *fakeVideos) GetByIDs(dbctx.Context, []uuid.UUID) ([]*types.Video, error) { return nil, nil }
func (f *fakeVideos) GetByUserAndIDs(dbctx.Context, uuid.UUID, []uuid.UUID) ([]*types.Video, error) {
	return nil, nil
}
func (f *fakeVideos) GetLiveByUserAndSourceURL(_ dbctx.Context, _ uuid.UUID, sourceURL string) (*types.Video, error) {
	if f.live != nil && f.live.SourceURL == sourceURL {
		return f.live, nil
	}
	return nil, nil
}
func (f *fakeVideos) ListByUser(dbctx.Context, uuid.UUID, int, int) ([]*types.Video, error) {
	return nil, nil
}
func (f *fakeVideos) ListRecentCompleted(dbctx.Context, uuid.UUID, int) ([]*types.Video, error) {
	return nil, nil
}
func (f *fakeVideos) ListStale(dbctx.Context, []string, time.Time, int) ([]*types.Video, error) {
	return nil, nil
}
func (f *fakeVideos) ListDeleted(dbctx.Context, int) ([]*types.Video, error) { return nil, nil }
func (f *fakeVideos) ListUserIDs(dbctx.Context) ([]uuid.UUID, error)         { return nil, nil }
func (f *fakeVideos) SumAudioSizeMBByUser(dbctx.Context, uuid.UUID) (float64, error) {
	return 0, nil
}
func (f *fakeVideos) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if f.updated == nil {
		f.updated = map[uuid.UUID]map[string]interface{}{}
	}
	f.updated[id] = updates
	return nil
}
func (f *fakeVideos) UpdateFieldsUnlessStatus(dbctx.Context, uuid.UUID, []string, map[string]interface{}) (bool, error) {
	return true, nil
}

type fakeJobs struct {
	created   []*types.JobRun
	createErr error
}

func (f *fakeJobs) Create(_ dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
	}
	f.created = append(f.created, jobs...)
	return jobs, nil
}
func (f *fakeJobs) GetByID(dbctx.Context, uuid.UUID) (*types.JobRun, error) { return nil, nil }
func (f *fakeJobs) GetByOwnerAndID(dbctx.Context, uuid.UUID, uuid.UUID) (*types.JobRun, error) {
	return nil, nil
}
func (f *fakeJobs) GetLatestByEntity(dbctx.Context, uuid.UUID, string, uuid.UUID, string) (*types.JobRun, error) {
	return nil, nil
}
func (f *fakeJobs) ClaimNextRunnable(dbctx.Context, int, time.Duration, time.Duration) (*types.JobRun, error) {
	return nil, nil
}
func (f *fakeJobs) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}
func (f *fakeJobs) UpdateFieldsUnlessStatus(dbctx.Context, uuid.UUID, []string, map[string]interface{}) (bool, error) {
	return true, nil
}
func (f *fakeJobs) Heartbeat(dbctx.Context, uuid.UUID) error { return nil }
func (f *fakeJobs) ExistsRunnable(dbctx.Context, uuid.UUID, string, string, *uuid.UUID) (bool, error) {
	return false, nil
}

type fakeQuota struct {
	checkErr error
	checked  []quota.Kind
}

func (f *fakeQuota) Current(dbctx.Context, uuid.UUID) (*types.UserQuota, error) { return nil, nil }
func (f *fakeQuota) Check(_ dbctx.Context, _ uuid.UUID, kind quota.Kind, _ float64) error {
	f.checked = append(f.checked, kind)
	return f.checkErr
}
func (f *fakeQuota) TrackVideoIngestion(dbctx.Context, uuid.UUID, float64, float64, uuid.UUID) error {
	return nil
}
func (f *fakeQuota) TrackTranscription(dbctx.Context, uuid.UUID, float64) error { return nil }
func (f *fakeQuota) TrackChatMessage(dbctx.Context, uuid.UUID) error            { return nil }
func (f *fakeQuota) TrackEmbeddingGeneration(dbctx.Context, uuid.UUID, int64) error {
	return nil
}
func (f *fakeQuota) TrackStorage(dbctx.Context, uuid.UUID, float64, string, *uuid.UUID) error {
	return nil
}
func (f *fakeQuota) OverwriteStorage(dbctx.Context, uuid.UUID, float64) error { return nil }

func newTestService(t *testing.T, videos *fakeVideos, jobs *fakeJobs, usage *fakeQuota) Service {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return New(log, videos, jobs, usage)
}

func TestSubmitCreatesVideoAndJob(t *testing.T) {
	videos := &fakeVideos{}
	jobs := &fakeJobs{}
	usage := &fakeQuota{}
	svc := newTestService(t, videos, jobs, usage)
	userID := uuid.New()

	sub, err := svc.Submit(dbctx.Context{Ctx: context.Background()}, userID, "https://example.com/watch?v=abc#t=30")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Video.Status != types.VideoStatusPending {
		t.Fatalf("video status = %q, want pending", sub.Video.Status)
	}
	if sub.Video.SourceURL != "https://example.com/watch?v=abc" {
		t.Fatalf("source url = %q, fragment not stripped", sub.Video.SourceURL)
	}
	if sub.Job.Status != types.JobStatusQueued {
		t.Fatalf("job status = %q, want queued", sub.Job.Status)
	}
	if sub.Job.EntityID == nil || *sub.Job.EntityID != sub.Video.ID {
		t.Fatal("job does not reference the created video")
	}
	if !strings.Contains(string(sub.Job.Payload), sub.Video.ID.String()) {
		t.Fatal("job payload missing video_id")
	}
	if len(usage.checked) != 1 || usage.checked[0] != quota.KindVideos {
		t.Fatalf("quota checks = %v, want one videos check", usage.checked)
	}
}

func TestSubmitQuotaRejectionWritesNothing(t *testing.T) {
	videos := &fakeVideos{}
	jobs := &fakeJobs{}
	usage := &fakeQuota{checkErr: errdef.Quota("videos", 10, 10, "free")}
	svc := newTestService(t, videos, jobs, usage)

	_, err := svc.Submit(dbctx.Context{Ctx: context.Background()}, uuid.New(), "https://example.com/v")
	if !errors.Is(err, errdef.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if len(videos.created) != 0 || len(jobs.created) != 0 {
		t.Fatal("rows created despite quota rejection")
	}
}

func TestSubmitDuplicateURLReturnsExistingVideo(t *testing.T) {
	userID := uuid.New()
	existing := &types.Video{
		ID:        uuid.New(),
		UserID:    userID,
		SourceURL: "https://example.com/watch?v=abc",
		Status:    types.VideoStatusTranscribing,
	}
	videos := &fakeVideos{live: existing}
	jobs := &fakeJobs{}
	usage := &fakeQuota{}
	svc := newTestService(t, videos, jobs, usage)

	sub, err := svc.Submit(dbctx.Context{Ctx: context.Background()}, userID, "https://example.com/watch?v=abc#t=30")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Video.ID != existing.ID {
		t.Fatalf("video id = %s, want existing %s", sub.Video.ID, existing.ID)
	}
	if len(videos.created) != 0 || len(jobs.created) != 0 {
		t.Fatal("duplicate submission created new rows")
	}
	if len(usage.checked) != 0 {
		t.Fatalf("quota checks = %v, want none for a duplicate", usage.checked)
	}
}

func TestSubmitRejectsBadURLs(t *testing.T) {
	svc := newTestService(t, &fakeVideos{}, &fakeJobs{}, &fakeQuota{})
	for _, raw := range []string{"", "   ", "ftp://example.com/x", "not a url", "https://"} {
		_, err := svc.Submit(dbctx.Context{Ctx: context.Background()}, uuid.New(), raw)
		if !errors.Is(err, errdef.ErrInvalidInput) {
			t.Errorf("Submit(%q) err = %v, want invalid input", raw, err)
		}
	}
}

func TestSubmitEnqueueFailureMarksVideoFailed(t *testing.T) {
	videos := &fakeVideos{}
	jobs := &fakeJobs{createErr: errors.New("insert failed")}
	svc := newTestService(t, videos, jobs, &fakeQuota{})

	_, err := svc.Submit(dbctx.Context{Ctx: context.Background()}, uuid.New(), "https://example.com/v")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(videos.created) != 1 {
		t.Fatalf("videos created = %d, want 1", len(videos.created))
	}
	updates := videos.updated[videos.created[0].ID]
	if updates == nil || updates["status"] != types.VideoStatusFailed {
		t.Fatalf("video not marked failed: %v", updates)
	}
}
