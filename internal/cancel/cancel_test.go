package cancel

import (
	"context"
	"errors"
	"testing"

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

// The fakes embed their interfaces and implement only what the service
// touches; an unexpected call panics the test.

type fakeVideos struct {
	repos.VideoRepo
	rows    map[uuid.UUID]*types.Video
	updates []map[string]interface{}
}

func (f *fakeVideos) GetByUserAndID(_ dbctx.Context, userID, id uuid.UUID) (*types.Video, error) {
	v, ok := f.rows[id]
	if !ok || v.UserID != userID {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (f *fakeVideos) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.updates = append(f.updates, updates)
	v, ok := f.rows[id]
	if !ok {
		return nil
	}
	if s, ok := updates["status"].(string); ok {
		v.Status = s
	}
	if d, ok := updates["is_deleted"].(bool); ok {
		v.IsDeleted = d
	}
	return nil
}

type fakeTranscripts struct {
	repos.TranscriptRepo
	deleted int
}

func (f *fakeTranscripts) DeleteByVideoID(_ dbctx.Context, _ uuid.UUID) error {
	f.deleted++
	return nil
}

type fakeChunks struct {
	repos.ChunkRepo
	indexedCount int64
	textBytes    int64
	deleted      int
}

func (f *fakeChunks) CountIndexedByVideoID(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return f.indexedCount, nil
}

func (f *fakeChunks) SumTextBytesByVideoID(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	return f.textBytes, nil
}

func (f *fakeChunks) DeleteByVideoID(_ dbctx.Context, _ uuid.UUID) (int64, error) {
	f.deleted++
	return f.indexedCount, nil
}

type fakeJobs struct {
	repos.JobRunRepo
	job     *types.JobRun
	updates []map[string]interface{}
}

func (f *fakeJobs) GetLatestByEntity(_ dbctx.Context, _ uuid.UUID, _ string, _ uuid.UUID, _ string) (*types.JobRun, error) {
	return f.job, nil
}

func (f *fakeJobs) UpdateFieldsUnlessStatus(_ dbctx.Context, _ uuid.UUID, _ []string, updates map[string]interface{}) (bool, error) {
	f.updates = append(f.updates, updates)
	return true, nil
}

type fakeStore struct {
	blob.Store
	audioBytes        int64
	transcriptBytes   int64
	audioErr          error
	audioDeleted      int
	transcriptDeleted int
}

func (f *fakeStore) DeleteAudio(_ context.Context, _, _ uuid.UUID) (int64, error) {
	if f.audioErr != nil {
		return 0, f.audioErr
	}
	f.audioDeleted++
	return f.audioBytes, nil
}

func (f *fakeStore) DeleteTranscript(_ context.Context, _, _ uuid.UUID) (int64, error) {
	f.transcriptDeleted++
	return f.transcriptBytes, nil
}

type fakeIndex struct {
	vectorstore.Index
	deletes []vectorstore.Filter
	err     error
}

func (f *fakeIndex) DeleteByFilter(_ context.Context, filter vectorstore.Filter) error {
	if f.err != nil {
		return f.err
	}
	f.deletes = append(f.deletes, filter)
	return nil
}

type storageDelta struct {
	deltaMB float64
	reason  string
}

type fakeUsage struct {
	quota.Service
	deltas []storageDelta
}

func (f *fakeUsage) TrackStorage(_ dbctx.Context, _ uuid.UUID, deltaMB float64, reason string, _ *uuid.UUID) error {
	f.deltas = append(f.deltas, storageDelta{deltaMB: deltaMB, reason: reason})
	return nil
}

type fakeNotifier struct {
	canceled int
}

func (f *fakeNotifier) JobProgress(uuid.UUID, *types.JobRun, string, int, string) {}
func (f *fakeNotifier) JobFailed(uuid.UUID, *types.JobRun, string, string)       {}
func (f *fakeNotifier) JobCanceled(uuid.UUID, *types.JobRun, string)             { f.canceled++ }
func (f *fakeNotifier) JobDone(uuid.UUID, *types.JobRun)                         {}

type fixture struct {
	svc         Service
	videos      *fakeVideos
	transcripts *fakeTranscripts
	chunks      *fakeChunks
	jobs        *fakeJobs
	store       *fakeStore
	index       *fakeIndex
	usage       *fakeUsage
	notify      *fakeNotifier
	revocations *jobrt.Revocations

	userID  uuid.UUID
	videoID uuid.UUID
}

func newFixture(t *testing.T, status string) *fixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	f := &fixture{
		videos:      &fakeVideos{rows: map[uuid.UUID]*types.Video{}},
		transcripts: &fakeTranscripts{},
		chunks:      &fakeChunks{},
		jobs:        &fakeJobs{},
		store:       &fakeStore{},
		index:       &fakeIndex{},
		usage:       &fakeUsage{},
		notify:      &fakeNotifier{},
		revocations: jobrt.NewRevocations(),
		userID:      uuid.New(),
		videoID:     uuid.New(),
	}
	f.videos.rows[f.videoID] = &types.Video{
		ID:     f.videoID,
		UserID: f.userID,
		Status: status,
	}
	f.svc = New(log, f.videos, f.transcripts, f.chunks, f.jobs, f.usage, f.store, f.index, f.revocations, f.notify)
	return f
}

func testDBC() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func TestCancelUnknownVideo(t *testing.T) {
	f := newFixture(t, types.VideoStatusTranscribing)
	_, err := f.svc.Cancel(testDBC(), f.userID, uuid.New(), KeepVideo)
	if !errors.Is(err, errdef.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestCancelRejectsTerminalStatus(t *testing.T) {
	for _, status := range []string{types.VideoStatusCompleted, types.VideoStatusFailed} {
		f := newFixture(t, status)
		_, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo)
		if !errors.Is(err, errdef.ErrInvalidInput) {
			t.Fatalf("status %s: got %v, want invalid input", status, err)
		}
		if len(f.videos.updates) != 0 {
			t.Fatalf("status %s: video should not be touched, got %d updates", status, len(f.videos.updates))
		}
	}
}

func TestCancelAlreadyCanceledIsNoOp(t *testing.T) {
	f := newFixture(t, types.VideoStatusCanceled)
	res, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AlreadyCanceled {
		t.Fatal("expected AlreadyCanceled")
	}
	if len(f.videos.updates) != 0 || f.chunks.deleted != 0 || f.store.audioDeleted != 0 {
		t.Fatal("no-op cancel must not mutate anything")
	}
}

func TestCancelSetsStatusBeforeCleanup(t *testing.T) {
	f := newFixture(t, types.VideoStatusTranscribing)

	if _, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.videos.updates) < 2 {
		t.Fatalf("expected status flip plus column reset, got %d updates", len(f.videos.updates))
	}
	if got := f.videos.updates[0]["status"]; got != types.VideoStatusCanceled {
		t.Fatalf("first update must flip status, got %v", got)
	}
	if f.videos.rows[f.videoID].Status != types.VideoStatusCanceled {
		t.Fatal("video not canceled")
	}
	if f.videos.rows[f.videoID].IsDeleted {
		t.Fatal("KeepVideo must not soft-delete")
	}
}

func TestCancelCreditsFreedStorage(t *testing.T) {
	t.Setenv("VECTOR_BYTES_ESTIMATE", "6144")

	f := newFixture(t, types.VideoStatusIndexing)
	f.store.audioBytes = 30 * 1024 * 1024
	f.store.transcriptBytes = 2 * 1024 * 1024
	f.chunks.textBytes = 1024 * 1024
	f.chunks.indexedCount = 4

	res, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantMB := 30.0 + 2.0 + 1.0 + 4*6144.0/(1024*1024)
	if res.FreedMB != wantMB {
		t.Fatalf("freed %v MB, want %v", res.FreedMB, wantMB)
	}
	if len(f.usage.deltas) != 1 {
		t.Fatalf("expected one storage credit, got %d", len(f.usage.deltas))
	}
	if d := f.usage.deltas[0]; d.deltaMB != -wantMB || d.reason != "cancel_cleanup" {
		t.Fatalf("credit %+v, want delta %v reason cancel_cleanup", d, -wantMB)
	}

	if f.chunks.deleted != 1 || f.transcripts.deleted != 1 {
		t.Fatal("chunk and transcript rows must be deleted")
	}
	if len(f.index.deletes) != 1 {
		t.Fatalf("expected one vector delete, got %d", len(f.index.deletes))
	}
	if got := f.index.deletes[0]; got.UserID != f.userID || len(got.VideoIDs) != 1 || got.VideoIDs[0] != f.videoID {
		t.Fatalf("vector delete filter %+v", got)
	}

	last := f.videos.updates[len(f.videos.updates)-1]
	if last["chunk_count"] != 0 {
		t.Fatalf("chunk_count not reset: %v", last["chunk_count"])
	}
	if v, present := last["audio_path"]; !present || v != nil {
		t.Fatalf("audio_path not nulled: %v", v)
	}
	if v, present := last["transcript_path"]; !present || v != nil {
		t.Fatalf("transcript_path not nulled: %v", v)
	}
}

func TestCancelRevokesActiveJob(t *testing.T) {
	f := newFixture(t, types.VideoStatusTranscribing)
	jobID := uuid.New()
	f.jobs.job = &types.JobRun{ID: jobID, Status: types.JobStatusRunning, Stage: "transcribe"}

	jobCtx, cancelFn := context.WithCancel(context.Background())
	f.revocations.Register(jobID, cancelFn)
	defer f.revocations.Unregister(jobID)

	res, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.RevokeIssued {
		t.Fatal("expected revoke to be issued")
	}
	if jobCtx.Err() == nil {
		t.Fatal("worker context not canceled")
	}
	if len(f.jobs.updates) != 1 || f.jobs.updates[0]["status"] != types.JobStatusCanceled {
		t.Fatalf("job row not canceled: %+v", f.jobs.updates)
	}
	if f.notify.canceled != 1 {
		t.Fatalf("expected one cancel notification, got %d", f.notify.canceled)
	}
}

func TestCancelWithoutActiveJobReportsNoRevoke(t *testing.T) {
	f := newFixture(t, types.VideoStatusPending)
	res, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RevokeIssued {
		t.Fatal("no job registered, revoke must not be reported")
	}
}

func TestCancelFullDeleteSoftDeletes(t *testing.T) {
	f := newFixture(t, types.VideoStatusChunking)
	if _, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, FullDelete); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := f.videos.rows[f.videoID]
	if !v.IsDeleted {
		t.Fatal("FullDelete must soft-delete the row")
	}
	if v.Status != types.VideoStatusCanceled {
		t.Fatalf("status %s, want canceled", v.Status)
	}
}

func TestCleanupContinuesPastFileFailure(t *testing.T) {
	f := newFixture(t, types.VideoStatusTranscribing)
	f.store.audioErr = errors.New("disk detached")
	f.store.transcriptBytes = 1024 * 1024

	res, err := f.svc.Cancel(testDBC(), f.userID, f.videoID, KeepVideo)
	if err != nil {
		t.Fatalf("cleanup failure must not fail cancel: %v", err)
	}
	if res.FreedMB != 1.0 {
		t.Fatalf("freed %v MB, want the transcript's 1.0 despite the audio error", res.FreedMB)
	}
	if f.chunks.deleted != 1 {
		t.Fatal("chunk delete must still run after the file failure")
	}
}

func TestDeleteCancelsActiveVideoFirst(t *testing.T) {
	f := newFixture(t, types.VideoStatusEnriching)
	jobID := uuid.New()
	f.jobs.job = &types.JobRun{ID: jobID, Status: types.JobStatusRunning, Stage: "chunk_enrich"}
	_, cancelFn := context.WithCancel(context.Background())
	f.revocations.Register(jobID, cancelFn)
	defer f.revocations.Unregister(jobID)

	res, err := f.svc.Delete(testDBC(), f.userID, f.videoID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.RevokeIssued {
		t.Fatal("active video delete must revoke the job")
	}
	v := f.videos.rows[f.videoID]
	if !v.IsDeleted || v.Status != types.VideoStatusCanceled {
		t.Fatalf("row after delete: deleted=%v status=%s", v.IsDeleted, v.Status)
	}
}

func TestDeleteCompletedVideoSkipsCancel(t *testing.T) {
	f := newFixture(t, types.VideoStatusCompleted)
	f.store.transcriptBytes = 512 * 1024

	res, err := f.svc.Delete(testDBC(), f.userID, f.videoID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RevokeIssued {
		t.Fatal("terminal video has nothing to revoke")
	}
	v := f.videos.rows[f.videoID]
	if !v.IsDeleted {
		t.Fatal("row not soft-deleted")
	}
	if v.Status != types.VideoStatusCompleted {
		t.Fatalf("terminal status must survive delete, got %s", v.Status)
	}
	if res.FreedMB != 0.5 {
		t.Fatalf("freed %v MB, want 0.5", res.FreedMB)
	}
}

func TestDeleteAlreadyDeletedIsNoOp(t *testing.T) {
	f := newFixture(t, types.VideoStatusCanceled)
	f.videos.rows[f.videoID].IsDeleted = true

	res, err := f.svc.Delete(testDBC(), f.userID, f.videoID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AlreadyCanceled {
		t.Fatal("expected AlreadyCanceled on a deleted canceled row")
	}
	if len(f.videos.updates) != 0 || f.chunks.deleted != 0 {
		t.Fatal("no-op delete must not mutate anything")
	}
}
