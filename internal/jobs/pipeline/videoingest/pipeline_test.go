package videoingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/domain/media"
	"github.com/yungbote/vidscribe-backend/internal/ingest/enrich"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/ytdlp"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return &Pipeline{log: log}
}

func testJobContext(ctx context.Context) *jobrt.Context {
	return &jobrt.Context{Ctx: ctx}
}

func TestSimulatedProgress(t *testing.T) {
	eta := 10 * time.Minute

	if got := simulatedProgress(0, eta, 85); got != 10 {
		t.Fatalf("at start got %d, want 10", got)
	}
	if got := simulatedProgress(5*time.Minute, eta, 85); got != 47 {
		t.Fatalf("at half eta got %d, want 47", got)
	}
	if got := simulatedProgress(eta, eta, 85); got != 85 {
		t.Fatalf("at eta got %d, want 85", got)
	}
	if got := simulatedProgress(3*eta, eta, 85); got != 85 {
		t.Fatalf("past eta got %d, want cap 85", got)
	}
	if got := simulatedProgress(3*eta, eta, 60); got != 60 {
		t.Fatalf("with upper 60 got %d, want 60", got)
	}
	if got := simulatedProgress(time.Minute, 0, 85); got < 10 || got > 85 {
		t.Fatalf("zero eta got %d, want within [10,85]", got)
	}
}

func TestEstimateAudioMB(t *testing.T) {
	withSize := &ytdlp.VideoInfo{FilesizeApprox: 50 * 1024 * 1024, DurationSec: 3600}
	if got := estimateAudioMB(withSize); got != 50 {
		t.Fatalf("got %v, want 50 from filesize_approx", got)
	}

	noSize := &ytdlp.VideoInfo{DurationSec: 1800}
	if got := estimateAudioMB(noSize); got != 30 {
		t.Fatalf("got %v, want 30 from duration fallback", got)
	}
}

func TestDownloadPctBand(t *testing.T) {
	cases := []struct {
		frac float64
		want int
	}{
		{-0.5, 10},
		{0, 10},
		{0.5, 25},
		{1, 40},
		{1.7, 40},
	}
	for _, tc := range cases {
		if got := downloadPct(tc.frac); got != tc.want {
			t.Fatalf("downloadPct(%v) = %d, want %d", tc.frac, got, tc.want)
		}
	}
}

func TestTranscriptionETAFloor(t *testing.T) {
	short := &ytdlp.VideoInfo{DurationSec: 30}
	if got := transcriptionETA(short); got != time.Minute {
		t.Fatalf("short clip eta %v, want 1m floor", got)
	}
	long := &ytdlp.VideoInfo{DurationSec: 3600}
	if got := transcriptionETA(long); got != 30*time.Minute {
		t.Fatalf("hour long eta %v, want 30m", got)
	}
}

func TestStageRetryableGates(t *testing.T) {
	final := []error{
		fmt.Errorf("wrap: %w", errdef.ErrCanceled),
		context.Canceled,
		errdef.Quota("embedding_tokens", 100, 100, "free"),
		errdef.InvalidInput("bad url"),
		errdef.Parse("garbled model output"),
		errdef.NotFound("video"),
	}
	for _, err := range final {
		if stageRetryable(err) {
			t.Fatalf("expected %v to be final", err)
		}
	}

	retryable := []error{
		errdef.Transient("provider hiccup"),
		errors.New("connection reset by peer"),
		errors.Join(errdef.ErrTransient, errors.New("embed batch failed")),
	}
	for _, err := range retryable {
		if !stageRetryable(err) {
			t.Fatalf("expected %v to be retryable", err)
		}
	}
}

func TestRetryStageRetriesTransientThenSucceeds(t *testing.T) {
	p := testPipeline(t)
	jc := testJobContext(context.Background())
	backoffs := []time.Duration{time.Millisecond, time.Millisecond}

	calls := 0
	err := p.retryStage(jc, "transcribe", backoffs, errdef.Retryable, func() error {
		calls++
		if calls < 3 {
			return errdef.Transient("provider hiccup")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
}

func TestRetryStageStopsOnFinalError(t *testing.T) {
	p := testPipeline(t)
	jc := testJobContext(context.Background())
	backoffs := []time.Duration{time.Millisecond, time.Millisecond}

	calls := 0
	err := p.retryStage(jc, "transcribe", backoffs, errdef.Retryable, func() error {
		calls++
		return errdef.InvalidInput("video is private")
	})
	if !errors.Is(err, errdef.ErrInvalidInput) {
		t.Fatalf("got %v, want invalid input", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
}

func TestRetryStageExhaustsBackoffs(t *testing.T) {
	p := testPipeline(t)
	jc := testJobContext(context.Background())
	backoffs := []time.Duration{time.Millisecond, time.Millisecond}

	calls := 0
	err := p.retryStage(jc, "chunk_enrich", backoffs, stageRetryable, func() error {
		calls++
		return errdef.Transient("still down")
	})
	if !errors.Is(err, errdef.ErrTransient) {
		t.Fatalf("got %v, want transient", err)
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want attempts to exhaust at 3", calls)
	}
}

func TestRetryStageHonorsContextDuringBackoff(t *testing.T) {
	p := testPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	jc := testJobContext(ctx)
	backoffs := []time.Duration{time.Hour}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.retryStage(jc, "transcribe", backoffs, errdef.Retryable, func() error {
		return errdef.Transient("provider hiccup")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("backoff did not respect cancellation")
	}
}

func TestStageStatusLabels(t *testing.T) {
	if got := stageStatus(nil); got != "ok" {
		t.Fatalf("nil error status %q", got)
	}
	if got := stageStatus(fmt.Errorf("x: %w", errdef.ErrCanceled)); got != "canceled" {
		t.Fatalf("canceled status %q", got)
	}
	if got := stageStatus(errors.New("boom")); got != "error" {
		t.Fatalf("error status %q", got)
	}
}

func TestTopKeywordsRanksByFrequency(t *testing.T) {
	enrichments := []enrich.Enrichment{
		{Keywords: []string{"Transformers", "attention", "GPU"}},
		{Keywords: []string{"transformers", "attention"}},
		{Keywords: []string{"attention", "benchmarks"}},
	}

	got := topKeywords(enrichments, 3)
	want := []string{"attention", "Transformers", "benchmarks"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestTopKeywordsIgnoresBlanks(t *testing.T) {
	enrichments := []enrich.Enrichment{
		{Keywords: []string{"", "  ", "kubernetes"}},
	}
	got := topKeywords(enrichments, 5)
	if len(got) != 1 || got[0] != "kubernetes" {
		t.Fatalf("got %v, want just kubernetes", got)
	}
}

func TestVideoSummarySkipsEmptyAndCapsLength(t *testing.T) {
	enrichments := []enrich.Enrichment{
		{Summary: "First part."},
		{Summary: "   "},
		{Summary: "Second part."},
	}
	got := videoSummary(enrichments)
	if got != "First part. Second part." {
		t.Fatalf("got %q", got)
	}

	long := make([]enrich.Enrichment, 8)
	for i := range long {
		long[i] = enrich.Enrichment{Summary: fmt.Sprintf("Part %d.", i)}
	}
	capped := videoSummary(long)
	for i := 6; i < 8; i++ {
		if part := fmt.Sprintf("Part %d.", i); strings.Contains(capped, part) {
			t.Fatalf("summary should stop after six parts, found %q", part)
		}
	}
}

func TestJoinSegmentsSkipsBlankCues(t *testing.T) {
	segs := []media.Segment{
		{Text: " Hello there. "},
		{Text: ""},
		{Text: "General remarks."},
	}
	if got := joinSegments(segs); got != "Hello there. General remarks." {
		t.Fatalf("got %q", got)
	}
}

// The fakes embed their interfaces and implement only what the stage
// touches; an unexpected call (caption pick, audio download) panics the
// test.

type fakeTranscriptRepo struct {
	repos.TranscriptRepo
}

func (f *fakeTranscriptRepo) GetByVideoID(_ dbctx.Context, _ uuid.UUID) (*types.Transcript, error) {
	return nil, nil
}

type fakeVideoRepo struct {
	repos.VideoRepo
	updates []map[string]interface{}
}

func (f *fakeVideoRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, _ uuid.UUID, _ []string, updates map[string]interface{}) (bool, error) {
	f.updates = append(f.updates, updates)
	return true, nil
}

type fakeMedia struct {
	ytdlp.Client
	info *ytdlp.VideoInfo
}

func (f *fakeMedia) GetVideoInfo(_ context.Context, _ string) (*ytdlp.VideoInfo, error) {
	return f.info, nil
}

func (f *fakeMedia) Validate(*ytdlp.VideoInfo) (bool, string) { return true, "" }

type fakeMinutesUsage struct {
	quota.Service
	kinds   []quota.Kind
	amounts []float64
}

func (f *fakeMinutesUsage) Check(_ dbctx.Context, _ uuid.UUID, kind quota.Kind, amount float64) error {
	f.kinds = append(f.kinds, kind)
	f.amounts = append(f.amounts, amount)
	if kind == quota.KindMinutes {
		return errdef.Quota(string(kind), 300, 300, "starter")
	}
	return nil
}

func TestStageTranscribeEnforcesMinutesQuota(t *testing.T) {
	p := testPipeline(t)
	usage := &fakeMinutesUsage{}
	p.videos = &fakeVideoRepo{}
	p.transcripts = &fakeTranscriptRepo{}
	p.usage = usage
	p.media = &fakeMedia{info: &ytdlp.VideoInfo{DurationSec: 7200}}

	v := &types.Video{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		SourceURL: "https://www.youtube.com/watch?v=over-limit",
		Status:    types.VideoStatusPending,
	}
	err := p.stageTranscribe(testJobContext(context.Background()), v)
	if !errors.Is(err, errdef.ErrQuotaExceeded) {
		t.Fatalf("got %v, want quota exceeded", err)
	}
	if len(usage.kinds) != 1 || usage.kinds[0] != quota.KindMinutes {
		t.Fatalf("checked kinds %v, want just minutes", usage.kinds)
	}
	if usage.amounts[0] != 120 {
		t.Fatalf("checked %v minutes, want 120 for a 2h video", usage.amounts[0])
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo wörld", 5); got != "héllo" {
		t.Fatalf("got %q", got)
	}
	if got := truncateRunes("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncateRunes("anything", 0); got != "" {
		t.Fatalf("got %q", got)
	}
}
