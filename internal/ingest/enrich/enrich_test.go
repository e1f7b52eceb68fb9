package enrich

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type fakeLLM struct {
	replies  []string
	errs     []error
	calls    int
	lastUser string
	lastOpts llm.Options
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
	i := f.calls
	f.calls++
	f.lastOpts = opts
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			f.lastUser = m.Content
		}
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &llm.Completion{Content: reply}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, messages []llm.Message, opts llm.Options, onDelta func(string)) (*llm.Completion, error) {
	return f.Complete(ctx, messages, opts)
}

func newTestService(t *testing.T, fake *fakeLLM) *service {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return &service{
		log:        log,
		llm:        fake,
		enabled:    true,
		batchSize:  10,
		maxRetries: 2,
		backoff:    time.Millisecond,
	}
}

const sampleText = "Goroutines are lightweight threads managed by the runtime. Channels let goroutines communicate safely. Channels block until both sides are ready."

func TestEnrichParsesModelJSON(t *testing.T) {
	fake := &fakeLLM{replies: []string{
		"```json\n{\"title\": \"Goroutines and Channels\", \"summary\": \"Explains goroutine scheduling.\", \"keywords\": [\"Goroutines\", \"channels\", \"CHANNELS\", \"runtime\"]}\n```",
	}}
	s := newTestService(t, fake)

	enr := s.Enrich(context.Background(), sampleText, VideoContext{Title: "Go Concurrency", Channel: "GopherCon", Chapter: "Basics"})
	if enr.Title != "Goroutines and Channels" {
		t.Fatalf("title: %q", enr.Title)
	}
	if enr.Summary != "Explains goroutine scheduling." {
		t.Fatalf("summary: %q", enr.Summary)
	}
	// lowercased and deduplicated
	want := []string{"goroutines", "channels", "runtime"}
	if len(enr.Keywords) != len(want) {
		t.Fatalf("keywords: %v", enr.Keywords)
	}
	for i := range want {
		if enr.Keywords[i] != want[i] {
			t.Fatalf("keywords: %v", enr.Keywords)
		}
	}
	if !has(fake.lastUser, "Video: Go Concurrency (GopherCon)") || !has(fake.lastUser, "Chapter: Basics") || !has(fake.lastUser, sampleText) {
		t.Fatalf("user prompt:\n%s", fake.lastUser)
	}
	if !fake.lastOpts.DisableRetry {
		t.Fatalf("transport retry must stay off under the enrichment retry loop")
	}
}

func has(s, sub string) bool { return strings.Contains(s, sub) }

func TestEnrichRetriesThenSucceeds(t *testing.T) {
	fake := &fakeLLM{replies: []string{
		"not json at all",
		`{"title": "", "summary": "missing title", "keywords": ["x"]}`,
		`{"title": "Third Try", "summary": "Works now.", "keywords": ["retry", "backoff", "parse"]}`,
	}}
	s := newTestService(t, fake)

	enr := s.Enrich(context.Background(), sampleText, VideoContext{})
	if fake.calls != 3 {
		t.Fatalf("calls: got=%d want=3", fake.calls)
	}
	if enr.Title != "Third Try" {
		t.Fatalf("enrichment: %+v", enr)
	}
}

func TestEnrichFallsBackToHeuristic(t *testing.T) {
	fake := &fakeLLM{errs: []error{
		fmt.Errorf("model down"), fmt.Errorf("model down"), fmt.Errorf("model down"),
	}}
	s := newTestService(t, fake)

	enr := s.Enrich(context.Background(), sampleText, VideoContext{})
	if fake.calls != 3 {
		t.Fatalf("calls: got=%d want=3", fake.calls)
	}
	if enr.Title == "" || enr.Summary == "" || len(enr.Keywords) == 0 {
		t.Fatalf("heuristic enrichment incomplete: %+v", enr)
	}
	if !strings.HasPrefix("Goroutines are lightweight threads managed by the runtime.", enr.Title) {
		t.Fatalf("title not drawn from first sentence: %q", enr.Title)
	}
}

func TestEnrichDisabledSkipsModel(t *testing.T) {
	fake := &fakeLLM{}
	s := newTestService(t, fake)
	s.enabled = false

	enr := s.Enrich(context.Background(), sampleText, VideoContext{})
	if fake.calls != 0 {
		t.Fatalf("model called while disabled")
	}
	if enr.Title == "" {
		t.Fatalf("heuristic enrichment missing: %+v", enr)
	}
}

func TestEnrichAllReportsProgress(t *testing.T) {
	fake := &fakeLLM{}
	s := newTestService(t, fake)
	s.enabled = false

	var seen []int
	reqs := []Request{{Text: "One fact here."}, {Text: "Two facts here."}, {Text: "Three facts here."}}
	out := s.EnrichAll(context.Background(), reqs, func(done, total int) {
		if total != 3 {
			t.Fatalf("total: %d", total)
		}
		seen = append(seen, done)
	})
	if len(out) != 3 {
		t.Fatalf("out: %d", len(out))
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("progress: %v", seen)
	}
}

func TestHeuristicShapes(t *testing.T) {
	long := "This opening sentence is deliberately much longer than fifty characters in total. Second one. Third one. Fourth one never shows up in the summary."
	enr := Heuristic(long)
	if n := len([]rune(enr.Title)); n > maxTitleChars {
		t.Fatalf("title too long (%d): %q", n, enr.Title)
	}
	if !strings.HasPrefix("This opening sentence is deliberately much longer than fifty characters in total.", enr.Title) {
		t.Fatalf("title: %q", enr.Title)
	}
	if strings.Contains(enr.Summary, "Fourth one") {
		t.Fatalf("summary took more than three sentences: %q", enr.Summary)
	}
	if n := len([]rune(enr.Summary)); n > maxSummaryChars {
		t.Fatalf("summary too long: %d", n)
	}
}

func TestHeuristicKeywordRanking(t *testing.T) {
	text := "Kubernetes schedules containers. Kubernetes watches containers. Deployments manage replicas. The and with from they them."
	enr := Heuristic(text)
	if len(enr.Keywords) == 0 || enr.Keywords[0] != "kubernetes" {
		t.Fatalf("keywords: %v", enr.Keywords)
	}
	for _, k := range enr.Keywords {
		if stopwords[k] {
			t.Fatalf("stopword leaked: %q in %v", k, enr.Keywords)
		}
		if len([]rune(k)) <= 3 {
			t.Fatalf("short token leaked: %q", k)
		}
	}
	if len(enr.Keywords) > 5 {
		t.Fatalf("keyword cap: %v", enr.Keywords)
	}
}

func TestHeuristicEmptyText(t *testing.T) {
	enr := Heuristic("")
	if enr.Title != "" || enr.Summary != "" || len(enr.Keywords) != 0 {
		t.Fatalf("empty text: %+v", enr)
	}
}

func TestValidateKeywordRules(t *testing.T) {
	enr := &Enrichment{Title: "T", Summary: "S", Keywords: []string{"A", "b", "a", "", "c", "d", "e", "f", "g", "h"}}
	if err := validate(enr); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(enr.Keywords) != maxKeywords {
		t.Fatalf("cap: %v", enr.Keywords)
	}
	if enr.Keywords[0] != "a" || enr.Keywords[1] != "b" {
		t.Fatalf("normalize: %v", enr.Keywords)
	}

	if err := validate(&Enrichment{Title: "T", Summary: "S", Keywords: []string{" ", ""}}); err == nil {
		t.Fatalf("empty keywords accepted")
	}
	if err := validate(&Enrichment{Summary: "S", Keywords: []string{"k"}}); err == nil {
		t.Fatalf("missing title accepted")
	}
}

func TestEmbeddingTextComposition(t *testing.T) {
	full := EmbeddingText(Enrichment{Title: "T", Summary: "S", Keywords: []string{"k1", "k2"}}, "X")
	if want := "T. S\n\nX"; full != want {
		t.Fatalf("got=%q want=%q", full, want)
	}
	titleOnly := EmbeddingText(Enrichment{Title: "T"}, "X")
	if want := "T.\n\nX"; titleOnly != want {
		t.Fatalf("title only: got=%q want=%q", titleOnly, want)
	}
	bare := EmbeddingText(Enrichment{}, "X")
	if bare != "X" {
		t.Fatalf("bare text: got=%q", bare)
	}
}
