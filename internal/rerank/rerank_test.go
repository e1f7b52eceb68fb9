package rerank

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type fakeLLM struct {
	content  string
	err      error
	lastUser string
	calls    int
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
	f.calls++
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			f.lastUser = m.Content
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: f.content, Model: "gpt-4o-mini", Provider: llm.ProviderOpenAI}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, messages []llm.Message, opts llm.Options, onDelta func(string)) (*llm.Completion, error) {
	return f.Complete(ctx, messages, opts)
}

func newTestReranker(t *testing.T, client llm.Client) *reranker {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return &reranker{log: log, llm: client}
}

func testItems() []Item {
	return []Item{
		{ID: "a", Text: "how to bake bread", Score: 0.9},
		{ID: "b", Text: "kneading dough technique", Title: "Kneading", Score: 0.8},
		{ID: "c", Text: "unrelated car repair", Score: 0.7},
	}
}

func TestRerankReassignsScoresAndReorders(t *testing.T) {
	fake := &fakeLLM{content: `{"scores":[{"index":0,"score":0.2},{"index":1,"score":0.95},{"index":2,"score":0.1}]}`}
	r := newTestReranker(t, fake)

	out := r.Rerank(context.Background(), "kneading", testItems(), 3)
	if len(out) != 3 {
		t.Fatalf("len: got=%d", len(out))
	}
	if out[0].ID != "b" || out[0].Score != 0.95 {
		t.Fatalf("first: %+v", out[0])
	}
	if out[1].ID != "a" || out[2].ID != "c" {
		t.Fatalf("order: %s %s", out[1].ID, out[2].ID)
	}
	// Prompt enumerates passages with their metadata.
	if !strings.Contains(fake.lastUser, "[1] Kneading") {
		t.Fatalf("prompt missing passage title:\n%s", fake.lastUser)
	}
	if !strings.Contains(fake.lastUser, "Query: kneading") {
		t.Fatalf("prompt missing query:\n%s", fake.lastUser)
	}
}

func TestRerankTruncatesToK(t *testing.T) {
	fake := &fakeLLM{content: `{"scores":[{"index":0,"score":0.9},{"index":1,"score":0.8},{"index":2,"score":0.7}]}`}
	r := newTestReranker(t, fake)

	out := r.Rerank(context.Background(), "q", testItems(), 2)
	if len(out) != 2 {
		t.Fatalf("len: got=%d", len(out))
	}
}

func TestRerankEmptyInput(t *testing.T) {
	fake := &fakeLLM{}
	r := newTestReranker(t, fake)

	out := r.Rerank(context.Background(), "q", nil, 5)
	if len(out) != 0 {
		t.Fatalf("want empty, got=%v", out)
	}
	if fake.calls != 0 {
		t.Fatalf("no model call expected, got=%d", fake.calls)
	}
}

func TestRerankDegradesToIdentityOnModelFailure(t *testing.T) {
	fake := &fakeLLM{err: fmt.Errorf("model unavailable")}
	r := newTestReranker(t, fake)

	items := testItems()
	out := r.Rerank(context.Background(), "q", items, 2)
	if len(out) != 2 {
		t.Fatalf("len: got=%d", len(out))
	}
	// Original ordering and scores survive untouched.
	if out[0].ID != "a" || out[0].Score != 0.9 {
		t.Fatalf("first: %+v", out[0])
	}
	if out[1].ID != "b" || out[1].Score != 0.8 {
		t.Fatalf("second: %+v", out[1])
	}
}

func TestRerankDegradesOnMalformedJSON(t *testing.T) {
	fake := &fakeLLM{content: "I think passage 1 is best!"}
	r := newTestReranker(t, fake)

	out := r.Rerank(context.Background(), "q", testItems(), 0)
	if len(out) != 3 {
		t.Fatalf("len: got=%d", len(out))
	}
	if out[0].ID != "a" {
		t.Fatalf("identity order expected, got=%s", out[0].ID)
	}
}

func TestRerankClampsAndTolerateMissingIndices(t *testing.T) {
	// Index 2 missing, index 1 out of range high, index 0 over 1.0.
	fake := &fakeLLM{content: `{"scores":[{"index":0,"score":1.8},{"index":7,"score":0.4},{"index":1,"score":-0.3}]}`}
	r := newTestReranker(t, fake)

	out := r.Rerank(context.Background(), "q", testItems(), 3)
	byID := map[string]float64{}
	for _, it := range out {
		byID[it.ID] = it.Score
	}
	if byID["a"] != 1 {
		t.Fatalf("score a: got=%v", byID["a"])
	}
	if byID["b"] != 0 {
		t.Fatalf("score b: got=%v", byID["b"])
	}
	// Unscored passages keep their retrieval score.
	if byID["c"] != 0.7 {
		t.Fatalf("score c: got=%v", byID["c"])
	}
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	fake := &fakeLLM{content: `{"scores":[{"index":0,"score":0.1},{"index":1,"score":0.9},{"index":2,"score":0.5}]}`}
	r := newTestReranker(t, fake)

	items := testItems()
	_ = r.Rerank(context.Background(), "q", items, 3)
	if items[0].ID != "a" || items[0].Score != 0.9 {
		t.Fatalf("input mutated: %+v", items[0])
	}
}
