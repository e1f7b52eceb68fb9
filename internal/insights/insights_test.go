package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

type fakeVideos struct {
	repos.VideoRepo
	owned []*types.Video
}

func (f *fakeVideos) GetByUserAndIDs(_ dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*types.Video, error) {
	var out []*types.Video
	for _, v := range f.owned {
		if v.UserID != userID {
			continue
		}
		for _, id := range ids {
			if v.ID == id {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

type fakeChunks struct {
	repos.ChunkRepo
	byVideo map[uuid.UUID][]*types.Chunk
}

func (f *fakeChunks) GetByVideoID(_ dbctx.Context, videoID uuid.UUID) ([]*types.Chunk, error) {
	return f.byVideo[videoID], nil
}

type fakeCache struct {
	repos.InsightCacheRepo
	rows    map[string]*types.InsightCache
	upserts int
}

func (f *fakeCache) GetByUserAndKey(_ dbctx.Context, _ uuid.UUID, cacheKey string) (*types.InsightCache, error) {
	return f.rows[cacheKey], nil
}

func (f *fakeCache) Upsert(_ dbctx.Context, row *types.InsightCache) error {
	if f.rows == nil {
		f.rows = map[string]*types.InsightCache{}
	}
	f.rows[row.CacheKey] = row
	f.upserts++
	return nil
}

// fakeEmbedder maps text deterministically onto a small vector so chunks
// sharing keywords land near the same topic.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	return embedText(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dims() int       { return 4 }
func (f *fakeEmbedder) ModelID() string { return "fake-embed" }

func embedText(text string) []float32 {
	lower := strings.ToLower(text)
	vec := []float32{0.05, 0.05, 0.05, 0.05}
	if strings.Contains(lower, "gradient") {
		vec[0] = 1
	}
	if strings.Contains(lower, "attention") {
		vec[1] = 1
	}
	if strings.Contains(lower, "tokenizer") {
		vec[2] = 1
	}
	if strings.Contains(lower, "dataset") {
		vec[3] = 1
	}
	return vec
}

type fakeIndex struct {
	vectorstore.Index
	stored map[vectorstore.VectorKey][]float32
}

func (f *fakeIndex) FetchVectors(_ context.Context, _ vectorstore.Filter) (map[vectorstore.VectorKey][]float32, error) {
	return f.stored, nil
}

// failingLLM forces the keyword-fallback topic path, keeping the build
// fully deterministic.
type failingLLM struct{}

func (failingLLM) Complete(context.Context, []llm.Message, llm.Options) (*llm.Completion, error) {
	return nil, errors.New("model unavailable")
}

func (failingLLM) Stream(context.Context, []llm.Message, llm.Options, func(string)) (*llm.Completion, error) {
	return nil, errors.New("model unavailable")
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func keywordsJSON(t *testing.T, kws ...string) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(kws)
	if err != nil {
		t.Fatalf("marshal keywords: %v", err)
	}
	return datatypes.JSON(raw)
}

func insightFixture(t *testing.T) (Service, *fakeCache, *fakeEmbedder, uuid.UUID, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	videoID := uuid.New()

	chunks := make([]*types.Chunk, 0, 16)
	topics := []struct {
		kw   string
		text string
	}{
		{"gradient", "We derive the gradient update rule for the loss"},
		{"attention", "The attention mechanism weighs every token pair"},
		{"tokenizer", "The tokenizer splits raw text into subwords"},
		{"dataset", "The dataset is cleaned and deduplicated first"},
	}
	for i := 0; i < 16; i++ {
		topic := topics[i%len(topics)]
		chunks = append(chunks, &types.Chunk{
			ID:         uuid.New(),
			VideoID:    videoID,
			UserID:     userID,
			ChunkIndex: i,
			Text:       fmt.Sprintf("%s, part %d", topic.text, i),
			StartTS:    float64(i * 30),
			Keywords:   keywordsJSON(t, topic.kw),
		})
	}

	videos := &fakeVideos{owned: []*types.Video{{ID: videoID, UserID: userID, Title: "Intro to Transformers", Status: types.VideoStatusCompleted}}}
	chunkRepo := &fakeChunks{byVideo: map[uuid.UUID][]*types.Chunk{videoID: chunks}}
	cache := &fakeCache{}
	embedder := &fakeEmbedder{}
	index := &fakeIndex{}

	svc := New(testLogger(t), videos, chunkRepo, cache, embedder, index, failingLLM{}, nil)
	return svc, cache, embedder, userID, videoID
}

func TestCacheKeyIgnoresVideoOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	k1 := CacheKey([]uuid.UUID{a, b})
	k2 := CacheKey([]uuid.UUID{b, a})
	if k1 != k2 {
		t.Fatalf("cache key depends on order: %s vs %s", k1, k2)
	}
	if k1 == CacheKey([]uuid.UUID{a}) {
		t.Fatal("different video sets share a cache key")
	}
}

func TestGetBuildsFiveLayerTree(t *testing.T) {
	svc, cache, _, userID, videoID := insightFixture(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	tree, err := svc.Get(dbc, userID, []uuid.UUID{videoID}, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	counts := map[NodeKind]int{}
	for _, n := range tree.Nodes {
		counts[n.Kind]++
	}
	if counts[NodeRoot] != 1 {
		t.Fatalf("want exactly one root, got %d", counts[NodeRoot])
	}
	for _, kind := range []NodeKind{NodeTopic, NodeSubtopic, NodePoint, NodeMoment} {
		if counts[kind] == 0 {
			t.Fatalf("tree has no %s nodes: %+v", kind, counts)
		}
	}

	byID := map[string]Node{}
	for _, n := range tree.Nodes {
		byID[n.ID] = n
	}
	for _, e := range tree.Edges {
		from, ok := byID[e.From]
		if !ok {
			t.Fatalf("edge from unknown node %s", e.From)
		}
		to, ok := byID[e.To]
		if !ok {
			t.Fatalf("edge to unknown node %s", e.To)
		}
		if to.Depth != from.Depth+1 {
			t.Fatalf("edge %s->%s skips a layer (%d -> %d)", e.From, e.To, from.Depth, to.Depth)
		}
	}

	for _, n := range tree.Nodes {
		if n.Kind == NodeMoment {
			if n.VideoID != videoID {
				t.Fatalf("moment carries wrong video: %s", n.VideoID)
			}
			if len(n.ChunkIDs) != 1 {
				t.Fatalf("moment should reference one chunk, got %d", len(n.ChunkIDs))
			}
		}
	}

	if cache.upserts != 1 {
		t.Fatalf("expected one cache write, got %d", cache.upserts)
	}
	if tree.PromptVersion != PromptVersion {
		t.Fatalf("tree carries prompt version %q", tree.PromptVersion)
	}
}

func TestGetServesFromCache(t *testing.T) {
	svc, cache, embedder, userID, videoID := insightFixture(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	if _, err := svc.Get(dbc, userID, []uuid.UUID{videoID}, false); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	callsAfterBuild := embedder.calls

	tree, err := svc.Get(dbc, userID, []uuid.UUID{videoID}, false)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if embedder.calls != callsAfterBuild {
		t.Fatal("cache hit still re-embedded chunks")
	}
	if cache.upserts != 1 {
		t.Fatalf("cache hit wrote the cache again: %d upserts", cache.upserts)
	}
	if len(tree.Nodes) == 0 {
		t.Fatal("cached tree came back empty")
	}
}

func TestGetForceRebuilds(t *testing.T) {
	svc, cache, _, userID, videoID := insightFixture(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	if _, err := svc.Get(dbc, userID, []uuid.UUID{videoID}, false); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := svc.Get(dbc, userID, []uuid.UUID{videoID}, true); err != nil {
		t.Fatalf("forced Get: %v", err)
	}
	if cache.upserts != 2 {
		t.Fatalf("force should rebuild and rewrite the cache, got %d upserts", cache.upserts)
	}
}

func TestGetRejectsForeignVideos(t *testing.T) {
	svc, _, _, _, videoID := insightFixture(t)
	dbc := dbctx.Context{Ctx: context.Background()}

	_, err := svc.Get(dbc, uuid.New(), []uuid.UUID{videoID}, false)
	if err == nil {
		t.Fatal("expected error for videos owned by someone else")
	}
}
