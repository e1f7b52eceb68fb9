package qdrant

import (
	"testing"

	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

func match(id string, score float64, videoID string, vec ...float32) vectorstore.Match {
	return vectorstore.Match{
		ID:     id,
		Score:  score,
		Vector: vec,
		Payload: map[string]any{
			vectorstore.PayloadVideoID: videoID,
		},
	}
}

func TestMMRZeroDiversityKeepsScoreOrder(t *testing.T) {
	pool := []vectorstore.Match{
		match("a", 0.9, "v1", 1, 0),
		match("b", 0.8, "v1", 1, 0),
		match("c", 0.7, "v1", 0, 1),
	}
	got := maximalMarginalRelevance(pool, 3, 0)
	if len(got) != 3 {
		t.Fatalf("length: want=3 got=%d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Fatalf("position %d: want=%s got=%s", i, want, got[i].ID)
		}
	}
}

func TestMMRPenalizesNearDuplicates(t *testing.T) {
	// b is nearly identical to a; c points elsewhere and should beat b once
	// a is selected, despite the lower query score.
	pool := []vectorstore.Match{
		match("a", 0.90, "v1", 1, 0),
		match("b", 0.89, "v1", 1, 0),
		match("c", 0.60, "v2", 0, 1),
	}
	got := maximalMarginalRelevance(pool, 2, 0.7)
	if len(got) != 2 {
		t.Fatalf("length: want=2 got=%d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("selection: want=[a c] got=[%s %s]", got[0].ID, got[1].ID)
	}
	// Query similarity survives as the returned score.
	if got[1].Score != 0.60 {
		t.Fatalf("score rewritten: got=%f", got[1].Score)
	}
}

func TestMMRTieBreaksByID(t *testing.T) {
	pool := []vectorstore.Match{
		match("b", 0.5, "v1", 1, 0),
		match("a", 0.5, "v2", 0, 1),
	}
	got := maximalMarginalRelevance(pool, 1, 0.5)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("tie break: want=a got=%v", got)
	}
}

func TestMMRCapsAtPoolSize(t *testing.T) {
	pool := []vectorstore.Match{match("a", 0.9, "v1", 1, 0)}
	got := maximalMarginalRelevance(pool, 5, 0.5)
	if len(got) != 1 {
		t.Fatalf("length: want=1 got=%d", len(got))
	}
	if maximalMarginalRelevance(nil, 5, 0.5) != nil {
		t.Fatalf("empty pool should yield nil")
	}
}

func TestGuaranteeCoversEveryVideo(t *testing.T) {
	pool := []vectorstore.Match{
		match("a1", 0.95, "v1"),
		match("a2", 0.94, "v1"),
		match("a3", 0.93, "v1"),
		match("b1", 0.50, "v2"),
		match("c1", 0.40, "v3"),
	}
	got := guaranteeVideoCoverage(pool, 4, 1)
	if len(got) != 4 {
		t.Fatalf("length: want=4 got=%d", len(got))
	}
	videos := map[string]int{}
	for _, m := range got {
		videos[payloadVideoID(m)]++
	}
	for _, v := range []string{"v1", "v2", "v3"} {
		if videos[v] == 0 {
			t.Fatalf("video %s missing from %v", v, videos)
		}
	}
	// Remaining slot goes to the best unselected match.
	if videos["v1"] != 2 {
		t.Fatalf("fill should favor v1's second match, got %v", videos)
	}
	// Output stays score ordered.
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatalf("not score ordered: %v", got)
		}
	}
}

func TestGuaranteeKeepsGuaranteedPicksOverK(t *testing.T) {
	pool := []vectorstore.Match{
		match("a", 0.9, "v1"),
		match("b", 0.8, "v2"),
		match("c", 0.7, "v3"),
	}
	got := guaranteeVideoCoverage(pool, 2, 1)
	if len(got) != 3 {
		t.Fatalf("guaranteed picks must survive: want=3 got=%d", len(got))
	}
}

func TestGuaranteeWithoutMinimumIsPlainTopK(t *testing.T) {
	pool := []vectorstore.Match{
		match("a", 0.9, "v1"),
		match("b", 0.8, "v2"),
		match("c", 0.7, "v3"),
	}
	got := guaranteeVideoCoverage(pool, 2, 0)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("want top-2 by score, got=%v", got)
	}
}
