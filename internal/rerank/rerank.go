package rerank

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const maxPassageChars = 600

// Item is one retrieved passage. ID is whatever handle the caller needs to
// map results back; the reranker only reads the text fields.
type Item struct {
	ID      string
	Text    string
	Title   string
	Summary string
	Score   float64
}

// Reranker rescores passages against the query with a cross-encoder style
// judgment and returns the top k. It must never fail a retrieval: when the
// model is unavailable it degrades to the identity ordering.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []Item, k int) []Item
}

type reranker struct {
	log   *logger.Logger
	llm   llm.Client
	model string
}

func New(log *logger.Logger, client llm.Client) Reranker {
	return &reranker{
		log:   log.With("service", "Reranker"),
		llm:   client,
		model: envutil.Str("RERANKING_MODEL", ""),
	}
}

const scoringSystemPrompt = `You are a relevance judge. Given a query and numbered passages, score how well each passage answers the query on a 0.0 to 1.0 scale. Judge semantic relevance, not keyword overlap.
Respond with strict JSON only, no prose:
{"scores": [{"index": 0, "score": 0.0}]}
Include every passage index exactly once.`

type scoreResponse struct {
	Scores []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

func (r *reranker) Rerank(ctx context.Context, query string, items []Item, k int) []Item {
	if len(items) == 0 {
		return []Item{}
	}
	out := make([]Item, len(items))
	copy(out, items)

	scores, err := r.scoreWithModel(ctx, query, out)
	if err != nil {
		r.log.Warn("rerank degrading to identity", "error", err, "items", len(out))
	} else {
		for i := range out {
			if s, ok := scores[i]; ok {
				out[i].Score = s
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func (r *reranker) scoreWithModel(ctx context.Context, query string, items []Item) (map[int]float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nPassages:\n", strings.TrimSpace(query))
	for i, it := range items {
		fmt.Fprintf(&b, "[%d]", i)
		if t := strings.TrimSpace(it.Title); t != "" {
			fmt.Fprintf(&b, " %s", t)
		}
		b.WriteString("\n")
		if s := strings.TrimSpace(it.Summary); s != "" {
			fmt.Fprintf(&b, "%s\n", s)
		}
		fmt.Fprintf(&b, "%s\n\n", truncate(it.Text, maxPassageChars))
	}

	var resp scoreResponse
	err := llm.CompleteJSON(ctx, r.llm, scoringSystemPrompt, b.String(), llm.Options{
		Model:       r.model,
		Temperature: floatPtr(0),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Scores) == 0 {
		return nil, fmt.Errorf("model returned no scores")
	}

	scores := make(map[int]float64, len(resp.Scores))
	for _, s := range resp.Scores {
		if s.Index < 0 || s.Index >= len(items) {
			continue
		}
		scores[s.Index] = clamp01(s.Score)
	}
	return scores, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func floatPtr(v float64) *float64 { return &v }
