package insights

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/vidscribe-backend/internal/llm"
)

// fallbackLabel derives a node label from its medoid chunk: the enriched
// title when present, else the leading words of the summary or text.
func fallbackLabel(ev evidence) string {
	if ev.chunk == nil {
		return "Untitled"
	}
	if t := strings.TrimSpace(ev.chunk.Title); t != "" {
		return t
	}
	src := ev.chunk.Summary
	if strings.TrimSpace(src) == "" {
		src = ev.chunk.Text
	}
	words := strings.Fields(src)
	if len(words) > 8 {
		words = words[:8]
	}
	label := strings.Join(words, " ")
	if label == "" {
		return "Untitled"
	}
	return label
}

type labelRequest struct {
	nodeID  string
	excerpt string
}

type labelsResponse struct {
	Labels map[string]string `json:"labels"`
}

const labelSystemPrompt = `You name sections of a topic mind map. For each numbered excerpt, produce a concise unique label of at most six words.

Respond with JSON only: {"labels": {"<id>": "<label>", ...}}`

// modelLabels makes the single optional labeling call for subtopic and
// point nodes. Any failure returns nil and callers keep the fallback
// labels; this is the one non-deterministic step and is off by default.
func (s *service) modelLabels(ctx context.Context, reqs []labelRequest) map[string]string {
	if len(reqs) == 0 || s.model == nil {
		return nil
	}
	var b strings.Builder
	for _, r := range reqs {
		fmt.Fprintf(&b, "[%s] %s\n", r.nodeID, strings.TrimSpace(r.excerpt))
	}
	var resp labelsResponse
	err := llm.CompleteJSON(ctx, s.model, labelSystemPrompt, b.String(), llm.Options{MaxTokens: 800}, &resp)
	if err != nil {
		s.log.Warn("insight labeling failed, keeping fallback labels", "error", err)
		return nil
	}
	out := map[string]string{}
	for id, label := range resp.Labels {
		label = strings.TrimSpace(label)
		if label != "" {
			out[id] = label
		}
	}
	return out
}
