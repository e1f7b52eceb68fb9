package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/llm"
)

// Topic is one extracted theme. ID is model-assigned but only used for
// labeling the node; assignment runs on embeddings.
type Topic struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

type topicsResponse struct {
	Topics []Topic `json:"topics"`
}

const topicsSystemPrompt = `You are a topic analyst. Given excerpts from video transcripts, identify the 5-10 major topics they cover.

Respond with JSON only, in exactly this shape:
{"topics": [{"id": "t1", "label": "short topic name", "description": "one sentence", "keywords": ["k1", "k2", "k3"]}]}`

const topicsStrictReminder = `Your previous response was not valid JSON. Respond with ONLY the JSON object, no prose, no markdown fences.`

// extractTopics asks the model for 5-10 topics over the sampled chunks,
// retrying once with a strictness reminder on a parse failure. A second
// failure falls back to keyword frequency topics so insight generation
// never aborts.
func (s *service) extractTopics(ctx context.Context, sample []*types.Chunk) []Topic {
	user := buildTopicsPrompt(sample)

	for attempt := 0; attempt < 2; attempt++ {
		prompt := user
		if attempt > 0 {
			prompt = topicsStrictReminder + "\n\n" + user
		}
		var resp topicsResponse
		err := llm.CompleteJSON(ctx, s.model, topicsSystemPrompt, prompt, llm.Options{MaxTokens: 1200}, &resp)
		if err != nil {
			s.log.Warn("topic extraction failed", "attempt", attempt+1, "error", err)
			continue
		}
		topics := validTopics(resp.Topics)
		if len(topics) >= 2 {
			return topics
		}
		s.log.Warn("topic extraction returned too few topics", "attempt", attempt+1, "count", len(topics))
	}

	s.log.Warn("falling back to keyword topics")
	return topicsFromKeywords(sample)
}

func buildTopicsPrompt(sample []*types.Chunk) string {
	var b strings.Builder
	b.WriteString("Transcript excerpts:\n\n")
	for i, c := range sample {
		text := c.Text
		if c.Summary != "" {
			text = c.Summary
		}
		if len(text) > 400 {
			text = text[:400]
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(text))
	}
	b.WriteString("\nIdentify the major topics.")
	return b.String()
}

func validTopics(topics []Topic) []Topic {
	out := topics[:0]
	for i, t := range topics {
		t.Label = strings.TrimSpace(t.Label)
		if t.Label == "" {
			continue
		}
		if strings.TrimSpace(t.ID) == "" {
			t.ID = fmt.Sprintf("t%d", i+1)
		}
		out = append(out, t)
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// topicsFromKeywords builds topics out of the most frequent chunk
// keywords. Each of the top keywords seeds one topic; its co-occurring
// keywords become the topic keyword list.
func topicsFromKeywords(sample []*types.Chunk) []Topic {
	counts := map[string]int{}
	cooc := map[string]map[string]int{}
	for _, c := range sample {
		kws := chunkKeywords(c)
		for _, kw := range kws {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			counts[kw]++
			if cooc[kw] == nil {
				cooc[kw] = map[string]int{}
			}
			for _, other := range kws {
				other = strings.ToLower(strings.TrimSpace(other))
				if other != "" && other != kw {
					cooc[kw][other]++
				}
			}
		}
	}
	if len(counts) == 0 {
		return []Topic{{ID: "t1", Label: "General", Description: "Overall content"}}
	}

	type kwCount struct {
		kw string
		n  int
	}
	ranked := make([]kwCount, 0, len(counts))
	for kw, n := range counts {
		ranked = append(ranked, kwCount{kw, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].kw < ranked[j].kw
	})

	limit := 8
	if len(ranked) < limit {
		limit = len(ranked)
	}
	topics := make([]Topic, 0, limit)
	for i := 0; i < limit; i++ {
		seed := ranked[i].kw
		related := make([]kwCount, 0, len(cooc[seed]))
		for kw, n := range cooc[seed] {
			related = append(related, kwCount{kw, n})
		}
		sort.Slice(related, func(a, b int) bool {
			if related[a].n != related[b].n {
				return related[a].n > related[b].n
			}
			return related[a].kw < related[b].kw
		})
		kws := []string{seed}
		for j := 0; j < len(related) && j < 4; j++ {
			kws = append(kws, related[j].kw)
		}
		topics = append(topics, Topic{
			ID:       fmt.Sprintf("t%d", i+1),
			Label:    titleCase(seed),
			Keywords: kws,
		})
	}
	return topics
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
