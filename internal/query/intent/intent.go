// Package intent decides how a chat question should be answered: from
// video summaries (COVERAGE), from exact transcript passages (PRECISION),
// or both (HYBRID). Classification never fails; every degradation path
// lands on a regex fallback.
package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	Coverage  = "COVERAGE"
	Precision = "PRECISION"
	Hybrid    = "HYBRID"
)

// Result is the classification outcome. Reasoning is a short human-readable
// trace surfaced in message metadata, never parsed.
type Result struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Request carries the question plus the conversational context the
// classifier may lean on. RecentMessages are prior turns oldest-first and
// exclude the question being classified.
type Request struct {
	Query          string
	Mode           string
	NumVideos      int
	RecentMessages []*types.Message
	Facts          []*types.ConversationFact
}

type Classifier interface {
	Classify(ctx context.Context, req Request) Result
}

type classifier struct {
	log *logger.Logger
	llm llm.Client
}

func New(baseLog *logger.Logger, client llm.Client) Classifier {
	return &classifier{
		log: baseLog.With("service", "IntentClassifier"),
		llm: client,
	}
}

// Follow-up phrases inherit the prior question's intent; switch phrases
// override it. The two sets share no phrase, so a query matches at most one
// tier.
var (
	followUpRe = regexp.MustCompile(`(?i)\b(tell me more|expand on that|go on|continue|more detail|elaborate|what else)\b`)

	coverageSwitchRe  = regexp.MustCompile(`(?i)\b(now summarize|give me (an |the )?overview)\b`)
	precisionSwitchRe = regexp.MustCompile(`(?i)\b(now find|get specific)\b`)
)

var coveragePatterns = compileAll(
	`\bsummar(y|ies|ize|ise)\b`,
	`\boverview\b`,
	`\bmain (points?|ideas?|themes?|topics?|takeaways?)\b`,
	`\bkey (points?|ideas?|themes?|takeaways?)\b`,
	`\b(all|across) (the |my |these )?(videos?|sources?)\b`,
	`\bbig picture\b`,
	`\bhigh level\b`,
	`\bin general\b`,
	`\bgist\b`,
	`\btl;?dr\b`,
	`\bwhat (is|are) (it|this|these|they) about\b`,
)

var precisionPatterns = compileAll(
	`\bexact(ly)?\b`,
	`\bspecific(ally)?\b`,
	`\bwhere (do(es)?|did|is|was)\b`,
	`\bwhen (do(es)?|did|is|was)\b`,
	`\btime ?stamps?\b`,
	`\bquoted?\b`,
	`\bverbatim\b`,
	`\bword for word\b`,
	`\bfind (the|me|where)\b`,
	`\bshow me\b`,
	`\bwhich (part|section|moment|video)\b`,
	`\bat what point\b`,
)

var hybridPatterns = compileAll(
	`\bcompar(e|ed|es|ing|ison)\b`,
	`\bcontrast\b`,
	`\b(vs\.?|versus)\b`,
	`\bdiffer(s|ed|ent|ence|ences)?\b`,
	`\bsimilarit(y|ies)\b`,
	`\b(agree|disagree)\b`,
	`\bin common\b`,
	`\boverlap\b`,
	`\brelates? to\b`,
	`\bconnections? between\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func (c *classifier) Classify(ctx context.Context, req Request) Result {
	query := strings.TrimSpace(req.Query)

	if followUpRe.MatchString(query) {
		if prior, ok := lastUserMessage(req.RecentMessages); ok {
			inherited := classifyRegex(prior, req.Mode, req.NumVideos)
			return Result{
				Intent:     inherited.Intent,
				Confidence: 0.75,
				Reasoning:  "follow-up question inherits the prior question's intent",
			}
		}
	}

	if coverageSwitchRe.MatchString(query) {
		return Result{Intent: Coverage, Confidence: 0.85, Reasoning: "explicit switch to a broad summary"}
	}
	if precisionSwitchRe.MatchString(query) {
		return Result{Intent: Precision, Confidence: 0.85, Reasoning: "explicit switch to a specific lookup"}
	}

	if c.llm != nil {
		if res, ok := c.classifyModel(ctx, req); ok {
			return res
		}
	}

	return classifyRegex(query, req.Mode, req.NumVideos)
}

const classifySystemPrompt = `You classify a user's question about their video library into a retrieval intent.
COVERAGE: broad questions answered from per-video summaries (overviews, themes, what the videos cover).
PRECISION: specific questions answered from exact transcript passages (facts, quotes, timestamps, steps).
HYBRID: questions needing both breadth and exact passages (comparisons, connections across videos).
Respond with strict JSON only, no prose:
{"intent": "COVERAGE"|"PRECISION"|"HYBRID", "confidence": 0.0-1.0, "reasoning": "one short sentence"}`

// classifyModel asks the LLM and accepts the verdict only above the
// confidence floor; anything else falls through to the regex tier.
func (c *classifier) classifyModel(ctx context.Context, req Request) (Result, bool) {
	temperature := 0.0
	var out Result
	err := llm.CompleteJSON(ctx, c.llm, classifySystemPrompt, buildClassifyPrompt(req), llm.Options{
		MaxTokens:   200,
		Temperature: &temperature,
	}, &out)
	if err != nil {
		c.log.Warn("model classification failed, using regex fallback", "error", err)
		return Result{}, false
	}

	out.Intent = strings.ToUpper(strings.TrimSpace(out.Intent))
	if out.Intent != Coverage && out.Intent != Precision && out.Intent != Hybrid {
		c.log.Warn("model returned unknown intent", "intent", out.Intent)
		return Result{}, false
	}
	if out.Confidence < 0.7 {
		return Result{}, false
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, true
}

func buildClassifyPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(req.Query))
	if req.Mode != "" {
		fmt.Fprintf(&b, "Chat mode: %s\n", req.Mode)
	}
	fmt.Fprintf(&b, "Selected videos: %d\n", req.NumVideos)

	if msgs := tail(req.RecentMessages, 3); len(msgs) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range msgs {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, clip(m.Content, 300))
		}
	}
	if len(req.Facts) > 0 {
		b.WriteString("\nKnown context:\n")
		for i, f := range req.Facts {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- %s = %s\n", f.Key, clip(f.Value, 120))
		}
	}
	return b.String()
}

func classifyRegex(query, mode string, numVideos int) Result {
	coverage := countHits(coveragePatterns, query)
	precision := countHits(precisionPatterns, query)
	hybrid := countHits(hybridPatterns, query)

	switch {
	case hybrid > 0:
		return Result{Intent: Hybrid, Confidence: 0.6, Reasoning: "comparison language in the question"}
	case coverage > 0 && precision == 0:
		return Result{Intent: Coverage, Confidence: 0.6, Reasoning: "broad summary language in the question"}
	case precision > 0 && coverage == 0:
		return Result{Intent: Precision, Confidence: 0.6, Reasoning: "specific lookup language in the question"}
	case coverage > 0 && precision > 0:
		return Result{Intent: Hybrid, Confidence: 0.6, Reasoning: "both broad and specific language in the question"}
	}

	switch mode {
	case types.ModeSummarize, types.ModeCompareSources:
		if numVideos >= 2 {
			return Result{Intent: Coverage, Confidence: 0.5, Reasoning: "broad chat mode over multiple videos"}
		}
	case types.ModeDeepDive, types.ModeExtractActions:
		return Result{Intent: Precision, Confidence: 0.5, Reasoning: "detail-oriented chat mode"}
	}

	return Result{Intent: Precision, Confidence: 0.4, Reasoning: "no intent signal, defaulting to passage search"}
}

func countHits(patterns []*regexp.Regexp, query string) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(query) {
			n++
		}
	}
	return n
}

func lastUserMessage(msgs []*types.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content, true
		}
	}
	return "", false
}

func tail(msgs []*types.Message, n int) []*types.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
