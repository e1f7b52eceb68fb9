// Package enrich annotates transcript chunks with a title, summary, and
// keywords. The LLM path is best-effort: after retries are exhausted a
// deterministic heuristic fills in, so ingestion never fails on a model
// outage.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/pkg/tokens"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	maxTitleChars   = 50
	maxSummaryChars = 300
	maxKeywords     = 7
	retryBackoff    = time.Second
	batchPause      = time.Second
)

type Enrichment struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// VideoContext is prepended to each prompt so the model sees where the
// excerpt comes from. All fields optional.
type VideoContext struct {
	Title   string
	Channel string
	Chapter string
}

// Request pairs one chunk's text with its surrounding context. Chapter
// differs per chunk, so batch callers pass a Request per chunk.
type Request struct {
	Text    string
	Context VideoContext
}

type Service interface {
	// Enrich annotates one chunk. It always returns a usable Enrichment.
	Enrich(ctx context.Context, text string, vc VideoContext) Enrichment

	// EnrichAll annotates chunks in order with the batch rate limit
	// applied, reporting completion counts through onProgress (nil ok).
	EnrichAll(ctx context.Context, reqs []Request, onProgress func(done, total int)) []Enrichment
}

type service struct {
	log        *logger.Logger
	llm        llm.Client
	enabled    bool
	batchSize  int
	maxRetries int
	backoff    time.Duration
}

func New(log *logger.Logger, client llm.Client) Service {
	return &service{
		log:        log.With("service", "Enricher"),
		llm:        client,
		enabled:    envutil.Bool("ENABLE_CONTEXTUAL_ENRICHMENT", true),
		batchSize:  envutil.Int("ENRICHMENT_BATCH_SIZE", 10),
		maxRetries: envutil.Int("ENRICHMENT_MAX_RETRIES", 2),
		backoff:    retryBackoff,
	}
}

const systemPrompt = `You analyze excerpts of video transcripts. For the excerpt you receive, produce:
- "title": a specific headline for this excerpt, at most ten words
- "summary": two or three sentences capturing what is actually said
- "keywords": 3 to 7 lowercase topic keywords
Respond with strict JSON only, no prose:
{"title": "...", "summary": "...", "keywords": ["..."]}`

func (s *service) Enrich(ctx context.Context, text string, vc VideoContext) Enrichment {
	if !s.enabled {
		return Heuristic(text)
	}
	enr, err := s.fromModel(ctx, text, vc)
	if err != nil {
		s.log.Warn("enrichment falling back to heuristic", "error", err)
		return Heuristic(text)
	}
	return enr
}

func (s *service) EnrichAll(ctx context.Context, reqs []Request, onProgress func(done, total int)) []Enrichment {
	out := make([]Enrichment, len(reqs))
	for i, req := range reqs {
		out[i] = s.Enrich(ctx, req.Text, req.Context)
		if onProgress != nil {
			onProgress(i+1, len(reqs))
		}
		if s.enabled && s.batchSize > 0 && (i+1)%s.batchSize == 0 && i+1 < len(reqs) {
			sleepCtx(ctx, batchPause)
		}
	}
	return out
}

func (s *service) fromModel(ctx context.Context, text string, vc VideoContext) (Enrichment, error) {
	user := buildUserPrompt(text, vc)

	var lastErr error
	backoff := s.backoff
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, backoff)
			backoff *= 2
		}
		var enr Enrichment
		// The transport's own retry stays off: this loop is the retry
		// policy, covering parse failures the transport cannot see.
		err := llm.CompleteJSON(ctx, s.llm, systemPrompt, user, llm.Options{DisableRetry: true}, &enr)
		if err == nil {
			err = validate(&enr)
		}
		if err == nil {
			return enr, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Enrichment{}, lastErr
}

func buildUserPrompt(text string, vc VideoContext) string {
	var b strings.Builder
	if vc.Title != "" {
		fmt.Fprintf(&b, "Video: %s", vc.Title)
		if vc.Channel != "" {
			fmt.Fprintf(&b, " (%s)", vc.Channel)
		}
		b.WriteString("\n")
	}
	if vc.Chapter != "" {
		fmt.Fprintf(&b, "Chapter: %s\n", vc.Chapter)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(text)
	return b.String()
}

func validate(enr *Enrichment) error {
	enr.Title = strings.TrimSpace(enr.Title)
	enr.Summary = strings.TrimSpace(enr.Summary)
	if enr.Title == "" {
		return fmt.Errorf("enrichment missing title")
	}
	if enr.Summary == "" {
		return fmt.Errorf("enrichment missing summary")
	}
	cleaned := enr.Keywords[:0]
	seen := map[string]bool{}
	for _, k := range enr.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		cleaned = append(cleaned, k)
	}
	if len(cleaned) == 0 {
		return fmt.Errorf("enrichment missing keywords")
	}
	if len(cleaned) > maxKeywords {
		cleaned = cleaned[:maxKeywords]
	}
	enr.Keywords = cleaned
	return nil
}

// Heuristic derives an enrichment from the text alone: first sentence as
// title, first three sentences as summary, most frequent meaningful words
// as keywords.
func Heuristic(text string) Enrichment {
	sentences := tokens.SplitSentences(text)

	title := ""
	if len(sentences) > 0 {
		title = truncateRunes(sentences[0], maxTitleChars)
	}
	summary := ""
	if len(sentences) > 0 {
		n := len(sentences)
		if n > 3 {
			n = 3
		}
		summary = truncateRunes(strings.Join(sentences[:n], " "), maxSummaryChars)
	}
	return Enrichment{
		Title:    title,
		Summary:  summary,
		Keywords: topKeywords(text, 5),
	}
}

// topKeywords ranks non-stopword tokens longer than three characters by
// frequency, ties broken by first appearance.
func topKeywords(text string, k int) []string {
	counts := map[string]int{}
	var order []string
	for _, w := range tokens.Words(text) {
		if len([]rune(w)) <= 3 || stopwords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })
	if len(order) > k {
		order = order[:k]
	}
	return order
}

// EmbeddingText composes the string that gets embedded for a chunk:
// "{title}. {summary}" then a blank line then the raw text, so topical
// signal leads. Without enrichment the raw text embeds as-is.
func EmbeddingText(enr Enrichment, text string) string {
	title := strings.TrimSpace(enr.Title)
	summary := strings.TrimSpace(enr.Summary)
	if title == "" && summary == "" {
		return text
	}
	header := summary
	if title != "" {
		header = title + "."
		if summary != "" {
			header += " " + summary
		}
	}
	return header + "\n\n" + text
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "they": true, "them": true, "then": true, "than": true,
	"there": true, "their": true, "these": true, "those": true, "have": true,
	"has": true, "had": true, "was": true, "were": true, "been": true,
	"being": true, "will": true, "would": true, "could": true, "should": true,
	"about": true, "into": true, "over": true, "under": true, "again": true,
	"just": true, "like": true, "really": true, "very": true, "also": true,
	"because": true, "when": true, "where": true, "which": true, "while": true,
	"what": true, "who": true, "whom": true, "your": true, "you're": true,
	"yours": true, "our": true, "ours": true, "some": true, "something": true,
	"going": true, "gonna": true, "want": true, "wanna": true, "well": true,
	"okay": true, "yeah": true, "right": true, "know": true, "think": true,
	"thing": true, "things": true, "actually": true, "basically": true,
	"little": true, "lot": true, "kind": true, "sort": true, "mean": true,
	"make": true, "made": true, "doing": true, "done": true, "does": true,
	"here": true, "more": true, "most": true, "much": true, "many": true,
	"other": true, "another": true, "only": true, "even": true, "still": true,
	"such": true, "every": true, "each": true, "both": true, "after": true,
	"before": true, "between": true, "through": true, "during": true,
	"she's": true, "he's": true, "it's": true, "that's": true, "don't": true,
	"doesn't": true, "didn't": true, "can't": true, "won't": true, "isn't": true,
}
