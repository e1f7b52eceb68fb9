// Package retrieve assembles the grounding context for a chat answer. The
// intent decides the strategy: COVERAGE reads stored video summaries,
// PRECISION searches the vector index for exact passages, HYBRID runs both
// and concatenates.
package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
	"github.com/yungbote/vidscribe-backend/internal/query/intent"
	"github.com/yungbote/vidscribe-backend/internal/rerank"
)

const (
	TypeChunks    = "chunks"
	TypeSummaries = "summaries"
	TypeHybrid    = "hybrid"
)

// maxSummaryVideos caps how many per-video summaries the COVERAGE path
// concatenates, most recent first.
const maxSummaryVideos = 50

// dedupeBucketSeconds is the time-bucket width for deduplication: at most
// one passage per bucket per video survives.
const dedupeBucketSeconds = 30

// Request is one retrieval call. QueryVec is the embedded query; VideoIDs
// scope the search to the conversation's selected videos.
type Request struct {
	UserID   uuid.UUID
	Query    string
	QueryVec []float32
	Intent   string
	Mode     string
	VideoIDs []uuid.UUID
}

// RetrievedChunk is one passage pulled from the vector index with its
// payload decoded, ordered by final rank.
type RetrievedChunk struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	VideoID    uuid.UUID `json:"video_id"`
	VideoTitle string    `json:"video_title"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Title      string    `json:"title,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Chapter    string    `json:"chapter,omitempty"`
	Speakers   []string  `json:"speakers,omitempty"`
	StartTS    float64   `json:"start_ts"`
	EndTS      float64   `json:"end_ts"`
	Score      float64   `json:"score"`
}

// VideoSummary is one video's stored rollup, read by the COVERAGE path.
type VideoSummary struct {
	VideoID   uuid.UUID `json:"video_id"`
	Title     string    `json:"title"`
	Channel   string    `json:"channel,omitempty"`
	Summary   string    `json:"summary"`
	KeyTopics []string  `json:"key_topics,omitempty"`
}

type Stats struct {
	Candidates       int     `json:"candidates"`
	AfterFilter      int     `json:"after_filter"`
	AfterDedup       int     `json:"after_dedup"`
	MaxScore         float64 `json:"max_score"`
	FallbackUsed     bool    `json:"fallback_used,omitempty"`
	Reranked         bool    `json:"reranked,omitempty"`
	WeakContext      bool    `json:"weak_context,omitempty"`
	MissingSummaries int     `json:"missing_summaries,omitempty"`
}

// Result carries the assembled context plus the structured pieces it was
// built from, so callers can record citations and stats.
type Result struct {
	Type      string           `json:"type"`
	Context   string           `json:"context"`
	Chunks    []RetrievedChunk `json:"chunks,omitempty"`
	Summaries []VideoSummary   `json:"summaries,omitempty"`
	Stats     Stats            `json:"stats"`
}

type Retriever interface {
	Retrieve(dbc dbctx.Context, req Request) (*Result, error)
}

type retriever struct {
	log      *logger.Logger
	videos   repos.VideoRepo
	index    vectorstore.Index
	reranker rerank.Reranker
}

func New(baseLog *logger.Logger, videos repos.VideoRepo, index vectorstore.Index, reranker rerank.Reranker) Retriever {
	return &retriever{
		log:      baseLog.With("service", "Retriever"),
		videos:   videos,
		index:    index,
		reranker: reranker,
	}
}

// params are the per-mode retrieval knobs. Selecting more than three
// videos widens the net: one extra chunk and +0.05 diversity per extra
// video, capped at 12 chunks and 0.7 diversity.
type params struct {
	chunkLimit int
	diversity  float64
}

func modeParams(mode string, numVideos int) params {
	var p params
	switch mode {
	case types.ModeSummarize:
		p = params{chunkLimit: 6, diversity: 0.5}
	case types.ModeCompareSources:
		p = params{chunkLimit: 8, diversity: 0.6}
	case types.ModeDeepDive:
		p = params{chunkLimit: 4, diversity: 0.3}
	case types.ModeTimeline:
		p = params{chunkLimit: 6, diversity: 0.5}
	case types.ModeExtractActions:
		p = params{chunkLimit: 5, diversity: 0.4}
	case types.ModeQuizMe:
		p = params{chunkLimit: 6, diversity: 0.5}
	default:
		p = params{chunkLimit: 4, diversity: 0.4}
	}
	if numVideos > 3 {
		extra := numVideos - 3
		p.chunkLimit = min(p.chunkLimit+extra, 12)
		p.diversity = math.Min(p.diversity+0.05*float64(extra), 0.7)
	}
	return p
}

func (r *retriever) Retrieve(dbc dbctx.Context, req Request) (*Result, error) {
	start := time.Now()
	p := modeParams(req.Mode, len(req.VideoIDs))

	var (
		res *Result
		err error
	)
	switch req.Intent {
	case intent.Coverage:
		res, err = r.coverage(dbc, req)
	case intent.Hybrid:
		res, err = r.hybrid(dbc, req, p)
	default:
		res, err = r.precision(dbc, req, p)
	}
	if err != nil {
		return nil, err
	}

	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveRetrieval(req.Mode, res.Type, time.Since(start))
	}
	r.log.Info("retrieval complete",
		"intent", req.Intent,
		"type", res.Type,
		"chunks", len(res.Chunks),
		"summaries", len(res.Summaries),
		"max_score", res.Stats.MaxScore,
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (r *retriever) coverage(dbc dbctx.Context, req Request) (*Result, error) {
	videos, err := r.videos.GetByUserAndIDs(dbc, req.UserID, req.VideoIDs)
	if err != nil {
		return nil, fmt.Errorf("load videos: %w", err)
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].CreatedAt.After(videos[j].CreatedAt) })
	if len(videos) > maxSummaryVideos {
		videos = videos[:maxSummaryVideos]
	}

	summaries := make([]VideoSummary, 0, len(videos))
	missing := 0
	for _, v := range videos {
		if strings.TrimSpace(v.Summary) == "" {
			missing++
			continue
		}
		summaries = append(summaries, VideoSummary{
			VideoID:   v.ID,
			Title:     v.Title,
			Channel:   v.Channel,
			Summary:   v.Summary,
			KeyTopics: decodeTopics(v.KeyTopics, 5),
		})
	}

	var b strings.Builder
	if missing > 0 {
		fmt.Fprintf(&b, "NOTE: %d of the selected videos have no summary yet (still processing); they are not reflected below.\n\n", missing)
	}
	for i, s := range summaries {
		fmt.Fprintf(&b, "[Source %d] %q", i+1, s.Title)
		if s.Channel != "" {
			fmt.Fprintf(&b, " by %s", s.Channel)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.Summary))
		if len(s.KeyTopics) > 0 {
			fmt.Fprintf(&b, "\nKey topics: %s", strings.Join(s.KeyTopics, ", "))
		}
		b.WriteString("\n\n")
	}

	return &Result{
		Type:      TypeSummaries,
		Context:   strings.TrimRight(b.String(), "\n"),
		Summaries: summaries,
		Stats:     Stats{MissingSummaries: missing},
	}, nil
}

func (r *retriever) precision(dbc dbctx.Context, req Request, p params) (*Result, error) {
	filter := vectorstore.Filter{UserID: req.UserID, VideoIDs: req.VideoIDs}
	topK := envutil.Int("RETRIEVAL_TOP_K", 20)

	var (
		pool []vectorstore.Match
		err  error
	)
	// Compare mode over several videos guarantees every source a seat in
	// the pool; everything else trades pure relevance for MMR diversity.
	if req.Mode == types.ModeCompareSources && len(req.VideoIDs) >= 2 {
		pool, err = r.index.SearchWithVideoGuarantee(dbc.Ctx, req.QueryVec, filter, topK, 1)
	} else {
		pool, err = r.index.SearchWithDiversity(dbc.Ctx, req.QueryVec, filter, topK, p.diversity)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	stats := Stats{Candidates: len(pool)}

	kept := filterByScore(pool, envutil.Float("MIN_RELEVANCE_SCORE", 0.35))
	if len(kept) == 0 && len(pool) > 0 {
		kept = filterByScore(pool, envutil.Float("FALLBACK_RELEVANCE_SCORE", 0.25))
		stats.FallbackUsed = len(kept) > 0
	}
	stats.AfterFilter = len(kept)

	if envutil.Bool("ENABLE_RERANKING", false) && r.reranker != nil && len(kept) > 1 {
		kept = r.rerankMatches(dbc.Ctx, req.Query, kept)
		stats.Reranked = true
	}

	kept = dedupeByTimeBucket(kept)
	stats.AfterDedup = len(kept)
	if len(kept) > p.chunkLimit {
		kept = kept[:p.chunkLimit]
	}

	chunks, err := r.toChunks(dbc, req.UserID, kept)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if c.Score > stats.MaxScore {
			stats.MaxScore = c.Score
		}
	}
	stats.WeakContext = len(chunks) > 0 && stats.MaxScore < envutil.Float("WEAK_CONTEXT_THRESHOLD", 0.45)

	return &Result{
		Type:    TypeChunks,
		Context: buildChunkContext(chunks, stats.WeakContext),
		Chunks:  chunks,
		Stats:   stats,
	}, nil
}

// hybrid runs both strategies and stitches the contexts, evidence after
// summaries. The evidence net is halved since summaries carry the breadth.
func (r *retriever) hybrid(dbc dbctx.Context, req Request, p params) (*Result, error) {
	cov, err := r.coverage(dbc, req)
	if err != nil {
		return nil, err
	}

	pp := p
	pp.chunkLimit = max(p.chunkLimit/2, 3)
	pre, err := r.precision(dbc, req, pp)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("## Video Summaries\n\n")
	b.WriteString(cov.Context)
	b.WriteString("\n\n## Supporting Evidence\n\n")
	b.WriteString(pre.Context)

	stats := pre.Stats
	stats.MissingSummaries = cov.Stats.MissingSummaries

	return &Result{
		Type:      TypeHybrid,
		Context:   b.String(),
		Chunks:    pre.Chunks,
		Summaries: cov.Summaries,
		Stats:     stats,
	}, nil
}

func (r *retriever) rerankMatches(ctx context.Context, query string, pool []vectorstore.Match) []vectorstore.Match {
	items := make([]rerank.Item, len(pool))
	byID := make(map[string]vectorstore.Match, len(pool))
	for i, m := range pool {
		items[i] = rerank.Item{
			ID:      m.ID,
			Text:    payloadStr(m.Payload, vectorstore.PayloadText),
			Title:   payloadStr(m.Payload, vectorstore.PayloadTitle),
			Summary: payloadStr(m.Payload, vectorstore.PayloadSummary),
			Score:   m.Score,
		}
		byID[m.ID] = m
	}

	ranked := r.reranker.Rerank(ctx, query, items, envutil.Int("RERANKING_TOP_K", 10))
	out := make([]vectorstore.Match, 0, len(ranked))
	for _, item := range ranked {
		m, ok := byID[item.ID]
		if !ok {
			continue
		}
		m.Score = item.Score
		out = append(out, m)
	}
	return out
}

func filterByScore(pool []vectorstore.Match, minScore float64) []vectorstore.Match {
	var out []vectorstore.Match
	for _, m := range pool {
		if m.Score >= minScore {
			out = append(out, m)
		}
	}
	return out
}

// dedupeByTimeBucket keeps the first-ranked passage per (video, 30s slot).
// Adjacent chunks of the same moment say the same thing; one is enough.
func dedupeByTimeBucket(pool []vectorstore.Match) []vectorstore.Match {
	type slot struct {
		video  string
		bucket int
	}
	seen := make(map[slot]bool, len(pool))
	var out []vectorstore.Match
	for _, m := range pool {
		s := slot{
			video:  payloadStr(m.Payload, vectorstore.PayloadVideoID),
			bucket: int(payloadFloat(m.Payload, vectorstore.PayloadStartTS)) / dedupeBucketSeconds,
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, m)
	}
	return out
}

func (r *retriever) toChunks(dbc dbctx.Context, userID uuid.UUID, matches []vectorstore.Match) ([]RetrievedChunk, error) {
	if len(matches) == 0 {
		return []RetrievedChunk{}, nil
	}

	videoIDs := make([]uuid.UUID, 0, len(matches))
	seen := map[uuid.UUID]bool{}
	chunks := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		c := RetrievedChunk{
			Text:       payloadStr(m.Payload, vectorstore.PayloadText),
			Title:      payloadStr(m.Payload, vectorstore.PayloadTitle),
			Summary:    payloadStr(m.Payload, vectorstore.PayloadSummary),
			Chapter:    payloadStr(m.Payload, vectorstore.PayloadChapter),
			Speakers:   payloadStrs(m.Payload, vectorstore.PayloadSpeakers),
			ChunkIndex: int(payloadFloat(m.Payload, vectorstore.PayloadChunkIndex)),
			StartTS:    payloadFloat(m.Payload, vectorstore.PayloadStartTS),
			EndTS:      payloadFloat(m.Payload, vectorstore.PayloadEndTS),
			Score:      m.Score,
		}
		if id, err := uuid.Parse(payloadStr(m.Payload, vectorstore.PayloadChunkID)); err == nil {
			c.ChunkID = id
		}
		if id, err := uuid.Parse(payloadStr(m.Payload, vectorstore.PayloadVideoID)); err == nil {
			c.VideoID = id
			if !seen[id] {
				seen[id] = true
				videoIDs = append(videoIDs, id)
			}
		}
		chunks = append(chunks, c)
	}

	rows, err := r.videos.GetByUserAndIDs(dbc, userID, videoIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve video titles: %w", err)
	}
	titleByID := make(map[uuid.UUID]string, len(rows))
	for _, v := range rows {
		titleByID[v.ID] = v.Title
	}
	for i := range chunks {
		chunks[i].VideoTitle = titleByID[chunks[i].VideoID]
	}
	return chunks, nil
}

func buildChunkContext(chunks []RetrievedChunk, weak bool) string {
	var b strings.Builder
	if weak {
		b.WriteString("NOTE: The retrieved passages are only weakly related to the question; the answer may be speculative.\n\n")
	}
	for i, c := range chunks {
		title := c.VideoTitle
		if title == "" {
			title = "Unknown video"
		}
		fmt.Fprintf(&b, "[Source %d] from %q\n", i+1, title)
		if len(c.Speakers) > 0 {
			fmt.Fprintf(&b, "Speaker: %s\n", strings.Join(c.Speakers, ", "))
		}
		fmt.Fprintf(&b, "Topic: %s\n", chunkTopic(c))
		fmt.Fprintf(&b, "Time: %s\n", formatTimeRange(c.StartTS, c.EndTS))
		fmt.Fprintf(&b, "Relevance: %d%%\n", int(math.Round(c.Score*100)))
		b.WriteString("---\n")
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func chunkTopic(c RetrievedChunk) string {
	if c.Chapter != "" {
		return c.Chapter
	}
	if c.Title != "" {
		return c.Title
	}
	return "General"
}

// formatTimeRange renders both endpoints in the same style: with an hours
// field when either endpoint reaches an hour, without otherwise.
func formatTimeRange(startSec, endSec float64) string {
	withHours := startSec >= 3600 || endSec >= 3600
	return formatTS(startSec, withHours) + " - " + formatTS(endSec, withHours)
}

func formatTS(sec float64, withHours bool) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	if withHours {
		return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func decodeTopics(raw []byte, limit int) []string {
	if len(raw) == 0 {
		return nil
	}
	var topics []string
	if err := json.Unmarshal(raw, &topics); err != nil {
		return nil
	}
	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}

func payloadStr(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func payloadStrs(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}
