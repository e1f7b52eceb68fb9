// Package chunker turns time-coded transcript segments into retrieval
// chunks sized for embedding, with whole-sentence overlap between
// neighbors and per-chapter grouping.
package chunker

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yungbote/vidscribe-backend/internal/domain/media"
	"github.com/yungbote/vidscribe-backend/internal/pkg/tokens"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
)

type Params struct {
	TargetTokens       int
	MinTokens          int
	MaxTokens          int
	OverlapTokens      int
	MaxDurationSeconds float64
}

func DefaultParams() Params {
	return Params{
		TargetTokens:       envutil.Int("CHUNK_TARGET_TOKENS", 400),
		MinTokens:          envutil.Int("CHUNK_MIN_TOKENS", 100),
		MaxTokens:          envutil.Int("CHUNK_MAX_TOKENS", 800),
		OverlapTokens:      envutil.Int("CHUNK_OVERLAP_TOKENS", 50),
		MaxDurationSeconds: envutil.Float("CHUNK_MAX_DURATION_SECONDS", 300),
	}
}

func (p Params) normalized() Params {
	d := Params{TargetTokens: 400, MinTokens: 100, MaxTokens: 800, OverlapTokens: 50, MaxDurationSeconds: 300}
	if p.TargetTokens <= 0 {
		p.TargetTokens = d.TargetTokens
	}
	if p.MinTokens <= 0 {
		p.MinTokens = d.MinTokens
	}
	if p.MaxTokens < p.TargetTokens {
		p.MaxTokens = d.MaxTokens
	}
	if p.OverlapTokens < 0 {
		p.OverlapTokens = 0
	}
	if p.MaxDurationSeconds <= 0 {
		p.MaxDurationSeconds = d.MaxDurationSeconds
	}
	return p
}

// Chunk is one retrieval unit. Index is contiguous and 0-based across the
// whole video, spanning chapter boundaries.
type Chunk struct {
	Index        int
	Text         string
	TokenCount   int
	StartTS      float64
	EndTS        float64
	Speakers     []string
	ChapterTitle *string
	ChapterIndex *int

	// forcedCut marks a chunk flushed by a max-tokens or max-duration
	// limit; such chunks may legally run under MinTokens.
	forcedCut bool
}

// Build cuts segments into chunks. With chapters present each chapter is
// chunked independently and labeled; overlap never crosses a chapter
// boundary. A validation error means the transcript violates sizing
// invariants and the caller should fail the ingest with the message.
func Build(segments []media.Segment, chapters []media.Chapter, p Params) ([]Chunk, error) {
	p = p.normalized()

	var out []Chunk
	for _, g := range groupByChapter(segments, chapters) {
		chunks := cutGroup(g.segments, p)
		chunks = mergeShortTail(chunks, p)
		applyOverlap(chunks, p)
		for i := range chunks {
			chunks[i].TokenCount = tokens.Estimate(chunks[i].Text)
			if g.chapter != nil {
				title := g.chapter.Title
				idx := g.index
				chunks[i].ChapterTitle = &title
				chunks[i].ChapterIndex = &idx
			}
		}
		if err := validateGroup(chunks, p); err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	for i := range out {
		out[i].Index = i
	}
	return out, nil
}

type chapterGroup struct {
	index    int
	chapter  *media.Chapter
	segments []media.Segment
}

// groupByChapter assigns each segment to the last chapter starting at or
// before it; segments ahead of the first chapter fall into the first.
func groupByChapter(segments []media.Segment, chapters []media.Chapter) []chapterGroup {
	if len(chapters) == 0 {
		return []chapterGroup{{index: -1, segments: segments}}
	}
	sorted := make([]media.Chapter, len(chapters))
	copy(sorted, chapters)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].StartSec < sorted[b].StartSec })

	groups := make([]chapterGroup, len(sorted))
	for i := range sorted {
		groups[i] = chapterGroup{index: i, chapter: &sorted[i]}
	}
	for _, seg := range segments {
		gi := 0
		for i := len(sorted) - 1; i >= 0; i-- {
			if seg.Start >= sorted[i].StartSec {
				gi = i
				break
			}
		}
		groups[gi].segments = append(groups[gi].segments, seg)
	}
	return groups
}

// pending accumulates words, not per-segment token estimates: the token
// heuristic truncates, so only the summed word count stays consistent
// with the estimate of the joined text.
type pending struct {
	texts    []string
	words    int
	start    float64
	end      float64
	speakers []string
}

func (c *pending) add(seg media.Segment, text string, words int) {
	if len(c.texts) == 0 {
		c.start = seg.Start
	}
	c.texts = append(c.texts, text)
	c.words += words
	if seg.End > c.end {
		c.end = seg.End
	}
	if seg.Speaker != nil && !containsString(c.speakers, *seg.Speaker) {
		c.speakers = append(c.speakers, *seg.Speaker)
	}
}

func cutGroup(segs []media.Segment, p Params) []Chunk {
	var out []Chunk
	var cur pending

	flush := func(forced bool) {
		if len(cur.texts) == 0 {
			return
		}
		out = append(out, Chunk{
			Text:       strings.Join(cur.texts, " "),
			TokenCount: tokens.EstimateWords(cur.words),
			StartTS:    cur.start,
			EndTS:      cur.end,
			Speakers:   cur.speakers,
			forcedCut:  forced,
		})
		cur = pending{}
	}

	for i, seg := range segs {
		fields := strings.Fields(seg.Text)
		if len(fields) == 0 {
			continue
		}
		text := strings.Join(fields, " ")
		if len(cur.texts) > 0 {
			overTokens := tokens.EstimateWords(cur.words+len(fields)) > p.MaxTokens
			overSpan := seg.End-cur.start > p.MaxDurationSeconds
			if overTokens || overSpan {
				flush(true)
			}
		}
		cur.add(seg, text, len(fields))
		if t := tokens.EstimateWords(cur.words); t >= p.TargetTokens && t >= p.MinTokens && naturalBoundary(segs, i) {
			flush(false)
		}
	}
	flush(false)
	return out
}

// naturalBoundary holds when the segment closes a sentence or the next
// segment switches to another speaker.
func naturalBoundary(segs []media.Segment, i int) bool {
	text := strings.TrimSpace(segs[i].Text)
	if text != "" {
		switch text[len(text)-1] {
		case '.', '!', '?':
			return true
		}
	}
	if i+1 < len(segs) {
		cur, next := segs[i].Speaker, segs[i+1].Speaker
		if next != nil && (cur == nil || *cur != *next) {
			return true
		}
	}
	return false
}

// mergeShortTail folds an undersized final chunk into its predecessor so a
// group never ends on a fragment.
func mergeShortTail(chunks []Chunk, p Params) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if last.TokenCount >= p.MinTokens {
		return chunks
	}
	prev := &chunks[len(chunks)-2]
	prev.Text = prev.Text + " " + last.Text
	prev.TokenCount = tokens.Estimate(prev.Text)
	if last.EndTS > prev.EndTS {
		prev.EndTS = last.EndTS
	}
	for _, s := range last.Speakers {
		if !containsString(prev.Speakers, s) {
			prev.Speakers = append(prev.Speakers, s)
		}
	}
	return chunks[:len(chunks)-1]
}

// applyOverlap prepends to every chunk after the first the closing whole
// sentences of its predecessor, up to OverlapTokens. Overlap text is
// context only; timestamps keep describing the chunk's own span.
func applyOverlap(chunks []Chunk, p Params) {
	if p.OverlapTokens <= 0 || len(chunks) < 2 {
		return
	}
	bases := make([]string, len(chunks))
	for i := range chunks {
		bases[i] = chunks[i].Text
	}
	for i := 1; i < len(chunks); i++ {
		tail := sentenceTail(bases[i-1], p.OverlapTokens)
		if tail == "" {
			continue
		}
		chunks[i].Text = tail + " " + bases[i]
	}
}

// sentenceTail returns the trailing whole sentences of text totalling at
// most budget tokens; empty when even the final sentence is over budget.
// The budget is checked against the joined word count so the estimate of
// the returned string itself never exceeds it.
func sentenceTail(text string, budget int) string {
	sentences := tokens.SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	words := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		w := len(strings.Fields(sentences[i]))
		if tokens.EstimateWords(words+w) > budget {
			break
		}
		words += w
		start = i
	}
	if start == len(sentences) {
		return ""
	}
	return strings.Join(sentences[start:], " ")
}

func validateGroup(chunks []Chunk, p Params) error {
	maxAllowed := int(math.Ceil(1.2 * float64(p.MaxTokens)))
	for i, c := range chunks {
		if c.TokenCount > maxAllowed {
			return fmt.Errorf("chunk %d: token count %d exceeds limit %d", i, c.TokenCount, maxAllowed)
		}
		if c.TokenCount < p.MinTokens && len(chunks) > 1 && !c.forcedCut {
			return fmt.Errorf("chunk %d: token count %d below minimum %d", i, c.TokenCount, p.MinTokens)
		}
		if c.StartTS >= c.EndTS {
			return fmt.Errorf("chunk %d: start %.3f not before end %.3f", i, c.StartTS, c.EndTS)
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
