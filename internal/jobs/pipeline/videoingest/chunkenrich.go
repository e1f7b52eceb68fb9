package videoingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/domain/media"
	"github.com/yungbote/vidscribe-backend/internal/ingest/chunker"
	"github.com/yungbote/vidscribe-backend/internal/ingest/enrich"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

func (p *Pipeline) stageChunkEnrich(jc *jobrt.Context, v *types.Video) error {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	jc.Progress(stageChunkEnrich, 40, "chunking transcript")
	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"status":           types.VideoStatusChunking,
		"progress_percent": 40,
	}); err != nil {
		return err
	}

	t, err := p.transcripts.GetByVideoID(dbc, v.ID)
	if err != nil {
		return err
	}
	if t == nil {
		return errdef.Internal("transcript missing for chunking")
	}
	var segs []media.Segment
	if err := json.Unmarshal(t.Segments, &segs); err != nil {
		return errdef.Parse(fmt.Sprintf("decode transcript segments: %v", err))
	}
	var chapters []media.Chapter
	if len(v.Chapters) > 0 {
		if err := json.Unmarshal(v.Chapters, &chapters); err != nil {
			p.log.Warn("chapters decode failed, chunking without them", "video_id", v.ID, "error", err)
			chapters = nil
		}
	}

	pieces, err := chunker.Build(segs, chapters, chunker.DefaultParams())
	if err != nil {
		return errdef.Parse(fmt.Sprintf("chunk transcript: %v", err))
	}
	if len(pieces) == 0 {
		return errdef.InvalidInput("transcript produced no chunks")
	}

	// Rebuild from scratch so a retry cannot leave duplicate rows or stale
	// vectors behind.
	if _, err := p.chunks.DeleteByVideoID(dbc, v.ID); err != nil {
		return err
	}
	if err := p.index.DeleteByFilter(jc.Ctx, vectorstore.Filter{UserID: v.UserID, VideoIDs: []uuid.UUID{v.ID}}); err != nil {
		p.log.Warn("vector cleanup before re-chunk failed", "video_id", v.ID, "error", err)
	}

	jc.Progress(stageChunkEnrich, 55, "enriching chunks")
	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"status":           types.VideoStatusEnriching,
		"progress_percent": 55,
	}); err != nil {
		return err
	}

	reqs := make([]enrich.Request, len(pieces))
	for i, c := range pieces {
		vc := enrich.VideoContext{Title: v.Title, Channel: v.Channel}
		if c.ChapterTitle != nil {
			vc.Chapter = *c.ChapterTitle
		}
		reqs[i] = enrich.Request{Text: c.Text, Context: vc}
	}
	lastPct := 55
	enrichments := p.enricher.EnrichAll(jc.Ctx, reqs, func(done, total int) {
		pct := 55 + done*35/total
		if pct < lastPct+5 && done != total {
			return
		}
		lastPct = pct
		jc.Progress(stageChunkEnrich, pct, fmt.Sprintf("enriched %d/%d chunks", done, total))
		_ = p.bumpVideoProgress(jc.Ctx, v.ID, pct)
	})
	// EnrichAll degrades to heuristic annotations on a dead context instead
	// of erroring; surface the cancellation here.
	if err := jc.Ctx.Err(); err != nil {
		return err
	}

	rows := make([]*types.Chunk, len(pieces))
	for i, c := range pieces {
		speakersJSON, err := json.Marshal(nonNil(c.Speakers))
		if err != nil {
			return fmt.Errorf("marshal speakers: %w", err)
		}
		keywordsJSON, err := json.Marshal(nonNil(enrichments[i].Keywords))
		if err != nil {
			return fmt.Errorf("marshal keywords: %w", err)
		}
		rows[i] = &types.Chunk{
			VideoID:       v.ID,
			UserID:        v.UserID,
			ChunkIndex:    c.Index,
			Text:          c.Text,
			TokenCount:    c.TokenCount,
			StartTS:       c.StartTS,
			EndTS:         c.EndTS,
			Speakers:      datatypes.JSON(speakersJSON),
			ChapterTitle:  c.ChapterTitle,
			ChapterIndex:  c.ChapterIndex,
			Title:         enrichments[i].Title,
			Summary:       enrichments[i].Summary,
			Keywords:      datatypes.JSON(keywordsJSON),
			EmbeddingText: enrich.EmbeddingText(enrichments[i], c.Text),
		}
	}
	if _, err := p.chunks.Create(dbc, rows); err != nil {
		return err
	}

	topicsJSON, err := json.Marshal(topKeywords(enrichments, 10))
	if err != nil {
		return fmt.Errorf("marshal key topics: %w", err)
	}
	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"chunk_count":      len(rows),
		"summary":          videoSummary(enrichments),
		"key_topics":       datatypes.JSON(topicsJSON),
		"progress_percent": 90,
	}); err != nil {
		return err
	}
	jc.Progress(stageChunkEnrich, 90, "chunks ready")
	p.log.Info("chunking complete", "video_id", v.ID, "chunks", len(rows))
	return nil
}

// videoSummary stitches the leading chunk summaries into a short rollup for
// listings and coverage answers.
func videoSummary(enrichments []enrich.Enrichment) string {
	var parts []string
	for _, e := range enrichments {
		s := strings.TrimSpace(e.Summary)
		if s == "" {
			continue
		}
		parts = append(parts, s)
		if len(parts) >= 6 {
			break
		}
	}
	return truncateRunes(strings.Join(parts, " "), 1000)
}

// topKeywords ranks keywords across all chunks by frequency, ties broken
// alphabetically, preserving the casing of the first occurrence.
func topKeywords(enrichments []enrich.Enrichment, n int) []string {
	counts := map[string]int{}
	display := map[string]string{}
	for _, e := range enrichments {
		for _, kw := range e.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			key := strings.ToLower(kw)
			if _, seen := display[key]; !seen {
				display[key] = kw
			}
			counts[key]++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = display[k]
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
