package videoingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

func (p *Pipeline) stageEmbedIndex(jc *jobrt.Context, v *types.Video) error {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	jc.Progress(stageEmbedIndex, 10, "embedding chunks")
	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"status":           types.VideoStatusIndexing,
		"progress_percent": 10,
	}); err != nil {
		return err
	}

	pending, err := p.chunks.ListUnindexed(dbc, v.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		// Every chunk carries the indexed flag already; a previous attempt
		// finished the vector work before dying.
		return p.finishIndexing(jc, v)
	}

	var tokenTotal int64
	for _, c := range pending {
		tokenTotal += int64(c.TokenCount)
	}
	if err := p.usage.Check(dbc, v.UserID, quota.KindEmbeddingTokens, float64(tokenTotal)); err != nil {
		return err
	}

	if err := p.index.EnsureCollection(jc.Ctx, p.embedder.Dims()); err != nil {
		return errors.Join(errdef.ErrTransient, fmt.Errorf("ensure collection: %w", err))
	}

	batchSize := envutil.Int("EMBEDDING_BATCH_SIZE", 64)
	if batchSize < 1 {
		batchSize = 1
	}
	done := 0
	for start := 0; start < len(pending); start += batchSize {
		if err := jc.Ctx.Err(); err != nil {
			return err
		}
		batch := pending[start:min(start+batchSize, len(pending))]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.EmbeddingText
			if texts[i] == "" {
				texts[i] = c.Text
			}
		}
		vecs, err := p.embedder.EmbedBatch(jc.Ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return errdef.Internal(fmt.Sprintf("embedding batch returned %d vectors for %d texts", len(vecs), len(batch)))
		}

		points := make([]vectorstore.Point, len(batch))
		ids := make([]uuid.UUID, len(batch))
		for i, c := range batch {
			points[i] = vectorstore.Point{
				ID:      vectorstore.PointID(v.ID, c.ChunkIndex),
				Vector:  vecs[i],
				Payload: chunkPayload(v, c),
			}
			ids[i] = c.ID
		}
		if err := p.index.Upsert(jc.Ctx, points); err != nil {
			return fmt.Errorf("upsert points: %w", err)
		}
		if err := p.chunks.MarkIndexed(dbc, ids); err != nil {
			return err
		}

		done += len(batch)
		pct := 10 + done*80/len(pending)
		jc.Progress(stageEmbedIndex, pct, fmt.Sprintf("indexed %d/%d chunks", done, len(pending)))
		if err := p.bumpVideoProgress(jc.Ctx, v.ID, pct); err != nil {
			return err
		}
	}

	if terr := p.usage.TrackEmbeddingGeneration(dbc, v.UserID, tokenTotal); terr != nil {
		p.log.Warn("usage tracking failed", "video_id", v.ID, "error", terr)
	}

	return p.finishIndexing(jc, v)
}

func (p *Pipeline) finishIndexing(jc *jobrt.Context, v *types.Video) error {
	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"status":           types.VideoStatusCompleted,
		"progress_percent": 100,
		"is_indexed":       true,
		"error_message":    "",
	}); err != nil {
		return err
	}
	jc.Progress(stageEmbedIndex, 100, "video ready")
	p.log.Info("indexing complete", "video_id", v.ID)
	return nil
}

func chunkPayload(v *types.Video, c *types.Chunk) map[string]any {
	payload := map[string]any{
		vectorstore.PayloadUserID:     v.UserID.String(),
		vectorstore.PayloadVideoID:    v.ID.String(),
		vectorstore.PayloadChunkID:    c.ID.String(),
		vectorstore.PayloadChunkIndex: c.ChunkIndex,
		vectorstore.PayloadText:       c.Text,
		vectorstore.PayloadStartTS:    c.StartTS,
		vectorstore.PayloadEndTS:      c.EndTS,
		vectorstore.PayloadTitle:      c.Title,
		vectorstore.PayloadSummary:    c.Summary,
	}
	var kws []string
	if len(c.Keywords) > 0 {
		_ = json.Unmarshal(c.Keywords, &kws)
	}
	payload[vectorstore.PayloadKeywords] = kws
	if c.ChapterTitle != nil {
		payload[vectorstore.PayloadChapter] = *c.ChapterTitle
	}
	var speakers []string
	if len(c.Speakers) > 0 {
		_ = json.Unmarshal(c.Speakers, &speakers)
	}
	if len(speakers) > 0 {
		payload[vectorstore.PayloadSpeakers] = speakers
	}
	return payload
}
