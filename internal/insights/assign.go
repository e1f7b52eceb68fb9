package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

const (
	evidencePerTopic = 15
	minAssigned      = 8

	strictThresholdFloor  = 0.25
	strictMargin          = 0.04
	relaxedThresholdFloor = 0.18
	relaxedMargin         = 0.02
)

// evidence is a chunk assigned to a topic with its vector retained for
// clustering.
type evidence struct {
	chunk *types.Chunk
	vec   []float32
	sim   float64
}

// assignChunks embeds the topics, gathers a vector per chunk (stored
// vectors where the index has them, fresh embeddings otherwise), and
// assigns every chunk to its best topic under an adaptive threshold with
// a margin requirement. When too few chunks clear the strict bar the
// thresholds relax once.
func (s *service) assignChunks(ctx context.Context, topics []Topic, chunks []*types.Chunk, stored map[vectorstore.VectorKey][]float32) (map[int][]evidence, error) {
	topicTexts := make([]string, len(topics))
	for i, t := range topics {
		topicTexts[i] = topicEmbeddingText(t)
	}
	topicVecs, err := s.embedder.EmbedBatch(ctx, topicTexts)
	if err != nil {
		return nil, fmt.Errorf("embed topics: %w", err)
	}

	chunkVecs, err := s.chunkVectors(ctx, chunks, stored)
	if err != nil {
		return nil, err
	}

	type scored struct {
		chunkIdx  int
		bestTopic int
		bestSim   float64
		margin    float64
	}
	all := make([]scored, 0, len(chunks))
	for i := range chunks {
		vec := chunkVecs[i]
		if len(vec) == 0 {
			continue
		}
		best, second := -1, -1
		var bestSim, secondSim float64
		for t := range topicVecs {
			sim := vectorstore.Cosine(vec, topicVecs[t])
			if best < 0 || sim > bestSim {
				second, secondSim = best, bestSim
				best, bestSim = t, sim
			} else if second < 0 || sim > secondSim {
				second, secondSim = t, sim
			}
		}
		if best < 0 {
			continue
		}
		margin := bestSim
		if second >= 0 {
			margin = bestSim - secondSim
		}
		all = append(all, scored{chunkIdx: i, bestTopic: best, bestSim: bestSim, margin: margin})
	}
	if len(all) == 0 {
		return map[int][]evidence{}, nil
	}

	sims := make([]float64, len(all))
	for i, sc := range all {
		sims[i] = sc.bestSim
	}

	assign := func(threshold, margin float64) map[int][]evidence {
		out := map[int][]evidence{}
		for _, sc := range all {
			if sc.bestSim < threshold || sc.margin < margin {
				continue
			}
			out[sc.bestTopic] = append(out[sc.bestTopic], evidence{
				chunk: chunks[sc.chunkIdx],
				vec:   chunkVecs[sc.chunkIdx],
				sim:   sc.bestSim,
			})
		}
		return out
	}

	assigned := assign(maxf(strictThresholdFloor, percentile(sims, 0.40)), strictMargin)
	if count(assigned) < minAssigned {
		assigned = assign(maxf(relaxedThresholdFloor, percentile(sims, 0.20)), relaxedMargin)
	}

	// Cap evidence per topic, best similarity first.
	for t, ev := range assigned {
		sort.Slice(ev, func(i, j int) bool {
			if ev[i].sim != ev[j].sim {
				return ev[i].sim > ev[j].sim
			}
			return ev[i].chunk.ID.String() < ev[j].chunk.ID.String()
		})
		if len(ev) > evidencePerTopic {
			ev = ev[:evidencePerTopic]
		}
		assigned[t] = ev
	}
	return assigned, nil
}

// chunkVectors resolves one vector per chunk: the stored index vector
// when present, otherwise a fresh embedding of the chunk's embedding
// text, batched with bounded parallelism.
func (s *service) chunkVectors(ctx context.Context, chunks []*types.Chunk, stored map[vectorstore.VectorKey][]float32) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	var missingIdx []int
	for i, c := range chunks {
		if vec, ok := stored[vectorstore.VectorKey{VideoID: c.VideoID, ChunkIndex: c.ChunkIndex}]; ok && len(vec) > 0 {
			out[i] = vec
			continue
		}
		missingIdx = append(missingIdx, i)
	}
	if len(missingIdx) == 0 {
		return out, nil
	}

	const batchSize = 32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(missingIdx); start += batchSize {
		end := start + batchSize
		if end > len(missingIdx) {
			end = len(missingIdx)
		}
		batch := missingIdx[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = embeddingTextFor(chunks[idx])
			}
			vecs, err := s.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks: %w", err)
			}
			for j, idx := range batch {
				out[idx] = vecs[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func embeddingTextFor(c *types.Chunk) string {
	if strings.TrimSpace(c.EmbeddingText) != "" {
		return c.EmbeddingText
	}
	return c.Text
}

func topicEmbeddingText(t Topic) string {
	parts := []string{t.Label}
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	if len(t.Keywords) > 0 {
		parts = append(parts, strings.Join(t.Keywords, ", "))
	}
	return strings.Join(parts, ". ")
}

// percentile returns the p-quantile (0..1) of values by nearest-rank on a
// sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func count(assigned map[int][]evidence) int {
	n := 0
	for _, ev := range assigned {
		n += len(ev)
	}
	return n
}
