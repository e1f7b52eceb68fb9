package insights

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/google/uuid"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
)

const sampleLimit = 50

// sampleChunks picks at most limit chunks to represent the corpus. Two
// passes: even spacing by chapter within each video trims the pool to
// roughly twice the limit while preserving coverage of every chapter,
// then a greedy keyword-diversity pick keeps the chunks that add the most
// unseen keywords.
func sampleChunks(chunks []*types.Chunk, limit int) []*types.Chunk {
	if limit <= 0 {
		limit = sampleLimit
	}
	if len(chunks) <= limit {
		out := append([]*types.Chunk(nil), chunks...)
		sortChunks(out)
		return out
	}

	spaced := spaceByChapter(chunks, limit*2)
	if len(spaced) <= limit {
		sortChunks(spaced)
		return spaced
	}
	picked := greedyKeywordPick(spaced, limit)
	sortChunks(picked)
	return picked
}

type chapterGroup struct {
	videoID uuid.UUID
	chapter int
	chunks  []*types.Chunk
}

// spaceByChapter allocates the budget across (video, chapter) groups
// proportionally to group size (at least one each) and picks evenly
// spaced chunks inside every group.
func spaceByChapter(chunks []*types.Chunk, budget int) []*types.Chunk {
	byKey := map[[2]string][]*types.Chunk{}
	for _, c := range chunks {
		chapter := -1
		if c.ChapterIndex != nil {
			chapter = *c.ChapterIndex
		}
		key := [2]string{c.VideoID.String(), strconv.Itoa(chapter)}
		byKey[key] = append(byKey[key], c)
	}

	groups := make([]chapterGroup, 0, len(byKey))
	for _, members := range byKey {
		sort.Slice(members, func(i, j int) bool { return members[i].ChunkIndex < members[j].ChunkIndex })
		chapter := -1
		if members[0].ChapterIndex != nil {
			chapter = *members[0].ChapterIndex
		}
		groups = append(groups, chapterGroup{videoID: members[0].VideoID, chapter: chapter, chunks: members})
	}
	// Stable group order so the sample is reproducible.
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].videoID != groups[j].videoID {
			return groups[i].videoID.String() < groups[j].videoID.String()
		}
		return groups[i].chapter < groups[j].chapter
	})

	total := len(chunks)
	var out []*types.Chunk
	for _, g := range groups {
		share := budget * len(g.chunks) / total
		if share < 1 {
			share = 1
		}
		if share >= len(g.chunks) {
			out = append(out, g.chunks...)
			continue
		}
		// Even spacing across the group, endpoints included.
		step := float64(len(g.chunks)-1) / float64(share)
		seen := map[int]bool{}
		for i := 0; i < share; i++ {
			idx := int(float64(i)*step + 0.5)
			if idx >= len(g.chunks) {
				idx = len(g.chunks) - 1
			}
			if !seen[idx] {
				seen[idx] = true
				out = append(out, g.chunks[idx])
			}
		}
	}
	return out
}

// greedyKeywordPick repeatedly selects the chunk that contributes the
// most keywords not yet covered by the selection. Ties go to the earlier
// chunk so the result is stable.
func greedyKeywordPick(pool []*types.Chunk, limit int) []*types.Chunk {
	type candidate struct {
		chunk    *types.Chunk
		keywords []string
	}
	candidates := make([]candidate, 0, len(pool))
	for _, c := range pool {
		candidates = append(candidates, candidate{chunk: c, keywords: chunkKeywords(c)})
	}

	seen := map[string]bool{}
	used := make([]bool, len(candidates))
	var out []*types.Chunk
	for len(out) < limit {
		best, bestGain := -1, -1
		for i, cand := range candidates {
			if used[i] {
				continue
			}
			gain := 0
			for _, kw := range cand.keywords {
				if !seen[kw] {
					gain++
				}
			}
			if gain > bestGain {
				best, bestGain = i, gain
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		for _, kw := range candidates[best].keywords {
			seen[kw] = true
		}
		out = append(out, candidates[best].chunk)
	}
	return out
}

func chunkKeywords(c *types.Chunk) []string {
	if c == nil || len(c.Keywords) == 0 {
		return nil
	}
	var kws []string
	if err := json.Unmarshal(c.Keywords, &kws); err != nil {
		return nil
	}
	return kws
}

func sortChunks(chunks []*types.Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].VideoID != chunks[j].VideoID {
			return chunks[i].VideoID.String() < chunks[j].VideoID.String()
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
}
