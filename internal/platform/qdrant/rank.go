package qdrant

import (
	"fmt"
	"sort"

	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

// maximalMarginalRelevance picks k matches from a score-ordered pool,
// trading similarity to the query against similarity to what is already
// picked: mmr(i) = (1-lambda)*sim(q,i) - lambda*max(sim(i, selected)).
// Point IDs break ties so the selection is deterministic. Returned matches
// keep their original query similarity as Score; downstream relevance
// thresholds compare against that, not the marginal value.
func maximalMarginalRelevance(pool []vectorstore.Match, k int, lambda float64) []vectorstore.Match {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if k > len(pool) {
		k = len(pool)
	}

	remaining := make([]vectorstore.Match, len(pool))
	copy(remaining, pool)
	selected := make([]vectorstore.Match, 0, k)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := vectorstore.Cosine(cand.Vector, s.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			score := (1-lambda)*cand.Score - lambda*maxSim
			if bestIdx == -1 || score > bestScore || (score == bestScore && cand.ID < remaining[bestIdx].ID) {
				bestIdx = i
				bestScore = score
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// guaranteeVideoCoverage keeps the best minPerVideo matches of every video in
// the pool, then fills the remaining slots by global score. Guaranteed picks
// are never dropped, so the result can exceed k when the pool spans more
// than k/minPerVideo videos.
func guaranteeVideoCoverage(pool []vectorstore.Match, k, minPerVideo int) []vectorstore.Match {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if minPerVideo <= 0 {
		if k > len(pool) {
			k = len(pool)
		}
		return pool[:k]
	}

	taken := make(map[string]bool, len(pool))
	perVideo := map[string]int{}
	selected := make([]vectorstore.Match, 0, k)

	// Pool arrives score-ordered, so a linear pass picks each video's best.
	for _, m := range pool {
		video := payloadVideoID(m)
		if perVideo[video] >= minPerVideo {
			continue
		}
		perVideo[video]++
		taken[m.ID] = true
		selected = append(selected, m)
	}
	for _, m := range pool {
		if len(selected) >= k {
			break
		}
		if taken[m.ID] {
			continue
		}
		taken[m.ID] = true
		selected = append(selected, m)
	}

	sortMatches(selected)
	return selected
}

func payloadVideoID(m vectorstore.Match) string {
	if v, ok := m.Payload[vectorstore.PayloadVideoID].(string); ok {
		return v
	}
	return fmt.Sprintf("%v", m.Payload[vectorstore.PayloadVideoID])
}

func sortMatches(matches []vectorstore.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}
