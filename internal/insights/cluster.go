package insights

import (
	"sort"

	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

const maxMomentsPerPoint = 2

// cluster is a group of evidence chunks with its centroid.
type cluster struct {
	members  []evidence
	centroid []float32
}

// clusterCount maps a group size onto 1-3 clusters.
func clusterCount(n int) int {
	switch {
	case n < 4:
		return 1
	case n < 10:
		return 2
	default:
		return 3
	}
}

// agglomerate merges the two most similar clusters (average linkage over
// centroids) until k remain. Input order breaks ties, so the result is
// deterministic for a fixed evidence order.
func agglomerate(members []evidence, k int) []cluster {
	if len(members) == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}
	clusters := make([]cluster, 0, len(members))
	for _, m := range members {
		clusters = append(clusters, cluster{members: []evidence{m}, centroid: append([]float32(nil), m.vec...)})
	}

	for len(clusters) > k {
		bi, bj := -1, -1
		var bestSim float64
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				sim := vectorstore.Cosine(clusters[i].centroid, clusters[j].centroid)
				if bi < 0 || sim > bestSim {
					bi, bj, bestSim = i, j, sim
				}
			}
		}
		if bi < 0 {
			break
		}
		merged := mergeClusters(clusters[bi], clusters[bj])
		next := make([]cluster, 0, len(clusters)-1)
		for idx, c := range clusters {
			if idx == bi || idx == bj {
				continue
			}
			next = append(next, c)
		}
		clusters = append(next, merged)
	}

	// Largest cluster first, then by best member for stability.
	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].members) != len(clusters[j].members) {
			return len(clusters[i].members) > len(clusters[j].members)
		}
		return clusters[i].members[0].chunk.ID.String() < clusters[j].members[0].chunk.ID.String()
	})
	return clusters
}

func mergeClusters(a, b cluster) cluster {
	members := append(append([]evidence(nil), a.members...), b.members...)
	return cluster{members: members, centroid: centroidOf(members)}
}

func centroidOf(members []evidence) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(members[0].vec)
	sum := make([]float64, dim)
	n := 0
	for _, m := range members {
		if len(m.vec) != dim {
			continue
		}
		for i, v := range m.vec {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}
	return out
}

// momentsOf picks the members closest to the cluster centroid.
func momentsOf(c cluster, limit int) []evidence {
	if limit <= 0 {
		limit = maxMomentsPerPoint
	}
	ranked := append([]evidence(nil), c.members...)
	sort.Slice(ranked, func(i, j int) bool {
		si := vectorstore.Cosine(ranked[i].vec, c.centroid)
		sj := vectorstore.Cosine(ranked[j].vec, c.centroid)
		if si != sj {
			return si > sj
		}
		return ranked[i].chunk.ID.String() < ranked[j].chunk.ID.String()
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// medoidOf is the member nearest the centroid, used for fallback labels.
func medoidOf(c cluster) evidence {
	best := c.members[0]
	bestSim := vectorstore.Cosine(best.vec, c.centroid)
	for _, m := range c.members[1:] {
		if sim := vectorstore.Cosine(m.vec, c.centroid); sim > bestSim {
			best, bestSim = m, sim
		}
	}
	return best
}
