// Package vectorstore defines the embedding index surface the ingestion and
// retrieval paths program against. The qdrant package provides the live
// implementation; tests substitute fakes.
package vectorstore

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Payload keys every indexed point carries.
const (
	PayloadUserID     = "user_id"
	PayloadVideoID    = "video_id"
	PayloadChunkID    = "chunk_id"
	PayloadChunkIndex = "chunk_index"
	PayloadText       = "text"
	PayloadStartTS    = "start_ts"
	PayloadEndTS      = "end_ts"
	PayloadTitle      = "title"
	PayloadSummary    = "summary"
	PayloadKeywords   = "keywords"
	PayloadChapter    = "chapter"
	PayloadSpeakers   = "speakers"
)

// Point is one embedding plus its payload, addressed by a deterministic ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is a search hit. Vector is populated only by searches that request
// vectors back (diversity reranking needs them).
type Match struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload map[string]any
}

// Filter scopes reads and deletes to a tenant and optionally to a set of
// that tenant's videos.
type Filter struct {
	UserID   uuid.UUID
	VideoIDs []uuid.UUID
}

// VectorKey addresses one chunk's stored vector.
type VectorKey struct {
	VideoID    uuid.UUID
	ChunkIndex int
}

// Index is the vector database surface.
type Index interface {
	// EnsureCollection creates the collection with cosine distance when it
	// does not exist and verifies the dimension when it does.
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert writes points. Re-upserting the same deterministic IDs
	// overwrites rather than duplicates.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to k matches ordered by score descending, ties
	// broken by id.
	Search(ctx context.Context, vec []float32, filter Filter, k int) ([]Match, error)

	// SearchWithDiversity reranks a prefetched pool with maximal marginal
	// relevance. diversity in [0,1]; 0 reduces to plain search order.
	SearchWithDiversity(ctx context.Context, vec []float32, filter Filter, k int, diversity float64) ([]Match, error)

	// SearchWithVideoGuarantee keeps at least minPerVideo of the best
	// matches from every video present in the candidate pool, then fills
	// the remainder of k by score.
	SearchWithVideoGuarantee(ctx context.Context, vec []float32, filter Filter, k, minPerVideo int) ([]Match, error)

	// DeleteByFilter removes every point the filter selects.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// FetchVectors returns the stored vectors for the given videos keyed by
	// (video, chunk index). Insight building reuses them instead of
	// re-embedding.
	FetchVectors(ctx context.Context, filter Filter) (map[VectorKey][]float32, error)
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or all-zero. Stored vectors are unit length so this is usually a dot
// product, but the norms are computed anyway to stay correct for raw input.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// pointIDNamespace salts deterministic point IDs so they never collide with
// IDs from other deployments sharing a collection.
var pointIDNamespace = uuid.MustParse("9b1dab32-51f4-4a4e-a0dd-7a2f4c6b9fd3")

// PointID derives the stable point ID for a chunk. Re-indexing a video
// produces the same IDs, which makes stage replays overwrite instead of
// duplicate.
func PointID(videoID uuid.UUID, chunkIndex int) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(fmt.Sprintf("%s|%d", videoID, chunkIndex))).String()
}
