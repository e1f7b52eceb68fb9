// Package insights builds a five-layer topic mind-map over a set of
// videos: root → topic → subtopic → point → moment. Topics come from one
// model call (with a keyword fallback), everything below them from
// embedding similarity and agglomerative clustering, so the tree is
// deterministic whenever model labeling is off.
package insights

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PromptVersion keys the cache together with the video set. Bump it when
// the topic extraction prompt changes; old cache rows become unreachable
// and are purged by the cleanup scheduler.
const PromptVersion = "v2"

type NodeKind string

const (
	NodeRoot     NodeKind = "root"
	NodeTopic    NodeKind = "topic"
	NodeSubtopic NodeKind = "subtopic"
	NodePoint    NodeKind = "point"
	NodeMoment   NodeKind = "moment"
)

// Node is one mind-map vertex. Moments carry the chunk they point at;
// higher layers list every chunk in their subtree.
type Node struct {
	ID          string      `json:"id"`
	Kind        NodeKind    `json:"kind"`
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	Keywords    []string    `json:"keywords,omitempty"`
	ChunkIDs    []uuid.UUID `json:"chunk_ids,omitempty"`
	VideoID     uuid.UUID   `json:"video_id,omitempty"`
	StartTS     float64     `json:"start_ts,omitempty"`
	Depth       int         `json:"depth"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
}

// Edge connects a parent to a child. The tree has no cross-links.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Tree struct {
	Nodes         []Node    `json:"nodes"`
	Edges         []Edge    `json:"edges"`
	VideoIDs      []string  `json:"video_ids"`
	PromptVersion string    `json:"prompt_version"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// CacheKey derives the cache identity of a video set: the sorted ids plus
// the prompt version, hashed. Order of the input never matters.
func CacheKey(videoIDs []uuid.UUID) string {
	ids := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)
	h := sha256.Sum256([]byte(strings.Join(ids, ",") + "|" + PromptVersion))
	return hex.EncodeToString(h[:])
}
