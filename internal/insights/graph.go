package insights

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/neo4jdb"
)

// GraphMirror copies finished trees into neo4j so they can be explored
// with graph queries alongside the relational store. Every write is a
// MERGE keyed on the node id, so re-mirroring the same tree is a no-op.
// The mirror is optional: a nil client disables it.
type GraphMirror struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewGraphMirror(baseLog *logger.Logger, client *neo4jdb.Client) *GraphMirror {
	if client == nil || client.Driver == nil {
		return nil
	}
	return &GraphMirror{
		client: client,
		log:    baseLog.With("service", "InsightGraphMirror"),
	}
}

func (m *GraphMirror) MirrorTree(ctx context.Context, userID uuid.UUID, cacheKey string, tree *Tree) error {
	if m == nil || m.client == nil || m.client.Driver == nil || tree == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(tree.Nodes))
	for _, n := range tree.Nodes {
		chunkIDs := make([]string, 0, len(n.ChunkIDs))
		for _, id := range n.ChunkIDs {
			chunkIDs = append(chunkIDs, id.String())
		}
		rec := map[string]any{
			"id":        cacheKey + ":" + n.ID,
			"node_id":   n.ID,
			"kind":      string(n.Kind),
			"label":     n.Label,
			"depth":     int64(n.Depth),
			"user_id":   userID.String(),
			"cache_key": cacheKey,
			"chunk_ids": chunkIDs,
			"synced_at": now,
		}
		if n.Description != "" {
			rec["description"] = n.Description
		}
		if len(n.Keywords) > 0 {
			rec["keywords"] = strings.Join(n.Keywords, ",")
		}
		if n.Kind == NodeMoment {
			rec["video_id"] = n.VideoID.String()
			rec["start_ts"] = n.StartTS
		}
		nodes = append(nodes, rec)
	}

	rels := make([]map[string]any, 0, len(tree.Edges))
	for _, e := range tree.Edges {
		rels = append(rels, map[string]any{
			"from_id":   cacheKey + ":" + e.From,
			"to_id":     cacheKey + ":" + e.To,
			"synced_at": now,
		})
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	// Schema init is best-effort; restricted users may not be allowed to.
	if res, err := session.Run(ctx, `CREATE CONSTRAINT insight_node_id_unique IF NOT EXISTS FOR (n:InsightNode) REQUIRE n.id IS UNIQUE`, nil); err != nil {
		m.log.Warn("neo4j schema init failed (continuing)", "error", err)
	} else {
		_, _ = res.Consume(ctx)
	}
	if res, err := session.Run(ctx, `CREATE INDEX insight_node_user_idx IF NOT EXISTS FOR (n:InsightNode) ON (n.user_id, n.cache_key)`, nil); err != nil {
		m.log.Warn("neo4j schema init failed (continuing)", "error", err)
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Drop nodes from older builds of this cache key before writing.
		res, err := tx.Run(ctx, `
MATCH (n:InsightNode {user_id: $user_id, cache_key: $cache_key})
WHERE n.synced_at < $synced_at
DETACH DELETE n
`, map[string]any{"user_id": userID.String(), "cache_key": cacheKey, "synced_at": now})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (c:InsightNode {id: n.id})
SET c += n
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(rels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:InsightNode {id: r.from_id})
MATCH (b:InsightNode {id: r.to_id})
MERGE (a)-[e:HAS_CHILD]->(b)
SET e.synced_at = r.synced_at
`, map[string]any{"rels": rels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	m.log.Debug("mirrored insight tree", "cache_key", cacheKey, "nodes", len(nodes), "edges", len(rels))
	return nil
}
