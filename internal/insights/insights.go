package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/embed"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

type Service interface {
	// Get returns the topic tree for the video set, from cache when the
	// same set was built under the current prompt version. force rebuilds
	// and overwrites the cache entry.
	Get(dbc dbctx.Context, userID uuid.UUID, videoIDs []uuid.UUID, force bool) (*Tree, error)
}

// Mirror receives finished trees. The neo4j graph mirror implements it;
// deployments without one pass nil.
type Mirror interface {
	MirrorTree(ctx context.Context, userID uuid.UUID, cacheKey string, tree *Tree) error
}

type service struct {
	log      *logger.Logger
	videos   repos.VideoRepo
	chunks   repos.ChunkRepo
	cache    repos.InsightCacheRepo
	embedder embed.Client
	index    vectorstore.Index
	model    llm.Client
	mirror   Mirror
}

func New(
	baseLog *logger.Logger,
	videos repos.VideoRepo,
	chunks repos.ChunkRepo,
	cache repos.InsightCacheRepo,
	embedder embed.Client,
	index vectorstore.Index,
	model llm.Client,
	mirror Mirror,
) Service {
	return &service{
		log:      baseLog.With("service", "InsightsService"),
		videos:   videos,
		chunks:   chunks,
		cache:    cache,
		embedder: embedder,
		index:    index,
		model:    model,
		mirror:   mirror,
	}
}

func (s *service) Get(dbc dbctx.Context, userID uuid.UUID, videoIDs []uuid.UUID, force bool) (*Tree, error) {
	if userID == uuid.Nil || len(videoIDs) == 0 {
		return nil, errdef.InvalidInput("missing video ids")
	}

	owned, err := s.videos.GetByUserAndIDs(dbc, userID, videoIDs)
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return nil, errdef.NotFound("videos")
	}
	ids := make([]uuid.UUID, 0, len(owned))
	for _, v := range owned {
		ids = append(ids, v.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	key := CacheKey(ids)

	if !force {
		if cached, err := s.cache.GetByUserAndKey(dbc, userID, key); err == nil && cached != nil {
			var tree Tree
			if err := json.Unmarshal(cached.Tree, &tree); err == nil {
				return &tree, nil
			}
			s.log.Warn("cached tree unreadable, rebuilding", "cache_key", key, "error", err)
		}
	}

	tree, err := s.build(dbc, userID, owned, ids)
	if err != nil {
		return nil, err
	}

	if err := s.persist(dbc, userID, key, ids, tree); err != nil {
		s.log.Warn("insight cache write failed", "cache_key", key, "error", err)
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorTree(dbc.Ctx, userID, key, tree); err != nil {
			s.log.Warn("graph mirror failed", "cache_key", key, "error", err)
		}
	}
	return tree, nil
}

func (s *service) build(dbc dbctx.Context, userID uuid.UUID, videos []*types.Video, ids []uuid.UUID) (*Tree, error) {
	var all []*types.Chunk
	for _, id := range ids {
		chunks, err := s.chunks.GetByVideoID(dbc, id)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	if len(all) == 0 {
		return nil, errdef.InvalidInput("selected videos have no chunks")
	}

	stored, err := s.index.FetchVectors(dbc.Ctx, vectorstore.Filter{UserID: userID, VideoIDs: ids})
	if err != nil {
		s.log.Warn("stored vector fetch failed, embedding on the fly", "error", err)
		stored = nil
	}

	sample := sampleChunks(all, sampleLimit)
	topics := s.extractTopics(dbc.Ctx, sample)
	assigned, err := s.assignChunks(dbc.Ctx, topics, sample, stored)
	if err != nil {
		return nil, err
	}

	tree := s.assemble(dbc.Ctx, videos, ids, topics, assigned)
	layoutTree(tree)
	return tree, nil
}

// assemble builds the five layers. Topic order follows the topics slice;
// topics without evidence are dropped.
func (s *service) assemble(ctx context.Context, videos []*types.Video, ids []uuid.UUID, topics []Topic, assigned map[int][]evidence) *Tree {
	tree := &Tree{
		PromptVersion: PromptVersion,
		GeneratedAt:   time.Now().UTC(),
	}
	for _, id := range ids {
		tree.VideoIDs = append(tree.VideoIDs, id.String())
	}

	rootLabel := "Library insights"
	if len(videos) == 1 && videos[0].Title != "" {
		rootLabel = videos[0].Title
	}
	tree.Nodes = append(tree.Nodes, Node{ID: "root", Kind: NodeRoot, Label: rootLabel, Depth: 0})

	var labelReqs []labelRequest

	for ti, topic := range topics {
		ev := assigned[ti]
		if len(ev) == 0 {
			continue
		}
		topicID := fmt.Sprintf("t%d", ti)
		tree.Nodes = append(tree.Nodes, Node{
			ID:          topicID,
			Kind:        NodeTopic,
			Label:       topic.Label,
			Description: topic.Description,
			Keywords:    topic.Keywords,
			ChunkIDs:    chunkIDsOf(ev),
			Depth:       1,
		})
		tree.Edges = append(tree.Edges, Edge{From: "root", To: topicID})

		for si, sub := range agglomerate(ev, clusterCount(len(ev))) {
			subID := fmt.Sprintf("%s.s%d", topicID, si)
			subMedoid := medoidOf(sub)
			tree.Nodes = append(tree.Nodes, Node{
				ID:       subID,
				Kind:     NodeSubtopic,
				Label:    fallbackLabel(subMedoid),
				ChunkIDs: chunkIDsOf(sub.members),
				Depth:    2,
			})
			tree.Edges = append(tree.Edges, Edge{From: topicID, To: subID})
			labelReqs = append(labelReqs, labelRequest{nodeID: subID, excerpt: excerptOf(subMedoid)})

			for pi, point := range agglomerate(sub.members, clusterCount(len(sub.members))) {
				pointID := fmt.Sprintf("%s.p%d", subID, pi)
				pointMedoid := medoidOf(point)
				tree.Nodes = append(tree.Nodes, Node{
					ID:       pointID,
					Kind:     NodePoint,
					Label:    fallbackLabel(pointMedoid),
					ChunkIDs: chunkIDsOf(point.members),
					Depth:    3,
				})
				tree.Edges = append(tree.Edges, Edge{From: subID, To: pointID})
				labelReqs = append(labelReqs, labelRequest{nodeID: pointID, excerpt: excerptOf(pointMedoid)})

				for _, moment := range momentsOf(point, maxMomentsPerPoint) {
					momentID := "m-" + moment.chunk.ID.String()
					tree.Nodes = append(tree.Nodes, Node{
						ID:       momentID,
						Kind:     NodeMoment,
						Label:    fallbackLabel(moment),
						ChunkIDs: []uuid.UUID{moment.chunk.ID},
						VideoID:  moment.chunk.VideoID,
						StartTS:  moment.chunk.StartTS,
						Depth:    4,
					})
					tree.Edges = append(tree.Edges, Edge{From: pointID, To: momentID})
				}
			}
		}
	}

	if envutil.Bool("ENABLE_LLM_LABELS", false) {
		if labels := s.modelLabels(ctx, labelReqs); len(labels) > 0 {
			for i := range tree.Nodes {
				if label, ok := labels[tree.Nodes[i].ID]; ok {
					tree.Nodes[i].Label = label
				}
			}
		}
	}
	return tree
}

func (s *service) persist(dbc dbctx.Context, userID uuid.UUID, key string, ids []uuid.UUID, tree *Tree) error {
	rawTree, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	rawIDs, err := json.Marshal(tree.VideoIDs)
	if err != nil {
		return err
	}
	return s.cache.Upsert(dbc, &types.InsightCache{
		UserID:        userID,
		CacheKey:      key,
		VideoIDs:      datatypes.JSON(rawIDs),
		PromptVersion: PromptVersion,
		Tree:          datatypes.JSON(rawTree),
	})
}

func chunkIDsOf(ev []evidence) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ev))
	for _, e := range ev {
		out = append(out, e.chunk.ID)
	}
	return out
}

func excerptOf(ev evidence) string {
	if ev.chunk == nil {
		return ""
	}
	src := ev.chunk.Summary
	if src == "" {
		src = ev.chunk.Text
	}
	if len(src) > 200 {
		src = src[:200]
	}
	return src
}
