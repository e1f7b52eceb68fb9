package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/cancel"
	"github.com/yungbote/vidscribe-backend/internal/chat"
	"github.com/yungbote/vidscribe-backend/internal/cleanup"
	"github.com/yungbote/vidscribe-backend/internal/embed"
	"github.com/yungbote/vidscribe-backend/internal/ingest"
	"github.com/yungbote/vidscribe-backend/internal/ingest/enrich"
	"github.com/yungbote/vidscribe-backend/internal/insights"
	"github.com/yungbote/vidscribe-backend/internal/insights/render"
	"github.com/yungbote/vidscribe-backend/internal/jobs/pipeline/videoingest"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/jobs/worker"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/memory"
	"github.com/yungbote/vidscribe-backend/internal/platform/blob"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/neo4jdb"
	"github.com/yungbote/vidscribe-backend/internal/platform/qdrant"
	"github.com/yungbote/vidscribe-backend/internal/platform/stt"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
	"github.com/yungbote/vidscribe-backend/internal/platform/ytdlp"
	"github.com/yungbote/vidscribe-backend/internal/query/intent"
	"github.com/yungbote/vidscribe-backend/internal/query/retrieve"
	"github.com/yungbote/vidscribe-backend/internal/quota"
	"github.com/yungbote/vidscribe-backend/internal/realtime"
	"github.com/yungbote/vidscribe-backend/internal/realtime/bus"
	"github.com/yungbote/vidscribe-backend/internal/rerank"
)

type Services struct {
	Quota quota.Service

	Store    blob.Store
	Index    vectorstore.Index
	Embedder embed.Client
	Model    llm.Client
	Reranker rerank.Reranker
	Speech   stt.Transcriber
	Media    ytdlp.Client
	Enricher enrich.Service

	Classifier intent.Classifier
	Retriever  retrieve.Retriever
	Memory     memory.Service
	Chat       chat.Service

	Ingest   ingest.Service
	Cancel   cancel.Service
	Cleanup  *cleanup.Scheduler
	Insights insights.Service
	Renderer *render.Renderer

	Hub      *realtime.Hub
	Bus      bus.Bus
	Notifier *realtime.JobNotifier

	Registry    *jobrt.Registry
	Revocations *jobrt.Revocations
	Worker      *worker.Worker

	Neo4j *neo4jdb.Client
}

func wireServices(ctx context.Context, db *gorm.DB, log *logger.Logger, cfg Config, r Repos) (Services, error) {
	var s Services

	s.Quota = quota.New(log, r.Users, r.Quotas)

	store, err := blob.New(log)
	if err != nil {
		return s, fmt.Errorf("init blob store: %w", err)
	}
	s.Store = store

	index, err := qdrant.New(log, qdrant.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
		APIKey:     cfg.QdrantAPIKey,
	})
	if err != nil {
		return s, fmt.Errorf("init vector index: %w", err)
	}
	s.Index = index

	embedder, err := embed.New(log)
	if err != nil {
		return s, fmt.Errorf("init embedder: %w", err)
	}
	s.Embedder = embedder

	if err := index.EnsureCollection(ctx, embedder.Dims()); err != nil {
		return s, fmt.Errorf("ensure vector collection: %w", err)
	}

	model, err := llm.New(log)
	if err != nil {
		return s, fmt.Errorf("init llm client: %w", err)
	}
	s.Model = model
	s.Reranker = rerank.New(log, model)

	// Speech-to-text is the fallback behind caption extraction; a missing
	// GCP credential should not keep caption-only deployments from booting.
	speech, err := stt.NewGCP(log)
	if err != nil {
		log.Warn("speech-to-text unavailable; caption extraction only", "error", err)
	}
	s.Speech = speech

	s.Media = ytdlp.New(log)
	s.Enricher = enrich.New(log, model)

	// Realtime fan-out. The redis bus is optional; without it events stay
	// in-process.
	s.Hub = realtime.NewHub(log)
	if cfg.RedisAddr != "" {
		b, err := bus.NewRedisBus(log)
		if err != nil {
			log.Warn("redis bus unavailable; realtime events stay local", "error", err)
		} else {
			s.Bus = b
		}
	}
	s.Notifier = realtime.NewJobNotifier(log, s.Hub, s.Bus)

	s.Registry = jobrt.NewRegistry()
	s.Revocations = jobrt.NewRevocations()

	pipeline := videoingest.New(db, log, r.Videos, r.Transcripts, r.Chunks,
		s.Quota, s.Media, s.Speech, s.Store, s.Enricher, s.Embedder, s.Index)
	if err := s.Registry.Register(pipeline); err != nil {
		return s, fmt.Errorf("register ingest pipeline: %w", err)
	}
	s.Worker = worker.New(db, log, r.Jobs, s.Registry, s.Notifier, s.Revocations)

	s.Cancel = cancel.New(log, r.Videos, r.Transcripts, r.Chunks, r.Jobs,
		s.Quota, s.Store, s.Index, s.Revocations, s.Notifier)

	s.Memory = memory.New(log, model, r.Facts, r.Conversations)
	s.Cleanup = cleanup.New(log, r.Videos, r.Transcripts, r.Chunks, r.Quotas,
		s.Cancel, s.Quota, s.Store, s.Memory)

	s.Classifier = intent.New(log, model)
	s.Retriever = retrieve.New(log, r.Videos, s.Index, s.Reranker)
	s.Chat = chat.New(log, r.Conversations, r.Messages, r.ChunkRefs,
		s.Quota, s.Classifier, s.Embedder, s.Retriever, s.Memory, model)

	s.Ingest = ingest.New(log, r.Videos, r.Jobs, s.Quota)

	// The neo4j mirror and the PNG renderer are both optional extras on
	// top of the insight tree.
	if cfg.Neo4jURI != "" {
		neo, err := neo4jdb.NewFromEnv(log)
		if err != nil {
			log.Warn("neo4j unavailable; insight graph mirror disabled", "error", err)
		} else {
			s.Neo4j = neo
		}
	}
	var mirror insights.Mirror
	if gm := insights.NewGraphMirror(log, s.Neo4j); gm != nil {
		mirror = gm
	}
	s.Insights = insights.New(log, r.Videos, r.Chunks, r.InsightCache,
		s.Embedder, s.Index, model, mirror)

	renderer, err := render.New()
	if err != nil {
		log.Warn("mind-map renderer unavailable", "error", err)
	} else {
		s.Renderer = renderer
	}

	return s, nil
}
