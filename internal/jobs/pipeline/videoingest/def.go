// Package videoingest turns a submitted URL into an indexed, enriched
// chunk collection. Three stages run serially per video: transcribe
// (captions or download+STT), chunk+enrich, embed+index. The video row is
// refreshed before every stage and retry attempt; a cancel observed there
// stops the run cooperatively.
package videoingest

import (
	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/embed"
	"github.com/yungbote/vidscribe-backend/internal/ingest/enrich"
	"github.com/yungbote/vidscribe-backend/internal/platform/blob"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/stt"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
	"github.com/yungbote/vidscribe-backend/internal/platform/ytdlp"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

const (
	stageTranscribe  = "transcribe"
	stageChunkEnrich = "chunk_enrich"
	stageEmbedIndex  = "embed_index"

	checkpointAfterTranscription = "after_transcription"
	checkpointAfterChunkEnrich   = "after_chunk_enrich"
)

type Pipeline struct {
	db          *gorm.DB
	log         *logger.Logger
	videos      repos.VideoRepo
	transcripts repos.TranscriptRepo
	chunks      repos.ChunkRepo
	usage       quota.Service
	media       ytdlp.Client
	speech      stt.Transcriber
	store       blob.Store
	enricher    enrich.Service
	embedder    embed.Client
	index       vectorstore.Index
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	videos repos.VideoRepo,
	transcripts repos.TranscriptRepo,
	chunks repos.ChunkRepo,
	usage quota.Service,
	media ytdlp.Client,
	speech stt.Transcriber,
	store blob.Store,
	enricher enrich.Service,
	embedder embed.Client,
	index vectorstore.Index,
) *Pipeline {
	return &Pipeline{
		db:          db,
		log:         baseLog.With("job", types.JobTypeVideoIngest),
		videos:      videos,
		transcripts: transcripts,
		chunks:      chunks,
		usage:       usage,
		media:       media,
		speech:      speech,
		store:       store,
		enricher:    enricher,
		embedder:    embedder,
		index:       index,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeVideoIngest }
