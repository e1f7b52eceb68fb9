package app

import (
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// Config is the process-level wiring configuration. Component tuning
// knobs (chunk sizes, retrieval thresholds, quota limits) are read by
// the owning package via envutil at the point of use; this struct only
// carries what the wiring itself needs.
type Config struct {
	ServerAddr  string
	MetricsAddr string

	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string

	RedisAddr string
	Neo4jURI  string

	Environment string
	Version     string
}

func LoadConfig() Config {
	return Config{
		ServerAddr:  ":" + envutil.Str("PORT", "8080"),
		MetricsAddr: envutil.Str("METRICS_ADDR", ""),

		QdrantURL:        envutil.Str("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: envutil.Str("QDRANT_COLLECTION", "video_chunks"),
		QdrantAPIKey:     envutil.Str("QDRANT_API_KEY", ""),

		RedisAddr: envutil.Str("REDIS_ADDR", ""),
		Neo4jURI:  envutil.Str("NEO4J_URI", ""),

		Environment: envutil.Str("ENVIRONMENT", "development"),
		Version:     envutil.Str("SERVICE_VERSION", "dev"),
	}
}

// LogEffective records the tuning knobs the pipeline and query path will
// run with, so a deploy's behavior is reconstructable from its logs.
func LogEffective(log *logger.Logger) {
	log.Info("effective configuration",
		"chunk_target_tokens", envutil.Int("CHUNK_TARGET_TOKENS", 400),
		"chunk_min_tokens", envutil.Int("CHUNK_MIN_TOKENS", 100),
		"chunk_max_tokens", envutil.Int("CHUNK_MAX_TOKENS", 800),
		"chunk_overlap_tokens", envutil.Int("CHUNK_OVERLAP_TOKENS", 50),
		"embedding_provider", envutil.Str("EMBEDDING_PROVIDER", "openai"),
		"embedding_model", envutil.Str("EMBEDDING_MODEL", "text-embedding-3-small"),
		"llm_provider", envutil.Str("LLM_PROVIDER", "openai"),
		"llm_model", envutil.Str("LLM_MODEL", "gpt-4o-mini"),
		"retrieval_top_k", envutil.Int("RETRIEVAL_TOP_K", 20),
		"min_relevance_score", envutil.Float("MIN_RELEVANCE_SCORE", 0.35),
		"enable_reranking", envutil.Bool("ENABLE_RERANKING", false),
		"enable_contextual_enrichment", envutil.Bool("ENABLE_CONTEXTUAL_ENRICHMENT", true),
		"enable_caption_extraction", envutil.Bool("ENABLE_CAPTION_EXTRACTION", true),
		"storage_backend", envutil.Str("STORAGE_BACKEND", "local"),
	)
}
