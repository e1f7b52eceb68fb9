package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/domain/jobs"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// Metrics is the process-wide metric registry. All methods are nil-safe so
// call sites never need to check whether metrics are enabled.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	llmRequests *CounterVec
	llmLatency  *HistogramVec
	llmTokens   *CounterVec

	embedBatches *CounterVec
	embedTexts   *CounterVec
	embedCache   *CounterVec

	pipelineStage   *HistogramVec
	pipelineStageCt *CounterVec

	retrievalRequests *CounterVec
	retrievalLatency  *HistogramVec

	queueDepth *GaugeVec
	pgStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Current returns the registry installed by Init, or nil when metrics are off.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = &Metrics{
			apiRequests: NewCounterVec("vs_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
			apiLatency: NewHistogramVec(
				"vs_api_request_duration_seconds",
				"API request latency in seconds by method/route/status.",
				[]string{"method", "route", "status"},
				[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			),
			apiInflight: NewGauge("vs_api_inflight_requests", "In-flight API requests."),
			llmRequests: NewCounterVec("vs_llm_requests_total", "LLM requests by model/endpoint/status.", []string{"model", "endpoint", "status"}),
			llmLatency: NewHistogramVec(
				"vs_llm_request_duration_seconds",
				"LLM request latency in seconds by model/endpoint/status.",
				[]string{"model", "endpoint", "status"},
				[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			),
			llmTokens:    NewCounterVec("vs_llm_tokens_total", "LLM tokens by model/direction.", []string{"model", "direction"}),
			embedBatches: NewCounterVec("vs_embedding_batches_total", "Embedding batches by model/status.", []string{"model", "status"}),
			embedTexts:   NewCounterVec("vs_embedding_texts_total", "Texts submitted for embedding by model.", []string{"model"}),
			embedCache:   NewCounterVec("vs_embedding_cache_total", "Embedding cache lookups by outcome.", []string{"outcome"}),
			pipelineStage: NewHistogramVec(
				"vs_pipeline_stage_seconds",
				"Ingestion pipeline stage duration in seconds.",
				[]string{"stage", "status"},
				[]float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
			),
			pipelineStageCt:   NewCounterVec("vs_pipeline_stage_total", "Ingestion pipeline stage count by stage/status.", []string{"stage", "status"}),
			retrievalRequests: NewCounterVec("vs_retrieval_requests_total", "Retrieval requests by mode/strategy.", []string{"mode", "strategy"}),
			retrievalLatency: NewHistogramVec(
				"vs_retrieval_duration_seconds",
				"Retrieval latency in seconds by mode/strategy.",
				[]string{"mode", "strategy"},
				[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			),
			queueDepth: NewGaugeVec("vs_job_queue_depth", "Job rows by status.", []string{"status"}),
			pgStats:    NewGaugeVec("vs_postgres_pool", "Postgres connection pool stats.", []string{"stat"}),
			redisUp:    NewGauge("vs_redis_up", "Redis reachability (1 up, 0 down)."),
			redisPing:  NewGauge("vs_redis_ping_seconds", "Last Redis ping round trip in seconds."),
		}
		if log != nil {
			log.Info("metrics registry initialized")
		}
	})
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	method = orUnknown(method)
	route = orUnknown(route)
	status = orUnknown(status)
	m.apiRequests.Inc(method, route, status)
	if dur > 0 {
		m.apiLatency.Observe(dur.Seconds(), method, route, status)
	}
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveLLMRequest(model, endpoint, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	endpoint = orUnknown(endpoint)
	status = orUnknown(status)
	m.llmRequests.Inc(model, endpoint, status)
	if dur > 0 {
		m.llmLatency.Observe(dur.Seconds(), model, endpoint, status)
	}
	if inputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens), model, "input")
	}
	if outputTokens > 0 {
		m.llmTokens.Add(float64(outputTokens), model, "output")
	}
	if inputTokens+outputTokens > 0 {
		m.llmTokens.Add(float64(inputTokens+outputTokens), model, "total")
	}
}

func (m *Metrics) ObserveEmbeddingBatch(model, status string, size int) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	m.embedBatches.Inc(model, orUnknown(status))
	if size > 0 {
		m.embedTexts.Add(float64(size), model)
	}
}

func (m *Metrics) IncEmbeddingCache(outcome string) {
	if m == nil {
		return
	}
	m.embedCache.Inc(orUnknown(outcome))
}

func (m *Metrics) ObservePipelineStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	stage = orUnknown(stage)
	status = orUnknown(status)
	m.pipelineStageCt.Inc(stage, status)
	if dur > 0 {
		m.pipelineStage.Observe(dur.Seconds(), stage, status)
	}
}

func (m *Metrics) ObserveRetrieval(mode, strategy string, dur time.Duration) {
	if m == nil {
		return
	}
	mode = orUnknown(mode)
	strategy = orUnknown(strategy)
	m.retrievalRequests.Inc(mode, strategy)
	if dur > 0 {
		m.retrievalLatency.Observe(dur.Seconds(), mode, strategy)
	}
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

// StartServer serves the Prometheus exposition on its own listener so the
// scrape path never rides the API port.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	collectors := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.llmRequests, m.llmLatency, m.llmTokens,
		m.embedBatches, m.embedTexts, m.embedCache,
		m.pipelineStage, m.pipelineStageCt,
		m.retrievalRequests, m.retrievalLatency,
		m.queueDepth, m.pgStats, m.redisUp, m.redisPing,
	}
	for _, c := range collectors {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

// StartPostgresCollector samples the gorm connection pool on a ticker.
func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartJobQueueCollector tracks job rows per status so stuck queues show up
// on a dashboard before users notice.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	statuses := []string{"queued", "running", "succeeded", "failed", "canceled"}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.queueDepth.Set(0, s)
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&jobs.JobRun{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					status := strings.TrimSpace(row.Status)
					if status == "" {
						status = "unknown"
					}
					m.queueDepth.Set(float64(row.Count), status)
				}
			}
		}
	}()
}
