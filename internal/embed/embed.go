package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/pkg/httpx"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const embeddingsPath = "/v1/embeddings"

// Client turns text into L2-normalized embedding vectors.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
	ModelID() string
}

// modelDims maps the models we route to onto their vector width.
var modelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

type service struct {
	log         *logger.Logger
	http        *http.Client
	baseURL     string
	apiKey      string
	model       string
	dims        int
	batchSize   int
	maxAttempts int

	// mem caches single-text embeddings; batch calls bypass it because the
	// pipeline embeds each chunk exactly once.
	mem  *lru.Cache[string, []float32]
	disk *diskCache
}

// New builds the embedding client from the environment. Only the OpenAI
// embeddings API is wired; EMBEDDING_PROVIDER exists so a second backend can
// slot in without breaking configs.
func New(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	provider := strings.ToLower(envutil.Str("EMBEDDING_PROVIDER", "openai"))
	if provider != "openai" {
		return nil, fmt.Errorf("unsupported EMBEDDING_PROVIDER %q", provider)
	}
	apiKey := strings.TrimSpace(envutil.Str("OPENAI_API_KEY", ""))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	model := envutil.Str("EMBEDDING_MODEL", "text-embedding-3-small")
	dims, ok := modelDims[model]
	if !ok {
		dims = 1536
	}

	cacheSize := envutil.Int("EMBED_CACHE_SIZE", 1000)
	mem, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("embed cache: %w", err)
	}

	s := &service{
		log:         log.With("service", "EmbeddingClient"),
		http:        &http.Client{Timeout: time.Duration(envutil.Int("EMBEDDING_TIMEOUT_SECONDS", 60)) * time.Second},
		baseURL:     strings.TrimRight(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		apiKey:      apiKey,
		model:       model,
		dims:        dims,
		batchSize:   envutil.Int("EMBEDDING_BATCH_SIZE", 64),
		maxAttempts: envutil.Int("EMBEDDING_MAX_ATTEMPTS", 3),
		mem:         mem,
	}

	if path := strings.TrimSpace(envutil.Str("EMBED_CACHE_PATH", "")); path != "" {
		disk, err := openDiskCache(s.log, path)
		if err != nil {
			return nil, fmt.Errorf("open embed cache %s: %w", path, err)
		}
		s.disk = disk
	}
	return s, nil
}

func (s *service) Dims() int { return s.dims }

func (s *service) ModelID() string { return s.model }

func (s *service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := s.cacheKey(text)
	if vec, ok := s.mem.Get(key); ok {
		if metrics := observability.Current(); metrics != nil {
			metrics.IncEmbeddingCache("hit")
		}
		return append([]float32(nil), vec...), nil
	}
	if s.disk != nil {
		vec, err := s.disk.Get(ctx, key)
		if err != nil {
			s.log.Warn("embed disk cache read failed", "error", err)
		} else if vec != nil {
			s.mem.Add(key, vec)
			if metrics := observability.Current(); metrics != nil {
				metrics.IncEmbeddingCache("disk")
			}
			return append([]float32(nil), vec...), nil
		}
	}
	if metrics := observability.Current(); metrics != nil {
		metrics.IncEmbeddingCache("miss")
	}

	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]
	s.mem.Add(key, append([]float32(nil), vec...))
	if s.disk != nil {
		if err := s.disk.Put(ctx, key, s.model, vec); err != nil {
			s.log.Warn("embed disk cache write failed", "error", err)
		}
	}
	return vec, nil
}

func (s *service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	// The API rejects empty strings, and a single space embeds to a stable
	// near-zero-information vector.
	clean := make([]string, len(texts))
	for i := range texts {
		t := strings.TrimSpace(texts[i])
		if t == "" {
			t = " "
		}
		clean[i] = t
	}

	out := make([][]float32, 0, len(clean))
	for start := 0; start < len(clean); start += s.batchSize {
		end := start + s.batchSize
		if end > len(clean) {
			end = len(clean)
		}
		vecs, err := s.embedOnce(ctx, clean[start:end])
		if err != nil {
			if metrics := observability.Current(); metrics != nil {
				metrics.ObserveEmbeddingBatch(s.model, "error", end-start)
			}
			return nil, err
		}
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveEmbeddingBatch(s.model, "ok", end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (s *service) embedOnce(ctx context.Context, inputs []string) ([][]float32, error) {
	raw, err := s.post(ctx, embeddingsRequest{Model: s.model, Input: inputs})
	if err != nil {
		return nil, err
	}
	var resp embeddingsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("embeddings decode error: %w", err)
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		Normalize(vec)
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embeddings response missing index %d of %d", i, len(inputs))
		}
	}
	return out, nil
}

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("embeddings http %d: %s", e.StatusCode, e.Body)
}

func (e *apiError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (s *service) post(ctx context.Context, body any) ([]byte, error) {
	backoff := 1 * time.Second
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, raw, err := s.postOnce(ctx, body)
		if err == nil {
			return raw, nil
		}
		if !httpx.IsRetryableError(err) || attempt == s.maxAttempts {
			return nil, err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		s.log.Warn("embeddings request retrying",
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func (s *service) postOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, s.baseURL+embeddingsPath, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &apiError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, raw, nil
}

func (s *service) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(s.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize scales v to unit length in place. Zero vectors stay zero.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
