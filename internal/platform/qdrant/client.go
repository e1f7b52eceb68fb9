// Package qdrant implements the vector index over qdrant's HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

const (
	maxErrorBodyBytes = 1024
	scrollPageSize    = 256

	// Pool size fed to the diversity and coverage rerankers.
	searchPrefetch = 100
)

type client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
	dim     int
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
	Vector  []float32       `json:"vector"`
}

type scrollResult struct {
	Points         []searchResultItem `json:"points"`
	NextPageOffset json.RawMessage    `json:"next_page_offset"`
}

// New connects to qdrant and verifies it answers. EnsureCollection must run
// before the first write.
func New(log *logger.Logger, cfg Config) (vectorstore.Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	c := &client{
		log:     log.With("service", "QdrantIndex"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	if err := c.verifyReady(context.Background()); err != nil {
		return nil, err
	}
	log.Info("Qdrant vector index selected",
		"url", c.baseURL,
		"collection", cfg.Collection,
	)
	return c, nil
}

func (c *client) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", resp.StatusCode),
		}
	}
	return nil
}

func (c *client) EnsureCollection(ctx context.Context, dim int) error {
	const op = "ensure_collection"
	if dim <= 0 {
		return opErr(op, OperationErrorValidation, fmt.Sprintf("invalid vector dim %d", dim), nil)
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := c.doJSON(ctx, op, http.MethodGet, c.collectionPath(""), nil, &info)
	if err == nil {
		if size := info.Config.Params.Vectors.Size; size != 0 && size != dim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d", c.cfg.Collection, dim, size), nil)
		}
		c.dim = dim
		return nil
	}
	var opError *OperationError
	if !errors.As(err, &opError) || opError.StatusCode != http.StatusNotFound {
		return err
	}

	create := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := c.doJSON(ctx, op, http.MethodPut, c.collectionPath(""), create, nil); err != nil {
		return err
	}
	c.dim = dim
	c.log.Info("Created qdrant collection", "collection", c.cfg.Collection, "dim", dim)
	return nil
}

func (c *client) Upsert(ctx context.Context, points []vectorstore.Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty vector", id), nil)
		}
		if c.dim > 0 && len(p.Vector) != c.dim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", id, c.dim, len(p.Vector)), nil)
		}
		body = append(body, map[string]any{
			"id":      id,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	return c.doJSON(ctx, op, http.MethodPut, c.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

func (c *client) Search(ctx context.Context, vec []float32, filter vectorstore.Filter, k int) ([]vectorstore.Match, error) {
	matches, err := c.search(ctx, "search", vec, filter, k, false)
	if err != nil {
		return nil, err
	}
	sortMatches(matches)
	return matches, nil
}

func (c *client) SearchWithDiversity(ctx context.Context, vec []float32, filter vectorstore.Filter, k int, diversity float64) ([]vectorstore.Match, error) {
	prefetch := searchPrefetch
	if k > prefetch {
		prefetch = k
	}
	pool, err := c.search(ctx, "search_with_diversity", vec, filter, prefetch, true)
	if err != nil {
		return nil, err
	}
	sortMatches(pool)
	return maximalMarginalRelevance(pool, k, diversity), nil
}

func (c *client) SearchWithVideoGuarantee(ctx context.Context, vec []float32, filter vectorstore.Filter, k, minPerVideo int) ([]vectorstore.Match, error) {
	prefetch := searchPrefetch
	if k > prefetch {
		prefetch = k
	}
	pool, err := c.search(ctx, "search_with_video_guarantee", vec, filter, prefetch, false)
	if err != nil {
		return nil, err
	}
	sortMatches(pool)
	return guaranteeVideoCoverage(pool, k, minPerVideo), nil
}

func (c *client) search(ctx context.Context, op string, vec []float32, filter vectorstore.Filter, limit int, withVector bool) ([]vectorstore.Match, error) {
	if len(vec) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if c.dim > 0 && len(vec) != c.dim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", c.dim, len(vec)), nil)
	}
	if filter.UserID == uuid.Nil {
		return nil, opErr(op, OperationErrorValidation, "filter user id required", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	req := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  withVector,
		"filter":       translateFilter(filter),
	}
	var items []searchResultItem
	if err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath("/points/search"), req, &items); err != nil {
		return nil, err
	}

	out := make([]vectorstore.Match, 0, len(items))
	for _, item := range items {
		out = append(out, vectorstore.Match{
			ID:      decodePointID(item.ID),
			Score:   item.Score,
			Vector:  item.Vector,
			Payload: item.Payload,
		})
	}
	return out, nil
}

func (c *client) DeleteByFilter(ctx context.Context, filter vectorstore.Filter) error {
	const op = "delete_by_filter"
	if filter.UserID == uuid.Nil {
		return opErr(op, OperationErrorValidation, "filter user id required", nil)
	}
	req := map[string]any{"filter": translateFilter(filter)}
	return c.doJSON(ctx, op, http.MethodPost, c.collectionPath("/points/delete?wait=true"), req, nil)
}

func (c *client) FetchVectors(ctx context.Context, filter vectorstore.Filter) (map[vectorstore.VectorKey][]float32, error) {
	const op = "fetch_vectors"
	if filter.UserID == uuid.Nil {
		return nil, opErr(op, OperationErrorValidation, "filter user id required", nil)
	}

	out := map[vectorstore.VectorKey][]float32{}
	var offset json.RawMessage
	for {
		req := map[string]any{
			"filter":       translateFilter(filter),
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if len(offset) > 0 && string(offset) != "null" {
			req["offset"] = offset
		}
		var page scrollResult
		if err := c.doJSON(ctx, op, http.MethodPost, c.collectionPath("/points/scroll"), req, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Points {
			key, ok := vectorKeyFromPayload(item.Payload)
			if !ok || len(item.Vector) == 0 {
				continue
			}
			out[key] = item.Vector
		}
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" {
			break
		}
		offset = page.NextPageOffset
	}
	return out, nil
}

func vectorKeyFromPayload(payload map[string]any) (vectorstore.VectorKey, bool) {
	rawVideo, ok := payload[vectorstore.PayloadVideoID].(string)
	if !ok {
		return vectorstore.VectorKey{}, false
	}
	videoID, err := uuid.Parse(rawVideo)
	if err != nil {
		return vectorstore.VectorKey{}, false
	}
	idx, ok := payload[vectorstore.PayloadChunkIndex].(float64)
	if !ok {
		return vectorstore.VectorKey{}, false
	}
	return vectorstore.VectorKey{VideoID: videoID, ChunkIndex: int(idx)}, true
}

func (c *client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") || strings.EqualFold(statusString, "acknowledged") || strings.EqualFold(statusString, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func (c *client) collectionPath(suffix string) string {
	path := "/collections/" + c.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}
