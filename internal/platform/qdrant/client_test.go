package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/platform/vectorstore"
)

func TestUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/video_chunks/points" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: got=%q", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	videoID := uuid.New()
	err := c.Upsert(context.Background(), []vectorstore.Point{
		{
			ID:     vectorstore.PointID(videoID, 0),
			Vector: []float32{1, 2, 3},
			Payload: map[string]any{
				vectorstore.PayloadVideoID:    videoID.String(),
				vectorstore.PayloadChunkIndex: 0,
			},
		},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 1 {
		t.Fatalf("points: got=%v", captured["points"])
	}
	first := points[0].(map[string]any)
	if first["id"] != vectorstore.PointID(videoID, 0) {
		t.Fatalf("point id: got=%v", first["id"])
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	c.dim = 3

	err := c.Upsert(context.Background(), []vectorstore.Point{
		{ID: "p", Vector: []float32{1, 2}},
	})
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("want validation error, got=%v", err)
	}
}

func TestSearchOrdersAndScopesByUser(t *testing.T) {
	userID := uuid.New()
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/video_chunks/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "low", "score": 0.2, "payload": map[string]any{}},
			{"id": "high", "score": 0.9, "payload": map[string]any{}},
		}), nil
	})

	matches, err := c.Search(context.Background(), []float32{1, 2, 3}, vectorstore.Filter{UserID: userID}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].ID != "high" || matches[1].ID != "low" {
		t.Fatalf("ordering: got=%v", []string{matches[0].ID, matches[1].ID})
	}

	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	userCond := must[0].(map[string]any)
	if userCond["key"] != vectorstore.PayloadUserID {
		t.Fatalf("first condition key: got=%v", userCond["key"])
	}
	matchVal := userCond["match"].(map[string]any)
	if matchVal["value"] != userID.String() {
		t.Fatalf("user condition value: got=%v", matchVal["value"])
	}
	if captured["with_vector"] != false {
		t.Fatalf("plain search must not request vectors")
	}
}

func TestSearchRequiresUserScope(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := c.Search(context.Background(), []float32{1}, vectorstore.Filter{}, 5)
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("want validation error, got=%v", err)
	}
}

func TestSearchWithDiversityPrefetchesWithVectors(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "a", "score": 0.9, "vector": []float32{1, 0}, "payload": map[string]any{vectorstore.PayloadVideoID: "v1"}},
			{"id": "b", "score": 0.8, "vector": []float32{1, 0}, "payload": map[string]any{vectorstore.PayloadVideoID: "v1"}},
			{"id": "c", "score": 0.5, "vector": []float32{0, 1}, "payload": map[string]any{vectorstore.PayloadVideoID: "v2"}},
		}), nil
	})

	matches, err := c.SearchWithDiversity(context.Background(), []float32{1, 0}, vectorstore.Filter{UserID: uuid.New()}, 2, 0.6)
	if err != nil {
		t.Fatalf("SearchWithDiversity: %v", err)
	}
	if captured["with_vector"] != true {
		t.Fatalf("diversity search must request vectors")
	}
	if int(captured["limit"].(float64)) != searchPrefetch {
		t.Fatalf("prefetch: want=%d got=%v", searchPrefetch, captured["limit"])
	}
	if len(matches) != 2 || matches[0].ID != "a" || matches[1].ID != "c" {
		t.Fatalf("diversity selection: got=%v", matches)
	}
}

func TestDeleteByFilterBody(t *testing.T) {
	userID := uuid.New()
	videoID := uuid.New()
	var captured map[string]any
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/video_chunks/points/delete" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := c.DeleteByFilter(context.Background(), vectorstore.Filter{UserID: userID, VideoIDs: []uuid.UUID{videoID}})
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	filter := captured["filter"].(map[string]any)
	must := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("must length: want=2 got=%d", len(must))
	}
	videoCond := must[1].(map[string]any)
	anyVals := videoCond["match"].(map[string]any)["any"].([]any)
	if len(anyVals) != 1 || anyVals[0] != videoID.String() {
		t.Fatalf("video condition: got=%v", anyVals)
	}
}

func TestFetchVectorsFollowsScrollPages(t *testing.T) {
	userID := uuid.New()
	videoID := uuid.New()
	calls := 0
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/video_chunks/points/scroll" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		calls++
		switch calls {
		case 1:
			if _, hasOffset := body["offset"]; hasOffset {
				t.Fatalf("first page must not carry an offset")
			}
			return okResponse(t, map[string]any{
				"points": []map[string]any{
					{
						"id":     "p0",
						"vector": []float32{1, 0},
						"payload": map[string]any{
							vectorstore.PayloadVideoID:    videoID.String(),
							vectorstore.PayloadChunkIndex: 0,
						},
					},
				},
				"next_page_offset": "cursor-1",
			}), nil
		default:
			if body["offset"] != "cursor-1" {
				t.Fatalf("offset: want=cursor-1 got=%v", body["offset"])
			}
			return okResponse(t, map[string]any{
				"points": []map[string]any{
					{
						"id":     "p1",
						"vector": []float32{0, 1},
						"payload": map[string]any{
							vectorstore.PayloadVideoID:    videoID.String(),
							vectorstore.PayloadChunkIndex: 1,
						},
					},
				},
				"next_page_offset": nil,
			}), nil
		}
	})

	vecs, err := c.FetchVectors(context.Background(), vectorstore.Filter{UserID: userID, VideoIDs: []uuid.UUID{videoID}})
	if err != nil {
		t.Fatalf("FetchVectors: %v", err)
	}
	if calls != 2 {
		t.Fatalf("scroll calls: want=2 got=%d", calls)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors: want=2 got=%d", len(vecs))
	}
	if v := vecs[vectorstore.VectorKey{VideoID: videoID, ChunkIndex: 1}]; len(v) != 2 || v[1] != 1 {
		t.Fatalf("vector for chunk 1: got=%v", v)
	}
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var createBody map[string]any
	calls := 0
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		calls++
		switch calls {
		case 1:
			if r.Method != http.MethodGet {
				t.Fatalf("first call method: got=%s", r.Method)
			}
			return errorResponse(t, http.StatusNotFound, "collection not found"), nil
		default:
			if r.Method != http.MethodPut {
				t.Fatalf("create method: got=%s", r.Method)
			}
			if err := json.NewDecoder(r.Body).Decode(&createBody); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			return okResponse(t, true), nil
		}
	})

	if err := c.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	vectors := createBody["vectors"].(map[string]any)
	if int(vectors["size"].(float64)) != 1536 || vectors["distance"] != "Cosine" {
		t.Fatalf("create body: got=%v", createBody)
	}
	if c.dim != 1536 {
		t.Fatalf("dim not recorded: got=%d", c.dim)
	}
}

func TestEnsureCollectionRejectsDimensionDrift(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return okResponse(t, map[string]any{
			"config": map[string]any{
				"params": map[string]any{
					"vectors": map[string]any{"size": 768, "distance": "Cosine"},
				},
			},
		}), nil
	})

	err := c.EnsureCollection(context.Background(), 1536)
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("want validation error, got=%v", err)
	}
}

func TestClassifyHTTPCallErrorTimeout(t *testing.T) {
	err := classifyHTTPCallError("search", "timeout", context.DeadlineExceeded)
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorTimeout {
		t.Fatalf("want timeout error, got=%v", err)
	}
}

func TestClassifyHTTPCallErrorTransport(t *testing.T) {
	err := classifyHTTPCallError("search", "transport", fmt.Errorf("boom"))
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorTransportFailed {
		t.Fatalf("want transport error, got=%v", err)
	}
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *client {
	t.Helper()
	return &client{
		log:     newTestLogger(t),
		cfg:     Config{URL: "http://qdrant.local", Collection: "video_chunks"},
		baseURL: "http://qdrant.local",
		http:    &http.Client{Transport: roundTripFunc(roundTrip)},
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func errorResponse(t *testing.T, status int, message string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"status": map[string]any{"error": message}})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
