package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/pkg/httpx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	retryBaseBackoff  = 1 * time.Second
	retryMaxBackoff   = 10 * time.Second
	maxErrorBodyBytes = 2048
)

type httpError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// request is the provider-independent call a provider turns into its wire
// format. MaxTokens and Temperature are always resolved by the router.
type request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Retry       bool
}

type provider interface {
	Complete(ctx context.Context, req request) (*Completion, error)
	Stream(ctx context.Context, req request, onDelta func(delta string)) (*Completion, error)
}

// caller holds the HTTP mechanics shared by every provider: one-shot JSON
// POSTs, the retry loop, and stream opening.
type caller struct {
	log         *logger.Logger
	name        string
	http        *http.Client
	maxAttempts int
}

func (c *caller) postOnce(ctx context.Context, url string, headers map[string]string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &httpError{Provider: c.name, StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return resp, raw, nil
}

// post runs the call with transport-level retries. Attempts beyond the
// first happen only for retryable failures (timeouts, connection errors,
// 408/429/5xx), honoring Retry-After when the provider sends one.
func (c *caller) post(ctx context.Context, url string, headers map[string]string, body any, model, endpoint string, retry bool) ([]byte, error) {
	maxAttempts := c.maxAttempts
	if !retry || maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := retryBaseBackoff
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.postOnce(ctx, url, headers, body)
		if err == nil {
			if metrics := observability.Current(); metrics != nil {
				in, out := usageFromRaw(raw)
				metrics.ObserveLLMRequest(model, endpoint, statusFromResp(resp), time.Since(start), in, out)
			}
			return raw, nil
		}

		if !httpx.IsRetryableError(err) || attempt == maxAttempts {
			if metrics := observability.Current(); metrics != nil {
				metrics.ObserveLLMRequest(model, endpoint, statusFromRespErr(resp, err), time.Since(start), 0, 0)
			}
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, retryMaxBackoff)
		sleepFor = httpx.JitterSleep(sleepFor)
		c.log.Warn("llm request retrying",
			"provider", c.name,
			"endpoint", endpoint,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

// openStream POSTs the request and hands back the live response body.
// Streams get a single attempt: replaying after a mid-stream failure would
// duplicate deltas the caller already saw.
func (c *caller) openStream(ctx context.Context, url string, headers map[string]string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &httpError{Provider: c.name, StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return resp, nil
}

func (c *caller) observeStream(model, endpoint string, start time.Time, usage Usage, err error) {
	metrics := observability.Current()
	if metrics == nil {
		return
	}
	status := "200"
	if err != nil {
		status = statusFromRespErr(nil, err)
	}
	metrics.ObserveLLMRequest(model, endpoint, status, time.Since(start), usage.InputTokens, usage.OutputTokens)
}

func truncateBody(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBodyBytes {
		return s[:maxErrorBodyBytes] + "...(truncated)"
	}
	return s
}

func statusFromResp(resp *http.Response) string {
	if resp == nil {
		return "unknown"
	}
	return strconv.Itoa(resp.StatusCode)
}

func statusFromRespErr(resp *http.Response, err error) string {
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	var he *httpError
	if err != nil && errors.As(err, &he) {
		return strconv.Itoa(he.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// usageFromRaw pulls token counts out of a raw response body for the
// metrics hook. Accepts both the input/output and prompt/completion
// spellings.
func usageFromRaw(raw []byte) (int, int) {
	if len(raw) == 0 {
		return 0, 0
	}
	var payload struct {
		Usage map[string]any `json:"usage"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Usage == nil {
		return 0, 0
	}
	in := intFromAny(payload.Usage["input_tokens"])
	out := intFromAny(payload.Usage["output_tokens"])
	if in == 0 && out == 0 {
		in = intFromAny(payload.Usage["prompt_tokens"])
		out = intFromAny(payload.Usage["completion_tokens"])
	}
	return in, out
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
