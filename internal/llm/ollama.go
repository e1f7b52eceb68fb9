package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const ollamaChatPath = "/api/chat"

type ollamaProvider struct {
	caller
	baseURL string
}

func newOllamaProvider(log *logger.Logger, hc *http.Client, maxAttempts int) *ollamaProvider {
	return &ollamaProvider{
		caller: caller{
			log:         log.With("provider", ProviderOllama),
			name:        ProviderOllama,
			http:        hc,
			maxAttempts: maxAttempts,
		},
		baseURL: strings.TrimRight(envutil.Str("OLLAMA_BASE_URL", "http://localhost:11434"), "/"),
	}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *ollamaProvider) buildRequest(req request, stream bool) ollamaChatRequest {
	return ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

func (p *ollamaProvider) Complete(ctx context.Context, req request) (*Completion, error) {
	body := p.buildRequest(req, false)
	raw, err := p.post(ctx, p.baseURL+ollamaChatPath, nil, body, req.Model, ollamaChatPath, req.Retry)
	if err != nil {
		return nil, err
	}
	var out ollamaChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ollama decode error: %w; raw=%s", err, truncateBody(raw))
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		Content:      out.Message.Content,
		Model:        model,
		Provider:     ProviderOllama,
		FinishReason: out.DoneReason,
		Usage: Usage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
			TotalTokens:  out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// Stream reads the chat endpoint's JSON-lines response: one object per
// chunk, the final one carrying done=true plus eval counts.
func (p *ollamaProvider) Stream(ctx context.Context, req request, onDelta func(string)) (*Completion, error) {
	body := p.buildRequest(req, true)
	start := time.Now()
	resp, err := p.openStream(ctx, p.baseURL+ollamaChatPath, nil, body)
	if err != nil {
		p.observeStream(req.Model, ollamaChatPath, start, Usage{}, err)
		return nil, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	comp := &Completion{Model: req.Model, Provider: ProviderOllama}
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			p.observeStream(comp.Model, ollamaChatPath, start, comp.Usage, err)
			return nil, fmt.Errorf("ollama stream decode error: %w", err)
		}
		if chunk.Model != "" {
			comp.Model = chunk.Model
		}
		if d := chunk.Message.Content; d != "" {
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
		if chunk.Done {
			comp.FinishReason = chunk.DoneReason
			comp.Usage = Usage{
				InputTokens:  chunk.PromptEvalCount,
				OutputTokens: chunk.EvalCount,
				TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
			}
			break
		}
	}
	p.observeStream(comp.Model, ollamaChatPath, start, comp.Usage, nil)
	comp.Content = full.String()
	return comp, nil
}
