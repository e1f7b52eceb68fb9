package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const openaiChatPath = "/v1/chat/completions"

type openaiProvider struct {
	caller
	baseURL string
	apiKey  string
}

func newOpenAIProvider(log *logger.Logger, hc *http.Client, maxAttempts int) *openaiProvider {
	return &openaiProvider{
		caller: caller{
			log:         log.With("provider", ProviderOpenAI),
			name:        ProviderOpenAI,
			http:        hc,
			maxAttempts: maxAttempts,
		},
		baseURL: strings.TrimRight(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		apiKey:  strings.TrimSpace(envutil.Str("OPENAI_API_KEY", "")),
	}
}

func (p *openaiProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

type openaiChatRequest struct {
	Model         string               `json:"model"`
	Messages      []Message            `json:"messages"`
	Temperature   float64              `json:"temperature"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

func (p *openaiProvider) Complete(ctx context.Context, req request) (*Completion, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	body := openaiChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	raw, err := p.post(ctx, p.baseURL+openaiChatPath, p.headers(), body, req.Model, openaiChatPath, req.Retry)
	if err != nil {
		return nil, err
	}
	var out openaiChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("openai decode error: %w; raw=%s", err, truncateBody(raw))
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		Content:      out.Choices[0].Message.Content,
		Model:        model,
		Provider:     ProviderOpenAI,
		FinishReason: out.Choices[0].FinishReason,
		Usage: Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

func (p *openaiProvider) Stream(ctx context.Context, req request, onDelta func(string)) (*Completion, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	body := openaiChatRequest{
		Model:         req.Model,
		Messages:      req.Messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openaiStreamOptions{IncludeUsage: true},
	}
	start := time.Now()
	resp, err := p.openStream(ctx, p.baseURL+openaiChatPath, p.headers(), body)
	if err != nil {
		p.observeStream(req.Model, openaiChatPath, start, Usage{}, err)
		return nil, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	comp := &Completion{Model: req.Model, Provider: ProviderOpenAI}
	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Model != "" {
			comp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			comp.Usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) > 0 {
			if d := chunk.Choices[0].Delta.Content; d != "" {
				full.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}
			if fr := chunk.Choices[0].FinishReason; fr != "" {
				comp.FinishReason = fr
			}
		}
		return nil
	})
	p.observeStream(comp.Model, openaiChatPath, start, comp.Usage, err)
	if err != nil {
		return nil, err
	}
	comp.Content = full.String()
	return comp, nil
}
