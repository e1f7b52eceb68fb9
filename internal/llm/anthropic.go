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

const (
	anthropicMessagesPath = "/v1/messages"
	anthropicVersion      = "2023-06-01"
)

type anthropicProvider struct {
	caller
	baseURL string
	apiKey  string
}

func newAnthropicProvider(log *logger.Logger, hc *http.Client, maxAttempts int) *anthropicProvider {
	return &anthropicProvider{
		caller: caller{
			log:         log.With("provider", ProviderAnthropic),
			name:        ProviderAnthropic,
			http:        hc,
			maxAttempts: maxAttempts,
		},
		baseURL: strings.TrimRight(envutil.Str("ANTHROPIC_BASE_URL", "https://api.anthropic.com"), "/"),
		apiKey:  strings.TrimSpace(envutil.Str("ANTHROPIC_API_KEY", "")),
	}
}

func (p *anthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

type anthropicChatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicChatResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

// splitSystem lifts system turns into the top-level system field the
// messages API requires; remaining turns pass through in order.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// normalizeStopReason maps the messages API vocabulary onto the
// OpenAI-style one the rest of the codebase checks against.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func (p *anthropicProvider) buildRequest(req request, stream bool) anthropicChatRequest {
	system, rest := splitSystem(req.Messages)
	body := anthropicChatRequest{
		Model:       req.Model,
		System:      system,
		Messages:    rest,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 1024
	}
	return body
}

func (p *anthropicProvider) Complete(ctx context.Context, req request) (*Completion, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	body := p.buildRequest(req, false)
	raw, err := p.post(ctx, p.baseURL+anthropicMessagesPath, p.headers(), body, req.Model, anthropicMessagesPath, req.Retry)
	if err != nil {
		return nil, err
	}
	var out anthropicChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("anthropic decode error: %w; raw=%s", err, truncateBody(raw))
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &Completion{
		Content:      text.String(),
		Model:        model,
		Provider:     ProviderAnthropic,
		FinishReason: normalizeStopReason(out.StopReason),
		Usage: Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

// Stream event payloads. The messages API names events explicitly:
// message_start carries input usage, content_block_delta the text,
// message_delta the stop reason and output usage.
type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicProvider) Stream(ctx context.Context, req request, onDelta func(string)) (*Completion, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	body := p.buildRequest(req, true)
	start := time.Now()
	resp, err := p.openStream(ctx, p.baseURL+anthropicMessagesPath, p.headers(), body)
	if err != nil {
		p.observeStream(req.Model, anthropicMessagesPath, start, Usage{}, err)
		return nil, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	comp := &Completion{Model: req.Model, Provider: ProviderAnthropic}
	err = streamSSE(resp.Body, func(_ string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" {
			return nil
		}
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				if ev.Message.Model != "" {
					comp.Model = ev.Message.Model
				}
				comp.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				full.WriteString(ev.Delta.Text)
				if onDelta != nil {
					onDelta(ev.Delta.Text)
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				comp.FinishReason = normalizeStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				comp.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "error":
			if ev.Error != nil {
				return fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}
			return fmt.Errorf("anthropic stream error: %s", data)
		}
		return nil
	})
	comp.Usage.TotalTokens = comp.Usage.InputTokens + comp.Usage.OutputTokens
	p.observeStream(comp.Model, anthropicMessagesPath, start, comp.Usage, err)
	if err != nil {
		return nil, err
	}
	comp.Content = full.String()
	return comp, nil
}
