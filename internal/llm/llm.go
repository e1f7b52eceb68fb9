package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat exchange, in the shape every supported
// provider accepts.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Completion is the normalized result of a chat call, independent of which
// provider served it.
type Completion struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Usage        Usage         `json:"usage"`
	FinishReason string        `json:"finish_reason"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Options tune a single call. Zero values fall back to the configured
// defaults; DisableRetry turns the transport retry loop off for callers
// that would rather fail fast.
type Options struct {
	Model        string
	Temperature  *float64
	MaxTokens    int
	DisableRetry bool
}

// Client routes chat completions to a model provider.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error)
	Stream(ctx context.Context, messages []Message, opts Options, onDelta func(delta string)) (*Completion, error)
}

// CompleteText runs a plain system+user exchange and returns the text.
func CompleteText(ctx context.Context, c Client, system, user string, opts Options) (string, error) {
	var msgs []Message
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	comp, err := c.Complete(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	return comp.Content, nil
}

// CompleteJSON runs the exchange and decodes the response into out,
// tolerating markdown fences and prose around the payload.
func CompleteJSON(ctx context.Context, c Client, system, user string, opts Options, out any) error {
	text, err := CompleteText(ctx, c, system, user, opts)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}

// DecodeJSON parses a model response as JSON. Models frequently wrap JSON
// in ```json fences or lead with a sentence, so the payload is extracted
// before unmarshaling.
func DecodeJSON(content string, out any) error {
	payload := ExtractJSON(content)
	if payload == "" {
		return fmt.Errorf("empty model response")
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return nil
}

// ExtractJSON returns the JSON payload inside a model response: the body of
// the first code fence when present, otherwise the outermost object or
// array when prose surrounds it.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		rest = strings.TrimSpace(rest)
		// Language tag on the opening fence. JSON itself never starts
		// with a letter so the trim is safe.
		rest = strings.TrimPrefix(rest, "json")
		s = strings.TrimSpace(rest)
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	if a := strings.IndexByte(s, '{'); a >= 0 {
		if b := strings.LastIndexByte(s, '}'); b > a {
			return s[a : b+1]
		}
	}
	if a := strings.IndexByte(s, '['); a >= 0 {
		if b := strings.LastIndexByte(s, ']'); b > a {
			return s[a : b+1]
		}
	}
	return s
}
