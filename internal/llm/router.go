package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// router dispatches each call to a provider chosen from the model name,
// filling in configured defaults for model, temperature, and max tokens.
type router struct {
	log             *logger.Logger
	providers       map[string]provider
	defaultProvider string
	defaultModel    string
	temperature     float64
	maxTokens       int
}

// New builds the routed client from the environment. Provider credentials
// are checked lazily at call time so a deployment only has to configure the
// providers it actually routes to.
func New(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	defaultProvider := strings.ToLower(envutil.Str("LLM_PROVIDER", ProviderOpenAI))
	hc := &http.Client{Timeout: time.Duration(envutil.Int("LLM_TIMEOUT_SECONDS", 180)) * time.Second}
	maxAttempts := envutil.Int("LLM_MAX_ATTEMPTS", 3)
	log = log.With("service", "LLMRouter")

	r := &router{
		log:             log,
		defaultProvider: defaultProvider,
		defaultModel:    envutil.Str("LLM_MODEL", "gpt-4o-mini"),
		temperature:     envutil.Float("LLM_TEMPERATURE", 0.3),
		maxTokens:       envutil.Int("LLM_MAX_TOKENS", 1024),
		providers: map[string]provider{
			ProviderOpenAI:    newOpenAIProvider(log, hc, maxAttempts),
			ProviderAnthropic: newAnthropicProvider(log, hc, maxAttempts),
			ProviderOllama:    newOllamaProvider(log, hc, maxAttempts),
		},
	}
	if _, ok := r.providers[defaultProvider]; !ok {
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", defaultProvider)
	}
	return r, nil
}

// routeModel picks the provider for a model name. Local runtimes tag their
// models with a ":" (llama3:8b), hosted models carry a vendor prefix.
func routeModel(model, fallback string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.Contains(m, ":"):
		return ProviderOllama
	case strings.HasPrefix(m, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gpt-"):
		return ProviderOpenAI
	default:
		return fallback
	}
}

func (r *router) resolve(messages []Message, opts Options) (request, provider, string, error) {
	if len(messages) == 0 {
		return request{}, nil, "", fmt.Errorf("no messages")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = r.defaultModel
	}
	name := routeModel(model, r.defaultProvider)
	p, ok := r.providers[name]
	if !ok {
		return request{}, nil, "", fmt.Errorf("no provider for model %q", model)
	}
	temp := r.temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.maxTokens
	}
	req := request{
		Model:       model,
		Messages:    messages,
		Temperature: temp,
		MaxTokens:   maxTokens,
		Retry:       !opts.DisableRetry,
	}
	return req, p, name, nil
}

func (r *router) Complete(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	req, p, name, err := r.resolve(messages, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	comp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s completion failed: %w", name, err)
	}
	comp.Provider = name
	comp.Elapsed = time.Since(start)
	if comp.Usage.TotalTokens == 0 {
		comp.Usage.TotalTokens = comp.Usage.InputTokens + comp.Usage.OutputTokens
	}
	return comp, nil
}

func (r *router) Stream(ctx context.Context, messages []Message, opts Options, onDelta func(string)) (*Completion, error) {
	req, p, name, err := r.resolve(messages, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	comp, err := p.Stream(ctx, req, onDelta)
	if err != nil {
		return nil, fmt.Errorf("%s stream failed: %w", name, err)
	}
	comp.Provider = name
	comp.Elapsed = time.Since(start)
	if comp.Usage.TotalTokens == 0 {
		comp.Usage.TotalTokens = comp.Usage.InputTokens + comp.Usage.OutputTokens
	}
	return comp, nil
}
