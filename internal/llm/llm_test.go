package llm

import (
	"context"
	"testing"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

func TestRouteModel(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"llama3:8b", ProviderOllama},
		{"qwen2.5:14b-instruct", ProviderOllama},
		{"claude-3-5-haiku-20241022", ProviderAnthropic},
		{"Claude-Sonnet", ProviderAnthropic},
		{"gpt-4o-mini", ProviderOpenAI},
		{"GPT-4.1", ProviderOpenAI},
		{"mistral-large", ProviderAnthropic},
		{"", ProviderAnthropic},
	}
	for _, tc := range cases {
		got := routeModel(tc.model, ProviderAnthropic)
		if got != tc.want {
			t.Errorf("routeModel(%q): want=%s got=%s", tc.model, tc.want, got)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"bare array", `[1,2]`, `[1,2]`},
		{"fenced with tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without tag", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose before fence", "Here you go:\n```json\n{\"a\":1}\n```\nEnjoy!", `{"a":1}`},
		{"prose around object", `The result is {"a":1} as requested.`, `{"a":1}`},
		{"prose around array", `Items: ["x","y"] found.`, `["x","y"]`},
		{"whitespace", "  \n {\"a\":1} \n ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := ExtractJSON(tc.in); got != tc.want {
			t.Errorf("%s: want=%q got=%q", tc.name, tc.want, got)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Title    string   `json:"title"`
		Keywords []string `json:"keywords"`
	}
	content := "```json\n{\"title\":\"Intro\",\"keywords\":[\"go\",\"testing\"]}\n```"
	if err := DecodeJSON(content, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Title != "Intro" || len(out.Keywords) != 2 {
		t.Fatalf("decoded: %+v", out)
	}

	if err := DecodeJSON("not json at all", &out); err == nil {
		t.Fatalf("want error for non-JSON content")
	}
	if err := DecodeJSON("", &out); err == nil {
		t.Fatalf("want error for empty content")
	}
}

type fakeProvider struct {
	calls   int
	lastReq request
	comp    Completion
	deltas  []string
	err     error
}

func (f *fakeProvider) Complete(ctx context.Context, req request) (*Completion, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	c := f.comp
	return &c, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req request, onDelta func(string)) (*Completion, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	c := f.comp
	return &c, nil
}

func newTestRouter(t *testing.T) (*router, *fakeProvider, *fakeProvider, *fakeProvider) {
	t.Helper()
	openai := &fakeProvider{comp: Completion{Content: "from openai", Model: "gpt-4o-mini"}}
	anthropic := &fakeProvider{comp: Completion{Content: "from anthropic", Model: "claude-3-5-haiku-20241022"}}
	ollama := &fakeProvider{comp: Completion{Content: "from ollama", Model: "llama3:8b"}}
	r := &router{
		log:             newTestLogger(t),
		defaultProvider: ProviderOpenAI,
		defaultModel:    "gpt-4o-mini",
		temperature:     0.3,
		maxTokens:       1024,
		providers: map[string]provider{
			ProviderOpenAI:    openai,
			ProviderAnthropic: anthropic,
			ProviderOllama:    ollama,
		},
	}
	return r, openai, anthropic, ollama
}

func TestCompleteRoutesByModelName(t *testing.T) {
	r, openai, anthropic, ollama := newTestRouter(t)
	msgs := []Message{{Role: RoleUser, Content: "hi"}}

	if _, err := r.Complete(context.Background(), msgs, Options{Model: "claude-3-5-haiku-20241022"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if anthropic.calls != 1 || openai.calls != 0 || ollama.calls != 0 {
		t.Fatalf("calls: openai=%d anthropic=%d ollama=%d", openai.calls, anthropic.calls, ollama.calls)
	}

	if _, err := r.Complete(context.Background(), msgs, Options{Model: "llama3:8b"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if ollama.calls != 1 {
		t.Fatalf("ollama calls: %d", ollama.calls)
	}

	// Unrecognized names fall through to the configured default.
	if _, err := r.Complete(context.Background(), msgs, Options{Model: "mystery-model"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if openai.calls != 1 {
		t.Fatalf("openai calls: %d", openai.calls)
	}
}

func TestCompleteAppliesDefaults(t *testing.T) {
	r, openai, _, _ := newTestRouter(t)

	comp, err := r.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	req := openai.lastReq
	if req.Model != "gpt-4o-mini" {
		t.Fatalf("model: got=%q", req.Model)
	}
	if req.Temperature != 0.3 {
		t.Fatalf("temperature: got=%v", req.Temperature)
	}
	if req.MaxTokens != 1024 {
		t.Fatalf("max tokens: got=%d", req.MaxTokens)
	}
	if !req.Retry {
		t.Fatalf("retry should default on")
	}
	if comp.Provider != ProviderOpenAI {
		t.Fatalf("provider: got=%q", comp.Provider)
	}
}

func TestCompleteHonorsOverrides(t *testing.T) {
	r, _, anthropic, _ := newTestRouter(t)
	temp := 0.9

	_, err := r.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{
		Model:        "claude-3-5-haiku-20241022",
		Temperature:  &temp,
		MaxTokens:    256,
		DisableRetry: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	req := anthropic.lastReq
	if req.Temperature != 0.9 {
		t.Fatalf("temperature: got=%v", req.Temperature)
	}
	if req.MaxTokens != 256 {
		t.Fatalf("max tokens: got=%d", req.MaxTokens)
	}
	if req.Retry {
		t.Fatalf("retry should be disabled")
	}
}

func TestCompleteComputesTotalTokens(t *testing.T) {
	r, openai, _, _ := newTestRouter(t)
	openai.comp.Usage = Usage{InputTokens: 7, OutputTokens: 5}

	comp, err := r.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Usage.TotalTokens != 12 {
		t.Fatalf("total tokens: got=%d", comp.Usage.TotalTokens)
	}
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	if _, err := r.Complete(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("want error for empty messages")
	}
}

func TestStreamDeliversDeltas(t *testing.T) {
	r, openai, _, _ := newTestRouter(t)
	openai.deltas = []string{"Hel", "lo"}
	openai.comp = Completion{Content: "Hello", Model: "gpt-4o-mini", FinishReason: "stop"}

	var got []string
	comp, err := r.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{}, func(d string) {
		got = append(got, d)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Fatalf("deltas: %v", got)
	}
	if comp.Content != "Hello" || comp.Provider != ProviderOpenAI {
		t.Fatalf("completion: %+v", comp)
	}
}

func TestCompleteTextAndJSONHelpers(t *testing.T) {
	r, openai, _, _ := newTestRouter(t)
	openai.comp = Completion{Content: "```json\n{\"ok\":true}\n```", Model: "gpt-4o-mini"}

	text, err := CompleteText(context.Background(), r, "be terse", "say ok", Options{})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if text == "" {
		t.Fatalf("empty text")
	}
	if len(openai.lastReq.Messages) != 2 || openai.lastReq.Messages[0].Role != RoleSystem {
		t.Fatalf("messages: %+v", openai.lastReq.Messages)
	}

	var out struct {
		OK bool `json:"ok"`
	}
	if err := CompleteJSON(context.Background(), r, "", "emit json", Options{}, &out); err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("decoded: %+v", out)
	}
	// Without a system prompt the exchange is a single user turn.
	if len(openai.lastReq.Messages) != 1 || openai.lastReq.Messages[0].Role != RoleUser {
		t.Fatalf("messages: %+v", openai.lastReq.Messages)
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
