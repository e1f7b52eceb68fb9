package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/memory"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/query/intent"
	"github.com/yungbote/vidscribe-backend/internal/query/retrieve"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

type fakeConversations struct {
	rows     map[uuid.UUID]*types.Conversation
	counters []int
}

func (f *fakeConversations) Create(_ dbctx.Context, convs []*types.Conversation) ([]*types.Conversation, error) {
	for _, c := range convs {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if f.rows == nil {
			f.rows = map[uuid.UUID]*types.Conversation{}
		}
		f.rows[c.ID] = c
	}
	return convs, nil
}
func (f *fakeConversations) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	return f.rows[id], nil
}
func (f *fakeConversations) GetByUserAndID(_ dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error) {
	c := f.rows[id]
	if c == nil || c.UserID != userID {
		return nil, nil
	}
	return c, nil
}
func (f *fakeConversations) ListByUser(dbctx.Context, uuid.UUID, int, int) ([]*types.Conversation, error) {
	return nil, nil
}
func (f *fakeConversations) ListIdleSince(dbctx.Context, time.Time, int) ([]*types.Conversation, error) {
	return nil, nil
}
func (f *fakeConversations) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}
func (f *fakeConversations) IncrementCounters(_ dbctx.Context, _ uuid.UUID, messageDelta, tokenDelta int) error {
	f.counters = append(f.counters, messageDelta, tokenDelta)
	return nil
}

type fakeMessages struct {
	created []*types.Message
	recent  []*types.Message
}

func (f *fakeMessages) Create(_ dbctx.Context, msgs []*types.Message) ([]*types.Message, error) {
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
	}
	f.created = append(f.created, msgs...)
	return msgs, nil
}
func (f *fakeMessages) ListByConversation(dbctx.Context, uuid.UUID, int, int) ([]*types.Message, error) {
	return f.created, nil
}
func (f *fakeMessages) ListRecent(dbctx.Context, uuid.UUID, int) ([]*types.Message, error) {
	return f.recent, nil
}
func (f *fakeMessages) CountByConversation(dbctx.Context, uuid.UUID) (int64, error) {
	return int64(len(f.created)), nil
}

type fakeChunkRefs struct {
	created []*types.MessageChunkRef
}

func (f *fakeChunkRefs) Create(_ dbctx.Context, refs []*types.MessageChunkRef) ([]*types.MessageChunkRef, error) {
	f.created = append(f.created, refs...)
	return refs, nil
}
func (f *fakeChunkRefs) ListByMessageIDs(dbctx.Context, []uuid.UUID) ([]*types.MessageChunkRef, error) {
	return f.created, nil
}

type fakeQuota struct {
	checkErr error
	tracked  int
}

func (f *fakeQuota) Current(dbctx.Context, uuid.UUID) (*types.UserQuota, error) { return nil, nil }
func (f *fakeQuota) Check(dbctx.Context, uuid.UUID, quota.Kind, float64) error  { return f.checkErr }
func (f *fakeQuota) TrackVideoIngestion(dbctx.Context, uuid.UUID, float64, float64, uuid.UUID) error {
	return nil
}
func (f *fakeQuota) TrackTranscription(dbctx.Context, uuid.UUID, float64) error { return nil }
func (f *fakeQuota) TrackChatMessage(dbctx.Context, uuid.UUID) error {
	f.tracked++
	return nil
}
func (f *fakeQuota) TrackEmbeddingGeneration(dbctx.Context, uuid.UUID, int64) error { return nil }
func (f *fakeQuota) TrackStorage(dbctx.Context, uuid.UUID, float64, string, *uuid.UUID) error {
	return nil
}
func (f *fakeQuota) OverwriteStorage(dbctx.Context, uuid.UUID, float64) error { return nil }

type fakeClassifier struct{ result intent.Result }

func (f *fakeClassifier) Classify(context.Context, intent.Request) intent.Result { return f.result }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dims() int       { return 3 }
func (fakeEmbedder) ModelID() string { return "fake-embedder" }

type fakeRetriever struct {
	result *retrieve.Result
	gotReq retrieve.Request
}

func (f *fakeRetriever) Retrieve(_ dbctx.Context, req retrieve.Request) (*retrieve.Result, error) {
	f.gotReq = req
	return f.result, nil
}

type fakeMemory struct {
	extracted int
}

func (f *fakeMemory) Extract(dbctx.Context, *types.Conversation, string, string) ([]*types.ConversationFact, error) {
	f.extracted++
	return nil, nil
}
func (f *fakeMemory) Select(dbctx.Context, uuid.UUID, int) ([]*types.ConversationFact, error) {
	return []*types.ConversationFact{
		{Key: "user_name", Value: "Ada", Category: types.FactCategoryIdentity, SourceTurn: 1},
	}, nil
}
func (f *fakeMemory) Consolidate(dbctx.Context, uuid.UUID, bool) (*memory.ConsolidationReport, error) {
	return &memory.ConsolidationReport{}, nil
}
func (f *fakeMemory) ConsolidateIdle(dbctx.Context, time.Duration) (int, error) { return 0, nil }

type fakeLLM struct {
	lastMessages []llm.Message
	streamed     bool
}

func (f *fakeLLM) Complete(_ context.Context, msgs []llm.Message, _ llm.Options) (*llm.Completion, error) {
	f.lastMessages = msgs
	return &llm.Completion{
		Content:  "Creativity is discussed in [Source 1].",
		Model:    "gpt-4o-mini",
		Provider: "openai",
		Usage:    llm.Usage{InputTokens: 120, OutputTokens: 30, TotalTokens: 150},
	}, nil
}
func (f *fakeLLM) Stream(ctx context.Context, msgs []llm.Message, opts llm.Options, onDelta func(string)) (*llm.Completion, error) {
	f.streamed = true
	onDelta("Creativity ")
	onDelta("is discussed.")
	return f.Complete(ctx, msgs, opts)
}

type turnFixture struct {
	svc           Service
	conversations *fakeConversations
	messages      *fakeMessages
	refs          *fakeChunkRefs
	usage         *fakeQuota
	retriever     *fakeRetriever
	recall        *fakeMemory
	model         *fakeLLM
	conv          *types.Conversation
	userID        uuid.UUID
}

func newTurnFixture(t *testing.T) *turnFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	userID := uuid.New()
	videoID := uuid.New()
	rawIDs, _ := json.Marshal([]uuid.UUID{videoID})

	conversations := &fakeConversations{}
	conv := &types.Conversation{UserID: userID, Title: "t", SelectedVideoIDs: datatypes.JSON(rawIDs)}
	conversations.Create(dbctx.Context{}, []*types.Conversation{conv})

	chunkID := uuid.New()
	retriever := &fakeRetriever{result: &retrieve.Result{
		Type:    retrieve.TypeChunks,
		Context: "[Source 1] from \"Talk\"\n---\nschools and creativity\n",
		Chunks: []retrieve.RetrievedChunk{
			{ChunkID: chunkID, VideoID: videoID, Text: "schools and creativity", Score: 0.82},
		},
		Stats: retrieve.Stats{Candidates: 5, AfterFilter: 3, AfterDedup: 1, MaxScore: 0.82},
	}}
	messages := &fakeMessages{}
	refs := &fakeChunkRefs{}
	usage := &fakeQuota{}
	recall := &fakeMemory{}
	model := &fakeLLM{}

	svc := New(log, conversations, messages, refs, usage,
		&fakeClassifier{result: intent.Result{Intent: intent.Precision, Confidence: 0.9}},
		fakeEmbedder{}, retriever, recall, model)

	return &turnFixture{
		svc:           svc,
		conversations: conversations,
		messages:      messages,
		refs:          refs,
		usage:         usage,
		retriever:     retriever,
		recall:        recall,
		model:         model,
		conv:          conv,
		userID:        userID,
	}
}

func TestSendMessagePersistsTurn(t *testing.T) {
	fx := newTurnFixture(t)

	res, err := fx.svc.SendMessage(dbctx.Context{Ctx: context.Background()}, TurnRequest{
		ConversationID: fx.conv.ID,
		UserID:         fx.userID,
		Content:        "why do schools kill creativity",
		Mode:           types.ModeDeepDive,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(fx.messages.created) != 2 {
		t.Fatalf("messages created = %d, want 2", len(fx.messages.created))
	}
	if fx.messages.created[0].Role != types.RoleUser || fx.messages.created[1].Role != types.RoleAssistant {
		t.Fatal("message roles wrong")
	}
	if res.AssistantMessage.Model != "gpt-4o-mini" {
		t.Fatalf("assistant model = %q", res.AssistantMessage.Model)
	}
	if len(fx.refs.created) != 1 || fx.refs.created[0].Rank != 1 {
		t.Fatalf("chunk refs = %+v, want one rank-1 ref", fx.refs.created)
	}
	if fx.usage.tracked != 1 {
		t.Fatalf("chat messages tracked = %d, want 1", fx.usage.tracked)
	}
	if fx.recall.extracted != 1 {
		t.Fatalf("fact extraction runs = %d, want 1", fx.recall.extracted)
	}
	if len(fx.conversations.counters) != 2 || fx.conversations.counters[0] != 2 {
		t.Fatalf("counters = %v, want [2 tokens]", fx.conversations.counters)
	}
	// Retrieval must have been scoped to the conversation's videos.
	if len(fx.retriever.gotReq.VideoIDs) != 1 {
		t.Fatalf("retrieval video scope = %v", fx.retriever.gotReq.VideoIDs)
	}
}

func TestSendMessagePromptCarriesContextAndMemory(t *testing.T) {
	fx := newTurnFixture(t)

	_, err := fx.svc.SendMessage(dbctx.Context{Ctx: context.Background()}, TurnRequest{
		ConversationID: fx.conv.ID,
		UserID:         fx.userID,
		Content:        "what did they say",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(fx.model.lastMessages) < 2 {
		t.Fatalf("prompt messages = %d", len(fx.model.lastMessages))
	}
	sys := fx.model.lastMessages[0]
	if sys.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q", sys.Role)
	}
	if !strings.Contains(sys.Content, "[Source 1]") {
		t.Fatal("system prompt missing retrieved context")
	}
	if !strings.Contains(sys.Content, "user_name=Ada") {
		t.Fatal("system prompt missing remembered facts")
	}
	last := fx.model.lastMessages[len(fx.model.lastMessages)-1]
	if last.Role != llm.RoleUser || last.Content != "what did they say" {
		t.Fatalf("last message = %+v", last)
	}
}

func TestSendMessageStreamsWhenDeltaCallbackSet(t *testing.T) {
	fx := newTurnFixture(t)
	var deltas []string

	_, err := fx.svc.SendMessage(dbctx.Context{Ctx: context.Background()}, TurnRequest{
		ConversationID: fx.conv.ID,
		UserID:         fx.userID,
		Content:        "stream it",
		OnDelta:        func(d string) { deltas = append(deltas, d) },
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !fx.model.streamed {
		t.Fatal("Stream not used despite OnDelta")
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestSendMessageQuotaRejection(t *testing.T) {
	fx := newTurnFixture(t)
	fx.usage.checkErr = errdef.Quota("messages", 200, 200, "free")

	_, err := fx.svc.SendMessage(dbctx.Context{Ctx: context.Background()}, TurnRequest{
		ConversationID: fx.conv.ID,
		UserID:         fx.userID,
		Content:        "hello",
	})
	if !errors.Is(err, errdef.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if len(fx.messages.created) != 0 {
		t.Fatal("messages persisted despite quota rejection")
	}
}

func TestSendMessageRejectsEmptyAndForeignConversation(t *testing.T) {
	fx := newTurnFixture(t)

	if _, err := fx.svc.SendMessage(dbctx.Context{Ctx: context.Background()}, TurnRequest{
		ConversationID: fx.conv.ID, UserID: fx.userID, Content: "   ",
	}); !errors.Is(err, errdef.ErrInvalidInput) {
		t.Fatalf("empty content err = %v", err)
	}

	if _, err := fx.svc.SendMessage(dbctx.Context{Ctx: context.Background()}, TurnRequest{
		ConversationID: fx.conv.ID, UserID: uuid.New(), Content: "hi",
	}); !errors.Is(err, errdef.ErrNotFound) {
		t.Fatalf("foreign conversation err = %v", err)
	}
}
