// Package chat runs one conversational turn end to end: intent
// classification, retrieval over the user's selected videos, memory
// recall, the model call, and the bookkeeping that follows (messages,
// citations, counters, fact extraction).
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/embed"
	"github.com/yungbote/vidscribe-backend/internal/llm"
	"github.com/yungbote/vidscribe-backend/internal/memory"
	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
	"github.com/yungbote/vidscribe-backend/internal/query/intent"
	"github.com/yungbote/vidscribe-backend/internal/query/retrieve"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

const (
	recentMessageWindow = 6
	memoryFactLimit     = 15
)

// TurnRequest is one user question inside a conversation. OnDelta, when
// set, receives streamed content fragments as the model produces them.
type TurnRequest struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Content        string
	Mode           string
	OnDelta        func(delta string)
}

// TurnResult is everything a turn produced, for the handler to shape into
// a response.
type TurnResult struct {
	UserMessage      *types.Message           `json:"user_message"`
	AssistantMessage *types.Message           `json:"assistant_message"`
	Intent           intent.Result            `json:"intent"`
	Retrieval        *retrieve.Result         `json:"retrieval,omitempty"`
	References       []*types.MessageChunkRef `json:"references,omitempty"`
}

type Service interface {
	CreateConversation(dbc dbctx.Context, userID uuid.UUID, title string, videoIDs []uuid.UUID) (*types.Conversation, error)
	ListConversations(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Conversation, error)
	GetConversation(dbc dbctx.Context, userID, conversationID uuid.UUID) (*types.Conversation, error)
	ListMessages(dbc dbctx.Context, userID, conversationID uuid.UUID, limit, offset int) ([]*types.Message, error)

	// SendMessage runs the full turn. The user and assistant messages are
	// persisted before it returns; fact extraction failures degrade
	// silently.
	SendMessage(dbc dbctx.Context, req TurnRequest) (*TurnResult, error)
}

type service struct {
	log           *logger.Logger
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	chunkRefs     repos.MessageChunkRefRepo
	usage         quota.Service
	classifier    intent.Classifier
	embedder      embed.Client
	retriever     retrieve.Retriever
	recall        memory.Service
	model         llm.Client
}

func New(
	baseLog *logger.Logger,
	conversations repos.ConversationRepo,
	messages repos.MessageRepo,
	chunkRefs repos.MessageChunkRefRepo,
	usage quota.Service,
	classifier intent.Classifier,
	embedder embed.Client,
	retriever retrieve.Retriever,
	recall memory.Service,
	model llm.Client,
) Service {
	return &service{
		log:           baseLog.With("service", "ChatService"),
		conversations: conversations,
		messages:      messages,
		chunkRefs:     chunkRefs,
		usage:         usage,
		classifier:    classifier,
		embedder:      embedder,
		retriever:     retriever,
		recall:        recall,
		model:         model,
	}
}

func (s *service) CreateConversation(dbc dbctx.Context, userID uuid.UUID, title string, videoIDs []uuid.UUID) (*types.Conversation, error) {
	if userID == uuid.Nil {
		return nil, errdef.InvalidInput("missing user")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New conversation"
	}
	var selected datatypes.JSON
	if len(videoIDs) > 0 {
		raw, err := json.Marshal(videoIDs)
		if err != nil {
			return nil, errdef.InvalidInput("bad video id list")
		}
		selected = datatypes.JSON(raw)
	}
	rows, err := s.conversations.Create(dbc, []*types.Conversation{{
		UserID:           userID,
		Title:            title,
		SelectedVideoIDs: selected,
	}})
	if err != nil {
		return nil, errdef.MapDBError("create conversation", err)
	}
	return rows[0], nil
}

func (s *service) ListConversations(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Conversation, error) {
	return s.conversations.ListByUser(dbc, userID, limit, offset)
}

func (s *service) GetConversation(dbc dbctx.Context, userID, conversationID uuid.UUID) (*types.Conversation, error) {
	conv, err := s.conversations.GetByUserAndID(dbc, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errdef.NotFound("conversation")
	}
	return conv, nil
}

func (s *service) ListMessages(dbc dbctx.Context, userID, conversationID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	if _, err := s.GetConversation(dbc, userID, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(dbc, conversationID, limit, offset)
}

func (s *service) SendMessage(dbc dbctx.Context, req TurnRequest) (*TurnResult, error) {
	question := strings.TrimSpace(req.Content)
	if question == "" {
		return nil, errdef.InvalidInput("empty message")
	}
	conv, err := s.GetConversation(dbc, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.usage.Check(dbc, req.UserID, quota.KindMessages, 1); err != nil {
		return nil, err
	}

	videoIDs := decodeVideoIDs(conv.SelectedVideoIDs)

	recent, err := s.messages.ListRecent(dbc, conv.ID, recentMessageWindow)
	if err != nil {
		s.log.Warn("recent message load failed", "conversation_id", conv.ID, "error", err)
	}

	facts, err := s.recall.Select(dbc, conv.ID, memoryFactLimit)
	if err != nil {
		s.log.Warn("memory selection failed", "conversation_id", conv.ID, "error", err)
	}

	classified := s.classifier.Classify(dbc.Ctx, intent.Request{
		Query:          question,
		Mode:           req.Mode,
		NumVideos:      len(videoIDs),
		RecentMessages: recent,
		Facts:          facts,
	})

	qvec, err := s.embedder.Embed(dbc.Ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	started := time.Now()
	retrieval, err := s.retriever.Retrieve(dbc, retrieve.Request{
		UserID:   req.UserID,
		Query:    question,
		QueryVec: qvec,
		Intent:   classified.Intent,
		Mode:     req.Mode,
		VideoIDs: videoIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	observability.Current().ObserveRetrieval(req.Mode, retrieval.Type, time.Since(started))

	prompt := buildTurnMessages(question, req.Mode, retrieval, facts, recent)

	var completion *llm.Completion
	if req.OnDelta != nil {
		completion, err = s.model.Stream(dbc.Ctx, prompt, llm.Options{}, req.OnDelta)
	} else {
		completion, err = s.model.Complete(dbc.Ctx, prompt, llm.Options{})
	}
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	result, err := s.persistTurn(dbc, conv, req, question, classified, retrieval, completion)
	if err != nil {
		return nil, err
	}

	if err := s.usage.TrackChatMessage(dbc, req.UserID); err != nil {
		s.log.Warn("chat message tracking failed", "user_id", req.UserID, "error", err)
	}

	if _, err := s.recall.Extract(dbc, conv, question, completion.Content); err != nil {
		s.log.Warn("fact extraction failed", "conversation_id", conv.ID, "error", err)
	}

	return result, nil
}

func (s *service) persistTurn(
	dbc dbctx.Context,
	conv *types.Conversation,
	req TurnRequest,
	question string,
	classified intent.Result,
	retrieval *retrieve.Result,
	completion *llm.Completion,
) (*TurnResult, error) {
	meta := map[string]any{
		"intent":            classified.Intent,
		"intent_confidence": classified.Confidence,
		"retrieval_type":    retrieval.Type,
		"retrieval_stats":   retrieval.Stats,
	}
	if req.Mode != "" {
		meta["mode"] = req.Mode
	}
	rawMeta, _ := json.Marshal(meta)

	tokensIn := completion.Usage.InputTokens
	tokensOut := completion.Usage.OutputTokens

	rows, err := s.messages.Create(dbc, []*types.Message{
		{
			ConversationID: conv.ID,
			UserID:         req.UserID,
			Role:           types.RoleUser,
			Content:        question,
		},
		{
			ConversationID: conv.ID,
			UserID:         req.UserID,
			Role:           types.RoleAssistant,
			Content:        completion.Content,
			TokensIn:       &tokensIn,
			TokensOut:      &tokensOut,
			Model:          completion.Model,
			Provider:       completion.Provider,
			Metadata:       datatypes.JSON(rawMeta),
		},
	})
	if err != nil {
		return nil, errdef.MapDBError("persist turn", err)
	}
	userMsg, assistantMsg := rows[0], rows[1]

	var refs []*types.MessageChunkRef
	for i, c := range retrieval.Chunks {
		if c.ChunkID == uuid.Nil {
			continue
		}
		refs = append(refs, &types.MessageChunkRef{
			MessageID:      assistantMsg.ID,
			ChunkID:        c.ChunkID,
			RelevanceScore: c.Score,
			Rank:           i + 1,
		})
	}
	if len(refs) > 0 {
		if refs, err = s.chunkRefs.Create(dbc, refs); err != nil {
			s.log.Warn("chunk reference persist failed", "message_id", assistantMsg.ID, "error", err)
			refs = nil
		}
	}

	if err := s.conversations.IncrementCounters(dbc, conv.ID, 2, completion.Usage.TotalTokens); err != nil {
		s.log.Warn("conversation counter bump failed", "conversation_id", conv.ID, "error", err)
	}

	return &TurnResult{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Intent:           classified,
		Retrieval:        retrieval,
		References:       refs,
	}, nil
}

// buildTurnMessages shapes the model conversation: one system message with
// role, mode guidance, retrieved context and remembered facts, then the
// last few turns verbatim, then the question.
func buildTurnMessages(
	question, mode string,
	retrieval *retrieve.Result,
	facts []*types.ConversationFact,
	recent []*types.Message,
) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You are an assistant that answers questions about the user's video library. ")
	sys.WriteString("Ground every claim in the provided sources and cite them as [Source N]. ")
	sys.WriteString("When the sources do not cover the question, say so rather than guessing.")
	if g := modeGuidance(mode); g != "" {
		sys.WriteString("\n\n")
		sys.WriteString(g)
	}
	if retrieval != nil && strings.TrimSpace(retrieval.Context) != "" {
		sys.WriteString("\n\n# Sources\n\n")
		sys.WriteString(retrieval.Context)
	}
	if block := memory.FormatForPrompt(facts); block != "" {
		sys.WriteString("\n\n# Remembered about this conversation\n\n")
		sys.WriteString(block)
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: sys.String()}}
	for _, m := range recent {
		if m == nil || m.Role == types.RoleSystem {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
	return msgs
}

func modeGuidance(mode string) string {
	switch mode {
	case types.ModeSummarize:
		return "Mode: summarize. Give a concise synthesis of the main themes across the sources."
	case types.ModeCompareSources:
		return "Mode: compare sources. Contrast what the different videos say, noting agreement and disagreement."
	case types.ModeDeepDive:
		return "Mode: deep dive. Answer precisely with timestamps and direct evidence."
	case types.ModeTimeline:
		return "Mode: timeline. Order the answer chronologically using the source timestamps."
	case types.ModeExtractActions:
		return "Mode: extract actions. Return concrete, actionable items drawn from the sources."
	case types.ModeQuizMe:
		return "Mode: quiz. Ask the user questions grounded in the sources, one at a time."
	default:
		return ""
	}
}

func decodeVideoIDs(raw datatypes.JSON) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil
	}
	out := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		if id, err := uuid.Parse(s); err == nil && id != uuid.Nil {
			out = append(out, id)
		}
	}
	return out
}
