package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
)

func TestConversationAndMessageRepos(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	convRepo := NewConversationRepo(db, testutil.Logger(t))
	msgRepo := NewMessageRepo(db, testutil.Logger(t))
	refRepo := NewMessageChunkRefRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, tx, "convrepo@example.com")
	c := testutil.SeedConversation(t, tx, u.ID)

	if got, err := convRepo.GetByUserAndID(dbc, u.ID, c.ID); err != nil || got == nil {
		t.Fatalf("GetByUserAndID: err=%v got=%v", err, got)
	}
	if other, err := convRepo.GetByUserAndID(dbc, uuid.New(), c.ID); err != nil || other != nil {
		t.Fatalf("GetByUserAndID (wrong user): err=%v got=%v", err, other)
	}

	userMsg := &types.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		UserID:         u.ID,
		Role:           types.RoleUser,
		Content:        "what is attention?",
	}
	assistantMsg := &types.Message{
		ID:             uuid.New(),
		ConversationID: c.ID,
		UserID:         u.ID,
		Role:           types.RoleAssistant,
		Content:        "attention weighs token pairs",
		Model:          "gpt-4o-mini",
		Provider:       "openai",
	}
	if _, err := msgRepo.Create(dbc, []*types.Message{userMsg, assistantMsg}); err != nil {
		t.Fatalf("Create messages: %v", err)
	}

	if err := convRepo.IncrementCounters(dbc, c.ID, 2, 57); err != nil {
		t.Fatalf("IncrementCounters: %v", err)
	}
	got, err := convRepo.GetByID(dbc, c.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v", err)
	}
	if got.MessageCount != 2 || got.TokenTotal != 57 {
		t.Fatalf("IncrementCounters: count=%d tokens=%d", got.MessageCount, got.TokenTotal)
	}

	msgs, err := msgRepo.ListByConversation(dbc, c.ID, 10, 0)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("ListByConversation: err=%v len=%d", err, len(msgs))
	}
	if msgs[0].Role != types.RoleUser {
		t.Fatalf("ListByConversation: expected user message first, got %q", msgs[0].Role)
	}

	recent, err := msgRepo.ListRecent(dbc, c.ID, 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("ListRecent: err=%v len=%d", err, len(recent))
	}
	if recent[0].ID != assistantMsg.ID {
		t.Fatalf("ListRecent: expected newest message, got %v", recent[0].ID)
	}

	ref := &types.MessageChunkRef{
		ID:             uuid.New(),
		MessageID:      assistantMsg.ID,
		ChunkID:        uuid.New(),
		RelevanceScore: 0.82,
		Rank:           1,
	}
	if _, err := refRepo.Create(dbc, []*types.MessageChunkRef{ref}); err != nil {
		t.Fatalf("Create refs: %v", err)
	}
	refs, err := refRepo.ListByMessageIDs(dbc, []uuid.UUID{assistantMsg.ID})
	if err != nil || len(refs) != 1 || refs[0].ChunkID != ref.ChunkID {
		t.Fatalf("ListByMessageIDs: err=%v refs=%+v", err, refs)
	}
}
