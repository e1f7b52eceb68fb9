package media

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
)

func TestChunkRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewChunkRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, tx, "chunkrepo@example.com")
	v := testutil.SeedVideo(t, tx, u.ID, types.VideoStatusChunking)

	c0 := &types.Chunk{
		ID:         uuid.New(),
		VideoID:    v.ID,
		UserID:     u.ID,
		ChunkIndex: 0,
		Text:       "first chunk text",
		TokenCount: 4,
		StartTS:    0,
		EndTS:      30,
	}
	c1 := &types.Chunk{
		ID:         uuid.New(),
		VideoID:    v.ID,
		UserID:     u.ID,
		ChunkIndex: 1,
		Text:       "second chunk",
		TokenCount: 3,
		StartTS:    30,
		EndTS:      60,
	}
	if _, err := repo.Create(dbc, []*types.Chunk{c0, c1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows, err := repo.GetByVideoID(dbc, v.ID)
	if err != nil {
		t.Fatalf("GetByVideoID: %v", err)
	}
	if len(rows) != 2 || rows[0].ChunkIndex != 0 || rows[1].ChunkIndex != 1 {
		t.Fatalf("GetByVideoID: wrong rows/order: %+v", rows)
	}

	scoped, err := repo.GetByUserAndIDs(dbc, u.ID, []uuid.UUID{c0.ID, c1.ID})
	if err != nil || len(scoped) != 2 {
		t.Fatalf("GetByUserAndIDs: err=%v len=%d", err, len(scoped))
	}
	if cross, err := repo.GetByUserAndIDs(dbc, uuid.New(), []uuid.UUID{c0.ID}); err != nil || len(cross) != 0 {
		t.Fatalf("GetByUserAndIDs (wrong user): err=%v len=%d", err, len(cross))
	}

	unindexed, err := repo.ListUnindexed(dbc, v.ID)
	if err != nil || len(unindexed) != 2 {
		t.Fatalf("ListUnindexed: err=%v len=%d", err, len(unindexed))
	}
	if err := repo.MarkIndexed(dbc, []uuid.UUID{c0.ID}); err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}
	unindexed, err = repo.ListUnindexed(dbc, v.ID)
	if err != nil || len(unindexed) != 1 || unindexed[0].ID != c1.ID {
		t.Fatalf("ListUnindexed after mark: err=%v rows=%+v", err, unindexed)
	}

	wantBytes := int64(len(c0.Text) + len(c1.Text))
	sum, err := repo.SumTextBytesByVideoID(dbc, v.ID)
	if err != nil || sum != wantBytes {
		t.Fatalf("SumTextBytesByVideoID: err=%v got=%d want=%d", err, sum, wantBytes)
	}
	sum, err = repo.SumTextBytesByUser(dbc, u.ID)
	if err != nil || sum != wantBytes {
		t.Fatalf("SumTextBytesByUser: err=%v got=%d want=%d", err, sum, wantBytes)
	}

	n, err := repo.DeleteByVideoID(dbc, v.ID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteByVideoID: err=%v n=%d", err, n)
	}
	count, err := repo.CountByVideoID(dbc, v.ID)
	if err != nil || count != 0 {
		t.Fatalf("CountByVideoID after delete: err=%v count=%d", err, count)
	}
}
