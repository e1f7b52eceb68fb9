package media

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/data/repos/testutil"
	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
)

func TestVideoRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewVideoRepo(db, testutil.Logger(t))

	u := testutil.SeedUser(t, tx, "videorepo@example.com")

	completed := testutil.SeedVideo(t, tx, u.ID, types.VideoStatusCompleted)
	pending := testutil.SeedVideo(t, tx, u.ID, types.VideoStatusPending)
	deleted := testutil.SeedVideo(t, tx, u.ID, types.VideoStatusCanceled)
	if err := tx.Model(&types.Video{}).Where("id = ?", deleted.ID).
		Updates(map[string]interface{}{"is_deleted": true}).Error; err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	got, err := repo.GetByUserAndID(dbc, u.ID, completed.ID)
	if err != nil || got == nil || got.ID != completed.ID {
		t.Fatalf("GetByUserAndID: err=%v got=%v", err, got)
	}
	if other, err := repo.GetByUserAndID(dbc, uuid.New(), completed.ID); err != nil || other != nil {
		t.Fatalf("GetByUserAndID (wrong user): err=%v got=%v", err, other)
	}

	// Listing excludes soft-deleted rows.
	list, err := repo.ListByUser(dbc, u.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByUser: expected 2 rows, got %d", len(list))
	}
	for _, v := range list {
		if v.ID == deleted.ID {
			t.Fatalf("ListByUser: returned soft-deleted video")
		}
	}

	recent, err := repo.ListRecentCompleted(dbc, u.ID, 10)
	if err != nil {
		t.Fatalf("ListRecentCompleted: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != completed.ID {
		t.Fatalf("ListRecentCompleted: expected only %v, got %d rows", completed.ID, len(recent))
	}

	rows, err := repo.ListDeleted(dbc, 10)
	if err != nil {
		t.Fatalf("ListDeleted: %v", err)
	}
	found := false
	for _, v := range rows {
		if v.ID == deleted.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListDeleted: soft-deleted video missing")
	}

	// Stale listing only sees the configured statuses.
	if err := tx.Model(&types.Video{}).Where("id = ?", pending.ID).
		Updates(map[string]interface{}{"updated_at": time.Now().Add(-48 * time.Hour)}).Error; err != nil {
		t.Fatalf("age pending: %v", err)
	}
	stale, err := repo.ListStale(dbc, []string{types.VideoStatusPending, types.VideoStatusDownloading}, time.Now().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != pending.ID {
		t.Fatalf("ListStale: expected %v, got %d rows", pending.ID, len(stale))
	}

	// Cancellation wins over late pipeline writes.
	if err := repo.UpdateFields(dbc, pending.ID, map[string]interface{}{"status": types.VideoStatusCanceled}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	ok, err := repo.UpdateFieldsUnlessStatus(dbc, pending.ID, []string{types.VideoStatusCanceled}, map[string]interface{}{"progress_percent": 80})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if ok {
		t.Fatalf("UpdateFieldsUnlessStatus: write should have been refused on canceled video")
	}

	// Audio size rollup skips deleted rows.
	size := 12.5
	if err := repo.UpdateFields(dbc, completed.ID, map[string]interface{}{"audio_size_mb": size}); err != nil {
		t.Fatalf("set audio size: %v", err)
	}
	if err := tx.Model(&types.Video{}).Where("id = ?", deleted.ID).
		Updates(map[string]interface{}{"audio_size_mb": 99.0}).Error; err != nil {
		t.Fatalf("set deleted audio size: %v", err)
	}
	total, err := repo.SumAudioSizeMBByUser(dbc, u.ID)
	if err != nil {
		t.Fatalf("SumAudioSizeMBByUser: %v", err)
	}
	if total != size {
		t.Fatalf("SumAudioSizeMBByUser: expected %v, got %v", size, total)
	}
}
