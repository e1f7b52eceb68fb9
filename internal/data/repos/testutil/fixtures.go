package testutil

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
)

func SeedUser(tb testing.TB, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  "pw",
		FirstName: "Test",
		LastName:  "User",
		Tier:      types.TierFree,
		Status:    "active",
	}
	if err := tx.Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedVideo(tb testing.TB, tx *gorm.DB, userID uuid.UUID, status string) *types.Video {
	tb.Helper()
	v := &types.Video{
		ID:        uuid.New(),
		UserID:    userID,
		SourceURL: "https://www.youtube.com/watch?v=" + uuid.NewString()[:11],
		SourceID:  uuid.NewString()[:11],
		Title:     "seed video",
		Status:    status,
	}
	if err := tx.Create(v).Error; err != nil {
		tb.Fatalf("seed video: %v", err)
	}
	return v
}

func SeedConversation(tb testing.TB, tx *gorm.DB, userID uuid.UUID) *types.Conversation {
	tb.Helper()
	c := &types.Conversation{
		ID:               uuid.New(),
		UserID:           userID,
		Title:            "seed conversation",
		SelectedVideoIDs: datatypes.JSON([]byte("[]")),
	}
	if err := tx.Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}
