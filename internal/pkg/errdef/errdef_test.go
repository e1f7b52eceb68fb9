package errdef

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestQuotaErrorCarriesPayload(t *testing.T) {
	err := Quota("videos", 10, 10, "free")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("quota error should match ErrQuotaExceeded")
	}
	qe, ok := AsQuota(err)
	if !ok {
		t.Fatalf("AsQuota failed to unwrap")
	}
	if qe.Kind != "videos" || qe.Used != 10 || qe.Limit != 10 {
		t.Fatalf("payload = %+v", qe)
	}
	wrapped := fmt.Errorf("ingest: %w", err)
	if _, ok := AsQuota(wrapped); !ok {
		t.Fatalf("AsQuota should see through wrapping")
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{Transient("download reset"), true},
		{context.DeadlineExceeded, true},
		{InvalidInput("bad url"), false},
		{Quota("minutes", 300, 300, "free"), false},
		{Parse("non-json"), false},
		{ErrCanceled, false},
		{Internal("negative quota"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestMapDBErrorNotFound(t *testing.T) {
	err := MapDBError("video.get", gorm.ErrRecordNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("record-not-found should map to ErrNotFound, got %v", err)
	}
}

func TestMapDBErrorDuplicateMessage(t *testing.T) {
	err := MapDBError("fact.create", errors.New(`duplicate key value violates unique constraint "idx_fact_conversation_key"`))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate key should map to ErrConflict, got %v", err)
	}
}
