package worker

import (
	"errors"
	"fmt"
	"testing"
)

func TestPanicErrorCarriesPayload(t *testing.T) {
	cases := []struct {
		val  any
		want string
	}{
		{"index out of range", "panic: index out of range"},
		{fmt.Errorf("nil pointer dereference"), "panic: nil pointer dereference"},
		{42, "panic: 42"},
		{nil, "panic: <nil>"},
	}
	for _, tc := range cases {
		if got := errFromRecover(tc.val).Error(); got != tc.want {
			t.Fatalf("errFromRecover(%v) = %q, want %q", tc.val, got, tc.want)
		}
	}
}

func TestMissingHandlerErrorNamesJobType(t *testing.T) {
	err := error(&missingHandlerError{JobType: "video_ingest"})
	if got := err.Error(); got != "no handler registered for job_type=video_ingest" {
		t.Fatalf("got %q", got)
	}
	var target *missingHandlerError
	if !errors.As(err, &target) || target.JobType != "video_ingest" {
		t.Fatal("missingHandlerError not unwrappable")
	}
}
