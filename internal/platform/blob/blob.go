package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// Store keeps audio files and transcript JSON for videos. Callers address
// everything by (userID, videoID); the layout underneath is the store's own
// business and returned paths are opaque handles for display and auditing.
type Store interface {
	// PutAudio replaces any previous audio for the video and returns the
	// stored path plus the size in MB.
	PutAudio(ctx context.Context, userID, videoID uuid.UUID, filename string, r io.Reader) (string, float64, error)

	// GetAudio opens the video's audio file. The second return is the stored
	// path. Returns an error when no audio exists.
	GetAudio(ctx context.Context, userID, videoID uuid.UUID) (io.ReadCloser, string, error)

	// DeleteAudio removes the video's audio directory and reports the bytes
	// freed. Deleting audio that is already gone is not an error.
	DeleteAudio(ctx context.Context, userID, videoID uuid.UUID) (int64, error)

	// PutTranscript marshals v as JSON and stores it as the video's
	// transcript document, replacing any previous one.
	PutTranscript(ctx context.Context, userID, videoID uuid.UUID, v any) (string, error)

	// GetTranscript unmarshals the stored transcript document into out.
	GetTranscript(ctx context.Context, userID, videoID uuid.UUID, out any) error

	// DeleteTranscript removes the transcript document and reports the bytes
	// freed. Missing documents are not an error.
	DeleteTranscript(ctx context.Context, userID, videoID uuid.UUID) (int64, error)

	// UsageMB sums the bytes stored for the user across audio and
	// transcripts.
	UsageMB(ctx context.Context, userID uuid.UUID) (float64, error)

	// Exists reports whether a previously returned path still resolves.
	Exists(ctx context.Context, path string) (bool, error)

	// ListVideoDirs enumerates every (user, video) pair that still has data
	// in the store. Orphan cleanup diffs this against the videos table.
	ListVideoDirs(ctx context.Context) ([]Entry, error)

	// DeleteVideoDirs removes everything stored for the video, audio and
	// transcript both, and reports the bytes freed.
	DeleteVideoDirs(ctx context.Context, userID, videoID uuid.UUID) (int64, error)

	// URI renders a stored path as a fetchable location (file path for the
	// local backend, gs:// URL for GCS).
	URI(path string) string
}

// Entry identifies one video's storage directory.
type Entry struct {
	UserID  uuid.UUID
	VideoID uuid.UUID
}

const bytesPerMB = 1024 * 1024

func toMB(n int64) float64 { return float64(n) / bytesPerMB }

// New picks a backend from STORAGE_BACKEND ("local" or "gcs", default local).
func New(log *logger.Logger) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(envutil.Str("STORAGE_BACKEND", "local")))
	switch backend {
	case "", "local":
		return NewLocalStore(log)
	case "gcs":
		return NewGCSStore(log)
	default:
		return nil, fmt.Errorf("blob: unknown STORAGE_BACKEND %q", backend)
	}
}
