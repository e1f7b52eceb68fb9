package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	gcsUploadTimeout   = 2 * time.Minute
	gcsDownloadTimeout = 2 * time.Minute
	gcsDeleteTimeout   = 30 * time.Second
	gcsListTimeout     = 30 * time.Second

	gcsAudioPrefix      = "audio"
	gcsTranscriptPrefix = "transcripts"
)

// gcsStore keeps objects in one bucket under audio/<user>/<video>/<file> and
// transcripts/<user>/<video>/transcript.json.
type gcsStore struct {
	client *storage.Client
	bucket string
	log    *logger.Logger
}

// NewGCSStore connects to the bucket named by STORAGE_GCS_BUCKET using the
// usual GOOGLE_APPLICATION_CREDENTIALS[_JSON] credentials.
func NewGCSStore(log *logger.Logger) (Store, error) {
	bucket := strings.TrimSpace(envutil.Str("STORAGE_GCS_BUCKET", ""))
	if bucket == "" {
		return nil, errors.New("blob: STORAGE_GCS_BUCKET is required for the gcs backend")
	}
	client, err := storage.NewClient(context.Background(), gcsClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("blob: create gcs client: %w", err)
	}
	return &gcsStore{
		client: client,
		bucket: bucket,
		log:    log.With("component", "blob", "backend", "gcs", "bucket", bucket),
	}, nil
}

// gcsClientOptions prefers inline JSON credentials so containerized deploys
// can avoid mounting a key file.
func gcsClientOptions() []option.ClientOption {
	if raw := strings.TrimSpace(envutil.Str("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if file := strings.TrimSpace(envutil.Str("GOOGLE_APPLICATION_CREDENTIALS", "")); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func gcsVideoPrefix(category string, userID, videoID uuid.UUID) string {
	return path.Join(category, userID.String(), videoID.String()) + "/"
}

func (s *gcsStore) PutAudio(ctx context.Context, userID, videoID uuid.UUID, filename string, r io.Reader) (string, float64, error) {
	prefix := gcsVideoPrefix(gcsAudioPrefix, userID, videoID)
	// Replace semantics: a retry may change the extension, so stale objects
	// under the prefix go first.
	if _, err := s.deletePrefix(ctx, prefix); err != nil {
		return "", 0, err
	}
	key := prefix + path.Base(filename)
	n, err := s.write(ctx, key, r)
	if err != nil {
		return "", 0, err
	}
	s.log.Debug("Stored audio", "key", key, "size_mb", toMB(n))
	return key, toMB(n), nil
}

func (s *gcsStore) GetAudio(ctx context.Context, userID, videoID uuid.UUID) (io.ReadCloser, string, error) {
	prefix := gcsVideoPrefix(gcsAudioPrefix, userID, videoID)
	keys, _, err := s.listPrefix(ctx, prefix)
	if err != nil {
		return nil, "", err
	}
	if len(keys) == 0 {
		return nil, "", fmt.Errorf("blob: no audio for video %s", videoID)
	}
	rc, err := s.open(ctx, keys[0])
	if err != nil {
		return nil, "", err
	}
	return rc, keys[0], nil
}

func (s *gcsStore) DeleteAudio(ctx context.Context, userID, videoID uuid.UUID) (int64, error) {
	return s.deletePrefix(ctx, gcsVideoPrefix(gcsAudioPrefix, userID, videoID))
}

func (s *gcsStore) PutTranscript(ctx context.Context, userID, videoID uuid.UUID, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("blob: marshal transcript: %w", err)
	}
	key := gcsVideoPrefix(gcsTranscriptPrefix, userID, videoID) + transcriptFileName
	if _, err := s.write(ctx, key, strings.NewReader(string(raw))); err != nil {
		return "", err
	}
	return key, nil
}

func (s *gcsStore) GetTranscript(ctx context.Context, userID, videoID uuid.UUID, out any) error {
	key := gcsVideoPrefix(gcsTranscriptPrefix, userID, videoID) + transcriptFileName
	rc, err := s.open(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("blob: read transcript %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("blob: decode transcript %s: %w", key, err)
	}
	return nil
}

func (s *gcsStore) DeleteTranscript(ctx context.Context, userID, videoID uuid.UUID) (int64, error) {
	return s.deletePrefix(ctx, gcsVideoPrefix(gcsTranscriptPrefix, userID, videoID))
}

func (s *gcsStore) UsageMB(ctx context.Context, userID uuid.UUID) (float64, error) {
	var total int64
	for _, category := range []string{gcsAudioPrefix, gcsTranscriptPrefix} {
		prefix := path.Join(category, userID.String()) + "/"
		_, size, err := s.listPrefix(ctx, prefix)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return toMB(total), nil
}

func (s *gcsStore) Exists(ctx context.Context, key string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, gcsListTimeout)
	defer cancel()
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(opCtx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("blob: stat %s: %w", key, err)
}

func (s *gcsStore) ListVideoDirs(ctx context.Context) ([]Entry, error) {
	seen := map[Entry]struct{}{}
	for _, category := range []string{gcsAudioPrefix, gcsTranscriptPrefix} {
		keys, _, err := s.listPrefix(ctx, category+"/")
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			parts := strings.Split(key, "/")
			if len(parts) < 4 {
				continue
			}
			userID, err := uuid.Parse(parts[1])
			if err != nil {
				continue
			}
			videoID, err := uuid.Parse(parts[2])
			if err != nil {
				continue
			}
			seen[Entry{UserID: userID, VideoID: videoID}] = struct{}{}
		}
	}
	out := make([]Entry, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func (s *gcsStore) DeleteVideoDirs(ctx context.Context, userID, videoID uuid.UUID) (int64, error) {
	freedAudio, err := s.DeleteAudio(ctx, userID, videoID)
	if err != nil {
		return 0, err
	}
	freedTranscript, err := s.DeleteTranscript(ctx, userID, videoID)
	if err != nil {
		return freedAudio, err
	}
	return freedAudio + freedTranscript, nil
}

func (s *gcsStore) URI(key string) string {
	return "gs://" + s.bucket + "/" + key
}

func (s *gcsStore) write(ctx context.Context, key string, r io.Reader) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, gcsUploadTimeout)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(opCtx)
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, fmt.Errorf("blob: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("blob: finish upload %s: %w", key, err)
	}
	return n, nil
}

func (s *gcsStore) open(ctx context.Context, key string) (io.ReadCloser, error) {
	opCtx, cancel := context.WithTimeout(ctx, gcsDownloadTimeout)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(opCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("blob: open %s: %w", key, err)
	}
	// The timeout context must stay alive until the caller finishes reading,
	// so cancel rides along on Close.
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsStore) listPrefix(ctx context.Context, prefix string) ([]string, int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, gcsListTimeout)
	defer cancel()
	var keys []string
	var size int64
	it := s.client.Bucket(s.bucket).Objects(opCtx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("blob: list %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
		size += attrs.Size
	}
	return keys, size, nil
}

// deletePrefix removes every object under prefix and reports the bytes freed.
// Objects already gone are skipped.
func (s *gcsStore) deletePrefix(ctx context.Context, prefix string) (int64, error) {
	keys, size, err := s.listPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		opCtx, cancel := context.WithTimeout(ctx, gcsDeleteTimeout)
		err := s.client.Bucket(s.bucket).Object(key).Delete(opCtx)
		cancel()
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return 0, fmt.Errorf("blob: delete %s: %w", key, err)
		}
	}
	return size, nil
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}
