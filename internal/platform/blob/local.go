package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const transcriptFileName = "transcript.json"

// localStore lays files out as <root>/<userID>/<videoID>/<file> under two
// roots, one for audio and one for transcript documents.
type localStore struct {
	audioDir       string
	transcriptRoot string
	log            *logger.Logger
}

// NewLocalStore builds a filesystem-backed store rooted at
// AUDIO_STORAGE_PATH and TRANSCRIPT_STORAGE_PATH.
func NewLocalStore(log *logger.Logger) (Store, error) {
	audioDir := envutil.Str("AUDIO_STORAGE_PATH", "./storage/audio")
	transcriptDir := envutil.Str("TRANSCRIPT_STORAGE_PATH", "./storage/transcripts")
	for _, dir := range []string{audioDir, transcriptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("blob: create storage root %s: %w", dir, err)
		}
	}
	return &localStore{
		audioDir:       audioDir,
		transcriptRoot: transcriptDir,
		log:            log.With("component", "blob", "backend", "local"),
	}, nil
}

func (s *localStore) videoAudioDir(userID, videoID uuid.UUID) string {
	return filepath.Join(s.audioDir, userID.String(), videoID.String())
}

func (s *localStore) videoTranscriptDir(userID, videoID uuid.UUID) string {
	return filepath.Join(s.transcriptRoot, userID.String(), videoID.String())
}

func (s *localStore) PutAudio(ctx context.Context, userID, videoID uuid.UUID, filename string, r io.Reader) (string, float64, error) {
	dir := s.videoAudioDir(userID, videoID)
	// A retried download may produce a different extension, so the old
	// directory goes first.
	if err := os.RemoveAll(dir); err != nil {
		return "", 0, fmt.Errorf("blob: clear audio dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("blob: create audio dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("blob: create audio file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("blob: write audio file: %w", err)
	}
	s.log.Debug("Stored audio", "path", path, "size_mb", toMB(n))
	return path, toMB(n), nil
}

func (s *localStore) GetAudio(ctx context.Context, userID, videoID uuid.UUID) (io.ReadCloser, string, error) {
	dir := s.videoAudioDir(userID, videoID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("blob: no audio for video %s: %w", videoID, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			path := filepath.Join(dir, e.Name())
			f, err := os.Open(path)
			if err != nil {
				return nil, "", fmt.Errorf("blob: open audio file: %w", err)
			}
			return f, path, nil
		}
	}
	return nil, "", fmt.Errorf("blob: no audio for video %s", videoID)
}

func (s *localStore) DeleteAudio(ctx context.Context, userID, videoID uuid.UUID) (int64, error) {
	return s.removeVideoDir(s.videoAudioDir(userID, videoID))
}

func (s *localStore) PutTranscript(ctx context.Context, userID, videoID uuid.UUID, v any) (string, error) {
	dir := s.videoTranscriptDir(userID, videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blob: create transcript dir: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("blob: marshal transcript: %w", err)
	}
	path := filepath.Join(dir, transcriptFileName)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("blob: write transcript: %w", err)
	}
	return path, nil
}

func (s *localStore) GetTranscript(ctx context.Context, userID, videoID uuid.UUID, out any) error {
	path := filepath.Join(s.videoTranscriptDir(userID, videoID), transcriptFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("blob: read transcript for video %s: %w", videoID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("blob: decode transcript for video %s: %w", videoID, err)
	}
	return nil
}

func (s *localStore) DeleteTranscript(ctx context.Context, userID, videoID uuid.UUID) (int64, error) {
	return s.removeVideoDir(s.videoTranscriptDir(userID, videoID))
}

func (s *localStore) UsageMB(ctx context.Context, userID uuid.UUID) (float64, error) {
	var total int64
	for _, root := range []string{s.audioDir, s.transcriptRoot} {
		n, err := dirSize(filepath.Join(root, userID.String()))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return toMB(total), nil
}

func (s *localStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *localStore) ListVideoDirs(ctx context.Context) ([]Entry, error) {
	seen := map[Entry]struct{}{}
	for _, root := range []string{s.audioDir, s.transcriptRoot} {
		userDirs, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("blob: list storage root %s: %w", root, err)
		}
		for _, ud := range userDirs {
			if !ud.IsDir() {
				continue
			}
			userID, err := uuid.Parse(ud.Name())
			if err != nil {
				continue
			}
			videoDirs, err := os.ReadDir(filepath.Join(root, ud.Name()))
			if err != nil {
				continue
			}
			for _, vd := range videoDirs {
				if !vd.IsDir() {
					continue
				}
				videoID, err := uuid.Parse(vd.Name())
				if err != nil {
					continue
				}
				seen[Entry{UserID: userID, VideoID: videoID}] = struct{}{}
			}
		}
	}
	out := make([]Entry, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func (s *localStore) DeleteVideoDirs(ctx context.Context, userID, videoID uuid.UUID) (int64, error) {
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

func (s *localStore) URI(path string) string { return path }

// removeVideoDir deletes one video directory, then drops the parent user
// directory if it is now empty. Missing directories count as already deleted.
func (s *localStore) removeVideoDir(dir string) (int64, error) {
	size, err := dirSize(dir)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("blob: remove %s: %w", dir, err)
	}
	// Best effort; fails with ENOTEMPTY when other videos remain.
	os.Remove(filepath.Dir(dir))
	return size, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("blob: measure %s: %w", dir, err)
	}
	return total, nil
}
