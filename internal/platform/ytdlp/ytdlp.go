// Package ytdlp shells out to the yt-dlp binary for video metadata, caption
// tracks, and audio downloads. Synchronous; call from worker jobs, not
// request handlers.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// Chapter is a creator-defined section of the video.
type Chapter struct {
	Title     string  `json:"title"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// CaptionTrack points at one downloadable subtitle rendition.
type CaptionTrack struct {
	URL  string `json:"url"`
	Ext  string `json:"ext"`
	Name string `json:"name"`
}

// VideoInfo is the slice of yt-dlp's -J output the pipeline consumes.
type VideoInfo struct {
	ID             string                    `json:"id"`
	Title          string                    `json:"title"`
	Description    string                    `json:"description"`
	Channel        string                    `json:"channel"`
	Uploader       string                    `json:"uploader"`
	DurationSec    float64                   `json:"duration"`
	UploadDate     string                    `json:"upload_date"`
	ViewCount      int64                     `json:"view_count"`
	LikeCount      int64                     `json:"like_count"`
	Language       string                    `json:"language"`
	IsLive         bool                      `json:"is_live"`
	Availability   string                    `json:"availability"`
	FilesizeApprox int64                     `json:"filesize_approx"`
	Chapters       []Chapter                 `json:"chapters"`
	Subtitles      map[string][]CaptionTrack `json:"subtitles"`
	AutoCaptions   map[string][]CaptionTrack `json:"automatic_captions"`
}

// Captions is a picked track plus how it was found.
type Captions struct {
	Track    CaptionTrack
	Language string
	Auto     bool
}

// Client wraps the yt-dlp binary.
type Client interface {
	AssertReady(ctx context.Context) error

	// GetVideoInfo runs yt-dlp -J and decodes the metadata.
	GetVideoInfo(ctx context.Context, url string) (*VideoInfo, error)

	// Validate reports whether the video is ingestable and, when not, a
	// human-readable reason.
	Validate(info *VideoInfo) (bool, string)

	// PickCaptions chooses a caption track, manual subtitles before
	// auto-generated ones, in preferred language order. Nil when none match.
	PickCaptions(info *VideoInfo, preferredLangs []string) *Captions

	// FetchCaptions downloads the track's VTT body.
	FetchCaptions(ctx context.Context, captions *Captions) (string, error)

	// DownloadAudio pulls the audio track into workDir, trying several
	// player clients and format selectors before giving up. onProgress
	// receives fractions in [0,1] as yt-dlp reports them.
	DownloadAudio(ctx context.Context, url, workDir string, onProgress func(float64)) (string, float64, error)
}

type client struct {
	log *logger.Logger

	binPath  string
	workRoot string

	infoTimeout     time.Duration
	downloadTimeout time.Duration

	maxDurationSec float64
	maxFileSizeMB  float64
}

// New builds a client. Caps default to MAX_VIDEO_DURATION_SECONDS and
// MAX_VIDEO_FILE_SIZE_MB.
func New(log *logger.Logger) Client {
	return &client{
		log:             log.With("service", "ytdlp"),
		binPath:         envutil.Str("YTDLP_PATH", "yt-dlp"),
		workRoot:        envutil.Str("YTDLP_WORK_ROOT", "/tmp/vidscribe-media"),
		infoTimeout:     2 * time.Minute,
		downloadTimeout: 30 * time.Minute,
		maxDurationSec:  float64(envutil.Int("MAX_VIDEO_DURATION_SECONDS", 14400)),
		maxFileSizeMB:   float64(envutil.Int("MAX_VIDEO_FILE_SIZE_MB", 500)),
	}
}

func (c *client) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(c.binPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", c.binPath, err)
	}
	if err := os.MkdirAll(c.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (c *client) GetVideoInfo(ctx context.Context, url string) (*VideoInfo, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("url required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.infoTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binPath,
		"-J",
		"--no-playlist",
		"--no-warnings",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata failed: %w; out=%s", err, execErrDetail(err))
	}

	var info VideoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	return &info, nil
}

// Validate applies the ingest caps. Unavailable and live videos are rejected
// before any download starts.
func (c *client) Validate(info *VideoInfo) (bool, string) {
	if info == nil || strings.TrimSpace(info.ID) == "" {
		return false, "video metadata unavailable"
	}
	if info.IsLive {
		return false, "live streams cannot be ingested"
	}
	switch strings.ToLower(strings.TrimSpace(info.Availability)) {
	case "", "public", "unlisted":
	default:
		return false, fmt.Sprintf("video is not accessible (availability=%s)", info.Availability)
	}
	if info.DurationSec <= 0 {
		return false, "video duration unknown"
	}
	if c.maxDurationSec > 0 && info.DurationSec > c.maxDurationSec {
		return false, fmt.Sprintf("video is too long (%.0fs > %.0fs max)", info.DurationSec, c.maxDurationSec)
	}
	if c.maxFileSizeMB > 0 && info.FilesizeApprox > 0 {
		approxMB := float64(info.FilesizeApprox) / (1024 * 1024)
		if approxMB > c.maxFileSizeMB {
			return false, fmt.Sprintf("video is too large (%.0fMB > %.0fMB max)", approxMB, c.maxFileSizeMB)
		}
	}
	return true, ""
}

func execErrDetail(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return string(exitErr.Stderr)
	}
	return ""
}
