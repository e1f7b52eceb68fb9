package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
)

// downloadStrategy is one (player client, format selector) attempt. YouTube
// throttles or hides formats per client, so several combinations are tried
// in order.
type downloadStrategy struct {
	client string
	format string
}

var downloadStrategies = []downloadStrategy{
	{client: "web_safari", format: "bestaudio[ext=m4a]/bestaudio"},
	{client: "android", format: "bestaudio[ext=m4a]/bestaudio"},
	{client: "ios", format: "bestaudio"},
	{client: "web", format: "bestaudio/best"},
}

var progressRe = regexp.MustCompile(`\[download\]\s+([\d.]+)%`)

func (c *client) DownloadAudio(ctx context.Context, url, workDir string, onProgress func(float64)) (string, float64, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(url) == "" {
		return "", 0, fmt.Errorf("url required")
	}
	if workDir == "" {
		workDir = c.workRoot
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("mkdir workDir: %w", err)
	}

	var lastErr error
	for _, strategy := range downloadStrategies {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		clearDownloads(workDir)

		path, sizeMB, err := c.runDownload(ctx, url, workDir, strategy, onProgress)
		if err == nil {
			return path, sizeMB, nil
		}
		lastErr = err
		c.log.Warn("Audio download attempt failed",
			"player_client", strategy.client,
			"format", strategy.format,
			"error", err,
		)
	}
	return "", 0, fmt.Errorf("all download strategies failed: %w", lastErr)
}

func (c *client) runDownload(ctx context.Context, url, workDir string, strategy downloadStrategy, onProgress func(float64)) (string, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	args := []string{
		"-f", strategy.format,
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--extractor-args", "youtube:player_client=" + strategy.client,
		"-o", filepath.Join(workDir, "audio.%(ext)s"),
	}
	if c.maxFileSizeMB > 0 {
		args = append(args, "--max-filesize", strconv.Itoa(int(c.maxFileSizeMB))+"m")
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, c.binPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", 0, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", 0, fmt.Errorf("start yt-dlp: %w", err)
	}

	// Progress lines arrive one per line under --newline.
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if onProgress == nil {
			continue
		}
		if m := progressRe.FindStringSubmatch(scanner.Text()); m != nil {
			if pct, perr := strconv.ParseFloat(m[1], 64); perr == nil {
				onProgress(pct / 100)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return "", 0, fmt.Errorf("yt-dlp download failed: %w; out=%s", err, stderr.String())
	}

	path, err := newestDownload(workDir)
	if err != nil {
		// yt-dlp exits 0 when --max-filesize skips the download.
		return "", 0, fmt.Errorf("no audio produced (size cap or unavailable format): %v; out=%s", err, stderr.String())
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat downloaded audio: %w", err)
	}
	return path, float64(info.Size()) / (1024 * 1024), nil
}

// clearDownloads drops files from a previous attempt so the next strategy
// starts clean.
func clearDownloads(workDir string) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "audio.") {
			os.Remove(filepath.Join(workDir, e.Name()))
		}
	}
}

// newestDownload finds the completed audio file, ignoring yt-dlp's partial
// and fragment files.
func newestDownload(workDir string) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "audio.") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		candidates = append(candidates, filepath.Join(workDir, name))
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no audio files in %s", workDir)
	}
	sort.Strings(candidates)
	return candidates[0], nil
}
