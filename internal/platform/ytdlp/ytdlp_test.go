package ytdlp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

func newTestClient(t *testing.T) *client {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return &client{
		log:            log,
		binPath:        "yt-dlp",
		workRoot:       t.TempDir(),
		maxDurationSec: 14400,
		maxFileSizeMB:  500,
	}
}

func TestValidateCaps(t *testing.T) {
	c := newTestClient(t)

	cases := []struct {
		name string
		info *VideoInfo
		ok   bool
	}{
		{"nil metadata", nil, false},
		{"missing id", &VideoInfo{DurationSec: 60}, false},
		{"live stream", &VideoInfo{ID: "x", DurationSec: 60, IsLive: true}, false},
		{"private", &VideoInfo{ID: "x", DurationSec: 60, Availability: "private"}, false},
		{"zero duration", &VideoInfo{ID: "x"}, false},
		{"too long", &VideoInfo{ID: "x", DurationSec: 14401}, false},
		{"too large", &VideoInfo{ID: "x", DurationSec: 60, FilesizeApprox: 501 * 1024 * 1024}, false},
		{"ok public", &VideoInfo{ID: "x", DurationSec: 60, Availability: "public"}, true},
		{"ok unlisted no size", &VideoInfo{ID: "x", DurationSec: 14400, Availability: "unlisted"}, true},
	}
	for _, tc := range cases {
		ok, reason := c.Validate(tc.info)
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v (reason=%q), want %v", tc.name, ok, reason, tc.ok)
		}
		if !ok && reason == "" {
			t.Fatalf("%s: rejection must carry a reason", tc.name)
		}
	}
}

func TestPickCaptionsPrefersManualOverAuto(t *testing.T) {
	c := newTestClient(t)
	info := &VideoInfo{
		Subtitles: map[string][]CaptionTrack{
			"en": {{URL: "http://subs/manual.vtt", Ext: "vtt"}},
		},
		AutoCaptions: map[string][]CaptionTrack{
			"en": {{URL: "http://subs/auto.vtt", Ext: "vtt"}},
		},
	}
	got := c.PickCaptions(info, []string{"en"})
	if got == nil || got.Auto {
		t.Fatalf("want manual track, got %+v", got)
	}
	if got.Track.URL != "http://subs/manual.vtt" {
		t.Fatalf("track url: %q", got.Track.URL)
	}
}

func TestPickCaptionsFallsBackToAutoAndVariants(t *testing.T) {
	c := newTestClient(t)
	info := &VideoInfo{
		AutoCaptions: map[string][]CaptionTrack{
			"en-orig": {
				{URL: "http://subs/auto.srv3", Ext: "srv3"},
				{URL: "http://subs/auto.vtt", Ext: "vtt"},
			},
		},
	}
	got := c.PickCaptions(info, []string{"en"})
	if got == nil || !got.Auto {
		t.Fatalf("want auto track, got %+v", got)
	}
	if got.Language != "en-orig" {
		t.Fatalf("language: %q", got.Language)
	}
	if got.Track.Ext != "vtt" {
		t.Fatalf("must pick the vtt rendition, got %+v", got.Track)
	}
}

func TestPickCaptionsLanguageOrder(t *testing.T) {
	c := newTestClient(t)
	info := &VideoInfo{
		Subtitles: map[string][]CaptionTrack{
			"de": {{URL: "http://subs/de.vtt", Ext: "vtt"}},
			"fr": {{URL: "http://subs/fr.vtt", Ext: "vtt"}},
		},
	}
	got := c.PickCaptions(info, []string{"fr", "de"})
	if got == nil || got.Language != "fr" {
		t.Fatalf("want fr first, got %+v", got)
	}
	if c.PickCaptions(info, []string{"ja"}) != nil {
		t.Fatalf("no match should yield nil")
	}
}

func TestProgressLineParsing(t *testing.T) {
	cases := map[string]string{
		"[download]  45.2% of 10.00MiB at 1.00MiB/s ETA 00:05": "45.2",
		"[download] 100% of 10.00MiB in 00:10":                 "100",
		"[info] Downloading video":                             "",
	}
	for line, want := range cases {
		m := progressRe.FindStringSubmatch(line)
		if want == "" {
			if m != nil {
				t.Fatalf("line %q should not match", line)
			}
			continue
		}
		if m == nil || m[1] != want {
			t.Fatalf("line %q: want %q got %v", line, want, m)
		}
	}
}

func TestNewestDownloadSkipsPartials(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"audio.m4a.part", "audio.ytdl", "other.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if _, err := newestDownload(dir); err == nil {
		t.Fatalf("partials only should be an error")
	}

	if err := os.WriteFile(filepath.Join(dir, "audio.m4a"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	path, err := newestDownload(dir)
	if err != nil {
		t.Fatalf("newestDownload: %v", err)
	}
	if filepath.Base(path) != "audio.m4a" {
		t.Fatalf("path: %q", path)
	}
}
