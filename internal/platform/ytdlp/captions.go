package ytdlp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
)

const (
	captionFetchTimeout = 30 * time.Second
	maxCaptionBytes     = 20 << 20
)

// PickCaptions walks preferred languages over manual subtitles first, then
// auto-generated ones. Language matching accepts regional variants, so "en"
// picks up "en-US" and "en-orig".
func (c *client) PickCaptions(info *VideoInfo, preferredLangs []string) *Captions {
	if info == nil {
		return nil
	}
	if len(preferredLangs) == 0 {
		preferredLangs = []string{"en"}
	}
	for _, auto := range []bool{false, true} {
		tracks := info.Subtitles
		if auto {
			tracks = info.AutoCaptions
		}
		if len(tracks) == 0 {
			continue
		}
		for _, lang := range preferredLangs {
			matchedLang, track := findVTTTrack(tracks, lang)
			if track == nil {
				continue
			}
			return &Captions{
				Track:    *track,
				Language: matchedLang,
				Auto:     auto,
			}
		}
	}
	return nil
}

func findVTTTrack(tracks map[string][]CaptionTrack, lang string) (string, *CaptionTrack) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "", nil
	}
	// Exact language key first, then regional variants.
	if track := vttRendition(tracks[lang]); track != nil {
		return lang, track
	}
	for key, renditions := range tracks {
		lower := strings.ToLower(key)
		if lower == lang || strings.HasPrefix(lower, lang+"-") {
			if track := vttRendition(renditions); track != nil {
				return key, track
			}
		}
	}
	return "", nil
}

func vttRendition(renditions []CaptionTrack) *CaptionTrack {
	for i := range renditions {
		if strings.EqualFold(renditions[i].Ext, "vtt") && strings.TrimSpace(renditions[i].URL) != "" {
			return &renditions[i]
		}
	}
	return nil
}

func (c *client) FetchCaptions(ctx context.Context, captions *Captions) (string, error) {
	if captions == nil || strings.TrimSpace(captions.Track.URL) == "" {
		return "", fmt.Errorf("caption track url required")
	}
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), captionFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, captions.Track.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch captions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch captions: status=%d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionBytes))
	if err != nil {
		return "", fmt.Errorf("read captions: %w", err)
	}
	return string(raw), nil
}
