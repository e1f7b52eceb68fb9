package videoingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/domain/media"
	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/media/vtt"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/stt"
	"github.com/yungbote/vidscribe-backend/internal/platform/ytdlp"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

func (p *Pipeline) stageTranscribe(jc *jobrt.Context, v *types.Video) error {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	existing, err := p.transcripts.GetByVideoID(dbc, v.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return p.resumeFromTranscript(jc, v, existing)
	}

	jc.Progress(stageTranscribe, 5, "fetching video metadata")
	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"status":           types.VideoStatusDownloading,
		"progress_percent": 5,
		"error_message":    "",
	}); err != nil {
		return err
	}

	info, err := p.media.GetVideoInfo(jc.Ctx, v.SourceURL)
	if err != nil {
		return errdef.InvalidInput(fmt.Sprintf("fetch video info: %v", err))
	}
	if ok, reason := p.media.Validate(info); !ok {
		return errdef.InvalidInput(reason)
	}
	if err := p.usage.Check(dbc, v.UserID, quota.KindMinutes, math.Ceil(info.DurationSec/60)); err != nil {
		return err
	}
	if err := p.saveMetadata(jc.Ctx, v, info); err != nil {
		return err
	}

	if envutil.Bool("ENABLE_CAPTION_EXTRACTION", true) {
		if caps := p.media.PickCaptions(info, preferredCaptionLanguages()); caps != nil {
			jc.Progress(stageTranscribe, 10, "extracting captions")
			if err := p.bumpVideoProgress(jc.Ctx, v.ID, 10); err != nil {
				return err
			}
			segs, err := p.captionSegments(jc.Ctx, caps)
			if err != nil {
				p.log.Warn("caption extraction failed, falling back to audio",
					"video_id", v.ID, "language", caps.Language, "error", err)
			} else {
				p.log.Info("using caption track", "video_id", v.ID, "language", caps.Language, "auto", caps.Auto)
				return p.finishTranscript(jc, v, info, segs, types.TranscriptSourceCaptions, caps.Language, false)
			}
		}
	}

	return p.transcribeAudio(jc, v, info)
}

// resumeFromTranscript finishes the stage from a transcript a previous
// attempt already produced. Usage is not re-tracked; the transcript row is
// the marker that tracking happened.
func (p *Pipeline) resumeFromTranscript(jc *jobrt.Context, v *types.Video, t *types.Transcript) error {
	p.log.Info("transcript already present, finishing transcription stage", "video_id", v.ID)

	source := v.TranscriptSource
	if source == "" {
		source = types.TranscriptSourceCaptions
		if v.AudioPath != nil {
			source = types.TranscriptSourceWhisper
		}
	}

	updates := map[string]interface{}{
		"transcript_source":      source,
		"transcription_language": t.Language,
		"progress_percent":       100,
	}
	if v.TranscriptPath == nil {
		var segs []media.Segment
		if err := json.Unmarshal(t.Segments, &segs); err != nil {
			return errdef.Parse(fmt.Sprintf("decode stored segments: %v", err))
		}
		path, err := p.store.PutTranscript(jc.Ctx, v.UserID, v.ID, transcriptDoc(v, source, t, segs))
		if err != nil {
			return errors.Join(errdef.ErrTransient, fmt.Errorf("store transcript: %w", err))
		}
		updates["transcript_path"] = path
	}
	if err := p.setVideo(jc.Ctx, v.ID, updates); err != nil {
		return err
	}
	jc.Progress(stageTranscribe, 100, "transcript ready")
	return nil
}

func (p *Pipeline) saveMetadata(ctx context.Context, v *types.Video, info *ytdlp.VideoInfo) error {
	chapters := make([]media.Chapter, 0, len(info.Chapters))
	for _, ch := range info.Chapters {
		chapters = append(chapters, media.Chapter{Title: ch.Title, StartSec: ch.StartTime, EndSec: ch.EndTime})
	}
	chaptersJSON, err := json.Marshal(chapters)
	if err != nil {
		return fmt.Errorf("marshal chapters: %w", err)
	}

	channel := info.Channel
	if channel == "" {
		channel = info.Uploader
	}
	metaJSON, err := json.Marshal(map[string]any{
		"upload_date": info.UploadDate,
		"view_count":  info.ViewCount,
		"like_count":  info.LikeCount,
		"description": truncateRunes(info.Description, 2000),
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	return p.setVideo(ctx, v.ID, map[string]interface{}{
		"source_id":        info.ID,
		"title":            info.Title,
		"channel":          channel,
		"duration_seconds": info.DurationSec,
		"chapters":         datatypes.JSON(chaptersJSON),
		"metadata":         datatypes.JSON(metaJSON),
	})
}

func (p *Pipeline) captionSegments(ctx context.Context, caps *ytdlp.Captions) ([]media.Segment, error) {
	raw, err := p.media.FetchCaptions(ctx, caps)
	if err != nil {
		return nil, fmt.Errorf("fetch captions: %w", err)
	}
	segs := vtt.Parse(raw)
	if len(segs) == 0 {
		return nil, fmt.Errorf("caption track %q parsed to zero cues", caps.Language)
	}
	return segs, nil
}

func (p *Pipeline) transcribeAudio(jc *jobrt.Context, v *types.Video, info *ytdlp.VideoInfo) error {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	if err := p.usage.Check(dbc, v.UserID, quota.KindStorageMB, estimateAudioMB(info)); err != nil {
		return err
	}

	workDir := filepath.Join(os.TempDir(), "vidscribe-ingest", v.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	lastPct := 10
	localPath, _, err := p.media.DownloadAudio(jc.Ctx, v.SourceURL, workDir, func(frac float64) {
		pct := downloadPct(frac)
		if pct < lastPct+5 {
			return
		}
		lastPct = pct
		jc.Progress(stageTranscribe, pct, "downloading audio")
		_ = p.bumpVideoProgress(jc.Ctx, v.ID, pct)
	})
	if err != nil {
		return errors.Join(errdef.ErrTransient, fmt.Errorf("download audio: %w", err))
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open downloaded audio: %w", err)
	}
	storedPath, storedMB, err := p.store.PutAudio(jc.Ctx, v.UserID, v.ID, filepath.Base(localPath), f)
	f.Close()
	if err != nil {
		return errors.Join(errdef.ErrTransient, fmt.Errorf("store audio: %w", err))
	}

	prevMB := 0.0
	if v.AudioSizeMB != nil {
		prevMB = *v.AudioSizeMB
	}
	if terr := p.usage.TrackStorage(dbc, v.UserID, storedMB-prevMB, "audio_download", &v.ID); terr != nil {
		p.log.Warn("storage tracking failed", "video_id", v.ID, "error", terr)
	}

	if err := p.setVideo(jc.Ctx, v.ID, map[string]interface{}{
		"audio_path":       storedPath,
		"audio_size_mb":    storedMB,
		"status":           types.VideoStatusTranscribing,
		"progress_percent": 40,
	}); err != nil {
		return err
	}
	jc.Progress(stageTranscribe, 40, "transcribing audio")

	hb := p.startHeartbeat(jc, v.ID, stageTranscribe, transcriptionETA(info), 85, "transcribing audio")
	res, err := p.transcribe(jc.Ctx, v, storedPath)
	hb.Stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return errors.Join(errdef.ErrTransient, fmt.Errorf("transcribe: %w", err))
	}

	segs := make([]media.Segment, len(res.Segments))
	for i, s := range res.Segments {
		segs[i] = media.Segment{Start: s.Start, End: s.End, Text: s.Text, Speaker: s.Speaker}
	}
	return p.finishTranscript(jc, v, info, segs, types.TranscriptSourceWhisper, res.Language, res.HasSpeakerLabels)
}

func (p *Pipeline) transcribe(ctx context.Context, v *types.Video, storedPath string) (*stt.Result, error) {
	if p.speech == nil {
		return nil, fmt.Errorf("no speech-to-text backend configured and no captions available")
	}
	cfg := sttConfig()
	if uri := p.store.URI(storedPath); strings.HasPrefix(uri, "gs://") {
		return p.speech.TranscribeURI(ctx, uri, cfg)
	}
	rc, _, err := p.store.GetAudio(ctx, v.UserID, v.ID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	audio, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return p.speech.TranscribeBytes(ctx, audio, filepath.Base(storedPath), cfg)
}

// finishTranscript persists the transcript row and document, tracks usage
// once, drops the audio when configured to, and closes out the stage.
func (p *Pipeline) finishTranscript(jc *jobrt.Context, v *types.Video, info *ytdlp.VideoInfo, segs []media.Segment, source, language string, hasSpeakers bool) error {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	if len(segs) == 0 {
		return errdef.InvalidInput("transcription produced no speech segments")
	}
	if language == "" {
		language = info.Language
	}
	if language == "" {
		language = "en"
	}

	fullText := joinSegments(segs)
	durationSeconds := info.DurationSec
	if end := segs[len(segs)-1].End; end > durationSeconds {
		durationSeconds = end
	}

	segJSON, err := json.Marshal(segs)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	row := &types.Transcript{
		VideoID:          v.ID,
		UserID:           v.UserID,
		FullText:         fullText,
		Segments:         datatypes.JSON(segJSON),
		Language:         language,
		WordCount:        len(strings.Fields(fullText)),
		DurationSeconds:  durationSeconds,
		HasSpeakerLabels: hasSpeakers,
	}
	if err := p.transcripts.UpsertByVideoID(dbc, row); err != nil {
		return err
	}

	minutes := durationSeconds / 60
	if terr := p.usage.TrackVideoIngestion(dbc, v.UserID, minutes, 0, v.ID); terr != nil {
		p.log.Warn("usage tracking failed", "video_id", v.ID, "error", terr)
	}
	if source == types.TranscriptSourceWhisper {
		if terr := p.usage.TrackTranscription(dbc, v.UserID, minutes); terr != nil {
			p.log.Warn("usage tracking failed", "video_id", v.ID, "error", terr)
		}
	}

	transcriptPath, err := p.store.PutTranscript(jc.Ctx, v.UserID, v.ID, transcriptDoc(v, source, row, segs))
	if err != nil {
		return errors.Join(errdef.ErrTransient, fmt.Errorf("store transcript: %w", err))
	}

	updates := map[string]interface{}{
		"transcript_source":      source,
		"transcription_language": language,
		"transcript_path":        transcriptPath,
		"progress_percent":       100,
	}

	if source == types.TranscriptSourceWhisper && envutil.Bool("CLEANUP_AUDIO_AFTER_TRANSCRIPTION", true) {
		freed, derr := p.store.DeleteAudio(jc.Ctx, v.UserID, v.ID)
		if derr != nil {
			p.log.Warn("audio cleanup failed", "video_id", v.ID, "error", derr)
		} else {
			if freed > 0 {
				if terr := p.usage.TrackStorage(dbc, v.UserID, -float64(freed)/(1024*1024), "audio_cleanup_after_transcription", &v.ID); terr != nil {
					p.log.Warn("storage tracking failed", "video_id", v.ID, "error", terr)
				}
			}
			updates["audio_path"] = nil
			updates["audio_size_mb"] = nil
		}
	}

	if err := p.setVideo(jc.Ctx, v.ID, updates); err != nil {
		return err
	}
	jc.Progress(stageTranscribe, 100, "transcription complete")
	p.log.Info("transcription complete",
		"video_id", v.ID,
		"source", source,
		"segments", len(segs),
		"words", row.WordCount,
	)
	return nil
}

func transcriptDoc(v *types.Video, source string, t *types.Transcript, segs []media.Segment) map[string]any {
	return map[string]any{
		"video_id":           v.ID,
		"source":             source,
		"language":           t.Language,
		"duration_seconds":   t.DurationSeconds,
		"word_count":         t.WordCount,
		"has_speaker_labels": t.HasSpeakerLabels,
		"segments":           segs,
	}
}

func sttConfig() stt.Config {
	return stt.Config{
		LanguageCode:        envutil.Str("STT_LANGUAGE_CODE", "en-US"),
		EnableSpeakerLabels: envutil.Bool("STT_ENABLE_DIARIZATION", true),
		MinSpeakers:         envutil.Int("STT_MIN_SPEAKERS", 1),
		MaxSpeakers:         envutil.Int("STT_MAX_SPEAKERS", 6),
	}
}

func preferredCaptionLanguages() []string {
	pref := envutil.Str("CAPTION_PREFERRED_LANGUAGE", "en")
	if pref == "en" {
		return []string{"en"}
	}
	return []string{pref, "en"}
}

// estimateAudioMB guesses the audio footprint for the pre-download quota
// check. Opus audio lands near one MB per minute when yt-dlp reports no
// approximate size.
func estimateAudioMB(info *ytdlp.VideoInfo) float64 {
	if info.FilesizeApprox > 0 {
		return float64(info.FilesizeApprox) / (1024 * 1024)
	}
	return info.DurationSec / 60
}

// downloadPct maps a download fraction onto the stage's 10..40 band.
func downloadPct(frac float64) int {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return 10 + int(frac*30)
}

// transcriptionETA sizes the heartbeat climb. Batch recognition usually
// lands near half of real time, with a one minute floor for short clips.
func transcriptionETA(info *ytdlp.VideoInfo) time.Duration {
	sec := info.DurationSec / 2
	if sec < 60 {
		sec = 60
	}
	return time.Duration(sec * float64(time.Second))
}

func joinSegments(segs []media.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
