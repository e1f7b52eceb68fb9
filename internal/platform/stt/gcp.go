package stt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/vidscribe-backend/internal/pkg/ctxutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const (
	inlineTimeout = 10 * time.Minute
	uriTimeout    = 30 * time.Minute

	timeWindowSec = 10.0
)

type gcpTranscriber struct {
	log        *logger.Logger
	client     *speech.Client
	maxRetries int
}

// NewGCP builds a transcriber over Google Cloud Speech long-running
// recognition.
func NewGCP(log *logger.Logger) (Transcriber, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	client, err := speech.NewClient(context.Background(), gcpClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &gcpTranscriber{
		log:        log.With("service", "stt.GCP"),
		client:     client,
		maxRetries: 4,
	}, nil
}

func gcpClientOptions() []option.ClientOption {
	if raw := strings.TrimSpace(envutil.Str("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if file := strings.TrimSpace(envutil.Str("GOOGLE_APPLICATION_CREDENTIALS", "")); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func (t *gcpTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *gcpTranscriber) TranscribeBytes(ctx context.Context, audio []byte, filename string, cfg Config) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), inlineTimeout)
	defer cancel()

	if len(audio) == 0 {
		return buildResult(nil, "", cfg.LanguageCode, false), nil
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: buildRecognitionConfig(filename, cfg),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	resp, err := t.recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize(bytes): %w", err)
	}
	return parseResponse(resp, cfg), nil
}

func (t *gcpTranscriber) TranscribeURI(ctx context.Context, uri string, cfg Config) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), uriTimeout)
	defer cancel()

	if !strings.HasPrefix(uri, "gs://") {
		return nil, fmt.Errorf("uri must be gs://... got %q", uri)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: buildRecognitionConfig(uri, cfg),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}},
	}
	resp, err := t.recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize(gcs): %w", err)
	}
	return parseResponse(resp, cfg), nil
}

func buildRecognitionConfig(source string, cfg Config) *speechpb.RecognitionConfig {
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               lang,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		Encoding:                   inferEncoding(source),
	}
	if cfg.EnableSpeakerLabels {
		minSpeakers := cfg.MinSpeakers
		if minSpeakers <= 0 {
			minSpeakers = 1
		}
		maxSpeakers := cfg.MaxSpeakers
		if maxSpeakers < minSpeakers {
			maxSpeakers = minSpeakers
		}
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(minSpeakers),
			MaxSpeakerCount:          int32(maxSpeakers),
		}
	}
	return rc
}

func inferEncoding(source string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func parseResponse(resp *speechpb.LongRunningRecognizeResponse, cfg Config) *Result {
	if resp == nil || len(resp.Results) == 0 {
		return buildResult(nil, "", cfg.LanguageCode, false)
	}

	var words []word
	var full strings.Builder
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(strings.TrimSpace(alt.Transcript))
		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			words = append(words, word{
				text:    w.Word,
				start:   durToSec(w.StartTime),
				end:     durToSec(w.EndTime),
				speaker: int(w.SpeakerTag),
			})
		}
	}

	segments := segmentWords(words, cfg.EnableSpeakerLabels, timeWindowSec)
	if len(segments) == 0 && full.Len() > 0 {
		segments = []Segment{{Text: strings.TrimSpace(full.String())}}
	}
	return buildResult(segments, full.String(), cfg.LanguageCode, cfg.EnableSpeakerLabels)
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

// recognize runs the long-running operation, retrying only the transient
// gRPC codes.
func (t *gcpTranscriber) recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		op, err := t.client.LongRunningRecognize(ctx, req)
		if err == nil {
			resp, werr := op.Wait(ctx)
			if werr == nil {
				return resp, nil
			}
			err = werr
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}
		t.log.Warn("Speech recognize retry", "attempt", attempt+1, "code", code.String(), "error", err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
