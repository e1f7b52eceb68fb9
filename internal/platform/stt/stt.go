// Package stt turns stored audio into timed transcript segments.
package stt

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// Segment is one timed span of recognized speech. Speaker is set only when
// diarization ran.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *string `json:"speaker"`
}

// Result is a full transcription.
type Result struct {
	Segments         []Segment `json:"segments"`
	FullText         string    `json:"full_text"`
	Language         string    `json:"language"`
	WordCount        int       `json:"word_count"`
	DurationSeconds  float64   `json:"duration_seconds"`
	HasSpeakerLabels bool      `json:"has_speaker_labels"`
}

// Config selects language and diarization behavior for one transcription.
type Config struct {
	LanguageCode        string
	EnableSpeakerLabels bool
	MinSpeakers         int
	MaxSpeakers         int
}

// Transcriber is the speech-to-text surface. TranscribeBytes carries the
// audio inline and is bounded by the provider's request size cap (about
// 10 MB); TranscribeURI hands the provider a storage URI and handles long
// audio.
type Transcriber interface {
	TranscribeBytes(ctx context.Context, audio []byte, filename string, cfg Config) (*Result, error)
	TranscribeURI(ctx context.Context, uri string, cfg Config) (*Result, error)
	Close() error
}

// word is one recognized word with its timing and speaker tag.
type word struct {
	text    string
	start   float64
	end     float64
	speaker int
}

// segmentWords builds segments from word timings: by speaker turn when
// diarization produced tags, else by a fixed time window.
func segmentWords(words []word, diarized bool, windowSec float64) []Segment {
	if len(words) == 0 {
		return nil
	}
	if diarized {
		return groupBySpeaker(words)
	}
	return groupByTime(words, windowSec)
}

func groupBySpeaker(words []word) []Segment {
	var segs []Segment
	curSpeaker := words[0].speaker
	curStart := words[0].start
	curEnd := words[0].end
	var buf strings.Builder

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		segs = append(segs, Segment{
			Start:   curStart,
			End:     curEnd,
			Text:    text,
			Speaker: speakerLabel(curSpeaker),
		})
		buf.Reset()
	}

	for _, w := range words {
		if w.speaker != curSpeaker && buf.Len() > 0 {
			flush()
			curSpeaker = w.speaker
			curStart = w.start
			curEnd = w.end
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.text)
		curEnd = math.Max(curEnd, w.end)
	}
	flush()
	return segs
}

func groupByTime(words []word, windowSec float64) []Segment {
	if windowSec <= 0 {
		windowSec = 10
	}
	var segs []Segment
	curStart := words[0].start
	curEnd := words[0].end
	var buf strings.Builder

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		segs = append(segs, Segment{Start: curStart, End: curEnd, Text: text})
		buf.Reset()
	}

	for _, w := range words {
		if (w.start-curStart) >= windowSec && buf.Len() > 0 {
			flush()
			curStart = w.start
			curEnd = w.end
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.text)
		if w.end > curEnd {
			curEnd = w.end
		}
	}
	flush()
	return segs
}

func speakerLabel(tag int) *string {
	if tag <= 0 {
		return nil
	}
	label := "Speaker " + strconv.Itoa(tag)
	return &label
}

// buildResult assembles the final transcription from segments.
func buildResult(segments []Segment, fallbackText, language string, diarized bool) *Result {
	var full strings.Builder
	var duration float64
	labeled := false
	for _, seg := range segments {
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(seg.Text)
		if seg.End > duration {
			duration = seg.End
		}
		if seg.Speaker != nil {
			labeled = true
		}
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		text = strings.TrimSpace(fallbackText)
	}
	return &Result{
		Segments:         segments,
		FullText:         text,
		Language:         primaryLanguage(language),
		WordCount:        len(strings.Fields(text)),
		DurationSeconds:  duration,
		HasSpeakerLabels: diarized && labeled,
	}
}

// primaryLanguage reduces a BCP-47 code to its language subtag ("en-US" to
// "en").
func primaryLanguage(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		return strings.ToLower(code[:i])
	}
	return strings.ToLower(code)
}
