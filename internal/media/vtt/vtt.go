// Package vtt parses WebVTT caption files into time-coded transcript
// segments. YouTube auto-captions repeat rolling text windows, so parsing
// is followed by a merge pass that collapses near-duplicate cues.
package vtt

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/vidscribe-backend/internal/domain/media"
)

// Cues whose start times differ by less than this merge when one text is a
// prefix of the other.
const mergeStartWindow = 0.5

var (
	inlineTagRE = regexp.MustCompile(`<[^>]*>`)
	numericRE   = regexp.MustCompile(`^\d+$`)

	// HH:MM:SS.mmm with optional hours; comma tolerated in place of dot.
	timestampRE = regexp.MustCompile(`^(?:(\d{1,3}):)?(\d{1,2}):(\d{2})[.,](\d{1,3})$`)

	entities = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&nbsp;", " ",
	)
)

type cue struct {
	start float64
	end   float64
	text  string
}

// Parse converts a raw VTT document into ordered segments. Malformed cues
// are skipped rather than failing the document; caption files in the wild
// are never pristine. Speaker is always nil, captions carry no diarization.
func Parse(raw string) []media.Segment {
	cues := parseCues(raw)
	cues = mergeCues(cues)

	segments := make([]media.Segment, 0, len(cues))
	for _, c := range cues {
		segments = append(segments, media.Segment{Start: c.start, End: c.end, Text: c.text})
	}
	return segments
}

func parseCues(raw string) []cue {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var cues []cue
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])

		switch {
		case line == "":
			i++
		case strings.HasPrefix(line, "WEBVTT"),
			strings.HasPrefix(line, "Kind:"),
			strings.HasPrefix(line, "Language:"):
			i++
		case strings.HasPrefix(line, "NOTE"),
			strings.HasPrefix(line, "STYLE"),
			strings.HasPrefix(line, "REGION"):
			// block runs to the next blank line
			for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
				i++
			}
		case strings.Contains(line, "-->"):
			start, end, ok := parseTiming(line)
			i++
			var parts []string
			for i < len(lines) {
				text := strings.TrimSpace(lines[i])
				if text == "" || strings.Contains(text, "-->") {
					break
				}
				i++
				if numericRE.MatchString(text) || strings.HasPrefix(text, "NOTE") {
					continue
				}
				parts = append(parts, text)
			}
			if !ok || end < start {
				continue
			}
			text := normalizeText(strings.Join(parts, " "))
			if text == "" {
				continue
			}
			cues = append(cues, cue{start: start, end: end, text: text})
		default:
			// cue identifier or stray metadata
			i++
		}
	}

	sort.SliceStable(cues, func(a, b int) bool { return cues[a].start < cues[b].start })
	return cues
}

// parseTiming reads "start --> end", ignoring cue settings that follow the
// end timestamp (align, position).
func parseTiming(line string) (float64, float64, bool) {
	left, right, found := strings.Cut(line, "-->")
	if !found {
		return 0, 0, false
	}
	start, ok := parseTimestamp(strings.TrimSpace(left))
	if !ok {
		return 0, 0, false
	}
	rightFields := strings.Fields(strings.TrimSpace(right))
	if len(rightFields) == 0 {
		return 0, 0, false
	}
	end, ok := parseTimestamp(rightFields[0])
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func parseTimestamp(s string) (float64, bool) {
	m := timestampRE.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	hours := 0
	if m[1] != "" {
		hours, _ = strconv.Atoi(m[1])
	}
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	millis, _ := strconv.Atoi(padMillis(m[4]))
	return float64(hours)*3600 + float64(minutes)*60 + float64(seconds) + float64(millis)/1000, true
}

// padMillis right-pads short fractional parts: ".5" means 500ms, not 5ms.
func padMillis(s string) string {
	for len(s) < 3 {
		s += "0"
	}
	return s
}

func normalizeText(s string) string {
	// Karaoke-style timing tags sit inside words, so tags strip to nothing.
	s = inlineTagRE.ReplaceAllString(s, "")
	s = entities.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// mergeCues collapses rolling-window duplicates: consecutive cues whose
// starts sit within mergeStartWindow and whose texts stand in a prefix
// relation become one cue spanning both, keeping the longer text.
func mergeCues(cues []cue) []cue {
	if len(cues) == 0 {
		return cues
	}
	out := make([]cue, 0, len(cues))
	out = append(out, cues[0])
	for _, c := range cues[1:] {
		prev := &out[len(out)-1]
		if c.start-prev.start < mergeStartWindow && prefixRelated(prev.text, c.text) {
			if len(c.text) > len(prev.text) {
				prev.text = c.text
			}
			if c.end > prev.end {
				prev.end = c.end
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

func prefixRelated(a, b string) bool {
	if len(a) <= len(b) {
		return strings.HasPrefix(b, a)
	}
	return strings.HasPrefix(a, b)
}
