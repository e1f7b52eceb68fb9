package vtt

import (
	"math"
	"testing"
)

const sampleDoc = `WEBVTT
Kind: captions
Language: en

1
00:00:01.000 --> 00:00:04.000
Hello <c>world</c>, welcome
to the show.

2
00:00:04.000 --> 00:00:07.500 align:start position:0%
Today we talk about Go.
`

func TestParseBasicDocument(t *testing.T) {
	segs := Parse(sampleDoc)
	if len(segs) != 2 {
		t.Fatalf("segments: got=%d want=2", len(segs))
	}
	if segs[0].Start != 1.0 || segs[0].End != 4.0 {
		t.Fatalf("first timing: %+v", segs[0])
	}
	if segs[0].Text != "Hello world, welcome to the show." {
		t.Fatalf("first text: %q", segs[0].Text)
	}
	if segs[1].Start != 4.0 || segs[1].End != 7.5 {
		t.Fatalf("second timing: %+v", segs[1])
	}
	if segs[1].Text != "Today we talk about Go." {
		t.Fatalf("second text: %q", segs[1].Text)
	}
	if segs[0].Speaker != nil {
		t.Fatalf("captions must not carry speakers")
	}
}

func TestParseTimestampVariants(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"00:00:01.500", 1.5},
		{"01:02:03.250", 3723.25},
		{"02:03.250", 123.25},
		{"00:00:01,500", 1.5}, // comma separator
		{"01:01.5", 61.5},     // short fraction means 500ms
	}
	for _, c := range cases {
		got, ok := parseTimestamp(c.in)
		if !ok {
			t.Fatalf("parseTimestamp(%q) failed", c.in)
		}
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("parseTimestamp(%q): got=%v want=%v", c.in, got, c.want)
		}
	}
	if _, ok := parseTimestamp("not a time"); ok {
		t.Fatalf("garbage timestamp accepted")
	}
}

func TestParseMergesRollingCaptions(t *testing.T) {
	doc := `WEBVTT

00:00:00.000 --> 00:00:02.000
so today we're going

00:00:00.120 --> 00:00:04.100
so today we're going to look at channels

00:00:04.100 --> 00:00:06.000
so today we're going somewhere else entirely
`
	segs := Parse(doc)
	if len(segs) != 2 {
		t.Fatalf("segments: got=%d want=2 (%+v)", len(segs), segs)
	}
	if segs[0].Text != "so today we're going to look at channels" {
		t.Fatalf("merged text: %q", segs[0].Text)
	}
	if segs[0].Start != 0 || segs[0].End != 4.1 {
		t.Fatalf("merged span: %+v", segs[0])
	}
	// Third cue shares a prefix but starts 4s later, so it stays separate.
	if segs[1].Start != 4.1 {
		t.Fatalf("unmerged cue: %+v", segs[1])
	}
}

func TestParseDoesNotMergeUnrelatedText(t *testing.T) {
	doc := `WEBVTT

00:00:00.000 --> 00:00:02.000
first line here

00:00:00.200 --> 00:00:02.500
completely different words
`
	segs := Parse(doc)
	if len(segs) != 2 {
		t.Fatalf("segments: got=%d want=2", len(segs))
	}
}

func TestParseSkipsNoteAndStyleBlocks(t *testing.T) {
	doc := `WEBVTT

NOTE
This is a comment
spanning two lines

STYLE
::cue { color: red }

00:00:01.000 --> 00:00:02.000
actual text
`
	segs := Parse(doc)
	if len(segs) != 1 || segs[0].Text != "actual text" {
		t.Fatalf("got=%+v", segs)
	}
}

func TestParseSkipsMalformedCues(t *testing.T) {
	doc := `WEBVTT

garbage --> 00:00:02.000
dropped, bad start

00:00:05.000 --> 00:00:03.000
dropped, ends before it starts

00:00:06.000 --> 00:00:07.000
<c></c>

00:00:08.000 --> 00:00:09.000
kept
`
	segs := Parse(doc)
	if len(segs) != 1 || segs[0].Text != "kept" {
		t.Fatalf("got=%+v", segs)
	}
}

func TestParseDecodesEntities(t *testing.T) {
	doc := `WEBVTT

00:00:01.000 --> 00:00:02.000
Tom &amp; Jerry don&#39;t stop
`
	segs := Parse(doc)
	if len(segs) != 1 || segs[0].Text != "Tom & Jerry don't stop" {
		t.Fatalf("got=%+v", segs)
	}
}

func TestParseOrderingInvariants(t *testing.T) {
	// Cues deliberately out of order; output must be nondecreasing.
	doc := `WEBVTT

00:00:10.000 --> 00:00:12.000
later cue

00:00:02.000 --> 00:00:04.000
earlier cue
`
	segs := Parse(doc)
	if len(segs) != 2 {
		t.Fatalf("segments: got=%d", len(segs))
	}
	for i, s := range segs {
		if s.End < s.Start {
			t.Fatalf("segment %d ends before start: %+v", i, s)
		}
		if i > 0 && s.Start < segs[i-1].Start {
			t.Fatalf("starts not monotonic at %d: %+v", i, segs)
		}
	}
}

func TestParseEmptyInput(t *testing.T) {
	if segs := Parse(""); len(segs) != 0 {
		t.Fatalf("got=%+v", segs)
	}
	if segs := Parse("WEBVTT\n\n"); len(segs) != 0 {
		t.Fatalf("got=%+v", segs)
	}
}
