package tokens

import (
	"strings"
	"unicode"
)

// Estimate approximates the token count of text. The platform never
// ships a model tokenizer; the word heuristic tracks BPE output closely
// enough for chunk sizing and budget checks.
func Estimate(text string) int {
	return EstimateWords(wordCount(text))
}

// EstimateWords is Estimate for a precomputed word count. Callers that
// accumulate text across pieces must estimate over the summed word count:
// summing per-piece estimates drifts, the truncation loses up to a token
// per piece.
func EstimateWords(words int) int {
	if words == 0 {
		return 0
	}
	n := int(float64(words) * 1.3)
	if n < 1 {
		n = 1
	}
	return n
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// Words lowercases and extracts alphanumeric word runs.
func Words(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "inc": {}, "ltd": {}, "co": {},
	"e.g": {}, "i.e": {}, "u.s": {}, "u.k": {}, "a.m": {}, "p.m": {},
	"no": {}, "vol": {}, "approx": {},
}

// SplitSentences cuts text on sentence-final punctuation followed by
// whitespace and an uppercase letter, keeping abbreviations and decimal
// numbers intact. The terminator stays attached to its sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// run of terminators ("?!", "...") collapses to one boundary
		end := i
		for end+1 < len(runes) && (runes[end+1] == '.' || runes[end+1] == '!' || runes[end+1] == '?') {
			end++
		}
		if r == '.' {
			if isDecimalDot(runes, i) || isAbbreviationDot(runes, start, i) {
				continue
			}
		}
		// boundary requires whitespace then an uppercase opener
		j := end + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == end+1 && j < len(runes) {
			continue // no whitespace after terminator
		}
		if j < len(runes) && !unicode.IsUpper(runes[j]) && !unicode.IsDigit(runes[j]) && runes[j] != '"' && runes[j] != '\'' {
			continue
		}
		s := strings.TrimSpace(string(runes[start : end+1]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = end
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func isDecimalDot(runes []rune, i int) bool {
	return i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}

func isAbbreviationDot(runes []rune, start, i int) bool {
	// token immediately before the dot
	j := i - 1
	for j >= start && (unicode.IsLetter(runes[j]) || runes[j] == '.') {
		j--
	}
	tok := strings.ToLower(strings.TrimSuffix(string(runes[j+1:i]), "."))
	if tok == "" {
		return false
	}
	if len([]rune(tok)) == 1 && !strings.ContainsAny(tok, "ai") {
		return true // single-letter initial like "J."
	}
	_, ok := abbreviations[tok]
	return ok
}
