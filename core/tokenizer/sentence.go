// Package tokenizer implements an online sentence-boundary detector
// suitable for flushing complete sentences out of a token stream as
// they arrive.
package tokenizer

import (
	"strings"
	"unicode"
)

// abbreviations is the closed set of endings that do not terminate a
// sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"vs": {}, "etc": {}, "inc": {}, "ltd": {}, "co": {}, "corp": {}, "st": {},
	"ave": {}, "blvd": {}, "rd": {}, "apt": {}, "no": {}, "vol": {}, "pg": {},
	"fig": {}, "e.g": {}, "i.e": {}, "a.m": {}, "p.m": {}, "b.c": {}, "a.d": {},
	"ph.d": {}, "m.d": {},
}

const sentenceEnders = ".!?"

// DefaultMinSentenceLength is the minimum character count for a valid
// emitted sentence.
const DefaultMinSentenceLength = 10

// SentenceDetector consumes text fragments and maintains an internal
// buffer, emitting completed sentences as soon as a real boundary is
// found. It is not safe for concurrent use by multiple goroutines.
type SentenceDetector struct {
	minSentenceLength int
	buffer            strings.Builder
	nextIndex         int
}

// Option configures a SentenceDetector.
type Option func(*SentenceDetector)

// WithMinSentenceLength overrides DefaultMinSentenceLength.
func WithMinSentenceLength(n int) Option {
	return func(d *SentenceDetector) { d.minSentenceLength = n }
}

// New creates a SentenceDetector.
func New(opts ...Option) *SentenceDetector {
	d := &SentenceDetector{minSentenceLength: DefaultMinSentenceLength}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Sentence is one completed sentence extracted from the buffer, along
// with the monotonic index assigned to it.
type Sentence struct {
	Text  string
	Index int
}

// Add appends text to the internal buffer and extracts every complete
// sentence now available, in order.
func (d *SentenceDetector) Add(text string) []Sentence {
	d.buffer.WriteString(text)
	return d.extract()
}

func (d *SentenceDetector) extract() []Sentence {
	var out []Sentence
	for {
		buf := d.buffer.String()
		sentence, remaining, ok := findBoundary(buf, d.minSentenceLength)
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(sentence)
		if len(trimmed) >= d.minSentenceLength {
			out = append(out, Sentence{Text: trimmed, Index: d.nextIndex})
			d.nextIndex++
		}
		d.buffer.Reset()
		d.buffer.WriteString(remaining)
	}
	return out
}

// Flush emits any remaining buffered text as a final sentence if it has
// at least 3 characters, then clears the buffer.
func (d *SentenceDetector) Flush() *Sentence {
	remaining := strings.TrimSpace(d.buffer.String())
	d.buffer.Reset()
	if len(remaining) < 3 {
		return nil
	}
	s := Sentence{Text: remaining, Index: d.nextIndex}
	d.nextIndex++
	return &s
}

// findBoundary scans buf for the first real sentence boundary. It
// returns the sentence (including terminal punctuation), the remaining
// buffer, and whether a boundary was found.
func findBoundary(buf string, minLen int) (sentence, remaining string, ok bool) {
	if buf == "" {
		return "", "", false
	}

	runes := []rune(buf)
	for i, r := range runes {
		if strings.ContainsRune(sentenceEnders, r) {
			if isRealBoundary(runes, i, minLen) {
				sentence = string(runes[:i+1])
				remaining = strings.TrimLeft(string(runes[i+1:]), " \t")
				return sentence, remaining, true
			}
		}
	}

	if idx := strings.IndexByte(buf, '\n'); idx > minLen {
		sentence = buf[:idx]
		remaining = buf[idx+1:]
		return sentence, remaining, true
	}

	return "", buf, false
}

// isRealBoundary applies the false-positive rules: abbreviations,
// decimal numbers, ellipsis, and the
// followed-by-whitespace-then-uppercase heuristic.
func isRealBoundary(runes []rune, pos, minLen int) bool {
	if pos >= len(runes)-1 {
		return pos+1 >= minLen
	}

	char := runes[pos]
	next := runes[pos+1]

	if !unicode.IsSpace(next) {
		if char == '.' && unicode.IsDigit(next) {
			return false
		}
		if char == '.' && next == '.' {
			return false
		}
	}

	if char == '.' {
		start := pos
		for start > 0 && isWordRune(runes[start-1]) {
			start--
		}
		word := strings.ToLower(string(runes[start:pos]))
		if _, isAbbrev := abbreviations[word]; isAbbrev {
			return false
		}
		if len(word) == 1 && unicode.IsUpper(runes[start]) {
			return false // single-letter initial, e.g. "J. Smith"
		}
	}

	rest := strings.TrimLeft(string(runes[pos+1:]), " \t")
	if rest != "" && unicode.IsUpper([]rune(rest)[0]) {
		return true
	}

	if unicode.IsSpace(next) && pos+1 > minLen {
		return true
	}

	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r)
}
