package chunker

import "regexp"

// Segment is a slice of the source text with its byte offsets recorded.
// Offsets always refer to the text the detector was given.
type Segment struct {
	Text  string
	Start int
	End   int
}

// BoundaryDetector segments text into sentences and paragraphs. The default
// implementation is heuristic (punctuation and blank lines); callers that need
// stricter segmentation can substitute a tokenizer-backed detector without
// touching the chunking algorithms.
type BoundaryDetector interface {
	Sentences(text string) []Segment
	Paragraphs(text string) []Segment
}

// ScanDetector is the default boundary detector. Sentences end at '.', '!' or
// '?' (plus trailing closers) followed by whitespace or end of text; paragraphs
// are separated by blank lines. Known weaknesses: abbreviations and non-Latin
// punctuation.
type ScanDetector struct{}

var paragraphSepRe = regexp.MustCompile(`\n[ \t]*\n+`)

// Sentences splits text into sentence segments, tracking offsets as it scans.
func (ScanDetector) Sentences(text string) []Segment {
	var segs []Segment
	start := 0
	for i := 0; i < len(text); i++ {
		if !isSentenceEnd(text[i]) {
			continue
		}
		// Consume any run of terminators and closing quotes/brackets.
		j := i + 1
		for j < len(text) && isSentenceTail(text[j]) {
			j++
		}
		if j < len(text) && !isSpaceByte(text[j]) {
			// Mid-word punctuation (e.g. "v1.2"), not a boundary.
			i = j - 1
			continue
		}
		if seg, ok := trimSegment(text, start, j); ok {
			segs = append(segs, seg)
		}
		for j < len(text) && isSpaceByte(text[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(text) {
		if seg, ok := trimSegment(text, start, len(text)); ok {
			segs = append(segs, seg)
		}
	}
	return segs
}

// Paragraphs splits text at blank-line separators, tracking offsets.
func (ScanDetector) Paragraphs(text string) []Segment {
	var segs []Segment
	start := 0
	for _, sep := range paragraphSepRe.FindAllStringIndex(text, -1) {
		if seg, ok := trimSegment(text, start, sep[0]); ok {
			segs = append(segs, seg)
		}
		start = sep[1]
	}
	if seg, ok := trimSegment(text, start, len(text)); ok {
		segs = append(segs, seg)
	}
	return segs
}

// trimSegment shrinks [start,end) past surrounding whitespace so the recorded
// offsets point at the content itself.
func trimSegment(text string, start, end int) (Segment, bool) {
	for start < end && isSpaceByte(text[start]) {
		start++
	}
	for end > start && isSpaceByte(text[end-1]) {
		end--
	}
	if start >= end {
		return Segment{}, false
	}
	return Segment{Text: text[start:end], Start: start, End: end}, true
}

func isSentenceEnd(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isSentenceTail(c byte) bool {
	return isSentenceEnd(c) || c == '"' || c == '\'' || c == ')' || c == ']'
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t'
}
