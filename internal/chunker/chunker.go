// Package chunker splits raw document text into retrieval-sized chunks with
// token estimates and source offsets. It is pure and stateless: no network
// calls, no shared mutable state, and no fatal failure modes — pathological
// input degrades to coarser chunks instead of erroring.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunk is one contiguous (possibly overlapping-with-neighbors) slice of a
// document. StartChar/EndChar are byte offsets into the normalized document;
// TokenCount is the heuristic estimate, not an exact tokenizer count.
type Chunk struct {
	Content    string
	Index      int
	TokenCount int
	StartChar  int
	EndChar    int
	Metadata   map[string]string
}

// Chunker converts document text into ordered chunk sequences.
type Chunker struct {
	detector BoundaryDetector
}

// New returns a Chunker using the default scanning boundary detector.
func New() *Chunker {
	return &Chunker{detector: ScanDetector{}}
}

// NewWithDetector returns a Chunker using a custom boundary detector.
func NewWithDetector(d BoundaryDetector) *Chunker {
	if d == nil {
		d = ScanDetector{}
	}
	return &Chunker{detector: d}
}

var headingLineRe = regexp.MustCompile(`(?m)^#{1,6}[ \t]`)

// ChunkDocument splits content using the given strategy and options.
// Empty input (after normalization) yields an empty sequence. Chunk indices in
// the result are always the contiguous sequence 0..n-1.
func (c *Chunker) ChunkDocument(content string, opts Options, strategy Strategy) []Chunk {
	text := Normalize(content)
	if text == "" {
		return []Chunk{}
	}
	opts = opts.normalized()

	if strategy == StrategyAuto || strategy == "" {
		strategy = detectStrategy(text)
	}

	var chunks []Chunk
	switch strategy {
	case StrategyMarkdown:
		chunks = c.chunkMarkdown(text, opts)
	case StrategyParagraphs:
		chunks = c.chunkParagraphs(text, 0, opts)
	case StrategyTokens:
		chunks = c.chunkTokens(text, 0, opts)
	default:
		chunks = c.chunkSentences(text, 0, opts)
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// Normalize prepares raw text for chunking: CRLF to LF, tabs to two spaces,
// surrounding whitespace trimmed. Chunk offsets refer to the normalized text.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\t", "  ")
	return strings.TrimSpace(s)
}

// detectStrategy inspects cleaned text: markdown if it has a heading line,
// paragraphs if it has blank-line separation, sentences otherwise.
func detectStrategy(text string) Strategy {
	if headingLineRe.MatchString(text) {
		return StrategyMarkdown
	}
	if paragraphSepRe.MatchString(text) {
		return StrategyParagraphs
	}
	return StrategySentences
}

// chunkSentences greedily packs sentences up to ChunkSize, seeding each new
// chunk with up to ChunkOverlap tokens of trailing sentences from the one just
// closed. base rebases offsets into the original document when text is a slice
// of it.
func (c *Chunker) chunkSentences(text string, base int, opts Options) []Chunk {
	segs := c.detector.Sentences(text)
	if len(segs) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []Segment
	curTokens := 0
	for _, seg := range segs {
		t := TokenEstimate(seg.Text)
		if len(cur) > 0 && curTokens+t > opts.ChunkSize {
			chunks = append(chunks, buildChunk(text, cur, base))
			cur = overlapTail(cur, opts.ChunkOverlap)
			curTokens = segmentTokens(cur)
		}
		cur = append(cur, seg)
		curTokens += t
	}
	return appendTail(chunks, text, cur, base, opts)
}

// chunkParagraphs applies the same greedy/overlap logic at paragraph
// granularity. A paragraph that alone exceeds ChunkSize is recursively split
// with the sentence strategy, offsets rebased onto the document.
func (c *Chunker) chunkParagraphs(text string, base int, opts Options) []Chunk {
	paras := c.detector.Paragraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []Segment
	curTokens := 0
	for _, p := range paras {
		t := TokenEstimate(p.Text)
		if t > opts.ChunkSize {
			if len(cur) > 0 {
				chunks = append(chunks, buildChunk(text, cur, base))
				cur, curTokens = nil, 0
			}
			chunks = append(chunks, c.chunkSentences(p.Text, base+p.Start, opts)...)
			continue
		}
		if len(cur) > 0 && curTokens+t > opts.ChunkSize {
			chunks = append(chunks, buildChunk(text, cur, base))
			cur = overlapTail(cur, opts.ChunkOverlap)
			curTokens = segmentTokens(cur)
		}
		cur = append(cur, p)
		curTokens += t
	}
	return appendTail(chunks, text, cur, base, opts)
}

// chunkTokens packs words against a character budget derived from ChunkSize.
// Overlap is a trailing character slice of the previous chunk, not
// boundary-aware; this is the fallback for text with no natural structure.
func (c *Chunker) chunkTokens(text string, base int, opts Options) []Chunk {
	maxChars := opts.ChunkSize * charsPerToken
	overlapChars := opts.ChunkOverlap * charsPerToken

	var chunks []Chunk
	start := -1
	lastEnd := -1
	i := 0
	for i < len(text) {
		for i < len(text) && isSpaceByte(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}
		ws := i
		for i < len(text) && !isSpaceByte(text[i]) {
			i++
		}
		we := i

		if start < 0 {
			start = ws
		} else if we-start > maxChars && lastEnd > start {
			chunks = append(chunks, sliceChunk(text, start, lastEnd, base))
			os := lastEnd - overlapChars
			if os < start {
				os = start
			}
			for os < lastEnd && !utf8.RuneStart(text[os]) {
				os++
			}
			start = os
		}
		lastEnd = we
	}
	if start >= 0 && lastEnd > start {
		last := sliceChunk(text, start, lastEnd, base)
		if len(chunks) > 0 && last.TokenCount < opts.MinChunkSize {
			mergeChunk(&chunks[len(chunks)-1], last, text, base)
		} else {
			chunks = append(chunks, last)
		}
	}
	return chunks
}

// chunkMarkdown splits at heading boundaries, keeping each heading attached to
// its content. Oversized sections are recursively chunked by paragraph, and
// every derived chunk carries its heading as metadata and a content prefix so
// it is self-contained for retrieval.
func (c *Chunker) chunkMarkdown(text string, opts Options) []Chunk {
	var chunks []Chunk
	for _, sec := range splitSections(text) {
		meta := map[string]string(nil)
		if sec.header != "" {
			meta = map[string]string{"header": sec.header}
		}

		if TokenEstimate(text[sec.start:sec.end]) <= opts.ChunkSize {
			ch := sliceChunk(text, sec.start, sec.end, 0)
			ch.Metadata = meta
			chunks = append(chunks, ch)
			continue
		}

		body := text[sec.bodyStart:sec.end]
		sub := c.chunkParagraphs(body, sec.bodyStart, opts)
		if len(sub) == 0 {
			// Section is one unbreakable run; keep it oversized rather than drop it.
			ch := sliceChunk(text, sec.start, sec.end, 0)
			ch.Metadata = meta
			chunks = append(chunks, ch)
			continue
		}
		for _, ch := range sub {
			if sec.header != "" {
				ch.Content = sec.header + "\n\n" + ch.Content
				ch.TokenCount = TokenEstimate(ch.Content)
				ch.Metadata = map[string]string{"header": sec.header}
			}
			chunks = append(chunks, ch)
		}
	}
	return chunks
}

// section is one heading-delimited region of a markdown document. start covers
// the heading line; bodyStart is the content after it. A document prefix with
// no heading becomes a section with an empty header.
type section struct {
	header    string
	start     int
	bodyStart int
	end       int
}

func splitSections(text string) []section {
	var secs []section
	lineStart := 0
	open := section{start: 0, bodyStart: 0, end: len(text)}
	started := false

	flush := func(end int) {
		for open.start < end && isSpaceByte(text[end-1]) {
			end--
		}
		if end > open.start {
			open.end = end
			secs = append(secs, open)
		}
	}

	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		abs := len(text)
		if lineEnd >= 0 {
			abs = lineStart + lineEnd
		}
		line := text[lineStart:abs]
		if headingLevel(line) > 0 {
			if started || lineStart > 0 {
				flush(lineStart)
			}
			bodyStart := abs
			if bodyStart < len(text) {
				bodyStart++ // past the newline
			}
			open = section{
				header:    strings.TrimSpace(line),
				start:     lineStart,
				bodyStart: bodyStart,
				end:       len(text),
			}
			started = true
		}
		if lineEnd < 0 {
			break
		}
		lineStart = abs + 1
	}
	flush(len(text))
	return secs
}

// headingLevel reports the ATX heading level of a line, or 0.
func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return 0
	}
	if n >= len(line) || (line[n] != ' ' && line[n] != '\t') {
		return 0
	}
	return n
}

// buildChunk makes a chunk covering the span from the first to the last
// segment, content taken as a contiguous slice of text.
func buildChunk(text string, segs []Segment, base int) Chunk {
	return sliceChunk(text, segs[0].Start, segs[len(segs)-1].End, base)
}

func sliceChunk(text string, start, end, base int) Chunk {
	content := text[start:end]
	return Chunk{
		Content:    content,
		TokenCount: TokenEstimate(content),
		StartChar:  base + start,
		EndChar:    base + end,
	}
}

// appendTail closes the final accumulation, merging it into the previous chunk
// when it falls below MinChunkSize and is not the only chunk.
func appendTail(chunks []Chunk, text string, cur []Segment, base int, opts Options) []Chunk {
	if len(cur) == 0 {
		return chunks
	}
	last := buildChunk(text, cur, base)
	if len(chunks) > 0 && last.TokenCount < opts.MinChunkSize {
		mergeChunk(&chunks[len(chunks)-1], last, text, base)
		return chunks
	}
	return append(chunks, last)
}

// mergeChunk extends prev to cover through last's end. Both chunks must share
// the same text/base coordinate space.
func mergeChunk(prev *Chunk, last Chunk, text string, base int) {
	if last.EndChar <= prev.EndChar {
		return
	}
	prev.Content = text[prev.StartChar-base : last.EndChar-base]
	prev.EndChar = last.EndChar
	prev.TokenCount = TokenEstimate(prev.Content)
}

// overlapTail returns the trailing segments whose combined estimate fits in
// overlap tokens, walking backward from the end of the closed chunk.
func overlapTail(segs []Segment, overlap int) []Segment {
	if overlap <= 0 {
		return nil
	}
	total := 0
	i := len(segs)
	for i > 0 {
		t := TokenEstimate(segs[i-1].Text)
		if total+t > overlap {
			break
		}
		total += t
		i--
	}
	if i == len(segs) {
		return nil
	}
	tail := make([]Segment, len(segs)-i)
	copy(tail, segs[i:])
	return tail
}

func segmentTokens(segs []Segment) int {
	total := 0
	for _, s := range segs {
		total += TokenEstimate(s.Text)
	}
	return total
}
