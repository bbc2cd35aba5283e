package chunker

// Strategy selects how a document is split into chunks.
type Strategy string

const (
	StrategySentences  Strategy = "sentences"
	StrategyParagraphs Strategy = "paragraphs"
	StrategyTokens     Strategy = "tokens"
	StrategyMarkdown   Strategy = "markdown"
	StrategyAuto       Strategy = "auto"
)

// charsPerToken is the heuristic ratio used for all token estimates.
// It approximates typical English tokenizer output; it is not an exact count.
const charsPerToken = 4

// Options controls chunk sizing. All fields are in estimated tokens.
// An Options value is immutable once passed to a chunking call; there is no
// shared mutable default.
type Options struct {
	// ChunkSize is the target maximum size of a chunk.
	ChunkSize int
	// ChunkOverlap is how much trailing content from a closed chunk seeds
	// the next chunk. Must be smaller than ChunkSize.
	ChunkOverlap int
	// MinChunkSize is the smallest chunk worth emitting on its own; a final
	// fragment below it is merged into the previous chunk.
	MinChunkSize int
}

// DefaultOptions returns the documented default sizing.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    512,
		ChunkOverlap: 64,
		MinChunkSize: 64,
	}
}

// normalized clamps invalid combinations instead of failing: the chunker never
// blocks ingestion over a bad configuration.
func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultOptions().ChunkSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 8
	}
	if o.MinChunkSize < 0 || o.MinChunkSize > o.ChunkSize {
		o.MinChunkSize = o.ChunkSize / 8
	}
	return o
}

// TokenEstimate estimates the token count of s using the 4-characters-per-token
// heuristic. The result is an approximation for sizing, not ground truth.
func TokenEstimate(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}
