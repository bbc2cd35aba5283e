package embedding

import "fmt"

// DefaultModel is used when callers do not specify an embedding model.
const DefaultModel = "text-embedding-3-small"

// MaxBatchSize is the provider's hard limit on texts per embedding request.
const MaxBatchSize = 2048

// ModelInfo describes a supported embedding model. Dimensions are fixed per
// model; price is USD per million tokens and feeds pre-flight estimates only,
// never billing truth.
type ModelInfo struct {
	Dimensions            int
	PricePerMillionTokens float64
}

var supportedModels = map[string]ModelInfo{
	"text-embedding-3-small": {Dimensions: 1536, PricePerMillionTokens: 0.02},
	"text-embedding-3-large": {Dimensions: 3072, PricePerMillionTokens: 0.13},
	"text-embedding-ada-002": {Dimensions: 1536, PricePerMillionTokens: 0.10},
}

// ModelDimensions returns the fixed vector dimension for a supported model.
func ModelDimensions(model string) (int, error) {
	info, ok := supportedModels[model]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	return info.Dimensions, nil
}

// EstimateCost returns an offline token and USD estimate for embedding texts
// with the given model, using the 4-characters-per-token heuristic.
func EstimateCost(texts []string, model string) (tokens int, usd float64, err error) {
	info, ok := supportedModels[model]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}
	for _, t := range texts {
		tokens += estimateTokens(t)
	}
	usd = float64(tokens) / 1_000_000 * info.PricePerMillionTokens
	return tokens, usd, nil
}

// estimateTokens approximates token count as ceil(len/4).
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
