// Package embedding wraps the OpenAI embedding API with validation, batching,
// and retry semantics. Concurrent callers share no mutable client state; each
// call is bounded by a fixed timeout.
package embedding

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

const (
	// DefaultTimeout bounds a single embedding round-trip.
	DefaultTimeout = 30 * time.Second

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate
	// limits. The provider supports up to MaxBatchSize texts per request, but
	// smaller batches reduce TPM pressure.
	DefaultBatchSize = 500

	// batchDelay is the pause inserted between sequential batches in
	// EmbedBatched, to avoid tripping the provider rate limiter.
	batchDelay = 200 * time.Millisecond
)

// Vector is a fixed-dimension embedding of one text.
type Vector struct {
	Values     []float32
	Dimensions int
	Model      string
}

// Usage is the provider's token accounting for a request.
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// BatchResult holds embeddings in the same order as the (non-blank) input
// texts, plus aggregated usage.
type BatchResult struct {
	Embeddings []Vector
	Model      string
	Usage      Usage
}

// Request describes one embedding call, used with EmbedWithRetry.
type Request struct {
	Texts []string
	Model string
}

// Client generates embeddings via the OpenAI API.
type Client struct {
	api     *openai.Client
	timeout time.Duration

	// Injection points so retry and batching behavior tests run without real
	// timers or network calls.
	raw    func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewClient creates the embedding client. It requires OPENAI_API_KEY in the
// environment; a missing key is a configuration error surfaced immediately.
func NewClient() (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, ErrMissingAPIKey
	}

	// openai-go reads OPENAI_API_KEY from the environment itself.
	api := openai.NewClient()
	c := &Client{
		api:     &api,
		timeout: DefaultTimeout,
		sleep:   sleepContext,
		jitter:  func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
	}
	c.raw = func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		return c.api.Embeddings.New(ctx, params)
	}
	return c, nil
}

// API returns the underlying OpenAI client for reuse by other packages (e.g.
// answer generation).
func (c *Client) API() *openai.Client {
	return c.api
}

// Embed generates embeddings for texts with the given model. Blank texts are
// filtered out first; the result order matches the remaining input order even
// when the provider responds out of order. Validation failures (unknown model,
// oversized batch, all-blank input) surface before any network call.
func (c *Client) Embed(ctx context.Context, texts []string, model string) (*BatchResult, error) {
	if model == "" {
		model = DefaultModel
	}
	info, ok := supportedModels[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}

	filtered := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrEmptyInput
	}
	if len(filtered) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d texts, limit %d", ErrBatchTooLarge, len(filtered), MaxBatchSize)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.raw(callCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: filtered,
		},
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	// The provider does not guarantee response order; re-sort by its declared
	// index before returning.
	data := make([]openai.Embedding, len(resp.Data))
	copy(data, resp.Data)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([]Vector, len(data))
	for i, d := range data {
		if len(d.Embedding) != info.Dimensions {
			return nil, fmt.Errorf("%w: got %d dimensions, model %s expects %d",
				ErrDimensionMismatch, len(d.Embedding), model, info.Dimensions)
		}
		vectors[i] = Vector{
			Values:     toFloat32(d.Embedding),
			Dimensions: info.Dimensions,
			Model:      model,
		}
	}

	return &BatchResult{
		Embeddings: vectors,
		Model:      model,
		Usage: Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// EmbedOne embeds a single text (typically a query string).
func (c *Client) EmbedOne(ctx context.Context, text, model string) (Vector, error) {
	res, err := c.Embed(ctx, []string{text}, model)
	if err != nil {
		return Vector{}, err
	}
	return res.Embeddings[0], nil
}

// EmbedBatched partitions texts into fixed-size batches and issues them
// sequentially (never concurrently, to respect provider rate limits), with a
// small delay between batches. progress, if non-nil, is called after each
// batch with the number of texts completed. Output order matches input order
// and usage is aggregated across batches.
func (c *Client) EmbedBatched(ctx context.Context, texts []string, model string, batchSize int, progress func(completed, total int)) (*BatchResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	filtered := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrEmptyInput
	}

	result := &BatchResult{Model: model}
	for i := 0; i < len(filtered); i += batchSize {
		end := min(i+batchSize, len(filtered))

		batch, err := c.Embed(ctx, filtered[i:end], model)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		result.Embeddings = append(result.Embeddings, batch.Embeddings...)
		result.Model = batch.Model
		result.Usage.PromptTokens += batch.Usage.PromptTokens
		result.Usage.TotalTokens += batch.Usage.TotalTokens

		if progress != nil {
			progress(end, len(filtered))
		}
		if end < len(filtered) {
			if err := c.sleep(ctx, batchDelay); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// toFloat32 narrows the provider's float64 values for storage compatibility.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
