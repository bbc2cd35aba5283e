package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a client whose raw call and timers are stubbed.
// Recorded sleeps let retry scheduling be asserted without real waiting.
func newTestClient(raw func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)) (*Client, *[]time.Duration) {
	sleeps := &[]time.Duration{}
	c := &Client{
		timeout: DefaultTimeout,
		raw:     raw,
		sleep: func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
		jitter: func() time.Duration { return 0 },
	}
	return c, sleeps
}

// fakeResponse builds a provider response for the given texts, with vectors of
// the model dimension whose first value marks the input position. order, if
// non-nil, permutes the response data to simulate out-of-order delivery.
func fakeResponse(n int, order []int) *openai.CreateEmbeddingResponse {
	resp := &openai.CreateEmbeddingResponse{
		Model: DefaultModel,
		Usage: openai.CreateEmbeddingResponseUsage{
			PromptTokens: int64(n * 10),
			TotalTokens:  int64(n * 10),
		},
	}
	positions := order
	if positions == nil {
		positions = make([]int, n)
		for i := range positions {
			positions[i] = i
		}
	}
	for _, idx := range positions {
		vec := make([]float64, 1536)
		vec[0] = float64(idx)
		resp.Data = append(resp.Data, openai.Embedding{Embedding: vec, Index: int64(idx)})
	}
	return resp
}

func TestEmbed_EmptyInputBeforeNetworkCall(t *testing.T) {
	calls := 0
	c, _ := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		calls++
		return fakeResponse(1, nil), nil
	})

	_, err := c.Embed(context.Background(), []string{"   ", ""}, DefaultModel)
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, calls, "no network call should be attempted")
}

func TestEmbed_InvalidModel(t *testing.T) {
	calls := 0
	c, _ := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		calls++
		return fakeResponse(1, nil), nil
	})

	_, err := c.Embed(context.Background(), []string{"hello"}, "not-a-model")
	require.ErrorIs(t, err, ErrInvalidModel)
	assert.Equal(t, 0, calls)
}

func TestEmbed_BatchTooLarge(t *testing.T) {
	c, _ := newTestClient(nil)
	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "x"
	}
	_, err := c.Embed(context.Background(), texts, DefaultModel)
	require.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestEmbed_ResortsProviderOrder(t *testing.T) {
	c, _ := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		// Provider returns results scrambled.
		return fakeResponse(4, []int{2, 0, 3, 1}), nil
	})

	res, err := c.Embed(context.Background(), []string{"a", "b", "c", "d"}, DefaultModel)
	require.NoError(t, err)
	require.Len(t, res.Embeddings, 4)
	for i, v := range res.Embeddings {
		assert.Equal(t, float32(i), v.Values[0], "embedding %d out of input order", i)
		assert.Equal(t, 1536, v.Dimensions)
		assert.Equal(t, DefaultModel, v.Model)
	}
	assert.Equal(t, 40, res.Usage.TotalTokens)
}

func TestEmbedOne(t *testing.T) {
	c, _ := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		return fakeResponse(1, nil), nil
	})

	vec, err := c.EmbedOne(context.Background(), "query text", DefaultModel)
	require.NoError(t, err)
	assert.Equal(t, 1536, vec.Dimensions)
}

func TestEmbedBatched_PreservesOrderAcrossBatches(t *testing.T) {
	var batchSizes []int
	next := 0
	c, sleeps := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		n := len(params.Input.OfArrayOfStrings)
		batchSizes = append(batchSizes, n)
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		resp := fakeResponse(n, order)
		// Mark vectors with their global position so cross-batch order is
		// observable.
		for i := range resp.Data {
			resp.Data[i].Embedding[1] = float64(next)
			next++
		}
		return resp, nil
	})

	texts := []string{"t0", "t1", "t2", "t3", "t4"}
	var progress []int
	res, err := c.EmbedBatched(context.Background(), texts, DefaultModel, 2, func(done, total int) {
		progress = append(progress, done)
		assert.Equal(t, 5, total)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, batchSizes, "batch size smaller than input must partition")
	require.Len(t, res.Embeddings, 5)
	for i, v := range res.Embeddings {
		assert.Equal(t, float32(i), v.Values[1], "vector %d out of global input order", i)
	}
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Equal(t, 50, res.Usage.TotalTokens, "usage must aggregate across batches")
	// One inter-batch delay between each pair of consecutive batches.
	assert.Equal(t, []time.Duration{batchDelay, batchDelay}, *sleeps)
}

func TestEmbedBatched_AllBlank(t *testing.T) {
	c, _ := newTestClient(nil)
	_, err := c.EmbedBatched(context.Background(), []string{" ", "\n"}, DefaultModel, 10, nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	c, sleeps := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		calls++
		if calls <= 2 {
			return nil, &NetworkError{Err: errors.New("connection reset")}
		}
		return fakeResponse(1, nil), nil
	})

	res, err := c.EmbedWithRetry(context.Background(), Request{Texts: []string{"q"}, Model: DefaultModel}, 3)
	require.NoError(t, err)
	require.Len(t, res.Embeddings, 1)
	assert.Equal(t, 3, calls)
	// Exponential backoff with zero jitter: 1s then 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestEmbedWithRetry_HonorsRetryAfterHint(t *testing.T) {
	calls := 0
	c, sleeps := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		calls++
		if calls == 1 {
			return nil, &RateLimitError{RetryAfter: 30 * time.Second, Message: "slow down"}
		}
		return fakeResponse(1, nil), nil
	})

	_, err := c.EmbedWithRetry(context.Background(), Request{Texts: []string{"q"}, Model: DefaultModel}, 2)
	require.NoError(t, err)
	// The hint wins over the 1s exponential value.
	assert.Equal(t, []time.Duration{30 * time.Second}, *sleeps)
}

func TestEmbedWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	c, sleeps := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		calls++
		return nil, &APIError{StatusCode: 400, Message: "bad request"}
	})

	_, err := c.EmbedWithRetry(context.Background(), Request{Texts: []string{"q"}, Model: DefaultModel}, 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestEmbedWithRetry_ExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	c, _ := newTestClient(func(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
		calls++
		return nil, &APIError{StatusCode: 503, Message: "unavailable"}
	})

	_, err := c.EmbedWithRetry(context.Background(), Request{Texts: []string{"q"}, Model: DefaultModel}, 2)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestEstimateCost(t *testing.T) {
	// 40 chars -> 10 tokens at 4 chars/token.
	texts := []string{"aaaaaaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbbbbbb"}
	tokens, usd, err := EstimateCost(texts, "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, 10, tokens)
	assert.InDelta(t, 10.0/1_000_000*0.02, usd, 1e-12)

	_, _, err = EstimateCost(texts, "mystery-model")
	require.ErrorIs(t, err, ErrInvalidModel)
}

func TestModelDimensions(t *testing.T) {
	dims, err := ModelDimensions("text-embedding-3-large")
	require.NoError(t, err)
	assert.Equal(t, 3072, dims)

	_, err = ModelDimensions("nope")
	require.ErrorIs(t, err, ErrInvalidModel)
}
