package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

// DefaultTimeout bounds a single chat completion call.
const DefaultTimeout = 60 * time.Second

// Request describes one grounded completion.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Response holds the generated answer and usage accounting.
type Response struct {
	Text         string
	TotalTokens  int
	FinishReason string
}

// completionFunc matches the OpenAI chat completion call so tests can
// substitute a fake.
type completionFunc func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)

// Generator produces answers from assembled retrieval context using the
// OpenAI chat completions API.
type Generator struct {
	api     *openai.Client
	timeout time.Duration
	raw     completionFunc
}

// NewGenerator creates a generator sharing the given OpenAI client.
func NewGenerator(client *openai.Client) *Generator {
	g := &Generator{
		api:     client,
		timeout: DefaultTimeout,
	}
	g.raw = func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return client.Chat.Completions.New(ctx, params)
	}
	return g
}

// Generate runs a single chat completion. The request's model, temperature,
// and token limit come from tenant settings.
func (g *Generator) Generate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.User) == "" {
		return nil, fmt.Errorf("generation: user message is empty")
	}
	model := req.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.raw(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return &Response{
		Text:         choice.Message.Content,
		TotalTokens:  int(resp.Usage.TotalTokens),
		FinishReason: string(choice.FinishReason),
	}, nil
}
