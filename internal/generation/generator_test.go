package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

func newTestGenerator(raw completionFunc) *Generator {
	return &Generator{timeout: time.Second, raw: raw}
}

func TestGenerate(t *testing.T) {
	var captured openai.ChatCompletionNewParams
	gen := newTestGenerator(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		captured = params
		return &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Content: "The answer."},
					FinishReason: "stop",
				},
			},
			Usage: openai.CompletionUsage{TotalTokens: 42},
		}, nil
	})

	resp, err := gen.Generate(context.Background(), Request{
		Model:       "gpt-4o-mini",
		System:      "You answer from provided context.",
		User:        "What is the refund policy?",
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if resp.Text != "The answer." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", resp.TotalTokens)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}

	if got := string(captured.Model); got != "gpt-4o-mini" {
		t.Errorf("model = %q", got)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(captured.Messages))
	}
	if captured.MaxTokens.Value != 500 {
		t.Errorf("max tokens = %d, want 500", captured.MaxTokens.Value)
	}
}

func TestGenerate_NoSystemMessage(t *testing.T) {
	gen := newTestGenerator(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		if len(params.Messages) != 1 {
			t.Errorf("expected single user message, got %d", len(params.Messages))
		}
		if string(params.Model) != openai.ChatModelGPT4oMini {
			t.Errorf("default model = %q", params.Model)
		}
		return &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
		}, nil
	})

	if _, err := gen.Generate(context.Background(), Request{User: "hello"}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
}

func TestGenerate_EmptyUserMessage(t *testing.T) {
	gen := newTestGenerator(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		t.Fatal("API should not be called")
		return nil, nil
	})

	if _, err := gen.Generate(context.Background(), Request{User: "   "}); err == nil {
		t.Fatal("expected error for blank user message")
	}
}

func TestGenerate_APIErrorWrapped(t *testing.T) {
	apiErr := errors.New("boom")
	gen := newTestGenerator(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return nil, apiErr
	})

	_, err := gen.Generate(context.Background(), Request{User: "hello"})
	if !errors.Is(err, apiErr) {
		t.Fatalf("expected wrapped API error, got %v", err)
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	gen := newTestGenerator(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		return &openai.ChatCompletion{}, nil
	})

	if _, err := gen.Generate(context.Background(), Request{User: "hello"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
