package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bankchat/bankchat-go/bankchat"
)

// OpenAILLM adapts OpenAI chat models to the LLM interface.
//
// Example:
//
//	provider := NewOpenAILLM("sk-...", "gpt-4o-mini")
//	text, err := provider.Complete(ctx, messages, WithTemperature(0.2))
type OpenAILLM struct {
	client *openai.Client
	model  string
}

var _ LLM = (*OpenAILLM)(nil)

// NewOpenAILLM creates an OpenAI adapter. An empty model defaults to
// gpt-4o-mini.
func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAILLM{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Model returns the model identifier.
func (o *OpenAILLM) Model() string { return o.model }

// Complete generates one completion.
func (o *OpenAILLM) Complete(ctx context.Context, messages []*bankchat.Message, opts ...CallOption) (string, error) {
	options := BuildCallOptions(opts...)

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.convertMessages(messages),
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	if stop, ok := options.Extra["stop"].([]string); ok {
		req.Stop = stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Unwrap returns the underlying *openai.Client.
func (o *OpenAILLM) Unwrap() any { return o.client }

func (o *OpenAILLM) convertMessages(messages []*bankchat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		switch role {
		case "system", "user", "assistant":
		default:
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
