package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/bankchat/bankchat-go/bankchat"
)

// GeminiLLM adapts Google Gemini models to the LLM interface.
//
// Gemini has no system role; system messages are folded into the user turn
// history. The last message is sent through a chat session carrying the
// preceding messages as history.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

var _ LLM = (*GeminiLLM)(nil)

// NewGeminiLLM creates a Gemini adapter. An empty model defaults to
// gemini-1.5-flash.
func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiLLM{client: client, model: model}, nil
}

// Model returns the model identifier.
func (g *GeminiLLM) Model() string { return g.model }

// Complete generates one completion.
func (g *GeminiLLM) Complete(ctx context.Context, messages []*bankchat.Message, opts ...CallOption) (string, error) {
	options := BuildCallOptions(opts...)

	model := g.client.GenerativeModel(g.model)
	g.configureModel(model, options)

	history, last := g.convertMessages(messages)
	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("gemini api error: %w", err)
	}

	content := g.extractContent(resp)
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Unwrap returns the underlying *genai.Client.
func (g *GeminiLLM) Unwrap() any { return g.client }

func (g *GeminiLLM) configureModel(model *genai.GenerativeModel, options *CallOptions) {
	if options.Temperature != nil {
		model.SetTemperature(float32(*options.Temperature))
	}
	if options.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*options.MaxTokens))
	}
	if options.TopP != nil {
		model.SetTopP(float32(*options.TopP))
	}
}

// convertMessages splits the conversation into chat history plus the final
// message parts to send. Roles map user/system -> "user", everything else ->
// "model".
func (g *GeminiLLM) convertMessages(messages []*bankchat.Message) ([]*genai.Content, []genai.Part) {
	if len(messages) == 0 {
		return nil, []genai.Part{genai.Text("")}
	}

	var history []*genai.Content
	for _, m := range messages[:len(messages)-1] {
		role := "model"
		if m.Role == "user" || m.Role == "system" {
			role = "user"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	last := messages[len(messages)-1]
	return history, []genai.Part{genai.Text(last.Content)}
}

func (g *GeminiLLM) extractContent(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
