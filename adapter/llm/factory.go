package llm

import (
	"context"
	"fmt"
)

// Credentials carries provider secrets resolved from the environment by the
// caller. The core never reads the environment itself.
type Credentials struct {
	OpenAIKey string
	GeminiKey string

	AWSRegion  string
	AWSProfile string
}

// New constructs the adapter for a stage's provider tag. Unknown tags are a
// configuration mistake and fail construction.
func New(ctx context.Context, provider, model string, creds Credentials) (LLM, error) {
	switch provider {
	case "openai":
		return NewOpenAILLM(creds.OpenAIKey, model), nil
	case "gemini":
		return NewGeminiLLM(ctx, creds.GeminiKey, model)
	case "bedrock":
		return NewBedrockLLM(ctx, BedrockConfig{
			ModelID: model,
			Region:  creds.AWSRegion,
			Profile: creds.AWSProfile,
		})
	case "mock":
		return NewMockLLM(""), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", provider)
	}
}
