package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/bankchat/bankchat-go/bankchat"
)

// BedrockLLM adapts Amazon Bedrock foundation models to the LLM interface
// through the Converse API.
//
// The full AWS credential chain is supported: explicit keys, profiles,
// environment variables, and IAM roles.
type BedrockLLM struct {
	client  *bedrockruntime.Client
	modelID string
}

var _ LLM = (*BedrockLLM)(nil)

// BedrockConfig holds the adapter configuration.
type BedrockConfig struct {
	// ModelID is the Bedrock model identifier, e.g.
	// "anthropic.claude-3-haiku-20240307-v1:0".
	ModelID string

	// Region defaults to the SDK's resolution when empty.
	Region string

	// Profile selects a named AWS profile.
	Profile string

	// AccessKeyID/SecretAccessKey set explicit static credentials.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// EndpointURL overrides the service endpoint (testing).
	EndpointURL string
}

// NewBedrockLLM creates a Bedrock adapter.
func NewBedrockLLM(ctx context.Context, cfg BedrockConfig) (*BedrockLLM, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock: model id is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &BedrockLLM{
		client:  bedrockruntime.NewFromConfig(awsCfg, clientOpts...),
		modelID: cfg.ModelID,
	}, nil
}

// Model returns the Bedrock model identifier.
func (b *BedrockLLM) Model() string { return b.modelID }

// Complete generates one completion via the Converse API.
func (b *BedrockLLM) Complete(ctx context.Context, messages []*bankchat.Message, opts ...CallOption) (string, error) {
	options := BuildCallOptions(opts...)

	system, converted := b.convertMessages(messages)

	inference := &types.InferenceConfiguration{}
	if options.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*options.Temperature))
	}
	maxTokens := 1024
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}
	inference.MaxTokens = aws.Int32(int32(maxTokens))
	if options.TopP != nil {
		inference.TopP = aws.Float32(float32(*options.TopP))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.modelID),
		Messages:        converted,
		InferenceConfig: inference,
	}
	if len(system) > 0 {
		input.System = system
	}

	output, err := b.client.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock api error: %w", err)
	}

	content := b.extractContent(output)
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Unwrap returns the underlying *bedrockruntime.Client.
func (b *BedrockLLM) Unwrap() any { return b.client }

// convertMessages maps system messages into the Converse system blocks and
// the rest into alternating conversation messages.
func (b *BedrockLLM) convertMessages(messages []*bankchat.Message) ([]types.SystemContentBlock, []types.Message) {
	var system []types.SystemContentBlock
	var out []types.Message

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})
		case "assistant":
			out = append(out, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return system, out
}

func (b *BedrockLLM) extractContent(output *bedrockruntime.ConverseOutput) string {
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String()
}
