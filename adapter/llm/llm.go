// Package llm provides the minimal model-provider contract used by pipeline
// stages, plus adapters for the supported providers.
//
// The interface is intentionally small: a stage needs exactly one completion
// per call, with per-call sampling options coming from its static
// configuration. Provider-specific features stay behind Unwrap.
package llm

import (
	"context"
	"errors"

	"github.com/bankchat/bankchat-go/bankchat"
)

// ErrEmptyCompletion is returned when a provider replies with no text.
// Stages treat it like any other transient call failure.
var ErrEmptyCompletion = errors.New("empty completion from provider")

// LLM is the provider contract for a single stage call.
//
// Complete sends the conversation and returns the generated text. Adapters
// convert bankchat Messages to the provider's wire format, apply CallOptions,
// and surface provider failures wrapped for retry classification upstream.
type LLM interface {
	Complete(ctx context.Context, messages []*bankchat.Message, opts ...CallOption) (string, error)

	// Model returns the model identifier this instance is bound to.
	Model() string

	// Unwrap returns the native provider client, for features beyond the
	// minimal contract. Using it ties the caller to one provider.
	Unwrap() any
}

// CallOptions holds per-call sampling options.
type CallOptions struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64

	// Extra carries provider-specific options by name.
	Extra map[string]any
}

// CallOption is a functional option for configuring a call.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = &temperature
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = &maxTokens
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) CallOption {
	return func(opts *CallOptions) {
		opts.TopP = &topP
	}
}

// WithExtra adds a provider-specific option.
func WithExtra(key string, value any) CallOption {
	return func(opts *CallOptions) {
		if opts.Extra == nil {
			opts.Extra = make(map[string]any)
		}
		opts.Extra[key] = value
	}
}

// BuildCallOptions folds functional options into a CallOptions value.
func BuildCallOptions(opts ...CallOption) *CallOptions {
	options := &CallOptions{Extra: make(map[string]any)}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
