package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/bankchat/bankchat-go/bankchat"
)

func TestBuildCallOptions(t *testing.T) {
	opts := BuildCallOptions(
		WithTemperature(0.3),
		WithMaxTokens(512),
		WithTopP(0.9),
		WithExtra("stop", []string{"END"}),
	)

	if opts.Temperature == nil || *opts.Temperature != 0.3 {
		t.Errorf("Temperature = %v", opts.Temperature)
	}
	if opts.MaxTokens == nil || *opts.MaxTokens != 512 {
		t.Errorf("MaxTokens = %v", opts.MaxTokens)
	}
	if opts.TopP == nil || *opts.TopP != 0.9 {
		t.Errorf("TopP = %v", opts.TopP)
	}
	if _, ok := opts.Extra["stop"]; !ok {
		t.Error("Extra option missing")
	}
}

func TestMockLLMScript(t *testing.T) {
	mock := NewMockLLM("기본 응답").Script("첫 번째", "두 번째")
	ctx := context.Background()
	msg := []*bankchat.Message{bankchat.NewMessage("user", "질문")}

	for _, want := range []string{"첫 번째", "두 번째", "기본 응답", "기본 응답"} {
		got, err := mock.Complete(ctx, msg)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if got != want {
			t.Errorf("Complete = %q, want %q", got, want)
		}
	}
	if mock.CallCount() != 4 {
		t.Errorf("CallCount = %d", mock.CallCount())
	}
}

func TestMockLLMExhaustedWithoutDefaultFails(t *testing.T) {
	mock := NewMockLLM("")
	_, err := mock.Complete(context.Background(), nil)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("err = %v, want ErrEmptyCompletion", err)
	}
}

func TestMockLLMFail(t *testing.T) {
	boom := errors.New("boom")
	mock := NewMockLLM("x").Fail(boom)
	if _, err := mock.Complete(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestMockLLMRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := NewMockLLM("x")
	if _, err := mock.Complete(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), "azure", "m", Credentials{}); err == nil {
		t.Fatal("unknown provider must fail construction")
	}
}

func TestFactoryMock(t *testing.T) {
	adapter, err := New(context.Background(), "mock", "any", Credentials{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if adapter.Model() != "mock" {
		t.Errorf("Model = %q", adapter.Model())
	}
}
