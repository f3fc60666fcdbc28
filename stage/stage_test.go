package stage

import (
	"io"
	"log/slog"

	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShared() config.Shared {
	return config.Shared{MaxContextEntries: 3, HistoryLimit: 10}
}

func testStageConfig(id string) *config.StageConfig {
	return &config.StageConfig{
		ID:              id,
		Provider:        "mock",
		Model:           "mock",
		MaxRetries:      1,
		RetryDelayMs:    1,
		RetryDelayMaxMs: 10,
		TimeoutMs:       1000,
		Prompt:          []string{"{query}"},
	}
}

func testPipelineContext(query string) *bankchat.PipelineContext {
	return &bankchat.PipelineContext{
		SessionID: "test-session",
		Query:     query,
		State:     bankchat.Fields{},
		Customer:  bankchat.Fields{},
	}
}

func testRegistry() *tools.Registry {
	cfg := &config.Config{
		Tools: map[string]*config.ToolConfig{
			"account_balance": {
				Description: "잔액 조회",
				SampleResponse: map[string]any{
					"status":         "success",
					"account_number": "110-234-567890",
					"balance":        float64(2450000),
				},
			},
			"transfer": {
				Description:   "이체",
				RequiredSlots: []string{"account_number", "amount", "recipient"},
				SampleResponse: map[string]any{
					"status": "success",
					"amount": float64(50000),
				},
			},
		},
	}
	return tools.NewBankingRegistry(cfg)
}
