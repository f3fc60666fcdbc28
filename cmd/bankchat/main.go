// Command bankchat runs the banking assistant chat service.
//
// Configuration comes from the JSON documents under the config directory and
// from the environment:
//
//	BANKCHAT_CONFIG_DIR  config directory (default "configs")
//	BANKCHAT_ADDR        listen address (default ":8080")
//	BANKCHAT_LOG_LEVEL   debug | info | warn | error (default "info")
//	BANKCHAT_MAX_CONNS   accepted connection cap (default 512, 0 = unlimited)
//	BANKCHAT_REDIS_URL   enable the Redis session store when set
//	BANKCHAT_TRACE_STDOUT  set to "1" to print finished spans
//	OPENAI_API_KEY, GEMINI_API_KEY, AWS_REGION, AWS_PROFILE  provider credentials
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/chat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/observability"
	"github.com/bankchat/bankchat-go/pipeline"
	"github.com/bankchat/bankchat-go/server"
	"github.com/bankchat/bankchat-go/session"
	"github.com/bankchat/bankchat-go/tools"
)

const serviceName = "bankchat"

func main() {
	logger := observability.NewLogger(observability.ParseLevel(os.Getenv("BANKCHAT_LOG_LEVEL")))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(serviceName, os.Getenv("BANKCHAT_TRACE_STDOUT") == "1")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	if _, err := observability.InitMetrics(serviceName); err != nil {
		return err
	}

	configDir := envOr("BANKCHAT_CONFIG_DIR", "configs")
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		"dir", configDir,
		"stages", len(cfg.Stages),
		"tools", len(cfg.Tools))

	registry := tools.NewBankingRegistry(cfg)

	creds := llm.Credentials{
		OpenAIKey:  os.Getenv("OPENAI_API_KEY"),
		GeminiKey:  os.Getenv("GEMINI_API_KEY"),
		AWSRegion:  os.Getenv("AWS_REGION"),
		AWSProfile: os.Getenv("AWS_PROFILE"),
	}
	pipe, err := pipeline.Build(ctx, cfg, registry, creds, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	service := chat.NewService(cfg.Shared, pipe, store, logger)
	srv := server.New(service, logger, envInt("BANKCHAT_MAX_CONNS", 512))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(envOr("BANKCHAT_ADDR", ":8080"))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStore(cfg *config.Config, logger *slog.Logger) (session.Store, func(), error) {
	redisURL := os.Getenv("BANKCHAT_REDIS_URL")
	if redisURL == "" {
		logger.Info("using in-memory session store", "capacity", cfg.Shared.SessionCapacity)
		return session.NewMemoryStore(cfg.Shared.SessionCapacity), func() {}, nil
	}

	store, err := session.NewRedisStore(redisURL, serviceName, cfg.Shared.SessionCapacity, 24*time.Hour)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using Redis session store", "capacity", cfg.Shared.SessionCapacity)
	return store, func() { _ = store.Close() }, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
