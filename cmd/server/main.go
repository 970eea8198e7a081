package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"firstprinciple-chat/internal/config"
	"firstprinciple-chat/internal/handlers"
	"firstprinciple-chat/internal/logging"
	"firstprinciple-chat/internal/middleware"
	"firstprinciple-chat/internal/ratelimit"
	"firstprinciple-chat/internal/resilient"
	"firstprinciple-chat/internal/router"
	"firstprinciple-chat/internal/services"
)

type completionService interface {
	services.Completer
	Close()
}

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Msg("starting first-principles chat server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Initialize Upstream Model Client ────
	completer, err := newCompleter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("upstream client initialization failed")
	}
	defer completer.Close()
	logger.Info().Str("provider", cfg.LLMProvider).Msg("upstream client initialized")

	// ──── Step 3: Rate Limiter ────
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	janitor := ratelimit.NewJanitor(limiter, cfg.CleanupInterval, logger)
	janitor.Start()

	// ──── Step 4: Start HTTP Server ────
	r := router.New(
		handlers.NewChatHandler(completer, logger),
		handlers.NewHealthHandler(cfg.LLMProvider),
		middleware.NewRateLimiter(limiter, logger),
		cfg.FrontendURL,
		logger,
	)

	// a request may spend every attempt plus the backoff between them upstream
	upstreamBudget := cfg.UpstreamTimeout*time.Duration(cfg.UpstreamMaxRetries+1) +
		resilient.DefaultMaxDelay*time.Duration(cfg.UpstreamMaxRetries)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: upstreamBudget + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("server ready")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		janitor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

func newCompleter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (completionService, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return services.NewGeminiService(ctx, services.GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			ConcurrentReqs: cfg.GeminiConcurrentReqs,
			MaxRetries:     cfg.UpstreamMaxRetries,
			Timeout:        cfg.UpstreamTimeout,
		}, logger)
	default:
		return services.NewOpenRouterService(services.OpenRouterConfig{
			APIKey:         cfg.OpenRouterAPIKey,
			BaseURL:        cfg.OpenRouterBaseURL,
			Model:          cfg.OpenRouterModel,
			SiteURL:        cfg.FrontendURL,
			SiteName:       cfg.SiteName,
			MaxRetries:     cfg.UpstreamMaxRetries,
			Timeout:        cfg.UpstreamTimeout,
			RequestsPerMin: cfg.UpstreamRequestsPerMin,
		}, &http.Client{}, logger), nil
	}
}
