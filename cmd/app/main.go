// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/config"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/model"
	"github.com/Lemmeyg/howtube2-sub000/internal/domain/ports/adapter"
	aiAdapters "github.com/Lemmeyg/howtube2-sub000/internal/infra/adapters/ai"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/adapters/media"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/adapters/transcription"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/api"
	pg "github.com/Lemmeyg/howtube2-sub000/internal/infra/db/postgres"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/logging"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/metrics"
	red "github.com/Lemmeyg/howtube2-sub000/internal/infra/redis"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/sched"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/stream"
	"github.com/Lemmeyg/howtube2-sub000/internal/infra/worker"
	"github.com/Lemmeyg/howtube2-sub000/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no redaction)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool)
	guideRepo := pg.NewGuideRepoCacheDecorator(pg.NewGuideRepo(pool, tm), redisClient, cfg.Redis.TTL, logger)

	// ---- AI ----
	ai, err := buildAI(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}
	tokens := aiAdapters.NewTokenizer(cfg.AI.DefaultModel, logger)

	// ---- Pipeline adapters ----
	downloader := media.NewYtDlp(cfg.Media.YtDlpPath, cfg.Media.DownloadTimeout, logger)
	extractor := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.ExtractTimeout, logger)
	wait := adapter.WaitOptions{Interval: cfg.Transcription.PollInterval, MaxAttempts: cfg.Transcription.MaxAttempts}
	transcriber := transcription.NewClient(
		transcription.NewHTTPBackend(cfg.Transcription.BaseURL, cfg.Transcription.APIKey, cfg.Transcription.HTTPTimeout),
		wait, logger)
	broadcaster := stream.NewBroadcaster(0, logger)

	// ---- Use cases ----
	generator := usecase.NewGuideGenerator(ai, tokens, cfg.AI.MaxPromptTokens, logger)
	pipelineUC := usecase.NewPipelineUseCase(jobRepo, guideRepo, downloader, extractor, transcriber, generator, broadcaster,
		usecase.PipelineConfig{
			WorkDir: cfg.Media.WorkDir,
			Transcription: adapter.TranscriptionConfig{
				LanguageCode:  cfg.Transcription.LanguageCode,
				Punctuate:     true,
				FormatText:    true,
				SpeakerLabels: cfg.Transcription.SpeakerLabels,
			},
			Wait: wait,
		}, logger)

	workers := worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	workers.Start(ctx)

	audience, _ := model.ParseDifficulty(cfg.Guide.Audience)
	jobUC := usecase.NewJobUseCase(jobRepo, pipelineUC, workers, broadcaster, red.NewRateLimiter(redisClient),
		usecase.JobSettings{
			Defaults: model.GuideConfig{
				Style:             cfg.Guide.Style,
				Audience:          audience,
				MaxLength:         cfg.Guide.MaxLength,
				IncludeTimestamps: cfg.Guide.IncludeTimestamps,
				Model:             cfg.AI.DefaultModel,
			},
			SubmissionsPerHour: cfg.RateLimit.SubmissionsPerHour,
		}, logger)
	guideUC := usecase.NewGuideUseCase(guideRepo)

	// ---- Background workers ----
	go worker.NewPendingSweeper(jobUC, cfg.Pipeline.SweepInterval, cfg.Pipeline.RequeueAfter, logger).Start(ctx)
	reaper := sched.NewStaleJobWorker(cfg.Pipeline.StaleCheckInterval, cfg.Pipeline.StaleAfter, jobUC, red.NewLocker(redisClient), logger)
	go func() { _ = reaper.Run(ctx) }()

	// ---- HTTP ----
	srv := api.NewServer(jobUC, guideUC, api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), api.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Heartbeat:      cfg.HTTP.StreamHeartbeat,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Health: map[string]api.HealthCheck{
			"postgres": pool.Ping,
			"redis":    redisClient.Ping,
		},
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-serveErr:
		logger.Error().Err(err).Msg("http server failed")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	// Running pipelines see the cancelled context and record their jobs as interrupted.
	workers.Stop()
	logger.Info().Msg("stopped")
	return nil
}

// buildAI wires every configured provider behind the router and the concurrency cap.
func buildAI(ctx context.Context, cfg config.AIConfig, logger *zerolog.Logger) (adapter.AIServiceAdapter, error) {
	providers := map[string]adapter.AIServiceAdapter{}
	if cfg.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.DefaultModel, cfg.MaxOutputTokens, 2*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = oa
	}
	if cfg.GeminiKey != "" {
		gm, err := aiAdapters.NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, "gemini-2.0-flash", cfg.MaxOutputTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = gm
	}
	if len(providers) == 0 {
		return nil, errors.New("no AI provider configured: set ai.openai_key or ai.gemini_key")
	}
	logger.Info().Str("default_provider", cfg.DefaultProvider).Str("model", cfg.DefaultModel).Int("providers", len(providers)).Msg("AI adapters ready")
	multi := aiAdapters.NewMultiAIAdapter(cfg.DefaultProvider, providers, nil)
	return aiAdapters.NewLimitedAI(multi, cfg.ConcurrentLimit), nil
}
