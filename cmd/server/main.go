// Command server starts the QuizForge question supply HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ai "github.com/quizforge/quizforge/internal/adapter/ai"
	"github.com/quizforge/quizforge/internal/adapter/ai/stub"
	httpserver "github.com/quizforge/quizforge/internal/adapter/httpserver"
	"github.com/quizforge/quizforge/internal/adapter/observability"
	"github.com/quizforge/quizforge/internal/adapter/push"
	"github.com/quizforge/quizforge/internal/adapter/repo/postgres"
	"github.com/quizforge/quizforge/internal/app"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/domain"
	"github.com/quizforge/quizforge/internal/jobmanager"
	"github.com/quizforge/quizforge/internal/telemetry"
	"github.com/quizforge/quizforge/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that
	// /metrics/prometheus exposes HTTP, generator, and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool plus schema migrations.
	ctx := context.Background()
	if err := postgres.Migrate(cfg.DBURL); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	recipientRepo := postgres.NewRecipientRepo(pool)
	questionRepo := postgres.NewQuestionRepo(pool)

	// Question generator: stub bank for dev/test, chat completions otherwise.
	var gen domain.Generator
	if cfg.UseStubGenerator() {
		gen = stub.New()
		slog.Info("generator initialized", slog.String("mode", "stub"))
	} else {
		gen = ai.New(cfg)
		slog.Info("generator initialized", slog.String("mode", "real"), slog.String("model", cfg.GeneratorModel))
	}

	// Push hub for per-recipient job events.
	hub := push.NewHub()
	go hub.Run()

	// Job manager with the shared telemetry collector.
	metrics := telemetry.NewCollector()
	manager := jobmanager.New(questionRepo, gen, hub, metrics, jobmanager.Config{
		Workers:    cfg.WorkerPoolSize,
		Topics:     cfg.Topics(),
		DefaultAge: domain.AgeRange{Min: cfg.DefaultMinAge, Max: cfg.DefaultMaxAge},
	})
	manager.Start(ctx)
	hub.SetJobLister(manager)

	// Usecases
	supplySvc := usecase.NewSupplyService(recipientRepo, questionRepo, manager, cfg.MinAutoTarget)
	importSvc := usecase.NewImportService(questionRepo)
	generateSvc := usecase.NewGenerateService(manager)

	// Periodic GC of terminal jobs.
	gc, err := app.StartJobGC(manager, cfg.JobCleanupSchedule, cfg.JobTTL)
	if err != nil {
		slog.Error("job gc schedule invalid", slog.Any("error", err), slog.String("schedule", cfg.JobCleanupSchedule))
		os.Exit(1)
	}

	// HTTP server
	srv := httpserver.NewServer(cfg, supplySvc, importSvc, generateSvc, manager, hub, metrics, questionRepo, app.BuildDBCheck(pool))
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	gc.Stop()
	manager.Stop()
	hub.Stop()
}
