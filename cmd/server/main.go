package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/config"
	"github.com/arfve/launchsite/internal/livecount"
	"github.com/arfve/launchsite/internal/logging"
	"github.com/arfve/launchsite/internal/mailerlite"
	"github.com/arfve/launchsite/internal/metrics"
	"github.com/arfve/launchsite/internal/notify"
	"github.com/arfve/launchsite/internal/server"
	"github.com/arfve/launchsite/internal/subscribers"
	"github.com/arfve/launchsite/internal/survey"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config
	cfg, err := config.Load(os.Getenv("LAUNCHSITE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	logger, err := logging.New(os.Getenv("LAUNCHSITE_DEBUG") != "", &cfg.Logging, "server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.Bool("mailerliteConfigured", cfg.MailerLite.APIKey != ""),
		zap.Duration("cacheTTL", cfg.MailerLite.CacheTTL),
		zap.Int("total", cfg.LiveCount.Total),
		zap.Duration("heartbeat", cfg.LiveCount.Heartbeat),
		zap.Bool("wsEnabled", cfg.LiveCount.WebSocketEnabled),
		zap.Bool("surveyStorage", cfg.SurveyStorageConfigured()),
		zap.Bool("notifyEnabled", cfg.Notify.Enabled),
	)
	if cfg.MailerLite.APIKey == "" {
		logger.Warn("MAILERLITE_API_KEY not set; counts will use the fallback value")
	}

	metrics.RegisterDefault()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Upstream client and count fetcher
	client := mailerlite.NewClient(cfg.MailerLite, logger)
	counter := subscribers.NewCounter(client, cfg.MailerLite.CacheTTL, logger)

	// Live count service
	live := livecount.NewService(counter, cfg.LiveCount, logger)
	milestones := livecount.NewMilestoneTracker(notify.New(&cfg.Notify, logger), cfg.Notify.MilestoneStep, logger)
	live.Broadcaster().Observe(milestones.Observe)

	// Survey storage (optional)
	var surveySvc *survey.Service
	if cfg.SurveyStorageConfigured() {
		store, err := openSurveyStore(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to open survey storage", zap.Error(err))
			return 1
		}
		defer func() { _ = store.Close() }()
		surveySvc = survey.NewService(store, client, cfg.Survey.Title, cfg.MailerLite.SurveyGroupID, logger)
	}

	// Create router
	srv := server.NewServer(live, client, surveySvc, cfg, logger)
	router, err := server.NewRouter(srv, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// No WriteTimeout: live-count streams stay open indefinitely and set
	// per-write deadlines instead.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	// Streaming handlers only return once their channel closes
	httpServer.RegisterOnShutdown(live.Shutdown)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

func openSurveyStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (survey.Store, error) {
	if cfg.Survey.DatabaseURL != "" {
		pg, err := survey.NewPostgres(ctx, cfg.Survey.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		logger.Info("survey storage: postgres")
		return pg, nil
	}

	var questions []survey.Question
	if cfg.Survey.SeedFile != "" {
		qs, err := survey.LoadSeedFile(cfg.Survey.SeedFile)
		if err != nil {
			return nil, err
		}
		questions = qs
	}
	store := survey.NewMemoryStore()
	store.AddSurvey(cfg.Survey.Title, questions)
	logger.Info("survey storage: in-memory", zap.Int("questions", len(questions)))
	return store, nil
}
