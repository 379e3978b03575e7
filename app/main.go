package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sportscan/sportscan/app/api"
	"github.com/sportscan/sportscan/app/cfg"
	"github.com/sportscan/sportscan/app/config"
	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/detect"
	"github.com/sportscan/sportscan/app/dispatch"
	"github.com/sportscan/sportscan/app/ingest"
	"github.com/sportscan/sportscan/app/tasks"
	"github.com/sportscan/sportscan/app/websub"
)

const matcherCacheTTL = 5 * time.Minute

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	appCfg, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Sportscan server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DataDir)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	schemaVersion, dirty, err := database.RunMigrations(db)
	if err != nil {
		log.Fatal("Failed to run migrations:", err)
	}
	slog.Info("Database ready", "data_dir", appCfg.DataDir,
		"schema_version", schemaVersion, "dirty", dirty)

	configCache := config.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		log.Fatal("Failed to load source configurations:", err)
	}
	slog.Info("Source configurations loaded", "count", configCache.GetConfigCount(), "dir", appCfg.FeedsDir)

	subRepo := database.NewSubscriptionRepository(db)
	entityRepo := database.NewEntityRepository(db)
	contentRepo := database.NewContentRepository(db)
	mentionRepo := database.NewMentionRepository(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	detector := detect.NewDetector(entityRepo, contentRepo, mentionRepo)
	matcherCache := detect.NewMatcherCache(detector, matcherCacheTTL)

	videoSource := ingest.NewFeedVideoSource(httpClient, appCfg.UserAgent)
	orchestrator := ingest.NewOrchestrator(contentRepo, detector, videoSource, appCfg.WorkerCount)

	scheduler := tasks.NewScheduler(configCache, subRepo, contentRepo,
		detector, matcherCache, orchestrator, httpClient)

	if appCfg.BaseUrl == "" {
		log.Fatal("BASE_URL is required: the hub must be able to reach the callback")
	}
	callbackURL := strings.TrimSuffix(appCfg.BaseUrl, "/") + "/websub/callback"

	manager, err := websub.NewManager(subRepo, scheduler, httpClient, websub.Options{
		CallbackURL:   callbackURL,
		LeaseSeconds:  appCfg.LeaseSeconds,
		VerifyTTL:     time.Duration(appCfg.VerificationTTL) * time.Minute,
		RenewalWindow: time.Duration(appCfg.RenewalWindowHours) * time.Hour,
		Algorithm:     appCfg.SignatureAlgorithm,
		UserAgent:     appCfg.UserAgent,
	})
	if err != nil {
		log.Fatal("Failed to initialize WebSub manager:", err)
	}

	dispatcher := dispatch.NewDispatcher(contentRepo, scheduler)
	scheduler.Bind(manager, dispatcher)

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount,
		"interval_seconds", appCfg.SchedulerInterval)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(manager, subRepo, entityRepo, contentRepo,
		detector, matcherCache, orchestrator, configCache, scheduler)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "callback", callbackURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Sportscan server started")

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}
