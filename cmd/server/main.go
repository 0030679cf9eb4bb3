package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/loomhq/loom/internal/agent"
	"github.com/loomhq/loom/internal/blob"
	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/database"
	"github.com/loomhq/loom/internal/engine"
	"github.com/loomhq/loom/internal/events"
	"github.com/loomhq/loom/internal/handler"
	"github.com/loomhq/loom/internal/logger"
	"github.com/loomhq/loom/internal/migrate"
	"github.com/loomhq/loom/internal/service"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/internal/version"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	s, cleanup, err := buildStore(cfg, log)
	if err != nil {
		log.Error("storage initialization failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if _, err := store.Seed(context.Background(), s, cfg.DefaultAgent); err != nil {
		log.Error("seed failed", "error", err)
		os.Exit(1)
	}

	pollerCfg := events.DefaultPollerConfig()
	pollerCfg.PollInterval = cfg.EventPollInterval
	poller := events.NewPoller(s, pollerCfg, log)
	if err := poller.Start(context.Background()); err != nil {
		log.Error("event poller failed to start", "error", err)
		os.Exit(1)
	}
	broker := events.NewBroker(s, poller)

	registry := agent.NewRegistry()
	registry.Register(agent.NewEcho())

	blobs, err := blob.New(cfg.DataDir)
	if err != nil {
		log.Error("blob storage initialization failed", "error", err)
		os.Exit(1)
	}

	threadSvc := service.NewThreadService(s)
	messageSvc := service.NewMessageService(s)
	runSvc := service.NewRunService(s, cfg.RunExpiresIn)
	fileSvc := service.NewFileService(s, blobs, cfg.MaxFileSize)

	eng := engine.New(s, broker, registry, messageSvc, log)
	eng.Start(context.Background())
	threadSvc.SetCanceller(eng)
	runSvc.SetDispatcher(eng)

	h := handler.New(cfg, log, broker, handler.Services{
		Threads:    threadSvc,
		Messages:   messageSvc,
		Runs:       runSvc,
		Files:      fileSvc,
		Assistants: service.NewResourceService(s.Assistants()),
		Workflows:  service.NewResourceService(s.Workflows()),
		MCPConfigs: service.NewResourceService(s.MCPConfigs()),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event streams write indefinitely
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port, "backend", cfg.StorageBackend, "version", version.Get())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	eng.Stop()
	poller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	log.Info("server stopped")
}

// buildStore opens the configured storage backend. The relational backend
// runs the migration chain before serving; the file backend lays out its
// directories on open.
func buildStore(cfg *config.Config, log *logger.Logger) (store.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendFile:
		s, err := store.NewFile(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		db, err := database.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		runner := migrate.NewRunner(db, cfg.DataDir, log)
		if err := runner.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store.NewSQL(db), func() { db.Close() }, nil
	}
}
