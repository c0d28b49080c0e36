package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/vesselwatch/internal/api"
	"github.com/your-org/vesselwatch/internal/api/handlers"
	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/internal/observability"
	"github.com/your-org/vesselwatch/internal/queue"
	"github.com/your-org/vesselwatch/internal/statusfeed"
	"github.com/your-org/vesselwatch/internal/storage"
	"github.com/your-org/vesselwatch/internal/watcher"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting vesselwatch API", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	checks := map[string]handlers.Check{
		"postgres": db.Ping,
		"nats":     func(context.Context) error { return producer.Ping() },
	}

	// MinIO is optional; only reported when configured.
	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		checks["minio"] = minioStore.Ping
	}

	feed := statusfeed.New(db, cfg.Feed.Interval)
	go feed.Run(ctx)

	router := api.NewRouter(api.RouterConfig{
		Store:    db,
		Enqueuer: producer,
		Feed:     feed,
		Upload:   cfg.Upload,
		Checks:   checks,
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 5 * time.Minute, // uploads
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// The watcher submits through the public API so that every job takes
	// the same path as a client request.
	var w *watcher.Watcher
	if cfg.Watcher.Enabled {
		w = watcher.New(watcher.Config{
			Dir:           cfg.Watcher.Dir,
			Suffix:        cfg.Watcher.Suffix,
			Capacity:      cfg.Watcher.HandoffCapacity,
			SubmitTimeout: cfg.Watcher.SubmitTimeout,
			ScanExisting:  cfg.Watcher.ScanExisting,
		}, watcher.NewHTTPSubmitter(cfg.Watcher.SubmitURL, cfg.Watcher.SubmitTimeout))
		if err := w.Start(ctx); err != nil {
			slog.Error("start file watcher", "dir", cfg.Watcher.Dir, "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	if w != nil {
		w.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
