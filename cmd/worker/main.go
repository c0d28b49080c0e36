package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/internal/detect"
	"github.com/your-org/vesselwatch/internal/models"
	"github.com/your-org/vesselwatch/internal/observability"
	"github.com/your-org/vesselwatch/internal/pipeline"
	"github.com/your-org/vesselwatch/internal/queue"
	"github.com/your-org/vesselwatch/internal/storage"
	"github.com/your-org/vesselwatch/internal/video"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	file := flag.String("file", "", "process a single video with an in-memory store and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting vesselwatch detection worker",
		"model", cfg.Detector.Model,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	engine, err := detect.NewONNXEngine(cfg.Detector, cfg.Tracking)
	if err != nil {
		slog.Error("init detection engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	source := video.NewFFmpegSource(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)

	if *file != "" {
		if err := processOne(engine, source, cfg, *file); err != nil {
			slog.Error("process file", "file", *file, "error", err)
			os.Exit(1)
		}
		return
	}

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

	opts := []pipeline.Option{pipeline.WithKeepPartial(cfg.Pipeline.KeepPartial())}
	if cfg.MinIO.Enabled() && cfg.MinIO.Archive {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		opts = append(opts, pipeline.WithArchiver(minioStore))
		slog.Info("archiving processed videos", "bucket", cfg.MinIO.Bucket)
	}

	processor := pipeline.NewProcessor(db, engine, source, opts...)

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}

	err = consumer.ConsumeTasks(ctx, "detection-workers", queue.ConsumerOptions{
		AckWait:    cfg.NATS.AckWait,
		MaxDeliver: cfg.NATS.MaxDeliver,
	}, func(ctx context.Context, msg jetstream.Msg) error {
		var job models.ProcessFileJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			return queue.Permanent(fmt.Errorf("unmarshal process_file job: %w", err))
		}
		if job.FilePath == "" {
			return queue.Permanent(errors.New("process_file job without file_path"))
		}
		return processor.Process(ctx, job.FilePath)
	})
	if err != nil {
		slog.Error("start task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort)}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		metricsSrv.Handler = mux
		slog.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	consumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	slog.Info("worker stopped")
}

// processOne runs a single file through the pipeline without Postgres or
// NATS and prints the stored record as JSON.
func processOne(engine detect.Engine, source video.Source, cfg *config.Config, path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.NewMemoryStore()
	p := pipeline.NewProcessor(store, engine, source, pipeline.WithKeepPartial(cfg.Pipeline.KeepPartial()))
	procErr := p.Process(ctx, path)

	location, _, err := pipeline.ParseFilename(path)
	if err != nil {
		return procErr
	}
	id := models.VideoID(location, filepath.Base(path))
	rec, err := store.GetVideo(ctx, id)
	if err != nil || rec == nil {
		return errors.Join(procErr, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return err
	}
	return procErr
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
