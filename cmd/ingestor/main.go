package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/ingest"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8081", "address of the metrics and status endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting rollcall ingestor", "cameras", len(cfg.Cameras))

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	manager := ingest.NewManager(producer, minioStore, cfg.Cameras, cfg.Vision.FrameWidth, cfg.Voice.FFmpegPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.StartAll(ctx)

	// Camera control commands arrive on core NATS, not JetStream.
	_, err = producer.Conn().Subscribe(queue.ControlSubject, func(msg *nats.Msg) {
		cmd, err := queue.ParseCommand(msg.Data)
		if err != nil {
			slog.Error("parse command", "error", err)
			return
		}

		slog.Info("received command", "action", cmd.Action, "camera_id", cmd.CameraID)
		if err := manager.HandleCommand(ctx, cmd); err != nil {
			slog.Error("handle command", "error", err, "action", cmd.Action, "camera_id", cmd.CameraID)
		}
	})
	if err != nil {
		slog.Error("subscribe to control", "error", err)
		os.Exit(1)
	}

	// Frame and snapshot cleanup
	if cfg.Storage.FrameRetention > 0 {
		slog.Info("frame cleanup enabled", "retention", cfg.Storage.FrameRetention)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					ingest.CleanupFrames(ctx, minioStore, cfg.Storage.FrameRetention, time.Now())
				}
			}
		}()
	}

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

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(manager.Status())
		})
		slog.Info("ingestor metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down ingestor...")
	cancel()
	manager.StopAll()
	slog.Info("ingestor stopped")
}
