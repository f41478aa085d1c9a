package main

import (
	"context"
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

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/rollcall/internal/api"
	"github.com/your-org/rollcall/internal/api/handlers"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/internal/lock"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/recognition"
	"github.com/your-org/rollcall/internal/roster"
	"github.com/your-org/rollcall/internal/rostersync"
	"github.com/your-org/rollcall/internal/schedule"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/internal/tracking"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/internal/voice"
)

// Frames older than this are acknowledged without recognition.
const frameMaxAge = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting rollcall tracker",
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	loc, err := cfg.Schedule.Location()
	if err != nil {
		slog.Error("resolve schedule timezone", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Identity store
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("open identity store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
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

	locker, err := lock.New(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}
	defer locker.Close()

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	faceModel, err := vision.LoadONNXFaceModel(cfg.Vision, nil)
	if err != nil {
		slog.Error("load face model", "error", err)
		os.Exit(1)
	}
	defer faceModel.Close()
	faces := vision.NewExtractor(faceModel)

	// The speaker model is optional; without it audio assets fail to embed
	// and audio search is rejected.
	var (
		syncVoices rostersync.VoiceExtractor
		apiVoices  handlers.VoiceEmbedder
	)
	if cfg.Voice.Model != "" {
		speaker, err := voice.NewONNXSpeakerModel(filepath.Join(cfg.Vision.ModelsDir, cfg.Voice.Model), nil)
		if err != nil {
			slog.Error("load speaker model", "error", err)
			os.Exit(1)
		}
		defer speaker.Close()
		vx := voice.NewExtractor(speaker, &voice.Converter{FFmpegPath: cfg.Voice.FFmpegPath}, cfg.Voice.SampleRate, cfg.Voice.AllowedExt)
		syncVoices, apiVoices = vx, vx
	} else {
		slog.Warn("no speaker model configured, voice matching disabled")
	}

	// Indexes
	builder := index.NewBuilder(store, cfg.Index.Dir, cfg.Index.Dim, cfg.Index.VoiceDim)
	searcher := index.NewSearcher(cfg.Index.Dir)

	// Roster sync
	httpFetcher := roster.NewHTTPFetcher(cfg.Sync.Roster.Timeout)
	fetcher := roster.NewMultiFetcher().
		Handle("http", httpFetcher).
		Handle("https", httpFetcher).
		Handle("minio", &roster.ObjectFetcher{Objects: minioStore})

	syncer := rostersync.New(
		roster.NewHTTPSource(cfg.Sync.Roster),
		fetcher, store, faces, syncVoices, builder, locker,
		rostersync.Options{
			MediaDir:    cfg.Sync.MediaDir,
			Concurrency: cfg.Sync.Concurrency,
			LockTTL:     cfg.Sync.LockTTL,
		},
	)

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Recognition
	dispatcher := recognition.NewDispatcher(cfg.Recognition.EventBuffer, minioStore,
		&recognition.NATSSink{Publisher: producer},
		&recognition.StoreSink{Store: store},
		&recognition.BroadcastSink{Hub: hub},
	)
	rt := recognition.NewRuntime(faceModel, searcher, dispatcher, recognition.OptionsFromConfig(cfg))
	engine := schedule.NewEngine(rt, loc)

	system, err := tracking.New(syncer, engine, tracking.Options{
		SyncCron:    cfg.Sync.Cron,
		RefreshCron: cfg.Schedule.RefreshCron,
		Location:    loc,
	}, dispatcher)
	if err != nil {
		slog.Error("init tracking system", "error", err)
		os.Exit(1)
	}
	system.Start(ctx)

	// Frame consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	processor := recognition.NewFrameProcessor(rt, minioStore)
	err = consumer.ConsumeFrames(ctx, "recognition-workers",
		queue.FrameTaskHandler(frameMaxAge, processor.Process), cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey: cfg.Server.APIKey,
		Checks: map[string]handlers.Check{
			"store": store.Ping,
			"minio": minioStore.Ping,
			"nats":  func(context.Context) error { return producer.Ping() },
		},
		Syncer:     system,
		Schedule:   system,
		State:      rt,
		Faces:      faces,
		Voices:     apiVoices,
		Searcher:   searcher,
		Builder:    builder,
		Identities: store,
		Defaults: handlers.SearchDefaults{
			TopK:           cfg.Recognition.TopK,
			FaceThreshold:  float32(cfg.Recognition.FaceThreshold),
			VoiceThreshold: float32(cfg.Recognition.VoiceThreshold),
		},
		Hub: hub,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down tracker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	system.Stop()
	cancel()
	slog.Info("tracker stopped")
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
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
