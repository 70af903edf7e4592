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
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/suriai/attendengine/internal/api"
	"github.com/suriai/attendengine/internal/api/ws"
	"github.com/suriai/attendengine/internal/attendance"
	"github.com/suriai/attendengine/internal/config"
	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/observability"
	"github.com/suriai/attendengine/internal/queue"
	"github.com/suriai/attendengine/internal/storage"
	"github.com/suriai/attendengine/internal/stream"
	"github.com/suriai/attendengine/internal/vision"
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
	slog.Info("starting attendance API service", "port", cfg.Server.Port)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("initialize onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Each model gets its own fresh *ort.SessionOptions, destroyed right
	// after the session is built from it.
	detOpts, err := ort.NewSessionOptions()
	if err != nil {
		slog.Error("create detector session options", "error", err)
		os.Exit(1)
	}
	detector, err := vision.NewDetector(
		filepath.Join(cfg.ModelsDir, "detector.onnx"),
		vision.DetectorConfig{
			ScoreThreshold: cfg.Detector.ScoreThreshold,
			NMSThreshold:   cfg.Detector.NMSThreshold,
			TopK:           cfg.Detector.TopK,
			MinFaceSize:    cfg.Detector.MinFaceSize,
		},
		detOpts,
	)
	detOpts.Destroy()
	if err != nil {
		slog.Error("load detector model", "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	livenessOpts, err := ort.NewSessionOptions()
	if err != nil {
		slog.Error("create liveness session options", "error", err)
		os.Exit(1)
	}
	liveness, err := vision.NewLivenessScorer(
		filepath.Join(cfg.ModelsDir, "liveness.onnx"),
		vision.LivenessConfig{
			ConfidenceThreshold: cfg.Liveness.ConfidenceThreshold,
			BBoxInc:             cfg.Liveness.BBoxInc,
			ModelImgSize:        cfg.Liveness.ModelImgSize,
			EnableSmoothing:     cfg.Liveness.EnableTemporalSmoothing,
			Alpha:               cfg.Liveness.Alpha,
			MaxStaleFrames:      cfg.Liveness.MaxStaleFrames,
			CleanupInterval:     cfg.Liveness.CleanupInterval,
		},
		livenessOpts,
	)
	livenessOpts.Destroy()
	if err != nil {
		slog.Error("load liveness model", "error", err)
		os.Exit(1)
	}
	defer liveness.Close()

	embOpts, err := ort.NewSessionOptions()
	if err != nil {
		slog.Error("create embedder session options", "error", err)
		os.Exit(1)
	}
	embedder, err := vision.NewEmbedder(filepath.Join(cfg.ModelsDir, "embedder.onnx"), embOpts)
	embOpts.Destroy()
	if err != nil {
		slog.Error("load embedder model", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()

	gallery := vision.NewIdentityGallery(db, time.Duration(cfg.Recognizer.CacheTTLSeconds*float64(time.Second)))
	recognizer := vision.NewRecognizer(gallery, cfg.Recognizer.SimilarityThreshold)
	enroller := vision.NewEnroller(detector, embedder)

	pipeline := vision.NewPipeline(detector, liveness, embedder, recognizer, vision.PipelineConfig{
		InferenceTimeout: 3 * time.Second,
	})

	trackerCfg := vision.TrackerConfig{
		MaxAge:            cfg.Tracker.MaxAge,
		NInit:             cfg.Tracker.NInit,
		MaxIOUDistance:    cfg.Tracker.MaxIOUDistance,
		MaxCosineDistance: cfg.Tracker.MaxCosineDistance,
		FeatureBudget:     cfg.Tracker.FeatureBudget,
		AppearanceWeight:  cfg.Tracker.Weights.Appearance,
		MotionWeight:      cfg.Tracker.Weights.Motion,
	}

	registry := stream.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(registry, pipeline, producer, db, trackerCfg)
	go hub.Run()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := producer.QueueDepth(ctx); err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	stateMachine := attendance.NewStateMachine(db, func(n models.AttendanceNotification) {
		hub.BroadcastEvent(n)
		observability.AttendanceEventsTotal.WithLabelValues("accepted").Inc()
		if err := producer.PublishAttendance(context.Background(), n.GroupID, n); err != nil {
			slog.Error("publish attendance notification", "error", err)
		}
	})

	// Consume ATTENDANCE notifications published by other API replicas'
	// attendance-worker-originated events, so every process's WS hub
	// broadcasts to its own connected clients.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create attendance consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeAttendance(ctx, "api-attendance-broadcast", func(ctx context.Context, msg jetstream.Msg) error {
		var n models.AttendanceNotification
		if err := json.Unmarshal(msg.Data(), &n); err != nil {
			return err
		}
		hub.BroadcastEvent(n)
		return nil
	})
	if err != nil {
		slog.Warn("start attendance consumer", "error", err)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		MinIO:        minioStore,
		Producer:     producer,
		Hub:          hub,
		Enroller:     enroller,
		Gallery:      gallery,
		StateMachine: stateMachine,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
