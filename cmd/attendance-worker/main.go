// Command attendance-worker consumes recognized+live face events from
// the RECOGNITIONS stream and runs them through the attendance state
// machine, keeping DB write latency off the API process's per-frame
// path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/suriai/attendengine/internal/attendance"
	"github.com/suriai/attendengine/internal/config"
	"github.com/suriai/attendengine/internal/models"
	"github.com/suriai/attendengine/internal/observability"
	"github.com/suriai/attendengine/internal/queue"
	"github.com/suriai/attendengine/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	workers := flag.Int("workers", 4, "number of concurrent event-processing workers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting attendance worker")

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	sm := attendance.NewStateMachine(db, func(n models.AttendanceNotification) {
		observability.AttendanceEventsTotal.WithLabelValues("accepted").Inc()
		if err := producer.PublishAttendance(context.Background(), n.GroupID, n); err != nil {
			slog.Error("publish attendance notification", "error", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeRecognitions(ctx, "attendance-worker", func(ctx context.Context, msg jetstream.Msg) error {
		var event models.RecognitionEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			return fmt.Errorf("unmarshal recognition event: %w", err)
		}

		outcome, err := sm.ProcessEvent(ctx, event.PersonID, event.GroupID, event.Confidence, event.Timestamp)
		if err != nil {
			return fmt.Errorf("process event for %s: %w", event.PersonID, err)
		}
		if !outcome.Processed() {
			observability.AttendanceEventsTotal.WithLabelValues(string(outcome.Kind)).Inc()
			slog.Debug("event rejected",
				"person_id", event.PersonID,
				"group_id", event.GroupID,
				"kind", outcome.Kind,
				"reason", outcome.Reason,
			)
		}
		return nil
	}, *workers)
	if err != nil {
		slog.Error("start recognition consumer", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down attendance worker...")
	cancel()
	slog.Info("attendance worker stopped")
}
