package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// RecognitionsStreamName carries per-face recognized+live results
	// from the API process to the attendance-worker, decoupling the
	// per-frame response path from attendance DB I/O.
	RecognitionsStreamName  = "RECOGNITIONS"
	RecognitionsSubjectBase = "recognitions"
	// AttendanceStreamName carries processed attendance notifications
	// back from the worker to every API process's WS hub for the
	// attendance_event broadcast.
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist. Retries
// up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        RecognitionsStreamName,
			Subjects:    []string{RecognitionsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      5 * time.Minute,
			MaxMsgs:     1000000,
			MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Recognized+live faces awaiting attendance processing",
		},
		{
			Name:        AttendanceStreamName,
			Subjects:    []string{AttendanceSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Processed attendance notifications for WS broadcast",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishRecognition enqueues a recognized+live face for the
// attendance-worker to process.
func (p *Producer) PublishRecognition(ctx context.Context, streamID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal recognition event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", RecognitionsSubjectBase, streamID)
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publish recognition: %w", err)
	}
	return nil
}

// PublishAttendance broadcasts a processed attendance notification.
func (p *Producer) PublishAttendance(ctx context.Context, groupID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal attendance notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", AttendanceSubjectBase, groupID)
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publish attendance notification: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the
// RECOGNITIONS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, RecognitionsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
