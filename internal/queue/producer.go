package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	FramesStreamName  = "FRAMES"
	FramesSubjectBase = "frames"
	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "events"
	// ControlSubject carries camera start/stop commands over core NATS.
	ControlSubject = "camera.control"
)

// Connect dials NATS with reconnects enabled.
func Connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Subject builds "<base>.<camera>". Characters NATS treats as tokens or
// wildcards are replaced in the camera id.
func Subject(base, cameraID string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return base + "." + r.Replace(cameraID)
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := Connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        FramesStreamName,
			Subjects:    []string{FramesSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      time.Minute,
			MaxMsgs:     100000,
			MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Camera frames awaiting recognition",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Attendance match events",
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

// PublishFrame publishes a frame task on frames.<camera>. The frame id is
// used as the message id so redelivered uploads are deduplicated.
func (p *Producer) PublishFrame(ctx context.Context, cameraID, frameID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal frame task: %w", err)
	}

	_, err = p.js.Publish(ctx, Subject(FramesSubjectBase, cameraID), payload, jetstream.WithMsgID(frameID))
	if err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// PublishEvent publishes a match event on events.<camera>.
func (p *Producer) PublishEvent(ctx context.Context, cameraID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, Subject(EventsSubjectBase, cameraID), payload)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the FRAMES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, FramesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

// PublishControl sends a camera command over core NATS (not JetStream).
func (p *Producer) PublishControl(cmd CameraCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return p.nc.Publish(ControlSubject, data)
}

// Conn exposes the underlying connection for core subscriptions.
func (p *Producer) Conn() *nats.Conn { return p.nc }

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
