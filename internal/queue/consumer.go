package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// FrameTaskHandler decodes frame tasks for fn. Frames older than maxAge
// are acknowledged without processing; live recognition has no use for
// them.
func FrameTaskHandler(maxAge time.Duration, fn func(ctx context.Context, task models.FrameTask) error) MessageHandler {
	return func(ctx context.Context, msg jetstream.Msg) error {
		var task models.FrameTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Warn("dropping malformed frame task", "subject", msg.Subject(), "error", err)
			return nil
		}
		if maxAge > 0 && time.Since(task.Timestamp) > maxAge {
			observability.FramesSkipped.WithLabelValues(task.CameraID, "stale").Inc()
			return nil
		}
		return fn(ctx, task)
	}
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := Connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeFrames runs workerCount goroutines over a durable work-queue
// consumer of the FRAMES stream. Handler errors nak the message for
// redelivery, up to three attempts.
func (c *Consumer) ConsumeFrames(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	cons, err := c.consumer(ctx, FramesStreamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		FilterSubject: FramesSubjectBase + ".>",
	})
	if err != nil {
		return err
	}

	msgs := make(chan jetstream.Msg, workerCount*2)
	go func() {
		defer close(msgs)
		pull(ctx, cons, workerCount, func(msg jetstream.Msg) bool {
			select {
			case msgs <- msg:
				observability.QueueDepth.Set(float64(len(msgs)))
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	for i := 0; i < workerCount; i++ {
		go func(worker int) {
			for msg := range msgs {
				settle(ctx, msg, handler, "worker", worker)
			}
		}(i)
	}

	slog.Info("frame consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeEvents delivers match events published from now on, optionally
// only those of one camera. The consumer is ephemeral and removed by the
// server a minute after the caller goes away.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName, cameraID string, handler MessageHandler) error {
	filter := EventsSubjectBase + ".>"
	if cameraID != "" {
		filter = Subject(EventsSubjectBase, cameraID)
	}

	cons, err := c.consumer(ctx, EventsStreamName, jetstream.ConsumerConfig{
		Name:              consumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		FilterSubject:     filter,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return err
	}

	go pull(ctx, cons, 10, func(msg jetstream.Msg) bool {
		settle(ctx, msg, handler, "consumer", consumerName)
		return ctx.Err() == nil
	})

	slog.Info("event consumer started", "consumer", consumerName, "filter", filter)
	return nil
}

func (c *Consumer) consumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	s, err := c.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", stream, err)
	}
	cons, err := s.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Name, err)
	}
	return cons, nil
}

// pull fetches batches until ctx is done or deliver returns false.
func pull(ctx context.Context, cons jetstream.Consumer, batch int, deliver func(jetstream.Msg) bool) {
	for ctx.Err() == nil {
		msgs, err := cons.Fetch(batch, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("fetch messages", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for msg := range msgs.Messages() {
			if !deliver(msg) {
				return
			}
		}
	}
}

// settle runs handler and acks, or naks on error.
func settle(ctx context.Context, msg jetstream.Msg, handler MessageHandler, attrs ...any) {
	if err := handler(ctx, msg); err != nil {
		slog.Error("handle message", append(attrs, "subject", msg.Subject(), "error", err)...)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (c *Consumer) Close() {
	c.nc.Close()
}
