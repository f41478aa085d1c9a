package recognition

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/your-org/rollcall/internal/models"
)

type EventPublisher interface {
	PublishEvent(ctx context.Context, cameraID string, data any) error
}

// NATSSink publishes to events.<camera>.
type NATSSink struct {
	Publisher EventPublisher
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, ev *models.MatchEvent) error {
	return s.Publisher.PublishEvent(ctx, ev.CameraID, ev)
}

type EventRecorder interface {
	RecordEvent(ctx context.Context, ev *models.MatchEvent) error
}

// StoreSink appends to the attendance event log.
type StoreSink struct {
	Store EventRecorder
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, ev *models.MatchEvent) error {
	return s.Store.RecordEvent(ctx, ev)
}

type Broadcaster interface {
	Broadcast(cameraID string, data []byte)
}

// BroadcastSink pushes events to live WebSocket subscribers.
type BroadcastSink struct {
	Hub Broadcaster
}

func (s *BroadcastSink) Name() string { return "ws" }

func (s *BroadcastSink) Send(_ context.Context, ev *models.MatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.Hub.Broadcast(ev.CameraID, data)
	return nil
}
