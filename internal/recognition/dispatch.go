package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
)

// Sink receives emitted match events. Send runs on the dispatcher
// goroutine, never on a frame goroutine.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev *models.MatchEvent) error
}

// SnapshotStore uploads face snapshots.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type job struct {
	ev       models.MatchEvent
	snapshot []byte
}

// Dispatcher fans events out to sinks from a bounded buffer. Emit never
// blocks; a full buffer drops the event.
type Dispatcher struct {
	queue     chan job
	sinks     []Sink
	snapshots SnapshotStore
	timeout   time.Duration
}

// NewDispatcher returns a dispatcher; snapshots may be nil.
func NewDispatcher(buffer int, snapshots SnapshotStore, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		queue:     make(chan job, buffer),
		sinks:     sinks,
		snapshots: snapshots,
		timeout:   5 * time.Second,
	}
}

// Emit queues ev and reports whether it was accepted.
func (d *Dispatcher) Emit(ev models.MatchEvent, snapshot []byte) bool {
	select {
	case d.queue <- job{ev: ev, snapshot: snapshot}:
		return true
	default:
		observability.EventsDropped.Inc()
		slog.Warn("event buffer full, dropping event", "camera_id", ev.CameraID, "subject", ev.Subject())
		return false
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.deliver(ctx, j)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	ev := j.ev
	if d.snapshots != nil && len(j.snapshot) > 0 {
		key := snapshotKey(&ev)
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := d.snapshots.PutObject(sctx, key, j.snapshot, "image/jpeg"); err != nil {
			slog.Warn("save snapshot", "camera_id", ev.CameraID, "error", err)
		} else {
			ev.SnapshotKey = key
		}
		cancel()
	}

	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := s.Send(sctx, &ev); err != nil {
			slog.Error("deliver event", "sink", s.Name(), "camera_id", ev.CameraID, "error", err)
		}
		cancel()
	}
}

func snapshotKey(ev *models.MatchEvent) string {
	return fmt.Sprintf("snapshots/%s/%s_%s.jpg",
		ev.CameraID, ev.TrackID, ev.Timestamp.UTC().Format("20060102_150405.000"))
}
