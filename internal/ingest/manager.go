// Package ingest pulls frames from the configured cameras into object
// storage and queues them for recognition.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
)

type FramePublisher interface {
	PublishFrame(ctx context.Context, cameraID, frameID string, data any) error
}

type ObjectWriter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Runner extracts frames from one camera URL. *FFmpegExtractor implements it.
type Runner interface {
	Run(ctx context.Context, url string, fps, width int, fn FrameCallback) error
	Stop()
}

type activeCamera struct {
	cancel context.CancelFunc
	runner Runner
	done   chan struct{}
}

// Manager owns one ingestion goroutine per running camera.
type Manager struct {
	producer  FramePublisher
	objects   ObjectWriter
	cameras   map[string]config.CameraConfig
	width     int
	newRunner func() Runner
	retries   int
	backoff   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running map[string]*activeCamera
}

func NewManager(producer FramePublisher, objects ObjectWriter, cameras []config.CameraConfig, frameWidth int, ffmpegPath string) *Manager {
	byID := make(map[string]config.CameraConfig, len(cameras))
	for _, c := range cameras {
		byID[c.ID] = c
	}
	return &Manager{
		producer:  producer,
		objects:   objects,
		cameras:   byID,
		width:     frameWidth,
		newRunner: func() Runner { return &FFmpegExtractor{Binary: ffmpegPath} },
		retries:   5,
		backoff:   time.Second,
		now:       time.Now,
		running:   make(map[string]*activeCamera),
	}
}

// StartAll starts every configured camera.
func (m *Manager) StartAll(ctx context.Context) {
	for id := range m.cameras {
		if err := m.Start(ctx, id); err != nil {
			slog.Error("start camera", "camera_id", id, "error", err)
		}
	}
}

// HandleCommand applies a control command.
func (m *Manager) HandleCommand(ctx context.Context, cmd queue.CameraCommand) error {
	switch cmd.Action {
	case "start":
		return m.Start(ctx, cmd.CameraID)
	case "stop":
		m.Stop(cmd.CameraID)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", cmd.Action)
	}
}

// Start begins ingesting a configured camera. Starting a running camera is
// a no-op.
func (m *Manager) Start(ctx context.Context, cameraID string) error {
	cam, ok := m.cameras[cameraID]
	if !ok {
		return fmt.Errorf("camera %q is not configured", cameraID)
	}

	m.mu.Lock()
	if _, running := m.running[cameraID]; running {
		m.mu.Unlock()
		return nil
	}
	camCtx, cancel := context.WithCancel(ctx)
	ac := &activeCamera{cancel: cancel, done: make(chan struct{})}
	m.running[cameraID] = ac
	m.mu.Unlock()

	observability.ActiveCameras.Inc()
	slog.Info("starting camera ingestion", "camera_id", cam.ID, "fps", cam.FPS)

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.running, cam.ID)
			m.mu.Unlock()
			observability.ActiveCameras.Dec()
			close(ac.done)
			slog.Info("camera ingestion stopped", "camera_id", cam.ID)
		}()
		m.run(camCtx, cam, ac)
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, cam config.CameraConfig, ac *activeCamera) {
	for attempt := 0; attempt <= m.retries; attempt++ {
		if attempt > 0 {
			delay := m.backoff << uint(attempt-1)
			slog.Warn("retrying camera", "camera_id", cam.ID, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		runner := m.newRunner()
		m.mu.Lock()
		ac.runner = runner
		m.mu.Unlock()

		err := runner.Run(ctx, cam.URL, cam.FPS, m.width, func(frame []byte) error {
			return m.publish(ctx, cam.ID, frame)
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// stream ended cleanly; cameras are expected to run forever
			attempt = 0
			continue
		}
		slog.Error("camera extraction failed", "camera_id", cam.ID, "attempt", attempt, "error", err)
	}
	slog.Error("camera failed after retries", "camera_id", cam.ID, "status", models.CameraError)
}

func (m *Manager) publish(ctx context.Context, cameraID string, frame []byte) error {
	frameID := uuid.New()
	now := m.now().UTC()

	key := fmt.Sprintf("frames/%s/%s_%s.jpg", cameraID, now.Format("20060102T150405.000"), frameID)
	if err := m.objects.PutObject(ctx, key, frame, "image/jpeg"); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	task := models.FrameTask{
		CameraID:  cameraID,
		FrameID:   frameID,
		Timestamp: now,
		FrameRef:  key,
		Width:     m.width,
	}
	if err := m.producer.PublishFrame(ctx, cameraID, frameID.String(), task); err != nil {
		return fmt.Errorf("publish frame task: %w", err)
	}
	return nil
}

// Stop stops a camera and waits for its goroutine to exit.
func (m *Manager) Stop(cameraID string) {
	m.mu.Lock()
	ac, ok := m.running[cameraID]
	var runner Runner
	if ok {
		runner = ac.runner
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ac.cancel()
	if runner != nil {
		runner.Stop()
	}
	<-ac.done
}

// Status reports the state of every configured camera.
func (m *Manager) Status() map[string]models.CameraStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.CameraStatus, len(m.cameras))
	for id := range m.cameras {
		if _, ok := m.running[id]; ok {
			out[id] = models.CameraRunning
		} else {
			out[id] = models.CameraStopped
		}
	}
	return out
}

// StopAll stops every running camera.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}
