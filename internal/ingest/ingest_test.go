package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/queue"
)

func jpegBytes(payload ...byte) []byte {
	return append(append([]byte{0xFF, 0xD8}, payload...), 0xFF, 0xD9)
}

func TestReadJPEGFrames(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x12})
	stream.Write(jpegBytes(1, 2, 3))
	stream.Write(jpegBytes(0xFF, 0x00, 4))
	stream.Write([]byte{0xFF, 0xD8, 9, 9}) // truncated

	var frames [][]byte
	n, err := readJPEGFrames(context.Background(), &stream, func(f []byte) error {
		frames = append(frames, append([]byte(nil), f...))
		return errors.New("ignored")
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", n)
	}
	if !bytes.Equal(frames[0], jpegBytes(1, 2, 3)) {
		t.Errorf("frame 0 = % x", frames[0])
	}
	if !bytes.Equal(frames[1], jpegBytes(0xFF, 0x00, 4)) {
		t.Errorf("frame 1 = % x", frames[1])
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(ffmpegArgs("rtsp://cam/1", 5, 640), " ")
	for _, want := range []string{"-rtsp_transport tcp", "-i rtsp://cam/1", "fps=5,scale=640:-2", "pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if strings.Contains(strings.Join(ffmpegArgs("/dev/video0", 5, 640), " "), "-reconnect") {
		t.Error("reconnect flags added for a local device")
	}
}

type fakeRunner struct {
	frames int
}

func (r *fakeRunner) Run(ctx context.Context, _ string, _, _ int, fn FrameCallback) error {
	for i := 0; i < r.frames; i++ {
		fn(jpegBytes(byte(i)))
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeRunner) Stop() {}

type capture struct {
	mu    sync.Mutex
	keys  []string
	tasks []models.FrameTask
}

func (c *capture) PutObject(_ context.Context, key string, _ []byte, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return nil
}

func (c *capture) PublishFrame(_ context.Context, cameraID, frameID string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	task := data.(models.FrameTask)
	if task.CameraID != cameraID || task.FrameID.String() != frameID {
		return errors.New("task does not match subject")
	}
	c.tasks = append(c.tasks, task)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func TestManagerPublishesFrames(t *testing.T) {
	c := &capture{}
	m := NewManager(c, c, []config.CameraConfig{{ID: "gate", URL: "rtsp://cam/1", FPS: 5}}, 640, "")
	m.newRunner = func() Runner { return &fakeRunner{frames: 3} }

	ctx := context.Background()
	if err := m.HandleCommand(ctx, queue.CameraCommand{Action: "start", CameraID: "gate"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx, "gate"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := m.Start(ctx, "lobby"); err == nil {
		t.Error("unconfigured camera started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.Status()["gate"]; got != models.CameraRunning {
		t.Errorf("status = %s, want running", got)
	}

	m.StopAll()
	if got := m.Status()["gate"]; got != models.CameraStopped {
		t.Errorf("status after stop = %s", got)
	}
	if c.count() != 3 {
		t.Fatalf("published %d tasks, want 3", c.count())
	}
	for i, task := range c.tasks {
		if !strings.HasPrefix(task.FrameRef, "frames/gate/") || task.FrameRef != c.keys[i] {
			t.Errorf("task %d FrameRef = %q", i, task.FrameRef)
		}
	}
}

type fakePruner struct {
	cutoff  time.Time
	deleted []string
}

func (f *fakePruner) ListObjectsBefore(_ context.Context, prefix string, cutoff time.Time) ([]string, error) {
	f.cutoff = cutoff
	return []string{prefix + "old.jpg"}, nil
}

func (f *fakePruner) DeleteObjects(_ context.Context, keys []string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func TestCleanupFrames(t *testing.T) {
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePruner{}
	CleanupFrames(context.Background(), p, 24*time.Hour, now)

	if !p.cutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("cutoff = %v", p.cutoff)
	}
	if len(p.deleted) != 2 || p.deleted[0] != "frames/old.jpg" || p.deleted[1] != "snapshots/old.jpg" {
		t.Errorf("deleted = %v", p.deleted)
	}
}
