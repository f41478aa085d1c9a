package recognition

import (
	"bytes"
	"context"
	"fmt"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/vision"
)

type FrameLoader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// FrameProcessor loads queued frames from object storage and runs them
// through the runtime.
type FrameProcessor struct {
	runtime *Runtime
	frames  FrameLoader
}

func NewFrameProcessor(rt *Runtime, frames FrameLoader) *FrameProcessor {
	return &FrameProcessor{runtime: rt, frames: frames}
}

func (p *FrameProcessor) Process(ctx context.Context, task models.FrameTask) error {
	if !p.runtime.Enabled() {
		observability.FramesSkipped.WithLabelValues(task.CameraID, "disabled").Inc()
		return nil
	}

	data, err := p.frames.GetObject(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("load frame: %w", err)
	}
	img, err := vision.DecodeImage(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode frame %s: %w", task.FrameRef, err)
	}
	_, err = p.runtime.HandleFrame(ctx, task.CameraID, img, task.Timestamp)
	return err
}
