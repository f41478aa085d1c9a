package vision

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/rollcall/internal/index"
)

// arcFace describes the w600k_r50 graph.
var arcFace = struct {
	input, output string
	size, dim     int
}{"input.1", "683", 112, 512}

// Embedder maps aligned 112x112 face crops to L2-normalized ArcFace
// embeddings. Extract is serialized on the bound tensors.
type Embedder struct {
	mu     sync.Mutex
	sess   *ort.AdvancedSession
	in     *ort.Tensor[float32]
	out    *ort.Tensor[float32]
	inputW int
	inputH int
}

func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{inputW: arcFace.size, inputH: arcFace.size}

	var err error
	if e.in, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(arcFace.size), int64(arcFace.size))); err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	if e.out, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(arcFace.dim))); err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	e.sess, err = ort.NewAdvancedSession(modelPath,
		[]string{arcFace.input}, []string{arcFace.output},
		[]ort.Value{e.in}, []ort.Value{e.out},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Extract embeds a CHW face crop normalized for ArcFace.
func (e *Embedder) Extract(faceData []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.in.GetData(), faceData)
	if err := e.sess.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	// Normalize copies, so the result outlives the next Run.
	return index.Normalize(e.out.GetData()[:arcFace.dim]), nil
}

func (e *Embedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

func (e *Embedder) Close() {
	if e.sess != nil {
		e.sess.Destroy()
	}
	if e.in != nil {
		e.in.Destroy()
	}
	if e.out != nil {
		e.out.Destroy()
	}
}
