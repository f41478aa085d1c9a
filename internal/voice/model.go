package voice

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SpeakerModel maps a [T][NumMels] feature matrix to a raw (unnormalized)
// speaker embedding. Implementations must be safe for concurrent use.
type SpeakerModel interface {
	Embed(features [][]float32) ([]float32, error)
}

// ONNXSpeakerModel runs an ERes2Net/ECAPA style model whose single input is
// [1, T, NumMels] with a dynamic T axis.
type ONNXSpeakerModel struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

// NewONNXSpeakerModel loads the model at path and discovers its input and
// output names.
func NewONNXSpeakerModel(path string, opts *ort.SessionOptions) (*ONNXSpeakerModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect speaker model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("speaker model has %d inputs and %d outputs, want 1 and >=1", len(inputs), len(outputs))
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create speaker session: %w", err)
	}
	return &ONNXSpeakerModel{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

func (m *ONNXSpeakerModel) Embed(features [][]float32) ([]float32, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("empty feature matrix")
	}
	numMels := len(features[0])

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(features)), int64(numMels)), Flatten(features))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}

	m.mu.Lock()
	err = m.session.Run([]ort.Value{input}, outputs)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run speaker model: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("speaker model output %s is not float32", m.outputName)
	}
	data := out.GetData()
	emb := make([]float32, len(data))
	copy(emb, data)
	return emb, nil
}

func (m *ONNXSpeakerModel) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
}
