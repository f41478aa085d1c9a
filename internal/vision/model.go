package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/observability"
)

// FaceModel is the detector + embedder capability used by enrollment and
// live recognition. Implementations must be safe for concurrent use.
type FaceModel interface {
	DetectFaces(img image.Image) ([]Detection, error)
	EmbedFace(img image.Image, det Detection) ([]float32, error)
}

// ONNXFaceModel is a FaceModel backed by RetinaFace det_10g and ArcFace
// w600k_r50.
type ONNXFaceModel struct {
	detector *Detector
	embedder *Embedder
}

// LoadONNXFaceModel loads both models from cfg.ModelsDir. The ONNX Runtime
// environment must already be initialized.
func LoadONNXFaceModel(cfg config.VisionConfig, opts *ort.SessionOptions) (*ONNXFaceModel, error) {
	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectorModel)
	embPath := filepath.Join(cfg.ModelsDir, cfg.EmbedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), opts)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXFaceModel{detector: det, embedder: emb}, nil
}

func (m *ONNXFaceModel) DetectFaces(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()

	start := time.Now()
	input := preprocessForDetection(img, m.detector.inputW, m.detector.inputH)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	dets, err := m.detector.Detect(input, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	if bounds.Min != (image.Point{}) {
		off := [2]float32{float32(bounds.Min.X), float32(bounds.Min.Y)}
		for i := range dets {
			dets[i].BBox[0] += off[0]
			dets[i].BBox[1] += off[1]
			dets[i].BBox[2] += off[0]
			dets[i].BBox[3] += off[1]
			for j := range dets[i].Landmarks {
				dets[i].Landmarks[j][0] += off[0]
				dets[i].Landmarks[j][1] += off[1]
			}
		}
	}
	return dets, nil
}

func (m *ONNXFaceModel) EmbedFace(img image.Image, det Detection) ([]float32, error) {
	start := time.Now()
	w, h := m.embedder.InputSize()
	face := AlignFace(img, det, w)
	if face == nil {
		return nil, fmt.Errorf("align face: empty region")
	}
	emb, err := m.embedder.Extract(preprocessForEmbedding(face, w, h))
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return emb, nil
}

// Close releases both ONNX sessions.
func (m *ONNXFaceModel) Close() {
	if m.detector != nil {
		m.detector.Close()
	}
	if m.embedder != nil {
		m.embedder.Close()
	}
}
