package vision

import (
	"fmt"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by the detector, in source image pixels.
type Detection struct {
	BBox       [4]float32    // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32 // left eye, right eye, nose, left mouth, right mouth
}

// Area of the bounding box in pixels.
func (d Detection) Area() float32 {
	return (d.BBox[2] - d.BBox[0]) * (d.BBox[3] - d.BBox[1])
}

const (
	detInputSize = 640
	detAnchors   = 2 // anchors per feature map cell
	nmsIoU       = 0.4
)

// det10gHeads names the score, box and landmark outputs of each stride of
// the RetinaFace det_10g graph.
var det10gHeads = []struct {
	stride              int
	scores, boxes, kpss string
}{
	{8, "448", "451", "454"},
	{16, "471", "474", "477"},
	{32, "494", "497", "500"},
}

// head holds the bound output tensors of one stride. Each has
// (size/stride)^2 * detAnchors rows.
type head struct {
	stride int
	scores *ort.Tensor[float32]
	boxes  *ort.Tensor[float32]
	kpss   *ort.Tensor[float32]
}

// Detector runs RetinaFace on a fixed 640x640 input. The session binds its
// tensors, so Detect is serialized.
type Detector struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	heads     []head
	threshold float32
	inputW    int
	inputH    int
}

// NewDetector loads the det_10g model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, inputW: detInputSize, inputH: detInputSize}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var (
		names  []string
		values []ort.Value
	)
	d.heads = make([]head, 0, len(det10gHeads))
	for _, spec := range det10gHeads {
		rows := int64(detInputSize/spec.stride) * int64(detInputSize/spec.stride) * detAnchors
		d.heads = append(d.heads, head{stride: spec.stride})
		h := &d.heads[len(d.heads)-1]
		for _, out := range []struct {
			name string
			cols int64
			dst  **ort.Tensor[float32]
		}{
			{spec.scores, 1, &h.scores},
			{spec.boxes, 4, &h.boxes},
			{spec.kpss, 10, &h.kpss},
		} {
			t, terr := ort.NewEmptyTensor[float32](ort.NewShape(rows, out.cols))
			if terr != nil {
				d.Close()
				return nil, fmt.Errorf("create output tensor %s: %w", out.name, terr)
			}
			*out.dst = t
			names = append(names, out.name)
			values = append(values, t)
		}
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs detection on a CHW image preprocessed to the input size and
// scales the results back to origW x origH.
func (d *Detector) Detect(imgData []float32, origW, origH int) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.input.GetData(), imgData)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	sx := float32(origW) / float32(d.inputW)
	sy := float32(origH) / float32(d.inputH)

	var dets []Detection
	for _, h := range d.heads {
		dets = d.decode(dets, h, sx, sy, float32(origW), float32(origH))
	}
	return nms(dets, nmsIoU), nil
}

// decode appends the detections of one stride above the threshold. Box
// outputs are edge distances from the anchor center in stride units;
// landmark outputs are offsets in stride units.
func (d *Detector) decode(dst []Detection, h head, sx, sy, maxX, maxY float32) []Detection {
	scores := h.scores.GetData()
	boxes := h.boxes.GetData()
	kpss := h.kpss.GetData()

	cols := d.inputW / h.stride
	st := float32(h.stride)

	for i, score := range scores {
		if score < d.threshold {
			continue
		}
		cell := i / detAnchors
		ax := float32(cell%cols) * st
		ay := float32(cell/cols) * st

		b := boxes[i*4 : i*4+4]
		det := Detection{
			BBox: [4]float32{
				clampF((ax-b[0]*st)*sx, 0, maxX),
				clampF((ay-b[1]*st)*sy, 0, maxY),
				clampF((ax+b[2]*st)*sx, 0, maxX),
				clampF((ay+b[3]*st)*sy, 0, maxY),
			},
			Confidence: score,
		}
		k := kpss[i*10 : i*10+10]
		for p := range det.Landmarks {
			det.Landmarks[p] = [2]float32{(ax + k[2*p]*st) * sx, (ay + k[2*p+1]*st) * sy}
		}
		dst = append(dst, det)
	}
	return dst
}

// InputSize returns the model input width and height.
func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

// Close releases the session and every tensor created so far.
func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, h := range d.heads {
		for _, t := range []*ort.Tensor[float32]{h.scores, h.boxes, h.kpss} {
			if t != nil {
				t.Destroy()
			}
		}
	}
}

// nms keeps the most confident detection of every group overlapping by
// more than iouThreshold. The result is ordered by confidence.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := dets[:0]
	for _, cand := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, cand.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	w := min(a[2], b[2]) - max(a[0], b[0])
	h := min(a[3], b[3]) - max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
