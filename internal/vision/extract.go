package vision

import (
	"errors"
	"fmt"
	"image"
)

// Mode selects how many faces a reference image may contain.
type Mode int

const (
	// Enroll requires exactly one face.
	Enroll Mode = iota
	// Lenient uses the most confident face.
	Lenient
)

type ErrorKind int

const (
	KindRead ErrorKind = iota + 1
	KindNoFace
	KindMultipleFaces
	KindInference
)

var (
	ErrReadImage      = errors.New("read image")
	ErrNoFaceDetected = errors.New("no face")
	ErrMultipleFaces  = errors.New("multiple faces")
	ErrFaceInference  = errors.New("face inference")
)

var kindSentinels = map[ErrorKind]error{
	KindRead:          ErrReadImage,
	KindNoFace:        ErrNoFaceDetected,
	KindMultipleFaces: ErrMultipleFaces,
	KindInference:     ErrFaceInference,
}

// ExtractError is returned by the extractor. errors.Is matches it against
// the sentinel of its Kind.
type ExtractError struct {
	Kind  ErrorKind
	Path  string
	Faces int
	Err   error
}

func (e *ExtractError) Error() string {
	msg := kindSentinels[e.Kind].Error()
	if e.Kind == KindMultipleFaces {
		msg = fmt.Sprintf("%s (%d)", msg, e.Faces)
	}
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractError) Unwrap() error { return e.Err }

func (e *ExtractError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// FaceResult is one extracted face.
type FaceResult struct {
	Embedding []float32
	Detection Detection
}

// Extractor turns reference photos and frames into face embeddings.
type Extractor struct {
	model FaceModel
}

func NewExtractor(model FaceModel) *Extractor {
	return &Extractor{model: model}
}

// ExtractFaceEmbedding loads the image at path and returns the embedding of
// its face according to mode.
func (x *Extractor) ExtractFaceEmbedding(path string, mode Mode) ([]float32, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, &ExtractError{Kind: KindRead, Path: path, Err: err}
	}
	res, err := x.ExtractFromImage(img, mode)
	if err != nil {
		var xe *ExtractError
		if errors.As(err, &xe) {
			xe.Path = path
		}
		return nil, err
	}
	return res.Embedding, nil
}

// ExtractFromImage is ExtractFaceEmbedding on a decoded image.
func (x *Extractor) ExtractFromImage(img image.Image, mode Mode) (*FaceResult, error) {
	dets, err := x.model.DetectFaces(img)
	if err != nil {
		return nil, &ExtractError{Kind: KindInference, Err: err}
	}
	if len(dets) == 0 {
		return nil, &ExtractError{Kind: KindNoFace}
	}
	if mode == Enroll && len(dets) > 1 {
		return nil, &ExtractError{Kind: KindMultipleFaces, Faces: len(dets)}
	}

	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	emb, err := x.model.EmbedFace(img, best)
	if err != nil {
		return nil, &ExtractError{Kind: KindInference, Err: err}
	}
	return &FaceResult{Embedding: emb, Detection: best}, nil
}
