package handlers

import (
	"context"
	"errors"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/internal/vision"
	"github.com/your-org/rollcall/internal/voice"
	"github.com/your-org/rollcall/pkg/dto"
)

type FaceEmbedder interface {
	ExtractFromImage(img image.Image, mode vision.Mode) (*vision.FaceResult, error)
}

type VoiceEmbedder interface {
	ExtractSpeakerEmbedding(ctx context.Context, path string) (*voice.AudioEmbedding, error)
}

type IndexSearcher interface {
	SearchKind(ctx context.Context, kind index.Kind, emb []float32, scope string, topK int, threshold float32) ([]index.Match, error)
}

// SearchDefaults are used when the form leaves a field unset.
type SearchDefaults struct {
	TopK           int
	FaceThreshold  float32
	VoiceThreshold float32
}

type SearchHandler struct {
	faces    FaceEmbedder
	voices   VoiceEmbedder
	searcher IndexSearcher
	defaults SearchDefaults
}

// NewSearchHandler returns a handler; voices may be nil when no speaker
// model is configured.
func NewSearchHandler(faces FaceEmbedder, voices VoiceEmbedder, searcher IndexSearcher, defaults SearchDefaults) *SearchHandler {
	return &SearchHandler{faces: faces, voices: voices, searcher: searcher, defaults: defaults}
}

// Search identifies the face in an "image" upload or the speaker in an
// "audio" upload against the index of scope.
func (h *SearchHandler) Search(c *gin.Context) {
	var form dto.SearchForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	topK := form.TopK
	if topK <= 0 {
		topK = h.defaults.TopK
	}

	kind := index.KindFace
	threshold := h.defaults.FaceThreshold
	var (
		emb []float32
		err error
	)

	if fh, ferr := c.FormFile("image"); ferr == nil {
		emb, err = h.embedImage(fh)
	} else if fh, ferr := c.FormFile("audio"); ferr == nil {
		if h.voices == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "speaker model not configured"})
			return
		}
		kind, threshold = index.KindVoice, h.defaults.VoiceThreshold
		emb, err = h.embedAudio(c.Request.Context(), fh)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image or audio file is required"})
		return
	}
	if err != nil {
		c.JSON(extractStatus(err), gin.H{"error": err.Error()})
		return
	}

	if form.Threshold != nil {
		threshold = *form.Threshold
	}

	matches, err := h.searcher.SearchKind(c.Request.Context(), kind, emb, form.Scope, topK, threshold)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, index.ErrIndexNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SearchResponse{
		Scope:     form.Scope,
		Kind:      string(kind),
		Threshold: threshold,
		Matches:   make([]dto.MatchResponse, 0, len(matches)),
	}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, dto.MatchResponse{
			ExternalID:   m.ExternalID,
			DisplayName:  m.DisplayName,
			IdentityType: string(m.IdentityType),
			Similarity:   m.Similarity,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SearchHandler) embedImage(fh *multipart.FileHeader) ([]float32, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := vision.DecodeImage(f)
	if err != nil {
		return nil, &vision.ExtractError{Kind: vision.KindRead, Path: fh.Filename, Err: err}
	}
	res, err := h.faces.ExtractFromImage(img, vision.Lenient)
	if err != nil {
		return nil, err
	}
	return res.Embedding, nil
}

// embedAudio spools the upload to a temp file keeping its extension, which
// the speaker extractor uses to pick a decoder.
func (h *SearchHandler) embedAudio(ctx context.Context, fh *multipart.FileHeader) ([]float32, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "search-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	res, err := h.voices.ExtractSpeakerEmbedding(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

func extractStatus(err error) int {
	switch {
	case errors.Is(err, vision.ErrReadImage),
		errors.Is(err, voice.ErrUnsupportedFormat),
		errors.Is(err, voice.ErrReadAudio),
		errors.Is(err, voice.ErrConversion):
		return http.StatusBadRequest
	case errors.Is(err, vision.ErrNoFaceDetected),
		errors.Is(err, vision.ErrMultipleFaces),
		errors.Is(err, voice.ErrTooShort):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
