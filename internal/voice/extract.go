package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/your-org/rollcall/internal/index"
	"github.com/your-org/rollcall/internal/observability"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrConversion        = errors.New("audio conversion failed")
	ErrReadAudio         = errors.New("read audio")
	ErrTooShort          = errors.New("audio too short")
	ErrInference         = errors.New("speaker inference")
)

// AudioEmbedding is a normalized speaker embedding and the clip it came from.
type AudioEmbedding struct {
	Vector     []float32
	Duration   float64 // seconds
	SampleRate int
}

// Extractor computes speaker embeddings from audio files.
type Extractor struct {
	model      SpeakerModel
	conv       *Converter
	fbank      *Fbank
	sampleRate int
	allowed    map[string]bool
}

// NewExtractor accepts files whose lowercase extension is in allowedExt.
func NewExtractor(model SpeakerModel, conv *Converter, sampleRate int, allowedExt []string) *Extractor {
	allowed := make(map[string]bool, len(allowedExt))
	for _, ext := range allowedExt {
		allowed[strings.ToLower(ext)] = true
	}
	cfg := DefaultFbankConfig()
	cfg.SampleRate = sampleRate
	return &Extractor{
		model:      model,
		conv:       conv,
		fbank:      NewFbank(cfg),
		sampleRate: sampleRate,
		allowed:    allowed,
	}
}

// ExtractSpeakerEmbedding converts path to PCM16 mono at the model rate when
// needed, computes CMVN-normalized fbank features and returns the
// L2-normalized speaker embedding. The converted temp file is removed.
func (x *Extractor) ExtractSpeakerEmbedding(ctx context.Context, path string) (*AudioEmbedding, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !x.allowed[ext] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadAudio, err)
	}

	wavPath := path
	if !x.isCanonical(path, ext) {
		tmp, err := os.CreateTemp("", "rc-voice-*.wav")
		if err != nil {
			return nil, fmt.Errorf("%w: create temp: %w", ErrConversion, err)
		}
		tmp.Close()
		defer func() {
			if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("remove converted audio", "path", tmp.Name(), "error", err)
			}
		}()

		start := time.Now()
		if err := x.conv.Convert(ctx, path, tmp.Name(), x.sampleRate); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversion, err)
		}
		observability.InferenceDuration.WithLabelValues("audio_convert").Observe(time.Since(start).Seconds())
		wavPath = tmp.Name()
	}

	wave, err := LoadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadAudio, err)
	}
	return x.EmbedWaveform(wave)
}

// EmbedWaveform runs the feature front-end and model on decoded audio at the
// extractor's sample rate.
func (x *Extractor) EmbedWaveform(wave *Waveform) (*AudioEmbedding, error) {
	if wave.SampleRate != x.sampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrReadAudio, wave.SampleRate, x.sampleRate)
	}

	feats := x.fbank.Extract(wave.Samples)
	if len(feats) == 0 {
		return nil, fmt.Errorf("%w: %.3fs", ErrTooShort, wave.Duration())
	}
	CMVN(feats)

	start := time.Now()
	raw, err := x.model.Embed(feats)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	observability.InferenceDuration.WithLabelValues("speaker_embed").Observe(time.Since(start).Seconds())

	return &AudioEmbedding{
		Vector:     index.Normalize(raw),
		Duration:   wave.Duration(),
		SampleRate: wave.SampleRate,
	}, nil
}

func (x *Extractor) isCanonical(path, ext string) bool {
	if ext != ".wav" {
		return false
	}
	format, err := ReadWAVFormat(path)
	return err == nil && format.IsPCM16Mono(x.sampleRate)
}
