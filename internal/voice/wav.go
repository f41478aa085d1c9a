package voice

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var errNotWAV = errors.New("not a RIFF/WAVE file")

// WAVFormat is the fmt chunk of a WAV file.
type WAVFormat struct {
	AudioFormat   uint16 // 1 = PCM, 3 = IEEE float
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// IsPCM16Mono reports whether the format is 16-bit PCM mono at rate.
func (f WAVFormat) IsPCM16Mono(rate int) bool {
	return f.AudioFormat == 1 && f.Channels == 1 && f.BitsPerSample == 16 && int(f.SampleRate) == rate
}

// Waveform is decoded mono audio in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

func (w *Waveform) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// ReadWAVFormat parses only the header chunks of a WAV file.
func ReadWAVFormat(path string) (WAVFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVFormat{}, err
	}
	defer f.Close()
	format, _, err := readWAVHeader(bufio.NewReader(f))
	return format, err
}

// LoadWAV decodes a 16-bit PCM or 32-bit float WAV file, mixing channels
// down to mono.
func LoadWAV(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(bufio.NewReader(f))
}

func DecodeWAV(r io.Reader) (*Waveform, error) {
	format, dataLen, err := readWAVHeader(r)
	if err != nil {
		return nil, err
	}
	if format.Channels == 0 {
		return nil, fmt.Errorf("wav: zero channels")
	}

	var bytesPerSample int
	switch {
	case format.AudioFormat == 1 && format.BitsPerSample == 16:
		bytesPerSample = 2
	case format.AudioFormat == 3 && format.BitsPerSample == 32:
		bytesPerSample = 4
	default:
		return nil, fmt.Errorf("wav: unsupported encoding format=%d bits=%d", format.AudioFormat, format.BitsPerSample)
	}

	data, err := io.ReadAll(io.LimitReader(r, int64(dataLen)))
	if err != nil {
		return nil, fmt.Errorf("wav: read data: %w", err)
	}

	ch := int(format.Channels)
	frame := bytesPerSample * ch
	n := len(data) / frame
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < ch; c++ {
			off := i*frame + c*bytesPerSample
			if bytesPerSample == 2 {
				sum += float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768.0
			} else {
				sum += math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			}
		}
		samples[i] = sum / float32(ch)
	}

	return &Waveform{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// readWAVHeader consumes chunks up to the start of the data chunk and
// returns the format and the data length.
func readWAVHeader(r io.Reader) (WAVFormat, uint32, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVFormat{}, 0, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVFormat{}, 0, errNotWAV
	}

	var format WAVFormat
	haveFormat := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVFormat{}, 0, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVFormat{}, 0, fmt.Errorf("wav: fmt chunk too small (%d)", size)
			}
			buf := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, buf); err != nil {
				return WAVFormat{}, 0, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			format = WAVFormat{
				AudioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
				Channels:      binary.LittleEndian.Uint16(buf[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(buf[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
			}
			if format.AudioFormat == 0xFFFE && size >= 26 {
				// WAVE_FORMAT_EXTENSIBLE: the sub-format GUID starts with the real tag
				format.AudioFormat = binary.LittleEndian.Uint16(buf[24:26])
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return WAVFormat{}, 0, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			return format, size, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return WAVFormat{}, 0, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV writes mono 16-bit PCM.
func EncodeWAV(w io.Writer, samples []float32, rate int) error {
	dataLen := uint32(len(samples) * 2)
	le := binary.LittleEndian
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	le.PutUint32(hdr[4:], 36+dataLen)
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	le.PutUint32(hdr[16:], 16)
	le.PutUint16(hdr[20:], 1)
	le.PutUint16(hdr[22:], 1)
	le.PutUint32(hdr[24:], uint32(rate))
	le.PutUint32(hdr[28:], uint32(rate*2))
	le.PutUint16(hdr[32:], 2)
	le.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	le.PutUint32(hdr[40:], dataLen)
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		le.PutUint16(buf[i*2:], uint16(int16(s*32767)))
	}
	_, err := w.Write(buf)
	return err
}
