package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// maxFrameSize bounds a single MJPEG frame read from ffmpeg.
const maxFrameSize = 10 << 20

var errNoFrames = errors.New("no frames received from ffmpeg")

// FrameCallback is called for each extracted JPEG frame.
type FrameCallback func(frame []byte) error

// FFmpegExtractor turns a camera URL into a sequence of JPEG frames.
type FFmpegExtractor struct {
	Binary string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Run starts ffmpeg and calls fn for each frame at fps, scaled to width.
// It blocks until ctx is cancelled, the stream ends or ffmpeg fails.
func (f *FFmpegExtractor) Run(ctx context.Context, url string, fps, width int, fn FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(url, fps, width)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "url", url, "output", scanner.Text())
		}
	}()

	n, readErr := readJPEGFrames(ctx, stdout, fn)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case readErr != nil:
		return fmt.Errorf("read frames: %w", readErr)
	case n == 0:
		if waitErr != nil {
			return fmt.Errorf("%w: %w", errNoFrames, waitErr)
		}
		return errNoFrames
	}
	return waitErr
}

// Stop terminates the running ffmpeg process.
func (f *FFmpegExtractor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

func ffmpegArgs(url string, fps, width int) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	}

	return append(args,
		"-i", url,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-2", fps, width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// readJPEGFrames splits a concatenated MJPEG stream on SOI/EOI markers and
// returns the number of frames delivered. A callback error is logged and
// the frame skipped.
func readJPEGFrames(ctx context.Context, r io.Reader, fn FrameCallback) (int, error) {
	br := bufio.NewReaderSize(r, 512*1024)
	frames := 0

	for {
		if ctx.Err() != nil {
			return frames, ctx.Err()
		}

		if err := skipToSOI(br); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, err
		}

		frame, err := readToEOI(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// stream ended mid-frame
				return frames, nil
			}
			return frames, err
		}

		frames++
		if err := fn(frame); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
}

func skipToSOI(r *bufio.Reader) error {
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}

func readToEOI(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8})

	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
		if buf.Len() > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameSize)
		}
	}
}
