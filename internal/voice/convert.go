package voice

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Converter transcodes audio to 16-bit PCM mono WAV with ffmpeg.
type Converter struct {
	FFmpegPath string
}

// Convert writes src as PCM16 mono WAV at rate to dst, overwriting it.
func (c *Converter) Convert(ctx context.Context, src, dst string, rate int) error {
	bin := c.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-sample_fmt", "s16",
		"-f", "wav",
		dst,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return nil
}
