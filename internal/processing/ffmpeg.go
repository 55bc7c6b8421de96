package processing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FFmpeg runs ffprobe and ffmpeg for duration probing, frame sampling and
// audio extraction.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Run         CommandRunner
}

// NewFFmpeg constructs an FFmpeg wrapper using the given binaries.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Run: RunCommand}
}

func (f *FFmpeg) runner() CommandRunner {
	if f.Run == nil {
		return RunCommand
	}
	return f.Run
}

// ProbeDuration returns the container duration of the media at path.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := f.runner()(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}

	raw := strings.TrimSpace(string(out))
	if raw == "" || raw == "N/A" {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if seconds < 0 {
		return 0, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ExtractFrame writes a single 384x384 frame taken at offset at to dst.
func (f *FFmpeg) ExtractFrame(ctx context.Context, src string, at time.Duration, dst string) error {
	_, err := f.runner()(ctx, f.FFmpegPath,
		"-y",
		"-ss", formatSeconds(at),
		"-i", src,
		"-frames:v", "1",
		"-vf", "scale=384:384",
		dst,
	)
	if err != nil {
		return fmt.Errorf("extract frame at %s: %w", formatSeconds(at), err)
	}
	return nil
}

// ExtractAudio writes a mono 16 kHz PCM WAV rendition of src to dst.
func (f *FFmpeg) ExtractAudio(ctx context.Context, src, dst string) error {
	_, err := f.runner()(ctx, f.FFmpegPath,
		"-y",
		"-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		dst,
	)
	if err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
