package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oralhistory/backend/internal/logging"
)

// FrameClassifier labels a single extracted frame.
type FrameClassifier interface {
	Classify(ctx context.Context, imagePath string) (Classification, error)
}

// FrameSource probes and samples frames from a video file.
type FrameSource interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	ExtractFrame(ctx context.Context, src string, at time.Duration, dst string) error
}

// Verdict is the outcome of moderating a whole video. Label, Score and At
// describe the worst frame observed.
type Verdict struct {
	Safe   bool
	Label  string
	Score  float64
	At     time.Duration
	Frames int
}

// Moderator samples evenly spaced frames and classifies each one.
type Moderator struct {
	Frames     FrameSource
	Classifier FrameClassifier
	Samples    int
	Threshold  float64
	WorkDir    string
}

// SampleOffsets returns n offsets evenly spaced inside duration, excluding
// both ends. An unknown duration yields a single offset at zero.
func SampleOffsets(duration time.Duration, n int) []time.Duration {
	if n < 1 {
		n = 1
	}
	if duration <= 0 {
		return []time.Duration{0}
	}
	step := duration / time.Duration(n+1)
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = step * time.Duration(i+1)
	}
	return offsets
}

// Moderate classifies sampled frames of the video at videoPath. Any frame
// with a non-safe label at or above the threshold makes the video unsafe.
func (m *Moderator) Moderate(ctx context.Context, videoPath string) (Verdict, error) {
	logger := logging.FromContext(ctx)

	duration, err := m.Frames.ProbeDuration(ctx, videoPath)
	if err != nil {
		return Verdict{}, err
	}

	dir, err := os.MkdirTemp(m.WorkDir, "frames-*")
	if err != nil {
		return Verdict{}, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(dir)

	verdict := Verdict{Safe: true, Label: LabelSafe}
	lowestSafe := 2.0
	for i, at := range SampleOffsets(duration, m.Samples) {
		frame := filepath.Join(dir, fmt.Sprintf("frame-%02d.jpg", i))
		if err := m.Frames.ExtractFrame(ctx, videoPath, at, frame); err != nil {
			return Verdict{}, err
		}
		result, err := m.Classifier.Classify(ctx, frame)
		if err != nil {
			return Verdict{}, err
		}
		verdict.Frames++
		logger.Debug("frame classified",
			slog.Duration("at", at),
			slog.String("label", result.Label),
			slog.Float64("score", result.Score),
		)

		if !result.Safe(m.Threshold) {
			if verdict.Safe || result.Score > verdict.Score {
				verdict = Verdict{Safe: false, Label: result.Label, Score: result.Score, At: at, Frames: verdict.Frames}
			}
			continue
		}
		if !verdict.Safe {
			continue
		}
		// Track the least confident safe frame so the verdict still names one.
		confidence := result.Score
		if result.Label != LabelSafe {
			confidence = 1 - result.Score
		}
		if confidence < lowestSafe {
			lowestSafe = confidence
			verdict.Label, verdict.Score, verdict.At = result.Label, result.Score, at
		}
	}
	return verdict, nil
}
