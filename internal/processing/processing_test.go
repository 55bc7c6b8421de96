package processing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	binary string
	args   []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	handle func(binary string, args []string) ([]byte, error)
}

func (f *fakeRunner) run(_ context.Context, binary string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{binary: binary, args: append([]string(nil), args...)})
	f.mu.Unlock()
	if f.handle == nil {
		return nil, nil
	}
	return f.handle(binary, args)
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestFFmpegCommandLines(t *testing.T) {
	runner := &fakeRunner{handle: func(binary string, args []string) ([]byte, error) {
		if binary == "ffprobe" {
			return []byte("12.500000\n"), nil
		}
		return nil, nil
	}}
	ff := NewFFmpeg("", "")
	ff.Run = runner.run

	duration, err := ff.ProbeDuration(context.Background(), "in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, duration)

	require.NoError(t, ff.ExtractFrame(context.Background(), "in.mp4", 1500*time.Millisecond, "f.jpg"))
	require.NoError(t, ff.ExtractAudio(context.Background(), "in.mp4", "a.wav"))

	require.Len(t, runner.calls, 3)
	assert.Equal(t, []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", "in.mp4"}, runner.calls[0].args)
	assert.Equal(t, []string{"-y", "-ss", "1.500", "-i", "in.mp4", "-frames:v", "1", "-vf", "scale=384:384", "f.jpg"}, runner.calls[1].args)
	assert.Equal(t, []string{"-y", "-i", "in.mp4", "-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", "a.wav"}, runner.calls[2].args)
}

func TestDurationUnknownWhenFFprobeIsSilent(t *testing.T) {
	ff := NewFFmpeg("ffmpeg", "ffprobe")
	ff.Run = func(context.Context, string, ...string) ([]byte, error) { return []byte("N/A\n"), nil }

	duration, err := ff.ProbeDuration(context.Background(), "in.mp4")
	require.NoError(t, err)
	assert.Zero(t, duration)
}

func TestCommandErrorIncludesStderr(t *testing.T) {
	err := &CommandError{Binary: "ffmpeg", Stderr: "moov atom not found\n", Err: errors.New("exit status 1")}
	assert.Contains(t, err.Error(), "moov atom not found")
	assert.Contains(t, err.Error(), "ffmpeg failed")
}

func TestClassifierParsesLastLine(t *testing.T) {
	runner := &fakeRunner{handle: func(string, []string) ([]byte, error) {
		return []byte("Loading model...\n{\"label\": \"NSFW\", \"score\": 0.91}\n"), nil
	}}
	classifier := NewNSFWClassifier("", "AdamCodd/vit-base-nsfw-detector")
	classifier.Run = runner.run

	result, err := classifier.Classify(context.Background(), "frame.jpg")
	require.NoError(t, err)
	assert.Equal(t, Classification{Label: "nsfw", Score: 0.91}, result)
	assert.False(t, result.Safe(0.5))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "python3", runner.calls[0].binary)
	args := runner.calls[0].args
	assert.Equal(t, "-c", args[0])
	assert.Equal(t, []string{"AdamCodd/vit-base-nsfw-detector", "frame.jpg"}, args[2:])
}

func TestClassifierWarmupOmitsImage(t *testing.T) {
	runner := &fakeRunner{}
	classifier := NewNSFWClassifier("python3", "model")
	classifier.Run = runner.run

	require.NoError(t, classifier.Warmup(context.Background()))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"model"}, runner.calls[0].args[2:])
}

func TestSampleOffsets(t *testing.T) {
	offsets := SampleOffsets(60*time.Second, 5)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 40 * time.Second, 50 * time.Second}, offsets)
	assert.Equal(t, []time.Duration{0}, SampleOffsets(0, 5))
	assert.Len(t, SampleOffsets(10*time.Second, 0), 1)
}

type scriptedFrames struct {
	duration  time.Duration
	extracted []time.Duration
}

func (s *scriptedFrames) ProbeDuration(context.Context, string) (time.Duration, error) {
	return s.duration, nil
}

func (s *scriptedFrames) ExtractFrame(_ context.Context, _ string, at time.Duration, dst string) error {
	s.extracted = append(s.extracted, at)
	return os.WriteFile(dst, []byte("jpg"), 0o600)
}

type scriptedClassifier struct {
	results []Classification
	n       int
}

func (s *scriptedClassifier) Classify(context.Context, string) (Classification, error) {
	r := s.results[s.n%len(s.results)]
	s.n++
	return r, nil
}

func TestModeratorFlagsWorstFrame(t *testing.T) {
	frames := &scriptedFrames{duration: 60 * time.Second}
	classifier := &scriptedClassifier{results: []Classification{
		{Label: "sfw", Score: 0.99},
		{Label: "nsfw", Score: 0.62},
		{Label: "sfw", Score: 0.97},
		{Label: "nsfw", Score: 0.88},
		{Label: "nsfw", Score: 0.30},
	}}
	moderator := &Moderator{Frames: frames, Classifier: classifier, Samples: 5, Threshold: 0.5, WorkDir: t.TempDir()}

	verdict, err := moderator.Moderate(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.False(t, verdict.Safe)
	assert.Equal(t, "nsfw", verdict.Label)
	assert.InDelta(t, 0.88, verdict.Score, 1e-9)
	assert.Equal(t, 40*time.Second, verdict.At)
	assert.Equal(t, 5, verdict.Frames)
	assert.Len(t, frames.extracted, 5)
}

func TestModeratorSafeVideo(t *testing.T) {
	frames := &scriptedFrames{duration: 30 * time.Second}
	classifier := &scriptedClassifier{results: []Classification{
		{Label: "sfw", Score: 0.99},
		{Label: "nsfw", Score: 0.45},
		{Label: "sfw", Score: 0.80},
	}}
	moderator := &Moderator{Frames: frames, Classifier: classifier, Samples: 3, Threshold: 0.5, WorkDir: t.TempDir()}

	verdict, err := moderator.Moderate(context.Background(), "video.mp4")
	require.NoError(t, err)
	assert.True(t, verdict.Safe)
	assert.Equal(t, 3, verdict.Frames)
	assert.Equal(t, "nsfw", verdict.Label)
}

func TestWhisperParsesJSONAndDiarizes(t *testing.T) {
	runner := &fakeRunner{}
	runner.handle = func(binary string, args []string) ([]byte, error) {
		switch binary {
		case "whisper":
			dir := argAfter(args, "--output_dir")
			body := `{"text":" Hello there. Hi.","language":"en","segments":[
				{"start":0.0,"end":2.0,"text":" Hello there."},
				{"start":2.0,"end":3.5,"text":" Hi.","speaker":"SPEAKER_01"}]}`
			return nil, os.WriteFile(filepath.Join(dir, "audio.json"), []byte(body), 0o600)
		case "diarize":
			return []byte(`[{"start":0,"end":1.8,"speaker":"SPEAKER_00"},{"start":1.8,"end":4,"speaker":"SPEAKER_02"}]`), nil
		}
		return nil, errors.New("unexpected binary " + binary)
	}

	w := NewWhisper("", "small", "cpu", "en")
	w.Run = runner.run
	w.DiarizeCommand = "diarize"
	w.WorkDir = t.TempDir()

	result, err := w.Transcribe(context.Background(), "/tmp/work/audio.wav")
	require.NoError(t, err)
	assert.Equal(t, "Hello there. Hi.", result.Text)
	assert.Equal(t, "en", result.Language)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "SPEAKER_00", result.Segments[0].Speaker)
	assert.Equal(t, "SPEAKER_01", result.Segments[1].Speaker)
	assert.Equal(t, 3500*time.Millisecond, result.Segments[1].End)

	args := runner.calls[0].args
	assert.Equal(t, "/tmp/work/audio.wav", args[0])
	assert.Equal(t, "small", argAfter(args, "--model"))
	assert.Equal(t, "json", argAfter(args, "--output_format"))
	assert.Equal(t, "en", argAfter(args, "--language"))
	assert.Equal(t, "cpu", argAfter(args, "--device"))
}

func TestWhisperMissingOutput(t *testing.T) {
	w := NewWhisper("whisper", "base", "", "auto")
	w.Run = func(context.Context, string, ...string) ([]byte, error) { return nil, nil }
	w.WorkDir = t.TempDir()

	_, err := w.Transcribe(context.Background(), "audio.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output not found")
}

func TestCommandAnalyzerRoundTrip(t *testing.T) {
	analyzer := NewCommandAnalyzer("python3 analyze.py --strict")
	require.NotNil(t, analyzer)
	var gotStdin string
	analyzer.Run = func(_ context.Context, stdin []byte, binary string, args ...string) ([]byte, error) {
		gotStdin = string(stdin)
		assert.Equal(t, "python3", binary)
		assert.Equal(t, []string{"analyze.py", "--strict"}, args)
		return []byte(`{"correctedTranscript":"[Grandma] hello"}`), nil
	}

	out, err := analyzer.Reanalyze(context.Background(), "[SPEAKER_00] hello", map[string]string{"SPEAKER_00": "Grandma"})
	require.NoError(t, err)
	assert.Equal(t, "[Grandma] hello", out)
	assert.True(t, strings.Contains(gotStdin, `"speakerMappings":{"SPEAKER_00":"Grandma"}`))
}

func TestCommandAnalyzerEmptyResponse(t *testing.T) {
	analyzer := NewCommandAnalyzer("analyze")
	analyzer.Run = func(context.Context, []byte, string, ...string) ([]byte, error) {
		return []byte(`{"correctedTranscript":"  "}`), nil
	}
	_, err := analyzer.Reanalyze(context.Background(), "text", nil)
	require.Error(t, err)
	assert.Nil(t, NewCommandAnalyzer("  "))
}
