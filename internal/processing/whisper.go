package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oralhistory/backend/internal/transcripts"
)

// TranscriptionResult is the parsed output of a whisper run.
type TranscriptionResult struct {
	Text     string
	Language string
	Segments []transcripts.Segment
}

// Whisper runs the whisper CLI and parses its JSON output. When
// DiarizeCommand is set, it is run on the same audio and its speaker turns
// are assigned to segments that lack a speaker.
type Whisper struct {
	Binary         string
	Model          string
	Device         string
	Language       string
	ExtraArgs      []string
	DiarizeCommand string
	WorkDir        string
	Run            CommandRunner
}

// NewWhisper constructs a Whisper wrapper with defaults for empty settings.
func NewWhisper(binary, model, device, language string) *Whisper {
	if strings.TrimSpace(binary) == "" {
		binary = "whisper"
	}
	if strings.TrimSpace(model) == "" {
		model = "base"
	}
	return &Whisper{
		Binary:   binary,
		Model:    model,
		Device:   strings.TrimSpace(device),
		Language: strings.TrimSpace(language),
		Run:      RunCommand,
	}
}

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

type speakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

func (w *Whisper) runner() CommandRunner {
	if w.Run == nil {
		return RunCommand
	}
	return w.Run
}

// Transcribe runs whisper on the audio file at audioPath.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (TranscriptionResult, error) {
	outputDir, err := os.MkdirTemp(w.WorkDir, "whisper-*")
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("create whisper dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := []string{
		audioPath,
		"--model", w.Model,
		"--output_format", "json",
		"--output_dir", outputDir,
	}
	if w.Language != "" && !strings.EqualFold(w.Language, "auto") {
		args = append(args, "--language", w.Language)
	}
	if w.Device != "" {
		args = append(args, "--device", w.Device)
	}
	args = append(args, w.ExtraArgs...)

	if _, err := w.runner()(ctx, w.Binary, args...); err != nil {
		return TranscriptionResult{}, fmt.Errorf("whisper: %w", err)
	}

	path, err := findOutput(outputDir, audioPath, ".json")
	if err != nil {
		return TranscriptionResult{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return TranscriptionResult{}, fmt.Errorf("read whisper output: %w", err)
	}
	result, err := parseWhisperOutput(raw)
	if err != nil {
		return TranscriptionResult{}, err
	}

	if w.DiarizeCommand != "" {
		out, err := w.runner()(ctx, w.DiarizeCommand, audioPath)
		if err != nil {
			return TranscriptionResult{}, fmt.Errorf("diarize: %w", err)
		}
		var turns []speakerTurn
		if err := json.Unmarshal(out, &turns); err != nil {
			return TranscriptionResult{}, fmt.Errorf("parse diarization: %w", err)
		}
		assignSpeakers(result.Segments, turns)
	}
	return result, nil
}

func findOutput(dir, inputPath, ext string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	candidate := filepath.Join(dir, base+ext)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	matches, _ := filepath.Glob(filepath.Join(dir, base+"*"+ext))
	if len(matches) == 0 {
		return "", fmt.Errorf("whisper output not found in %s", dir)
	}
	return matches[0], nil
}

func parseWhisperOutput(raw []byte) (TranscriptionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return TranscriptionResult{}, fmt.Errorf("parse whisper output: %w", err)
	}

	result := TranscriptionResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Segments: make([]transcripts.Segment, 0, len(out.Segments)),
	}
	for _, seg := range out.Segments {
		result.Segments = append(result.Segments, transcripts.Segment{
			Start:   seconds(seg.Start),
			End:     seconds(seg.End),
			Speaker: strings.TrimSpace(seg.Speaker),
			Text:    strings.TrimSpace(seg.Text),
		})
	}
	return result, nil
}

// assignSpeakers gives each unlabelled segment the speaker whose turn
// overlaps it the most.
func assignSpeakers(segments []transcripts.Segment, turns []speakerTurn) {
	for i := range segments {
		if segments[i].Speaker != "" {
			continue
		}
		best, bestOverlap := "", time.Duration(0)
		for _, turn := range turns {
			start := max(segments[i].Start, seconds(turn.Start))
			end := min(segments[i].End, seconds(turn.End))
			if overlap := end - start; overlap > bestOverlap {
				best, bestOverlap = turn.Speaker, overlap
			}
		}
		segments[i].Speaker = best
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
