package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CommandAnalyzer asks an external speaker-correction program to rewrite a
// transcript. The request and response are JSON over stdin and stdout.
type CommandAnalyzer struct {
	Binary string
	Args   []string
	Run    InputRunner
}

// NewCommandAnalyzer constructs an analyzer for the given command line.
func NewCommandAnalyzer(command string) *CommandAnalyzer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	return &CommandAnalyzer{Binary: fields[0], Args: fields[1:], Run: RunCommandInput}
}

type analyzerRequest struct {
	Transcript      string            `json:"transcript"`
	SpeakerMappings map[string]string `json:"speakerMappings"`
}

type analyzerResponse struct {
	CorrectedTranscript string `json:"correctedTranscript"`
}

// Reanalyze implements transcripts.Analyzer.
func (a *CommandAnalyzer) Reanalyze(ctx context.Context, transcript string, mappings map[string]string) (string, error) {
	if mappings == nil {
		mappings = map[string]string{}
	}
	payload, err := json.Marshal(analyzerRequest{Transcript: transcript, SpeakerMappings: mappings})
	if err != nil {
		return "", fmt.Errorf("encode analyzer request: %w", err)
	}

	run := a.Run
	if run == nil {
		run = RunCommandInput
	}
	out, err := run(ctx, payload, a.Binary, a.Args...)
	if err != nil {
		return "", fmt.Errorf("speaker analyzer: %w", err)
	}

	var resp analyzerResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("parse analyzer response: %w", err)
	}
	if strings.TrimSpace(resp.CorrectedTranscript) == "" {
		return "", fmt.Errorf("speaker analyzer returned an empty transcript")
	}
	return resp.CorrectedTranscript, nil
}
