// Package processing wraps the external tools the media pipeline shells out
// to: ffmpeg, the NSFW image classifier, whisper and the speaker analyzer.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// InputRunner is a CommandRunner that also feeds stdin.
type InputRunner func(ctx context.Context, stdin []byte, binary string, args ...string) ([]byte, error)

// CommandError reports a failed external process with its captured stderr.
type CommandError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Binary, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += " (stderr=" + truncate(stderr, 2048) + ")"
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// RunCommand is the default CommandRunner.
func RunCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return RunCommandInput(ctx, nil, binary, args...)
}

// RunCommandInput is the default InputRunner.
func RunCommandInput(ctx context.Context, stdin []byte, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, &CommandError{Binary: binary, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
