package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Output is the captured result of an external command.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Diagnostic returns stderr when it has content, otherwise stdout.
// ffmpeg writes stream metadata to stderr.
func (o Output) Diagnostic() []byte {
	if len(bytes.TrimSpace(o.Stderr)) > 0 {
		return o.Stderr
	}
	return o.Stdout
}

// Runner executes external commands. A non-zero exit is reported in
// Output.ExitCode, not as an error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return Output{}, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// tail returns at most the last n bytes of b as a trimmed string.
func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
