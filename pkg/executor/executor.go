// Package executor runs approved commands as child processes with
// bounded output capture.
package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/kubenl/kubenl/pkg/config"
)

// TruncationMarker is appended to any captured stream that exceeded the cap.
const TruncationMarker = "\n... [output truncated]"

// Result captures one command run.
type Result struct {
	Command    string
	ExitCode   int
	Stdout     string
	Stderr     string
	Truncated  bool
	DurationMS int64
	Err        error
}

// Executor spawns command child processes through the host shell so the
// approved command string runs exactly as reviewed, pipes included.
type Executor struct {
	shell  string
	cap    int
	logger *slog.Logger
}

// New builds an executor. Shell defaults to $SHELL then /bin/sh; cap
// defaults to the audit output cap.
func New(shell string, outputCap int, logger *slog.Logger) *Executor {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	if outputCap <= 0 {
		outputCap = config.DefaultOutputCapBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{shell: shell, cap: outputCap, logger: logger}
}

// cappedBuffer keeps the first cap bytes and counts the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.cap - b.buf.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}

// Run executes the command once. A non-zero exit is reported in the
// result, not retried; retrying a partially applied mutation could
// duplicate its side effects.
func (e *Executor) Run(ctx context.Context, command string) Result {
	cmd := exec.CommandContext(ctx, e.shell, "-c", command)

	stdout := &cappedBuffer{cap: e.cap}
	stderr := &cappedBuffer{cap: e.cap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = os.Stdin

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	result := Result{
		Command:    command,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Truncated:  stdout.truncated || stderr.truncated,
		DurationMS: elapsed,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		result.Err = err
	default:
		// Spawn failure: the command never ran.
		result.ExitCode = -1
		result.Err = err
	}

	if result.Err != nil {
		e.logger.Warn("command failed",
			"command", command,
			"exit_code", result.ExitCode,
			"duration_ms", elapsed)
	} else {
		e.logger.Info("command executed",
			"command", command,
			"duration_ms", elapsed)
	}
	return result
}
