package cloudcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExecutionResult is the outcome of a command that actually ran. A non-zero
// exit code is not an executor-level error; it is domain data for the caller
// to interpret (usually by asking the LLM to explain the stderr).
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SpawnError means the process could not start at all (binary missing,
// OS-level refusal). It is kept distinct from a non-zero exit because the
// remediation differs: one is "your command was wrong", the other is "the
// environment is broken".
type SpawnError struct {
	Tool Tool
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Executor runs one CLI invocation. It is an interface so HTTP-layer tests
// can substitute a recording fake.
type Executor interface {
	Execute(ctx context.Context, tool Tool, argv []string, env []string) (*ExecutionResult, error)
}

// OSExecutor spawns real child processes. The binary is invoked directly
// with the argv — never through a shell — so model-authored strings with
// metacharacters pass through as literal arguments.
type OSExecutor struct {
	binaries map[string]string
	timeout  time.Duration
}

// NewExecutor builds an OSExecutor. binaries optionally overrides the
// executable path per tool name; timeout bounds each command (zero means the
// caller's context is the only bound).
func NewExecutor(binaries map[string]string, timeout time.Duration) *OSExecutor {
	return &OSExecutor{binaries: binaries, timeout: timeout}
}

func (e *OSExecutor) binary(tool Tool) string {
	if e.binaries != nil {
		if bin, ok := e.binaries[string(tool)]; ok && bin != "" {
			return bin
		}
	}
	return string(tool)
}

// Execute runs the tool and collects stdout and stderr into separate
// buffers. When the timeout expires the process is killed and a
// context.DeadlineExceeded error is returned.
func (e *OSExecutor) Execute(ctx context.Context, tool Tool, argv []string, env []string) (*ExecutionResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.binary(tool), argv...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Tool: tool, Err: err}
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s command did not finish in time: %w", tool, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Wait failed for a non-exit reason (I/O plumbing); treat it as
			// an environment problem, not a command failure.
			return nil, &SpawnError{Tool: tool, Err: err}
		}
	}

	return &ExecutionResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
