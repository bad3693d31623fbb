package cloudcli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LintResult is the verdict of the CLI's own lint facility for one command.
type LintResult struct {
	Success bool
	// Canonical is the linter's canonicalized command with the tool name
	// prefix stripped, since the executor supplies the binary separately.
	Canonical string
	// Err carries the diagnostic when Success is false.
	Err string
}

// Linter validates a proposed gcloud command by delegating to
// `gcloud meta lint-gcloud-commands`. LLM-generated command text is
// untrusted and frequently malformed; letting the authoritative CLI check
// its own grammar catches wrong flags and bad quoting before any process is
// spawned with model-controlled argv. Only gcloud ships a lint facility, so
// other tools pass through unchanged.
type Linter struct {
	exec Executor
}

func NewLinter(exec Executor) *Linter {
	return &Linter{exec: exec}
}

// lintFinding mirrors one entry of the JSON array the lint subcommand
// prints.
type lintFinding struct {
	CommandStringIndex int    `json:"command_string_index"`
	Success            bool   `json:"success"`
	CommandString      string `json:"command_string"`
	ErrorMessage       string `json:"error_message"`
	ErrorType          string `json:"error_type"`
}

// Lint checks a gcloud command (given without the leading "gcloud"). A
// non-zero exit from the lint tool itself is a failure carrying the raw
// stderr; a lint-level rejection carries the tool's own message and error
// classification.
func (l *Linter) Lint(ctx context.Context, command string, env []string) LintResult {
	full := "gcloud " + strings.TrimSpace(command)
	argv := []string{"meta", "lint-gcloud-commands", "--command-string=" + full}

	res, err := l.exec.Execute(ctx, ToolGcloud, argv, env)
	if err != nil {
		return LintResult{Err: fmt.Sprintf("lint could not run: %v", err)}
	}
	if res.ExitCode != 0 {
		return LintResult{Err: strings.TrimSpace(res.Stderr)}
	}

	var findings []lintFinding
	if err := json.Unmarshal([]byte(res.Stdout), &findings); err != nil {
		return LintResult{Err: fmt.Sprintf("unexpected lint output: %v", err)}
	}

	for _, f := range findings {
		if !f.Success {
			msg := strings.TrimSpace(f.ErrorMessage)
			if f.ErrorType != "" {
				msg = msg + " [" + f.ErrorType + "]"
			}
			return LintResult{Err: msg}
		}
	}

	canonical := strings.TrimSpace(command)
	if len(findings) > 0 && findings[0].CommandString != "" {
		canonical = strings.TrimSpace(strings.TrimPrefix(findings[0].CommandString, "gcloud "))
	}
	return LintResult{Success: true, Canonical: canonical}
}
