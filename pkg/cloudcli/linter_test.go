package cloudcli

import (
	"context"
	"strings"
	"testing"
)

// fakeExecutor records invocations and replays a canned result.
type fakeExecutor struct {
	result *ExecutionResult
	err    error
	calls  [][]string
}

func (f *fakeExecutor) Execute(_ context.Context, _ Tool, argv []string, _ []string) (*ExecutionResult, error) {
	f.calls = append(f.calls, argv)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestLintSuccessStripsToolPrefix(t *testing.T) {
	fake := &fakeExecutor{result: &ExecutionResult{
		ExitCode: 0,
		Stdout:   `[{"command_string_index":0,"success":true,"command_string":"gcloud compute instances list --project=p"}]`,
	}}
	l := NewLinter(fake)

	res := l.Lint(context.Background(), "compute instances list --project=p", nil)
	if !res.Success {
		t.Fatalf("Lint() failed: %s", res.Err)
	}
	if res.Canonical != "compute instances list --project=p" {
		t.Errorf("canonical = %q, want the command without the gcloud prefix", res.Canonical)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(fake.calls))
	}
	argv := fake.calls[0]
	if argv[0] != "meta" || argv[1] != "lint-gcloud-commands" {
		t.Errorf("lint argv = %v, want meta lint-gcloud-commands ...", argv)
	}
	if !strings.Contains(argv[2], "--command-string=gcloud compute instances list") {
		t.Errorf("lint argv did not carry the full command string: %v", argv)
	}
}

func TestLintRejectionCarriesMessageAndType(t *testing.T) {
	fake := &fakeExecutor{result: &ExecutionResult{
		ExitCode: 0,
		Stdout:   `[{"command_string_index":0,"success":false,"error_message":"unrecognized arguments: --zone2","error_type":"UnrecognizedArgumentsError"}]`,
	}}
	l := NewLinter(fake)

	res := l.Lint(context.Background(), "compute instances list --zone2", nil)
	if res.Success {
		t.Fatal("Lint() should fail for a rejected command")
	}
	if !strings.Contains(res.Err, "unrecognized arguments") || !strings.Contains(res.Err, "UnrecognizedArgumentsError") {
		t.Errorf("error should concatenate message and type, got %q", res.Err)
	}
}

func TestLintToolExitFailureCarriesStderr(t *testing.T) {
	fake := &fakeExecutor{result: &ExecutionResult{
		ExitCode: 1,
		Stderr:   "ERROR: (gcloud.meta.lint-gcloud-commands) something broke",
	}}
	l := NewLinter(fake)

	res := l.Lint(context.Background(), "compute instances list", nil)
	if res.Success {
		t.Fatal("Lint() should fail when the lint tool exits non-zero")
	}
	if !strings.Contains(res.Err, "something broke") {
		t.Errorf("error should carry raw stderr, got %q", res.Err)
	}
}

func TestLintSpawnFailure(t *testing.T) {
	fake := &fakeExecutor{err: &SpawnError{Tool: ToolGcloud, Err: context.Canceled}}
	l := NewLinter(fake)

	res := l.Lint(context.Background(), "compute instances list", nil)
	if res.Success {
		t.Fatal("Lint() should fail when the lint tool cannot run")
	}
	if !strings.Contains(res.Err, "lint could not run") {
		t.Errorf("unexpected error: %q", res.Err)
	}
}

func TestLintGarbageOutput(t *testing.T) {
	fake := &fakeExecutor{result: &ExecutionResult{ExitCode: 0, Stdout: "not json"}}
	l := NewLinter(fake)

	if res := l.Lint(context.Background(), "compute instances list", nil); res.Success {
		t.Fatal("Lint() should fail on unparsable lint output")
	}
}
