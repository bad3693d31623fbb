package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudnav-ai/cloudnav/pkg/ai/providers"
)

// Output larger than this is truncated before it reaches the model. The raw
// output is still returned to the caller in full.
const maxSummarizeBytes = 32 * 1024

const summarizeSystemPrompt = `You summarize the output of a cloud CLI command for the person who asked for it in plain language. Be concise and factual. Mention counts and names that matter. Do not invent information that is not in the output. If the output is empty, say the command succeeded and produced no output.`

const explainSystemPrompt = `You explain why a cloud CLI command failed, based on its error output, to a person who may not know the tool well. State the likely cause in one or two sentences and, when the error suggests an obvious fix (a missing flag, a wrong name, missing permissions), say what to try next. If kubectl failed because no cluster credentials are configured, tell the user to run "gcloud container clusters get-credentials <cluster> --location <location>" first. Do not invent details that are not in the error output.`

// Summarizer turns command output into prose.
type Summarizer struct {
	client *Client
}

func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

// SummarizeSuccess describes the stdout of a command that exited zero.
func (s *Summarizer) SummarizeSuccess(ctx context.Context, tool, command, stdout string) (string, error) {
	prompt := fmt.Sprintf("The command `%s %s` succeeded. Its output was:\n\n%s",
		tool, command, clip(stdout))
	return s.client.Chat(ctx, summarizeSystemPrompt, []providers.Turn{
		{Role: providers.RoleUser, Text: prompt},
	})
}

// StreamSummary is SummarizeSuccess delivered incrementally.
func (s *Summarizer) StreamSummary(ctx context.Context, tool, command, stdout string, callback func(string)) error {
	prompt := fmt.Sprintf("The command `%s %s` succeeded. Its output was:\n\n%s",
		tool, command, clip(stdout))
	return s.client.ChatStream(ctx, summarizeSystemPrompt, []providers.Turn{
		{Role: providers.RoleUser, Text: prompt},
	}, callback)
}

// ExplainFailure describes the stderr of a command that exited non-zero.
func (s *Summarizer) ExplainFailure(ctx context.Context, tool, command, stderr string, exitCode int) (string, error) {
	prompt := fmt.Sprintf("The command `%s %s` failed with exit code %d. Its error output was:\n\n%s",
		tool, command, exitCode, clip(stderr))
	return s.client.Chat(ctx, explainSystemPrompt, []providers.Turn{
		{Role: providers.RoleUser, Text: prompt},
	})
}

func clip(s string) string {
	if len(s) <= maxSummarizeBytes {
		return s
	}
	return s[:maxSummarizeBytes] + "\n[output truncated]"
}

// CompactOutput trims trailing whitespace and caps very long raw output for
// transport back to the client.
func CompactOutput(s string, max int) string {
	s = strings.TrimRight(s, "\n\t ")
	if max > 0 && len(s) > max {
		return s[:max] + "\n[truncated]"
	}
	return s
}
