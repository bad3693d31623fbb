package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudnav-ai/cloudnav/pkg/ai/providers"
)

// ErrMalformedReply marks replies that reached the model and came back but
// could not be decoded as a proposal. Callers may feed the problem back to
// the model and retry, unlike transport failures.
var ErrMalformedReply = errors.New("malformed model reply")

// ProposalKind discriminates the generator's structured reply.
type ProposalKind string

const (
	// ProposalCommand carries a runnable tool command.
	ProposalCommand ProposalKind = "command"
	// ProposalNeedsProject means the request cannot proceed without a
	// project and none is remembered for the conversation.
	ProposalNeedsProject ProposalKind = "needs_project"
	// ProposalNeedsLocation means a zone or region is required but missing.
	ProposalNeedsLocation ProposalKind = "needs_location"
	// ProposalAmbiguous means the request could map to several different
	// commands and the user must disambiguate.
	ProposalAmbiguous ProposalKind = "ambiguous"
	// ProposalMultiResource means the request names a resource type served
	// by more than one service and the user must pick one.
	ProposalMultiResource ProposalKind = "multi_resource"
)

// Proposal is the generator's reply: either a command to run, or one of the
// question outcomes with a message for the user. Exactly one case applies.
type Proposal struct {
	Kind    ProposalKind `json:"kind"`
	Tool    string       `json:"tool,omitempty"`    // command case only
	Command string       `json:"command,omitempty"` // command case only, without the tool binary
	Message string       `json:"message,omitempty"` // question cases only
}

// IsCommand reports whether the proposal carries a runnable command.
func (p *Proposal) IsCommand() bool { return p.Kind == ProposalCommand }

const generateSystemPrompt = `You translate natural-language requests about Google Cloud and Kubernetes into exactly one CLI command for one of these tools: gcloud, gsutil, kubectl, bq.

Reply with a single JSON object and nothing else. Use exactly one of these shapes:

{"outcome": "command", "tool": "<gcloud|gsutil|kubectl|bq>", "command": "<arguments without the tool name>"}
{"outcome": "needs_project", "message": "<ask which project to use>"}
{"outcome": "needs_location", "message": "<ask which zone or region>"}
{"outcome": "ambiguous", "message": "<ask the user to choose between the plausible readings>"}
{"outcome": "multi_resource", "message": "<ask which service's resource they mean>"}

Rules:
- The command field never contains the tool name, shell operators, pipes, redirections, variable references, or command substitution. One plain command only.
- Prefer read-only commands unless the user clearly asks for a change.
- Use "needs_project" only when a project is required and none is known.
- If an earlier message in this conversation says a command was blocked by policy, do not propose that command or a variant of it again; try a genuinely different approach or explain that you cannot.
- When output format matters for readability, add the tool's format flag (for example --format=json for gcloud).`

// Generator asks the model to translate a conversation into a command
// proposal.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// Propose runs one generation round over the conversation turns. project, if
// non-empty, is the project remembered for this conversation and is surfaced
// to the model so it does not ask again.
func (g *Generator) Propose(ctx context.Context, turns []providers.Turn, project string) (*Proposal, error) {
	system := generateSystemPrompt
	if project != "" {
		system += fmt.Sprintf("\n\nThe active project for this conversation is %q. It is supplied to the tools automatically; only set a project flag if the user asks about a different project.", project)
	}

	raw, err := g.client.ChatJSON(ctx, system, turns)
	if err != nil {
		return nil, err
	}
	return ParseProposal(raw)
}

// proposalWire is the JSON shape the model is instructed to emit.
type proposalWire struct {
	Outcome string `json:"outcome"`
	Tool    string `json:"tool"`
	Command string `json:"command"`
	Message string `json:"message"`
}

// ParseProposal decodes a model reply into a Proposal. Markdown fences are
// tolerated for providers without a structural JSON mode.
func ParseProposal(raw string) (*Proposal, error) {
	cleaned := stripFences(raw)

	var wire proposalWire
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return nil, fmt.Errorf("%w: not a proposal object: %v", ErrMalformedReply, err)
	}

	switch ProposalKind(wire.Outcome) {
	case ProposalCommand:
		tool := strings.TrimSpace(wire.Tool)
		command := strings.TrimSpace(wire.Command)
		if tool == "" || command == "" {
			return nil, fmt.Errorf("%w: command proposal is missing tool or command", ErrMalformedReply)
		}
		// Models sometimes repeat the tool at the front of the command.
		if first, rest, found := strings.Cut(command, " "); found && first == tool {
			command = strings.TrimSpace(rest)
		} else if command == tool {
			return nil, fmt.Errorf("%w: command proposal is missing tool or command", ErrMalformedReply)
		}
		return &Proposal{Kind: ProposalCommand, Tool: tool, Command: command}, nil
	case ProposalNeedsProject, ProposalNeedsLocation, ProposalAmbiguous, ProposalMultiResource:
		msg := strings.TrimSpace(wire.Message)
		if msg == "" {
			msg = defaultQuestion(ProposalKind(wire.Outcome))
		}
		return &Proposal{Kind: ProposalKind(wire.Outcome), Message: msg}, nil
	case "":
		return nil, fmt.Errorf("%w: no outcome field", ErrMalformedReply)
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrMalformedReply, wire.Outcome)
	}
}

func defaultQuestion(kind ProposalKind) string {
	switch kind {
	case ProposalNeedsProject:
		return "Which project should I use?"
	case ProposalNeedsLocation:
		return "Which zone or region should I use?"
	case ProposalMultiResource:
		return "That resource type exists in several services. Which one do you mean?"
	default:
		return "Your request could mean several things. Can you be more specific?"
	}
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json").
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
