package cloudcli

import (
	"os"
	"strings"
)

// Environment variables the Cloud SDK tools read for authentication and
// default project context. gsutil and bq go through the same SDK core, and
// the GKE auth plugin used by kubectl picks up the access token as well.
const (
	EnvAccessToken    = "CLOUDSDK_AUTH_ACCESS_TOKEN"
	EnvCoreProject    = "CLOUDSDK_CORE_PROJECT"
	EnvDisablePrompts = "CLOUDSDK_CORE_DISABLE_PROMPTS"
)

// CredentialMode selects whose identity a command runs under.
type CredentialMode int

const (
	// ModeUser injects the caller's bearer token (the normal case).
	ModeUser CredentialMode = iota
	// ModeAmbient leaves the service's own credentials in place, for
	// operations like URL signing that cannot accept a delegated token.
	ModeAmbient
)

// Injector decides the credential mode for a command and builds the child
// process environment. The ambient-identity exceptions live in one
// table consulted only here, so the policy stays auditable no matter which
// code path produced the command.
type Injector struct {
	ambient []string // normalized operation prefixes, optionally tool-qualified
}

// NewInjector builds an Injector from configured ambient-operation prefixes,
// e.g. "storage sign-url" (matched against gcloud commands) or
// "gsutil signurl" (tool-qualified).
func NewInjector(ambientOps []string) *Injector {
	norm := make([]string, 0, len(ambientOps))
	for _, op := range ambientOps {
		n := normalizeWords(op)
		if n != " " {
			norm = append(norm, n)
		}
	}
	return &Injector{ambient: norm}
}

// Mode returns the credential mode for one command. The default is the
// caller's identity; only a table hit switches to ambient.
func (in *Injector) Mode(tool Tool, argv []string) CredentialMode {
	qualified := normalizeWords(string(tool) + " " + strings.Join(argv, " "))
	bare := normalizeWords(strings.Join(argv, " "))

	for _, op := range in.ambient {
		if strings.HasPrefix(qualified, op) || strings.HasPrefix(bare, op) {
			return ModeAmbient
		}
	}
	return ModeUser
}

// BuildEnv produces the child process environment: the parent environment
// plus the prompt-disable flag, the caller's token (unless the operation
// needs ambient identity), and the resolved project when one is known.
// os/exec uses the last duplicate of a key, so overlays simply append.
func (in *Injector) BuildEnv(tool Tool, argv []string, token, project string) []string {
	env := append(os.Environ(), EnvDisablePrompts+"=1")

	if token != "" && in.Mode(tool, argv) == ModeUser {
		env = append(env, EnvAccessToken+"="+token)
	}
	if project != "" {
		env = append(env, EnvCoreProject+"="+project)
	}
	return env
}

// ExtractProject pulls a project identifier out of an argv, or returns ""
// when the command does not carry one. The project flag is tool-specific:
// gcloud takes --project, bq takes --project_id or -p, and gsutil takes -p
// only in the global-flag section before the subcommand. kubectl has no
// project flag at all; its -p means --previous.
func ExtractProject(tool Tool, argv []string) string {
	switch tool {
	case ToolGcloud:
		return flagValue(argv, "--project")
	case ToolBQ:
		if v := flagValue(argv, "--project_id"); v != "" {
			return v
		}
		return shortFlagValue(argv)
	case ToolGsutil:
		return gsutilGlobalProject(argv)
	}
	return ""
}

func flagValue(argv []string, flag string) string {
	for i, arg := range argv {
		if arg == flag && i+1 < len(argv) {
			return argv[i+1]
		}
		if strings.HasPrefix(arg, flag+"=") {
			return strings.TrimPrefix(arg, flag+"=")
		}
	}
	return ""
}

func shortFlagValue(argv []string) string {
	for i, arg := range argv {
		if arg == "-p" && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

// gsutilGlobalProject reads -p from gsutil's global-flag section, which ends
// at the first token that is not a flag (the subcommand). A -p inside a
// subcommand's own arguments is that subcommand's business, not a project
// the conversation should remember.
func gsutilGlobalProject(argv []string) string {
	for i := 0; i < len(argv); i++ {
		switch {
		case argv[i] == "-p":
			if i+1 < len(argv) {
				return argv[i+1]
			}
			return ""
		case strings.HasPrefix(argv[i], "-"):
			// Other global flags; -h, -o, -u and -i consume the next token.
			if argv[i] == "-h" || argv[i] == "-o" || argv[i] == "-u" || argv[i] == "-i" {
				i++
			}
		default:
			return ""
		}
	}
	return ""
}

// normalizeWords lower-cases, collapses whitespace, and appends a trailing
// space so prefix matches stop at word boundaries.
func normalizeWords(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ") + " "
}
