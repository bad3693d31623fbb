// Package acl implements the command allow/deny policy gate.
//
// Entries are command prefixes relative to the tool binary ("compute
// instances list", "app deploy"). Matching is prefix-based on normalized
// strings with a trailing space so "app" never matches "apphub".
package acl

import (
	"fmt"
	"strings"
)

// releaseTracks are the pre-release command tracks of gcloud. Denylisting a
// GA command also denies every track variant; denylisting a command already
// inside a track denies only that track.
var releaseTracks = []string{"alpha", "beta", "preview"}

// Result is the verdict for one candidate command. Check never fails: every
// command gets a definite permit or deny.
type Result struct {
	Permitted bool
	// Denylisted distinguishes "on the denylist" (never retry) from
	// "not on the allowlist" (an alternative approach may work).
	Denylisted bool
	// Reason is a human-readable denial explanation, empty when permitted.
	// It is written to be returned verbatim to a calling LLM.
	Reason string
}

// ACL is an immutable allow/deny policy built once at startup.
type ACL struct {
	allow []string
	deny  []string
}

// New builds an ACL from raw config entries. Empty and duplicate entries are
// dropped; everything else is normalized once so Check stays allocation-light.
func New(allowlist, denylist []string) *ACL {
	return &ACL{
		allow: normalizeList(allowlist),
		deny:  normalizeList(denylist),
	}
}

// Check decides whether command may be executed. The denylist is evaluated
// first and is always active; the allowlist only applies when configured
// (no allowlist means default-allow).
func (a *ACL) Check(command string) Result {
	candidate := normalize(command)

	for _, entry := range a.deny {
		if matchesDenyEntry(candidate, entry) {
			return Result{
				Denylisted: true,
				Reason: fmt.Sprintf(
					"The command %q is blocked by policy. Do not retry it or any variant of it.",
					strings.TrimSpace(command)),
			}
		}
	}

	if len(a.allow) == 0 {
		return Result{Permitted: true}
	}

	for _, entry := range a.allow {
		if strings.HasPrefix(candidate, entry) {
			return Result{Permitted: true}
		}
	}

	return Result{
		Reason: fmt.Sprintf(
			"The command %q is not on the allowlist. Try a different approach, or ask an administrator to allow it.",
			strings.TrimSpace(command)),
	}
}

// CheckCommand evaluates a tool-relative command under both spellings an
// administrator may have used: bare ("compute ssh") and tool-qualified
// ("gcloud compute ssh"). A deny under either form wins; with an allowlist
// configured a permit under either form suffices.
func (a *ACL) CheckCommand(tool, command string) Result {
	bare := a.Check(command)
	qualified := a.Check(tool + " " + command)

	if bare.Denylisted {
		return bare
	}
	if qualified.Denylisted {
		return qualified
	}
	if bare.Permitted || qualified.Permitted {
		return Result{Permitted: true}
	}
	return bare
}

// matchesDenyEntry reports whether candidate falls under entry, including the
// pre-release track variants of a GA entry.
func matchesDenyEntry(candidate, entry string) bool {
	if strings.HasPrefix(candidate, entry) {
		return true
	}
	if hasTrackPrefix(entry) {
		// Track-qualified entries deny only their own track.
		return false
	}
	for _, track := range releaseTracks {
		if strings.HasPrefix(candidate, track+" "+entry) {
			return true
		}
	}
	return false
}

func hasTrackPrefix(entry string) bool {
	for _, track := range releaseTracks {
		if strings.HasPrefix(entry, track+" ") {
			return true
		}
	}
	return false
}

// normalize lower-cases, collapses whitespace, and appends a trailing space
// so prefix matches stop at word boundaries.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ") + " "
}

func normalizeList(entries []string) []string {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		n := normalize(e)
		if n == " " || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
