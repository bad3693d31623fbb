package acl

import (
	"strings"
	"testing"
)

func TestDenylistAlwaysWins(t *testing.T) {
	a := New([]string{"ssh user@host extra"}, []string{"ssh"})

	res := a.Check("ssh user@host")
	if res.Permitted {
		t.Error("denylisted command was permitted despite allowlist")
	}
	if !res.Denylisted {
		t.Error("denial should be attributed to the denylist")
	}
}

func TestGADenyCoversReleaseTracks(t *testing.T) {
	a := New(nil, []string{"app"})

	tests := []struct {
		command string
		denied  bool
	}{
		{"app deploy", true},
		{"alpha app deploy", true},
		{"beta app deploy", true},
		{"preview app deploy", true},
		{"apphub status", false}, // prefix boundary
		{"alpha apphub status", false},
		{"compute instances list", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			res := a.Check(tt.command)
			if res.Permitted == tt.denied {
				t.Errorf("Check(%q).Permitted = %v, want %v", tt.command, res.Permitted, !tt.denied)
			}
		})
	}
}

func TestTrackQualifiedDenyIsScoped(t *testing.T) {
	a := New(nil, []string{"beta app"})

	if res := a.Check("beta app deploy"); res.Permitted {
		t.Error("beta app deploy should be denied")
	}
	if res := a.Check("app deploy"); !res.Permitted {
		t.Errorf("GA app deploy should be permitted, got: %s", res.Reason)
	}
	if res := a.Check("alpha app deploy"); !res.Permitted {
		t.Errorf("alpha app deploy should be permitted, got: %s", res.Reason)
	}
}

func TestPrefixBoundary(t *testing.T) {
	a := New(nil, []string{"apphub enable"})

	if res := a.Check("apphub enable --project=x"); res.Permitted {
		t.Error("apphub enable variant should be denied")
	}
	if res := a.Check("apphub describe my-app"); !res.Permitted {
		t.Error("apphub describe should not be denied by the apphub enable entry")
	}
}

func TestEmptyListsDefaultAllow(t *testing.T) {
	a := New(nil, nil)

	for _, cmd := range []string{"compute instances delete everything", "storage rm -r gs://x"} {
		if res := a.Check(cmd); !res.Permitted {
			t.Errorf("Check(%q) denied with no policy configured: %s", cmd, res.Reason)
		}
	}
}

func TestAllowlistSwitchesToDefaultDeny(t *testing.T) {
	a := New([]string{"compute instances list"}, nil)

	if res := a.Check("compute instances list --project=x"); !res.Permitted {
		t.Errorf("allowlisted command denied: %s", res.Reason)
	}

	res := a.Check("compute instances delete vm-1")
	if res.Permitted {
		t.Error("non-allowlisted command was permitted")
	}
	if res.Denylisted {
		t.Error("allowlist miss should not be attributed to the denylist")
	}
}

func TestNormalizationIsCaseAndSpaceInsensitive(t *testing.T) {
	a := New(nil, []string{"  App   "})

	if res := a.Check("APP  deploy"); res.Permitted {
		t.Error("case/spacing variations should still match the denylist")
	}
}

func TestDenialMessagesCarryDistinctGuidance(t *testing.T) {
	a := New([]string{"storage ls"}, []string{"ssh"})

	denied := a.Check("ssh host")
	if !strings.Contains(denied.Reason, "Do not retry") {
		t.Errorf("denylist message should forbid retries, got %q", denied.Reason)
	}

	notAllowed := a.Check("storage rm gs://bucket/key")
	if !strings.Contains(notAllowed.Reason, "not on the allowlist") {
		t.Errorf("allowlist-miss message should name the allowlist, got %q", notAllowed.Reason)
	}
	if notAllowed.Reason == denied.Reason {
		t.Error("denylist and allowlist-miss messages must differ")
	}
}

func TestCheckCommandAcceptsBothEntrySpellings(t *testing.T) {
	tests := []struct {
		name      string
		allow     []string
		deny      []string
		tool      string
		command   string
		permitted bool
	}{
		{"bare deny entry", nil, []string{"compute ssh"}, "gcloud", "compute ssh vm-1", false},
		{"tool-qualified deny entry", nil, []string{"gcloud compute ssh"}, "gcloud", "compute ssh vm-1", false},
		{"tool-qualified deny scoped to its tool", nil, []string{"gsutil rm"}, "gcloud", "rm something", true},
		{"bare allow entry", []string{"compute instances"}, nil, "gcloud", "compute instances list", true},
		{"tool-qualified allow entry", []string{"kubectl get"}, nil, "kubectl", "get pods", true},
		{"allowlist miss", []string{"compute instances"}, nil, "gcloud", "storage ls", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.allow, tt.deny)
			res := a.CheckCommand(tt.tool, tt.command)
			if res.Permitted != tt.permitted {
				t.Errorf("CheckCommand(%s, %q).Permitted = %v, want %v",
					tt.tool, tt.command, res.Permitted, tt.permitted)
			}
			if !res.Permitted && res.Reason == "" {
				t.Error("denials must carry a reason")
			}
		})
	}
}
