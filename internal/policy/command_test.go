package policy

import (
	"testing"

	"github.com/clawinfra/skillclaw/internal/skill"
)

func allowPolicy(commands ...string) *skill.CapabilityPolicy {
	return &skill.CapabilityPolicy{AllowedCommands: commands}
}

func TestCheckCommand_Allowed(t *testing.T) {
	pol := allowPolicy("git", "ls")
	if err := CheckCommand("git", pol); err != nil {
		t.Errorf("expected allowed command to pass: %v", err)
	}
	if err := CheckCommand("/usr/bin/git", pol); err != nil {
		t.Errorf("expected path-qualified allowed command to pass: %v", err)
	}
}

func TestCheckCommand_NotOnList(t *testing.T) {
	err := CheckCommand("rm", allowPolicy("git"))
	if err == nil {
		t.Fatal("expected unlisted command to be rejected")
	}
	if skill.CodeOf(err) != skill.CodeCommandNotAllowed {
		t.Errorf("got code %s, want %s", skill.CodeOf(err), skill.CodeCommandNotAllowed)
	}
}

func TestCheckCommand_EmptyListGrantsNothing(t *testing.T) {
	if err := CheckCommand("git", &skill.CapabilityPolicy{}); err == nil {
		t.Error("expected empty allow-list to reject everything")
	}
}

func TestCheckCommand_ShellMetacharactersRejected(t *testing.T) {
	pol := allowPolicy("git", "sh")
	for _, cmd := range []string{
		"git; rm -rf /",
		"git && cat /etc/passwd",
		"git | tee out",
		"$(whoami)",
		"`id`",
		"git\nrm",
		"git ",
		"",
	} {
		if err := CheckCommand(cmd, pol); err == nil {
			t.Errorf("expected %q to be rejected", cmd)
		}
	}
}

func TestBaseName(t *testing.T) {
	if got := baseName("/usr/local/bin/jq"); got != "jq" {
		t.Errorf("got %q, want jq", got)
	}
	if got := baseName("jq"); got != "jq" {
		t.Errorf("got %q, want jq", got)
	}
}
