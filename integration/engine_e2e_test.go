//go:build integration

// Package integration runs the full invocation path end to end: manifest
// loading, policy enforcement, native execution and the audit trail, all
// against real files in a temp directory.
//
// Run with: go test -v -tags=integration -timeout=60s ./integration/
package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/clawinfra/skillclaw/internal/audit"
	"github.com/clawinfra/skillclaw/internal/engine"
	"github.com/clawinfra/skillclaw/internal/manifest"
	"github.com/clawinfra/skillclaw/internal/runner"
	"github.com/clawinfra/skillclaw/internal/skill"
	"github.com/clawinfra/skillclaw/internal/vault"
)

const echoSkillYAML = `
name: shell
version: 1.0.0
runtime: native
tools:
  - name: say
    description: echo a message
    command: echo
    args: ["$message"]
    parameters:
      - name: message
        type: string
        required: true
`

func writeFixture(t *testing.T) (manifestPath, auditPath string) {
	t.Helper()
	base := t.TempDir()
	skillsDir := filepath.Join(base, "skills", "shell")
	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillsDir, "skill.yaml"), []byte(echoSkillYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	auditPath = filepath.Join(base, "audit.log")
	manifestPath = filepath.Join(base, "skillclaw.toml")
	content := `
[engine]
skills_dir = "` + filepath.Join(base, "skills") + `"
audit_log = "` + auditPath + `"

[instances.shell.local]
[instances.shell.local.policy]
allowed_commands = ["echo"]
`
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return manifestPath, auditPath
}

func TestEndToEnd_NativeInvocation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manifestPath, auditPath := writeFixture(t)

	registry, cfg, err := manifest.Load(manifestPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	auditLog, err := audit.New(cfg.AuditLog, logger)
	if err != nil {
		t.Fatal(err)
	}

	eng := engine.New(registry, vault.Static{}, auditLog,
		[]runner.Runner{runner.NewNative(logger)}, logger)

	res := eng.Execute(context.Background(), &skill.Invocation{
		Skill:    "shell",
		Instance: "local",
		Tool:     "say",
		Args:     map[string]string{"message": "end to end"},
	})
	if !res.Success {
		t.Fatalf("invocation failed: %+v", res.Error)
	}
	if res.Output != "end to end\n" {
		t.Errorf("got output %q", res.Output)
	}

	// Denied path: same skill, command not on the default instance's list.
	denied := eng.Execute(context.Background(), &skill.Invocation{
		Skill:    "shell",
		Instance: "local",
		Tool:     "say",
		Args:     map[string]string{"bogus": "x"},
	})
	if denied.Success {
		t.Fatal("expected validation failure")
	}

	if err := auditLog.Close(); err != nil {
		t.Fatal(err)
	}
	events, err := audit.ReadRecent(auditPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[0].Outcome != "ok" {
		t.Errorf("first event outcome %q", events[0].Outcome)
	}
	if events[1].Outcome != string(skill.CodeValidation) {
		t.Errorf("second event outcome %q", events[1].Outcome)
	}
}
