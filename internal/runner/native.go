package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/clawinfra/skillclaw/internal/policy"
	"github.com/clawinfra/skillclaw/internal/skill"
)

// killGrace is how long a runner waits for a cancelled process to die
// before the engine considers it leaked.
const killGrace = 2 * time.Second

// Native runs allow-listed OS commands. The command line is always a
// program name plus an argument vector; user-controlled values are
// discrete argv entries, never interpreted by a shell, so metacharacters
// in them have no special meaning.
type Native struct {
	logger *slog.Logger
}

// NewNative creates the native command runner.
func NewNative(logger *slog.Logger) *Native {
	return &Native{logger: logger}
}

// Kind reports the runtime this runner serves.
func (n *Native) Kind() skill.RuntimeKind { return skill.RuntimeNative }

// Run executes the tool's declared command with substituted arguments.
func (n *Native) Run(ctx context.Context, req *Request) (*skill.ExecutionResult, error) {
	// The router checks the allow-list before dispatch; re-check here so
	// the runner stays safe even if called directly.
	if err := policy.CheckCommand(req.Tool.Command, &req.Instance.Policy); err != nil {
		return &skill.ExecutionResult{Success: false, Error: err.(*skill.Error)}, nil
	}

	argv := substituteArgs(req.Tool.Args, req.Args)

	cmd := exec.CommandContext(ctx, req.Tool.Command, argv...)
	cmd.WaitDelay = killGrace
	cmd.Env = buildEnv(req)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	n.logger.Debug("running native tool",
		"skill", req.Def.Name,
		"instance", req.Instance.Name,
		"tool", req.Tool.Name,
		"command", req.Tool.Command,
		"argc", len(argv),
	)

	err := cmd.Run()
	if err == nil {
		return &skill.ExecutionResult{Success: true, Output: stdout.String()}, nil
	}

	// Only an elapsed deadline is a Timeout; caller cancellation and a
	// genuine non-zero exit fall through to the exit-status mapping.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return skill.Fail(skill.CodeTimeout, "command %q killed after deadline", req.Tool.Command), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		return skill.Fail(skill.CodeToolFailed, "%s", detail), nil
	}
	// The program could not be started at all (not found, not executable).
	return skill.Fail(skill.CodeCommandNotAllowed, "cannot start %q: %v", req.Tool.Command, err), nil
}

// substituteArgs expands the declared argument template. An entry of the
// form $name becomes the validated argument value, as one argv entry;
// everything else passes through literally. Unknown placeholders expand
// to the empty string.
func substituteArgs(template []string, args map[string]string) []string {
	argv := make([]string, len(template))
	for i, entry := range template {
		if strings.HasPrefix(entry, "$") {
			argv[i] = args[entry[1:]]
			continue
		}
		argv[i] = entry
	}
	return argv
}

// buildEnv assembles the child environment: instance config as
// SKILL_CONFIG_* variables, credentials under their declared names, and
// the invocation id. The parent environment is not inherited, so ambient
// host secrets never reach the tool.
func buildEnv(req *Request) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"SKILL_INVOCATION_ID=" + req.InvocationID,
		"SKILL_INSTANCE=" + req.Instance.Name,
	}
	for k, v := range req.Instance.Config {
		env = append(env, "SKILL_CONFIG_"+strings.ToUpper(k)+"="+v)
	}
	for _, sec := range req.Secrets {
		name := sec.Ref.EnvVar
		if name == "" {
			name = "SKILL_SECRET_" + strings.ToUpper(sec.Ref.Key)
		}
		env = append(env, name+"="+sec.Value)
	}
	return env
}
