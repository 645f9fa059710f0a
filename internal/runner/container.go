package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clawinfra/skillclaw/internal/policy"
	"github.com/clawinfra/skillclaw/internal/skill"
)

// secretMountDir is where the per-invocation secret files appear inside
// the container.
const secretMountDir = "/run/skillclaw/secrets"

// Container launches one short-lived container per invocation through the
// docker CLI. Teardown is unconditional: the container is force-removed
// whether the call succeeds, fails or times out.
type Container struct {
	binary string
	logger *slog.Logger
}

// NewContainer creates the container runner. binary defaults to "docker".
func NewContainer(binary string, logger *slog.Logger) *Container {
	if binary == "" {
		binary = "docker"
	}
	return &Container{binary: binary, logger: logger}
}

// Kind reports the runtime this runner serves.
func (c *Container) Kind() skill.RuntimeKind { return skill.RuntimeContainer }

// Available probes the docker daemon.
func (c *Container) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, c.binary, "version").Run() == nil
}

// Run launches the skill's pinned image with the invocation's arguments.
func (c *Container) Run(ctx context.Context, req *Request) (*skill.ExecutionResult, error) {
	spec := req.Def.Container
	// Re-assert the mount/network constraints; the manifest loader
	// already rejected bad specs, but runners do not trust their input.
	if err := policy.ValidateContainer(spec); err != nil {
		return &skill.ExecutionResult{Success: false, Error: err.(*skill.Error)}, nil
	}

	name := "skillclaw-" + uuid.NewString()

	secretDir, fileSecrets, envSecrets, err := stageSecrets(req.Secrets)
	if err != nil {
		return nil, fmt.Errorf("stage secrets: %w", err)
	}
	if secretDir != "" {
		defer os.RemoveAll(secretDir)
	}

	args := c.buildArgs(name, spec, req, secretDir, fileSecrets, envSecrets)

	c.logger.Debug("launching container",
		"skill", req.Def.Name,
		"instance", req.Instance.Name,
		"tool", req.Tool.Name,
		"image", spec.Image,
		"name", name,
	)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// --rm handles the happy path; force-remove covers crashes and
	// timeouts. A leaked container is a defect.
	c.remove(name)

	if runErr == nil {
		return &skill.ExecutionResult{Success: true, Output: stdout.String()}, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return skill.Fail(skill.CodeTimeout, "container %s removed after deadline", name), nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		// The docker CLI reserves 125-127 for launch problems; anything
		// else is the tool's own exit status.
		if code := exitErr.ExitCode(); code >= 125 && code <= 127 {
			return skill.Fail(skill.CodeContainerLaunchFailed, "%s", detail), nil
		}
		return skill.Fail(skill.CodeToolFailed, "%s", detail), nil
	}
	return skill.Fail(skill.CodeContainerLaunchFailed, "cannot run %s: %v", c.binary, runErr), nil
}

// buildArgs assembles the docker run argument vector. Tool arguments are
// appended as discrete entries after the image, never shell-joined.
func (c *Container) buildArgs(name string, spec *skill.ContainerSpec, req *Request, secretDir string, fileSecrets, envSecrets []string) []string {
	args := []string{"run", "--rm", "--name", name}

	network := spec.Network
	if network == "" {
		network = "none"
	}
	args = append(args, "--network", network)

	if spec.Memory != "" {
		args = append(args, "--memory", spec.Memory)
	}
	if spec.CPUs != "" {
		args = append(args, "--cpus", spec.CPUs)
	}
	if spec.WorkDir != "" {
		args = append(args, "--workdir", spec.WorkDir)
	}
	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}
	if spec.ReadOnly {
		args = append(args, "--read-only")
	}
	for _, vol := range spec.Volumes {
		args = append(args, "-v", vol)
	}
	if secretDir != "" {
		args = append(args, "-v", secretDir+":"+secretMountDir+":ro")
	}
	for _, e := range fileSecrets {
		args = append(args, "-e", e)
	}
	for _, e := range envSecrets {
		args = append(args, "-e", e)
	}
	for k, v := range req.Instance.Config {
		args = append(args, "-e", "SKILL_CONFIG_"+strings.ToUpper(k)+"="+v)
	}
	args = append(args, "-e", "SKILL_INVOCATION_ID="+req.InvocationID)

	if spec.Entrypoint != "" {
		args = append(args, "--entrypoint", spec.Entrypoint)
	}

	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	args = append(args, substituteArgs(req.Tool.ContainerArgs, req.Args)...)
	return args
}

// stageSecrets writes secrets into a 0700 temp dir as 0600 files, which
// is bind-mounted read-only into the container. Files are preferred over
// environment variables since env vars are visible to every process in
// the container. Refs that declare an env var still get one; file refs
// get a *_FILE pointer variable instead. On error any files staged so
// far are removed before returning; nothing secret outlives the call.
func stageSecrets(secrets []ResolvedSecret) (dir string, fileVars, envVars []string, err error) {
	defer func() {
		if err != nil && dir != "" {
			os.RemoveAll(dir)
			dir = ""
		}
	}()
	for _, sec := range secrets {
		if sec.Ref.EnvVar != "" && sec.Ref.File == "" {
			envVars = append(envVars, sec.Ref.EnvVar+"="+sec.Value)
			continue
		}
		fname := sec.Ref.Key
		// The key names the staged file; anything that is not a plain
		// file name could escape the staging dir.
		if fname == "" || fname == "." || fname == ".." || fname != filepath.Base(fname) {
			return dir, nil, nil, fmt.Errorf("credential key %q is not a valid file name", fname)
		}
		if dir == "" {
			dir, err = os.MkdirTemp("", "skillclaw-secrets-")
			if err != nil {
				return dir, nil, nil, err
			}
			if err = os.Chmod(dir, 0700); err != nil {
				return dir, nil, nil, err
			}
		}
		if err = os.WriteFile(filepath.Join(dir, fname), []byte(sec.Value), 0600); err != nil {
			return dir, nil, nil, err
		}
		fileVars = append(fileVars, strings.ToUpper(sec.Ref.Key)+"_FILE="+secretMountDir+"/"+fname)
	}
	return dir, fileVars, envVars, nil
}

// remove force-removes the container under its own short deadline, so a
// wedged daemon cannot stall the invocation path.
func (c *Container) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, c.binary, "rm", "-f", name).Run(); err != nil {
		c.logger.Debug("container already gone", "name", name, "error", err)
	}
}
