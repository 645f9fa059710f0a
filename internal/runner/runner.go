// Package runner contains the three backend runners: the WASM component
// sandbox, the allow-listed native command runner and the container
// runner. All three honor the same contract: run one validated tool call
// under the caller's deadline, reclaim resources on cancellation, and
// normalize tool-level failures into the result rather than returning
// engine errors.
package runner

import (
	"context"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// ResolvedSecret pairs a credential reference with its materialized
// value for the duration of one invocation.
type ResolvedSecret struct {
	Ref   skill.CredentialRef
	Value string
}

// Request carries everything a runner needs for one invocation. Fields
// are read-only to the runner.
type Request struct {
	InvocationID string
	Def          *skill.Definition
	Instance     *skill.Instance
	Tool         *skill.ToolSpec
	Args         map[string]string
	Secrets      []ResolvedSecret
}

// Runner executes one tool call. Implementations must be safe for
// concurrent use, must honor ctx cancellation by reclaiming the
// underlying process, container or sandbox within a bounded grace period,
// and must return tool-level failures inside the result. A non-nil error
// means the engine itself is broken, not the tool.
type Runner interface {
	Kind() skill.RuntimeKind
	Run(ctx context.Context, req *Request) (*skill.ExecutionResult, error)
}
