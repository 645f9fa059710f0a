// Package engine is the invocation router: the single entry point that
// validates, policy-checks, dispatches and audits every tool call. It
// never retries; correctness and containment live here, resilience
// belongs to the caller.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/clawinfra/skillclaw/internal/audit"
	"github.com/clawinfra/skillclaw/internal/history"
	"github.com/clawinfra/skillclaw/internal/policy"
	"github.com/clawinfra/skillclaw/internal/runner"
	"github.com/clawinfra/skillclaw/internal/shape"
	"github.com/clawinfra/skillclaw/internal/skill"
	"github.com/clawinfra/skillclaw/internal/vault"
)

// DefaultTimeout bounds invocations that carry no explicit deadline.
const DefaultTimeout = 30 * time.Second

// Engine routes invocations to the backend matching the skill's runtime
// kind. Safe for concurrent use: all shared state is read-only after
// construction except the audit sink and the per-instance serialization
// semaphores.
type Engine struct {
	registry *skill.Registry
	resolver vault.Resolver
	auditLog *audit.Logger
	history  *history.Store
	runners  map[skill.RuntimeKind]runner.Runner

	defaultTimeout time.Duration
	locks          sync.Map // "skill/instance" -> *semaphore.Weighted
	logger         *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithHistory attaches an execution history store.
func WithHistory(store *history.Store) Option {
	return func(e *Engine) { e.history = store }
}

// WithDefaultTimeout overrides the built-in default deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// New builds an engine over the given registry, credential resolver,
// audit sink and backend runners.
func New(registry *skill.Registry, resolver vault.Resolver, auditLog *audit.Logger, runners []runner.Runner, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		resolver:       resolver,
		auditLog:       auditLog,
		runners:        make(map[skill.RuntimeKind]runner.Runner, len(runners)),
		defaultTimeout: DefaultTimeout,
		logger:         logger,
	}
	for _, r := range runners {
		e.runners[r.Kind()] = r
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one invocation through the full state machine:
// validate -> policy check -> resolve credentials -> dispatch -> shape
// -> audit. Every call returns a well-formed result and emits exactly
// one audit event; validation and policy failures short-circuit before
// any backend starts.
func (e *Engine) Execute(ctx context.Context, inv *skill.Invocation) *skill.ExecutionResult {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	start := time.Now()

	result := e.execute(ctx, inv)

	e.record(inv, result, time.Since(start))
	return result
}

func (e *Engine) execute(ctx context.Context, inv *skill.Invocation) *skill.ExecutionResult {
	def, ok := e.registry.Skill(inv.Skill)
	if !ok {
		return skill.Fail(skill.CodeUnknownSkill, "skill %q is not registered", inv.Skill)
	}
	inst, ok := e.registry.Instance(inv.Skill, inv.Instance)
	if !ok {
		return skill.Fail(skill.CodeUnknownSkill, "instance %q of skill %q is not registered", inv.Instance, inv.Skill)
	}
	tool := def.Tool(inv.Tool)
	if tool == nil {
		return skill.Fail(skill.CodeUnknownTool, "skill %q has no tool %q", inv.Skill, inv.Tool)
	}

	args, err := skill.ValidateArgs(tool, inv.Args)
	if err != nil {
		return failFrom(err)
	}

	// Fail before you sandbox: policy runs before any process, container
	// or sandbox exists.
	if err := e.checkPolicy(def, inst, tool); err != nil {
		return failFrom(err)
	}

	secrets, err := e.resolveCredentials(inst)
	if err != nil {
		return failFrom(err)
	}

	run, ok := e.runners[def.Runtime]
	if !ok {
		return skill.Fail(skill.CodeInternal, "no runner for runtime %q", def.Runtime)
	}

	ctx, cancel := context.WithTimeout(ctx, e.deadline(inv, inst))
	defer cancel()

	if inst.Serialized {
		sem := e.instanceLock(inst)
		if err := sem.Acquire(ctx, 1); err != nil {
			return skill.Fail(skill.CodeTimeout, "deadline elapsed waiting for serialized instance")
		}
		defer sem.Release(1)
	}

	result, runErr := run.Run(ctx, &runner.Request{
		InvocationID: inv.ID,
		Def:          def,
		Instance:     inst,
		Tool:         tool,
		Args:         args,
		Secrets:      secrets,
	})
	if runErr != nil {
		e.logger.Error("runner failure", "skill", inv.Skill, "tool", inv.Tool, "error", runErr)
		return skill.Fail(skill.CodeInternal, "runner failure: %v", runErr)
	}

	if result.Success && inv.Output != nil {
		shaped, shapeErr := shape.Apply(result.Output, inv.Output)
		if shapeErr != nil {
			return failFrom(shapeErr)
		}
		result = &skill.ExecutionResult{Success: true, Output: shaped, Data: result.Data}
	}
	return result
}

// checkPolicy derives the capability class required by the runtime kind
// and checks it. WASM capabilities are gated inside the host imports, so
// there is nothing to pre-check for that kind.
func (e *Engine) checkPolicy(def *skill.Definition, inst *skill.Instance, tool *skill.ToolSpec) error {
	switch def.Runtime {
	case skill.RuntimeNative:
		return policy.CheckCommand(tool.Command, &inst.Policy)
	case skill.RuntimeContainer:
		return policy.ValidateContainer(def.Container)
	default:
		return nil
	}
}

// resolveCredentials materializes the instance's credential references.
// A missing key is CredentialMissing; a broken vault is an engine
// defect. Errors carry key names only.
func (e *Engine) resolveCredentials(inst *skill.Instance) ([]runner.ResolvedSecret, error) {
	if len(inst.Credentials) == 0 {
		return nil, nil
	}
	secrets := make([]runner.ResolvedSecret, 0, len(inst.Credentials))
	for _, ref := range inst.Credentials {
		value, err := e.resolver.Resolve(inst.Skill, inst.Name, ref.Key)
		if err != nil {
			if errors.Is(err, vault.ErrNotFound) {
				return nil, skill.Errorf(skill.CodeCredentialMissing, "credential %q is not set for %s/%s", ref.Key, inst.Skill, inst.Name)
			}
			return nil, skill.Errorf(skill.CodeInternal, "credential backend failed for key %q", ref.Key)
		}
		secrets = append(secrets, runner.ResolvedSecret{Ref: ref, Value: value})
	}
	return secrets, nil
}

func (e *Engine) deadline(inv *skill.Invocation, inst *skill.Instance) time.Duration {
	if inv.Timeout > 0 {
		return inv.Timeout
	}
	if inst.Timeout > 0 {
		return inst.Timeout
	}
	return e.defaultTimeout
}

// instanceLock returns the weighted(1) semaphore serializing an instance.
func (e *Engine) instanceLock(inst *skill.Instance) *semaphore.Weighted {
	key := inst.Skill + "/" + inst.Name
	if sem, ok := e.locks.Load(key); ok {
		return sem.(*semaphore.Weighted)
	}
	sem, _ := e.locks.LoadOrStore(key, semaphore.NewWeighted(1))
	return sem.(*semaphore.Weighted)
}

// record emits the one audit event per invocation and, when configured,
// a history row. Sink failures never fail the invocation.
func (e *Engine) record(inv *skill.Invocation, result *skill.ExecutionResult, elapsed time.Duration) {
	outcome := "ok"
	if result.Error != nil {
		outcome = string(result.Error.Code)
	}
	ev := audit.Event{
		Timestamp:   time.Now().UTC(),
		Invocation:  inv.ID,
		Skill:       inv.Skill,
		Instance:    inv.Instance,
		Tool:        inv.Tool,
		Outcome:     outcome,
		DurationMS:  elapsed.Milliseconds(),
		OutputBytes: len(result.Output),
	}
	e.auditLog.Record(ev)

	if e.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.history.Record(ctx, ev); err != nil {
			e.logger.Error("history record failed", "error", err)
		}
	}
}

// failFrom wraps a classified error into a failed result.
func failFrom(err error) *skill.ExecutionResult {
	var classified *skill.Error
	if errors.As(err, &classified) {
		return &skill.ExecutionResult{Success: false, Error: classified}
	}
	return skill.Fail(skill.CodeInternal, "%v", err)
}

// ValidateConfig runs the component-side configuration check for a WASM
// skill instance. Non-WASM skills validate statically at load time, so
// this is a no-op for them.
func (e *Engine) ValidateConfig(ctx context.Context, skillName, instName string) error {
	def, ok := e.registry.Skill(skillName)
	if !ok {
		return skill.Errorf(skill.CodeUnknownSkill, "skill %q is not registered", skillName)
	}
	inst, ok := e.registry.Instance(skillName, instName)
	if !ok {
		return skill.Errorf(skill.CodeUnknownSkill, "instance %q of skill %q is not registered", instName, skillName)
	}
	if def.Runtime != skill.RuntimeWasm {
		return nil
	}
	w, ok := e.runners[skill.RuntimeWasm].(*runner.Wasm)
	if !ok {
		return skill.Errorf(skill.CodeInternal, "wasm runner not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
	defer cancel()
	return w.ValidateConfig(ctx, def, inst)
}

// Metadata returns the component-reported metadata for a WASM skill, or
// the static definition fields otherwise.
func (e *Engine) Metadata(ctx context.Context, skillName, instName string) (map[string]any, error) {
	def, ok := e.registry.Skill(skillName)
	if !ok {
		return nil, skill.Errorf(skill.CodeUnknownSkill, "skill %q is not registered", skillName)
	}
	if def.Runtime == skill.RuntimeWasm {
		if inst, ok := e.registry.Instance(skillName, instName); ok {
			if w, ok := e.runners[skill.RuntimeWasm].(*runner.Wasm); ok {
				ctx, cancel := context.WithTimeout(ctx, e.defaultTimeout)
				defer cancel()
				return w.Metadata(ctx, def, inst)
			}
		}
	}
	return map[string]any{
		"name":        def.Name,
		"version":     def.Version,
		"description": def.Description,
	}, nil
}

// Registry exposes the read-only skill registry.
func (e *Engine) Registry() *skill.Registry { return e.registry }
