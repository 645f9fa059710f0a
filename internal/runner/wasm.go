package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// defaultMemoryPages caps guest linear memory at 16 MiB (64 KiB pages).
const defaultMemoryPages = 256

// Wasm executes skill components in a wazero sandbox. A component
// exposes exactly four exports to the host contract (get_metadata,
// get_tools, execute_tool and validate_config) plus alloc/free for
// string passing.
// Nothing else is reachable: filesystem and network access exist only as
// capability-gated host imports, not as ambient WASI rights.
//
// Modules are compiled once per skill and cached; every invocation gets
// a fresh instantiation, so no invocation can observe linear memory left
// by another.
type Wasm struct {
	rt     wazero.Runtime
	logger *slog.Logger
	client *http.Client

	mu       sync.Mutex
	compiled map[string]wazero.CompiledModule
}

// NewWasm creates the WASM runner. memoryPages bounds guest memory; zero
// selects the default. The deadline on the invocation context is the CPU
// ceiling: wazero closes the module when the context expires, which
// surfaces as a trap instead of a hang.
func NewWasm(ctx context.Context, memoryPages uint32, logger *slog.Logger) *Wasm {
	if memoryPages == 0 {
		memoryPages = defaultMemoryPages
	}
	cfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memoryPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	// Provide WASI for language runtimes that need it; no directories
	// are preopened, so the guest sees an empty world.
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	w := &Wasm{
		rt:       rt,
		logger:   logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		compiled: make(map[string]wazero.CompiledModule),
	}
	w.instantiateHost(ctx)
	return w
}

// Kind reports the runtime this runner serves.
func (w *Wasm) Kind() skill.RuntimeKind { return skill.RuntimeWasm }

// Close releases the runtime and all cached modules.
func (w *Wasm) Close(ctx context.Context) error {
	return w.rt.Close(ctx)
}

// Run executes the tool through the component's execute_tool export.
func (w *Wasm) Run(ctx context.Context, req *Request) (*skill.ExecutionResult, error) {
	argsJSON, err := json.Marshal(req.Args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	raw, callErr := w.call(ctx, req.Def, req.Instance, req.Secrets, "execute_tool", req.Tool.Name, string(argsJSON))
	if callErr != nil {
		return w.trapResult(ctx, callErr), nil
	}
	return parseEnvelope(raw), nil
}

// Metadata calls the component's get_metadata export.
func (w *Wasm) Metadata(ctx context.Context, def *skill.Definition, inst *skill.Instance) (map[string]any, error) {
	raw, err := w.call(ctx, def, inst, nil, "get_metadata")
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

// Tools calls the component's get_tools export and returns the declared
// tool specs.
func (w *Wasm) Tools(ctx context.Context, def *skill.Definition, inst *skill.Instance) ([]*skill.ToolSpec, error) {
	raw, err := w.call(ctx, def, inst, nil, "get_tools")
	if err != nil {
		return nil, err
	}
	var tools []*skill.ToolSpec
	if err := json.Unmarshal([]byte(raw), &tools); err != nil {
		return nil, fmt.Errorf("parse tools: %w", err)
	}
	return tools, nil
}

// ValidateConfig asks the component to validate the instance's merged
// configuration. Idempotent: the component sees the same input each time.
func (w *Wasm) ValidateConfig(ctx context.Context, def *skill.Definition, inst *skill.Instance) error {
	cfgJSON, err := json.Marshal(inst.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	raw, err := w.call(ctx, def, inst, nil, "validate_config", string(cfgJSON))
	if err != nil {
		return err
	}
	var envelope struct {
		Err *string `json:"err"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &envelope); jsonErr == nil && envelope.Err != nil {
		return skill.Errorf(skill.CodeValidation, "config rejected: %s", *envelope.Err)
	}
	return nil
}

// call instantiates a fresh sandbox and invokes one export with string
// arguments, returning the string result.
func (w *Wasm) call(ctx context.Context, def *skill.Definition, inst *skill.Instance, secrets []ResolvedSecret, fn string, args ...string) (string, error) {
	comp, err := w.compile(ctx, def)
	if err != nil {
		return "", err
	}

	ctx = withHostState(ctx, &hostState{
		policy:   &inst.Policy,
		instance: inst.Name,
		client:   w.client,
		logger:   w.logger,
	})

	modCfg := wazero.NewModuleConfig().
		WithName(def.Name + "-" + uuid.NewString()).
		WithStartFunctions("_initialize").
		WithEnv("SKILL_INSTANCE", inst.Name)
	for k, v := range inst.Config {
		modCfg = modCfg.WithEnv("SKILL_CONFIG_"+k, v)
	}
	for _, sec := range secrets {
		name := sec.Ref.EnvVar
		if name == "" {
			name = "SKILL_SECRET_" + sec.Ref.Key
		}
		modCfg = modCfg.WithEnv(name, sec.Value)
	}

	mod, err := w.rt.InstantiateModule(ctx, comp, modCfg)
	if err != nil {
		return "", fmt.Errorf("instantiate %s: %w", def.Name, err)
	}
	defer mod.Close(ctx)

	export := mod.ExportedFunction(fn)
	if export == nil {
		return "", fmt.Errorf("component %s does not export %s", def.Name, fn)
	}

	params := make([]uint64, 0, len(args)*2)
	for _, arg := range args {
		ptr, size, err := writeGuestString(ctx, mod, arg)
		if err != nil {
			return "", err
		}
		params = append(params, uint64(ptr), uint64(size))
	}

	ret, err := export.Call(ctx, params...)
	if err != nil {
		return "", err
	}
	if len(ret) != 1 {
		return "", fmt.Errorf("export %s returned %d values, want packed string", fn, len(ret))
	}
	return readGuestString(mod, ret[0])
}

// compile loads and caches the component for a skill.
func (w *Wasm) compile(ctx context.Context, def *skill.Definition) (wazero.CompiledModule, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if comp, ok := w.compiled[def.Name]; ok {
		return comp, nil
	}
	data, err := os.ReadFile(def.Module)
	if err != nil {
		return nil, fmt.Errorf("read component %s: %w", def.Module, err)
	}
	comp, err := w.rt.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("compile component %s: %w", def.Name, err)
	}
	w.compiled[def.Name] = comp
	w.logger.Debug("component compiled", "skill", def.Name, "bytes", len(data))
	return comp, nil
}

// trapResult classifies a failed export call: an expired deadline is a
// Timeout, anything else the sandbox raised is a trap.
func (w *Wasm) trapResult(ctx context.Context, err error) *skill.ExecutionResult {
	if ctx.Err() != nil {
		return skill.Fail(skill.CodeTimeout, "sandbox closed after deadline")
	}
	return skill.Fail(skill.CodeSandboxTrap, "%v", err)
}

// parseEnvelope decodes the component's {"ok": {...}} / {"err": "..."}
// result envelope.
func parseEnvelope(raw string) *skill.ExecutionResult {
	var envelope struct {
		OK *struct {
			Success bool           `json:"success"`
			Output  string         `json:"output"`
			Message string         `json:"errorMessage"`
			Data    map[string]any `json:"data"`
		} `json:"ok"`
		Err *string `json:"err"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return skill.Fail(skill.CodeSandboxTrap, "malformed result envelope")
	}
	switch {
	case envelope.OK != nil:
		if !envelope.OK.Success {
			msg := envelope.OK.Message
			if msg == "" {
				msg = "tool reported failure"
			}
			return skill.Fail(skill.CodeToolFailed, "%s", msg)
		}
		return &skill.ExecutionResult{Success: true, Output: envelope.OK.Output, Data: envelope.OK.Data}
	case envelope.Err != nil:
		return skill.Fail(skill.CodeToolFailed, "%s", *envelope.Err)
	default:
		return skill.Fail(skill.CodeSandboxTrap, "result envelope has neither ok nor err")
	}
}
