package skill

import "time"

// RuntimeKind selects the backend a skill executes on.
type RuntimeKind string

const (
	RuntimeWasm      RuntimeKind = "wasm"
	RuntimeNative    RuntimeKind = "native"
	RuntimeContainer RuntimeKind = "container"
)

// Valid reports whether the runtime kind is one of the three known backends.
func (k RuntimeKind) Valid() bool {
	switch k {
	case RuntimeWasm, RuntimeNative, RuntimeContainer:
		return true
	}
	return false
}

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamFile    ParamType = "file"
	ParamJSON    ParamType = "json"
)

// Parameter describes a single argument accepted by a tool.
type Parameter struct {
	Name        string    `yaml:"name"`
	Type        ParamType `yaml:"type"`
	Description string    `yaml:"description"`
	Required    bool      `yaml:"required"`
	Default     string    `yaml:"default"`
	// Pattern, when set, constrains string values to a regular expression.
	Pattern string `yaml:"pattern"`
}

// ToolSpec describes a named operation exposed by a skill. Immutable once
// loaded; invocations reference it, they never copy or modify it.
type ToolSpec struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Parameters  []Parameter `yaml:"parameters"`

	// Native runtime only: the program to run and its argument template.
	// Entries of the form $name are replaced by the validated argument
	// value as a single argv entry.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Container runtime only: arguments appended to the container command.
	ContainerArgs []string `yaml:"container_args"`
}

// Param returns the parameter declaration with the given name, if any.
func (t *ToolSpec) Param(name string) *Parameter {
	for i := range t.Parameters {
		if t.Parameters[i].Name == name {
			return &t.Parameters[i]
		}
	}
	return nil
}

// ContainerSpec describes the pinned image and launch settings for a
// container skill.
type ContainerSpec struct {
	Image      string   `yaml:"image"`
	Entrypoint string   `yaml:"entrypoint"`
	Command    []string `yaml:"command"`
	WorkDir    string   `yaml:"work_dir"`
	User       string   `yaml:"user"`
	ReadOnly   bool     `yaml:"read_only"`
	Volumes    []string `yaml:"volumes"` // host:container[:ro]
	Memory     string   `yaml:"memory"`  // e.g. "512m"
	CPUs       string   `yaml:"cpus"`    // e.g. "2"
	Network    string   `yaml:"network"` // defaults to "none"
}

// Definition is a loaded skill: its metadata, runtime kind and tools.
// Owned by the manifest loader, read-only afterwards.
type Definition struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	Description string      `yaml:"description"`
	Runtime     RuntimeKind `yaml:"runtime"`

	// Module is the path to the WASM component (wasm runtime only).
	Module string `yaml:"module"`

	// Container holds launch settings (container runtime only).
	Container *ContainerSpec `yaml:"container"`

	Tools []*ToolSpec `yaml:"tools"`

	// Defaults are skill-level config values; instance config wins on
	// conflict.
	Defaults map[string]string `yaml:"defaults"`
}

// Tool returns the tool spec with the given name, if any.
func (d *Definition) Tool(name string) *ToolSpec {
	for _, t := range d.Tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// CredentialRef names a secret held in the vault. The value is resolved
// lazily per invocation and never stored on the instance.
type CredentialRef struct {
	// Key is the vault key, scoped by skill and instance.
	Key string `toml:"key"`
	// EnvVar, when set, injects the value as this environment variable.
	EnvVar string `toml:"env"`
	// File, when set, injects the value as a file at this path inside the
	// execution environment (container runtime). Preferred over EnvVar.
	File string `toml:"file"`
}

// FSRoot is a filesystem root a skill instance may touch.
type FSRoot struct {
	Path  string `toml:"path"`
	Write bool   `toml:"write"`
}

// CapabilityPolicy is the immutable allow-list attached to a skill
// instance. An empty list means nothing is permitted for that class.
// Policy changes require a new instance; a running invocation never sees
// a mutated policy.
type CapabilityPolicy struct {
	AllowedHosts    []string `toml:"allowed_hosts"`
	FSRoots         []FSRoot `toml:"fs_roots"`
	AllowedCommands []string `toml:"allowed_commands"` // native only
}

// AllowsHost reports whether outbound access to host is granted.
func (p *CapabilityPolicy) AllowsHost(host string) bool {
	for _, h := range p.AllowedHosts {
		if h == host {
			return true
		}
	}
	return false
}

// Instance is a named configuration of a skill, carrying its own policy,
// config overrides and credential references.
type Instance struct {
	Skill       string
	Name        string
	Policy      CapabilityPolicy
	Config      map[string]string
	Credentials []CredentialRef

	// Serialized forces invocations against this instance to run one at
	// a time.
	Serialized bool

	// Timeout overrides the engine default deadline when non-zero.
	Timeout time.Duration
}

// Directives are caller-supplied, read-only output transforms applied
// after the backend has finished. They never alter what the backend does.
type Directives struct {
	// Filter keeps only lines matching this regular expression.
	Filter string
	// Field extracts a dot-separated path from JSON output.
	Field string
	// Head/Tail keep only the first/last N lines.
	Head int
	Tail int
	// MaxBytes truncates the shaped output to this many bytes.
	MaxBytes int
}

// Invocation is a single tool call. Created per call and owned by the
// router for its lifetime.
type Invocation struct {
	ID       string
	Skill    string
	Instance string
	Tool     string
	Args     map[string]string
	Output   *Directives

	// Timeout overrides the engine default for this call when non-zero.
	Timeout time.Duration
}

// ExecutionResult is the normalized outcome of an invocation.
// Invariant: Success == false implies Output is empty and Error is set.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Error   *Error         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Fail builds a failed result honoring the empty-output invariant.
func Fail(code Code, format string, args ...any) *ExecutionResult {
	return &ExecutionResult{Success: false, Error: Errorf(code, format, args...)}
}
