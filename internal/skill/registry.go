package skill

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry maintains loaded skill definitions and their instances.
// Definitions and instances are registered at startup and read-only
// afterwards, so lookups are safe under concurrent invocations.
type Registry struct {
	mu        sync.RWMutex
	skills    map[string]*Definition
	instances map[string]*Instance // "skill/instance" -> instance
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		skills:    make(map[string]*Definition),
		instances: make(map[string]*Instance),
		logger:    logger,
	}
}

// Register adds a skill definition.
func (r *Registry) Register(def *Definition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[def.Name]; exists {
		return fmt.Errorf("skill %q already registered", def.Name)
	}
	r.skills[def.Name] = def
	r.logger.Info("skill registered", "skill", def.Name, "runtime", def.Runtime, "tools", len(def.Tools))
	return nil
}

// RegisterInstance adds a named instance of a registered skill.
func (r *Registry) RegisterInstance(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.skills[inst.Skill]
	if !ok {
		return fmt.Errorf("instance %q references unknown skill %q", inst.Name, inst.Skill)
	}
	key := inst.Skill + "/" + inst.Name
	if _, exists := r.instances[key]; exists {
		return fmt.Errorf("instance %q already registered for skill %q", inst.Name, inst.Skill)
	}
	inst.Config = MergeConfig(def.Defaults, inst.Config)
	r.instances[key] = inst
	r.logger.Info("instance registered", "skill", inst.Skill, "instance", inst.Name, "serialized", inst.Serialized)
	return nil
}

// Skill returns the definition with the given name.
func (r *Registry) Skill(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.skills[name]
	return d, ok
}

// Instance returns the named instance of a skill.
func (r *Registry) Instance(skillName, instName string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.instances[skillName+"/"+instName]
	return i, ok
}

// Skills returns all registered definitions.
func (r *Registry) Skills() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, d)
	}
	return out
}

// Instances returns all instances of the given skill.
func (r *Registry) Instances(skillName string) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Instance
	for _, i := range r.instances {
		if i.Skill == skillName {
			out = append(out, i)
		}
	}
	return out
}
