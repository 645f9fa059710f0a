package skill

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// ValidateArgs checks args against the tool's parameter schema and returns
// a new map with defaults applied. It is idempotent: identical input
// yields identical output. Unknown arguments, missing required parameters,
// type mismatches and constraint violations all fail with a
// ValidationError and nothing is dispatched.
func ValidateArgs(tool *ToolSpec, args map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(tool.Parameters))

	for name := range args {
		if tool.Param(name) == nil {
			return nil, Errorf(CodeValidation, "tool %q does not accept argument %q", tool.Name, name)
		}
	}

	for i := range tool.Parameters {
		p := &tool.Parameters[i]
		val, ok := args[p.Name]
		if !ok {
			if p.Required && p.Default == "" {
				return nil, Errorf(CodeValidation, "missing required parameter %q for tool %q", p.Name, tool.Name)
			}
			if p.Default == "" {
				continue
			}
			val = p.Default
		}
		if err := checkType(p, val); err != nil {
			return nil, err
		}
		out[p.Name] = val
	}
	return out, nil
}

func checkType(p *Parameter, val string) error {
	switch p.Type {
	case ParamNumber:
		if _, err := strconv.ParseFloat(val, 64); err != nil {
			return Errorf(CodeValidation, "parameter %q must be a number, got %q", p.Name, val)
		}
	case ParamBoolean:
		if _, err := strconv.ParseBool(val); err != nil {
			return Errorf(CodeValidation, "parameter %q must be a boolean, got %q", p.Name, val)
		}
	case ParamJSON:
		if !json.Valid([]byte(val)) {
			return Errorf(CodeValidation, "parameter %q must be valid JSON", p.Name)
		}
	case ParamFile:
		if _, err := os.Stat(val); err != nil {
			return Errorf(CodeValidation, "parameter %q references unreadable file: %v", p.Name, err)
		}
	case ParamString, "":
		// any string
	default:
		return Errorf(CodeValidation, "parameter %q has unknown type %q", p.Name, p.Type)
	}

	if p.Pattern != "" && p.Type != ParamNumber && p.Type != ParamBoolean {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return Errorf(CodeValidation, "parameter %q has invalid pattern: %v", p.Name, err)
		}
		if !re.MatchString(val) {
			return Errorf(CodeValidation, "parameter %q does not match pattern %s", p.Name, p.Pattern)
		}
	}
	return nil
}

// MergeConfig layers instance config over skill defaults; the instance
// wins on conflict. A fresh map is always returned.
func MergeConfig(defaults, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// ValidateDefinition sanity-checks a loaded skill definition.
func ValidateDefinition(d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("skill has no name")
	}
	if !d.Runtime.Valid() {
		return fmt.Errorf("skill %q has unknown runtime %q", d.Name, d.Runtime)
	}
	if len(d.Tools) == 0 {
		return fmt.Errorf("skill %q declares no tools", d.Name)
	}
	seen := make(map[string]bool, len(d.Tools))
	for _, t := range d.Tools {
		if t.Name == "" {
			return fmt.Errorf("skill %q has a tool without a name", d.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("skill %q declares tool %q twice", d.Name, t.Name)
		}
		seen[t.Name] = true
		if d.Runtime == RuntimeNative && t.Command == "" {
			return fmt.Errorf("native tool %q in skill %q has no command", t.Name, d.Name)
		}
	}
	if d.Runtime == RuntimeWasm && d.Module == "" {
		return fmt.Errorf("wasm skill %q has no module path", d.Name)
	}
	if d.Runtime == RuntimeContainer {
		if d.Container == nil || d.Container.Image == "" {
			return fmt.Errorf("container skill %q has no image", d.Name)
		}
	}
	return nil
}
