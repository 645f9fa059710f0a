package policy

import (
	"regexp"
	"strings"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// commandNamePattern is a strict allow-list for program names: letters,
// digits, dot, underscore, hyphen and path separators. Anything else is
// rejected outright rather than enumerated in a denylist.
var commandNamePattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// CheckCommand verifies that a program name is well-formed and present on
// the instance's command allow-list. Only the program name is checked;
// argument values are passed as discrete argv entries and never reach a
// shell, so they carry no execution risk.
func CheckCommand(command string, pol *skill.CapabilityPolicy) error {
	if command == "" {
		return skill.Errorf(skill.CodeCommandNotAllowed, "empty command")
	}
	if !commandNamePattern.MatchString(command) {
		return skill.Errorf(skill.CodeCommandNotAllowed, "command %q contains disallowed characters", command)
	}
	if len(pol.AllowedCommands) == 0 {
		return skill.Errorf(skill.CodeCommandNotAllowed, "no commands are allowed for this instance")
	}

	name := baseName(command)
	for _, allowed := range pol.AllowedCommands {
		if allowed == command || allowed == name {
			return nil
		}
	}
	return skill.Errorf(skill.CodeCommandNotAllowed, "command %q is not on the allow-list", name)
}

// baseName strips a path-qualified binary to its final element:
// /usr/bin/git -> git.
func baseName(command string) string {
	if idx := strings.LastIndex(command, "/"); idx >= 0 {
		return command[idx+1:]
	}
	return command
}
