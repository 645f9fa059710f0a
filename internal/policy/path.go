package policy

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// CheckPath verifies that a filesystem path falls inside one of the
// instance's allowed roots, in the requested mode. Symlinks are resolved
// before containment is checked, so a link escaping an allowed root is
// classified as traversal.
func CheckPath(path string, write bool, pol *skill.CapabilityPolicy) error {
	if strings.ContainsRune(path, 0) {
		return skill.Errorf(skill.CodePathTraversal, "path contains null byte")
	}
	if len(pol.FSRoots) == 0 {
		return skill.Errorf(skill.CodeCapabilityDenied, "filesystem access is not granted")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return skill.Errorf(skill.CodePathTraversal, "cannot resolve path %q: %v", path, err)
	}
	resolved := resolveSymlinks(abs)

	for _, root := range pol.FSRoots {
		if write && !root.Write {
			continue
		}
		absRoot, err := filepath.Abs(root.Path)
		if err != nil {
			continue
		}
		if isSubpath(resolved, resolveSymlinks(absRoot)) {
			return nil
		}
	}
	return skill.Errorf(skill.CodePathTraversal, "path %q escapes the allowed roots", path)
}

// resolveSymlinks resolves a path, falling back to resolving the parent
// when the leaf does not exist yet.
func resolveSymlinks(abs string) string {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved
	}
	if os.IsNotExist(err) {
		parent, err2 := filepath.EvalSymlinks(filepath.Dir(abs))
		if err2 == nil {
			return filepath.Join(parent, filepath.Base(abs))
		}
	}
	return abs
}

// isSubpath reports whether child equals parent or lives beneath it.
func isSubpath(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
