package policy

import (
	"path/filepath"
	"strings"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// blockedMountPaths are host paths that may never be bind-mounted into a
// container, regardless of instance policy.
var blockedMountPaths = []string{
	"/",
	"/etc",
	"/root",
	"/boot",
	"/proc",
	"/sys",
	"/usr",
	"/var/run/docker.sock",
	"/run/docker.sock",
}

// ValidateContainer rejects container specs that violate the hard
// security constraints: unpinned images, host networking and mounts that
// resolve to sensitive host paths. This runs at manifest-validation time,
// never discovered at runtime.
func ValidateContainer(spec *skill.ContainerSpec) error {
	if spec.Image == "" {
		return skill.Errorf(skill.CodeValidation, "container spec has no image")
	}
	if !imagePinned(spec.Image) {
		return skill.Errorf(skill.CodeValidation, "image %q must carry an explicit tag or digest", spec.Image)
	}
	switch spec.Network {
	case "", "none", "bridge":
	case "host":
		return skill.Errorf(skill.CodeCapabilityDenied, "host network mode is blocked")
	default:
		return skill.Errorf(skill.CodeValidation, "unknown network mode %q", spec.Network)
	}
	for _, vol := range spec.Volumes {
		if err := validateMount(vol); err != nil {
			return err
		}
	}
	return nil
}

// validateMount checks a single host:container[:ro] volume entry. The
// host side is resolved through symlinks before comparison.
func validateMount(vol string) error {
	parts := strings.Split(vol, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return skill.Errorf(skill.CodeValidation, "malformed volume %q, want host:container[:ro]", vol)
	}
	host := parts[0]
	if !filepath.IsAbs(host) {
		return skill.Errorf(skill.CodeValidation, "volume host path %q must be absolute", host)
	}
	resolved := resolveSymlinks(filepath.Clean(host))
	for _, blocked := range blockedMountPaths {
		// Reject mounts inside a blocked path and mounts of a parent
		// that would expose one.
		if isSubpath(resolved, blocked) || isSubpath(blocked, resolved) {
			return skill.Errorf(skill.CodeCapabilityDenied, "mounting %q is blocked (touches %s)", host, blocked)
		}
	}
	return nil
}

// imagePinned reports whether an image reference names an explicit tag or
// digest. Bare references pull a floating latest, which is not allowed.
func imagePinned(image string) bool {
	if strings.Contains(image, "@sha256:") {
		return true
	}
	// A colon after the last slash is a tag, not a registry port.
	last := image
	if idx := strings.LastIndex(image, "/"); idx >= 0 {
		last = image[idx+1:]
	}
	if idx := strings.Index(last, ":"); idx >= 0 {
		tag := last[idx+1:]
		return tag != "" && tag != "latest"
	}
	return false
}
