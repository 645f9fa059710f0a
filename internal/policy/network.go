package policy

import (
	"net"
	"net/url"
	"strings"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// deniedMessage is deliberately identical for denied and never-declared
// capabilities so a component cannot probe which hosts exist on a policy.
const deniedMessage = "capability not granted"

// CheckHost verifies that outbound access to host is on the instance's
// allow-list. An empty list grants nothing.
func CheckHost(host string, pol *skill.CapabilityPolicy) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" || !pol.AllowsHost(host) {
		return skill.Errorf(skill.CodeCapabilityDenied, "%s", deniedMessage)
	}
	return nil
}

// CheckURL extracts the host from a URL and checks it against the policy.
func CheckURL(raw string, pol *skill.CapabilityPolicy) error {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return skill.Errorf(skill.CodeCapabilityDenied, "%s", deniedMessage)
	}
	return CheckHost(u.Hostname(), pol)
}
