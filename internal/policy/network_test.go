package policy

import (
	"testing"

	"github.com/clawinfra/skillclaw/internal/skill"
)

func hostPolicy(hosts ...string) *skill.CapabilityPolicy {
	return &skill.CapabilityPolicy{AllowedHosts: hosts}
}

func TestCheckHost(t *testing.T) {
	pol := hostPolicy("api.example.com")
	if err := CheckHost("api.example.com", pol); err != nil {
		t.Errorf("expected allowed host to pass: %v", err)
	}
	if err := CheckHost("API.EXAMPLE.COM", pol); err != nil {
		t.Errorf("expected host match to be case-insensitive: %v", err)
	}
	if err := CheckHost("api.example.com:443", pol); err != nil {
		t.Errorf("expected port to be stripped before matching: %v", err)
	}
	if err := CheckHost("evil.example.com", pol); err == nil {
		t.Error("expected unlisted host to be denied")
	}
}

// A denied host and a host that was never declared must produce the same
// message, so callers cannot probe which hosts a policy knows about.
func TestCheckHost_DeniedAndAbsentIndistinguishable(t *testing.T) {
	denied := CheckHost("evil.example.com", hostPolicy("api.example.com"))
	absent := CheckHost("evil.example.com", hostPolicy())
	if denied == nil || absent == nil {
		t.Fatal("expected both checks to fail")
	}
	if denied.Error() != absent.Error() {
		t.Errorf("messages differ: %q vs %q", denied.Error(), absent.Error())
	}
}

func TestCheckURL(t *testing.T) {
	pol := hostPolicy("api.example.com")
	if err := CheckURL("https://api.example.com/v1/items?q=1", pol); err != nil {
		t.Errorf("expected allowed URL to pass: %v", err)
	}
	if err := CheckURL("https://other.example.com/", pol); err == nil {
		t.Error("expected unlisted URL host to be denied")
	}
	if err := CheckURL("::not a url::", pol); err == nil {
		t.Error("expected unparseable URL to be denied")
	}
	if skill.CodeOf(CheckURL("https://other.example.com/", pol)) != skill.CodeCapabilityDenied {
		t.Error("expected CapabilityDenied code")
	}
}
