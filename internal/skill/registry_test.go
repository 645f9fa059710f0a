package skill

import (
	"io"
	"log/slog"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func webSkill() *Definition {
	return &Definition{
		Name:     "web",
		Runtime:  RuntimeNative,
		Tools:    []*ToolSpec{{Name: "get", Command: "curl"}},
		Defaults: map[string]string{"timeout": "5", "agent": "skillclaw"},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(webSkill()); err != nil {
		t.Fatal(err)
	}
	def, ok := r.Skill("web")
	if !ok || def.Name != "web" {
		t.Fatalf("skill lookup failed: %v %v", def, ok)
	}
	if _, ok := r.Skill("other"); ok {
		t.Error("expected lookup of unregistered skill to miss")
	}
}

func TestRegistry_DuplicateSkillRejected(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(webSkill()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(webSkill()); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistry_InstanceMergesDefaults(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(webSkill()); err != nil {
		t.Fatal(err)
	}
	inst := &Instance{
		Skill:  "web",
		Name:   "prod",
		Config: map[string]string{"timeout": "30"},
	}
	if err := r.RegisterInstance(inst); err != nil {
		t.Fatal(err)
	}
	got, ok := r.Instance("web", "prod")
	if !ok {
		t.Fatal("instance lookup failed")
	}
	if got.Config["timeout"] != "30" {
		t.Errorf("instance override lost: %q", got.Config["timeout"])
	}
	if got.Config["agent"] != "skillclaw" {
		t.Errorf("skill default lost: %q", got.Config["agent"])
	}
}

func TestRegistry_InstanceNeedsSkill(t *testing.T) {
	r := testRegistry(t)
	err := r.RegisterInstance(&Instance{Skill: "ghost", Name: "prod"})
	if err == nil {
		t.Error("expected instance for unknown skill to fail")
	}
}

func TestRegistry_InstancesByName(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(webSkill()); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"prod", "staging"} {
		if err := r.RegisterInstance(&Instance{Skill: "web", Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(r.Instances("web")); got != 2 {
		t.Errorf("got %d instances, want 2", got)
	}
	if got := len(r.Instances("other")); got != 0 {
		t.Errorf("got %d instances for unknown skill, want 0", got)
	}
}
