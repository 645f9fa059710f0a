package skill

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func searchTool() *ToolSpec {
	return &ToolSpec{
		Name: "search",
		Parameters: []Parameter{
			{Name: "query", Type: ParamString, Required: true},
			{Name: "limit", Type: ParamNumber, Default: "10"},
			{Name: "exact", Type: ParamBoolean, Default: "false"},
		},
	}
}

func TestValidateArgs_DefaultsApplied(t *testing.T) {
	out, err := ValidateArgs(searchTool(), map[string]string{"query": "golang"})
	if err != nil {
		t.Fatalf("expected valid args: %v", err)
	}
	want := map[string]string{"query": "golang", "limit": "10", "exact": "false"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestValidateArgs_Idempotent(t *testing.T) {
	tool := searchTool()
	first, err := ValidateArgs(tool, map[string]string{"query": "x", "limit": "5"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := ValidateArgs(tool, map[string]string{"query": "x", "limit": "5"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("validation not idempotent: %v vs %v", first, second)
	}
}

func TestValidateArgs_MissingRequired(t *testing.T) {
	_, err := ValidateArgs(searchTool(), map[string]string{"limit": "5"})
	if err == nil {
		t.Fatal("expected missing required parameter to fail")
	}
	if CodeOf(err) != CodeValidation {
		t.Errorf("got code %s, want %s", CodeOf(err), CodeValidation)
	}
}

func TestValidateArgs_UnknownArgRejected(t *testing.T) {
	_, err := ValidateArgs(searchTool(), map[string]string{"query": "x", "bogus": "y"})
	if err == nil {
		t.Fatal("expected unknown argument to fail")
	}
	if CodeOf(err) != CodeValidation {
		t.Errorf("got code %s, want %s", CodeOf(err), CodeValidation)
	}
}

func TestValidateArgs_NumberTypeEnforced(t *testing.T) {
	_, err := ValidateArgs(searchTool(), map[string]string{"query": "x", "limit": "ten"})
	if err == nil {
		t.Error("expected non-numeric value for number parameter to fail")
	}
}

func TestValidateArgs_BooleanTypeEnforced(t *testing.T) {
	_, err := ValidateArgs(searchTool(), map[string]string{"query": "x", "exact": "yes please"})
	if err == nil {
		t.Error("expected non-boolean value for boolean parameter to fail")
	}
}

func TestValidateArgs_JSONType(t *testing.T) {
	tool := &ToolSpec{
		Name:       "post",
		Parameters: []Parameter{{Name: "body", Type: ParamJSON, Required: true}},
	}
	if _, err := ValidateArgs(tool, map[string]string{"body": `{"a":1}`}); err != nil {
		t.Errorf("expected valid JSON to pass: %v", err)
	}
	if _, err := ValidateArgs(tool, map[string]string{"body": `{broken`}); err == nil {
		t.Error("expected invalid JSON to fail")
	}
}

func TestValidateArgs_FileType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := &ToolSpec{
		Name:       "ingest",
		Parameters: []Parameter{{Name: "src", Type: ParamFile, Required: true}},
	}
	if _, err := ValidateArgs(tool, map[string]string{"src": path}); err != nil {
		t.Errorf("expected existing file to pass: %v", err)
	}
	if _, err := ValidateArgs(tool, map[string]string{"src": filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected missing file to fail")
	}
}

func TestValidateArgs_Pattern(t *testing.T) {
	tool := &ToolSpec{
		Name:       "fetch",
		Parameters: []Parameter{{Name: "region", Type: ParamString, Required: true, Pattern: `^[a-z]{2}-[a-z]+-\d$`}},
	}
	if _, err := ValidateArgs(tool, map[string]string{"region": "eu-west-1"}); err != nil {
		t.Errorf("expected matching value to pass: %v", err)
	}
	if _, err := ValidateArgs(tool, map[string]string{"region": "EU WEST"}); err == nil {
		t.Error("expected non-matching value to fail")
	}
}

func TestMergeConfig_InstanceWins(t *testing.T) {
	merged := MergeConfig(
		map[string]string{"region": "us-east-1", "retries": "3"},
		map[string]string{"region": "eu-west-1"},
	)
	if merged["region"] != "eu-west-1" {
		t.Errorf("instance override lost: got %q", merged["region"])
	}
	if merged["retries"] != "3" {
		t.Errorf("default dropped: got %q", merged["retries"])
	}
}

func TestValidateDefinition(t *testing.T) {
	good := &Definition{
		Name:    "web",
		Runtime: RuntimeNative,
		Tools:   []*ToolSpec{{Name: "get", Command: "curl"}},
	}
	if err := ValidateDefinition(good); err != nil {
		t.Errorf("expected valid definition: %v", err)
	}

	cases := []struct {
		name string
		def  *Definition
	}{
		{"no name", &Definition{Runtime: RuntimeNative, Tools: []*ToolSpec{{Name: "t", Command: "ls"}}}},
		{"bad runtime", &Definition{Name: "x", Runtime: "jvm", Tools: []*ToolSpec{{Name: "t"}}}},
		{"no tools", &Definition{Name: "x", Runtime: RuntimeWasm, Module: "m.wasm"}},
		{"duplicate tool", &Definition{Name: "x", Runtime: RuntimeNative, Tools: []*ToolSpec{{Name: "t", Command: "ls"}, {Name: "t", Command: "ls"}}}},
		{"native without command", &Definition{Name: "x", Runtime: RuntimeNative, Tools: []*ToolSpec{{Name: "t"}}}},
		{"wasm without module", &Definition{Name: "x", Runtime: RuntimeWasm, Tools: []*ToolSpec{{Name: "t"}}}},
		{"container without image", &Definition{Name: "x", Runtime: RuntimeContainer, Tools: []*ToolSpec{{Name: "t"}}}},
	}
	for _, tc := range cases {
		if err := ValidateDefinition(tc.def); err == nil {
			t.Errorf("%s: expected validation failure", tc.name)
		}
	}
}

func TestFail_EmptyOutputOnFailure(t *testing.T) {
	res := Fail(CodeTimeout, "deadline of %s exceeded", "10s")
	if res.Success {
		t.Error("expected Success=false")
	}
	if res.Output != "" {
		t.Errorf("failed result must carry empty output, got %q", res.Output)
	}
	if res.Error == nil || res.Error.Code != CodeTimeout {
		t.Errorf("unexpected error: %+v", res.Error)
	}
}
