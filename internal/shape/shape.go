// Package shape applies caller-requested context-shaping transforms to
// backend output: line filtering, structured-field extraction, head/tail
// truncation and a byte-size cap. Transforms are read-only and run only
// after the backend has finished.
package shape

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/clawinfra/skillclaw/internal/skill"
)

// Apply runs the directives against output in a fixed order: field
// extraction, line filter, head/tail, byte cap. A nil directive set
// returns the output unchanged.
func Apply(output string, d *skill.Directives) (string, error) {
	if d == nil {
		return output, nil
	}

	if d.Field != "" {
		extracted, err := extractField(output, d.Field)
		if err != nil {
			return "", err
		}
		output = extracted
	}

	if d.Filter != "" {
		re, err := regexp.Compile(d.Filter)
		if err != nil {
			return "", skill.Errorf(skill.CodeValidation, "invalid line filter: %v", err)
		}
		var kept []string
		for _, line := range strings.Split(output, "\n") {
			if re.MatchString(line) {
				kept = append(kept, line)
			}
		}
		output = strings.Join(kept, "\n")
	}

	if d.Head > 0 || d.Tail > 0 {
		output = headTail(output, d.Head, d.Tail)
	}

	if d.MaxBytes > 0 && len(output) > d.MaxBytes {
		output = output[:d.MaxBytes]
	}
	return output, nil
}

// extractField walks a dot-separated path through JSON output and returns
// the value, scalars as plain text and composites re-marshaled.
func extractField(output, path string) (string, error) {
	var doc any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		return "", skill.Errorf(skill.CodeValidation, "output is not JSON, cannot extract %q", path)
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", skill.Errorf(skill.CodeValidation, "field path %q does not resolve", path)
		}
		cur, ok = obj[part]
		if !ok {
			return "", skill.Errorf(skill.CodeValidation, "field path %q does not resolve", path)
		}
	}
	switch v := cur.(type) {
	case string:
		return v, nil
	case float64, bool, nil:
		return fmt.Sprintf("%v", v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", skill.Errorf(skill.CodeInternal, "re-marshal field %q: %v", path, err)
		}
		return string(raw), nil
	}
}

// headTail keeps the first head and last tail lines. Overlapping ranges
// return the whole output.
func headTail(output string, head, tail int) string {
	lines := strings.Split(output, "\n")
	if head+tail >= len(lines) {
		return output
	}
	var kept []string
	if head > 0 {
		kept = append(kept, lines[:head]...)
	}
	if tail > 0 {
		kept = append(kept, lines[len(lines)-tail:]...)
	}
	return strings.Join(kept, "\n")
}
