// Package macro rewrites placeholder-macro syntax between the standard
// character-card dialect ({{char}}, {{user}}) and the Voxta dialect,
// which spaces the braces ({{ char }}, {{ user }}).
package macro

import (
	"regexp"
	"strings"
)

// Direction selects the target dialect.
type Direction int

const (
	// ToVoxta rewrites standard macros into the spaced Voxta form.
	ToVoxta Direction = iota
	// ToStandard rewrites Voxta macros into the tight standard form.
	ToStandard
)

func (d Direction) String() string {
	if d == ToVoxta {
		return "to-voxta"
	}
	return "to-standard"
}

// knownMacros are the placeholder names rewritten between dialects.
// Unknown macro names pass through untouched in either direction.
var knownMacros = []string{"char", "user", "character", "persona"}

var macroPattern = regexp.MustCompile(`\{\{\s*(` + strings.Join(knownMacros, "|") + `)\s*\}\}`)

// ConvertString rewrites every macro occurrence in a single string.
// Both directions tolerate arbitrary interior spacing on input, so the
// conversion is idempotent.
func ConvertString(s string, dir Direction) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return macroPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := macroPattern.FindStringSubmatch(m)[1]
		if dir == ToVoxta {
			return "{{ " + name + " }}"
		}
		return "{{" + name + "}}"
	})
}

// Convert walks an arbitrary JSON value tree and rewrites every
// string-valued leaf, known fields and unknown extensions alike. The
// input is never mutated; a new tree is returned.
func Convert(v any, dir Direction) any {
	switch t := v.(type) {
	case string:
		return ConvertString(t, dir)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Convert(val, dir)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = Convert(el, dir)
		}
		return out
	default:
		return t
	}
}

// ConvertData applies Convert to a card data object.
func ConvertData(data map[string]any, dir Direction) map[string]any {
	return Convert(data, dir).(map[string]any)
}
