package card

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizePosition coerces a lorebook entry position into one of the
// two canonical enum values. Numeric 0 maps to before_char, any other
// number to after_char. Strings are matched case-insensitively with
// separators ignored. Unrecognized non-empty strings fall back to
// after_char; this leniency matches observed wild-card behavior and is
// deliberately preserved (callers may surface a warning when it fires).
// Returns false when the value is nil or empty, in which case the field
// is left absent.
func NormalizePosition(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case float64:
		if t == 0 {
			return PositionBeforeChar, true
		}
		return PositionAfterChar, true
	case int:
		if t == 0 {
			return PositionBeforeChar, true
		}
		return PositionAfterChar, true
	case int64:
		if t == 0 {
			return PositionBeforeChar, true
		}
		return PositionAfterChar, true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
		if s == "" {
			return "", false
		}
		if strings.HasPrefix(s, "before") || s == "0" {
			return PositionBeforeChar, true
		}
		return PositionAfterChar, true
	default:
		// Lenient fallback for garbage values of other types.
		return PositionAfterChar, true
	}
}

// normalizeBook applies character-book normalization to the inner data
// object in place (the map is always a private working copy by the time
// this runs). It returns warnings for lenient coercions.
func normalizeBook(data map[string]any) []string {
	raw, present := data["character_book"]
	if !present {
		return nil
	}
	book, ok := raw.(map[string]any)
	if !ok || book == nil {
		// Null or wrong-typed books are dropped, not preserved raw.
		delete(data, "character_book")
		return nil
	}

	var warnings []string

	coerceIntField(book, "scan_depth")
	coerceIntField(book, "token_budget")
	coerceBoolField(book, "recursive_scanning")
	ensureExtensions(book)

	entries, ok := book["entries"].([]any)
	if !ok {
		book["entries"] = []any{}
		return warnings
	}
	normalized := make([]any, 0, len(entries))
	for i, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok || entry == nil {
			warnings = append(warnings, fmt.Sprintf("lorebook entry %d is not an object and was dropped", i))
			continue
		}
		warnings = append(warnings, normalizeBookEntry(entry, i)...)
		normalized = append(normalized, entry)
	}
	book["entries"] = normalized
	return warnings
}

// normalizeBookEntry default-fills and coerces a single lorebook entry
// in place.
func normalizeBookEntry(entry map[string]any, index int) []string {
	var warnings []string

	// keys is non-null and contains only strings.
	entry["keys"] = stringSlice(entry["keys"])

	if _, ok := entry["content"].(string); !ok {
		entry["content"] = ""
	}

	switch v := entry["enabled"].(type) {
	case bool:
	case string:
		// "false" in any casing disables; everything else keeps the default.
		entry["enabled"] = !strings.EqualFold(strings.TrimSpace(v), "false")
	default:
		entry["enabled"] = true
	}

	if n, ok := coerceInt(entry["insertion_order"]); ok {
		entry["insertion_order"] = n
	} else {
		entry["insertion_order"] = 100
	}

	ext := ensureExtensions(entry)

	if rawPos, present := entry["position"]; present {
		pos, ok := NormalizePosition(rawPos)
		if !ok {
			delete(entry, "position")
		} else {
			if s, isStr := rawPos.(string); isStr && pos == PositionAfterChar {
				folded := strings.ToLower(strings.TrimSpace(s))
				if folded != PositionAfterChar && !strings.HasPrefix(folded, "after") {
					warnings = append(warnings, fmt.Sprintf(
						"lorebook entry %d: unrecognized position %q coerced to %s", index, s, PositionAfterChar))
				}
			}
			entry["position"] = pos
		}
	}

	// Relocate v3-only entry fields into extensions so a v2-targeted
	// export cannot lose them.
	for _, field := range v3EntryOnlyFields {
		if v, present := entry[field]; present {
			if _, taken := ext[field]; !taken {
				ext[field] = v
			}
			delete(entry, field)
		}
	}

	return warnings
}

// coerceInt converts numbers and numeric strings to int. NaN and
// unparsable values report false.
func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(t), true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// coerceIntField coerces m[key] to an int in place, dropping the field
// when the value is unparsable.
func coerceIntField(m map[string]any, key string) {
	v, present := m[key]
	if !present {
		return
	}
	if n, ok := coerceInt(v); ok {
		m[key] = n
	} else {
		delete(m, key)
	}
}

// coerceBoolField coerces m[key] to a bool in place, accepting the
// string forms "true"/"false" and dropping any other non-boolean value.
func coerceBoolField(m map[string]any, key string) {
	v, present := m[key]
	if !present {
		return
	}
	switch t := v.(type) {
	case bool:
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			m[key] = true
		case "false":
			m[key] = false
		default:
			delete(m, key)
		}
	default:
		delete(m, key)
	}
}

// ensureExtensions guarantees m["extensions"] is an object and returns it.
func ensureExtensions(m map[string]any) map[string]any {
	if ext, ok := m["extensions"].(map[string]any); ok && ext != nil {
		return ext
	}
	ext := map[string]any{}
	m["extensions"] = ext
	return ext
}

// stringSlice filters v down to its string elements, returning an empty
// slice for non-arrays.
func stringSlice(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return []any{}
	}
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if s, ok := el.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
