package card

import "fmt"

// Severity classifies a validation finding. Only SeverityError blocks
// persistence or export; anything below is surfaced but non-blocking.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is a single validation result.
type Finding struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult is the outcome of validating a normalized card.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Findings []Finding `json:"errors"`
}

// Errors returns the messages of all blocking findings.
func (r *ValidationResult) Errors() []string {
	var out []string
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f.Message)
		}
	}
	return out
}

// Validate runs schema validation over a normalized card. It must run
// strictly after Normalize: normalization's lenient defaulting is what
// resolves most otherwise-invalid shapes, and validation is the single
// authoritative gate for what is acceptable to persist or export.
func Validate(c Card) *ValidationResult {
	r := &ValidationResult{Valid: true}
	add := func(sev Severity, format string, args ...any) {
		r.Findings = append(r.Findings, Finding{Message: fmt.Sprintf(format, args...), Severity: sev})
		if sev == SeverityError {
			r.Valid = false
		}
	}

	switch c.Spec {
	case SpecV2, SpecV3:
	case SpecV2Legacy:
		add(SeverityError, "card was not normalized: legacy v2 shape must be repaired before validation")
		return r
	default:
		add(SeverityError, "card spec could not be detected")
		return r
	}

	if c.Data == nil {
		add(SeverityError, "card has no data object")
		return r
	}

	required := v2RequiredStrings
	if c.Spec == SpecV3 {
		required = v3RequiredStrings
	}
	for _, field := range required {
		if _, ok := c.Data[field].(string); !ok {
			add(SeverityError, "required field %q is missing or not a string", field)
		}
	}
	if name, _ := c.Data["name"].(string); name == "" {
		add(SeverityWarning, "card name is empty")
	}

	if _, ok := c.Data["extensions"].(map[string]any); !ok {
		add(SeverityError, "extensions must be an object")
	}

	validateBookShape(c, add)
	validateAssetShape(c, add)

	if c.Spec == SpecV3 {
		for _, field := range []string{"creation_date", "modification_date"} {
			if v, present := c.Data[field]; present {
				switch v.(type) {
				case int64, int, float64:
				default:
					add(SeverityError, "%s must be an integer epoch, got %T", field, v)
				}
			}
		}
	}

	// Lenient coercions recorded during normalization surface as
	// warnings so the caller can see them without blocking the import.
	for _, w := range c.Warnings {
		add(SeverityWarning, "%s", w)
	}

	return r
}

func validateBookShape(c Card, add func(Severity, string, ...any)) {
	raw, present := c.Data["character_book"]
	if !present {
		return
	}
	book, ok := raw.(map[string]any)
	if !ok {
		add(SeverityError, "character_book must be an object")
		return
	}
	entries, ok := book["entries"].([]any)
	if !ok {
		add(SeverityError, "character_book.entries must be an array")
		return
	}
	for i, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			add(SeverityError, "lorebook entry %d is not an object", i)
			continue
		}
		if _, ok := entry["keys"].([]any); !ok {
			add(SeverityError, "lorebook entry %d: keys must be an array", i)
		}
		if _, ok := entry["content"].(string); !ok {
			add(SeverityError, "lorebook entry %d: content must be a string", i)
		}
		if pos, present := entry["position"]; present {
			if s, ok := pos.(string); !ok || (s != PositionBeforeChar && s != PositionAfterChar) {
				add(SeverityError, "lorebook entry %d: position %v is not canonical", i, pos)
			}
		}
	}
}

func validateAssetShape(c Card, add func(Severity, string, ...any)) {
	raw, present := c.Data["assets"]
	if !present {
		return
	}
	arr, ok := raw.([]any)
	if !ok || len(arr) == 0 {
		add(SeverityError, "assets must be a non-empty array or absent")
		return
	}
	for i, el := range arr {
		asset, ok := el.(map[string]any)
		if !ok {
			add(SeverityError, "asset %d is not an object", i)
			continue
		}
		typ, _ := asset["type"].(string)
		if !ValidAssetType(typ) {
			add(SeverityError, "asset %d: type %q is outside the allowed set", i, typ)
		}
		for _, field := range []string{"uri", "name", "ext"} {
			if _, ok := asset[field].(string); !ok {
				add(SeverityError, "asset %d: %s must be a string", i, field)
			}
		}
	}
}
