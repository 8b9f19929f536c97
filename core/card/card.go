// Package card defines the canonical in-memory representation of a
// character card and the spec detection, normalization, and validation
// passes over it.
//
// Card data is held as open maps rather than fixed structs: the v2/v3
// schemas both carry open extensions objects and real-world cards are
// full of vendor fields that must survive a round-trip untouched.
package card

import "fmt"

// Spec identifies which card schema variant an input matched.
// Every parsed JSON object maps to exactly one variant, or to SpecUnknown.
type Spec int

const (
	// SpecUnknown means no variant matched.
	SpecUnknown Spec = iota
	// SpecV2Legacy is a flat v2 object with root-level card fields and no spec marker.
	SpecV2Legacy
	// SpecV2 is a wrapped v2 object: {spec, spec_version, data}.
	SpecV2
	// SpecV3 is a v3 object: {spec: "chara_card_v3", spec_version, data}.
	SpecV3
)

// Canonical spec literals and versions.
const (
	SpecLiteralV2 = "chara_card_v2"
	SpecLiteralV3 = "chara_card_v3"
	VersionV2     = "2.0"
	VersionV3     = "3.0"
)

func (s Spec) String() string {
	switch s {
	case SpecV2Legacy:
		return "v2-legacy"
	case SpecV2:
		return "v2"
	case SpecV3:
		return "v3"
	case SpecUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Spec(%d)", int(s))
	}
}

// Literal returns the canonical spec literal for the major version.
func (s Spec) Literal() string {
	switch s {
	case SpecV3:
		return SpecLiteralV3
	case SpecV2, SpecV2Legacy:
		return SpecLiteralV2
	default:
		return ""
	}
}

// Version returns the canonical spec_version literal for the major version.
func (s Spec) Version() string {
	switch s {
	case SpecV3:
		return VersionV3
	case SpecV2, SpecV2Legacy:
		return VersionV2
	default:
		return ""
	}
}

// Format identifies the container a card arrived in or is exported to.
// It is provenance metadata only and is never persisted inside card data.
type Format int

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatPNG
	FormatCharx
	FormatVoxta
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatPNG:
		return "png"
	case FormatCharx:
		return "charx"
	case FormatVoxta:
		return "voxta"
	default:
		return "unknown"
	}
}

// Card is the canonical normalized representation. Data is the effective
// inner data object (the contents of the wrapper's "data" key). After
// Normalize, Spec is SpecV2 or SpecV3: legacy flat cards are repaired
// into the wrapped shape.
type Card struct {
	Spec Spec
	Data map[string]any

	// Warnings records lenient coercions applied during normalization
	// that a caller may want to surface (for example the after_char
	// position fallback). They never block an operation by themselves.
	Warnings []string
}

// Document reconstructs the full wrapped JSON document with canonical
// spec and spec_version literals.
func (c Card) Document() map[string]any {
	return map[string]any{
		"spec":         c.Spec.Literal(),
		"spec_version": c.Spec.Version(),
		"data":         c.Data,
	}
}

// Name returns the card's name field, or "" when absent.
func (c Card) Name() string {
	s, _ := c.Data["name"].(string)
	return s
}

// Extensions returns the card's extensions map, creating it if needed.
func (c Card) Extensions() map[string]any {
	if ext, ok := c.Data["extensions"].(map[string]any); ok {
		return ext
	}
	ext := map[string]any{}
	c.Data["extensions"] = ext
	return ext
}

// AssetTypes is the closed set of v3 asset descriptor types. Vendor
// extension types use an "x_" prefix and are also accepted.
var AssetTypes = map[string]bool{
	"icon":       true,
	"background": true,
	"emotion":    true,
	"user_icon":  true,
	"sound":      true,
	"video":      true,
	"custom":     true,
}

// ValidAssetType reports whether t is in the closed asset-type set or is
// a vendor extension type.
func ValidAssetType(t string) bool {
	if AssetTypes[t] {
		return true
	}
	return len(t) > 2 && t[:2] == "x_"
}

// Lorebook entry positions.
const (
	PositionBeforeChar = "before_char"
	PositionAfterChar  = "after_char"
)

// v2RequiredStrings are the v2 fields that must be present as strings
// after normalization.
var v2RequiredStrings = []string{
	"name", "description", "personality", "scenario", "first_mes", "mes_example",
}

// v3RequiredStrings are the v3 fields that must be present as strings
// after normalization.
var v3RequiredStrings = []string{
	"name", "description", "personality", "scenario", "first_mes", "mes_example",
	"creator", "creator_notes", "character_version",
	"system_prompt", "post_history_instructions",
}

// v3EntryOnlyFields are lorebook entry fields defined by v3 (or vendor
// tools) that are relocated into the entry's extensions bag so a
// v2-targeted export does not lose them.
var v3EntryOnlyFields = []string{
	"probability", "depth", "use_regex", "scan_frequency",
	"role", "group", "automation_id", "selective_logic", "selectiveLogic",
}

// v3NullableOptionals are v3 fields dropped entirely when explicitly null.
var v3NullableOptionals = []string{
	"assets", "creator_notes_multilingual", "source", "creation_date", "modification_date",
}
