package card

import "fmt"

// Normalize produces the canonical Card for a parsed JSON document and
// its detected spec. It is a pure transform: the caller's map is deep
// copied before any repair, so normalizing the same parsed object twice
// for different purposes can never alias.
//
// Normalize never fails. Unrecoverable or ambiguous values are dropped
// to the safest default; this lenient-for-compatibility policy is what
// lets vendor-malformed cards import at all. Validation is the
// authoritative gate afterwards.
func Normalize(root map[string]any, spec Spec) Card {
	if spec == SpecUnknown || root == nil {
		return Card{Spec: SpecUnknown}
	}

	work := deepCopyMap(root)
	data := repairWrapper(work, spec)

	c := Card{Data: data}
	switch spec {
	case SpecV3:
		c.Spec = SpecV3
		c.Warnings = append(c.Warnings, normalizeBook(data)...)
		normalizeV3(data)
	case SpecV2, SpecV2Legacy:
		c.Spec = SpecV2
		c.Warnings = append(c.Warnings, normalizeBook(data)...)
		normalizeV2(data)
	}
	ensureExtensions(data)
	return c
}

// repairWrapper returns the effective inner data object. Hybrid v2
// cards that carry both a data sub-object and duplicate root-level card
// fields keep data and discard the duplicates; legacy flat cards get
// their root fields moved into a fresh data object.
func repairWrapper(root map[string]any, spec Spec) map[string]any {
	if data, ok := root["data"].(map[string]any); ok {
		return data
	}
	// No data sub-object: the card fields live at the root. Move them
	// into a fresh data object, leaving wrapper bookkeeping behind.
	data := map[string]any{}
	for k, v := range root {
		switch k {
		case "spec", "spec_version":
		default:
			data[k] = v
		}
	}
	return data
}

// normalizeV3 applies v3 field hygiene to the inner data object.
func normalizeV3(data map[string]any) {
	for _, field := range v3NullableOptionals {
		if v, present := data[field]; present && v == nil {
			delete(data, field)
		}
	}

	for _, field := range v3RequiredStrings {
		if _, ok := data[field].(string); !ok {
			data[field] = ""
		}
	}

	for _, field := range []string{"tags", "alternate_greetings", "group_only_greetings"} {
		data[field] = stringSlice(data[field])
	}

	if v, present := data["source"]; present {
		switch t := v.(type) {
		case string:
			data["source"] = []any{t}
		case []any:
			data["source"] = stringSlice(t)
		default:
			delete(data, "source")
		}
	}

	if v, present := data["nickname"]; present {
		if _, ok := v.(string); !ok {
			delete(data, "nickname")
		}
	}

	if v, present := data["creator_notes_multilingual"]; present {
		if _, ok := v.(map[string]any); !ok {
			delete(data, "creator_notes_multilingual")
		}
	}

	normalizeAssets(data)

	for _, field := range []string{"creation_date", "modification_date"} {
		if v, present := data[field]; present {
			if ts, ok := NormalizeTimestamp(v); ok {
				data[field] = ts
			} else {
				delete(data, field)
			}
		}
	}
}

// normalizeAssets filters the v3 assets array down to well-formed
// descriptors. A list with zero valid entries is omitted entirely:
// canonical absence, matching the rest of the schema.
func normalizeAssets(data map[string]any) {
	raw, present := data["assets"]
	if !present {
		return
	}
	arr, ok := raw.([]any)
	if !ok {
		delete(data, "assets")
		return
	}
	kept := make([]any, 0, len(arr))
	for _, el := range arr {
		asset, ok := el.(map[string]any)
		if !ok {
			continue
		}
		typ, ok := asset["type"].(string)
		if !ok || !ValidAssetType(typ) {
			continue
		}
		if _, ok := asset["uri"].(string); !ok {
			continue
		}
		if _, ok := asset["name"].(string); !ok {
			continue
		}
		if _, ok := asset["ext"].(string); !ok {
			continue
		}
		kept = append(kept, asset)
	}
	if len(kept) == 0 {
		delete(data, "assets")
		return
	}
	data["assets"] = kept
}

// normalizeV2 applies v2 field hygiene to the inner data object.
func normalizeV2(data map[string]any) {
	for _, field := range v2RequiredStrings {
		if _, ok := data[field].(string); !ok {
			data[field] = ""
		}
	}
	for _, field := range []string{"tags", "alternate_greetings"} {
		data[field] = stringSlice(data[field])
	}
}

// ToV3 upconverts a v2 card to v3, defaulting the v3-only required
// fields. V3 cards pass through unchanged; the receiver is never
// mutated.
func (c Card) ToV3() (Card, error) {
	switch c.Spec {
	case SpecV3:
		return c, nil
	case SpecV2, SpecV2Legacy:
		data := deepCopyMap(c.Data)
		out := Card{Spec: SpecV3, Data: data, Warnings: append([]string(nil), c.Warnings...)}
		normalizeV3(data)
		return out, nil
	default:
		return Card{}, fmt.Errorf("cannot upconvert %s card to v3", c.Spec)
	}
}

// v3OnlyTopLevel are the data fields v2 has no slot for. On
// downconversion they relocate into the extensions bag instead of
// being dropped.
var v3OnlyTopLevel = []string{
	"assets", "nanoid", "creator_notes_multilingual", "source",
	"group_only_greetings", "creation_date", "modification_date",
}

// ToV2 downconverts a v3 card to v2. Fields v2 cannot carry move into
// extensions under a "v3" key so nothing is silently lost. V2 cards
// pass through unchanged; the receiver is never mutated.
func (c Card) ToV2() (Card, error) {
	switch c.Spec {
	case SpecV2:
		return c, nil
	case SpecV2Legacy:
		data := deepCopyMap(c.Data)
		out := Card{Spec: SpecV2, Data: data, Warnings: append([]string(nil), c.Warnings...)}
		normalizeV2(data)
		return out, nil
	case SpecV3:
		data := deepCopyMap(c.Data)
		relocated := map[string]any{}
		for _, field := range v3OnlyTopLevel {
			if v, ok := data[field]; ok {
				relocated[field] = v
				delete(data, field)
			}
		}
		out := Card{Spec: SpecV2, Data: data, Warnings: append([]string(nil), c.Warnings...)}
		if len(relocated) > 0 {
			out.Extensions()["v3"] = relocated
		}
		normalizeV2(data)
		return out, nil
	default:
		return Card{}, fmt.Errorf("cannot downconvert %s card to v2", c.Spec)
	}
}

// deepCopyMap makes a full copy of a parsed JSON object tree.
func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = deepCopyValue(el)
		}
		return out
	default:
		return t
	}
}
