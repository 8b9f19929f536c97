package card

import "github.com/tidwall/gjson"

// Detect classifies a parsed JSON object as one of the card spec
// variants, or SpecUnknown. Decision order:
//
//  1. spec == "chara_card_v3" with a data object -> SpecV3
//  2. spec == "chara_card_v2" -> SpecV2 (root-level duplicates ignored)
//  3. a top-level name string and no spec field -> SpecV2Legacy
//  4. otherwise -> SpecUnknown
//
// Detect is a pure function over the parsed value.
func Detect(v map[string]any) Spec {
	if v == nil {
		return SpecUnknown
	}
	if raw, present := v["spec"]; present {
		spec, ok := raw.(string)
		if !ok {
			return SpecUnknown
		}
		switch spec {
		case SpecLiteralV3:
			if _, ok := v["data"].(map[string]any); ok {
				return SpecV3
			}
			return SpecUnknown
		case SpecLiteralV2:
			return SpecV2
		default:
			return SpecUnknown
		}
	}
	if _, ok := v["name"].(string); ok {
		return SpecV2Legacy
	}
	return SpecUnknown
}

// DetectBytes classifies raw JSON bytes without a full parse. It probes
// the three deciding paths with gjson and applies the same decision
// order as Detect.
func DetectBytes(raw []byte) Spec {
	if !gjson.ValidBytes(raw) {
		return SpecUnknown
	}
	spec := gjson.GetBytes(raw, "spec")
	if spec.Exists() {
		if spec.Type != gjson.String {
			return SpecUnknown
		}
		switch spec.Str {
		case SpecLiteralV3:
			if gjson.GetBytes(raw, "data").IsObject() {
				return SpecV3
			}
			return SpecUnknown
		case SpecLiteralV2:
			return SpecV2
		default:
			return SpecUnknown
		}
	}
	if gjson.GetBytes(raw, "name").Type == gjson.String {
		return SpecV2Legacy
	}
	return SpecUnknown
}
