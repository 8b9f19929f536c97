// Package lorebook provides a typed view over a character's lorebook
// and a semantic, entry-level diff between two versions of it.
package lorebook

import (
	"sort"
	"strconv"
	"strings"

	"github.com/axAilotl/character-architect-sub002/core/card"
)

// Book is the typed view of a character_book object. Settings are
// everything except Entries.
type Book struct {
	Name              string
	Description       string
	ScanDepth         *int
	TokenBudget       *int
	RecursiveScanning *bool
	Entries           []Entry
	Extensions        map[string]any
}

// Entry is a single lorebook entry. Raw retains the full normalized
// object so structural comparison sees vendor fields too.
type Entry struct {
	ID             *int64
	Name           string
	Keys           []string
	Content        string
	Enabled        bool
	InsertionOrder int
	Position       string
	Extensions     map[string]any
	Raw            map[string]any
}

// IdentityKey returns the matching key used by the diff engine:
// the numeric id when present, otherwise name + sorted keys +
// insertion order. Matching is independent of array position.
func (e Entry) IdentityKey() string {
	if e.ID != nil {
		return "id:" + strconv.FormatInt(*e.ID, 10)
	}
	keys := append([]string(nil), e.Keys...)
	sort.Strings(keys)
	return e.Name + "|" + strings.Join(keys, ",") + "|" + strconv.Itoa(e.InsertionOrder)
}

// FromMap decodes a normalized character_book object into its typed
// view. A nil input decodes to nil.
func FromMap(m map[string]any) *Book {
	if m == nil {
		return nil
	}
	b := &Book{}
	b.Name, _ = m["name"].(string)
	b.Description, _ = m["description"].(string)
	if n, ok := intValue(m["scan_depth"]); ok {
		b.ScanDepth = &n
	}
	if n, ok := intValue(m["token_budget"]); ok {
		b.TokenBudget = &n
	}
	if v, ok := m["recursive_scanning"].(bool); ok {
		b.RecursiveScanning = &v
	}
	if ext, ok := m["extensions"].(map[string]any); ok {
		b.Extensions = ext
	}
	entries, _ := m["entries"].([]any)
	for _, rawEntry := range entries {
		em, ok := rawEntry.(map[string]any)
		if !ok {
			continue
		}
		b.Entries = append(b.Entries, entryFromMap(em))
	}
	return b
}

func entryFromMap(m map[string]any) Entry {
	e := Entry{Raw: m}
	if n, ok := intValue(m["id"]); ok {
		id := int64(n)
		e.ID = &id
	}
	e.Name, _ = m["name"].(string)
	e.Content, _ = m["content"].(string)
	e.Position, _ = m["position"].(string)
	if v, ok := m["enabled"].(bool); ok {
		e.Enabled = v
	} else {
		e.Enabled = true
	}
	if n, ok := intValue(m["insertion_order"]); ok {
		e.InsertionOrder = n
	} else {
		e.InsertionOrder = 100
	}
	if keys, ok := m["keys"].([]any); ok {
		for _, k := range keys {
			if s, ok := k.(string); ok {
				e.Keys = append(e.Keys, s)
			}
		}
	}
	if ext, ok := m["extensions"].(map[string]any); ok {
		e.Extensions = ext
	}
	return e
}

// FromCard extracts the typed book from a normalized card, or nil when
// the card has none.
func FromCard(c card.Card) *Book {
	if c.Data == nil {
		return nil
	}
	m, _ := c.Data["character_book"].(map[string]any)
	return FromMap(m)
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
