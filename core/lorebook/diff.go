package lorebook

import (
	"reflect"
	"sort"
)

// EntryState classifies an entry's fate between two book versions.
type EntryState string

const (
	StateAdded     EntryState = "added"
	StateRemoved   EntryState = "removed"
	StateModified  EntryState = "modified"
	StateUnchanged EntryState = "unchanged"
)

// EntryDelta describes one entry's change. Moved is set when the
// entry's positional index changed, independently of whether its
// content did.
type EntryDelta struct {
	Key      string     `json:"key"`
	State    EntryState `json:"state"`
	Moved    bool       `json:"moved,omitempty"`
	OldIndex int        `json:"old_index"` // -1 when added
	NewIndex int        `json:"new_index"` // -1 when removed
	Fields   []string   `json:"fields,omitempty"`
	Entry    *Entry     `json:"-"`
}

// SettingsChange records one changed settings field.
type SettingsChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// DiffResult is the semantic diff between two lorebooks.
type DiffResult struct {
	Added     []EntryDelta `json:"added"`
	Removed   []EntryDelta `json:"removed"`
	Modified  []EntryDelta `json:"modified"`
	Unchanged []EntryDelta `json:"unchanged"`

	SettingsChanged bool                      `json:"settings_changed"`
	SettingsDelta   map[string]SettingsChange `json:"settings_delta,omitempty"`
}

// Counts returns the bucket sizes in added/removed/modified/unchanged order.
func (r *DiffResult) Counts() (added, removed, modified, unchanged int) {
	return len(r.Added), len(r.Removed), len(r.Modified), len(r.Unchanged)
}

// Diff computes the entry-level diff between two versions of a
// character's lorebook. Entry identity uses Entry.IdentityKey, so
// reordering alone never reports entries as added or removed. Either
// side may be nil: both nil yields an empty diff; one nil side reports
// every entry on the other side as added or removed in bulk with no
// per-field comparison.
func Diff(original, current *Book) *DiffResult {
	r := &DiffResult{}
	if original == nil && current == nil {
		return r
	}
	if original == nil {
		for i := range current.Entries {
			e := &current.Entries[i]
			r.Added = append(r.Added, EntryDelta{Key: e.IdentityKey(), State: StateAdded, OldIndex: -1, NewIndex: i, Entry: e})
		}
		r.SettingsChanged = true
		return r
	}
	if current == nil {
		for i := range original.Entries {
			e := &original.Entries[i]
			r.Removed = append(r.Removed, EntryDelta{Key: e.IdentityKey(), State: StateRemoved, OldIndex: i, NewIndex: -1, Entry: e})
		}
		r.SettingsChanged = true
		return r
	}

	origByKey := indexEntries(original.Entries)
	currByKey := indexEntries(current.Entries)

	for i := range current.Entries {
		e := &current.Entries[i]
		key := e.IdentityKey()
		matches := origByKey[key]
		if len(matches) == 0 {
			r.Added = append(r.Added, EntryDelta{Key: key, State: StateAdded, OldIndex: -1, NewIndex: i, Entry: e})
			continue
		}
		// Duplicate identity keys pair up in order.
		oldIdx := matches[0]
		origByKey[key] = matches[1:]
		old := &original.Entries[oldIdx]

		delta := EntryDelta{Key: key, OldIndex: oldIdx, NewIndex: i, Moved: oldIdx != i, Entry: e}
		if fields := changedFields(old.Raw, e.Raw); len(fields) > 0 {
			delta.State = StateModified
			delta.Fields = fields
			r.Modified = append(r.Modified, delta)
		} else {
			delta.State = StateUnchanged
			r.Unchanged = append(r.Unchanged, delta)
		}
	}

	for i := range original.Entries {
		e := &original.Entries[i]
		key := e.IdentityKey()
		if len(currByKey[key]) == 0 {
			r.Removed = append(r.Removed, EntryDelta{Key: key, State: StateRemoved, OldIndex: i, NewIndex: -1, Entry: e})
			continue
		}
		currByKey[key] = currByKey[key][1:]
	}

	r.SettingsDelta = settingsDelta(original, current)
	r.SettingsChanged = len(r.SettingsDelta) > 0
	return r
}

func indexEntries(entries []Entry) map[string][]int {
	byKey := make(map[string][]int, len(entries))
	for i := range entries {
		key := entries[i].IdentityKey()
		byKey[key] = append(byKey[key], i)
	}
	return byKey
}

// changedFields returns the sorted union of keys whose values differ
// between two raw entry objects.
func changedFields(a, b map[string]any) []string {
	seen := map[string]bool{}
	var fields []string
	for k := range a {
		seen[k] = true
		if !reflect.DeepEqual(a[k], b[k]) {
			fields = append(fields, k)
		}
	}
	for k := range b {
		if seen[k] {
			continue
		}
		if !reflect.DeepEqual(a[k], b[k]) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

// settingsDelta diffs everything except entries.
func settingsDelta(a, b *Book) map[string]SettingsChange {
	delta := map[string]SettingsChange{}
	if a.Name != b.Name {
		delta["name"] = SettingsChange{Old: a.Name, New: b.Name}
	}
	if a.Description != b.Description {
		delta["description"] = SettingsChange{Old: a.Description, New: b.Description}
	}
	if !intPtrEqual(a.ScanDepth, b.ScanDepth) {
		delta["scan_depth"] = SettingsChange{Old: ptrValue(a.ScanDepth), New: ptrValue(b.ScanDepth)}
	}
	if !intPtrEqual(a.TokenBudget, b.TokenBudget) {
		delta["token_budget"] = SettingsChange{Old: ptrValue(a.TokenBudget), New: ptrValue(b.TokenBudget)}
	}
	if !boolPtrEqual(a.RecursiveScanning, b.RecursiveScanning) {
		delta["recursive_scanning"] = SettingsChange{Old: ptrValueBool(a.RecursiveScanning), New: ptrValueBool(b.RecursiveScanning)}
	}
	if !reflect.DeepEqual(normalizedExt(a.Extensions), normalizedExt(b.Extensions)) {
		delta["extensions"] = SettingsChange{Old: a.Extensions, New: b.Extensions}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func normalizedExt(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrValueBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}
