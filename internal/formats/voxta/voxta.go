// Package voxta reads and writes the Voxta (.voxpkg) container: a ZIP
// with a camelCase character.json manifest and an Assets/<Category>/
// folder tree. The format is lossy; only the stable core of
// the card survives a round trip. Unlike CHARX, packaging never
// synthesizes an icon that was not in the source.
package voxta

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/axAilotl/character-architect-sub002/core/card"
	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
	"github.com/axAilotl/character-architect-sub002/core/macro"
	"github.com/axAilotl/character-architect-sub002/internal/archive"
	"github.com/axAilotl/character-architect-sub002/internal/imaging"
)

// ManifestName is the manifest entry name inside the package.
const ManifestName = "character.json"

// assetPrefix is the folder tree holding binary assets.
const assetPrefix = "Assets/"

// ExtensionKey is the extensions bag entry marking a card as
// Voxta-origin. Exporters use it to decide macro dialect handling.
const ExtensionKey = "voxta"

// fieldToManifest maps canonical v3 field names to their camelCase
// manifest spellings. Only the stable core travels; lorebook and
// arbitrary extensions are dropped by the format.
var fieldToManifest = map[string]string{
	"name":                      "name",
	"description":               "description",
	"personality":               "personality",
	"scenario":                  "scenario",
	"first_mes":                 "firstMessage",
	"mes_example":               "messageExamples",
	"system_prompt":             "systemPrompt",
	"post_history_instructions": "postHistoryInstructions",
	"creator_notes":             "creatorNotes",
	"alternate_greetings":       "alternateGreetings",
	"group_only_greetings":      "groupOnlyGreetings",
	"tags":                      "tags",
	"creator":                   "creator",
	"character_version":         "characterVersion",
}

// categoryForType maps v3 asset types to Voxta asset folders.
var categoryForType = map[string]string{
	"icon":       "Avatars",
	"background": "Backgrounds",
	"emotion":    "Emotions",
	"user_icon":  "UserIcons",
	"sound":      "Sounds",
	"video":      "Videos",
}

// typeForCategory is the reverse mapping used on parse.
var typeForCategory = func() map[string]string {
	m := make(map[string]string, len(categoryForType))
	for t, c := range categoryForType {
		m[c] = t
	}
	return m
}()

// Asset is one binary file traveling inside the package.
type Asset struct {
	Type string
	Name string
	Ext  string
	Data []byte
}

// Path returns the asset's archive entry path.
func (a Asset) Path() string {
	category, ok := categoryForType[a.Type]
	if !ok {
		category = "Other"
	}
	return assetPrefix + category + "/" + sanitizeName(a.Name) + "." + a.Ext
}

// BuildOptions controls packaging.
type BuildOptions struct {
	// Imaging post-processes asset bytes during build.
	Imaging imaging.Options
}

// Parsed is the result of reading a package.
type Parsed struct {
	Card     card.Card
	ID       string
	Assets   []Asset
	Warnings []string
}

// Build packages a card as a .voxpkg. Macro placeholders in every
// string field are rewritten to the Voxta dialect. No icon is ever
// synthesized; only the assets handed in are packaged.
func Build(c card.Card, assets []Asset, opts BuildOptions) ([]byte, error) {
	v3, err := c.ToV3()
	if err != nil {
		return nil, cerrors.NewUnsupported("Voxta build", err.Error())
	}

	manifest := map[string]any{"id": cardID(v3)}
	for field, key := range fieldToManifest {
		v, ok := v3.Data[field]
		if !ok {
			continue
		}
		manifest[key] = macro.Convert(v, macro.ToVoxta)
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	w := archive.NewWriter()
	if err := w.AddFile(ManifestName, payload); err != nil {
		return nil, err
	}
	for _, a := range assets {
		if a.Type == "" || a.Name == "" {
			continue
		}
		if a.Ext == "" {
			a.Ext = "bin"
		}
		data, ext, perr := imaging.Process(a.Ext, a.Data, opts.Imaging)
		if perr != nil {
			return nil, perr
		}
		a.Data, a.Ext = data, ext
		if err := w.AddFileStore(a.Path(), a.Data); err != nil {
			return nil, err
		}
	}
	return w.Close()
}

// Parse reads a .voxpkg. Macro placeholders are left in the Voxta
// dialect; the card is tagged Voxta-origin so exporters know to
// convert. A ZIP without a character.json manifest reports
// NotThisFormat so the caller can try the CHARX layout instead.
func Parse(data []byte, limits archive.Limits) (*Parsed, error) {
	r, err := archive.NewReader(data, limits)
	if err != nil {
		return nil, err
	}

	payload, err := r.ReadFile(ManifestName)
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			return nil, cerrors.NewNotThisFormat("Voxta", "no character.json manifest")
		}
		return nil, err
	}

	var manifest map[string]any
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return nil, cerrors.NewParse("Voxta", "character.json is not valid JSON: "+err.Error())
	}
	if _, ok := manifest["name"].(string); !ok {
		return nil, cerrors.NewParse("Voxta", "character.json has no name field")
	}

	fields := map[string]any{}
	for field, key := range fieldToManifest {
		if v, ok := manifest[key]; ok {
			fields[field] = v
		}
	}
	id, _ := manifest["id"].(string)
	fields["extensions"] = map[string]any{
		ExtensionKey: map[string]any{"origin": true, "id": id},
	}
	root := map[string]any{
		"spec":         card.SpecV3.Literal(),
		"spec_version": card.SpecV3.Version(),
		"data":         fields,
	}
	out := &Parsed{Card: card.Normalize(root, card.SpecV3), ID: id}

	for _, name := range r.Entries() {
		if name == ManifestName || !strings.HasPrefix(name, assetPrefix) {
			continue
		}
		rel := strings.TrimPrefix(name, assetPrefix)
		slash := strings.Index(rel, "/")
		if slash <= 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("asset entry %s has no category folder, skipped", name))
			continue
		}
		category := rel[:slash]
		base := path.Base(rel[slash+1:])
		ext := strings.TrimPrefix(path.Ext(base), ".")
		stem := strings.TrimSuffix(base, path.Ext(base))
		if stem == "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("asset entry %s has no file name, skipped", name))
			continue
		}
		typ, ok := typeForCategory[category]
		if !ok {
			typ = "custom"
		}
		content, rerr := r.ReadFile(name)
		if rerr != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("asset entry %s unreadable: %v", name, rerr))
			continue
		}
		out.Assets = append(out.Assets, Asset{Type: typ, Name: stem, Ext: ext, Data: content})
	}
	return out, nil
}

// IsOrigin reports whether the card came from a Voxta package.
func IsOrigin(c card.Card) bool {
	ext, ok := c.Data["extensions"].(map[string]any)
	if !ok {
		return false
	}
	tag, ok := ext[ExtensionKey].(map[string]any)
	if !ok {
		return false
	}
	origin, _ := tag["origin"].(bool)
	return origin
}

// cardID returns the package id for a card: a previously recorded
// Voxta id when present, otherwise a fresh UUID.
func cardID(c card.Card) string {
	if ext, ok := c.Data["extensions"].(map[string]any); ok {
		if tag, ok := ext[ExtensionKey].(map[string]any); ok {
			if id, _ := tag["id"].(string); id != "" {
				return id
			}
		}
	}
	return uuid.NewString()
}

func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "asset"
	}
	return name
}
