// Package charx reads and writes the CHARX container: a ZIP with a
// card.json manifest and an assets/<type>/<name>.<ext> folder. CHARX
// always carries the v3 schema; v2 input is upconverted before
// packaging.
package charx

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/axAilotl/character-architect-sub002/core/card"
	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
	"github.com/axAilotl/character-architect-sub002/internal/archive"
	"github.com/axAilotl/character-architect-sub002/internal/imaging"
)

// ManifestName is the manifest entry name inside the package.
const ManifestName = "card.json"

// assetPrefix is the folder holding binary assets.
const assetPrefix = "assets/"

// Asset is one binary file traveling inside the package.
type Asset struct {
	// Type is the v3 asset descriptor type (icon, background, ...).
	Type string
	// Name is the descriptor name, also used as the file stem.
	Name string
	// Ext is the file extension without dot.
	Ext  string
	Data []byte
}

// Path returns the asset's archive entry path.
func (a Asset) Path() string {
	return assetPrefix + a.Type + "/" + sanitizeName(a.Name) + "." + a.Ext
}

// URI returns the manifest reference for the asset.
func (a Asset) URI() string {
	return "embedded://" + a.Path()
}

// BuildOptions controls packaging.
type BuildOptions struct {
	// FallbackIcon is the card's original container image. When no
	// icon asset is present it is packaged as assets/icon/main.png so
	// the character keeps a portrait. Voxta packaging deliberately
	// does not do this.
	FallbackIcon []byte
	// Imaging post-processes asset bytes during build. The manifest's
	// logical card data is never touched by it.
	Imaging imaging.Options
}

// Parsed is the result of reading a package.
type Parsed struct {
	Card     card.Card
	Assets   []Asset
	Warnings []string
}

// Build packages a card and its assets. V2 cards are upconverted to v3
// first; the input card is not mutated.
func Build(c card.Card, assets []Asset, opts BuildOptions) ([]byte, error) {
	v3, err := c.ToV3()
	if err != nil {
		return nil, cerrors.NewUnsupported("CHARX build", err.Error())
	}

	packaged := make([]Asset, 0, len(assets)+1)
	hasIcon := false
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
		if a.Type == "icon" {
			hasIcon = true
		}
		packaged = append(packaged, a)
	}
	if !hasIcon && len(opts.FallbackIcon) > 0 {
		packaged = append(packaged, Asset{
			Type: "icon",
			Name: "main",
			Ext:  "png",
			Data: opts.FallbackIcon,
		})
	}

	doc := v3.Document()
	data := make(map[string]any, len(v3.Data))
	for k, v := range v3.Data {
		data[k] = v
	}
	doc["data"] = data
	existing, _ := data["assets"].([]any)
	descriptors := make([]any, 0, len(existing)+len(packaged))
	// Descriptors pointing outside the package, external URLs mostly,
	// stay in the manifest. Embedded and blob references are replaced
	// by the packaged set below.
	for _, item := range existing {
		desc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		uri, _ := desc["uri"].(string)
		if uri == "" || strings.HasPrefix(uri, "embedded://") || strings.HasPrefix(uri, "blob://") {
			continue
		}
		descriptors = append(descriptors, desc)
	}
	for _, a := range packaged {
		descriptors = append(descriptors, map[string]any{
			"type": a.Type,
			"uri":  a.URI(),
			"name": a.Name,
			"ext":  a.Ext,
		})
	}
	if len(descriptors) > 0 {
		data["assets"] = descriptors
	} else {
		delete(data, "assets")
	}

	manifest, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	w := archive.NewWriter()
	if err := w.AddFile(ManifestName, manifest); err != nil {
		return nil, err
	}
	for _, a := range packaged {
		if err := w.AddFileStore(a.Path(), a.Data); err != nil {
			return nil, err
		}
	}
	return w.Close()
}

// Parse reads a package. A ZIP without a card.json manifest reports
// NotThisFormat so the caller can try the Voxta layout instead.
func Parse(data []byte, limits archive.Limits) (*Parsed, error) {
	r, err := archive.NewReader(data, limits)
	if err != nil {
		return nil, err
	}

	manifest, err := r.ReadFile(ManifestName)
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			return nil, cerrors.NewNotThisFormat("CHARX", "no card.json manifest")
		}
		return nil, err
	}

	var root map[string]any
	if err := json.Unmarshal(manifest, &root); err != nil {
		return nil, cerrors.NewParse("CHARX", "card.json is not valid JSON: "+err.Error())
	}
	spec := card.Detect(root)
	if spec == card.SpecUnknown {
		return nil, cerrors.NewParse("CHARX", "card.json is not a recognizable character card")
	}
	c := card.Normalize(root, spec)

	out := &Parsed{Card: c}
	for _, name := range r.Entries() {
		if name == ManifestName || !strings.HasPrefix(name, assetPrefix) {
			continue
		}
		rel := strings.TrimPrefix(name, assetPrefix)
		slash := strings.Index(rel, "/")
		if slash <= 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("asset entry %s has no type folder, skipped", name))
			continue
		}
		typ := rel[:slash]
		base := path.Base(rel[slash+1:])
		ext := strings.TrimPrefix(path.Ext(base), ".")
		stem := strings.TrimSuffix(base, path.Ext(base))
		if stem == "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("asset entry %s has no file name, skipped", name))
			continue
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

// sanitizeName makes a descriptor name safe as an archive path
// component.
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
