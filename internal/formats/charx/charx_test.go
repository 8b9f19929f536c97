package charx

import (
	"bytes"
	"testing"

	"github.com/axAilotl/character-architect-sub002/core/card"
	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
	"github.com/axAilotl/character-architect-sub002/internal/archive"
)

func v3Card(t *testing.T) card.Card {
	t.Helper()
	root := map[string]any{
		"spec":         "chara_card_v3",
		"spec_version": "3.0",
		"data": map[string]any{
			"name":        "Mira",
			"description": "A cartographer.",
			"personality": "curious",
			"scenario":    "a library",
			"first_mes":   "Hello.",
			"mes_example": "",
		},
	}
	return card.Normalize(root, card.SpecV3)
}

func TestBuildParse_RoundTrip(t *testing.T) {
	assets := []Asset{
		{Type: "icon", Name: "main", Ext: "png", Data: []byte("png-bytes")},
		{Type: "emotion", Name: "happy", Ext: "webp", Data: []byte("webp-bytes")},
	}
	pkg, err := Build(v3Card(t), assets, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Card.Spec != card.SpecV3 {
		t.Fatalf("spec = %v, want v3", parsed.Card.Spec)
	}
	if got := parsed.Card.Name(); got != "Mira" {
		t.Fatalf("name = %q", got)
	}
	if len(parsed.Assets) != 2 {
		t.Fatalf("got %d assets, want 2", len(parsed.Assets))
	}
	byName := map[string]Asset{}
	for _, a := range parsed.Assets {
		byName[a.Name] = a
	}
	icon := byName["main"]
	if icon.Type != "icon" || icon.Ext != "png" || !bytes.Equal(icon.Data, []byte("png-bytes")) {
		t.Fatalf("icon asset mangled: %+v", icon)
	}
	if byName["happy"].Type != "emotion" {
		t.Fatalf("emotion asset mangled: %+v", byName["happy"])
	}
}

func TestBuild_ManifestDescriptors(t *testing.T) {
	pkg, err := Build(v3Card(t), []Asset{
		{Type: "icon", Name: "main", Ext: "png", Data: []byte("x")},
	}, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	descriptors, ok := parsed.Card.Data["assets"].([]any)
	if !ok || len(descriptors) != 1 {
		t.Fatalf("assets field = %#v", parsed.Card.Data["assets"])
	}
	d := descriptors[0].(map[string]any)
	if d["uri"] != "embedded://assets/icon/main.png" {
		t.Fatalf("uri = %v", d["uri"])
	}
}

func TestBuild_KeepsExternalDescriptors(t *testing.T) {
	c := v3Card(t)
	c.Data["assets"] = []any{
		map[string]any{"type": "background", "name": "castle", "ext": "png",
			"uri": "https://example.com/castle.png"},
		map[string]any{"type": "icon", "name": "main", "ext": "png",
			"uri": "embedded://assets/icon/main.png"},
	}
	pkg, err := Build(c, []Asset{
		{Type: "icon", Name: "main", Ext: "png", Data: []byte("x")},
	}, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	descriptors, ok := parsed.Card.Data["assets"].([]any)
	if !ok || len(descriptors) != 2 {
		t.Fatalf("assets field = %#v", parsed.Card.Data["assets"])
	}
	uris := map[string]bool{}
	for _, item := range descriptors {
		uris[item.(map[string]any)["uri"].(string)] = true
	}
	if !uris["https://example.com/castle.png"] {
		t.Fatalf("external descriptor dropped, uris = %v", uris)
	}
	if !uris["embedded://assets/icon/main.png"] {
		t.Fatalf("packaged descriptor missing, uris = %v", uris)
	}
}

func TestBuild_ExternalOnlyAssetsSurvive(t *testing.T) {
	c := v3Card(t)
	c.Data["assets"] = []any{
		map[string]any{"type": "icon", "name": "portrait", "ext": "png",
			"uri": "https://example.com/portrait.png"},
	}
	pkg, err := Build(c, nil, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	descriptors, ok := parsed.Card.Data["assets"].([]any)
	if !ok || len(descriptors) != 1 {
		t.Fatalf("assets field = %#v", parsed.Card.Data["assets"])
	}
	d := descriptors[0].(map[string]any)
	if d["uri"] != "https://example.com/portrait.png" {
		t.Fatalf("uri = %v", d["uri"])
	}
}

func TestBuild_SynthesizesIcon(t *testing.T) {
	pkg, err := Build(v3Card(t), nil, BuildOptions{FallbackIcon: []byte("original-image")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := archive.NewReader(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	data, err := r.ReadFile("assets/icon/main.png")
	if err != nil {
		t.Fatalf("synthesized icon missing: %v", err)
	}
	if !bytes.Equal(data, []byte("original-image")) {
		t.Fatal("synthesized icon is not the source container image")
	}
}

func TestBuild_NoSynthesisWhenIconPresent(t *testing.T) {
	pkg, err := Build(v3Card(t), []Asset{
		{Type: "icon", Name: "portrait", Ext: "png", Data: []byte("real-icon")},
	}, BuildOptions{FallbackIcon: []byte("original-image")})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Assets) != 1 || parsed.Assets[0].Name != "portrait" {
		t.Fatalf("assets = %+v, want only the existing icon", parsed.Assets)
	}
}

func TestBuild_NoFallbackNoIcon(t *testing.T) {
	pkg, err := Build(v3Card(t), nil, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Assets) != 0 {
		t.Fatalf("assets = %+v, want none", parsed.Assets)
	}
	if _, ok := parsed.Card.Data["assets"]; ok {
		t.Fatal("manifest must not carry an assets field with nothing packaged")
	}
}

func TestBuild_UpconvertsV2(t *testing.T) {
	root := map[string]any{
		"spec":         "chara_card_v2",
		"spec_version": "2.0",
		"data": map[string]any{
			"name":        "Mira",
			"description": "d",
			"personality": "p",
			"scenario":    "s",
			"first_mes":   "f",
			"mes_example": "m",
		},
	}
	c := card.Normalize(root, card.SpecV2)
	pkg, err := Build(c, nil, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parsed, err := Parse(pkg, archive.DefaultLimits())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Card.Spec != card.SpecV3 {
		t.Fatalf("spec = %v, want v3 after upconvert", parsed.Card.Spec)
	}
}

func TestParse_MissingManifestIsFallback(t *testing.T) {
	w := archive.NewWriter()
	if err := w.AddFile("character.json", []byte(`{"name":"x"}`)); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	pkg, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = Parse(pkg, archive.DefaultLimits())
	if err == nil {
		t.Fatal("expected error for missing card.json")
	}
	if !cerrors.IsFormatFallback(err) {
		t.Fatalf("want fallback-eligible error, got %v", err)
	}
}

func TestAssetPath_Sanitized(t *testing.T) {
	a := Asset{Type: "icon", Name: "../../etc/passwd", Ext: "png"}
	if p := a.Path(); p != "assets/icon/.._.._etc_passwd.png" {
		t.Fatalf("path = %q", p)
	}
}
