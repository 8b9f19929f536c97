package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axAilotl/character-architect-sub002/core/card"
	"github.com/axAilotl/character-architect-sub002/core/cas"
	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
	"github.com/axAilotl/character-architect-sub002/internal/archive"
	"github.com/axAilotl/character-architect-sub002/internal/assets"
	"github.com/axAilotl/character-architect-sub002/internal/blobindex"
	"github.com/axAilotl/character-architect-sub002/internal/formats/pngcard"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Config{TempDir: t.TempDir()})
}

func newEngineWithPipeline(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := cas.NewStore(dir)
	require.NoError(t, err)
	index, err := blobindex.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })
	return New(Config{
		Pipeline: assets.NewPipeline(store, index),
		TempDir:  t.TempDir(),
	})
}

func v3JSON(t *testing.T) []byte {
	t.Helper()
	doc := map[string]any{
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
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func basePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImport_JSON(t *testing.T) {
	e := newEngine(t)
	res, err := e.Import(context.Background(), v3JSON(t), "mira.json")
	require.NoError(t, err)
	assert.Equal(t, card.FormatJSON, res.Format)
	assert.Equal(t, card.SpecV3, res.Card.Spec)
	assert.Equal(t, "Mira", res.Card.Name())
	assert.True(t, res.Validation.Valid)
}

func TestImport_Undetectable(t *testing.T) {
	e := newEngine(t)
	_, err := e.Import(context.Background(), []byte("\x00\x01garbage"), "x.bin")
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrUndetected)
}

func TestImport_RecoveredJSON(t *testing.T) {
	e := newEngine(t)
	blob := append([]byte("\xff\xd8\xffEXIF "), v3JSON(t)...)
	blob = append(blob, " trailing"...)
	res, err := e.Import(context.Background(), blob, "photo.jpg")
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, "Mira", res.Card.Name())
	assert.NotEmpty(t, res.Warnings)
}

func TestRoundTrip_JSON(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	out, err := e.Export(ctx, res.Card, card.FormatJSON, ExportOptions{})
	require.NoError(t, err)
	again, err := e.Import(ctx, out.Data, "mira.json")
	require.NoError(t, err)

	if !reflect.DeepEqual(res.Card.Data, again.Card.Data) {
		t.Fatalf("round trip drifted:\n%v\nvs\n%v", res.Card.Data, again.Card.Data)
	}
}

func TestRoundTrip_PNG(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	out, err := e.Export(ctx, res.Card, card.FormatPNG, ExportOptions{BaseImage: basePNG(t)})
	require.NoError(t, err)
	again, err := e.Import(ctx, out.Data, "mira.png")
	require.NoError(t, err)
	assert.Equal(t, card.FormatPNG, again.Format)
	assert.Equal(t, out.Data, again.OriginalImage)

	if !reflect.DeepEqual(res.Card.Data, again.Card.Data) {
		t.Fatalf("round trip drifted:\n%v\nvs\n%v", res.Card.Data, again.Card.Data)
	}
}

func TestExport_PNGWithoutBaseImage(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	out, err := e.Export(ctx, res.Card, card.FormatPNG, ExportOptions{})
	require.NoError(t, err)
	again, err := e.Import(ctx, out.Data, "mira.png")
	require.NoError(t, err)
	assert.Equal(t, "Mira", again.Card.Name())
}

func TestRoundTrip_CHARX(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	out, err := e.Export(ctx, res.Card, card.FormatCharx, ExportOptions{})
	require.NoError(t, err)
	again, err := e.Import(ctx, out.Data, "mira.charx")
	require.NoError(t, err)
	assert.Equal(t, card.FormatCharx, again.Format)

	if !reflect.DeepEqual(res.Card.Data, again.Card.Data) {
		t.Fatalf("round trip drifted:\n%v\nvs\n%v", res.Card.Data, again.Card.Data)
	}
}

func TestExport_IconPolicy(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)
	base := basePNG(t)

	charxPkg, err := e.Export(ctx, res.Card, card.FormatCharx, ExportOptions{BaseImage: base})
	require.NoError(t, err)
	r, err := archive.NewReader(charxPkg.Data, archive.DefaultLimits())
	require.NoError(t, err)
	icon, err := r.ReadFile("assets/icon/main.png")
	require.NoError(t, err, "CHARX export must synthesize an icon from the source image")
	assert.Equal(t, base, icon)

	voxPkg, err := e.Export(ctx, res.Card, card.FormatVoxta, ExportOptions{BaseImage: base})
	require.NoError(t, err)
	vr, err := archive.NewReader(voxPkg.Data, archive.DefaultLimits())
	require.NoError(t, err)
	for _, name := range vr.Entries() {
		assert.False(t, strings.HasPrefix(name, "Assets/"),
			"Voxta export must not synthesize assets, found %s", name)
	}
}

func TestVoxta_MacroPolicy(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	doc := map[string]any{
		"spec":         "chara_card_v3",
		"spec_version": "3.0",
		"data": map[string]any{
			"name": "Mira", "description": "{{char}} maps the world.",
			"personality": "p", "scenario": "s",
			"first_mes": "Hi {{user}}.", "mes_example": "",
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	res, err := e.Import(ctx, raw, "mira.json")
	require.NoError(t, err)

	voxPkg, err := e.Export(ctx, res.Card, card.FormatVoxta, ExportOptions{})
	require.NoError(t, err)

	back, err := e.Import(ctx, voxPkg.Data, "mira.voxpkg")
	require.NoError(t, err)
	assert.Equal(t, card.FormatVoxta, back.Format)
	assert.Equal(t, "Hi {{ user }}.", back.Card.Data["first_mes"],
		"import must keep the Voxta dialect")

	out, err := e.Export(ctx, back.Card, card.FormatJSON, ExportOptions{})
	require.NoError(t, err)
	final, err := e.Import(ctx, out.Data, "mira.json")
	require.NoError(t, err)
	assert.Equal(t, "Hi {{user}}.", final.Card.Data["first_mes"],
		"JSON export of a Voxta-origin card must restore the standard dialect")
	assert.Equal(t, "{{char}} maps the world.", final.Card.Data["description"])
}

func TestVoxta_StableCore(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	voxPkg, err := e.Export(ctx, res.Card, card.FormatVoxta, ExportOptions{})
	require.NoError(t, err)
	back, err := e.Import(ctx, voxPkg.Data, "mira.voxpkg")
	require.NoError(t, err)

	for _, field := range []string{"name", "description", "personality", "scenario", "first_mes", "mes_example"} {
		assert.Equal(t, res.Card.Data[field], back.Card.Data[field], "field %s", field)
	}
}

func TestExport_ValidationGate(t *testing.T) {
	e := newEngine(t)
	bad := card.Card{Spec: card.SpecUnknown, Data: map[string]any{}}
	_, err := e.Export(context.Background(), bad, card.FormatJSON, ExportOptions{})
	require.Error(t, err)
	var verr *cerrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExport_SpecConversion(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	out, err := e.Export(ctx, res.Card, card.FormatJSON, ExportOptions{Spec: card.SpecV2})
	require.NoError(t, err)
	again, err := e.Import(ctx, out.Data, "mira.json")
	require.NoError(t, err)
	assert.Equal(t, card.SpecV2, again.Card.Spec)
}

func TestImport_SFXZip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)
	pkg, err := e.Export(ctx, res.Card, card.FormatCharx, ExportOptions{})
	require.NoError(t, err)

	sfx := append([]byte("#!/bin/sh\necho self-extracting\n"), pkg.Data...)
	again, err := e.Import(ctx, sfx, "mira.bin")
	require.NoError(t, err)
	assert.Equal(t, card.FormatCharx, again.Format)
	assert.Equal(t, "Mira", again.Card.Name())
}

func TestCHARXAssets_NoPipeline(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)
	base := basePNG(t)

	pkg, err := e.Export(ctx, res.Card, card.FormatCharx, ExportOptions{BaseImage: base})
	require.NoError(t, err)
	back, err := e.Import(ctx, pkg.Data, "mira.charx")
	require.NoError(t, err)
	require.Len(t, back.Packed, 1)

	repkg, err := e.Export(ctx, back.Card, card.FormatCharx, ExportOptions{})
	require.NoError(t, err)
	r, err := archive.NewReader(repkg.Data, archive.DefaultLimits())
	require.NoError(t, err)
	icon, err := r.ReadFile("assets/icon/main.png")
	require.NoError(t, err, "packed assets must survive a re-export without a pipeline")
	assert.Equal(t, base, icon)
}

func TestCHARXAssets_WithPipeline(t *testing.T) {
	e := newEngineWithPipeline(t)
	ctx := context.Background()
	res, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)
	base := basePNG(t)

	pkg, err := e.Export(ctx, res.Card, card.FormatCharx, ExportOptions{BaseImage: base})
	require.NoError(t, err)
	back, err := e.Import(ctx, pkg.Data, "mira.charx")
	require.NoError(t, err)
	assert.Equal(t, 1, back.AssetsImported)
	assert.Empty(t, back.Packed)

	descriptors, ok := back.Card.Data["assets"].([]any)
	require.True(t, ok)
	desc := descriptors[0].(map[string]any)
	assert.True(t, cas.IsBlobURL(desc["uri"].(string)), "uri = %v", desc["uri"])

	repkg, err := e.Export(ctx, back.Card, card.FormatCharx, ExportOptions{})
	require.NoError(t, err)
	r, err := archive.NewReader(repkg.Data, archive.DefaultLimits())
	require.NoError(t, err)
	icon, err := r.ReadFile("assets/icon/main.png")
	require.NoError(t, err)
	assert.Equal(t, base, icon)
}

func TestImport_PNGChunkConsumedByPipeline(t *testing.T) {
	e := newEngineWithPipeline(t)
	ctx := context.Background()
	seed, err := newEngine(t).Import(ctx, v3JSON(t), "mira.json")
	require.NoError(t, err)

	chunk := pngcard.TextChunk{
		Keyword: assets.ExtAssetPrefix + ":emotions/happy.png",
		Text:    base64.StdEncoding.EncodeToString([]byte("happy-bytes")),
	}
	out, err := newEngine(t).Export(ctx, seed.Card, card.FormatPNG, ExportOptions{
		BaseImage:   basePNG(t),
		ExtraChunks: []pngcard.TextChunk{chunk},
	})
	require.NoError(t, err)

	res, err := e.Import(ctx, out.Data, "mira.png")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AssetsImported)
	for _, ch := range res.ExtraChunks {
		assert.NotEqual(t, chunk.Keyword, ch.Keyword, "consumed chunk still queued for re-emit")
	}

	descriptors, ok := res.Card.Data["assets"].([]any)
	require.True(t, ok, "assets = %#v", res.Card.Data["assets"])
	require.Len(t, descriptors, 1)
	uri := descriptors[0].(map[string]any)["uri"].(string)
	require.True(t, cas.IsBlobURL(uri), "uri = %q", uri)
}

func TestImport_CancelledContext(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Import(ctx, v3JSON(t), "mira.json")
	require.ErrorIs(t, err, context.Canceled)
}

func TestExport_CancelledContext(t *testing.T) {
	e := newEngine(t)
	res, err := e.Import(context.Background(), v3JSON(t), "mira.json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Export(ctx, res.Card, card.FormatJSON, ExportOptions{})
	require.ErrorIs(t, err, context.Canceled)
}
