// Package engine orchestrates card import and export across container
// formats: sniffing, extraction, normalization, asset handling, macro
// dialect policy, and validation gating.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/axAilotl/character-architect-sub002/core/card"
	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
	"github.com/axAilotl/character-architect-sub002/core/macro"
	"github.com/axAilotl/character-architect-sub002/internal/archive"
	"github.com/axAilotl/character-architect-sub002/internal/assets"
	"github.com/axAilotl/character-architect-sub002/internal/formats/charx"
	"github.com/axAilotl/character-architect-sub002/internal/formats/pngcard"
	"github.com/axAilotl/character-architect-sub002/internal/formats/voxta"
	"github.com/axAilotl/character-architect-sub002/internal/imaging"
	"github.com/axAilotl/character-architect-sub002/internal/logging"
	"github.com/axAilotl/character-architect-sub002/internal/sniff"
)

// Config wires an engine.
type Config struct {
	// Pipeline handles asset archival and restore. Nil disables the
	// asset passes; inline payloads then travel with the card as-is.
	Pipeline *assets.Pipeline
	// ArchiveLimits bounds ZIP parsing. Zero value uses defaults.
	ArchiveLimits archive.Limits
	// PNGLimits bounds PNG parsing. Zero value uses defaults.
	PNGLimits pngcard.Limits
	// TempDir is the staging root for container builds. Empty uses
	// the system temp directory.
	TempDir string
}

// Engine performs card imports and exports. Every call operates on its
// own buffers; an Engine is safe for concurrent use.
type Engine struct {
	pipeline      *assets.Pipeline
	archiveLimits archive.Limits
	pngLimits     pngcard.Limits
	tempDir       string
}

// New creates an engine from the config.
func New(cfg Config) *Engine {
	e := &Engine{
		pipeline:      cfg.Pipeline,
		archiveLimits: cfg.ArchiveLimits,
		pngLimits:     cfg.PNGLimits,
		tempDir:       cfg.TempDir,
	}
	if e.archiveLimits == (archive.Limits{}) {
		e.archiveLimits = archive.DefaultLimits()
	}
	if e.pngLimits == (pngcard.Limits{}) {
		e.pngLimits = pngcard.DefaultLimits()
	}
	if e.tempDir == "" {
		e.tempDir = os.TempDir()
	}
	return e
}

// ImportResult is the outcome of ingesting raw bytes.
type ImportResult struct {
	Card   card.Card
	Format card.Format
	// OriginalImage holds the source container image for PNG and
	// CHARX imports. CHARX export uses it to synthesize an icon when
	// none exists.
	OriginalImage []byte
	// ExtraChunks are sibling PNG tEXt chunks preserved from the
	// source, minus any consumed as asset payloads.
	ExtraChunks []pngcard.TextChunk
	// Packed holds ZIP package asset bytes when no asset pipeline is
	// wired; with a pipeline they land in the blob store instead.
	Packed         []assets.PackAsset
	AssetsImported int
	Validation     *card.ValidationResult
	Warnings       []string
	// Recovered marks cards pulled out of a non-standard container by
	// the greedy JSON fallback.
	Recovered bool
}

// Import ingests raw bytes in any supported container format. The
// returned card is normalized and validated; validation findings never
// block an import, only a later export.
func (e *Engine) Import(ctx context.Context, data []byte, filename string) (*ImportResult, error) {
	start := time.Now()
	ctx = logging.WithOperationID(ctx, ulid.Make().String())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := e.extract(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.pipeline != nil {
		ar, aerr := e.pipeline.ExtractEmbedded(ctx, res.Card, res.ExtraChunks)
		if aerr != nil {
			return nil, aerr
		}
		res.ExtraChunks = dropChunks(res.ExtraChunks, ar.ConsumedChunks)
		pr, perr := e.pipeline.ArchivePacked(ctx, res.Card, res.Packed)
		if perr != nil {
			return nil, perr
		}
		res.Packed = nil
		res.AssetsImported = ar.Imported + pr.Imported
		res.Warnings = append(res.Warnings, ar.Warnings...)
		res.Warnings = append(res.Warnings, pr.Warnings...)
		if res.AssetsImported > 0 {
			logging.AssetEvent(ctx, "import", res.AssetsImported)
		}
	} else {
		attachPackedAssets(res.Card, res.Packed)
	}

	res.Validation = card.Validate(res.Card)
	logging.ImportEvent(ctx, res.Format.String(), res.Card.Spec.Literal(), res.Card.Name(),
		int64(len(data)), time.Since(start), "warnings", len(res.Warnings))
	return res, nil
}

// extract routes bytes to a container codec and produces a normalized
// card. Container guesses that turn out wrong fall through to the next
// candidate when the codec reports a fallback-eligible error.
func (e *Engine) extract(ctx context.Context, data []byte, filename string) (*ImportResult, error) {
	switch sniff.Detect(data, filename) {
	case sniff.KindZIP:
		res, err := e.extractZip(ctx, data, filename)
		if err == nil {
			return res, nil
		}
		// A PNG whose pixel data happens to contain the ZIP signature
		// sniffs as ZIP. Give the PNG path a chance before giving up.
		if pngcard.IsPNG(data) {
			logging.FormatFallback(ctx, "zip", "png")
			if pres, perr := e.extractPNG(data); perr == nil {
				return pres, nil
			}
		}
		return nil, err
	case sniff.KindPNG:
		return e.extractPNG(data)
	case sniff.KindJSON:
		return e.extractJSON(data)
	default:
		span, ok := sniff.RecoverJSON(data)
		if !ok {
			return nil, cerrors.NewDetect("container sniffing", "no supported container or card JSON found")
		}
		res, err := e.extractJSON(span)
		if err != nil {
			return nil, err
		}
		res.Recovered = true
		res.Warnings = append(res.Warnings, "card JSON was recovered from an unrecognized container")
		return res, nil
	}
}

func (e *Engine) extractZip(ctx context.Context, data []byte, filename string) (*ImportResult, error) {
	order := []card.Format{card.FormatCharx, card.FormatVoxta}
	if sniff.VoxtaHint(filename) {
		order = []card.Format{card.FormatVoxta, card.FormatCharx}
	}

	var firstErr error
	for i, format := range order {
		res, err := e.extractZipAs(data, format)
		if err == nil {
			return res, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if !cerrors.IsFormatFallback(err) {
			return nil, err
		}
		if i+1 < len(order) {
			logging.FormatFallback(ctx, format.String(), order[i+1].String())
		}
	}
	return nil, firstErr
}

func (e *Engine) extractZipAs(data []byte, format card.Format) (*ImportResult, error) {
	switch format {
	case card.FormatCharx:
		parsed, err := charx.Parse(data, e.archiveLimits)
		if err != nil {
			return nil, err
		}
		res := &ImportResult{
			Card:     parsed.Card,
			Format:   card.FormatCharx,
			Warnings: parsed.Warnings,
			Packed:   convertCharxAssets(parsed.Assets),
		}
		for _, a := range parsed.Assets {
			if a.Type == "icon" && res.OriginalImage == nil {
				res.OriginalImage = a.Data
			}
		}
		return res, nil
	case card.FormatVoxta:
		parsed, err := voxta.Parse(data, e.archiveLimits)
		if err != nil {
			return nil, err
		}
		return &ImportResult{
			Card:     parsed.Card,
			Format:   card.FormatVoxta,
			Warnings: parsed.Warnings,
			Packed:   convertVoxtaAssets(parsed.Assets),
		}, nil
	default:
		return nil, cerrors.NewUnsupported("container format", format.String())
	}
}

func (e *Engine) extractPNG(data []byte) (*ImportResult, error) {
	extracted, err := pngcard.Extract(data, e.pngLimits)
	if err != nil {
		return nil, err
	}
	if extracted.Spec == card.SpecUnknown {
		return nil, cerrors.NewDetect("card spec", "PNG card chunk is not a recognizable character card")
	}
	c := card.Normalize(extracted.Root, extracted.Spec)
	return &ImportResult{
		Card:          c,
		Format:        card.FormatPNG,
		OriginalImage: data,
		ExtraChunks:   extracted.Extra,
		Warnings:      extracted.Warnings,
	}, nil
}

func (e *Engine) extractJSON(data []byte) (*ImportResult, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, cerrors.NewParse("JSON", err.Error())
	}
	spec := card.Detect(root)
	if spec == card.SpecUnknown {
		return nil, cerrors.NewDetect("card spec", "JSON is not a recognizable character card")
	}
	return &ImportResult{Card: card.Normalize(root, spec), Format: card.FormatJSON}, nil
}

// ExportOptions controls an export.
type ExportOptions struct {
	// Spec selects the schema for JSON and PNG targets. Zero keeps
	// the card's spec. CHARX is always v3; Voxta ignores this.
	Spec card.Spec
	// BaseImage is the PNG to embed into for PNG targets, and the
	// icon synthesis source for CHARX targets. Typically the
	// OriginalImage from the import. PNG export generates a plain
	// placeholder when absent.
	BaseImage []byte
	// ExtraChunks are sibling tEXt chunks to re-emit on PNG targets.
	ExtraChunks []pngcard.TextChunk
	// Imaging post-processes asset bytes for ZIP targets.
	Imaging imaging.Options
}

// ExportResult is the outcome of an export.
type ExportResult struct {
	Data     []byte
	Warnings []string
}

// Export re-emits a card into the target container. Validation runs
// first and blocking findings abort the export. Macro dialect policy:
// Voxta targets always receive the Voxta dialect; other targets are
// converted back to the standard dialect only when the card came from
// a Voxta package.
func (e *Engine) Export(ctx context.Context, c card.Card, target card.Format, opts ExportOptions) (*ExportResult, error) {
	start := time.Now()
	ctx = logging.WithOperationID(ctx, ulid.Make().String())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if v := card.Validate(c); !v.Valid {
		return nil, &cerrors.ValidationError{Findings: v.Errors()}
	}

	// Work on a private copy so restore and macro passes never touch
	// the caller's card.
	work := card.Normalize(c.Document(), c.Spec)
	res := &ExportResult{}

	packed := detachPackedAssets(work)
	if e.pipeline != nil {
		rr, err := e.pipeline.RestoreRefs(ctx, work, target)
		if err != nil {
			return nil, err
		}
		packed = append(packed, rr.Packed...)
		res.Warnings = append(res.Warnings, rr.Warnings...)
		if len(rr.Packed) > 0 {
			logging.AssetEvent(ctx, "export", len(rr.Packed))
		}
	}

	if target != card.FormatVoxta && voxta.IsOrigin(work) {
		work.Data = macro.ConvertData(work.Data, macro.ToStandard)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := e.emit(ctx, work, target, packed, opts)
	if err != nil {
		return nil, err
	}
	res.Data = out
	logging.ExportEvent(ctx, target.String(), work.Spec.Literal(), work.Name(),
		int64(len(out)), time.Since(start))
	return res, nil
}

func (e *Engine) emit(ctx context.Context, work card.Card, target card.Format, packed []assets.PackAsset, opts ExportOptions) ([]byte, error) {
	switch target {
	case card.FormatJSON:
		converted, err := convertSpec(work, opts.Spec)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(converted.Document(), "", "  ")

	case card.FormatPNG:
		converted, err := convertSpec(work, opts.Spec)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(converted.Document())
		if err != nil {
			return nil, err
		}
		base := opts.BaseImage
		if base == nil {
			base, err = placeholderPNG()
			if err != nil {
				return nil, err
			}
		}
		staged, cleanup, err := e.stage(base, "base.png")
		if err != nil {
			return nil, err
		}
		defer cleanup()
		base, err = os.ReadFile(staged)
		if err != nil {
			return nil, fmt.Errorf("read staged image: %w", err)
		}
		keyword := pngcard.DefaultKeyword
		if converted.Spec == card.SpecV3 {
			keyword = "ccv3"
		}
		return pngcard.EmbedExtra(base, payload, keyword, opts.ExtraChunks)

	case card.FormatCharx:
		return charx.Build(work, packAsCharx(packed), charx.BuildOptions{
			FallbackIcon: opts.BaseImage,
			Imaging:      opts.Imaging,
		})

	case card.FormatVoxta:
		return voxta.Build(work, packAsVoxta(packed), voxta.BuildOptions{
			Imaging: opts.Imaging,
		})

	default:
		return nil, cerrors.NewUnsupported("export target", target.String())
	}
}

// convertSpec applies the requested schema conversion for JSON and PNG
// targets.
func convertSpec(c card.Card, want card.Spec) (card.Card, error) {
	switch want {
	case card.SpecUnknown:
		return c, nil
	case card.SpecV2:
		return c.ToV2()
	case card.SpecV3:
		return c.ToV3()
	default:
		return card.Card{}, cerrors.NewUnsupported("target spec", want.String())
	}
}

// stage writes data into a fresh staging directory under the engine's
// temp root and returns its path plus a cleanup func. Cleanup always
// removes the whole directory, success or failure.
func (e *Engine) stage(data []byte, name string) (string, func(), error) {
	dir, err := os.MkdirTemp(e.tempDir, "cardx-"+ulid.Make().String()+"-")
	if err != nil {
		return "", nil, fmt.Errorf("create staging directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage %s: %w", name, err)
	}
	return path, cleanup, nil
}

// placeholderPNG renders a neutral card image for PNG exports with no
// source image.
func placeholderPNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 256, 384))
	bg := color.RGBA{R: 0x2e, G: 0x2e, B: 0x3a, A: 0xff}
	for y := 0; y < 384; y++ {
		for x := 0; x < 256; x++ {
			img.Set(x, y, bg)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// packedAssetsKey is a transient extensions slot carrying package asset
// bytes between a ZIP import and a ZIP re-export when no asset
// pipeline is wired. The slot never survives into emitted documents.
const packedAssetsKey = "__packed_assets"

// dropChunks removes chunks whose keywords were consumed as asset
// payloads, so re-exports do not embed the payload a second time.
func dropChunks(chunks []pngcard.TextChunk, consumed []string) []pngcard.TextChunk {
	if len(consumed) == 0 {
		return chunks
	}
	gone := make(map[string]bool, len(consumed))
	for _, k := range consumed {
		gone[k] = true
	}
	kept := chunks[:0]
	for _, ch := range chunks {
		if !gone[ch.Keyword] {
			kept = append(kept, ch)
		}
	}
	return kept
}

func attachPackedAssets(c card.Card, packed []assets.PackAsset) {
	if len(packed) == 0 {
		return
	}
	c.Extensions()[packedAssetsKey] = packed
}

func detachPackedAssets(c card.Card) []assets.PackAsset {
	ext, ok := c.Data["extensions"].(map[string]any)
	if !ok {
		return nil
	}
	packed, _ := ext[packedAssetsKey].([]assets.PackAsset)
	delete(ext, packedAssetsKey)
	return packed
}

func convertCharxAssets(in []charx.Asset) []assets.PackAsset {
	out := make([]assets.PackAsset, 0, len(in))
	for _, a := range in {
		out = append(out, assets.PackAsset{Type: a.Type, Name: a.Name, Ext: a.Ext, Data: a.Data})
	}
	return out
}

func convertVoxtaAssets(in []voxta.Asset) []assets.PackAsset {
	out := make([]assets.PackAsset, 0, len(in))
	for _, a := range in {
		out = append(out, assets.PackAsset{Type: a.Type, Name: a.Name, Ext: a.Ext, Data: a.Data})
	}
	return out
}

func packAsCharx(in []assets.PackAsset) []charx.Asset {
	out := make([]charx.Asset, 0, len(in))
	for _, a := range in {
		out = append(out, charx.Asset{Type: a.Type, Name: a.Name, Ext: a.Ext, Data: a.Data})
	}
	return out
}

func packAsVoxta(in []assets.PackAsset) []voxta.Asset {
	out := make([]voxta.Asset, 0, len(in))
	for _, a := range in {
		out = append(out, voxta.Asset{Type: a.Type, Name: a.Name, Ext: a.Ext, Data: a.Data})
	}
	return out
}
