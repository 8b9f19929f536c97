// Package assets moves binary payloads between card documents and the
// blob store. On import, inline base64 payloads are pulled out of the
// card and replaced by blob addresses; on export, blob addresses are
// turned back into either their original external URL or an embedded
// package reference, depending on the target container.
package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/axAilotl/character-architect-sub002/core/card"
	"github.com/axAilotl/character-architect-sub002/core/cas"
	"github.com/axAilotl/character-architect-sub002/internal/blobindex"
	"github.com/axAilotl/character-architect-sub002/internal/formats/pngcard"
)

// ExtAssetPrefix marks sibling PNG tEXt chunks that carry asset
// payloads; the keyword remainder is the asset's path hint.
const ExtAssetPrefix = "chara-ext-asset_"

// dataURIPattern matches inline base64 data URIs embedded in text.
var dataURIPattern = regexp.MustCompile(`data:([a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)

// blobURLPattern matches blob store addresses embedded in text.
var blobURLPattern = regexp.MustCompile(`blob://sha256/[0-9a-f]{64}`)

// Pipeline persists and restores card assets through a CAS plus index.
type Pipeline struct {
	store *cas.Store
	index *blobindex.Index
}

// NewPipeline wires a pipeline over the given store and index.
func NewPipeline(store *cas.Store, index *blobindex.Index) *Pipeline {
	return &Pipeline{store: store, index: index}
}

// ImportResult reports what an extraction pass did.
type ImportResult struct {
	Imported int
	Warnings []string
	// ConsumedChunks lists keywords of extra PNG chunks whose payloads
	// were archived. Callers should drop them from re-emit sets or the
	// payload travels twice.
	ConsumedChunks []string
}

// ExtractEmbedded scans the card for inline payloads, persists each as
// a blob, and rewrites the reference in place to its blob address.
// Three sources are scanned: v3 asset descriptor URIs, data URIs in the
// description text, and sibling PNG tEXt chunks carrying asset
// payloads. Failures on individual assets degrade to warnings.
func (p *Pipeline) ExtractEmbedded(ctx context.Context, c card.Card, extra []pngcard.TextChunk) (ImportResult, error) {
	var res ImportResult

	if list, ok := c.Data["assets"].([]any); ok {
		for i, item := range list {
			desc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			uri, _ := desc["uri"].(string)
			m := dataURIPattern.FindStringSubmatch(uri)
			if m == nil || m[0] != uri {
				continue
			}
			blobURL, err := p.archive(ctx, archiveRequest{
				mediaType: m[1],
				payload:   m[2],
				name:      stringOr(desc["name"], fmt.Sprintf("asset-%d", i)),
				ext:       stringOr(desc["ext"], extForMediaType(m[1])),
				assetType: stringOr(desc["type"], "custom"),
			})
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("asset %d: %v", i, err))
				continue
			}
			desc["uri"] = blobURL
			res.Imported++
		}
	}

	if desc, ok := c.Data["description"].(string); ok && strings.Contains(desc, ";base64,") {
		rewritten := dataURIPattern.ReplaceAllStringFunc(desc, func(match string) string {
			m := dataURIPattern.FindStringSubmatch(match)
			blobURL, err := p.archive(ctx, archiveRequest{
				mediaType: m[1],
				payload:   m[2],
				name:      "description-inline",
				ext:       extForMediaType(m[1]),
				assetType: "custom",
			})
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("description data URI: %v", err))
				return match
			}
			res.Imported++
			return blobURL
		})
		c.Data["description"] = rewritten
	}

	for _, chunk := range extra {
		if !strings.HasPrefix(chunk.Keyword, ExtAssetPrefix) {
			continue
		}
		hint := strings.TrimPrefix(chunk.Keyword, ExtAssetPrefix)
		hint = strings.TrimPrefix(hint, ":")
		name, ext := splitPathHint(hint)
		blobURL, err := p.archive(ctx, archiveRequest{
			payload:   chunk.Text,
			name:      name,
			ext:       ext,
			assetType: "custom",
		})
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("chunk %s: %v", chunk.Keyword, err))
			continue
		}
		// Descriptors referencing the chunk path are rewritten to the
		// blob address; orphan payloads gain a descriptor so the blob
		// stays reachable from the card.
		if !rewriteEmbeddedRef(c, hint, blobURL) {
			list, _ := c.Data["assets"].([]any)
			c.Data["assets"] = append(list, map[string]any{
				"type": "custom",
				"uri":  blobURL,
				"name": name,
				"ext":  ext,
			})
		}
		res.ConsumedChunks = append(res.ConsumedChunks, chunk.Keyword)
		res.Imported++
	}

	return res, nil
}

// rewriteEmbeddedRef points the descriptor for an in-package path at a
// blob address. Reports whether a descriptor matched.
func rewriteEmbeddedRef(c card.Card, path, blobURL string) bool {
	list, _ := c.Data["assets"].([]any)
	for _, item := range list {
		desc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if uri, _ := desc["uri"].(string); uri == "embedded://"+path {
			desc["uri"] = blobURL
			return true
		}
	}
	return false
}

// archiveRequest describes one inline payload to persist.
type archiveRequest struct {
	mediaType string
	payload   string // base64
	name      string
	ext       string
	assetType string
}

// archive decodes, stores, and indexes one payload, returning its blob
// address.
func (p *Pipeline) archive(ctx context.Context, req archiveRequest) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(req.payload)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	return p.archiveRaw(ctx, raw, req)
}

// archiveRaw stores and indexes decoded bytes, returning their blob
// address.
func (p *Pipeline) archiveRaw(ctx context.Context, raw []byte, req archiveRequest) (string, error) {
	hashes, err := p.store.PutWithBlake3(raw)
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	_, err = p.index.Put(ctx, blobindex.Record{
		Key:       blobindex.NewKey(),
		SHA256:    hashes.SHA256,
		Name:      req.name,
		Ext:       req.ext,
		AssetType: req.assetType,
		MediaType: req.mediaType,
		Size:      int64(len(raw)),
	})
	if err != nil {
		return "", fmt.Errorf("index blob: %w", err)
	}
	return cas.URL(hashes.SHA256), nil
}

// ArchivePacked persists assets that arrived inside a ZIP package and
// rewrites their embedded:// descriptor references to blob addresses.
// Packed assets without a matching descriptor gain one, so re-exports
// can find them again.
func (p *Pipeline) ArchivePacked(ctx context.Context, c card.Card, packed []PackAsset) (ImportResult, error) {
	var res ImportResult
	if len(packed) == 0 {
		return res, nil
	}

	byPath := map[string]map[string]any{}
	list, _ := c.Data["assets"].([]any)
	for _, item := range list {
		desc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if uri, _ := desc["uri"].(string); strings.HasPrefix(uri, "embedded://") {
			byPath[strings.TrimPrefix(uri, "embedded://")] = desc
		}
	}

	for _, a := range packed {
		blobURL, err := p.archiveRaw(ctx, a.Data, archiveRequest{
			mediaType: mediaTypeForExt(a.Ext),
			name:      a.Name,
			ext:       a.Ext,
			assetType: a.Type,
		})
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("packed asset %s: %v", a.Name, err))
			continue
		}
		res.Imported++
		path := "assets/" + a.Type + "/" + a.Name + "." + a.Ext
		if desc, ok := byPath[path]; ok {
			desc["uri"] = blobURL
			continue
		}
		list = append(list, map[string]any{
			"type": a.Type,
			"uri":  blobURL,
			"name": a.Name,
			"ext":  a.Ext,
		})
	}
	if len(list) > 0 {
		c.Data["assets"] = list
	}
	return res, nil
}

// PackAsset is an asset resolved for embedding into a ZIP container.
type PackAsset struct {
	Type string
	Name string
	Ext  string
	Data []byte
}

// RestoreResult reports what a restore pass did.
type RestoreResult struct {
	// Packed holds asset bytes for the container builder; empty for
	// external targets.
	Packed   []PackAsset
	Warnings []string
}

// RestoreRefs rewrites blob addresses for the target container and is
// the inverse of ExtractEmbedded. JSON and PNG targets point each
// reference back at its recorded origin URL, falling back to an inline
// data URI when the asset arrived inline. CHARX and Voxta targets
// rewrite to embedded:// paths and return the bytes for packaging. The
// split is per target, intentionally.
func (p *Pipeline) RestoreRefs(ctx context.Context, c card.Card, target card.Format) (RestoreResult, error) {
	var res RestoreResult
	embed := target == card.FormatCharx || target == card.FormatVoxta

	if list, ok := c.Data["assets"].([]any); ok {
		kept := make([]any, 0, len(list))
		for i, item := range list {
			desc, ok := item.(map[string]any)
			if !ok {
				kept = append(kept, item)
				continue
			}
			uri, _ := desc["uri"].(string)
			hash, ok := cas.ParseURL(uri)
			if !ok {
				kept = append(kept, desc)
				continue
			}
			rec, data, err := p.resolve(ctx, hash)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("asset %d: %v", i, err))
				continue
			}
			typ := stringOr(desc["type"], rec.AssetType)
			name := stringOr(desc["name"], rec.Name)
			ext := stringOr(desc["ext"], rec.Ext)
			if embed {
				pa := PackAsset{Type: typ, Name: name, Ext: ext, Data: data}
				res.Packed = append(res.Packed, pa)
				desc["uri"] = "embedded://assets/" + typ + "/" + name + "." + ext
			} else if rec.OriginURL != "" {
				desc["uri"] = rec.OriginURL
			} else {
				desc["uri"] = inlineDataURI(rec.MediaType, data)
			}
			kept = append(kept, desc)
		}
		c.Data["assets"] = kept
	}

	if desc, ok := c.Data["description"].(string); ok && strings.Contains(desc, cas.URLScheme) {
		rewritten := blobURLPattern.ReplaceAllStringFunc(desc, func(match string) string {
			hash, _ := cas.ParseURL(match)
			rec, data, err := p.resolve(ctx, hash)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("description blob: %v", err))
				return match
			}
			if rec.OriginURL != "" {
				return rec.OriginURL
			}
			return inlineDataURI(rec.MediaType, data)
		})
		c.Data["description"] = rewritten
	}

	return res, nil
}

// resolve fetches a blob's index record and bytes by content hash.
func (p *Pipeline) resolve(ctx context.Context, hash string) (*blobindex.Record, []byte, error) {
	rec, err := p.index.ByHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	data, err := p.store.Get(hash)
	if err != nil {
		return nil, nil, err
	}
	return rec, data, nil
}

// inlineDataURI re-inlines blob bytes as a base64 data URI.
func inlineDataURI(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// mediaTypeForExt guesses a MIME type from a file extension.
func mediaTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "webm":
		return "video/webm"
	case "mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}

// extForMediaType guesses a file extension from a MIME type.
func extForMediaType(mediaType string) string {
	switch mediaType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "video/webm":
		return "webm"
	case "video/mp4":
		return "mp4"
	}
	if idx := strings.Index(mediaType, "/"); idx >= 0 {
		return mediaType[idx+1:]
	}
	return "bin"
}

// splitPathHint splits an asset path hint like "emotions/happy.png"
// into a name and extension.
func splitPathHint(hint string) (name, ext string) {
	base := hint
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[:idx], base[idx+1:]
	}
	if base == "" {
		return "asset", "bin"
	}
	return base, "bin"
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
