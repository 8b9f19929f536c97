package pngcard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/axAilotl/character-architect-sub002/core/card"
	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
)

// cardKeywords are the historical tEXt keywords card JSON has been
// embedded under, in no particular order of preference: the first match
// in the PNG's native chunk order wins.
var cardKeywords = map[string]bool{
	"chara":         true,
	"ccv2":          true,
	"ccv3":          true,
	"character":     true,
	"chara_card_v3": true,
}

// DefaultKeyword is the keyword used when embedding.
const DefaultKeyword = "chara"

// ErrNoCardChunk is the normal, expected outcome when a PNG carries no
// recognizable card chunk. Callers fall through to other detection
// strategies; this is not a failure of the PNG itself.
var ErrNoCardChunk = cerrors.NewNotFound("card chunk", "no recognized tEXt keyword")

// Limits bounds PNG inputs before any parsing happens.
type Limits struct {
	// HardMaxBytes rejects the file outright.
	HardMaxBytes int64
	// SoftMaxBytes produces a warning but proceeds.
	SoftMaxBytes int64
}

// DefaultLimits returns the default PNG size limits.
func DefaultLimits() Limits {
	return Limits{
		HardMaxBytes: 100 << 20, // 100 MiB
		SoftMaxBytes: 50 << 20,  // 50 MiB
	}
}

// TextChunk is a non-card tEXt chunk preserved through extraction for
// potential asset recovery.
type TextChunk struct {
	Keyword string
	Text    string
}

// Extracted is the result of pulling card data out of a PNG.
type Extracted struct {
	Root     map[string]any // parsed card JSON
	Raw      []byte         // decoded JSON bytes as embedded
	Spec     card.Spec
	Keyword  string      // which keyword matched
	Extra    []TextChunk // sibling tEXt chunks outside the keyword set
	Warnings []string
}

// checkSize enforces the limits before parsing, returning soft warnings.
func checkSize(data []byte, limits Limits) ([]string, error) {
	size := int64(len(data))
	if limits.HardMaxBytes > 0 && size > limits.HardMaxBytes {
		return nil, cerrors.NewSize("PNG", size, limits.HardMaxBytes, []string{
			fmt.Sprintf("PNG is %s, above the %s ceiling",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limits.HardMaxBytes))),
		})
	}
	var warnings []string
	if limits.SoftMaxBytes > 0 && size > limits.SoftMaxBytes {
		warnings = append(warnings, fmt.Sprintf("PNG is %s, above the %s recommended maximum",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limits.SoftMaxBytes))))
	}
	return warnings, nil
}

// Extract scans a PNG for an embedded card. The size ceiling is
// enforced before chunk parsing to bound memory use on hostile inputs.
// A structurally valid PNG without a card chunk returns ErrNoCardChunk.
func Extract(data []byte, limits Limits) (*Extracted, error) {
	warnings, err := checkSize(data, limits)
	if err != nil {
		return nil, err
	}

	chunks, err := parseChunks(data)
	if err != nil {
		return nil, err
	}

	result := &Extracted{Warnings: warnings}
	for _, c := range chunks {
		if c.Type != "tEXt" {
			continue
		}
		keyword, text, ok := splitText(c.Data)
		if !ok {
			continue
		}
		if !cardKeywords[keyword] {
			result.Extra = append(result.Extra, TextChunk{Keyword: keyword, Text: text})
			continue
		}
		if result.Root != nil {
			continue // first match wins; later card chunks are ignored
		}
		decoded, derr := base64.StdEncoding.DecodeString(text)
		if derr != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("tEXt chunk %q is not valid base64 and was skipped", keyword))
			continue
		}
		var root map[string]any
		if jerr := json.Unmarshal(decoded, &root); jerr != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("tEXt chunk %q does not contain JSON and was skipped", keyword))
			continue
		}
		result.Root = root
		result.Raw = decoded
		result.Keyword = keyword
		result.Spec = card.Detect(root)
	}

	if result.Root == nil {
		return nil, ErrNoCardChunk
	}
	return result, nil
}

// Embed writes card JSON into a base PNG under the given keyword
// (DefaultKeyword when empty). Every chunk of the base image except
// existing card-data tEXt chunks is preserved byte-for-byte; the card
// chunk is inserted immediately before IEND.
func Embed(base []byte, cardJSON []byte, keyword string) ([]byte, error) {
	if keyword == "" {
		keyword = DefaultKeyword
	}
	if !cardKeywords[keyword] {
		return nil, cerrors.NewUnsupported("PNG card keyword", keyword)
	}
	chunks, err := parseChunks(base)
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(cardJSON)
	out := make([]byte, 0, len(base)+len(encoded)+64)
	out = append(out, pngMagic...)
	for _, c := range chunks {
		if c.Type == "tEXt" {
			if kw, _, ok := splitText(c.Data); ok && cardKeywords[kw] {
				continue // replaced below
			}
		}
		if c.Type == "IEND" {
			out = append(out, encodeChunk("tEXt", textChunkData(keyword, encoded))...)
		}
		out = append(out, c.Raw...)
	}
	return out, nil
}

// EmbedExtra appends non-card tEXt chunks (recovered assets and the
// like) along with the card chunk. Used when re-emitting a PNG whose
// source carried sibling metadata worth keeping.
func EmbedExtra(base []byte, cardJSON []byte, keyword string, extra []TextChunk) ([]byte, error) {
	out, err := Embed(base, cardJSON, keyword)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return out, nil
	}
	chunks, err := parseChunks(out)
	if err != nil {
		return nil, err
	}
	rebuilt := make([]byte, 0, len(out))
	rebuilt = append(rebuilt, pngMagic...)
	for _, c := range chunks {
		if c.Type == "IEND" {
			for _, tc := range extra {
				rebuilt = append(rebuilt, encodeChunk("tEXt", textChunkData(tc.Keyword, tc.Text))...)
			}
		}
		rebuilt = append(rebuilt, c.Raw...)
	}
	return rebuilt, nil
}
