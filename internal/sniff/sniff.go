// Package sniff guesses the container format of raw input bytes and
// recovers card JSON from non-standard carriers as a last resort.
package sniff

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/axAilotl/character-architect-sub002/internal/archive"
	"github.com/axAilotl/character-architect-sub002/internal/formats/pngcard"
)

// Kind is the byte-level container family.
type Kind int

const (
	KindUnknown Kind = iota
	KindZIP
	KindPNG
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindZIP:
		return "zip"
	case KindPNG:
		return "png"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Detect classifies input bytes. The check order is deliberate: ZIP
// signature anywhere in the stream (SFX tolerance) or a package file
// extension wins, then PNG magic, then a JSON well-formedness check.
// KindUnknown inputs may still yield a card through RecoverJSON.
func Detect(data []byte, filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".charx" || ext == ".voxpkg" || ext == ".zip" {
		return KindZIP
	}
	if archive.FindZipStart(data) >= 0 {
		return KindZIP
	}
	if pngcard.IsPNG(data) {
		return KindPNG
	}
	if gjson.ValidBytes(data) && gjson.ParseBytes(data).IsObject() {
		return KindJSON
	}
	return KindUnknown
}

// VoxtaHint reports whether the filename suggests a Voxta package.
func VoxtaHint(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".voxpkg")
}

// cardMarkers locate card-looking JSON inside arbitrary bytes.
var cardMarkers = []*regexp.Regexp{
	regexp.MustCompile(`"spec"\s*:\s*"chara_card_v3"`),
	regexp.MustCompile(`"spec"\s*:\s*"chara_card_v2"`),
	regexp.MustCompile(`"name"\s*:`),
}

// maxEnclosingCandidates bounds the backward scan for an enclosing
// object start. Recovery is best effort; unbounded scans over large
// binaries are not worth it.
const maxEnclosingCandidates = 64

// RecoverJSON is the greedy last-resort extractor for card data buried
// in non-standard containers, for example JPEG files with card JSON in
// an EXIF segment. It searches for card markers and returns the
// smallest enclosing valid JSON object span.
func RecoverJSON(data []byte) ([]byte, bool) {
	for _, marker := range cardMarkers {
		loc := marker.FindIndex(data)
		if loc == nil {
			continue
		}
		if span, ok := enclosingObject(data, loc[0]); ok {
			return span, true
		}
	}
	return nil, false
}

// enclosingObject finds the smallest valid JSON object containing
// position pos, trying nearest opening braces first.
func enclosingObject(data []byte, pos int) ([]byte, bool) {
	candidates := 0
	for start := pos; start >= 0 && candidates < maxEnclosingCandidates; start-- {
		if data[start] != '{' {
			continue
		}
		candidates++
		end, ok := matchBrace(data, start)
		if !ok || end < pos {
			continue
		}
		span := data[start : end+1]
		if gjson.ValidBytes(span) && gjson.ParseBytes(span).IsObject() {
			return span, true
		}
	}
	return nil, false
}

// matchBrace scans forward from an opening brace to its matching close,
// tracking string literals and escapes. Returns the close index.
func matchBrace(data []byte, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
