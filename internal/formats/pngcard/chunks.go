// Package pngcard embeds and extracts base64-encoded card JSON inside
// PNG tEXt ancillary chunks. Everything that is not a card-data chunk
// is preserved byte-for-byte; the codec never touches pixel data.
package pngcard

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
)

// pngMagic is the 8-byte PNG file signature.
var pngMagic = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// chunk is one raw PNG chunk: 4-byte type plus payload. Raw holds the
// original on-disk bytes (length + type + data + crc) so untouched
// chunks can be copied through verbatim.
type chunk struct {
	Type string
	Data []byte
	Raw  []byte
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return len(data) >= len(pngMagic) && bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// parseChunks splits a PNG byte stream into its chunks. An input
// without the PNG magic reports "not a PNG" (fallback eligible);
// structural damage after the magic reports corruption.
func parseChunks(data []byte) ([]chunk, error) {
	if !IsPNG(data) {
		return nil, cerrors.NewNotThisFormat("PNG", "missing magic bytes")
	}
	var chunks []chunk
	offset := len(pngMagic)
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, cerrors.NewParse("PNG", "truncated chunk header")
		}
		length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		end := offset + 8 + length + 4
		if length < 0 || end > len(data) {
			return nil, cerrors.NewParse("PNG", "chunk length exceeds file size")
		}
		chunks = append(chunks, chunk{
			Type: string(data[offset+4 : offset+8]),
			Data: data[offset+8 : offset+8+length],
			Raw:  data[offset:end],
		})
		offset = end
	}
	if len(chunks) == 0 || chunks[len(chunks)-1].Type != "IEND" {
		return nil, cerrors.NewParse("PNG", "missing IEND chunk")
	}
	return chunks, nil
}

// encodeChunk serializes a chunk with a freshly computed CRC. Only
// chunks the codec writes itself go through here; preserved chunks are
// copied from Raw.
func encodeChunk(typ string, data []byte) []byte {
	out := make([]byte, 0, 12+len(data))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	out = append(out, lenBuf[:]...)
	out = append(out, typ...)
	out = append(out, data...)

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc.Sum32())
	return append(out, crcBuf[:]...)
}

// splitText splits a tEXt payload into keyword and text at the NUL
// separator.
func splitText(data []byte) (keyword, text string, ok bool) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return "", "", false
	}
	return string(data[:idx]), string(data[idx+1:]), true
}

// textChunkData builds a tEXt payload from keyword and text.
func textChunkData(keyword, text string) []byte {
	out := make([]byte, 0, len(keyword)+1+len(text))
	out = append(out, keyword...)
	out = append(out, 0)
	return append(out, text...)
}
