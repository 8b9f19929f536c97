// Package imaging applies optional post-processing to asset bytes
// during package builds: metadata stripping, megapixel capping, and
// pluggable recompression. It only ever touches asset payloads; the
// manifest's logical card data is never altered here.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// Recompressor converts asset bytes to another encoding (for example
// WebP for images or WebM for video). Implementations typically shell
// out to an external tool, so the interface lives here and the engine
// decides whether to supply one.
type Recompressor interface {
	// Recompress returns the converted bytes and the new file
	// extension (without dot). Returning ok=false passes the asset
	// through untouched.
	Recompress(ext string, data []byte) (out []byte, newExt string, ok bool, err error)
}

// Options controls asset post-processing. The zero value disables
// everything.
type Options struct {
	// StripMetadata re-encodes images, dropping ancillary chunks and
	// EXIF blocks.
	StripMetadata bool
	// MaxMegapixels caps image dimensions; larger images are scaled
	// down preserving aspect ratio. Zero means no cap.
	MaxMegapixels float64
	// Quality is the JPEG re-encode quality (1-100). Zero uses the
	// encoder default.
	Quality int
	// Recompressor, when set, gets first claim on every asset.
	Recompressor Recompressor
}

// Enabled reports whether any processing step is configured.
func (o Options) Enabled() bool {
	return o.StripMetadata || o.MaxMegapixels > 0 || o.Recompressor != nil
}

// Process runs the configured steps over one asset. Non-image data
// passes through unchanged unless the recompressor claims it. The
// returned extension replaces the asset's extension when the encoding
// changed.
func Process(ext string, data []byte, opts Options) ([]byte, string, error) {
	if !opts.Enabled() {
		return data, ext, nil
	}
	if opts.Recompressor != nil {
		out, newExt, ok, err := opts.Recompressor.Recompress(ext, data)
		if err != nil {
			return nil, "", fmt.Errorf("recompress asset: %w", err)
		}
		if ok {
			return out, newExt, nil
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Not a decodable image. Sounds, video, and exotic formats
		// pass through untouched.
		return data, ext, nil
	}

	scaled := capMegapixels(img, opts.MaxMegapixels)
	if scaled == img && !opts.StripMetadata {
		return data, ext, nil
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		q := opts.Quality
		if q <= 0 {
			q = jpeg.DefaultQuality
		}
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: q}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "jpg", nil
	default:
		if err := png.Encode(&buf, scaled); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "png", nil
	}
}

// capMegapixels scales img down so width*height <= maxMP million
// pixels, preserving aspect ratio. Returns img unchanged when already
// within bounds or when no cap is set.
func capMegapixels(img image.Image, maxMP float64) image.Image {
	if maxMP <= 0 {
		return img
	}
	b := img.Bounds()
	pixels := float64(b.Dx()) * float64(b.Dy())
	limit := maxMP * 1_000_000
	if pixels <= limit {
		return img
	}
	scale := math.Sqrt(limit / pixels)
	w := int(math.Max(1, math.Floor(float64(b.Dx())*scale)))
	h := int(math.Max(1, math.Floor(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
