// Package image provides frame decoding with capture metadata, aligned-pair
// previews and measurement overlays.
package image

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lens-measure/internal/lens"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
)

// Source is a decoded photo together with the capture metadata the
// alignment needs.
type Source struct {
	Path  string
	Image image.Image

	// FocalLength35mm is the EXIF FocalLengthIn35mmFilm value, or 0 when
	// the file carries none.
	FocalLength35mm float64

	// CapturedAt is the EXIF capture time, falling back to the file's
	// modification time.
	CapturedAt time.Time

	// Lens is guessed from the file name; LensKnown reports whether the
	// guess matched anything.
	Lens      lens.Identity
	LensKnown bool
}

// Load decodes an image file and reads its EXIF metadata.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	src := &Source{Path: path, Image: img}
	if info, err := os.Stat(path); err == nil {
		src.CapturedAt = info.ModTime()
	}

	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		src.FocalLength35mm = focalLength35mm(x)
		if t, err := x.DateTime(); err == nil {
			src.CapturedAt = t
		}
	}

	src.Lens, src.LensKnown = guessLensFromFilename(path)
	return src, nil
}

// Width returns the image width in pixels.
func (s *Source) Width() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (s *Source) Height() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dy()
}

func focalLength35mm(x *exif.Exif) float64 {
	tag, err := x.Get(exif.FocalLengthIn35mmFilm)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil || v <= 0 {
		return 0
	}
	return float64(v)
}

// guessLensFromFilename attempts to determine the lens from the file name.
// Ultra-wide is checked first because its keywords contain "wide".
func guessLensFromFilename(path string) (lens.Identity, bool) {
	base := strings.ToLower(filepath.Base(path))

	for _, kw := range []string{"ultrawide", "ultra_wide", "ultra-wide", "uwide", "0.5x"} {
		if strings.Contains(base, kw) {
			return lens.UltraWide, true
		}
	}
	for _, kw := range []string{"telephoto", "tele", "3x", "2x"} {
		if strings.Contains(base, kw) {
			return lens.Telephoto, true
		}
	}
	for _, kw := range []string{"wide", "main", "1x"} {
		if strings.Contains(base, kw) {
			return lens.Wide, true
		}
	}
	return lens.Wide, false
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".tiff", ".tif"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
