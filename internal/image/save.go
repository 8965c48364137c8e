package image

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
)

// SavePNG writes img to path as PNG.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// ParseBlendMode parses a blend mode name such as "difference".
func ParseBlendMode(s string) (BlendMode, error) {
	for _, m := range []BlendMode{BlendNormal, BlendDifference, BlendScreen} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return BlendNormal, fmt.Errorf("unknown blend mode %q", s)
}
