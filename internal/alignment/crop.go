package alignment

import (
	"fmt"
	"image"
	"math"

	"lens-measure/pkg/geometry"

	"golang.org/x/image/draw"
)

// CropRect computes the rectangle of a width x height short-focal frame that
// covers the long lens' field of view.
//
// The rectangle is (width, height) / (scale / FOVCorrection), centred and
// then shifted by crop.Offset. The effective ratio never drops below 1, so
// a centred crop fits for every scale in (1, maxScale]. An offset that
// pushes the rectangle past the image edge is ErrCropOutOfBounds.
func CropRect(width, height int, scale float64, crop Crop, maxScale float64) (geometry.RectInt, error) {
	if !(scale > 1) || math.IsInf(scale, 0) {
		return geometry.RectInt{}, fmt.Errorf("%w: %.4g", ErrInvalidScaleFactor, scale)
	}
	if scale > maxScale {
		return geometry.RectInt{}, fmt.Errorf("%w: scale %.4g exceeds %.4g", ErrCropOutOfBounds, scale, maxScale)
	}

	effective := scale
	if crop.FOVCorrection > 0 {
		effective = math.Max(1, scale/crop.FOVCorrection)
	}

	cw := int(math.Round(float64(width) / effective))
	ch := int(math.Round(float64(height) / effective))
	if cw < 1 || ch < 1 || cw > width || ch > height {
		return geometry.RectInt{}, fmt.Errorf("%w: %dx%d crop of %dx%d image", ErrCropOutOfBounds, cw, ch, width, height)
	}

	x := int(math.Round(float64(width-cw)/2 + crop.Offset.X))
	y := int(math.Round(float64(height-ch)/2 + crop.Offset.Y))
	r := geometry.RectInt{X: x, Y: y, Width: cw, Height: ch}
	if !r.Within(width, height) {
		return geometry.RectInt{}, fmt.Errorf("%w: %dx%d crop at (%d, %d) offset by (%g, %g) leaves the %dx%d image",
			ErrCropOutOfBounds, cw, ch, x, y, crop.Offset.X, crop.Offset.Y, width, height)
	}
	return r, nil
}

// copyRect copies r out of src into a new image with a zero origin.
func copyRect(src *image.RGBA, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}

// toRGBA returns img as a zero-origin *image.RGBA, copying when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
