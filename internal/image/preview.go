package image

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// BlendMode specifies how the aligned frame is laid over the reference.
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendDifference
	BlendScreen
)

func (m BlendMode) String() string {
	switch m {
	case BlendNormal:
		return "Normal"
	case BlendDifference:
		return "Difference"
	case BlendScreen:
		return "Screen"
	default:
		return "Unknown"
	}
}

// Preview renders the aligned frame over the reference frame so the user
// can judge the alignment. The output has the reference's size; the aligned
// image is expected to match it and is clipped otherwise.
func Preview(reference, aligned image.Image, mode BlendMode, opacity float64) *image.RGBA {
	rb := reference.Bounds()
	result := image.NewRGBA(image.Rect(0, 0, rb.Dx(), rb.Dy()))
	draw.Draw(result, result.Bounds(), reference, rb.Min, draw.Src)

	if aligned == nil {
		return result
	}
	ab := aligned.Bounds()
	w := min(ab.Dx(), rb.Dx())
	h := min(ab.Dy(), rb.Dy())
	opacity = clamp(opacity, 0, 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := aligned.At(ab.Min.X+x, ab.Min.Y+y)
			dst := result.RGBAAt(x, y)
			result.SetRGBA(x, y, blend(dst, src, mode, opacity))
		}
	}
	return result
}

// blend performs the blend operation between two colors.
func blend(dst color.RGBA, src color.Color, mode BlendMode, opacity float64) color.RGBA {
	sr, sg, sb, sa := src.RGBA()
	sf := [4]float64{float64(sr) / 65535.0, float64(sg) / 65535.0, float64(sb) / 65535.0, float64(sa) / 65535.0}
	df := [3]float64{float64(dst.R) / 255.0, float64(dst.G) / 255.0, float64(dst.B) / 255.0}

	var rf [3]float64
	for i := 0; i < 3; i++ {
		switch mode {
		case BlendDifference:
			rf[i] = math.Abs(sf[i] - df[i])
		case BlendScreen:
			rf[i] = 1 - (1-sf[i])*(1-df[i])
		default:
			rf[i] = sf[i]
		}
	}

	alpha := sf[3] * opacity
	return color.RGBA{
		R: uint8(clamp(rf[0]*alpha+df[0]*(1-alpha), 0, 1)*255 + 0.5),
		G: uint8(clamp(rf[1]*alpha+df[1]*(1-alpha), 0, 1)*255 + 0.5),
		B: uint8(clamp(rf[2]*alpha+df[2]*(1-alpha), 0, 1)*255 + 0.5),
		A: 255,
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
