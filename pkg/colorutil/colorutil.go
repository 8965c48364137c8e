// Package colorutil provides shared colour helpers for overlays and image
// comparison.
package colorutil

import "image/color"

// Overlay colours.
var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Marker = color.RGBA{R: 227, G: 66, B: 52, A: 255}
)

// Luma returns the Rec. 601 luminance of an 8-bit RGB triple, in 0-255.
func Luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// Luma16 returns the luminance of the 16-bit components color.Color.RGBA
// reports, scaled to 0-255.
func Luma16(r, g, b uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257
}
