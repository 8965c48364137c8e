package image

import (
	"image"
	"image/color"
	"math"

	"lens-measure/pkg/colorutil"
	"lens-measure/pkg/geometry"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MarkerColor is used for measurement points and the line between them.
var MarkerColor = colorutil.Marker

// DrawMeasurement copies base and draws the two measured points, the segment
// joining them and a text label next to the midpoint.
func DrawMeasurement(base image.Image, a, b geometry.Point2D, label string) *image.RGBA {
	bounds := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), base, bounds.Min, draw.Src)

	drawLine(dst, a, b, MarkerColor, 2)
	drawDisc(dst, a, 5, MarkerColor)
	drawDisc(dst, b, 5, MarkerColor)

	if label != "" {
		mid := a.Add(b).Scale(0.5)
		drawLabel(dst, mid.Round().Add(image.Pt(8, -8)), label)
	}
	return dst
}

func drawDisc(dst *image.RGBA, c geometry.Point2D, radius float64, col color.RGBA) {
	r := int(math.Ceil(radius))
	cx, cy := int(math.Round(c.X)), int(math.Round(c.Y))
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := float64(x)-c.X, float64(y)-c.Y
			if dx*dx+dy*dy <= radius*radius && image.Pt(x, y).In(dst.Bounds()) {
				dst.SetRGBA(x, y, col)
			}
		}
	}
}

func drawLine(dst *image.RGBA, a, b geometry.Point2D, col color.RGBA, width float64) {
	length := a.Distance(b)
	steps := int(math.Ceil(length))
	if steps == 0 {
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := geometry.Point2D{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
		drawDisc(dst, p, width/2, col)
	}
}

func drawLabel(dst *image.RGBA, at image.Point, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	box := image.Rect(at.X-3, at.Y-face.Ascent-3, at.X+width+3, at.Y+face.Descent+3).Intersect(dst.Bounds())
	draw.Draw(dst, box, image.NewUniform(color.RGBA{A: 160}), image.Point{}, draw.Over)

	d.Dot = fixed.P(at.X, at.Y)
	d.DrawString(text)
}
