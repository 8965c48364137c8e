package measure

import (
	"context"
	"fmt"
	"image"
	"math"

	"lens-measure/internal/cvmat"
	"lens-measure/pkg/geometry"

	"gocv.io/x/gocv"
)

// BlockMatcher estimates disparity at a single point by sliding a window of
// the reference along the same rows of the aligned frame and keeping the
// offset with the lowest sum of squared luminance differences.
type BlockMatcher struct {
	// Radius is the half-size of the square window. Zero means 5.
	Radius int
	// MaxDisparity bounds the search in both directions. Zero means 64.
	MaxDisparity int
	// MinContrast is the smallest luminance spread the reference window
	// must have to be matched. Zero means 4.
	MinContrast float64
}

func (m BlockMatcher) params() (radius, maxDisparity int, minContrast float64) {
	radius, maxDisparity, minContrast = m.Radius, m.MaxDisparity, m.MinContrast
	if radius <= 0 {
		radius = 5
	}
	if maxDisparity <= 0 {
		maxDisparity = 64
	}
	if minContrast <= 0 {
		minContrast = 4
	}
	return
}

// Disparity returns the integer offset d such that aligned(x-d, y) best
// matches reference(x, y) around p. The window is clipped to the reference
// frame, and the search runs as one OpenCV template match over the row
// strip of the aligned frame that the disparity range can reach.
func (m BlockMatcher) Disparity(ctx context.Context, reference, aligned image.Image, p geometry.Point2D) (float64, error) {
	radius, maxDisparity, minContrast := m.params()
	cx, cy := int(math.Round(p.X)), int(math.Round(p.Y))
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	win := image.Rect(cx-radius, cy-radius, cx+radius+1, cy+radius+1).Intersect(reference.Bounds())
	if win.Empty() {
		return 0, fmt.Errorf("point (%d, %d) outside the reference frame", cx, cy)
	}
	strip := image.Rect(win.Min.X-maxDisparity, win.Min.Y, win.Max.X+maxDisparity, win.Max.Y).
		Intersect(aligned.Bounds())
	if strip.Dx() < win.Dx() || strip.Dy() < win.Dy() {
		return 0, fmt.Errorf("no overlap around (%d, %d)", cx, cy)
	}

	templ, err := cvmat.Gray(reference, win)
	defer templ.Close()
	if err != nil {
		return 0, err
	}
	lo, hi, _, _ := gocv.MinMaxLoc(templ)
	if !(float64(hi-lo) >= minContrast) {
		return 0, fmt.Errorf("no texture around (%d, %d)", cx, cy)
	}

	search, err := cvmat.Gray(aligned, strip)
	defer search.Close()
	if err != nil {
		return 0, err
	}

	cost := gocv.NewMat()
	defer cost.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(search, templ, &cost, gocv.TmSqdiff, mask)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Column j places the window's left edge at strip.Min.X+j in the
	// aligned frame. True costs are integer sums, so anything within half a
	// unit is OpenCV rounding and counts as a tie; ties go to the smaller
	// shift.
	const tie = 0.5
	best, bestCost := 0, math.Inf(1)
	for j := 0; j < cost.Cols(); j++ {
		d := win.Min.X - strip.Min.X - j
		c := float64(cost.GetFloatAt(0, j))
		if c < bestCost-tie || (c <= bestCost+tie && abs(d) < abs(best)) {
			best, bestCost = d, c
		}
	}
	if math.IsInf(bestCost, 1) {
		return 0, fmt.Errorf("no overlap around (%d, %d)", cx, cy)
	}
	return float64(best), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
