// Package cvmat converts between Go images and gocv matrices.
package cvmat

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"

	"lens-measure/pkg/colorutil"

	"gocv.io/x/gocv"
)

// ErrEmpty is returned when there are no pixels to convert.
var ErrEmpty = errors.New("empty image")

// FromImage converts img to an 8-bit BGR Mat. The returned Mat is always
// valid and the caller closes it, also when err is set.
func FromImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), ErrEmpty
	}

	buf := make([]byte, width*height*3)
	rgba, fast := img.(*image.RGBA)
	stripes(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := buf[y*width*3 : (y+1)*width*3]
			for x := 0; x < width; x++ {
				var r, g, b uint8
				if fast {
					i := rgba.PixOffset(x+bounds.Min.X, y+bounds.Min.Y)
					r, g, b = rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
				} else {
					r16, g16, b16, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
					r, g, b = uint8(r16>>8), uint8(g16>>8), uint8(b16>>8)
				}
				row[x*3+0], row[x*3+1], row[x*3+2] = b, g, r
			}
		}
	})
	return fromBytes(height, width, gocv.MatTypeCV8UC3, buf)
}

// Gray converts the part of img inside r to an 8-bit luminance Mat. As with
// FromImage the caller always closes the result.
func Gray(img image.Image, r image.Rectangle) (gocv.Mat, error) {
	r = r.Intersect(img.Bounds())
	width, height := r.Dx(), r.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), ErrEmpty
	}

	buf := make([]byte, width*height)
	rgba, fast := img.(*image.RGBA)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var v float64
			if fast {
				i := rgba.PixOffset(x+r.Min.X, y+r.Min.Y)
				v = colorutil.Luma(rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2])
			} else {
				r16, g16, b16, _ := img.At(x+r.Min.X, y+r.Min.Y).RGBA()
				v = colorutil.Luma16(r16, g16, b16)
			}
			buf[y*width+x] = uint8(math.Min(255, math.Round(v)))
		}
	}
	return fromBytes(height, width, gocv.MatTypeCV8UC1, buf)
}

// ToImage converts a continuous 8-bit BGR or gray Mat to an opaque
// *image.RGBA.
func ToImage(m gocv.Mat) (*image.RGBA, error) {
	if m.Empty() {
		return nil, ErrEmpty
	}
	var channels int
	switch m.Type() {
	case gocv.MatTypeCV8UC3:
		channels = 3
	case gocv.MatTypeCV8UC1:
		channels = 1
	default:
		return nil, fmt.Errorf("unsupported mat type %v", m.Type())
	}

	h, w := m.Rows(), m.Cols()
	data := m.ToBytes()
	if len(data) < w*h*channels {
		return nil, fmt.Errorf("mat holds %d bytes, want %d", len(data), w*h*channels)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			src := data[y*w*channels:]
			row := img.Pix[y*img.Stride:]
			for x := 0; x < w; x++ {
				i := x * 4
				if channels == 1 {
					v := src[x]
					row[i+0], row[i+1], row[i+2] = v, v, v
				} else {
					row[i+0], row[i+1], row[i+2] = src[x*3+2], src[x*3+1], src[x*3+0]
				}
				row[i+3] = 255
			}
		}
	})
	return img, nil
}

// fromBytes copies buf into a Mat the caller owns. NewMatFromBytes only
// wraps the Go slice, so the data is cloned into OpenCV memory.
func fromBytes(rows, cols int, mt gocv.MatType, buf []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, mt, buf)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer view.Close()
	m := view.Clone()
	runtime.KeepAlive(buf)
	return m, nil
}

// stripes runs fn over [0, height) split into one band per CPU and waits
// for all bands.
func stripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		if startY >= height {
			break
		}
		endY := min(startY+rowsPerWorker, height)

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
