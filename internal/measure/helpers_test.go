package measure

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"lens-measure/internal/alignment"
	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"github.com/stretchr/testify/require"
)

// blocks renders a random block pattern sampled shift pixels to the right,
// so blocks(..., s)(x-s, y) == blocks(..., 0)(x, y).
func blocks(w, h, block, shift int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	off := 128
	cols, rows := (w+off*2)/block+1, h/block+1
	levels := make([]uint8, cols*rows)
	for i := range levels {
		levels[i] = uint8(rng.Intn(256))
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := levels[(y/block)*cols+(x+shift+off)/block]
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// stereoStore calibrates a telephoto lens 12 mm to the right of the wide
// lens, both with the given focal length at w x h.
func stereoStore(t *testing.T, w, h int, fx, baseline float64) *lens.Store {
	t.Helper()
	k := lens.NewIntrinsics(fx, fx, float64(w)/2, float64(h)/2)
	store, err := lens.NewStore(
		&lens.Profile{Lens: lens.Wide, Intrinsics: k},
		&lens.Profile{Lens: lens.Telephoto, Intrinsics: k, BaselineOffset: geometry.NewPoint2D(baseline, 0)},
	)
	require.NoError(t, err)
	return store
}

// stereoPair builds an aligned pair whose aligned frame is the reference
// shifted by disparity pixels.
func stereoPair(w, h, disparity int, refScale float64) *alignment.FramePair {
	return &alignment.FramePair{
		PairID:         "pair",
		Mode:           lens.TeleWide,
		Reference:      blocks(w, h, 6, 0, 11),
		Aligned:        blocks(w, h, 6, disparity, 11),
		ScaleFactor:    77.0 / 26.0,
		ReferenceScale: refScale,
		ShortLens:      lens.Wide,
		LongLens:       lens.Telephoto,
		LongSize:       geometry.Size{Width: float64(w) / refScale, Height: float64(h) / refScale},
	}
}
