package disparity

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"lens-measure/internal/alignment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blocks renders a random block pattern, shifted left by shift pixels.
func blocks(w, h, block, shift int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	cols, rows := (w+shift)/block+1, h/block+1
	levels := make([]uint8, cols*rows)
	for i := range levels {
		levels[i] = uint8(rng.Intn(256))
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := levels[(y/block)*cols+(x+shift)/block]
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestORBMatcherRecoversShift(t *testing.T) {
	pair := &alignment.FramePair{
		PairID:    "shift",
		Reference: blocks(320, 240, 8, 0, 5),
		Aligned:   blocks(320, 240, 8, 6, 5),
	}

	art, err := NewORBMatcher(DefaultOptions()).Match(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, "shift", art.PairID)
	assert.GreaterOrEqual(t, len(art.Matches), DefaultOptions().MinMatches)
	assert.GreaterOrEqual(t, art.Candidates, len(art.Matches))

	d, ok := art.MedianDisparity()
	require.True(t, ok)
	assert.InDelta(t, 6, d, 1.5)

	require.NotNil(t, art.Image)
	assert.Equal(t, image.Rect(0, 0, 640, 240), art.Image.Bounds())
}

func TestORBMatcherBlankImageIsUnavailable(t *testing.T) {
	blank := image.NewRGBA(image.Rect(0, 0, 160, 120))
	pair := &alignment.FramePair{Reference: blank, Aligned: blank}

	_, err := NewORBMatcher(DefaultOptions()).Match(context.Background(), pair)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestORBMatcherRejectsMissingPair(t *testing.T) {
	m := NewORBMatcher(Options{})
	_, err := m.Match(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = m.Match(context.Background(), &alignment.FramePair{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestORBMatcherHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := blocks(64, 64, 8, 0, 1)
	_, err := NewORBMatcher(DefaultOptions()).Match(ctx, &alignment.FramePair{Reference: img, Aligned: img})
	assert.ErrorIs(t, err, context.Canceled)
}
