package alignment

import (
	"context"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"lens-measure/internal/capture"
	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texture(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(rng.Intn(256))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v/2, 255-v, 255
	}
	return img
}

func testStore(t *testing.T, w, h int, ids ...lens.Identity) *lens.Store {
	t.Helper()
	var profiles []*lens.Profile
	for _, id := range ids {
		profiles = append(profiles, &lens.Profile{
			Lens:       id,
			Intrinsics: lens.NewIntrinsics(0.8*float64(w), 0.8*float64(w), float64(w)/2, float64(h)/2),
			Distortion: []float64{0.05, -0.01, 0, 0, 0},
		})
	}
	s, err := lens.NewStore(profiles...)
	require.NoError(t, err)
	return s
}

func testPair(mode lens.Mode, first, second capture.Frame) capture.Pair {
	return capture.Pair{ID: "test", Epoch: 1, Mode: mode, First: first, Second: second}
}

func TestCropRectConcreteScenario(t *testing.T) {
	r, err := CropRect(4032, 3024, 77.0/26.0, Crop{}, 10)
	require.NoError(t, err)
	assert.InDelta(t, 1362, r.Width, 1)
	assert.InDelta(t, 1021, r.Height, 1)
	assert.True(t, r.Within(4032, 3024))
	// Centred without an offset.
	assert.InDelta(t, (4032-r.Width)/2, r.X, 1)
	assert.InDelta(t, (3024-r.Height)/2, r.Y, 1)
}

func TestCropRectAppliesOffset(t *testing.T) {
	centred, err := CropRect(4032, 3024, 3, Crop{}, 10)
	require.NoError(t, err)
	shifted, err := CropRect(4032, 3024, 3, Crop{Offset: geometry.NewPoint2D(-110, -40)}, 10)
	require.NoError(t, err)
	assert.Equal(t, centred.X-110, shifted.X)
	assert.Equal(t, centred.Y-40, shifted.Y)
	assert.Equal(t, centred.Width, shifted.Width)
}

func TestCropRectContainedForAdmissibleScales(t *testing.T) {
	crops := []Crop{{}, {FOVCorrection: 1.08}, {FOVCorrection: 1.5}}
	for _, c := range crops {
		for s := 1.0001; s <= 10; s += 0.0373 {
			r, err := CropRect(4032, 3024, s, c, 10)
			require.NoError(t, err, "scale %v crop %+v", s, c)
			require.True(t, r.Within(4032, 3024), "scale %v crop %+v: %+v", s, c, r)
		}
		r, err := CropRect(4032, 3024, 10, c, 10)
		require.NoError(t, err)
		assert.True(t, r.Within(4032, 3024))
	}
}

func TestCropRectTunedOffsetFitsTypicalScales(t *testing.T) {
	off := Crop{Offset: geometry.NewPoint2D(-110, -40)}
	for s := 1.2; s <= 10; s += 0.1 {
		r, err := CropRect(4032, 3024, s, off, 10)
		require.NoError(t, err, "scale %v", s)
		assert.True(t, r.Within(4032, 3024))
	}
}

func TestCropRectRejectsOffsetOutsideImage(t *testing.T) {
	_, err := CropRect(4032, 3024, 77.0/26.0, Crop{Offset: geometry.NewPoint2D(5000, -4000)}, 10)
	assert.ErrorIs(t, err, ErrCropOutOfBounds)

	_, err = CropRect(4032, 3024, 2, Crop{Offset: geometry.NewPoint2D(-1009, 0)}, 10)
	assert.ErrorIs(t, err, ErrCropOutOfBounds)

	// The margin at scale 2 is exactly 1008 px wide on each side.
	r, err := CropRect(4032, 3024, 2, Crop{Offset: geometry.NewPoint2D(-1008, 756)}, 10)
	require.NoError(t, err)
	assert.Equal(t, geometry.RectInt{X: 0, Y: 1512, Width: 2016, Height: 1512}, r)

	// A full-frame crop leaves no room for any offset.
	_, err = CropRect(4032, 3024, 1.05, Crop{FOVCorrection: 1.08, Offset: geometry.NewPoint2D(1, 0)}, 10)
	assert.ErrorIs(t, err, ErrCropOutOfBounds)
}

func TestCropRectFOVCorrectionNeverExceedsFrame(t *testing.T) {
	r, err := CropRect(4032, 3024, 1.05, Crop{FOVCorrection: 1.08}, 10)
	require.NoError(t, err)
	assert.Equal(t, geometry.RectInt{Width: 4032, Height: 3024}, r)

	r, err = CropRect(4032, 3024, 2.16, Crop{FOVCorrection: 1.08}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2016, r.Width)
	assert.Equal(t, 1512, r.Height)
}

func TestAlignTeleWide(t *testing.T) {
	store := testStore(t, 300, 240, lens.Wide, lens.Telephoto)
	wide := capture.Frame{Lens: lens.Wide, Image: texture(300, 240, 1), FocalLength35mm: 26}
	tele := capture.Frame{Lens: lens.Telephoto, Image: texture(300, 240, 2), FocalLength35mm: 77}

	a := NewAligner(DefaultOptions())
	out, err := a.Align(context.Background(), testPair(lens.TeleWide, tele, wide), store)
	require.NoError(t, err)

	assert.Equal(t, lens.Wide, out.ShortLens)
	assert.Equal(t, lens.Telephoto, out.LongLens)
	assert.InDelta(t, 77.0/26.0, out.ScaleFactor, 1e-12)
	assert.Greater(t, out.ScaleFactor, 1.0)

	assert.Equal(t, image.Rect(0, 0, 100, 80), out.Reference.Bounds())
	assert.Equal(t, out.Reference.Bounds(), out.Aligned.Bounds())
	assert.Equal(t, geometry.Size{Width: 300, Height: 240}, out.LongSize)

	assert.InDelta(t, 101, out.CropRect.Width, 1)
	assert.InDelta(t, 81, out.CropRect.Height, 1)

	origin := out.AlignedToShort.Apply(geometry.Point2D{})
	assert.InDelta(t, float64(out.CropRect.X), origin.X, 1e-9)
	corner := out.AlignedToShort.Apply(geometry.NewPoint2D(100, 80))
	assert.InDelta(t, float64(out.CropRect.X+out.CropRect.Width), corner.X, 1e-9)
	assert.InDelta(t, float64(out.CropRect.Y+out.CropRect.Height), corner.Y, 1e-9)

	full := out.ReferenceToLong().Apply(geometry.NewPoint2D(100, 80))
	assert.InDelta(t, 300, full.X, 1e-9)
}

func TestAlignWideUltraWideUsesModeCrop(t *testing.T) {
	store := testStore(t, 300, 240, lens.Wide, lens.UltraWide)
	uw := capture.Frame{Lens: lens.UltraWide, Image: texture(300, 240, 3), FocalLength35mm: 13}
	wide := capture.Frame{Lens: lens.Wide, Image: texture(300, 240, 4), FocalLength35mm: 26}

	opts := DefaultOptions()
	opts.Crops = map[lens.Mode]Crop{lens.WideUltraWide: {Offset: geometry.NewPoint2D(10, 5)}}
	out, err := NewAligner(opts).Align(context.Background(), testPair(lens.WideUltraWide, uw, wide), store)
	require.NoError(t, err)

	assert.Equal(t, lens.UltraWide, out.ShortLens)
	assert.Equal(t, 2.0, out.ScaleFactor)
	assert.Equal(t, geometry.RectInt{X: 85, Y: 65, Width: 150, Height: 120}, out.CropRect)
}

func TestAlignTieIsInvalidScale(t *testing.T) {
	store := testStore(t, 60, 40, lens.Wide, lens.Telephoto)
	first := capture.Frame{Lens: lens.Wide, Image: texture(60, 40, 1), FocalLength35mm: 26}
	second := capture.Frame{Lens: lens.Telephoto, Image: texture(60, 40, 2), FocalLength35mm: 26}

	_, err := NewAligner(DefaultOptions()).Align(context.Background(), testPair(lens.TeleWide, first, second), store)
	assert.ErrorIs(t, err, ErrInvalidScaleFactor)
}

func TestAlignMissingFocal(t *testing.T) {
	store := testStore(t, 60, 40, lens.Wide, lens.Telephoto)
	first := capture.Frame{Lens: lens.Wide, Image: texture(60, 40, 1), FocalLength35mm: 26}
	second := capture.Frame{Lens: lens.Telephoto, Image: texture(60, 40, 2)}

	_, err := NewAligner(DefaultOptions()).Align(context.Background(), testPair(lens.TeleWide, first, second), store)
	assert.ErrorIs(t, err, ErrMissingFocalMetadata)
}

func TestAlignMissingProfile(t *testing.T) {
	store := testStore(t, 60, 40, lens.Wide)
	first := capture.Frame{Lens: lens.Wide, Image: texture(60, 40, 1), FocalLength35mm: 26}
	second := capture.Frame{Lens: lens.Telephoto, Image: texture(60, 40, 2), FocalLength35mm: 77}

	_, err := NewAligner(DefaultOptions()).Align(context.Background(), testPair(lens.TeleWide, first, second), store)
	assert.ErrorIs(t, err, ErrUndistortionFailure)
}

func TestAlignScaleTooLarge(t *testing.T) {
	store := testStore(t, 600, 400, lens.Wide, lens.Telephoto)
	first := capture.Frame{Lens: lens.Wide, Image: texture(600, 400, 1), FocalLength35mm: 13}
	second := capture.Frame{Lens: lens.Telephoto, Image: texture(600, 400, 2), FocalLength35mm: 240}

	_, err := NewAligner(DefaultOptions()).Align(context.Background(), testPair(lens.TeleWide, first, second), store)
	assert.ErrorIs(t, err, ErrCropOutOfBounds)
}

func TestAlignIsDeterministic(t *testing.T) {
	store := testStore(t, 120, 90, lens.Wide, lens.Telephoto)
	pair := testPair(lens.TeleWide,
		capture.Frame{Lens: lens.Wide, Image: texture(120, 90, 7), FocalLength35mm: 26},
		capture.Frame{Lens: lens.Telephoto, Image: texture(120, 90, 8), FocalLength35mm: 52},
	)
	a := NewAligner(DefaultOptions())
	x, err := a.Align(context.Background(), pair, store)
	require.NoError(t, err)
	y, err := a.Align(context.Background(), pair, store)
	require.NoError(t, err)

	assert.Equal(t, toRGBA(x.Reference).Pix, toRGBA(y.Reference).Pix)
	assert.Equal(t, toRGBA(x.Aligned).Pix, toRGBA(y.Aligned).Pix)
	assert.Equal(t, x.CropRect, y.CropRect)
}

func TestAlignHonoursCancellation(t *testing.T) {
	store := testStore(t, 120, 90, lens.Wide, lens.Telephoto)
	pair := testPair(lens.TeleWide,
		capture.Frame{Lens: lens.Wide, Image: texture(120, 90, 7), FocalLength35mm: 26},
		capture.Frame{Lens: lens.Telephoto, Image: texture(120, 90, 8), FocalLength35mm: 52},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAligner(DefaultOptions()).Align(ctx, pair, store)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUndistortWithoutDistortionIsCopy(t *testing.T) {
	p := &lens.Profile{Lens: lens.Wide, Intrinsics: lens.NewIntrinsics(50, 50, 32, 24)}
	cam, err := p.Camera(64, 48)
	require.NoError(t, err)

	src := texture(64, 48, 9)
	out, err := Undistort(context.Background(), src, cam)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)
	out.Pix[0] = ^out.Pix[0]
	assert.NotEqual(t, src.Pix[0], out.Pix[0], "output must not alias the input")
}

func TestUndistortKeepsPrincipalPoint(t *testing.T) {
	p := &lens.Profile{
		Lens:       lens.Wide,
		Intrinsics: lens.NewIntrinsics(50, 50, 32, 24),
		Distortion: []float64{-0.3, 0.1, 0, 0},
	}
	cam, err := p.Camera(64, 48)
	require.NoError(t, err)

	src := texture(64, 48, 10)
	out, err := Undistort(context.Background(), src, cam)
	require.NoError(t, err)
	assert.Equal(t, src.RGBAAt(32, 24), out.RGBAAt(32, 24))
	// Barrel distortion pushes corners outside the recorded frame.
	assert.NotEqual(t, src.Pix, out.Pix)
}

func TestUndistortMapsFollowRadialModel(t *testing.T) {
	p := &lens.Profile{
		Lens:       lens.Wide,
		Intrinsics: lens.NewIntrinsics(100, 100, 50, 50),
		Distortion: []float64{0.1, 0, 0, 0},
	}
	cam, err := p.Camera(100, 100)
	require.NoError(t, err)

	mapX, mapY := undistortMaps(cam, 101, 100)
	defer mapX.Close()
	defer mapY.Close()
	require.Equal(t, 100, mapX.Rows())
	require.Equal(t, 101, mapX.Cols())

	// Normalized (0.5, 0) distorts to 0.5 * (1 + 0.1*0.25) = 0.5125.
	assert.InDelta(t, 101.25, mapX.GetFloatAt(50, 100), 1e-3)
	assert.InDelta(t, 50, mapY.GetFloatAt(50, 100), 1e-3)
	// The principal point maps onto itself.
	assert.InDelta(t, 50, mapX.GetFloatAt(50, 50), 1e-4)
	assert.InDelta(t, 50, mapY.GetFloatAt(50, 50), 1e-4)
}

func TestUndistortKeepsCentreColumn(t *testing.T) {
	p := &lens.Profile{
		Lens:       lens.Wide,
		Intrinsics: lens.NewIntrinsics(60, 60, 40, 30),
		Distortion: []float64{-0.2, 0, 0, 0},
	}
	cam, err := p.Camera(80, 60)
	require.NoError(t, err)

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black := color.RGBA{A: 255}
	src := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			src.SetRGBA(x, y, black)
		}
		src.SetRGBA(40, y, white)
	}

	out, err := Undistort(context.Background(), src, cam)
	require.NoError(t, err)
	// x = cx has no radial displacement, so the column is sampled in place.
	assert.Equal(t, white, out.RGBAAt(40, 30))
	assert.Equal(t, white, out.RGBAAt(40, 10))
	assert.Equal(t, black, out.RGBAAt(20, 30))
}

func TestUndistortHonoursCancellation(t *testing.T) {
	p := &lens.Profile{
		Lens:       lens.Wide,
		Intrinsics: lens.NewIntrinsics(50, 50, 32, 24),
		Distortion: []float64{-0.3, 0.1, 0, 0},
	}
	cam, err := p.Camera(64, 48)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Undistort(ctx, texture(64, 48, 11), cam)
	assert.ErrorIs(t, err, context.Canceled)
}
