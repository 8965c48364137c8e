// Package alignment brings the two frames of a dual-lens capture into a
// common scale and field of view.
package alignment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"

	"lens-measure/internal/capture"
	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"github.com/nfnt/resize"
)

var (
	ErrMissingFocalMetadata = errors.New("missing focal length metadata")
	ErrUndistortionFailure  = errors.New("undistortion failed")
	ErrInvalidScaleFactor   = errors.New("invalid scale factor")
	ErrCropOutOfBounds      = errors.New("crop rectangle out of bounds")
)

// Crop holds the device-specific crop constants of one capture mode.
type Crop struct {
	// Offset moves the crop away from the image centre, in short-focal
	// pixels.
	Offset geometry.Point2D

	// FOVCorrection divides the focal ratio before the crop size is
	// computed. Zero or one leaves the ratio untouched.
	FOVCorrection float64
}

// Options configures the alignment process.
type Options struct {
	// ReferenceScale downsizes the long-focal reference image to bound
	// memory. It must be in (0, 1].
	ReferenceScale float64

	// MaxScaleFactor is the largest focal ratio that can still be cropped.
	MaxScaleFactor float64

	// Crops holds per-mode crop constants; missing modes use a centred crop.
	Crops map[lens.Mode]Crop

	// SkipUndistort bypasses lens correction (debugging only).
	SkipUndistort bool
}

// DefaultOptions returns default alignment options.
func DefaultOptions() Options {
	return Options{
		ReferenceScale: 1.0 / 3.0,
		MaxScaleFactor: 10,
	}
}

// FramePair is the immutable output of Align.
type FramePair struct {
	PairID string
	Mode   lens.Mode

	// Reference is the undistorted long-focal frame scaled by ReferenceScale.
	Reference image.Image
	// Aligned is the undistorted short-focal frame cropped to the long
	// lens' field of view and resized to Reference's dimensions.
	Aligned image.Image

	ScaleFactor    float64
	ReferenceScale float64

	ShortLens, LongLens   lens.Identity
	ShortFocal, LongFocal float64

	// CropRect is the crop taken from the undistorted short-focal frame.
	CropRect geometry.RectInt
	// LongSize is the full-resolution size of the long-focal frame.
	LongSize geometry.Size

	// AlignedToShort maps Aligned pixel coordinates into the undistorted
	// short-focal frame.
	AlignedToShort geometry.AffineTransform
}

// Size returns the common size of Reference and Aligned.
func (p *FramePair) Size() geometry.Size {
	return geometry.SizeOf(p.Reference.Bounds())
}

// Bounds returns the pixel rectangle points on the pair must lie in.
func (p *FramePair) Bounds() geometry.Rect {
	s := p.Size()
	return geometry.Rect{Width: s.Width, Height: s.Height}
}

// ReferenceToLong maps Reference pixel coordinates into the full-resolution
// long-focal frame.
func (p *FramePair) ReferenceToLong() geometry.AffineTransform {
	return geometry.Scale(1/p.ReferenceScale, 1/p.ReferenceScale)
}

// Aligner performs scale alignment. It holds no mutable state; one Aligner
// may serve concurrent calls.
type Aligner struct {
	opts Options
}

// NewAligner creates an Aligner, filling unset options with defaults.
func NewAligner(opts Options) *Aligner {
	def := DefaultOptions()
	if opts.ReferenceScale <= 0 || opts.ReferenceScale > 1 {
		opts.ReferenceScale = def.ReferenceScale
	}
	if opts.MaxScaleFactor <= 1 {
		opts.MaxScaleFactor = def.MaxScaleFactor
	}
	return &Aligner{opts: opts}
}

// Options returns the effective options.
func (a *Aligner) Options() Options {
	return a.opts
}

type side struct {
	frame   capture.Frame
	profile *lens.Profile
	camera  *lens.Camera
}

// Align undistorts, classifies, crops and rescales a capture pair. The same
// inputs always produce the same output.
func (a *Aligner) Align(ctx context.Context, pair capture.Pair, store *lens.Store) (*FramePair, error) {
	// Step 1: focal metadata
	for _, f := range pair.Frames() {
		if !(f.FocalLength35mm > 0) || math.IsInf(f.FocalLength35mm, 0) {
			return nil, fmt.Errorf("%w: %s frame", ErrMissingFocalMetadata, f.Lens)
		}
		if f.Image == nil || f.Image.Bounds().Empty() {
			return nil, fmt.Errorf("%w: %s frame has no pixels", ErrUndistortionFailure, f.Lens)
		}
	}

	// Step 2: classify; on a tie the first frame received is the short one
	short, long := side{frame: pair.First}, side{frame: pair.Second}
	if pair.Second.FocalLength35mm < pair.First.FocalLength35mm {
		short, long = long, short
	}

	// Step 3a: resolve lens models before any pixel work
	for _, s := range []*side{&short, &long} {
		p, ok := store.Profile(s.frame.Lens)
		if !ok {
			return nil, fmt.Errorf("%w: no calibration profile for %s", ErrUndistortionFailure, s.frame.Lens)
		}
		b := s.frame.Image.Bounds()
		cam, err := p.Camera(b.Dx(), b.Dy())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUndistortionFailure, err)
		}
		s.profile, s.camera = p, cam
	}

	// Step 4: focal ratio
	scale := long.frame.FocalLength35mm / short.frame.FocalLength35mm
	if !(scale > 1) {
		return nil, fmt.Errorf("%w: %.4g/%.4g = %.4g (must be > 1)", ErrInvalidScaleFactor,
			long.frame.FocalLength35mm, short.frame.FocalLength35mm, scale)
	}
	if wider := pair.Mode.Wider(); short.frame.Lens != wider {
		log.Printf("Align: %s: %s frame reports the longer focal length", pair.ID, wider)
	}

	sb := short.frame.Image.Bounds()
	cropRect, err := CropRect(sb.Dx(), sb.Dy(), scale, a.opts.Crops[pair.Mode], a.opts.MaxScaleFactor)
	if err != nil {
		return nil, err
	}

	// Step 3b: undistort
	shortImg, err := a.undistort(ctx, short)
	if err != nil {
		return nil, err
	}
	longImg, err := a.undistort(ctx, long)
	if err != nil {
		return nil, err
	}

	// Step 5: crop the short-focal frame to the long lens' field of view
	cropped := copyRect(shortImg, cropRect.ImageRect().Add(shortImg.Bounds().Min))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 6: downscale the reference, bring the crop to the same size
	lb := longImg.Bounds()
	refW := max(1, int(math.Round(float64(lb.Dx())*a.opts.ReferenceScale)))
	refH := max(1, int(math.Round(float64(lb.Dy())*a.opts.ReferenceScale)))
	reference := resize.Resize(uint(refW), uint(refH), longImg, resize.Bilinear)
	aligned := resize.Resize(uint(refW), uint(refH), cropped, resize.Bilinear)

	alignedToShort := geometry.Translation(float64(cropRect.X), float64(cropRect.Y)).
		Compose(geometry.Scale(float64(cropRect.Width)/float64(refW), float64(cropRect.Height)/float64(refH)))

	log.Printf("Align: %s: %s %.0fmm / %s %.0fmm, scale %.3f, crop %dx%d+%d+%d, reference %dx%d",
		pair.ID, short.frame.Lens, short.frame.FocalLength35mm, long.frame.Lens, long.frame.FocalLength35mm,
		scale, cropRect.Width, cropRect.Height, cropRect.X, cropRect.Y, refW, refH)

	// Step 7
	return &FramePair{
		PairID:         pair.ID,
		Mode:           pair.Mode,
		Reference:      reference,
		Aligned:        aligned,
		ScaleFactor:    scale,
		ReferenceScale: a.opts.ReferenceScale,
		ShortLens:      short.frame.Lens,
		LongLens:       long.frame.Lens,
		ShortFocal:     short.frame.FocalLength35mm,
		LongFocal:      long.frame.FocalLength35mm,
		CropRect:       cropRect,
		LongSize:       geometry.SizeOf(lb),
		AlignedToShort: alignedToShort,
	}, nil
}

func (a *Aligner) undistort(ctx context.Context, s side) (*image.RGBA, error) {
	if a.opts.SkipUndistort {
		return toRGBA(s.frame.Image), nil
	}
	out, err := Undistort(ctx, s.frame.Image, s.camera)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUndistortionFailure, s.frame.Lens, err)
	}
	return out, nil
}
