// Package measure turns two points picked on an aligned frame pair into a
// metric distance, and drives the point selection state machine.
package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"lens-measure/internal/alignment"
	"lens-measure/internal/disparity"
	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrComputation means a distance could not be derived from the inputs.
	ErrComputation = errors.New("distance computation failed")

	// ErrCancelled is reported when a computation is abandoned.
	ErrCancelled = errors.New("computation cancelled")
)

// DefaultTimeout bounds a single distance computation.
const DefaultTimeout = 5 * time.Second

// Disparity sources recorded in Result.Method.
const (
	MethodFeatures      = "features"
	MethodBlockMatching = "block-matching"
)

// Geometry is everything a distance computation reads.
type Geometry struct {
	Pair     *alignment.FramePair
	Artifact *disparity.Artifact // optional
	Profiles *lens.Store
}

// Result is a completed measurement.
type Result struct {
	PointA geometry.Point2D `json:"point_a"`
	PointB geometry.Point2D `json:"point_b"`

	// WorldA and WorldB are the back-projected points in the long lens'
	// camera frame, in metres.
	WorldA geometry.Point3D `json:"world_a"`
	WorldB geometry.Point3D `json:"world_b"`

	DisparityA float64 `json:"disparity_a"`
	DisparityB float64 `json:"disparity_b"`

	BaselineMeters float64 `json:"baseline_m"`
	FocalPixels    float64 `json:"focal_px"`
	DistanceMeters float64 `json:"distance_m"`
	Method         string  `json:"method"`
}

// Computer computes a measurement. Calculator is the production
// implementation.
type Computer interface {
	Measure(ctx context.Context, a, b geometry.Point2D, g Geometry) (*Result, error)
}

// Calculator triangulates points from the disparity between the reference
// and aligned frames. It is stateless; the zero value uses defaults.
type Calculator struct {
	// Timeout bounds each computation. Zero means DefaultTimeout.
	Timeout time.Duration

	// Neighbours is how many feature matches are combined per point.
	Neighbours int

	// Block configures the fallback block matcher.
	Block BlockMatcher
}

// NewCalculator returns a Calculator with the given budget.
func NewCalculator(timeout time.Duration) *Calculator {
	return &Calculator{Timeout: timeout}
}

// ComputeDistance returns the metric distance between a and b.
func (c *Calculator) ComputeDistance(ctx context.Context, a, b geometry.Point2D, g Geometry) (float64, error) {
	r, err := c.Measure(ctx, a, b, g)
	if err != nil {
		return 0, err
	}
	return r.DistanceMeters, nil
}

// Measure back-projects a and b (reference pixel coordinates) to 3D using
//
//	Z = f * B / |d|,  (X, Y) = Z * K⁻¹ (u, v, 1)
//
// where f is the long lens' focal length in reference pixels, B the lens
// baseline and d the disparity at the point. Disparity comes from the
// feature artifact when one is present, otherwise from block matching.
func (c *Calculator) Measure(ctx context.Context, a, b geometry.Point2D, g Geometry) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pair := g.Pair
	if pair == nil || pair.Reference == nil || pair.Aligned == nil {
		return nil, fmt.Errorf("%w: no aligned frames", ErrComputation)
	}
	if g.Profiles == nil {
		return nil, fmt.Errorf("%w: no calibration profiles", ErrComputation)
	}
	bounds := pair.Bounds()
	for _, p := range []geometry.Point2D{a, b} {
		if !bounds.Contains(p) {
			return nil, fmt.Errorf("%w: point (%.1f, %.1f) outside %gx%g frame", ErrComputation,
				p.X, p.Y, bounds.Width, bounds.Height)
		}
	}

	baseline, err := g.Profiles.Baseline(pair.LongLens, pair.ShortLens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComputation, err)
	}
	if !(baseline > 0) {
		return nil, fmt.Errorf("%w: zero baseline between %s and %s", ErrComputation, pair.LongLens, pair.ShortLens)
	}

	profile, ok := g.Profiles.Profile(pair.LongLens)
	if !ok {
		return nil, fmt.Errorf("%w: no profile for %s", ErrComputation, pair.LongLens)
	}
	cam, err := profile.Camera(int(pair.LongSize.Width), int(pair.LongSize.Height))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComputation, err)
	}
	focal := cam.FX * pair.ReferenceScale

	res := &Result{
		PointA:         a,
		PointB:         b,
		BaselineMeters: baseline,
		FocalPixels:    focal,
		Method:         MethodBlockMatching,
	}
	if g.Artifact != nil && len(g.Artifact.Matches) > 0 {
		res.Method = MethodFeatures
	}

	if res.DisparityA, err = c.disparity(ctx, a, g); err != nil {
		return nil, err
	}
	if res.DisparityB, err = c.disparity(ctx, b, g); err != nil {
		return nil, err
	}

	toLong := pair.ReferenceToLong()
	if res.WorldA, err = backProject(cam, toLong.Apply(a), focal*baseline, res.DisparityA); err != nil {
		return nil, err
	}
	if res.WorldB, err = backProject(cam, toLong.Apply(b), focal*baseline, res.DisparityB); err != nil {
		return nil, err
	}

	pa := mat.NewVecDense(3, []float64{res.WorldA.X, res.WorldA.Y, res.WorldA.Z})
	pb := mat.NewVecDense(3, []float64{res.WorldB.X, res.WorldB.Y, res.WorldB.Z})
	var diff mat.VecDense
	diff.SubVec(pa, pb)
	res.DistanceMeters = mat.Norm(&diff, 2)
	if math.IsNaN(res.DistanceMeters) || math.IsInf(res.DistanceMeters, 0) {
		return nil, fmt.Errorf("%w: non-finite distance", ErrComputation)
	}
	return res, nil
}

func (c *Calculator) disparity(ctx context.Context, p geometry.Point2D, g Geometry) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, contextError(err)
	}
	if g.Artifact != nil {
		if d, ok := g.Artifact.DisparityAt(p, c.Neighbours); ok {
			return d, nil
		}
	}
	d, err := c.Block.Disparity(ctx, g.Pair.Reference, g.Pair.Aligned, p)
	if err != nil {
		if ctx.Err() != nil {
			return 0, contextError(ctx.Err())
		}
		return 0, fmt.Errorf("%w: %v", ErrComputation, err)
	}
	return d, nil
}

// backProject returns the camera-space point for pixel px (full-resolution
// long-lens coordinates) given f*B and the disparity.
func backProject(cam *lens.Camera, px geometry.Point2D, fb, d float64) (geometry.Point3D, error) {
	if math.Abs(d) < 1e-9 {
		return geometry.Point3D{}, fmt.Errorf("%w: zero disparity at (%.1f, %.1f)", ErrComputation, px.X, px.Y)
	}
	z := fb / math.Abs(d)
	n := cam.Normalize(px)
	p := geometry.Point3D{X: n.X * z, Y: n.Y * z, Z: z}
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(z, 0) {
		return geometry.Point3D{}, fmt.Errorf("%w: non-finite point", ErrComputation)
	}
	return p, nil
}

// contextError maps a context error to the measurement taxonomy.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: time budget exceeded", ErrComputation)
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}
