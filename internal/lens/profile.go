package lens

import (
	"errors"
	"fmt"
	"math"

	"lens-measure/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidProfile is returned for calibration data that cannot describe a
// pinhole camera.
var ErrInvalidProfile = errors.New("invalid calibration profile")

// Profile holds the intrinsic calibration of one lens.
//
// Distortion follows the OpenCV coefficient order k1, k2, p1, p2[, k3[, k4,
// k5, k6]]. BaselineOffset is the optical centre's position on the device
// body in metres, relative to the reference lens.
type Profile struct {
	Lens           Identity
	Intrinsics     *mat.Dense
	Distortion     []float64
	BaselineOffset geometry.Point2D

	// CalibratedSize is the image size the intrinsics were solved at.
	// Zero means "same as the frame being corrected".
	CalibratedSize geometry.Size
}

// Validate checks the profile shape and that the camera matrix is invertible.
func (p *Profile) Validate() error {
	if !p.Lens.Valid() {
		return fmt.Errorf("%w: unknown lens %d", ErrInvalidProfile, int(p.Lens))
	}
	if p.Intrinsics == nil {
		return fmt.Errorf("%w: %s: missing camera matrix", ErrInvalidProfile, p.Lens)
	}
	if r, c := p.Intrinsics.Dims(); r != 3 || c != 3 {
		return fmt.Errorf("%w: %s: camera matrix is %dx%d", ErrInvalidProfile, p.Lens, r, c)
	}
	if p.Intrinsics.At(0, 0) <= 0 || p.Intrinsics.At(1, 1) <= 0 {
		return fmt.Errorf("%w: %s: focal lengths must be positive", ErrInvalidProfile, p.Lens)
	}
	if p.Intrinsics.At(2, 0) != 0 || p.Intrinsics.At(2, 1) != 0 || p.Intrinsics.At(2, 2) != 1 {
		return fmt.Errorf("%w: %s: camera matrix bottom row must be [0 0 1]", ErrInvalidProfile, p.Lens)
	}
	if math.Abs(mat.Det(p.Intrinsics)) < 1e-12 {
		return fmt.Errorf("%w: %s: camera matrix is singular", ErrInvalidProfile, p.Lens)
	}
	switch len(p.Distortion) {
	case 0, 4, 5, 8:
	default:
		return fmt.Errorf("%w: %s: %d distortion coefficients (want 0, 4, 5 or 8)",
			ErrInvalidProfile, p.Lens, len(p.Distortion))
	}
	for _, v := range p.Distortion {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: non-finite distortion coefficient", ErrInvalidProfile, p.Lens)
		}
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := *p
	if p.Intrinsics != nil {
		c.Intrinsics = mat.DenseCopyOf(p.Intrinsics)
	}
	c.Distortion = append([]float64(nil), p.Distortion...)
	return &c
}

// Camera is a profile resolved for one image size.
type Camera struct {
	FX, FY, CX, CY, Skew float64
	K1, K2, K3           float64
	K4, K5, K6           float64
	P1, P2               float64

	inv *mat.Dense
}

// Camera returns the pinhole model for an image of width x height pixels,
// rescaling the intrinsics when the profile was calibrated at another size.
func (p *Profile) Camera(width, height int) (*Camera, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %s: empty image", ErrInvalidProfile, p.Lens)
	}

	k := mat.DenseCopyOf(p.Intrinsics)
	if p.CalibratedSize.Width > 0 && p.CalibratedSize.Height > 0 {
		sx := float64(width) / p.CalibratedSize.Width
		sy := float64(height) / p.CalibratedSize.Height
		var scaled mat.Dense
		scaled.Mul(mat.NewDiagDense(3, []float64{sx, sy, 1}), k)
		k = &scaled
	}

	var inv mat.Dense
	if err := inv.Inverse(k); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, p.Lens, err)
	}

	c := &Camera{
		FX:   k.At(0, 0),
		FY:   k.At(1, 1),
		CX:   k.At(0, 2),
		CY:   k.At(1, 2),
		Skew: k.At(0, 1),
		inv:  &inv,
	}
	d := p.Distortion
	if len(d) >= 4 {
		c.K1, c.K2, c.P1, c.P2 = d[0], d[1], d[2], d[3]
	}
	if len(d) >= 5 {
		c.K3 = d[4]
	}
	if len(d) == 8 {
		c.K4, c.K5, c.K6 = d[5], d[6], d[7]
	}
	return c, nil
}

// Normalize maps a pixel to normalized image coordinates (z = 1).
func (c *Camera) Normalize(p geometry.Point2D) geometry.Point2D {
	x := c.inv.At(0, 0)*p.X + c.inv.At(0, 1)*p.Y + c.inv.At(0, 2)
	y := c.inv.At(1, 0)*p.X + c.inv.At(1, 1)*p.Y + c.inv.At(1, 2)
	return geometry.Point2D{X: x, Y: y}
}

// Coefficients returns the distortion coefficients in OpenCV order: k1, k2,
// p1, p2, k3, followed by k4, k5, k6 for the rational model.
func (c *Camera) Coefficients() []float64 {
	coeffs := []float64{c.K1, c.K2, c.P1, c.P2, c.K3}
	if c.K4 != 0 || c.K5 != 0 || c.K6 != 0 {
		coeffs = append(coeffs, c.K4, c.K5, c.K6)
	}
	return coeffs
}

// HasDistortion reports whether any distortion coefficient is non-zero.
func (c *Camera) HasDistortion() bool {
	return c.K1 != 0 || c.K2 != 0 || c.K3 != 0 || c.K4 != 0 || c.K5 != 0 || c.K6 != 0 ||
		c.P1 != 0 || c.P2 != 0
}

// NewIntrinsics builds a camera matrix from focal lengths and principal point.
func NewIntrinsics(fx, fy, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	})
}
