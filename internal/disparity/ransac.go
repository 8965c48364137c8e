package disparity

import (
	"fmt"
	"math/rand"

	"lens-measure/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// fitAffineRANSAC fits an affine transform mapping src onto dst and returns
// it with the indices of the inliers. The random source is supplied by the
// caller so results are reproducible.
func fitAffineRANSAC(src, dst []geometry.Point2D, iterations int, threshold float64, rng *rand.Rand) (geometry.AffineTransform, []int, error) {
	if len(src) != len(dst) {
		return geometry.AffineTransform{}, nil, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return geometry.AffineTransform{}, nil, fmt.Errorf("need at least 3 points, got %d", len(src))
	}

	n := len(src)
	var best []int
	var bestTransform geometry.AffineTransform
	sample := make([]geometry.Point2D, 3)
	target := make([]geometry.Point2D, 3)

	for iter := 0; iter < iterations; iter++ {
		for i, idx := range rng.Perm(n)[:3] {
			sample[i] = src[idx]
			target[i] = dst[idx]
		}

		t, err := affineFrom3(sample, target)
		if err != nil {
			continue
		}

		inliers := inliersOf(t, src, dst, threshold)
		if len(inliers) > len(best) {
			best = inliers
			bestTransform = t
			if len(best) == n {
				break
			}
		}
	}

	if len(best) < 3 {
		return geometry.AffineTransform{}, nil, fmt.Errorf("RANSAC found %d inliers", len(best))
	}

	inSrc := make([]geometry.Point2D, len(best))
	inDst := make([]geometry.Point2D, len(best))
	for i, idx := range best {
		inSrc[i] = src[idx]
		inDst[i] = dst[idx]
	}
	refined, err := affineLeastSquares(inSrc, inDst)
	if err != nil {
		return bestTransform, best, nil
	}
	if refinedInliers := inliersOf(refined, src, dst, threshold); len(refinedInliers) >= len(best) {
		return refined, refinedInliers, nil
	}
	return bestTransform, best, nil
}

func inliersOf(t geometry.AffineTransform, src, dst []geometry.Point2D, threshold float64) []int {
	var inliers []int
	for i := range src {
		if t.Apply(src[i]).Distance(dst[i]) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// affineFrom3 solves the affine transform through exactly 3 point pairs.
func affineFrom3(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	a := mat.NewDense(6, 6, nil)
	b := mat.NewVecDense(6, nil)
	for i := 0; i < 3; i++ {
		fillAffineRows(a, b, i, src[i], dst[i])
	}

	var params mat.VecDense
	if err := params.SolveVec(a, b); err != nil {
		return geometry.AffineTransform{}, err
	}
	return affineFromParams(&params), nil
}

// affineLeastSquares fits an affine transform to n >= 3 pairs by QR.
func affineLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 points")
	}

	a := mat.NewDense(n*2, 6, nil)
	b := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		fillAffineRows(a, b, i, src[i], dst[i])
	}

	var qr mat.QR
	qr.Factorize(a)
	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, b); err != nil {
		return geometry.AffineTransform{}, err
	}
	return affineFromParams(&params), nil
}

// fillAffineRows writes x' = a*x + b*y + tx and y' = c*x + d*y + ty for
// pair i.
func fillAffineRows(a *mat.Dense, b *mat.VecDense, i int, s, d geometry.Point2D) {
	a.Set(i*2, 0, s.X)
	a.Set(i*2, 1, s.Y)
	a.Set(i*2, 2, 1)
	b.SetVec(i*2, d.X)

	a.Set(i*2+1, 3, s.X)
	a.Set(i*2+1, 4, s.Y)
	a.Set(i*2+1, 5, 1)
	b.SetVec(i*2+1, d.Y)
}

func affineFromParams(p *mat.VecDense) geometry.AffineTransform {
	return geometry.AffineTransform{
		A: p.AtVec(0), B: p.AtVec(1), TX: p.AtVec(2),
		C: p.AtVec(3), D: p.AtVec(4), TY: p.AtVec(5),
	}
}
