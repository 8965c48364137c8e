package disparity

import (
	"context"
	"fmt"
	"image"
	"log"
	"math/rand"
	"sort"

	"lens-measure/internal/alignment"
	"lens-measure/internal/cvmat"
	"lens-measure/pkg/colorutil"
	"lens-measure/pkg/geometry"

	"gocv.io/x/gocv"
)

// Options configures the ORB matcher.
type Options struct {
	// Ratio is the nearest/second-nearest distance ratio a match must beat.
	Ratio float64

	// MinMatches is the number of surviving matches below which the pair is
	// reported as unavailable.
	MinMatches int

	// RANSACIterations and RANSACThreshold control outlier rejection. The
	// threshold is in pixels and must leave room for real parallax.
	RANSACIterations int
	RANSACThreshold  float64

	// Seed makes outlier rejection reproducible.
	Seed int64

	// SkipRender leaves Artifact.Image nil.
	SkipRender bool
}

// DefaultOptions returns default matcher options.
func DefaultOptions() Options {
	return Options{
		Ratio:            0.75,
		MinMatches:       12,
		RANSACIterations: 1000,
		RANSACThreshold:  8,
		Seed:             1,
	}
}

// ORBMatcher is an Engine built on OpenCV's ORB detector and a brute-force
// Hamming matcher.
type ORBMatcher struct {
	opts Options
}

// NewORBMatcher creates a matcher, filling unset options with defaults.
func NewORBMatcher(opts Options) *ORBMatcher {
	def := DefaultOptions()
	if opts.Ratio <= 0 || opts.Ratio >= 1 {
		opts.Ratio = def.Ratio
	}
	if opts.MinMatches < 3 {
		opts.MinMatches = def.MinMatches
	}
	if opts.RANSACIterations <= 0 {
		opts.RANSACIterations = def.RANSACIterations
	}
	if opts.RANSACThreshold <= 0 {
		opts.RANSACThreshold = def.RANSACThreshold
	}
	return &ORBMatcher{opts: opts}
}

// Match implements Engine.
func (m *ORBMatcher) Match(ctx context.Context, pair *alignment.FramePair) (*Artifact, error) {
	if pair == nil || pair.Reference == nil || pair.Aligned == nil {
		return nil, fmt.Errorf("%w: no aligned pair", ErrUnavailable)
	}
	if pair.Reference.Bounds().Empty() || pair.Aligned.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := cvmat.FromImage(pair.Reference)
	defer ref.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: reference: %v", ErrUnavailable, err)
	}
	aligned, err := cvmat.FromImage(pair.Aligned)
	defer aligned.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: aligned: %v", ErrUnavailable, err)
	}

	refKP, refDesc := detect(ref)
	defer refDesc.Close()
	alignedKP, alignedDesc := detect(aligned)
	defer alignedDesc.Close()

	if len(refKP) < m.opts.MinMatches || len(alignedKP) < m.opts.MinMatches ||
		refDesc.Empty() || alignedDesc.Empty() {
		return nil, fmt.Errorf("%w: %d/%d keypoints, need %d", ErrUnavailable,
			len(refKP), len(alignedKP), m.opts.MinMatches)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer bf.Close()
	knn := bf.KnnMatch(alignedDesc, refDesc, 2)

	var good []gocv.DMatch
	for _, cand := range knn {
		if len(cand) == 2 && cand[0].Distance < m.opts.Ratio*cand[1].Distance {
			good = append(good, cand[0])
		}
	}
	sort.Slice(good, func(i, j int) bool { return good[i].QueryIdx < good[j].QueryIdx })
	if len(good) < m.opts.MinMatches {
		return nil, fmt.Errorf("%w: %d matches passed the ratio test, need %d", ErrUnavailable,
			len(good), m.opts.MinMatches)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := make([]geometry.Point2D, len(good))
	dst := make([]geometry.Point2D, len(good))
	for i, g := range good {
		src[i] = keyPoint(alignedKP[g.QueryIdx])
		dst[i] = keyPoint(refKP[g.TrainIdx])
	}

	rng := rand.New(rand.NewSource(m.opts.Seed))
	_, inliers, err := fitAffineRANSAC(src, dst, m.opts.RANSACIterations, m.opts.RANSACThreshold, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(inliers) < m.opts.MinMatches {
		return nil, fmt.Errorf("%w: %d consistent matches, need %d", ErrUnavailable,
			len(inliers), m.opts.MinMatches)
	}

	artifact := &Artifact{
		PairID:     pair.PairID,
		Candidates: len(good),
		Matches:    make([]Match, len(inliers)),
	}
	for i, idx := range inliers {
		artifact.Matches[i] = Match{
			Reference: dst[idx],
			Aligned:   src[idx],
			Distance:  good[idx].Distance,
		}
	}

	if !m.opts.SkipRender {
		artifact.Image = render(ref, aligned, artifact.Matches)
	}

	d, _ := artifact.MedianDisparity()
	log.Printf("Disparity: %s: %d/%d keypoints, %d candidates, %d inliers, median disparity %.2fpx",
		pair.PairID, len(refKP), len(alignedKP), len(good), len(inliers), d)

	return artifact, nil
}

// detect runs ORB on the grayscale version of a BGR image. The caller
// closes the returned descriptors.
func detect(bgr gocv.Mat) ([]gocv.KeyPoint, gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()

	orb := gocv.NewORB()
	defer orb.Close()
	return orb.DetectAndCompute(gray, mask)
}

func keyPoint(kp gocv.KeyPoint) geometry.Point2D {
	return geometry.Point2D{X: kp.X, Y: kp.Y}
}

// render draws the reference and aligned frames side by side with a line
// per match.
func render(ref, aligned gocv.Mat, matches []Match) image.Image {
	canvas := gocv.NewMat()
	defer canvas.Close()
	gocv.Hconcat(ref, aligned, &canvas)

	offset := geometry.Point2D{X: float64(ref.Cols())}
	for _, mt := range matches {
		a := mt.Reference.Round()
		b := mt.Aligned.Add(offset).Round()
		gocv.Line(&canvas, a, b, colorutil.Green, 1)
		gocv.Circle(&canvas, a, 3, colorutil.Red, 1)
		gocv.Circle(&canvas, b, 3, colorutil.Red, 1)
	}
	img, err := cvmat.ToImage(canvas)
	if err != nil {
		log.Printf("Disparity: cannot render matches: %v", err)
		return nil
	}
	return img
}
