// Package disparity matches features between the two frames of an aligned
// pair. Matching is an external vision service from the measurement core's
// point of view: it may fail on low-texture scenes and callers must treat
// ErrUnavailable as a normal outcome.
package disparity

import (
	"context"
	"errors"
	"image"
	"math"
	"sort"

	"lens-measure/internal/alignment"
	"lens-measure/pkg/geometry"
)

// ErrUnavailable means no usable disparity could be computed for a pair.
var ErrUnavailable = errors.New("disparity unavailable")

// DefaultNeighbours is the number of matches DisparityAt combines.
const DefaultNeighbours = 5

// Engine produces a disparity artifact for an aligned pair.
type Engine interface {
	Match(ctx context.Context, pair *alignment.FramePair) (*Artifact, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, pair *alignment.FramePair) (*Artifact, error)

// Match implements Engine.
func (f EngineFunc) Match(ctx context.Context, pair *alignment.FramePair) (*Artifact, error) {
	return f(ctx, pair)
}

// Match is one feature correspondence. Both points are in the pair's
// common pixel frame.
type Match struct {
	Reference geometry.Point2D `json:"reference"`
	Aligned   geometry.Point2D `json:"aligned"`
	// Distance is the descriptor distance of the match.
	Distance float64 `json:"distance"`
}

// Disparity returns the horizontal displacement from Aligned to Reference.
func (m Match) Disparity() float64 {
	return m.Reference.X - m.Aligned.X
}

// Artifact is the result of matching one pair.
type Artifact struct {
	PairID string

	// Image shows the two frames side by side with matches drawn between
	// them. It may be nil for engines that do not render.
	Image image.Image

	// Matches holds the correspondences that survived outlier rejection.
	Matches []Match

	// Candidates is the number of matches before outlier rejection.
	Candidates int
}

// DisparityAt estimates the disparity at p from the k matches nearest to p
// in the reference frame. It returns false when the artifact has no
// matches.
func (a *Artifact) DisparityAt(p geometry.Point2D, k int) (float64, bool) {
	if a == nil || len(a.Matches) == 0 {
		return 0, false
	}
	if k <= 0 {
		k = DefaultNeighbours
	}

	type neighbour struct {
		dist      float64
		disparity float64
	}
	ns := make([]neighbour, len(a.Matches))
	for i, m := range a.Matches {
		ns[i] = neighbour{dist: m.Reference.Distance(p), disparity: m.Disparity()}
	}
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].dist < ns[j].dist })

	k = min(k, len(ns))
	values := make([]float64, k)
	for i := 0; i < k; i++ {
		values[i] = ns[i].disparity
	}
	d := geometry.Median(values)
	if math.IsNaN(d) {
		return 0, false
	}
	return d, true
}

// MedianDisparity returns the median disparity over all matches.
func (a *Artifact) MedianDisparity() (float64, bool) {
	if a == nil || len(a.Matches) == 0 {
		return 0, false
	}
	values := make([]float64, len(a.Matches))
	for i, m := range a.Matches {
		values[i] = m.Disparity()
	}
	return geometry.Median(values), true
}
