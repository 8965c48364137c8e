package disparity

import (
	"context"
	"testing"

	"lens-measure/internal/alignment"
	"lens-measure/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shiftedMatch(x, y, d float64) Match {
	return Match{Reference: geometry.NewPoint2D(x, y), Aligned: geometry.NewPoint2D(x-d, y)}
}

func TestMatchDisparity(t *testing.T) {
	assert.Equal(t, 4.0, shiftedMatch(10, 10, 4).Disparity())
	assert.Equal(t, -2.5, shiftedMatch(10, 10, -2.5).Disparity())
}

func TestDisparityAtUsesNearestMatches(t *testing.T) {
	a := &Artifact{Matches: []Match{
		shiftedMatch(10, 10, 3),
		shiftedMatch(12, 10, 3),
		shiftedMatch(10, 12, 3),
		shiftedMatch(200, 200, 9),
		shiftedMatch(205, 200, 9),
		shiftedMatch(200, 205, 9),
		shiftedMatch(11, 11, 40), // outlier near the first cluster
	}}

	d, ok := a.DisparityAt(geometry.NewPoint2D(11, 10), 3)
	require.True(t, ok)
	assert.Equal(t, 3.0, d)

	d, ok = a.DisparityAt(geometry.NewPoint2D(202, 202), 3)
	require.True(t, ok)
	assert.Equal(t, 9.0, d)

	// The median absorbs the outlier.
	d, ok = a.DisparityAt(geometry.NewPoint2D(11, 11), 4)
	require.True(t, ok)
	assert.Equal(t, 3.0, d)
}

func TestDisparityAtWithoutMatches(t *testing.T) {
	_, ok := (&Artifact{}).DisparityAt(geometry.Point2D{}, 5)
	assert.False(t, ok)

	var nilArtifact *Artifact
	_, ok = nilArtifact.DisparityAt(geometry.Point2D{}, 5)
	assert.False(t, ok)

	_, ok = nilArtifact.MedianDisparity()
	assert.False(t, ok)
}

func TestDisparityAtDefaultsNeighbourCount(t *testing.T) {
	a := &Artifact{Matches: []Match{shiftedMatch(0, 0, 1), shiftedMatch(1, 0, 2)}}
	d, ok := a.DisparityAt(geometry.Point2D{}, 0)
	require.True(t, ok)
	assert.Equal(t, 1.5, d)
}

func TestMedianDisparity(t *testing.T) {
	a := &Artifact{Matches: []Match{shiftedMatch(0, 0, 1), shiftedMatch(1, 0, 5), shiftedMatch(2, 0, 2)}}
	d, ok := a.MedianDisparity()
	require.True(t, ok)
	assert.Equal(t, 2.0, d)
}

func TestEngineFunc(t *testing.T) {
	want := &Artifact{PairID: "p"}
	var e Engine = EngineFunc(func(ctx context.Context, pair *alignment.FramePair) (*Artifact, error) {
		return want, nil
	})
	got, err := e.Match(context.Background(), &alignment.FramePair{PairID: "p"})
	require.NoError(t, err)
	assert.Same(t, want, got)
}
