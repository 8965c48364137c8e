package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineInverseRoundTrip(t *testing.T) {
	tr := Translation(12, -7).Compose(Scale(2.5, 2.5))
	inv, ok := tr.Inverse()
	require.True(t, ok)

	p := NewPoint2D(31, 44)
	back := inv.Apply(tr.Apply(p))
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
}

func TestAffineComposeOrder(t *testing.T) {
	// Scale first, then translate.
	tr := Translation(10, 0).Compose(Scale(2, 2))
	got := tr.Apply(NewPoint2D(1, 1))
	assert.Equal(t, NewPoint2D(12, 2), got)
}

func TestSingularInverse(t *testing.T) {
	_, ok := Scale(0, 1).Inverse()
	assert.False(t, ok)
}

func TestRectIntWithin(t *testing.T) {
	assert.True(t, RectInt{X: 0, Y: 0, Width: 10, Height: 10}.Within(10, 10))
	assert.False(t, RectInt{X: -1, Y: 0, Width: 10, Height: 10}.Within(10, 10))
	assert.False(t, RectInt{X: 1, Y: 0, Width: 10, Height: 10}.Within(10, 10))
	assert.False(t, RectInt{X: 0, Y: 0, Width: 0, Height: 10}.Within(10, 10))
}

func TestMedian(t *testing.T) {
	assert.True(t, math.IsNaN(Median(nil)))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestPoint3DDistance(t *testing.T) {
	a := Point3D{X: 0, Y: 0, Z: 1}
	b := Point3D{X: 3, Y: 4, Z: 1}
	assert.InDelta(t, 5.0, a.Distance(b), 1e-12)
}
