package report

import (
	"path/filepath"
	"testing"

	"lens-measure/internal/alignment"
	"lens-measure/internal/disparity"
	"lens-measure/internal/lens"
	"lens-measure/internal/measure"
	"lens-measure/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSaveLoad(t *testing.T) {
	pair := &alignment.FramePair{
		PairID:         "abc",
		Mode:           lens.TeleWide,
		ShortLens:      lens.Wide,
		LongLens:       lens.Telephoto,
		ShortFocal:     26,
		LongFocal:      77,
		ScaleFactor:    77.0 / 26.0,
		ReferenceScale: 1.0 / 3.0,
		CropRect:       geometry.RectInt{X: 1335, Y: 1001, Width: 1361, Height: 1021},
	}
	art := &disparity.Artifact{Matches: make([]disparity.Match, 14), Candidates: 20}

	f := New(pair, art)
	f.Result = &measure.Result{DistanceMeters: 0.323, Method: measure.MethodFeatures}
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, 14, f.Matches)

	dir := t.TempDir()
	path := DefaultPath(filepath.Join(dir, "out", "shot"))
	assert.Equal(t, filepath.Join(dir, "out", "shot.measure.json"), path)
	path = filepath.Join(dir, "shot.measure.json")

	f.SetImages(path, filepath.Join(dir, "in", "wide.jpg"), filepath.Join(dir, "in", "tele.jpg"))
	f.SetOverlay(path, filepath.Join(dir, "shot.png"))
	assert.Equal(t, filepath.Join("in", "wide.jpg"), f.ShortImagePath)
	require.NoError(t, f.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, lens.TeleWide, got.Mode)
	assert.Equal(t, lens.Wide, got.ShortLens)
	assert.Equal(t, pair.CropRect, got.CropRect)
	require.NotNil(t, got.Result)
	assert.Equal(t, 0.323, got.Result.DistanceMeters)
	assert.Equal(t, filepath.Join(dir, "in", "tele.jpg"), Resolve(path, got.LongImagePath))
	assert.Equal(t, filepath.Join(dir, "shot.png"), Resolve(path, got.OverlayImagePath))
	assert.Empty(t, Resolve(path, got.ArtifactImagePath))
}

func TestReportWithoutArtifact(t *testing.T) {
	f := New(&alignment.FramePair{PairID: "x"}, nil)
	assert.Zero(t, f.Matches)
	assert.Equal(t, "x", f.PairID)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestSetResultLocatesPoints(t *testing.T) {
	pair := &alignment.FramePair{
		PairID:         "pts",
		ReferenceScale: 0.5,
		AlignedToShort: geometry.Translation(100, 50).Compose(geometry.Scale(2, 2)),
	}
	f := New(pair, nil)
	f.SetResult(pair, &measure.Result{
		PointA:     geometry.NewPoint2D(10, 20),
		PointB:     geometry.NewPoint2D(30, 40),
		DisparityA: 4,
		DisparityB: -2,
	})
	require.NotNil(t, f.Points)
	assert.Equal(t, geometry.NewPoint2D(20, 40), f.Points.LongA)
	assert.Equal(t, geometry.NewPoint2D(60, 80), f.Points.LongB)
	// (10-4, 20) scaled by 2 then shifted by (100, 50).
	assert.Equal(t, geometry.NewPoint2D(112, 90), f.Points.ShortA)
	assert.Equal(t, geometry.NewPoint2D(164, 130), f.Points.ShortB)

	f.SetResult(pair, nil)
	assert.Nil(t, f.Result)
	assert.Nil(t, f.Points)
}
