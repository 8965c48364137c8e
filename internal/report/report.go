// Package report writes measurement reports next to their images.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"lens-measure/internal/alignment"
	"lens-measure/internal/disparity"
	"lens-measure/internal/lens"
	"lens-measure/internal/measure"
	"lens-measure/internal/version"
	"lens-measure/pkg/geometry"

	"github.com/google/uuid"
)

// File is a measurement report (.measure.json).
type File struct {
	Version int       `json:"version"`
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Tool    string    `json:"tool"`

	// Image paths (relative to the report file)
	ShortImagePath    string `json:"short_image,omitempty"`
	LongImagePath     string `json:"long_image,omitempty"`
	OverlayImagePath  string `json:"overlay_image,omitempty"`
	ArtifactImagePath string `json:"artifact_image,omitempty"`

	// Alignment
	PairID         string           `json:"pair_id"`
	Mode           lens.Mode        `json:"mode"`
	ShortLens      lens.Identity    `json:"short_lens"`
	LongLens       lens.Identity    `json:"long_lens"`
	ShortFocal     float64          `json:"short_focal_35mm"`
	LongFocal      float64          `json:"long_focal_35mm"`
	ScaleFactor    float64          `json:"scale_factor"`
	ReferenceScale float64          `json:"reference_scale"`
	CropRect       geometry.RectInt `json:"crop_rect"`

	// Matching
	Matches    int `json:"matches"`
	Candidates int `json:"candidates,omitempty"`

	Result *measure.Result `json:"result,omitempty"`
	Points *Points         `json:"points,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Points locates the measured points in the full-resolution source frames.
// Short-frame positions are in the undistorted short-focal image.
type Points struct {
	LongA  geometry.Point2D `json:"long_a"`
	LongB  geometry.Point2D `json:"long_b"`
	ShortA geometry.Point2D `json:"short_a"`
	ShortB geometry.Point2D `json:"short_b"`
}

// New creates a report for an aligned pair. artifact may be nil.
func New(pair *alignment.FramePair, artifact *disparity.Artifact) *File {
	f := &File{
		Version:        1,
		ID:             uuid.NewString(),
		Created:        time.Now(),
		Tool:           version.String(),
		PairID:         pair.PairID,
		Mode:           pair.Mode,
		ShortLens:      pair.ShortLens,
		LongLens:       pair.LongLens,
		ShortFocal:     pair.ShortFocal,
		LongFocal:      pair.LongFocal,
		ScaleFactor:    pair.ScaleFactor,
		ReferenceScale: pair.ReferenceScale,
		CropRect:       pair.CropRect,
	}
	if artifact != nil {
		f.Matches = len(artifact.Matches)
		f.Candidates = artifact.Candidates
	}
	return f
}

// SetResult records r and where its points lie in both source frames. A
// point's aligned-frame position is its reference position moved left by
// its disparity.
func (f *File) SetResult(pair *alignment.FramePair, r *measure.Result) {
	f.Result = r
	f.Points = nil
	if r == nil || pair == nil {
		return
	}
	toLong := pair.ReferenceToLong()
	toShort := func(p geometry.Point2D, d float64) geometry.Point2D {
		return pair.AlignedToShort.Apply(geometry.Point2D{X: p.X - d, Y: p.Y})
	}
	f.Points = &Points{
		LongA:  toLong.Apply(r.PointA),
		LongB:  toLong.Apply(r.PointB),
		ShortA: toShort(r.PointA, r.DisparityA),
		ShortB: toShort(r.PointB, r.DisparityB),
	}
}

// Load loads a report.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Save saves the report to a file.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SetImages records the source image paths relative to the report.
func (f *File) SetImages(reportPath, shortPath, longPath string) {
	f.ShortImagePath = relative(reportPath, shortPath)
	f.LongImagePath = relative(reportPath, longPath)
}

// SetOverlay records the overlay image path relative to the report.
func (f *File) SetOverlay(reportPath, overlayPath string) {
	f.OverlayImagePath = relative(reportPath, overlayPath)
}

// SetArtifact records the match visualization path relative to the report.
func (f *File) SetArtifact(reportPath, artifactPath string) {
	f.ArtifactImagePath = relative(reportPath, artifactPath)
}

// Resolve returns the absolute form of a path stored in the report.
func Resolve(reportPath, stored string) string {
	if stored == "" || filepath.IsAbs(stored) {
		return stored
	}
	return filepath.Join(filepath.Dir(reportPath), stored)
}

// DefaultPath returns the report path for an output prefix, e.g.
// "out/shot" becomes "out/shot.measure.json".
func DefaultPath(prefix string) string {
	return prefix + ".measure.json"
}

func relative(reportPath, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(filepath.Dir(reportPath), path)
	if err != nil {
		return path
	}
	return rel
}
