// Package config loads the calibration configuration: lens profiles, the
// per-mode crop constants and pipeline timings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

const configFile = "calibration.json"

// Defaults used when the file leaves a value unset.
const (
	DefaultReferenceScale = 1.0 / 3.0
	DefaultCaptureTimeout = 3 * time.Second
	DefaultComputeTimeout = 5 * time.Second
)

// Duration is a time.Duration that reads and writes Go duration strings.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"3s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ModeSettings holds the empirically tuned crop constants of one capture
// mode. They depend on the device model, not on the scene.
type ModeSettings struct {
	// CropOffset shifts the short-focal crop away from the image centre,
	// in short-focal pixels, to compensate for the lens spacing.
	CropOffset geometry.Point2D `json:"crop_offset"`

	// FOVCorrection divides the focal ratio before cropping. 1 means the
	// 35mm-equivalent focal lengths describe the field of view exactly.
	FOVCorrection float64 `json:"fov_correction,omitempty"`
}

// ProfileFile is the on-disk form of a lens.Profile.
type ProfileFile struct {
	Lens           lens.Identity    `json:"lens"`
	CameraMatrix   [3][3]float64    `json:"camera_matrix"`
	Distortion     []float64        `json:"distortion"`
	BaselineOffset geometry.Point2D `json:"baseline_offset"`
	CalibratedSize geometry.Size    `json:"calibrated_size,omitempty"`

	// Path to an OpenCV FileStorage XML file. When set it replaces
	// CameraMatrix and Distortion.
	OpenCVFile string `json:"opencv_file,omitempty"`
}

// Config is the complete calibration configuration.
type Config struct {
	Version        int                        `json:"version"`
	Device         string                     `json:"device,omitempty"`
	Profiles       []ProfileFile              `json:"profiles"`
	Modes          map[lens.Mode]ModeSettings `json:"modes,omitempty"`
	ReferenceScale float64                    `json:"reference_scale,omitempty"`
	CaptureTimeout Duration                   `json:"capture_timeout,omitempty"`
	ComputeTimeout Duration                   `json:"compute_timeout,omitempty"`

	dir string
}

// DefaultPath returns ~/.config/lens-measure/calibration.json (or the
// platform equivalent).
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "lens-measure", configFile)
}

// Load reads a configuration file. Relative opencv_file paths are resolved
// against the configuration file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return &cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Mode returns the settings for a capture mode with defaults filled in.
func (c *Config) Mode(m lens.Mode) ModeSettings {
	s := c.Modes[m]
	if s.FOVCorrection <= 0 {
		s.FOVCorrection = 1
	}
	return s
}

// Reference returns the reference downscale factor.
func (c *Config) Reference() float64 {
	if c.ReferenceScale <= 0 || c.ReferenceScale > 1 {
		return DefaultReferenceScale
	}
	return c.ReferenceScale
}

// CaptureWindow returns how long a capture waits for its second frame.
func (c *Config) CaptureWindow() time.Duration {
	if c.CaptureTimeout <= 0 {
		return DefaultCaptureTimeout
	}
	return time.Duration(c.CaptureTimeout)
}

// ComputeBudget returns the time budget of one distance computation.
func (c *Config) ComputeBudget() time.Duration {
	if c.ComputeTimeout <= 0 {
		return DefaultComputeTimeout
	}
	return time.Duration(c.ComputeTimeout)
}

// Store builds the read-only profile store.
func (c *Config) Store() (*lens.Store, error) {
	profiles := make([]*lens.Profile, 0, len(c.Profiles))
	for _, pf := range c.Profiles {
		p, err := c.profile(pf)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return lens.NewStore(profiles...)
}

func (c *Config) profile(pf ProfileFile) (*lens.Profile, error) {
	if pf.OpenCVFile != "" {
		path := pf.OpenCVFile
		if !filepath.IsAbs(path) && c.dir != "" {
			path = filepath.Join(c.dir, path)
		}
		p, err := LoadOpenCVXML(path, pf.Lens)
		if err != nil {
			return nil, err
		}
		p.BaselineOffset = pf.BaselineOffset
		if pf.CalibratedSize.Width > 0 {
			p.CalibratedSize = pf.CalibratedSize
		}
		return p, nil
	}

	data := make([]float64, 0, 9)
	for _, row := range pf.CameraMatrix {
		data = append(data, row[:]...)
	}
	return &lens.Profile{
		Lens:           pf.Lens,
		Intrinsics:     mat.NewDense(3, 3, data),
		Distortion:     append([]float64(nil), pf.Distortion...),
		BaselineOffset: pf.BaselineOffset,
		CalibratedSize: pf.CalibratedSize,
	}, nil
}
