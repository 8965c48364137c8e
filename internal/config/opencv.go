package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// opencvStorage matches the XML written by cv::FileStorage after
// calibrateCamera. Both the OpenCV sample key names and the capitalised
// tutorial names are accepted.
type opencvStorage struct {
	XMLName    xml.Name      `xml:"opencv_storage"`
	Width      int           `xml:"image_width"`
	Height     int           `xml:"image_height"`
	WidthAlt   int           `xml:"image_Width"`
	HeightAlt  int           `xml:"image_Height"`
	Camera     *opencvMatrix `xml:"camera_matrix"`
	CameraAlt  *opencvMatrix `xml:"Camera_Matrix"`
	Distortion *opencvMatrix `xml:"distortion_coefficients"`
	DistortAlt *opencvMatrix `xml:"Distortion_Coefficients"`
}

type opencvMatrix struct {
	Rows int    `xml:"rows"`
	Cols int    `xml:"cols"`
	Dt   string `xml:"dt"`
	Data string `xml:"data"`
}

func (m *opencvMatrix) values() ([]float64, error) {
	fields := strings.Fields(m.Data)
	if len(fields) != m.Rows*m.Cols {
		return nil, fmt.Errorf("matrix declares %dx%d but holds %d values", m.Rows, m.Cols, len(fields))
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("matrix value %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// LoadOpenCVXML reads one lens's intrinsics from an OpenCV FileStorage XML
// file.
func LoadOpenCVXML(path string, id lens.Identity) (*lens.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenCV calibration: %w", err)
	}
	return ParseOpenCVXML(data, id)
}

// ParseOpenCVXML parses an OpenCV FileStorage XML document.
func ParseOpenCVXML(data []byte, id lens.Identity) (*lens.Profile, error) {
	var doc opencvStorage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OpenCV calibration: %w", err)
	}

	camera := doc.Camera
	if camera == nil {
		camera = doc.CameraAlt
	}
	if camera == nil {
		return nil, fmt.Errorf("%s: no camera_matrix in OpenCV calibration", id)
	}
	if camera.Rows != 3 || camera.Cols != 3 {
		return nil, fmt.Errorf("%s: camera_matrix is %dx%d", id, camera.Rows, camera.Cols)
	}
	k, err := camera.values()
	if err != nil {
		return nil, fmt.Errorf("%s: camera_matrix: %w", id, err)
	}

	p := &lens.Profile{
		Lens:       id,
		Intrinsics: mat.NewDense(3, 3, k),
	}

	distortion := doc.Distortion
	if distortion == nil {
		distortion = doc.DistortAlt
	}
	if distortion != nil {
		d, err := distortion.values()
		if err != nil {
			return nil, fmt.Errorf("%s: distortion_coefficients: %w", id, err)
		}
		p.Distortion = d
	}

	w, h := doc.Width, doc.Height
	if w == 0 {
		w, h = doc.WidthAlt, doc.HeightAlt
	}
	if w > 0 && h > 0 {
		p.CalibratedSize = geometry.Size{Width: float64(w), Height: float64(h)}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
