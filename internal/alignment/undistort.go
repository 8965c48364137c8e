package alignment

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"lens-measure/internal/cvmat"
	"lens-measure/internal/lens"

	"gocv.io/x/gocv"
)

// Undistort removes lens distortion from src. OpenCV builds the inverse
// mapping for the camera's intrinsics and coefficients and the frame is
// remapped with bilinear sampling; pixels that map outside the source are
// black. The camera matrix is kept, so the principal point stays put.
func Undistort(ctx context.Context, src image.Image, cam *lens.Camera) (*image.RGBA, error) {
	in := toRGBA(src)
	if !cam.HasDistortion() {
		out := image.NewRGBA(in.Bounds())
		copy(out.Pix, in.Pix)
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := in.Bounds()
	m, err := cvmat.FromImage(in)
	defer m.Close()
	if err != nil {
		return nil, err
	}

	mapX, mapY := undistortMaps(cam, b.Dx(), b.Dy())
	defer mapX.Close()
	defer mapY.Close()
	if mapX.Empty() || mapY.Empty() {
		return nil, fmt.Errorf("no undistortion map for %dx%d", b.Dx(), b.Dy())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Remap(m, &dst, &mapX, &mapY, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{A: 255})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cvmat.ToImage(dst)
}

// undistortMaps returns, for every pixel of the undistorted width x height
// frame, the x and y position it was recorded at. The caller closes both.
func undistortMaps(cam *lens.Camera, width, height int) (gocv.Mat, gocv.Mat) {
	k := cameraMatrix(cam)
	defer k.Close()
	dist := distCoeffs(cam)
	defer dist.Close()
	r := gocv.NewMat()
	defer r.Close()

	mapX, mapY := gocv.NewMat(), gocv.NewMat()
	gocv.InitUndistortRectifyMap(k, dist, r, k, image.Pt(width, height), int(gocv.MatTypeCV32FC1), mapX, mapY)
	return mapX, mapY
}

func cameraMatrix(cam *lens.Camera) gocv.Mat {
	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64FC1)
	vals := [3][3]float64{
		{cam.FX, cam.Skew, cam.CX},
		{0, cam.FY, cam.CY},
		{0, 0, 1},
	}
	for i, row := range vals {
		for j, v := range row {
			k.SetDoubleAt(i, j, v)
		}
	}
	return k
}

func distCoeffs(cam *lens.Camera) gocv.Mat {
	coeffs := cam.Coefficients()
	d := gocv.NewMatWithSize(1, len(coeffs), gocv.MatTypeCV64FC1)
	for i, v := range coeffs {
		d.SetDoubleAt(0, i, v)
	}
	return d
}
