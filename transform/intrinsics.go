// Package transform projects LiDAR point clouds through a pinhole camera model
// into semi-dense depth images, with an adjoint for use inside a gradient
// pipeline.
package transform

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective
// projection of a 3D scene to the 2D image plane. Intrinsics are shared across
// a batch and immutable for the duration of a run.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.New("intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Errorf("invalid image size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 {
		return errors.Errorf("invalid focal length Fx = %v", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Errorf("invalid focal length Fy = %v", params.Fy)
	}
	if params.Ppx < 0 {
		return errors.Errorf("invalid principal point Ppx = %v", params.Ppx)
	}
	if params.Ppy < 0 {
		return errors.Errorf("invalid principal point Ppy = %v", params.Ppy)
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromMatrix builds intrinsics from a 3x3 projection
// matrix plus the output image size. Skew is not modeled and is rejected.
func NewPinholeCameraIntrinsicsFromMatrix(k *mat.Dense, width, height int) (*PinholeCameraIntrinsics, error) {
	r, c := k.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("projection matrix must be 3x3, got %dx%d", r, c)
	}
	if k.At(0, 1) != 0 {
		return nil, errors.Errorf("skewed projection matrices are not supported, skew = %v", k.At(0, 1))
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// NewPinholeCameraIntrinsicsFromJSONFile reads intrinsics from a JSON file.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	params := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, params); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	return params, nil
}

// PointToPixel projects a 3D point to continuous pixel coordinates on the
// image plane. The caller decides whether and how to discretize; depth must be
// strictly positive for the result to be meaningful.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
}
