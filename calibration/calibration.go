// Package calibration recovers camera intrinsics, lens distortion and
// per-view pose from matched 2-D/3-D point observations of a planar
// calibration pattern.
package calibration

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// minPointsPerView is the smallest number of point correspondences that pins
// down a planar homography for one view.
const minPointsPerView = 4

// ErrNoObservations indicates an empty observation collection.
var ErrNoObservations = errors.New("no observations to calibrate from")

// ErrBadImageSize indicates a non-positive image dimension.
var ErrBadImageSize = errors.New("image size must be positive in both dimensions")

// Global debug function for calibration package
var debugMsgFunc func(string, string)

// SetDebugFunction allows the main package to provide a debug sink.
func SetDebugFunction(fn func(string, string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// Point2 is a 2-D point in image pixel coordinates.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3 is a 3-D point in the calibration pattern's own frame. For a flat
// printed board Z is zero and X/Y step by the physical square size.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Observation pairs the detected corner pixels of one photograph with the
// known pattern geometry. ImagePoints[i] must correspond to ObjectPoints[i];
// the solver trusts the ordering and never re-sorts either side.
type Observation struct {
	ImagePoints  []Point2
	ObjectPoints []Point3
}

// Pose is one view's extrinsic parameters: an axis-angle rotation vector
// (Rodrigues form) and a translation, both taking pattern-frame points into
// the camera frame.
type Pose struct {
	Rotation    [3]float64 `json:"rvec"`
	Translation [3]float64 `json:"tvec"`
}

// Result is a completed calibration.
//
// CameraMatrix is the 3x3 intrinsic matrix [[fx 0 cx] [0 fy cy] [0 0 1]].
// DistCoeffs holds the distortion coefficients in OpenCV order
// (k1, k2, p1, p2, k3). Poses and PerViewErrors align index-for-index with
// the input observations.
//
// RMS is the optimizer's own root-mean-square reprojection error over every
// point in every view. PerViewErrors are informational per-view scores with
// a different normalization (L2 residual norm divided by the view's point
// count); they do not sum or average back to RMS.
type Result struct {
	CameraMatrix  [3][3]float64
	DistCoeffs    []float64
	Poses         []Pose
	RMS           float64
	PerViewErrors []float64
}

// Intrinsics returns the focal lengths and principal point from the camera matrix.
func (r *Result) Intrinsics() (fx, fy, cx, cy float64) {
	return r.CameraMatrix[0][0], r.CameraMatrix[1][1], r.CameraMatrix[0][2], r.CameraMatrix[1][2]
}

// PointCountError reports an observation whose point sets are unusable:
// mismatched image/object counts or fewer than the minimum per view.
type PointCountError struct {
	Observation int
	ImageCount  int
	ObjectCount int
}

func (e *PointCountError) Error() string {
	if e.ImageCount != e.ObjectCount {
		return fmt.Sprintf("observation %d: %d image points but %d object points",
			e.Observation, e.ImageCount, e.ObjectCount)
	}
	return fmt.Sprintf("observation %d: %d points, need at least %d",
		e.Observation, e.ImageCount, minPointsPerView)
}

// SolverError reports that the underlying optimizer failed or produced an
// unusable (non-finite) solution.
type SolverError struct {
	Reason string
}

func (e *SolverError) Error() string {
	return "calibration solver failed: " + e.Reason
}

// Calibrate solves for camera intrinsics, distortion and one pose per
// observation from matched point sets, all captured at the same image size.
//
// Inputs are validated before the optimizer runs: an empty collection, a
// non-positive image size, a point-count mismatch inside an observation, or
// a view with fewer than four points is rejected immediately. A numerical
// failure inside the optimizer, or a solution containing non-finite values,
// comes back as *SolverError rather than a garbage result.
func Calibrate(observations []Observation, imageSize image.Point) (*Result, error) {
	if len(observations) == 0 {
		return nil, ErrNoObservations
	}
	if imageSize.X <= 0 || imageSize.Y <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrBadImageSize, imageSize.X, imageSize.Y)
	}
	for i, obs := range observations {
		if len(obs.ImagePoints) != len(obs.ObjectPoints) || len(obs.ImagePoints) < minPointsPerView {
			return nil, &PointCountError{
				Observation: i,
				ImageCount:  len(obs.ImagePoints),
				ObjectCount: len(obs.ObjectPoints),
			}
		}
	}

	debugMsg("CALIB", fmt.Sprintf("solving %d views at %dx%d", len(observations), imageSize.X, imageSize.Y))

	res, err := runSolver(observations, imageSize)
	if err != nil {
		return nil, err
	}
	if !res.finite() {
		return nil, &SolverError{Reason: "solution contains non-finite values (degenerate geometry?)"}
	}

	// Informational per-view scores, independent of the optimizer's RMS.
	res.PerViewErrors = make([]float64, len(observations))
	for i, obs := range observations {
		projected := ProjectPoints(obs.ObjectPoints, res.Poses[i], res.CameraMatrix, res.DistCoeffs)
		res.PerViewErrors[i] = viewError(obs.ImagePoints, projected)
	}

	debugMsg("CALIB", fmt.Sprintf("solved, rms=%.4f", res.RMS))
	return res, nil
}

// runSolver marshals the observations into OpenCV vectors and invokes the
// calibration optimizer. OpenCV signals numerical failure by throwing, which
// gocv surfaces as a panic; the recover guard turns that into *SolverError.
func runSolver(observations []Observation, imageSize image.Point) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &SolverError{Reason: fmt.Sprint(r)}
		}
	}()

	objectPoints := gocv.NewPoints3fVector()
	defer objectPoints.Close()
	imagePoints := gocv.NewPoints2fVector()
	defer imagePoints.Close()

	for _, obs := range observations {
		op := make([]gocv.Point3f, len(obs.ObjectPoints))
		for i, p := range obs.ObjectPoints {
			op[i] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
		}
		ip := make([]gocv.Point2f, len(obs.ImagePoints))
		for i, p := range obs.ImagePoints {
			ip[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
		}
		objectPoints.Append(gocv.NewPoint3fVectorFromPoints(op))
		imagePoints.Append(gocv.NewPoint2fVectorFromPoints(ip))
	}

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objectPoints, imagePoints, imageSize,
		&cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(0))

	res = &Result{
		RMS:        rms,
		DistCoeffs: flatten(distCoeffs),
		Poses:      make([]Pose, len(observations)),
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			res.CameraMatrix[i][j] = cameraMatrix.GetDoubleAt(i, j)
		}
	}
	for i := range res.Poses {
		res.Poses[i].Rotation = rowVec3(rvecs, i)
		res.Poses[i].Translation = rowVec3(tvecs, i)
	}
	return res, nil
}

// rowVec3 reads view i's 3-vector from the solver output, which OpenCV lays
// out either as an Nx3 single-channel or an Nx1 3-channel matrix.
func rowVec3(m gocv.Mat, i int) [3]float64 {
	if m.Channels() == 3 {
		v := m.GetVecdAt(i, 0)
		return [3]float64{v[0], v[1], v[2]}
	}
	return [3]float64{m.GetDoubleAt(i, 0), m.GetDoubleAt(i, 1), m.GetDoubleAt(i, 2)}
}

// flatten copies a row or column coefficient matrix into a slice.
func flatten(m gocv.Mat) []float64 {
	out := make([]float64, 0, m.Rows()*m.Cols())
	for r := 0; r < m.Rows(); r++ {
		for c := 0; c < m.Cols(); c++ {
			out = append(out, m.GetDoubleAt(r, c))
		}
	}
	return out
}

// finite reports whether every numeric field of the solution is a real number.
func (r *Result) finite() bool {
	ok := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !ok(r.CameraMatrix[i][j]) {
				return false
			}
		}
	}
	for _, v := range r.DistCoeffs {
		if !ok(v) {
			return false
		}
	}
	for _, p := range r.Poses {
		for i := 0; i < 3; i++ {
			if !ok(p.Rotation[i]) || !ok(p.Translation[i]) {
				return false
			}
		}
	}
	return ok(r.RMS)
}

// viewError scores one view: the L2 norm of the stacked residual vector
// divided by the view's point count. This is the historical per-view score,
// not an RMS; keep the two separate.
func viewError(observed, projected []Point2) float64 {
	var sum float64
	for i := range observed {
		dx := observed[i].X - projected[i].X
		dy := observed[i].Y - projected[i].Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum) / float64(len(observed))
}
