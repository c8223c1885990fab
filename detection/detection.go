// Package detection locates chessboard calibration patterns in single images
// and refines the detected corners to sub-pixel accuracy.
package detection

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// minImageSide is the smallest image dimension worth searching. Anything
// smaller cannot hold even a 3x3 corner grid at usable resolution.
const minImageSide = 20

// Sub-pixel refinement parameters: search window half-size, iteration cap and
// position tolerance for the termination criteria.
const (
	subPixWindow  = 11
	subPixMaxIter = 30
	subPixEpsilon = 0.001
)

// ErrDecodeFailure indicates the input bytes could not be decoded into an image.
var ErrDecodeFailure = errors.New("could not decode image")

// Global debug function for detection package
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

// GridSize is a chessboard pattern size counted in internal corners (corner
// intersections between four squares), not in squares. A field that is zero
// or negative means the dimension is unknown; a fully unknown size requests
// an automatic search.
type GridSize struct {
	Cols int
	Rows int
}

// Auto is the sentinel GridSize requesting a full automatic pattern search.
var Auto = GridSize{}

// Specified reports whether both dimensions are known.
func (g GridSize) Specified() bool {
	return g.Cols > 0 && g.Rows > 0
}

// Area returns the number of internal corners the grid holds.
func (g GridSize) Area() int {
	return g.Cols * g.Rows
}

func (g GridSize) String() string {
	return fmt.Sprintf("%dx%d", g.Cols, g.Rows)
}

// Corner is a sub-pixel corner location in image pixel coordinates.
type Corner struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result holds a successful pattern detection.
//
// Cols and Rows are the internal-corner counts of the grid that actually
// matched: Cols counts corners along the pattern-size width axis, Rows along
// its height axis (OpenCV Size.width / Size.height). Because the search also
// tries the transposed orientation, a caller that requested (rows, cols) may
// receive the swapped pair back and must compare against both.
//
// Corners is in row-major raster order over the detected grid, Rows rows of
// Cols corners each: the invariant callers rely on to pair each corner with
// the object point at the same index.
type Result struct {
	Rows    int      `json:"rows"`
	Cols    int      `json:"cols"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Corners []Corner `json:"corners"`
}

// PatternNotFoundError reports that every candidate grid size was tried
// without a match. Requested preserves the caller's target size; the zero
// value means the automatic search was exhausted.
type PatternNotFoundError struct {
	Requested GridSize
}

func (e *PatternNotFoundError) Error() string {
	if e.Requested.Specified() {
		return fmt.Sprintf("chessboard pattern not found: tried %dx%d and %dx%d",
			e.Requested.Cols, e.Requested.Rows, e.Requested.Cols-1, e.Requested.Rows-1)
	}
	return "auto-detection failed: no valid chessboard pattern in search space"
}

// Decode converts raw image bytes into a single-channel grayscale Mat.
//
// The primary path decodes with the pure-Go codecs and applies the EXIF
// orientation tag, so phone photos come out the way the user saw them. Bytes
// those codecs reject fall through to OpenCV's decoder. The returned Mat is
// owned by the caller, who must Close it.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty input", ErrDecodeFailure)
	}

	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		rgb, err := gocv.ImageToMatRGB(img)
		if err != nil {
			return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecodeFailure, err)
		}
		defer rgb.Close()
		gray := gocv.NewMat()
		gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
		return gray, nil
	}

	// Formats outside the pure-Go decoders (e.g. webp builds of OpenCV).
	m, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil || m.Empty() {
		if err == nil {
			m.Close()
			err = errors.New("decoder produced an empty image")
		}
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return m, nil
}

// Detect searches img for a chessboard pattern and returns the sub-pixel
// refined corners of the first candidate grid size that matches.
//
// With a fully specified target the search tries the target, its transpose,
// and the off-by-one variants that come from users counting squares instead
// of internal corners. With an unknown target it enumerates sizes 3..11 per
// axis, largest first, so a big board is never mistaken for one of its own
// sub-grids. The search stops at the first hit.
//
// img may be 1-, 3- or 4-channel; it is read, never modified or retained.
func Detect(img gocv.Mat, target GridSize) (*Result, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecodeFailure)
	}
	if img.Cols() < minImageSide || img.Rows() < minImageSide {
		return nil, fmt.Errorf("image %dx%d is below the %dpx minimum side",
			img.Cols(), img.Rows(), minImageSide)
	}

	gray, owned := toGray(img)
	if owned {
		defer gray.Close()
	}

	featureCount := -1
	if !target.Specified() {
		featureCount = countTrackableFeatures(gray)
		debugMsg("DETECT", fmt.Sprintf("auto search: %d trackable features", featureCount))
	}
	candidates := candidateSizes(target, featureCount)

	// Adaptive threshold + contrast normalization keep the match robust to
	// uneven lighting; the fast-check pre-pass bounds the cost of the many
	// candidates that will not match.
	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage | gocv.CalibCBFastCheck

	corners := gocv.NewMat()
	defer corners.Close()

	for _, size := range candidates {
		if gocv.FindChessboardCorners(gray, image.Pt(size.Cols, size.Rows), &corners, flags) {
			debugMsg("DETECT", fmt.Sprintf("matched candidate %s", size))
			return refine(gray, corners, size)
		}
	}

	return nil, &PatternNotFoundError{Requested: normalizeTarget(target)}
}

// refine runs sub-pixel corner refinement and extracts the corner list.
func refine(gray gocv.Mat, corners gocv.Mat, size GridSize) (*Result, error) {
	criteria := gocv.NewTermCriteria(gocv.MaxIter+gocv.EPS, subPixMaxIter, subPixEpsilon)
	gocv.CornerSubPix(gray, &corners, image.Pt(subPixWindow, subPixWindow), image.Pt(-1, -1), criteria)

	n := corners.Rows()
	if n != size.Area() {
		return nil, fmt.Errorf("corner count %d does not match grid %s", n, size)
	}

	out := make([]Corner, n)
	for i := 0; i < n; i++ {
		v := corners.GetVecfAt(i, 0)
		out[i] = Corner{X: float64(v[0]), Y: float64(v[1])}
	}

	return &Result{
		Rows:    size.Rows,
		Cols:    size.Cols,
		Width:   gray.Cols(),
		Height:  gray.Rows(),
		Corners: out,
	}, nil
}

// toGray returns a single-channel view of img, converting when needed. The
// bool reports whether the returned Mat is a fresh allocation the caller
// must Close.
func toGray(img gocv.Mat) (gocv.Mat, bool) {
	switch img.Channels() {
	case 1:
		return img, false
	case 4:
		gray := gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
		return gray, true
	default:
		gray := gocv.NewMat()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		return gray, true
	}
}

// countTrackableFeatures estimates how many corner-like features the image
// holds, which caps the plausible board size during the automatic search. A
// board with more internal corners than the image has trackable features
// cannot be present.
func countTrackableFeatures(gray gocv.Mat) int {
	features := gocv.NewMat()
	defer features.Close()
	gocv.GoodFeaturesToTrack(gray, &features, 0, 0.01, 10)
	return features.Rows()
}
