// camcal is a chessboard camera calibration tool. It finds calibration
// pattern corners in photographs and solves for camera intrinsics, lens
// distortion and per-view pose from accumulated observations.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"camcal/calibration"
	"camcal/detection"
)

var (
	// Command-line flags
	mode       = flag.String("mode", "", "Operation mode: detect, calibrate, or session (required)\n\t\tdetect: find chessboard corners in a single image\n\t\tcalibrate: solve camera parameters from a points file\n\t\tsession: detect in a directory of images, then calibrate")
	imagePath  = flag.String("image", "", "Image file for detect mode\n\t\tExample: -image board.jpg")
	rows       = flag.Int("rows", 0, "Internal corner rows of the target pattern (0 = auto-detect)")
	cols       = flag.Int("cols", 0, "Internal corner columns of the target pattern (0 = auto-detect)")
	pointsPath = flag.String("points", "", "Observation JSON file for calibrate mode\n\t\tExpected shape: {\"allImagePoints\": [[{x,y}]], \"objPoints\": [[{x,y,z}]], \"imageSize\": {width,height}}")
	sessionDir = flag.String("dir", "", "Directory of capture images for session mode")
	squareSize = flag.Float64("square-size", 25.0, "Physical chessboard square size for session mode, in any consistent unit (default mm)")
	debugMode  = flag.Bool("debug", false, "Enable timestamped debug output on stderr")
)

// DebugLogger prints component-tagged debug messages gated by the -debug flag.
type DebugLogger struct {
	enabled bool
}

func (dl *DebugLogger) debugMsg(component, message string) {
	if dl == nil || !dl.enabled {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s][%s] %s\n", time.Now().Format("15:04:05.000"), component, message)
}

// Global debug logger instance
var globalDebugLogger *DebugLogger

func main() {
	flag.Parse()

	globalDebugLogger = &DebugLogger{enabled: *debugMode}
	detection.SetDebugFunction(globalDebugLogger.debugMsg)
	calibration.SetDebugFunction(globalDebugLogger.debugMsg)

	var err error
	switch *mode {
	case "detect":
		err = runDetect(*imagePath, detection.GridSize{Cols: *cols, Rows: *rows})
	case "calibrate":
		err = runCalibrate(*pointsPath)
	case "session":
		err = runSession(*sessionDir, detection.GridSize{Cols: *cols, Rows: *rows}, *squareSize)
	default:
		fmt.Fprintf(os.Stderr, "unknown or missing -mode %q\n\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// failureResponse is the JSON shape for any domain-level failure. These exit
// zero; only usage errors exit nonzero.
type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// detectResponse wraps a successful detection.
type detectResponse struct {
	Success bool `json:"success"`
	*detection.Result
}

// calibrateResponse is the solved-camera JSON shape.
type calibrateResponse struct {
	Success       bool          `json:"success"`
	RMS           float64       `json:"rms"`
	CameraMatrix  [3][3]float64 `json:"camera_matrix"`
	DistCoeffs    []float64     `json:"dist_coeffs"`
	RVecs         [][3]float64  `json:"rvecs"`
	TVecs         [][3]float64  `json:"tvecs"`
	PerViewErrors []float64     `json:"perViewErrors"`
	Views         []string      `json:"views,omitempty"`
}

func emit(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func emitFailure(err error) error {
	return emit(failureResponse{Success: false, Error: err.Error()})
}

// runDetect finds a chessboard in one image and prints the corner list.
func runDetect(path string, target detection.GridSize) error {
	if path == "" {
		return fmt.Errorf("detect mode requires -image")
	}
	result, err := detectFile(path, target)
	if err != nil {
		return emitFailure(err)
	}
	return emit(detectResponse{Success: true, Result: result})
}

// detectFile loads one image file and runs pattern detection on it.
func detectFile(path string, target detection.GridSize) (*detection.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read image at %s: %v", path, err)
	}
	img, err := detection.Decode(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return detection.Detect(img, target)
}

// observationFile is the calibrate-mode input document. Field names match
// the service API this tool grew out of.
type observationFile struct {
	AllImagePoints [][]calibration.Point2 `json:"allImagePoints"`
	ObjPoints      [][]calibration.Point3 `json:"objPoints"`
	ImageSize      struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"imageSize"`
}

// runCalibrate solves camera parameters from a prepared observation file.
func runCalibrate(path string) error {
	if path == "" {
		return fmt.Errorf("calibrate mode requires -points")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read points file at %s: %v", path, err)
	}
	var doc observationFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return emitFailure(fmt.Errorf("invalid points file: %v", err))
	}
	if len(doc.AllImagePoints) != len(doc.ObjPoints) {
		return emitFailure(fmt.Errorf("allImagePoints has %d views but objPoints has %d",
			len(doc.AllImagePoints), len(doc.ObjPoints)))
	}

	observations := make([]calibration.Observation, len(doc.AllImagePoints))
	for i := range doc.AllImagePoints {
		observations[i] = calibration.Observation{
			ImagePoints:  doc.AllImagePoints[i],
			ObjectPoints: doc.ObjPoints[i],
		}
	}

	result, err := calibration.Calibrate(observations, image.Pt(doc.ImageSize.Width, doc.ImageSize.Height))
	if err != nil {
		return emitFailure(err)
	}
	return emit(toCalibrateResponse(result, nil))
}

// sessionImageExts are the capture formats session mode picks up.
var sessionImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// runSession runs the full workflow over a directory: detect the pattern in
// every image, build planar object points at the configured square size for
// each successful view, and calibrate over all of them together.
func runSession(dir string, target detection.GridSize, square float64) error {
	if dir == "" {
		return fmt.Errorf("session mode requires -dir")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("could not read session directory %s: %v", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !sessionImageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return emitFailure(fmt.Errorf("no images found in %s", dir))
	}

	var observations []calibration.Observation
	var views []string
	imageSize := image.Point{}
	for _, path := range paths {
		result, err := detectFile(path, target)
		if err != nil {
			globalDebugLogger.debugMsg("SESSION", fmt.Sprintf("skipping %s: %v", path, err))
			continue
		}
		size := image.Pt(result.Width, result.Height)
		if imageSize == (image.Point{}) {
			imageSize = size
		} else if size != imageSize {
			// All views of one calibration must share the capture resolution.
			globalDebugLogger.debugMsg("SESSION", fmt.Sprintf("skipping %s: size %v differs from %v", path, size, imageSize))
			continue
		}
		observations = append(observations, calibration.Observation{
			ImagePoints:  cornerPoints(result.Corners),
			ObjectPoints: planarGrid(result.Rows, result.Cols, square),
		})
		views = append(views, path)
	}

	if len(observations) == 0 {
		return emitFailure(fmt.Errorf("pattern not detected in any of the %d images in %s", len(paths), dir))
	}

	result, err := calibration.Calibrate(observations, imageSize)
	if err != nil {
		return emitFailure(err)
	}
	return emit(toCalibrateResponse(result, views))
}

// cornerPoints converts detected corners into calibration image points.
func cornerPoints(corners []detection.Corner) []calibration.Point2 {
	pts := make([]calibration.Point2, len(corners))
	for i, c := range corners {
		pts[i] = calibration.Point2{X: c.X, Y: c.Y}
	}
	return pts
}

// planarGrid builds the physical pattern geometry for a detected grid:
// row-major z=0 points stepped by the square size, matching the raster order
// the detector reports corners in.
func planarGrid(rows, cols int, square float64) []calibration.Point3 {
	pts := make([]calibration.Point3, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, calibration.Point3{X: float64(c) * square, Y: float64(r) * square})
		}
	}
	return pts
}

func toCalibrateResponse(result *calibration.Result, views []string) calibrateResponse {
	resp := calibrateResponse{
		Success:       true,
		RMS:           result.RMS,
		CameraMatrix:  result.CameraMatrix,
		DistCoeffs:    result.DistCoeffs,
		RVecs:         make([][3]float64, len(result.Poses)),
		TVecs:         make([][3]float64, len(result.Poses)),
		PerViewErrors: result.PerViewErrors,
		Views:         views,
	}
	for i, p := range result.Poses {
		resp.RVecs[i] = p.Rotation
		resp.TVecs[i] = p.Translation
	}
	return resp
}
