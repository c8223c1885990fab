package main

import (
	"encoding/json"
	"testing"

	"camcal/calibration"
	"camcal/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanarGrid(t *testing.T) {
	t.Parallel()

	pts := planarGrid(3, 4, 25)
	require.Len(t, pts, 12)

	// Row-major: columns advance fastest, matching detector corner order.
	assert.Equal(t, calibration.Point3{X: 0, Y: 0}, pts[0])
	assert.Equal(t, calibration.Point3{X: 25, Y: 0}, pts[1])
	assert.Equal(t, calibration.Point3{X: 0, Y: 25}, pts[4])
	assert.Equal(t, calibration.Point3{X: 75, Y: 50}, pts[11])
	for _, p := range pts {
		assert.Zero(t, p.Z)
	}
}

func TestCornerPoints(t *testing.T) {
	t.Parallel()

	corners := []detection.Corner{{X: 1.5, Y: 2.25}, {X: 3, Y: 4}}
	pts := cornerPoints(corners)
	require.Len(t, pts, 2)
	assert.Equal(t, calibration.Point2{X: 1.5, Y: 2.25}, pts[0])
	assert.Equal(t, calibration.Point2{X: 3, Y: 4}, pts[1])
}

func TestObservationFileSchema(t *testing.T) {
	t.Parallel()

	doc := []byte(`{
		"allImagePoints": [[{"x": 1, "y": 2}, {"x": 3, "y": 4}]],
		"objPoints": [[{"x": 0, "y": 0, "z": 0}, {"x": 25, "y": 0, "z": 0}]],
		"imageSize": {"width": 640, "height": 480}
	}`)

	var parsed observationFile
	require.NoError(t, json.Unmarshal(doc, &parsed))
	require.Len(t, parsed.AllImagePoints, 1)
	require.Len(t, parsed.ObjPoints, 1)
	assert.Equal(t, calibration.Point2{X: 3, Y: 4}, parsed.AllImagePoints[0][1])
	assert.Equal(t, calibration.Point3{X: 25}, parsed.ObjPoints[0][1])
	assert.Equal(t, 640, parsed.ImageSize.Width)
	assert.Equal(t, 480, parsed.ImageSize.Height)
}

func TestCalibrateResponseShape(t *testing.T) {
	t.Parallel()

	result := &calibration.Result{
		CameraMatrix: [3][3]float64{{800, 0, 320}, {0, 800, 240}, {0, 0, 1}},
		DistCoeffs:   []float64{0.01, -0.02, 0, 0, 0},
		Poses: []calibration.Pose{
			{Rotation: [3]float64{0.1, 0.2, 0.3}, Translation: [3]float64{1, 2, 3}},
		},
		RMS:           0.42,
		PerViewErrors: []float64{0.007},
	}

	out, err := json.Marshal(toCalibrateResponse(result, nil))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Contains(t, decoded, "rms")
	assert.Contains(t, decoded, "camera_matrix")
	assert.Contains(t, decoded, "dist_coeffs")
	assert.Contains(t, decoded, "rvecs")
	assert.Contains(t, decoded, "tvecs")
	assert.Contains(t, decoded, "perViewErrors")
	assert.NotContains(t, decoded, "views")
}
