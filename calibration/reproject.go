package calibration

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// rodrigues converts an axis-angle rotation vector into a 3x3 rotation
// matrix: R = I + sin(t)*K + (1-cos(t))*K^2 where K is the unit axis in
// skew-symmetric form and t the vector's magnitude.
func rodrigues(rvec [3]float64) *mat.Dense {
	theta := math.Sqrt(rvec[0]*rvec[0] + rvec[1]*rvec[1] + rvec[2]*rvec[2])
	r := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	if theta < 1e-12 {
		return r
	}

	kx, ky, kz := rvec[0]/theta, rvec[1]/theta, rvec[2]/theta
	k := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})

	var k2 mat.Dense
	k2.Mul(k, k)

	var sinTerm, cosTerm mat.Dense
	sinTerm.Scale(math.Sin(theta), k)
	cosTerm.Scale(1-math.Cos(theta), &k2)

	r.Add(r, &sinTerm)
	r.Add(r, &cosTerm)
	return r
}

// distort applies the Brown-Conrady model to normalized image coordinates.
// Coefficients follow OpenCV order (k1, k2, p1, p2, k3); a shorter slice is
// padded with zeros.
//
//	x_d = x*(1 + k1*r^2 + k2*r^4 + k3*r^6) + 2*p1*x*y + p2*(r^2 + 2*x^2)
//	y_d = y*(1 + k1*r^2 + k2*r^4 + k3*r^6) + p1*(r^2 + 2*y^2) + 2*p2*x*y
func distort(x, y float64, dist []float64) (float64, float64) {
	var d [5]float64
	copy(d[:], dist)
	k1, k2, p1, p2, k3 := d[0], d[1], d[2], d[3], d[4]

	r2 := x*x + y*y
	radial := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// ProjectPoints maps pattern-frame points into image pixels through a pose,
// camera matrix and distortion coefficients, the forward pinhole model the
// solver minimizes against. It backs the per-view error scores and is
// exported for callers that want residual overlays or synthetic data.
func ProjectPoints(pts []Point3, pose Pose, camera [3][3]float64, dist []float64) []Point2 {
	r := rodrigues(pose.Rotation)
	t := mat.NewVecDense(3, []float64{pose.Translation[0], pose.Translation[1], pose.Translation[2]})

	fx, fy := camera[0][0], camera[1][1]
	cx, cy := camera[0][2], camera[1][2]

	out := make([]Point2, len(pts))
	var cam mat.VecDense
	for i, p := range pts {
		world := mat.NewVecDense(3, []float64{p.X, p.Y, p.Z})
		cam.MulVec(r, world)
		cam.AddVec(&cam, t)

		x := cam.AtVec(0) / cam.AtVec(2)
		y := cam.AtVec(1) / cam.AtVec(2)
		xd, yd := distort(x, y, dist)

		out[i] = Point2{X: fx*xd + cx, Y: fy*yd + cy}
	}
	return out
}
