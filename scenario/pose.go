package scenario

import (
	"math"

	"github.com/bmslab/go-estimate/kalman/ukf"
	"github.com/bmslab/go-estimate/model"
	"github.com/bmslab/go-estimate/run"
	"github.com/bmslab/go-estimate/sim"
	"gonum.org/v1/gonum/mat"
)

// poseSpeed is constant forward speed [m/s]
const poseSpeed = 1.0

// PoseCV returns a planar robot moving with constant speed and heading.
// State is (x, y, θ); the robot is observed by range and bearing from the origin.
func PoseCV() (*Scenario, error) {
	m, err := model.NewNonlinear(3, 0, 2, posePropagate, poseObserve, poseStateJac, poseOutputJac)
	if err != nil {
		return nil, err
	}

	c := run.Config{Seed: 42, Steps: 50, Dt: 1.0}
	if err := m.SetTimeStep(c.Dt); err != nil {
		return nil, err
	}

	x0 := mat.NewVecDense(3, []float64{0.0, 0.0, math.Pi / 4})

	return &Scenario{
		Name:        "pose",
		Description: "constant velocity pose tracked by range and bearing",
		Model:       m,
		Init:        model.NewInitCond(x0, scaledEye(3, 1e-5)),
		Q:           diag(1e-4, 1e-4, 1e-6),
		R:           diag(0.1, 0.05),
		UKF:         ukf.Config{Alpha: 0.1, Beta: 2.0, Kappa: 0.0},
		Config:      c,
		Sim: &sim.Generator{
			Model:     m,
			X0:        x0,
			OutputCov: diag(0.1*0.1, 0.05*0.05),
		},
		Locate: func(z mat.Vector) (float64, float64) {
			return z.AtVec(0) * math.Cos(z.AtVec(1)), z.AtVec(0) * math.Sin(z.AtVec(1))
		},
	}, nil
}

func posePropagate(x, _ mat.Vector, dt float64) mat.Vector {
	theta := x.AtVec(2)

	return mat.NewVecDense(3, []float64{
		x.AtVec(0) + dt*poseSpeed*math.Cos(theta),
		x.AtVec(1) + dt*poseSpeed*math.Sin(theta),
		theta,
	})
}

func poseObserve(x mat.Vector) mat.Vector {
	px, py := x.AtVec(0), x.AtVec(1)

	return mat.NewVecDense(2, []float64{math.Hypot(px, py), math.Atan2(py, px)})
}

func poseStateJac(x mat.Vector, dt float64) mat.Matrix {
	theta := x.AtVec(2)

	return mat.NewDense(3, 3, []float64{
		1, 0, -dt * poseSpeed * math.Sin(theta),
		0, 1, dt * poseSpeed * math.Cos(theta),
		0, 0, 1,
	})
}

func poseOutputJac(x mat.Vector) mat.Matrix {
	px, py := x.AtVec(0), x.AtVec(1)
	r2 := px*px + py*py
	r := math.Sqrt(r2)

	return mat.NewDense(2, 3, []float64{
		px / r, py / r, 0,
		-py / r2, px / r2, 0,
	})
}
