package scenario

import (
	"math"

	"github.com/bmslab/go-estimate/kalman/ukf"
	"github.com/bmslab/go-estimate/model"
	"github.com/bmslab/go-estimate/run"
	"github.com/bmslab/go-estimate/sim"
	"gonum.org/v1/gonum/mat"
)

const (
	// vehicleAccel is longitudinal acceleration [m/s^2]
	vehicleAccel = 0.5
	// vehicleYawRate is yaw rate [rad/s]
	vehicleYawRate = 0.05
)

// Vehicle returns an accelerating vehicle turning with constant yaw rate.
// State is (x, y, v, ψ); position and speed are measured.
func Vehicle() (*Scenario, error) {
	m, err := model.NewNonlinear(4, 0, 3, vehiclePropagate, vehicleObserve, vehicleStateJac, vehicleOutputJac)
	if err != nil {
		return nil, err
	}

	c := run.Config{Seed: 42, Steps: 100, Dt: 0.1}
	if err := m.SetTimeStep(c.Dt); err != nil {
		return nil, err
	}

	return &Scenario{
		Name:        "vehicle",
		Description: "accelerating vehicle with constant yaw rate tracked by position and speed",
		Model:       m,
		Init:        model.NewInitCond(mat.NewVecDense(4, []float64{0, 0, 15, math.Pi / 6}), scaledEye(4, 1.0)),
		Q:           diag(0.1, 0.1, 0.1, 0.01),
		R:           diag(1.0, 1.0, 0.5),
		UKF:         ukf.Config{Alpha: 0.1, Beta: 2.0, Kappa: 0.0},
		Config:      c,
		Sim: &sim.Generator{
			Model:     m,
			X0:        mat.NewVecDense(4, []float64{0, 0, 20, math.Pi / 6}),
			OutputCov: diag(1.0, 1.0, 0.5*0.5),
		},
		Locate: func(z mat.Vector) (float64, float64) {
			return z.AtVec(0), z.AtVec(1)
		},
	}, nil
}

func vehiclePropagate(x, _ mat.Vector, dt float64) mat.Vector {
	v := x.AtVec(2) + vehicleAccel*dt
	psi := x.AtVec(3) + vehicleYawRate*dt

	return mat.NewVecDense(4, []float64{
		x.AtVec(0) + v*math.Cos(psi)*dt,
		x.AtVec(1) + v*math.Sin(psi)*dt,
		v,
		psi,
	})
}

func vehicleObserve(x mat.Vector) mat.Vector {
	return mat.NewVecDense(3, []float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)})
}

func vehicleStateJac(x mat.Vector, dt float64) mat.Matrix {
	v := x.AtVec(2) + vehicleAccel*dt
	psi := x.AtVec(3) + vehicleYawRate*dt

	return mat.NewDense(4, 4, []float64{
		1, 0, math.Cos(psi) * dt, -v * math.Sin(psi) * dt,
		0, 1, math.Sin(psi) * dt, v * math.Cos(psi) * dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func vehicleOutputJac(_ mat.Vector) mat.Matrix {
	return mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
}
