package scenario

import (
	"github.com/bmslab/go-estimate/kalman/ukf"
	"github.com/bmslab/go-estimate/model"
	"github.com/bmslab/go-estimate/run"
	"github.com/bmslab/go-estimate/sim"
	"gonum.org/v1/gonum/mat"
)

const (
	// capacity is battery capacity [C]
	capacity = 3600.0
	// maxVoltage is cell voltage at full charge [V]
	maxVoltage = 4.2
	// current is the magnitude of cell current [A]
	current = 0.5
)

// StaticSoC returns a cell resting at constant state of charge [%] which is measured directly.
func StaticSoC() (*Scenario, error) {
	one := mat.NewDense(1, 1, []float64{1.0})

	m, err := model.NewLinear(one, nil, one)
	if err != nil {
		return nil, err
	}

	x0 := mat.NewVecDense(1, []float64{50.0})

	return &Scenario{
		Name:        "soc",
		Description: "resting cell with directly measured state of charge",
		Model:       m,
		Init:        model.NewInitCond(x0, diag(1.0)),
		Q:           diag(1e-5),
		R:           diag(1e-2),
		UKF:         ukf.Config{Alpha: 1.0, Beta: 2.0, Kappa: 0.0},
		Config:      run.Config{Seed: 42, Steps: 200, Dt: 1.0},
		Sim: &sim.Generator{
			Model:     m,
			X0:        x0,
			OutputCov: diag(0.2 * 0.2),
		},
	}, nil
}

// CoulombSoC returns a cell discharged and then charged by constant current.
// State of charge in [0, 1] integrates the current and the cell voltage,
// proportional to the state of charge, is measured.
func CoulombSoC() (*Scenario, error) {
	ct, err := model.NewContinuous(
		mat.NewDense(1, 1, []float64{0.0}),
		mat.NewDense(1, 1, []float64{-1.0 / capacity}),
		mat.NewDense(1, 1, []float64{maxVoltage}),
	)
	if err != nil {
		return nil, err
	}

	c := run.Config{Seed: 42, Steps: 3600, Dt: 1.0}

	m, err := ct.ToDiscrete(c.Dt)
	if err != nil {
		return nil, err
	}

	x0 := mat.NewVecDense(1, []float64{1.0})

	return &Scenario{
		Name:        "coulomb",
		Description: "cell discharged then charged with state of charge measured through voltage",
		Model:       m,
		Init:        model.NewInitCond(x0, diag(1.0)),
		Q:           diag(1e-6),
		R:           diag(0.05 * 0.05),
		UKF:         ukf.Config{Alpha: 1.0, Beta: 2.0, Kappa: 0.0},
		Config:      c,
		Sim: &sim.Generator{
			Model:     m,
			X0:        x0,
			Control:   coulombCurrent(c.Steps / 2),
			OutputCov: diag(0.05 * 0.05),
		},
	}, nil
}

// coulombCurrent discharges the cell for the first half steps and charges it afterwards.
func coulombCurrent(half int) func(k int) mat.Vector {
	return func(k int) mat.Vector {
		if k < half {
			return mat.NewVecDense(1, []float64{current})
		}
		return mat.NewVecDense(1, []float64{-current})
	}
}
