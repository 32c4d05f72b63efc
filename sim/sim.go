// Package sim generates synthetic runs of dynamical system models and plots them.
package sim

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/noise"
	"github.com/bmslab/go-estimate/run"
	"gonum.org/v1/gonum/mat"
)

// Generator generates true state trajectories of a model together with noisy measurements
type Generator struct {
	// Model is the simulated system
	Model filter.Model
	// X0 is the initial true state
	X0 mat.Vector
	// Control returns control input of step k; nil for systems with no input
	Control func(k int) mat.Vector
	// StateCov is covariance of the noise disturbing the true state; nil means no disturbance
	StateCov mat.Symmetric
	// OutputCov is measurement noise covariance; nil means exact measurements
	OutputCov mat.Symmetric
}

// Trajectory is a generated run
type Trajectory struct {
	// Truth contains true states; Truth[k] is the state measured in Steps[k]
	Truth []mat.Vector
	// Steps contains control inputs and measurements
	Steps []run.Step
}

// Generate generates c.Steps steps of the model with time step c.Dt.
// Noise samples are drawn from sources seeded with c.Seed so runs are reproducible.
// Step k propagates the true state with the input of step k and measures the propagated state.
func (g *Generator) Generate(c run.Config) (*Trajectory, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if g.Model == nil {
		return nil, fmt.Errorf("%w: missing model", filter.ErrInvalidParameter)
	}

	nx, _, ny := g.Model.SystemDims()
	if err := filter.CheckVec("initial state", g.X0, nx); err != nil {
		return nil, err
	}

	w, err := newNoise("state noise", g.StateCov, nx, c.Seed+1)
	if err != nil {
		return nil, err
	}

	v, err := newNoise("output noise", g.OutputCov, ny, c.Seed)
	if err != nil {
		return nil, err
	}

	t := &Trajectory{
		Truth: make([]mat.Vector, 0, c.Steps),
		Steps: make([]run.Step, 0, c.Steps),
	}

	x := mat.VecDenseCopyOf(g.X0)
	for k := 0; k < c.Steps; k++ {
		var u mat.Vector
		if g.Control != nil {
			u = g.Control(k)
		}

		xNext, err := g.Model.Propagate(x, u, c.Dt)
		if err != nil {
			return nil, fmt.Errorf("step %d: failed to propagate true state: %w", k, err)
		}
		x = mat.VecDenseCopyOf(xNext)
		x.AddVec(x, w.Sample())

		y, err := g.Model.Observe(x)
		if err != nil {
			return nil, fmt.Errorf("step %d: failed to observe true state: %w", k, err)
		}
		z := mat.VecDenseCopyOf(y)
		z.AddVec(z, v.Sample())

		t.Truth = append(t.Truth, mat.VecDenseCopyOf(x))
		t.Steps = append(t.Steps, run.Step{U: u, Z: z, Dt: c.Dt})
	}

	return t, nil
}

// Steps generates run steps. It implements run.Source.
func (g *Generator) Steps(c run.Config) ([]run.Step, error) {
	t, err := g.Generate(c)
	if err != nil {
		return nil, err
	}

	return t.Steps, nil
}

// Measurements returns measurements of all steps as rows of a matrix.
func (t *Trajectory) Measurements() *mat.Dense {
	z := make([]mat.Vector, len(t.Steps))
	for k, s := range t.Steps {
		z[k] = s.Z
	}

	return Stack(z)
}

// Stack returns vectors vs stacked as rows of a matrix.
// It returns nil if vs is empty.
func Stack(vs []mat.Vector) *mat.Dense {
	if len(vs) == 0 {
		return nil
	}

	m := mat.NewDense(len(vs), vs[0].Len(), nil)
	for i, v := range vs {
		m.SetRow(i, mat.Col(nil, 0, v))
	}

	return m
}

// Estimates returns state estimates of all snapshots as rows of a matrix.
func Estimates(snaps []run.Snapshot) *mat.Dense {
	x := make([]mat.Vector, len(snaps))
	for k, s := range snaps {
		x[k] = s.X
	}

	return Stack(x)
}

func newNoise(name string, cov mat.Symmetric, dim int, seed uint64) (filter.Noise, error) {
	if cov == nil {
		z, err := noise.NewZero(dim)
		if err != nil {
			return nil, err
		}
		return z, nil
	}

	if err := filter.CheckCov(name, cov, dim); err != nil {
		return nil, err
	}

	g, err := noise.NewGaussianWithSeed(make([]float64, dim), cov, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}

	return g, nil
}
