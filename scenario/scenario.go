// Package scenario provides reference estimation scenarios: a model of the
// system, filter tuning and a seeded simulation of the true system.
package scenario

import (
	"fmt"
	"sort"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/kalman/ekf"
	"github.com/bmslab/go-estimate/kalman/kf"
	"github.com/bmslab/go-estimate/kalman/ukf"
	"github.com/bmslab/go-estimate/model"
	"github.com/bmslab/go-estimate/noise"
	"github.com/bmslab/go-estimate/run"
	"github.com/bmslab/go-estimate/sim"
	"gonum.org/v1/gonum/mat"
)

// Filter kinds
const (
	KF   = "kf"
	EKF  = "ekf"
	IEKF = "iekf"
	UKF  = "ukf"
)

// DefaultIterations is the number of iterated EKF update iterations
const DefaultIterations = 5

// Scenario is a simulated system together with the filter tuning used to estimate its state
type Scenario struct {
	// Name is scenario name
	Name string
	// Description is a short scenario description
	Description string
	// Model is the model used by filters
	Model filter.Model
	// Init is filter initial condition
	Init *model.InitCond
	// Q is filter state noise covariance
	Q mat.Symmetric
	// R is filter output noise covariance
	R mat.Symmetric
	// UKF is unscented filter configuration
	UKF ukf.Config
	// Iterations is the number of iterated EKF update iterations
	Iterations int
	// Config is default run configuration
	Config run.Config
	// Sim simulates the true system
	Sim *sim.Generator
	// Locate returns planar position of measurement z; nil if measurements are not positions
	Locate func(z mat.Vector) (x, y float64)
}

var registry = map[string]func() (*Scenario, error){
	"pose":    PoseCV,
	"vehicle": Vehicle,
	"soc":     StaticSoC,
	"coulomb": CoulombSoC,
}

// Names returns sorted names of all registered scenarios
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// New creates registered scenario with the given name and returns it.
func New(name string) (*Scenario, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scenario %q", filter.ErrInvalidParameter, name)
	}

	return fn()
}

// Filter creates a new filter of the given kind tuned for the scenario.
// It returns error if the kind is unknown or the scenario model does not support it.
func (s *Scenario) Filter(kind string) (filter.Filter, error) {
	q, err := noise.NewGaussian(make([]float64, s.Q.SymmetricDim()), s.Q)
	if err != nil {
		return nil, fmt.Errorf("failed to create state noise: %w", err)
	}

	r, err := noise.NewGaussian(make([]float64, s.R.SymmetricDim()), s.R)
	if err != nil {
		return nil, fmt.Errorf("failed to create output noise: %w", err)
	}

	var f filter.Filter
	switch kind {
	case KF:
		m, ok := s.Model.(filter.DiscreteModel)
		if !ok {
			return nil, fmt.Errorf("%w: scenario %s: model is not linear", filter.ErrInvalidParameter, s.Name)
		}
		f, err = kf.New(m, s.Init, q, r)
	case EKF:
		f, err = ekf.New(s.differentiable(), s.Init, q, r)
	case IEKF:
		n := s.Iterations
		if n == 0 {
			n = DefaultIterations
		}
		f, err = ekf.NewIter(s.differentiable(), s.Init, q, r, n)
	case UKF:
		c := s.UKF
		f, err = ukf.New(s.Model, s.Init, q, r, &c)
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", filter.ErrInvalidParameter, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s filter: %w", kind, err)
	}

	return f, nil
}

// Generate simulates the true system for run configuration c.
// Zero fields of c are replaced by the scenario defaults.
func (s *Scenario) Generate(c run.Config) (*sim.Trajectory, error) {
	return s.Sim.Generate(c.WithDefaults(s.Config))
}

// Steps generates run steps. It implements run.Source.
func (s *Scenario) Steps(c run.Config) ([]run.Step, error) {
	return s.Sim.Steps(c.WithDefaults(s.Config))
}

func (s *Scenario) differentiable() filter.DifferentiableModel {
	if m, ok := s.Model.(filter.DifferentiableModel); ok {
		return m
	}

	return model.NewNumeric(s.Model)
}

func diag(v ...float64) *mat.SymDense {
	d := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		d.SetSym(i, i, x)
	}

	return d
}

func scaledEye(n int, s float64) *mat.SymDense {
	v := make([]float64, n)
	for i := range v {
		v[i] = s
	}

	return diag(v...)
}
