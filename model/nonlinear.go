package model

import (
	"fmt"
	"math"

	filter "github.com/bmslab/go-estimate"
	"gonum.org/v1/gonum/mat"
)

// PropagateFunc propagates state x to the next step given input u and time step dt.
type PropagateFunc func(x, u mat.Vector, dt float64) mat.Vector

// ObserveFunc returns the output of the system in state x.
type ObserveFunc func(x mat.Vector) mat.Vector

// StateJacFunc returns the Jacobian of a PropagateFunc evaluated at x.
type StateJacFunc func(x mat.Vector, dt float64) mat.Matrix

// OutputJacFunc returns the Jacobian of an ObserveFunc evaluated at x.
type OutputJacFunc func(x mat.Vector) mat.Matrix

// Unscented is a nonlinear model defined only by its propagation and observation
// functions. It is the model the unscented filter consumes.
type Unscented struct {
	nx, nu, ny int
	f          PropagateFunc
	h          ObserveFunc
	dt         float64
}

// NewUnscented creates new function-only model with nx states, nu inputs and ny outputs.
// It returns error if either of the functions is nil or dimensions are invalid.
func NewUnscented(nx, nu, ny int, f PropagateFunc, h ObserveFunc) (*Unscented, error) {
	if nx <= 0 || ny <= 0 || nu < 0 {
		return nil, fmt.Errorf("%w: model dimensions: nx=%d nu=%d ny=%d", filter.ErrInvalidParameter, nx, nu, ny)
	}

	if f == nil || h == nil {
		return nil, fmt.Errorf("%w: propagation and observation functions must be defined", filter.ErrInvalidParameter)
	}

	return &Unscented{nx: nx, nu: nu, ny: ny, f: f, h: h}, nil
}

// SetTimeStep sets the fixed time step used when filters are asked to predict with zero dt.
func (m *Unscented) SetTimeStep(dt float64) error {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("%w: time step: %v", filter.ErrInvalidParameter, dt)
	}
	m.dt = dt

	return nil
}

// TimeStep returns model time step.
func (m *Unscented) TimeStep() float64 {
	return m.dt
}

// SystemDims returns state, input and output dimensions.
func (m *Unscented) SystemDims() (nx, nu, ny int) {
	return m.nx, m.nu, m.ny
}

// Propagate propagates internal state x to the next step.
// It returns error if x or u are of wrong size or if the propagation function
// returns a vector of wrong size.
func (m *Unscented) Propagate(x, u mat.Vector, dt float64) (mat.Vector, error) {
	if err := filter.CheckVec("state", x, m.nx); err != nil {
		return nil, err
	}

	if err := filter.CheckVec("input", u, m.nu); err != nil {
		return nil, err
	}

	xNext := m.f(x, u, dt)
	if err := filter.CheckVec("propagated state", xNext, m.nx); err != nil {
		return nil, err
	}

	return xNext, nil
}

// Observe returns external/observable state of the system in internal state x.
func (m *Unscented) Observe(x mat.Vector) (mat.Vector, error) {
	if err := filter.CheckVec("state", x, m.nx); err != nil {
		return nil, err
	}

	y := m.h(x)
	if err := filter.CheckVec("output", y, m.ny); err != nil {
		return nil, err
	}

	return y, nil
}

// Nonlinear is a nonlinear model with analytic Jacobians supplied by the caller.
// It is the model the extended filter consumes.
type Nonlinear struct {
	*Unscented
	fJac StateJacFunc
	hJac OutputJacFunc
}

// NewNonlinear creates new nonlinear model with analytic Jacobians and returns it.
// It returns error if any of the functions is nil or dimensions are invalid.
func NewNonlinear(nx, nu, ny int, f PropagateFunc, h ObserveFunc, fJac StateJacFunc, hJac OutputJacFunc) (*Nonlinear, error) {
	u, err := NewUnscented(nx, nu, ny, f, h)
	if err != nil {
		return nil, err
	}

	if fJac == nil || hJac == nil {
		return nil, fmt.Errorf("%w: jacobian functions must be defined", filter.ErrInvalidParameter)
	}

	return &Nonlinear{Unscented: u, fJac: fJac, hJac: hJac}, nil
}

// StateJacobian returns nx x nx propagation Jacobian evaluated at x.
func (m *Nonlinear) StateJacobian(x mat.Vector, dt float64) (mat.Matrix, error) {
	if err := filter.CheckVec("state", x, m.nx); err != nil {
		return nil, err
	}

	F := m.fJac(x, dt)
	if err := filter.CheckDims("state jacobian", F, m.nx, m.nx); err != nil {
		return nil, err
	}

	return F, nil
}

// OutputJacobian returns ny x nx observation Jacobian evaluated at x.
func (m *Nonlinear) OutputJacobian(x mat.Vector) (mat.Matrix, error) {
	if err := filter.CheckVec("state", x, m.nx); err != nil {
		return nil, err
	}

	H := m.hJac(x)
	if err := filter.CheckDims("output jacobian", H, m.ny, m.nx); err != nil {
		return nil, err
	}

	return H, nil
}
