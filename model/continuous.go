package model

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"gonum.org/v1/gonum/mat"
)

// Continuous is a model of a linear, continuous-time, dynamical system
//
//	dx/dt = A*x + B*u
//	y     = C*x
type Continuous struct {
	sys *Linear
}

// NewContinuous creates a linear continuous-time model and returns it.
// B may be nil for systems with no control input.
func NewContinuous(A, B, C *mat.Dense) (*Continuous, error) {
	sys, err := NewLinear(A, B, C)
	if err != nil {
		return nil, err
	}

	return &Continuous{sys: sys}, nil
}

// SystemDims returns state, input and output dimensions.
func (ct *Continuous) SystemDims() (nx, nu, ny int) {
	return ct.sys.SystemDims()
}

// Propagate advances state x by time step dt using Euler integration
// of the state derivative A*x + B*u.
func (ct *Continuous) Propagate(x, u mat.Vector, dt float64) (mat.Vector, error) {
	dx, err := ct.sys.Propagate(x, u, dt)
	if err != nil {
		return nil, err
	}

	out := mat.VecDenseCopyOf(x)
	out.AddScaledVec(out, dt, dx)

	return out, nil
}

// Observe returns C*x.
func (ct *Continuous) Observe(x mat.Vector) (mat.Vector, error) {
	return ct.sys.Observe(x)
}

// ToDiscrete creates a discrete-time model from the continuous-time model
// using Ts as the sampling time.
//
// Both discrete matrices come out of a single matrix exponential:
//
//	exp([A B; 0 0]*Ts) = [Ad Bd; 0 I]
//
// which holds whether or not A is singular.
func (ct *Continuous) ToDiscrete(Ts float64) (*Linear, error) {
	if Ts <= 0 {
		return nil, fmt.Errorf("%w: sampling time: %v", filter.ErrInvalidParameter, Ts)
	}

	nx, nu, _ := ct.SystemDims()

	m := mat.NewDense(nx+nu, nx+nu, nil)
	m.Slice(0, nx, 0, nx).(*mat.Dense).Copy(ct.sys.A)
	if nu > 0 {
		m.Slice(0, nx, nx, nx+nu).(*mat.Dense).Copy(ct.sys.B)
	}
	m.Scale(Ts, m)
	m.Exp(m)

	Ad := mat.DenseCopyOf(m.Slice(0, nx, 0, nx))

	var Bd *mat.Dense
	if nu > 0 {
		Bd = mat.DenseCopyOf(m.Slice(0, nx, nx, nx+nu))
	}

	return NewLinear(Ad, Bd, ct.sys.C)
}
