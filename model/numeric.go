package model

import (
	filter "github.com/bmslab/go-estimate"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Numeric wraps a model and provides its Jacobians by central finite differences.
//
// StateJacobian has no control input argument, so the propagation is linearized
// at the fixed input Control, zero when Control is nil. The result is exact only
// for models whose propagation Jacobian does not depend on the input, such as
// models with additive control; set Control before each predict otherwise.
type Numeric struct {
	filter.Model
	// Step is finite difference step; zero uses the fd package default
	Step float64
	// Control is the input the state Jacobian is evaluated at; nil means zero input
	Control mat.Vector
}

// NewNumeric returns m augmented with numerical Jacobians.
func NewNumeric(m filter.Model) *Numeric {
	return &Numeric{Model: m}
}

// TimeStep returns the time step of the wrapped model, if it has one.
func (n *Numeric) TimeStep() float64 {
	if ts, ok := n.Model.(filter.TimeStepper); ok {
		return ts.TimeStep()
	}

	return 0
}

// StateJacobian returns propagation Jacobian evaluated at x and input n.Control.
func (n *Numeric) StateJacobian(x mat.Vector, dt float64) (mat.Matrix, error) {
	nx, nu, _ := n.SystemDims()
	if err := filter.CheckVec("state", x, nx); err != nil {
		return nil, err
	}

	u := n.Control
	if u == nil && nu > 0 {
		u = mat.NewVecDense(nu, nil)
	}

	var err error
	f := func(y, xNow []float64) {
		if err != nil {
			return
		}
		var xNext mat.Vector
		xNext, err = n.Propagate(mat.NewVecDense(len(xNow), xNow), u, dt)
		if err != nil {
			return
		}
		for i := range y {
			y[i] = xNext.AtVec(i)
		}
	}

	F := mat.NewDense(nx, nx, nil)
	fd.Jacobian(F, f, mat.Col(nil, 0, x), n.settings())
	if err != nil {
		return nil, err
	}

	return F, nil
}

// OutputJacobian returns observation Jacobian evaluated at x.
func (n *Numeric) OutputJacobian(x mat.Vector) (mat.Matrix, error) {
	nx, _, ny := n.SystemDims()
	if err := filter.CheckVec("state", x, nx); err != nil {
		return nil, err
	}

	var err error
	h := func(y, xNow []float64) {
		if err != nil {
			return
		}
		var out mat.Vector
		out, err = n.Observe(mat.NewVecDense(len(xNow), xNow))
		if err != nil {
			return
		}
		for i := range y {
			y[i] = out.AtVec(i)
		}
	}

	H := mat.NewDense(ny, nx, nil)
	fd.Jacobian(H, h, mat.Col(nil, 0, x), n.settings())
	if err != nil {
		return nil, err
	}

	return H, nil
}

func (n *Numeric) settings() *fd.JacobianSettings {
	return &fd.JacobianSettings{
		Formula: fd.Central,
		Step:    n.Step,
	}
}
