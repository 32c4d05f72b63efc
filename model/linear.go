package model

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"gonum.org/v1/gonum/mat"
)

// Linear is a model of a linear, discrete-time, dynamical system
//
//	x[k+1] = A*x[k] + B*u[k]
//	y[k]   = C*x[k]
//
// Linear models ignore the time step: it is baked into A and B.
type Linear struct {
	// A is system/state matrix
	A *mat.Dense
	// B is control/input matrix, nil when the system has no input
	B *mat.Dense
	// C is observation/output matrix
	C *mat.Dense
}

// NewLinear creates a linear discrete-time model and returns it.
// B may be nil for systems with no control input.
// It returns error if the matrix dimensions do not agree.
func NewLinear(A, B, C *mat.Dense) (*Linear, error) {
	if A == nil || C == nil {
		return nil, fmt.Errorf("%w: system and output matrices must be defined", filter.ErrDimensionMismatch)
	}

	nx, cols := A.Dims()
	if nx != cols {
		return nil, fmt.Errorf("%w: system matrix must be square: [%d x %d]", filter.ErrDimensionMismatch, nx, cols)
	}

	if B != nil {
		if rows, _ := B.Dims(); rows != nx {
			return nil, fmt.Errorf("%w: control matrix rows: %d != %d", filter.ErrDimensionMismatch, rows, nx)
		}
	}

	if _, cols := C.Dims(); cols != nx {
		return nil, fmt.Errorf("%w: output matrix cols: %d != %d", filter.ErrDimensionMismatch, cols, nx)
	}

	l := &Linear{A: mat.DenseCopyOf(A), C: mat.DenseCopyOf(C)}
	if B != nil {
		l.B = mat.DenseCopyOf(B)
	}

	return l, nil
}

// SystemDims returns internal state length (nx), input vector length (nu)
// and external/observable/output state length (ny).
func (l *Linear) SystemDims() (nx, nu, ny int) {
	nx, _ = l.A.Dims()
	if l.B != nil {
		_, nu = l.B.Dims()
	}
	ny, _ = l.C.Dims()

	return nx, nu, ny
}

// Propagate returns the next internal state A*x + B*u.
func (l *Linear) Propagate(x, u mat.Vector, _ float64) (mat.Vector, error) {
	nx, nu, _ := l.SystemDims()
	if err := filter.CheckVec("state", x, nx); err != nil {
		return nil, err
	}

	if err := filter.CheckVec("input", u, nu); err != nil {
		return nil, err
	}

	out := mat.NewVecDense(nx, nil)
	out.MulVec(l.A, x)

	if nu > 0 {
		outU := mat.NewVecDense(nx, nil)
		outU.MulVec(l.B, u)
		out.AddVec(out, outU)
	}

	return out, nil
}

// Observe returns external/observable state C*x.
func (l *Linear) Observe(x mat.Vector) (mat.Vector, error) {
	nx, _, ny := l.SystemDims()
	if err := filter.CheckVec("state", x, nx); err != nil {
		return nil, err
	}

	out := mat.NewVecDense(ny, nil)
	out.MulVec(l.C, x)

	return out, nil
}

// StateJacobian returns the system matrix A: the Jacobian of a linear propagation.
func (l *Linear) StateJacobian(x mat.Vector, _ float64) (mat.Matrix, error) {
	return l.SystemMatrix(), nil
}

// OutputJacobian returns the output matrix C: the Jacobian of a linear observation.
func (l *Linear) OutputJacobian(x mat.Vector) (mat.Matrix, error) {
	return l.OutputMatrix(), nil
}

// SystemMatrix returns state propagation matrix A
func (l *Linear) SystemMatrix() mat.Matrix {
	return mat.DenseCopyOf(l.A)
}

// ControlMatrix returns state propagation control matrix B or nil
func (l *Linear) ControlMatrix() mat.Matrix {
	if l.B == nil {
		return nil
	}

	return mat.DenseCopyOf(l.B)
}

// OutputMatrix returns observation matrix C
func (l *Linear) OutputMatrix() mat.Matrix {
	return mat.DenseCopyOf(l.C)
}
