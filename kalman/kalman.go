package kalman

import (
	"fmt"
	"math"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/linalg"
	"github.com/bmslab/go-estimate/noise"
	"gonum.org/v1/gonum/mat"
)

// Kalman is Kalman Filter
type Kalman interface {
	// filter.Filter is dynamical system filter
	filter.Filter
	// Cov returns Kalman filter state covariance
	Cov() mat.Symmetric
	// Gain returns Kalman filter gain
	Gain() mat.Matrix
}

// Correction is the result of a linearized measurement update
type Correction struct {
	// X is corrected state
	X *mat.VecDense
	// P is corrected state covariance
	P *mat.SymDense
	// K is Kalman gain
	K *mat.Dense
}

// Correct computes the measurement update of state x with covariance p
// given innovation y, output matrix H and measurement noise covariance r:
//
//	S = H*P*H' + R
//	K = P*H'*S^-1
//	x = x + K*y
//	P = (I - K*H)*P
//
// It returns error wrapping filter.ErrSingularMatrix if S can not be inverted.
// Neither x nor p are modified.
func Correct(x mat.Vector, p mat.Symmetric, H mat.Matrix, y mat.Vector, r mat.Symmetric) (*Correction, error) {
	nx := x.Len()

	// P*H'
	pht := &mat.Dense{}
	pht.Mul(p, H.T())

	// H*P*H' + R
	s := linalg.AddSym(linalg.QuadSym(H, p), r)

	gain, err := linalg.MulInvSym(pht, s)
	if err != nil {
		return nil, fmt.Errorf("innovation covariance: %w", err)
	}

	corr := mat.NewVecDense(nx, nil)
	corr.MulVec(gain, y)
	xNew := mat.NewVecDense(nx, nil)
	xNew.AddVec(x, corr)

	// I - K*H
	a := &mat.Dense{}
	a.Mul(gain, H)
	a.Sub(linalg.Eye(nx), a)

	pNew := &mat.Dense{}
	pNew.Mul(a, p)

	return &Correction{
		X: xNew,
		P: linalg.Symmetrize(pNew),
		K: gain,
	}, nil
}

// TimeStep returns dt, or the model time step if dt is zero and m implements filter.TimeStepper.
// It returns error if dt is negative or not a number.
func TimeStep(m filter.Model, dt float64) (float64, error) {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return 0, fmt.Errorf("%w: time step: %v", filter.ErrInvalidParameter, dt)
	}

	if dt == 0 {
		if ts, ok := m.(filter.TimeStepper); ok {
			return ts.TimeStep(), nil
		}
	}

	return dt, nil
}

// NoiseOrZero validates that noise n has dim x dim covariance and returns it.
// If n is nil it returns zero noise of size dim.
func NoiseOrZero(name string, n filter.Noise, dim int) (filter.Noise, error) {
	if n == nil {
		return noise.NewZero(dim)
	}

	if err := filter.CheckCov(name, n.Cov(), dim); err != nil {
		return nil, err
	}

	return n, nil
}

// InitState validates the initial condition against state dimension nx
// and returns copies of the initial state and covariance.
func InitState(init filter.InitCond, nx int) (*mat.VecDense, *mat.SymDense, error) {
	if init == nil {
		return nil, nil, fmt.Errorf("%w: missing initial condition", filter.ErrInvalidParameter)
	}

	if err := filter.CheckVec("initial state", init.State(), nx); err != nil {
		return nil, nil, err
	}

	if err := filter.CheckCov("initial covariance", init.Cov(), nx); err != nil {
		return nil, nil, err
	}

	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov())

	return mat.VecDenseCopyOf(init.State()), p, nil
}

// CheckDims validates model dimensions: state and output dimensions must be positive.
func CheckDims(m filter.Model) (nx, nu, ny int, err error) {
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: missing model", filter.ErrInvalidParameter)
	}

	nx, nu, ny = m.SystemDims()
	if nx <= 0 || ny <= 0 || nu < 0 {
		return 0, 0, 0, fmt.Errorf("%w: invalid model dimensions: nx=%d nu=%d ny=%d", filter.ErrDimensionMismatch, nx, nu, ny)
	}

	return nx, nu, ny, nil
}
