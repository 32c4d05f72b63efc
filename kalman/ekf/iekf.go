package ekf

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/estimate"
	"github.com/bmslab/go-estimate/kalman"
	"gonum.org/v1/gonum/mat"
)

// IEKF is Iterated Extended Kalman Filter
type IEKF struct {
	// ekf.EKF is extended Kalman filter
	*EKF
	// n is number of update iterations
	n int
}

// NewIter creates new Iterated EKF and returns it.
// It accepts the following parameters:
//   - m:    dynamical system model which provides Jacobians
//   - init: initial condition of the filter
//   - q:    state a.k.a. process noise
//   - r:    output a.k.a. measurement noise
//   - n:    number of update iterations
//
// It returns error if either of the following conditions is met:
//   - invalid model is given: model dimensions must be positive integers
//   - invalid state or output noise is given: noise covariance must either be nil or match the model dimensions
//   - invalid number of update iterations is given: n must be positive
func NewIter(m filter.DifferentiableModel, init filter.InitCond, q, r filter.Noise, n int) (*IEKF, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: number of update iterations: %d", filter.ErrInvalidParameter, n)
	}

	// IEKF is EKF which uses iterating updates
	f, err := New(m, init, q, r)
	if err != nil {
		return nil, err
	}

	return &IEKF{
		EKF: f,
		n:   n,
	}, nil
}

// Update corrects the filter state using the measurement z and returns corrected estimate.
// The observation model is relinearized n times around the refined state estimate x[i]:
//
//	y[i]   = z - h(x[i]) - H[i]*(x - x[i])
//	x[i+1] = x + K[i]*y[i]
//
// where x is the predicted state. The covariance is corrected once using the last gain.
// With a single iteration the update is identical to the EKF update.
func (k *IEKF) Update(z mat.Vector) (filter.Estimate, error) {
	nx, _, ny := k.m.SystemDims()
	if err := filter.CheckVec("measurement", z, ny); err != nil {
		return nil, err
	}

	var (
		c   *kalman.Correction
		H   mat.Matrix
		inn *mat.VecDense
	)

	xi := mat.VecDenseCopyOf(k.x)
	for i := 0; i < k.n; i++ {
		var err error
		H, err = k.m.OutputJacobian(xi)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate observation jacobian: %w", err)
		}

		if err := filter.CheckDims("output jacobian", H, ny, nx); err != nil {
			return nil, err
		}

		y, err := k.m.Observe(xi)
		if err != nil {
			return nil, fmt.Errorf("failed to observe system output: %w", err)
		}

		inn = mat.NewVecDense(ny, nil)
		inn.SubVec(z, y)

		// linearization point offset: H*(x - x[i])
		dx := mat.NewVecDense(nx, nil)
		dx.SubVec(k.x, xi)
		hdx := mat.NewVecDense(ny, nil)
		hdx.MulVec(H, dx)
		inn.SubVec(inn, hdx)

		c, err = kalman.Correct(k.x, k.p, H, inn, k.r.Cov())
		if err != nil {
			return k.State(), err
		}

		xi = c.X
	}

	k.x = c.X
	k.p = c.P
	k.h.Copy(H)
	k.inn.CopyVec(inn)
	k.k.Copy(c.K)

	return estimate.NewBaseWithCov(k.x, k.p)
}
