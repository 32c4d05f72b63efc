package ekf

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/estimate"
	"github.com/bmslab/go-estimate/kalman"
	"github.com/bmslab/go-estimate/linalg"
	"gonum.org/v1/gonum/mat"
)

// EKF is Extended Kalman Filter
type EKF struct {
	// m is EKF system model
	m filter.DifferentiableModel
	// q is state noise a.k.a. process noise
	q filter.Noise
	// r is output noise a.k.a. measurement noise
	r filter.Noise
	// x is the EKF state estimate
	x *mat.VecDense
	// p is the EKF covariance matrix
	p *mat.SymDense
	// f is the last propagation Jacobian
	f *mat.Dense
	// h is the last observation Jacobian
	h *mat.Dense
	// inn is innovation vector
	inn *mat.VecDense
	// k is Kalman gain
	k *mat.Dense
}

// New creates new EKF and returns it.
// It accepts the following parameters:
//   - m:    dynamical system model which provides Jacobians
//   - init: initial condition of the filter
//   - q:    state a.k.a. process noise; nil means no process noise
//   - r:    output a.k.a. measurement noise; nil means no measurement noise
//
// It returns error if either of the following conditions is met:
//   - invalid model is given: model dimensions must be positive integers
//   - initial condition or noise covariances do not match the model dimensions
func New(m filter.DifferentiableModel, init filter.InitCond, q, r filter.Noise) (*EKF, error) {
	nx, _, ny, err := kalman.CheckDims(m)
	if err != nil {
		return nil, err
	}

	x, p, err := kalman.InitState(init, nx)
	if err != nil {
		return nil, err
	}

	if q, err = kalman.NoiseOrZero("state noise", q, nx); err != nil {
		return nil, err
	}

	if r, err = kalman.NoiseOrZero("output noise", r, ny); err != nil {
		return nil, err
	}

	return &EKF{
		m:   m,
		q:   q,
		r:   r,
		x:   x,
		p:   p,
		f:   mat.NewDense(nx, nx, nil),
		h:   mat.NewDense(ny, nx, nil),
		inn: mat.NewVecDense(ny, nil),
		k:   mat.NewDense(nx, ny, nil),
	}, nil
}

// Predict propagates the filter state to the next step given the input u and time step dt
// and returns its estimate. The propagation Jacobian F is evaluated at the current state:
//
//	x = f(x, u, dt)
//	P = F*P*F' + Q
//
// If dt is zero the model time step is used, provided the model has one.
// It returns error if dt is invalid, u does not match the model input dimension
// or if the model returns Jacobian of wrong dimensions.
func (k *EKF) Predict(u mat.Vector, dt float64) (filter.Estimate, error) {
	dt, err := kalman.TimeStep(k.m, dt)
	if err != nil {
		return nil, err
	}

	nx, _, _ := k.m.SystemDims()

	F, err := k.m.StateJacobian(k.x, dt)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate propagation jacobian: %w", err)
	}

	if err := filter.CheckDims("state jacobian", F, nx, nx); err != nil {
		return nil, err
	}

	xNext, err := k.m.Propagate(k.x, u, dt)
	if err != nil {
		return nil, fmt.Errorf("system state propagation failed: %w", err)
	}

	k.p = linalg.AddSym(linalg.QuadSym(F, k.p), k.q.Cov())
	k.x = mat.VecDenseCopyOf(xNext)
	k.f.Copy(F)

	return estimate.NewBaseWithCov(k.x, k.p)
}

// Update corrects the filter state using the measurement z and returns corrected estimate.
// The observation Jacobian H is evaluated at the predicted state and the innovation
// is computed using the nonlinear observation function: y = z - h(x).
// If the innovation covariance is singular the update is skipped: the returned estimate
// is the unchanged prior and the error wraps filter.ErrSingularMatrix.
// It returns error if z does not match the model output dimension or if the model
// returns Jacobian of wrong dimensions.
func (k *EKF) Update(z mat.Vector) (filter.Estimate, error) {
	nx, _, ny := k.m.SystemDims()
	if err := filter.CheckVec("measurement", z, ny); err != nil {
		return nil, err
	}

	H, err := k.m.OutputJacobian(k.x)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate observation jacobian: %w", err)
	}

	if err := filter.CheckDims("output jacobian", H, ny, nx); err != nil {
		return nil, err
	}

	y, err := k.m.Observe(k.x)
	if err != nil {
		return nil, fmt.Errorf("failed to observe system output: %w", err)
	}

	// innovation vector
	inn := mat.NewVecDense(ny, nil)
	inn.SubVec(z, y)

	c, err := kalman.Correct(k.x, k.p, H, inn, k.r.Cov())
	if err != nil {
		return k.State(), err
	}

	k.x = c.X
	k.p = c.P
	k.h.Copy(H)
	k.inn.CopyVec(inn)
	k.k.Copy(c.K)

	return estimate.NewBaseWithCov(k.x, k.p)
}

// State returns current filter estimate
func (k *EKF) State() filter.Estimate {
	est, _ := estimate.NewBaseWithCov(k.x, k.p)
	return est
}

// Model returns EKF model
func (k *EKF) Model() filter.DifferentiableModel {
	return k.m
}

// TimeStep returns the model time step used when Predict is called with zero dt.
// It returns zero if the model has no time step.
func (k *EKF) TimeStep() float64 {
	dt, _ := kalman.TimeStep(k.m, 0)
	return dt
}

// StateNoise retruns state noise
func (k *EKF) StateNoise() filter.Noise {
	return k.q
}

// OutputNoise retruns output noise
func (k *EKF) OutputNoise() filter.Noise {
	return k.r
}

// Cov returns EKF covariance
func (k *EKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets EKF covariance matrix to cov.
// It returns error if either cov is nil or its dimensions are not the same as EKF covariance dimensions.
func (k *EKF) SetCov(cov mat.Symmetric) error {
	if err := filter.CheckCov("covariance", cov, k.p.SymmetricDim()); err != nil {
		return err
	}

	k.p.CopySym(cov)

	return nil
}

// Gain returns Kalman gain
func (k *EKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// Innovation returns the innovation vector of the last update
func (k *EKF) Innovation() mat.Vector {
	return mat.VecDenseCopyOf(k.inn)
}

// Jacobians returns the propagation and observation Jacobians used in the last predict and update
func (k *EKF) Jacobians() (F, H mat.Matrix) {
	return mat.DenseCopyOf(k.f), mat.DenseCopyOf(k.h)
}
