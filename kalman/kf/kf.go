package kf

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/estimate"
	"github.com/bmslab/go-estimate/kalman"
	"github.com/bmslab/go-estimate/linalg"
	"gonum.org/v1/gonum/mat"
)

// KF is Kalman Filter
type KF struct {
	// m is KF system model
	m filter.DiscreteModel
	// q is state noise a.k.a. process noise
	q filter.Noise
	// r is output noise a.k.a. measurement noise
	r filter.Noise
	// x is the KF state estimate
	x *mat.VecDense
	// p is the KF covariance matrix
	p *mat.SymDense
	// inn is innovation vector
	inn *mat.VecDense
	// k is Kalman gain
	k *mat.Dense
}

// New creates new KF and returns it.
// It accepts the following parameters:
//   - m:    dynamical system model
//   - init: initial condition of the filter
//   - q:    state a.k.a. process noise; nil means no process noise
//   - r:    output a.k.a. measurement noise; nil means no measurement noise
//
// It returns error if either of the following conditions is met:
//   - invalid model is given: model dimensions must be positive integers
//   - model matrices do not match the model dimensions
//   - initial condition or noise covariances do not match the model dimensions
func New(m filter.DiscreteModel, init filter.InitCond, q, r filter.Noise) (*KF, error) {
	nx, nu, ny, err := kalman.CheckDims(m)
	if err != nil {
		return nil, err
	}

	if err := filter.CheckDims("system matrix", m.SystemMatrix(), nx, nx); err != nil {
		return nil, err
	}

	if nu > 0 {
		if err := filter.CheckDims("control matrix", m.ControlMatrix(), nx, nu); err != nil {
			return nil, err
		}
	}

	if err := filter.CheckDims("output matrix", m.OutputMatrix(), ny, nx); err != nil {
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

	return &KF{
		m:   m,
		q:   q,
		r:   r,
		x:   x,
		p:   p,
		inn: mat.NewVecDense(ny, nil),
		k:   mat.NewDense(nx, ny, nil),
	}, nil
}

// Predict propagates the filter state to the next step given the input u and returns its estimate:
//
//	x = A*x + B*u
//	P = A*P*A' + Q
//
// The time step is baked into the model matrices, dt is only validated.
// It returns error if dt is invalid or if u does not match the model input dimension.
func (k *KF) Predict(u mat.Vector, dt float64) (filter.Estimate, error) {
	if _, err := kalman.TimeStep(k.m, dt); err != nil {
		return nil, err
	}

	xNext, err := k.m.Propagate(k.x, u, dt)
	if err != nil {
		return nil, fmt.Errorf("system state propagation failed: %w", err)
	}

	A := k.m.SystemMatrix()
	pNext := linalg.AddSym(linalg.QuadSym(A, k.p), k.q.Cov())

	k.x = mat.VecDenseCopyOf(xNext)
	k.p = pNext

	return estimate.NewBaseWithCov(k.x, k.p)
}

// Update corrects the filter state using the measurement z and returns corrected estimate.
// Update may be called before any Predict, in which case the initial condition is the prior.
// If the innovation covariance is singular the update is skipped: the returned estimate
// is the unchanged prior and the error wraps filter.ErrSingularMatrix.
// It returns error if z does not match the model output dimension.
func (k *KF) Update(z mat.Vector) (filter.Estimate, error) {
	_, _, ny := k.m.SystemDims()
	if err := filter.CheckVec("measurement", z, ny); err != nil {
		return nil, err
	}

	y, err := k.m.Observe(k.x)
	if err != nil {
		return nil, fmt.Errorf("failed to observe system output: %w", err)
	}

	// innovation vector
	inn := mat.NewVecDense(ny, nil)
	inn.SubVec(z, y)

	c, err := kalman.Correct(k.x, k.p, k.m.OutputMatrix(), inn, k.r.Cov())
	if err != nil {
		return k.State(), err
	}

	k.x = c.X
	k.p = c.P
	k.inn.CopyVec(inn)
	k.k.Copy(c.K)

	return estimate.NewBaseWithCov(k.x, k.p)
}

// State returns current filter estimate
func (k *KF) State() filter.Estimate {
	est, _ := estimate.NewBaseWithCov(k.x, k.p)
	return est
}

// Model returns KF model
func (k *KF) Model() filter.DiscreteModel {
	return k.m
}

// TimeStep returns the model time step used when Predict is called with zero dt.
// It returns zero if the model has no time step.
func (k *KF) TimeStep() float64 {
	dt, _ := kalman.TimeStep(k.m, 0)
	return dt
}

// StateNoise retruns state noise
func (k *KF) StateNoise() filter.Noise {
	return k.q
}

// OutputNoise retruns output noise
func (k *KF) OutputNoise() filter.Noise {
	return k.r
}

// Cov returns KF covariance
func (k *KF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets KF covariance matrix to cov.
// It returns error if either cov is nil or its dimensions are not the same as KF covariance dimensions.
func (k *KF) SetCov(cov mat.Symmetric) error {
	if err := filter.CheckCov("covariance", cov, k.p.SymmetricDim()); err != nil {
		return err
	}

	k.p.CopySym(cov)

	return nil
}

// Gain returns Kalman gain
func (k *KF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// Innovation returns the innovation vector of the last update
func (k *KF) Innovation() mat.Vector {
	return mat.VecDenseCopyOf(k.inn)
}
