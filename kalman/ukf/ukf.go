package ukf

import (
	"fmt"
	"math"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/estimate"
	"github.com/bmslab/go-estimate/kalman"
	"github.com/bmslab/go-estimate/linalg"
	"gonum.org/v1/gonum/mat"
)

// SigmaPoints stores sigma points and covariance
type SigmaPoints struct {
	// X stores sigma point vectors in columns
	X *mat.Dense
	// Cov is the covariance the sigma points were generated from.
	// It differs from the requested covariance if that had to be repaired.
	Cov *mat.SymDense
}

// Config contains UKF [unitless] configuration parameters
type Config struct {
	// Alpha is alpha parameter (0,1]
	Alpha float64
	// Beta is beta parameter (2 is optimal choice for Gaussian)
	Beta float64
	// Kappa is kappa parameter
	Kappa float64
}

// Weights are UKF sigma point weights
type Weights struct {
	// Mean0 is mean sigma point weight
	Mean0 float64
	// Cov0 is mean sigma point covariance weight
	Cov0 float64
	// W is weight of the regular sigma points and covariances
	W float64
}

// UKF is Unscented (aka Sigma Point) Kalman Filter
type UKF struct {
	// m is UKF model
	m filter.Model
	// q is state noise a.k.a. process noise
	q filter.Noise
	// r is output noise a.k.a. measurement noise
	r filter.Noise
	// lambda is a unitless UKF parameter
	lambda float64
	// w are sigma point weights
	w Weights
	// x is the UKF state estimate
	x *mat.VecDense
	// p is the UKF covariance matrix
	p *mat.SymDense
	// inn is innovation vector
	inn *mat.VecDense
	// k is Kalman gain
	k *mat.Dense
}

// New creates new UKF and returns it.
// It accepts the following arguments:
//   - m:    dynamical system model
//   - init: initial condition of the filter
//   - q:    state a.k.a. process noise; nil means no process noise
//   - r:    output a.k.a. measurement noise; nil means no measurement noise
//   - c:    filter configuration
//
// It returns error if either of the following conditions is met:
//   - invalid model is given: model dimensions must be positive integers
//   - initial condition or noise covariances do not match the model dimensions
//   - alpha is not positive, beta is negative or the parameters produce degenerate scaling
func New(m filter.Model, init filter.InitCond, q, r filter.Noise, c *Config) (*UKF, error) {
	nx, _, ny, err := kalman.CheckDims(m)
	if err != nil {
		return nil, err
	}

	if c == nil {
		return nil, fmt.Errorf("%w: missing configuration", filter.ErrInvalidParameter)
	}

	if !(c.Alpha > 0) || !(c.Beta >= 0) || math.IsNaN(c.Kappa) || math.IsInf(c.Alpha+c.Beta+c.Kappa, 0) {
		return nil, fmt.Errorf("%w: alpha=%v beta=%v kappa=%v", filter.ErrInvalidParameter, c.Alpha, c.Beta, c.Kappa)
	}

	n := float64(nx)

	// lambda is another unitless UKF parameter - calculated using the config ones
	lambda := c.Alpha*c.Alpha*(n+c.Kappa) - n
	if n+lambda <= 0 {
		return nil, fmt.Errorf("%w: degenerate sigma point scaling: n+lambda=%v", filter.ErrInvalidParameter, n+lambda)
	}

	// weight of the mean sigma point
	Wm0 := lambda / (n + lambda)
	// weight of the mean sigma point covariance
	Wc0 := Wm0 + (1 - c.Alpha*c.Alpha + c.Beta)
	// weight of the rest of sigma points and covariance
	W := 1 / (2 * (n + lambda))

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

	return &UKF{
		m:      m,
		q:      q,
		r:      r,
		lambda: lambda,
		w:      Weights{Mean0: Wm0, Cov0: Wc0, W: W},
		x:      x,
		p:      p,
		inn:    mat.NewVecDense(ny, nil),
		k:      mat.NewDense(nx, ny, nil),
	}, nil
}

// Weights returns sigma point weights
func (k *UKF) Weights() Weights {
	return k.w
}

// GenSigmaPoints generates 2n+1 sigma points around x with covariance p and returns them.
// The first column is x; the remaining columns are x +- columns of the lower Cholesky
// factor of (n+lambda)*p. If p is not positive definite its eigenvalues are clamped
// to linalg.Epsilon and the factorization is retried once.
// It returns error wrapping filter.ErrNumericalInstability if the factorization fails.
func (k *UKF) GenSigmaPoints(x mat.Vector, p mat.Symmetric) (*SigmaPoints, error) {
	n := x.Len()
	if p == nil || p.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: sigma point covariance does not match state length %d", filter.ErrDimensionMismatch, n)
	}

	cov := mat.NewSymDense(n, nil)
	cov.CopySym(p)

	scaled := mat.NewSymDense(n, nil)
	scaled.ScaleSym(float64(n)+k.lambda, cov)

	l, ok := linalg.CholeskyLower(scaled)
	if !ok {
		repaired, err := linalg.ClampPSD(cov, linalg.Epsilon)
		if err != nil {
			return nil, err
		}
		cov = repaired

		scaled.ScaleSym(float64(n)+k.lambda, cov)
		if l, ok = linalg.CholeskyLower(scaled); !ok {
			return nil, fmt.Errorf("%w: sigma point covariance is not positive definite", filter.ErrNumericalInstability)
		}
	}

	cols := 2*n + 1
	sp := mat.NewDense(n, cols, nil)
	for j := 0; j < cols; j++ {
		sp.SetCol(j, mat.Col(nil, 0, x))
	}

	for j := 0; j < n; j++ {
		for i := j; i < n; i++ {
			v := l.At(i, j)
			// positive sigma points
			sp.Set(i, 1+j, sp.At(i, 1+j)+v)
			// negative sigma points
			sp.Set(i, 1+n+j, sp.At(i, 1+n+j)-v)
		}
	}

	return &SigmaPoints{
		X:   sp,
		Cov: cov,
	}, nil
}

// weight returns the mean and covariance weights of sigma point c
func (k *UKF) weight(c int) (wm, wc float64) {
	if c == 0 {
		return k.w.Mean0, k.w.Cov0
	}

	return k.w.W, k.w.W
}

// unscented transforms sigma points using fn and returns transformed points in columns
// together with their weighted mean.
func (k *UKF) unscented(sp *mat.Dense, dim int, fn func(mat.Vector) (mat.Vector, error)) (*mat.Dense, *mat.VecDense, error) {
	_, cols := sp.Dims()

	y := mat.NewDense(dim, cols, nil)
	mean := mat.NewVecDense(dim, nil)

	for c := 0; c < cols; c++ {
		out, err := fn(sp.ColView(c))
		if err != nil {
			return nil, nil, err
		}

		y.SetCol(c, mat.Col(nil, 0, out))

		wm, _ := k.weight(c)
		mean.AddScaledVec(mean, wm, out)
	}

	return y, mean, nil
}

// crossCov returns weighted covariance of sigma point deviations a - aMean and b - bMean
func (k *UKF) crossCov(a *mat.Dense, aMean *mat.VecDense, b *mat.Dense, bMean *mat.VecDense) *mat.Dense {
	ra, cols := a.Dims()
	rb, _ := b.Dims()

	cov := mat.NewDense(ra, rb, nil)
	da := mat.NewVecDense(ra, nil)
	db := mat.NewVecDense(rb, nil)
	outer := mat.NewDense(ra, rb, nil)

	for c := 0; c < cols; c++ {
		da.SubVec(a.ColView(c), aMean)
		db.SubVec(b.ColView(c), bMean)

		_, wc := k.weight(c)
		outer.Outer(wc, da, db)
		cov.Add(cov, outer)
	}

	return cov
}

// Predict propagates the filter state to the next step given the input u and time step dt
// and returns its estimate. Sigma points generated around the current state are propagated
// through the model and recombined into the predicted mean and covariance, adding Q.
// If dt is zero the model time step is used, provided the model has one.
// If the sigma points can not be generated the prediction is skipped: the returned estimate
// is the unchanged state and the error wraps filter.ErrNumericalInstability.
// It returns error if dt is invalid or if u does not match the model input dimension.
func (k *UKF) Predict(u mat.Vector, dt float64) (filter.Estimate, error) {
	dt, err := kalman.TimeStep(k.m, dt)
	if err != nil {
		return nil, err
	}

	nx, _, _ := k.m.SystemDims()

	sp, err := k.GenSigmaPoints(k.x, k.p)
	if err != nil {
		return k.State(), fmt.Errorf("failed to generate sigma points: %w", err)
	}

	xs, xMean, err := k.unscented(sp.X, nx, func(x mat.Vector) (mat.Vector, error) {
		return k.m.Propagate(x, u, dt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to propagate sigma points: %w", err)
	}

	pNext := linalg.AddSym(linalg.Symmetrize(k.crossCov(xs, xMean, xs, xMean)), k.q.Cov())

	k.x = xMean
	k.p = pNext

	return estimate.NewBaseWithCov(k.x, k.p)
}

// Update corrects the filter state using the measurement z and returns corrected estimate.
// Fresh sigma points are generated around the predicted state and observed through the model:
//
//	K = Pxz*Pzz^-1
//	x = x + K*(z - zMean)
//	P = P - K*Pzz*K'
//
// If the sigma points can not be generated or Pzz is singular the update is skipped:
// the returned estimate is the unchanged prior and the error is recoverable.
// It returns error if z does not match the model output dimension.
func (k *UKF) Update(z mat.Vector) (filter.Estimate, error) {
	_, _, ny := k.m.SystemDims()
	if err := filter.CheckVec("measurement", z, ny); err != nil {
		return nil, err
	}

	sp, err := k.GenSigmaPoints(k.x, k.p)
	if err != nil {
		return k.State(), fmt.Errorf("failed to generate sigma points: %w", err)
	}

	zs, zMean, err := k.unscented(sp.X, ny, k.m.Observe)
	if err != nil {
		return nil, fmt.Errorf("failed to observe sigma points: %w", err)
	}

	pzz := linalg.AddSym(linalg.Symmetrize(k.crossCov(zs, zMean, zs, zMean)), k.r.Cov())
	pxz := k.crossCov(sp.X, k.x, zs, zMean)

	gain, err := linalg.MulInvSym(pxz, pzz)
	if err != nil {
		return k.State(), fmt.Errorf("innovation covariance: %w", err)
	}

	// innovation vector
	inn := mat.NewVecDense(ny, nil)
	inn.SubVec(z, zMean)

	corr := mat.NewVecDense(k.x.Len(), nil)
	corr.MulVec(gain, inn)
	xNew := mat.NewVecDense(k.x.Len(), nil)
	xNew.AddVec(k.x, corr)

	pNew := mat.NewDense(k.x.Len(), k.x.Len(), nil)
	pNew.Sub(sp.Cov, linalg.QuadSym(gain, pzz))

	k.x = xNew
	k.p = linalg.Symmetrize(pNew)
	k.inn.CopyVec(inn)
	k.k.Copy(gain)

	return estimate.NewBaseWithCov(k.x, k.p)
}

// State returns current filter estimate
func (k *UKF) State() filter.Estimate {
	est, _ := estimate.NewBaseWithCov(k.x, k.p)
	return est
}

// Model returns UKF model
func (k *UKF) Model() filter.Model {
	return k.m
}

// TimeStep returns the model time step used when Predict is called with zero dt.
// It returns zero if the model has no time step.
func (k *UKF) TimeStep() float64 {
	dt, _ := kalman.TimeStep(k.m, 0)
	return dt
}

// StateNoise retruns state noise
func (k *UKF) StateNoise() filter.Noise {
	return k.q
}

// OutputNoise retruns output noise
func (k *UKF) OutputNoise() filter.Noise {
	return k.r
}

// Cov returns UKF covariance
func (k *UKF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets UKF covariance matrix to cov.
// It returns error if either cov is nil or its dimensions are not the same as UKF covariance dimensions.
func (k *UKF) SetCov(cov mat.Symmetric) error {
	if err := filter.CheckCov("covariance", cov, k.p.SymmetricDim()); err != nil {
		return err
	}

	k.p.CopySym(cov)

	return nil
}

// Gain returns Kalman gain
func (k *UKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// Innovation returns the innovation vector of the last update
func (k *UKF) Innovation() mat.Vector {
	return mat.VecDenseCopyOf(k.inn)
}
