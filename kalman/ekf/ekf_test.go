package ekf

import (
	"errors"
	"math"
	"os"
	"testing"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/kalman/kf"
	"github.com/bmslab/go-estimate/linalg"
	"github.com/bmslab/go-estimate/model"
	"github.com/bmslab/go-estimate/noise"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

type invalidModel struct {
	filter.DifferentiableModel
}

func (m *invalidModel) SystemDims() (nx, nu, ny int) {
	return -10, 0, 8 // a system may have 0 inputs, this is not "invalid". Negative dimension is invalid
}

// zeroJacModel returns zero observation Jacobian on its first call
type zeroJacModel struct {
	*model.Linear
	calls int
}

func (m *zeroJacModel) OutputJacobian(x mat.Vector) (mat.Matrix, error) {
	m.calls++
	if m.calls == 1 {
		nx, _, ny := m.SystemDims()
		return mat.NewDense(ny, nx, nil), nil
	}

	return m.Linear.OutputJacobian(x)
}

// badJacModel returns Jacobians of wrong dimensions
type badJacModel struct {
	*model.Linear
}

func (m *badJacModel) StateJacobian(x mat.Vector, dt float64) (mat.Matrix, error) {
	return mat.NewDense(3, 3, nil), nil
}

func (m *badJacModel) OutputJacobian(x mat.Vector) (mat.Matrix, error) {
	return mat.NewDense(3, 3, nil), nil
}

var (
	okModel  *model.Linear
	badModel *invalidModel
	ic       *model.InitCond
	q        filter.Noise
	r        filter.Noise
	u        *mat.VecDense
	z        *mat.VecDense
)

func setup() {
	u = mat.NewVecDense(1, []float64{-1.0})
	z = mat.NewVecDense(1, []float64{-1.5})

	// initial condition
	initState := mat.NewVecDense(2, []float64{1.0, 3.0})
	initCov := mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25})
	ic = model.NewInitCond(initState, initCov)

	// state and output noise
	q, _ = noise.NewGaussianWithSeed([]float64{0, 0}, initCov, 1)
	r, _ = noise.NewGaussianWithSeed([]float64{0}, mat.NewSymDense(1, []float64{0.25}), 1)

	A := mat.NewDense(2, 2, []float64{1.0, 1.0, 0.0, 1.0})
	B := mat.NewDense(2, 1, []float64{0.5, 1.0})
	C := mat.NewDense(1, 2, []float64{1.0, 0.0})

	okModel, _ = model.NewLinear(A, B, C)
	badModel = &invalidModel{okModel}
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

// rangeModel moves with constant velocity along x and observes the range from a station at (0, 1)
func rangeModel(t *testing.T) *model.Nonlinear {
	f := func(x, _ mat.Vector, dt float64) mat.Vector {
		return mat.NewVecDense(2, []float64{x.AtVec(0) + dt*x.AtVec(1), x.AtVec(1)})
	}
	h := func(x mat.Vector) mat.Vector {
		return mat.NewVecDense(1, []float64{math.Hypot(x.AtVec(0), 1.0)})
	}
	fJac := func(_ mat.Vector, dt float64) mat.Matrix {
		return mat.NewDense(2, 2, []float64{1, dt, 0, 1})
	}
	hJac := func(x mat.Vector) mat.Matrix {
		d := math.Hypot(x.AtVec(0), 1.0)
		return mat.NewDense(1, 2, []float64{x.AtVec(0) / d, 0})
	}

	m, err := model.NewNonlinear(2, 0, 1, f, h, fJac, hJac)
	if err != nil {
		t.Fatal(err)
	}

	return m
}

func TestEKFNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NotNil(f)
	assert.NoError(err)

	// invalid model: incorrect dimensions
	f, err = New(badModel, ic, q, r)
	assert.Nil(f)
	assert.Error(err)

	// invalid state noise dimension
	_q, _ := noise.NewZero(20)
	f, err = New(okModel, ic, _q, r)
	assert.Nil(f)
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))

	// invalid output noise dimension
	_r, _ := noise.NewZero(20)
	f, err = New(okModel, ic, q, _r)
	assert.Nil(f)
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))

	// zero [state and output] noise
	f, err = New(okModel, ic, nil, nil)
	assert.NotNil(f)
	assert.NoError(err)
}

func TestEKFPredict(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NotNil(f)
	assert.NoError(err)

	est, err := f.Predict(u, 1.0)
	assert.NotNil(est)
	assert.NoError(err)
	assert.InDelta(3.5, est.Val().AtVec(0), 1e-12)

	F, _ := f.Jacobians()
	assert.True(mat.EqualApprox(okModel.SystemMatrix(), F, 1e-12))

	// invalid input vector
	_u := mat.NewVecDense(3, nil)
	est, err = f.Predict(_u, 1.0)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))

	// invalid time step
	est, err = f.Predict(u, math.NaN())
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrInvalidParameter))

	// jacobians of wrong dimensions are fatal
	f, err = New(&badJacModel{okModel}, ic, q, r)
	assert.NoError(err)
	est, err = f.Predict(u, 1.0)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))
	assert.False(filter.IsRecoverable(err))
	est, err = f.Update(z)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))
}

func TestEKFPredictTimeStep(t *testing.T) {
	assert := assert.New(t)

	m := rangeModel(t)
	assert.NoError(m.SetTimeStep(2.0))

	init := model.NewInitCond(mat.NewVecDense(2, []float64{0.0, 1.5}), mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	f, err := New(m, init, nil, nil)
	assert.NoError(err)
	assert.Equal(2.0, f.TimeStep())

	// zero dt falls back to the model time step
	est, err := f.Predict(nil, 0)
	assert.NoError(err)
	assert.InDelta(3.0, est.Val().AtVec(0), 1e-12)

	est, err = f.Predict(nil, 1.0)
	assert.NoError(err)
	assert.InDelta(4.5, est.Val().AtVec(0), 1e-12)
}

func TestEKFUpdate(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NotNil(f)
	assert.NoError(err)

	// update without prediction uses the initial condition as prior
	est, err := f.Update(z)
	assert.NotNil(est)
	assert.NoError(err)
	assert.InDelta(-0.25, est.Val().AtVec(0), 1e-12)
	assert.InDelta(0.5, f.Gain().At(0, 0), 1e-12)
	assert.InDelta(-2.5, f.Innovation().AtVec(0), 1e-12)

	// invalid measurement vector
	_z := mat.NewVecDense(3, nil)
	est, err = f.Update(_z)
	assert.Nil(est)
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))
}

func TestEKFNonlinearInnovation(t *testing.T) {
	assert := assert.New(t)

	m := rangeModel(t)
	init := model.NewInitCond(mat.NewVecDense(2, []float64{3.0, 1.0}), mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	rn, err := noise.NewGaussianWithSeed([]float64{0}, mat.NewSymDense(1, []float64{0.01}), 1)
	assert.NoError(err)

	f, err := New(m, init, nil, rn)
	assert.NoError(err)

	zm := mat.NewVecDense(1, []float64{3.5})
	_, err = f.Update(zm)
	assert.NoError(err)

	// innovation uses the observation function, not its linearization
	assert.InDelta(3.5-math.Sqrt(10), f.Innovation().AtVec(0), 1e-12)

	_, H := f.Jacobians()
	assert.InDelta(3/math.Sqrt(10), H.At(0, 0), 1e-12)
}

func TestEKFLinearEquivalence(t *testing.T) {
	assert := assert.New(t)

	lkf, err := kf.New(okModel, ic, q, r)
	assert.NoError(err)

	ekf, err := New(okModel, ic, q, r)
	assert.NoError(err)

	for k := 0; k < 30; k++ {
		uk := mat.NewVecDense(1, []float64{math.Cos(0.1 * float64(k))})
		zk := mat.NewVecDense(1, []float64{math.Sin(0.2*float64(k)) * 5})

		_, err := lkf.Predict(uk, 1.0)
		assert.NoError(err)
		_, err = ekf.Predict(uk, 1.0)
		assert.NoError(err)

		kEst, err := lkf.Update(zk)
		assert.NoError(err)
		eEst, err := ekf.Update(zk)
		assert.NoError(err)

		assert.True(mat.EqualApprox(kEst.Val(), eEst.Val(), 1e-6))
		assert.True(mat.EqualApprox(kEst.Cov(), eEst.Cov(), 1e-6))
		assert.Less(linalg.AsymmetryNorm(eEst.Cov()), 1e-9)
	}
}

func TestEKFSingularUpdate(t *testing.T) {
	assert := assert.New(t)

	m := &zeroJacModel{Linear: okModel}
	f, err := New(m, ic, q, nil)
	assert.NoError(err)

	pred, err := f.Predict(u, 1.0)
	assert.NoError(err)

	est, err := f.Update(z)
	assert.True(errors.Is(err, filter.ErrSingularMatrix))
	assert.True(filter.IsRecoverable(err))
	assert.NotNil(est)

	// state is left at the predicted values
	assert.True(mat.Equal(pred.Val(), f.State().Val()))
	assert.True(mat.Equal(pred.Cov(), f.State().Cov()))

	// the next step runs normally
	_, err = f.Predict(u, 1.0)
	assert.NoError(err)
	_, err = f.Update(z)
	assert.NoError(err)
}

func TestEKFNumericJacobians(t *testing.T) {
	assert := assert.New(t)

	analytic := rangeModel(t)
	numeric := model.NewNumeric(analytic.Unscented)

	init := model.NewInitCond(mat.NewVecDense(2, []float64{3.0, 1.0}), mat.NewSymDense(2, []float64{1, 0, 0, 1}))
	rn, err := noise.NewGaussianWithSeed([]float64{0}, mat.NewSymDense(1, []float64{0.01}), 1)
	assert.NoError(err)

	fa, err := New(analytic, init, q, rn)
	assert.NoError(err)
	fn, err := New(numeric, init, q, rn)
	assert.NoError(err)

	for k := 0; k < 10; k++ {
		zk := mat.NewVecDense(1, []float64{math.Hypot(3.0+float64(k+1), 1.0)})

		_, err := fa.Predict(nil, 1.0)
		assert.NoError(err)
		_, err = fn.Predict(nil, 1.0)
		assert.NoError(err)

		ea, err := fa.Update(zk)
		assert.NoError(err)
		en, err := fn.Update(zk)
		assert.NoError(err)

		assert.True(mat.EqualApprox(ea.Val(), en.Val(), 1e-5))
		assert.True(mat.EqualApprox(ea.Cov(), en.Cov(), 1e-5))
	}
}

func TestEKFSemiDefiniteNoise(t *testing.T) {
	assert := assert.New(t)

	// only the second state is disturbed
	qn, err := noise.NewGaussianWithSeed([]float64{0, 0}, mat.NewSymDense(2, []float64{0, 0, 0, 0.01}), 1)
	assert.NoError(err)

	f, err := New(okModel, ic, qn, r)
	assert.NoError(err)
	assert.NotNil(f)

	pred, err := f.Predict(u, 1.0)
	assert.NoError(err)

	exp := mat.NewDense(2, 2, []float64{0.5, 0.25, 0.25, 0.26})
	assert.True(mat.EqualApprox(exp, pred.Cov(), 1e-12))

	est, err := f.Update(z)
	assert.NoError(err)
	assert.Less(linalg.AsymmetryNorm(est.Cov()), 1e-9)
}

func TestEKFProperties(t *testing.T) {
	assert := assert.New(t)

	rnd := rand.New(rand.NewSource(11))

	for n := 1; n <= 6; n++ {
		A := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				A.Set(i, j, 0.2*rnd.NormFloat64())
			}
			A.Set(i, i, A.At(i, i)+0.7)
		}

		// mildly nonlinear dynamics and observation of every state
		f := func(x, _ mat.Vector, _ float64) mat.Vector {
			out := mat.NewVecDense(n, nil)
			out.MulVec(A, x)
			for i := 0; i < n; i++ {
				out.SetVec(i, out.AtVec(i)+0.1*math.Sin(x.AtVec(i)))
			}
			return out
		}
		fJac := func(x mat.Vector, _ float64) mat.Matrix {
			F := mat.DenseCopyOf(A)
			for i := 0; i < n; i++ {
				F.Set(i, i, F.At(i, i)+0.1*math.Cos(x.AtVec(i)))
			}
			return F
		}
		h := func(x mat.Vector) mat.Vector {
			out := mat.NewVecDense(n, nil)
			for i := 0; i < n; i++ {
				out.SetVec(i, x.AtVec(i)+0.05*x.AtVec(i)*x.AtVec(i))
			}
			return out
		}
		hJac := func(x mat.Vector) mat.Matrix {
			H := mat.NewDense(n, n, nil)
			for i := 0; i < n; i++ {
				H.Set(i, i, 1+0.1*x.AtVec(i))
			}
			return H
		}

		m, err := model.NewNonlinear(n, 0, n, f, h, fJac, hJac)
		assert.NoError(err)

		eye := linalg.Symmetrize(linalg.Eye(n))
		qCov := mat.NewSymDense(n, nil)
		qCov.ScaleSym(0.01, eye)
		qn, err := noise.NewGaussianWithSeed(make([]float64, n), qCov, uint64(n))
		assert.NoError(err)
		rCov := mat.NewSymDense(n, nil)
		rCov.ScaleSym(0.1, eye)
		rn, err := noise.NewGaussianWithSeed(make([]float64, n), rCov, uint64(n))
		assert.NoError(err)

		k, err := New(m, model.NewInitCond(mat.NewVecDense(n, nil), eye), qn, rn)
		assert.NoError(err)

		for step := 0; step < 25; step++ {
			pred, err := k.Predict(nil, 1.0)
			assert.NoError(err)
			assert.Less(linalg.AsymmetryNorm(pred.Cov()), 1e-9)

			est, err := k.Update(rn.Sample())
			assert.NoError(err)
			assert.Less(linalg.AsymmetryNorm(est.Cov()), 1e-9)

			// update never increases uncertainty
			assert.LessOrEqual(mat.Trace(est.Cov()), mat.Trace(pred.Cov())*(1+1e-9))
		}
	}
}

func TestEKFCov(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NotNil(f)
	assert.NoError(err)

	cov := f.Cov()
	assert.NotNil(cov)

	err = f.SetCov(nil)
	assert.Error(err)

	err = f.SetCov(mat.NewSymDense(30, nil))
	assert.Error(err)

	err = f.SetCov(mat.NewSymDense(f.p.SymmetricDim(), nil))
	assert.NoError(err)
}

func TestEKFAccessors(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, q, r)
	assert.NotNil(f)
	assert.NoError(err)

	assert.NotNil(f.Model())
	assert.NotNil(f.StateNoise())
	assert.NotNil(f.OutputNoise())
	assert.NotNil(f.Gain())
}
