// Package linalg provides the small set of matrix operations used by the filters.
// All inversions are routed through Cholesky or pivoted LU solves.
package linalg

import (
	"fmt"
	"math"

	filter "github.com/bmslab/go-estimate"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

const (
	// CondLimit is the largest condition number accepted by the solvers.
	CondLimit = 1e12
	// Epsilon is the smallest eigenvalue ClampPSD leaves in a repaired covariance.
	Epsilon = 1e-9
)

// Eye returns n x n identity matrix.
func Eye(n int) mat.Matrix {
	eye, err := matrix.NewDenseValIdentity(n, 1.0)
	if err != nil {
		// n is a model dimension which has already been validated
		panic(err)
	}

	return eye
}

// Symmetrize returns (m + m')/2 as symmetric matrix.
// It panics if m is not square.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(mat.ErrSquare)
	}

	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	return sym
}

// AsymmetryNorm returns max |m[i,j] - m[j,i]|.
func AsymmetryNorm(m mat.Matrix) float64 {
	r, _ := m.Dims()
	max := 0.0
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			if d := math.Abs(m.At(i, j) - m.At(j, i)); d > max {
				max = d
			}
		}
	}

	return max
}

// CholeskyLower returns lower triangular Cholesky factor L of a such that a = L*L'.
// It returns false if a is not positive definite.
func CholeskyLower(a mat.Symmetric) (*mat.TriDense, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, false
	}

	l := &mat.TriDense{}
	chol.LTo(l)

	return l, true
}

// SolveSym solves a*x = b for symmetric a and returns x.
// It uses Cholesky decomposition and falls back to pivoted LU when a is not positive definite.
// It returns error wrapping filter.ErrSingularMatrix if a is singular or ill-conditioned.
func SolveSym(a mat.Symmetric, b mat.Matrix) (*mat.Dense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); ok {
		if cond := chol.Cond(); cond > CondLimit || math.IsNaN(cond) {
			return nil, fmt.Errorf("%w: condition number %g", filter.ErrSingularMatrix, cond)
		}

		x := &mat.Dense{}
		if err := chol.SolveTo(x, b); err != nil {
			return nil, fmt.Errorf("%w: %v", filter.ErrSingularMatrix, err)
		}

		return x, nil
	}

	return Solve(a, b)
}

// Solve solves a*x = b using LU decomposition with partial pivoting and returns x.
// It returns error wrapping filter.ErrSingularMatrix if a is singular or ill-conditioned.
func Solve(a, b mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: solve: non-square matrix [%d x %d]", filter.ErrDimensionMismatch, r, c)
	}

	var lu mat.LU
	lu.Factorize(a)

	if cond := lu.Cond(); cond > CondLimit || math.IsNaN(cond) {
		return nil, fmt.Errorf("%w: condition number %g", filter.ErrSingularMatrix, cond)
	}

	x := &mat.Dense{}
	if err := lu.SolveTo(x, false, b); err != nil {
		return nil, fmt.Errorf("%w: %v", filter.ErrSingularMatrix, err)
	}

	return x, nil
}

// MulInvSym returns a*s^-1 for symmetric s without forming the inverse explicitly.
// It solves s*x' = a' which holds since s is symmetric.
func MulInvSym(a mat.Matrix, s mat.Symmetric) (*mat.Dense, error) {
	xt, err := SolveSym(s, a.T())
	if err != nil {
		return nil, err
	}

	x := &mat.Dense{}
	x.CloneFrom(xt.T())

	return x, nil
}

// ClampPSD symmetrizes a and replaces all of its eigenvalues smaller than eps with eps.
// It returns error wrapping filter.ErrNumericalInstability if the eigen decomposition fails.
func ClampPSD(a mat.Matrix, eps float64) (*mat.SymDense, error) {
	sym := Symmetrize(a)

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("%w: eigen decomposition failed", filter.ErrNumericalInstability)
	}

	vals := es.Values(nil)
	for i, v := range vals {
		if v < eps || math.IsNaN(v) {
			vals[i] = eps
		}
	}

	vecs := &mat.Dense{}
	es.VectorsTo(vecs)

	// V * diag(vals) * V'
	vd := &mat.Dense{}
	vd.Mul(vecs, mat.NewDiagDense(len(vals), vals))
	out := &mat.Dense{}
	out.Mul(vd, vecs.T())

	return Symmetrize(out), nil
}

// QuadSym returns a*s*a' as symmetric matrix.
func QuadSym(a mat.Matrix, s mat.Symmetric) *mat.SymDense {
	as := &mat.Dense{}
	as.Mul(a, s)
	asa := &mat.Dense{}
	asa.Mul(as, a.T())

	return Symmetrize(asa)
}

// AddSym returns a + b for symmetric matrices of the same size.
func AddSym(a, b mat.Symmetric) *mat.SymDense {
	out := mat.NewSymDense(a.SymmetricDim(), nil)
	out.AddSym(a, b)

	return out
}
