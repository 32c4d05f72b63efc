package filter

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimensionMismatch is returned when a vector or matrix does not match model dimensions.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidParameter is returned when a filter parameter is out of its valid range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrSingularMatrix is returned when a matrix can not be inverted within tolerance.
	ErrSingularMatrix = errors.New("singular matrix")
	// ErrNumericalInstability is returned when a covariance matrix can not be factorized.
	ErrNumericalInstability = errors.New("numerical instability")
)

// IsRecoverable reports whether err is a per-step numerical error.
// Filters which return recoverable errors leave their state at the last valid values.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSingularMatrix) || errors.Is(err, ErrNumericalInstability)
}

// CheckVec returns ErrDimensionMismatch if v is not of length n.
// A nil v is accepted only when n is 0.
func CheckVec(name string, v mat.Vector, n int) error {
	if v == nil || v.Len() == 0 {
		if n == 0 {
			return nil
		}
		return fmt.Errorf("%w: %s: expected length %d, got none", ErrDimensionMismatch, name, n)
	}

	if v.Len() != n {
		return fmt.Errorf("%w: %s: expected length %d, got %d", ErrDimensionMismatch, name, n, v.Len())
	}

	return nil
}

// CheckDims returns ErrDimensionMismatch if m is not r x c.
func CheckDims(name string, m mat.Matrix, r, c int) error {
	if m == nil {
		return fmt.Errorf("%w: %s: expected [%d x %d], got nil", ErrDimensionMismatch, name, r, c)
	}

	rows, cols := m.Dims()
	if rows != r || cols != c {
		return fmt.Errorf("%w: %s: expected [%d x %d], got [%d x %d]", ErrDimensionMismatch, name, r, c, rows, cols)
	}

	return nil
}

// CheckCov validates that cov is an n x n covariance with non-negative finite diagonal.
func CheckCov(name string, cov mat.Symmetric, n int) error {
	if cov == nil || cov.SymmetricDim() != n {
		dim := 0
		if cov != nil {
			dim = cov.SymmetricDim()
		}
		return fmt.Errorf("%w: %s: expected [%d x %d], got [%d x %d]", ErrDimensionMismatch, name, n, n, dim, dim)
	}

	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: invalid variance %v at %d", ErrInvalidParameter, name, v, i)
		}
	}

	return nil
}
