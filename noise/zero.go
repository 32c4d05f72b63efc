package noise

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"gonum.org/v1/gonum/mat"
)

// Zero is zero noise i.e. no noise
type Zero struct {
	// mean stores zero mean values
	mean []float64
	// cov is zero covariance matrix
	cov *mat.SymDense
}

// NewZero creates new zero noise i.e. zero mean and zero covariance.
// It returns error if size is non-positive.
func NewZero(size int) (*Zero, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: noise dimension: %d", filter.ErrInvalidParameter, size)
	}

	return &Zero{
		mean: make([]float64, size),
		cov:  mat.NewSymDense(size, nil),
	}, nil
}

// Sample generates empty sample and returns it: a vector with zero values.
func (e *Zero) Sample() mat.Vector {
	return mat.NewVecDense(len(e.mean), nil)
}

// Cov returns empty covariance matrix: symmetric matrix with zero values.
func (e *Zero) Cov() mat.Symmetric {
	return mat.NewSymDense(e.cov.SymmetricDim(), nil)
}

// Mean returns Zero mean.
func (e *Zero) Mean() []float64 {
	return make([]float64, len(e.mean))
}

// Reset does nothing: it's here to implement filter.Noise interface
func (e *Zero) Reset() {}

// String implements the Stringer interface.
func (e *Zero) String() string {
	return fmt.Sprintf("Zero{\nMean=%v\nCov=%v\n}", e.Mean(), mat.Formatted(e.Cov(), mat.Prefix("    "), mat.Squeeze()))
}
