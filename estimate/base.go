package estimate

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// Base is base estimate: the state value and its covariance
type Base struct {
	// val is estimated value
	val *mat.VecDense
	// cov is estimated covariance
	cov *mat.SymDense
}

// NewBase returns base estimate given val and zero covariance
func NewBase(val mat.Vector) (*Base, error) {
	if val == nil || val.Len() == 0 {
		return nil, fmt.Errorf("%w: empty estimate value", filter.ErrDimensionMismatch)
	}

	return NewBaseWithCov(val, mat.NewSymDense(val.Len(), nil))
}

// NewBaseWithCov returns base estimate given value and covariance.
// Both val and cov are copied.
func NewBaseWithCov(val mat.Vector, cov mat.Symmetric) (*Base, error) {
	rv := val.Len()
	rc := cov.SymmetricDim()

	if rv != rc {
		return nil, fmt.Errorf("%w: val: %d, cov: %d x %d", filter.ErrDimensionMismatch, rv, rc, rc)
	}

	v := mat.VecDenseCopyOf(val)

	c := mat.NewSymDense(rc, nil)
	c.CopySym(cov)

	return &Base{
		val: v,
		cov: c,
	}, nil
}

// Val returns estimated value
func (b *Base) Val() mat.Vector {
	return mat.VecDenseCopyOf(b.val)
}

// Cov returns covariance estimate
func (b *Base) Cov() mat.Symmetric {
	cov := mat.NewSymDense(b.cov.SymmetricDim(), nil)
	cov.CopySym(b.cov)

	return cov
}

// String implements the Stringer interface.
func (b *Base) String() string {
	return fmt.Sprintf("Estimate{\nVal=%v\nCov=%v\n}", matrix.Format(b.val), matrix.Format(b.cov))
}
