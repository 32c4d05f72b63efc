package noise

import (
	"fmt"
	"math"
	"time"

	filter "github.com/bmslab/go-estimate"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// psdTol is the relative tolerance of negative eigenvalues of a semi-definite covariance
const psdTol = 1e-12

// Gaussian is gaussian noise.
// Positive definite covariances are sampled by distmv.Normal; singular positive
// semi-definite covariances are sampled through their eigen decomposition square root.
type Gaussian struct {
	// dist is a multivariate normal distribution; nil for singular covariance
	dist *distmv.Normal
	// sqrt is a square root of singular covariance: sqrt*sqrt' = cov
	sqrt *mat.Dense
	// rnd draws standard normal samples for singular covariance
	rnd *rand.Rand
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov *mat.SymDense
	// seed seeds the random source
	seed uint64
}

// NewGaussian creates new Gaussian noise with given mean and covariance
// seeded from the current time.
// It returns error if it fails to create Gaussian.
func NewGaussian(mean []float64, cov mat.Symmetric) (*Gaussian, error) {
	return NewGaussianWithSeed(mean, cov, uint64(time.Now().UnixNano()))
}

// NewGaussianWithSeed creates new Gaussian noise with given mean and covariance
// whose samples are drawn from a source seeded with seed.
// Two Gaussians created with the same parameters produce the same sample sequence.
// It returns error if cov is not positive semi-definite or its size does not match mean.
func NewGaussianWithSeed(mean []float64, cov mat.Symmetric, seed uint64) (*Gaussian, error) {
	if cov == nil || cov.SymmetricDim() != len(mean) {
		return nil, fmt.Errorf("%w: gaussian mean length %d", filter.ErrDimensionMismatch, len(mean))
	}

	m := make([]float64, len(mean))
	copy(m, mean)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	g := &Gaussian{
		mean: m,
		cov:  c,
		seed: seed,
	}

	if dist, ok := newGaussianDist(m, c, seed); ok {
		g.dist = dist
		return g, nil
	}

	sqrt, err := sqrtPSD(c)
	if err != nil {
		return nil, err
	}
	g.sqrt = sqrt
	g.rnd = rand.New(rand.NewSource(seed))

	return g, nil
}

// Sample generates a sample from Gaussian noise and returns it.
func (g *Gaussian) Sample() mat.Vector {
	if g.dist != nil {
		r := g.dist.Rand(nil)
		return mat.NewVecDense(len(r), r)
	}

	n := len(g.mean)
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, g.rnd.NormFloat64())
	}

	out := mat.NewVecDense(n, nil)
	out.MulVec(g.sqrt, z)
	out.AddVec(out, mat.NewVecDense(n, g.Mean()))

	return out
}

// Cov returns covariance matrix of Gaussian noise.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Mean returns Gaussian mean.
func (g *Gaussian) Mean() []float64 {
	mean := make([]float64, len(g.mean))
	copy(mean, g.mean)

	return mean
}

// Reset resets Gaussian noise: the sample sequence starts over from the original seed.
func (g *Gaussian) Reset() {
	if g.dist == nil {
		g.rnd = rand.New(rand.NewSource(g.seed))
		return
	}
	// parameters were validated when g was created
	g.dist, _ = newGaussianDist(g.mean, g.cov, g.seed)
}

func newGaussianDist(mean []float64, cov mat.Symmetric, seed uint64) (*distmv.Normal, bool) {
	src := rand.NewSource(seed)
	return distmv.NewNormal(mean, cov, src)
}

// sqrtPSD returns V*sqrt(D) where cov = V*D*V'.
// It returns error if cov has a negative eigenvalue beyond rounding.
func sqrtPSD(cov *mat.SymDense) (*mat.Dense, error) {
	var es mat.EigenSym
	if ok := es.Factorize(cov, true); !ok {
		return nil, fmt.Errorf("%w: gaussian covariance eigen decomposition failed", filter.ErrInvalidParameter)
	}

	vals := es.Values(nil)

	scale := 1.0
	for _, v := range vals {
		scale = math.Max(scale, math.Abs(v))
	}

	for i, v := range vals {
		if math.IsNaN(v) || v < -psdTol*scale {
			return nil, fmt.Errorf("%w: gaussian covariance is not positive semi-definite", filter.ErrInvalidParameter)
		}
		vals[i] = math.Sqrt(math.Max(v, 0))
	}

	vecs := &mat.Dense{}
	es.VectorsTo(vecs)

	sqrt := &mat.Dense{}
	sqrt.Mul(vecs, mat.NewDiagDense(len(vals), vals))

	return sqrt, nil
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
