package filter

import "gonum.org/v1/gonum/mat"

// Filter is a dynamical system filter.
type Filter interface {
	// Predict estimates the next internal state of the system
	Predict(u mat.Vector, dt float64) (Estimate, error)
	// Update updates the system state based on external measurement
	Update(z mat.Vector) (Estimate, error)
	// State returns the current filter estimate
	State() Estimate
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate propagates internal state x of the system to the next step
	// given the control input u and the time step dt
	Propagate(x, u mat.Vector, dt float64) (mat.Vector, error)
}

// Observer observes external state (output) of the system
type Observer interface {
	// Observe observes external state of the system in internal state x
	Observe(x mat.Vector) (mat.Vector, error)
}

// Model is a model of a dynamical system
type Model interface {
	// Propagator is system propagator
	Propagator
	// Observer is system observer
	Observer
	// SystemDims returns internal state length (nx), input vector length (nu)
	// and external/observable/output state length (ny)
	SystemDims() (nx, nu, ny int)
}

// DifferentiableModel is a model which provides Jacobians of its
// propagation and observation functions
type DifferentiableModel interface {
	// Model is a model of a dynamical system
	Model
	// StateJacobian returns nx x nx Jacobian of Propagate evaluated at x
	StateJacobian(x mat.Vector, dt float64) (mat.Matrix, error)
	// OutputJacobian returns ny x nx Jacobian of Observe evaluated at x
	OutputJacobian(x mat.Vector) (mat.Matrix, error)
}

// DiscreteModel is a dynamical system whose state is driven by
// static propagation and observation dynamics matrices
type DiscreteModel interface {
	// Model is a model of a dynamical system
	Model
	// SystemMatrix returns state propagation matrix
	SystemMatrix() mat.Matrix
	// ControlMatrix returns state propagation control matrix
	ControlMatrix() mat.Matrix
	// OutputMatrix returns observation matrix
	OutputMatrix() mat.Matrix
}

// TimeStepper is implemented by models which advance by a fixed time step.
// Filters use it when Predict is called with zero dt.
type TimeStepper interface {
	// TimeStep returns the model time step
	TimeStep() float64
}

// InitCond is initial state condition of the filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}
