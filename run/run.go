// Package run drives a filter over an ordered stream of steps and records
// one snapshot of the filter state per step.
package run

import (
	"fmt"

	filter "github.com/bmslab/go-estimate"
	"github.com/google/uuid"
	"github.com/milosgajdos/matrix"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Step is a single input of an estimation run
type Step struct {
	// U is control input; nil for systems with no input
	U mat.Vector
	// Z is measurement; nil means the step is predicted only
	Z mat.Vector
	// Dt is time step; zero means Config.Dt or, if that is zero, the filter time step
	Dt float64
}

// Snapshot is the filter state recorded after a step
type Snapshot struct {
	// Step is the index of the step
	Step int
	// T is the time elapsed since the start of the run
	T float64
	// X is state estimate
	X mat.Vector
	// P is state covariance
	P mat.Symmetric
	// Skipped is set if a part of the step was skipped on a numerical error
	Skipped bool
	// Warning is the numerical error which caused the skip
	Warning error
}

// Source produces the input steps of a run
type Source interface {
	// Steps returns run steps generated for configuration c
	Steps(c Config) ([]Step, error)
}

// SourceFunc is an adapter which allows to use ordinary functions as Source
type SourceFunc func(c Config) ([]Step, error)

// Steps calls fn(c)
func (fn SourceFunc) Steps(c Config) ([]Step, error) {
	return fn(c)
}

// Option configures Runner
type Option func(*Runner)

// WithLogger sets runner logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// Runner runs a filter over a sequence of steps.
// Runner is not safe for concurrent use; independent runners may run concurrently.
type Runner struct {
	f    filter.Filter
	c    Config
	id   string
	log  logrus.FieldLogger
	step int
	t    float64
}

// New creates new Runner for filter f and returns it.
// It returns error if f is nil or c is invalid.
func New(f filter.Filter, c Config, opts ...Option) (*Runner, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: missing filter", filter.ErrInvalidParameter)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		f:   f,
		c:   c,
		id:  uuid.New().String(),
		log: logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// ID returns run ID
func (r *Runner) ID() string {
	return r.id
}

// Config returns run configuration
func (r *Runner) Config() Config {
	return r.c
}

// Step predicts the filter state and corrects it with the step measurement.
// Recoverable numerical errors are logged and recorded in the returned snapshot:
// a failed predict skips the whole step, a failed update leaves the predicted state.
// Any other error is returned and the run must not continue.
func (r *Runner) Step(s Step) (Snapshot, error) {
	dt := r.timeStep(s.Dt)

	snap := Snapshot{Step: r.step}

	if _, err := r.f.Predict(s.U, dt); err != nil {
		if !filter.IsRecoverable(err) {
			return Snapshot{}, fmt.Errorf("step %d: predict: %w", r.step, err)
		}
		r.warn("predict", err)
		snap.Skipped, snap.Warning = true, err
	} else if s.Z != nil {
		if _, err := r.f.Update(s.Z); err != nil {
			if !filter.IsRecoverable(err) {
				return Snapshot{}, fmt.Errorf("step %d: update: %w", r.step, err)
			}
			r.warn("update", err)
			snap.Skipped, snap.Warning = true, err
		}
	}

	r.t += dt

	est := r.f.State()
	snap.T = r.t
	snap.X = est.Val()
	snap.P = est.Cov()

	r.log.WithFields(logrus.Fields{
		"run":  r.id,
		"step": r.step,
	}).Debugf("x=%v", matrix.Format(snap.X))

	r.step++

	return snap, nil
}

// Run runs all steps in order and returns exactly one snapshot per step.
// It stops on the first fatal error and returns the snapshots recorded so far.
func (r *Runner) Run(steps []Step) ([]Snapshot, error) {
	snaps := make([]Snapshot, 0, len(steps))

	for _, s := range steps {
		snap, err := r.Step(s)
		if err != nil {
			return snaps, err
		}
		snaps = append(snaps, snap)
	}

	skipped := 0
	for _, s := range snaps {
		if s.Skipped {
			skipped++
		}
	}

	r.log.WithFields(logrus.Fields{
		"run":     r.id,
		"steps":   len(snaps),
		"skipped": skipped,
	}).Info("run finished")

	return snaps, nil
}

// RunSource generates steps from src using run configuration and runs them.
func (r *Runner) RunSource(src Source) ([]Snapshot, error) {
	steps, err := src.Steps(r.c)
	if err != nil {
		return nil, fmt.Errorf("failed to generate steps: %w", err)
	}

	return r.Run(steps)
}

// timeStep resolves zero step time step to the configured one and then
// to the filter time step if the filter implements filter.TimeStepper.
func (r *Runner) timeStep(dt float64) float64 {
	if dt == 0 {
		dt = r.c.Dt
	}

	if dt == 0 {
		if ts, ok := r.f.(filter.TimeStepper); ok {
			dt = ts.TimeStep()
		}
	}

	return dt
}

func (r *Runner) warn(phase string, err error) {
	r.log.WithFields(logrus.Fields{
		"run":   r.id,
		"step":  r.step,
		"phase": phase,
	}).Warnf("step skipped: %v", err)
}
