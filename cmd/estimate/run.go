package main

import (
	"fmt"
	"math"

	"github.com/bmslab/go-estimate/export"
	"github.com/bmslab/go-estimate/run"
	"github.com/bmslab/go-estimate/scenario"
	"github.com/bmslab/go-estimate/sim"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

func runEstimate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	level, _ := flags.GetString("log-level")
	log, err := newLogger(level)
	if err != nil {
		return err
	}

	name, _ := flags.GetString("scenario")
	s, err := scenario.New(name)
	if err != nil {
		return err
	}

	if flags.Changed("alpha") {
		s.UKF.Alpha, _ = flags.GetFloat64("alpha")
	}
	if flags.Changed("beta") {
		s.UKF.Beta, _ = flags.GetFloat64("beta")
	}
	if flags.Changed("kappa") {
		s.UKF.Kappa, _ = flags.GetFloat64("kappa")
	}
	s.Iterations, _ = flags.GetInt("iterations")

	var c run.Config
	if path, _ := flags.GetString("config"); path != "" {
		if c, err = run.LoadConfig(path); err != nil {
			return err
		}
	}
	if flags.Changed("seed") {
		c.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("steps") {
		c.Steps, _ = flags.GetInt("steps")
	}
	c = c.WithDefaults(s.Config)

	kind, _ := flags.GetString("filter")
	f, err := s.Filter(kind)
	if err != nil {
		return err
	}

	tr, err := s.Generate(c)
	if err != nil {
		return fmt.Errorf("failed to simulate %s: %w", s.Name, err)
	}

	r, err := run.New(f, c, run.WithLogger(log))
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"run":      r.ID(),
		"scenario": s.Name,
		"filter":   kind,
		"steps":    c.Steps,
		"seed":     c.Seed,
	}).Info("run started")

	snaps, err := r.Run(tr.Steps)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: scenario=%s filter=%s steps=%d\n", r.ID(), s.Name, kind, len(snaps))
	for i, e := range rmsError(tr.Truth, snaps) {
		fmt.Fprintf(out, "x%d rms error: %.6g\n", i, e)
	}

	if path, _ := flags.GetString("csv"); path != "" {
		if err := writeCSV(path, snaps); err != nil {
			return err
		}
		log.WithField("path", path).Info("snapshots exported")
	}

	if path, _ := flags.GetString("plot"); path != "" {
		p, err := newPlot(s, tr, snaps)
		if err != nil {
			return err
		}
		if err := p.Save(10*vg.Inch, 10*vg.Inch, path); err != nil {
			return fmt.Errorf("failed to save plot to %s: %w", path, err)
		}
		log.WithField("path", path).Info("plot saved")
	}

	return nil
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return log, nil
}

// rmsError returns root mean square estimation error of each state component.
func rmsError(truth []mat.Vector, snaps []run.Snapshot) []float64 {
	if len(snaps) == 0 {
		return nil
	}

	rms := make([]float64, snaps[0].X.Len())
	for k, s := range snaps {
		for i := range rms {
			d := s.X.AtVec(i) - truth[k].AtVec(i)
			rms[i] += d * d
		}
	}

	for i := range rms {
		rms[i] = math.Sqrt(rms[i] / float64(len(snaps)))
	}

	return rms
}

func writeCSV(path string, snaps []run.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	e, err := export.CreateCSV(path, export.StateHeaders(snaps[0].X.Len()))
	if err != nil {
		return err
	}

	if err := e.WriteAll(snaps); err != nil {
		e.Close()
		return err
	}

	return e.Close()
}

// newPlot plots planar trajectories of scenarios with position measurements
// and the first state component of the rest.
func newPlot(s *scenario.Scenario, tr *sim.Trajectory, snaps []run.Snapshot) (*plot.Plot, error) {
	if s.Locate == nil {
		return sim.NewStatePlot(tr.Truth, snaps, 0)
	}

	meas := mat.NewDense(len(tr.Steps), 2, nil)
	for k, step := range tr.Steps {
		x, y := s.Locate(step.Z)
		meas.Set(k, 0, x)
		meas.Set(k, 1, y)
	}

	return sim.NewTrajectoryPlot(sim.Stack(tr.Truth), meas, sim.Estimates(snaps))
}
