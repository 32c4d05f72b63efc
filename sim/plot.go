package sim

import (
	"fmt"
	"image/color"
	"math"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/run"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// NewTrajectoryPlot creates new XY plot of the simulation from the three data sources:
//   - truth:   true state values
//   - measure: measurement values
//   - est:     filter estimates
//
// Each row of the data matrices is one sample; the first two columns are plotted.
// It returns error if the plot fails to be created. This can be due to either of the following conditions:
//   - either of the supplied data matrices is nil
//   - either of the supplied data matrices does not have at least 2 columns
//   - gonum plot fails to be created
func NewTrajectoryPlot(truth, measure, est *mat.Dense) (*plot.Plot, error) {
	if truth == nil || measure == nil || est == nil {
		return nil, fmt.Errorf("%w: missing plot data", filter.ErrInvalidParameter)
	}

	_, cmd := truth.Dims()
	_, cms := measure.Dims()
	_, cmf := est.Dims()

	if cmd < 2 || cms < 2 || cmf < 2 {
		return nil, fmt.Errorf("%w: plot data must have at least 2 columns", filter.ErrDimensionMismatch)
	}

	p := plot.New()

	p.Title.Text = "Trajectory"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	// Make a line plotter for true data
	truthLine, err := plotter.NewLine(makePoints(truth, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %w", err)
	}
	truthLine.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthLine.LineStyle.Width = vg.Points(1)

	p.Add(truthLine)
	p.Legend.Add("truth", truthLine)

	// Make a scatter plotter for measurement data
	measScatter, err := plotter.NewScatter(makePoints(measure, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %w", err)
	}
	measScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	measScatter.GlyphStyle.Radius = vg.Points(2)

	p.Add(measScatter)
	p.Legend.Add("measurement", measScatter)

	// Make a scatter plotter for filter data
	filterScatter, err := plotter.NewScatter(makePoints(est, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %w", err)
	}
	filterScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	filterScatter.Shape = draw.CrossGlyph{}
	filterScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(filterScatter)
	p.Legend.Add("filtered", filterScatter)

	return p, nil
}

// NewStatePlot creates new time plot of the state component i: its true values,
// filter estimates and the estimate +-2 sigma bounds.
// truth may be nil if true values are not known.
func NewStatePlot(truth []mat.Vector, snaps []run.Snapshot, i int) (*plot.Plot, error) {
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: missing plot data", filter.ErrInvalidParameter)
	}

	if truth != nil && len(truth) != len(snaps) {
		return nil, fmt.Errorf("%w: %d true states, %d snapshots", filter.ErrDimensionMismatch, len(truth), len(snaps))
	}

	if i < 0 || i >= snaps[0].X.Len() {
		return nil, fmt.Errorf("%w: state index %d", filter.ErrDimensionMismatch, i)
	}

	est := make(plotter.XYs, len(snaps))
	lower := make(plotter.XYs, len(snaps))
	upper := make(plotter.XYs, len(snaps))
	for k, s := range snaps {
		sigma := math.Sqrt(math.Max(s.P.At(i, i), 0))
		est[k] = plotter.XY{X: s.T, Y: s.X.AtVec(i)}
		lower[k] = plotter.XY{X: s.T, Y: s.X.AtVec(i) - 2*sigma}
		upper[k] = plotter.XY{X: s.T, Y: s.X.AtVec(i) + 2*sigma}
	}

	p := plot.New()

	p.Title.Text = fmt.Sprintf("State %d", i)
	p.X.Label.Text = "t"
	p.Y.Label.Text = fmt.Sprintf("x[%d]", i)

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	if truth != nil {
		pts := make(plotter.XYs, len(truth))
		for k, x := range truth {
			pts[k] = plotter.XY{X: snaps[k].T, Y: x.AtVec(i)}
		}

		truthLine, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create line: %w", err)
		}
		truthLine.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}

		p.Add(truthLine)
		p.Legend.Add("truth", truthLine)
	}

	estLine, err := plotter.NewLine(est)
	if err != nil {
		return nil, fmt.Errorf("failed to create line: %w", err)
	}
	estLine.LineStyle.Color = color.RGBA{B: 255, A: 255}

	p.Add(estLine)
	p.Legend.Add("filtered", estLine)

	for _, bound := range []plotter.XYs{lower, upper} {
		l, err := plotter.NewLine(bound)
		if err != nil {
			return nil, fmt.Errorf("failed to create line: %w", err)
		}
		l.LineStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
		l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

		p.Add(l)
	}

	return p, nil
}

func makePoints(m *mat.Dense, cx, cy int) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, cx)
		pts[i].Y = m.At(i, cy)
	}

	return pts
}
