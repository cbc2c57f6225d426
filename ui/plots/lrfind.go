package plots

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/deeptrain/deeptrain/train"
)

// LRFindPlot renders a learning-rate sweep as a loss-vs-rate PNG with a
// log-scale X axis, the usual way to read off a good starting rate.
func LRFindPlot(result *train.LRFindResult, filePath string) error {
	if len(result.LRs) == 0 {
		return errors.New("learning-rate sweep has no points to plot")
	}
	p := plot.New()
	p.Title.Text = "Learning rate sweep"

	p.X.Label.Text = "learning rate"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}

	p.Y.Label.Text = "loss"

	pts := make(plotter.XYs, len(result.LRs))
	for i, lr := range result.LRs {
		pts[i].X = lr
		pts[i].Y = result.Losses[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "failed to build loss curve")
	}
	p.Add(line)

	if err = p.Save(8*vg.Inch, 4*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	return nil
}
