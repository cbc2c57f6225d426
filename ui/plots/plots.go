// Package plots renders training curves. The training loop has no rendering
// backend of its own: the LossCurves callback feeds a small Plotter interface,
// and concrete backends (margaid SVG, gonum/plot PNG) live behind it.
package plots

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
)

// Point is one sample of one named curve.
type Point struct {
	// Name of the curve, e.g. "train losses".
	Name string

	// Step is the X coordinate -- for training curves, the epoch.
	Step float64

	// Value is the Y coordinate.
	Value float64
}

// Plotter receives curve points and renders them on Flush. Implementations
// decide how and where to draw; see Margaid for SVG output.
type Plotter interface {
	// AddPoint adds one point to be drawn.
	AddPoint(point Point)

	// Flush (re-)renders everything added so far.
	Flush() error
}

// LossCurves is a callback that feeds the loss series of both phases to a
// Plotter every interval epochs, and once more at the end of training.
type LossCurves struct {
	train.CallbackBase

	plotter  Plotter
	interval int

	// fed counts epochs already forwarded to the plotter, so resumed runs
	// do not repeat points.
	fed int
}

var _ train.Callback = (*LossCurves)(nil)

// NewLossCurves creates the callback. interval is in epochs; 1 redraws
// after every epoch.
func NewLossCurves(plotter Plotter, interval int) *LossCurves {
	if plotter == nil {
		exceptions.Panicf("plots.NewLossCurves: plotter must not be nil")
	}
	if interval < 1 {
		exceptions.Panicf("plots.NewLossCurves: interval must be >= 1, got %d", interval)
	}
	return &LossCurves{plotter: plotter, interval: interval}
}

// OnEpochEnd redraws every interval epochs.
func (lc *LossCurves) OnEpochEnd(epoch int, hist *history.History) error {
	if epoch%lc.interval != 0 {
		return nil
	}
	return lc.flush(hist)
}

// OnTrainEnd redraws with the final curves.
func (lc *LossCurves) OnTrainEnd(numEpochs int, hist *history.History) error {
	return lc.flush(hist)
}

func (lc *LossCurves) flush(hist *history.History) error {
	trainLosses := hist.Train.Series(history.Losses)
	validLosses := hist.Valid.Series(history.Losses)
	for ; lc.fed < len(trainLosses); lc.fed++ {
		epoch := float64(lc.fed + 1)
		if v := trainLosses[lc.fed]; v != nil {
			lc.plotter.AddPoint(Point{Name: "train losses", Step: epoch, Value: *v})
		}
		if lc.fed < len(validLosses) {
			if v := validLosses[lc.fed]; v != nil {
				lc.plotter.AddPoint(Point{Name: "valid losses", Step: epoch, Value: *v})
			}
		}
	}
	return errors.WithMessage(lc.plotter.Flush(), "plotting loss curves")
}
