// Package callbacks holds callbacks that track extra metrics during
// training, beyond the losses the Trainer bookkeeps itself.
package callbacks

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
)

// Accuracy tracks classification accuracy per epoch, for both phases: the
// per-row arg-max of the predictions is compared against the target class
// index (column 0 of the target batch).
//
// Counters reset at every epoch begin; at epoch end, correct/total is
// appended to each phase that saw samples.
type Accuracy struct {
	train.CallbackBase

	// Name of the metric in the history. Defaults to "acc".
	Name string

	trainCorrect, trainSeen int
	validCorrect, validSeen int
}

var _ train.Callback = (*Accuracy)(nil)

// NewAccuracy creates the accuracy tracker with the default metric name.
func NewAccuracy() *Accuracy {
	return &Accuracy{Name: "acc"}
}

// OnTrainBegin registers the metric in both phases.
func (a *Accuracy) OnTrainBegin(numEpochs int, hist *history.History) error {
	hist.Train.Register(a.Name)
	hist.Valid.Register(a.Name)
	return nil
}

// OnEpochBegin resets the running counters.
func (a *Accuracy) OnEpochBegin(epoch int, hist *history.History) error {
	a.trainCorrect, a.trainSeen = 0, 0
	a.validCorrect, a.validSeen = 0, 0
	return nil
}

// OnBatchEnd accumulates training-phase counts.
func (a *Accuracy) OnBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	correct, seen := countCorrect(predictions, target)
	a.trainCorrect += correct
	a.trainSeen += seen
	return nil
}

// OnValidBatchEnd accumulates validation-phase counts.
func (a *Accuracy) OnValidBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	correct, seen := countCorrect(predictions, target)
	a.validCorrect += correct
	a.validSeen += seen
	return nil
}

// OnEpochEnd appends the epoch accuracy for each phase that saw samples.
func (a *Accuracy) OnEpochEnd(epoch int, hist *history.History) error {
	if a.trainSeen > 0 {
		hist.Train.AppendValue(a.Name, float64(a.trainCorrect)/float64(a.trainSeen))
	}
	if a.validSeen > 0 {
		hist.Valid.AppendValue(a.Name, float64(a.validCorrect)/float64(a.validSeen))
	}
	return nil
}

func countCorrect(predictions, target *mat.Dense) (correct, seen int) {
	rows, _ := predictions.Dims()
	for i := 0; i < rows; i++ {
		predicted := floats.MaxIdx(mat.Row(nil, i, predictions))
		if predicted == int(target.At(i, 0)) {
			correct++
		}
	}
	return correct, rows
}
