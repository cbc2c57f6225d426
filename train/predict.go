package train

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Predict runs the model in evaluation mode over every batch of ds and
// returns the predictions stacked into a single matrix, one row per sample.
func (t *Trainer) Predict(ds Dataset) (*mat.Dense, error) {
	t.Model.SetTraining(false)
	var batches []*mat.Dense
	rows, cols := 0, 0
	for batch := 0; ; batch++ {
		inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Predict: reading batch %d", batch)
		}
		predictions, err := t.Model.Forward(inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Predict: batch %d", batch)
		}
		r, c := predictions.Dims()
		rows += r
		cols = c
		batches = append(batches, predictions)
	}
	if err := ds.Reset(); err != nil {
		return nil, errors.WithMessage(err, "Trainer.Predict: resetting dataset")
	}
	if len(batches) == 0 {
		return nil, errors.Errorf("Trainer.Predict: dataset yielded no batches")
	}
	stacked := mat.NewDense(rows, cols, nil)
	row := 0
	for _, b := range batches {
		r, _ := b.Dims()
		for i := 0; i < r; i++ {
			stacked.SetRow(row, mat.Row(nil, i, b))
			row++
		}
	}
	return stacked, nil
}

// PredictClasses returns the per-row arg-max of Predict: the predicted class
// index of each sample.
func (t *Trainer) PredictClasses(ds Dataset) ([]int, error) {
	predictions, err := t.Predict(ds)
	if err != nil {
		return nil, err
	}
	rows, _ := predictions.Dims()
	classes := make([]int, rows)
	for i := 0; i < rows; i++ {
		classes[i] = floats.MaxIdx(mat.Row(nil, i, predictions))
	}
	return classes, nil
}

// PredictProbs returns Predict with a row-wise softmax applied, mapping
// scores to class probabilities.
func (t *Trainer) PredictProbs(ds Dataset) (*mat.Dense, error) {
	predictions, err := t.Predict(ds)
	if err != nil {
		return nil, err
	}
	rows, cols := predictions.Dims()
	probs := mat.NewDense(rows, cols, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, predictions)
		max := floats.Max(row)
		for j := range row {
			row[j] = math.Exp(row[j] - max)
		}
		sum := floats.Sum(row)
		for j := range row {
			row[j] /= sum
		}
		probs.SetRow(i, row)
	}
	return probs, nil
}
