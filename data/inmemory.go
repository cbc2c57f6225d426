// Package data provides dataset implementations for the training loop.
package data

import (
	"io"
	"math/rand"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train"
)

// InMemoryDataset serves row-batches of a pair of in-memory matrices: one
// example per row of inputs and target. It is finite and restartable, and
// optionally reshuffles at every Reset.
type InMemoryDataset struct {
	inputs *mat.Dense
	target *mat.Dense

	batchSize int
	shuffle   bool
	rng       *rand.Rand

	perm []int
	next int
}

var _ train.Dataset = (*InMemoryDataset)(nil)

// DefaultBatchSize used until BatchSize is called.
const DefaultBatchSize = 32

// FromTensors creates a dataset over the given matrices. Both must have the
// same number of rows.
func FromTensors(inputs, target *mat.Dense) *InMemoryDataset {
	xRows, _ := inputs.Dims()
	yRows, _ := target.Dims()
	if xRows != yRows {
		exceptions.Panicf("data.FromTensors: inputs have %d rows, target has %d", xRows, yRows)
	}
	if xRows == 0 {
		exceptions.Panicf("data.FromTensors: empty dataset")
	}
	ds := &InMemoryDataset{
		inputs:    inputs,
		target:    target,
		batchSize: DefaultBatchSize,
	}
	ds.perm = make([]int, xRows)
	for i := range ds.perm {
		ds.perm[i] = i
	}
	return ds
}

// BatchSize configures the number of rows per yielded batch. The last batch
// of a pass may be smaller. It returns the dataset itself, so calls can be
// cascaded.
func (ds *InMemoryDataset) BatchSize(n int) *InMemoryDataset {
	if n < 1 {
		exceptions.Panicf("InMemoryDataset.BatchSize: n must be >= 1, got %d", n)
	}
	ds.batchSize = n
	return ds
}

// Shuffle configures the dataset to reshuffle the row order at every Reset.
func (ds *InMemoryDataset) Shuffle() *InMemoryDataset {
	ds.shuffle = true
	ds.reshuffle()
	return ds
}

// WithRand sets the random number generator used for shuffling -- handy for
// reproducible runs.
func (ds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	ds.rng = rng
	if ds.shuffle {
		ds.reshuffle()
	}
	return ds
}

// NumSamples returns the total number of examples.
func (ds *InMemoryDataset) NumSamples() int {
	rows, _ := ds.inputs.Dims()
	return rows
}

// NumBatches implements train.Dataset.
func (ds *InMemoryDataset) NumBatches() int {
	return (ds.NumSamples() + ds.batchSize - 1) / ds.batchSize
}

// Yield implements train.Dataset.
func (ds *InMemoryDataset) Yield() (inputs, target *mat.Dense, err error) {
	start := ds.next * ds.batchSize
	if start >= ds.NumSamples() {
		return nil, nil, io.EOF
	}
	end := start + ds.batchSize
	if end > ds.NumSamples() {
		end = ds.NumSamples()
	}
	ds.next++

	_, xCols := ds.inputs.Dims()
	_, yCols := ds.target.Dims()
	inputs = mat.NewDense(end-start, xCols, nil)
	target = mat.NewDense(end-start, yCols, nil)
	for i, row := range ds.perm[start:end] {
		inputs.SetRow(i, mat.Row(nil, row, ds.inputs))
		target.SetRow(i, mat.Row(nil, row, ds.target))
	}
	return inputs, target, nil
}

// Reset implements train.Dataset.
func (ds *InMemoryDataset) Reset() error {
	ds.next = 0
	if ds.shuffle {
		ds.reshuffle()
	}
	return nil
}

func (ds *InMemoryDataset) reshuffle() {
	shuffleFn := rand.Shuffle
	if ds.rng != nil {
		shuffleFn = ds.rng.Shuffle
	}
	shuffleFn(len(ds.perm), func(i, j int) {
		ds.perm[i], ds.perm[j] = ds.perm[j], ds.perm[i]
	})
}

// Split carves off the first validFraction of rows as a validation set and
// returns (train, valid) datasets over copies of the two partitions. Both
// inherit the batch size; shuffling must be re-enabled per split.
func (ds *InMemoryDataset) Split(validFraction float64) (trainDS, validDS *InMemoryDataset) {
	if validFraction <= 0 || validFraction >= 1 {
		exceptions.Panicf("InMemoryDataset.Split: fraction must be in (0, 1), got %g", validFraction)
	}
	rows := ds.NumSamples()
	_, xCols := ds.inputs.Dims()
	_, yCols := ds.target.Dims()
	pivot := int(validFraction * float64(rows))
	if pivot == 0 || pivot == rows {
		exceptions.Panicf("InMemoryDataset.Split: fraction %g leaves an empty split for %d rows", validFraction, rows)
	}

	copyRows := func(from, to int) (x, y *mat.Dense) {
		x = mat.DenseCopyOf(ds.inputs.Slice(from, to, 0, xCols))
		y = mat.DenseCopyOf(ds.target.Slice(from, to, 0, yCols))
		return
	}
	vx, vy := copyRows(0, pivot)
	tx, ty := copyRows(pivot, rows)
	validDS = FromTensors(vx, vy).BatchSize(ds.batchSize)
	trainDS = FromTensors(tx, ty).BatchSize(ds.batchSize)
	return trainDS, validDS
}
