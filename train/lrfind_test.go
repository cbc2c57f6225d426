package train_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/data"
	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
)

func TestLRFinderSweep(t *testing.T) {
	trainer, ds := newRegression(t, 0.01)

	result, err := train.NewLRFinder(trainer).
		MinLR(1e-5).MaxLR(1e-3).
		Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, result.LRs, ds.NumBatches())
	require.Len(t, result.Losses, ds.NumBatches())
	assert.False(t, result.StoppedEarly)

	// Geometric growth spanning exactly [MinLR, MaxLR].
	assert.InDelta(t, 1e-5, result.LRs[0], 1e-12)
	assert.InDelta(t, 1e-3, result.LRs[len(result.LRs)-1], 1e-10)
	for i := 1; i < len(result.LRs); i++ {
		assert.Greater(t, result.LRs[i], result.LRs[i-1])
	}
}

func TestLRFinderLinearSweep(t *testing.T) {
	trainer, ds := newRegression(t, 0.01)

	result, err := train.NewLRFinder(trainer).
		MinLR(1e-6).MaxLR(3e-6).Linear(true).NumBatches(2).
		Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, result.LRs, 2)
	assert.InDelta(t, 1e-6, result.LRs[0], 1e-15)
	assert.InDelta(t, 3e-6, result.LRs[1], 1e-15)
}

func TestLRFinderStopsOnExplosion(t *testing.T) {
	// Rates beyond 1 diverge on this quadratic within a few batches; the
	// sweep must cut out long before the full pass.
	trainer, _ := newRegression(t, 0.01)
	inputs := mat.NewDense(64, 1, nil)
	target := mat.NewDense(64, 1, nil)
	for i := 0; i < 64; i++ {
		x := float64(i%8 + 1)
		inputs.Set(i, 0, x)
		target.Set(i, 0, 2*x)
	}
	ds := data.FromTensors(inputs, target).BatchSize(1)

	result, err := train.NewLRFinder(trainer).
		MinLR(1).MaxLR(100).
		Run(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, result.StoppedEarly)
	assert.Less(t, len(result.Losses), 64)
}

func TestLRFinderRestoresState(t *testing.T) {
	trainer, ds := newRegression(t, 0.01)

	before, err := trainer.Model.State()
	require.NoError(t, err)

	_, err = train.NewLRFinder(trainer).MinLR(1e-3).MaxLR(1).Run(context.Background(), ds)
	require.NoError(t, err)

	after, err := trainer.Model.State()
	require.NoError(t, err)
	for name, value := range before {
		assert.Equal(t, value.RawMatrix().Data, after[name].RawMatrix().Data,
			"parameter %q must be bit-identical after the sweep", name)
	}

	// The trainer's own optimizer and history were never touched.
	assert.Equal(t, 0, trainer.History.Train.Len(history.Losses))
	assert.Equal(t, 0.01, trainer.Optimizer.Groups()[0].LR)
}

func TestLRFinderBadBoundsPanic(t *testing.T) {
	trainer, _ := newRegression(t, 0.01)
	inputs := mat.NewDense(2, 1, []float64{1, 2})
	target := mat.NewDense(2, 1, []float64{2, 4})
	ds := data.FromTensors(inputs, target)

	assert.Panics(t, func() {
		_, _ = train.NewLRFinder(trainer).MinLR(0).Run(context.Background(), ds)
	})
	assert.Panics(t, func() {
		_, _ = train.NewLRFinder(trainer).MinLR(1).MaxLR(0.5).Run(context.Background(), ds)
	})
}
