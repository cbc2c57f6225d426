package checkpoints

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/data"
	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
	"github.com/deeptrain/deeptrain/train/optimizers"
	"github.com/deeptrain/deeptrain/train/traintest"
)

func newFixture(t *testing.T) (*train.Trainer, *data.InMemoryDataset) {
	t.Helper()
	inputs := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	target := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
	ds := data.FromTensors(inputs, target).BatchSize(2)

	model := traintest.NewLinearModel(1, 1)
	trainer := train.NewTrainer(model, traintest.NewMSE(true),
		optimizers.NewSGD(model.Parameters(), 0.01))
	return trainer, ds
}

func TestSaveLoadRoundTrip(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, ds := newFixture(t)
	require.NoError(t, trainer.Fit(context.Background(), 2, ds, nil))

	state, err := trainer.Model.State()
	require.NoError(t, err)
	require.False(t, Exists(basename))
	require.NoError(t, Save(basename, state, trainer.History))
	require.True(t, Exists(basename))

	// Restore into a fresh model and history.
	other, _ := newFixture(t)
	require.NoError(t, Load(basename, other.Model, other.History))

	restored, err := other.Model.State()
	require.NoError(t, err)
	for name, value := range state {
		assert.Equal(t, value.RawMatrix().Data, restored[name].RawMatrix().Data,
			"parameter %q must round-trip bit-identically", name)
	}
	require.Equal(t, 2, other.History.Train.Len(history.Losses))
	assert.Equal(t, *trainer.History.Train.Latest(history.Losses),
		*other.History.Train.Latest(history.Losses))
}

func TestLoadWithoutHistoryFile(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, _ := newFixture(t)
	state, err := trainer.Model.State()
	require.NoError(t, err)
	require.NoError(t, Save(basename, state, trainer.History))
	require.NoError(t, os.Remove(basename+HistorySuffix))

	other, _ := newFixture(t)
	require.NoError(t, Load(basename, other.Model, other.History))
}

func TestSaveLoadTrainer(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, ds := newFixture(t)
	require.NoError(t, trainer.Fit(context.Background(), 3, ds, nil))
	require.NoError(t, SaveTrainer(basename, trainer))

	fresh, _ := newFixture(t)
	require.NoError(t, LoadTrainer(basename, fresh))
	assert.Equal(t, 3, fresh.LastEpoch)
	assert.Equal(t, 3, fresh.History.Train.Len(history.Losses))

	state, err := trainer.Model.State()
	require.NoError(t, err)
	restored, err := fresh.Model.State()
	require.NoError(t, err)
	assert.Equal(t, state["weight"].RawMatrix().Data, restored["weight"].RawMatrix().Data)
}

func TestCheckpointSavesOnImprovementOnly(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, _ := newFixture(t)

	cp, err := Build(basename).Reset().Done()
	require.NoError(t, err)
	cp.AttachTrainer(trainer)
	require.NoError(t, cp.OnTrainBegin(4, trainer.History))

	// Feed a scripted validation-loss sequence through the epoch hook:
	// only strict improvements are persisted.
	saves := []struct {
		loss float64
		want int
	}{
		{0.5, 1}, // first finite loss improves on +Inf
		{0.5, 1}, // equal is not an improvement
		{0.4, 2},
		{0.6, 2},
	}
	for epoch, step := range saves {
		trainer.History.Train.AppendValue(history.Losses, step.loss)
		trainer.History.Valid.AppendValue(history.Losses, step.loss)
		require.NoError(t, cp.OnEpochEnd(epoch+1, trainer.History))
		assert.Equal(t, step.want, cp.NumSaves(), "after epoch %d", epoch+1)
	}
	assert.Equal(t, 3, cp.BestEpoch())
	assert.InDelta(t, 0.4, cp.BestLoss(), 1e-12)
	assert.True(t, Exists(basename))
}

func TestCheckpointZeroValidLossDoesNotFallBack(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, _ := newFixture(t)

	cp, err := Build(basename).Reset().Done()
	require.NoError(t, err)
	cp.AttachTrainer(trainer)
	require.NoError(t, cp.OnTrainBegin(1, trainer.History))

	// A validation loss of exactly zero is monitored as-is, not replaced
	// by the (worse) training loss.
	trainer.History.Train.AppendValue(history.Losses, 1.0)
	trainer.History.Valid.AppendValue(history.Losses, 0.0)
	require.NoError(t, cp.OnEpochEnd(1, trainer.History))
	assert.Equal(t, 0.0, cp.BestLoss())
}

func TestCheckpointFallsBackToTrainLoss(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, _ := newFixture(t)

	cp, err := Build(basename).Reset().Done()
	require.NoError(t, err)
	cp.AttachTrainer(trainer)
	require.NoError(t, cp.OnTrainBegin(1, trainer.History))

	trainer.History.Train.AppendValue(history.Losses, 0.7)
	trainer.History.Valid.Append(history.Losses, nil)
	require.NoError(t, cp.OnEpochEnd(1, trainer.History))
	assert.InDelta(t, 0.7, cp.BestLoss(), 1e-12)
}

func TestCheckpointResumesRun(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")

	// First run: train and checkpoint 3 epochs.
	trainer, ds := newFixture(t)
	cp, err := Build(basename).Done()
	require.NoError(t, err)
	trainer.WithCallbacks(cp)
	require.NoError(t, trainer.Fit(context.Background(), 3, ds, ds))
	require.Equal(t, 3, trainer.LastEpoch)

	// Second run on a fresh trainer resumes where the first left off.
	resumed, ds2 := newFixture(t)
	cp2, err := Build(basename).Done()
	require.NoError(t, err)
	resumed.WithCallbacks(cp2)
	require.NoError(t, resumed.Fit(context.Background(), 2, ds2, ds2))
	assert.Equal(t, 5, resumed.LastEpoch)
	assert.Equal(t, 5, resumed.History.Train.Len(history.Losses))
}

func TestCheckpointLoadBest(t *testing.T) {
	basename := filepath.Join(t.TempDir(), "run")
	trainer, _ := newFixture(t)

	cp, err := Build(basename).Reset().LoadBest().Done()
	require.NoError(t, err)
	cp.AttachTrainer(trainer)
	require.NoError(t, cp.OnTrainBegin(2, trainer.History))

	// Epoch 1 improves and is snapshotted with the current weights.
	model := trainer.Model.(*traintest.LinearModel)
	model.SetWeights(mat.NewDense(1, 1, []float64{2}), mat.NewDense(1, 1, []float64{0.5}))
	trainer.History.Train.AppendValue(history.Losses, 0.3)
	trainer.History.Valid.Append(history.Losses, nil)
	require.NoError(t, cp.OnEpochEnd(1, trainer.History))

	// Epoch 2 is worse; the weights moved on.
	model.SetWeights(mat.NewDense(1, 1, []float64{9}), mat.NewDense(1, 1, []float64{9}))
	trainer.History.Train.AppendValue(history.Losses, 0.8)
	trainer.History.Valid.Append(history.Losses, nil)
	require.NoError(t, cp.OnEpochEnd(2, trainer.History))

	// OnTrainEnd restores the epoch-1 snapshot.
	require.NoError(t, cp.OnTrainEnd(2, trainer.History))
	state, err := trainer.Model.State()
	require.NoError(t, err)
	assert.Equal(t, 2.0, state["weight"].At(0, 0))
	assert.Equal(t, 0.5, state["bias"].At(0, 0))
}

func TestBuildEmptyBasename(t *testing.T) {
	_, err := Build("").Done()
	require.Error(t, err)
}
