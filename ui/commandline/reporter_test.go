package commandline

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/data"
	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/optimizers"
	"github.com/deeptrain/deeptrain/train/traintest"
)

func TestReporterOutput(t *testing.T) {
	inputs := mat.NewDense(8, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	target := mat.NewDense(8, 1, []float64{2, 4, 6, 8, 10, 12, 14, 16})
	ds := data.FromTensors(inputs, target).BatchSize(2)

	model := traintest.NewLinearModel(1, 1)
	trainer := train.NewTrainer(model, traintest.NewMSE(true),
		optimizers.NewSGD(model.Parameters(), 0.01))

	var buf bytes.Buffer
	trainer.WithCallbacks(New().WithWriter(&buf))
	require.NoError(t, trainer.Fit(context.Background(), 3, ds, ds))

	out := buf.String()
	assert.Contains(t, out, "Training for 3 epochs (starting at epoch 1)")
	assert.Contains(t, out, "Stopped at epoch 3")
	assert.Contains(t, out, "(lr 1.00e-02)")
	// Validation was supplied, so epoch lines carry both phases.
	assert.Contains(t, out, "T:")
	assert.Contains(t, out, "V:")
	// On this convex problem every epoch improves, so the last epoch line
	// stars its loss.
	assert.Contains(t, out, "*")
	assert.Contains(t, out, "Epochs run")
	assert.Contains(t, out, "Samples seen")
	assert.Contains(t, out, "Best valid loss")
}

func TestReporterWithoutValidation(t *testing.T) {
	inputs := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	target := mat.NewDense(4, 1, []float64{2, 4, 6, 8})
	ds := data.FromTensors(inputs, target).BatchSize(2)

	model := traintest.NewLinearModel(1, 1)
	trainer := train.NewTrainer(model, traintest.NewMSE(true),
		optimizers.NewSGD(model.Parameters(), 0.01))

	var buf bytes.Buffer
	trainer.WithCallbacks(New().WithWriter(&buf))
	require.NoError(t, trainer.Fit(context.Background(), 1, ds, nil))

	out := buf.String()
	assert.Contains(t, out, "T:")
	assert.NotContains(t, out, "V:")
	assert.NotContains(t, out, "Best valid loss")
}
