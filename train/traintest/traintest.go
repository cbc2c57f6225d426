// Package traintest provides small, exactly-differentiable collaborators used
// to test the training loop: a linear model and a mean-squared-error
// criterion. They are real implementations, just tiny, so tests can check
// losses actually go down.
package traintest

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/optimizers"
)

// LinearModel computes predictions = inputs*W + b, with W of shape
// inputDim x outputDim and b of shape 1 x outputDim.
type LinearModel struct {
	weight, bias *optimizers.Parameter

	// lastInputs from Forward, retained for Backward.
	lastInputs *mat.Dense

	training bool
}

var _ train.Model = (*LinearModel)(nil)

// NewLinearModel creates a zero-initialized linear model.
func NewLinearModel(inputDim, outputDim int) *LinearModel {
	return &LinearModel{
		weight: optimizers.NewParameter("weight", mat.NewDense(inputDim, outputDim, nil)),
		bias:   optimizers.NewParameter("bias", mat.NewDense(1, outputDim, nil)),
	}
}

// SetWeights overwrites the parameter values, for tests that want a known
// starting point.
func (m *LinearModel) SetWeights(weight, bias *mat.Dense) {
	m.weight.Value.Copy(weight)
	m.bias.Value.Copy(bias)
}

// SetTraining implements train.Model.
func (m *LinearModel) SetTraining(training bool) { m.training = training }

// Forward implements train.Model.
func (m *LinearModel) Forward(inputs *mat.Dense) (*mat.Dense, error) {
	numRows, _ := inputs.Dims()
	_, outputDim := m.weight.Value.Dims()
	out := mat.NewDense(numRows, outputDim, nil)
	out.Mul(inputs, m.weight.Value)
	for i := 0; i < numRows; i++ {
		for j := 0; j < outputDim; j++ {
			out.Set(i, j, out.At(i, j)+m.bias.Value.At(0, j))
		}
	}
	if m.training {
		m.lastInputs = inputs
	}
	return out, nil
}

// Backward implements train.Model: dW = Xᵀ·lossGrad, db = column sums of
// lossGrad, accumulated into the parameter gradients.
func (m *LinearModel) Backward(lossGrad *mat.Dense) error {
	if m.lastInputs == nil {
		return errors.New("Backward called without a Forward in training mode")
	}
	var dW mat.Dense
	dW.Mul(m.lastInputs.T(), lossGrad)
	m.weight.Grad.Add(m.weight.Grad, &dW)

	numRows, outputDim := lossGrad.Dims()
	for j := 0; j < outputDim; j++ {
		sum := 0.0
		for i := 0; i < numRows; i++ {
			sum += lossGrad.At(i, j)
		}
		m.bias.Grad.Set(0, j, m.bias.Grad.At(0, j)+sum)
	}
	return nil
}

// Parameters implements train.Model.
func (m *LinearModel) Parameters() []*optimizers.Parameter {
	return []*optimizers.Parameter{m.weight, m.bias}
}

// State implements train.Model.
func (m *LinearModel) State() (train.ModelState, error) {
	return train.ModelState{
		"weight": mat.DenseCopyOf(m.weight.Value),
		"bias":   mat.DenseCopyOf(m.bias.Value),
	}, nil
}

// SetState implements train.Model.
func (m *LinearModel) SetState(state train.ModelState) error {
	return state.Restore(m.Parameters())
}

// MSE is mean squared error over the batch (when sizeAverage) or summed
// squared error (when not).
type MSE struct {
	sizeAverage bool
}

var _ train.Criterion = (*MSE)(nil)

// NewMSE creates the criterion. sizeAverage selects per-sample mean versus
// plain sum.
func NewMSE(sizeAverage bool) *MSE { return &MSE{sizeAverage: sizeAverage} }

// SizeAverage implements train.Criterion.
func (c *MSE) SizeAverage() bool { return c.sizeAverage }

// Loss implements train.Criterion.
func (c *MSE) Loss(predictions, target *mat.Dense) (float64, *mat.Dense, error) {
	pr, pc := predictions.Dims()
	tr, tc := target.Dims()
	if pr != tr || pc != tc {
		return 0, nil, errors.Errorf("predictions are %dx%d but target is %dx%d", pr, pc, tr, tc)
	}
	var diff mat.Dense
	diff.Sub(predictions, target)

	loss := 0.0
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			d := diff.At(i, j)
			loss += d * d
		}
	}
	grad := mat.NewDense(pr, pc, nil)
	scale := 2.0
	if c.sizeAverage {
		n := float64(pr * pc)
		loss /= n
		scale /= n
	}
	grad.Scale(scale, &diff)
	return loss, grad, nil
}
