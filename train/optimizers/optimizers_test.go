package optimizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newParam(t *testing.T, value, grad []float64) *Parameter {
	t.Helper()
	p := NewParameter("p", mat.NewDense(1, len(value), value))
	copy(p.Grad.RawMatrix().Data, grad)
	return p
}

func TestSGDStep(t *testing.T) {
	p := newParam(t, []float64{1, 2}, []float64{10, -10})
	sgd := NewSGD([]*Parameter{p}, 0.1)
	sgd.Step()
	assert.InDelta(t, 0.0, p.Value.At(0, 0), 1e-12)
	assert.InDelta(t, 3.0, p.Value.At(0, 1), 1e-12)

	sgd.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad.RawMatrix().Data)
}

func TestSGDMomentum(t *testing.T) {
	p := newParam(t, []float64{0}, []float64{1})
	sgd := NewSGD([]*Parameter{p}, 0.1).WithMomentum(0.9)

	// First step: velocity = grad, update = lr*1.
	sgd.Step()
	require.InDelta(t, -0.1, p.Value.At(0, 0), 1e-12)

	// Second step with the same gradient: velocity = 0.9*1 + 1 = 1.9.
	p.Grad.Set(0, 0, 1)
	sgd.Step()
	require.InDelta(t, -0.1-0.19, p.Value.At(0, 0), 1e-12)
}

func TestSGDWeightDecay(t *testing.T) {
	p := newParam(t, []float64{2}, []float64{0})
	sgd := NewSGD([]*Parameter{p}, 0.5).WithWeightDecay(0.1)
	// Update = lr * (grad + decay*value) = 0.5 * 0.2 = 0.1.
	sgd.Step()
	assert.InDelta(t, 1.9, p.Value.At(0, 0), 1e-12)
}

func TestSGDGroupLRMutable(t *testing.T) {
	p := newParam(t, []float64{1}, []float64{1})
	sgd := NewSGD([]*Parameter{p}, 0.1)
	require.Len(t, sgd.Groups(), 1)
	assert.Equal(t, 0.1, sgd.Groups()[0].InitialLR)

	sgd.Groups()[0].LR = 0.01
	sgd.Step()
	assert.InDelta(t, 0.99, p.Value.At(0, 0), 1e-12)
	// InitialLR is the fixed reference point for schedules.
	assert.Equal(t, 0.1, sgd.Groups()[0].InitialLR)
}

func TestNewSGDPanics(t *testing.T) {
	assert.Panics(t, func() { NewSGD(nil, 0.1) })
	p := newParam(t, []float64{1}, []float64{0})
	assert.Panics(t, func() { NewSGD([]*Parameter{p}, 0) })
}
