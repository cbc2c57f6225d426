package traintest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLinearModelForward(t *testing.T) {
	m := NewLinearModel(2, 1)
	m.SetWeights(mat.NewDense(2, 1, []float64{2, 3}), mat.NewDense(1, 1, []float64{1}))

	inputs := mat.NewDense(2, 2, []float64{
		1, 1,
		2, 0,
	})
	out, err := m.Forward(inputs)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out.At(0, 0)) // 2+3+1
	assert.Equal(t, 5.0, out.At(1, 0)) // 4+0+1
}

// TestGradientsNumerically compares the analytic gradients against central
// finite differences of the loss.
func TestGradientsNumerically(t *testing.T) {
	m := NewLinearModel(2, 1)
	m.SetWeights(mat.NewDense(2, 1, []float64{0.5, -0.3}), mat.NewDense(1, 1, []float64{0.1}))
	crit := NewMSE(true)

	inputs := mat.NewDense(3, 2, []float64{
		1, 2,
		-1, 0.5,
		2, -2,
	})
	target := mat.NewDense(3, 1, []float64{1, 0, -1})

	lossAt := func() float64 {
		out, err := m.Forward(inputs)
		require.NoError(t, err)
		loss, _, err := crit.Loss(out, target)
		require.NoError(t, err)
		return loss
	}

	// Analytic gradients.
	m.SetTraining(true)
	out, err := m.Forward(inputs)
	require.NoError(t, err)
	_, lossGrad, err := crit.Loss(out, target)
	require.NoError(t, err)
	require.NoError(t, m.Backward(lossGrad))

	const eps = 1e-6
	for _, p := range m.Parameters() {
		rows, cols := p.Value.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				orig := p.Value.At(i, j)
				p.Value.Set(i, j, orig+eps)
				plus := lossAt()
				p.Value.Set(i, j, orig-eps)
				minus := lossAt()
				p.Value.Set(i, j, orig)

				numeric := (plus - minus) / (2 * eps)
				assert.InDelta(t, numeric, p.Grad.At(i, j), 1e-5,
					"parameter %q at (%d,%d)", p.Name, i, j)
			}
		}
	}
}

func TestBackwardRequiresTrainingForward(t *testing.T) {
	m := NewLinearModel(1, 1)
	err := m.Backward(mat.NewDense(1, 1, []float64{1}))
	require.Error(t, err)
}

func TestStateRoundTrip(t *testing.T) {
	m := NewLinearModel(2, 2)
	m.SetWeights(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), mat.NewDense(1, 2, []float64{5, 6}))

	state, err := m.State()
	require.NoError(t, err)

	m.SetWeights(mat.NewDense(2, 2, nil), mat.NewDense(1, 2, nil))
	require.NoError(t, m.SetState(state))
	assert.Equal(t, 4.0, m.Parameters()[0].Value.At(1, 1))
	assert.Equal(t, 6.0, m.Parameters()[1].Value.At(0, 1))
}

func TestMSE(t *testing.T) {
	crit := NewMSE(true)
	pred := mat.NewDense(2, 1, []float64{1, 3})
	target := mat.NewDense(2, 1, []float64{0, 1})
	loss, grad, err := crit.Loss(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, loss, 1e-12) // (1+4)/2
	assert.InDelta(t, 1.0, grad.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0, grad.At(1, 0), 1e-12)

	sum := NewMSE(false)
	loss, grad, err = sum.Loss(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, loss, 1e-12)
	assert.InDelta(t, 2.0, grad.At(0, 0), 1e-12)

	_, _, err = sum.Loss(pred, mat.NewDense(1, 1, nil))
	require.Error(t, err)
}
