/*
 *	Copyright 2024 The deeptrain Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package train

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train/optimizers"
)

// Model is the model collaborator: a function from input batch to output
// batch with learnable parameters. The Trainer owns the model exclusively
// during a run; callbacks read it through their Trainer back-reference.
type Model interface {
	// SetTraining toggles between training mode (true) and evaluation
	// mode (false). Layers like dropout or batch-norm behave differently
	// per mode; models without such layers may ignore the toggle.
	SetTraining(training bool)

	// Forward maps an input batch (one example per row) to predictions.
	// When in training mode the model must retain whatever it needs for a
	// subsequent Backward call.
	Forward(inputs *mat.Dense) (*mat.Dense, error)

	// Backward accumulates parameter gradients given the gradient of the
	// loss with respect to the predictions of the last Forward call.
	Backward(lossGrad *mat.Dense) error

	// Parameters enumerates the learnable parameters. The returned slice
	// and the parameters it holds are stable across calls.
	Parameters() []*optimizers.Parameter

	// State returns a deep-copied snapshot of the parameter values.
	State() (ModelState, error)

	// SetState restores parameter values from a snapshot, copying into the
	// existing parameter storage -- pointers held by optimizers stay valid.
	SetState(state ModelState) error
}

// Criterion is the loss-function collaborator: it maps (predictions, target)
// to a scalar loss and the gradient of that loss w.r.t. the predictions.
type Criterion interface {
	Loss(predictions, target *mat.Dense) (loss float64, lossGrad *mat.Dense, err error)

	// SizeAverage reports whether the loss is already averaged over the
	// batch. Averaged losses are accumulated weighted by batch size, so
	// the epoch loss is a proper per-sample mean; unaveraged losses are
	// accumulated as-is.
	SizeAverage() bool
}

// ModelState is a serializable snapshot of a model's parameters, keyed by
// parameter name.
type ModelState map[string]*mat.Dense

// Clone returns a deep copy of the state.
func (s ModelState) Clone() ModelState {
	out := make(ModelState, len(s))
	for name, value := range s {
		out[name] = mat.DenseCopyOf(value)
	}
	return out
}

// Restore copies the snapshot values into the given parameters, matching by
// name. It fails if a parameter has no snapshot entry or shapes disagree.
func (s ModelState) Restore(params []*optimizers.Parameter) error {
	for _, p := range params {
		saved, found := s[p.Name]
		if !found {
			return errors.Errorf("model state has no entry for parameter %q", p.Name)
		}
		pr, pc := p.Value.Dims()
		sr, sc := saved.Dims()
		if pr != sr || pc != sc {
			return errors.Errorf("model state for parameter %q has shape %dx%d, parameter is %dx%d",
				p.Name, sr, sc, pr, pc)
		}
		p.Value.Copy(saved)
	}
	return nil
}

// Dataset is the batch-iterator collaborator: a finite, restartable sequence
// of (input, target) batches.
type Dataset interface {
	// Yield returns the next batch, one example per row of each matrix,
	// or io.EOF once the sequence is exhausted.
	Yield() (inputs, target *mat.Dense, err error)

	// Reset restarts the sequence from the beginning. It is called by the
	// Trainer after every epoch.
	Reset() error

	// NumBatches returns the number of batches one full pass yields.
	NumBatches() int
}

// Schedule is an epoch-granularity learning-rate schedule: the Trainer steps
// it once after each epoch.
type Schedule interface {
	Step()
}

// PlateauSchedule is implemented by schedules that monitor a metric. When
// the just-finished epoch computed a validation loss, the Trainer calls
// StepLoss with it instead of Step.
type PlateauSchedule interface {
	Schedule
	StepLoss(loss float64)
}

// EpochAligner is implemented by schedules that track the current epoch.
// Restoring a checkpoint realigns them to the restored epoch counter.
type EpochAligner interface {
	AlignEpoch(lastEpoch int)
}
