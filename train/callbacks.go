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
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train/history"
)

// Callback is the observer protocol of the training loop. The Trainer
// invokes every registered callback at each lifecycle transition, in strict
// registration order, for every hook.
//
// Hooks return an error only for genuine failures: a non-nil error aborts
// the run and propagates to the Fit caller, wrapped with the callback's
// type name.
//
// Concrete callbacks embed CallbackBase and override only the hooks they
// need.
type Callback interface {
	// AttachTrainer is called once, at registration, and binds the
	// non-owning back-reference through which the callback reads Trainer
	// state.
	AttachTrainer(trainer *Trainer)

	// OnTrainBegin fires once per Fit call, before the first epoch.
	OnTrainBegin(numEpochs int, hist *history.History) error

	// OnTrainEnd fires once per Fit call, after the last epoch -- also
	// when the run was interrupted, with whatever was accumulated so far.
	OnTrainEnd(numEpochs int, hist *history.History) error

	// OnEpochBegin fires before the first training batch of each epoch.
	OnEpochBegin(epoch int, hist *history.History) error

	// OnEpochEnd fires after the epoch's training and validation losses
	// have been appended to the history.
	OnEpochEnd(epoch int, hist *history.History) error

	// OnBatchBegin fires before the optimize step of each training batch.
	OnBatchBegin(epoch, batch, batchSize int) error

	// OnBatchEnd fires after the optimize step of each training batch.
	OnBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error

	// OnValidBatchBegin and OnValidBatchEnd are the validation-phase
	// equivalents of the batch hooks.
	OnValidBatchBegin(epoch, batch, batchSize int) error
	OnValidBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error
}

// CallbackBase stores the Trainer back-reference and provides no-op defaults
// for every hook. Embed it in concrete callbacks.
type CallbackBase struct {
	trainer *Trainer
}

// AttachTrainer implements Callback.
func (cb *CallbackBase) AttachTrainer(trainer *Trainer) {
	cb.trainer = trainer
}

// Trainer returns the back-reference bound at registration, or nil if the
// callback was never registered.
func (cb *CallbackBase) Trainer() *Trainer {
	return cb.trainer
}

func (cb *CallbackBase) OnTrainBegin(numEpochs int, hist *history.History) error { return nil }
func (cb *CallbackBase) OnTrainEnd(numEpochs int, hist *history.History) error   { return nil }
func (cb *CallbackBase) OnEpochBegin(epoch int, hist *history.History) error     { return nil }
func (cb *CallbackBase) OnEpochEnd(epoch int, hist *history.History) error       { return nil }
func (cb *CallbackBase) OnBatchBegin(epoch, batch, batchSize int) error          { return nil }
func (cb *CallbackBase) OnBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	return nil
}
func (cb *CallbackBase) OnValidBatchBegin(epoch, batch, batchSize int) error { return nil }
func (cb *CallbackBase) OnValidBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	return nil
}
