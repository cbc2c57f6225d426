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

// Package train implements a training-loop harness for supervised models:
// the Trainer runs the epoch/batch state machine, delegates the tensor math
// to its model/criterion/optimizer collaborators, and reports every
// lifecycle transition to registered callbacks.
//
// In itself the Trainer doesn't do much beyond iterating and bookkeeping
// losses, but arbitrary functionality can be attached to it through the
// Callback protocol: checkpointing, console reporting, plotting,
// per-batch learning-rate schedules, early-stopping strategies, etc.
package train

import (
	"context"
	"io"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/deeptrain/deeptrain/train/history"
	"github.com/deeptrain/deeptrain/train/optimizers"
)

// Trainer owns the model, criterion, optimizer and optional schedule, and
// runs the training loop over them.
//
// The exported fields are meant for reading by callbacks through their
// back-reference. The one sanctioned exception is LastEpoch, which the
// checkpoint callback realigns when it restores a previous run.
type Trainer struct {
	Model     Model
	Criterion Criterion
	Optimizer optimizers.Optimizer

	// Schedule, if set, is stepped once after every epoch. A schedule that
	// works per batch (like schedules.CosineRestarts) should instead be
	// registered as a callback; its epoch Step is a no-op.
	Schedule Schedule

	// History is the training history, created empty at construction and
	// kept for the lifetime of the Trainer.
	History *history.History

	// LastEpoch is the last completed epoch, advancing monotonically
	// across Fit calls so training is resumable.
	LastEpoch int

	// NumBatches is the number of training batches per epoch of the
	// current (or last) Fit call.
	NumBatches int

	// TrainLoss and ValidLoss are the losses of the last completed epoch.
	// ValidLoss is nil when the epoch ran without validation data.
	TrainLoss *float64
	ValidLoss *float64

	hasValidation bool
	callbacks     []Callback
}

// NewTrainer creates a Trainer for the given collaborators. The model,
// criterion and optimizer are required.
func NewTrainer(model Model, criterion Criterion, optimizer optimizers.Optimizer) *Trainer {
	if model == nil {
		exceptions.Panicf("train.NewTrainer: model must not be nil")
	}
	if criterion == nil {
		exceptions.Panicf("train.NewTrainer: criterion must not be nil")
	}
	if optimizer == nil {
		exceptions.Panicf("train.NewTrainer: optimizer must not be nil")
	}
	return &Trainer{
		Model:     model,
		Criterion: criterion,
		Optimizer: optimizer,
		History:   history.New(),
	}
}

// WithSchedule attaches an epoch-granularity learning-rate schedule. It
// returns the Trainer itself, so calls can be cascaded.
func (t *Trainer) WithSchedule(schedule Schedule) *Trainer {
	t.Schedule = schedule
	return t
}

// WithCallbacks registers callbacks, binding their Trainer back-reference.
// Registration order is invocation order at every hook. It returns the
// Trainer itself, so calls can be cascaded.
func (t *Trainer) WithCallbacks(callbacks ...Callback) *Trainer {
	for _, cb := range callbacks {
		cb.AttachTrainer(t)
		t.callbacks = append(t.callbacks, cb)
	}
	return t
}

// Callbacks returns the registered callbacks in registration order.
func (t *Trainer) Callbacks() []Callback {
	return t.callbacks
}

// HasValidation reports whether the current (or last) Fit call was given
// validation data.
func (t *Trainer) HasValidation() bool {
	return t.hasValidation
}

// Fit trains for numEpochs epochs over ds, optionally validating each epoch
// over validDS (nil for none).
//
// Epoch indices continue from LastEpoch+1, so Fit can be called repeatedly
// on the same Trainer and the history grows without resets or gaps.
//
// Cancelling ctx ends training gracefully at the end of the in-flight
// batch: OnTrainEnd still fires with whatever was accumulated, and Fit
// returns nil. Every other failure -- from the model, criterion, optimizer
// or a callback -- aborts the run and propagates.
func (t *Trainer) Fit(ctx context.Context, numEpochs int, ds Dataset, validDS Dataset) error {
	if numEpochs <= 0 {
		return errors.Errorf("Trainer.Fit: numEpochs must be >= 1, got %d", numEpochs)
	}
	if ds == nil {
		return errors.Errorf("Trainer.Fit: training dataset must not be nil")
	}
	t.hasValidation = validDS != nil
	t.NumBatches = ds.NumBatches()

	// The loss series exist from the first Fit on, even before any epoch
	// completes.
	t.History.Train.Register(history.Losses)
	t.History.Valid.Register(history.Losses)

	if err := t.onTrainBegin(numEpochs); err != nil {
		return err
	}

	// OnTrainBegin may have restored a checkpoint and realigned LastEpoch,
	// so the epoch range is decided only now.
	firstEpoch := t.LastEpoch + 1
	lastEpoch := t.LastEpoch + numEpochs

	interrupted := false
	for epoch := firstEpoch; epoch <= lastEpoch && !interrupted; epoch++ {
		var err error
		interrupted, err = t.fitEpoch(ctx, epoch, ds, validDS)
		if err != nil {
			return err
		}
	}
	return t.onTrainEnd(numEpochs)
}

// fitEpoch runs one full epoch: the training batch loop, the optional
// validation batch loop, epoch loss bookkeeping, OnEpochEnd and schedule
// stepping. It reports interrupted=true when ctx was cancelled mid-epoch,
// in which case no epoch losses are appended (the epoch did not complete).
func (t *Trainer) fitEpoch(ctx context.Context, epoch int, ds, validDS Dataset) (interrupted bool, err error) {
	t.Model.SetTraining(true)
	if err = t.onEpochBegin(epoch); err != nil {
		return false, err
	}

	samples := 0
	accumulated := 0.0
	for batch := 0; ; batch++ {
		if ctx.Err() != nil {
			return true, nil
		}
		inputs, target, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, errors.WithMessagef(err, "Trainer.Fit: reading training batch %d of epoch %d", batch, epoch)
		}
		batchSize, _ := inputs.Dims()
		samples += batchSize

		if err = t.onBatchBegin(epoch, batch, batchSize); err != nil {
			return false, err
		}
		predictions, loss, err := t.optimize(inputs, target)
		if err != nil {
			return false, errors.WithMessagef(err, "Trainer.Fit: optimize step failed (epoch %d, batch %d)", epoch, batch)
		}
		if t.Criterion.SizeAverage() {
			accumulated += loss * float64(batchSize)
		} else {
			accumulated += loss
		}
		if err = t.onBatchEnd(epoch, batch, inputs, target, predictions, loss); err != nil {
			return false, err
		}
	}
	if err = ds.Reset(); err != nil {
		return false, errors.WithMessagef(err, "Trainer.Fit: resetting training dataset after epoch %d", epoch)
	}
	if samples == 0 {
		return false, errors.Errorf("Trainer.Fit: training dataset yielded no samples in epoch %d", epoch)
	}
	trainLoss := accumulated / float64(samples)

	var validLoss *float64
	if validDS != nil {
		interrupted, validLoss, err = t.validationPass(ctx, epoch, validDS)
		if err != nil {
			return false, err
		}
		if interrupted {
			return true, nil
		}
	}
	t.TrainLoss = &trainLoss
	t.ValidLoss = validLoss

	// Both loss series grow together, and only for completed epochs, so their
	// indices stay aligned even across interrupted and resumed Fit calls.
	t.History.Train.AppendValue(history.Losses, trainLoss)
	t.History.Valid.Append(history.Losses, validLoss)

	if err = t.onEpochEnd(epoch); err != nil {
		return false, err
	}
	t.LastEpoch = epoch

	t.stepSchedule()
	return false, nil
}

// validationPass runs the validation batch loop of one epoch: evaluation
// mode, no gradients, and the validation-phase hooks. It returns the mean
// validation loss; appending it to the history is left to fitEpoch, so an
// interrupt here leaves no half-recorded epoch behind.
func (t *Trainer) validationPass(ctx context.Context, epoch int, validDS Dataset) (interrupted bool, validLoss *float64, err error) {
	t.Model.SetTraining(false)
	samples := 0
	accumulated := 0.0
	for batch := 0; ; batch++ {
		if ctx.Err() != nil {
			return true, nil, nil
		}
		inputs, target, err := validDS.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, nil, errors.WithMessagef(err, "Trainer.Fit: reading validation batch %d of epoch %d", batch, epoch)
		}
		batchSize, _ := inputs.Dims()
		samples += batchSize

		if err = t.onValidBatchBegin(epoch, batch, batchSize); err != nil {
			return false, nil, err
		}
		predictions, loss, err := t.evaluateBatch(inputs, target)
		if err != nil {
			return false, nil, errors.WithMessagef(err, "Trainer.Fit: evaluation failed (epoch %d, batch %d)", epoch, batch)
		}
		if t.Criterion.SizeAverage() {
			accumulated += loss * float64(batchSize)
		} else {
			accumulated += loss
		}
		if err = t.onValidBatchEnd(epoch, batch, inputs, target, predictions, loss); err != nil {
			return false, nil, err
		}
	}
	if err = validDS.Reset(); err != nil {
		return false, nil, errors.WithMessagef(err, "Trainer.Fit: resetting validation dataset after epoch %d", epoch)
	}
	if samples == 0 {
		return false, nil, errors.Errorf("Trainer.Fit: validation dataset yielded no samples in epoch %d", epoch)
	}
	mean := accumulated / float64(samples)
	return false, &mean, nil
}

// optimize is the atomic "do-optimize" operation of one training batch:
// zero gradients, forward, loss, backward, optimizer step.
func (t *Trainer) optimize(inputs, target *mat.Dense) (predictions *mat.Dense, loss float64, err error) {
	t.Optimizer.ZeroGrad()
	predictions, err = t.Model.Forward(inputs)
	if err != nil {
		return nil, 0, err
	}
	loss, lossGrad, err := t.Criterion.Loss(predictions, target)
	if err != nil {
		return nil, 0, err
	}
	if err = t.Model.Backward(lossGrad); err != nil {
		return nil, 0, err
	}
	t.Optimizer.Step()
	return predictions, loss, nil
}

// evaluateBatch is the gradient-free counterpart of optimize.
func (t *Trainer) evaluateBatch(inputs, target *mat.Dense) (predictions *mat.Dense, loss float64, err error) {
	predictions, err = t.Model.Forward(inputs)
	if err != nil {
		return nil, 0, err
	}
	loss, _, err = t.Criterion.Loss(predictions, target)
	if err != nil {
		return nil, 0, err
	}
	return predictions, loss, nil
}

// stepSchedule steps the attached schedule once per epoch. Plateau-style
// schedules receive the epoch's validation loss when one was computed;
// every other schedule is stepped unconditionally.
func (t *Trainer) stepSchedule() {
	if t.Schedule == nil {
		return
	}
	if plateau, ok := t.Schedule.(PlateauSchedule); ok && t.ValidLoss != nil {
		plateau.StepLoss(*t.ValidLoss)
		return
	}
	t.Schedule.Step()
}

// Evaluate runs a single gradient-free pass over ds and returns the
// resulting valid-phase history: the mean loss plus whatever the given
// metric callbacks append. The Trainer's own history and callbacks are not
// touched.
func (t *Trainer) Evaluate(ctx context.Context, ds Dataset, metrics ...Callback) (*history.Phase, error) {
	hist := history.New()
	hist.Train.Register(history.Losses)
	hist.Valid.Register(history.Losses)
	for _, cb := range metrics {
		cb.AttachTrainer(t)
		if err := cb.OnTrainBegin(1, hist); err != nil {
			return nil, wrapHookErr(err, "OnTrainBegin", cb)
		}
		if err := cb.OnEpochBegin(1, hist); err != nil {
			return nil, wrapHookErr(err, "OnEpochBegin", cb)
		}
	}

	t.Model.SetTraining(false)
	samples := 0
	accumulated := 0.0
	for batch := 0; ; batch++ {
		if ctx.Err() != nil {
			break
		}
		inputs, target, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Evaluate: reading batch %d", batch)
		}
		batchSize, _ := inputs.Dims()
		samples += batchSize

		predictions, loss, err := t.evaluateBatch(inputs, target)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Evaluate: batch %d", batch)
		}
		if t.Criterion.SizeAverage() {
			accumulated += loss * float64(batchSize)
		} else {
			accumulated += loss
		}
		for _, cb := range metrics {
			if err := cb.OnValidBatchEnd(1, batch, inputs, target, predictions, loss); err != nil {
				return nil, wrapHookErr(err, "OnValidBatchEnd", cb)
			}
		}
	}
	if err := ds.Reset(); err != nil {
		return nil, errors.WithMessage(err, "Trainer.Evaluate: resetting dataset")
	}
	if samples > 0 {
		hist.Valid.AppendValue(history.Losses, accumulated/float64(samples))
	}
	for _, cb := range metrics {
		if err := cb.OnEpochEnd(1, hist); err != nil {
			return nil, wrapHookErr(err, "OnEpochEnd", cb)
		}
	}
	return hist.Valid, nil
}
