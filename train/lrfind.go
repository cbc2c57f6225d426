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
	"context"
	"io"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/deeptrain/deeptrain/train/optimizers"
)

// lossExplosionFactor ends the sweep once the loss exceeds this multiple of
// the best loss seen so far.
const lossExplosionFactor = 1e4

// LRFinder configures an exploratory learning-rate sweep: a bounded run that
// grows the learning rate per batch from MinLR to MaxLR, recording the loss
// at each rate. The resulting curve is the usual diagnostic for picking a
// learning rate (see ui/plots.LRFindPlot for rendering).
//
// The sweep trains on a throwaway SGD optimizer and restores the model's
// parameters afterward regardless of how it terminates, so it never
// contaminates subsequent experiments.
type LRFinder struct {
	trainer    *Trainer
	minLR      float64
	maxLR      float64
	linear     bool
	numBatches int
}

// LRFindResult is the recorded sweep: parallel learning-rate/loss series.
type LRFindResult struct {
	LRs    []float64
	Losses []float64

	// StoppedEarly is set when the sweep ended on loss explosion rather
	// than on the batch budget.
	StoppedEarly bool
}

// NewLRFinder creates a sweep configuration for the given Trainer with the
// usual defaults: MinLR 1e-7, MaxLR 10, geometric growth, and one batch
// budget per dataset batch.
func NewLRFinder(trainer *Trainer) *LRFinder {
	if trainer == nil {
		exceptions.Panicf("train.NewLRFinder: trainer must not be nil")
	}
	return &LRFinder{
		trainer: trainer,
		minLR:   1e-7,
		maxLR:   10,
	}
}

// MinLR sets the learning rate of the first batch. It returns the LRFinder
// itself, so calls can be cascaded.
func (f *LRFinder) MinLR(lr float64) *LRFinder {
	f.minLR = lr
	return f
}

// MaxLR sets the learning rate reached at the last batch of the sweep.
func (f *LRFinder) MaxLR(lr float64) *LRFinder {
	f.maxLR = lr
	return f
}

// Linear switches the per-batch growth from geometric (the default) to
// linear.
func (f *LRFinder) Linear(linear bool) *LRFinder {
	f.linear = linear
	return f
}

// NumBatches bounds the sweep. Zero (the default) means one full pass over
// the dataset.
func (f *LRFinder) NumBatches(n int) *LRFinder {
	f.numBatches = n
	return f
}

// rateAt returns the learning rate of batch i of n. Both growth modes span
// exactly [minLR, maxLR]: geometric interpolates the exponent, linear the
// value.
func (f *LRFinder) rateAt(i, n int) float64 {
	if n <= 1 {
		return f.minLR
	}
	fraction := float64(i) / float64(n-1)
	if f.linear {
		return f.minLR + (f.maxLR-f.minLR)*fraction
	}
	return f.minLR * math.Pow(f.maxLR/f.minLR, fraction)
}

// Run executes the sweep over ds and returns the recorded series.
//
// It stops at the batch budget, at dataset end, or early once the loss
// exceeds 10,000x the best loss seen. The model state captured before the
// sweep is restored on every exit path, including errors.
func (f *LRFinder) Run(ctx context.Context, ds Dataset) (result *LRFindResult, err error) {
	if f.minLR <= 0 || f.maxLR <= f.minLR {
		exceptions.Panicf("LRFinder.Run: need 0 < MinLR < MaxLR, got MinLR=%g MaxLR=%g", f.minLR, f.maxLR)
	}
	numBatches := f.numBatches
	if numBatches <= 0 {
		numBatches = ds.NumBatches()
	}
	if numBatches <= 0 {
		return nil, errors.Errorf("LRFinder.Run: dataset reports no batches")
	}

	trainer := f.trainer
	snapshot, err := trainer.Model.State()
	if err != nil {
		return nil, errors.WithMessage(err, "LRFinder.Run: snapshotting model state")
	}
	defer func() {
		// Guaranteed restoration, also on error or panic.
		if restoreErr := trainer.Model.SetState(snapshot); restoreErr != nil && err == nil {
			err = errors.WithMessage(restoreErr, "LRFinder.Run: restoring model state")
			result = nil
		}
		if resetErr := ds.Reset(); resetErr != nil && err == nil {
			err = errors.WithMessage(resetErr, "LRFinder.Run: resetting dataset")
			result = nil
		}
	}()

	// Throwaway optimizer: the trainer's own optimizer is never touched.
	sweepOpt := optimizers.NewSGD(trainer.Model.Parameters(), f.minLR)
	trainer.Model.SetTraining(true)

	result = &LRFindResult{}
	best := math.Inf(1)
	for i := 0; i < numBatches; i++ {
		if ctx.Err() != nil {
			break
		}
		inputs, target, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "LRFinder.Run: reading batch %d", i)
		}

		lr := f.rateAt(i, numBatches)
		for _, g := range sweepOpt.Groups() {
			g.LR = lr
		}
		result.LRs = append(result.LRs, lr)

		sweepOpt.ZeroGrad()
		predictions, err := trainer.Model.Forward(inputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "LRFinder.Run: batch %d", i)
		}
		loss, lossGrad, err := trainer.Criterion.Loss(predictions, target)
		if err != nil {
			return nil, errors.WithMessagef(err, "LRFinder.Run: batch %d", i)
		}
		if err = trainer.Model.Backward(lossGrad); err != nil {
			return nil, errors.WithMessagef(err, "LRFinder.Run: batch %d", i)
		}
		sweepOpt.Step()

		result.Losses = append(result.Losses, loss)
		if loss < best {
			best = loss
		} else if loss > best*lossExplosionFactor {
			result.StoppedEarly = true
			break
		}
	}
	return result, nil
}
