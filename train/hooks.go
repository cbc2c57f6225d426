package train

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// This file dispatches the lifecycle hooks to the registered callbacks:
// strict registration order, first error aborts, errors are wrapped with
// the hook and callback names.

func wrapHookErr(err error, hook string, cb Callback) error {
	return errors.WithMessagef(err, "%s(callback %s)", hook, callbackName(cb))
}

func callbackName(cb Callback) string {
	return fmt.Sprintf("%T", cb)
}

func (t *Trainer) onTrainBegin(numEpochs int) error {
	for _, cb := range t.callbacks {
		if err := cb.OnTrainBegin(numEpochs, t.History); err != nil {
			return wrapHookErr(err, "OnTrainBegin", cb)
		}
	}
	return nil
}

func (t *Trainer) onTrainEnd(numEpochs int) error {
	for _, cb := range t.callbacks {
		if err := cb.OnTrainEnd(numEpochs, t.History); err != nil {
			return wrapHookErr(err, "OnTrainEnd", cb)
		}
	}
	return nil
}

func (t *Trainer) onEpochBegin(epoch int) error {
	for _, cb := range t.callbacks {
		if err := cb.OnEpochBegin(epoch, t.History); err != nil {
			return wrapHookErr(err, "OnEpochBegin", cb)
		}
	}
	return nil
}

func (t *Trainer) onEpochEnd(epoch int) error {
	for _, cb := range t.callbacks {
		if err := cb.OnEpochEnd(epoch, t.History); err != nil {
			return wrapHookErr(err, "OnEpochEnd", cb)
		}
	}
	return nil
}

func (t *Trainer) onBatchBegin(epoch, batch, batchSize int) error {
	for _, cb := range t.callbacks {
		if err := cb.OnBatchBegin(epoch, batch, batchSize); err != nil {
			return wrapHookErr(err, "OnBatchBegin", cb)
		}
	}
	return nil
}

func (t *Trainer) onBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	for _, cb := range t.callbacks {
		if err := cb.OnBatchEnd(epoch, batch, inputs, target, predictions, loss); err != nil {
			return wrapHookErr(err, "OnBatchEnd", cb)
		}
	}
	return nil
}

func (t *Trainer) onValidBatchBegin(epoch, batch, batchSize int) error {
	for _, cb := range t.callbacks {
		if err := cb.OnValidBatchBegin(epoch, batch, batchSize); err != nil {
			return wrapHookErr(err, "OnValidBatchBegin", cb)
		}
	}
	return nil
}

func (t *Trainer) onValidBatchEnd(epoch, batch int, inputs, target, predictions *mat.Dense, loss float64) error {
	for _, cb := range t.callbacks {
		if err := cb.OnValidBatchEnd(epoch, batch, inputs, target, predictions, loss); err != nil {
			return wrapHookErr(err, "OnValidBatchEnd", cb)
		}
	}
	return nil
}
