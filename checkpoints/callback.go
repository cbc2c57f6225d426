package checkpoints

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
)

// DirPermMode is the directory creation permission (before umask) used when
// the checkpoint directory has to be created.
var DirPermMode = os.FileMode(0770)

// Config builds a Checkpoint callback. Created with Build, configured with
// the chained methods, finished with Done.
type Config struct {
	basename string
	reset    bool
	loadBest bool
	err      error
}

// Build starts the configuration of a Checkpoint callback persisting under
// the given basename ("<dir>/<run-name>", extensions are appended). The
// directory is created if needed.
func Build(basename string) *Config {
	c := &Config{basename: basename}
	if basename == "" {
		c.err = errors.Errorf("checkpoints.Build: basename must not be empty")
		return c
	}
	if dir := filepath.Dir(basename); dir != "." {
		if err := os.MkdirAll(dir, DirPermMode); err != nil {
			c.err = errors.Wrapf(err, "checkpoints.Build: creating directory %q", dir)
		}
	}
	return c
}

// Reset makes the callback ignore any previously saved checkpoint and start
// fresh. It returns the Config itself, so calls can be cascaded.
func (c *Config) Reset() *Config {
	c.reset = true
	return c
}

// LoadBest makes the callback restore the best snapshot into the live model
// when training ends.
func (c *Config) LoadBest() *Config {
	c.loadBest = true
	return c
}

// Done finishes the configuration and returns the callback.
func (c *Config) Done() (*Checkpoint, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &Checkpoint{
		basename: c.basename,
		reset:    c.reset,
		loadBest: c.loadBest,
		bestLoss: math.Inf(1),
	}, nil
}

// Checkpoint is the checkpoint-on-improvement callback: it persists the
// model and history whenever the monitored loss strictly improves on the
// best seen so far, and can resume a previous run at OnTrainBegin.
//
// The monitored loss of an epoch is its validation loss; when no validation
// loss was computed (nil entry) it falls back to the training loss. A
// validation loss of exactly zero is a real, very good loss and does NOT
// fall back.
type Checkpoint struct {
	train.CallbackBase

	basename string
	reset    bool
	loadBest bool

	bestState train.ModelState
	bestLoss  float64
	bestEpoch int
	numSaves  int
}

var _ train.Callback = (*Checkpoint)(nil)

// Basename the callback persists under.
func (c *Checkpoint) Basename() string { return c.basename }

// BestLoss returns the best monitored loss so far (+Inf before any epoch).
func (c *Checkpoint) BestLoss() float64 { return c.bestLoss }

// BestEpoch returns the epoch of the best snapshot.
func (c *Checkpoint) BestEpoch() int { return c.bestEpoch }

// NumSaves returns how many times a checkpoint was persisted this run.
func (c *Checkpoint) NumSaves() int { return c.numSaves }

// OnTrainBegin restores a previous checkpoint, unless Reset was requested,
// and realigns the Trainer's epoch counter with the restored history. A
// load failure is treated like the absence of a checkpoint: logged and
// skipped, never fatal.
func (c *Checkpoint) OnTrainBegin(numEpochs int, hist *history.History) error {
	trainer := c.Trainer()
	if !c.reset && Exists(c.basename) {
		if err := Load(c.basename, trainer.Model, trainer.History); err != nil {
			klog.Warningf("checkpoints: could not restore %q, starting fresh: %v", c.basename, err)
		} else {
			klog.V(1).Infof("checkpoints: restored %q", c.basename)
		}
	}

	trainer.LastEpoch = trainer.History.Train.Len(history.Losses)
	if aligner, ok := trainer.Schedule.(train.EpochAligner); ok {
		aligner.AlignEpoch(trainer.LastEpoch)
	}

	state, err := trainer.Model.State()
	if err != nil {
		return errors.WithMessage(err, "snapshotting model")
	}
	c.bestState = state
	c.bestEpoch = trainer.LastEpoch
	c.bestLoss = math.Inf(1)
	if trainer.LastEpoch > 0 {
		if monitored := monitoredLoss(trainer.History); monitored != nil {
			c.bestLoss = *monitored
		}
	}
	return nil
}

// OnEpochEnd updates the best snapshot and persists it when the epoch's
// monitored loss strictly improves on the best so far.
func (c *Checkpoint) OnEpochEnd(epoch int, hist *history.History) error {
	monitored := monitoredLoss(hist)
	if monitored == nil || *monitored >= c.bestLoss {
		return nil
	}
	trainer := c.Trainer()
	state, err := trainer.Model.State()
	if err != nil {
		return errors.WithMessage(err, "snapshotting model")
	}
	c.bestState = state
	c.bestLoss = *monitored
	c.bestEpoch = epoch
	c.numSaves++
	return Save(c.basename, c.bestState, hist)
}

// OnTrainEnd optionally restores the best snapshot into the live model.
func (c *Checkpoint) OnTrainEnd(numEpochs int, hist *history.History) error {
	klog.V(1).Infof("checkpoints: best model at epoch %d with loss %.5f: %s",
		c.bestEpoch, c.bestLoss, c.basename)
	if !c.loadBest || c.bestState == nil {
		return nil
	}
	return errors.WithMessage(c.Trainer().Model.SetState(c.bestState), "restoring best model")
}

// monitoredLoss resolves the loss the checkpointer tracks: the latest
// validation loss, or the latest training loss when validation did not run
// (nil entry, not zero).
func monitoredLoss(hist *history.History) *float64 {
	if v := hist.Valid.Latest(history.Losses); v != nil {
		return v
	}
	return hist.Train.Latest(history.Losses)
}
