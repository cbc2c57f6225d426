// Package schedules implements learning-rate schedules over the optimizer's
// parameter groups.
//
// StepLR and ReduceOnPlateau work at epoch granularity and are attached via
// Trainer.WithSchedule. CosineRestarts works at batch granularity and is
// registered as a callback instead; see its doc.
package schedules

import (
	"math"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/optimizers"
)

// StepLR multiplies every group's learning rate by Gamma once every StepSize
// epochs.
type StepLR struct {
	opt      optimizers.Optimizer
	stepSize int
	gamma    float64
	epoch    int
}

var (
	_ train.Schedule     = (*StepLR)(nil)
	_ train.EpochAligner = (*StepLR)(nil)
)

// NewStepLR creates the schedule. stepSize must be >= 1 and gamma in (0, 1].
func NewStepLR(opt optimizers.Optimizer, stepSize int, gamma float64) *StepLR {
	if stepSize < 1 {
		exceptions.Panicf("schedules.NewStepLR: stepSize must be >= 1, got %d", stepSize)
	}
	if gamma <= 0 || gamma > 1 {
		exceptions.Panicf("schedules.NewStepLR: gamma must be in (0, 1], got %g", gamma)
	}
	return &StepLR{opt: opt, stepSize: stepSize, gamma: gamma}
}

// Step implements train.Schedule.
func (s *StepLR) Step() {
	s.epoch++
	if s.epoch%s.stepSize != 0 {
		return
	}
	for _, g := range s.opt.Groups() {
		g.LR *= s.gamma
	}
}

// AlignEpoch implements train.EpochAligner: restoring a checkpoint realigns
// the epoch counter so the decay cadence continues where it left off.
func (s *StepLR) AlignEpoch(lastEpoch int) {
	s.epoch = lastEpoch
}

// ReduceOnPlateau shrinks the learning rate by Factor after Patience epochs
// without improvement of the monitored loss. The Trainer feeds it the
// validation loss of each epoch that computed one (see
// train.PlateauSchedule).
type ReduceOnPlateau struct {
	opt      optimizers.Optimizer
	factor   float64
	patience int
	minLR    float64

	best      float64
	badEpochs int
	warned    bool
}

var _ train.PlateauSchedule = (*ReduceOnPlateau)(nil)

// NewReduceOnPlateau creates the schedule. factor must be in (0, 1).
func NewReduceOnPlateau(opt optimizers.Optimizer, factor float64, patience int) *ReduceOnPlateau {
	if factor <= 0 || factor >= 1 {
		exceptions.Panicf("schedules.NewReduceOnPlateau: factor must be in (0, 1), got %g", factor)
	}
	if patience < 0 {
		exceptions.Panicf("schedules.NewReduceOnPlateau: patience must be >= 0, got %d", patience)
	}
	return &ReduceOnPlateau{
		opt:      opt,
		factor:   factor,
		patience: patience,
		best:     math.Inf(1),
	}
}

// MinLR sets a floor under the decayed learning rate. It returns the
// schedule itself, so calls can be cascaded.
func (s *ReduceOnPlateau) MinLR(lr float64) *ReduceOnPlateau {
	s.minLR = lr
	return s
}

// Step implements train.Schedule. Without a monitored loss there is nothing
// to react to; the epoch is not counted against patience.
func (s *ReduceOnPlateau) Step() {
	if !s.warned {
		klog.Warning("ReduceOnPlateau stepped without a validation loss; the schedule is idle until one is available")
		s.warned = true
	}
}

// StepLoss implements train.PlateauSchedule.
func (s *ReduceOnPlateau) StepLoss(loss float64) {
	if loss < s.best {
		s.best = loss
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs <= s.patience {
		return
	}
	s.badEpochs = 0
	for _, g := range s.opt.Groups() {
		lr := g.LR * s.factor
		if lr < s.minLR {
			lr = s.minLR
		}
		klog.V(1).Infof("ReduceOnPlateau: learning rate %g -> %g", g.LR, lr)
		g.LR = lr
	}
}
