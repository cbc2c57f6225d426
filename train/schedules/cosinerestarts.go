package schedules

import (
	"math"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/deeptrain/deeptrain/train"
	"github.com/deeptrain/deeptrain/train/history"
	"github.com/deeptrain/deeptrain/train/optimizers"
)

// CosineRestarts implements stochastic gradient descent with warm restarts
// (SGDR, https://arxiv.org/abs/1608.03983): cosine annealing of the learning
// rate from each group's initial rate down to EtaMin over a period of To
// epochs, then a restart, with each period Tmul times longer than the last.
//
// Unlike the epoch schedules in this package, the rate is recomputed on
// every single batch, so CosineRestarts is both a schedule and a callback:
// register it with Trainer.WithCallbacks and it rewrites the learning rates
// at OnBatchBegin, before the optimize step. Its epoch-level Step is a
// no-op.
type CosineRestarts struct {
	train.CallbackBase

	opt    optimizers.Optimizer
	etaMin float64
	to     int
	tmul   int

	// ti is the current period length in epochs, tcur the epochs elapsed
	// in the current period.
	ti       int
	tcur     int
	restarts int

	// lastEpoch is the last epoch observed, -1 before the first batch of
	// a cycle.
	lastEpoch int

	// nBatches overrides the batches-per-epoch read from the Trainer.
	nBatches int

	trace []float64
}

var (
	_ train.Schedule     = (*CosineRestarts)(nil)
	_ train.Callback     = (*CosineRestarts)(nil)
	_ train.EpochAligner = (*CosineRestarts)(nil)
)

// NewCosineRestarts creates the schedule with a base period of to epochs,
// annealing down to etaMin. etaMin must be >= 0 and to >= 1.
func NewCosineRestarts(opt optimizers.Optimizer, etaMin float64, to int) *CosineRestarts {
	if etaMin < 0 {
		exceptions.Panicf("schedules.NewCosineRestarts: etaMin must be >= 0, got %g", etaMin)
	}
	if to < 1 {
		exceptions.Panicf("schedules.NewCosineRestarts: To must be >= 1, got %d", to)
	}
	return &CosineRestarts{
		opt:       opt,
		etaMin:    etaMin,
		to:        to,
		tmul:      1,
		ti:        to,
		lastEpoch: -1,
	}
}

// WithTmul sets the period multiplier: each restart grows the period to
// To*Tmul^restarts epochs. It returns the schedule itself, so calls can be
// cascaded.
func (s *CosineRestarts) WithTmul(tmul int) *CosineRestarts {
	if tmul < 1 {
		exceptions.Panicf("CosineRestarts.WithTmul: Tmul must be >= 1, got %d", tmul)
	}
	s.tmul = tmul
	return s
}

// WithBatchesPerEpoch fixes the batches-per-epoch used to interpolate the
// cosine phase within an epoch. By default it is read from the attached
// Trainer at each batch.
func (s *CosineRestarts) WithBatchesPerEpoch(n int) *CosineRestarts {
	if n < 1 {
		exceptions.Panicf("CosineRestarts.WithBatchesPerEpoch: n must be >= 1, got %d", n)
	}
	s.nBatches = n
	return s
}

// Restarts returns how many warm restarts have happened.
func (s *CosineRestarts) Restarts() int { return s.restarts }

// Period returns the current period length Ti, in epochs.
func (s *CosineRestarts) Period() int { return s.ti }

// Trace returns the learning rate applied at each batch so far, in batch
// order. Useful for plotting the realized schedule.
func (s *CosineRestarts) Trace() []float64 { return s.trace }

// Step implements train.Schedule as a no-op: this schedule steps per batch,
// not per epoch.
func (s *CosineRestarts) Step() {}

// AlignEpoch implements train.EpochAligner. The cosine phase is not part of
// the persisted state, so a restored run starts a fresh period at the
// restored epoch.
func (s *CosineRestarts) AlignEpoch(lastEpoch int) {
	s.lastEpoch = -1
	s.tcur = 0
}

// OnTrainBegin starts a cycle: the first batch observed next does not
// advance the period.
func (s *CosineRestarts) OnTrainBegin(numEpochs int, hist *history.History) error {
	s.lastEpoch = -1
	return nil
}

// OnBatchBegin advances the schedule and rewrites every parameter group's
// learning rate, before the batch is optimized.
func (s *CosineRestarts) OnBatchBegin(epoch, batch, batchSize int) error {
	s.StepBatch(epoch, batch)
	s.trace = append(s.trace, s.opt.Groups()[0].LR)
	return nil
}

// StepBatch recomputes the learning rates for the given epoch/batch
// position. It is exported for driving the schedule without a Trainer.
func (s *CosineRestarts) StepBatch(epoch, batch int) {
	s.advance(epoch)
	nb := s.batchesPerEpoch()
	for _, g := range s.opt.Groups() {
		g.LR = s.rate(g.InitialLR, batch, nb)
	}
}

// advance updates the epochs-in-period counter and triggers restarts.
func (s *CosineRestarts) advance(epoch int) {
	if s.lastEpoch == -1 {
		s.lastEpoch = epoch
	} else if epoch > s.lastEpoch {
		s.lastEpoch = epoch
		s.tcur++
	}
	if s.tcur == s.ti {
		s.tcur = 0
		s.restarts++
		s.ti = s.to * intPow(s.tmul, s.restarts)
		klog.V(1).Infof("CosineRestarts: restart #%d, new period Ti=%d epochs", s.restarts, s.ti)
	}
}

// rate maps the current position in the period through the cosine curve:
// the first batch after a restart gets initialLR, the last batch before the
// next restart gets etaMin.
func (s *CosineRestarts) rate(initialLR float64, batch, nb int) float64 {
	ti := float64(s.ti)
	step := ti / math.Max(1, ti*float64(nb)-1)
	x := step * float64(s.tcur*nb+batch)
	return s.etaMin + (initialLR-s.etaMin)*(1+math.Cos(x*math.Pi/ti))/2
}

func (s *CosineRestarts) batchesPerEpoch() int {
	if s.nBatches > 0 {
		return s.nBatches
	}
	if t := s.Trainer(); t != nil && t.NumBatches > 0 {
		return t.NumBatches
	}
	return 1
}

// Preview simulates the schedule over the given number of epochs and
// batches per epoch, without touching the optimizer, and returns the
// would-be learning rate of every batch. Handy for plotting a schedule
// before committing to it.
func (s *CosineRestarts) Preview(epochs, batchesPerEpoch int) []float64 {
	sim := &CosineRestarts{
		opt:       s.opt,
		etaMin:    s.etaMin,
		to:        s.to,
		tmul:      s.tmul,
		ti:        s.to,
		lastEpoch: -1,
		nBatches:  batchesPerEpoch,
	}
	initialLR := s.opt.Groups()[0].InitialLR
	out := make([]float64, 0, epochs*batchesPerEpoch)
	for epoch := 1; epoch <= epochs; epoch++ {
		for batch := 0; batch < batchesPerEpoch; batch++ {
			sim.advance(epoch)
			out = append(out, sim.rate(initialLR, batch, batchesPerEpoch))
		}
	}
	return out
}

func intPow(base, exp int) int {
	result := 1
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
