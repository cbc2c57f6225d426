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

// Package optimizers defines the optimizer collaborator used by the training
// loop -- learnable parameters, parameter groups with mutable learning rates,
// and a plain stochastic gradient descent implementation.
//
// The Trainer only sees the Optimizer interface; learning-rate schedules
// mutate the learning rate of each ParamGroup in place, which is the one
// sanctioned way for outside code to change an optimizer mid-training.
package optimizers

import (
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Parameter is one learnable tensor of a model: its current value and the
// gradient accumulated by the last backward pass. Both matrices are owned by
// the model; optimizers and schedules mutate them in place.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter creates a parameter with a zeroed gradient of the same shape
// as the given value.
func NewParameter(name string, value *mat.Dense) *Parameter {
	if value == nil {
		exceptions.Panicf("optimizers.NewParameter(%q): value must not be nil", name)
	}
	rows, cols := value.Dims()
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad resets the accumulated gradient to zero.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// ParamGroup is a set of parameters sharing one learning rate. LR is mutable
// and may be rewritten by schedules at any point; InitialLR is fixed at
// construction and serves as the reference point for cyclical schedules.
type ParamGroup struct {
	Params    []*Parameter
	LR        float64
	InitialLR float64
}

// Optimizer is the interface the Trainer drives: zero the gradients, do one
// update step, and expose the parameter groups for learning-rate bookkeeping.
type Optimizer interface {
	// ZeroGrad zeroes the gradients of every parameter in every group.
	ZeroGrad()

	// Step applies one optimization step using the gradients currently
	// accumulated in the parameters.
	Step()

	// Groups returns the parameter groups. Callers may mutate each group's
	// LR but nothing else.
	Groups() []*ParamGroup
}

// SGD implements plain stochastic gradient descent with optional momentum
// and weight decay, over a single parameter group.
type SGD struct {
	groups   []*ParamGroup
	momentum float64
	decay    float64

	// Momentum buffers, lazily allocated on the first Step.
	velocity map[*Parameter]*mat.Dense
}

// Assert SGD is a valid Optimizer.
var _ Optimizer = (*SGD)(nil)

// NewSGD creates an SGD optimizer over the given parameters with the given
// learning rate, which also becomes the group's InitialLR.
func NewSGD(params []*Parameter, lr float64) *SGD {
	if len(params) == 0 {
		exceptions.Panicf("optimizers.NewSGD: no parameters to optimize")
	}
	if lr <= 0 {
		exceptions.Panicf("optimizers.NewSGD: learning rate must be > 0, got %g", lr)
	}
	return &SGD{
		groups: []*ParamGroup{{
			Params:    params,
			LR:        lr,
			InitialLR: lr,
		}},
		velocity: make(map[*Parameter]*mat.Dense),
	}
}

// WithMomentum configures classical momentum. It returns the SGD itself, so
// calls can be cascaded.
func (s *SGD) WithMomentum(momentum float64) *SGD {
	if momentum < 0 || momentum >= 1 {
		exceptions.Panicf("SGD.WithMomentum: momentum must be in [0, 1), got %g", momentum)
	}
	s.momentum = momentum
	return s
}

// WithWeightDecay configures L2 weight decay, added to the gradient before
// the update. It returns the SGD itself, so calls can be cascaded.
func (s *SGD) WithWeightDecay(decay float64) *SGD {
	if decay < 0 {
		exceptions.Panicf("SGD.WithWeightDecay: decay must be >= 0, got %g", decay)
	}
	s.decay = decay
	return s
}

// ZeroGrad implements Optimizer.
func (s *SGD) ZeroGrad() {
	for _, g := range s.groups {
		for _, p := range g.Params {
			p.ZeroGrad()
		}
	}
}

// Step implements Optimizer.
func (s *SGD) Step() {
	for _, g := range s.groups {
		for _, p := range g.Params {
			s.stepParam(g, p)
		}
	}
}

func (s *SGD) stepParam(g *ParamGroup, p *Parameter) {
	rows, cols := p.Value.Dims()
	update := mat.NewDense(rows, cols, nil)
	update.CloneFrom(p.Grad)
	if s.decay > 0 {
		var decayed mat.Dense
		decayed.Scale(s.decay, p.Value)
		update.Add(update, &decayed)
	}
	if s.momentum > 0 {
		v, ok := s.velocity[p]
		if !ok {
			v = mat.NewDense(rows, cols, nil)
			s.velocity[p] = v
		}
		v.Scale(s.momentum, v)
		v.Add(v, update)
		update.CloneFrom(v)
	}
	update.Scale(g.LR, update)
	p.Value.Sub(p.Value, update)
}

// Groups implements Optimizer.
func (s *SGD) Groups() []*ParamGroup {
	return s.groups
}
