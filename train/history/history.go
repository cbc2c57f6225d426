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

// Package history holds the per-epoch metric series collected during
// training: the training history.
//
// A History has exactly two phases, train and valid. Each phase keeps
// insertion-ordered metric names mapped to one value per completed epoch.
// A nil value means the metric was not computed that epoch -- e.g. the
// validation loss of an epoch trained without validation data.
//
// The History is created empty by the Trainer, appended to by callbacks and
// the epoch bookkeeping, and never destroyed: it is persisted verbatim with
// checkpoints, and loading a checkpoint merges into it.
package history

import (
	"encoding/json"
	"math"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Losses is the canonical loss metric name, always present in both phases
// once training starts.
const Losses = "losses"

// History is the training history: one Phase of metric series per phase of
// training.
type History struct {
	Train *Phase
	Valid *Phase
}

// New creates an empty History with its two phases.
func New() *History {
	return &History{
		Train: NewPhase("train"),
		Valid: NewPhase("valid"),
	}
}

// Phase holds the ordered named metric series of one phase.
type Phase struct {
	name   string
	order  []string
	series map[string][]*float64
}

// NewPhase creates an empty phase with the given name.
func NewPhase(name string) *Phase {
	return &Phase{
		name:   name,
		series: make(map[string][]*float64),
	}
}

// Name of the phase ("train" or "valid").
func (p *Phase) Name() string { return p.name }

// Register adds a metric with an empty series, keeping registration order.
// Registering an existing metric is a no-op.
func (p *Phase) Register(metric string) {
	if _, found := p.series[metric]; found {
		return
	}
	p.order = append(p.order, metric)
	p.series[metric] = nil
}

// Has reports whether the metric is registered.
func (p *Phase) Has(metric string) bool {
	_, found := p.series[metric]
	return found
}

// Append adds one per-epoch value to the metric's series, registering the
// metric if needed. A nil value records "not computed this epoch".
func (p *Phase) Append(metric string, value *float64) {
	p.Register(metric)
	p.series[metric] = append(p.series[metric], value)
}

// AppendValue is a convenience form of Append for a present value.
func (p *Phase) AppendValue(metric string, value float64) {
	p.Append(metric, &value)
}

// Series returns the metric's series. The returned slice is owned by the
// Phase and must not be mutated.
func (p *Phase) Series(metric string) []*float64 {
	return p.series[metric]
}

// Len returns the number of epochs recorded for the metric.
func (p *Phase) Len(metric string) int {
	return len(p.series[metric])
}

// Latest returns the last recorded value for the metric, or nil if the
// series is empty or its last entry was not computed.
func (p *Phase) Latest(metric string) *float64 {
	s := p.series[metric]
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// Names returns the registered metric names in registration order.
func (p *Phase) Names() []string {
	names := make([]string, len(p.order))
	copy(names, p.order)
	return names
}

// ArgMin returns the index of the smallest non-nil value in the metric's
// series, or -1 when there is none.
func (p *Phase) ArgMin(metric string) int {
	best := -1
	bestValue := math.Inf(1)
	for i, v := range p.series[metric] {
		if v != nil && *v < bestValue {
			best, bestValue = i, *v
		}
	}
	return best
}

// namedSeries is the JSON wire format of one metric series: an array of
// these preserves metric registration order, which a JSON object would not.
type namedSeries struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

// MarshalJSON implements json.Marshaler.
func (p *Phase) MarshalJSON() ([]byte, error) {
	out := make([]namedSeries, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, namedSeries{Name: name, Values: p.series[name]})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var in []namedSeries
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrapf(err, "failed to parse history phase %q", p.name)
	}
	p.order = nil
	p.series = make(map[string][]*float64)
	for _, s := range in {
		p.Register(s.Name)
		p.series[s.Name] = s.Values
	}
	return nil
}

// Merge copies every metric series of other into h, overriding series with
// the same name but keeping metrics only present in h. This is the semantics
// used when restoring a checkpoint into an already populated History.
func (h *History) Merge(other *History) {
	h.Train.merge(other.Train)
	h.Valid.merge(other.Valid)
}

func (p *Phase) merge(other *Phase) {
	for _, name := range other.order {
		p.Register(name)
		src := other.series[name]
		dst := make([]*float64, len(src))
		copy(dst, src)
		p.series[name] = dst
	}
}

// DataFrame exports the full history as a gota DataFrame with one column per
// phase/metric pair (e.g. "train.losses", "valid.acc") and one row per epoch.
// Missing values become NaN. Handy for notebook-style analysis of a run.
func (h *History) DataFrame() dataframe.DataFrame {
	numEpochs := 0
	for _, phase := range []*Phase{h.Train, h.Valid} {
		for _, name := range phase.order {
			if n := len(phase.series[name]); n > numEpochs {
				numEpochs = n
			}
		}
	}
	var columns []series.Series
	for _, phase := range []*Phase{h.Train, h.Valid} {
		for _, name := range phase.order {
			values := make([]float64, numEpochs)
			for i := range values {
				values[i] = math.NaN()
			}
			for i, v := range phase.series[name] {
				if v != nil {
					values[i] = *v
				}
			}
			columns = append(columns, series.New(values, series.Float, phase.name+"."+name))
		}
	}
	return dataframe.New(columns...)
}
