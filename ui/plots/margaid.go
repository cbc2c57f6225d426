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

package plots

import (
	"os"
	"slices"

	mg "github.com/erkkah/margaid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Margaid is a Plotter that renders the accumulated curves as a single SVG
// file, one line per curve, using the Margaid library
// (https://github.com/erkkah/margaid/). Each Flush rewrites the file, so the
// plot can be watched while training runs.
type Margaid struct {
	// Image dimensions in pixels.
	Width, Height int

	filePath string

	// Series per curve name, plus one hidden series with every point, used
	// to range the axes.
	perName   map[string]*mg.Series
	allPoints *mg.Series

	xProjection, yProjection mg.Projection
}

var _ Plotter = (*Margaid)(nil)

// NewMargaid creates an SVG plotter writing to filePath. It starts empty;
// points come in through AddPoint, and Flush (re-)renders the file.
func NewMargaid(width, height int, filePath string) *Margaid {
	return &Margaid{
		Width:       width,
		Height:      height,
		filePath:    filePath,
		perName:     make(map[string]*mg.Series),
		xProjection: mg.Lin,
		yProjection: mg.Lin,
	}
}

// LogScaleY sets the Y-axis to log scale. Returns itself for chaining.
func (m *Margaid) LogScaleY() *Margaid {
	m.yProjection = mg.Log
	return m
}

// AddPoint implements Plotter.
func (m *Margaid) AddPoint(point Point) {
	s, found := m.perName[point.Name]
	if !found {
		s = mg.NewSeries(mg.Titled(point.Name))
		m.perName[point.Name] = s
	}
	mgValue := mg.MakeValue(point.Step, point.Value)
	s.Add(mgValue)

	if m.allPoints == nil {
		m.allPoints = mg.NewSeries()
	}
	m.allPoints.Add(mgValue)
}

// Flush implements Plotter: renders all curves to the SVG file.
func (m *Margaid) Flush() error {
	if len(m.perName) == 0 {
		return nil
	}
	names := make([]string, 0, len(m.perName))
	for name := range m.perName {
		names = append(names, name)
	}
	slices.Sort(names)
	allSeries := make([]*mg.Series, 0, len(names))
	for _, name := range names {
		allSeries = append(allSeries, m.perName[name])
	}

	diagram := mg.New(m.Width, m.Height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithProjection(mg.XAxis, m.xProjection),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithProjection(mg.YAxis, m.yProjection),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(m.allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Epochs")
	diagram.Axis(m.allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, "Loss")
	diagram.Frame()
	diagram.Legend(mg.BottomLeft)

	f, err := os.Create(m.filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create plot file %q", m.filePath)
	}
	if err = diagram.Render(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to render plot to %q", m.filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close plot file %q", m.filePath)
	}
	klog.V(1).Infof("rendered %d curves to %s", len(allSeries), m.filePath)
	return nil
}
