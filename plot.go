package mocap_gan

import (
	"fmt"
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// SampleRenderer Renders generated samples into file.
//
// samples - batch of generated samples, first axis is batch
// fname - output file name. Extension defines the format
// interval - time between frames in milliseconds
//
type SampleRenderer interface {
	Render(samples *tensor.Dense, fname string, interval float64) error
}

// RendererFunc Adapter to use ordinary function as SampleRenderer
type RendererFunc func(samples *tensor.Dense, fname string, interval float64) error

// Render Calls f(samples, fname, interval)
func (f RendererFunc) Render(samples *tensor.Dense, fname string, interval float64) error {
	return f(samples, fname, interval)
}

// PlotRenderer Draws every channel of every sample as line over time.
//
// Samples of shape (batch, channels, frames) give batch*channels lines; samples of shape (batch, frames) give one line per sample.
// Color depends on channel.
//
type PlotRenderer struct {
	Width  vg.Length
	Height vg.Length
	// MaxSamples limits number of drawn samples. Zero means all of them
	MaxSamples int
	// Transform is applied to every sample (channels, frames) before drawing, e.g. TrainSet.Denormalize
	Transform func(sample *tensor.Dense) (*tensor.Dense, error)
}

// Render See ref. SampleRenderer
func (r PlotRenderer) Render(samples *tensor.Dense, fname string, interval float64) error {
	shp := samples.Shape()
	if len(shp) < 2 {
		return fmt.Errorf("Samples must have two dimensions atleast, but got %d", len(shp))
	}
	if interval <= 0 {
		interval = 1
	}
	batch, frames := shp[0], shp[len(shp)-1]
	channels := samples.DataSize() / (batch * frames)
	n := batch
	if r.MaxSamples > 0 && r.MaxSamples < n {
		n = r.MaxSamples
	}
	data := float64s(samples)
	p := plot.New()
	p.X.Label.Text = "Time, ms"
	p.Y.Label.Text = "Value"
	p.Add(plotter.NewGrid())
	sampleSize := channels * frames
	for i := 0; i < n; i++ {
		sample := tensor.New(tensor.WithShape(channels, frames), tensor.WithBacking(append([]float64{}, data[i*sampleSize:(i+1)*sampleSize]...)))
		if r.Transform != nil {
			var err error
			sample, err = r.Transform(sample)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("Can't transform sample #%d", i))
			}
		}
		values := float64s(sample)
		for c := 0; c < channels; c++ {
			xys := make(plotter.XYs, frames)
			for f := 0; f < frames; f++ {
				xys[f].X = float64(f) * interval
				xys[f].Y = values[c*frames+f]
			}
			line, err := plotter.NewLine(xys)
			if err != nil {
				return errors.Wrap(err, "Can't init new line")
			}
			line.LineStyle.Color = plotutil.Color(c)
			p.Add(line)
		}
	}
	width, height := r.Width, r.Height
	if width == 0 {
		width = 8 * vg.Inch
	}
	if height == 0 {
		height = 4 * vg.Inch
	}
	if err := p.Save(width, height, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}

// PlotXY Plot scatter chart for points of shape (n, 2): first column is X, second is Y(X)
func PlotXY(points *tensor.Dense, fname string) error {
	shp := points.Shape()
	if len(shp) != 2 || shp[1] != 2 {
		return fmt.Errorf("Points must have shape (n, 2), but got %v", shp)
	}
	data, ok := points.Data().([]float64)
	if !ok {
		return fmt.Errorf("Points must have dtype %v, but got %v", tensor.Float64, points.Dtype())
	}
	scatterData := make(plotter.XYs, shp[0])
	for i := range scatterData {
		scatterData[i].X = data[2*i]
		scatterData[i].Y = data[2*i+1]
	}
	scatter, err := plotter.NewScatter(scatterData)
	if err != nil {
		return errors.Wrap(err, "Can't init new scatter")
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	p := plot.New()
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())
	p.Add(scatter)
	if err := p.Save(4*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
