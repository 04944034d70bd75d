package mocap_gan

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// normEps Added to std on both normalization and denormalization
const normEps = 1e-10

// TrainSet Dataset of shape (examples, channels, frames...) together with per-channel statistics used for normalization.
//
// Mean and Std have shape (channels). Both are nil when data has not been normalized.
//
type TrainSet struct {
	Data *tensor.Dense
	Mean []float64
	Std  []float64
}

// Examples Returns number of examples
func (ts *TrainSet) Examples() int {
	return ts.Data.Shape()[0]
}

// LoadTrainSet Reads .npy file of shape (examples, channels, frames...) and normalizes it per channel
func LoadTrainSet(fname string) (*TrainSet, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't open dataset '%s'", fname))
	}
	defer f.Close()
	data := new(tensor.Dense)
	if err := data.ReadNpy(f); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't decode dataset '%s'", fname))
	}
	return NewTrainSet(data)
}

// NewTrainSet Normalizes copy of data per channel (axis 1): x' = (x - mean) / (std + 1e-10)
func NewTrainSet(data *tensor.Dense) (*TrainSet, error) {
	if data.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("Dataset has dtype %v, but only %v is supported", data.Dtype(), tensor.Float64)
	}
	shp := data.Shape()
	if len(shp) < 2 {
		return nil, fmt.Errorf("Dataset must have two dimensions atleast, but got %d", len(shp))
	}
	examples, channels := shp[0], shp[1]
	frames := data.DataSize() / (examples * channels)
	src := float64s(data)
	ts := &TrainSet{
		Mean: make([]float64, channels),
		Std:  make([]float64, channels),
	}
	values := make([]float64, 0, examples*frames)
	for c := 0; c < channels; c++ {
		values = values[:0]
		for e := 0; e < examples; e++ {
			offset := (e*channels + c) * frames
			values = append(values, src[offset:offset+frames]...)
		}
		ts.Mean[c], ts.Std[c] = stat.MeanStdDev(values, nil)
		if math.IsNaN(ts.Std[c]) {
			// single value per channel
			ts.Std[c] = 0
		}
	}
	normalized := make([]float64, len(src))
	for i, v := range src {
		c := (i / frames) % channels
		normalized[i] = (v - ts.Mean[c]) / (ts.Std[c] + normEps)
	}
	ts.Data = tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(normalized))
	return ts, nil
}

// Denormalize Maps normalized sample(s) back: x = x' * (std + 1e-10) + mean.
//
// sample - (channels, frames...) or (batch, channels, frames...). Returns copy
//
func (ts *TrainSet) Denormalize(sample *tensor.Dense) (*tensor.Dense, error) {
	result := cloneDense(sample)
	if ts.Mean == nil {
		return result, nil
	}
	channels := len(ts.Mean)
	shp := sample.Shape()
	channelAxis := -1
	switch {
	case len(shp) >= 3 && shp[1] == channels:
		channelAxis = 1
	case len(shp) >= 1 && shp[0] == channels:
		channelAxis = 0
	case len(shp) == 2 && shp[1] == channels:
		channelAxis = 1
	}
	if channelAxis < 0 {
		return nil, fmt.Errorf("Sample of shape %v has no axis of %d channels", shp, channels)
	}
	frames := 1
	for _, d := range shp[channelAxis+1:] {
		frames *= d
	}
	data := float64s(result)
	for i := range data {
		c := (i / frames) % channels
		data[i] = data[i]*(ts.Std[c]+normEps) + ts.Mean[c]
	}
	return result, nil
}

// SyntheticLocomotion Generates locomotion-like dataset of shape (examples, channels, frames): every channel is sum of two harmonics of gait frequency plus noise.
func SyntheticLocomotion(rng *rand.Rand, examples, channels, frames int) *tensor.Dense {
	data := make([]float64, examples*channels*frames)
	for e := 0; e < examples; e++ {
		// gait cycle of 30..60 frames
		period := 30 + 30*rng.Float64()
		for c := 0; c < channels; c++ {
			amplitude := 0.5 + rng.Float64()
			phase := 2 * math.Pi * rng.Float64()
			offset := rng.NormFloat64()
			for f := 0; f < frames; f++ {
				w := 2 * math.Pi * float64(f) / period
				v := offset + amplitude*math.Sin(w+phase) + 0.3*amplitude*math.Sin(2*w+phase) + 0.05*rng.NormFloat64()
				data[(e*channels+c)*frames+f] = v
			}
		}
	}
	return tensor.New(tensor.WithShape(examples, channels, frames), tensor.WithBacking(data))
}

type ReferenceFunction func(float64) float64
type ArgumentFunction func() float64

// GenerateTrainingSet Generates (numSamples, 2) points (x, y(x)). Data is not normalized.
func GenerateTrainingSet(numSamples int, xFunc ArgumentFunction, yFunc ReferenceFunction) (*TrainSet, error) {
	dataXAxis := make([]float64, numSamples)
	dataYAxis := make([]float64, numSamples)
	for i := range dataXAxis {
		dataXAxis[i] = xFunc()
		dataYAxis[i] = yFunc(dataXAxis[i])
	}
	inputTensor := tensor.New(tensor.WithShape(numSamples, 1), tensor.WithBacking(dataXAxis))
	outputTensor := tensor.New(tensor.WithShape(numSamples, 1), tensor.WithBacking(dataYAxis))
	hstack, err := inputTensor.Hstack(outputTensor)
	if err != nil {
		return nil, errors.Wrap(err, "Can't stack X and Y(X)")
	}
	return &TrainSet{
		Data: hstack,
	}, nil
}
