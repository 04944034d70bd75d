package mocap_gan

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

func channelValues(d *tensor.Dense, c int) []float64 {
	shp := d.Shape()
	examples, channels, frames := shp[0], shp[1], shp[2]
	data := float64s(d)
	values := make([]float64, 0, examples*frames)
	for e := 0; e < examples; e++ {
		offset := (e*channels + c) * frames
		values = append(values, data[offset:offset+frames]...)
	}
	return values
}

func TestNewTrainSetNormalizesPerChannel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	raw := SyntheticLocomotion(rng, 20, 4, 32)
	assert.True(t, raw.Shape().Eq(tensor.Shape{20, 4, 32}))

	ts, err := NewTrainSet(raw)
	require.NoError(t, err)
	require.Len(t, ts.Mean, 4)
	assert.Equal(t, 20, ts.Examples())
	for c := 0; c < 4; c++ {
		mean, std := stat.MeanStdDev(channelValues(ts.Data, c), nil)
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, std, 1e-6)
	}
	// Raw data is untouched
	assert.NotEqual(t, float64s(raw), float64s(ts.Data))
}

func TestDenormalizeRestoresData(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	raw := SyntheticLocomotion(rng, 6, 3, 8)
	ts, err := NewTrainSet(raw)
	require.NoError(t, err)

	restored, err := ts.Denormalize(ts.Data)
	require.NoError(t, err)
	assert.InDeltaSlice(t, float64s(raw), float64s(restored), 1e-9)

	// Single sample of shape (channels, frames)
	sample := tensor.New(tensor.WithShape(3, 8), tensor.WithBacking(append([]float64{}, float64s(ts.Data)[:24]...)))
	restoredSample, err := ts.Denormalize(sample)
	require.NoError(t, err)
	assert.InDeltaSlice(t, float64s(raw)[:24], float64s(restoredSample), 1e-9)

	_, err = ts.Denormalize(tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(5, 7)))
	assert.Error(t, err)
}

func TestNewTrainSetConstantChannel(t *testing.T) {
	data := tensor.New(tensor.WithShape(2, 1, 2), tensor.WithBacking([]float64{5, 5, 5, 5}))
	ts, err := NewTrainSet(data)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ts.Std[0])
	for _, v := range float64s(ts.Data) {
		assert.False(t, math.IsNaN(v))
		assert.Equal(t, 0.0, v)
	}
}

func TestLoadTrainSet(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "locomotion.npy")
	raw := SyntheticLocomotion(rand.New(rand.NewSource(5)), 4, 2, 6)
	f, err := os.Create(fname)
	require.NoError(t, err)
	require.NoError(t, raw.WriteNpy(f))
	require.NoError(t, f.Close())

	ts, err := LoadTrainSet(fname)
	require.NoError(t, err)
	assert.True(t, ts.Data.Shape().Eq(tensor.Shape{4, 2, 6}))
	restored, err := ts.Denormalize(ts.Data)
	require.NoError(t, err)
	assert.InDeltaSlice(t, float64s(raw), float64s(restored), 1e-9)

	_, err = LoadTrainSet(filepath.Join(t.TempDir(), "missing.npy"))
	assert.Error(t, err)
}

func TestGenerateTrainingSet(t *testing.T) {
	x := 0.0
	ts, err := GenerateTrainingSet(5, func() float64 {
		x++
		return x
	}, func(v float64) float64 {
		return 2 * v
	})
	require.NoError(t, err)
	assert.True(t, ts.Data.Shape().Eq(tensor.Shape{5, 2}))
	assert.Equal(t, []float64{1, 2, 2, 4, 3, 6, 4, 8, 5, 10}, float64s(ts.Data))
	// Not normalized
	same, err := ts.Denormalize(ts.Data)
	require.NoError(t, err)
	assert.Equal(t, float64s(ts.Data), float64s(same))
}
