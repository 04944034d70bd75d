package mocap_gan

import (
	"io"
	"log"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func toyConfig(batch, epochs int) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = batch
	cfg.Epochs = epochs
	cfg.LatentDim = 1
	cfg.Seed = 42
	cfg.Generator.Alpha = 0.01
	cfg.Discriminator.Alpha = 0.01
	cfg.SampleFile = ""
	return cfg
}

func toyDataset(n int) *tensor.Dense {
	data := make([]float64, n)
	for i := range data {
		data[i] = 2 + 0.1*float64(i)
	}
	return tensor.New(tensor.WithShape(n, 1), tensor.WithBacking(data))
}

func newToyTrainer(t *testing.T, cfg Config, opts ...TrainerOption) *Trainer {
	opts = append([]TrainerOption{WithLogger(quietLogger())}, opts...)
	trainer, err := NewTrainer(rand.New(rand.NewSource(cfg.Seed)), cfg, GeneratorCost, DiscriminatorCost, opts...)
	require.NoError(t, err)
	return trainer
}

func TestUniformLatent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	latent := UniformLatent(rng, 500, 200)
	assert.Equal(t, []int{500, 200}, []int(latent.Shape()))
	data := float64s(latent)
	bound := math.Sqrt(3)
	for _, v := range data {
		require.True(t, v >= -bound && v <= bound, "value %v is out of range", v)
	}
	mean, std := stat.MeanStdDev(data, nil)
	assert.InDelta(t, 0, mean, 0.02)
	assert.InDelta(t, 1, std, 0.01)

	// Same seed gives same latent batch
	a := UniformLatent(rand.New(rand.NewSource(7)), 4, 3)
	b := UniformLatent(rand.New(rand.NewSource(7)), 4, 3)
	assert.Equal(t, float64s(a), float64s(b))
}

func TestTrainerVisitsEveryBatchOncePerEpoch(t *testing.T) {
	const epochs = 3
	cfg := toyConfig(4, epochs)
	visited := make([][]int, epochs)
	var losses []BatchLoss
	trainer := newToyTrainer(t, cfg, WithBatchCallback(func(bl BatchLoss) {
		visited[bl.Epoch] = append(visited[bl.Epoch], bl.Index)
		losses = append(losses, bl)
	}))
	g := gorgonia.NewGraph()
	gen, disc := toyPair(g)
	// 18 examples, batch 4: floor(18/4) = 4 batches, last two examples unused
	report, err := trainer.Train(g, gen, disc, toyDataset(18))
	require.NoError(t, err)
	assert.Equal(t, StateDone, trainer.State())

	for epoch := range visited {
		got := append([]int{}, visited[epoch]...)
		sort.Ints(got)
		assert.Equal(t, []int{0, 1, 2, 3}, got, "epoch %d", epoch)
	}
	require.Len(t, losses, epochs*4)
	for i, bl := range losses {
		assert.Equal(t, i+1, bl.GeneratorStep)
		assert.Equal(t, i+1, bl.DiscriminatorStep)
		assert.Equal(t, i%4, bl.Position)
	}
	assert.Equal(t, epochs*4+1, report.GeneratorStep)
	assert.Equal(t, epochs*4+1, report.DiscriminatorStep)
	assert.Len(t, report.Epochs, epochs)
	assert.Equal(t, losses, report.Batches)
	require.NotNil(t, report.Samples)
	assert.Equal(t, []int{4, 1}, []int(report.Samples.Shape()))
}

func TestTrainerIsDeterministic(t *testing.T) {
	run := func() *TrainReport {
		cfg := toyConfig(4, 3)
		cfg.Seed = 2021
		trainer := newToyTrainer(t, cfg)
		g := gorgonia.NewGraph()
		gen, disc := toyPair(g)
		report, err := trainer.Train(g, gen, disc, toyDataset(16))
		require.NoError(t, err)
		return report
	}
	first, second := run(), run()
	require.Len(t, first.Batches, 12)
	assert.Equal(t, first.Batches, second.Batches)
	assert.Equal(t, float64s(first.Samples), float64s(second.Samples))
	for _, bl := range first.Batches {
		assert.False(t, math.IsNaN(bl.GeneratorLoss))
		assert.False(t, math.IsNaN(bl.DiscriminatorLoss))
	}
}

func TestTrainerUpdatesBothNetworks(t *testing.T) {
	trainer := newToyTrainer(t, toyConfig(4, 2))
	g := gorgonia.NewGraph()
	gen, disc := toyPair(g)
	_, err := trainer.Train(g, gen, disc, toyDataset(16))
	require.NoError(t, err)

	genW, err := nodeDense(gen.Learnables()[0])
	require.NoError(t, err)
	disW, err := nodeDense(disc.Learnables()[0])
	require.NoError(t, err)
	assert.NotEqual(t, toyGenW, float64s(genW)[0])
	assert.NotEqual(t, toyDisW, float64s(disW)[0])

	// Committed node values are the ones kept in optimizer state
	assert.Equal(t, float64s(trainer.GeneratorState().Params[0].Value), float64s(genW))
	assert.Equal(t, float64s(trainer.DiscriminatorState().Params[0].Value), float64s(disW))
}

func TestTrainerRunsOnce(t *testing.T) {
	trainer := newToyTrainer(t, toyConfig(4, 1))
	g := gorgonia.NewGraph()
	gen, disc := toyPair(g)
	_, err := trainer.Train(g, gen, disc, toyDataset(8))
	require.NoError(t, err)

	g = gorgonia.NewGraph()
	gen, disc = toyPair(g)
	_, err = trainer.Train(g, gen, disc, toyDataset(8))
	assert.True(t, errors.Is(err, ErrTrainerUsed))
}

func TestTrainerRejectsBadData(t *testing.T) {
	trainer := newToyTrainer(t, toyConfig(4, 1))
	g := gorgonia.NewGraph()
	gen, disc := toyPair(g)
	_, err := trainer.Train(g, gen, disc, toyDataset(3))
	assert.Error(t, err)
	assert.Equal(t, StateAborted, trainer.State())
}

// nanEvaluator Injects NaN into evaluation result of chosen batch
type nanEvaluator struct {
	batchEvaluator
	calls   int
	atCall  int
	network NetworkKind
	inLoss  bool
}

func (ev *nanEvaluator) Evaluate(latent, real *tensor.Dense) (*BatchResult, error) {
	res, err := ev.batchEvaluator.Evaluate(latent, real)
	if err != nil {
		return nil, err
	}
	ev.calls++
	if ev.calls != ev.atCall {
		return res, nil
	}
	switch {
	case ev.inLoss && ev.network == NetworkGenerator:
		res.GeneratorLoss = math.NaN()
	case ev.inLoss:
		res.DiscriminatorLoss = math.NaN()
	case ev.network == NetworkGenerator:
		float64s(res.GeneratorGrads[0])[0] = math.NaN()
	default:
		float64s(res.DiscriminatorGrads[1])[0] = math.NaN()
	}
	return res, nil
}

func TestTrainerAbortsOnNaN(t *testing.T) {
	cases := []struct {
		name    string
		network NetworkKind
		inLoss  bool
		source  DivergenceSource
	}{
		{"generator gradient", NetworkGenerator, false, DivergenceState},
		{"discriminator gradient", NetworkDiscriminator, false, DivergenceState},
		{"generator cost", NetworkGenerator, true, DivergenceCost},
		{"discriminator cost", NetworkDiscriminator, true, DivergenceCost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := toyConfig(4, 5)
			var seen []BatchLoss
			trainer := newToyTrainer(t, cfg, WithBatchCallback(func(bl BatchLoss) {
				seen = append(seen, bl)
			}))
			g := gorgonia.NewGraph()
			gen, disc := toyPair(g)
			net, err := NewGAN(g, gen, disc, toyGANConfig(cfg.BatchSize))
			require.NoError(t, err)
			defer net.Close()

			// 4 batches per epoch: NaN at 6th batch, second epoch
			ev := &nanEvaluator{batchEvaluator: net, atCall: 6, network: tc.network, inLoss: tc.inLoss}
			report, err := trainer.run(ev, toyDataset(16))
			require.Error(t, err)

			var divergence *DivergenceError
			require.True(t, errors.As(err, &divergence))
			assert.Equal(t, tc.network, divergence.Network)
			assert.Equal(t, tc.source, divergence.Source)
			assert.Equal(t, 1, divergence.Epoch)
			assert.Equal(t, 6, divergence.Step)
			assert.Equal(t, StateAborted, trainer.State())

			// Nothing after divergence, diverged batch not committed
			assert.Len(t, seen, 5)
			assert.Len(t, report.Batches, 5)
			assert.Len(t, report.Epochs, 1)
			assert.Nil(t, report.Samples)
			assert.Equal(t, 6, report.GeneratorStep)
			assert.Equal(t, 6, report.DiscriminatorStep)
			for _, n := range append(gen.Learnables(), disc.Learnables()...) {
				value, err := nodeDense(n)
				require.NoError(t, err)
				assert.False(t, floats.HasNaN(float64s(value)), "node %s", n.Name())
			}
		})
	}
}

func TestTrainerRendersSamples(t *testing.T) {
	cfg := toyConfig(4, 1)
	cfg.SampleFile = filepath.Join(t.TempDir(), "samples.png")
	cfg.SampleInterval = 15.15
	var rendered *tensor.Dense
	var renderedFile string
	var renderedInterval float64
	trainer := newToyTrainer(t, cfg, WithRenderer(RendererFunc(func(samples *tensor.Dense, fname string, interval float64) error {
		rendered, renderedFile, renderedInterval = samples, fname, interval
		return errors.New("renderer is broken")
	})))
	g := gorgonia.NewGraph()
	gen, disc := toyPair(g)
	report, err := trainer.Train(g, gen, disc, toyDataset(8))
	// Rendering is best-effort
	require.NoError(t, err)
	require.NotNil(t, rendered)
	assert.Equal(t, float64s(report.Samples), float64s(rendered))
	assert.Equal(t, cfg.SampleFile, renderedFile)
	assert.Equal(t, 15.15, renderedInterval)
}

func TestTrainerCheckpoints(t *testing.T) {
	dir := t.TempDir()
	checkpointer, err := NewCheckpointer(dir, 4)
	require.NoError(t, err)
	trainer := newToyTrainer(t, toyConfig(4, 2), WithCheckpointer(checkpointer, 1))
	g := gorgonia.NewGraph()
	gen, disc := toyPair(g)
	_, err = trainer.Train(g, gen, disc, toyDataset(16))
	require.NoError(t, err)
	require.NoError(t, checkpointer.Close())
	assert.Len(t, checkpointer.Written(), 4)

	st, err := ReadCheckpoint(filepath.Join(dir, "epoch_0000_generator.npz"), NetworkGenerator)
	require.NoError(t, err)
	// 4 batches committed during first epoch
	assert.Equal(t, 5, st.T)
	require.Len(t, st.Params, 2)

	last, err := ReadCheckpoint(filepath.Join(dir, "epoch_0001_discriminator.npz"), NetworkDiscriminator)
	require.NoError(t, err)
	assert.Equal(t, 9, last.T)
	assert.Equal(t, float64s(trainer.DiscriminatorState().Params[0].Value), float64s(last.Params[0].Value))
}

func TestNewTrainerValidates(t *testing.T) {
	cfg := toyConfig(4, 1)
	cfg.LatentDim = 0
	_, err := NewTrainer(nil, cfg, GeneratorCost, DiscriminatorCost)
	assert.Error(t, err)

	_, err = NewTrainer(nil, toyConfig(4, 1), nil, DiscriminatorCost)
	assert.Error(t, err)

	trainer, err := NewTrainer(nil, toyConfig(4, 1), GeneratorCost, DiscriminatorCost)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, trainer.State())
	assert.Nil(t, trainer.GeneratorState())
}

func TestTrainerStateString(t *testing.T) {
	assert.Equal(t, "epoch_loop", StateEpochLoop.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "generator", NetworkGenerator.String())
	err := &DivergenceError{Network: NetworkDiscriminator, Source: DivergenceCost, Epoch: 1, Batch: 2, Step: 3}
	assert.Equal(t, "NaN in discriminator cost: epoch 1, batch 2, step 3", err.Error())
}
