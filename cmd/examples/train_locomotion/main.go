package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	gan "github.com/LdDl/mocap-gan"
	"gorgonia.org/gorgonia"
)

var (
	cfgPath        = flag.String("config", "cmd/examples/train_locomotion/config.yaml", "Path to YAML config")
	dataPath       = flag.String("data", "", "Path to .npy dataset of shape (examples, channels, frames). Synthetic data is used when empty")
	modelsDir      = flag.String("models", "./models/locomotion", "Folder for generator layers")
	checkpointsDir = flag.String("checkpoints", "", "Folder for optimizer checkpoints. Disabled when empty")
	checkpointN    = flag.Int("checkpoint-every", 50, "Checkpoint every N epochs")
	channels       = flag.Int("channels", 66, "Channels of synthetic data")
	frames         = flag.Int("frames", 240, "Frames of synthetic data. Must be divisible by 8")
	examples       = flag.Int("examples", 400, "Examples of synthetic data")
	epochs         = flag.Int("epochs", 0, "Override number of epochs")
	batchSize      = flag.Int("batch-size", 0, "Override batch size")
	latentDim      = flag.Int("latent-dim", 0, "Override latent dim")
	alpha          = flag.Float64("alpha", 0, "Override learning rate of both networks")
	seed           = flag.Int64("seed", 0, "Override PRNG seed")
	sampleFile     = flag.String("sample-file", "", "Override file for rendered samples")
)

const (
	filters = 64
	kernel  = 25
	pool    = 2
)

func main() {
	flag.Parse()

	cfg, err := gan.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(gan.Overrides{
		BatchSize:  *batchSize,
		Epochs:     *epochs,
		LatentDim:  *latentDim,
		Seed:       *seed,
		Alpha:      *alpha,
		SampleFile: *sampleFile,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var trainSet *gan.TrainSet
	if *dataPath != "" {
		trainSet, err = gan.LoadTrainSet(*dataPath)
	} else {
		trainSet, err = gan.NewTrainSet(gan.SyntheticLocomotion(rng, *examples, *channels, *frames))
	}
	if err != nil {
		log.Fatalf("can't prepare dataset: %v", err)
	}
	shp := trainSet.Data.Shape()
	log.Printf("dataset examples=%d channels=%d frames=%d", shp[0], shp[1], shp[2])
	if shp[2]%(pool*pool*pool) != 0 {
		log.Fatalf("frames must be divisible by %d, but got %d", pool*pool*pool, shp[2])
	}

	g := gorgonia.NewGraph()
	disc, pools := defineDiscriminator(g, rng, cfg.BatchSize, shp[1], shp[2])
	gen, genFiles := defineGenerator(g, rng, cfg.BatchSize, cfg.LatentDim, shp[1], shp[2], pools)

	opts := []gan.TrainerOption{
		gan.WithRenderer(gan.PlotRenderer{MaxSamples: 3, Transform: trainSet.Denormalize}),
	}
	var checkpointer *gan.Checkpointer
	if *checkpointsDir != "" {
		checkpointer, err = gan.NewCheckpointer(*checkpointsDir, 2)
		if err != nil {
			log.Fatalf("can't start checkpointer: %v", err)
		}
		opts = append(opts, gan.WithCheckpointer(checkpointer, *checkpointN))
	}
	trainer, err := gan.NewTrainer(rng, *cfg, gan.GeneratorCost, gan.DiscriminatorCost, opts...)
	if err != nil {
		log.Fatalf("can't create trainer: %v", err)
	}
	_, err = trainer.Train(g, gen, disc, trainSet.Data)
	if checkpointer != nil {
		if cerr := checkpointer.Close(); cerr != nil {
			log.Printf("checkpoint write failed: %v", cerr)
		}
	}
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if err := os.MkdirAll(*modelsDir, 0755); err != nil {
		log.Fatalf("can't create models folder: %v", err)
	}
	for i := range genFiles {
		if genFiles[i] != "" {
			genFiles[i] = filepath.Join(*modelsDir, genFiles[i])
		}
	}
	if err := gen.Save(genFiles); err != nil {
		log.Fatalf("can't save generator: %v", err)
	}
	log.Printf("generator saved into %s", *modelsDir)
}

// defineDiscriminator Two convolution+pooling stages followed by linear scoring layer. Returns pooling layers for Generator mirroring.
func defineDiscriminator(g *gorgonia.ExprGraph, rng *rand.Rand, batch, channels, frames int) (*gan.DiscriminatorNet, []*gan.Layer) {
	pad := (kernel - 1) / 2
	pool0 := gan.NewMaxpool1DLayer(pool)
	pool1 := gan.NewMaxpool1DLayer(pool)
	disc := gan.Discriminator(
		gan.NewDropoutLayer(0.15),
		gan.NewConv1DLayer(g, "discriminator_conv_0", channels, filters, kernel, pad, gan.GlorotUniformInit(rng, 1.0), gan.Elu),
		pool0,
		gan.NewDropoutLayer(0.25),
		gan.NewConv1DLayer(g, "discriminator_conv_1", filters, 2*filters, kernel, pad, gan.GlorotUniformInit(rng, 1.0), gan.Elu),
		pool1,
		gan.NewReshapeLayer(2*batch, 2*filters*frames/(pool*pool)),
		gan.NewDropoutLayer(0.25),
		gan.NewLinearLayer(g, "discriminator_score", 2*filters*frames/(pool*pool), 1, gan.GlorotUniformInit(rng, 1.0), gan.NoActivation),
	)
	// Generator upsamples three times starting from frames/8, last pooling is mirrored twice
	return disc, []*gan.Layer{pool0, pool1, pool1}
}

// defineGenerator Mirror of Discriminator: every pooling stage becomes upsampling. Returns per-layer file names ("" for layers without parameters).
func defineGenerator(g *gorgonia.ExprGraph, rng *rand.Rand, batch, latent, channels, frames int, pools []*gan.Layer) (*gan.GeneratorNet, []string) {
	pad := (kernel - 1) / 2
	start := frames / int(math.Pow(pool, float64(len(pools))))
	layers := []*gan.Layer{
		gan.NewDropoutLayer(0.15),
		gan.NewLinearLayer(g, "generator_linear", latent, filters*start, gan.GlorotUniformInit(rng, 1.0), gan.Elu),
		gan.NewReshapeLayer(batch, filters, start),
	}
	files := []string{"", "layer_0.npz", ""}
	for i, p := range pools {
		up, err := gan.Inverse(p)
		if err != nil {
			log.Fatalf("can't inverse pooling layer: %v", err)
		}
		out := filters
		if i == len(pools)-1 {
			out = channels
		}
		prob := 0.25
		if i == 0 {
			prob = 0.15
		}
		conv := gan.NewConv1DLayer(g, fmt.Sprintf("generator_conv_%d", i), filters, out, kernel, pad, gan.GlorotUniformInit(rng, 1.0), gan.Elu)
		layers = append(layers, up, gan.NewDropoutLayer(prob), conv)
		files = append(files, "", "", fmt.Sprintf("layer_%d.npz", i+1))
	}
	return gan.Generator(layers...), files
}
