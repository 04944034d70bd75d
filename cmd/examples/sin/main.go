package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"

	gan "github.com/LdDl/mocap-gan"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var (
	outputFolder    = flag.String("out", "./output", "Folder for charts")
	epochs          = flag.Int("epochs", 400, "Number of epochs")
	seed            = flag.Int64("seed", 1337, "PRNG seed")
	batchSize       = 16
	latentSpaceSize = 2
	trainDataLength = 1024
)

func main() {
	flag.Parse()
	if err := os.MkdirAll(*outputFolder, 0755); err != nil {
		log.Fatalf("can't create output folder: %v", err)
	}
	// Initialize seed with constant value to reproduce results
	rng := rand.New(rand.NewSource(*seed))

	// Prepare synthetic data
	trainSet, err := gan.GenerateTrainingSet(trainDataLength, func() float64 {
		return 2 * math.Pi * rng.Float64()
	}, math.Sin)
	if err != nil {
		log.Fatalf("can't generate training set: %v", err)
	}
	// Plot reference function
	err = gan.PlotXY(trainSet.Data, fmt.Sprintf("%s/reference_function.png", *outputFolder))
	if err != nil {
		log.Fatalf("can't plot reference function: %v", err)
	}

	cfg := gan.DefaultConfig()
	cfg.BatchSize = batchSize
	cfg.LatentDim = latentSpaceSize
	cfg.Epochs = *epochs
	cfg.Seed = *seed
	cfg.Generator.Alpha = 0.001
	cfg.Discriminator.Alpha = 0.001
	cfg.LogEvery = 20
	cfg.SampleFile = fmt.Sprintf("%s/gen_reference_func_final.png", *outputFolder)

	ganGraph := gorgonia.NewGraph()
	definedGenerator := defineGenerator(ganGraph, rng)
	definedDiscriminator := defineDiscriminator(ganGraph, rng)

	trainer, err := gan.NewTrainer(rng, cfg, gan.GeneratorCost, gan.DiscriminatorCost,
		gan.WithRenderer(gan.RendererFunc(func(samples *tensor.Dense, fname string, _ float64) error {
			return gan.PlotXY(samples, fname)
		})),
	)
	if err != nil {
		log.Fatalf("can't create trainer: %v", err)
	}
	report, err := trainer.Train(ganGraph, definedGenerator, definedDiscriminator, trainSet.Data)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	last := report.Epochs[len(report.Epochs)-1]
	fmt.Printf("Final epoch %d:\n", last.Epoch)
	fmt.Printf("\tDiscriminator's loss: %v\n", last.DiscriminatorLoss)
	fmt.Printf("\tGenerator's loss: %v\n", last.GeneratorLoss)
}

func defineDiscriminator(g *gorgonia.ExprGraph, rng *rand.Rand) *gan.DiscriminatorNet {
	initW := gan.GlorotUniformInit(rng, 1.0)
	return gan.Discriminator(
		gan.NewLinearLayer(g, "discriminator_0", 2, 256, initW, gan.Rectify),
		gan.NewLinearLayer(g, "discriminator_1", 256, 128, initW, gan.Rectify),
		gan.NewLinearLayer(g, "discriminator_2", 128, 64, initW, gan.Rectify),
		gan.NewLinearLayer(g, "discriminator_3", 64, 32, initW, gan.Rectify),
		// Raw score: sigmoid is applied by GAN after splitting fake and real rows
		gan.NewLinearLayer(g, "discriminator_4", 32, 1, initW, gan.NoActivation),
	)
}

func defineGenerator(g *gorgonia.ExprGraph, rng *rand.Rand) *gan.GeneratorNet {
	initW := gan.GlorotUniformInit(rng, 1.0)
	return gan.Generator(
		gan.NewLinearLayer(g, "generator_0", latentSpaceSize, 16, initW, gan.Rectify),
		gan.NewLinearLayer(g, "generator_1", 16, 32, initW, gan.Rectify),
		gan.NewLinearLayer(g, "generator_2", 32, 16, initW, gan.Rectify),
		gan.NewLinearLayer(g, "generator_3", 16, 2, initW, gan.NoActivation),
	)
}
