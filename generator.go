package mocap_gan

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GeneratorNet Abstraction for generator part of GAN: maps latent vectors to synthetic samples.
type GeneratorNet struct {
	private *Network
}

// Generator Constructor for GeneratorNet
func Generator(Layers ...*Layer) *GeneratorNet {
	return &GeneratorNet{private: &Network{
		Name:   "generator",
		Layers: Layers,
	}}
}

// Out Returns reference to output node
func (net *GeneratorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *GeneratorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Layers Returns sequence of layers
func (net *GeneratorNet) Layers() []*Layer {
	return net.private.Layers
}

// Fwd Initializates feedforward for provided input
//
// input - Input node (latent batch)
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *GeneratorNet) Fwd(input *gorgonia.Node, batchSize int) error {
	if err := net.private.Fwd(input, batchSize); err != nil {
		return errors.Wrap(err, "[Generator]")
	}
	return nil
}

// Save See ref. (*Network).Save
func (net *GeneratorNet) Save(files []string) error {
	return net.private.Save(files)
}

// Load See ref. (*Network).Load
func (net *GeneratorNet) Load(files []string) error {
	return net.private.Load(files)
}
