package mocap_gan

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DiscriminatorNet Abstraction for discriminator part of GAN. It's simple neural network actually.
//
// Its output is raw score (no sigmoid on last layer): trainer applies sigmoid to fake and real slices itself.
//
type DiscriminatorNet struct {
	private *Network
}

// Discriminator Constructor for DiscriminatorNet
func Discriminator(Layers ...*Layer) *DiscriminatorNet {
	return &DiscriminatorNet{private: &Network{
		Name:   "discriminator",
		Layers: Layers,
	}}
}

// Out Returns reference to output node
func (net *DiscriminatorNet) Out() *gorgonia.Node {
	return net.private.out
}

// Learnables Returns learnables nodes
func (net *DiscriminatorNet) Learnables() gorgonia.Nodes {
	return net.private.Learnables()
}

// Layers Returns sequence of layers
func (net *DiscriminatorNet) Layers() []*Layer {
	return net.private.Layers
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *DiscriminatorNet) Fwd(input *gorgonia.Node, batchSize int) error {
	if err := net.private.Fwd(input, batchSize); err != nil {
		return errors.Wrap(err, "[Discriminator]")
	}
	return nil
}

// Save See ref. (*Network).Save
func (net *DiscriminatorNet) Save(files []string) error {
	return net.private.Save(files)
}

// Load See ref. (*Network).Load
func (net *DiscriminatorNet) Load(files []string) error {
	return net.private.Load(files)
}
