package mocap_gan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Network Abstraction for neural network.
//
// Layers - simple sequence of layers
// out - alias to activated output of last layer
//
type Network struct {
	Name   string
	Layers []*Layer
	out    *gorgonia.Node
}

// Out Returns reference to output node
func (net *Network) Out() *gorgonia.Node {
	return net.out
}

// Learnables Returns learnables nodes. Order is: weights then bias for each layer, layers as defined.
func (net *Network) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			if l.WeightNode != nil {
				learnables = append(learnables, l.WeightNode)
			}
			if l.BiasNode != nil {
				learnables = append(learnables, l.BiasNode)
			}
		}
	}
	return learnables
}

func (net *Network) name() string {
	if net.Name != "" {
		return net.Name
	}
	return "network"
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
//
func (net *Network) Fwd(input *gorgonia.Node, batchSize int) error {
	networkName := net.name()
	if len(net.Layers) == 0 {
		return fmt.Errorf("%s must have one layer atleast", networkName)
	}
	lastActivatedLayer := input
	for i, l := range net.Layers {
		if l == nil {
			return fmt.Errorf("%s's layer #%d is nil", networkName, i)
		}
		if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
			return fmt.Errorf("%s's layer's #%d WeightNode is nil", networkName, i)
		}
		// Feedforward input through i-th layer
		layerNonActivated, err := l.Fwd(batchSize, lastActivatedLayer)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("[%s, Layer #%d (%s)] Can't feedforward input before activation", networkName, i, l.Type))
		}
		if layerNonActivated != lastActivatedLayer {
			gorgonia.WithName(fmt.Sprintf("%s_%d", networkName, i))(layerNonActivated)
		}
		// Activate i-th layer's output
		layerActivated, err := l.activate(layerNonActivated)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't apply activation function to non-activated output of %s's layer #%d", networkName, i))
		}
		if layerActivated != layerNonActivated {
			gorgonia.WithName(fmt.Sprintf("%s_activated_%d", networkName, i))(layerActivated)
		}
		lastActivatedLayer = layerActivated
	}
	net.out = lastActivatedLayer
	return nil
}

// Save Saves parameters of every layer into its own file.
//
// files - one resource name per layer. Empty string means "no persisted state for this layer".
//
func (net *Network) Save(files []string) error {
	if len(files) != len(net.Layers) {
		return fmt.Errorf("%s has %d layers, but %d file names provided", net.name(), len(net.Layers), len(files))
	}
	for i, fname := range files {
		if fname == "" || net.Layers[i] == nil {
			continue
		}
		if err := saveLayer(net.Layers[i], fname); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't save %s's layer #%d", net.name(), i))
		}
	}
	return nil
}

// Load Loads parameters of every layer from its own file. Shapes must match layer definition.
//
// files - one resource name per layer. Empty string means "no persisted state for this layer".
//
func (net *Network) Load(files []string) error {
	if len(files) != len(net.Layers) {
		return fmt.Errorf("%s has %d layers, but %d file names provided", net.name(), len(net.Layers), len(files))
	}
	for i, fname := range files {
		if fname == "" || net.Layers[i] == nil {
			continue
		}
		if err := loadLayer(net.Layers[i], fname); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't load %s's layer #%d", net.name(), i))
		}
	}
	return nil
}
