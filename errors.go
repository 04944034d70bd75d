package mocap_gan

import (
	"fmt"

	"github.com/pkg/errors"
)

// NetworkKind Identifies one of two networks of GAN pair
type NetworkKind uint16

const (
	NetworkGenerator = NetworkKind(iota)
	NetworkDiscriminator
)

func (k NetworkKind) String() string {
	switch k {
	case NetworkGenerator:
		return "generator"
	case NetworkDiscriminator:
		return "discriminator"
	default:
		return fmt.Sprintf("network_%d", uint16(k))
	}
}

// DivergenceSource Where NaN has been found
type DivergenceSource uint16

const (
	// DivergenceCost NaN in network's cost
	DivergenceCost = DivergenceSource(iota)
	// DivergenceState NaN in updated parameters or moments (e.g. NaN gradient)
	DivergenceState
)

func (s DivergenceSource) String() string {
	switch s {
	case DivergenceCost:
		return "cost"
	case DivergenceState:
		return "parameters"
	default:
		return fmt.Sprintf("source_%d", uint16(s))
	}
}

// DivergenceError NaN has been detected during training. Run is aborted and the batch which produced NaN is not committed.
//
// Network - which network diverged
// Epoch - zero-based epoch
// Batch - batch index in dataset (not position in shuffled order)
// Step - network's time-step counter for that batch
//
type DivergenceError struct {
	Network NetworkKind
	Source  DivergenceSource
	Epoch   int
	Batch   int
	Step    int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("NaN in %s %s: epoch %d, batch %d, step %d", e.Network, e.Source, e.Epoch, e.Batch, e.Step)
}

var (
	// ErrTrainerUsed Trainer runs exactly one training session
	ErrTrainerUsed = errors.New("trainer has already been used for training")
)
