package mocap_gan

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)

func NoActivation(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) { return a, nil }
func Abs(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)          { return gorgonia.Abs(a) }
func Exp(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)          { return gorgonia.Exp(a) }
func Neg(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)          { return gorgonia.Neg(a) }
func Square(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)       { return gorgonia.Square(a) }
func Tanh(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Softplus(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)     { return gorgonia.Softplus(a) }
func Rectify(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }

// LeakyRelu Default slope is 0.01. First option with non-zero Alpha overrides it.
func LeakyRelu(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	alpha := 0.01
	for i := range opts {
		if opts[i].Alpha != 0 {
			alpha = opts[i].Alpha
			break
		}
	}
	return gorgonia.LeakyRelu(a, alpha)
}

// Elu Exponential linear unit with alpha = 1:
//
// elu(x) = max(x, 0) + exp(min(x, 0)) - 1
//
// min(x, 0) is expressed as -max(-x, 0) so the whole thing stays differentiable in Gorgonia terms.
func Elu(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	pos, err := gorgonia.Rectify(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(x, 0)")
	}
	negA, err := gorgonia.Neg(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	negPart, err := gorgonia.Rectify(negA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do max(-x, 0)")
	}
	minPart, err := gorgonia.Neg(negPart)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do min(x, 0)")
	}
	expPart, err := gorgonia.Exp(minPart)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do exp(min(x, 0))")
	}
	oneScalar := gorgonia.NewScalar(a.Graph(), a.Dtype(), gorgonia.WithValue(1.0))
	expm1, err := gorgonia.Sub(expPart, oneScalar)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X.-1)")
	}
	return gorgonia.Add(pos, expm1)
}

func Softmax(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	for i := range opts {
		// Check if axis option is provided
		// First i-th option with provided field 'Axis' would be considered for use.
		if len(opts[i].Axis) > 0 {
			return gorgonia.SoftMax(a, opts[i].Axis...)
		}
	}
	return gorgonia.SoftMax(a)
}

// Options Struct for holding options for certain activation functions.
type Options struct {
	Axis  []int
	Alpha float64
}
