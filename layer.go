package mocap_gan

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just an alias to Weight+Bias+ActivationFunction combo
//
// Convolutional (2D) and Maxpool (2D) layers use KernelHeight/KernelWidth, Padding, Stride and Dilation as Gorgonia does.
// Conv1D and Maxpool1D layers use KernelWidth, Padding[0] and Stride[0] along the time axis of (batch, channels, frames) input.
// Upsample1D uses Scale, Dropout uses DropProb.
//
type Layer struct {
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
	ReshapeDims  []int
	Scale        int
	DropProb     float64
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerMaxpool
	LayerReshape
	LayerConv1D
	LayerMaxpool1D
	LayerUpsample1D
	LayerDropout
)

func (lt LayerType) String() string {
	switch lt {
	case LayerLinear:
		return "linear"
	case LayerFlatten:
		return "flatten"
	case LayerConvolutional:
		return "conv2d"
	case LayerMaxpool:
		return "maxpool2d"
	case LayerReshape:
		return "reshape"
	case LayerConv1D:
		return "conv1d"
	case LayerMaxpool1D:
		return "maxpool1d"
	case LayerUpsample1D:
		return "upsample1d"
	case LayerDropout:
		return "dropout"
	default:
		return fmt.Sprintf("layer_type_%d", uint16(lt))
	}
}

var (
	allowedNoWeights = []LayerType{LayerMaxpool, LayerFlatten, LayerReshape, LayerMaxpool1D, LayerUpsample1D, LayerDropout}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// Fwd Feedforward input through layer. Returns non-activated output.
//
// batchSize - batch size. If it's >= 2 then broadcast function will be applied for bias
// input - input node
//
func (l *Layer) Fwd(batchSize int, input *gorgonia.Node) (*gorgonia.Node, error) {
	if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
		return nil, fmt.Errorf("Layer of type '%s' has nil weight node", l.Type)
	}
	var out *gorgonia.Node
	var err error
	switch l.Type {
	case LayerLinear:
		if input.Dims() != 2 {
			return nil, fmt.Errorf("Linear layer expects 2D input, but got shape %v", input.Shape())
		}
		tOp, err := gorgonia.Transpose(l.WeightNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't transpose weights")
		}
		out, err = gorgonia.Mul(input, tOp)
		if err != nil {
			return nil, errors.Wrap(err, "Can't multiply input and weights")
		}
	case LayerConvolutional:
		out, err = gorgonia.Conv2d(input, l.WeightNode, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.Dilation)
		if err != nil {
			return nil, errors.Wrap(err, "Can't convolve[2D] input by kernel")
		}
	case LayerMaxpool:
		out, err = gorgonia.MaxPool2D(input, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride)
		if err != nil {
			return nil, errors.Wrap(err, "Can't maxpool[2D] input by kernel")
		}
	case LayerFlatten:
		out, err = gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrap(err, "Can't flatten input")
		}
	case LayerReshape:
		out, err = gorgonia.Reshape(input, l.ReshapeDims)
		if err != nil {
			return nil, errors.Wrap(err, "Can't reshape input")
		}
	case LayerConv1D:
		out, err = l.conv1d(input)
		if err != nil {
			return nil, err
		}
	case LayerMaxpool1D:
		out, err = l.maxpool1d(input)
		if err != nil {
			return nil, err
		}
	case LayerUpsample1D:
		out, err = l.upsample1d(input)
		if err != nil {
			return nil, err
		}
	case LayerDropout:
		out, err = gorgonia.Dropout(input, l.DropProb)
		if err != nil {
			return nil, errors.Wrap(err, "Can't apply dropout")
		}
	default:
		return nil, fmt.Errorf("Layer type '%d' (uint16) is not handled", l.Type)
	}
	if l.BiasNode == nil {
		return out, nil
	}
	if batchSize < 2 {
		out, err = gorgonia.Add(out, l.BiasNode)
		if err != nil {
			return nil, errors.Wrap(err, "Can't add bias to non-activated output")
		}
		return out, nil
	}
	out, err = gorgonia.BroadcastAdd(out, l.BiasNode, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't add [in broadcast term with batch_size = %d] bias to non-activated output", batchSize))
	}
	return out, nil
}

// activate Applies activation function. Nil activation means identity.
func (l *Layer) activate(input *gorgonia.Node) (*gorgonia.Node, error) {
	if l.Activation == nil {
		return input, nil
	}
	return l.Activation(input)
}

func (l *Layer) timeParams() (pad, stride int) {
	if len(l.Padding) > 0 {
		pad = l.Padding[0]
	}
	stride = 1
	if len(l.Stride) > 0 && l.Stride[0] > 0 {
		stride = l.Stride[0]
	}
	return pad, stride
}

// conv1d (batch, channels, frames) -> (batch, channels, 1, frames) -> Conv2d with (1, k) kernel -> (batch, filters, frames')
func (l *Layer) conv1d(input *gorgonia.Node) (*gorgonia.Node, error) {
	shp := input.Shape()
	if len(shp) != 3 {
		return nil, fmt.Errorf("Conv1D layer expects (batch, channels, frames) input, but got shape %v", shp)
	}
	pad, stride := l.timeParams()
	as2D, err := gorgonia.Reshape(input, tensor.Shape{shp[0], shp[1], 1, shp[2]})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input for convolution[1D]")
	}
	conv, err := gorgonia.Conv2d(as2D, l.WeightNode, tensor.Shape{1, l.KernelWidth}, []int{0, pad}, []int{1, stride}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't convolve[1D] input by kernel")
	}
	cshp := conv.Shape()
	out, err := gorgonia.Reshape(conv, tensor.Shape{cshp[0], cshp[1], cshp[3]})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape output of convolution[1D]")
	}
	return out, nil
}

func (l *Layer) maxpool1d(input *gorgonia.Node) (*gorgonia.Node, error) {
	shp := input.Shape()
	if len(shp) != 3 {
		return nil, fmt.Errorf("Maxpool1D layer expects (batch, channels, frames) input, but got shape %v", shp)
	}
	pad, stride := l.timeParams()
	as2D, err := gorgonia.Reshape(input, tensor.Shape{shp[0], shp[1], 1, shp[2]})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input for maxpool[1D]")
	}
	pooled, err := gorgonia.MaxPool2D(as2D, tensor.Shape{1, l.KernelWidth}, []int{0, pad}, []int{1, stride})
	if err != nil {
		return nil, errors.Wrap(err, "Can't maxpool[1D] input by kernel")
	}
	pshp := pooled.Shape()
	out, err := gorgonia.Reshape(pooled, tensor.Shape{pshp[0], pshp[1], pshp[3]})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape output of maxpool[1D]")
	}
	return out, nil
}

// upsample1d Repeats every frame Scale times: (batch, channels, frames) -> (batch, channels, frames*Scale)
func (l *Layer) upsample1d(input *gorgonia.Node) (*gorgonia.Node, error) {
	shp := input.Shape()
	if len(shp) != 3 {
		return nil, fmt.Errorf("Upsample1D layer expects (batch, channels, frames) input, but got shape %v", shp)
	}
	if l.Scale < 1 {
		return nil, fmt.Errorf("Upsample1D scale must be >= 1, but got %d", l.Scale)
	}
	if l.Scale == 1 {
		return input, nil
	}
	column, err := gorgonia.Reshape(input, tensor.Shape{shp[0], shp[1], shp[2], 1})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape input for upsampling[1D]")
	}
	copies := make(gorgonia.Nodes, l.Scale)
	for i := range copies {
		copies[i] = column
	}
	repeated, err := gorgonia.Concat(3, copies...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't repeat frames for upsampling[1D]")
	}
	out, err := gorgonia.Reshape(repeated, tensor.Shape{shp[0], shp[1], shp[2] * l.Scale})
	if err != nil {
		return nil, errors.Wrap(err, "Can't reshape output of upsampling[1D]")
	}
	return out, nil
}

// Inverse Returns structural inverse of layer which is used to build Generator as a mirror of Discriminator's downsampling path.
//
// Maxpool1D becomes Upsample1D (scale = pooling stride). Flatten and Reshape are returned as copies, since caller must provide target dims anyway.
// Layers with trainable parameters have no inverse.
//
func Inverse(l *Layer) (*Layer, error) {
	if l == nil {
		return nil, fmt.Errorf("Can't inverse nil layer")
	}
	switch l.Type {
	case LayerMaxpool1D:
		_, stride := l.timeParams()
		if len(l.Stride) == 0 {
			stride = l.KernelWidth
		}
		return &Layer{Type: LayerUpsample1D, Scale: stride, Activation: NoActivation}, nil
	case LayerReshape, LayerFlatten:
		dims := make([]int, len(l.ReshapeDims))
		copy(dims, l.ReshapeDims)
		return &Layer{Type: l.Type, ReshapeDims: dims, Activation: NoActivation}, nil
	case LayerDropout:
		return &Layer{Type: LayerDropout, DropProb: l.DropProb, Activation: NoActivation}, nil
	default:
		return nil, fmt.Errorf("Layer of type '%s' has no inverse", l.Type)
	}
}

// NewLinearLayer Creates fully connected layer with weights (out, in) and bias (1, out) defined on provided graph.
func NewLinearLayer(g *gorgonia.ExprGraph, name string, in, out int, init gorgonia.InitWFn, activation ActivationFunc) *Layer {
	w := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(out, in), gorgonia.WithName(name+"_w"), gorgonia.WithInit(init))
	b := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, out), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes()))
	return &Layer{
		WeightNode: w,
		BiasNode:   b,
		Type:       LayerLinear,
		Activation: activation,
	}
}

// NewConv1DLayer Creates convolution over time axis with filter (filters, channels, 1, kernel). Stride is 1, no bias.
func NewConv1DLayer(g *gorgonia.ExprGraph, name string, channels, filters, kernel, pad int, init gorgonia.InitWFn, activation ActivationFunc) *Layer {
	w := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(filters, channels, 1, kernel), gorgonia.WithName(name+"_w"), gorgonia.WithInit(init))
	return &Layer{
		WeightNode:  w,
		Type:        LayerConv1D,
		Activation:  activation,
		KernelWidth: kernel,
		Padding:     []int{pad},
		Stride:      []int{1},
	}
}

// NewMaxpool1DLayer Creates non-overlapping max pooling over time axis.
func NewMaxpool1DLayer(kernel int) *Layer {
	return &Layer{
		Type:        LayerMaxpool1D,
		Activation:  NoActivation,
		KernelWidth: kernel,
		Padding:     []int{0},
		Stride:      []int{kernel},
	}
}

func NewReshapeLayer(dims ...int) *Layer {
	return &Layer{Type: LayerReshape, ReshapeDims: dims, Activation: NoActivation}
}

func NewDropoutLayer(prob float64) *Layer {
	return &Layer{Type: LayerDropout, DropProb: prob, Activation: NoActivation}
}

// UniformInit Returns initializer which fills tensor with values from U[low, high) using provided source of randomness.
// Unlike gorgonia.Uniform it is reproducible with fixed seed.
func UniformInit(rng *rand.Rand, low, high float64) gorgonia.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		size := tensor.Shape(s).TotalSize()
		switch dt {
		case tensor.Float64:
			data := make([]float64, size)
			for i := range data {
				data[i] = low + (high-low)*rng.Float64()
			}
			return data
		case tensor.Float32:
			data := make([]float32, size)
			for i := range data {
				data[i] = float32(low + (high-low)*rng.Float64())
			}
			return data
		default:
			panic(fmt.Sprintf("Dtype %v is not supported by UniformInit", dt))
		}
	}
}

// GlorotUniformInit Glorot (Xavier) uniform initializer: U[-limit, limit], limit = gain*sqrt(6 / (fanIn + fanOut)).
// For 4D filters (out, in, kh, kw) receptive field size kh*kw is taken into account.
func GlorotUniformInit(rng *rand.Rand, gain float64) gorgonia.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		fanIn, fanOut := 1, 1
		switch len(s) {
		case 0:
		case 1:
			fanIn, fanOut = s[0], s[0]
		default:
			receptive := 1
			for _, v := range s[2:] {
				receptive *= v
			}
			fanOut = s[0] * receptive
			fanIn = s[1] * receptive
		}
		limit := gain * math.Sqrt(6.0/float64(fanIn+fanOut))
		return UniformInit(rng, -limit, limit)(dt, s...)
	}
}
