package mocap_gan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model Network which could be wired into GAN's joint graph. Both GeneratorNet and DiscriminatorNet satisfy it.
type Model interface {
	Fwd(input *gorgonia.Node, batchSize int) error
	Out() *gorgonia.Node
	Learnables() gorgonia.Nodes
	Layers() []*Layer
}

// GANConfig Describes joint graph of GAN
//
// BatchSize - number of real (and fake) samples per batch. Discriminator sees 2*BatchSize rows
// LatentDim - size of latent vector
// SampleShape - shape of single sample (without batch axis), e.g. (channels, frames)
// GeneratorCost, DiscriminatorCost - cost functions
// Regularize - if true then L1Weight/L2Weight regularization terms are added to each network's cost
//
type GANConfig struct {
	BatchSize         int
	LatentDim         int
	SampleShape       []int
	GeneratorCost     GeneratorCostFunc
	DiscriminatorCost DiscriminatorCostFunc
	Regularize        bool
	L1Weight          float64
	L2Weight          float64
}

// GAN Joint computation of Generator and Discriminator. Graph is defined once and then evaluated for every batch.
//
// generatorPart - reference to Generator
// discriminatorPart - reference to Discriminator
// detachedDiscriminator - copy of Discriminator's structure on nodes sharing its values. Generator cost is differentiated through it
// fakeProb, realProb - sigmoid of Discriminator's output on fake rows [0, batch) and real rows [batch, 2*batch)
//
type GAN struct {
	generatorPart         Model
	discriminatorPart     Model
	detachedDiscriminator *Network

	batchSize int
	latentDim int

	latent    *gorgonia.Node
	real      *gorgonia.Node
	generated *gorgonia.Node
	fakeProb  *gorgonia.Node
	realProb  *gorgonia.Node
	genCost   *gorgonia.Node
	disCost   *gorgonia.Node

	learnablesGen gorgonia.Nodes
	learnablesDis gorgonia.Nodes

	generatedVal gorgonia.Value
	fakeProbVal  gorgonia.Value
	realProbVal  gorgonia.Value
	genCostVal   gorgonia.Value
	disCostVal   gorgonia.Value

	tm        gorgonia.VM
	tmSample  gorgonia.VM
	evaluated bool
}

// BatchResult Outcome of single evaluation of joint graph. All tensors are copies and stay valid after next evaluation.
type BatchResult struct {
	GeneratorLoss      float64
	DiscriminatorLoss  float64
	Generated          *tensor.Dense
	FakeProb           *tensor.Dense
	RealProb           *tensor.Dense
	GeneratorGrads     []*tensor.Dense
	DiscriminatorGrads []*tensor.Dense
}

// NewGAN Defines joint graph on provided graph. Both networks must be defined on the same graph.
//
// Shape problems (latent size, sample shape, discriminator output) are reported here, before any training happens.
//
func NewGAN(g *gorgonia.ExprGraph, definedGenerator, definedDiscriminator Model, cfg GANConfig) (*GAN, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.LatentDim <= 0 {
		return nil, fmt.Errorf("latent dim must be > 0 (got %d)", cfg.LatentDim)
	}
	if len(cfg.SampleShape) == 0 {
		return nil, fmt.Errorf("sample shape must be provided")
	}
	if cfg.GeneratorCost == nil || cfg.DiscriminatorCost == nil {
		return nil, fmt.Errorf("both generator and discriminator cost functions must be provided")
	}
	if err := checkLatentDim(definedGenerator, cfg.LatentDim); err != nil {
		return nil, err
	}
	net := &GAN{
		generatorPart:     definedGenerator,
		discriminatorPart: definedDiscriminator,
		batchSize:         cfg.BatchSize,
		latentDim:         cfg.LatentDim,
		learnablesGen:     definedGenerator.Learnables(),
		learnablesDis:     definedDiscriminator.Learnables(),
	}
	if len(net.learnablesGen) == 0 {
		return nil, fmt.Errorf("Generator has no learnables")
	}
	if len(net.learnablesDis) == 0 {
		return nil, fmt.Errorf("Discriminator has no learnables")
	}

	batch := cfg.BatchSize
	net.latent = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(batch, cfg.LatentDim), gorgonia.WithName("gan_latent"))
	realShape := append([]int{batch}, cfg.SampleShape...)
	net.real = gorgonia.NewTensor(g, gorgonia.Float64, len(realShape), gorgonia.WithShape(realShape...), gorgonia.WithName("gan_real_input"))

	if err := definedGenerator.Fwd(net.latent, batch); err != nil {
		return nil, errors.Wrap(err, "Can't feedforward latent batch through Generator")
	}
	net.generated = definedGenerator.Out()
	if !net.generated.Shape().Eq(tensor.Shape(realShape)) {
		return nil, fmt.Errorf("Generator produces shape %v, but real batch has shape %v", net.generated.Shape(), realShape)
	}

	// Fake examples first, real examples second: single Discriminator pass over both
	concat, err := gorgonia.Concat(0, net.generated, net.real)
	if err != nil {
		return nil, errors.Wrap(err, "Can't concatenate fake and real batches")
	}
	gorgonia.WithName("gan_discriminator_input")(concat)
	if err := definedDiscriminator.Fwd(concat, 2*batch); err != nil {
		return nil, errors.Wrap(err, "Can't feedforward concatenated batch through Discriminator")
	}
	disOut := definedDiscriminator.Out()
	if disOut.Dims() == 0 || disOut.Shape()[0] != 2*batch {
		return nil, fmt.Errorf("Discriminator must keep batch axis: expected %d rows, but got shape %v", 2*batch, disOut.Shape())
	}

	fakeScores, err := gorgonia.Slice(disOut, gorgonia.S(0, batch))
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice fake scores")
	}
	realScores, err := gorgonia.Slice(disOut, gorgonia.S(batch, 2*batch))
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice real scores")
	}
	net.fakeProb, err = gorgonia.Sigmoid(fakeScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply sigmoid to fake scores")
	}
	gorgonia.WithName("gan_fake_prob")(net.fakeProb)
	net.realProb, err = gorgonia.Sigmoid(realScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply sigmoid to real scores")
	}
	gorgonia.WithName("gan_real_prob")(net.realProb)

	// Gorgonia skips nodes differentiated by previous Grad call, so both costs can't go through the same Discriminator nodes.
	// Generator cost uses detached copy over the same concatenated batch: values are equal, nodes are not.
	net.detachedDiscriminator, err = detachDiscriminator(g, definedDiscriminator)
	if err != nil {
		return nil, err
	}
	if err := net.detachedDiscriminator.Fwd(concat, 2*batch); err != nil {
		return nil, errors.Wrap(err, "Can't feedforward concatenated batch through detached Discriminator")
	}
	detachedScores, err := gorgonia.Slice(net.detachedDiscriminator.Out(), gorgonia.S(0, batch))
	if err != nil {
		return nil, errors.Wrap(err, "Can't slice fake scores of detached Discriminator")
	}
	genFakeProb, err := gorgonia.Sigmoid(detachedScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't apply sigmoid to fake scores of detached Discriminator")
	}
	gorgonia.WithName("gan_generator_fake_prob")(genFakeProb)

	net.genCost, err = cfg.GeneratorCost(genFakeProb)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define Generator cost")
	}
	net.disCost, err = cfg.DiscriminatorCost(net.fakeProb, net.realProb)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define Discriminator cost")
	}
	if cfg.Regularize {
		net.genCost, err = addRegularization(net.genCost, net.learnablesGen, cfg.L1Weight, cfg.L2Weight)
		if err != nil {
			return nil, errors.Wrap(err, "Can't regularize Generator cost")
		}
		net.disCost, err = addRegularization(net.disCost, net.learnablesDis, cfg.L1Weight, cfg.L2Weight)
		if err != nil {
			return nil, errors.Wrap(err, "Can't regularize Discriminator cost")
		}
	}
	gorgonia.WithName("gan_generator_cost")(net.genCost)
	gorgonia.WithName("gan_discriminator_cost")(net.disCost)

	// Each cost is differentiated with respect to its own network's learnables only
	if _, err = gorgonia.Grad(net.genCost, net.learnablesGen...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients of Generator cost")
	}
	if _, err = gorgonia.Grad(net.disCost, net.learnablesDis...); err != nil {
		return nil, errors.Wrap(err, "Can't define gradients of Discriminator cost")
	}

	generatedRead := gorgonia.Read(net.generated, &net.generatedVal)
	gorgonia.Read(net.fakeProb, &net.fakeProbVal)
	gorgonia.Read(net.realProb, &net.realProbVal)
	gorgonia.Read(net.genCost, &net.genCostVal)
	gorgonia.Read(net.disCost, &net.disCostVal)

	learnables := make(gorgonia.Nodes, 0, len(net.learnablesGen)+len(net.learnablesDis))
	learnables = append(learnables, net.learnablesGen...)
	learnables = append(learnables, net.learnablesDis...)
	net.tm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(learnables...))
	// Generator-only machine for sampling
	net.tmSample = gorgonia.NewTapeMachine(g.SubgraphRoots(generatedRead))
	return net, nil
}

// detachDiscriminator Copies structure of Discriminator. Every learnable of the copy is a new node bound to the very same tensor,
// so parameters committed into Discriminator are seen by the copy, while gradients of the copy are never computed.
func detachDiscriminator(g *gorgonia.ExprGraph, definedDiscriminator Model) (*Network, error) {
	layers := definedDiscriminator.Layers()
	detached := &Network{
		Name:   "gan_discriminator",
		Layers: make([]*Layer, len(layers)),
	}
	for i, l := range layers {
		if l == nil {
			return nil, fmt.Errorf("Discriminator's layer #%d is nil", i)
		}
		cp := *l
		var err error
		if cp.WeightNode, err = sharedValueNode(g, l.WeightNode); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't detach weights of Discriminator's layer #%d", i))
		}
		if cp.BiasNode, err = sharedValueNode(g, l.BiasNode); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't detach bias of Discriminator's layer #%d", i))
		}
		detached.Layers[i] = &cp
	}
	return detached, nil
}

func sharedValueNode(g *gorgonia.ExprGraph, n *gorgonia.Node) (*gorgonia.Node, error) {
	if n == nil {
		return nil, nil
	}
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("Node '%s' has no value", n.Name())
	}
	return gorgonia.NewTensor(g, n.Dtype(), n.Dims(), gorgonia.WithShape(n.Shape()...), gorgonia.WithName(n.Name()+"_gan"), gorgonia.WithValue(v)), nil
}

func checkLatentDim(definedGenerator Model, latentDim int) error {
	layers := definedGenerator.Layers()
	for _, l := range layers {
		if l == nil {
			return nil
		}
		if l.Type == LayerDropout {
			continue
		}
		if l.Type == LayerLinear && l.WeightNode != nil {
			shp := l.WeightNode.Shape()
			if len(shp) == 2 && shp[1] != latentDim {
				return fmt.Errorf("Generator's first linear layer expects %d inputs, but latent dim is %d", shp[1], latentDim)
			}
		}
		return nil
	}
	return nil
}

func addRegularization(cost *gorgonia.Node, params gorgonia.Nodes, l1Weight, l2Weight float64) (*gorgonia.Node, error) {
	terms := []struct {
		weight float64
		build  func(gorgonia.Nodes) (*gorgonia.Node, error)
	}{
		{l1Weight, L1Regularization},
		{l2Weight, L2Regularization},
	}
	for _, term := range terms {
		if term.weight == 0 {
			continue
		}
		reg, err := term.build(params)
		if err != nil {
			return nil, err
		}
		weight := gorgonia.NewScalar(cost.Graph(), cost.Dtype(), gorgonia.WithValue(term.weight))
		weighted, err := gorgonia.Mul(weight, reg)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (w*x)")
		}
		cost, err = gorgonia.Add(cost, weighted)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x+y)")
		}
	}
	return cost, nil
}

// GeneratorOut Returns reference to output node of generator part
func (net *GAN) GeneratorOut() *gorgonia.Node {
	return net.generated
}

// GeneratorLearnables Returns learnables nodes of generator part
func (net *GAN) GeneratorLearnables() gorgonia.Nodes {
	return net.learnablesGen
}

// DiscriminatorLearnables Returns learnables nodes of discriminator part
func (net *GAN) DiscriminatorLearnables() gorgonia.Nodes {
	return net.learnablesDis
}

// Learnables Returns learnables of requested network
func (net *GAN) Learnables(kind NetworkKind) gorgonia.Nodes {
	if kind == NetworkGenerator {
		return net.learnablesGen
	}
	return net.learnablesDis
}

// BatchSize Returns batch size graph has been defined for
func (net *GAN) BatchSize() int {
	return net.batchSize
}

// LatentDim Returns size of latent vector
func (net *GAN) LatentDim() int {
	return net.latentDim
}

// Evaluate Runs joint graph once for provided latent and real batches. Parameters are not modified.
func (net *GAN) Evaluate(latent, real *tensor.Dense) (*BatchResult, error) {
	if !latent.Shape().Eq(net.latent.Shape()) {
		return nil, fmt.Errorf("Latent batch has shape %v, but %v expected", latent.Shape(), net.latent.Shape())
	}
	if !real.Shape().Eq(net.real.Shape()) {
		return nil, fmt.Errorf("Real batch has shape %v, but %v expected", real.Shape(), net.real.Shape())
	}
	if err := gorgonia.Let(net.latent, latent); err != nil {
		return nil, errors.Wrap(err, "Can't init latent input value")
	}
	if err := gorgonia.Let(net.real, real); err != nil {
		return nil, errors.Wrap(err, "Can't init real input value")
	}
	// Bound dual values sum gradients of every run. They exist only after the first one
	if net.evaluated {
		zeroGradients(net.learnablesGen)
		zeroGradients(net.learnablesDis)
	}
	net.evaluated = true
	defer net.tm.Reset()
	if err := net.tm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	var err error
	result := &BatchResult{}
	if result.GeneratorLoss, err = scalarValue(net.genCostVal); err != nil {
		return nil, errors.Wrap(err, "Can't read Generator cost")
	}
	if result.DiscriminatorLoss, err = scalarValue(net.disCostVal); err != nil {
		return nil, errors.Wrap(err, "Can't read Discriminator cost")
	}
	if result.Generated, err = denseValue(net.generatedVal); err != nil {
		return nil, errors.Wrap(err, "Can't read Generator output")
	}
	if result.FakeProb, err = denseValue(net.fakeProbVal); err != nil {
		return nil, errors.Wrap(err, "Can't read fake probabilities")
	}
	if result.RealProb, err = denseValue(net.realProbVal); err != nil {
		return nil, errors.Wrap(err, "Can't read real probabilities")
	}
	if result.GeneratorGrads, err = gradients(net.learnablesGen); err != nil {
		return nil, errors.Wrap(err, "Can't read Generator gradients")
	}
	if result.DiscriminatorGrads, err = gradients(net.learnablesDis); err != nil {
		return nil, errors.Wrap(err, "Can't read Discriminator gradients")
	}
	return result, nil
}

// Sample Runs Generator alone for provided latent batch
func (net *GAN) Sample(latent *tensor.Dense) (*tensor.Dense, error) {
	if !latent.Shape().Eq(net.latent.Shape()) {
		return nil, fmt.Errorf("Latent batch has shape %v, but %v expected", latent.Shape(), net.latent.Shape())
	}
	if err := gorgonia.Let(net.latent, latent); err != nil {
		return nil, errors.Wrap(err, "Can't init latent input value")
	}
	defer net.tmSample.Reset()
	if err := net.tmSample.RunAll(); err != nil {
		return nil, errors.Wrap(err, "Can't run VM")
	}
	return denseValue(net.generatedVal)
}

// Close Releases tape machines
func (net *GAN) Close() error {
	errGen := net.tmSample.Close()
	if err := net.tm.Close(); err != nil {
		return errors.Wrap(err, "Can't close training VM")
	}
	if errGen != nil {
		return errors.Wrap(errGen, "Can't close sampling VM")
	}
	return nil
}

func gradients(nodes gorgonia.Nodes) ([]*tensor.Dense, error) {
	valueGrads := gorgonia.NodesToValueGrads(nodes)
	grads := make([]*tensor.Dense, len(valueGrads))
	for i, vg := range valueGrads {
		grad, err := vg.Grad()
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't get gradient of '%s'", nodes[i].Name()))
		}
		grads[i], err = denseValue(grad)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't copy gradient of '%s'", nodes[i].Name()))
		}
	}
	return grads, nil
}

func zeroGradients(nodes gorgonia.Nodes) {
	for _, n := range nodes {
		grad, err := n.Grad()
		if err != nil {
			continue
		}
		if dense, ok := grad.(*tensor.Dense); ok {
			dense.Zero()
		}
	}
}

func scalarValue(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("value has not been computed")
	}
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
		return 0, fmt.Errorf("expected scalar, but got %d elements", len(data))
	default:
		return 0, fmt.Errorf("expected float64 scalar, but got %T", data)
	}
}

func denseValue(v gorgonia.Value) (*tensor.Dense, error) {
	if v == nil {
		return nil, fmt.Errorf("value has not been computed")
	}
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("expected *tensor.Dense, but got %T", v)
	}
	return cloneDense(dense), nil
}
