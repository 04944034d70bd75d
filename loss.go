package mocap_gan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// GeneratorCostFunc Scalar cost of Generator as function of Discriminator's probabilities on fake data
type GeneratorCostFunc func(fake *gorgonia.Node) (*gorgonia.Node, error)

// DiscriminatorCostFunc Scalar cost of Discriminator as function of its probabilities on fake and real data
type DiscriminatorCostFunc func(fake, real *gorgonia.Node) (*gorgonia.Node, error)

func reduce(n *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(n)
	case LossReductionMean:
		return gorgonia.Mean(n)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
// Default reduction is 'mean'
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction)
}

// L1Loss See ref. https://en.wikipedia.org/wiki/Least_absolute_deviations
// Default reduction is 'mean'
func L1Loss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	abs, err := gorgonia.Abs(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	return reduce(abs, reduction)
}

// BinaryCrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
//
// loss{i} = -[b{i}*log(a{i}) + (1-b{i})*log(1-a{i})]
//
// a - probabilities, b - targets (0 or 1) of the same shape.
// Default reduction is 'mean'
func BinaryCrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	logMain, err := gorgonia.Log(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	hprodMain, err := gorgonia.HadamardProd(logMain, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}

	onesTensor := gorgonia.NewTensor(a.Graph(), a.Dtype(), a.Dims(), gorgonia.WithShape(a.Shape()...), gorgonia.WithInit(gorgonia.Ones()))
	oneMinusA, err := gorgonia.Sub(onesTensor, a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A)")
	}
	logBin, err := gorgonia.Log(oneMinusA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1-A)")
	}
	oneMinusB, err := gorgonia.Sub(onesTensor, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-B)")
	}
	hprodBin, err := gorgonia.HadamardProd(logBin, oneMinusB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*(1-B))")
	}
	sum, err := gorgonia.Add(hprodMain, hprodBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	neg, err := gorgonia.Neg(sum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return reduce(neg, reduction)
}

func constantLike(a *gorgonia.Node, init gorgonia.InitWFn, name string) *gorgonia.Node {
	return gorgonia.NewTensor(a.Graph(), a.Dtype(), a.Dims(), gorgonia.WithShape(a.Shape()...), gorgonia.WithInit(init), gorgonia.WithName(name))
}

// GeneratorCost Generator wants Discriminator to classify fakes as real: mean BCE of fake probabilities against all-ones target.
func GeneratorCost(fake *gorgonia.Node) (*gorgonia.Node, error) {
	ones := constantLike(fake, gorgonia.Ones(), "generator_cost_target")
	cost, err := BinaryCrossEntropyLoss(fake, ones)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define generator cost")
	}
	return cost, nil
}

// DiscriminatorCost Average of mean BCE(fake, zeros) and mean BCE(real, ones).
func DiscriminatorCost(fake, real *gorgonia.Node) (*gorgonia.Node, error) {
	zeros := constantLike(fake, gorgonia.Zeroes(), "discriminator_cost_fake_target")
	ones := constantLike(real, gorgonia.Ones(), "discriminator_cost_real_target")
	fakeCost, err := BinaryCrossEntropyLoss(fake, zeros)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator cost on fake data")
	}
	realCost, err := BinaryCrossEntropyLoss(real, ones)
	if err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator cost on real data")
	}
	sum, err := gorgonia.Add(fakeCost, realCost)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	half := gorgonia.NewScalar(fake.Graph(), fake.Dtype(), gorgonia.WithValue(0.5), gorgonia.WithName("discriminator_cost_half"))
	cost, err := gorgonia.Mul(sum, half)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x*0.5)")
	}
	return cost, nil
}

// L1Regularization Sum of mean(|p|) over provided parameters
func L1Regularization(params gorgonia.Nodes) (*gorgonia.Node, error) {
	return regularization(params, L1Loss, "l1")
}

// L2Regularization Sum of mean(p^2) over provided parameters
func L2Regularization(params gorgonia.Nodes) (*gorgonia.Node, error) {
	return regularization(params, MSELoss, "l2")
}

type lossFunc func(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error)

func regularization(params gorgonia.Nodes, loss lossFunc, name string) (*gorgonia.Node, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("No parameters provided for %s regularization", name)
	}
	var total *gorgonia.Node
	for i, p := range params {
		zeros := constantLike(p, gorgonia.Zeroes(), fmt.Sprintf("%s_reg_target_%d", name, i))
		term, err := loss(p, zeros)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't define %s regularization term for '%s'", name, p.Name()))
		}
		if total == nil {
			total = term
			continue
		}
		total, err = gorgonia.Add(total, term)
		if err != nil {
			return nil, errors.Wrap(err, "Can't do (x+y)")
		}
	}
	return total, nil
}
