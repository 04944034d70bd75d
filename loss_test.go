package mocap_gan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
)

func evalScalar(t *testing.T, g *gorgonia.ExprGraph, n *gorgonia.Node) float64 {
	var v gorgonia.Value
	gorgonia.Read(n, &v)
	tm := gorgonia.NewTapeMachine(g)
	defer tm.Close()
	require.NoError(t, tm.RunAll())
	result, err := scalarValue(v)
	require.NoError(t, err)
	return result
}

func probs(g *gorgonia.ExprGraph, name string, values ...float64) *gorgonia.Node {
	return gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(len(values), 1), gorgonia.WithName(name), gorgonia.WithValue(column(values...)))
}

func TestGeneratorCost(t *testing.T) {
	g := gorgonia.NewGraph()
	fake := probs(g, "fake", 0.5, 0.25)
	cost, err := GeneratorCost(fake)
	require.NoError(t, err)
	expected := -(math.Log(0.5) + math.Log(0.25)) / 2
	assert.InDelta(t, expected, evalScalar(t, g, cost), 1e-12)
}

func TestDiscriminatorCost(t *testing.T) {
	g := gorgonia.NewGraph()
	fake := probs(g, "fake", 0.1, 0.3)
	real := probs(g, "real", 0.8, 0.6)
	cost, err := DiscriminatorCost(fake, real)
	require.NoError(t, err)
	fakeCost := -(math.Log(0.9) + math.Log(0.7)) / 2
	realCost := -(math.Log(0.8) + math.Log(0.6)) / 2
	assert.InDelta(t, (fakeCost+realCost)/2, evalScalar(t, g, cost), 1e-12)
}

func TestBinaryCrossEntropyLoss(t *testing.T) {
	g := gorgonia.NewGraph()
	a := probs(g, "a", 0.2, 0.9, 0.5)
	b := probs(g, "b", 1, 0, 1)
	cost, err := BinaryCrossEntropyLoss(a, b, LossReductionSum)
	require.NoError(t, err)
	expected := -(math.Log(0.2) + math.Log(0.1) + math.Log(0.5))
	assert.InDelta(t, expected, evalScalar(t, g, cost), 1e-12)
}

func TestRegularization(t *testing.T) {
	g := gorgonia.NewGraph()
	w := probs(g, "w", 1, -3)
	b := probs(g, "b", 2)
	l1, err := L1Regularization(gorgonia.Nodes{w, b})
	require.NoError(t, err)
	l2, err := L2Regularization(gorgonia.Nodes{w, b})
	require.NoError(t, err)

	var l1Val, l2Val gorgonia.Value
	gorgonia.Read(l1, &l1Val)
	gorgonia.Read(l2, &l2Val)
	tm := gorgonia.NewTapeMachine(g)
	defer tm.Close()
	require.NoError(t, tm.RunAll())

	got, err := scalarValue(l1Val)
	require.NoError(t, err)
	assert.InDelta(t, (1.0+3.0)/2+2.0, got, 1e-12)
	got, err = scalarValue(l2Val)
	require.NoError(t, err)
	assert.InDelta(t, (1.0+9.0)/2+4.0, got, 1e-12)

	_, err = L2Regularization(nil)
	assert.Error(t, err)
}
