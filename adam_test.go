package mocap_gan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func denseOf(shape []int, values ...float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(values))
}

func testState(values ...[]float64) *OptimizerState {
	st := &OptimizerState{Network: NetworkGenerator, T: 1}
	for _, v := range values {
		shp := []int{len(v)}
		st.Params = append(st.Params, ParamState{
			Name:  "p",
			Value: denseOf(shp, append([]float64{}, v...)...),
			M0:    tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shp...)),
			M1:    tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shp...)),
		})
	}
	return st
}

func TestAdamStepZeroGradient(t *testing.T) {
	cfg := AdamConfig{Alpha: 0.1, Beta1: 0.9, Beta2: 0.999}
	st := testState([]float64{1, -2, 3}, []float64{0.5})
	grads := []*tensor.Dense{denseOf([]int{3}, 0, 0, 0), denseOf([]int{1}, 0)}
	for step := 1; step <= 10; step++ {
		next, err := AdamStep(cfg, DefaultEps, st, grads)
		require.NoError(t, err)
		assert.Equal(t, st.T+1, next.T)
		st = next
	}
	assert.InDeltaSlice(t, []float64{1, -2, 3}, float64s(st.Params[0].Value), 1e-15)
	assert.InDeltaSlice(t, []float64{0.5}, float64s(st.Params[1].Value), 1e-15)
	assert.Equal(t, 11, st.T)
}

func TestAdamBiasCorrectionFirstStep(t *testing.T) {
	cfg := DefaultAdamConfig()
	g := []float64{0.3, -1.2, 4.5, 1e-3}
	st := testState([]float64{0, 0, 0, 0})
	next, err := AdamStep(cfg, DefaultEps, st, []*tensor.Dense{denseOf([]int{4}, g...)})
	require.NoError(t, err)

	m0Hat, m1Hat := next.BiasCorrected(cfg, 0, 1)
	for i := range g {
		assert.InEpsilon(t, g[i], m0Hat[i], 1e-9)
		assert.InEpsilon(t, g[i]*g[i], m1Hat[i], 1e-9)
	}
}

func TestAdamStepRule(t *testing.T) {
	cfg := AdamConfig{Alpha: 0.01, Beta1: 0.8, Beta2: 0.9}
	eps := 1e-8
	st := testState([]float64{1.5})
	g1, g2 := 0.4, -0.2

	next, err := AdamStep(cfg, eps, st, []*tensor.Dense{denseOf([]int{1}, g1)})
	require.NoError(t, err)
	next, err = AdamStep(cfg, eps, next, []*tensor.Dense{denseOf([]int{1}, g2)})
	require.NoError(t, err)

	p, m0, m1 := 1.5, 0.0, 0.0
	for step, g := range []float64{g1, g2} {
		tt := float64(step + 1)
		m0 = cfg.Beta1*m0 + (1-cfg.Beta1)*g
		m1 = cfg.Beta2*m1 + (1-cfg.Beta2)*g*g
		p -= cfg.Alpha * (m0 / (1 - math.Pow(cfg.Beta1, tt))) / (math.Sqrt(m1/(1-math.Pow(cfg.Beta2, tt))) + eps)
	}
	assert.InDelta(t, p, float64s(next.Params[0].Value)[0], 1e-12)
	assert.InDelta(t, m0, float64s(next.Params[0].M0)[0], 1e-12)
	assert.InDelta(t, m1, float64s(next.Params[0].M1)[0], 1e-12)
	assert.Equal(t, 3, next.T)
}

func TestAdamStepKeepsShapesAndInput(t *testing.T) {
	cfg := DefaultAdamConfig()
	st := &OptimizerState{Network: NetworkDiscriminator, T: 1, Params: []ParamState{{
		Name:  "w",
		Value: denseOf([]int{2, 3}, 1, 2, 3, 4, 5, 6),
		M0:    tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(2, 3)),
		M1:    tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(2, 3)),
	}}}
	next, err := AdamStep(cfg, DefaultEps, st, []*tensor.Dense{denseOf([]int{2, 3}, 1, 1, 1, 1, 1, 1)})
	require.NoError(t, err)
	ps := next.Params[0]
	for _, d := range []*tensor.Dense{ps.Value, ps.M0, ps.M1} {
		assert.True(t, d.Shape().Eq(tensor.Shape{2, 3}))
	}
	// Input state is untouched
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, float64s(st.Params[0].Value))
	assert.Equal(t, 1, st.T)
	assert.Equal(t, NetworkDiscriminator, next.Network)
}

func TestAdamStepErrors(t *testing.T) {
	cfg := DefaultAdamConfig()
	st := testState([]float64{1, 2})
	_, err := AdamStep(cfg, DefaultEps, st, nil)
	assert.Error(t, err)
	_, err = AdamStep(cfg, DefaultEps, st, []*tensor.Dense{denseOf([]int{3}, 1, 2, 3)})
	assert.Error(t, err)
	_, err = AdamStep(cfg, DefaultEps, st, []*tensor.Dense{nil})
	assert.Error(t, err)
}

func TestOptimizerStateHasNaN(t *testing.T) {
	st := testState([]float64{1, 2})
	assert.False(t, st.HasNaN())
	float64s(st.Params[0].M1)[1] = math.NaN()
	assert.True(t, st.HasNaN())
}

func TestOptimizerStateClone(t *testing.T) {
	st := testState([]float64{1, 2})
	cp := st.Clone()
	float64s(st.Params[0].Value)[0] = 100
	st.T = 7
	assert.Equal(t, []float64{1, 2}, float64s(cp.Params[0].Value))
	assert.Equal(t, 1, cp.T)
}

func TestNewOptimizerState(t *testing.T) {
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 2), gorgonia.WithName("w"), gorgonia.WithValue(denseOf([]int{2, 2}, 1, 2, 3, 4)))
	b := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, 2), gorgonia.WithName("b"), gorgonia.WithValue(denseOf([]int{1, 2}, 5, 6)))

	st, err := NewOptimizerState(NetworkGenerator, gorgonia.Nodes{w, b})
	require.NoError(t, err)
	assert.Equal(t, 1, st.T)
	require.Len(t, st.Params, 2)
	assert.Equal(t, "w", st.Params[0].Name)
	assert.Equal(t, []float64{1, 2, 3, 4}, float64s(st.Params[0].Value))
	assert.Equal(t, []float64{0, 0}, float64s(st.Params[1].M0))
	assert.Equal(t, []float64{0, 0}, float64s(st.Params[1].M1))

	// Snapshot does not alias node value
	float64s(st.Params[0].Value)[0] = 42
	nodeValue, err := nodeDense(w)
	require.NoError(t, err)
	assert.Equal(t, 1.0, float64s(nodeValue)[0])

	_, err = NewOptimizerState(NetworkGenerator, nil)
	assert.Error(t, err)
}

func TestCommitStatesIsAllOrNothing(t *testing.T) {
	g := gorgonia.NewGraph()
	w := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, 2), gorgonia.WithName("w"), gorgonia.WithValue(denseOf([]int{1, 2}, 1, 2)))
	v := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, 1), gorgonia.WithName("v"), gorgonia.WithValue(denseOf([]int{1, 1}, 3)))

	good := &OptimizerState{Network: NetworkGenerator, T: 2, Params: []ParamState{{Name: "w", Value: denseOf([]int{1, 2}, 10, 20)}}}
	bad := &OptimizerState{Network: NetworkDiscriminator, T: 2, Params: []ParamState{{Name: "v", Value: denseOf([]int{1, 2}, 30, 40)}}}
	err := commitStates([]*OptimizerState{good, bad}, []gorgonia.Nodes{{w}, {v}})
	require.Error(t, err)
	wValue, _ := nodeDense(w)
	assert.Equal(t, []float64{1, 2}, float64s(wValue))

	bad.Params[0].Value = denseOf([]int{1, 1}, 30)
	err = commitStates([]*OptimizerState{good, bad}, []gorgonia.Nodes{{w}, {v}})
	require.NoError(t, err)
	vValue, _ := nodeDense(v)
	assert.Equal(t, []float64{10, 20}, float64s(wValue))
	assert.Equal(t, []float64{30}, float64s(vValue))
}

func TestAdamConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultAdamConfig().Validate())
	assert.Error(t, AdamConfig{Alpha: 0, Beta1: 0.9, Beta2: 0.999}.Validate())
	assert.Error(t, AdamConfig{Alpha: 0.1, Beta1: 1, Beta2: 0.999}.Validate())
	assert.Error(t, AdamConfig{Alpha: 0.1, Beta1: 0.9, Beta2: -0.1}.Validate())
}
