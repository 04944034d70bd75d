package mocap_gan

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	DefaultAlpha = 0.000001
	DefaultBeta1 = 0.9
	DefaultBeta2 = 0.999
	DefaultEps   = 1e-8
)

// AdamConfig Per-network Adam hyperparameters
//
// Alpha - learning rate
// Beta1 - decay rate of first moment estimate
// Beta2 - decay rate of second moment estimate
//
type AdamConfig struct {
	Alpha float64 `yaml:"alpha"`
	Beta1 float64 `yaml:"beta1"`
	Beta2 float64 `yaml:"beta2"`
}

// DefaultAdamConfig Returns learning rate 1e-6 and decay rates 0.9/0.999
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{Alpha: DefaultAlpha, Beta1: DefaultBeta1, Beta2: DefaultBeta2}
}

// Validate Checks that hyperparameters are usable
func (cfg AdamConfig) Validate() error {
	if cfg.Alpha <= 0 || math.IsNaN(cfg.Alpha) {
		return fmt.Errorf("alpha must be > 0 (got %v)", cfg.Alpha)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 {
		return fmt.Errorf("beta1 must be in [0, 1) (got %v)", cfg.Beta1)
	}
	if cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return fmt.Errorf("beta2 must be in [0, 1) (got %v)", cfg.Beta2)
	}
	return nil
}

// ParamState Single trainable parameter together with its Adam moments. All three tensors share the same shape.
type ParamState struct {
	Name  string
	Value *tensor.Dense
	M0    *tensor.Dense
	M1    *tensor.Dense
}

// OptimizerState Snapshot of one network's optimizer state at a batch boundary.
//
// T - time-step counter used for bias correction. Starts with 1 and grows by 1 after every batch.
//
type OptimizerState struct {
	Network NetworkKind
	T       int
	Params  []ParamState
}

// NewOptimizerState Snapshots current values of provided nodes and allocates zero-valued moments for each of them.
func NewOptimizerState(kind NetworkKind, nodes gorgonia.Nodes) (*OptimizerState, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s has no learnables", kind)
	}
	st := &OptimizerState{
		Network: kind,
		T:       1,
		Params:  make([]ParamState, len(nodes)),
	}
	for i, n := range nodes {
		value, err := nodeDense(n)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't init optimizer state for %s", kind))
		}
		shp := value.Shape().Clone()
		st.Params[i] = ParamState{
			Name:  n.Name(),
			Value: cloneDense(value),
			M0:    tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shp...)),
			M1:    tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shp...)),
		}
	}
	return st, nil
}

// AdamStep Computes one Adam update for every parameter and returns new state. Provided state is not modified.
//
// grads - gradients aligned with st.Params
//
// For each parameter p with gradient g:
//
//	m0' = beta1*m0 + (1-beta1)*g
//	m1' = beta2*m1 + (1-beta2)*(g*g)
//	p'  = p - alpha * (m0' / (1-beta1^t)) / (sqrt(m1' / (1-beta2^t)) + eps)
//
// where t is st.T (before increment). New state has T = st.T + 1.
//
func AdamStep(cfg AdamConfig, eps float64, st *OptimizerState, grads []*tensor.Dense) (*OptimizerState, error) {
	if len(grads) != len(st.Params) {
		return nil, fmt.Errorf("%s has %d parameters, but %d gradients provided", st.Network, len(st.Params), len(grads))
	}
	b1t := 1 - math.Pow(cfg.Beta1, float64(st.T))
	b2t := 1 - math.Pow(cfg.Beta2, float64(st.T))
	next := &OptimizerState{
		Network: st.Network,
		T:       st.T + 1,
		Params:  make([]ParamState, len(st.Params)),
	}
	for i, ps := range st.Params {
		grad := grads[i]
		if grad == nil {
			return nil, fmt.Errorf("Gradient for '%s' is nil", ps.Name)
		}
		if !grad.Shape().Eq(ps.Value.Shape()) {
			return nil, fmt.Errorf("Gradient shape %v does not match shape %v of '%s'", grad.Shape(), ps.Value.Shape(), ps.Name)
		}
		g, ok := grad.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("Gradient for '%s' has dtype %v, but only %v is supported", ps.Name, grad.Dtype(), tensor.Float64)
		}
		p, m0, m1 := float64s(ps.Value), float64s(ps.M0), float64s(ps.M1)
		pNew := make([]float64, len(p))
		m0New := make([]float64, len(p))
		m1New := make([]float64, len(p))
		for j := range p {
			m0New[j] = cfg.Beta1*m0[j] + (1-cfg.Beta1)*g[j]
			m1New[j] = cfg.Beta2*m1[j] + (1-cfg.Beta2)*(g[j]*g[j])
			m0Hat := m0New[j] / b1t
			m1Hat := m1New[j] / b2t
			pNew[j] = p[j] - cfg.Alpha*m0Hat/(math.Sqrt(m1Hat)+eps)
		}
		shp := ps.Value.Shape().Clone()
		next.Params[i] = ParamState{
			Name:  ps.Name,
			Value: tensor.New(tensor.WithShape(shp...), tensor.WithBacking(pNew)),
			M0:    tensor.New(tensor.WithShape(shp...), tensor.WithBacking(m0New)),
			M1:    tensor.New(tensor.WithShape(shp...), tensor.WithBacking(m1New)),
		}
	}
	return next, nil
}

// BiasCorrected Returns bias-corrected moment estimates m0/(1-beta1^t) and m1/(1-beta2^t) of i-th parameter.
func (st *OptimizerState) BiasCorrected(cfg AdamConfig, i, t int) (m0Hat, m1Hat []float64) {
	b1t := 1 - math.Pow(cfg.Beta1, float64(t))
	b2t := 1 - math.Pow(cfg.Beta2, float64(t))
	m0, m1 := float64s(st.Params[i].M0), float64s(st.Params[i].M1)
	m0Hat = make([]float64, len(m0))
	m1Hat = make([]float64, len(m1))
	for j := range m0 {
		m0Hat[j] = m0[j] / b1t
		m1Hat[j] = m1[j] / b2t
	}
	return m0Hat, m1Hat
}

// HasNaN Reports whether any value or moment is NaN
func (st *OptimizerState) HasNaN() bool {
	for _, ps := range st.Params {
		if floats.HasNaN(float64s(ps.Value)) || floats.HasNaN(float64s(ps.M0)) || floats.HasNaN(float64s(ps.M1)) {
			return true
		}
	}
	return false
}

// Clone Deep copy of state
func (st *OptimizerState) Clone() *OptimizerState {
	cp := &OptimizerState{
		Network: st.Network,
		T:       st.T,
		Params:  make([]ParamState, len(st.Params)),
	}
	for i, ps := range st.Params {
		cp.Params[i] = ParamState{
			Name:  ps.Name,
			Value: cloneDense(ps.Value),
			M0:    cloneDense(ps.M0),
			M1:    cloneDense(ps.M1),
		}
	}
	return cp
}

// commitStates Writes parameter values of every provided state into its nodes.
// Shapes are checked for all parameters before anything is written, so either every node is updated or none.
func commitStates(states []*OptimizerState, nodes []gorgonia.Nodes) error {
	if len(states) != len(nodes) {
		return fmt.Errorf("Got %d states, but %d node sets", len(states), len(nodes))
	}
	for k, st := range states {
		if len(st.Params) != len(nodes[k]) {
			return fmt.Errorf("%s state has %d parameters, but %d nodes provided", st.Network, len(st.Params), len(nodes[k]))
		}
		for i, ps := range st.Params {
			dst, err := nodeDense(nodes[k][i])
			if err != nil {
				return err
			}
			if !dst.Shape().Eq(ps.Value.Shape()) {
				return fmt.Errorf("Shape mismatch on commit for '%s': have %v, got %v", ps.Name, dst.Shape(), ps.Value.Shape())
			}
		}
	}
	for k, st := range states {
		for i, ps := range st.Params {
			dst, _ := nodeDense(nodes[k][i])
			copy(float64s(dst), float64s(ps.Value))
		}
	}
	return nil
}
