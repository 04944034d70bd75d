package mocap_gan

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TrainerState Stage of training session
type TrainerState uint16

const (
	StateIdle = TrainerState(iota)
	StateInitializing
	StateEpochLoop
	StateFinalizing
	StateDone
	StateAborted
)

func (s TrainerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateEpochLoop:
		return "epoch_loop"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state_%d", uint16(s))
	}
}

// BatchLoss Losses of single processed batch
//
// Index - batch index in dataset
// Position - position of batch in epoch's shuffled order
// GeneratorStep, DiscriminatorStep - time-step counters used for bias correction of this batch
//
type BatchLoss struct {
	Epoch             int
	Index             int
	Position          int
	GeneratorLoss     float64
	DiscriminatorLoss float64
	GeneratorStep     int
	DiscriminatorStep int
}

// EpochLoss Mean losses over epoch's batches
type EpochLoss struct {
	Epoch             int
	GeneratorLoss     float64
	DiscriminatorLoss float64
}

// TrainReport Outcome of training session. On abort it holds everything processed before divergence.
type TrainReport struct {
	Batches []BatchLoss
	Epochs  []EpochLoss
	// Samples generated after last epoch. Nil when session has been aborted
	Samples           *tensor.Dense
	GeneratorStep     int
	DiscriminatorStep int
}

// batchEvaluator Joint graph as seen by trainer
type batchEvaluator interface {
	Evaluate(latent, real *tensor.Dense) (*BatchResult, error)
	Sample(latent *tensor.Dense) (*tensor.Dense, error)
	Learnables(kind NetworkKind) gorgonia.Nodes
}

// TrainerOption Optional trainer setting
type TrainerOption func(*Trainer)

// WithLogger Sets logger. Default one writes to stderr
func WithLogger(logger *log.Logger) TrainerOption {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithBatchCallback Sets function called after every committed batch
func WithBatchCallback(callback func(BatchLoss)) TrainerOption {
	return func(t *Trainer) {
		t.onBatch = callback
	}
}

// WithRenderer Sets renderer of final samples. Rendering happens only when Config.SampleFile is set
func WithRenderer(renderer SampleRenderer) TrainerOption {
	return func(t *Trainer) {
		t.renderer = renderer
	}
}

// WithCheckpointer Submits optimizer snapshots every 'everyEpochs' epochs. Caller owns checkpointer and closes it
func WithCheckpointer(checkpointer *Checkpointer, everyEpochs int) TrainerOption {
	return func(t *Trainer) {
		t.checkpointer = checkpointer
		t.checkpointEvery = everyEpochs
	}
}

// Trainer Adversarial Adam trainer. Generator and Discriminator are updated with independent Adam states after single joint forward pass.
//
// Trainer runs exactly one session.
//
type Trainer struct {
	rng     *rand.Rand
	cfg     Config
	genCost GeneratorCostFunc
	disCost DiscriminatorCostFunc

	logger          *log.Logger
	onBatch         func(BatchLoss)
	renderer        SampleRenderer
	checkpointer    *Checkpointer
	checkpointEvery int

	state    TrainerState
	used     bool
	genState *OptimizerState
	disState *OptimizerState
}

// NewTrainer Stores configuration. No tensors are allocated until Train.
//
// rng - random source for latent batches and shuffling. If nil then one seeded with cfg.Seed is used
//
func NewTrainer(rng *rand.Rand, cfg Config, genCost GeneratorCostFunc, disCost DiscriminatorCostFunc, opts ...TrainerOption) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Can't create trainer")
	}
	if genCost == nil || disCost == nil {
		return nil, fmt.Errorf("Can't create trainer: both cost functions must be provided")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	t := &Trainer{
		rng:     rng,
		cfg:     cfg,
		genCost: genCost,
		disCost: disCost,
		logger:  log.New(os.Stderr, "[mocap-gan] ", log.LstdFlags),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// State Returns current stage of session
func (t *Trainer) State() TrainerState {
	return t.state
}

// Config Returns trainer's configuration
func (t *Trainer) Config() Config {
	return t.cfg
}

// GeneratorState Returns copy of Generator's optimizer state. Nil before training.
func (t *Trainer) GeneratorState() *OptimizerState {
	if t.genState == nil {
		return nil
	}
	return t.genState.Clone()
}

// DiscriminatorState Returns copy of Discriminator's optimizer state. Nil before training.
func (t *Trainer) DiscriminatorState() *OptimizerState {
	if t.disState == nil {
		return nil
	}
	return t.disState.Clone()
}

// UniformLatent Returns (batch, dim) latent batch, each value drawn independently from uniform distribution on [-sqrt(3), sqrt(3)] (unit variance)
func UniformLatent(rng *rand.Rand, batch, dim int) *tensor.Dense {
	bound := math.Sqrt(3)
	data := make([]float64, batch*dim)
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
	return tensor.New(tensor.WithShape(batch, dim), tensor.WithBacking(data))
}

// Latent Draws fresh latent batch from trainer's random source
func (t *Trainer) Latent() *tensor.Dense {
	return UniformLatent(t.rng, t.cfg.BatchSize, t.cfg.LatentDim)
}

// Train Runs training session.
//
// g - graph both networks are defined on
// gen, disc - networks. Their Fwd must not have been called yet
// data - dataset of shape (examples, sample...). Only first floor(examples/batch)*batch examples are used
//
// *DivergenceError is returned when NaN is detected, ErrTrainerUsed on second call.
//
func (t *Trainer) Train(g *gorgonia.ExprGraph, gen, disc Model, data *tensor.Dense) (*TrainReport, error) {
	if t.used {
		return nil, ErrTrainerUsed
	}
	t.used = true
	t.state = StateInitializing
	t.logger.Printf("state=%s batch_size=%d epochs=%d latent_dim=%d", t.state, t.cfg.BatchSize, t.cfg.Epochs, t.cfg.LatentDim)
	if err := t.checkData(data); err != nil {
		t.state = StateAborted
		return nil, err
	}
	net, err := NewGAN(g, gen, disc, GANConfig{
		BatchSize:         t.cfg.BatchSize,
		LatentDim:         t.cfg.LatentDim,
		SampleShape:       data.Shape()[1:].Clone(),
		GeneratorCost:     t.genCost,
		DiscriminatorCost: t.disCost,
		Regularize:        t.cfg.Regularize,
		L1Weight:          t.cfg.L1Weight,
		L2Weight:          t.cfg.L2Weight,
	})
	if err != nil {
		t.state = StateAborted
		return nil, errors.Wrap(err, "Can't define GAN")
	}
	defer func() {
		if err := net.Close(); err != nil {
			t.logger.Printf("can't close GAN: %v", err)
		}
	}()
	return t.run(net, data)
}

func (t *Trainer) checkData(data *tensor.Dense) error {
	if data == nil {
		return fmt.Errorf("Training data is nil")
	}
	if data.Dtype() != tensor.Float64 {
		return fmt.Errorf("Training data has dtype %v, but only %v is supported", data.Dtype(), tensor.Float64)
	}
	if data.Dims() < 2 {
		return fmt.Errorf("Training data must have two dimensions atleast, but got %d", data.Dims())
	}
	if data.Shape()[0] < t.cfg.BatchSize {
		return fmt.Errorf("Training data has %d examples, but batch size is %d", data.Shape()[0], t.cfg.BatchSize)
	}
	return nil
}

func (t *Trainer) run(ev batchEvaluator, data *tensor.Dense) (*TrainReport, error) {
	var err error
	t.genState, err = NewOptimizerState(NetworkGenerator, ev.Learnables(NetworkGenerator))
	if err != nil {
		t.state = StateAborted
		return nil, err
	}
	t.disState, err = NewOptimizerState(NetworkDiscriminator, ev.Learnables(NetworkDiscriminator))
	if err != nil {
		t.state = StateAborted
		return nil, err
	}

	batch := t.cfg.BatchSize
	examples := data.Shape()[0]
	numBatches := examples / batch
	sampleSize := data.DataSize() / examples
	batchShape := append([]int{batch}, data.Shape()[1:]...)
	backing := float64s(data)

	report := &TrainReport{}
	t.state = StateEpochLoop
	t.logger.Printf("state=%s examples=%d batches_per_epoch=%d", t.state, examples, numBatches)
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		var window lossWindow
		order := t.rng.Perm(numBatches)
		for position, index := range order {
			from, to := index*batch*sampleSize, (index+1)*batch*sampleSize
			realBatch := tensor.New(tensor.WithShape(batchShape...), tensor.WithBacking(append([]float64{}, backing[from:to]...)))
			loss, err := t.step(ev, epoch, position, index, realBatch)
			if err != nil {
				t.state = StateAborted
				var divergence *DivergenceError
				if errors.As(err, &divergence) {
					t.logger.Printf("state=%s network=%s source=%s epoch=%d batch=%d step=%d", t.state, divergence.Network, divergence.Source, divergence.Epoch, divergence.Batch, divergence.Step)
					t.fillSteps(report)
					return report, err
				}
				t.fillSteps(report)
				return report, errors.Wrap(err, fmt.Sprintf("Can't process batch %d of epoch %d", index, epoch))
			}
			window.Record(loss.GeneratorLoss, loss.DiscriminatorLoss)
			report.Batches = append(report.Batches, loss)
			if t.onBatch != nil {
				t.onBatch(loss)
			}
		}
		snap := window.Snapshot()
		report.Epochs = append(report.Epochs, EpochLoss{Epoch: epoch, GeneratorLoss: snap.GeneratorLoss, DiscriminatorLoss: snap.DiscriminatorLoss})
		if (epoch+1)%t.cfg.LogEvery == 0 || epoch == t.cfg.Epochs-1 {
			t.logger.Printf("epoch=%d gen_loss=%.6f disc_loss=%.6f gen_step=%d disc_step=%d", epoch, snap.GeneratorLoss, snap.DiscriminatorLoss, t.genState.T, t.disState.T)
		}
		if t.checkpointer != nil && t.checkpointEvery > 0 && (epoch+1)%t.checkpointEvery == 0 {
			if err := t.checkpointer.Submit(epoch, t.genState, t.disState); err != nil {
				t.state = StateAborted
				t.fillSteps(report)
				return report, errors.Wrap(err, "Can't submit checkpoint")
			}
		}
	}
	t.fillSteps(report)

	t.state = StateFinalizing
	t.logger.Printf("state=%s", t.state)
	samples, err := ev.Sample(t.Latent())
	if err != nil {
		t.state = StateAborted
		return report, errors.Wrap(err, "Can't generate samples")
	}
	report.Samples = samples
	if t.renderer != nil && t.cfg.SampleFile != "" {
		if err := t.renderer.Render(samples, t.cfg.SampleFile, t.cfg.SampleInterval); err != nil {
			t.logger.Printf("can't render samples into '%s': %v", t.cfg.SampleFile, err)
		}
	}
	t.state = StateDone
	t.logger.Printf("state=%s gen_step=%d disc_step=%d", t.state, report.GeneratorStep, report.DiscriminatorStep)
	return report, nil
}

func (t *Trainer) fillSteps(report *TrainReport) {
	report.GeneratorStep = t.genState.T
	report.DiscriminatorStep = t.disState.T
}

// step Evaluates joint graph for one batch, computes both Adam updates and commits them only if nothing diverged
func (t *Trainer) step(ev batchEvaluator, epoch, position, index int, realBatch *tensor.Dense) (BatchLoss, error) {
	result, err := ev.Evaluate(t.Latent(), realBatch)
	if err != nil {
		return BatchLoss{}, err
	}
	genStep, disStep := t.genState.T, t.disState.T
	if math.IsNaN(result.GeneratorLoss) {
		return BatchLoss{}, &DivergenceError{Network: NetworkGenerator, Source: DivergenceCost, Epoch: epoch, Batch: index, Step: genStep}
	}
	if math.IsNaN(result.DiscriminatorLoss) {
		return BatchLoss{}, &DivergenceError{Network: NetworkDiscriminator, Source: DivergenceCost, Epoch: epoch, Batch: index, Step: disStep}
	}
	nextGen, err := AdamStep(t.cfg.Generator, t.cfg.Eps, t.genState, result.GeneratorGrads)
	if err != nil {
		return BatchLoss{}, errors.Wrap(err, "Can't update Generator")
	}
	nextDis, err := AdamStep(t.cfg.Discriminator, t.cfg.Eps, t.disState, result.DiscriminatorGrads)
	if err != nil {
		return BatchLoss{}, errors.Wrap(err, "Can't update Discriminator")
	}
	if nextGen.HasNaN() {
		return BatchLoss{}, &DivergenceError{Network: NetworkGenerator, Source: DivergenceState, Epoch: epoch, Batch: index, Step: genStep}
	}
	if nextDis.HasNaN() {
		return BatchLoss{}, &DivergenceError{Network: NetworkDiscriminator, Source: DivergenceState, Epoch: epoch, Batch: index, Step: disStep}
	}
	err = commitStates(
		[]*OptimizerState{nextGen, nextDis},
		[]gorgonia.Nodes{ev.Learnables(NetworkGenerator), ev.Learnables(NetworkDiscriminator)},
	)
	if err != nil {
		return BatchLoss{}, errors.Wrap(err, "Can't commit parameters")
	}
	t.genState, t.disState = nextGen, nextDis
	return BatchLoss{
		Epoch:             epoch,
		Index:             index,
		Position:          position,
		GeneratorLoss:     result.GeneratorLoss,
		DiscriminatorLoss: result.DiscriminatorLoss,
		GeneratorStep:     genStep,
		DiscriminatorStep: disStep,
	}, nil
}

// lossWindow Accumulates losses across epoch's batches
type lossWindow struct {
	gen []float64
	dis []float64
}

// Record Adds losses of a batch
func (w *lossWindow) Record(genLoss, disLoss float64) {
	w.gen = append(w.gen, genLoss)
	w.dis = append(w.dis, disLoss)
}

// Snapshot Returns mean losses and resets the window
func (w *lossWindow) Snapshot() EpochLoss {
	snap := EpochLoss{}
	if len(w.gen) > 0 {
		snap.GeneratorLoss = stat.Mean(w.gen, nil)
		snap.DiscriminatorLoss = stat.Mean(w.dis, nil)
	}
	w.gen = w.gen[:0]
	w.dis = w.dis[:0]
	return snap
}
