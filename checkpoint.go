package mocap_gan

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	stepEntry = "t.npy"
)

type checkpointJob struct {
	epoch  int
	states []*OptimizerState
}

// Checkpointer Writes optimizer snapshots to disk in background.
//
// Snapshots are deep copies taken at epoch boundary after batch commit, so writing never observes in-flight update.
// Every network goes into its own file: <dir>/epoch_<epoch>_<network>.npz
//
type Checkpointer struct {
	dir  string
	jobs chan checkpointJob
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	err     error
	written []string
}

// NewCheckpointer Starts background writer. Directory is created when missing.
//
// queue - how many snapshots could wait for writing before Submit blocks
//
func NewCheckpointer(dir string, queue int) (*Checkpointer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't create checkpoint directory '%s'", dir))
	}
	if queue <= 0 {
		queue = 1
	}
	c := &Checkpointer{
		dir:  dir,
		jobs: make(chan checkpointJob, queue),
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for job := range c.jobs {
			for _, st := range job.states {
				fname := c.fileName(job.epoch, st.Network)
				err := WriteCheckpoint(fname, st)
				c.mu.Lock()
				if err != nil && c.err == nil {
					c.err = err
				}
				if err == nil {
					c.written = append(c.written, fname)
				}
				c.mu.Unlock()
			}
		}
	}()
	return c, nil
}

func (c *Checkpointer) fileName(epoch int, kind NetworkKind) string {
	return filepath.Join(c.dir, fmt.Sprintf("epoch_%04d_%s.npz", epoch, kind))
}

// Submit Queues snapshot of provided states. States are cloned before returning.
func (c *Checkpointer) Submit(epoch int, states ...*OptimizerState) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("checkpointer is closed")
	}
	c.mu.Unlock()
	job := checkpointJob{epoch: epoch, states: make([]*OptimizerState, len(states))}
	for i, st := range states {
		job.states[i] = st.Clone()
	}
	c.jobs <- job
	return nil
}

// Written Returns files written so far
func (c *Checkpointer) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.written...)
}

// Close Waits for queued snapshots and returns first write error
func (c *Checkpointer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.err
	}
	c.closed = true
	c.mu.Unlock()
	close(c.jobs)
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func paramEntry(i int, suffix string) string {
	return fmt.Sprintf("param_%03d_%s.npy", i, suffix)
}

// WriteCheckpoint Writes values, moments and time-step of state into npz archive
func WriteCheckpoint(fname string, st *OptimizerState) error {
	entries := make([]npzEntry, 0, 3*len(st.Params)+1)
	entries = append(entries, npzEntry{
		Name:  stepEntry,
		Value: tensor.New(tensor.WithShape(1), tensor.WithBacking([]float64{float64(st.T)})),
	})
	for i, ps := range st.Params {
		entries = append(entries,
			npzEntry{Name: paramEntry(i, "value"), Value: ps.Value},
			npzEntry{Name: paramEntry(i, "m0"), Value: ps.M0},
			npzEntry{Name: paramEntry(i, "m1"), Value: ps.M1},
		)
	}
	if err := writeNpz(fname, entries); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't write %s checkpoint", st.Network))
	}
	return nil
}

// ReadCheckpoint Reads state written by WriteCheckpoint. Parameter names are not persisted and are set to 'param_<i>'.
func ReadCheckpoint(fname string, kind NetworkKind) (*OptimizerState, error) {
	arrays, err := readNpz(fname)
	if err != nil {
		return nil, err
	}
	t, ok := arrays[stepEntry]
	if !ok || t.DataSize() != 1 {
		return nil, fmt.Errorf("Entry '%s' is missing or malformed in '%s'", stepEntry, fname)
	}
	st := &OptimizerState{
		Network: kind,
		T:       int(float64s(t)[0]),
	}
	for i := 0; ; i++ {
		value, ok := arrays[paramEntry(i, "value")]
		if !ok {
			break
		}
		m0, ok0 := arrays[paramEntry(i, "m0")]
		m1, ok1 := arrays[paramEntry(i, "m1")]
		if !ok0 || !ok1 {
			return nil, fmt.Errorf("Moments of parameter #%d are missing in '%s'", i, fname)
		}
		st.Params = append(st.Params, ParamState{
			Name:  fmt.Sprintf("param_%d", i),
			Value: value,
			M0:    m0,
			M1:    m1,
		})
	}
	if len(st.Params) == 0 {
		return nil, fmt.Errorf("No parameters found in '%s'", fname)
	}
	return st, nil
}
