package mocap_gan

import (
	"archive/zip"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	weightEntry = "W.npy"
	biasEntry   = "b.npy"
)

// npzEntry Single named array of npz archive
type npzEntry struct {
	Name  string
	Value *tensor.Dense
}

// writeNpz Writes arrays as npz archive (zip of .npy files, numpy.savez layout).
func writeNpz(fname string, entries []npzEntry) (err error) {
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't create file '%s'", fname))
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, fmt.Sprintf("Can't close file '%s'", fname))
		}
	}()
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't create entry '%s'", e.Name))
		}
		if err := e.Value.WriteNpy(w); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't write entry '%s'", e.Name))
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "Can't finalize npz archive")
	}
	return nil
}

// readNpz Reads every array of npz archive.
func readNpz(fname string) (map[string]*tensor.Dense, error) {
	zr, err := zip.OpenReader(fname)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't open npz archive '%s'", fname))
	}
	defer zr.Close()
	result := make(map[string]*tensor.Dense, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't open entry '%s'", zf.Name))
		}
		dense := new(tensor.Dense)
		err = dense.ReadNpy(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("Can't decode entry '%s'", zf.Name))
		}
		result[zf.Name] = dense
	}
	return result, nil
}

func saveLayer(l *Layer, fname string) error {
	entries := make([]npzEntry, 0, 2)
	if l.WeightNode != nil {
		w, err := nodeDense(l.WeightNode)
		if err != nil {
			return err
		}
		entries = append(entries, npzEntry{Name: weightEntry, Value: w})
	}
	if l.BiasNode != nil {
		b, err := nodeDense(l.BiasNode)
		if err != nil {
			return err
		}
		entries = append(entries, npzEntry{Name: biasEntry, Value: b})
	}
	if len(entries) == 0 {
		return fmt.Errorf("Layer of type '%s' has no parameters to save into '%s'", l.Type, fname)
	}
	return writeNpz(fname, entries)
}

func loadLayer(l *Layer, fname string) error {
	arrays, err := readNpz(fname)
	if err != nil {
		return err
	}
	if l.WeightNode != nil {
		w, ok := arrays[weightEntry]
		if !ok {
			return fmt.Errorf("Entry '%s' is missing in '%s'", weightEntry, fname)
		}
		if err := assignDense(l.WeightNode, w); err != nil {
			return errors.Wrap(err, "Can't assign weights")
		}
	}
	if l.BiasNode != nil {
		b, ok := arrays[biasEntry]
		if !ok {
			return fmt.Errorf("Entry '%s' is missing in '%s'", biasEntry, fname)
		}
		if err := assignDense(l.BiasNode, b); err != nil {
			return errors.Wrap(err, "Can't assign bias")
		}
	}
	return nil
}

// nodeDense Returns dense value bound to node. Only float64 values are supported.
func nodeDense(n *gorgonia.Node) (*tensor.Dense, error) {
	v := n.Value()
	if v == nil {
		return nil, fmt.Errorf("Node '%s' has no value", n.Name())
	}
	dense, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("Node '%s' holds %T, but *tensor.Dense expected", n.Name(), v)
	}
	if dense.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("Node '%s' has dtype %v, but only %v is supported", n.Name(), dense.Dtype(), tensor.Float64)
	}
	return dense, nil
}

// assignDense Copies src into backing storage of node's value in place. Shapes must be equal.
func assignDense(n *gorgonia.Node, src *tensor.Dense) error {
	dst, err := nodeDense(n)
	if err != nil {
		return err
	}
	if !dst.Shape().Eq(src.Shape()) {
		return fmt.Errorf("Shape mismatch for node '%s': have %v, got %v", n.Name(), dst.Shape(), src.Shape())
	}
	srcData, ok := src.Data().([]float64)
	if !ok {
		return fmt.Errorf("Value for node '%s' has dtype %v, but only %v is supported", n.Name(), src.Dtype(), tensor.Float64)
	}
	copy(dst.Data().([]float64), srcData)
	return nil
}

// cloneDense Deep copy of dense
func cloneDense(d *tensor.Dense) *tensor.Dense {
	return d.Clone().(*tensor.Dense)
}

func float64s(d *tensor.Dense) []float64 {
	return d.Data().([]float64)
}
