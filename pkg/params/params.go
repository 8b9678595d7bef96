// Package params defines the parameter sets exchanged between the coordinator
// and its clients, and the codec used to put them on the wire.
package params

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var (
	ErrEmptyName     = errors.New("empty layer name")
	ErrDuplicateName = errors.New("duplicate layer name")
	ErrShape         = errors.New("tensor shape does not match data length")
)

// Tensor is an opaque multi-dimensional numeric blob. Shape is a contract
// between collaborators; the core only checks that it covers Data.
type Tensor struct {
	Shape []int
	Data  []float64
}

func NewTensor(shape []int, data []float64) (Tensor, error) {
	t := Tensor{Shape: slices.Clone(shape), Data: slices.Clone(data)}
	if err := t.validate(); err != nil {
		return Tensor{}, err
	}

	return t, nil
}

// Scalar is a rank-0 tensor holding a single value.
func Scalar(v float64) Tensor {
	return Tensor{Data: []float64{v}}
}

func (t Tensor) Len() int {
	return len(t.Data)
}

func (t Tensor) clone() Tensor {
	return Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

func (t Tensor) validate() error {
	if len(t.Shape) == 0 {
		if len(t.Data) > 1 {
			return fmt.Errorf("%w: rank 0 with %d values", ErrShape, len(t.Data))
		}

		return nil
	}
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension %d", ErrShape, d)
		}
	}
	n := 0
	if !slices.Contains(t.Shape, 0) {
		// The product is bounded by len(Data) so it cannot overflow.
		n = 1
		for _, d := range t.Shape {
			if n > len(t.Data)/d {
				return fmt.Errorf("%w: shape %v holds more than %d values", ErrShape, t.Shape, len(t.Data))
			}
			n *= d
		}
	}
	if n != len(t.Data) {
		return fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShape, t.Shape, n, len(t.Data))
	}

	return nil
}

func (t Tensor) sameShape(o Tensor) bool {
	return slices.Equal(t.Shape, o.Shape) && len(t.Data) == len(o.Data)
}

func (t Tensor) equal(o Tensor) bool {
	if !t.sameShape(o) {
		return false
	}
	for i := range t.Data {
		if math.Float64bits(t.Data[i]) != math.Float64bits(o.Data[i]) {
			return false
		}
	}

	return true
}

// Layer is the named tensor pair tracked per layer.
type Layer struct {
	Weight Tensor
	Bias   Tensor
}

func (l Layer) clone() Layer {
	return Layer{Weight: l.Weight.clone(), Bias: l.Bias.clone()}
}

// SameShape reports whether both slots of l and o have identical shapes.
func (l Layer) SameShape(o Layer) bool {
	return l.Weight.sameShape(o.Weight) && l.Bias.sameShape(o.Bias)
}

type Entry struct {
	Name  string
	Layer Layer
}

// ParameterSet is an ordered, immutable mapping from layer name to Layer.
// The zero value is an empty set.
type ParameterSet struct {
	names  []string
	layers map[string]Layer
}

// New builds a ParameterSet from entries, keeping their order. Inputs are
// deep-copied so later changes by the caller are not observed.
func New(entries ...Entry) (ParameterSet, error) {
	ps := ParameterSet{
		names:  make([]string, 0, len(entries)),
		layers: make(map[string]Layer, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return ParameterSet{}, ErrEmptyName
		}
		if _, ok := ps.layers[e.Name]; ok {
			return ParameterSet{}, fmt.Errorf("%w: %s", ErrDuplicateName, e.Name)
		}
		if err := e.Layer.Weight.validate(); err != nil {
			return ParameterSet{}, fmt.Errorf("layer %s weight: %w", e.Name, err)
		}
		if err := e.Layer.Bias.validate(); err != nil {
			return ParameterSet{}, fmt.Errorf("layer %s bias: %w", e.Name, err)
		}
		ps.names = append(ps.names, e.Name)
		ps.layers[e.Name] = e.Layer.clone()
	}

	return ps, nil
}

// MustNew is like New but panics on error. Intended for fixtures.
func MustNew(entries ...Entry) ParameterSet {
	ps, err := New(entries...)
	if err != nil {
		panic(err)
	}

	return ps
}

func (ps ParameterSet) Len() int {
	return len(ps.names)
}

func (ps ParameterSet) Names() []string {
	return slices.Clone(ps.names)
}

func (ps ParameterSet) Layer(name string) (Layer, bool) {
	l, ok := ps.layers[name]
	if !ok {
		return Layer{}, false
	}

	return l.clone(), true
}

func (ps ParameterSet) Entries() []Entry {
	entries := make([]Entry, len(ps.names))
	for i, name := range ps.names {
		entries[i] = Entry{Name: name, Layer: ps.layers[name].clone()}
	}

	return entries
}

// SameKeys reports whether ps and o carry the same set of layer names,
// regardless of order.
func (ps ParameterSet) SameKeys(o ParameterSet) bool {
	if len(ps.names) != len(o.names) {
		return false
	}
	for _, name := range ps.names {
		if _, ok := o.layers[name]; !ok {
			return false
		}
	}

	return true
}

// Equal compares names, order, shapes and the bit patterns of every value.
func (ps ParameterSet) Equal(o ParameterSet) bool {
	if !slices.Equal(ps.names, o.names) {
		return false
	}
	for _, name := range ps.names {
		a, b := ps.layers[name], o.layers[name]
		if !a.Weight.equal(b.Weight) || !a.Bias.equal(b.Bias) {
			return false
		}
	}

	return true
}

// view returns the stored layer without copying. Callers inside the package
// must not modify it.
func (ps ParameterSet) view(name string) Layer {
	return ps.layers[name]
}
