// Package backend is the graph vocabulary assembled m3l models are emitted in.
//
// A Graph holds named blocks (Components) and explicit point-to-point connections
// between their ports: "producer.port -> consumer.port". There is no promotion of
// variables by name, every data dependency across blocks must be connected.
//
// The most common Component is the Fragment: a self-contained sequence of statements
// with declared inputs (optionally with default values) and registered outputs.
// Fragments may call a CustomOperator, an operator that supplies its own forward
// computation and its own analytic derivatives.
//
// The Graph can be written as a readable text program (Graph.Write and Graph.Build),
// serialized as a msgpack snapshot (Graph.MarshalSnapshot), or executed in-process by
// the reference interpreter in the backend/interp package.
package backend

import (
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownPort is returned when a connection references a block or port that was not declared.
	ErrUnknownPort = errors.New("unknown block port")

	// ErrDuplicateConnection is returned when a block input is connected more than once.
	ErrDuplicateConnection = errors.New("input already connected")

	// ErrShapeMismatch is returned when the shapes of connected ports, or of a value and its declared port, differ.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// IndentationStep used when writing programs.
const IndentationStep = "  "

// Port is a named input or output of a Component.
type Port struct {
	Name  string
	Shape shapes.Shape

	// Default value of an input port, used when the port is not connected nor fed. It may be nil.
	Default *Tensor
}

// Component is anything that can be embedded as a named block of a Graph.
//
// Inputs and Outputs must return the ports in a deterministic order.
type Component interface {
	Inputs() []Port
	Outputs() []Port
}

// findPort returns the port with the given name.
func findPort(ports []Port, name string) (Port, bool) {
	for _, port := range ports {
		if port.Name == name {
			return port, true
		}
	}
	return Port{}, false
}

// Tensor is a concrete float64 value in row-major order.
type Tensor struct {
	Shape shapes.Shape
	Flat  []float64
}

// TensorFrom converts a number, or (nested) slices of numbers, to a Tensor.
//
// Float32 and float16.Float16 values are widened to float64.
func TensorFrom(value any) (*Tensor, error) {
	if t, ok := value.(*Tensor); ok {
		return t, nil
	}
	flat, shape, err := shapes.FlattenFloat64(value)
	if err != nil {
		return nil, errors.WithMessage(err, "TensorFrom")
	}
	return &Tensor{Shape: shape, Flat: flat}, nil
}

// NewTensor creates a Tensor from the flat values and dimensions, checking that the sizes match.
func NewTensor(flat []float64, dimensions ...int) (*Tensor, error) {
	shape := shapes.Float64(dimensions...)
	if shape.Size() != len(flat) {
		return nil, errors.Wrapf(ErrShapeMismatch, "flat values size %d doesn't match shape size %d (%s)",
			len(flat), shape.Size(), shape)
	}
	return &Tensor{Shape: shape, Flat: flat}, nil
}

// Zeros returns a Tensor of the given shape filled with zeros.
func Zeros(shape shapes.Shape) *Tensor {
	return &Tensor{Shape: shapes.Float64(shape.Dimensions...), Flat: make([]float64, shape.Size())}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: t.Shape.Clone(), Flat: append([]float64(nil), t.Flat...)}
}
