package m3l

import (
	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/types/shapes"
)

// VariableID is the index of a Variable in its Graph.
type VariableID int

// Variable is a named array value of the model, owned by a Graph.
//
// A Variable without a producer is an input (or a constant) of the model. Otherwise, it is one of the outputs
// of its producing Operation. Variables are immutable.
type Variable struct {
	graph    *Graph
	id       VariableID
	name     string
	shape    shapes.Shape
	producer OperationID
	local    string
	value    *backend.Tensor
}

// Graph owning the variable.
func (v *Variable) Graph() *Graph {
	return v.graph
}

// ID of the variable in its graph.
func (v *Variable) ID() VariableID {
	return v.id
}

// Name of the variable, unique in its graph.
func (v *Variable) Name() string {
	return v.name
}

// Shape of the variable. Variables are always Float64.
func (v *Variable) Shape() shapes.Shape {
	return v.shape
}

// Producer returns the operation producing the variable, or nil for inputs and constants.
func (v *Variable) Producer() *Operation {
	if v.producer == NoOperation {
		return nil
	}
	return v.graph.operations[v.producer]
}

// ProducerID returns the index of the producing operation, or NoOperation.
func (v *Variable) ProducerID() OperationID {
	return v.producer
}

// LocalName returns the name of the variable among the outputs of its producer, or "" for inputs.
func (v *Variable) LocalName() string {
	return v.local
}

// Value returns the value of a constant, or the default value of an input. It may be nil.
func (v *Variable) Value() *backend.Tensor {
	return v.value
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return v.name + v.shape.String()
}

// Add returns v + other, see Add.
func (v *Variable) Add(other *Variable) (*Variable, error) {
	return Add(v, other)
}
