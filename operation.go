package m3l

import (
	"github.com/gomlx/m3l/backend"
	"github.com/pkg/errors"
)

// OperationID is the index of an Operation in its Graph.
type OperationID int

// NoOperation is the producer of variables that are inputs of the graph.
const NoOperation OperationID = -1

// OperationKind is the variant of an Operation.
type OperationKind int

//go:generate go tool enumer -type=OperationKind -trimprefix=Kind -output=gen_operationkind_enumer.go operation.go

const (
	KindInvalid OperationKind = iota
	KindExplicit
	KindImplicit
)

// Declaration is what a Definition declares when evaluated over a list of arguments.
type Declaration struct {
	// Name of the operation: it must be derived deterministically from the arguments' names and the definition kind.
	Name string

	// Arguments holds the local name of each argument, in the order given.
	Arguments []string

	// Outputs declared, in order.
	Outputs []OutputDeclaration
}

// OutputDeclaration declares one output variable of an operation.
type OutputDeclaration struct {
	// Name of the output variable, unique in the graph. It is also the name of the output port
	// registered by the operation's fragments.
	Name string

	// Local name of the output within the operation, e.g. "e_real". Optional.
	Local string

	Dimensions []int
}

// Definition defines a kind of operation. Definitions should be stateless: the same definition
// can be evaluated over any number of argument lists.
type Definition interface {
	// Declare validates the arguments and returns the operation's name, the local names of the
	// arguments and the declared outputs.
	Declare(args []*Variable) (Declaration, error)
}

// ExplicitDefinition defines an operation computed by a forward fragment.
type ExplicitDefinition interface {
	Definition

	// Compute returns a fragment declaring one input per argument (named with the local argument name,
	// with the same shape) and registering one output per declared output (named after the output variable).
	// It may be called any number of times, each call returning an equivalent fresh fragment.
	Compute(op *Operation) (backend.Component, error)
}

// DerivativeDefinition is implemented by definitions that can compute their partial derivatives.
type DerivativeDefinition interface {
	ComputeDerivatives(op *Operation) (backend.Component, error)
}

// ImplicitDefinition defines an operation whose outputs, the states, are the solution of residual equations.
type ImplicitDefinition interface {
	Definition

	// EvaluateResiduals returns a fragment declaring one input per argument and one input per state (named
	// after the output variable), and registering the residuals.
	EvaluateResiduals(op *Operation) (backend.Component, error)

	// StateResiduals pairs each state with its residual output in the EvaluateResiduals fragment.
	StateResiduals(op *Operation) []backend.StateResidual

	// ComputeDerivatives returns a fragment declaring one input per argument and registering the residual
	// partial derivatives, named as returned by ResidualPartials.
	ComputeDerivatives(op *Operation) (backend.Component, error)

	// ResidualPartials returns the names of the residual partial derivatives outputs, in a fixed order.
	// Each is a Size() x Size() matrix.
	ResidualPartials(op *Operation) []string

	// Size of the system of equations.
	Size(op *Operation) int
}

// InvariantMatrixDefinition is implemented by implicit definitions that can compute an invariant matrix
// of their system, e.g. a stiffness matrix. The fragment declares one input per argument.
type InvariantMatrixDefinition interface {
	ComputeInvariantMatrix(op *Operation) (backend.Component, error)
}

// DirectSolveDefinition is implemented by implicit definitions that can solve their residual equations
// directly: the fragment declares one input per argument and registers the states.
type DirectSolveDefinition interface {
	SolveResidualEquations(op *Operation) (backend.Component, error)
}

// Operation is a computation over named argument variables, producing output variables.
// It is created by Graph.Explicit or Graph.Implicit, and it is immutable.
type Operation struct {
	graph    *Graph
	id       OperationID
	name     string
	kind     OperationKind
	def      Definition
	argNames []string
	args     []VariableID
	outputs  []VariableID
}

// Argument of an operation: its local name and the variable bound to it.
type Argument struct {
	Name     string
	Variable *Variable
}

// Graph owning the operation.
func (op *Operation) Graph() *Graph {
	return op.graph
}

// ID of the operation in its graph.
func (op *Operation) ID() OperationID {
	return op.id
}

// Name of the operation, unique in its graph.
func (op *Operation) Name() string {
	return op.name
}

// Kind of the operation.
func (op *Operation) Kind() OperationKind {
	return op.kind
}

// String implements fmt.Stringer.
func (op *Operation) String() string {
	return op.name
}

// Arguments returns the arguments in declaration order.
func (op *Operation) Arguments() []Argument {
	arguments := make([]Argument, len(op.args))
	for i, id := range op.args {
		arguments[i] = Argument{Name: op.argNames[i], Variable: op.graph.variables[id]}
	}
	return arguments
}

// Argument returns the variable bound to the local argument name, or nil.
func (op *Operation) Argument(name string) *Variable {
	for i, argName := range op.argNames {
		if argName == name {
			return op.graph.variables[op.args[i]]
		}
	}
	return nil
}

// Outputs returns the output variables in declaration order.
func (op *Operation) Outputs() []*Variable {
	outputs := make([]*Variable, len(op.outputs))
	for i, id := range op.outputs {
		outputs[i] = op.graph.variables[id]
	}
	return outputs
}

// Output returns the output variable with the given local name, or nil.
func (op *Operation) Output(local string) *Variable {
	for _, id := range op.outputs {
		if v := op.graph.variables[id]; v.local == local {
			return v
		}
	}
	return nil
}

// Explicit returns the definition of an explicit operation, or nil.
func (op *Operation) Explicit() ExplicitDefinition {
	def, _ := op.def.(ExplicitDefinition)
	if op.kind != KindExplicit {
		return nil
	}
	return def
}

// Implicit returns the definition of an implicit operation, or nil.
func (op *Operation) Implicit() ImplicitDefinition {
	def, _ := op.def.(ImplicitDefinition)
	if op.kind != KindImplicit {
		return nil
	}
	return def
}

// operationVisitor is implemented by the assemblers, one method per OperationKind.
type operationVisitor interface {
	visitExplicit(op *Operation, def ExplicitDefinition) error
	visitImplicit(op *Operation, def ImplicitDefinition) error
}

// accept dispatches the operation to the visitor method of its kind.
func (op *Operation) accept(visitor operationVisitor) error {
	switch op.kind {
	case KindExplicit:
		return visitor.visitExplicit(op, op.Explicit())
	case KindImplicit:
		return visitor.visitImplicit(op, op.Implicit())
	default:
		return errors.Errorf("operation %q has invalid kind %s", op.name, op.kind)
	}
}
