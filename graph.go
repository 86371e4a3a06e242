package m3l

import (
	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
)

// Graph is the arena owning the Variables and Operations of a model.
//
// Variables and operations refer to each other by their index in the graph, so there are no
// reference cycles: a Variable knows the OperationID of its producer, an Operation knows the
// VariableID of its arguments and outputs.
//
// A Graph is not safe for concurrent use.
type Graph struct {
	name       string
	variables  []*Variable
	operations []*Operation

	variableNames, operationNames map[string]int
}

// NewGraph creates an empty Graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:           name,
		variableNames:  make(map[string]int),
		operationNames: make(map[string]int),
	}
}

// Name of the graph.
func (g *Graph) Name() string {
	return g.name
}

// checkVariableName returns an error if the name is not a valid identifier or is already used.
func (g *Graph) checkVariableName(name string) error {
	if !utils.IsIdentifier(name) {
		return errors.Errorf("graph %q: invalid variable name %q, see NormalizeIdentifier", g.name, name)
	}
	if _, found := g.variableNames[name]; found {
		return errors.Wrapf(ErrDuplicateName, "graph %q: variable %q", g.name, name)
	}
	return nil
}

func (g *Graph) newVariable(name string, shape shapes.Shape, producer OperationID, local string, value *backend.Tensor) *Variable {
	v := &Variable{
		graph:    g,
		id:       VariableID(len(g.variables)),
		name:     name,
		shape:    shape,
		producer: producer,
		local:    local,
		value:    value,
	}
	g.variables = append(g.variables, v)
	g.variableNames[name] = int(v.id)
	return v
}

// Input creates a new input variable with the given name and dimensions.
// Dimensions must be positive, and no dimensions means a scalar.
func (g *Graph) Input(name string, dimensions ...int) (*Variable, error) {
	if err := g.checkVariableName(name); err != nil {
		return nil, err
	}
	if err := shapes.CheckDimensions(dimensions...); err != nil {
		return nil, errors.WithMessagef(err, "graph %q: input %q", g.name, name)
	}
	return g.newVariable(name, shapes.Float64(dimensions...), NoOperation, "", nil), nil
}

// Constant creates a new input variable with a value.
//
// The value can be a number, (nested) slices of numbers (float64, float32, float16.Float16, integers)
// or a *backend.Tensor. If dimensions are given, the value is reshaped to them, and its size must match.
// Otherwise, the shape of the value is used.
func (g *Graph) Constant(name string, value any, dimensions ...int) (*Variable, error) {
	if err := g.checkVariableName(name); err != nil {
		return nil, err
	}
	t, err := backend.TensorFrom(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "graph %q: constant %q", g.name, name)
	}
	if len(dimensions) > 0 {
		if err = shapes.CheckDimensions(dimensions...); err != nil {
			return nil, errors.WithMessagef(err, "graph %q: constant %q", g.name, name)
		}
		if t, err = backend.NewTensor(t.Flat, dimensions...); err != nil {
			return nil, errors.WithMessagef(err, "graph %q: constant %q", g.name, name)
		}
	}
	return g.newVariable(name, t.Shape, NoOperation, "", t), nil
}

// Variable returns the variable with the given id, or nil if out of range.
func (g *Graph) Variable(id VariableID) *Variable {
	if id < 0 || int(id) >= len(g.variables) {
		return nil
	}
	return g.variables[id]
}

// VariableByName returns the variable with the given name, or nil.
func (g *Graph) VariableByName(name string) *Variable {
	idx, found := g.variableNames[name]
	if !found {
		return nil
	}
	return g.variables[idx]
}

// NumVariables in the graph.
func (g *Graph) NumVariables() int {
	return len(g.variables)
}

// Operation returns the operation with the given id, or nil if out of range.
func (g *Graph) Operation(id OperationID) *Operation {
	if id < 0 || int(id) >= len(g.operations) {
		return nil
	}
	return g.operations[id]
}

// OperationByName returns the operation with the given name, or nil.
func (g *Graph) OperationByName(name string) *Operation {
	idx, found := g.operationNames[name]
	if !found {
		return nil
	}
	return g.operations[idx]
}

// NumOperations in the graph.
func (g *Graph) NumOperations() int {
	return len(g.operations)
}

// Explicit evaluates the definition over the arguments, creating a new explicit Operation and its output variables.
func (g *Graph) Explicit(def ExplicitDefinition, args ...*Variable) (*Operation, []*Variable, error) {
	if def == nil {
		return nil, nil, errors.Errorf("graph %q: nil explicit definition", g.name)
	}
	return g.evaluate(KindExplicit, def, args)
}

// Implicit evaluates the definition over the arguments, creating a new implicit Operation and its output variables,
// the states solved for.
func (g *Graph) Implicit(def ImplicitDefinition, args ...*Variable) (*Operation, []*Variable, error) {
	if def == nil {
		return nil, nil, errors.Errorf("graph %q: nil implicit definition", g.name)
	}
	return g.evaluate(KindImplicit, def, args)
}

// evaluate validates the arguments and the declaration of the definition, and creates the operation
// and its outputs. Nothing is added to the graph if it fails.
func (g *Graph) evaluate(kind OperationKind, def Definition, args []*Variable) (*Operation, []*Variable, error) {
	for i, arg := range args {
		if arg == nil || arg.graph != g {
			return nil, nil, errors.Wrapf(ErrUnboundArgument, "graph %q: argument #%d is not a variable of the graph", g.name, i)
		}
	}
	decl, err := def.Declare(args)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "graph %q", g.name)
	}
	if err = g.checkDeclaration(decl, args); err != nil {
		return nil, nil, err
	}

	op := &Operation{
		graph:    g,
		id:       OperationID(len(g.operations)),
		name:     decl.Name,
		kind:     kind,
		def:      def,
		argNames: append([]string(nil), decl.Arguments...),
		args:     make([]VariableID, len(args)),
	}
	for i, arg := range args {
		op.args[i] = arg.id
	}
	g.operations = append(g.operations, op)
	g.operationNames[op.name] = int(op.id)

	outputs := make([]*Variable, len(decl.Outputs))
	for i, out := range decl.Outputs {
		outputs[i] = g.newVariable(out.Name, shapes.Float64(out.Dimensions...), op.id, out.Local, nil)
		op.outputs = append(op.outputs, outputs[i].id)
	}
	return op, outputs, nil
}

// checkDeclaration validates names and shapes declared by a definition.
func (g *Graph) checkDeclaration(decl Declaration, args []*Variable) error {
	if !utils.IsIdentifier(decl.Name) {
		return errors.Errorf("graph %q: invalid operation name %q", g.name, decl.Name)
	}
	if _, found := g.operationNames[decl.Name]; found {
		return errors.Wrapf(ErrDuplicateName, "graph %q: operation %q", g.name, decl.Name)
	}
	if len(decl.Arguments) != len(args) {
		return errors.Wrapf(ErrUnboundArgument, "graph %q: operation %q declares %d argument names for %d arguments",
			g.name, decl.Name, len(decl.Arguments), len(args))
	}
	argNames := utils.MakeSet[string](len(args))
	for _, name := range decl.Arguments {
		if !utils.IsIdentifier(name) || argNames.Has(name) {
			return errors.Errorf("graph %q: operation %q has invalid or repeated argument name %q", g.name, decl.Name, name)
		}
		argNames.Insert(name)
	}
	if len(decl.Outputs) == 0 {
		return errors.Errorf("graph %q: operation %q declares no outputs", g.name, decl.Name)
	}
	outputNames, locals := utils.MakeSet[string](), utils.MakeSet[string]()
	for _, out := range decl.Outputs {
		if err := g.checkVariableName(out.Name); err != nil {
			return errors.WithMessagef(err, "output of operation %q", decl.Name)
		}
		if outputNames.Has(out.Name) {
			return errors.Wrapf(ErrDuplicateName, "graph %q: operation %q declares output %q twice", g.name, decl.Name, out.Name)
		}
		outputNames.Insert(out.Name)
		if out.Local != "" {
			if locals.Has(out.Local) {
				return errors.Wrapf(ErrDuplicateName, "graph %q: operation %q declares local output %q twice", g.name, decl.Name, out.Local)
			}
			locals.Insert(out.Local)
		}
		if err := shapes.CheckDimensions(out.Dimensions...); err != nil {
			return errors.WithMessagef(err, "graph %q: output %q of operation %q", g.name, out.Name, decl.Name)
		}
	}
	return nil
}
