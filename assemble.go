package m3l

import (
	"log/slog"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/eig"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/pkg/errors"
)

// Assemble gathers the operations behind every registered output, in registration order, and embeds them,
// producers first, in a new backend.Graph named after the model:
//
//   - Explicit operations: the fragment returned by Compute, as a block named after the operation.
//   - Implicit operations with a direct solve (DirectSolveDefinition): the direct solve fragment.
//   - Other implicit operations: a backend.Implicit block with the residuals fragment, tagged with the
//     model solvers.
//
// Every argument produced by another operation is connected from "<producer>.<variable>" to
// "<operation>.<argument>". Arguments without a producer are left as free inputs of the graph.
//
// The graph is rebuilt on every call.
func (m *Model) Assemble() (*backend.Graph, error) {
	a := m.newAssembler()
	return m.assemble(a, a)
}

// AssembleModal assembles the model like Assemble, except that for implicit operations it embeds the
// derivatives fragment (ComputeDerivatives) and, for each residual partial derivative "<key>", an eigenvalues
// block "<operation>_<key>_eig" of the operation size, connected from "<operation>.<key>" to its input "A".
// If the definition implements InvariantMatrixDefinition, its fragment is embedded as "<operation>_invariant_matrix".
func (m *Model) AssembleModal() (*backend.Graph, error) {
	a := &modalAssembler{assembler: m.newAssembler()}
	return m.assemble(a, a.assembler)
}

func (m *Model) newAssembler() *assembler {
	graph := backend.NewGraph(m.name)
	graph.SetLinearSolver(m.linearSolver)
	graph.SetNonlinearSolver(m.nonlinearSolver)
	return &assembler{model: m, graph: graph, free: make(map[string]*Variable)}
}

// assemble gathers the operations from scratch and visits them in order.
func (m *Model) assemble(visitor operationVisitor, a *assembler) (*backend.Graph, error) {
	if len(m.outputs) == 0 {
		return nil, errors.Wrapf(ErrInvalidOutput, "model %q has no registered outputs", m.name)
	}
	m.traversal = newGatherState()
	for _, output := range m.outputs {
		m.traversal.gather(output)
	}
	m.state = StateGathered
	m.logger.Debug("gathered operations", slog.String("model", m.name),
		slog.Int("outputs", len(m.outputs)), slog.Int("operations", len(m.traversal.order)))

	for _, op := range m.traversal.order {
		m.logger.Debug("assembling operation", slog.String("model", m.name),
			slog.String("operation", op.name), slog.String("kind", op.kind.String()))
		if err := op.accept(visitor); err != nil {
			return nil, errors.WithMessagef(err, "model %q", m.name)
		}
	}
	m.assembled = a.graph
	m.free = a.free
	m.state = StateAssembled
	m.logger.Debug("assembled model", slog.String("model", m.name),
		slog.Int("blocks", len(a.graph.Blocks())), slog.Int("connections", len(a.graph.Connections())))
	return a.graph, nil
}

// assembler implements operationVisitor for Model.Assemble.
type assembler struct {
	model *Model
	graph *backend.Graph

	// free maps the unconnected argument inputs of the graph to their variables.
	free map[string]*Variable
}

// fragment converts a computed component to a fragment, or fails with ErrUnsupportedFragment.
func fragment(op *Operation, method string, component backend.Component, err error) (*backend.Fragment, error) {
	if err != nil {
		return nil, errors.WithMessagef(err, "operation %q: %s", op.name, method)
	}
	f, ok := component.(*backend.Fragment)
	if !ok || f == nil {
		return nil, errors.Wrapf(ErrUnsupportedFragment, "operation %q: %s returned %T", op.name, method, component)
	}
	return f, nil
}

// checkInputs verifies that the component declares one input per argument, with the argument's shape.
func checkInputs(op *Operation, component backend.Component) error {
	inputs := component.Inputs()
	for _, arg := range op.Arguments() {
		idx := -1
		for i, port := range inputs {
			if port.Name == arg.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.Wrapf(ErrUnsupportedFragment, "operation %q: no input for argument %q", op.name, arg.Name)
		}
		if !inputs[idx].Shape.Equal(arg.Variable.shape) {
			return errors.Wrapf(ErrShapeMismatch, "operation %q: argument %q is %s, fragment input is %s",
				op.name, arg.Name, arg.Variable.shape, inputs[idx].Shape)
		}
	}
	return nil
}

// checkOutputs verifies that the component registers each output variable, with its shape.
func checkOutputs(op *Operation, component backend.Component) error {
	outputs := component.Outputs()
	for _, v := range op.Outputs() {
		idx := -1
		for i, port := range outputs {
			if port.Name == v.name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.Wrapf(ErrUnsupportedFragment, "operation %q: output %q not registered", op.name, v.name)
		}
		if !outputs[idx].Shape.Equal(v.shape) {
			return errors.Wrapf(ErrShapeMismatch, "operation %q: output %q is declared %s, fragment computes %s",
				op.name, v.name, v.shape, outputs[idx].Shape)
		}
	}
	return nil
}

// embed adds the component as a block named after the operation, and connects its arguments.
func (a *assembler) embed(op *Operation, component backend.Component) error {
	if err := a.graph.Add(op.name, component); err != nil {
		return err
	}
	return a.connectArguments(op, op.name)
}

// connectArguments connects every argument that has a producer to the block: "<producer>.<variable>" ->
// "<block>.<argument>". Arguments without a producer are recorded as free inputs.
func (a *assembler) connectArguments(op *Operation, block string) error {
	for _, arg := range op.Arguments() {
		to := utils.QualifiedName(block, arg.Name)
		producer := arg.Variable.Producer()
		if producer == nil {
			a.free[to] = arg.Variable
			continue
		}
		from := utils.QualifiedName(producer.name, arg.Variable.name)
		if err := a.graph.Connect(from, to); err != nil {
			return errors.WithMessagef(err, "operation %q", op.name)
		}
	}
	return nil
}

func (a *assembler) visitExplicit(op *Operation, def ExplicitDefinition) error {
	component, err := def.Compute(op)
	f, err := fragment(op, "Compute", component, err)
	if err != nil {
		return err
	}
	if err = checkInputs(op, f); err != nil {
		return err
	}
	if err = checkOutputs(op, f); err != nil {
		return err
	}
	return a.embed(op, f)
}

func (a *assembler) visitImplicit(op *Operation, def ImplicitDefinition) error {
	if direct, ok := def.(DirectSolveDefinition); ok {
		component, err := direct.SolveResidualEquations(op)
		f, err := fragment(op, "SolveResidualEquations", component, err)
		if err != nil {
			return err
		}
		if err = checkInputs(op, f); err != nil {
			return err
		}
		if err = checkOutputs(op, f); err != nil {
			return err
		}
		return a.embed(op, f)
	}

	component, err := def.EvaluateResiduals(op)
	f, err := fragment(op, "EvaluateResiduals", component, err)
	if err != nil {
		return err
	}
	block := backend.NewImplicit(f)
	for _, sr := range def.StateResiduals(op) {
		if err = block.AddState(sr.State, sr.Residual); err != nil {
			return errors.WithMessagef(err, "operation %q", op.name)
		}
	}
	block.LinearSolver = a.model.linearSolver
	block.NonlinearSolver = a.model.nonlinearSolver
	if err = checkInputs(op, block); err != nil {
		return err
	}
	if err = checkOutputs(op, block); err != nil {
		return err
	}
	return a.embed(op, block)
}

// modalAssembler implements operationVisitor for Model.AssembleModal: explicit operations are assembled as
// usual, implicit operations get their derivatives and eigenvalue blocks.
type modalAssembler struct {
	*assembler
}

// EigBlockName returns the name of the eigenvalues block attached to the residual partial of an implicit operation.
func EigBlockName(op *Operation, key string) string {
	return op.name + "_" + key + "_eig"
}

func (a *modalAssembler) visitImplicit(op *Operation, def ImplicitDefinition) error {
	component, err := def.ComputeDerivatives(op)
	f, err := fragment(op, "ComputeDerivatives", component, err)
	if err != nil {
		return err
	}
	if err = checkInputs(op, f); err != nil {
		return err
	}
	if err = a.embed(op, f); err != nil {
		return err
	}

	if invariant, ok := def.(InvariantMatrixDefinition); ok {
		component, err := invariant.ComputeInvariantMatrix(op)
		f, err := fragment(op, "ComputeInvariantMatrix", component, err)
		if err != nil {
			return err
		}
		if err = checkInputs(op, f); err != nil {
			return err
		}
		name := op.name + "_invariant_matrix"
		if err = a.graph.Add(name, f); err != nil {
			return err
		}
		if err = a.connectArguments(op, name); err != nil {
			return err
		}
	}

	size := def.Size(op)
	for _, key := range def.ResidualPartials(op) {
		name := EigBlockName(op, key)
		block, err := eig.NewBlock(name, size)
		if err != nil {
			return errors.WithMessagef(err, "operation %q", op.name)
		}
		if err = a.graph.Add(name, block); err != nil {
			return errors.WithMessagef(err, "operation %q", op.name)
		}
		from := utils.QualifiedName(op.name, key)
		if err = a.graph.Connect(from, utils.QualifiedName(name, eig.InputName)); err != nil {
			return errors.WithMessagef(err, "operation %q", op.name)
		}
	}
	return nil
}
