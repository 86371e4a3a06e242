package m3l

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/pkg/errors"
)

// ModelState tracks the progress of a Model.
type ModelState int

//go:generate go tool enumer -type=ModelState -trimprefix=State -output=gen_modelstate_enumer.go model.go

const (
	StateEmpty ModelState = iota
	StateOutputsRegistered
	StateGathered
	StateAssembled
)

// Model registers the variables a model outputs and assembles the operations producing them into a backend.Graph.
//
// A Model is not safe for concurrent use: calls to Assemble and AssembleModal must be serialized.
type Model struct {
	name   string
	logger *slog.Logger

	// outputs in registration order.
	outputs     []*Variable
	outputNames []string

	// traversal holds the operations gathered so far, in dependency order.
	traversal *gatherState

	linearSolver, nonlinearSolver backend.Solver

	state     ModelState
	assembled *backend.Graph
	free      map[string]*Variable
}

// NewModel creates an empty Model. The name is used for the assembled backend.Graph.
func NewModel(name string) *Model {
	return &Model{
		name:      name,
		logger:    slog.New(slog.DiscardHandler),
		traversal: newGatherState(),
	}
}

// WithLogger sets the logger used to trace gathering and assembly, at debug level.
func (m *Model) WithLogger(logger *slog.Logger) *Model {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Name of the model.
func (m *Model) Name() string {
	return m.name
}

// State of the model.
func (m *Model) State() ModelState {
	return m.state
}

// RegisterOutput registers output variables of the model, see RegisterScopedOutput.
func (m *Model) RegisterOutput(output any) error {
	return m.RegisterScopedOutput("", output)
}

// RegisterScopedOutput registers output variables of the model, under the variable name prefixed with prefix
// (e.g. the name of a design condition).
//
// The output can be a *Variable, a []*Variable or a map[string]*Variable (registered in sorted key order).
// Anything else fails with ErrInvalidOutput, and nothing is registered. Registering a name twice replaces the
// variable, keeping its original position.
func (m *Model) RegisterScopedOutput(prefix string, output any) error {
	var variables []*Variable
	switch v := output.(type) {
	case *Variable:
		variables = []*Variable{v}
	case []*Variable:
		variables = v
	case map[string]*Variable:
		for _, key := range slices.Sorted(maps.Keys(v)) {
			variables = append(variables, v[key])
		}
	default:
		return errors.Wrapf(ErrInvalidOutput, "model %q: cannot register %T as output", m.name, output)
	}
	for i, v := range variables {
		if v == nil {
			return errors.Wrapf(ErrInvalidOutput, "model %q: output #%d is nil", m.name, i)
		}
	}
	for _, v := range variables {
		name := prefix + v.name
		if idx := slices.Index(m.outputNames, name); idx >= 0 {
			m.outputs[idx] = v
			continue
		}
		m.outputNames = append(m.outputNames, name)
		m.outputs = append(m.outputs, v)
	}
	if len(m.outputs) > 0 && m.state == StateEmpty {
		m.state = StateOutputsRegistered
	}
	return nil
}

// OutputNames returns the qualified names of the outputs, in registration order.
func (m *Model) OutputNames() []string {
	return slices.Clone(m.outputNames)
}

// Output returns the output registered under the qualified name, or nil.
func (m *Model) Output(name string) *Variable {
	idx := slices.Index(m.outputNames, name)
	if idx < 0 {
		return nil
	}
	return m.outputs[idx]
}

// SetLinearSolver sets the linear solver used to resolve couplings.
func (m *Model) SetLinearSolver(s backend.Solver) {
	m.linearSolver = s
}

// SetNonlinearSolver sets the nonlinear solver used to resolve couplings.
func (m *Model) SetNonlinearSolver(s backend.Solver) {
	m.nonlinearSolver = s
}

// GatherOperations collects the operations the variable depends on, in dependency order, adding them
// to the model operations. It is idempotent.
func (m *Model) GatherOperations(v *Variable) error {
	if v == nil {
		return errors.Wrapf(ErrInvalidOutput, "model %q: cannot gather operations of a nil variable", m.name)
	}
	m.traversal.gather(v)
	if m.state < StateGathered {
		m.state = StateGathered
	}
	return nil
}

// Operations returns the operations gathered, producers before consumers.
func (m *Model) Operations() []*Operation {
	return slices.Clone(m.traversal.order)
}

// Assembled returns the last graph assembled by Assemble or AssembleModal, or nil.
func (m *Model) Assembled() *backend.Graph {
	return m.assembled
}

// FreeInputs maps the qualified names of the inputs of the last assembled graph bound to model inputs
// (variables without a producer) to their variables.
func (m *Model) FreeInputs() map[string]*Variable {
	return maps.Clone(m.free)
}

// ConstantFeeds returns the values of the free inputs of the last assembled graph bound to constants,
// indexed by qualified name, as expected by an executor.
func (m *Model) ConstantFeeds() map[string]*backend.Tensor {
	feeds := make(map[string]*backend.Tensor)
	for name, v := range m.free {
		if v.value != nil {
			feeds[name] = v.value
		}
	}
	return feeds
}

// OutputPort returns the qualified name "<block>.<port>" of the registered output in the assembled graph,
// or "" if there is no such output or the output is a model input.
func (m *Model) OutputPort(name string) string {
	v := m.Output(name)
	if v == nil || v.Producer() == nil {
		return ""
	}
	return utils.QualifiedName(v.Producer().name, v.name)
}

// gatherState is the explicit state of the traversal of the graph backwards from the outputs.
type gatherState struct {
	// order holds the operations in the order they were recorded: dependency order.
	order []*Operation

	// recorded holds the operations in order.
	recorded utils.Set[*Operation]

	// visited memoizes the variables whose dependencies were already gathered.
	visited utils.Set[*Variable]
}

func newGatherState() *gatherState {
	return &gatherState{
		recorded: utils.MakeSet[*Operation](),
		visited:  utils.MakeSet[*Variable](),
	}
}

// gather visits depth-first the arguments of the variable's producer, then records the producer.
// Post-order: by the time an operation is recorded, all producers of its arguments were recorded.
func (s *gatherState) gather(v *Variable) {
	if s.visited.Has(v) {
		return
	}
	s.visited.Insert(v)
	op := v.Producer()
	if op == nil {
		return
	}
	for _, arg := range op.Arguments() {
		s.gather(arg.Variable)
	}
	if !s.recorded.Has(op) {
		s.recorded.Insert(op)
		s.order = append(s.order, op)
	}
}
