package m3l

import (
	"github.com/gomlx/m3l/backend"
	"github.com/pkg/errors"
)

// LinearSystem is the implicit definition of the state u solving K u = f, with arguments K [n, n] and f [n].
//
// The residual is r = K u - f, its partial derivative with respect to the state is dr_du = K, and the system
// can be solved directly: plain assembly embeds u = K⁻¹ f as an explicit block.
type LinearSystem struct {
	// State is the name of the state variable. If empty it is "<K>_solve_<f>".
	State string
}

// Local names used by LinearSystem.
const (
	LinearSystemMatrix    = "K"
	LinearSystemRHS       = "f"
	LinearSystemState     = "u"
	LinearSystemPartial   = "dr_du"
	InvariantMatrixOutput = "invariant_matrix"
)

var (
	_ ImplicitDefinition        = LinearSystem{}
	_ DirectSolveDefinition     = LinearSystem{}
	_ InvariantMatrixDefinition = LinearSystem{}
)

// Declare implements Definition.
func (d LinearSystem) Declare(args []*Variable) (Declaration, error) {
	if len(args) != 2 {
		return Declaration{}, errors.Errorf("linear system takes 2 arguments (K, f), %d given", len(args))
	}
	k, f := args[0], args[1]
	if k.shape.Rank() != 2 || k.shape.Dimensions[0] != k.shape.Dimensions[1] {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "linear system requires a square matrix K, got %s", k)
	}
	n := k.shape.Dimensions[0]
	if f.shape.Rank() != 1 || f.shape.Dimensions[0] != n {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "linear system requires f of shape [%d], got %s", n, f)
	}
	state := d.State
	if state == "" {
		state = k.name + "_solve_" + f.name
	}
	return Declaration{
		Name:      state + "_operation",
		Arguments: []string{LinearSystemMatrix, LinearSystemRHS},
		Outputs:   []OutputDeclaration{{Name: state, Local: LinearSystemState, Dimensions: []int{n}}},
	}, nil
}

// declareArguments declares the K and f inputs of a fragment of the operation.
func (LinearSystem) declareArguments(op *Operation, name string) (f *backend.Fragment, k, rhs *backend.Value, err error) {
	f = backend.NewFragment(name)
	if k, err = f.DeclareInput(LinearSystemMatrix, op.Argument(LinearSystemMatrix).shape); err != nil {
		return nil, nil, nil, err
	}
	if rhs, err = f.DeclareInput(LinearSystemRHS, op.Argument(LinearSystemRHS).shape); err != nil {
		return nil, nil, nil, err
	}
	return f, k, rhs, nil
}

func residualName(op *Operation) string {
	return op.Output(LinearSystemState).name + "_residual"
}

// EvaluateResiduals implements ImplicitDefinition: r = K u - f.
func (d LinearSystem) EvaluateResiduals(op *Operation) (backend.Component, error) {
	f, k, rhs, err := d.declareArguments(op, op.name+"_residuals")
	if err != nil {
		return nil, err
	}
	state := op.Output(LinearSystemState)
	u, err := f.DeclareInput(state.name, state.shape)
	if err != nil {
		return nil, err
	}
	ku, err := backend.MatMul(k, u)
	if err != nil {
		return nil, err
	}
	r, err := backend.Subtract(ku, rhs)
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(residualName(op), r); err != nil {
		return nil, err
	}
	return f, nil
}

// StateResiduals implements ImplicitDefinition.
func (LinearSystem) StateResiduals(op *Operation) []backend.StateResidual {
	return []backend.StateResidual{{State: op.Output(LinearSystemState).name, Residual: residualName(op)}}
}

// ComputeDerivatives implements ImplicitDefinition. Besides dr_du the fragment registers the state, so
// consumers of the operation can be connected to it.
func (d LinearSystem) ComputeDerivatives(op *Operation) (backend.Component, error) {
	f, k, rhs, err := d.declareArguments(op, op.name+"_derivatives")
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(LinearSystemPartial, k); err != nil {
		return nil, err
	}
	u, err := backend.Solve(k, rhs)
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(op.Output(LinearSystemState).name, u); err != nil {
		return nil, err
	}
	return f, nil
}

// ResidualPartials implements ImplicitDefinition.
func (LinearSystem) ResidualPartials(*Operation) []string {
	return []string{LinearSystemPartial}
}

// Size implements ImplicitDefinition.
func (LinearSystem) Size(op *Operation) int {
	return op.Argument(LinearSystemMatrix).shape.Dimensions[0]
}

// SolveResidualEquations implements DirectSolveDefinition: u = K⁻¹ f.
func (d LinearSystem) SolveResidualEquations(op *Operation) (backend.Component, error) {
	f, k, rhs, err := d.declareArguments(op, op.name)
	if err != nil {
		return nil, err
	}
	u, err := backend.Solve(k, rhs)
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(op.Output(LinearSystemState).name, u); err != nil {
		return nil, err
	}
	return f, nil
}

// ComputeInvariantMatrix implements InvariantMatrixDefinition: K itself, registered as "invariant_matrix".
func (d LinearSystem) ComputeInvariantMatrix(op *Operation) (backend.Component, error) {
	f, k, _, err := d.declareArguments(op, op.name+"_invariant_matrix")
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(InvariantMatrixOutput, k); err != nil {
		return nil, err
	}
	return f, nil
}

// residualOnly hides the optional interfaces (direct solve, invariant matrix) of an implicit definition.
type residualOnly struct {
	ImplicitDefinition
}

// Residual returns def restricted to ImplicitDefinition, so it is always assembled through its residuals
// and solved by the model's solvers.
func Residual(def ImplicitDefinition) ImplicitDefinition {
	return residualOnly{def}
}

// SolveLinearSystem returns the state u solving K u = f, named state (or "<K>_solve_<f>" if empty).
func SolveLinearSystem(k, f *Variable, state string) (*Variable, error) {
	g, err := sameGraph(k, f)
	if err != nil {
		return nil, err
	}
	_, outputs, err := g.Implicit(LinearSystem{State: state}, k, f)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}
