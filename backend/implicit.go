package backend

import (
	"fmt"
	"io"
	"slices"

	"github.com/pkg/errors"
)

// Implicit is a block whose outputs, its states, are defined by residual equations R(inputs, states) = 0,
// to be closed by the nonlinear solver of the executing environment.
//
// The Residuals fragment declares both the block inputs and the states as inputs, and registers one
// residual output per state.
type Implicit struct {
	Residuals *Fragment
	States    []StateResidual

	LinearSolver, NonlinearSolver Solver
}

// StateResidual pairs a state with the residual output that defines it.
type StateResidual struct {
	State, Residual string
}

// NewImplicit creates an Implicit block from its residuals fragment. States must be added with AddState.
func NewImplicit(residuals *Fragment) *Implicit {
	return &Implicit{Residuals: residuals}
}

// AddState declares that the residuals input `state` is solved for by driving the residuals output `residual` to zero.
func (b *Implicit) AddState(state, residual string) error {
	stateValue := b.Residuals.Input(state)
	if stateValue == nil {
		return errors.Wrapf(ErrUnknownPort, "implicit %q: state %q is not an input of the residuals", b.Residuals.Name, state)
	}
	residualValue := b.Residuals.Output(residual)
	if residualValue == nil {
		return errors.Wrapf(ErrUnknownPort, "implicit %q: residual %q is not an output of the residuals", b.Residuals.Name, residual)
	}
	if !stateValue.shape.Equal(residualValue.shape) {
		return errors.Wrapf(ErrShapeMismatch, "implicit %q: state %q has shape %s, residual %q has shape %s",
			b.Residuals.Name, state, stateValue.shape, residual, residualValue.shape)
	}
	if slices.ContainsFunc(b.States, func(sr StateResidual) bool { return sr.State == state }) {
		return errors.Errorf("implicit %q: state %q declared twice", b.Residuals.Name, state)
	}
	b.States = append(b.States, StateResidual{State: state, Residual: residual})
	return nil
}

func (b *Implicit) isState(name string) bool {
	return slices.ContainsFunc(b.States, func(sr StateResidual) bool { return sr.State == name })
}

// Inputs implements Component: the residuals inputs that are not states.
func (b *Implicit) Inputs() []Port {
	var ports []Port
	for _, port := range b.Residuals.Inputs() {
		if !b.isState(port.Name) {
			ports = append(ports, port)
		}
	}
	return ports
}

// Outputs implements Component: the states.
func (b *Implicit) Outputs() []Port {
	ports := make([]Port, 0, len(b.States))
	for _, sr := range b.States {
		v := b.Residuals.Input(sr.State)
		ports = append(ports, Port{Name: sr.State, Shape: v.shape})
	}
	return ports
}

// Write the implicit block as text.
func (b *Implicit) Write(writer io.Writer, indentation string) error {
	if _, err := fmt.Fprintf(writer, "states ["); err != nil {
		return err
	}
	for i, sr := range b.States {
		sep := ""
		if i > 0 {
			sep = ", "
		}
		if _, err := fmt.Fprintf(writer, "%s%s <- %s", sep, sr.State, sr.Residual); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(writer, "] solvers {linear = %s, nonlinear = %s} residuals ",
		SolverToText(b.LinearSolver), SolverToText(b.NonlinearSolver)); err != nil {
		return err
	}
	return b.Residuals.Write(writer, indentation)
}
