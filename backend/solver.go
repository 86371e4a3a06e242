package backend

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Solver is a handle to a linear or nonlinear solver of the execution environment.
//
// Solvers are not run by this package: they are recorded on the Graph (and on implicit blocks)
// for the environment that executes it.
type Solver interface {
	// Kind of the solver, e.g. "newton".
	Kind() string

	// Options of the solver, written with the program.
	Options() map[string]any
}

// NewtonSolver is a nonlinear Newton solver.
type NewtonSolver struct {
	MaxIterations int
	Atol          float64

	// SolveSubsystems runs the subsystem solvers before each Newton iteration.
	SolveSubsystems bool
}

// Kind implements Solver.
func (s NewtonSolver) Kind() string { return "newton" }

// Options implements Solver.
func (s NewtonSolver) Options() map[string]any {
	return map[string]any{
		"max_iterations":   s.MaxIterations,
		"atol":             s.Atol,
		"solve_subsystems": s.SolveSubsystems,
	}
}

// NonlinearBlockGS is a nonlinear block Gauss-Seidel solver.
type NonlinearBlockGS struct {
	MaxIterations int
	Atol          float64
}

// Kind implements Solver.
func (s NonlinearBlockGS) Kind() string { return "nonlinear_block_gs" }

// Options implements Solver.
func (s NonlinearBlockGS) Options() map[string]any {
	return map[string]any{"max_iterations": s.MaxIterations, "atol": s.Atol}
}

// DirectSolver is a direct (LU factorization) linear solver.
type DirectSolver struct{}

// Kind implements Solver.
func (DirectSolver) Kind() string { return "direct" }

// Options implements Solver.
func (DirectSolver) Options() map[string]any { return nil }

// KrylovSolver is an iterative linear solver.
type KrylovSolver struct {
	// Method, e.g. "gmres".
	Method        string
	MaxIterations int
	Atol          float64
}

// Kind implements Solver.
func (s KrylovSolver) Kind() string { return "krylov" }

// Options implements Solver.
func (s KrylovSolver) Options() map[string]any {
	return map[string]any{"method": s.Method, "max_iterations": s.MaxIterations, "atol": s.Atol}
}

// SolverToText writes the solver as `kind<key = value, ...>`, with options sorted by key.
// It returns "none" for a nil solver.
func SolverToText(s Solver) string {
	if s == nil {
		return "none"
	}
	options := s.Options()
	if len(options) == 0 {
		return s.Kind()
	}
	var sb strings.Builder
	sb.WriteString(s.Kind())
	sb.WriteByte('<')
	for i, key := range slices.Sorted(maps.Keys(options)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = %s", key, literalToText(options[key]))
	}
	sb.WriteByte('>')
	return sb.String()
}
