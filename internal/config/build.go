package config

import (
	"context"
	"strings"

	"github.com/gomlx/m3l"
	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/internal/ctxlog"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownReference is returned when an argument or output references neither an alias nor a variable.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrUnknownKind is returned for unsupported operation or solver kinds.
	ErrUnknownKind = errors.New("unknown kind")
)

// Project is the result of building a File: one graph shared by all its models.
type Project struct {
	Graph  *m3l.Graph
	Models []*Assembly
}

// Assembly is a model with its assembly mode.
type Assembly struct {
	Model *m3l.Model
	Modal bool
}

// Assemble assembles the model, with AssembleModal if modal is set.
func (a *Assembly) Assemble() (*backend.Graph, error) {
	if a.Modal {
		return a.Model.AssembleModal()
	}
	return a.Model.Assemble()
}

// Model returns the assembly of the model with the given name, or nil.
func (p *Project) Model(name string) *Assembly {
	for _, a := range p.Models {
		if a.Model.Name() == name {
			return a
		}
	}
	return nil
}

// builder holds the state of Build.
type builder struct {
	graph   *m3l.Graph
	aliases map[string][]*m3l.Variable
}

// Build creates the variables, operations and models of the file in a new graph with the given name.
//
// Operations may be declared in any order: they are evaluated as soon as all their arguments resolve.
// A reference is either an operation alias (its first output), "alias.local" (the output with that local name)
// or a variable name.
func Build(ctx context.Context, name string, file *File) (*Project, error) {
	logger := ctxlog.FromContext(ctx)
	b := &builder{graph: m3l.NewGraph(name), aliases: make(map[string][]*m3l.Variable)}
	for _, block := range file.Variables {
		if err := b.variable(block); err != nil {
			return nil, err
		}
	}

	pending := make([]*OperationBlock, 0, len(file.Operations))
	for _, block := range file.Operations {
		if _, found := b.aliases[block.Alias]; found {
			return nil, errors.Wrapf(m3l.ErrDuplicateName, "operation alias %q", block.Alias)
		}
		b.aliases[block.Alias] = nil
		pending = append(pending, block)
	}
	for len(pending) > 0 {
		var next []*OperationBlock
		var missing error
		for _, block := range pending {
			args, err := b.resolveAll(block.Arguments)
			if err != nil {
				if errors.Is(err, ErrUnknownReference) {
					next = append(next, block)
					missing = errors.WithMessagef(err, "operation %q", block.Alias)
					continue
				}
				return nil, errors.WithMessagef(err, "operation %q", block.Alias)
			}
			outputs, err := evaluate(b.graph, block, args)
			if err != nil {
				return nil, errors.WithMessagef(err, "operation %q (%s)", block.Alias, block.Kind)
			}
			b.aliases[block.Alias] = outputs
			logger.Debug("evaluated operation", "alias", block.Alias, "kind", block.Kind,
				"operation", outputs[0].Producer().Name())
		}
		if len(next) == len(pending) {
			return nil, missing
		}
		pending = next
	}

	project := &Project{Graph: b.graph}
	for _, block := range file.Models {
		assembly, err := b.model(block)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q", block.Name)
		}
		assembly.Model.WithLogger(logger)
		project.Models = append(project.Models, assembly)
	}
	logger.Debug("built project", "graph", name, "variables", b.graph.NumVariables(),
		"operations", b.graph.NumOperations(), "models", len(project.Models))
	return project, nil
}

func (b *builder) variable(block *VariableBlock) error {
	flat, dimensions, err := literal(block.Value)
	if err != nil {
		return errors.WithMessagef(err, "variable %q", block.Name)
	}
	if flat == nil {
		_, err = b.graph.Input(block.Name, block.Shape...)
		return err
	}
	if len(block.Shape) == 0 {
		block.Shape = dimensions
	}
	_, err = b.graph.Constant(block.Name, flat, block.Shape...)
	return err
}

// resolve returns the variables referenced: all outputs of an alias, one output given as "alias.local",
// or a variable.
func (b *builder) resolve(ref string) ([]*m3l.Variable, error) {
	if outputs, found := b.aliases[ref]; found {
		if outputs == nil {
			return nil, errors.Wrapf(ErrUnknownReference, "%q is not evaluated", ref)
		}
		return outputs, nil
	}
	if alias, local, found := strings.Cut(ref, "."); found {
		if outputs := b.aliases[alias]; outputs != nil {
			if v := outputs[0].Producer().Output(local); v != nil {
				return []*m3l.Variable{v}, nil
			}
		}
	}
	if v := b.graph.VariableByName(ref); v != nil {
		return []*m3l.Variable{v}, nil
	}
	return nil, errors.Wrapf(ErrUnknownReference, "%q", ref)
}

// resolveAll resolves the references, each to a single variable: an alias resolves to its first output.
func (b *builder) resolveAll(refs []string) ([]*m3l.Variable, error) {
	args := make([]*m3l.Variable, len(refs))
	for i, ref := range refs {
		variables, err := b.resolve(ref)
		if err != nil {
			return nil, err
		}
		args[i] = variables[0]
	}
	return args, nil
}

// evaluate the operation of the block kind over the arguments.
func evaluate(g *m3l.Graph, block *OperationBlock, args []*m3l.Variable) ([]*m3l.Variable, error) {
	kind := strings.ToLower(block.Kind)
	if kind == "linear_system" {
		var def m3l.ImplicitDefinition = m3l.LinearSystem{State: block.State}
		if block.ResidualOnly {
			def = m3l.Residual(def)
		}
		_, outputs, err := g.Implicit(def, args...)
		return outputs, err
	}
	var def m3l.ExplicitDefinition
	switch kind {
	case "add":
		def = m3l.AddDefinition
	case "subtract":
		def = m3l.SubtractDefinition
	case "multiply":
		def = m3l.MultiplyDefinition
	case "vstack":
		def = m3l.VStackDefinition{Prefix: block.Prefix}
	case "matvec":
		def = m3l.MatVecDefinition{}
	case "eigenvalues":
		def = m3l.EigenvaluesDefinition{}
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "operation kind %q", block.Kind)
	}
	_, outputs, err := g.Explicit(def, args...)
	return outputs, err
}

func (b *builder) model(block *ModelBlock) (*Assembly, error) {
	model := m3l.NewModel(block.Name)
	for _, ref := range block.Outputs {
		variables, err := b.resolve(ref)
		if err != nil {
			return nil, err
		}
		if err = model.RegisterScopedOutput(block.Prefix, variables); err != nil {
			return nil, err
		}
	}
	if block.LinearSolver != nil {
		s, err := NewSolver(block.LinearSolver)
		if err != nil {
			return nil, err
		}
		model.SetLinearSolver(s)
	}
	if block.NonlinearSolver != nil {
		s, err := NewSolver(block.NonlinearSolver)
		if err != nil {
			return nil, err
		}
		model.SetNonlinearSolver(s)
	}
	return &Assembly{Model: model, Modal: block.Modal}, nil
}

// NewSolver converts a solver block: kinds "newton", "nonlinear_block_gs", "direct" and "krylov".
func NewSolver(block *SolverBlock) (backend.Solver, error) {
	switch strings.ToLower(block.Kind) {
	case "newton":
		return backend.NewtonSolver{MaxIterations: block.MaxIterations, Atol: block.Atol,
			SolveSubsystems: block.SolveSubsystems}, nil
	case "nonlinear_block_gs":
		return backend.NonlinearBlockGS{MaxIterations: block.MaxIterations, Atol: block.Atol}, nil
	case "direct":
		return backend.DirectSolver{}, nil
	case "krylov":
		return backend.KrylovSolver{Method: block.Method, MaxIterations: block.MaxIterations, Atol: block.Atol}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "solver kind %q", block.Kind)
	}
}
