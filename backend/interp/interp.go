// Package interp is a reference executor for backend graphs: it runs fragments statement by statement,
// in float64, using gonum for the linear algebra.
//
// It is meant for tests and small models: implicit blocks are not solved, they fail with ErrRequiresSolver.
package interp

import (
	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrRequiresSolver is returned for implicit blocks, which need a nonlinear solver.
	ErrRequiresSolver = errors.New("block requires a nonlinear solver")

	// ErrMissingInput is returned when a free input is not fed and has no default value.
	ErrMissingInput = errors.New("missing input value")
)

// Run executes the graph and returns the values of all block outputs, indexed by their qualified name "block.port".
//
// Free inputs are fed with feeds, indexed by qualified name, or take their default value.
// Blocks are run in insertion order, so producers must have been added before their consumers.
func Run(g *backend.Graph, feeds map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	sources := make(map[string]string)
	for _, c := range g.Connections() {
		sources[c.To] = c.From
	}
	results := make(map[string]*backend.Tensor)
	for _, block := range g.Blocks() {
		inputs := make(map[string]*backend.Tensor)
		for _, port := range block.Component.Inputs() {
			q := utils.QualifiedName(block.Name, port.Name)
			var value *backend.Tensor
			if from, connected := sources[q]; connected {
				value = results[from]
				if value == nil {
					return nil, errors.Errorf("graph %q: %s is connected to %s, which was not computed yet", g.Name(), q, from)
				}
			} else if fed, found := feeds[q]; found {
				value = fed
			} else if port.Default != nil {
				value = port.Default
			} else {
				return nil, errors.Wrapf(ErrMissingInput, "graph %q: %s", g.Name(), q)
			}
			if value.Shape.Size() != port.Shape.Size() || len(value.Flat) != port.Shape.Size() {
				return nil, errors.Wrapf(backend.ErrShapeMismatch, "graph %q: %s expects %s, got %s",
					g.Name(), q, port.Shape, value.Shape)
			}
			inputs[port.Name] = &backend.Tensor{Shape: port.Shape.Clone(), Flat: value.Flat}
		}

		var outputs map[string]*backend.Tensor
		var err error
		switch c := block.Component.(type) {
		case *backend.Fragment:
			outputs, err = RunFragment(c, inputs)
		case *backend.Implicit:
			err = errors.Wrapf(ErrRequiresSolver, "graph %q: implicit block %q", g.Name(), block.Name)
		default:
			err = errors.Errorf("graph %q: block %q has unsupported component type %T", g.Name(), block.Name, c)
		}
		if err != nil {
			return nil, err
		}
		for name, t := range outputs {
			results[utils.QualifiedName(block.Name, name)] = t
		}
	}
	return results, nil
}

// RunFragment executes the fragment with the given inputs, indexed by input name, and returns its registered
// outputs, indexed by output name.
func RunFragment(f *backend.Fragment, inputs map[string]*backend.Tensor) (map[string]*backend.Tensor, error) {
	values := make(map[*backend.Value]*backend.Tensor)
	for _, port := range f.Inputs() {
		t, found := inputs[port.Name]
		if !found {
			if port.Default == nil {
				return nil, errors.Wrapf(ErrMissingInput, "fragment %q: input %q", f.Name, port.Name)
			}
			t = port.Default
		}
		values[f.Input(port.Name)] = t
	}
	for _, stmt := range f.Statements {
		operands := make([]*backend.Tensor, len(stmt.Inputs))
		for i, input := range stmt.Inputs {
			operands[i] = values[input]
			if operands[i] == nil {
				return nil, errors.Errorf("fragment %q: operand %s of %s has no value", f.Name, input, stmt.OpType)
			}
		}
		results, err := execute(stmt, operands)
		if err != nil {
			return nil, errors.WithMessagef(err, "fragment %q: executing %s", f.Name, stmt.OpType)
		}
		for i, output := range stmt.Outputs {
			values[output] = results[i]
		}
	}
	outputs := make(map[string]*backend.Tensor)
	for _, port := range f.Outputs() {
		outputs[port.Name] = values[f.Output(port.Name)]
	}
	return outputs, nil
}

// execute one statement.
func execute(stmt *backend.Statement, operands []*backend.Tensor) ([]*backend.Tensor, error) {
	outputShape := stmt.Outputs[0].Shape()
	switch stmt.OpType {
	case optypes.Constant:
		value, ok := stmt.Attributes["value"].(*backend.Tensor)
		if !ok {
			return nil, errors.New("constant without a value")
		}
		return []*backend.Tensor{value.Clone()}, nil
	case optypes.Add, optypes.Subtract, optypes.Multiply, optypes.Divide:
		return []*backend.Tensor{elementWise(stmt.OpType, operands[0], operands[1])}, nil
	case optypes.Negate:
		result := operands[0].Clone()
		for i := range result.Flat {
			result.Flat[i] = -result.Flat[i]
		}
		return []*backend.Tensor{result}, nil
	case optypes.MatMul:
		return matMul(operands[0], operands[1], outputShape)
	case optypes.Solve:
		return solve(operands[0], operands[1], outputShape)
	case optypes.Reshape:
		return []*backend.Tensor{{Shape: outputShape.Clone(), Flat: append([]float64(nil), operands[0].Flat...)}}, nil
	case optypes.Concatenate:
		axis, _ := stmt.Attributes["dimension"].(int)
		return []*backend.Tensor{concatenate(operands, axis, outputShape)}, nil
	case optypes.Transpose:
		permutation, _ := stmt.Attributes["permutation"].([]int)
		return []*backend.Tensor{transpose(operands[0], permutation, outputShape)}, nil
	case optypes.Custom:
		return custom(stmt, operands)
	default:
		return nil, errors.Errorf("unsupported operation %s", stmt.OpType)
	}
}

func elementWise(op optypes.OpType, lhs, rhs *backend.Tensor) *backend.Tensor {
	result := lhs.Clone()
	for i, r := range rhs.Flat {
		switch op {
		case optypes.Add:
			result.Flat[i] += r
		case optypes.Subtract:
			result.Flat[i] -= r
		case optypes.Multiply:
			result.Flat[i] *= r
		case optypes.Divide:
			result.Flat[i] /= r
		}
	}
	return result
}

// asDense views a rank-1 or rank-2 tensor as a matrix. Vectors are columns, or rows if asRow is set.
func asDense(t *backend.Tensor, asRow bool) *mat.Dense {
	if t.Shape.Rank() == 2 {
		return mat.NewDense(t.Shape.Dimensions[0], t.Shape.Dimensions[1], t.Flat)
	}
	if asRow {
		return mat.NewDense(1, len(t.Flat), t.Flat)
	}
	return mat.NewDense(len(t.Flat), 1, t.Flat)
}

func fromDense(m *mat.Dense, shape shapes.Shape) *backend.Tensor {
	rows, cols := m.Dims()
	flat := make([]float64, 0, rows*cols)
	for i := range rows {
		flat = append(flat, m.RawRowView(i)...)
	}
	return &backend.Tensor{Shape: shape.Clone(), Flat: flat}
}

func matMul(lhs, rhs *backend.Tensor, outputShape shapes.Shape) ([]*backend.Tensor, error) {
	var product mat.Dense
	product.Mul(asDense(lhs, true), asDense(rhs, false))
	return []*backend.Tensor{fromDense(&product, outputShape)}, nil
}

func solve(a, b *backend.Tensor, outputShape shapes.Shape) ([]*backend.Tensor, error) {
	var x mat.Dense
	if err := x.Solve(asDense(a, false), asDense(b, false)); err != nil {
		return nil, errors.Wrap(err, "solving linear system")
	}
	return []*backend.Tensor{fromDense(&x, outputShape)}, nil
}

func concatenate(operands []*backend.Tensor, axis int, outputShape shapes.Shape) *backend.Tensor {
	outer := 1
	for _, dim := range outputShape.Dimensions[:axis] {
		outer *= dim
	}
	result := &backend.Tensor{Shape: outputShape.Clone(), Flat: make([]float64, 0, outputShape.Size())}
	for o := range outer {
		for _, operand := range operands {
			chunk := len(operand.Flat) / outer
			result.Flat = append(result.Flat, operand.Flat[o*chunk:(o+1)*chunk]...)
		}
	}
	return result
}

// strides returns the row-major strides of the dimensions.
func strides(dimensions []int) []int {
	s := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		s[axis] = stride
		stride *= dimensions[axis]
	}
	return s
}

func transpose(operand *backend.Tensor, permutation []int, outputShape shapes.Shape) *backend.Tensor {
	srcStrides := strides(operand.Shape.Dimensions)
	rank := len(permutation)
	result := &backend.Tensor{Shape: outputShape.Clone(), Flat: make([]float64, outputShape.Size())}
	index := make([]int, rank)
	for i := range result.Flat {
		src := 0
		for axis, idx := range index {
			src += idx * srcStrides[permutation[axis]]
		}
		result.Flat[i] = operand.Flat[src]
		// Increment output index, row-major.
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			if index[axis] < outputShape.Dimensions[axis] {
				break
			}
			index[axis] = 0
		}
	}
	return result
}

func custom(stmt *backend.Statement, operands []*backend.Tensor) ([]*backend.Tensor, error) {
	if stmt.Operator == nil {
		return nil, errors.New("custom statement without an operator")
	}
	spec, err := backend.DefineOperator(stmt.Operator)
	if err != nil {
		return nil, err
	}
	inputs := make(map[string]*backend.Tensor, len(spec.InputPorts))
	for i, port := range spec.InputPorts {
		inputs[port.Name] = operands[i]
	}
	outputs, err := stmt.Operator.Compute(inputs)
	if err != nil {
		return nil, err
	}
	results := make([]*backend.Tensor, len(spec.OutputPorts))
	for i, port := range spec.OutputPorts {
		results[i] = outputs[port.Name]
		if results[i] == nil {
			return nil, errors.Errorf("operator %q did not compute output %q", spec.Name, port.Name)
		}
	}
	return results, nil
}

// Derivatives runs the custom operator derivatives at the given inputs and checks the returned blocks
// against its declaration.
func Derivatives(op backend.CustomOperator, inputs map[string]*backend.Tensor) (map[backend.Partial]*mat.Dense, error) {
	spec, err := backend.DefineOperator(op)
	if err != nil {
		return nil, err
	}
	derivatives, err := op.ComputeDerivatives(inputs)
	if err != nil {
		return nil, err
	}
	if err = spec.CheckDerivatives(derivatives); err != nil {
		return nil, err
	}
	return derivatives, nil
}
