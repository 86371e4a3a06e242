package m3l

import (
	"fmt"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/eig"
	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/shapeinference"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
)

// ElementWise is the explicit definition of the element-wise binary operations Add, Subtract and Multiply,
// see AddDefinition, SubtractDefinition and MultiplyDefinition.
//
// Evaluated over x1 and x2, it creates the variable "<x1>_<infix>_<x2>", produced by the operation
// "<x1>_<infix>_<x2>_operation".
type ElementWise struct {
	OpType optypes.OpType
}

var elementWiseInfix = map[optypes.OpType]string{
	optypes.Add:      "plus",
	optypes.Subtract: "minus",
	optypes.Multiply: "times",
}

// Element-wise definitions.
var (
	AddDefinition      = ElementWise{OpType: optypes.Add}
	SubtractDefinition = ElementWise{OpType: optypes.Subtract}
	MultiplyDefinition = ElementWise{OpType: optypes.Multiply}
)

var (
	_ ExplicitDefinition   = ElementWise{}
	_ DerivativeDefinition = ElementWise{}
)

// Declare implements Definition.
func (d ElementWise) Declare(args []*Variable) (Declaration, error) {
	infix, found := elementWiseInfix[d.OpType]
	if !found {
		return Declaration{}, errors.Errorf("%s is not an element-wise operation", d.OpType)
	}
	if len(args) != 2 {
		return Declaration{}, errors.Errorf("%s takes 2 arguments, %d given", d.OpType, len(args))
	}
	x1, x2 := args[0], args[1]
	shape, err := shapeinference.BinaryOp(d.OpType, x1.shape, x2.shape)
	if err != nil {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "%v", err)
	}
	name := fmt.Sprintf("%s_%s_%s", x1.name, infix, x2.name)
	return Declaration{
		Name:      name + "_operation",
		Arguments: []string{"x1", "x2"},
		Outputs:   []OutputDeclaration{{Name: name, Local: "y", Dimensions: shape.Dimensions}},
	}, nil
}

// Compute implements ExplicitDefinition.
func (d ElementWise) Compute(op *Operation) (backend.Component, error) {
	f := backend.NewFragment(op.name)
	x1, err := f.DeclareInput("x1", op.Argument("x1").shape)
	if err != nil {
		return nil, err
	}
	x2, err := f.DeclareInput("x2", op.Argument("x2").shape)
	if err != nil {
		return nil, err
	}
	var y *backend.Value
	switch d.OpType {
	case optypes.Add:
		y, err = backend.Add(x1, x2)
	case optypes.Subtract:
		y, err = backend.Subtract(x1, x2)
	case optypes.Multiply:
		y, err = backend.Multiply(x1, x2)
	default:
		err = errors.Errorf("%s is not an element-wise operation", d.OpType)
	}
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(op.Output("y").name, y); err != nil {
		return nil, err
	}
	return f, nil
}

// identityFlat returns the flat values of the n x n identity matrix, multiplied by scale.
func identityFlat(n int, scale float64) []float64 {
	flat := make([]float64, n*n)
	for i := range n {
		flat[i*n+i] = scale
	}
	return flat
}

// ComputeDerivatives implements DerivativeDefinition: the fragment registers "dy_dx1" and "dy_dx2", each a
// size x size matrix, where size is the number of elements of the output.
func (d ElementWise) ComputeDerivatives(op *Operation) (backend.Component, error) {
	f := backend.NewFragment(op.name + "_derivatives")
	x1, err := f.DeclareInput("x1", op.Argument("x1").shape)
	if err != nil {
		return nil, err
	}
	x2, err := f.DeclareInput("x2", op.Argument("x2").shape)
	if err != nil {
		return nil, err
	}
	n := x1.Shape().Size()
	var dx1, dx2 *backend.Value
	switch d.OpType {
	case optypes.Add, optypes.Subtract:
		sign := 1.0
		if d.OpType == optypes.Subtract {
			sign = -1.0
		}
		if dx1, err = f.Constant(identityFlat(n, 1), n, n); err != nil {
			return nil, err
		}
		if dx2, err = f.Constant(identityFlat(n, sign), n, n); err != nil {
			return nil, err
		}
	case optypes.Multiply:
		// diag(x) = I * [x x ... x]ᵀ, row i scaled by x[i].
		identity, err := f.Constant(identityFlat(n, 1), n, n)
		if err != nil {
			return nil, err
		}
		if dx1, err = diagonal(identity, x2, n); err != nil {
			return nil, err
		}
		if dx2, err = diagonal(identity, x1, n); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Errorf("%s is not an element-wise operation", d.OpType)
	}
	if err = f.RegisterOutput("dy_dx1", dx1); err != nil {
		return nil, err
	}
	if err = f.RegisterOutput("dy_dx2", dx2); err != nil {
		return nil, err
	}
	return f, nil
}

// diagonal returns the n x n matrix with x (of any shape with n elements) in the diagonal.
func diagonal(identity, x *backend.Value, n int) (*backend.Value, error) {
	column, err := backend.Reshape(x, n, 1)
	if err != nil {
		return nil, err
	}
	columns := make([]*backend.Value, n)
	for i := range columns {
		columns[i] = column
	}
	repeated, err := backend.Concatenate(1, columns...)
	if err != nil {
		return nil, err
	}
	return backend.Multiply(identity, repeated)
}

// sameGraph returns the graph of the variables, or ErrUnboundArgument.
func sameGraph(vars ...*Variable) (*Graph, error) {
	if len(vars) == 0 || vars[0] == nil {
		return nil, errors.Wrap(ErrUnboundArgument, "nil variable")
	}
	g := vars[0].graph
	for _, v := range vars[1:] {
		if v == nil || v.graph != g {
			return nil, errors.Wrap(ErrUnboundArgument, "variables from different graphs")
		}
	}
	return g, nil
}

// evaluateExplicit evaluates an explicit definition over the arguments and returns the outputs.
func evaluateExplicit(def ExplicitDefinition, args ...*Variable) ([]*Variable, error) {
	g, err := sameGraph(args...)
	if err != nil {
		return nil, err
	}
	_, outputs, err := g.Explicit(def, args...)
	return outputs, err
}

// Add returns the variable x1 + x2, named "<x1>_plus_<x2>". x1 and x2 must have the same shape.
func Add(x1, x2 *Variable) (*Variable, error) {
	outputs, err := evaluateExplicit(AddDefinition, x1, x2)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// Subtract returns the variable x1 - x2, named "<x1>_minus_<x2>".
func Subtract(x1, x2 *Variable) (*Variable, error) {
	outputs, err := evaluateExplicit(SubtractDefinition, x1, x2)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// Multiply returns the element-wise product of x1 and x2, named "<x1>_times_<x2>".
func Multiply(x1, x2 *Variable) (*Variable, error) {
	outputs, err := evaluateExplicit(MultiplyDefinition, x1, x2)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// VStackDefinition stacks two variables along their first axis. The other dimensions must match.
//
// Evaluated over x1 and x2 it creates the variable "<x1>_stack_<x2>", produced by "<x1>_stack_<x2>_operation".
// With a Prefix (e.g. a design condition name), both are prefixed with "<prefix>_".
type VStackDefinition struct {
	Prefix string
}

var _ ExplicitDefinition = VStackDefinition{}

// Declare implements Definition.
func (d VStackDefinition) Declare(args []*Variable) (Declaration, error) {
	if len(args) != 2 {
		return Declaration{}, errors.Errorf("vstack takes 2 arguments, %d given", len(args))
	}
	x1, x2 := args[0], args[1]
	if x1.shape.IsScalar() || x2.shape.IsScalar() {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "vstack cannot stack scalars %s and %s", x1, x2)
	}
	shape, err := shapeinference.Concatenate([]shapes.Shape{x1.shape, x2.shape}, 0)
	if err != nil {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "%v", err)
	}
	name := fmt.Sprintf("%s_stack_%s", x1.name, x2.name)
	if d.Prefix != "" {
		name = d.Prefix + "_" + name
	}
	return Declaration{
		Name:      name + "_operation",
		Arguments: []string{"x1", "x2"},
		Outputs:   []OutputDeclaration{{Name: name, Local: "y", Dimensions: shape.Dimensions}},
	}, nil
}

// Compute implements ExplicitDefinition.
func (d VStackDefinition) Compute(op *Operation) (backend.Component, error) {
	f := backend.NewFragment(op.name)
	x1, err := f.DeclareInput("x1", op.Argument("x1").shape)
	if err != nil {
		return nil, err
	}
	x2, err := f.DeclareInput("x2", op.Argument("x2").shape)
	if err != nil {
		return nil, err
	}
	y, err := backend.Concatenate(0, x1, x2)
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(op.Output("y").name, y); err != nil {
		return nil, err
	}
	return f, nil
}

// VStack returns x1 stacked over x2, see VStackDefinition.
func VStack(x1, x2 *Variable, prefix string) (*Variable, error) {
	outputs, err := evaluateExplicit(VStackDefinition{Prefix: prefix}, x1, x2)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// MatVecDefinition multiplies a matrix m [rows, cols] by a vector x [cols].
//
// Evaluated over m and x it creates the variable "<m>_dot_<x>", produced by "<m>_dot_<x>_operation".
type MatVecDefinition struct{}

var (
	_ ExplicitDefinition   = MatVecDefinition{}
	_ DerivativeDefinition = MatVecDefinition{}
)

// Declare implements Definition.
func (MatVecDefinition) Declare(args []*Variable) (Declaration, error) {
	if len(args) != 2 {
		return Declaration{}, errors.Errorf("matvec takes 2 arguments, %d given", len(args))
	}
	m, x := args[0], args[1]
	if m.shape.Rank() != 2 || x.shape.Rank() != 1 {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "matvec requires a matrix and a vector, got %s and %s", m, x)
	}
	shape, err := shapeinference.MatMul(m.shape, x.shape)
	if err != nil {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "%v", err)
	}
	name := fmt.Sprintf("%s_dot_%s", m.name, x.name)
	return Declaration{
		Name:      name + "_operation",
		Arguments: []string{"m", "x"},
		Outputs:   []OutputDeclaration{{Name: name, Local: "y", Dimensions: shape.Dimensions}},
	}, nil
}

// Compute implements ExplicitDefinition.
func (MatVecDefinition) Compute(op *Operation) (backend.Component, error) {
	f := backend.NewFragment(op.name)
	m, err := f.DeclareInput("m", op.Argument("m").shape)
	if err != nil {
		return nil, err
	}
	x, err := f.DeclareInput("x", op.Argument("x").shape)
	if err != nil {
		return nil, err
	}
	y, err := backend.MatMul(m, x)
	if err != nil {
		return nil, err
	}
	if err = f.RegisterOutput(op.Output("y").name, y); err != nil {
		return nil, err
	}
	return f, nil
}

// ComputeDerivatives implements DerivativeDefinition: the fragment registers "dy_dx", which is m itself.
func (MatVecDefinition) ComputeDerivatives(op *Operation) (backend.Component, error) {
	f := backend.NewFragment(op.name + "_derivatives")
	m, err := f.DeclareInput("m", op.Argument("m").shape)
	if err != nil {
		return nil, err
	}
	if _, err = f.DeclareInput("x", op.Argument("x").shape); err != nil {
		return nil, err
	}
	if err = f.RegisterOutput("dy_dx", m); err != nil {
		return nil, err
	}
	return f, nil
}

// MatVec returns m x, see MatVecDefinition.
func MatVec(m, x *Variable) (*Variable, error) {
	outputs, err := evaluateExplicit(MatVecDefinition{}, m, x)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// EigenvaluesDefinition computes the eigenvalues of a square matrix with the eig operator, whose
// derivatives are supplied analytically to the backend.
//
// Evaluated over a it creates the variables "<a>_e_real" and "<a>_e_imag" (local names "e_real" and
// "e_imag"), produced by "<a>_eig_operation".
type EigenvaluesDefinition struct{}

var _ ExplicitDefinition = EigenvaluesDefinition{}

// Declare implements Definition.
func (EigenvaluesDefinition) Declare(args []*Variable) (Declaration, error) {
	if len(args) != 1 {
		return Declaration{}, errors.Errorf("eigenvalues takes 1 argument, %d given", len(args))
	}
	a := args[0]
	if a.shape.Rank() != 2 || a.shape.Dimensions[0] != a.shape.Dimensions[1] {
		return Declaration{}, errors.Wrapf(ErrShapeMismatch, "eigenvalues requires a square matrix, got %s", a)
	}
	n := a.shape.Dimensions[0]
	return Declaration{
		Name:      a.name + "_eig_operation",
		Arguments: []string{eig.InputName},
		Outputs: []OutputDeclaration{
			{Name: a.name + "_" + eig.RealOutput, Local: eig.RealOutput, Dimensions: []int{n}},
			{Name: a.name + "_" + eig.ImagOutput, Local: eig.ImagOutput, Dimensions: []int{n}},
		},
	}, nil
}

// Compute implements ExplicitDefinition.
func (EigenvaluesDefinition) Compute(op *Operation) (backend.Component, error) {
	a := op.Argument(eig.InputName)
	operator, err := eig.New(a.shape.Dimensions[0])
	if err != nil {
		return nil, err
	}
	f := backend.NewFragment(op.name)
	input, err := f.DeclareInput(eig.InputName, a.shape)
	if err != nil {
		return nil, err
	}
	outputs, err := f.Custom(operator, input)
	if err != nil {
		return nil, err
	}
	for i, local := range []string{eig.RealOutput, eig.ImagOutput} {
		if err = f.RegisterOutput(op.Output(local).name, outputs[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Eigenvalues returns the real and imaginary parts of the eigenvalues of the square matrix a.
func Eigenvalues(a *Variable) (eReal, eImag *Variable, err error) {
	outputs, err := evaluateExplicit(EigenvaluesDefinition{}, a)
	if err != nil {
		return nil, nil, err
	}
	return outputs[0], outputs[1], nil
}
