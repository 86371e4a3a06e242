package backend

import (
	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CustomOperator is an operator that supplies its own forward computation and the analytic
// derivatives of its outputs with respect to its inputs.
//
// Operators should be stateless: Compute and ComputeDerivatives are always called with the
// values of the same evaluation point, and nothing is cached across calls.
type CustomOperator interface {
	// Name of the operator, e.g. "eig".
	Name() string

	// Define declares the parameters, inputs, outputs and supplied derivatives of the operator.
	Define(spec *OperatorSpec) error

	// Compute the outputs, indexed by output name, from the inputs, indexed by input name.
	Compute(inputs map[string]*Tensor) (map[string]*Tensor, error)

	// ComputeDerivatives returns one Jacobian block per declared Partial.
	// The block for Partial{Of: y, Wrt: x} has y.Size() rows and x.Size() columns, indexing
	// both flattened in row-major order.
	ComputeDerivatives(inputs map[string]*Tensor) (map[Partial]*mat.Dense, error)
}

// Partial identifies a derivative block: the derivative of output Of with respect to input Wrt.
type Partial struct {
	Of, Wrt string
}

// String implements fmt.Stringer.
func (p Partial) String() string {
	return "d" + p.Of + "_d" + p.Wrt
}

// OperatorSpec is filled by CustomOperator.Define.
type OperatorSpec struct {
	Name string

	// Parameters of the operator, in declaration order.
	Parameters []Parameter

	InputPorts, OutputPorts []Port

	// Derivatives supplied by the operator.
	Derivatives []Partial
}

// Parameter is a named constant argument of an operator, e.g. the matrix size.
type Parameter struct {
	Name  string
	Value any
}

// DeclareParameter adds or replaces a parameter.
func (s *OperatorSpec) DeclareParameter(name string, value any) {
	for i, p := range s.Parameters {
		if p.Name == name {
			s.Parameters[i].Value = value
			return
		}
	}
	s.Parameters = append(s.Parameters, Parameter{Name: name, Value: value})
}

// Parameter returns the value of the parameter, and whether it was declared.
func (s *OperatorSpec) Parameter(name string) (any, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// AddInput declares an input of the operator.
func (s *OperatorSpec) AddInput(name string, shape shapes.Shape) error {
	if err := s.checkNewPort(name, shape); err != nil {
		return err
	}
	s.InputPorts = append(s.InputPorts, Port{Name: name, Shape: shape})
	return nil
}

// AddOutput declares an output of the operator.
func (s *OperatorSpec) AddOutput(name string, shape shapes.Shape) error {
	if err := s.checkNewPort(name, shape); err != nil {
		return err
	}
	s.OutputPorts = append(s.OutputPorts, Port{Name: name, Shape: shape})
	return nil
}

func (s *OperatorSpec) checkNewPort(name string, shape shapes.Shape) error {
	if !utils.IsIdentifier(name) {
		return errors.Errorf("operator %q: invalid port name %q", s.Name, name)
	}
	_, isInput := findPort(s.InputPorts, name)
	_, isOutput := findPort(s.OutputPorts, name)
	if isInput || isOutput {
		return errors.Errorf("operator %q: port %q declared twice", s.Name, name)
	}
	if !shape.Ok() {
		return errors.Errorf("operator %q: invalid shape %s for port %q", s.Name, shape, name)
	}
	return shapes.CheckDimensions(shape.Dimensions...)
}

// DeclareDerivatives declares that the operator supplies the derivative of output `of` with respect to input `wrt`.
func (s *OperatorSpec) DeclareDerivatives(of, wrt string) error {
	if _, found := findPort(s.OutputPorts, of); !found {
		return errors.Wrapf(ErrUnknownPort, "operator %q: derivative of undeclared output %q", s.Name, of)
	}
	if _, found := findPort(s.InputPorts, wrt); !found {
		return errors.Wrapf(ErrUnknownPort, "operator %q: derivative with respect to undeclared input %q", s.Name, wrt)
	}
	p := Partial{Of: of, Wrt: wrt}
	for _, existing := range s.Derivatives {
		if existing == p {
			return nil
		}
	}
	s.Derivatives = append(s.Derivatives, p)
	return nil
}

// JacobianDims returns the expected (rows, columns) of the Jacobian block of the partial.
func (s *OperatorSpec) JacobianDims(p Partial) (rows, cols int, err error) {
	of, found := findPort(s.OutputPorts, p.Of)
	if !found {
		return 0, 0, errors.Wrapf(ErrUnknownPort, "operator %q: output %q", s.Name, p.Of)
	}
	wrt, found := findPort(s.InputPorts, p.Wrt)
	if !found {
		return 0, 0, errors.Wrapf(ErrUnknownPort, "operator %q: input %q", s.Name, p.Wrt)
	}
	return of.Shape.Size(), wrt.Shape.Size(), nil
}

// CheckDerivatives verifies that derivatives holds exactly one block of the expected dimensions
// for each declared Partial.
func (s *OperatorSpec) CheckDerivatives(derivatives map[Partial]*mat.Dense) error {
	for _, p := range s.Derivatives {
		block, found := derivatives[p]
		if !found || block == nil {
			return errors.Errorf("operator %q: missing derivative %s", s.Name, p)
		}
		rows, cols, err := s.JacobianDims(p)
		if err != nil {
			return err
		}
		if r, c := block.Dims(); r != rows || c != cols {
			return errors.Wrapf(ErrShapeMismatch, "operator %q: derivative %s has dims %dx%d, expected %dx%d",
				s.Name, p, r, c, rows, cols)
		}
	}
	if len(derivatives) != len(s.Derivatives) {
		return errors.Errorf("operator %q: %d derivative blocks returned, %d declared",
			s.Name, len(derivatives), len(s.Derivatives))
	}
	return nil
}

// DefineOperator runs op.Define on a fresh OperatorSpec.
func DefineOperator(op CustomOperator) (*OperatorSpec, error) {
	spec := &OperatorSpec{Name: op.Name()}
	if err := op.Define(spec); err != nil {
		return nil, errors.WithMessagef(err, "defining operator %q", op.Name())
	}
	if len(spec.OutputPorts) == 0 {
		return nil, errors.Errorf("operator %q declares no outputs", op.Name())
	}
	return spec, nil
}

// Custom adds a call to the custom operator. The inputs are given in the order the operator declares them,
// and the outputs are returned in the order the operator declares them.
func (f *Fragment) Custom(op CustomOperator, inputs ...*Value) ([]*Value, error) {
	spec, err := DefineOperator(op)
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(spec.InputPorts) {
		return nil, errors.Errorf("fragment %q: operator %q takes %d inputs, %d given",
			f.Name, spec.Name, len(spec.InputPorts), len(inputs))
	}
	for i, input := range inputs {
		if input == nil || input.fragment != f {
			return nil, errors.Errorf("fragment %q: input #%d of operator %q is not a value of the fragment",
				f.Name, i, spec.Name)
		}
		if port := spec.InputPorts[i]; !port.Shape.Equal(input.shape) {
			return nil, errors.Wrapf(ErrShapeMismatch, "fragment %q: operator %q input %q expects %s, got %s",
				f.Name, spec.Name, port.Name, port.Shape, input.shape)
		}
	}
	outputShapes := make([]shapes.Shape, len(spec.OutputPorts))
	for i, port := range spec.OutputPorts {
		outputShapes[i] = port.Shape
	}
	stmt := f.addMultiOp(optypes.Custom, outputShapes, inputs)
	stmt.Operator = op
	stmt.Attributes = map[string]any{"operator": spec.Name}
	for _, p := range spec.Parameters {
		stmt.Attributes[p.Name] = p.Value
	}
	return stmt.Outputs, nil
}

// NewCustomBlock returns a Fragment that exposes the custom operator: one fragment input per operator input,
// and one registered output per operator output, with the same names.
func NewCustomBlock(name string, op CustomOperator) (*Fragment, error) {
	spec, err := DefineOperator(op)
	if err != nil {
		return nil, err
	}
	f := NewFragment(name)
	inputs := make([]*Value, len(spec.InputPorts))
	for i, port := range spec.InputPorts {
		if inputs[i], err = f.DeclareInput(port.Name, port.Shape); err != nil {
			return nil, err
		}
	}
	outputs, err := f.Custom(op, inputs...)
	if err != nil {
		return nil, err
	}
	for i, port := range spec.OutputPorts {
		if err = f.RegisterOutput(port.Name, outputs[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}
