package backend

import (
	"slices"

	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/shapeinference"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
)

// addOp adds a new operation to the fragment.
func (f *Fragment) addOp(opType optypes.OpType, outputShape shapes.Shape, inputs ...*Value) *Statement {
	stmt := &Statement{
		OpType:  opType,
		Inputs:  inputs,
		Outputs: []*Value{f.newValue(outputShape)},
	}
	f.Statements = append(f.Statements, stmt)
	return stmt
}

// addMultiOp adds a new operation with multiple outputs to the fragment.
func (f *Fragment) addMultiOp(opType optypes.OpType, outputShapes []shapes.Shape, inputs []*Value) *Statement {
	outputs := make([]*Value, len(outputShapes))
	for i, shape := range outputShapes {
		outputs[i] = f.newValue(shape)
	}
	stmt := &Statement{
		OpType:  opType,
		Inputs:  inputs,
		Outputs: outputs,
	}
	f.Statements = append(f.Statements, stmt)
	return stmt
}

// sameFragment checks that all operands belong to the same fragment and returns it.
func sameFragment(op optypes.OpType, operands ...*Value) (*Fragment, error) {
	if len(operands) == 0 {
		return nil, errors.Errorf("%s requires at least one operand", op)
	}
	for i, operand := range operands {
		if operand == nil {
			return nil, errors.Errorf("%s operand #%d is nil", op, i)
		}
	}
	f := operands[0].fragment
	for i, operand := range operands[1:] {
		if operand.fragment != f {
			return nil, errors.Errorf("cannot add operation %s to fragment %q, because operand #%d is from a different fragment (%q)",
				op, f.Name, i+1, operand.fragment.Name)
		}
	}
	return f, nil
}

// binaryOp adds a new binary operation to the fragment.
func binaryOp(op optypes.OpType, lhs, rhs *Value) (*Value, error) {
	f, err := sameFragment(op, lhs, rhs)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.BinaryOp(op, lhs.shape, rhs.shape)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "fragment %q: %v", f.Name, err)
	}
	return f.addOp(op, outputShape, lhs, rhs).Outputs[0], nil
}

// Add returns the element-wise sum of lhs and rhs, which must have the same shape.
func Add(lhs, rhs *Value) (*Value, error) {
	return binaryOp(optypes.Add, lhs, rhs)
}

// Subtract returns the element-wise difference lhs - rhs.
func Subtract(lhs, rhs *Value) (*Value, error) {
	return binaryOp(optypes.Subtract, lhs, rhs)
}

// Multiply returns the element-wise product.
func Multiply(lhs, rhs *Value) (*Value, error) {
	return binaryOp(optypes.Multiply, lhs, rhs)
}

// Divide returns the element-wise division lhs / rhs.
func Divide(lhs, rhs *Value) (*Value, error) {
	return binaryOp(optypes.Divide, lhs, rhs)
}

// Negate returns -x.
func Negate(x *Value) (*Value, error) {
	op := optypes.Negate
	f, err := sameFragment(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.UnaryOp(op, x.shape)
	if err != nil {
		return nil, err
	}
	return f.addOp(op, outputShape, x).Outputs[0], nil
}

// MatMul returns the matrix product of lhs and rhs. Either of them can be a vector, see shapeinference.MatMul.
func MatMul(lhs, rhs *Value) (*Value, error) {
	op := optypes.MatMul
	f, err := sameFragment(op, lhs, rhs)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.MatMul(lhs.shape, rhs.shape)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "fragment %q: %v", f.Name, err)
	}
	return f.addOp(op, outputShape, lhs, rhs).Outputs[0], nil
}

// Solve returns x such that `a x = b`, for a square non-singular matrix a.
func Solve(a, b *Value) (*Value, error) {
	op := optypes.Solve
	f, err := sameFragment(op, a, b)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Solve(a.shape, b.shape)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "fragment %q: %v", f.Name, err)
	}
	return f.addOp(op, outputShape, a, b).Outputs[0], nil
}

// Reshape the operand to the given dimensions. The total size must not change.
func Reshape(operand *Value, dimensions ...int) (*Value, error) {
	op := optypes.Reshape
	f, err := sameFragment(op, operand)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Reshape(operand.shape, dimensions...)
	if err != nil {
		return nil, err
	}
	return f.addOp(op, outputShape, operand).Outputs[0], nil
}

// Concatenate operands on the given axis.
//
// All axes that are not being concatenated must match dimensions.
// It doesn't work with scalars -- use Reshape.
// If there is only one operand, it is returned and this is a no-op.
func Concatenate(axis int, operands ...*Value) (*Value, error) {
	op := optypes.Concatenate
	f, err := sameFragment(op, operands...)
	if err != nil {
		return nil, err
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	operandsShapes := make([]shapes.Shape, len(operands))
	for i, operand := range operands {
		operandsShapes[i] = operand.shape
	}
	outputShape, err := shapeinference.Concatenate(operandsShapes, axis)
	if err != nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "fragment %q: %v", f.Name, err)
	}
	adjustedAxis, err := shapeinference.AdjustAxisToRank(axis, operands[0].shape.Rank())
	if err != nil {
		return nil, errors.WithMessage(err, "Concatenate axis for operands")
	}
	stmt := f.addOp(op, outputShape, operands...)
	stmt.Attributes = map[string]any{"dimension": adjustedAxis}
	return stmt.Outputs[0], nil
}

// Transpose axes of x.
//
// There must be one value in permutation for each axis in x.
// The output will have: output.Dimensions[ii] = x.Dimensions[permutation[ii]].
func Transpose(x *Value, permutation ...int) (*Value, error) {
	op := optypes.Transpose
	f, err := sameFragment(op, x)
	if err != nil {
		return nil, err
	}
	outputShape, err := shapeinference.Transpose(x.shape, permutation)
	if err != nil {
		return nil, err
	}
	stmt := f.addOp(op, outputShape, x)
	stmt.Attributes = map[string]any{"permutation": slices.Clone(permutation)}
	return stmt.Outputs[0], nil
}
