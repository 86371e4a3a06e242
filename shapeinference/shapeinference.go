// Package shapeinference calculates the shape resulting from fragment operations and validates their inputs.
//
// Element-wise operations (Add, Subtract, ...) require operands of exactly the same shape:
// there is no implicit broadcasting, an operation author reshapes explicitly.
//
// The remaining operations each get their own shape inference function.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
)

var (
	// StandardBinaryOperations take two operands of the same shape and return that shape.
	StandardBinaryOperations = utils.SetWith(
		optypes.Add,
		optypes.Subtract,
		optypes.Multiply,
		optypes.Divide,
	)

	// StandardUnaryOperations take one operand and return its shape.
	StandardUnaryOperations = utils.SetWith(
		optypes.Negate,
	)
)

// checkFloat returns an error if the shape is not of a float dtype.
func checkFloat(opType optypes.OpType, shape shapes.Shape) error {
	if shape.DType == dtypes.InvalidDType {
		return errors.Errorf("invalid shape %s for %s", shape, opType)
	}
	if !shape.DType.IsFloat() {
		return errors.Errorf("%s must have a float (Float32, Float64, ...) data type as input, got %s", opType, shape)
	}
	return nil
}

// BinaryOp returns the expected output shape for ops in the StandardBinaryOperations set.
//
// It returns an error if the dtypes are not floats or if the shapes don't match exactly.
func BinaryOp(opType optypes.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if err = checkFloat(opType, lhsShape); err != nil {
		return
	}
	if !lhsShape.Equal(rhsShape) {
		err = errors.Errorf("shapes for %s must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	return lhsShape.Clone(), nil
}

// UnaryOp checks the validity of the data type for StandardUnaryOperations and returns
// the output shape, which is the same as the operand.
func UnaryOp(opType optypes.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !StandardUnaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardUnaryOperations set, cannot process it with UnaryOp", opType)
		return
	}
	if err = checkFloat(opType, operand); err != nil {
		return
	}
	return operand.Clone(), nil
}

// MatMul returns the shape of a matrix product. Accepted ranks:
//
//   - [m, k] x [k, n] -> [m, n]
//   - [m, k] x [k] -> [m]
//   - [k] x [k, n] -> [n]
func MatMul(lhs, rhs shapes.Shape) (output shapes.Shape, err error) {
	if err = checkFloat(optypes.MatMul, lhs); err != nil {
		return
	}
	if lhs.DType != rhs.DType {
		err = errors.Errorf("MatMul operands must have the same dtype, got %s and %s", lhs, rhs)
		return
	}
	switch {
	case lhs.Rank() == 2 && rhs.Rank() == 2:
		if lhs.Dimensions[1] != rhs.Dimensions[0] {
			break
		}
		return shapes.Make(lhs.DType, lhs.Dimensions[0], rhs.Dimensions[1]), nil
	case lhs.Rank() == 2 && rhs.Rank() == 1:
		if lhs.Dimensions[1] != rhs.Dimensions[0] {
			break
		}
		return shapes.Make(lhs.DType, lhs.Dimensions[0]), nil
	case lhs.Rank() == 1 && rhs.Rank() == 2:
		if lhs.Dimensions[0] != rhs.Dimensions[0] {
			break
		}
		return shapes.Make(lhs.DType, rhs.Dimensions[1]), nil
	default:
		err = errors.Errorf("MatMul requires operands of rank 1 or 2 (and not both rank 1), got %s and %s", lhs, rhs)
		return
	}
	err = errors.Errorf("MatMul contracting dimensions don't match, got %s and %s", lhs, rhs)
	return
}

// Solve returns the shape of the solution x of `a x = b`: a must be a square matrix [n, n] and
// b either a vector [n] or a matrix [n, m].
func Solve(a, b shapes.Shape) (output shapes.Shape, err error) {
	if err = checkFloat(optypes.Solve, a); err != nil {
		return
	}
	if a.DType != b.DType {
		err = errors.Errorf("Solve operands must have the same dtype, got %s and %s", a, b)
		return
	}
	if a.Rank() != 2 || a.Dimensions[0] != a.Dimensions[1] {
		err = errors.Errorf("Solve requires a square matrix, got %s", a)
		return
	}
	if (b.Rank() != 1 && b.Rank() != 2) || b.Dimensions[0] != a.Dimensions[0] {
		err = errors.Errorf("Solve right-hand side %s doesn't match matrix %s", b, a)
		return
	}
	return b.Clone(), nil
}

// Reshape validates that the operand can be reshaped to the given dimensions: the total size must be preserved.
func Reshape(operand shapes.Shape, dimensions ...int) (output shapes.Shape, err error) {
	if operand.DType == dtypes.InvalidDType {
		err = errors.Errorf("invalid shape %s for Reshape", operand)
		return
	}
	if err = shapes.CheckDimensions(dimensions...); err != nil {
		err = errors.WithMessagef(err, "Reshape(%s)", operand)
		return
	}
	output = shapes.Make(operand.DType, dimensions...)
	if output.Size() != operand.Size() {
		err = errors.Errorf("Reshape() cannot reshape %s to %s, the sizes differ", operand, output)
	}
	return
}

// Concatenate returns the shape of the concatenation of the inputs along the given axis.
// All inputs must have the same dtype, rank, and the same dimensions except on the concatenation axis.
func Concatenate(inputs []shapes.Shape, axis int) (output shapes.Shape, err error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.Errorf("Concatenate requires at least one input shape")
	}
	first := inputs[0]
	if first.DType == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for first input of Concatenate", first)
	}
	axis, err = AdjustAxisToRank(axis, first.Rank())
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "Concatenate of %s", first)
	}
	output = first.Clone()
	for i, current := range inputs[1:] {
		if current.DType != first.DType || current.Rank() != first.Rank() {
			return shapes.Invalid(), errors.Errorf("Concatenate input #%d has shape %s, incompatible with input #0 %s",
				i+1, current, first)
		}
		for ii, dim := range current.Dimensions {
			if ii != axis && dim != first.Dimensions[ii] {
				return shapes.Invalid(), errors.Errorf("Concatenate input #%d has shape %s, axis %d doesn't match input #0 %s",
					i+1, current, ii, first)
			}
		}
		output.Dimensions[axis] += current.Dimensions[axis]
	}
	return output, nil
}

// Transpose all axes of the operand.
// There must be one value in permutation for each axis in the operand.
// The output will have: output.Dimensions[ii] = operand.Dimensions[permutation[ii]].
func Transpose(operand shapes.Shape, permutation []int) (output shapes.Shape, err error) {
	rank := operand.Rank()
	if len(permutation) != rank {
		err = errors.Errorf("Transpose() requires all axes permutation to be defined, operand has shape %s, but %d permutation were given",
			operand, len(permutation))
		return
	}
	axesSet := slices.Clone(permutation)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = errors.Errorf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = errors.Errorf("invalid permutation given to Transpose(%s, %v), there cannot be any repeated axis",
				operand, permutation)
			return
		}
	}
	output = operand.Clone()
	for axis := range output.Dimensions {
		output.Dimensions[axis] = operand.Dimensions[permutation[axis]]
	}
	return
}

// AdjustAxisToRank converts negative axes to a value starting from the end of the axes list.
func AdjustAxisToRank(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return -1, errors.Errorf("axis %d is out of range for the rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}
