// Package shapes defines Shape, the element type plus the dimensions of an array value.
//
// Variables, fragment values and tensors all carry a Shape. Dimensions are given
// in row-major order, and a shape with no dimensions is a scalar.
package shapes

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/pkg/errors"
)

// Shape of an array value: its DType and Dimensions.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape of the given dtype and dimensions. The dimensions are copied.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Float64 is a shortcut to Make(dtypes.Float64, dimensions...), the dtype of every m3l variable.
func Float64(dimensions ...int) Shape {
	return Make(dtypes.Float64, dimensions...)
}

// Invalid returns an invalid shape, with an invalid dtype.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether the shape has a valid dtype.
func (s Shape) Ok() bool {
	return s.DType != dtypes.InvalidDType
}

// Rank returns the number of axes.
func (s Shape) Rank() int {
	return len(s.Dimensions)
}

// IsScalar returns whether the shape has no axes.
func (s Shape) IsScalar() bool {
	return s.Ok() && len(s.Dimensions) == 0
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
// It panics if the axis is out of range.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out of range for rank %d", axis, s.Rank()))
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements: the product of the dimensions (1 for scalars).
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Make(s.DType, s.Dimensions...)
}

// String implements fmt.Stringer, e.g. "(Float64)[3 3]".
func (s Shape) String() string {
	if len(s.Dimensions) == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// TensorType returns the shape as written in the program text, e.g. "tensor<3x3xf64>".
func (s Shape) TensorType() string {
	var sb strings.Builder
	sb.WriteString("tensor<")
	for _, dim := range s.Dimensions {
		sb.WriteString(strconv.Itoa(dim))
		sb.WriteByte('x')
	}
	sb.WriteString(utils.DTypeName(s.DType))
	sb.WriteByte('>')
	return sb.String()
}

// CheckDimensions returns an error if any of the dimensions is not strictly positive.
func CheckDimensions(dimensions ...int) error {
	for axis, dim := range dimensions {
		if dim <= 0 {
			return errors.Errorf("dimension %d of %v must be positive", axis, dimensions)
		}
	}
	return nil
}
