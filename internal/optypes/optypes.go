// Package optypes defines OpType and lists the operations a backend fragment can hold.
package optypes

import (
	"fmt"

	"github.com/gomlx/m3l/internal/utils"
)

// OpType is an enum of the operations a fragment statement can perform.
type OpType int

//go:generate go tool enumer -type=OpType optypes.go

const (
	Invalid OpType = iota
	Constant

	Add
	Subtract
	Multiply
	Divide
	Negate
	MatMul
	Reshape
	Concatenate
	Transpose
	Solve

	// Custom statements delegate to a backend.CustomOperator.
	Custom

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

// textMappings maps OpType to its name in the program text, when the default
// "snake case" doesn't work.
var textMappings = map[OpType]string{
	MatMul: "m3l.matmul",
}

// ToText returns the name of the operation in the program text, e.g. "m3l.add".
func (op OpType) ToText() string {
	name, ok := textMappings[op]
	if !ok {
		name = fmt.Sprintf("m3l.%s", utils.ToSnakeCase(op.String()))
	}
	return name
}

// IsElementWise returns whether the operation works element by element over operands of the same shape.
func (op OpType) IsElementWise() bool {
	switch op {
	case Add, Subtract, Multiply, Divide, Negate:
		return true
	}
	return false
}
