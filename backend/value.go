package backend

import (
	"fmt"
	"io"

	"github.com/gomlx/m3l/types/shapes"
)

// Value represents a value in a Fragment, like `%0` or `%x`.
// Declared inputs carry the input name, intermediary values are numbered.
type Value struct {
	fragment *Fragment
	id       int
	shape    shapes.Shape
	name     string // Only set for inputs.
}

// Shape returns the shape of the value.
func (v *Value) Shape() shapes.Shape {
	return v.shape
}

// ID of the value within its fragment: values are numbered in creation order.
func (v *Value) ID() int {
	return v.id
}

// Name of an input value, or "" for intermediary values.
func (v *Value) Name() string {
	return v.name
}

// Fragment owning the value.
func (v *Value) Fragment() *Fragment {
	return v.fragment
}

// Write writes the value in text format to the given writer.
func (v *Value) Write(w io.Writer, indentation string) error {
	_ = indentation
	_, err := io.WriteString(w, v.String())
	return err
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v.name != "" {
		return "%" + v.name
	}
	return fmt.Sprintf("%%%d", v.id)
}
