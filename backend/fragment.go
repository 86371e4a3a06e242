package backend

import (
	"fmt"
	"io"
	"slices"

	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/internal/utils"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/pkg/errors"
)

// Fragment is a self-contained computation: declared inputs, a list of statements and registered outputs.
//
// Fragments are the usual Component embedded in a Graph: each explicit operation of an m3l model
// computes one.
type Fragment struct {
	// Name of the fragment, used for debugging and error messages.
	Name string

	// Statements in the fragment body, in execution order.
	Statements []*Statement

	// inputs declared, in order.
	inputs []*Value

	// defaults for inputs, indexed by input name.
	defaults map[string]*Tensor

	// outputs registered, in order, with their names.
	outputs     []*Value
	outputNames []string

	// values holds all the values created in the fragment's scope.
	values []*Value
}

// NewFragment creates an empty Fragment.
func NewFragment(name string) *Fragment {
	return &Fragment{Name: name}
}

// newValue creates a new value with the given shape and assigns it to the next available id.
func (f *Fragment) newValue(shape shapes.Shape) *Value {
	v := &Value{
		fragment: f,
		id:       len(f.values),
		shape:    shape,
	}
	f.values = append(f.values, v)
	return v
}

// Values returns the number of values created in the fragment, including inputs.
func (f *Fragment) Values() int {
	return len(f.values)
}

// DeclareInput declares a new named input of the given shape.
//
// The name must be a valid identifier (see utils.IsIdentifier) and unique among the fragment inputs.
func (f *Fragment) DeclareInput(name string, shape shapes.Shape) (*Value, error) {
	if !utils.IsIdentifier(name) {
		return nil, errors.Errorf("fragment %q: invalid input name %q", f.Name, name)
	}
	if f.Input(name) != nil {
		return nil, errors.Errorf("fragment %q: input %q declared twice", f.Name, name)
	}
	if !shape.Ok() {
		return nil, errors.Errorf("fragment %q: invalid shape %s for input %q", f.Name, shape, name)
	}
	if err := shapes.CheckDimensions(shape.Dimensions...); err != nil {
		return nil, errors.WithMessagef(err, "fragment %q: input %q", f.Name, name)
	}
	v := f.newValue(shape)
	v.name = name
	f.inputs = append(f.inputs, v)
	return v, nil
}

// DeclareInputWithDefault declares a named input with a default value, used when the input is
// neither connected nor fed.
//
// The default value can be a number or (nested) slices of numbers, including float32 and
// float16.Float16, or a *Tensor. Its size must match the shape.
func (f *Fragment) DeclareInputWithDefault(name string, shape shapes.Shape, defaultValue any) (*Value, error) {
	t, err := TensorFrom(defaultValue)
	if err != nil {
		return nil, errors.WithMessagef(err, "fragment %q: default for input %q", f.Name, name)
	}
	if t.Shape.Size() != shape.Size() {
		return nil, errors.Wrapf(ErrShapeMismatch, "fragment %q: default for input %q has shape %s, declared %s",
			f.Name, name, t.Shape, shape)
	}
	v, err := f.DeclareInput(name, shape)
	if err != nil {
		return nil, err
	}
	if f.defaults == nil {
		f.defaults = make(map[string]*Tensor)
	}
	f.defaults[name] = &Tensor{Shape: shape.Clone(), Flat: t.Flat}
	return v, nil
}

// Input returns the declared input with the given name, or nil if there is none.
func (f *Fragment) Input(name string) *Value {
	for _, input := range f.inputs {
		if input.name == name {
			return input
		}
	}
	return nil
}

// Output returns the value registered under the given output name, or nil.
func (f *Fragment) Output(name string) *Value {
	idx := slices.Index(f.outputNames, name)
	if idx < 0 {
		return nil
	}
	return f.outputs[idx]
}

// Constant creates a new constant statement from a flat slice of values and the dimensions of the shape.
// The flat values can be []float64, []float32 or []float16.Float16.
func (f *Fragment) Constant(flat any, dimensions ...int) (*Value, error) {
	t, err := TensorFrom(flat)
	if err != nil {
		return nil, errors.WithMessagef(err, "fragment %q: Constant", f.Name)
	}
	if t.Shape.Rank() > 1 {
		return nil, errors.Errorf("fragment %q: Constant requires flat values, got shape %s", f.Name, t.Shape)
	}
	tensor, err := NewTensor(t.Flat, dimensions...)
	if err != nil {
		return nil, errors.WithMessagef(err, "fragment %q: Constant", f.Name)
	}
	stmt := f.addOp(optypes.Constant, tensor.Shape)
	stmt.Attributes = map[string]any{"value": tensor}
	return stmt.Outputs[0], nil
}

// RegisterOutput exposes the value under the given output name.
// The same value may be registered under more than one name.
func (f *Fragment) RegisterOutput(name string, value *Value) error {
	if !utils.IsIdentifier(name) {
		return errors.Errorf("fragment %q: invalid output name %q", f.Name, name)
	}
	if value == nil || value.fragment != f {
		return errors.Errorf("fragment %q: output %q is not a value of the fragment", f.Name, name)
	}
	if slices.Contains(f.outputNames, name) {
		return errors.Errorf("fragment %q: output %q registered twice", f.Name, name)
	}
	f.outputs = append(f.outputs, value)
	f.outputNames = append(f.outputNames, name)
	return nil
}

// Inputs implements Component.
func (f *Fragment) Inputs() []Port {
	ports := make([]Port, len(f.inputs))
	for i, input := range f.inputs {
		ports[i] = Port{Name: input.name, Shape: input.shape, Default: f.defaults[input.name]}
	}
	return ports
}

// Outputs implements Component.
func (f *Fragment) Outputs() []Port {
	ports := make([]Port, len(f.outputs))
	for i, output := range f.outputs {
		ports[i] = Port{Name: f.outputNames[i], Shape: output.shape}
	}
	return ports
}

// Write the fragment as text, with the given indentation.
func (f *Fragment) Write(writer io.Writer, indentation string) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}
	we := func(e elementWriter, indentation string) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		err = e.Write(writer, indentation)
	}
	nextIndent := indentation + IndentationStep

	w("(")
	for i, input := range f.inputs {
		if i > 0 {
			w(", ")
		}
		we(input, nextIndent)
		w(": %s", input.shape.TensorType())
		if t, found := f.defaults[input.name]; found {
			w(" = %s", literalToText(t))
		}
	}
	w(") -> (")
	for i, name := range f.outputNames {
		if i > 0 {
			w(", ")
		}
		w("%s: %s", name, f.outputs[i].shape.TensorType())
	}
	w(") {\n")
	for _, stmt := range f.Statements {
		we(stmt, nextIndent)
		w("\n")
	}
	w("%sreturn", nextIndent)
	for i, output := range f.outputs {
		if i > 0 {
			w(",")
		}
		w(" %s", output)
	}
	w("\n%s}", indentation)
	return err
}

// elementWriter represents elements of a program that know how to write themselves.
type elementWriter interface {
	Write(w io.Writer, indentation string) error
}
