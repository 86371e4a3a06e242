package shapes

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

var float16Type = reflect.TypeOf(float16.Float16(0))

// FromAnyValue attempts to convert a Go "any" value to its expected shape.
// Accepted values are numbers or (multiple levels of) slices of numbers.
//
// Example:
//
//	shape := shapes.FromAnyValue([][]float64{{0, 0}}) // Returns shape (Float64)[1 2]
func FromAnyValue(v any) (shape Shape, err error) {
	err = shapeForAnyValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return
}

func shapeForAnyValueRecursive(shape *Shape, v reflect.Value, t reflect.Type) error {
	if t == nil {
		return errors.New("cannot convert nil to a shape")
	}
	if t.Kind() != reflect.Slice {
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %q to a valid shape", t)
		}
		return nil
	}

	t = t.Elem()
	shape.Dimensions = append(shape.Dimensions, v.Len())
	shapePrefix := shape.Clone()

	// The first element is the reference.
	if v.Len() == 0 {
		return errors.Errorf("value with empty slice not valid for shape conversion: %T: %v -- it wouldn't be possible to figure out the inner dimensions", v.Interface(), v)
	}
	err := shapeForAnyValueRecursive(shape, v.Index(0), t)
	if err != nil {
		return err
	}

	// Other elements must have the same shape as the first one.
	for ii := 1; ii < v.Len(); ii++ {
		shapeTest := shapePrefix.Clone()
		err = shapeForAnyValueRecursive(&shapeTest, v.Index(ii), t)
		if err != nil {
			return err
		}
		if !shape.Equal(shapeTest) {
			return fmt.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
		}
	}
	return nil
}

// FlattenFloat64 converts a number or (nested) slices of numbers to a row-major []float64,
// returning it with the value's shape. Half-precision (float16.Float16) values are widened.
func FlattenFloat64(v any) ([]float64, Shape, error) {
	shape, err := FromAnyValue(v)
	if err != nil {
		return nil, Invalid(), err
	}
	flat := make([]float64, 0, shape.Size())
	var flatten func(rv reflect.Value) error
	flatten = func(rv reflect.Value) error {
		if rv.Type() == float16Type {
			flat = append(flat, float64(rv.Interface().(float16.Float16).Float32()))
			return nil
		}
		switch rv.Kind() {
		case reflect.Slice:
			for ii := range rv.Len() {
				if err := flatten(rv.Index(ii)); err != nil {
					return err
				}
			}
		case reflect.Float32, reflect.Float64:
			flat = append(flat, rv.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			flat = append(flat, float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			flat = append(flat, float64(rv.Uint()))
		default:
			return errors.Errorf("cannot convert %s to float64", rv.Type())
		}
		return nil
	}
	if err = flatten(reflect.ValueOf(v)); err != nil {
		return nil, Invalid(), err
	}
	return flat, Float64(shape.Dimensions...), nil
}
