package config

import (
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// literal evaluates the expression of a value and flattens it. It returns a nil flat if the value is absent.
func literal(expr hcl.Expression) (flat []float64, dimensions []int, err error) {
	if expr == nil {
		return nil, nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, nil, errors.Wrapf(diags, "evaluating value at %s", expr.Range())
	}
	if val.IsNull() {
		return nil, nil, nil
	}
	dimensions, err = flatten(val, &flat)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "value at %s", expr.Range())
	}
	return flat, dimensions, nil
}

// flatten appends the numbers of the value to flat, in row-major order, and returns its dimensions.
// Nested tuples or lists must be rectangular.
func flatten(val cty.Value, flat *[]float64) ([]int, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, errors.New("value must be known and not null")
	}
	ty := val.Type()
	switch {
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		*flat = append(*flat, f)
		return nil, nil
	case ty.IsTupleType() || ty.IsListType():
		length := val.LengthInt()
		if length == 0 {
			return nil, errors.New("empty tuples are not supported")
		}
		var inner []int
		for it, i := val.ElementIterator(), 0; it.Next(); i++ {
			_, element := it.Element()
			dims, err := flatten(element, flat)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				inner = dims
			} else if !slices.Equal(inner, dims) {
				return nil, errors.Errorf("element #%d has dimensions %v, expected %v", i, dims, inner)
			}
		}
		return append([]int{length}, inner...), nil
	default:
		return nil, errors.Errorf("unsupported value type %s, expected numbers", ty.FriendlyName())
	}
}
