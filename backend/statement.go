package backend

import (
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/m3l/internal/optypes"
	"github.com/x448/float16"
)

// Statement represents a single operation line in a Fragment.
type Statement struct {
	// OpType is the type of the operation.
	OpType optypes.OpType

	// Inputs to the operation.
	Inputs []*Value

	// Attributes of the operation.
	Attributes map[string]any

	// Outputs of the operation.
	Outputs []*Value

	// Operator is set only for optypes.Custom statements.
	Operator CustomOperator
}

// Write writes a string representation of the statement to the given writer.
// Attributes are written sorted by key, so the output is deterministic.
func (s *Statement) Write(writer io.Writer, indentation string) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}

	// Output values are written first:
	w("%s", indentation)
	if len(s.Outputs) > 0 {
		for i, output := range s.Outputs {
			if i > 0 {
				w(", ")
			}
			w("%s", output)
		}
		w(" = ")
	}

	// Write op name and arguments:
	w("%q(", s.OpType.ToText())
	for i, input := range s.Inputs {
		if i > 0 {
			w(", ")
		}
		w("%s", input)
	}
	w(")")

	if len(s.Attributes) > 0 {
		w("{")
		for i, key := range slices.Sorted(maps.Keys(s.Attributes)) {
			if i > 0 {
				w(", ")
			}
			w("%s = %s", key, literalToText(s.Attributes[key]))
		}
		w("}")
	}

	// Write signature:
	w(" : (")
	for i, input := range s.Inputs {
		if i > 0 {
			w(", ")
		}
		w("%s", input.shape.TensorType())
	}
	w(") -> ")
	if len(s.Outputs) > 1 {
		w("(")
	}
	for i, output := range s.Outputs {
		if i > 0 {
			w(", ")
		}
		w("%s", output.shape.TensorType())
	}
	if len(s.Outputs) > 1 {
		w(")")
	}
	return err
}

type hasToText interface {
	ToText() string
}

// formatFloat writes f making sure integers get a decimal point.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return fmt.Sprintf("%.1f", f)
	}
	return fmt.Sprintf("%g", f)
}

// literalToText converts a literal value, usually used in attributes, to its text representation.
func literalToText(attr any) string {
	switch v := attr.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case float16.Float16:
		return formatFloat(float64(v.Float32()))
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []int:
		parts := make([]string, len(v))
		for i, x := range v {
			parts[i] = fmt.Sprintf("%d", x)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Tensor:
		parts := make([]string, len(v.Flat))
		for i, x := range v.Flat {
			parts[i] = formatFloat(x)
		}
		return fmt.Sprintf("dense<[%s]> : %s", strings.Join(parts, ", "), v.Shape.TensorType())
	case hasToText:
		return v.ToText()
	default:
		return fmt.Sprintf("Unknown literal type: %T %#v", v, v)
	}
}
