package m3l

import (
	"github.com/gomlx/m3l/backend"
	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when a fragment declares an input or output with a shape different
	// from the argument or output variable. It is the same error as backend.ErrShapeMismatch.
	ErrShapeMismatch = backend.ErrShapeMismatch

	// ErrUnboundArgument is returned when an operation is evaluated over a variable that is not part of its graph.
	ErrUnboundArgument = errors.New("unbound argument")

	// ErrUnsupportedFragment is returned when an operation computes a component the assembler cannot embed.
	ErrUnsupportedFragment = errors.New("unsupported fragment")

	// ErrInvalidOutput is returned by Model.RegisterOutput for anything other than a *Variable,
	// a []*Variable or a map[string]*Variable.
	ErrInvalidOutput = errors.New("invalid output")

	// ErrDuplicateName is returned when a variable or operation name is already used in the graph.
	ErrDuplicateName = errors.New("duplicate name")
)
