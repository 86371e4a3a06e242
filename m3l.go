// Package m3l composes models as a graph of operations over named, shaped variables, and assembles
// them, in dependency order, into a backend.Graph with explicit point-to-point connections.
//
// Among its features:
//
//   - A Graph arena owning Variables and Operations: a Variable refers to the Operation producing it
//     by index, and operations are created only by evaluating a Definition over existing variables.
//   - Explicit operations (a forward fragment, optionally derivatives) and implicit operations
//     (residual equations, closed by a nonlinear solver or solved directly).
//   - A Model that gathers the operations behind its registered outputs, producers first, and emits
//     the backend.Graph. AssembleModal additionally attaches eigenvalue blocks (package eig) to
//     the residual partial derivatives of every implicit operation.
//
// The assembled backend.Graph can be written as text, serialized as a msgpack snapshot, or run by
// the reference interpreter in backend/interp.
package m3l

import "github.com/gomlx/m3l/internal/utils"

// NormalizeIdentifier converts a name to a valid variable or operation name: only letters, digits,
// and underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	return utils.NormalizeIdentifier(name)
}
