// Package utils holds small helpers shared by the m3l packages: sets, identifier
// normalization and qualified port names.
package utils

import (
	"strings"
	"unicode"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// NormalizeIdentifier converts a block, port or variable name to a valid identifier:
// only ASCII letters, digits, and underscores are kept, everything else becomes an underscore.
//
// Names starting with a digit are prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(name) + 1)
	if name[0] >= '0' && name[0] <= '9' {
		sb.WriteByte('_')
	}
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// IsIdentifier returns whether name is already a valid identifier.
func IsIdentifier(name string) bool {
	return name != "" && NormalizeIdentifier(name) == name
}

// QualifiedName joins a block name and one of its ports, as used in connections: "block.port".
func QualifiedName(block, port string) string {
	return block + "." + port
}

// SplitQualifiedName splits "block.port" into its parts.
// The block name is everything up to the first dot, so ports may not contain dots either.
func SplitQualifiedName(qualified string) (block, port string, err error) {
	block, port, found := strings.Cut(qualified, ".")
	if !found || block == "" || port == "" || strings.Contains(port, ".") {
		return "", "", errors.Errorf("invalid qualified name %q, expected \"<block>.<port>\"", qualified)
	}
	return block, port, nil
}

// ToSnakeCase converts a CamelCase name (e.g. an OpType) to snake_case.
// Runs of capitals are kept together, so "MatMul" becomes "mat_mul" and "IDTable" becomes "id_table".
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			sb.WriteRune(r)
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prev != '_' && (!unicode.IsUpper(prev) || nextIsLower) {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// DTypeName returns the element type name used in the program text, e.g. "f64".
func DTypeName(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.Float64:
		return "f64"
	case dtypes.Float32:
		return "f32"
	case dtypes.Float16:
		return "f16"
	case dtypes.Int64:
		return "i64"
	case dtypes.Int32:
		return "i32"
	case dtypes.Bool:
		return "i1"
	default:
		return "unknown_dtype<" + dtype.String() + ">"
	}
}
