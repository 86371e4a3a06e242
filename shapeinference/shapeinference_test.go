package shapeinference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/m3l/internal/optypes"
	"github.com/gomlx/m3l/types/shapes"
)

// Aliases
var (
	I32 = dtypes.Int32
	F32 = dtypes.Float32
	F64 = dtypes.Float64

	S = shapes.Make
)

// must1 panics if there is an error.
func must1[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}

func TestBinaryOp(t *testing.T) {
	var err error
	_, err = BinaryOp(optypes.Add, S(I32, 3), S(I32, 3))
	if err == nil {
		t.Error("expected error for Add(I32, I32), got nil")
	}
	_, err = BinaryOp(optypes.MatMul, S(F64, 3), S(F64, 3))
	if err == nil {
		t.Error("expected error for MatMul given to BinaryOp, got nil")
	}
	_, err = BinaryOp(optypes.Add, S(F64), S(F64, 2, 3))
	if err == nil {
		t.Error("expected error for Add(scalar, matrix), got nil")
	}
	_, err = BinaryOp(optypes.Add, S(F32, 3), S(F64, 3))
	if err == nil {
		t.Error("expected error for mismatched dtypes, got nil")
	}

	output := must1(BinaryOp(optypes.Multiply, S(F64, 2, 3), S(F64, 2, 3)))
	if !output.Equal(S(F64, 2, 3)) {
		t.Errorf("expected output shape (Float64)[2 3], got %s", output)
	}
}

func TestUnaryOp(t *testing.T) {
	output := must1(UnaryOp(optypes.Negate, S(F32, 4)))
	if !output.Equal(S(F32, 4)) {
		t.Errorf("expected output shape (Float32)[4], got %s", output)
	}
	if _, err := UnaryOp(optypes.Add, S(F32, 4)); err == nil {
		t.Error("expected error for Add given to UnaryOp, got nil")
	}
}

func TestMatMul(t *testing.T) {
	tests := []struct {
		name     string
		lhs, rhs shapes.Shape
		want     shapes.Shape
		wantErr  bool
	}{
		{"matrix-matrix", S(F64, 2, 3), S(F64, 3, 4), S(F64, 2, 4), false},
		{"matrix-vector", S(F64, 2, 3), S(F64, 3), S(F64, 2), false},
		{"vector-matrix", S(F64, 3), S(F64, 3, 4), S(F64, 4), false},
		{"vector-vector", S(F64, 3), S(F64, 3), shapes.Shape{}, true},
		{"mismatch", S(F64, 2, 3), S(F64, 2, 3), shapes.Shape{}, true},
		{"dtypes", S(F64, 2, 3), S(F32, 3), shapes.Shape{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatMul(tt.lhs, tt.rhs)
			if tt.wantErr {
				if err == nil {
					t.Errorf("MatMul(%s, %s) expected error, got %s", tt.lhs, tt.rhs, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("MatMul(%s, %s) unexpected error: %v", tt.lhs, tt.rhs, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("MatMul(%s, %s) = %s, want %s", tt.lhs, tt.rhs, got, tt.want)
			}
		})
	}
}

func TestSolve(t *testing.T) {
	output := must1(Solve(S(F64, 3, 3), S(F64, 3)))
	if !output.Equal(S(F64, 3)) {
		t.Errorf("expected (Float64)[3], got %s", output)
	}
	if _, err := Solve(S(F64, 3, 2), S(F64, 3)); err == nil {
		t.Error("expected error for non-square matrix")
	}
	if _, err := Solve(S(F64, 3, 3), S(F64, 2)); err == nil {
		t.Error("expected error for mismatched right-hand side")
	}
}

func TestReshape(t *testing.T) {
	output := must1(Reshape(S(F64, 2, 3), 6))
	if !output.Equal(S(F64, 6)) {
		t.Errorf("expected (Float64)[6], got %s", output)
	}
	if _, err := Reshape(S(F64, 2, 3), 5); err == nil {
		t.Error("expected error for Reshape changing the size")
	}
	if _, err := Reshape(S(F64, 2, 3), -6); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestConcatenate(t *testing.T) {
	output := must1(Concatenate([]shapes.Shape{S(F64, 2, 3), S(F64, 4, 3)}, 0))
	if !output.Equal(S(F64, 6, 3)) {
		t.Errorf("expected (Float64)[6 3], got %s", output)
	}
	output = must1(Concatenate([]shapes.Shape{S(F64, 2, 3), S(F64, 2, 1)}, -1))
	if !output.Equal(S(F64, 2, 4)) {
		t.Errorf("expected (Float64)[2 4], got %s", output)
	}
	if _, err := Concatenate([]shapes.Shape{S(F64, 2, 3), S(F64, 4, 2)}, 0); err == nil {
		t.Error("expected error for mismatched non-concatenated axis")
	}
	if _, err := Concatenate(nil, 0); err == nil {
		t.Error("expected error for no inputs")
	}
}

func TestTranspose(t *testing.T) {
	output := must1(Transpose(S(F64, 2, 3), []int{1, 0}))
	if !output.Equal(S(F64, 3, 2)) {
		t.Errorf("expected (Float64)[3 2], got %s", output)
	}
	if _, err := Transpose(S(F64, 2, 3), []int{0, 0}); err == nil {
		t.Error("expected error for repeated axis")
	}
}
