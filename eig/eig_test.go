package eig

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestForward(t *testing.T) {
	op := must.M1(New(3))
	a := &backend.Tensor{Shape: shapes.Float64(3, 3), Flat: []float64{
		1, 0, 0,
		0, 2, 0,
		0, 0, 3,
	}}
	outputs := must.M1(op.Compute(map[string]*backend.Tensor{InputName: a}))
	eReal := slices.Clone(outputs[RealOutput].Flat)
	slices.Sort(eReal)
	assert.InDeltaSlice(t, []float64{1, 2, 3}, eReal, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, outputs[ImagOutput].Flat, 1e-12)

	// Same input, same order.
	again := must.M1(op.Compute(map[string]*backend.Tensor{InputName: a}))
	assert.Equal(t, outputs[RealOutput].Flat, again[RealOutput].Flat)

	// Rotation: eigenvalues ±i.
	rotation := must.M1(Decompose(mat.NewDense(2, 2, []float64{0, -1, 1, 0})))
	assert.InDeltaSlice(t, []float64{0, 0}, rotation.Real(), 1e-12)
	eImag := rotation.Imag()
	slices.Sort(eImag)
	assert.InDeltaSlice(t, []float64{-1, 1}, eImag, 1e-12)

	_, err := op.Compute(map[string]*backend.Tensor{InputName: {Shape: shapes.Float64(2, 2), Flat: make([]float64, 4)}})
	assert.True(t, errors.Is(err, backend.ErrShapeMismatch), "got %v", err)
	_, err = New(0)
	require.Error(t, err)
}

func TestDiagonalJacobian(t *testing.T) {
	d := must.M1(Decompose(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 2, 0, 0, 0, 3})))
	jacReal, jacImag := must.M2(d.Jacobians())
	rows, cols := jacReal.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, 9, cols)
	// For a diagonal matrix, each eigenvalue only depends on its diagonal entry.
	for j, w := range d.Real() {
		k := int(math.Round(w)) - 1
		for c := range 9 {
			want := 0.0
			if c == k*3+k {
				want = 1.0
			}
			assert.InDelta(t, want, jacReal.At(j, c), 1e-12, "d e_real[%d] / d A[%d]", j, c)
			assert.InDelta(t, 0.0, jacImag.At(j, c), 1e-12)
		}
	}
}

// randomDiagonalizable returns S D S⁻¹ for a random well-conditioned S, and a block-diagonal D with
// well-separated real eigenvalues and, for n >= 4, a complex conjugate pair.
func randomDiagonalizable(rng *rand.Rand, n int) *mat.Dense {
	s := mat.NewDense(n, n, nil)
	for {
		for i := range n {
			for j := range n {
				v := 0.6*rng.Float64() - 0.3
				if i == j {
					v += 1
				}
				s.Set(i, j, v)
			}
		}
		if mat.Cond(s, 2) < 50 {
			break
		}
	}
	d := mat.NewDense(n, n, nil)
	numReal := n
	if n >= 4 {
		numReal = n - 2
		d.Set(n-2, n-2, -2)
		d.Set(n-1, n-1, -2)
		d.Set(n-2, n-1, 1.5)
		d.Set(n-1, n-2, -1.5)
	}
	for i := range numReal {
		d.Set(i, i, float64(i+1)+0.5*rng.Float64())
	}
	var sInv, tmp, a mat.Dense
	must.M(sInv.Inverse(s))
	tmp.Mul(s, d)
	a.Mul(&tmp, &sInv)
	return &a
}

// matchValues returns, for each of the reference eigenvalues, the closest of the given values.
func matchValues(reference, values []complex128) []complex128 {
	matched := make([]complex128, len(reference))
	for j, ref := range reference {
		best := math.Inf(1)
		for _, w := range values {
			if dist := cmplx.Abs(w - ref); dist < best {
				best = dist
				matched[j] = w
			}
		}
	}
	return matched
}

func TestJacobianFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	const h = 1e-6
	for n := 3; n <= 6; n++ {
		a := randomDiagonalizable(rng, n)
		base := must.M1(Decompose(a))
		reference := base.Values()
		jacReal, jacImag := must.M2(base.Jacobians())
		for row := range n {
			for col := range n {
				plus, minus := mat.DenseCopyOf(a), mat.DenseCopyOf(a)
				plus.Set(row, col, a.At(row, col)+h)
				minus.Set(row, col, a.At(row, col)-h)
				wPlus := matchValues(reference, must.M1(Decompose(plus)).Values())
				wMinus := matchValues(reference, must.M1(Decompose(minus)).Values())
				flatIdx := row*n + col
				for j := range n {
					fd := (wPlus[j] - wMinus[j]) / complex(2*h, 0)
					anReal, anImag := jacReal.At(j, flatIdx), jacImag.At(j, flatIdx)
					assert.LessOrEqualf(t, math.Abs(real(fd)-anReal), 1e-5*max(1, math.Abs(anReal)),
						"n=%d: d e_real[%d] / d A[%d,%d]: finite differences %g, analytic %g", n, j, row, col, real(fd), anReal)
					assert.LessOrEqualf(t, math.Abs(imag(fd)-anImag), 1e-5*max(1, math.Abs(anImag)),
						"n=%d: d e_imag[%d] / d A[%d,%d]: finite differences %g, analytic %g", n, j, row, col, imag(fd), anImag)
				}
			}
		}
	}
}

func TestDegeneracy(t *testing.T) {
	tests := []struct {
		name string
		a    *mat.Dense
	}{
		{"identity", mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})},
		{"jordan", mat.NewDense(2, 2, []float64{2, 1, 0, 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := must.M1(Decompose(tt.a))
			_, _, err := d.Jacobians()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDegenerate), "got %v", err)
			var degeneracy *DegeneracyError
			require.True(t, errors.As(err, &degeneracy))
			assert.NotEmpty(t, degeneracy.Reason)

			n, _ := tt.a.Dims()
			op := must.M1(New(n))
			_, err = op.ComputeDerivatives(map[string]*backend.Tensor{
				InputName: {Shape: shapes.Float64(n, n), Flat: slices.Clone(tt.a.RawMatrix().Data)},
			})
			assert.True(t, errors.Is(err, ErrDegenerate), "got %v", err)
		})
	}
}

func TestBlock(t *testing.T) {
	block := must.M1(NewBlock("modes", 4))
	inputs, outputs := block.Inputs(), block.Outputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, InputName, inputs[0].Name)
	assert.True(t, inputs[0].Shape.Equal(shapes.Float64(4, 4)))
	require.Len(t, outputs, 2)
	assert.Equal(t, RealOutput, outputs[0].Name)
	assert.Equal(t, ImagOutput, outputs[1].Name)

	op := must.M1(New(4))
	spec := must.M1(backend.DefineOperator(op))
	a := &backend.Tensor{Shape: shapes.Float64(4, 4), Flat: randomDiagonalizable(rand.New(rand.NewPCG(1, 2)), 4).RawMatrix().Data}
	derivatives := must.M1(op.ComputeDerivatives(map[string]*backend.Tensor{InputName: a}))
	require.NoError(t, spec.CheckDerivatives(derivatives))
}
