package interp

import (
	"slices"
	"testing"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/eig"
	"github.com/gomlx/m3l/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensor(flat []float64, dims ...int) *backend.Tensor {
	return must.M1(backend.NewTensor(flat, dims...))
}

func TestRunFragment(t *testing.T) {
	t.Run("element-wise", func(t *testing.T) {
		f := backend.NewFragment("ew")
		a := must.M1(f.DeclareInput("a", shapes.Float64(3)))
		b := must.M1(f.DeclareInputWithDefault("b", shapes.Float64(3), []float32{1, 1, 1}))
		sum := must.M1(backend.Add(a, b))
		diff := must.M1(backend.Subtract(a, b))
		prod := must.M1(backend.Multiply(sum, diff))
		quot := must.M1(backend.Divide(prod, must.M1(f.Constant([]float64{2, 2, 2}, 3))))
		must.M(f.RegisterOutput("prod", prod))
		must.M(f.RegisterOutput("quot", must.M1(backend.Negate(quot))))

		outputs := must.M1(RunFragment(f, map[string]*backend.Tensor{"a": tensor([]float64{1, 2, 3}, 3)}))
		assert.Equal(t, []float64{0, 3, 8}, outputs["prod"].Flat)
		assert.Equal(t, []float64{0, -1.5, -4}, outputs["quot"].Flat)

		_, err := RunFragment(f, nil)
		assert.True(t, errors.Is(err, ErrMissingInput), "got %v", err)
	})

	t.Run("linear algebra", func(t *testing.T) {
		f := backend.NewFragment("la")
		k := must.M1(f.DeclareInput("k", shapes.Float64(2, 2)))
		u := must.M1(f.DeclareInput("u", shapes.Float64(2)))
		ku := must.M1(backend.MatMul(k, u))
		uk := must.M1(backend.MatMul(u, k))
		must.M(f.RegisterOutput("ku", ku))
		must.M(f.RegisterOutput("uk", uk))
		must.M(f.RegisterOutput("x", must.M1(backend.Solve(k, ku))))
		must.M(f.RegisterOutput("kt", must.M1(backend.Transpose(k, 1, 0))))
		must.M(f.RegisterOutput("stacked", must.M1(backend.Concatenate(0, ku, uk))))
		must.M(f.RegisterOutput("wide", must.M1(backend.Concatenate(1, k, k))))
		must.M(f.RegisterOutput("flat", must.M1(backend.Reshape(k, 4))))

		outputs := must.M1(RunFragment(f, map[string]*backend.Tensor{
			"k": tensor([]float64{2, 1, 0, 3}, 2, 2),
			"u": tensor([]float64{1, 2}, 2),
		}))
		assert.Equal(t, []float64{4, 6}, outputs["ku"].Flat)
		assert.Equal(t, []float64{2, 7}, outputs["uk"].Flat)
		assert.InDeltaSlice(t, []float64{1, 2}, outputs["x"].Flat, 1e-12)
		assert.Equal(t, []float64{2, 0, 1, 3}, outputs["kt"].Flat)
		assert.Equal(t, []float64{4, 6, 2, 7}, outputs["stacked"].Flat)
		assert.Equal(t, []float64{2, 1, 2, 1, 0, 3, 0, 3}, outputs["wide"].Flat)
		assert.True(t, outputs["wide"].Shape.Equal(shapes.Float64(2, 4)))
		assert.Equal(t, []float64{2, 1, 0, 3}, outputs["flat"].Flat)
	})
}

func TestRun(t *testing.T) {
	g := backend.NewGraph("pipeline")
	first := backend.NewFragment("first")
	a := must.M1(first.DeclareInput("a", shapes.Float64(2, 2)))
	b := must.M1(first.DeclareInput("b", shapes.Float64(2, 2)))
	must.M(first.RegisterOutput("c", must.M1(backend.Add(a, b))))
	require.NoError(t, g.Add("first", first))
	require.NoError(t, g.Add("modes", must.M1(eig.NewBlock("modes", 2))))
	require.NoError(t, g.Connect("first.c", "modes.A"))

	results := must.M1(Run(g, map[string]*backend.Tensor{
		"first.a": tensor([]float64{1, 0, 0, 1}, 2, 2),
		"first.b": tensor([]float64{0, 0, 0, 2}, 2, 2),
	}))
	assert.Equal(t, []float64{1, 0, 0, 3}, results["first.c"].Flat)
	eReal := slices.Clone(results["modes.e_real"].Flat)
	slices.Sort(eReal)
	assert.InDeltaSlice(t, []float64{1, 3}, eReal, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0}, results["modes.e_imag"].Flat, 1e-12)

	_, err := Run(g, map[string]*backend.Tensor{"first.a": tensor([]float64{1, 0, 0, 1}, 2, 2)})
	assert.True(t, errors.Is(err, ErrMissingInput), "got %v", err)

	_, err = Run(g, map[string]*backend.Tensor{
		"first.a": tensor([]float64{1, 0, 0, 1}, 2, 2),
		"first.b": tensor([]float64{0, 0, 2}, 3),
	})
	assert.True(t, errors.Is(err, backend.ErrShapeMismatch), "got %v", err)
}

func TestRunImplicit(t *testing.T) {
	residuals := backend.NewFragment("residuals")
	x := must.M1(residuals.DeclareInput("x", shapes.Float64(1)))
	must.M(residuals.RegisterOutput("r", x))
	block := backend.NewImplicit(residuals)
	require.NoError(t, block.AddState("x", "r"))
	g := backend.NewGraph("implicit")
	require.NoError(t, g.Add("solve_x", block))
	_, err := Run(g, nil)
	assert.True(t, errors.Is(err, ErrRequiresSolver), "got %v", err)
}

func TestDerivatives(t *testing.T) {
	op := must.M1(eig.New(2))
	derivatives := must.M1(Derivatives(op, map[string]*backend.Tensor{
		eig.InputName: tensor([]float64{1, 0, 0, 3}, 2, 2),
	}))
	require.Len(t, derivatives, 2)
	jac := derivatives[backend.Partial{Of: eig.RealOutput, Wrt: eig.InputName}]
	rows, cols := jac.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 4, cols)
}
