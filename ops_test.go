package m3l

import (
	"testing"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/backend/interp"
	"github.com/gomlx/m3l/eig"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensor(flat []float64, dims ...int) *backend.Tensor {
	return must.M1(backend.NewTensor(flat, dims...))
}

// runComponent executes a component computed by an operation, which must be a fragment.
func runComponent(t *testing.T, component backend.Component, err error, inputs map[string]*backend.Tensor) map[string]*backend.Tensor {
	require.NoError(t, err)
	f, ok := component.(*backend.Fragment)
	require.True(t, ok, "got %T", component)
	outputs, err := interp.RunFragment(f, inputs)
	require.NoError(t, err)
	return outputs
}

func TestElementWise(t *testing.T) {
	g := NewGraph("ew")
	a := must.M1(g.Input("a", 2))
	b := must.M1(g.Input("b", 2))
	feeds := map[string]*backend.Tensor{
		"x1": tensor([]float64{1, 2}, 2),
		"x2": tensor([]float64{3, 5}, 2),
	}
	for _, tc := range []struct {
		build func(x1, x2 *Variable) (*Variable, error)
		name  string
		want  []float64
		dydx1 []float64
		dydx2 []float64
	}{
		{Add, "a_plus_b", []float64{4, 7}, []float64{1, 0, 0, 1}, []float64{1, 0, 0, 1}},
		{Subtract, "a_minus_b", []float64{-2, -3}, []float64{1, 0, 0, 1}, []float64{-1, 0, 0, -1}},
		{Multiply, "a_times_b", []float64{3, 10}, []float64{3, 0, 0, 5}, []float64{1, 0, 0, 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			y := must.M1(tc.build(a, b))
			assert.Equal(t, tc.name, y.Name())
			op := y.Producer()
			assert.Equal(t, tc.name+"_operation", op.Name())
			assert.Equal(t, KindExplicit, op.Kind())
			assert.Same(t, a, op.Argument("x1"))

			def := op.Explicit()
			component, err := def.Compute(op)
			outputs := runComponent(t, component, err, feeds)
			assert.Equal(t, tc.want, outputs[tc.name].Flat)

			derivatives, ok := def.(DerivativeDefinition)
			require.True(t, ok)
			component, err = derivatives.ComputeDerivatives(op)
			outputs = runComponent(t, component, err, feeds)
			assert.Equal(t, tc.dydx1, outputs["dy_dx1"].Flat)
			assert.Equal(t, tc.dydx2, outputs["dy_dx2"].Flat)
		})
	}
}

func TestVStackAndMatVec(t *testing.T) {
	g := NewGraph("stack")
	a := must.M1(g.Input("a", 1, 2))
	b := must.M1(g.Input("b", 1, 2))
	x := must.M1(g.Input("x", 2))

	m := must.M1(VStack(a, b, ""))
	assert.Equal(t, "a_stack_b", m.Name())
	assert.Equal(t, []int{2, 2}, m.Shape().Dimensions)
	component, err := m.Producer().Explicit().Compute(m.Producer())
	outputs := runComponent(t, component, err, map[string]*backend.Tensor{
		"x1": tensor([]float64{1, 2}, 1, 2),
		"x2": tensor([]float64{3, 4}, 1, 2),
	})
	assert.Equal(t, []float64{1, 2, 3, 4}, outputs["a_stack_b"].Flat)

	y := must.M1(MatVec(m, x))
	assert.Equal(t, "a_stack_b_dot_x", y.Name())
	assert.Equal(t, []int{2}, y.Shape().Dimensions)
	op := y.Producer()
	feeds := map[string]*backend.Tensor{
		"m": tensor([]float64{1, 2, 3, 4}, 2, 2),
		"x": tensor([]float64{1, 1}, 2),
	}
	component, err = op.Explicit().Compute(op)
	outputs = runComponent(t, component, err, feeds)
	assert.Equal(t, []float64{3, 7}, outputs["a_stack_b_dot_x"].Flat)
	component, err = MatVecDefinition{}.ComputeDerivatives(op)
	outputs = runComponent(t, component, err, feeds)
	assert.Equal(t, []float64{1, 2, 3, 4}, outputs["dy_dx"].Flat)
}

func TestEigenvalues(t *testing.T) {
	g := NewGraph("modes")
	a := must.M1(g.Constant("A", [][]float64{{2, 0, 0}, {0, 3, 4}, {0, 4, 9}}))
	eReal, eImag, err := Eigenvalues(a)
	require.NoError(t, err)
	assert.Equal(t, "A_e_real", eReal.Name())
	assert.Equal(t, "A_e_imag", eImag.Name())
	assert.Equal(t, eig.RealOutput, eReal.LocalName())
	assert.Same(t, eReal.Producer(), eImag.Producer())
	op := eReal.Producer()
	assert.Equal(t, "A_eig_operation", op.Name())
	assert.Same(t, eImag, op.Output(eig.ImagOutput))

	component, err := op.Explicit().Compute(op)
	outputs := runComponent(t, component, err, map[string]*backend.Tensor{eig.InputName: a.Value()})
	got := outputs["A_e_real"].Flat
	require.Len(t, got, 3)
	// Eigenvalues of [[3, 4], [4, 9]] are 1 and 11.
	assert.ElementsMatch(t, []float64{1, 2, 11}, roundAll(got))
	assert.Equal(t, []float64{0, 0, 0}, roundAll(outputs["A_e_imag"].Flat))
}

func roundAll(values []float64) []float64 {
	rounded := make([]float64, len(values))
	for i, v := range values {
		rounded[i] = float64(int64(v*1e6+0.5*sign(v))) / 1e6
	}
	return rounded
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func TestLinearSystem(t *testing.T) {
	g := NewGraph("linear")
	k := must.M1(g.Input("K", 2, 2))
	f := must.M1(g.Input("f", 2))
	u := must.M1(SolveLinearSystem(k, f, ""))
	assert.Equal(t, "K_solve_f", u.Name())
	op := u.Producer()
	assert.Equal(t, KindImplicit, op.Kind())
	assert.Nil(t, op.Explicit())
	def := op.Implicit()
	require.NotNil(t, def)
	assert.Equal(t, 2, def.Size(op))
	assert.Equal(t, []string{"dr_du"}, def.ResidualPartials(op))

	feeds := map[string]*backend.Tensor{
		"K": tensor([]float64{4, 1, 1, 3}, 2, 2),
		"f": tensor([]float64{1, 2}, 2),
	}
	// u = K⁻¹ f = [1/11, 7/11].
	want := []float64{1.0 / 11, 7.0 / 11}

	component, err := LinearSystem{}.SolveResidualEquations(op)
	outputs := runComponent(t, component, err, feeds)
	assert.InDeltaSlice(t, want, outputs["K_solve_f"].Flat, 1e-12)

	component, err = def.ComputeDerivatives(op)
	outputs = runComponent(t, component, err, feeds)
	assert.Equal(t, []float64{4, 1, 1, 3}, outputs["dr_du"].Flat)
	assert.InDeltaSlice(t, want, outputs["K_solve_f"].Flat, 1e-12)

	residualFeeds := map[string]*backend.Tensor{
		"K":         feeds["K"],
		"f":         feeds["f"],
		"K_solve_f": tensor(want, 2),
	}
	component, err = def.EvaluateResiduals(op)
	outputs = runComponent(t, component, err, residualFeeds)
	assert.InDeltaSlice(t, []float64{0, 0}, outputs["K_solve_f_residual"].Flat, 1e-12)
	assert.Equal(t, []backend.StateResidual{{State: "K_solve_f", Residual: "K_solve_f_residual"}}, def.StateResiduals(op))

	component, err = LinearSystem{}.ComputeInvariantMatrix(op)
	outputs = runComponent(t, component, err, feeds)
	assert.Equal(t, []float64{4, 1, 1, 3}, outputs[InvariantMatrixOutput].Flat)

	_, isDirect := Residual(def).(DirectSolveDefinition)
	assert.False(t, isDirect)
	_, err = SolveLinearSystem(f, f, "v")
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
