// Package interp runs assembled models end-to-end with the reference executor.
package interp

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"testing"

	. "github.com/gomlx/m3l"
	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/backend/interp"
	"github.com/gomlx/m3l/eig"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withLines prefix each line of text with a "%04d: " of the line number.
func withLines(text []byte) string {
	var result strings.Builder
	lines := strings.Split(string(text), "\n")
	for i, line := range lines {
		fmt.Fprintf(&result, "%04d: %s\n", i+1, line)
	}
	return result.String()
}

// run assembles the model, prints its program and executes it with its constants.
func run(t *testing.T, m *Model, modal bool) map[string]*backend.Tensor {
	var graph *backend.Graph
	var err error
	if modal {
		graph, err = m.AssembleModal()
	} else {
		graph, err = m.Assemble()
	}
	require.NoError(t, err)
	program, err := graph.Build()
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), withLines(program))
	results, err := interp.Run(graph, m.ConstantFeeds())
	require.NoErrorf(t, err, "failed to run program:\n%s", program)
	return results
}

// structure builds K = K0 + K1 = [[2, 1], [1, 2]], u = K⁻¹ f and y = K u.
func structure(t *testing.T, residualOnly bool) *Model {
	g := NewGraph("structure")
	k0 := must.M1(g.Constant("K0", [][]float64{{1, 1}, {1, 1}}))
	k1 := must.M1(g.Constant("K1", [][]float64{{1, 0}, {0, 1}}))
	f := must.M1(g.Constant("f", []float64{3, 0}))
	k := must.M1(Add(k0, k1))
	var def ImplicitDefinition = LinearSystem{State: "u"}
	if residualOnly {
		def = Residual(def)
	}
	_, outputs, err := g.Implicit(def, k, f)
	require.NoError(t, err)
	y := must.M1(MatVec(k, outputs[0]))

	m := NewModel("structure")
	require.NoError(t, m.RegisterOutput([]*Variable{outputs[0], y}))
	m.SetLinearSolver(backend.DirectSolver{})
	return m
}

func TestChain(t *testing.T) {
	g := NewGraph("chain")
	a := must.M1(g.Constant("a", []float64{1, 2, 3}))
	b := must.M1(g.Constant("b", []float64{4, 5, 6}))
	c := must.M1(a.Add(b))
	d := must.M1(Multiply(c, a))
	e := must.M1(Subtract(d, b))
	top := must.M1(g.Constant("top", [][]float64{{1, 1, 1}}))
	stacked := must.M1(VStack(top, must.M1(g.Constant("bottom", [][]float64{{0, 0, 1}})), ""))
	projected := must.M1(MatVec(stacked, e))

	m := NewModel("chain")
	require.NoError(t, m.RegisterOutput(map[string]*Variable{"e": e, "p": projected}))
	results := run(t, m, false)
	// c = [5, 7, 9], d = [5, 14, 27], e = [1, 9, 21].
	assert.Equal(t, []float64{1, 9, 21}, results[m.OutputPort(e.Name())].Flat)
	assert.Equal(t, []float64{31, 21}, results[m.OutputPort(projected.Name())].Flat)
}

func TestLinearSystem(t *testing.T) {
	// u = [[2, 1], [1, 2]]⁻¹ [3, 0] = [2, -1].
	wantU := []float64{2, -1}

	t.Run("direct", func(t *testing.T) {
		m := structure(t, false)
		results := run(t, m, false)
		assert.InDeltaSlice(t, wantU, results[m.OutputPort("u")].Flat, 1e-12)
		assert.InDeltaSlice(t, []float64{3, 0}, results[m.OutputPort("K0_plus_K1_dot_u")].Flat, 1e-12)
	})

	t.Run("modal", func(t *testing.T) {
		m := structure(t, false)
		results := run(t, m, true)
		assert.InDeltaSlice(t, wantU, results[m.OutputPort("u")].Flat, 1e-12)
		assert.Equal(t, []float64{2, 1, 1, 2}, results["u_operation.dr_du"].Flat)
		assert.Equal(t, []float64{2, 1, 1, 2}, results["u_operation_invariant_matrix."+InvariantMatrixOutput].Flat)

		// Eigenvalues of [[2, 1], [1, 2]] are 1 and 3.
		eigName := EigBlockName(m.Output("u").Producer(), LinearSystemPartial)
		eReal := slices.Clone(results[eigName+"."+eig.RealOutput].Flat)
		slices.Sort(eReal)
		assert.InDeltaSlice(t, []float64{1, 3}, eReal, 1e-12)
		assert.InDeltaSlice(t, []float64{0, 0}, results[eigName+"."+eig.ImagOutput].Flat, 1e-12)
	})

	t.Run("residuals", func(t *testing.T) {
		m := structure(t, true)
		graph := must.M1(m.Assemble())
		_, err := interp.Run(graph, m.ConstantFeeds())
		assert.True(t, errors.Is(err, interp.ErrRequiresSolver), "got %v", err)
	})
}

// nearest returns the index of the value closest to v.
func nearest(values []float64, v float64) int {
	best := 0
	for i, w := range values {
		if math.Abs(w-v) < math.Abs(values[best]-v) {
			best = i
		}
	}
	return best
}

func TestEigenvaluesDerivatives(t *testing.T) {
	flat := []float64{
		1, 2, 3,
		0.1, 4, 5,
		0, 0.2, 6,
	}
	g := NewGraph("modes")
	a := must.M1(g.Input("A", 3, 3))
	eReal, _ := must.M2(Eigenvalues(a))
	m := NewModel("modes")
	require.NoError(t, m.RegisterOutput(eReal))
	graph := must.M1(m.Assemble())
	port := m.OutputPort(eReal.Name())

	evaluate := func(flat []float64) []float64 {
		feeds := map[string]*backend.Tensor{"A_eig_operation." + eig.InputName: must.M1(backend.NewTensor(flat, 3, 3))}
		results := must.M1(interp.Run(graph, feeds))
		return results[port].Flat
	}
	base := evaluate(flat)

	operator := must.M1(eig.New(3))
	derivatives := must.M1(interp.Derivatives(operator, map[string]*backend.Tensor{
		eig.InputName: must.M1(backend.NewTensor(flat, 3, 3)),
	}))
	jacobian := derivatives[backend.Partial{Of: eig.RealOutput, Wrt: eig.InputName}]
	require.NotNil(t, jacobian)

	const h = 1e-6
	for c := range flat {
		plus, minus := slices.Clone(flat), slices.Clone(flat)
		plus[c] += h
		minus[c] -= h
		valuesPlus, valuesMinus := evaluate(plus), evaluate(minus)
		for j, w := range base {
			fd := (valuesPlus[nearest(valuesPlus, w)] - valuesMinus[nearest(valuesMinus, w)]) / (2 * h)
			analytic := jacobian.At(j, c)
			assert.InDelta(t, fd, analytic, 1e-5*math.Max(1, math.Abs(fd)),
				"d e_real[%d] / d A[%d]", j, c)
		}
	}
}
