package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/m3l"
	"github.com/gomlx/m3l/backend"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structureHCL = `
variable "K" {
  shape = [2, 2]
  value = [[4, 1], [1, 3]]
}

variable "f" {
  value = [1, 2]
}

variable "g" {
  shape = [2]
}

# Declared before the operation it depends on.
operation "matvec" "load" {
  arguments = ["K", "solve"]
}

operation "linear_system" "solve" {
  arguments = ["K", "f"]
  state     = "u"
}

operation "eigenvalues" "modes" {
  arguments = ["K"]
}

operation "add" "total" { arguments = ["load", "g"] }

model "structure" {
  outputs = ["total", "modes"]
  modal   = true

  linear_solver "direct" {}
  nonlinear_solver "newton" {
    max_iterations   = 20
    atol             = 1e-10
    solve_subsystems = true
  }
}

model "plain" {
  outputs = ["modes.e_real"]
  prefix  = "cruise_"
}
`

func build(t *testing.T, src string) (*Project, error) {
	ctx := context.Background()
	file, err := Parse(ctx, "test.hcl", []byte(src))
	require.NoError(t, err)
	return Build(ctx, "test", file)
}

func TestBuild(t *testing.T) {
	project, err := build(t, structureHCL)
	require.NoError(t, err)
	g := project.Graph
	assert.Equal(t, "test", g.Name())
	assert.Equal(t, []float64{4, 1, 1, 3}, g.VariableByName("K").Value().Flat)
	assert.Equal(t, []int{2}, g.VariableByName("f").Shape().Dimensions)
	assert.Nil(t, g.VariableByName("g").Value())
	assert.NotNil(t, g.VariableByName("K_dot_u_plus_g"))
	assert.Equal(t, m3l.KindImplicit, g.OperationByName("u_operation").Kind())
	require.Len(t, project.Models, 2)

	structure := project.Model("structure")
	require.NotNil(t, structure)
	assert.True(t, structure.Modal)
	assert.Equal(t, []string{"K_dot_u_plus_g", "K_e_real", "K_e_imag"}, structure.Model.OutputNames())

	graph, err := structure.Assemble()
	require.NoError(t, err)
	var names []string
	for _, block := range graph.Blocks() {
		names = append(names, block.Name)
	}
	assert.Equal(t, []string{
		"u_operation", "u_operation_invariant_matrix", "u_operation_dr_du_eig",
		"K_dot_u_operation", "K_dot_u_plus_g_operation", "K_eig_operation",
	}, names)
	assert.Equal(t, "direct", graph.LinearSolver().Kind())
	newton, ok := graph.NonlinearSolver().(backend.NewtonSolver)
	require.True(t, ok)
	assert.Equal(t, backend.NewtonSolver{MaxIterations: 20, Atol: 1e-10, SolveSubsystems: true}, newton)

	feeds := structure.Model.ConstantFeeds()
	assert.Contains(t, feeds, "u_operation.K")
	assert.Contains(t, feeds, "K_eig_operation.A")
	assert.NotContains(t, feeds, "K_dot_u_plus_g_operation.x2")
	assert.Len(t, structure.Model.FreeInputs(), len(feeds)+1)

	plain := project.Model("plain")
	assert.False(t, plain.Modal)
	assert.Equal(t, []string{"cruise_K_e_real"}, plain.Model.OutputNames())
	graph, err = plain.Assemble()
	require.NoError(t, err)
	assert.Len(t, graph.Blocks(), 1)
	assert.Nil(t, project.Model("missing"))
}

func TestBuildErrors(t *testing.T) {
	for _, tc := range []struct {
		name, src string
		want      error
	}{
		{"unknown reference", `
variable "a" { shape = [2] }
operation "add" "sum" { arguments = ["a", "b"] }`, ErrUnknownReference},
		{"cycle", `
operation "add" "x" { arguments = ["y", "y"] }
operation "add" "y" { arguments = ["x", "x"] }`, ErrUnknownReference},
		{"unknown kind", `
variable "a" { shape = [2] }
operation "divide" "q" { arguments = ["a", "a"] }`, ErrUnknownKind},
		{"duplicate alias", `
variable "a" { shape = [2] }
operation "add" "s" { arguments = ["a", "a"] }
operation "subtract" "s" { arguments = ["a", "a"] }`, m3l.ErrDuplicateName},
		{"duplicate variable", `
variable "a" { shape = [2] }
variable "a" { shape = [3] }`, m3l.ErrDuplicateName},
		{"shape mismatch", `
variable "a" { shape = [2] }
variable "b" { shape = [3] }
operation "add" "s" { arguments = ["a", "b"] }`, m3l.ErrShapeMismatch},
		{"unknown solver", `
variable "a" { shape = [2] }
model "m" {
  outputs = ["a"]
  linear_solver "cholesky" {}
}`, ErrUnknownKind},
		{"unknown output", `
model "m" { outputs = ["nothing"] }`, ErrUnknownReference},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := build(t, tc.src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	t.Run("literals", func(t *testing.T) {
		for _, src := range []string{
			`variable "a" { value = [[1, 2], [3]] }`,
			`variable "a" { value = "one" }`,
			`variable "a" { value = [] }`,
			`variable "a" {
  shape = [3]
  value = [1, 2]
}`,
		} {
			_, err := build(t, src)
			assert.Error(t, err, "source %s", src)
		}
	})

	t.Run("syntax", func(t *testing.T) {
		_, err := Parse(context.Background(), "bad.hcl", []byte(`variable "a" {`))
		assert.Error(t, err)
		_, err = Parse(context.Background(), "bad.hcl", []byte(`unknown "a" {}`))
		assert.Error(t, err)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "variables.hcl"), []byte(`
variable "a" { value = [1, 2] }
variable "b" { value = [3, 4] }
`), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "sum.hcl"), []byte(`
operation "add" "sum" { arguments = ["a", "b"] }
model "sum" { outputs = ["sum"] }
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a model"), 0o600))

	ctx := context.Background()
	file, err := Load(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, file.Variables, 2)
	assert.Len(t, file.Operations, 1)
	project := must.M1(Build(ctx, "sum", file))
	graph := must.M1(project.Model("sum").Assemble())
	assert.Len(t, graph.Blocks(), 1)

	_, err = Load(ctx, filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
	_, err = Load(ctx, t.TempDir())
	assert.Error(t, err)
}
