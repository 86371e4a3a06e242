// Package config loads model descriptions written in HCL and builds them into m3l graphs and models.
//
// A description declares variables, operations over them (referenced by alias) and models:
//
//	variable "K" {
//	  shape = [2, 2]
//	  value = [[4, 1], [1, 3]]
//	}
//	operation "linear_system" "solve" {
//	  arguments = ["K", "f"]
//	  state     = "u"
//	}
//	model "structure" {
//	  outputs = ["solve"]
//	  modal   = true
//	  linear_solver "direct" {}
//	}
package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/gomlx/m3l/internal/ctxlog"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
)

// File holds the blocks decoded from one or more HCL files, in declaration order.
type File struct {
	Variables  []*VariableBlock  `hcl:"variable,block"`
	Operations []*OperationBlock `hcl:"operation,block"`
	Models     []*ModelBlock     `hcl:"model,block"`
}

// VariableBlock declares an input of the graph, or a constant if it has a value.
type VariableBlock struct {
	Name  string `hcl:"name,label"`
	Shape []int  `hcl:"shape,optional"`

	// Value is a number or (nested) tuple of numbers.
	Value hcl.Expression `hcl:"value,optional"`
}

// OperationBlock evaluates an operation of the given kind. Its outputs are referenced by the alias.
type OperationBlock struct {
	Kind      string   `hcl:"kind,label"`
	Alias     string   `hcl:"alias,label"`
	Arguments []string `hcl:"arguments"`

	// Prefix of the names created by "vstack".
	Prefix string `hcl:"prefix,optional"`

	// State names the state of "linear_system".
	State string `hcl:"state,optional"`

	// ResidualOnly assembles a "linear_system" through its residuals instead of its direct solve.
	ResidualOnly bool `hcl:"residual_only,optional"`
}

// ModelBlock declares a model: its outputs and solvers.
type ModelBlock struct {
	Name    string   `hcl:"name,label"`
	Outputs []string `hcl:"outputs"`
	Prefix  string   `hcl:"prefix,optional"`
	Modal   bool     `hcl:"modal,optional"`

	LinearSolver    *SolverBlock `hcl:"linear_solver,block"`
	NonlinearSolver *SolverBlock `hcl:"nonlinear_solver,block"`
}

// SolverBlock configures a solver, see NewSolver for the kinds and options supported.
type SolverBlock struct {
	Kind            string  `hcl:"kind,label"`
	MaxIterations   int     `hcl:"max_iterations,optional"`
	Atol            float64 `hcl:"atol,optional"`
	SolveSubsystems bool    `hcl:"solve_subsystems,optional"`
	Method          string  `hcl:"method,optional"`
}

// Extension of the files loaded from directories.
const Extension = ".hcl"

// Load parses the given files, and the files with Extension found walking the given directories,
// and merges their blocks in the order found.
func Load(ctx context.Context, paths ...string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := findFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no %s files found in %v", Extension, paths)
	}
	logger.Debug("loading model descriptions", "files", len(files))

	parser := hclparse.NewParser()
	merged := &File{}
	for _, path := range files {
		hclFile, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "failed to parse %s", path)
		}
		if err := decode(hclFile, path, merged); err != nil {
			return nil, err
		}
	}
	logger.Debug("loaded model descriptions", "variables", len(merged.Variables),
		"operations", len(merged.Operations), "models", len(merged.Models))
	return merged, nil
}

// Parse parses the HCL source, using filename in diagnostics.
func Parse(ctx context.Context, filename string, src []byte) (*File, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "failed to parse %s", filename)
	}
	file := &File{}
	if err := decode(hclFile, filename, file); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("parsed model description", "file", filename,
		"variables", len(file.Variables), "operations", len(file.Operations), "models", len(file.Models))
	return file, nil
}

// decode the body of the file and append its blocks to merged.
func decode(hclFile *hcl.File, filename string, merged *File) error {
	var root File
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
		return errors.Wrapf(diags, "failed to decode %s", filename)
	}
	merged.Variables = append(merged.Variables, root.Variables...)
	merged.Operations = append(merged.Operations, root.Operations...)
	merged.Models = append(merged.Models, root.Models...)
	return nil
}

// findFiles returns the files given and the files with Extension under the directories given, without repetitions.
func findFiles(paths []string) ([]string, error) {
	var files []string
	add := func(path string) {
		if !slices.Contains(files, path) {
			files = append(files, path)
		}
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "accessing %s", path)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == Extension {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walking %s", path)
		}
	}
	return files, nil
}
