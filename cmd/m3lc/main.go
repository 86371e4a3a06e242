// m3lc compiles HCL model descriptions into m3l programs.
//
// Usage:
//
//	m3lc [options] PATH...
//
// Each PATH is an HCL file or a directory of HCL files. Every model declared is assembled and written to the
// output, as text or as msgpack snapshots.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/m3l/backend"
	"github.com/gomlx/m3l/backend/interp"
	"github.com/gomlx/m3l/internal/config"
	"github.com/gomlx/m3l/internal/ctxlog"
	"github.com/pkg/errors"
)

// ExitError is an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	if err := run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options parsed from the command line.
type options struct {
	paths     []string
	output    string
	format    string
	modal     bool
	model     string
	eval      bool
	logLevel  string
	logFormat string
}

func parse(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	flagSet := flag.NewFlagSet("m3lc", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.Usage = func() {
		fmt.Fprint(stderr, `m3lc - compiles HCL model descriptions into m3l programs.

Usage:
  m3lc [options] PATH...

Options:
`)
		flagSet.PrintDefaults()
	}
	flagSet.StringVar(&opts.output, "o", "", "Output file. Defaults to the standard output.")
	flagSet.StringVar(&opts.format, "format", "text", "Output format: 'text' or 'msgpack'.")
	flagSet.BoolVar(&opts.modal, "modal", false, "Assemble every model with its eigenvalue analysis.")
	flagSet.StringVar(&opts.model, "model", "", "Only assemble the model with this name.")
	flagSet.BoolVar(&opts.eval, "eval", false, "Evaluate the outputs of the models whose inputs are all constants.")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "Logging level: 'debug', 'info', 'warn' or 'error'.")
	flagSet.StringVar(&opts.logFormat, "log-format", "text", "Log format: 'text' or 'json'.")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil
		}
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	opts.paths = flagSet.Args()
	if len(opts.paths) == 0 {
		flagSet.Usage()
		return nil, &ExitError{Code: 2, Message: "no model description given"}
	}
	switch opts.format {
	case "text", "msgpack":
	default:
		return nil, &ExitError{Code: 2, Message: fmt.Sprintf("invalid format %q: must be 'text' or 'msgpack'", opts.format)}
	}
	if opts.eval && opts.format != "text" {
		return nil, &ExitError{Code: 2, Message: "-eval requires the text format"}
	}
	return opts, nil
}

// run parses the arguments, loads and builds the model descriptions and writes the assembled programs to stdout
// or to the output file.
func run(stdout, stderr io.Writer, args []string) error {
	opts, err := parse(args, stderr)
	if err != nil || opts == nil {
		return err
	}
	logger, err := ctxlog.New(stderr, opts.logFormat, opts.logLevel)
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	ctx := ctxlog.WithLogger(context.Background(), logger)

	file, err := config.Load(ctx, opts.paths...)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(opts.paths[0]), config.Extension)
	project, err := config.Build(ctx, name, file)
	if err != nil {
		return err
	}
	assemblies := project.Models
	if opts.model != "" {
		assembly := project.Model(opts.model)
		if assembly == nil {
			return &ExitError{Code: 2, Message: fmt.Sprintf("model %q not found", opts.model)}
		}
		assemblies = []*config.Assembly{assembly}
	}
	if len(assemblies) == 0 {
		return errors.Errorf("no models declared in %v", opts.paths)
	}

	out := stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return errors.Wrapf(err, "creating %s", opts.output)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	for _, assembly := range assemblies {
		if opts.modal {
			assembly.Modal = true
		}
		graph, err := assembly.Assemble()
		if err != nil {
			return err
		}
		logger.Info("assembled model", "model", assembly.Model.Name(), "modal", assembly.Modal,
			"blocks", len(graph.Blocks()), "connections", len(graph.Connections()))
		if err = write(out, graph, opts.format); err != nil {
			return err
		}
		if opts.eval {
			if err = evaluate(out, assembly); err != nil {
				return err
			}
		}
	}
	return nil
}

func write(out io.Writer, graph *backend.Graph, format string) error {
	if format == "msgpack" {
		data, err := graph.MarshalSnapshot()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return errors.Wrap(err, "writing snapshot")
	}
	program, err := graph.Build()
	if err != nil {
		return err
	}
	_, err = out.Write(program)
	return errors.Wrap(err, "writing program")
}

// evaluate runs the assembled graph of the model with the reference executor and prints its outputs.
func evaluate(out io.Writer, assembly *config.Assembly) error {
	model := assembly.Model
	feeds := model.ConstantFeeds()
	var missing []string
	for name := range model.FreeInputs() {
		if _, found := feeds[name]; !found {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.Wrapf(interp.ErrMissingInput, "model %q: inputs without value %v", model.Name(), missing)
	}
	results, err := interp.Run(model.Assembled(), feeds)
	if err != nil {
		return errors.WithMessagef(err, "model %q", model.Name())
	}
	for _, name := range model.OutputNames() {
		var value *backend.Tensor
		if port := model.OutputPort(name); port != "" {
			value = results[port]
		} else {
			value = model.Output(name).Value()
		}
		if value == nil {
			return errors.Errorf("model %q: output %q has no value", model.Name(), name)
		}
		if _, err = fmt.Fprintf(out, "%s = %s %v\n", name, value.Shape, value.Flat); err != nil {
			return err
		}
	}
	return nil
}
