package backend

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/gomlx/m3l/internal/utils"
	"github.com/pkg/errors"
)

// Graph holds named blocks and the explicit connections between their ports.
// See details in NewGraph.
type Graph struct {
	name string

	// blocks in insertion order.
	blocks []*Block

	// connections in insertion order.
	connections []Connection

	// connected holds the qualified names of the inputs already connected.
	connected utils.Set[string]

	linearSolver, nonlinearSolver Solver
}

// Block is a named Component of a Graph.
type Block struct {
	Name      string
	Component Component
}

// Connection from a block output to a block input, both as qualified names "block.port".
type Connection struct {
	From string `msgpack:"from"`
	To   string `msgpack:"to"`
}

// String implements fmt.Stringer.
func (c Connection) String() string {
	return c.From + " -> " + c.To
}

// NewGraph creates an empty Graph.
//
// Blocks are added with Graph.Add, in an order where producers come before their consumers,
// and connected with Graph.Connect. Inputs that are never connected are free inputs of
// the graph (see Graph.FreeInputs): they are fed by the caller, or take their default value.
//
// Once all set, call Graph.Build to validate and get the text program, or Graph.MarshalSnapshot.
func NewGraph(name string) *Graph {
	return &Graph{
		name:      name,
		connected: utils.MakeSet[string](),
	}
}

// Name of the graph.
func (g *Graph) Name() string {
	return g.name
}

// Add a named block to the graph. Block names must be valid identifiers and unique within the graph.
func (g *Graph) Add(name string, component Component) error {
	if !utils.IsIdentifier(name) {
		return errors.Errorf("graph %q: invalid block name %q", g.name, name)
	}
	if component == nil {
		return errors.Errorf("graph %q: nil component for block %q", g.name, name)
	}
	if g.Block(name) != nil {
		return errors.Errorf("graph %q: duplicate block name %q", g.name, name)
	}
	g.blocks = append(g.blocks, &Block{Name: name, Component: component})
	return nil
}

// Block returns the block with the given name, or nil.
func (g *Graph) Block(name string) *Block {
	for _, b := range g.blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Blocks returns the blocks in insertion order.
func (g *Graph) Blocks() []*Block {
	return slices.Clone(g.blocks)
}

// Connections returns the connections in insertion order.
func (g *Graph) Connections() []Connection {
	return slices.Clone(g.connections)
}

// resolvePort finds the port referenced by a qualified name, among the block inputs or outputs.
func (g *Graph) resolvePort(qualified string, output bool) (Port, error) {
	blockName, portName, err := utils.SplitQualifiedName(qualified)
	if err != nil {
		return Port{}, errors.Wrapf(ErrUnknownPort, "graph %q: %v", g.name, err)
	}
	block := g.Block(blockName)
	if block == nil {
		return Port{}, errors.Wrapf(ErrUnknownPort, "graph %q: no block %q for %q", g.name, blockName, qualified)
	}
	ports, kind := block.Component.Inputs(), "input"
	if output {
		ports, kind = block.Component.Outputs(), "output"
	}
	port, found := findPort(ports, portName)
	if !found {
		return Port{}, errors.Wrapf(ErrUnknownPort, "graph %q: block %q has no %s %q", g.name, blockName, kind, portName)
	}
	return port, nil
}

// checkConnection validates that from is an output, to is an input, and that their shapes match.
func (g *Graph) checkConnection(from, to string) error {
	src, err := g.resolvePort(from, true)
	if err != nil {
		return err
	}
	dst, err := g.resolvePort(to, false)
	if err != nil {
		return err
	}
	if !src.Shape.Equal(dst.Shape) {
		return errors.Wrapf(ErrShapeMismatch, "graph %q: connecting %s %s to %s %s",
			g.name, from, src.Shape, to, dst.Shape)
	}
	return nil
}

// Connect the output `from` to the input `to`, given as qualified names "block.port".
//
// Each input can be connected only once, an output can be connected to any number of inputs.
func (g *Graph) Connect(from, to string) error {
	if err := g.checkConnection(from, to); err != nil {
		return err
	}
	if g.connected.Has(to) {
		return errors.Wrapf(ErrDuplicateConnection, "graph %q: %s", g.name, to)
	}
	g.connected.Insert(to)
	g.connections = append(g.connections, Connection{From: from, To: to})
	return nil
}

// IsConnected returns whether the input (given as a qualified name) is connected.
func (g *Graph) IsConnected(to string) bool {
	return g.connected.Has(to)
}

// FreeInputs returns the qualified names of the inputs that are not connected, in block and port order.
// Free inputs are fed by the caller, or take their default value.
func (g *Graph) FreeInputs() []string {
	var free []string
	for _, b := range g.blocks {
		for _, port := range b.Component.Inputs() {
			q := utils.QualifiedName(b.Name, port.Name)
			if !g.connected.Has(q) {
				free = append(free, q)
			}
		}
	}
	return free
}

// SetLinearSolver sets the linear solver used by the environment to execute the graph.
func (g *Graph) SetLinearSolver(s Solver) {
	g.linearSolver = s
}

// SetNonlinearSolver sets the nonlinear solver used by the environment to close coupling loops.
func (g *Graph) SetNonlinearSolver(s Solver) {
	g.nonlinearSolver = s
}

// LinearSolver returns the linear solver set, or nil.
func (g *Graph) LinearSolver() Solver {
	return g.linearSolver
}

// NonlinearSolver returns the nonlinear solver set, or nil.
func (g *Graph) NonlinearSolver() Solver {
	return g.nonlinearSolver
}

// Write the graph program (a readable string) to the given writer.
//
// It will write incomplete graphs without an error to help debugging.
//
// See Graph.Build to check and output the program.
func (g *Graph) Write(writer io.Writer) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}
	we := func(e elementWriter, indentation string) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		err = e.Write(writer, indentation)
	}

	w("graph @%s", utils.NormalizeIdentifier(g.name))
	if g.linearSolver != nil || g.nonlinearSolver != nil {
		w(" attributes {linear_solver = %s, nonlinear_solver = %s}",
			SolverToText(g.linearSolver), SolverToText(g.nonlinearSolver))
	}
	w(" {\n")
	for i, b := range g.blocks {
		if i > 0 {
			w("\n")
		}
		switch c := b.Component.(type) {
		case *Fragment:
			w("%sblock @%s = fragment", IndentationStep, b.Name)
			we(c, IndentationStep)
		case *Implicit:
			w("%sblock @%s = implicit ", IndentationStep, b.Name)
			we(c, IndentationStep)
		default:
			w("%sblock @%s = opaque<%T>", IndentationStep, b.Name, c)
		}
		w("\n")
	}
	if len(g.connections) > 0 {
		w("\n")
	}
	for _, c := range g.connections {
		w("%sconnect @%s -> @%s\n", IndentationStep, c.From, c.To)
	}
	w("}\n")
	return err
}

// Build checks the validity of the graph and returns its text program.
//
// All connections must reference declared ports with matching shapes: components may have changed
// after they were connected.
//
// If you want the output of an incomplete graph (without the checking), use Graph.Write instead.
func (g *Graph) Build() ([]byte, error) {
	if len(g.blocks) == 0 {
		return nil, errors.Errorf("graph %q has no blocks", g.name)
	}
	for _, c := range g.connections {
		if err := g.checkConnection(c.From, c.To); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := g.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
