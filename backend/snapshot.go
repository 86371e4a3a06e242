package backend

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is the serializable description of a Graph: the structure the executing environment needs
// to rebuild it.
type Snapshot struct {
	Name            string          `msgpack:"name"`
	Blocks          []BlockSnapshot `msgpack:"blocks"`
	Connections     []Connection    `msgpack:"connections"`
	LinearSolver    *SolverSnapshot `msgpack:"linear_solver,omitempty"`
	NonlinearSolver *SolverSnapshot `msgpack:"nonlinear_solver,omitempty"`
}

// BlockSnapshot describes one block. Program holds the text of fragments and implicit blocks.
type BlockSnapshot struct {
	Name    string          `msgpack:"name"`
	Kind    string          `msgpack:"kind"`
	Inputs  []PortSnapshot  `msgpack:"inputs"`
	Outputs []PortSnapshot  `msgpack:"outputs"`
	States  []StateResidual `msgpack:"states,omitempty"`
	Program string          `msgpack:"program,omitempty"`
}

// PortSnapshot describes a port. Shapes are always Float64, only dimensions are kept.
type PortSnapshot struct {
	Name       string    `msgpack:"name"`
	Dimensions []int     `msgpack:"dimensions"`
	Default    []float64 `msgpack:"default,omitempty"`
}

// SolverSnapshot describes a solver.
type SolverSnapshot struct {
	Kind    string         `msgpack:"kind"`
	Options map[string]any `msgpack:"options,omitempty"`
}

func portsSnapshot(ports []Port) []PortSnapshot {
	snapshots := make([]PortSnapshot, len(ports))
	for i, port := range ports {
		snapshots[i] = PortSnapshot{Name: port.Name, Dimensions: port.Shape.Dimensions}
		if port.Default != nil {
			snapshots[i].Default = port.Default.Flat
		}
	}
	return snapshots
}

func solverSnapshot(s Solver) *SolverSnapshot {
	if s == nil {
		return nil
	}
	return &SolverSnapshot{Kind: s.Kind(), Options: s.Options()}
}

// Snapshot returns the serializable description of the graph.
func (g *Graph) Snapshot() (*Snapshot, error) {
	snapshot := &Snapshot{
		Name:            g.name,
		Blocks:          make([]BlockSnapshot, 0, len(g.blocks)),
		Connections:     g.Connections(),
		LinearSolver:    solverSnapshot(g.linearSolver),
		NonlinearSolver: solverSnapshot(g.nonlinearSolver),
	}
	for _, b := range g.blocks {
		bs := BlockSnapshot{
			Name:    b.Name,
			Inputs:  portsSnapshot(b.Component.Inputs()),
			Outputs: portsSnapshot(b.Component.Outputs()),
		}
		var program bytes.Buffer
		switch c := b.Component.(type) {
		case *Fragment:
			bs.Kind = "fragment"
			if err := c.Write(&program, ""); err != nil {
				return nil, errors.WithMessagef(err, "writing block %q", b.Name)
			}
		case *Implicit:
			bs.Kind = "implicit"
			bs.States = c.States
			if err := c.Write(&program, ""); err != nil {
				return nil, errors.WithMessagef(err, "writing block %q", b.Name)
			}
		default:
			bs.Kind = "opaque"
		}
		bs.Program = program.String()
		snapshot.Blocks = append(snapshot.Blocks, bs)
	}
	return snapshot, nil
}

// MarshalSnapshot encodes the graph Snapshot with msgpack.
// Map keys are sorted, so two graphs with the same structure encode to the same bytes.
func (g *Graph) MarshalSnapshot() ([]byte, error) {
	snapshot, err := g.Snapshot()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err = enc.Encode(snapshot); err != nil {
		return nil, errors.Wrapf(err, "encoding snapshot of graph %q", g.name)
	}
	return buf.Bytes(), nil
}

// UnmarshalSnapshot decodes a snapshot encoded by Graph.MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrap(err, "decoding graph snapshot")
	}
	return &snapshot, nil
}
