// Package graph holds the workflow graph model and the pure functions that turn a
// node set plus a connection list into a runnable plan: the control graph, the data
// graph, and a deterministic execution order.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeID identifies one node instance within a graph.
type NodeID string

// Kind distinguishes ordering edges from data wiring edges.
type Kind int

const (
	// Control declares that the source runs before the target.
	Control Kind = iota
	// Data declares that the source's output feeds the target's inputs.
	Data
)

// DefaultPort is the output port used when a data connection names none.
const DefaultPort = "output_data"

func (k Kind) String() string {
	switch k {
	case Control:
		return "control"
	case Data:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "control"/"data" as well as the "FLOW"/"DATA" port type names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "control", "flow":
		return Control, nil
	case "data":
		return Data, nil
	default:
		return 0, fmt.Errorf("unknown connection kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Connection is one edge of the raw connection list.
type Connection struct {
	From     NodeID `json:"from"`
	FromPort string `json:"from_port,omitempty"`
	Kind     Kind   `json:"kind"`
	To       NodeID `json:"to"`
	ToPort   string `json:"to_port,omitempty"`
}

func (c Connection) String() string {
	return fmt.Sprintf("%s -%s-> %s", c.From, c.Kind, c.To)
}

// Node is one task instance placed in a graph.
type Node struct {
	ID     NodeID          `json:"id"`
	Task   string          `json:"task"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Definition is a resolved graph definition as supplied to the engine.
// Node order is significant: it is the insertion order used for tie-breaking.
type Definition struct {
	Name        string       `json:"name,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// NodeIDs returns the node ids in insertion order.
func (d *Definition) NodeIDs() []NodeID {
	ids := make([]NodeID, len(d.Nodes))
	for i, n := range d.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Node looks up a node by id.
func (d *Definition) Node(id NodeID) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// ControlGraph maps every node to its ordered, duplicate-free successor set.
type ControlGraph struct {
	nodes      []NodeID
	index      map[NodeID]int
	successors map[NodeID][]NodeID
}

// Nodes returns all nodes in insertion order.
func (g *ControlGraph) Nodes() []NodeID {
	return append([]NodeID(nil), g.nodes...)
}

// Len returns the number of nodes.
func (g *ControlGraph) Len() int {
	return len(g.nodes)
}

// Has reports whether id belongs to the graph.
func (g *ControlGraph) Has(id NodeID) bool {
	_, ok := g.index[id]
	return ok
}

// Successors returns the control successors of id in connection order.
func (g *ControlGraph) Successors(id NodeID) []NodeID {
	s := g.successors[id]
	return append(make([]NodeID, 0, len(s)), s...)
}

// Source is one (node, port) pair feeding a node's inputs.
type Source struct {
	Node NodeID `json:"node"`
	Port string `json:"port"`
}

// DataGraph maps every node to the sources of its inputs.
type DataGraph struct {
	sources map[NodeID][]Source
}

// Sources returns the data sources of id in connection order.
func (g *DataGraph) Sources(id NodeID) []Source {
	s := g.sources[id]
	return append(make([]Source, 0, len(s)), s...)
}

// DependsOn reports whether id reads any output of upstream.
func (g *DataGraph) DependsOn(id, upstream NodeID) bool {
	for _, s := range g.sources[id] {
		if s.Node == upstream {
			return true
		}
	}
	return false
}
