package graph

import "strings"

// Build derives the control graph and the data graph from a node set and a raw
// connection list. Every node gets an entry in both graphs. Duplicate control
// connections between the same pair coalesce, and so do identical data sources.
func Build(nodes []NodeID, connections []Connection) (*ControlGraph, *DataGraph, error) {
	cg := &ControlGraph{
		nodes:      make([]NodeID, 0, len(nodes)),
		index:      make(map[NodeID]int, len(nodes)),
		successors: make(map[NodeID][]NodeID, len(nodes)),
	}
	dg := &DataGraph{
		sources: make(map[NodeID][]Source, len(nodes)),
	}

	for _, id := range nodes {
		if id == "" {
			return nil, nil, invalidNodeSet("node id cannot be empty")
		}
		if strings.Contains(string(id), ".") {
			return nil, nil, invalidNodeSet("node id %q cannot contain '.'", id)
		}
		if _, dup := cg.index[id]; dup {
			return nil, nil, invalidNodeSet("duplicate node id %q", id)
		}
		cg.index[id] = len(cg.nodes)
		cg.nodes = append(cg.nodes, id)
		cg.successors[id] = []NodeID{}
		dg.sources[id] = []Source{}
	}

	for _, conn := range connections {
		for _, endpoint := range []NodeID{conn.From, conn.To} {
			if !cg.Has(endpoint) {
				return nil, nil, &UnknownNodeReferenceError{Connection: conn, Node: endpoint}
			}
		}

		switch conn.Kind {
		case Control:
			if !containsNode(cg.successors[conn.From], conn.To) {
				cg.successors[conn.From] = append(cg.successors[conn.From], conn.To)
			}
		case Data:
			port := conn.FromPort
			if port == "" {
				port = DefaultPort
			}
			src := Source{Node: conn.From, Port: port}
			if !containsSource(dg.sources[conn.To], src) {
				dg.sources[conn.To] = append(dg.sources[conn.To], src)
			}
		default:
			return nil, nil, invalidNodeSet("connection %s has unknown kind", conn)
		}
	}

	return cg, dg, nil
}

// Plan is a validated, ordered graph ready to run.
type Plan struct {
	Control *ControlGraph
	Data    *DataGraph
	Order   ExecutionOrder
}

// NewPlan builds and sorts a definition. Any returned error means nothing may run.
func NewPlan(def *Definition) (*Plan, error) {
	if def == nil {
		return nil, invalidNodeSet("definition cannot be nil")
	}
	cg, dg, err := Build(def.NodeIDs(), def.Connections)
	if err != nil {
		return nil, err
	}
	order, err := Sort(cg)
	if err != nil {
		return nil, err
	}
	return &Plan{Control: cg, Data: dg, Order: order}, nil
}

func containsNode(ids []NodeID, id NodeID) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func containsSource(sources []Source, src Source) bool {
	for _, existing := range sources {
		if existing == src {
			return true
		}
	}
	return false
}
