package task

import (
	"fmt"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/graph"
)

// Resolver turns a node id into the task definition it runs.
type Resolver interface {
	Resolve(id graph.NodeID) (Definition, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(id graph.NodeID) (Definition, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(id graph.NodeID) (Definition, error) { return f(id) }

// UnresolvedNodeError reports a node that cannot be mapped to a registered task.
type UnresolvedNodeError struct {
	Node   graph.NodeID
	Ref    string
	Reason string
}

func (e *UnresolvedNodeError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("node %q cannot be resolved: %s", e.Node, e.Reason)
	}
	return fmt.Sprintf("node %q cannot be resolved to task %q: %s", e.Node, e.Ref, e.Reason)
}

func (e *UnresolvedNodeError) Unwrap() error {
	return sdkerrors.ErrUnresolvedNode
}

// DefinitionResolver resolves nodes of one graph definition against a catalog.
type DefinitionResolver struct {
	catalog *Catalog
	nodes   map[graph.NodeID]graph.Node
}

// NewResolver creates a resolver for the nodes of def.
func NewResolver(catalog *Catalog, def *graph.Definition) *DefinitionResolver {
	nodes := make(map[graph.NodeID]graph.Node, len(def.Nodes))
	for _, n := range def.Nodes {
		nodes[n.ID] = n
	}
	return &DefinitionResolver{catalog: catalog, nodes: nodes}
}

// Resolve implements Resolver.
func (r *DefinitionResolver) Resolve(id graph.NodeID) (Definition, error) {
	node, ok := r.nodes[id]
	if !ok {
		return Definition{}, &UnresolvedNodeError{Node: id, Reason: "node not in definition"}
	}
	if node.Task == "" {
		return Definition{}, &UnresolvedNodeError{Node: id, Reason: "no task reference"}
	}
	if !r.catalog.Has(node.Task) {
		return Definition{}, &UnresolvedNodeError{Node: id, Ref: node.Task, Reason: "task not registered"}
	}
	return Definition{Ref: node.Task, Config: node.Config}, nil
}
