package graph

import (
	"fmt"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// UnknownNodeReferenceError reports a connection endpoint outside the node set.
type UnknownNodeReferenceError struct {
	Connection Connection
	Node       NodeID
}

func (e *UnknownNodeReferenceError) Error() string {
	return fmt.Sprintf("connection %s references unknown node %q", e.Connection, e.Node)
}

func (e *UnknownNodeReferenceError) Unwrap() error {
	return sdkerrors.ErrUnknownNodeReference
}

// CycleError reports that the control graph cannot be ordered.
type CycleError struct {
	// Remaining holds the nodes Kahn's algorithm could not place, in insertion order.
	Remaining []NodeID
	// Path is one concrete cycle, first node repeated at the end.
	Path []NodeID
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("cycle detected in control graph among %d nodes", len(e.Remaining))
	}
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "cycle detected in control graph: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Unwrap() error {
	return sdkerrors.ErrCycle
}

// invalidNodeSet wraps a malformed node set as an invalid definition error.
func invalidNodeSet(format string, args ...interface{}) error {
	return sdkerrors.NewError(sdkerrors.CodeValidation, fmt.Sprintf(format, args...), sdkerrors.ErrInvalidDefinition)
}
