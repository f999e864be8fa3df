package graph

import "container/heap"

// ExecutionOrder is a total order over the nodes of a control graph.
type ExecutionOrder []NodeID

// Index returns the position of id, or -1.
func (o ExecutionOrder) Index(id NodeID) int {
	for i, n := range o {
		if n == id {
			return i
		}
	}
	return -1
}

// Sort orders the control graph with Kahn's algorithm. Among nodes that are ready
// at the same time the one inserted first runs first, so identical graphs always
// produce identical orders. A graph with a cycle yields a *CycleError and no order.
func Sort(g *ControlGraph) (ExecutionOrder, error) {
	inDegree := make(map[NodeID]int, len(g.nodes))
	for _, id := range g.nodes {
		for _, succ := range g.successors[id] {
			inDegree[succ]++
		}
	}

	ready := &indexHeap{}
	for i, id := range g.nodes {
		if inDegree[id] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make(ExecutionOrder, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := g.nodes[heap.Pop(ready).(int)]
		order = append(order, id)
		for _, succ := range g.successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				heap.Push(ready, g.index[succ])
			}
		}
	}

	if len(order) < len(g.nodes) {
		remaining := make([]NodeID, 0, len(g.nodes)-len(order))
		for _, id := range g.nodes {
			if inDegree[id] > 0 {
				remaining = append(remaining, id)
			}
		}
		return nil, &CycleError{Remaining: remaining, Path: FindCycle(g)}
	}
	return order, nil
}

// FindCycle returns one cycle of the control graph as a path whose first node is
// repeated at the end, or nil when the graph is acyclic.
func FindCycle(g *ControlGraph) []NodeID {
	const (
		white = iota
		gray
		black
	)
	color := make(map[NodeID]int, len(g.nodes))
	parent := make(map[NodeID]NodeID, len(g.nodes))

	var visit func(id NodeID) []NodeID
	visit = func(id NodeID) []NodeID {
		color[id] = gray
		for _, next := range g.successors[id] {
			switch color[next] {
			case white:
				parent[next] = id
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			case gray:
				cycle := []NodeID{next}
				for cur := id; cur != next; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, next)
				// collected backwards
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range g.nodes {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// EntryNodes returns the nodes without control predecessors, in insertion order.
func EntryNodes(g *ControlGraph) []NodeID {
	hasPred := make(map[NodeID]bool, len(g.nodes))
	for _, id := range g.nodes {
		for _, succ := range g.successors[id] {
			hasPred[succ] = true
		}
	}
	entries := make([]NodeID, 0)
	for _, id := range g.nodes {
		if !hasPred[id] {
			entries = append(entries, id)
		}
	}
	return entries
}

// indexHeap is a min-heap of node insertion indexes.
type indexHeap []int

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
