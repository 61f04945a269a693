package graph

import "context"

const (
	// START is the pseudo-node every run begins at. It has no behavior of its
	// own; only its outgoing edges matter.
	START = "__start__"

	// END is the terminal marker. Routing to END finishes the run.
	END = "__end__"
)

// Edge represents a connection between two nodes in the graph.
//
// Edges can be:
//   - Unconditional: always traverse (When = nil)
//   - Predicated: traverse only if When returns true for the post-merge state
//
// Edges from the same node are evaluated in registration order and the first
// match wins. An explicit Route returned by a node takes precedence.
type Edge[S any] struct {
	// From is the source node ID (may be START).
	From string

	// To is the destination node ID (may be END).
	To string

	// When is an optional predicate that determines if this edge is traversed.
	When Predicate[S]
}

// Predicate is a function that evaluates state to decide whether an edge is
// traversed. Predicates should be pure.
type Predicate[S any] func(state S) bool

// Router maps the current state to the name of one of a fixed set of targets.
// It may block (for example on a completion call), so it receives the run
// context.
type Router[S any] func(ctx context.Context, state S) string

// conditionalEdge routes from a node through a Router into an enumerated
// target table. Outputs outside the table resolve to fallback.
type conditionalEdge[S any] struct {
	from     string
	router   Router[S]
	targets  map[string]string
	fallback string
}

// resolve returns the target for the router output and whether the output was
// a member of the table.
func (c conditionalEdge[S]) resolve(key string) (string, bool) {
	if to, ok := c.targets[key]; ok {
		return to, true
	}
	return c.fallback, false
}
