package graph

import "context"

// Node represents a processing unit in the conversation graph.
// It receives a copy of the current state, performs computation, and returns
// a NodeResult describing the state delta and, optionally, where to go next.
//
// A node may pause execution by calling Interrupt and returning the error it
// produces. When the thread is resumed the node runs again from the top and
// the same Interrupt call returns the resume value instead, so any logic
// placed before the call must be safe to replay.
//
// Type parameter S is the state type shared across the graph.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
//
// It is a tagged union of the two node outcomes:
//   - Update: a plain Delta, routing continues along the edge table
//   - Command: a Delta plus an explicit Route that overrides the edge table
//     for this hop
//
// A non-nil Err ends the step instead. An *InterruptError suspends the thread;
// any other error aborts the invocation.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	// It is merged into the current state using the engine's reducer.
	Delta S

	// Route overrides edge-based routing when non-empty.
	Route Next

	// Err contains any error that occurred during node execution.
	Err error
}

// Next specifies an explicit routing decision made by a node.
type Next struct {
	// To names the next node. END is accepted.
	To string

	// Terminal ends the run after this node.
	Terminal bool
}

// IsZero reports whether no explicit route was requested.
func (n Next) IsZero() bool {
	return n.To == "" && !n.Terminal
}

// Stop returns a Next that terminates execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// Update returns a result carrying only a state delta. The engine resolves the
// next node from the edge table using the post-merge state.
func Update[S any](delta S) NodeResult[S] {
	return NodeResult[S]{Delta: delta}
}

// Command returns a result that merges delta and then jumps to the given node,
// bypassing static and conditional edges for this hop. The target may be any
// registered node, including ones earlier in the graph, or END.
func Command[S any](delta S, to string) NodeResult[S] {
	return NodeResult[S]{Delta: delta, Route: Goto(to)}
}

// Fail returns a result that aborts the invocation with err.
func Fail[S any](err error) NodeResult[S] {
	return NodeResult[S]{Err: err}
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	greet := NodeFunc[ChatState](func(ctx context.Context, s ChatState) NodeResult[ChatState] {
//	    return Command(ChatState{Reply: "hello"}, END)
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}
