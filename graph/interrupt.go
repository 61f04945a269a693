package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// InterruptError is returned by Interrupt when the node must pause and wait
// for an external value. Nodes return it unchanged as NodeResult.Err; the
// engine then persists the thread as suspended.
type InterruptError struct {
	// Node is the node that suspended.
	Node string

	// Prompt is the JSON encoding of the value passed to Interrupt.
	Prompt json.RawMessage

	// Index is the position of the suspending Interrupt call within the node.
	Index int
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("node %s interrupted (call %d)", e.Node, e.Index)
}

// Pause describes a suspended thread in a Result.
type Pause struct {
	// Node is the node that will be re-entered on Resume.
	Node string `json:"node"`

	// Prompt is the JSON value the node surfaced to the caller.
	Prompt json.RawMessage `json:"prompt"`
}

// Decode unmarshals the prompt into v.
func (p *Pause) Decode(v any) error {
	return json.Unmarshal(p.Prompt, v)
}

type interruptScopeKey struct{}

// interruptScope tracks the suspend calls of one node execution. resumes holds
// the values already supplied for earlier calls, in call order.
type interruptScope struct {
	node    string
	resumes []json.RawMessage
	calls   int
}

func withInterruptScope(ctx context.Context, node string, resumes []json.RawMessage) context.Context {
	return context.WithValue(ctx, interruptScopeKey{}, &interruptScope{node: node, resumes: resumes})
}

// Interrupt pauses the calling node until the thread is resumed.
//
// On first execution it returns an *InterruptError carrying prompt; the node
// must return that error as NodeResult.Err. When the engine re-enters the node
// after Resume, the same call returns the resume value decoded into T instead.
// A node may call Interrupt several times; resume values are matched to calls
// by order, so the calls must happen in the same order on every execution.
//
// Example:
//
//	answer, err := graph.Interrupt[string](ctx, "Which year?")
//	if err != nil {
//	    return graph.Fail[State](err)
//	}
func Interrupt[T any](ctx context.Context, prompt any) (T, error) {
	var zero T

	scope, ok := ctx.Value(interruptScopeKey{}).(*interruptScope)
	if !ok {
		return zero, ErrNoInterruptScope
	}

	idx := scope.calls
	scope.calls++

	if idx < len(scope.resumes) {
		var v T
		if err := json.Unmarshal(scope.resumes[idx], &v); err != nil {
			return zero, fmt.Errorf("failed to decode resume value for %s: %w", scope.node, err)
		}
		return v, nil
	}

	raw, err := json.Marshal(prompt)
	if err != nil {
		return zero, fmt.Errorf("failed to encode interrupt prompt: %w", err)
	}
	return zero, &InterruptError{Node: scope.node, Prompt: raw, Index: idx}
}
