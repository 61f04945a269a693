package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// executeNode runs a node inside its interrupt scope, enforcing the node
// timeout and converting a panic into a NodeError.
//
// The returned error is non-nil only for engine-detected failures (timeout,
// panic); errors reported by the node itself stay in result.Err.
func executeNode[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	resumes []json.RawMessage,
	timeout time.Duration,
) (result NodeResult[S], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &NodeError{
				Message: fmt.Sprintf("panic: %v", r),
				Code:    "NODE_PANIC",
				NodeID:  nodeID,
			}
		}
	}()

	nodeCtx := withInterruptScope(ctx, nodeID, resumes)

	if timeout <= 0 {
		return node.Run(nodeCtx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(nodeCtx, timeout)
	defer cancel()

	result = node.Run(timeoutCtx, state)

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, &NodeError{
			Message: fmt.Sprintf("exceeded timeout of %v", timeout),
			Code:    "NODE_TIMEOUT",
			NodeID:  nodeID,
			Cause:   context.DeadlineExceeded,
		}
	}
	return result, nil
}
