// Package graph provides the resumable graph execution engine for convograph.
package graph

import "errors"

// ErrMaxStepsExceeded indicates that a single invocation reached the maximum
// allowed number of node executions without reaching END.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrInvalidResumeState is returned by Resume when the thread is unknown or
// its checkpoint is not suspended.
var ErrInvalidResumeState = errors.New("thread is not awaiting a resume value")

// ErrThreadSuspended is returned by Run when the thread is waiting for a
// resume value. Callers must use Resume instead.
var ErrThreadSuspended = errors.New("thread is suspended")

// ErrNothingToContinue is returned by Continue when the thread has no
// unfinished run.
var ErrNothingToContinue = errors.New("thread has no interrupted run")

// ErrNoInterruptScope is returned by Interrupt when it is called outside a
// node executed by an Engine.
var ErrNoInterruptScope = errors.New("interrupt called outside of node execution")

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string

	// Cause is the sentinel or underlying error, if any.
	Cause error
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause so errors.Is matches sentinels.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NodeError represents an error that occurred during node execution.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
