package emit

// Event is one observability record of a thread's execution.
//
// Messages emitted by the engine:
//   - "thread started", "thread resumed"
//   - "node completed" (Meta: next)
//   - "node interrupted" (Meta: call)
//   - "node failed" (Meta: error)
//   - "routing fallback" (Meta: output, target)
type Event struct {
	// ThreadID identifies the conversation thread.
	ThreadID string `json:"threadID"`

	// Step is the cumulative step number of the thread when the event fired.
	Step int `json:"step"`

	// NodeID identifies the node the event concerns. START for thread-level
	// events.
	NodeID string `json:"nodeID"`

	// Msg is the event name.
	Msg string `json:"msg"`

	// Meta carries event-specific fields.
	Meta map[string]interface{} `json:"meta"`
}

// Error returns the "error" meta field, if any.
func (e Event) Error() (string, bool) {
	s, ok := e.Meta["error"].(string)
	return s, ok
}
