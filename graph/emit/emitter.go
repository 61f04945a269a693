// Package emit delivers engine observability events to logging and tracing
// backends.
package emit

// Emitter receives observability events from the engine.
//
// Implementations must be safe for concurrent use: distinct threads execute
// in parallel and share one emitter. Emit must not block execution for long
// and must not panic; delivery failures are the emitter's concern.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter returns an emitter delivering to each non-nil emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit implements Emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
