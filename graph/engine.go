package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dshills/convograph/graph/emit"
	"github.com/dshills/convograph/graph/store"
)

// Engine executes a conversation graph for any number of threads, persisting
// a checkpoint after every step so a thread can pause at an Interrupt and be
// resumed later, in this process or another one sharing the store.
//
// The Engine:
//   - Manages graph topology (nodes, static, predicate and conditional edges)
//   - Executes exactly one node per step on a deep copy of the state
//   - Merges node deltas via the reducer
//   - Persists a checkpoint and a step record after each step
//   - Suspends threads at Interrupt calls and re-enters the node on Resume
//   - Serializes invocations of the same thread
//   - Emits observability events via the emitter
//
// Type parameter S is the state type shared across the graph.
//
// Example:
//
//	schema := graph.MustSchema(
//	    graph.Append("messages", func(s *State) *[]string { return &s.Messages }),
//	)
//	engine, err := graph.New(schema.Reducer(), store.NewMemStore[State](), emit.NewNullEmitter())
//	_ = engine.Add("ask", askNode)
//	_ = engine.StartAt("ask")
//	_ = engine.AddEdge("ask", graph.END)
//
//	res, err := engine.Run(ctx, "thread-1", State{Messages: []string{"hi"}})
//	if res.Interrupt != nil {
//	    res, err = engine.Resume(ctx, "thread-1", "yes")
//	}
type Engine[S any] struct {
	mu sync.RWMutex

	reducer Reducer[S]

	nodes map[string]Node[S]

	// edges are evaluated in registration order; first match wins
	edges []Edge[S]

	// conditional holds at most one router per source node
	conditional map[string]conditionalEdge[S]

	store   store.Store[S]
	emitter emit.Emitter
	cfg     engineConfig
	locks   *threadLocks
}

// Result is the outcome of one Run or Resume.
type Result[S any] struct {
	ThreadID string

	// State is the latest committed state of the thread.
	State S

	// Interrupt is non-nil when the thread suspended and awaits Resume.
	Interrupt *Pause

	// Steps counts the steps completed by this invocation.
	Steps int
}

// Suspended reports whether the invocation ended at an Interrupt.
func (r Result[S]) Suspended() bool {
	return r.Interrupt != nil
}

// Step is the snapshot yielded by Stream after each completed step, and once
// more when the thread suspends.
type Step[S any] struct {
	ThreadID string

	// Step is the cumulative step number of the thread.
	Step int

	// NodeID is the node that just completed or suspended.
	NodeID string

	State S

	// Next is the node the thread continues at, END when finished.
	Next string

	// Interrupt is set on the final snapshot of a suspended invocation.
	Interrupt *Pause
}

// New creates an Engine.
//
// reducer and st are required. A nil emitter discards events.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts ...Option) (*Engine[S], error) {
	if reducer == nil {
		return nil, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if st == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine[S]{
		reducer:     reducer,
		nodes:       make(map[string]Node[S]),
		conditional: make(map[string]conditionalEdge[S]),
		store:       st,
		emitter:     emitter,
		cfg:         cfg,
		locks:       newThreadLocks(),
	}, nil
}

// Add registers a node.
//
// Returns error if nodeID is empty or reserved (START, END), node is nil, or
// a node with this ID already exists.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty", Code: "INVALID_NODE"}
	}
	if nodeID == START || nodeID == END {
		return &EngineError{Message: "node ID is reserved: " + nodeID, Code: "INVALID_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil", Code: "INVALID_NODE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	return nil
}

// StartAt connects START to a registered node. It is shorthand for
// AddEdge(START, nodeID).
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty", Code: "INVALID_EDGE"}
	}
	if !e.hasNode(nodeID) {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	return e.AddEdge(START, nodeID)
}

// AddEdge adds an unconditional edge. from may be START and to may be END.
func (e *Engine[S]) AddEdge(from, to string) error {
	return e.Connect(from, to, nil)
}

// Connect adds an edge traversed only when predicate holds for the post-merge
// state. A nil predicate makes the edge unconditional.
//
// Node existence is checked by Validate, so edges may be declared before the
// nodes they connect.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if err := checkEndpoints(from, to); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// AddConditionalEdges routes out of from through router. The router output is
// looked up in targets; an output outside the table resolves to defaultTarget
// and is reported as a routing fallback.
//
// Static and predicate edges leaving the same node are evaluated first.
func (e *Engine[S]) AddConditionalEdges(from string, router Router[S], targets map[string]string, defaultTarget string) error {
	if err := checkEndpoints(from, defaultTarget); err != nil {
		return err
	}
	if router == nil {
		return &EngineError{Message: "router cannot be nil", Code: "INVALID_EDGE"}
	}
	for key, to := range targets {
		if err := checkEndpoints(from, to); err != nil {
			return &EngineError{Message: fmt.Sprintf("target %q: %s", key, err.Error()), Code: "INVALID_EDGE", Cause: err}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.conditional[from]; exists {
		return &EngineError{Message: "conditional edges already declared for " + from, Code: "DUPLICATE_ROUTER"}
	}
	e.conditional[from] = conditionalEdge[S]{
		from:     from,
		router:   router,
		targets:  maps.Clone(targets),
		fallback: defaultTarget,
	}
	return nil
}

func checkEndpoints(from, to string) error {
	switch {
	case from == "":
		return &EngineError{Message: "from node ID cannot be empty", Code: "INVALID_EDGE"}
	case to == "":
		return &EngineError{Message: "to node ID cannot be empty", Code: "INVALID_EDGE"}
	case from == END:
		return &EngineError{Message: "edges cannot leave END", Code: "INVALID_EDGE"}
	case to == START:
		return &EngineError{Message: "edges cannot enter START", Code: "INVALID_EDGE"}
	}
	return nil
}

// Validate checks that START has an outgoing edge and that every edge
// endpoint and router target names a registered node (or START/END).
// Run and Resume validate before executing.
func (e *Engine[S]) Validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	known := func(id string) bool {
		_, ok := e.nodes[id]
		return ok || id == START || id == END
	}

	hasStart := false
	for _, edge := range e.edges {
		if edge.From == START {
			hasStart = true
		}
		if !known(edge.From) {
			return &EngineError{Message: "edge source does not exist: " + edge.From, Code: "NODE_NOT_FOUND"}
		}
		if !known(edge.To) {
			return &EngineError{Message: "edge target does not exist: " + edge.To, Code: "NODE_NOT_FOUND"}
		}
	}

	for _, from := range slices.Sorted(maps.Keys(e.conditional)) {
		cond := e.conditional[from]
		if from == START {
			hasStart = true
		}
		if !known(from) {
			return &EngineError{Message: "router source does not exist: " + from, Code: "NODE_NOT_FOUND"}
		}
		if !known(cond.fallback) {
			return &EngineError{Message: "router default target does not exist: " + cond.fallback, Code: "NODE_NOT_FOUND"}
		}
		for _, key := range slices.Sorted(maps.Keys(cond.targets)) {
			if to := cond.targets[key]; !known(to) {
				return &EngineError{Message: fmt.Sprintf("router target %q does not exist: %s", key, to), Code: "NODE_NOT_FOUND"}
			}
		}
	}

	if !hasStart {
		return &EngineError{Message: "no edge leaves START (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	return nil
}

// Run merges input into the thread's state and executes from START until the
// graph reaches END or a node suspends.
//
// A thread that has never run starts from the zero state. Run fails with
// ErrThreadSuspended when the thread awaits a resume value.
//
// Run always enters at START. A thread whose previous run stopped between
// steps (a Stream consumer breaking out, ErrMaxStepsExceeded, cancellation or
// a crash) is left in status running with its next node recorded; call
// Continue to finish that run before sending new input.
func (e *Engine[S]) Run(ctx context.Context, threadID string, input S) (Result[S], error) {
	return e.invoke(ctx, threadID, invocation[S]{input: input}, nil)
}

// Resume supplies value as the result of the pending Interrupt call and
// re-enters the suspended node with the state saved at suspension.
//
// Resume fails with ErrInvalidResumeState when the thread is unknown or not
// suspended. Resuming twice with the same value is therefore safe: the second
// call fails without touching the thread.
func (e *Engine[S]) Resume(ctx context.Context, threadID string, value any) (Result[S], error) {
	return e.invoke(ctx, threadID, invocation[S]{resume: true, value: value}, nil)
}

// Continue finishes a run that stopped between steps, entering the node
// recorded as next in the checkpoint. It fails with ErrNothingToContinue when
// the thread is unknown, done or suspended.
func (e *Engine[S]) Continue(ctx context.Context, threadID string) (Result[S], error) {
	return e.invoke(ctx, threadID, invocation[S]{cont: true}, nil)
}

// Stream is Run yielding a snapshot after every completed step and a final
// snapshot carrying the Interrupt when the thread suspends. Breaking out of
// the loop stops execution after the current step; committed steps are kept
// and the rest of the run can be finished with Continue.
func (e *Engine[S]) Stream(ctx context.Context, threadID string, input S) iter.Seq2[Step[S], error] {
	return e.stream(ctx, threadID, invocation[S]{input: input})
}

// StreamResume is Resume yielding snapshots like Stream.
func (e *Engine[S]) StreamResume(ctx context.Context, threadID string, value any) iter.Seq2[Step[S], error] {
	return e.stream(ctx, threadID, invocation[S]{resume: true, value: value})
}

func (e *Engine[S]) stream(ctx context.Context, threadID string, inv invocation[S]) iter.Seq2[Step[S], error] {
	return func(yield func(Step[S], error) bool) {
		stopped := false
		_, err := e.invoke(ctx, threadID, inv, func(s Step[S]) bool {
			if !yield(s, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(Step[S]{ThreadID: threadID}, err)
		}
	}
}

// Checkpoint returns the persisted checkpoint of a thread, or an error
// matching store.ErrNotFound.
func (e *Engine[S]) Checkpoint(ctx context.Context, threadID string) (store.Checkpoint[S], error) {
	return e.store.LoadCheckpoint(ctx, threadID)
}

// History returns the step records of a thread ordered by step.
func (e *Engine[S]) History(ctx context.Context, threadID string) ([]store.StepRecord[S], error) {
	return e.store.ListSteps(ctx, threadID)
}

// invocation is a Run (input), Resume (value) or Continue request.
type invocation[S any] struct {
	resume bool
	cont   bool
	input  S
	value  any
}

// cursor is the position execution continues from.
type cursor[S any] struct {
	cp      store.Checkpoint[S]
	node    string
	resumes []json.RawMessage
}

func (e *Engine[S]) invoke(ctx context.Context, threadID string, inv invocation[S], yield func(Step[S]) bool) (Result[S], error) {
	res := Result[S]{ThreadID: threadID}

	if threadID == "" {
		return res, &EngineError{Message: "thread ID cannot be empty", Code: "INVALID_THREAD"}
	}
	if err := e.Validate(); err != nil {
		return res, err
	}

	unlock := e.locks.lock(threadID)
	e.cfg.metrics.SetActiveThreads(e.locks.active())
	defer func() {
		unlock()
		e.cfg.metrics.SetActiveThreads(e.locks.active())
	}()

	cur, err := e.begin(ctx, threadID, inv)
	if err != nil {
		return res, err
	}
	return e.execute(ctx, cur, yield)
}

// begin loads the thread and decides where execution starts.
func (e *Engine[S]) begin(ctx context.Context, threadID string, inv invocation[S]) (cursor[S], error) {
	cp, err := e.store.LoadCheckpoint(ctx, threadID)
	found := err == nil
	switch {
	case errors.Is(err, store.ErrNotFound):
		cp = store.Checkpoint[S]{ThreadID: threadID}
	case err != nil:
		return cursor[S]{}, &EngineError{Message: "failed to load checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}

	if inv.cont {
		if !found || cp.Status != store.StatusRunning || cp.Next == "" {
			return cursor[S]{}, &EngineError{
				Message: "thread " + threadID + " has no interrupted run",
				Code:    "NOTHING_TO_CONTINUE",
				Cause:   ErrNothingToContinue,
			}
		}
		e.emit(threadID, cp.Step, cp.Next, "thread continued", nil)
		return cursor[S]{cp: cp, node: cp.Next}, nil
	}

	if inv.resume {
		if !found || !cp.Suspended() {
			return cursor[S]{}, &EngineError{
				Message: "thread " + threadID + " is not suspended",
				Code:    "INVALID_RESUME_STATE",
				Cause:   ErrInvalidResumeState,
			}
		}
		raw, err := json.Marshal(inv.value)
		if err != nil {
			return cursor[S]{}, &EngineError{Message: "failed to encode resume value: " + err.Error(), Code: "INVALID_RESUME_VALUE", Cause: err}
		}

		e.emit(threadID, cp.Step, cp.Pending.Node, "thread resumed", nil)
		e.cfg.metrics.IncrementResumes()

		return cursor[S]{
			cp:      cp,
			node:    cp.Pending.Node,
			resumes: append(slices.Clone(cp.Pending.Resumes), raw),
		}, nil
	}

	if found && cp.Suspended() {
		return cursor[S]{}, &EngineError{
			Message: "thread " + threadID + " is waiting at " + cp.Pending.Node + " (call Resume)",
			Code:    "THREAD_SUSPENDED",
			Cause:   ErrThreadSuspended,
		}
	}

	cp.State = e.reducer(cp.State, inv.input)
	cp.Status = store.StatusRunning
	cp.Pending = nil

	e.emit(threadID, cp.Step, START, "thread started", nil)

	next, err := e.resolveNext(ctx, threadID, cp.Step, START, Next{}, cp.State)
	if err != nil {
		return cursor[S]{}, err
	}
	return cursor[S]{cp: cp, node: next}, nil
}

// execute runs nodes from cur until END, a suspension, or an error.
func (e *Engine[S]) execute(ctx context.Context, cur cursor[S], yield func(Step[S]) bool) (Result[S], error) {
	cp := cur.cp
	node := cur.node
	resumes := cur.resumes
	res := Result[S]{ThreadID: cp.ThreadID, State: cp.State}

	if node == END {
		cp.Status = store.StatusDone
		cp.Next = END
		if err := e.commit(ctx, &cp); err != nil {
			return res, err
		}
		return res, nil
	}

	executed := 0
	for node != END {
		if e.cfg.maxSteps > 0 && executed >= e.cfg.maxSteps {
			return res, &EngineError{
				Message: fmt.Sprintf("thread %s exceeded %d steps", cp.ThreadID, e.cfg.maxSteps),
				Code:    "MAX_STEPS_EXCEEDED",
				Cause:   ErrMaxStepsExceeded,
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		executed++

		e.mu.RLock()
		impl, exists := e.nodes[node]
		e.mu.RUnlock()
		if !exists {
			return res, &EngineError{Message: "node not found during execution: " + node, Code: "NODE_NOT_FOUND"}
		}

		input, err := deepCopy(cp.State)
		if err != nil {
			return res, &EngineError{Message: err.Error(), Code: "STATE_COPY_FAILED", Cause: err}
		}

		started := time.Now()
		result, err := executeNode(ctx, impl, node, input, resumes, e.cfg.nodeTimeout)
		if err == nil {
			err = result.Err
		}
		latency := time.Since(started)

		// A cancelled caller must not commit what the node produced while
		// its collaborators were failing.
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.cfg.metrics.RecordStepLatency(node, latency, "cancelled")
			e.emit(cp.ThreadID, cp.Step, node, "node cancelled", map[string]interface{}{"error": ctxErr.Error()})
			return res, ctxErr
		}

		if err != nil {
			var ie *InterruptError
			if errors.As(err, &ie) {
				e.cfg.metrics.RecordStepLatency(node, latency, "interrupt")
				return e.suspend(ctx, cp, node, ie, resumes, res, yield)
			}
			e.cfg.metrics.RecordStepLatency(node, latency, "error")
			e.emit(cp.ThreadID, cp.Step, node, "node failed", map[string]interface{}{"error": err.Error()})
			return res, asNodeError(node, err)
		}
		e.cfg.metrics.RecordStepLatency(node, latency, "success")

		cp.State = e.reducer(cp.State, result.Delta)

		next, err := e.resolveNext(ctx, cp.ThreadID, cp.Step, node, result.Route, cp.State)
		if err != nil {
			return res, err
		}

		cp.Step++
		cp.Next = next
		cp.Pending = nil
		cp.Status = store.StatusRunning
		if next == END {
			cp.Status = store.StatusDone
		}

		if err := e.store.SaveStep(context.WithoutCancel(ctx), cp.ThreadID, store.StepRecord[S]{
			Step:      cp.Step,
			NodeID:    node,
			State:     cp.State,
			CreatedAt: e.cfg.now(),
		}); err != nil {
			return res, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR", Cause: err}
		}
		if err := e.commit(ctx, &cp); err != nil {
			return res, err
		}

		res.State = cp.State
		res.Steps++

		e.emit(cp.ThreadID, cp.Step, node, "node completed", map[string]interface{}{"next": next})
		e.cfg.metrics.IncrementSteps(node)

		if yield != nil && !yield(Step[S]{ThreadID: cp.ThreadID, Step: cp.Step, NodeID: node, State: cp.State, Next: next}) {
			return res, nil
		}

		node = next
		resumes = nil
	}

	return res, nil
}

// suspend persists the thread at an Interrupt. The node's partial work is
// discarded; the saved state is the state the node was entered with.
func (e *Engine[S]) suspend(
	ctx context.Context,
	cp store.Checkpoint[S],
	node string,
	ie *InterruptError,
	resumes []json.RawMessage,
	res Result[S],
	yield func(Step[S]) bool,
) (Result[S], error) {
	answered := resumes[:min(ie.Index, len(resumes))]

	cp.Status = store.StatusSuspended
	cp.Next = node
	cp.Pending = &store.Pending{
		Node:    node,
		Prompt:  ie.Prompt,
		Resumes: slices.Clone(answered),
	}
	if err := e.commit(ctx, &cp); err != nil {
		return res, err
	}

	res.State = cp.State
	res.Interrupt = &Pause{Node: node, Prompt: ie.Prompt}

	e.emit(cp.ThreadID, cp.Step, node, "node interrupted", map[string]interface{}{"call": ie.Index})
	e.cfg.metrics.IncrementInterrupts(node)

	if yield != nil {
		yield(Step[S]{ThreadID: cp.ThreadID, Step: cp.Step, NodeID: node, State: cp.State, Next: node, Interrupt: res.Interrupt})
	}
	return res, nil
}

// commit stamps and saves the checkpoint. Commits are not cancelled with the
// invocation context so a finished step is never half-persisted.
func (e *Engine[S]) commit(ctx context.Context, cp *store.Checkpoint[S]) error {
	key, err := computeIdempotencyKey(cp.ThreadID, cp.Step, cp.Next, cp.State)
	if err != nil {
		return &EngineError{Message: "failed to compute idempotency key: " + err.Error(), Code: "STATE_COPY_FAILED", Cause: err}
	}
	cp.IdempotencyKey = key
	cp.UpdatedAt = e.cfg.now()

	if err := e.store.SaveCheckpoint(context.WithoutCancel(ctx), *cp); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "STORE_ERROR", Cause: err}
	}
	return nil
}

// resolveNext picks the node after from.
//
// Precedence:
//  1. An explicit route returned by the node (Stop, Goto, Command)
//  2. Static and predicate edges in registration order, first match wins
//  3. The conditional router of from, falling back to its default target
func (e *Engine[S]) resolveNext(ctx context.Context, threadID string, step int, from string, route Next, state S) (string, error) {
	if route.Terminal {
		return END, nil
	}
	if route.To != "" {
		if route.To != END && !e.hasNode(route.To) {
			return "", &EngineError{Message: "route target does not exist: " + route.To, Code: "NODE_NOT_FOUND"}
		}
		return route.To, nil
	}

	e.mu.RLock()
	edges := e.edges
	cond, hasCond := e.conditional[from]
	e.mu.RUnlock()

	for _, edge := range edges {
		if edge.From != from {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To, nil
		}
	}

	if hasCond {
		out := cond.router(ctx, state)
		to, ok := cond.resolve(out)
		if !ok {
			e.cfg.metrics.IncrementRoutingFallbacks(from)
			e.emit(threadID, step, from, "routing fallback", map[string]interface{}{"output": out, "target": to})
		}
		return to, nil
	}

	return "", &EngineError{Message: "no valid route from node: " + from, Code: "NO_ROUTE"}
}

func (e *Engine[S]) hasNode(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.nodes[id]
	return ok
}

func (e *Engine[S]) emit(threadID string, step int, nodeID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		ThreadID: threadID,
		Step:     step,
		NodeID:   nodeID,
		Msg:      msg,
		Meta:     meta,
	})
}

// asNodeError attributes err to nodeID, keeping an existing NodeError.
func asNodeError(nodeID string, err error) error {
	var ne *NodeError
	if errors.As(err, &ne) {
		if ne.NodeID == "" {
			ne.NodeID = nodeID
		}
		return ne
	}
	return &NodeError{Message: err.Error(), Code: "NODE_FAILED", NodeID: nodeID, Cause: err}
}
