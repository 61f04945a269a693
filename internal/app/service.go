package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/graph/emit"
	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/graph/store"
	"github.com/dshills/convograph/internal/agent"
	"github.com/dshills/convograph/internal/catalog"
)

// ErrThreadNotFound is returned for thread ids without a checkpoint.
var ErrThreadNotFound = errors.New("thread not found")

// Turn is what a caller sees after one invocation of a thread.
type Turn struct {
	ThreadID string       `json:"thread_id"`
	Status   store.Status `json:"status"`

	// Reply is the last assistant message.
	Reply string `json:"reply,omitempty"`

	// Prompt is set while the thread waits for an answer.
	Prompt *agent.Prompt `json:"prompt,omitempty"`

	Dashboard string `json:"dashboard,omitempty"`
	Steps     int    `json:"steps"`
}

// Thread is the persisted view of a conversation.
type Thread struct {
	ThreadID  string                  `json:"thread_id"`
	Status    store.Status            `json:"status"`
	Step      int                     `json:"step"`
	Messages  []model.Message         `json:"messages"`
	Prompt    *agent.Prompt           `json:"prompt,omitempty"`
	Intent    *agent.Intent           `json:"intent,omitempty"`
	Dashboard string                  `json:"dashboard,omitempty"`
	Terms     *agent.NegotiationTerms `json:"negotiation_terms,omitempty"`
	QueryPlan string                  `json:"query_plan,omitempty"`
}

// Usage summarizes completion spending since start.
type Usage struct {
	Calls        int                `json:"calls"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	TotalCost    float64            `json:"total_cost_usd"`
	ByModel      map[string]float64 `json:"cost_by_model_usd"`
}

// Service is the conversation API shared by the HTTP server and the CLI.
type Service struct {
	app *App
}

// NewService creates a Service over a.
func NewService(a *App) *Service {
	return &Service{app: a}
}

// Start opens a new thread with a first message.
func (s *Service) Start(ctx context.Context, text string) (Turn, error) {
	return s.Post(ctx, uuid.NewString(), text)
}

// Post adds a user message to a thread that is not waiting for an answer.
// It fails with graph.ErrThreadSuspended otherwise.
func (s *Service) Post(ctx context.Context, threadID, text string) (Turn, error) {
	res, err := s.app.Engine.Run(ctx, threadID, agent.UserInput(text))
	if err != nil {
		return Turn{}, err
	}
	return newTurn(res)
}

// Resume answers the pending prompt of a thread. It fails with
// graph.ErrInvalidResumeState when nothing is pending.
func (s *Service) Resume(ctx context.Context, threadID, answer string) (Turn, error) {
	res, err := s.app.Engine.Resume(ctx, threadID, answer)
	if err != nil {
		return Turn{}, err
	}
	return newTurn(res)
}

// Continue finishes a run that stopped between steps. It fails with
// graph.ErrNothingToContinue when the thread has no unfinished run.
func (s *Service) Continue(ctx context.Context, threadID string) (Turn, error) {
	res, err := s.app.Engine.Continue(ctx, threadID)
	if err != nil {
		return Turn{}, err
	}
	return newTurn(res)
}

// Send answers the pending prompt when there is one and posts a new message
// otherwise.
func (s *Service) Send(ctx context.Context, threadID, text string) (Turn, error) {
	cp, err := s.app.Engine.Checkpoint(ctx, threadID)
	switch {
	case err == nil && cp.Suspended():
		return s.Resume(ctx, threadID, text)
	case err == nil, errors.Is(err, store.ErrNotFound):
		return s.Post(ctx, threadID, text)
	default:
		return Turn{}, err
	}
}

// Get returns the persisted view of a thread.
func (s *Service) Get(ctx context.Context, threadID string) (Thread, error) {
	cp, err := s.app.Engine.Checkpoint(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return Thread{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if err != nil {
		return Thread{}, err
	}

	st := cp.State
	t := Thread{
		ThreadID:  cp.ThreadID,
		Status:    cp.Status,
		Step:      cp.Step,
		Messages:  st.Messages,
		Dashboard: st.Dashboard.Or(""),
		QueryPlan: st.QueryPlan.Or(""),
	}
	if t.Messages == nil {
		t.Messages = []model.Message{}
	}
	if intent, ok := st.Intent.Get(); ok {
		t.Intent = &intent
	}
	if terms, ok := st.NegotiationTerms.Get(); ok {
		t.Terms = &terms
	}
	if cp.Suspended() {
		var p agent.Prompt
		if err := json.Unmarshal(cp.Pending.Prompt, &p); err != nil {
			return Thread{}, fmt.Errorf("decode prompt: %w", err)
		}
		t.Prompt = &p
	}
	return t, nil
}

// History returns the committed steps of a thread.
func (s *Service) History(ctx context.Context, threadID string) ([]store.StepRecord[agent.State], error) {
	if _, err := s.Get(ctx, threadID); err != nil {
		return nil, err
	}
	return s.app.Engine.History(ctx, threadID)
}

// Events returns the engine events recorded for a thread by this process.
func (s *Service) Events(threadID string) []emit.Event {
	return s.app.Events.GetHistory(threadID)
}

// Usage reports token usage and cost accumulated by the guarded model.
func (s *Service) Usage() Usage {
	in, out := s.app.Costs.TokenUsage()
	return Usage{
		Calls:        len(s.app.Costs.Calls()),
		InputTokens:  in,
		OutputTokens: out,
		TotalCost:    s.app.Costs.TotalCost(),
		ByModel:      s.app.Costs.CostByModel(),
	}
}

// Datasets returns the catalog ranked by completeness.
func (s *Service) Datasets(ctx context.Context) ([]catalog.Dataset, error) {
	all, err := s.app.Catalog.All(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.RankByCompleteness(all), nil
}

func newTurn(res graph.Result[agent.State]) (Turn, error) {
	t := Turn{
		ThreadID:  res.ThreadID,
		Status:    store.StatusDone,
		Dashboard: res.State.Dashboard.Or(""),
		Steps:     res.Steps,
	}
	t.Reply, _ = res.State.LastReply()

	if res.Interrupt != nil {
		var p agent.Prompt
		if err := res.Interrupt.Decode(&p); err != nil {
			return Turn{}, fmt.Errorf("decode prompt: %w", err)
		}
		t.Status = store.StatusSuspended
		t.Prompt = &p
	}
	return t, nil
}
