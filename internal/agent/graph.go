package agent

import (
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/graph/emit"
	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/graph/store"
	"github.com/dshills/convograph/internal/catalog"
)

// Node names.
const (
	NodeChatbot          = "chatbot"
	NodeAnalyzeIntent    = "analyze_intent"
	NodeAskClarification = "ask_clarification"
	NodeAskConfirmation  = "ask_confirmation"
	NodeSearch           = "search"
	NodeNegotiate        = "negotiate"
	NodeCompute          = "compute"
	NodeDashboard        = "dashboard"
)

// Router outputs of the intent classifier at START.
const (
	RouteChatbot = "chatbot"
	RouteSearch  = "confirm_search"
)

// DefaultMaxIterations is the per-cycle node budget of the loop guard.
const DefaultMaxIterations = 15

// DefaultTopN is the number of datasets negotiated and planned over.
const DefaultTopN = 5

// Deps are the runtime collaborators handed to every node.
type Deps struct {
	Model   model.ChatModel
	Catalog catalog.Catalog

	// Logger receives collaborator failures. Defaults to a no-op logger.
	Logger *zap.Logger

	// Clarify bounds the clarification loop. Nil selects
	// DefaultClarifyPolicy; a zero policy never asks.
	Clarify *ClarifyPolicy

	// MaxIterations applies when the state carries no max_iterations.
	MaxIterations int

	TopN int
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Model == nil {
		return d, errors.New("agent: model is required")
	}
	if d.Catalog == nil {
		return d, errors.New("agent: catalog is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clarify == nil {
		p := DefaultClarifyPolicy()
		d.Clarify = &p
	}
	if d.MaxIterations <= 0 {
		d.MaxIterations = DefaultMaxIterations
	}
	if d.TopN <= 0 {
		d.TopN = DefaultTopN
	}
	return d, nil
}

// New builds the conversation graph on an engine backed by st.
//
//	START ─router─┬─ chatbot ──────────────────────────────────────────► END
//	              └─ analyze_intent ⇄ ask_clarification
//	                   │  ▲
//	                   ▼  │ (corrective answer)
//	                 ask_confirmation ─► search ─► negotiate ─► compute ─► dashboard ─► END
//
// Moves between analyze_intent, ask_clarification and ask_confirmation are
// Commands; the pipeline after search follows static edges.
func New(deps Deps, st store.Store[State], emitter emit.Emitter, opts ...graph.Option) (*graph.Engine[State], error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	engine, err := graph.New(Schema.Reducer(), st, emitter, opts...)
	if err != nil {
		return nil, err
	}

	a := &agent{deps: deps, log: deps.Logger}
	nodes := []struct {
		id string
		fn graph.NodeFunc[State]
	}{
		{NodeChatbot, a.chatbot},
		{NodeAnalyzeIntent, a.analyzeIntent},
		{NodeAskClarification, a.askClarification},
		{NodeAskConfirmation, a.askConfirmation},
		{NodeSearch, a.search},
		{NodeNegotiate, a.negotiate},
		{NodeCompute, a.compute},
		{NodeDashboard, a.dashboard},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, n.fn); err != nil {
			return nil, err
		}
	}

	if err := engine.AddConditionalEdges(graph.START, a.route, map[string]string{
		RouteChatbot: NodeChatbot,
		RouteSearch:  NodeAnalyzeIntent,
	}, NodeChatbot); err != nil {
		return nil, err
	}

	for _, edge := range [][2]string{
		{NodeChatbot, graph.END},
		{NodeSearch, NodeNegotiate},
		{NodeNegotiate, NodeCompute},
		{NodeCompute, NodeDashboard},
		{NodeDashboard, graph.END},
	} {
		if err := engine.AddEdge(edge[0], edge[1]); err != nil {
			return nil, err
		}
	}

	if err := engine.Validate(); err != nil {
		return nil, err
	}
	return engine, nil
}
