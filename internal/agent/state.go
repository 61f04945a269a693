// Package agent is the data-search conversation graph: an intent router in
// front of a bounded clarification loop, a confirmation gate and the
// search → negotiate → compute → dashboard pipeline.
package agent

import (
	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/internal/catalog"
)

// State is the conversation state shared by every node of the graph.
//
// Messages is append-only and SearchBoundaries is an accumulator; every other
// field is overwritten when a node's delta sets it.
type State struct {
	Messages []model.Message `json:"messages"`

	// SearchIntent is the confirmed search request in plain words.
	SearchIntent graph.Value[string] `json:"search_intent"`

	// Intent is the structured intent extracted from the current cycle.
	Intent graph.Value[Intent] `json:"intent"`

	UsefulData       graph.Value[[]catalog.Dataset] `json:"useful_data"`
	NegotiationTerms graph.Value[NegotiationTerms]  `json:"negotiation_terms"`
	Schemas          graph.Value[[]catalog.Schema]  `json:"schemas"`
	QueryPlan        graph.Value[string]            `json:"query_plan"`
	Dashboard        graph.Value[string]            `json:"dashboard"`

	// Iterations counts node executions of the current cycle.
	Iterations    graph.Value[int] `json:"iterations"`
	MaxIterations graph.Value[int] `json:"max_iterations"`

	ClarificationAttempts graph.Value[int] `json:"clarification_attempts"`

	// SearchBoundaries holds the message count at the end of every
	// completed search cycle.
	SearchBoundaries []int `json:"search_boundaries"`
}

// NegotiationTerms are the usage terms recorded for the selected datasets.
type NegotiationTerms struct {
	// Licenses maps dataset id to its declared license.
	Licenses map[string]string `json:"licenses"`

	// Restrictions lists human-readable usage restrictions.
	Restrictions []string `json:"restrictions,omitempty"`

	AllowsCommercial bool `json:"allows_commercial"`
}

// Schema declares the merge policy of every State field.
var Schema = graph.MustSchema(
	graph.Append("messages", func(s *State) *[]model.Message { return &s.Messages }),
	graph.Overwrite("search_intent", func(s *State) *graph.Value[string] { return &s.SearchIntent }),
	graph.Overwrite("intent", func(s *State) *graph.Value[Intent] { return &s.Intent }),
	graph.Overwrite("useful_data", func(s *State) *graph.Value[[]catalog.Dataset] { return &s.UsefulData }),
	graph.Overwrite("negotiation_terms", func(s *State) *graph.Value[NegotiationTerms] { return &s.NegotiationTerms }),
	graph.Overwrite("schemas", func(s *State) *graph.Value[[]catalog.Schema] { return &s.Schemas }),
	graph.Overwrite("query_plan", func(s *State) *graph.Value[string] { return &s.QueryPlan }),
	graph.Overwrite("dashboard", func(s *State) *graph.Value[string] { return &s.Dashboard }),
	graph.Overwrite("iterations", func(s *State) *graph.Value[int] { return &s.Iterations }),
	graph.Overwrite("max_iterations", func(s *State) *graph.Value[int] { return &s.MaxIterations }),
	graph.Overwrite("clarification_attempts", func(s *State) *graph.Value[int] { return &s.ClarificationAttempts }),
	graph.Accumulate("search_boundaries", func(s *State) *[]int { return &s.SearchBoundaries }),
)

// UserInput is the Run input for one user turn.
func UserInput(text string) State {
	return State{Messages: []model.Message{{Role: model.RoleUser, Content: text}}}
}

// CurrentCycle returns the messages after the last search boundary.
func (s State) CurrentCycle() []model.Message {
	start := 0
	if n := len(s.SearchBoundaries); n > 0 {
		start = s.SearchBoundaries[n-1]
	}
	if start > len(s.Messages) {
		start = len(s.Messages)
	}
	return s.Messages[start:]
}

// LastReply returns the content of the last assistant message.
func (s State) LastReply() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleAssistant {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

func assistant(text string) []model.Message {
	return []model.Message{{Role: model.RoleAssistant, Content: text}}
}

func user(text string) []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: text}}
}
