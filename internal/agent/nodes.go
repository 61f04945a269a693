package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/internal/catalog"
)

// Prompt kinds surfaced through graph.Interrupt.
const (
	PromptClarification = "clarification"
	PromptConfirmation  = "confirmation"
)

// Prompt is the value a suspended thread shows the user. The resume value is
// the user's answer as a string.
type Prompt struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

const (
	affirmative = "AFFIRMATIVE"
	negative    = "NEGATIVE"
)

// User-visible fallback messages.
const (
	MsgIterationLimit = "Step limit reached. Let's start over with a new request."
	MsgNotUnderstood  = "I did not understand your request. Could you rephrase it?"
	MsgChatbotFailed  = "Sorry, I cannot answer right now. Please try again."
)

type agent struct {
	deps Deps
	log  *zap.Logger
}

// route classifies the conversation for the START router. Failures return an
// empty output, which the engine resolves to the default target.
func (a *agent) route(ctx context.Context, s State) string {
	reply, err := model.Complete(ctx, a.deps.Model, routerPrompt(s.Messages))
	if err != nil {
		a.log.Warn("intent routing failed", zap.Error(err))
		return ""
	}
	return strings.ToLower(strings.Trim(reply, "\"' .\n"))
}

func (a *agent) chatbot(ctx context.Context, s State) graph.NodeResult[State] {
	messages := append([]model.Message{{Role: model.RoleSystem, Content: systemPrompt}}, s.Messages...)

	reply := MsgChatbotFailed
	out, err := a.deps.Model.Chat(ctx, messages)
	switch {
	case err != nil:
		a.log.Warn("chatbot completion failed", zap.Error(err))
	case strings.TrimSpace(out.Text) == "":
		a.log.Warn("chatbot completion was empty")
	default:
		reply = strings.TrimSpace(out.Text)
	}

	return graph.Update(State{
		Messages:   assistant(reply),
		Iterations: graph.Set(0),
	})
}

// analyzeIntent is free of suspend calls, so replaying it is safe.
func (a *agent) analyzeIntent(ctx context.Context, s State) graph.NodeResult[State] {
	iterations := s.Iterations.Or(0) + 1
	limit := s.MaxIterations.Or(a.deps.MaxIterations)
	if iterations >= limit {
		a.log.Warn("iteration limit reached", zap.Int("iterations", iterations), zap.Int("limit", limit))
		return graph.Command(State{
			Messages:   assistant(MsgIterationLimit),
			Iterations: graph.Set(iterations),
		}, NodeDashboard)
	}

	intent, ok := a.extractIntent(ctx, s.CurrentCycle())
	if !ok {
		return graph.Command(State{
			Messages:   assistant(MsgNotUnderstood),
			Iterations: graph.Set(iterations),
		}, NodeChatbot)
	}

	attempts := s.ClarificationAttempts.Or(0)
	c := clarify(ctx, a.deps.Model, a.log, *a.deps.Clarify, intent, attempts)
	a.log.Debug("clarification pass",
		zap.Int("attempt", attempts),
		zap.Stringer("mode", c.Mode),
		zap.Bool("resolved", c.Resolved()))

	if !c.Resolved() {
		return graph.Command(State{
			Messages:   assistant(c.Question),
			Intent:     graph.Set(intent),
			Iterations: graph.Set(iterations),
		}, NodeAskClarification)
	}

	return graph.Command(State{
		Messages:   assistant(a.confirmationMessage(ctx, intent)),
		Intent:     graph.Set(intent),
		Iterations: graph.Set(iterations),
	}, NodeAskConfirmation)
}

// extractIntent returns false when there is nothing to analyze or the
// collaborator is unavailable. An unparsable reply yields fallbackIntent.
func (a *agent) extractIntent(ctx context.Context, cycle []model.Message) (Intent, bool) {
	hasUser := false
	for _, msg := range cycle {
		if msg.Role == model.RoleUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return Intent{}, false
	}

	reply, err := model.Complete(ctx, a.deps.Model, extractionPrompt(cycle))
	if err != nil {
		a.log.Warn("intent extraction failed", zap.Error(err))
		return Intent{}, false
	}

	intent, err := ParseIntent(reply)
	if err != nil {
		a.log.Warn("intent reply unparsable, using fallback", zap.Error(err))
		return fallbackIntent(), true
	}
	return intent, true
}

func (a *agent) confirmationMessage(ctx context.Context, intent Intent) string {
	msg, err := model.Complete(ctx, a.deps.Model, confirmationPrompt(intent))
	if err != nil {
		a.log.Warn("confirmation message failed", zap.Error(err))
		return fallbackConfirmation(intent)
	}
	return msg
}

func (a *agent) askClarification(ctx context.Context, s State) graph.NodeResult[State] {
	question, _ := s.LastReply()

	answer, err := graph.Interrupt[string](ctx, Prompt{Kind: PromptClarification, Text: question})
	if err != nil {
		return graph.Fail[State](err)
	}

	return graph.Command(State{
		Messages:              user(answer),
		ClarificationAttempts: graph.Set(s.ClarificationAttempts.Or(0) + 1),
	}, NodeAnalyzeIntent)
}

// askConfirmation resumes with the user's answer. Only an explicit
// affirmative moves on to search; anything else is treated as a correction
// and sent back to analysis with the attempt counter untouched.
func (a *agent) askConfirmation(ctx context.Context, s State) graph.NodeResult[State] {
	summary, _ := s.LastReply()

	answer, err := graph.Interrupt[string](ctx, Prompt{Kind: PromptConfirmation, Text: summary})
	if err != nil {
		return graph.Fail[State](err)
	}

	if !a.isAffirmative(ctx, answer) {
		return graph.Command(State{Messages: user(answer)}, NodeAnalyzeIntent)
	}

	intent, _ := s.Intent.Get()
	topic := intent.Topic
	if topic == "" {
		topic = "the request"
	}
	return graph.Command(State{
		Messages:     user(answer),
		SearchIntent: graph.Set(fmt.Sprintf("Data on %s with confirmed filters", topic)),
	}, NodeSearch)
}

func (a *agent) isAffirmative(ctx context.Context, answer string) bool {
	reply, err := model.Complete(ctx, a.deps.Model, classificationPrompt(answer))
	if err != nil {
		a.log.Warn("confirmation classification failed", zap.Error(err))
		return false
	}
	decision := strings.ToUpper(reply)
	return strings.Contains(decision, affirmative) && !strings.Contains(decision, negative)
}

func (a *agent) search(ctx context.Context, s State) graph.NodeResult[State] {
	query, ok := s.SearchIntent.Get()
	if !ok {
		a.log.Warn("search reached without a confirmed intent")
		query = "unspecified query"
	}

	datasets, err := a.deps.Catalog.All(ctx)
	if err != nil {
		a.log.Warn("catalog listing failed", zap.Error(err))
		datasets = nil
	}
	ranked := catalog.RankByCompleteness(datasets)
	a.log.Debug("catalog searched", zap.String("query", query), zap.Int("datasets", len(ranked)))

	return graph.Update(State{
		UsefulData: graph.Set(ranked),
		Schemas:    graph.Set(catalog.Schemas(ranked)),
		Iterations: graph.Set(s.Iterations.Or(0) + 1),
	})
}

func (a *agent) negotiate(_ context.Context, s State) graph.NodeResult[State] {
	selected := catalog.TopN(s.UsefulData.Or(nil), a.deps.TopN)

	return graph.Update(State{
		NegotiationTerms: graph.Set(negotiateTerms(selected)),
		Iterations:       graph.Set(s.Iterations.Or(0) + 1),
	})
}

// negotiateTerms records the declared license of every dataset. Undeclared
// and non-commercial licenses become restrictions.
func negotiateTerms(datasets []catalog.Dataset) NegotiationTerms {
	terms := NegotiationTerms{
		Licenses:         make(map[string]string, len(datasets)),
		AllowsCommercial: true,
	}
	for _, ds := range datasets {
		license := strings.TrimSpace(ds.License)
		switch {
		case license == "":
			terms.Licenses[ds.ID] = "unspecified"
			terms.Restrictions = append(terms.Restrictions, ds.ID+": license not declared, usage must be agreed with the provider")
			terms.AllowsCommercial = false
		case nonCommercial(license):
			terms.Licenses[ds.ID] = license
			terms.Restrictions = append(terms.Restrictions, ds.ID+": non-commercial use only")
			terms.AllowsCommercial = false
		default:
			terms.Licenses[ds.ID] = license
		}
	}
	return terms
}

// nonCommercial reports whether a license carries the NC (non-commercial)
// element, as in CC-BY-NC-4.0.
func nonCommercial(license string) bool {
	parts := strings.FieldsFunc(strings.ToUpper(license), func(r rune) bool {
		return r == '-' || r == ' ' || r == '_' || r == '/'
	})
	for _, p := range parts {
		if p == "NC" {
			return true
		}
	}
	return false
}

func (a *agent) compute(_ context.Context, s State) graph.NodeResult[State] {
	intent, _ := s.Intent.Get()
	schemas := s.Schemas.Or(nil)
	if len(schemas) > a.deps.TopN {
		schemas = schemas[:a.deps.TopN]
	}

	return graph.Update(State{
		QueryPlan:  graph.Set(queryPlan(intent, schemas)),
		Iterations: graph.Set(s.Iterations.Or(0) + 1),
	})
}

// queryPlan describes, per dataset, the columns to read and the filters to
// apply. Required columns missing from a dataset fall back to all columns.
func queryPlan(intent Intent, schemas []catalog.Schema) string {
	if len(schemas) == 0 {
		return "no datasets to query"
	}

	var filters []string
	for _, c := range Categories {
		if values := intent.Values(c); len(values) > 0 {
			filters = append(filters, fmt.Sprintf("%s=%s", c, strings.Join(values, "|")))
		}
	}
	aggregation := intent.AggregationType
	if aggregation == "" {
		aggregation = "statistics"
	}

	var b strings.Builder
	for i, sch := range schemas {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: select %s", sch.DatasetID, strings.Join(selectColumns(intent.RequiredColumns, sch.Columns), ", "))
		if len(filters) > 0 {
			fmt.Fprintf(&b, "; filter %s", strings.Join(filters, ", "))
		}
		fmt.Fprintf(&b, "; aggregate %s", aggregation)
	}
	return b.String()
}

func selectColumns(required, available []string) []string {
	var out []string
	for _, r := range required {
		for _, col := range available {
			if strings.EqualFold(r, col) {
				out = append(out, col)
				break
			}
		}
	}
	if len(out) == 0 {
		return available
	}
	return out
}

// dashboard closes the search cycle: it reports the result, records the
// session boundary and resets the per-cycle fields.
func (a *agent) dashboard(_ context.Context, s State) graph.NodeResult[State] {
	query := s.SearchIntent.Or("")
	summary := dashboardSummary(query, s.UsefulData.Or(nil), a.deps.TopN)

	return graph.Update(State{
		Messages:              assistant(summary),
		Dashboard:             graph.Set(summary),
		SearchBoundaries:      []int{len(s.Messages) + 1},
		SearchIntent:          graph.Clear[string](),
		Intent:                graph.Clear[Intent](),
		UsefulData:            graph.Clear[[]catalog.Dataset](),
		Schemas:               graph.Clear[[]catalog.Schema](),
		ClarificationAttempts: graph.Set(0),
		Iterations:            graph.Set(0),
	})
}

func dashboardSummary(query string, datasets []catalog.Dataset, topN int) string {
	if len(datasets) == 0 {
		return "Search finished without selecting any dataset."
	}

	top := catalog.TopN(datasets, topN)
	names := make([]string, len(top))
	for i, ds := range top {
		names[i] = ds.ID
	}

	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "%s: ", query)
	}
	fmt.Fprintf(&b, "found %d datasets. Most complete: %s.", len(datasets), strings.Join(names, ", "))
	return b.String()
}
