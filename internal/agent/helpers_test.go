package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/convograph/graph"
	"github.com/dshills/convograph/graph/emit"
	"github.com/dshills/convograph/graph/model"
	"github.com/dshills/convograph/graph/store"
	"github.com/dshills/convograph/internal/catalog"
)

// Prompt kinds recognised by fakeLLM.
const (
	kindRoute    = "route"
	kindExtract  = "extract"
	kindAmbig    = "ambiguity"
	kindConfirm  = "confirm"
	kindClassify = "classify"
	kindChat     = "chat"
)

var errUnavailable = errors.New("collaborator unavailable")

// fakeLLM answers each prompt kind from its own script. A script repeats its
// last entry once consumed; kinds listed in fail return errUnavailable.
type fakeLLM struct {
	mu      sync.Mutex
	scripts map[string][]string
	fail    map[string]bool
	prompts map[string][]string
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		scripts: map[string][]string{
			kindRoute:    {RouteSearch},
			kindExtract:  {`{"topic": "employment"}`},
			kindAmbig:    {noAmbiguities},
			kindConfirm:  {"In short, I am looking for employment data. Is that correct?"},
			kindClassify: {affirmative},
			kindChat:     {"Hello! How can I help?"},
		},
		fail:    map[string]bool{},
		prompts: map[string][]string{},
	}
}

func (f *fakeLLM) script(kind string, replies ...string) *fakeLLM {
	f.scripts[kind] = replies
	return f
}

func (f *fakeLLM) failing(kind string) *fakeLLM {
	f.fail[kind] = true
	return f
}

func (f *fakeLLM) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	kind, prompt := classifyPrompt(messages)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.prompts[kind] = append(f.prompts[kind], prompt)
	if f.fail[kind] {
		return model.ChatOut{}, errUnavailable
	}
	replies := f.scripts[kind]
	if len(replies) == 0 {
		return model.ChatOut{}, nil
	}
	reply := replies[0]
	if len(replies) > 1 {
		f.scripts[kind] = replies[1:]
	}
	return model.ChatOut{Text: reply, Usage: model.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func classifyPrompt(messages []model.Message) (string, string) {
	if len(messages) > 0 && messages[0].Role == model.RoleSystem {
		return kindChat, messages[len(messages)-1].Content
	}
	prompt := messages[len(messages)-1].Content
	switch {
	case strings.HasPrefix(prompt, "Analyze the conversation and choose"):
		return kindRoute, prompt
	case strings.HasPrefix(prompt, "Split the user's request"):
		return kindExtract, prompt
	case strings.HasPrefix(prompt, "Decide whether this search request"):
		return kindAmbig, prompt
	case strings.HasPrefix(prompt, "Write a confirmation message"):
		return kindConfirm, prompt
	case strings.HasPrefix(prompt, "Classify the user's answer"):
		return kindClassify, prompt
	default:
		return "unknown", prompt
	}
}

func (f *fakeLLM) calls(kind string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[kind]...)
}

var testDatasets = catalog.Static{
	{ID: "small", Topic: "employment", Columns: []string{"year", "count"}, License: "CC-BY-4.0"},
	{ID: "large", Topic: "employment", Columns: []string{"year", "region", "age", "employed"}, License: "CC-BY-NC-4.0"},
	{ID: "medium", Topic: "health", Columns: []string{"year", "region", "beds"}},
}

type testAgent struct {
	engine  *graph.Engine[State]
	store   *store.MemStore[State]
	emitter *emit.BufferedEmitter
	llm     *fakeLLM
}

func newTestAgent(t *testing.T, llm *fakeLLM, mutate ...func(*Deps)) testAgent {
	t.Helper()

	deps := Deps{Model: llm, Catalog: testDatasets}
	for _, m := range mutate {
		m(&deps)
	}

	st := store.NewMemStore[State]()
	emitter := emit.NewBufferedEmitter()
	engine, err := New(deps, st, emitter, graph.WithMaxSteps(50))
	require.NoError(t, err)

	return testAgent{engine: engine, store: st, emitter: emitter, llm: llm}
}

func (ta testAgent) run(t *testing.T, thread, text string) graph.Result[State] {
	t.Helper()
	res, err := ta.engine.Run(context.Background(), thread, UserInput(text))
	require.NoError(t, err)
	return res
}

func (ta testAgent) resume(t *testing.T, thread, answer string) graph.Result[State] {
	t.Helper()
	res, err := ta.engine.Resume(context.Background(), thread, answer)
	require.NoError(t, err)
	return res
}

func decodePrompt(t *testing.T, res graph.Result[State]) Prompt {
	t.Helper()
	require.NotNil(t, res.Interrupt, "expected the thread to be suspended")
	var p Prompt
	require.NoError(t, res.Interrupt.Decode(&p))
	return p
}

func contents(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Role + ": " + m.Content
	}
	return out
}
