package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/dshills/convograph/graph/model"
)

// Offline is a keyword-driven ChatModel that answers the agent's prompts
// without a language model. It backs the "mock" provider so the graph can be
// exercised end to end on a laptop.
type Offline struct {
	topics []string
}

// NewOffline creates an Offline model that recognises the given catalog topics.
func NewOffline(topics []string) *Offline {
	lowered := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	// Longest first so "health care" beats "health".
	slices.SortFunc(lowered, func(a, b string) int { return len(b) - len(a) })
	return &Offline{topics: lowered}
}

var (
	quotedLine     = regexp.MustCompile(`(?m)^(?:Last message|User answer): (".*")$`)
	yearPattern    = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	placePattern   = regexp.MustCompile(`\bin ([A-Z][\p{L}]+(?: [A-Z][\p{L}]+)*)`)
	peoplePattern  = regexp.MustCompile(`(?i)\b(?:women|men|youth|young people|elderly|(?:over|under) \d+)\b`)
	searchKeywords = []string{"data", "dataset", "search", "find", "statistics", "figures", "query"}
	yesWords       = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "correct", "right", "exactly", "absolutely"}
	fillerWords    = []string{"go", "ahead", "please", "thanks", "thank", "you", "that", "s", "is", "it", "fine", "perfect", "good", "sounds", "looks"}
)

// Chat implements model.ChatModel.
func (o *Offline) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if len(messages) == 0 {
		return model.ChatOut{}, model.ErrEmptyResponse
	}
	prompt := messages[len(messages)-1].Content

	var text string
	switch {
	case messages[0].Role == model.RoleSystem:
		text = "I am running without a language model. Ask me to find data, for example: employment data in Spain for 2023."
	case strings.HasPrefix(prompt, routerHeading):
		text = o.route(quoted(prompt))
	case strings.HasPrefix(prompt, extractionHeading):
		text = o.extract(prompt)
	case strings.HasPrefix(prompt, ambiguityHeading):
		text = o.ambiguity(prompt)
	case strings.HasPrefix(prompt, confirmationHeading):
		intent, err := ParseIntent(prompt)
		if err != nil {
			intent = fallbackIntent()
		}
		text = fallbackConfirmation(intent)
	case strings.HasPrefix(prompt, classificationHeading):
		text = negative
		if isYes(quoted(prompt)) {
			text = affirmative
		}
	default:
		text = noAmbiguities
	}
	return model.ChatOut{Text: text}, nil
}

func quoted(prompt string) string {
	m := quotedLine.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	s, err := strconv.Unquote(m[1])
	if err != nil {
		return ""
	}
	return s
}

func (o *Offline) route(last string) string {
	lower := strings.ToLower(last)
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			return RouteSearch
		}
	}
	if o.topicIn(lower) != "" {
		return RouteSearch
	}
	return RouteChatbot
}

func (o *Offline) topicIn(lower string) string {
	for _, t := range o.topics {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return ""
}

// extract builds an intent from the user lines of the transcript.
func (o *Offline) extract(prompt string) string {
	var said []string
	for _, line := range strings.Split(prompt, "\n") {
		if text, ok := strings.CutPrefix(line, model.RoleUser+": "); ok {
			said = append(said, text)
		}
	}
	text := strings.Join(said, " ")

	intent := Intent{
		Topic:              o.topicIn(strings.ToLower(text)),
		TemporalFilters:    yearPattern.FindAllString(text, -1),
		DemographicFilters: peoplePattern.FindAllString(text, -1),
		AggregationType:    "statistics",
	}
	for _, m := range placePattern.FindAllStringSubmatch(text, -1) {
		intent.SpatialFilters = append(intent.SpatialFilters, m[1])
	}
	if intent.Topic == "" {
		intent.Topic = fallbackIntent().Topic
	}

	data, err := json.Marshal(intent)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ambiguity asks for filters only when the request carries none at all.
func (o *Offline) ambiguity(prompt string) string {
	intent, err := ParseIntent(prompt)
	if err != nil || !strings.Contains(prompt, "MISSING FILTERS") {
		return noAmbiguities
	}
	filled, empty := intent.Partition()
	if len(filled) > 0 {
		return noAmbiguities
	}
	return templateQuestion(empty)
}

// isYes accepts an answer made only of yes-words and fillers. Any other word
// may carry a correction, so the answer is not affirmative.
func isYes(answer string) bool {
	fields := strings.FieldsFunc(strings.ToLower(answer), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	yes := false
	for _, f := range fields {
		switch {
		case slices.Contains(yesWords, f):
			yes = true
		case slices.Contains(fillerWords, f):
		default:
			return false
		}
	}
	return yes
}
