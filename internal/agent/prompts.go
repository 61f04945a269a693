package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/convograph/graph/model"
)

const systemPrompt = "You are a data licensing and dataset search assistant. Answer precisely and concisely."

// Opening lines of the task prompts.
const (
	routerHeading         = "Analyze the conversation and choose the next step."
	extractionHeading     = "Split the user's request into structured components."
	ambiguityHeading      = "Decide whether this search request is ambiguous."
	confirmationHeading   = "Write a confirmation message in the first person summarizing this search:"
	classificationHeading = "Classify the user's answer to a confirmation question."
)

func transcript(messages []model.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func routerPrompt(messages []model.Message) string {
	last := ""
	if n := len(messages); n > 0 {
		last = messages[n-1].Content
	}
	return fmt.Sprintf(`%s

History:
%s

Last message: %q

Reply ONLY with the step name, without quotes:
- "%s" for general conversation (greetings, questions about the system, thanks)
- "%s" when the user asks to search, analyze or query data`,
		routerHeading, transcript(messages), last, RouteChatbot, RouteSearch)
}

func extractionPrompt(messages []model.Message) string {
	return fmt.Sprintf(`%s

MESSAGES:
%s

Extract:
1. topic: main subject
2. temporal_filters: time filters in natural language
3. demographic_filters: demographic filters in natural language
4. spatial_filters: geographic filters in natural language
5. required_columns: columns mentioned
6. aggregation_type: statistics, count, average or row_level

Reply ONLY with a JSON object, without explanations:
{
  "topic": "employment",
  "temporal_filters": ["last 5 years"],
  "demographic_filters": ["over 50"],
  "spatial_filters": ["in Spain"],
  "required_columns": ["age", "date", "employment"],
  "aggregation_type": "statistics"
}`, extractionHeading, transcript(messages))
}

func ambiguityPrompt(intent Intent, mode ClarifyMode, empty []Category) string {
	var checks strings.Builder
	if mode == ClarifyGapsAndVague && len(empty) > 0 {
		names := make([]string, len(empty))
		for i, c := range empty {
			names[i] = string(c)
		}
		fmt.Fprintf(&checks, "- MISSING FILTERS: the request says nothing about %s. Ask for them.\n", joinList(names))
	} else {
		checks.WriteString("- Do NOT ask about filters that are missing; the user already gave enough.\n")
	}
	checks.WriteString(`- VAGUE TERMS: words such as "recent", "current", "last years", "elderly" or "crisis" that are not concrete.`)

	return fmt.Sprintf(`%s

CURRENT INTENT:
%s

CHECK:
%s

If it is ambiguous, reply with one short, friendly question that helps the user complete it.
Otherwise reply with exactly the word %s.
Do not include explanations.`, ambiguityHeading, indentJSON(intent), checks.String(), noAmbiguities)
}

func confirmationPrompt(intent Intent) string {
	return fmt.Sprintf(`%s
%s

Example: "In short, I am looking for employment data in Spain..."
End by asking whether it is correct.`, confirmationHeading, indentJSON(intent))
}

func classificationPrompt(answer string) string {
	return fmt.Sprintf(`%s

User answer: %q

CRITERIA:
- %s: only if the user explicitly accepts (yes, sure, ok, correct).
- %s: if the user says no, asks for changes, adds new information or says anything else.

Reply with ONE word: %s or %s.`, classificationHeading, answer, affirmative, negative, affirmative, negative)
}

func fallbackConfirmation(intent Intent) string {
	topic := intent.Topic
	if topic == "" {
		topic = "your request"
	}
	return fmt.Sprintf("In short, I am looking for %s data. Is that correct?", topic)
}

func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
