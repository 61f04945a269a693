package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/convograph/graph/model"
)

// Category is a filter slot of an Intent.
type Category string

// Filter categories, in the order they are reported.
const (
	CategoryTemporal    Category = "temporal"
	CategoryDemographic Category = "demographic"
	CategorySpatial     Category = "spatial"
)

// Categories lists every filter category.
var Categories = []Category{CategoryTemporal, CategoryDemographic, CategorySpatial}

// Values returns the filter values collected for c.
func (i Intent) Values(c Category) []string {
	switch c {
	case CategoryTemporal:
		return i.TemporalFilters
	case CategoryDemographic:
		return i.DemographicFilters
	case CategorySpatial:
		return i.SpatialFilters
	default:
		return nil
	}
}

// Partition splits the categories into filled (at least one value) and empty.
func (i Intent) Partition() (filled, empty []Category) {
	for _, c := range Categories {
		if len(i.Values(c)) > 0 {
			filled = append(filled, c)
		} else {
			empty = append(empty, c)
		}
	}
	return filled, empty
}

// ClarifyMode is what a clarification pass checks.
type ClarifyMode int

const (
	// ClarifyResolved accepts the intent without asking.
	ClarifyResolved ClarifyMode = iota

	// ClarifyGapsAndVague asks about empty categories and vague wording.
	ClarifyGapsAndVague

	// ClarifyVagueOnly asks about vague wording only.
	ClarifyVagueOnly
)

func (m ClarifyMode) String() string {
	switch m {
	case ClarifyResolved:
		return "resolved"
	case ClarifyGapsAndVague:
		return "gaps_and_vague"
	case ClarifyVagueOnly:
		return "vague_only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ClarifyPolicy bounds the clarification loop of one search cycle.
type ClarifyPolicy struct {
	// MaxAttempts is the number of clarification rounds after which the
	// intent is accepted as is.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`

	// FilledThreshold is the number of filled categories from which only
	// vague wording is questioned.
	FilledThreshold int `yaml:"filled_threshold" validate:"gte=0,lte=3"`
}

// DefaultClarifyPolicy allows two rounds and stops asking about gaps once two
// of the three categories are filled.
func DefaultClarifyPolicy() ClarifyPolicy {
	return ClarifyPolicy{MaxAttempts: 2, FilledThreshold: 2}
}

// Mode decides what the pass with the given attempt count checks. The rules
// are applied in order: the attempt cap, the first pass, the filled threshold.
func (p ClarifyPolicy) Mode(intent Intent, attempts int) ClarifyMode {
	if attempts >= p.MaxAttempts {
		return ClarifyResolved
	}
	if attempts == 0 {
		return ClarifyGapsAndVague
	}
	if filled, _ := intent.Partition(); len(filled) >= p.FilledThreshold {
		return ClarifyVagueOnly
	}
	return ClarifyGapsAndVague
}

// noAmbiguities is the marker the collaborator answers with when nothing needs
// clarifying.
const noAmbiguities = "NO_AMBIGUITIES"

// Clarification is the outcome of one pass.
type Clarification struct {
	Mode ClarifyMode

	// Question is empty when the intent is resolved.
	Question string
}

// Resolved reports whether the pass accepted the intent.
func (c Clarification) Resolved() bool {
	return c.Question == ""
}

// clarify runs one pass of the clarification machine. The collaborator only
// judges vagueness; a failed call falls back to a template question about the
// empty categories while fewer than FilledThreshold are filled.
func clarify(ctx context.Context, m model.ChatModel, logger *zap.Logger, p ClarifyPolicy, intent Intent, attempts int) Clarification {
	mode := p.Mode(intent, attempts)
	if mode == ClarifyResolved {
		return Clarification{Mode: mode}
	}

	filled, empty := intent.Partition()
	reply, err := model.Complete(ctx, m, ambiguityPrompt(intent, mode, empty))
	if err != nil {
		logger.Warn("ambiguity check failed", zap.Int("attempt", attempts), zap.Error(err))
		if len(filled) < p.FilledThreshold && len(empty) > 0 {
			return Clarification{Mode: mode, Question: templateQuestion(empty)}
		}
		return Clarification{Mode: mode}
	}

	if strings.Contains(strings.ToUpper(reply), noAmbiguities) {
		return Clarification{Mode: mode}
	}
	return Clarification{Mode: mode, Question: reply}
}

func templateQuestion(empty []Category) string {
	names := make([]string, len(empty))
	for i, c := range empty {
		names[i] = string(c)
	}
	return fmt.Sprintf("Could you narrow down the search? Please add %s filters.", joinList(names))
}

// joinList renders "a", "a and b", "a, b and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
