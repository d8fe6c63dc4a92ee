package reason

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/workflow"
)

// outOfScopeThreshold is the confidence above which a query is defused
// instead of being passed to retrieval-backed strategies.
const outOfScopeThreshold = 0.7

// inScopeKeywords mark queries about wells, water data and generation
// records as on-topic regardless of other hits.
var inScopeKeywords = []string{
	"well", "wells", "wellbore", "borehole", "curve", "curves", "log", "logs",
	"mnemonic", "mnemonics", "las", "porosity", "resistivity", "density",
	"neutron", "gamma", "sonic", "caliper", "lithology", "facies",
	"petrophysic", "formation", "reservoir", "hydrocarbon", "drilling",
	"depth", "geology", "geological", "subsurface", "basin",
	"usgs", "streamflow", "discharge", "gage", "gauge", "river", "water",
	"hydrology", "site", "sites", "measurement", "measurements",
	"eia", "electricity", "generation", "generator", "fuel", "coal",
	"natural gas", "power plant", "energy",
}

// outOfScopeCategories holds trigger keywords per off-topic category.
var outOfScopeCategories = map[string][]string{
	"weather":       {"weather", "forecast", "rain", "snow", "sunny", "humidity", "temperature today", "temperature tomorrow"},
	"sports":        {"football", "soccer", "basketball", "baseball", "tennis", "championship", "super bowl", "world cup", "playoffs"},
	"politics":      {"election", "president", "senator", "congress", "parliament", "political party"},
	"entertainment": {"movie", "film", "actor", "actress", "celebrity", "song", "album", "tv show", "netflix"},
	"food":          {"recipe", "cooking", "restaurant", "dinner", "breakfast", "ingredients"},
	"medicine":      {"symptom", "disease", "diagnosis", "medication", "vaccine"},
	"travel":        {"flight", "hotel", "vacation", "tourist", "itinerary"},
}

// ScopeResult is the outcome of a scope check.
type ScopeResult struct {
	InScope    bool
	Category   string
	Confidence float64
}

// ScopeChecker classifies queries as on-topic or off-topic. The static
// keyword pass is deterministic; when a generator is supplied it
// confirms borderline classifications.
type ScopeChecker struct {
	generator Generator
	logger    *logrus.Logger
}

// NewScopeChecker builds a checker. The generator may be nil, in which
// case borderline queries stay in scope.
func NewScopeChecker(generator Generator, logger *logrus.Logger) *ScopeChecker {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &ScopeChecker{generator: generator, logger: logger}
}

// Static scores the query against the keyword lists.
func (c *ScopeChecker) Static(query string) ScopeResult {
	lowered := strings.ToLower(query)

	inHits := 0
	for _, kw := range inScopeKeywords {
		if strings.Contains(lowered, kw) {
			inHits++
		}
	}

	bestCategory := ""
	bestHits := 0
	for category, keywords := range outOfScopeCategories {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && category < bestCategory) {
			bestCategory = category
			bestHits = hits
		}
	}

	switch {
	case bestHits > 0 && inHits == 0:
		conf := 0.75 + 0.1*float64(min(bestHits-1, 2))
		return ScopeResult{InScope: false, Category: bestCategory, Confidence: conf}
	case bestHits > 0 && inHits > 0:
		// Mixed signals, e.g. "water temperature forecast". Stay in
		// scope unless a generator overrules.
		return ScopeResult{InScope: true, Category: bestCategory, Confidence: 0.5}
	case inHits > 0:
		conf := 0.6 + 0.1*float64(min(inHits, 3))
		return ScopeResult{InScope: true, Confidence: conf}
	default:
		return ScopeResult{InScope: true, Confidence: 0.5}
	}
}

// Confirm refines a static result with a single yes/no generation call.
// Any generation failure leaves the static result untouched.
func (c *ScopeChecker) Confirm(ctx context.Context, query string, static ScopeResult) ScopeResult {
	if c.generator == nil {
		return static
	}

	prompt := fmt.Sprintf(
		"You classify questions for a system that answers about oil well logs, USGS water data and EIA electricity generation records.\n"+
			"Question: %s\n"+
			"Answer with exactly one word, yes or no: is this question about those topics?",
		query,
	)
	result, err := c.generator.Generate(ctx, prompt, 5)
	if err != nil {
		c.logger.WithError(err).Debug("Scope confirmation failed, keeping static result")
		return static
	}

	answer := strings.ToLower(strings.TrimSpace(result.Text))
	switch {
	case strings.HasPrefix(answer, "yes"):
		return ScopeResult{InScope: true, Category: static.Category, Confidence: 0.9}
	case strings.HasPrefix(answer, "no"):
		category := static.Category
		if category == "" {
			category = "a topic outside this system"
		}
		return ScopeResult{InScope: false, Category: category, Confidence: 0.9}
	default:
		return static
	}
}

// OutOfScope defuses queries that are clearly not about the corpus.
type OutOfScope struct {
	checker *ScopeChecker
	logger  *logrus.Logger
}

// NewOutOfScope builds the defusion strategy.
func NewOutOfScope(checker *ScopeChecker, logger *logrus.Logger) *OutOfScope {
	if logger == nil {
		logger = logrus.New()
	}
	return &OutOfScope{checker: checker, logger: logger}
}

func (s *OutOfScope) Name() string { return "out_of_scope" }

func (s *OutOfScope) CanHandle(state *workflow.State) bool {
	result := s.checker.Static(state.Query)
	return !result.InScope && result.Confidence > outOfScopeThreshold
}

func (s *OutOfScope) Execute(ctx context.Context, state *workflow.State) error {
	result := s.checker.Static(state.Query)
	if result.Confidence < 0.85 {
		result = s.checker.Confirm(ctx, state.Query, result)
		if result.InScope {
			return ErrNotHandled
		}
	}

	state.Response = fmt.Sprintf(
		"This question appears to be about %s, which is outside the data this system covers. "+
			"I can answer questions about well log curves, USGS water measurements and EIA electricity generation records.",
		result.Category,
	)
	state.Meta.AddDecision("query defused as out of scope (category=%s confidence=%.2f)", result.Category, result.Confidence)
	ensureContext(state, fmt.Sprintf("Scope check classified the question as %s with confidence %.2f.", result.Category, result.Confidence))
	return nil
}
