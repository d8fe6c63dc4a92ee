package reason

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

// aggregationContextCap bounds the context string handed to the
// generation client when an aggregate is phrased by the LLM.
const aggregationContextCap = 4000

// AggregationStore fetches complete document slices for aggregates that
// must not be computed from a truncated page.
type AggregationStore interface {
	FindDocuments(ctx context.Context, filter map[string]any, maxDocuments int) ([]astra.Document, error)
}

// Aggregation computes counts, extremes, ranges, sums and group
// comparisons over the retrieved documents, or over per-well graph
// statistics for curves-per-well questions.
type Aggregation struct {
	store        AggregationStore
	generator    Generator
	traverser    *graph.Traverser
	retrieval    config.RetrievalSettings
	maxNewTokens int
	logger       *logrus.Logger
}

// NewAggregation builds the strategy. Store and generator may be nil;
// the strategy then answers from whatever documents the pipeline
// retrieved, with direct formatting.
func NewAggregation(store AggregationStore, generator Generator, traverser *graph.Traverser, retrieval config.RetrievalSettings, maxNewTokens int, logger *logrus.Logger) *Aggregation {
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregation{
		store:        store,
		generator:    generator,
		traverser:    traverser,
		retrieval:    retrieval,
		maxNewTokens: maxNewTokens,
		logger:       logger,
	}
}

func (s *Aggregation) Name() string { return "aggregation" }

func (s *Aggregation) CanHandle(state *workflow.State) bool {
	if s.traverser != nil && curvesPerWellApplies(strings.ToLower(state.Query)) {
		return true
	}
	if state.Meta.Aggregation == workflow.AggregationNone {
		return false
	}
	return state.Meta.DirectCount != nil || len(state.Meta.VectorDocuments) > 0 || len(state.Meta.Documents) > 0
}

func (s *Aggregation) Execute(ctx context.Context, state *workflow.State) error {
	lowered := strings.ToLower(state.Query)

	if s.traverser != nil && curvesPerWellApplies(lowered) {
		return s.executeCurvesPerWell(lowered, state)
	}

	docs := state.Meta.VectorDocuments
	if len(docs) == 0 {
		docs = state.Meta.Documents
	}
	docs = s.completeSlice(ctx, state, docs)
	docs = filterByQueryStates(lowered, docs, state)

	switch state.Meta.Aggregation {
	case workflow.AggregationCount:
		return s.executeCount(state, docs)
	case workflow.AggregationMax, workflow.AggregationMin:
		return s.executeExtreme(lowered, state, docs)
	case workflow.AggregationComparison:
		return s.executeComparison(lowered, state, docs)
	case workflow.AggregationRange:
		return s.executeRange(ctx, lowered, state, docs)
	case workflow.AggregationSum:
		return s.executeSum(ctx, lowered, state, docs)
	case workflow.AggregationList, workflow.AggregationDistinct:
		return s.executeList(ctx, lowered, state, docs)
	default:
		return ErrNotHandled
	}
}

// completeSlice refetches the full matching document set when the
// pipeline's page was truncated at the search limit.
func (s *Aggregation) completeSlice(ctx context.Context, state *workflow.State, docs []astra.Document) []astra.Document {
	if s.store == nil || state.Meta.Aggregation == workflow.AggregationCount {
		return docs
	}
	if state.Meta.InitialLimit <= 0 || len(docs) < state.Meta.InitialLimit {
		return docs
	}

	full, err := s.store.FindDocuments(ctx, state.Meta.Filter, s.retrieval.AggregationMaxDocs)
	if err != nil {
		state.Meta.AddError("aggregation complete fetch: %s", err)
		return docs
	}
	if len(full) > len(docs) {
		state.Meta.AddDecision("aggregation refetched complete slice: %d documents (was %d)", len(full), len(docs))
		return full
	}
	return docs
}

func (s *Aggregation) executeCurvesPerWell(lowered string, state *workflow.State) error {
	type wellStat struct {
		id     string
		curves int
	}
	var stats []wellStat
	total := 0
	for _, n := range s.traverser.Graph().Nodes() {
		if n.Type != graph.NodeLASDocument {
			continue
		}
		c := len(s.traverser.GetCurvesForWell(n.ID))
		stats = append(stats, wellStat{id: strings.TrimPrefix(n.ID, graph.WellNodePrefix), curves: c})
		total += c
	}
	if len(stats) == 0 {
		return ErrNotHandled
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].curves != stats[j].curves {
			return stats[i].curves > stats[j].curves
		}
		return stats[i].id < stats[j].id
	})

	most, fewest := stats[0], stats[len(stats)-1]
	avg := float64(total) / float64(len(stats))

	var answer string
	switch {
	case strings.Contains(lowered, "fewest") || strings.Contains(lowered, "least"):
		answer = fmt.Sprintf("Well %s has the fewest curves (%d). Across %d wells, counts range from %d to %d with an average of %.1f.",
			fewest.id, fewest.curves, len(stats), fewest.curves, most.curves, avg)
	case strings.Contains(lowered, "most"):
		answer = fmt.Sprintf("Well %s has the most curves (%d). Across %d wells, counts range from %d to %d with an average of %.1f.",
			most.id, most.curves, len(stats), fewest.curves, most.curves, avg)
	default:
		answer = fmt.Sprintf("Across %d wells, curve counts range from %d (well %s) to %d (well %s) with an average of %.1f.",
			len(stats), fewest.curves, fewest.id, most.curves, most.id, avg)
	}

	state.Response = answer
	state.Meta.AddDecision("curves-per-well statistics computed over %d wells", len(stats))
	ensureContext(state, fmt.Sprintf("Graph statistics: %d wells, %d curve links.", len(stats), total))
	return nil
}

func (s *Aggregation) executeCount(state *workflow.State, docs []astra.Document) error {
	n := len(docs)
	source := "retrieved documents"
	if state.Meta.DirectCount != nil {
		n = *state.Meta.DirectCount
		source = "store count"
	}
	singular, plural := entityLabel(state.Meta.Filter, docs)
	if n == 1 {
		state.Response = fmt.Sprintf("There is 1 %s.", singular)
	} else {
		state.Response = fmt.Sprintf("There are %d %s.", n, plural)
	}
	state.Meta.AddDecision("count aggregation: %d %s (%s)", n, plural, source)
	ensureContext(state, fmt.Sprintf("Aggregation counted %d %s via %s.", n, plural, source))
	return nil
}

func (s *Aggregation) executeExtreme(lowered string, state *workflow.State, docs []astra.Document) error {
	field := inferAggregationField(lowered, docs)
	if field == "" {
		return ErrNotHandled
	}
	values := fieldValues(docs, field)
	if len(values) == 0 {
		return ErrNotHandled
	}

	wantMax := state.Meta.Aggregation == workflow.AggregationMax
	best := values[0]
	for _, v := range values[1:] {
		if compareValues(v, best) > 0 == wantMax {
			best = v
		}
	}

	direction := "maximum"
	if !wantMax {
		direction = "minimum"
	}
	state.Response = fmt.Sprintf("The %s %s is %s.", direction, field, best.display)
	state.Meta.AddDecision("%s aggregation over %d values of %s", direction, len(values), field)
	ensureContext(state, fmt.Sprintf("Aggregation scanned %d documents for %s.", len(docs), field))
	return nil
}

func (s *Aggregation) executeComparison(lowered string, state *workflow.State, docs []astra.Document) error {
	field := inferGroupField(lowered, docs)
	if field == "" {
		return ErrNotHandled
	}

	counts := make(map[string]int)
	for _, doc := range docs {
		v := doc.GetString(field)
		if v == "" {
			continue
		}
		if field == "state" {
			if normalized := normalizeState(v); normalized != "" {
				v = normalized
			}
		}
		counts[v]++
	}
	if len(counts) == 0 {
		return ErrNotHandled
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	_, plural := entityLabel(state.Meta.Filter, docs)
	top := keys[0]
	state.Response = fmt.Sprintf("%s has the most %s (%d).", top, plural, counts[top])
	state.Meta.AddDecision("comparison aggregation grouped %d documents by %s into %d groups", len(docs), field, len(keys))
	ensureContext(state, fmt.Sprintf("Aggregation grouped %d documents by %s.", len(docs), field))
	return nil
}

func (s *Aggregation) executeRange(ctx context.Context, lowered string, state *workflow.State, docs []astra.Document) error {
	field := inferAggregationField(lowered, docs)
	if field == "" {
		field = "year"
	}
	values := fieldValues(docs, field)
	var numbers []float64
	for _, v := range values {
		if v.isNumeric {
			numbers = append(numbers, v.number)
		}
	}
	if len(numbers) == 0 {
		return ErrNotHandled
	}
	sort.Float64s(numbers)
	low, high := numbers[0], numbers[len(numbers)-1]

	var direct string
	if field == "year" || strings.Contains(lowered, "year") {
		span := int(high-low) + 1
		direct = fmt.Sprintf("The data spans %d years, from %.0f to %.0f.", span, low, high)
	} else {
		direct = fmt.Sprintf("The %s ranges from %s to %s.", field, formatNumber(low), formatNumber(high))
	}

	state.Meta.AddDecision("range aggregation over %d values of %s", len(numbers), field)
	ensureContext(state, fmt.Sprintf("Aggregation scanned %d documents for %s.", len(docs), field))
	return s.phraseOrDirect(ctx, state, direct)
}

func (s *Aggregation) executeSum(ctx context.Context, lowered string, state *workflow.State, docs []astra.Document) error {
	field := inferAggregationField(lowered, docs)
	if field == "" {
		field = "value"
	}
	total := 0.0
	n := 0
	for _, v := range fieldValues(docs, field) {
		if v.isNumeric {
			total += v.number
			n++
		}
	}
	if n == 0 {
		return ErrNotHandled
	}

	direct := fmt.Sprintf("The total %s across %d records is %s.", field, n, formatNumber(total))
	state.Meta.AddDecision("sum aggregation over %d values of %s", n, field)
	ensureContext(state, fmt.Sprintf("Aggregation summed %s over %d documents.", field, len(docs)))
	return s.phraseOrDirect(ctx, state, direct)
}

func (s *Aggregation) executeList(ctx context.Context, lowered string, state *workflow.State, docs []astra.Document) error {
	field := inferAggregationField(lowered, docs)
	if field == "" {
		return ErrNotHandled
	}

	seen := make(map[string]bool)
	var values []string
	for _, v := range fieldValues(docs, field) {
		if seen[v.display] {
			continue
		}
		seen[v.display] = true
		values = append(values, v.display)
	}
	if len(values) == 0 {
		return ErrNotHandled
	}
	sort.Strings(values)

	direct := fmt.Sprintf("%d distinct %s values: %s.", len(values), field, joinLimited(values, 10))
	state.Meta.AddDecision("list aggregation collected %d distinct values of %s", len(values), field)
	ensureContext(state, fmt.Sprintf("Aggregation collected %s values from %d documents.", field, len(docs)))
	return s.phraseOrDirect(ctx, state, direct)
}

// phraseOrDirect lets the generation client phrase a computed aggregate
// when available, keeping the computed sentence as the fallback.
func (s *Aggregation) phraseOrDirect(ctx context.Context, state *workflow.State, direct string) error {
	if s.generator == nil {
		state.Response = direct
		return nil
	}

	summary := direct
	if len(summary) > aggregationContextCap {
		summary = summary[:aggregationContextCap]
	}
	prompt := fmt.Sprintf(
		"Answer the question using only the aggregated result below.\n\nQuestion: %s\n\nAggregated result: %s\n\nAnswer in one short sentence.",
		state.Query, summary,
	)
	result, err := s.generator.Generate(ctx, prompt, s.maxNewTokens)
	if err != nil || result.Text == "" {
		if err != nil {
			state.Meta.AddError("aggregation phrasing: %s", err)
		}
		state.Response = direct
		return nil
	}

	state.Response = result.Text
	state.Meta.GenModel = result.Model
	state.Meta.InputTokens = result.InputTokens
	state.Meta.GeneratedTokens = result.GeneratedTokens
	return nil
}

func curvesPerWellApplies(lowered string) bool {
	if strings.Contains(lowered, "curves per well") {
		return true
	}
	if !strings.Contains(lowered, "curve") || !strings.Contains(lowered, "well") {
		return false
	}
	return strings.Contains(lowered, "most") || strings.Contains(lowered, "fewest") ||
		strings.Contains(lowered, "least") || strings.Contains(lowered, "average") ||
		strings.Contains(lowered, "each well")
}

// entityLabel derives a human label from the active filter, falling
// back to the dominant entity type among the documents.
func entityLabel(filter map[string]any, docs []astra.Document) (singular, plural string) {
	labels := map[string][2]string{
		string(graph.NodeLASDocument):     {"well", "wells"},
		string(graph.NodeLASCurve):        {"curve", "curves"},
		string(graph.NodeUSGSSite):        {"USGS site", "USGS sites"},
		string(graph.NodeUSGSMeasurement): {"USGS measurement", "USGS measurements"},
		string(graph.NodeEIARecord):       {"EIA record", "EIA records"},
	}

	if filter != nil {
		if et, ok := filter[astra.FieldEntityType].(string); ok {
			if l, ok := labels[et]; ok {
				return l[0], l[1]
			}
		}
	}

	counts := make(map[string]int)
	for _, doc := range docs {
		counts[doc.EntityType()]++
	}
	best, bestCount := "", 0
	for et, c := range counts {
		if c > bestCount || (c == bestCount && et < best) {
			best, bestCount = et, c
		}
	}
	if l, ok := labels[best]; ok {
		return l[0], l[1]
	}
	return "record", "records"
}

// filterByQueryStates narrows documents to US states named in the
// query. Queries naming no state pass everything through.
func filterByQueryStates(lowered string, docs []astra.Document, state *workflow.State) []astra.Document {
	wanted := statesInQuery(lowered)
	if len(wanted) == 0 {
		return docs
	}

	var out []astra.Document
	for _, doc := range docs {
		st := strings.ToUpper(strings.TrimSpace(doc.GetString("state")))
		if st == "" {
			continue
		}
		if abbr, ok := stateAbbrs[strings.ToLower(st)]; ok {
			st = abbr
		}
		if wanted[st] {
			out = append(out, doc)
		}
	}
	state.Meta.AddDecision("state pre-filter %v kept %d of %d documents", sortedKeys(wanted), len(out), len(docs))
	return out
}

// statesInQuery finds full US state names in the query, keyed by
// abbreviation.
func statesInQuery(lowered string) map[string]bool {
	found := make(map[string]bool)
	for name, abbr := range stateAbbrs {
		if strings.Contains(lowered, name) {
			found[abbr] = true
		}
	}
	if len(found) == 0 {
		return nil
	}
	return found
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// aggregationValue is one extracted field value with its numeric
// coercion when the raw value parses as a number.
type aggregationValue struct {
	display   string
	number    float64
	isNumeric bool
}

func fieldValues(docs []astra.Document, field string) []aggregationValue {
	var out []aggregationValue
	for _, doc := range docs {
		raw, ok := doc[field]
		if !ok {
			continue
		}
		v := coerceValue(raw)
		if v.display == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func coerceValue(raw any) aggregationValue {
	switch n := raw.(type) {
	case float64:
		return aggregationValue{display: formatNumber(n), number: n, isNumeric: true}
	case int:
		return aggregationValue{display: strconv.Itoa(n), number: float64(n), isNumeric: true}
	case bool:
		return aggregationValue{display: strconv.FormatBool(n)}
	case string:
		trimmed := strings.TrimSpace(n)
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return aggregationValue{display: trimmed, number: f, isNumeric: true}
		}
		return aggregationValue{display: trimmed}
	default:
		return aggregationValue{}
	}
}

// compareValues orders two values numerically when both coerce, else
// lexicographically.
func compareValues(a, b aggregationValue) int {
	if a.isNumeric && b.isNumeric {
		switch {
		case a.number < b.number:
			return -1
		case a.number > b.number:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.display, b.display)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// aggregationFieldKeywords maps query phrasing to document fields, in
// match priority order.
var aggregationFieldKeywords = []struct {
	keyword string
	field   string
}{
	{"year", "year"},
	{"state", "state"},
	{"county", "county"},
	{"operator", "operator"},
	{"fuel", "fuel_type"},
	{"parameter", "parameter"},
	{"site", "site_name"},
	{"generation", "net_generation"},
	{"discharge", "discharge"},
	{"mnemonic", "mnemonic"},
	{"value", "value"},
}

func inferAggregationField(lowered string, docs []astra.Document) string {
	for _, k := range aggregationFieldKeywords {
		if strings.Contains(lowered, k.keyword) && fieldPresent(docs, k.field) {
			return k.field
		}
	}
	for _, candidate := range []string{"site_name", "well_name", "county", "state", "parameter", "fuel_type", "year", "value"} {
		if fieldPresent(docs, candidate) {
			return candidate
		}
	}
	return ""
}

// inferGroupField picks the grouping key for comparisons; "which state
// has the most sites" groups by state even though site is also named.
func inferGroupField(lowered string, docs []astra.Document) string {
	for _, k := range aggregationFieldKeywords {
		if k.field == "site_name" || k.field == "value" {
			continue
		}
		if strings.Contains(lowered, k.keyword) && fieldPresent(docs, k.field) {
			return k.field
		}
	}
	if fieldPresent(docs, "state") {
		return "state"
	}
	return inferAggregationField(lowered, docs)
}

func fieldPresent(docs []astra.Document, field string) bool {
	for _, doc := range docs {
		if _, ok := doc[field]; ok {
			return true
		}
	}
	return false
}
