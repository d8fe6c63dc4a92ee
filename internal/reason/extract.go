package reason

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

// stateNames maps USPS abbreviations to full state names for the
// "ABBR (Full Name)" normalization.
var stateNames = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming", "DC": "District of Columbia",
}

// stateAbbrs is the reverse lookup, keyed by lowercased full name.
var stateAbbrs = func() map[string]string {
	m := make(map[string]string, len(stateNames))
	for abbr, name := range stateNames {
		m[strings.ToLower(name)] = abbr
	}
	return m
}()

var (
	yearPattern         = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	locationLinePattern = regexp.MustCompile(`(?i)location:?\s*([^,\n]+),\s*([A-Za-z][A-Za-z .]*)`)
)

// normalizeState turns a state token (abbreviation or full name) into
// "ABBR (Full Name)", empty when the token is not a US state.
func normalizeState(token string) string {
	token = strings.TrimSpace(strings.Trim(token, ".,?!"))
	if token == "" {
		return ""
	}
	upper := strings.ToUpper(token)
	if name, ok := stateNames[upper]; ok {
		return fmt.Sprintf("%s (%s)", upper, name)
	}
	if abbr, ok := stateAbbrs[strings.ToLower(token)]; ok {
		return fmt.Sprintf("%s (%s)", abbr, stateNames[abbr])
	}
	return ""
}

type subExtractor struct {
	name    string
	applies func(lowered string, state *workflow.State) bool
	extract func(lowered string, state *workflow.State) (string, bool)
}

// StructuredExtraction answers attribute-lookup questions by pulling
// values straight out of retrieved documents or the graph. Seven
// sub-extractors run in order; if none yields a value the strategy
// declines and the chain continues.
type StructuredExtraction struct {
	traverser  *graph.Traverser
	extractors []subExtractor
	logger     *logrus.Logger
}

// NewStructuredExtraction builds the strategy.
func NewStructuredExtraction(traverser *graph.Traverser, logger *logrus.Logger) *StructuredExtraction {
	if logger == nil {
		logger = logrus.New()
	}
	s := &StructuredExtraction{traverser: traverser, logger: logger}
	s.extractors = []subExtractor{
		{name: "unit_mnemonics", applies: s.unitApplies, extract: s.extractUnitMnemonics},
		{name: "temporal", applies: temporalApplies, extract: extractTemporal},
		{name: "state", applies: stateApplies, extract: extractState},
		{name: "location", applies: locationApplies, extract: extractLocation},
		{name: "well_name", applies: wellNameApplies, extract: s.extractWellName},
		{name: "mnemonic_descriptions", applies: mnemonicApplies, extract: s.extractMnemonicDescriptions},
		{name: "generic_attribute", applies: genericApplies, extract: extractGeneric},
	}
	return s
}

func (s *StructuredExtraction) Name() string { return "structured_extraction" }

func (s *StructuredExtraction) CanHandle(state *workflow.State) bool {
	// Aggregate questions belong to the aggregation strategy even when
	// an attribute keyword appears.
	if state.Meta.Aggregation != workflow.AggregationNone {
		return false
	}
	lowered := strings.ToLower(state.Query)
	for _, e := range s.extractors {
		if e.applies(lowered, state) {
			return true
		}
	}
	return false
}

func (s *StructuredExtraction) Execute(ctx context.Context, state *workflow.State) error {
	lowered := strings.ToLower(state.Query)
	for _, e := range s.extractors {
		if !e.applies(lowered, state) {
			continue
		}
		answer, ok := e.extract(lowered, state)
		if !ok {
			continue
		}
		state.Response = answer
		state.Meta.AddDecision("extractor %s answered", e.name)
		ensureContext(state, fmt.Sprintf("Structured extraction (%s) answered without document context.", e.name))
		s.logger.WithField("extractor", e.name).Debug("Extraction answered")
		return nil
	}
	return ErrNotHandled
}

// a. unit-filtered mnemonics.

func (s *StructuredExtraction) unitApplies(lowered string, _ *workflow.State) bool {
	return strings.Contains(lowered, "unit") && unitNeedlePattern.MatchString(lowered)
}

func (s *StructuredExtraction) extractUnitMnemonics(lowered string, state *workflow.State) (string, bool) {
	m := unitNeedlePattern.FindStringSubmatch(lowered)
	if m == nil || s.traverser == nil {
		return "", false
	}
	needle := strings.TrimRight(m[1], ".,?!")

	curves := s.traverser.CurvesWithUnit(needle)
	if state.Meta.WellID != "" {
		wellNode := s.traverser.GetNode(graph.WellNodeID(state.Meta.WellID))
		var scoped []*graph.Node
		for _, c := range curves {
			if w := s.traverser.GetWellForCurve(c.ID); w != nil && wellNode != nil && w.ID == wellNode.ID {
				scoped = append(scoped, c)
			}
		}
		curves = scoped
	}

	raw := make([]string, 0, len(curves))
	for _, c := range curves {
		if mn := c.Mnemonic(); mn != "" {
			raw = append(raw, mn)
		}
	}
	mnemonics := canonicalOrder(raw)
	if len(mnemonics) == 0 {
		return fmt.Sprintf("No curves with units of %s were found.", needle), true
	}
	return strings.Join(mnemonics, ", "), true
}

// b. temporal.

func temporalApplies(lowered string, state *workflow.State) bool {
	if len(state.Meta.Documents) == 0 {
		return false
	}
	return strings.Contains(lowered, "year") || strings.Contains(lowered, "when ") ||
		strings.Contains(lowered, " date") || strings.Contains(lowered, "period")
}

func extractTemporal(lowered string, state *workflow.State) (string, bool) {
	seen := make(map[string]bool)
	var years []string
	record := func(text string) {
		for _, y := range yearPattern.FindAllString(text, -1) {
			if !seen[y] {
				seen[y] = true
				years = append(years, y)
			}
		}
	}
	for _, doc := range state.Meta.Documents {
		if y := doc.GetString("year"); y != "" {
			record(y)
		}
		if d := doc.GetString("date"); d != "" {
			record(d)
		}
		record(doc.ContextText())
	}
	if len(years) == 0 {
		return "", false
	}
	sort.Strings(years)

	switch {
	case strings.Contains(lowered, "latest") || strings.Contains(lowered, "most recent"):
		return years[len(years)-1], true
	case strings.Contains(lowered, "earliest") || strings.Contains(lowered, "first"):
		return years[0], true
	case len(years) == 1:
		return fmt.Sprintf("The data is from %s.", years[0]), true
	default:
		return fmt.Sprintf("The data covers %s to %s.", years[0], years[len(years)-1]), true
	}
}

// c. state.

func stateApplies(lowered string, state *workflow.State) bool {
	return strings.Contains(lowered, "state") && len(state.Meta.Documents) > 0
}

func extractState(_ string, state *workflow.State) (string, bool) {
	counts := make(map[string]int)
	order := []string{}
	record := func(normalized string) {
		if normalized == "" {
			return
		}
		if counts[normalized] == 0 {
			order = append(order, normalized)
		}
		counts[normalized]++
	}

	for _, doc := range state.Meta.Documents {
		if st := doc.GetString("state"); st != "" {
			record(normalizeState(st))
			continue
		}
		if m := locationLinePattern.FindStringSubmatch(doc.ContextText()); m != nil {
			record(normalizeState(m[2]))
		}
	}
	if len(order) == 0 {
		return "", false
	}

	best := order[0]
	for _, s := range order[1:] {
		if counts[s] > counts[best] {
			best = s
		}
	}
	return best, true
}

// d. location.

func locationApplies(lowered string, state *workflow.State) bool {
	if len(state.Meta.Documents) == 0 {
		return false
	}
	return strings.Contains(lowered, "where is") || strings.Contains(lowered, "where are") ||
		strings.Contains(lowered, "located") || strings.Contains(lowered, "location of")
}

func extractLocation(_ string, state *workflow.State) (string, bool) {
	for _, doc := range state.Meta.Documents {
		city := doc.GetString("city")
		st := doc.GetString("state")
		if city == "" || st == "" {
			if m := locationLinePattern.FindStringSubmatch(doc.ContextText()); m != nil {
				if city == "" {
					city = strings.TrimSpace(m[1])
				}
				if st == "" {
					st = strings.TrimSpace(m[2])
				}
			}
		}
		if city != "" && st != "" {
			if normalized := normalizeState(st); normalized != "" {
				st = normalized
			}
			return fmt.Sprintf("%s, %s", city, st), true
		}
	}
	return "", false
}

// e. well name.

func wellNameApplies(lowered string, state *workflow.State) bool {
	if !strings.Contains(lowered, "name") || !strings.Contains(lowered, "well") {
		return false
	}
	return state.Meta.WellID != "" || len(state.Meta.Documents) > 0
}

func (s *StructuredExtraction) extractWellName(_ string, state *workflow.State) (string, bool) {
	if state.Meta.WellID != "" && s.traverser != nil {
		if node := s.traverser.GetNode(graph.WellNodeID(state.Meta.WellID)); node != nil {
			if name, ok := node.Attributes.GetAny("well_name", "well", "name").AsString(); ok && name != "" {
				return fmt.Sprintf("Well %s is named %s.", state.Meta.WellID, name), true
			}
		}
	}
	for _, doc := range state.Meta.Documents {
		if name := doc.GetString("well_name"); name != "" {
			return fmt.Sprintf("The well is named %s.", name), true
		}
	}
	return "", false
}

// f. mnemonic + description.

func mnemonicApplies(lowered string, state *workflow.State) bool {
	if !strings.Contains(lowered, "mnemonic") && !strings.Contains(lowered, "description") {
		return false
	}
	return state.Meta.WellID != "" || len(state.Meta.Documents) > 0
}

func (s *StructuredExtraction) extractMnemonicDescriptions(_ string, state *workflow.State) (string, bool) {
	type entry struct{ mnemonic, description string }
	var entries []entry
	seen := make(map[string]bool)
	add := func(mnemonic, description string) {
		mnemonic = strings.ToUpper(strings.TrimSpace(mnemonic))
		if mnemonic == "" || seen[mnemonic] {
			return
		}
		seen[mnemonic] = true
		entries = append(entries, entry{mnemonic, strings.TrimSpace(description)})
	}

	for _, doc := range state.Meta.Documents {
		if doc.EntityType() != string(graph.NodeLASCurve) {
			continue
		}
		add(doc.GetString("mnemonic"), doc.GetString("description"))
	}
	if len(entries) == 0 && state.Meta.WellID != "" && s.traverser != nil {
		for _, c := range s.traverser.GetCurvesForWell(state.Meta.WellID) {
			add(c.Mnemonic(), c.Description())
		}
	}
	if len(entries) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.description != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", e.mnemonic, e.description))
		} else {
			parts = append(parts, e.mnemonic)
		}
	}
	return strings.Join(parts, ", "), true
}

// g. generic attribute lookup.

var genericAttrKeywords = []struct {
	keyword string
	field   string
	label   string
}{
	{"county", "county", "county"},
	{"operator", "operator", "operator"},
	{"operated by", "operator", "operator"},
	{"api number", "api_number", "API number"},
	{"site code", "site_code", "site code"},
	{"site number", "site_code", "site code"},
	{"site name", "site_name", "site name"},
	{"name of the site", "site_name", "site name"},
	{"parameter", "parameter", "parameter"},
	{"fuel", "fuel_type", "fuel type"},
}

func genericApplies(lowered string, state *workflow.State) bool {
	if len(state.Meta.Documents) == 0 {
		return false
	}
	for _, g := range genericAttrKeywords {
		if strings.Contains(lowered, g.keyword) {
			return true
		}
	}
	return false
}

func extractGeneric(lowered string, state *workflow.State) (string, bool) {
	field, label := "", ""
	for _, g := range genericAttrKeywords {
		if strings.Contains(lowered, g.keyword) {
			field, label = g.field, g.label
			break
		}
	}
	if field == "" {
		return "", false
	}

	seen := make(map[string]bool)
	var values []string
	for _, doc := range state.Meta.Documents {
		v := doc.GetString(field)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}

	switch {
	case len(values) == 0:
		return "", false
	case len(values) == 1:
		return fmt.Sprintf("The %s is %s.", label, values[0]), true
	case len(values) <= 5:
		return strings.Join(values, ", "), true
	default:
		return fmt.Sprintf("%d different values found: %s", len(values), strings.Join(values[:5], ", ")), true
	}
}
