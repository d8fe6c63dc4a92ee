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

// mnemonicPreference is the stable display order for common curves;
// anything not listed follows alphabetically.
var mnemonicPreference = []string{
	"DEPT", "DEPTH", "GR", "SGR", "NPHI", "RHOB", "DRHO", "PEF",
	"DTC", "DTS", "CALI", "BS", "RDEP", "RMED", "RSHA", "RXO", "RMIC", "SP",
}

// curveGroups buckets a well's mnemonics by measurement family.
type curveGroups struct {
	Depth       []string
	GammaRay    []string
	Resistivity []string
	Porosity    []string
	Density     []string
	Sonic       []string
	Caliper     []string
	Lithology   []string
}

// curveFacts is the immutable input every relationship handler works
// from: the well node, its curves, canonical mnemonic ordering, and the
// per-family groupings.
type curveFacts struct {
	WellID       string
	Well         *graph.Node
	Curves       []*graph.Node
	Mnemonics    []string
	Units        map[string]string
	Descriptions map[string]string
	Groups       curveGroups
	BasinHint    string
}

type relationshipHandler struct {
	name   string
	guard  func(lowered string, f *curveFacts) bool
	answer func(lowered string, f *curveFacts) (string, bool)
}

// RelationshipQuery answers well-centric structure questions from the
// graph through a first-match handler registry.
type RelationshipQuery struct {
	traverser *graph.Traverser
	handlers  []relationshipHandler
	logger    *logrus.Logger
}

// NewRelationshipQuery builds the strategy with the default registry.
func NewRelationshipQuery(traverser *graph.Traverser, logger *logrus.Logger) *RelationshipQuery {
	if logger == nil {
		logger = logrus.New()
	}
	return &RelationshipQuery{
		traverser: traverser,
		handlers:  defaultRelationshipHandlers(),
		logger:    logger,
	}
}

func (s *RelationshipQuery) Name() string { return "relationship_query" }

func (s *RelationshipQuery) CanHandle(state *workflow.State) bool {
	rel := state.Meta.Relationship
	if rel == nil || !rel.Matched {
		return false
	}
	switch rel.Type {
	case workflow.RelWellToCurves, workflow.RelCurveToDocument:
		return state.Meta.WellID != ""
	case workflow.RelCurveToWell:
		return len(rel.Mnemonics) > 0
	default:
		return false
	}
}

func (s *RelationshipQuery) Execute(ctx context.Context, state *workflow.State) error {
	rel := state.Meta.Relationship

	if rel.Type == workflow.RelCurveToWell && state.Meta.WellID == "" {
		return s.answerWellsWithMnemonic(state, rel.Mnemonics[0])
	}

	facts := s.buildCurveFacts(state.Meta.WellID)
	if facts.Well == nil {
		state.Response = fmt.Sprintf("Well %s was not found in the knowledge graph.", facts.WellID)
		state.Meta.AddDecision("relationship query for unknown well %s", facts.WellID)
		ensureContext(state, fmt.Sprintf("Graph lookup found no node for well %s.", facts.WellID))
		return nil
	}

	lowered := strings.ToLower(state.Query)
	for _, h := range s.handlers {
		if !h.guard(lowered, facts) {
			continue
		}
		answer, ok := h.answer(lowered, facts)
		if !ok {
			continue
		}
		state.Response = answer
		state.Meta.AddDecision("relationship handler %s answered for well %s", h.name, facts.WellID)
		ensureContext(state, fmt.Sprintf("Graph traversal: well %s with %d linked curves (%s).",
			facts.WellID, len(facts.Mnemonics), joinLimited(facts.Mnemonics, 10)))
		s.logger.WithFields(logrus.Fields{
			"well_id": facts.WellID,
			"handler": h.name,
		}).Debug("Relationship handler matched")
		return nil
	}

	// The listing handler accepts everything, so this is unreachable
	// unless the registry was replaced.
	return ErrNotHandled
}

func (s *RelationshipQuery) answerWellsWithMnemonic(state *workflow.State, mnemonic string) error {
	mnemonic = strings.ToUpper(mnemonic)
	wellIDs := s.traverser.GetWellsWithMnemonic(mnemonic)

	display := make([]string, 0, len(wellIDs))
	for _, id := range wellIDs {
		display = append(display, strings.TrimPrefix(id, graph.WellNodePrefix))
	}

	if len(display) == 0 {
		state.Response = fmt.Sprintf("No wells in the graph carry the %s curve.", mnemonic)
	} else {
		state.Response = fmt.Sprintf("%d wells carry %s: %s.", len(display), mnemonic, joinLimited(display, 10))
	}
	state.Meta.AddDecision("mnemonic %s found in %d wells", mnemonic, len(display))
	ensureContext(state, fmt.Sprintf("Graph index: mnemonic %s appears in %d wells.", mnemonic, len(display)))
	return nil
}

// buildCurveFacts precomputes everything the handlers consume.
func (s *RelationshipQuery) buildCurveFacts(wellID string) *curveFacts {
	facts := &curveFacts{
		WellID:       wellID,
		Well:         s.traverser.GetNode(graph.WellNodeID(wellID)),
		Units:        make(map[string]string),
		Descriptions: make(map[string]string),
	}
	if facts.Well == nil {
		return facts
	}

	facts.Curves = s.traverser.GetCurvesForWell(wellID)
	raw := make([]string, 0, len(facts.Curves))
	for _, c := range facts.Curves {
		m := c.Mnemonic()
		if m == "" {
			continue
		}
		raw = append(raw, m)
		if u := c.Unit(); u != "" {
			facts.Units[m] = u
		}
		if d := c.Description(); d != "" {
			facts.Descriptions[m] = d
		}
	}
	facts.Mnemonics = canonicalOrder(raw)
	for _, m := range facts.Mnemonics {
		classifyMnemonic(m, facts.Units[m], &facts.Groups)
	}
	if hint := facts.Well.Attr("basin"); !hint.IsAbsent() {
		facts.BasinHint = "basin " + hint.Display()
	} else if hint := facts.Well.Attributes.GetAny("field", "location", "country"); !hint.IsAbsent() {
		facts.BasinHint = hint.Display()
	}
	return facts
}

// canonicalOrder sorts mnemonics by the preference list, then
// alphabetically, dropping duplicates.
func canonicalOrder(mnemonics []string) []string {
	rank := make(map[string]int, len(mnemonicPreference))
	for i, m := range mnemonicPreference {
		rank[m] = i
	}

	seen := make(map[string]bool, len(mnemonics))
	out := make([]string, 0, len(mnemonics))
	for _, m := range mnemonics {
		upper := strings.ToUpper(m)
		if upper == "" || seen[upper] {
			continue
		}
		seen[upper] = true
		out = append(out, upper)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iOK := rank[out[i]]
		rj, jOK := rank[out[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}

var (
	depthMnemonics    = map[string]bool{"DEPT": true, "DEPTH": true, "TDEP": true, "MD": true, "TVD": true}
	gammaRayMnemonics = map[string]bool{"GR": true, "SGR": true, "CGR": true, "HGR": true}
	resistivityNames  = map[string]bool{"RDEP": true, "RMED": true, "RSHA": true, "RXO": true, "RMIC": true, "RT": true}
	densityMnemonics  = map[string]bool{"RHOB": true, "DRHO": true}
	sonicMnemonics    = map[string]bool{"DTC": true, "DTS": true, "DT": true, "AC": true}
	caliperMnemonics  = map[string]bool{"CALI": true, "DCAL": true, "HCAL": true}
)

func classifyMnemonic(m, unit string, g *curveGroups) {
	lowerUnit := strings.ToLower(unit)
	switch {
	case depthMnemonics[m]:
		g.Depth = append(g.Depth, m)
	case gammaRayMnemonics[m]:
		g.GammaRay = append(g.GammaRay, m)
	case resistivityNames[m] || strings.Contains(lowerUnit, "ohm"):
		g.Resistivity = append(g.Resistivity, m)
	case strings.Contains(m, "PHI"):
		g.Porosity = append(g.Porosity, m)
	case densityMnemonics[m] || lowerUnit == "g/cm3":
		g.Density = append(g.Density, m)
	case sonicMnemonics[m] || lowerUnit == "us/ft" || lowerUnit == "us/m":
		g.Sonic = append(g.Sonic, m)
	case caliperMnemonics[m]:
		g.Caliper = append(g.Caliper, m)
	case strings.Contains(m, "LITH") || strings.Contains(m, "FACIES"):
		g.Lithology = append(g.Lithology, m)
	}
}

var unitNeedlePattern = regexp.MustCompile(`units?\s+(?:of|in)\s+"?([\w./%-]+)"?`)

func defaultRelationshipHandlers() []relationshipHandler {
	return []relationshipHandler{
		{
			name: "depth_curves",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "depth") && strings.Contains(q, "curve")
			},
			answer: answerDepthCurves,
		},
		{
			name: "porosity_curves",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "porosity")
			},
			answer: answerPorosityCurves,
		},
		{
			name: "resistivity_curves",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "resistivity")
			},
			answer: answerResistivityCurves,
		},
		{
			name: "unit_filter",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "unit") && unitNeedlePattern.MatchString(q)
			},
			answer: answerUnitFilter,
		},
		{
			name: "triple_combo",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "triple combo") || strings.Contains(q, "triple-combo")
			},
			answer: answerTripleCombo,
		},
		{
			name: "underscore_count",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "underscore")
			},
			answer: answerUnderscoreCount,
		},
		{
			name: "log_suite",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "log suite") || strings.Contains(q, "logging suite") || strings.Contains(q, "suite of logs")
			},
			answer: answerLogSuite,
		},
		{
			name: "hydrocarbon_guidance",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "hydrocarbon") || strings.Contains(q, "pay zone")
			},
			answer: answerHydrocarbon,
		},
		{
			name: "petrophysical_evaluation",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "petrophysic")
			},
			answer: answerPetrophysicalEvaluation,
		},
		{
			name: "capability_matrix",
			guard: func(q string, _ *curveFacts) bool {
				if strings.Contains(q, "possible") && strings.Contains(q, "impossible") {
					return true
				}
				return strings.Contains(q, "can and cannot") || strings.Contains(q, "capabilit")
			},
			answer: answerCapabilityMatrix,
		},
		{
			name: "geological_setting",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "geolog") || strings.Contains(q, "basin")
			},
			answer: answerGeologicalSetting,
		},
		{
			name: "lithology_curves",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "litholog") || strings.Contains(q, "facies")
			},
			answer: answerLithologyCurves,
		},
		{
			name: "gamma_ray_curves",
			guard: func(q string, _ *curveFacts) bool {
				return strings.Contains(q, "gamma")
			},
			answer: answerGammaRay,
		},
		{
			name: "mnemonic_meaning",
			guard: func(q string, f *curveFacts) bool {
				if !strings.Contains(q, "mean") && !strings.Contains(q, "stand for") && !strings.Contains(q, "describe") && !strings.Contains(q, "what is") {
					return false
				}
				return len(mentionedMnemonics(q, f)) > 0
			},
			answer: answerMnemonicMeaning,
		},
		{
			name:   "curve_listing",
			guard:  func(_ string, _ *curveFacts) bool { return true },
			answer: answerCurveListing,
		},
	}
}

func answerDepthCurves(_ string, f *curveFacts) (string, bool) {
	if len(f.Groups.Depth) == 0 {
		return fmt.Sprintf("Well %s has no dedicated depth curve in the graph.", f.WellID), true
	}
	return fmt.Sprintf("Well %s has %d depth curve%s: %s. Depth is the reference index the other curves are sampled against.",
		f.WellID, len(f.Groups.Depth), pluralSuffix(len(f.Groups.Depth)), strings.Join(f.Groups.Depth, ", ")), true
}

func answerPorosityCurves(_ string, f *curveFacts) (string, bool) {
	if len(f.Groups.Porosity) == 0 && len(f.Groups.Density) == 0 {
		return fmt.Sprintf("Well %s has no porosity curves; porosity would need to be derived from other measurements.", f.WellID), true
	}
	var parts []string
	if len(f.Groups.Porosity) > 0 {
		parts = append(parts, fmt.Sprintf("neutron porosity from %s", strings.Join(f.Groups.Porosity, ", ")))
	}
	if len(f.Groups.Density) > 0 {
		parts = append(parts, fmt.Sprintf("density porosity from %s", strings.Join(f.Groups.Density, ", ")))
	}
	return fmt.Sprintf("Porosity for well %s can be read as %s.", f.WellID, strings.Join(parts, " and ")), true
}

func answerResistivityCurves(q string, f *curveFacts) (string, bool) {
	res := f.Groups.Resistivity
	if len(res) == 0 {
		return fmt.Sprintf("Well %s has no resistivity curves.", f.WellID), true
	}
	wantsShare := strings.Contains(q, "percent") || strings.Contains(q, "share") || strings.Contains(q, "fraction") || strings.Contains(q, "proportion")
	if wantsShare && len(f.Mnemonics) > 0 {
		pct := 100 * float64(len(res)) / float64(len(f.Mnemonics))
		return fmt.Sprintf("Resistivity curves make up %.0f%% of the %d curves for well %s: %s.",
			pct, len(f.Mnemonics), f.WellID, strings.Join(res, ", ")), true
	}
	return fmt.Sprintf("Well %s has %d resistivity curve%s: %s.",
		f.WellID, len(res), pluralSuffix(len(res)), strings.Join(res, ", ")), true
}

func answerUnitFilter(q string, f *curveFacts) (string, bool) {
	m := unitNeedlePattern.FindStringSubmatch(q)
	if m == nil {
		return "", false
	}
	needle := strings.TrimRight(m[1], ".,?!")

	var matched []string
	for _, mn := range f.Mnemonics {
		if strings.EqualFold(f.Units[mn], needle) {
			matched = append(matched, mn)
		}
	}
	if len(matched) == 0 {
		return fmt.Sprintf("No curves with units of %s were recorded for well %s.", needle, f.WellID), true
	}
	return fmt.Sprintf("Curves with units of %s for well %s: %s.", needle, f.WellID, strings.Join(matched, ", ")), true
}

func answerTripleCombo(_ string, f *curveFacts) (string, bool) {
	combo := make(map[string]bool)
	for _, set := range [][]string{f.Groups.GammaRay, f.Groups.Resistivity, f.Groups.Porosity, f.Groups.Density, f.Groups.Caliper, f.Groups.Depth} {
		for _, m := range set {
			combo[m] = true
		}
	}
	var beyond []string
	for _, m := range f.Mnemonics {
		if !combo[m] {
			beyond = append(beyond, m)
		}
	}
	if len(beyond) == 0 {
		return fmt.Sprintf("Well %s carries only the standard triple-combo measurements (gamma ray, resistivity, density-neutron).", f.WellID), true
	}
	return fmt.Sprintf("Beyond the standard triple combo, well %s carries %d additional curve%s: %s.",
		f.WellID, len(beyond), pluralSuffix(len(beyond)), joinLimited(beyond, 10)), true
}

func answerUnderscoreCount(_ string, f *curveFacts) (string, bool) {
	var underscored []string
	for _, m := range f.Mnemonics {
		if strings.Contains(m, "_") {
			underscored = append(underscored, m)
		}
	}
	if len(underscored) == 0 {
		return fmt.Sprintf("None of the %d curve mnemonics for well %s contain an underscore.", len(f.Mnemonics), f.WellID), true
	}
	return fmt.Sprintf("%d of the %d curve mnemonics for well %s contain an underscore: %s.",
		len(underscored), len(f.Mnemonics), f.WellID, strings.Join(underscored, ", ")), true
}

func answerLogSuite(_ string, f *curveFacts) (string, bool) {
	var present []string
	describe := func(label string, group []string) {
		if len(group) > 0 {
			present = append(present, fmt.Sprintf("%s (%s)", label, strings.Join(group, ", ")))
		}
	}
	describe("gamma ray", f.Groups.GammaRay)
	describe("resistivity", f.Groups.Resistivity)
	describe("neutron porosity", f.Groups.Porosity)
	describe("density", f.Groups.Density)
	describe("sonic", f.Groups.Sonic)
	describe("caliper", f.Groups.Caliper)

	core := len(f.Groups.GammaRay) > 0 && len(f.Groups.Resistivity) > 0 &&
		(len(f.Groups.Porosity) > 0 || len(f.Groups.Density) > 0)
	label := "a partial logging suite"
	if core {
		label = "a standard triple-combo suite"
		if len(f.Groups.Sonic) > 0 || len(f.Groups.Lithology) > 0 {
			label = "an extended logging suite"
		}
	}
	if len(present) == 0 {
		return fmt.Sprintf("Well %s has no recognizable logging suite among its %d curves.", f.WellID, len(f.Mnemonics)), true
	}
	return fmt.Sprintf("Well %s carries %s: %s.", f.WellID, label, strings.Join(present, "; ")), true
}

func answerHydrocarbon(_ string, f *curveFacts) (string, bool) {
	if len(f.Groups.Resistivity) == 0 {
		return fmt.Sprintf("Well %s lacks resistivity curves, so hydrocarbon identification from these logs alone would be unreliable. Available curves: %s.",
			f.WellID, joinLimited(f.Mnemonics, 8)), true
	}
	porosity := append(append([]string{}, f.Groups.Porosity...), f.Groups.Density...)
	if len(porosity) == 0 {
		return fmt.Sprintf("Well %s has resistivity coverage (%s) but no porosity curves; resistivity highs alone are only a weak hydrocarbon indicator.",
			f.WellID, strings.Join(f.Groups.Resistivity, ", ")), true
	}
	return fmt.Sprintf("To identify hydrocarbons in well %s, compare the resistivity curves (%s) against porosity from %s; elevated resistivity across porous intervals flags potential pay.",
		f.WellID, strings.Join(f.Groups.Resistivity, ", "), strings.Join(porosity, ", ")), true
}

func answerPetrophysicalEvaluation(_ string, f *curveFacts) (string, bool) {
	var capabilities []string
	if len(f.Groups.GammaRay) > 0 {
		capabilities = append(capabilities, fmt.Sprintf("shale volume from gamma ray (%s)", strings.Join(f.Groups.GammaRay, ", ")))
	}
	if len(f.Groups.Porosity) > 0 || len(f.Groups.Density) > 0 {
		porosity := append(append([]string{}, f.Groups.Porosity...), f.Groups.Density...)
		capabilities = append(capabilities, fmt.Sprintf("porosity from %s", strings.Join(porosity, ", ")))
	}
	if len(f.Groups.Resistivity) > 0 {
		capabilities = append(capabilities, fmt.Sprintf("water saturation from resistivity (%s)", strings.Join(f.Groups.Resistivity, ", ")))
	}
	if len(f.Groups.Sonic) > 0 {
		capabilities = append(capabilities, fmt.Sprintf("acoustic properties from sonic (%s)", strings.Join(f.Groups.Sonic, ", ")))
	}
	if len(capabilities) == 0 {
		return fmt.Sprintf("The %d curves for well %s do not support a quantitative petrophysical evaluation.", len(f.Mnemonics), f.WellID), true
	}
	return fmt.Sprintf("A petrophysical evaluation of well %s can cover %s.", f.WellID, strings.Join(capabilities, "; ")), true
}

func answerCapabilityMatrix(_ string, f *curveFacts) (string, bool) {
	var possible, missing []string
	record := func(label string, group []string) {
		if len(group) > 0 {
			possible = append(possible, fmt.Sprintf("%s (%s)", label, strings.Join(group, ", ")))
		} else {
			missing = append(missing, label)
		}
	}
	record("shale volume estimation", f.Groups.GammaRay)
	record("saturation analysis", f.Groups.Resistivity)
	record("porosity estimation", append(append([]string{}, f.Groups.Porosity...), f.Groups.Density...))
	record("velocity modeling", f.Groups.Sonic)
	record("borehole quality control", f.Groups.Caliper)
	missing = append(missing, "permeability measurement (requires core or NMR data)")

	answer := fmt.Sprintf("Possible for well %s: %s.", f.WellID, strings.Join(possible, "; "))
	if len(possible) == 0 {
		answer = fmt.Sprintf("The curves recorded for well %s support no standard analyses.", f.WellID)
	}
	return fmt.Sprintf("%s Not possible: %s.", answer, strings.Join(missing, "; ")), true
}

func answerGeologicalSetting(_ string, f *curveFacts) (string, bool) {
	if f.BasinHint != "" {
		return fmt.Sprintf("Well %s is recorded with %s.", f.WellID, f.BasinHint), true
	}
	return fmt.Sprintf("The graph records no basin or field attributes for well %s; its identifier follows the FORCE 2020 Norwegian well-log release.", f.WellID), true
}

func answerLithologyCurves(_ string, f *curveFacts) (string, bool) {
	if len(f.Groups.Lithology) > 0 {
		return fmt.Sprintf("Well %s includes %d lithology curve%s: %s.",
			f.WellID, len(f.Groups.Lithology), pluralSuffix(len(f.Groups.Lithology)), strings.Join(f.Groups.Lithology, ", ")), true
	}
	var interpreters []string
	interpreters = append(interpreters, f.Groups.GammaRay...)
	interpreters = append(interpreters, f.Groups.Density...)
	if len(interpreters) == 0 {
		return fmt.Sprintf("Well %s has no lithology curves and no gamma ray or density curves to interpret lithology from.", f.WellID), true
	}
	return fmt.Sprintf("Well %s has no dedicated lithology curve; lithology is usually interpreted from %s.",
		f.WellID, strings.Join(interpreters, ", ")), true
}

func answerGammaRay(_ string, f *curveFacts) (string, bool) {
	if len(f.Groups.GammaRay) == 0 {
		return fmt.Sprintf("Well %s has no gamma ray curve.", f.WellID), true
	}
	parts := make([]string, 0, len(f.Groups.GammaRay))
	for _, m := range f.Groups.GammaRay {
		if u := f.Units[m]; u != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", m, u))
		} else {
			parts = append(parts, m)
		}
	}
	return fmt.Sprintf("Well %s has gamma ray coverage: %s.", f.WellID, strings.Join(parts, ", ")), true
}

func answerMnemonicMeaning(q string, f *curveFacts) (string, bool) {
	var parts []string
	for _, m := range mentionedMnemonics(q, f) {
		desc := f.Descriptions[m]
		if desc == "" {
			continue
		}
		if u := f.Units[m]; u != "" {
			parts = append(parts, fmt.Sprintf("%s: %s (%s)", m, desc, u))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", m, desc))
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "; ") + ".", true
}

func answerCurveListing(_ string, f *curveFacts) (string, bool) {
	n := len(f.Mnemonics)
	switch {
	case n == 0:
		return fmt.Sprintf("No curves are linked to well %s in the graph.", f.WellID), true
	case n > 5:
		return fmt.Sprintf("%d curves including: %s and others.", n, strings.Join(f.Mnemonics[:5], ", ")), true
	default:
		return fmt.Sprintf("%d curves: %s.", n, strings.Join(f.Mnemonics, ", ")), true
	}
}

var queryWordPattern = regexp.MustCompile(`[\w.$-]+`)

// mentionedMnemonics returns the well's mnemonics that appear as words
// in the query, in canonical order.
func mentionedMnemonics(lowered string, f *curveFacts) []string {
	words := make(map[string]bool)
	for _, w := range queryWordPattern.FindAllString(lowered, -1) {
		words[w] = true
	}
	var out []string
	for _, m := range f.Mnemonics {
		if words[strings.ToLower(m)] {
			out = append(out, m)
		}
	}
	return out
}

func joinLimited(items []string, max int) string {
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s, and %d more", strings.Join(items[:max], ", "), len(items)-max)
}

func pluralSuffix(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
