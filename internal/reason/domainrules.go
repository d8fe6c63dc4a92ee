package reason

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/workflow"
)

// domainRule short-circuits a common petrophysics concept question
// with a hand-written factual answer.
type domainRule struct {
	name   string
	match  func(lowered string) bool
	answer string
}

var domainRules = []domainRule{
	{
		name: "nphi_purpose",
		match: func(q string) bool {
			return strings.Contains(q, "nphi") &&
				(strings.Contains(q, "what") || strings.Contains(q, "purpose") || strings.Contains(q, "measure") || strings.Contains(q, "mean"))
		},
		answer: "NPHI is the neutron porosity curve. It measures hydrogen density in the formation, which tracks fluid-filled pore space, and is read in porosity units (v/v or percent).",
	},
	{
		name: "gr_interpretation",
		match: func(q string) bool {
			if !strings.Contains(q, "gamma ray") && !strings.Contains(q, " gr ") && !strings.HasPrefix(q, "gr ") {
				return false
			}
			return strings.Contains(q, "high") || strings.Contains(q, "interpret") || strings.Contains(q, "indicate") || strings.Contains(q, "shale") || strings.Contains(q, "mean")
		},
		answer: "High gamma ray readings indicate shale-rich intervals, because clays concentrate naturally radioactive potassium, thorium and uranium. Clean sands and carbonates read low on the GR curve.",
	},
	{
		name: "rhob_purpose",
		match: func(q string) bool {
			return (strings.Contains(q, "rhob") || strings.Contains(q, "bulk density")) &&
				(strings.Contains(q, "what") || strings.Contains(q, "purpose") || strings.Contains(q, "measure") || strings.Contains(q, "mean"))
		},
		answer: "RHOB is the bulk density curve, measured in g/cm3. Combined with an assumed matrix density it yields density porosity, and against NPHI it helps separate lithology and fluid effects.",
	},
	{
		name: "neutron_density_crossover",
		match: func(q string) bool {
			return strings.Contains(q, "crossover") ||
				(strings.Contains(q, "neutron") && strings.Contains(q, "density") && strings.Contains(q, "gas"))
		},
		answer: "Neutron-density crossover occurs where the neutron porosity curve reads lower than density porosity on a compatible scale. It is the classic log signature of gas, since gas lowers hydrogen density without a matching bulk density increase.",
	},
	{
		name: "gas_identification",
		match: func(q string) bool {
			return strings.Contains(q, "gas-bearing") || strings.Contains(q, "gas bearing") ||
				strings.Contains(q, "identify gas") || strings.Contains(q, "gas zone")
		},
		answer: "Gas-bearing zones are identified by neutron-density crossover supported by elevated resistivity. Confirm with sonic slowing and mud-log gas shows where available.",
	},
	{
		name: "lithology_tools",
		match: func(q string) bool {
			return strings.Contains(q, "litholog") &&
				(strings.Contains(q, "which curve") || strings.Contains(q, "what curve") || strings.Contains(q, "determine") || strings.Contains(q, "interpret") || strings.Contains(q, "from"))
		},
		answer: "Lithology is interpreted primarily from the gamma ray (GR), photoelectric factor (PEF) and density (RHOB) curves, with neutron-density separation distinguishing sandstone, limestone and dolomite trends.",
	},
	{
		name: "porosity_definition",
		match: func(q string) bool {
			return strings.Contains(q, "porosity") &&
				(strings.Contains(q, "define") || strings.Contains(q, "definition") || strings.Contains(q, "what is"))
		},
		answer: "Porosity is the fraction of rock volume occupied by pore space, expressed in v/v or percent. On logs it is estimated from the neutron (NPHI), density (RHOB) and sonic curves.",
	},
}

// DomainRules answers common concept questions without retrieval. It
// stands aside for relationship queries so graph-derived answers win.
type DomainRules struct {
	rules  []domainRule
	logger *logrus.Logger
}

// NewDomainRules builds the strategy with the default rule set.
func NewDomainRules(logger *logrus.Logger) *DomainRules {
	if logger == nil {
		logger = logrus.New()
	}
	return &DomainRules{rules: domainRules, logger: logger}
}

func (s *DomainRules) Name() string { return "domain_rules" }

func (s *DomainRules) CanHandle(state *workflow.State) bool {
	if rel := state.Meta.Relationship; rel != nil && rel.Matched {
		return false
	}
	lowered := strings.ToLower(state.Query)
	for _, r := range s.rules {
		if r.match(lowered) {
			return true
		}
	}
	return false
}

func (s *DomainRules) Execute(ctx context.Context, state *workflow.State) error {
	lowered := strings.ToLower(state.Query)
	for _, r := range s.rules {
		if !r.match(lowered) {
			continue
		}
		state.Response = r.answer
		state.Meta.AddDecision("domain rule %s answered", r.name)
		ensureContext(state, "Answered from built-in petrophysics reference notes.")
		s.logger.WithField("rule", r.name).Debug("Domain rule matched")
		return nil
	}
	return ErrNotHandled
}
