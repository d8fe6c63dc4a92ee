package pipeline

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

//go:embed detector.yaml
var detectorYAML []byte

type aggregationRule struct {
	Type      string   `yaml:"type"`
	Phrases   []string `yaml:"phrases"`
	Predicate string   `yaml:"predicate"`
}

type entityFilterRule struct {
	EntityType string   `yaml:"entity_type"`
	Keywords   []string `yaml:"keywords"`
}

type detectorTables struct {
	Aggregations  []aggregationRule  `yaml:"aggregations"`
	EntityFilters []entityFilterRule `yaml:"entity_filters"`
}

// predicates are the code-level matchers referenced from detector.yaml.
var predicates = map[string]func(string) bool{
	"comparison": func(q string) bool {
		if !strings.Contains(q, "which") && !strings.Contains(q, "compare") && !strings.Contains(q, "what") {
			return false
		}
		for _, marker := range []string{"most", "more", "fewer", "fewest", "least", "versus", " vs "} {
			if strings.Contains(q, marker) {
				return true
			}
		}
		return false
	},
	"range": func(q string) bool {
		for _, marker := range []string{"range of", "how many years", "span of", "over what period", "what period", "time span"} {
			if strings.Contains(q, marker) {
				return true
			}
		}
		return false
	},
}

// Relationship patterns, evaluated per family in declaration order.
var (
	wellToCurvesPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:what|which|list|show|name|how many)\b.*?\b(?:curves?|logs?)\b.*?\b(?:for|of|in|from|does|do|available)\b.*?\bwell\b`),
		regexp.MustCompile(`(?i)\b(?:curves?|logs?)\b.*?\bavailable\b.*?\bwell\b`),
		regexp.MustCompile(`(?i)\bwell\b.*?\b(?:have|has|contain|contains)\b.*?\b(?:curves?|logs?)\b`),
	}
	curveToWellPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:which|what)\b.*?\bwells?\b.*?\b(?:have|has|contain|contains|with|include|includes|carry)\b`),
		regexp.MustCompile(`(?i)\bwells?\b\s+with\b.*?\b(?:curve|mnemonic|log)`),
	}
	siteToMeasurementsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:what|which|list|show|how many)\b.*?\bmeasurements?\b.*?\b(?:for|at|from|near)\b.*?\bsite\b`),
		regexp.MustCompile(`(?i)\bsite\b.*?\b(?:have|has|report|reports)\b.*?\bmeasurements?\b`),
	}
	measurementToSitePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:which|what)\b.*?\bsite\b.*?\b(?:measurement|reading|value)`),
		regexp.MustCompile(`(?i)\bmeasurements?\b.*?\b(?:report|belong|come)s?\b.*?\b(?:on|to|from)\b.*?\bsite\b`),
	}
	curveToDocumentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:which|what)\b.*?\b(?:documents?|files?|las)\b.*?\bcurves?\b`),
		regexp.MustCompile(`(?i)\bcurves?\b.*?\b(?:documents?|files?|recorded in)\b`),
	}

	wellIDPattern   = regexp.MustCompile(`\b\d{1,2}[/_]\d{1,2}-\d{1,2}[A-Za-z]?\b`)
	siteCodePattern = regexp.MustCompile(`\b\d{8}\b`)
	tokenPattern    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// relationship keyword vocabulary; one hit adds confidence.
var relationshipKeywords = []string{
	"curve", "curves", "mnemonic", "mnemonics", "log", "logs",
	"well", "wells", "site", "sites", "measurement", "measurements",
}

// Detector classifies queries: aggregation type, relationship shape,
// entities mentioned, and an automatic entity-type filter.
type Detector struct {
	tables detectorTables
}

// NewDetector parses the embedded classification tables.
func NewDetector() (*Detector, error) {
	var tables detectorTables
	if err := yaml.Unmarshal(detectorYAML, &tables); err != nil {
		return nil, fmt.Errorf("parsing detector tables: %w", err)
	}
	for _, rule := range tables.Aggregations {
		if rule.Predicate != "" {
			if _, ok := predicates[rule.Predicate]; !ok {
				return nil, fmt.Errorf("detector rule %q names unknown predicate %q", rule.Type, rule.Predicate)
			}
		}
	}
	return &Detector{tables: tables}, nil
}

// DetectAggregation classifies the lowercased query against the rule
// table, first match wins.
func (d *Detector) DetectAggregation(lowered string) workflow.AggregationType {
	for _, rule := range d.tables.Aggregations {
		if rule.Predicate != "" {
			if predicates[rule.Predicate](lowered) {
				return workflow.AggregationType(rule.Type)
			}
			continue
		}
		for _, phrase := range rule.Phrases {
			if strings.Contains(lowered, phrase) {
				return workflow.AggregationType(rule.Type)
			}
		}
	}
	return workflow.AggregationNone
}

// AutoFilter maps query keywords to an entity type for the vector store
// filter, empty when nothing matches.
func (d *Detector) AutoFilter(lowered string) string {
	for _, rule := range d.tables.EntityFilters {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, kw) {
				return rule.EntityType
			}
		}
	}
	return ""
}

// ExtractWellIDs returns the normalized well identifiers mentioned in
// the query, in order of appearance.
func ExtractWellIDs(query string) []string {
	matches := wellIDPattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		id := graph.NormalizeWellID(m)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ExtractSiteCodes returns the eight-digit site codes mentioned in the
// query.
func ExtractSiteCodes(query string) []string {
	matches := siteCodePattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ExtractMnemonics matches query tokens against the curve mnemonic
// catalog. Upper-case tokens match directly; lower-case tokens only
// when three or more characters, which keeps short words like "in"
// from colliding with mnemonics.
func ExtractMnemonics(query string, catalog map[string]bool) []string {
	if len(catalog) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenPattern.FindAllString(query, -1) {
		upper := strings.ToUpper(tok)
		if !catalog[upper] || seen[upper] {
			continue
		}
		if tok != upper && len(tok) < 3 {
			continue
		}
		seen[upper] = true
		out = append(out, upper)
	}
	return out
}

var relationshipFamilies = []struct {
	relType  workflow.RelationshipType
	patterns []*regexp.Regexp
}{
	{workflow.RelWellToCurves, wellToCurvesPatterns},
	{workflow.RelCurveToWell, curveToWellPatterns},
	{workflow.RelSiteToMeasurement, siteToMeasurementsPatterns},
	{workflow.RelMeasurementToSite, measurementToSitePatterns},
	{workflow.RelCurveToDocument, curveToDocumentPatterns},
}

// DetectRelationship scores the query against the relationship pattern
// families. Confidence is additive: 0.6 for a pattern match, 0.2 for a
// relationship keyword, 0.1 per entity kind mentioned capped at 0.2,
// and 0.1 when both a pattern and an entity are present, clamped to 1.
func (d *Detector) DetectRelationship(query string, catalog map[string]bool) *workflow.RelationshipDetection {
	lowered := strings.ToLower(query)

	det := &workflow.RelationshipDetection{
		WellIDs:   ExtractWellIDs(query),
		SiteCodes: ExtractSiteCodes(query),
		Mnemonics: ExtractMnemonics(query, catalog),
	}

	for _, family := range relationshipFamilies {
		for _, p := range family.patterns {
			if p.MatchString(query) {
				det.Type = family.relType
				det.Matched = true
				break
			}
		}
		if det.Matched {
			break
		}
	}

	confidence := 0.0
	if det.Matched {
		confidence += 0.6
	}
	for _, kw := range relationshipKeywords {
		if strings.Contains(lowered, kw) {
			confidence += 0.2
			break
		}
	}
	entityKinds := 0
	if len(det.WellIDs) > 0 {
		entityKinds++
	}
	if len(det.SiteCodes) > 0 {
		entityKinds++
	}
	if len(det.Mnemonics) > 0 {
		entityKinds++
	}
	if entityKinds > 2 {
		entityKinds = 2
	}
	confidence += 0.1 * float64(entityKinds)
	if det.Matched && entityKinds > 0 {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}
	det.Confidence = confidence
	return det
}
