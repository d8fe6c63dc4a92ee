package ingest

import (
	"fmt"
	"strings"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/graph"
)

// valueToAny unwraps a graph attribute value for JSON storage.
func valueToAny(v graph.Value) any {
	switch v.Kind() {
	case graph.KindNumber:
		f, _ := v.AsFloat()
		return f
	case graph.KindBool:
		b, _ := v.AsBool()
		return b
	default:
		s, _ := v.AsString()
		return s
	}
}

// BuildDocuments renders every graph node into a vector store document:
// reserved fields, flattened attributes, and the two text renderings.
// The semantic text is what gets embedded; it names the node's
// relationships so similarity search can reach them.
func BuildDocuments(tr *graph.Traverser) []astra.Document {
	nodes := tr.Graph().Nodes()
	docs := make([]astra.Document, 0, len(nodes))
	for _, n := range nodes {
		docs = append(docs, buildDocument(tr, n))
	}
	return docs
}

func buildDocument(tr *graph.Traverser, n *graph.Node) astra.Document {
	doc := astra.Document{
		astra.FieldID:         n.ID,
		astra.FieldEntityType: string(n.Type),
	}
	for key, value := range n.Attributes {
		doc[key] = valueToAny(value)
	}

	var text, semantic string
	switch n.Type {
	case graph.NodeLASDocument:
		text, semantic = renderWell(tr, n)
	case graph.NodeLASCurve:
		text, semantic = renderCurve(tr, n)
		if well := tr.GetWellForCurve(n.ID); well != nil {
			name, _ := well.Attr("well_name").AsString()
			doc["well_id"] = graph.NormalizeWellID(name)
		}
	case graph.NodeUSGSSite:
		text, semantic = renderSite(tr, n)
	case graph.NodeUSGSMeasurement:
		text, semantic = renderMeasurement(tr, n)
	case graph.NodeEIARecord:
		text, semantic = renderEIARecord(n)
	}

	doc[astra.FieldText] = text
	doc[astra.FieldSemanticText] = semantic
	return doc
}

func renderWell(tr *graph.Traverser, n *graph.Node) (string, string) {
	name, _ := n.Attr("well_name").AsString()
	location, _ := n.Attributes.GetAny("location", "field").AsString()

	text := fmt.Sprintf("Well %s", name)
	if location != "" {
		text += fmt.Sprintf(" in %s", location)
	}

	curves := tr.GetCurvesForWell(n.ID)
	mnemonics := make([]string, 0, len(curves))
	for _, c := range curves {
		if m := c.Mnemonic(); m != "" {
			mnemonics = append(mnemonics, m)
		}
	}

	semantic := fmt.Sprintf("LAS well document for well %s", name)
	if location != "" {
		semantic += fmt.Sprintf(" in %s", location)
	}
	semantic += fmt.Sprintf(" with %d curves", len(curves))
	if len(mnemonics) > 0 {
		semantic += ": " + strings.Join(mnemonics, ", ")
	}
	return text, semantic + "."
}

func renderCurve(tr *graph.Traverser, n *graph.Node) (string, string) {
	mnemonic := n.Mnemonic()
	unit := n.Unit()
	description := n.Description()

	label := mnemonic
	if unit != "" {
		label = fmt.Sprintf("%s (%s)", mnemonic, unit)
	}

	text := fmt.Sprintf("Curve %s", label)
	if description != "" {
		text += ": " + description
	}

	semantic := fmt.Sprintf("Curve %s", label)
	if description != "" {
		semantic += " " + description
	}
	if well := tr.GetWellForCurve(n.ID); well != nil {
		name, _ := well.Attr("well_name").AsString()
		semantic += fmt.Sprintf(" recorded for well %s", name)
	}
	return text, semantic
}

func renderSite(tr *graph.Traverser, n *graph.Node) (string, string) {
	siteNo, _ := n.Attr("site_no").AsString()
	name, _ := n.Attr("site_name").AsString()
	state, _ := n.Attr("state").AsString()

	text := fmt.Sprintf("USGS site %s", siteNo)
	if name != "" {
		text += ": " + name
	}

	semantic := fmt.Sprintf("USGS monitoring site %s", siteNo)
	if name != "" {
		semantic += fmt.Sprintf(" (%s)", name)
	}
	if state != "" {
		semantic += fmt.Sprintf(" in %s", state)
	}
	if count := len(tr.GetMeasurementsForSite(n.ID)); count > 0 {
		semantic += fmt.Sprintf(" with %d measurements", count)
	}
	return text, semantic + "."
}

func renderMeasurement(tr *graph.Traverser, n *graph.Node) (string, string) {
	parameter, _ := n.Attr("parameter").AsString()
	value := n.Attr("value").Display()
	unit, _ := n.Attr("unit").AsString()
	date, _ := n.Attr("date").AsString()

	reading := value
	if unit != "" {
		reading += " " + unit
	}

	text := fmt.Sprintf("%s %s", parameter, reading)
	if date != "" {
		text += " on " + date
	}

	semantic := fmt.Sprintf("USGS measurement of %s", parameter)
	if site := tr.GetSiteForMeasurement(n.ID); site != nil {
		siteNo, _ := site.Attr("site_no").AsString()
		semantic += fmt.Sprintf(" at site %s", siteNo)
		if name, ok := site.Attr("site_name").AsString(); ok && name != "" {
			semantic += fmt.Sprintf(" (%s)", name)
		}
	}
	semantic += ": " + reading
	if date != "" {
		semantic += " on " + date
	}
	return text, semantic + "."
}

func renderEIARecord(n *graph.Node) (string, string) {
	plant, _ := n.Attr("plant_name").AsString()
	state, _ := n.Attr("state").AsString()
	fuel, _ := n.Attr("fuel_type").AsString()
	year := n.Attr("year").Display()
	generation := n.Attr("net_generation_mwh").Display()

	text := fmt.Sprintf("%s (%s): %s MWh from %s in %s", plant, state, generation, fuel, year)
	semantic := fmt.Sprintf("EIA generation record: plant %s in %s generated %s MWh from %s in %s.",
		plant, state, generation, fuel, year)
	return text, semantic
}
