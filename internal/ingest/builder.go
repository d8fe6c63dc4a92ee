package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/graph"
)

// wellAttributeKeys maps ~Well section mnemonics onto graph attribute
// names. Entries absent from the file are simply not written.
var wellAttributeKeys = map[string]string{
	"COMP": "company",
	"FLD":  "field",
	"LOC":  "location",
	"SRVC": "service_company",
	"DATE": "log_date",
	"STRT": "start_depth",
	"STOP": "stop_depth",
	"UWI":  "uwi",
	"PROV": "province",
	"CTRY": "country",
}

// Builder accumulates nodes and edges from the source readers and
// hands them to the graph validator once everything is added.
type Builder struct {
	nodes   []*graph.Node
	edges   []*graph.Edge
	nodeIDs map[string]bool

	siteIDs map[string]bool
	measSeq map[string]int
	eiaSeq  int

	// SkippedMeasurements counts measurements dropped because their
	// site was never added.
	SkippedMeasurements int

	logger *logrus.Logger
}

// NewBuilder returns an empty builder.
func NewBuilder(logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{
		nodeIDs: make(map[string]bool),
		siteIDs: make(map[string]bool),
		measSeq: make(map[string]int),
		logger:  logger,
	}
}

func (b *Builder) addNode(n *graph.Node) error {
	if b.nodeIDs[n.ID] {
		return fmt.Errorf("duplicate node id %s", n.ID)
	}
	b.nodeIDs[n.ID] = true
	b.nodes = append(b.nodes, n)
	return nil
}

// sanitizeID replaces characters that would make a node id awkward in
// filters and URLs.
func sanitizeID(s string) string {
	var out strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}

// AddLASFile adds one well document node and its curve nodes wired with
// describes edges. Duplicate curve mnemonics within a well get a
// numeric suffix on their node id.
func (b *Builder) AddLASFile(las *LASFile) error {
	wellID := graph.WellNodeID(las.WellName)

	attrs := graph.Attributes{
		"well_name":   graph.String(las.WellName),
		"curve_count": graph.Number(float64(len(las.Curves))),
	}
	for mnem, key := range wellAttributeKeys {
		raw := strings.TrimSpace(las.Fields[mnem])
		if raw == "" {
			continue
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && (key == "start_depth" || key == "stop_depth") {
			attrs[key] = graph.Number(f)
			continue
		}
		attrs[key] = graph.String(raw)
	}

	if err := b.addNode(&graph.Node{ID: wellID, Type: graph.NodeLASDocument, Attributes: attrs}); err != nil {
		return fmt.Errorf("well %s: %w", las.WellName, err)
	}

	seen := make(map[string]int)
	for _, curve := range las.Curves {
		mnemonic := strings.ToUpper(strings.TrimSpace(curve.Mnemonic))
		if mnemonic == "" {
			continue
		}
		curveID := wellID + "-curve-" + sanitizeID(mnemonic)
		seen[mnemonic]++
		if n := seen[mnemonic]; n > 1 {
			curveID = fmt.Sprintf("%s-%d", curveID, n)
		}

		curveAttrs := graph.Attributes{"mnemonic": graph.String(mnemonic)}
		if curve.Unit != "" {
			curveAttrs["unit"] = graph.String(curve.Unit)
		}
		if curve.Description != "" {
			curveAttrs["description"] = graph.String(curve.Description)
		}

		if err := b.addNode(&graph.Node{ID: curveID, Type: graph.NodeLASCurve, Attributes: curveAttrs}); err != nil {
			return fmt.Errorf("well %s: %w", las.WellName, err)
		}
		b.edges = append(b.edges, &graph.Edge{Source: curveID, Target: wellID, Type: graph.EdgeDescribes})
	}

	b.logger.WithFields(logrus.Fields{
		"well":   las.WellName,
		"curves": len(las.Curves),
	}).Debug("Well added to graph")
	return nil
}

// AddUSGSSite adds one site node.
func (b *Builder) AddUSGSSite(site USGSSite) error {
	id := "usgs-site-" + sanitizeID(site.SiteNo)

	attrs := graph.Attributes{"site_no": graph.String(site.SiteNo)}
	if site.Name != "" {
		attrs["site_name"] = graph.String(site.Name)
	}
	if site.State != "" {
		attrs["state"] = graph.String(site.State)
	}
	if site.Latitude != 0 || site.Longitude != 0 {
		attrs["latitude"] = graph.Number(site.Latitude)
		attrs["longitude"] = graph.Number(site.Longitude)
	}

	if err := b.addNode(&graph.Node{ID: id, Type: graph.NodeUSGSSite, Attributes: attrs}); err != nil {
		return err
	}
	b.siteIDs[id] = true
	return nil
}

// AddUSGSMeasurement adds one measurement node with its reports_on
// edge. Measurements for sites never added are skipped with a warning,
// not failed, so partial site exports stay loadable.
func (b *Builder) AddUSGSMeasurement(m USGSMeasurement) error {
	siteID := "usgs-site-" + sanitizeID(m.SiteNo)
	if !b.siteIDs[siteID] {
		b.SkippedMeasurements++
		b.logger.WithField("site_no", m.SiteNo).Warn("Measurement references an unknown site, skipping")
		return nil
	}

	b.measSeq[siteID]++
	id := fmt.Sprintf("usgs-meas-%s-%04d", sanitizeID(m.SiteNo), b.measSeq[siteID])

	attrs := graph.Attributes{
		"site_no":   graph.String(m.SiteNo),
		"parameter": graph.String(m.Parameter),
		"value":     graph.Number(m.Value),
	}
	if m.Unit != "" {
		attrs["unit"] = graph.String(m.Unit)
	}
	if m.Date != "" {
		attrs["date"] = graph.String(m.Date)
	}

	if err := b.addNode(&graph.Node{ID: id, Type: graph.NodeUSGSMeasurement, Attributes: attrs}); err != nil {
		return err
	}
	b.edges = append(b.edges, &graph.Edge{Source: id, Target: siteID, Type: graph.EdgeReportsOn})
	return nil
}

// AddEIARecord adds one generation record node. EIA records stand
// alone; no edges connect them.
func (b *Builder) AddEIARecord(rec EIARecord) error {
	b.eiaSeq++
	id := fmt.Sprintf("eia-record-%04d", b.eiaSeq)

	return b.addNode(&graph.Node{
		ID:   id,
		Type: graph.NodeEIARecord,
		Attributes: graph.Attributes{
			"plant_name":         graph.String(rec.PlantName),
			"state":              graph.String(rec.State),
			"fuel_type":          graph.String(rec.FuelType),
			"year":               graph.Number(float64(rec.Year)),
			"net_generation_mwh": graph.Number(rec.NetGeneration),
		},
	})
}

// Build validates and assembles the graph.
func (b *Builder) Build() (*graph.Graph, error) {
	return graph.Build(b.nodes, b.edges)
}

// WriteFile builds the graph and writes its snapshot, creating parent
// directories as needed.
func (b *Builder) WriteFile(path string) (*graph.Graph, error) {
	g, err := b.Build()
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()

	if err := g.Write(f); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"path":  path,
		"nodes": g.NodeCount(),
		"edges": g.EdgeCount(),
	}).Info("Graph snapshot written")
	return g, nil
}
