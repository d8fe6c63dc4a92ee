package graph

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Direction selects which edges a traversal follows.
type Direction uint8

const (
	DirectionBoth Direction = iota
	DirectionOutgoing
	DirectionIncoming
)

func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	default:
		return "both"
	}
}

type neighbor struct {
	id       string
	edgeType EdgeType
}

// Traverser answers adjacency and reachability questions over a loaded
// graph. All indices are derived once at construction; the traverser is
// safe for concurrent readers because nothing mutates after that.
type Traverser struct {
	graph    *Graph
	outgoing map[string][]neighbor
	incoming map[string][]neighbor

	wellToCurves  map[string][]*Node
	curveToWell   map[string]*Node
	wellMnemonics map[string]map[string]bool

	siteToMeasurements map[string][]*Node
	measurementToSite  map[string]*Node

	logger *logrus.Logger
}

// NewTraverser builds the derived indices for g.
func NewTraverser(g *Graph, logger *logrus.Logger) *Traverser {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	t := &Traverser{
		graph:              g,
		outgoing:           make(map[string][]neighbor),
		incoming:           make(map[string][]neighbor),
		wellToCurves:       make(map[string][]*Node),
		curveToWell:        make(map[string]*Node),
		wellMnemonics:      make(map[string]map[string]bool),
		siteToMeasurements: make(map[string][]*Node),
		measurementToSite:  make(map[string]*Node),
		logger:             logger,
	}
	for _, e := range g.Edges() {
		t.outgoing[e.Source] = append(t.outgoing[e.Source], neighbor{id: e.Target, edgeType: e.Type})
		t.incoming[e.Target] = append(t.incoming[e.Target], neighbor{id: e.Source, edgeType: e.Type})

		switch e.Type {
		case EdgeDescribes:
			curve := g.Node(e.Source)
			well := g.Node(e.Target)
			if curve == nil || well == nil || curve.Type != NodeLASCurve || well.Type != NodeLASDocument {
				continue
			}
			t.wellToCurves[well.ID] = append(t.wellToCurves[well.ID], curve)
			t.curveToWell[curve.ID] = well
			if m := curve.Mnemonic(); m != "" {
				set := t.wellMnemonics[well.ID]
				if set == nil {
					set = make(map[string]bool)
					t.wellMnemonics[well.ID] = set
				}
				set[m] = true
			}
		case EdgeReportsOn:
			measurement := g.Node(e.Source)
			site := g.Node(e.Target)
			if measurement == nil || site == nil || measurement.Type != NodeUSGSMeasurement || site.Type != NodeUSGSSite {
				continue
			}
			t.siteToMeasurements[site.ID] = append(t.siteToMeasurements[site.ID], measurement)
			t.measurementToSite[measurement.ID] = site
		}
	}
	logger.WithFields(logrus.Fields{
		"wells_indexed": len(t.wellToCurves),
		"curves_linked": len(t.curveToWell),
		"sites_indexed": len(t.siteToMeasurements),
	}).Debug("Traversal indices built")
	return t
}

// Graph returns the underlying graph.
func (t *Traverser) Graph() *Graph { return t.graph }

// GetNode returns the node with the given id, nil when absent.
func (t *Traverser) GetNode(id string) *Node { return t.graph.Node(id) }

// GetConnected returns nodes adjacent to id, optionally restricted to
// one edge type (empty matches all). Unknown ids return nil.
func (t *Traverser) GetConnected(id string, edgeType EdgeType, dir Direction) []*Node {
	var out []*Node
	seen := make(map[string]bool)
	appendMatches := func(list []neighbor) {
		for _, nb := range list {
			if edgeType != "" && nb.edgeType != edgeType {
				continue
			}
			if seen[nb.id] {
				continue
			}
			seen[nb.id] = true
			if n := t.graph.Node(nb.id); n != nil {
				out = append(out, n)
			}
		}
	}
	if dir == DirectionBoth || dir == DirectionOutgoing {
		appendMatches(t.outgoing[id])
	}
	if dir == DirectionBoth || dir == DirectionIncoming {
		appendMatches(t.incoming[id])
	}
	return out
}

// Expand runs a breadth-first expansion from the seed nodes, following
// edges in the given direction for at most maxHops hops. Seeds are part
// of the result even when they do not exist in the graph; each node is
// visited once.
func (t *Traverser) Expand(seeds []*Node, dir Direction, maxHops int) []*Node {
	if maxHops < 0 {
		maxHops = 0
	}
	type queueItem struct {
		id    string
		depth int
	}

	visited := make(map[string]bool, len(seeds))
	result := make([]*Node, 0, len(seeds))
	queue := make([]queueItem, 0, len(seeds))

	for _, s := range seeds {
		if s == nil || s.ID == "" || visited[s.ID] {
			continue
		}
		visited[s.ID] = true
		result = append(result, s)
		queue = append(queue, queueItem{id: s.ID, depth: 0})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxHops {
			continue
		}
		for _, nb := range t.neighbors(cur.id, dir) {
			if visited[nb.id] {
				continue
			}
			visited[nb.id] = true
			node := t.graph.Node(nb.id)
			if node == nil {
				continue
			}
			result = append(result, node)
			queue = append(queue, queueItem{id: nb.id, depth: cur.depth + 1})
		}
	}
	return result
}

func (t *Traverser) neighbors(id string, dir Direction) []neighbor {
	switch dir {
	case DirectionOutgoing:
		return t.outgoing[id]
	case DirectionIncoming:
		return t.incoming[id]
	default:
		out := t.outgoing[id]
		in := t.incoming[id]
		if len(in) == 0 {
			return out
		}
		merged := make([]neighbor, 0, len(out)+len(in))
		merged = append(merged, out...)
		merged = append(merged, in...)
		return merged
	}
}

// GetCurvesForWell returns the curve nodes linked to a well. The well id
// may come straight from a query; it is normalized and prefixed as
// needed. Unknown wells return nil.
func (t *Traverser) GetCurvesForWell(wellID string) []*Node {
	return t.wellToCurves[WellNodeID(wellID)]
}

// GetWellForCurve returns the well document a curve describes, nil when
// the curve is unknown or unlinked.
func (t *Traverser) GetWellForCurve(curveID string) *Node {
	return t.curveToWell[curveID]
}

// GetMnemonicsForWell returns the distinct curve mnemonics recorded for
// a well, upper-cased and sorted. The well id may come straight from a
// query. Unknown wells return nil.
func (t *Traverser) GetMnemonicsForWell(wellID string) []string {
	set := t.wellMnemonics[WellNodeID(wellID)]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// GetMeasurementsForSite returns the measurement nodes reporting on a
// site, nil when the site is unknown or has none.
func (t *Traverser) GetMeasurementsForSite(siteID string) []*Node {
	return t.siteToMeasurements[siteID]
}

// GetSiteForMeasurement returns the site a measurement reports on, nil
// when the measurement is unknown or unlinked.
func (t *Traverser) GetSiteForMeasurement(measurementID string) *Node {
	return t.measurementToSite[measurementID]
}

// GetWellsWithMnemonic returns the ids of wells carrying the given curve
// mnemonic, matched case-insensitively, in stable sorted order.
func (t *Traverser) GetWellsWithMnemonic(mnemonic string) []string {
	needle := strings.ToUpper(strings.TrimSpace(mnemonic))
	if needle == "" {
		return nil
	}
	var out []string
	for wellID, set := range t.wellMnemonics {
		if set[needle] {
			out = append(out, wellID)
		}
	}
	sort.Strings(out)
	return out
}

// CurvesWithUnit returns the curve nodes whose unit attribute equals
// unit, compared case-insensitively, in snapshot order.
func (t *Traverser) CurvesWithUnit(unit string) []*Node {
	needle := strings.ToLower(strings.TrimSpace(unit))
	if needle == "" {
		return nil
	}
	var out []*Node
	for _, n := range t.graph.Nodes() {
		if n.Type != NodeLASCurve {
			continue
		}
		if strings.ToLower(n.Unit()) == needle {
			out = append(out, n)
		}
	}
	return out
}

// MnemonicCatalog returns every distinct curve mnemonic in the graph,
// upper-cased and sorted.
func (t *Traverser) MnemonicCatalog() []string {
	seen := make(map[string]bool)
	for _, set := range t.wellMnemonics {
		for m := range set {
			seen[m] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// WellCount returns the number of well document nodes in the graph.
func (t *Traverser) WellCount() int {
	count := 0
	for _, n := range t.graph.Nodes() {
		if n.Type == NodeLASDocument {
			count++
		}
	}
	return count
}

// RelationshipSummary counts a node's edges by type and direction.
type RelationshipSummary struct {
	NodeID   string
	Outgoing map[EdgeType]int
	Incoming map[EdgeType]int
}

// TotalOutgoing sums outgoing edge counts.
func (s RelationshipSummary) TotalOutgoing() int {
	total := 0
	for _, c := range s.Outgoing {
		total += c
	}
	return total
}

// TotalIncoming sums incoming edge counts.
func (s RelationshipSummary) TotalIncoming() int {
	total := 0
	for _, c := range s.Incoming {
		total += c
	}
	return total
}

// GetRelationshipSummary tallies edges touching id. Unknown ids yield a
// summary with empty maps.
func (t *Traverser) GetRelationshipSummary(id string) RelationshipSummary {
	summary := RelationshipSummary{
		NodeID:   id,
		Outgoing: make(map[EdgeType]int),
		Incoming: make(map[EdgeType]int),
	}
	for _, nb := range t.outgoing[id] {
		summary.Outgoing[nb.edgeType]++
	}
	for _, nb := range t.incoming[id] {
		summary.Incoming[nb.edgeType]++
	}
	return summary
}

// Stats summarizes the graph for health endpoints and CLI output.
type Stats struct {
	Nodes       int              `json:"nodes"`
	Edges       int              `json:"edges"`
	NodesByType map[NodeType]int `json:"nodes_by_type"`
	EdgesByType map[EdgeType]int `json:"edges_by_type"`
}

// Stats tallies node and edge counts by type.
func (t *Traverser) Stats() Stats {
	s := Stats{
		Nodes:       t.graph.NodeCount(),
		Edges:       t.graph.EdgeCount(),
		NodesByType: make(map[NodeType]int),
		EdgesByType: make(map[EdgeType]int),
	}
	for _, n := range t.graph.Nodes() {
		s.NodesByType[n.Type]++
	}
	for _, e := range t.graph.Edges() {
		s.EdgesByType[e.Type]++
	}
	return s
}
