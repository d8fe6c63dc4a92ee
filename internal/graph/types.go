// Package graph holds the in-memory knowledge graph: typed nodes for LAS
// documents and curves, USGS sites and measurements, and EIA records,
// connected by directed edges. The graph is loaded once from a JSON
// snapshot and never mutated afterwards; all lookups go through the
// Traverser and its derived indices.
package graph

import (
	"strconv"
	"strings"
)

// NodeType identifies which data source a node came from.
type NodeType string

const (
	NodeLASDocument     NodeType = "las_document"
	NodeLASCurve        NodeType = "las_curve"
	NodeUSGSSite        NodeType = "usgs_site"
	NodeUSGSMeasurement NodeType = "usgs_measurement"
	NodeEIARecord       NodeType = "eia_record"
)

var validNodeTypes = map[NodeType]bool{
	NodeLASDocument:     true,
	NodeLASCurve:        true,
	NodeUSGSSite:        true,
	NodeUSGSMeasurement: true,
	NodeEIARecord:       true,
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool { return validNodeTypes[t] }

// EdgeType identifies the relationship an edge expresses.
type EdgeType string

const (
	// EdgeDescribes points from a curve to the well document it describes.
	EdgeDescribes EdgeType = "describes"
	// EdgeReportsOn points from a measurement to the site it reports on.
	EdgeReportsOn EdgeType = "reports_on"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindAbsent ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// Value is an attribute value: a string, a number, a boolean, or absent.
// Coercion between kinds is explicit so that callers never trip over a
// numeric curve count stored as a string, or vice versa.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// String wraps s as a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps f as a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps b as a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether the value is missing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsString coerces the value to a string. Numbers are formatted with
// minimal digits, booleans as "true"/"false". Absent values report false.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindNumber:
		return formatNumber(v.num), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// AsFloat coerces the value to a float64. Numeric strings parse;
// booleans and absent values report false.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsBool returns the boolean, reporting false for every other kind.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// Display renders the value for human-readable output, empty when absent.
func (v Value) Display() string {
	s, _ := v.AsString()
	return s
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FromAny converts a decoded JSON value into a Value. Unsupported shapes
// (arrays, objects, null) come back absent.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case string:
		return String(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	default:
		return Value{}
	}
}

// Attributes is a node's attribute map.
type Attributes map[string]Value

// Get returns the value for key, absent when the key is missing.
func (a Attributes) Get(key string) Value {
	if a == nil {
		return Value{}
	}
	return a[key]
}

// GetAny returns the first present value among keys.
func (a Attributes) GetAny(keys ...string) Value {
	for _, k := range keys {
		if v := a.Get(k); !v.IsAbsent() {
			return v
		}
	}
	return Value{}
}

// Node is a single entity in the knowledge graph.
type Node struct {
	ID         string     `json:"id"`
	Type       NodeType   `json:"type"`
	Attributes Attributes `json:"attributes"`
}

// Attr returns the named attribute, absent when missing.
func (n *Node) Attr(key string) Value {
	if n == nil {
		return Value{}
	}
	return n.Attributes.Get(key)
}

// Mnemonic returns the curve mnemonic in upper case, empty for nodes
// that carry none.
func (n *Node) Mnemonic() string {
	s, ok := n.Attr("mnemonic").AsString()
	if !ok {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// Unit returns the curve unit attribute, trying both spellings seen in
// LAS exports.
func (n *Node) Unit() string {
	s, _ := n.Attributes.GetAny("unit", "units").AsString()
	return strings.TrimSpace(s)
}

// Description returns the human-readable description attribute.
func (n *Node) Description() string {
	s, _ := n.Attributes.GetAny("description", "descr", "curve_description").AsString()
	return strings.TrimSpace(s)
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// WellNodePrefix namespaces well document node identifiers in the graph
// snapshot built from the FORCE 2020 LAS corpus.
const WellNodePrefix = "force2020-well-"

// NormalizeWellID rewrites a well identifier as it appears in queries
// ("15/9-13") into the separator used by node identifiers ("15_9-13"),
// trimming stray whitespace and trailing punctuation.
func NormalizeWellID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimRight(id, ".,;:!?")
	return strings.ReplaceAll(id, "/", "_")
}

// WellNodeID builds the graph node identifier for a well. The prefix is
// applied once; already-prefixed identifiers pass through unchanged.
func WellNodeID(wellID string) string {
	normalized := NormalizeWellID(wellID)
	if strings.HasPrefix(normalized, WellNodePrefix) {
		return normalized
	}
	return WellNodePrefix + normalized
}
