// Package astra is a client for the Astra DB Data API, covering the
// vector search, count, fetch, and bootstrap operations the retrieval
// pipeline needs. Requests are JSON command envelopes posted to the
// collection endpoint and authenticated with a Cassandra token header.
package astra

import (
	"encoding/json"
	"strings"
)

// Reserved document fields written at ingest time.
const (
	FieldID           = "_id"
	FieldText         = "text"
	FieldSemanticText = "semantic_text"
	FieldEntityType   = "entity_type"
	FieldVector       = "$vector"
	FieldSimilarity   = "$similarity"
)

// Document is one vector store record: the reserved fields above plus
// flattened node attributes.
type Document map[string]any

// ID returns the document identifier, empty when missing.
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Text returns the plain text field.
func (d Document) Text() string {
	s, _ := d[FieldText].(string)
	return s
}

// SemanticText returns the enriched text field written for embedding.
func (d Document) SemanticText() string {
	s, _ := d[FieldSemanticText].(string)
	return s
}

// EntityType returns the source node type recorded on the document.
func (d Document) EntityType() string {
	s, _ := d[FieldEntityType].(string)
	return s
}

// Similarity returns the $similarity score when the store included one.
func (d Document) Similarity() (float64, bool) {
	f, ok := d[FieldSimilarity].(float64)
	return f, ok
}

// GetString returns a string field, empty when absent or non-string.
func (d Document) GetString(key string) string {
	s, _ := d[key].(string)
	return s
}

// ContextText returns the best available text for prompting: the
// semantic text, falling back to the plain text, falling back to the
// serialized document.
func (d Document) ContextText() string {
	if s := strings.TrimSpace(d.SemanticText()); s != "" {
		return s
	}
	if s := strings.TrimSpace(d.Text()); s != "" {
		return s
	}
	return d.Serialize()
}

// Serialize renders the document as deterministic JSON with internal
// fields removed. Map keys marshal in sorted order, so the output is
// stable across runs.
func (d Document) Serialize() string {
	cleaned := make(map[string]any, len(d))
	for k, v := range d {
		if k == FieldVector || k == FieldSimilarity {
			continue
		}
		cleaned[k] = v
	}
	b, err := json.Marshal(cleaned)
	if err != nil {
		return ""
	}
	return string(b)
}

// AttributeFields returns the non-reserved fields of the document.
func (d Document) AttributeFields() map[string]any {
	out := make(map[string]any)
	for k, v := range d {
		switch k {
		case FieldID, FieldText, FieldSemanticText, FieldEntityType, FieldVector, FieldSimilarity:
			continue
		}
		out[k] = v
	}
	return out
}
