// Package ingest builds the knowledge graph and the vector store
// collection from raw source files: LAS well logs, USGS site and
// measurement JSON, and EIA generation CSV. It is the bootstrap side of
// the system; the query path never mutates what ingest produced.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LASCurve is one entry of a LAS ~Curve section.
type LASCurve struct {
	Mnemonic    string
	Unit        string
	Description string
}

// LASFile is the header portion of one LAS well log: the well name,
// selected ~Well section entries, and the curve inventory. Sample data
// is not read.
type LASFile struct {
	WellName string
	// Fields holds ~Well section values keyed by their mnemonic, e.g.
	// "COMP" or "STRT".
	Fields map[string]string
	Curves []LASCurve
}

// lasEntry is one parsed header line: MNEM.UNIT VALUE : DESCRIPTION.
type lasEntry struct {
	mnemonic    string
	unit        string
	value       string
	description string
}

// parseLASLine splits a LAS header line. The mnemonic ends at the first
// dot, the unit at the first whitespace after it, and the description
// follows the last colon.
func parseLASLine(line string) (lasEntry, error) {
	dot := strings.Index(line, ".")
	if dot < 0 {
		return lasEntry{}, fmt.Errorf("no mnemonic delimiter")
	}
	entry := lasEntry{mnemonic: strings.ToUpper(strings.TrimSpace(line[:dot]))}
	if entry.mnemonic == "" {
		return lasEntry{}, fmt.Errorf("empty mnemonic")
	}

	rest := line[dot+1:]
	if colon := strings.LastIndex(rest, ":"); colon >= 0 {
		entry.description = strings.TrimSpace(rest[colon+1:])
		rest = rest[:colon]
	}

	unitEnd := 0
	for unitEnd < len(rest) && rest[unitEnd] != ' ' && rest[unitEnd] != '\t' {
		unitEnd++
	}
	entry.unit = strings.TrimSpace(rest[:unitEnd])
	entry.value = strings.TrimSpace(rest[unitEnd:])
	return entry, nil
}

// ParseLAS reads a LAS 1.2 or 2.0 header. Unparseable ~Well lines are
// skipped; unparseable ~Curve lines are an error because the curves are
// the payload. Reading stops at the ~ASCII data section.
func ParseLAS(r io.Reader) (*LASFile, error) {
	las := &LASFile{Fields: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	section := byte(0)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "~") {
			section = 0
			if len(line) > 1 {
				section = strings.ToUpper(line[1:2])[0]
			}
			if section == 'A' {
				break
			}
			continue
		}

		switch section {
		case 'W':
			entry, err := parseLASLine(line)
			if err != nil {
				continue
			}
			value := entry.value
			if value == "" {
				// LAS 1.2 keeps the value in the description column.
				value = entry.description
			}
			las.Fields[entry.mnemonic] = value
			if entry.mnemonic == "WELL" {
				las.WellName = value
			}
		case 'C':
			entry, err := parseLASLine(line)
			if err != nil {
				return nil, fmt.Errorf("curve line %d %q: %w", lineNo, line, err)
			}
			las.Curves = append(las.Curves, LASCurve{
				Mnemonic:    entry.mnemonic,
				Unit:        entry.unit,
				Description: entry.description,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading LAS header: %w", err)
	}

	if strings.TrimSpace(las.WellName) == "" {
		return nil, fmt.Errorf("LAS header has no WELL entry")
	}
	if len(las.Curves) == 0 {
		return nil, fmt.Errorf("LAS header has no curves")
	}
	return las, nil
}

// ParseLASFile reads one LAS file from disk.
func ParseLASFile(path string) (*LASFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening LAS file: %w", err)
	}
	defer f.Close()

	las, err := ParseLAS(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return las, nil
}
