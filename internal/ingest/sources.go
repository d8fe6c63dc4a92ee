package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EIARecord is one row of an EIA net generation export.
type EIARecord struct {
	PlantName     string
	State         string
	FuelType      string
	Year          int
	NetGeneration float64
}

// eiaColumnAliases maps the header spellings seen in exports onto the
// canonical column name.
var eiaColumnAliases = map[string]string{
	"plant_name":         "plant_name",
	"plant":              "plant_name",
	"state":              "state",
	"fuel_type":          "fuel_type",
	"fuel":               "fuel_type",
	"year":               "year",
	"period":             "year",
	"net_generation_mwh": "net_generation_mwh",
	"net_generation":     "net_generation_mwh",
	"generation":         "net_generation_mwh",
}

// ReadEIARecords parses a CSV export with a header row. Column order is
// free; the five canonical columns must all be present.
func ReadEIARecords(r io.Reader) ([]EIARecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading EIA header: %w", err)
	}

	columns := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := eiaColumnAliases[key]; ok {
			columns[canonical] = i
		}
	}
	for _, required := range []string{"plant_name", "state", "fuel_type", "year", "net_generation_mwh"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("EIA header is missing the %s column", required)
		}
	}

	var records []EIARecord
	rowNo := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading EIA row %d: %w", rowNo, err)
		}
		rowNo++

		field := func(name string) string { return strings.TrimSpace(row[columns[name]]) }

		year, err := strconv.Atoi(field("year"))
		if err != nil {
			return nil, fmt.Errorf("EIA row %d: bad year %q", rowNo, field("year"))
		}
		generation, err := strconv.ParseFloat(strings.ReplaceAll(field("net_generation_mwh"), ",", ""), 64)
		if err != nil {
			return nil, fmt.Errorf("EIA row %d: bad net generation %q", rowNo, field("net_generation_mwh"))
		}

		records = append(records, EIARecord{
			PlantName:     field("plant_name"),
			State:         field("state"),
			FuelType:      field("fuel_type"),
			Year:          year,
			NetGeneration: generation,
		})
	}
	return records, nil
}

// USGSSite is one monitoring site.
type USGSSite struct {
	SiteNo    string  `json:"site_no"`
	Name      string  `json:"station_name"`
	State     string  `json:"state"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// USGSMeasurement is one observation at a site.
type USGSMeasurement struct {
	SiteNo    string  `json:"site_no"`
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Date      string  `json:"date"`
}

// ReadUSGSSites parses a JSON array of sites.
func ReadUSGSSites(r io.Reader) ([]USGSSite, error) {
	var sites []USGSSite
	if err := json.NewDecoder(r).Decode(&sites); err != nil {
		return nil, fmt.Errorf("decoding USGS sites: %w", err)
	}
	for i, s := range sites {
		if strings.TrimSpace(s.SiteNo) == "" {
			return nil, fmt.Errorf("USGS site %d has no site_no", i)
		}
	}
	return sites, nil
}

// ReadUSGSMeasurements parses a JSON array of measurements.
func ReadUSGSMeasurements(r io.Reader) ([]USGSMeasurement, error) {
	var measurements []USGSMeasurement
	if err := json.NewDecoder(r).Decode(&measurements); err != nil {
		return nil, fmt.Errorf("decoding USGS measurements: %w", err)
	}
	for i, m := range measurements {
		if strings.TrimSpace(m.SiteNo) == "" {
			return nil, fmt.Errorf("USGS measurement %d has no site_no", i)
		}
	}
	return measurements, nil
}
