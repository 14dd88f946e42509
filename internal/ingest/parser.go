package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"georisk/internal/normalize"
)

type lineFormat int

const (
	formatKV lineFormat = iota
	formatJSON
	formatCSV
	formatNMEA
)

var (
	reLeadingTime = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	rePair        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s,;]+)`)
)

// Field aliases, first match wins.
var (
	timestampKeys = []string{"timestamp", "time", "ts"}
	deviceKeys    = []string{"device_id", "device", "deviceid", "dev_id", "user", "phone"}
	latitudeKeys  = []string{"latitude", "lat", "xx"}
	longitudeKeys = []string{"longitude", "lon", "lng", "yy"}
	accuracyKeys  = []string{"accuracy", "accuracy_m", "acc", "hdop"}
)

// Parser turns one line of position data into position fields. Lines may be
// JSON, NMEA 0183 (RMC/GGA), CSV or key=value text. CSV header state is kept
// between lines, so each stream needs its own Parser.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines, CSV headers and NMEA
// sentences that carry no fix.
func (p *Parser) ParseLine(line string) (*normalize.PositionFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	var (
		fields *normalize.PositionFields
		err    error
	)
	switch detectFormat(trim) {
	case formatJSON:
		fields, err = ParseJSONBytes([]byte(trim))
		if err != nil {
			fields, err = parseKV(trim), nil
		}
	case formatNMEA:
		fields, err = parseNMEA(trim)
	case formatCSV:
		fields, err = p.csv.Parse(trim)
		if err != nil {
			fields, err = parseKV(trim), nil
		}
	default:
		fields = parseKV(trim)
	}
	if err != nil || fields == nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func detectFormat(s string) lineFormat {
	switch {
	case s[0] == '{' || s[0] == '[':
		return formatJSON
	case strings.Contains(s, "$GP") || strings.Contains(s, "$GN"):
		return formatNMEA
	case strings.Contains(s, ",") && !strings.Contains(s, "="):
		return formatCSV
	}
	return formatKV
}

// parseKV reads "2026-03-14 18:00:00 phone-1 lat=.. lon=.." style lines. A bare
// token after the leading timestamp is taken as the device.
func parseKV(line string) *normalize.PositionFields {
	fields := &normalize.PositionFields{Extras: map[string]string{}}
	rest := line
	if m := reLeadingTime.FindStringSubmatchIndex(line); len(m) >= 4 {
		fields.Timestamp = strings.TrimSpace(line[m[2]:m[3]])
		rest = strings.TrimSpace(line[m[3]:])
	}
	pairs := map[string]string{}
	for _, m := range rePair.FindAllStringSubmatch(line, -1) {
		pairs[strings.ToLower(m[1])] = m[2]
	}
	assignAliases(fields, pairs)
	if fields.DeviceID == "" {
		if tok := strings.Fields(rest); len(tok) > 0 && !strings.Contains(tok[0], "=") {
			fields.DeviceID = tok[0]
		}
	}
	return fields
}

func assignAliases(fields *normalize.PositionFields, kv map[string]string) {
	lookup := func(keys []string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(kv[k]); v != "" {
				return v
			}
		}
		return ""
	}
	if fields.Timestamp == "" {
		fields.Timestamp = lookup(timestampKeys)
	}
	fields.DeviceID = lookup(deviceKeys)
	fields.Latitude = lookup(latitudeKeys)
	fields.Longitude = lookup(longitudeKeys)
	fields.Accuracy = lookup(accuracyKeys)
	for k, v := range kv {
		fields.Extras[k] = v
	}
}

// CSVParser reads comma separated position records. Without a header row the
// column order is timestamp, device, latitude, longitude, accuracy.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.PositionFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	if p.header == nil && isHeaderRow(record) {
		p.header = make([]string, len(record))
		for i, name := range record {
			p.header[i] = strings.ToLower(name)
		}
		return nil, nil
	}
	fields := &normalize.PositionFields{Extras: map[string]string{}}
	if p.header == nil {
		positional := []*string{&fields.Timestamp, &fields.DeviceID, &fields.Latitude, &fields.Longitude, &fields.Accuracy}
		for i := 0; i < len(positional) && i < len(record); i++ {
			*positional[i] = record[i]
		}
		return fields, nil
	}
	kv := make(map[string]string, len(p.header))
	for i := 0; i < len(p.header) && i < len(record); i++ {
		kv[p.header[i]] = record[i]
	}
	assignAliases(fields, kv)
	return fields, nil
}

func isHeaderRow(record []string) bool {
	known := map[string]bool{}
	for _, group := range [][]string{timestampKeys, deviceKeys, latitudeKeys, longitudeKeys, accuracyKeys} {
		for _, k := range group {
			known[k] = true
		}
	}
	for _, v := range record {
		if known[strings.ToLower(v)] {
			return true
		}
	}
	return false
}
