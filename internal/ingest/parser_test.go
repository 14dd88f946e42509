package ingest

import "testing"

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := "2026-03-14 18:00:00 phone-1 lat=-16.3974773 lon=-71.501184 acc=8"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "phone-1" {
		t.Fatalf("device id: %s", fields.DeviceID)
	}
	if fields.Latitude != "-16.3974773" || fields.Longitude != "-71.501184" || fields.Accuracy != "8" {
		t.Fatalf("coordinates: %+v", fields)
	}
	if fields.Timestamp != "2026-03-14 18:00:00" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,device_id,lat,lon"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("2026-03-14T18:00:00Z,phone-1,-16.3974773,-71.501184")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "phone-1" || fields.Latitude != "-16.3974773" || fields.Longitude != "-71.501184" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("1773511200,phone-2,-16.40,-71.53,15")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "phone-2" || fields.Accuracy != "15" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":1773511200000,"device":"phone-1","coords":{"latitude":-16.3974773,"longitude":-71.501184,"accuracy":5}}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "phone-1" || fields.Latitude != "-16.3974773" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Timestamp != "1773511200000" {
		t.Fatalf("timestamp lost precision: %q", fields.Timestamp)
	}
}

func TestParseJSONPredictionShape(t *testing.T) {
	fields := ParseJSONMap(map[string]interface{}{"xx": -16.39, "yy": -71.5})
	if fields.Latitude != "-16.39" || fields.Longitude != "-71.5" {
		t.Fatalf("xx/yy not mapped: %+v", fields)
	}
}

func TestParseNMEARMC(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("phone-1 $GPRMC,180000.00,A,1623.8486,S,07130.0710,W,0.5,0.0,140326,,,A*58")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "phone-1" {
		t.Fatalf("device id: %q", fields.DeviceID)
	}
	if fields.Latitude != "-16.3974767" || fields.Longitude != "-71.5011833" {
		t.Fatalf("coordinates: %s,%s", fields.Latitude, fields.Longitude)
	}
	if fields.Timestamp != "2026-03-14T18:00:00Z" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
}

func TestParseNMEAGGA(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("$GPGGA,180000,1623.8486,S,07130.0710,W,1,08,1.2,2335.0,M,,M,,*61")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.DeviceID != "" || fields.Accuracy != "6" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if fields, _ := p.ParseLine("$GPGGA,180000,,,,,0,00,,,M,,M,,*6F"); fields != nil {
		t.Fatalf("expected no fix to yield nil fields")
	}
}

func TestParseNMEABadChecksum(t *testing.T) {
	p := NewParser()
	if _, err := p.ParseLine("$GPRMC,180000,A,1623.8486,S,07130.0710,W,0.5,0.0,140326,,,A*00"); err == nil {
		t.Fatalf("expected checksum error")
	}
}
