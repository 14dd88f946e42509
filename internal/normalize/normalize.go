package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
)

var (
	ErrEmptyValue       = errors.New("empty value")
	ErrNegativeAccuracy = errors.New("negative accuracy")
)

// PositionFields holds the raw strings pulled out of an inbound position record.
type PositionFields struct {
	Timestamp string
	DeviceID  string
	Latitude  string
	Longitude string
	Accuracy  string
	Extras    map[string]string
	Raw       string
}

// Normalize converts raw fields into a validated sample. A missing device falls
// back to the parser default and a missing timestamp to the arrival time.
func Normalize(fields PositionFields, cfg *config.Config) (model.PositionSample, error) {
	sample := model.PositionSample{DeviceID: strings.TrimSpace(fields.DeviceID), Source: "log"}
	if sample.DeviceID == "" {
		sample.DeviceID = cfg.Ingest.Parser.DefaultDeviceID
	}

	coord, err := coordinate(fields.Latitude, fields.Longitude)
	if err != nil {
		return model.PositionSample{}, err
	}
	sample.Coordinate = coord

	if sample.AccuracyMeters, err = accuracy(fields.Accuracy); err != nil {
		return model.PositionSample{}, err
	}

	sample.Timestamp = time.Now().UTC()
	if strings.TrimSpace(fields.Timestamp) != "" {
		ts, err := ParseTimestamp(fields.Timestamp, location(cfg.Ingest.Parser.Timezone))
		if err != nil {
			return model.PositionSample{}, fmt.Errorf("parse timestamp: %w", err)
		}
		sample.Timestamp = ts.UTC()
	}
	return sample, nil
}

func coordinate(lat, lon string) (model.Coordinate, error) {
	var c model.Coordinate
	var err error
	if c.Latitude, err = number(lat); err != nil {
		return c, fmt.Errorf("parse latitude: %w", err)
	}
	if c.Longitude, err = number(lon); err != nil {
		return c, fmt.Errorf("parse longitude: %w", err)
	}
	return c, c.Validate()
}

// accuracy is optional; an absent value is reported as 0 (unknown).
func accuracy(raw string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	v, err := number(raw)
	if err != nil {
		return 0, fmt.Errorf("parse accuracy: %w", err)
	}
	if v < 0 || math.IsNaN(v) {
		return 0, fmt.Errorf("parse accuracy %q: %w", raw, ErrNegativeAccuracy)
	}
	return v, nil
}

func number(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrEmptyValue
	}
	return strconv.ParseFloat(raw, 64)
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Layouts tried in order for zone-less timestamps, which are read in the
// configured parser timezone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp accepts unix seconds, unix milliseconds (13+ digits) and the
// ISO-like layouts above.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrEmptyValue
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
		if len(value) >= 13 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}
