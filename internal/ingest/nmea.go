package ingest

import (
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"georisk/internal/normalize"
)

// hdopToMeters approximates horizontal accuracy from dilution of precision.
const hdopToMeters = 5.0

// parseNMEA reads RMC and GGA sentences, optionally prefixed by a device ID
// ("phone-1 $GPRMC,..."). Other sentence types and fixes flagged invalid
// return nil fields.
func parseNMEA(line string) (*normalize.PositionFields, error) {
	idx := strings.IndexByte(line, '$')
	device := strings.TrimSpace(line[:idx])
	sentence, err := nmea.Parse(line[idx:])
	if err != nil {
		return nil, err
	}
	fields := &normalize.PositionFields{DeviceID: device, Extras: map[string]string{"nmea": sentence.DataType()}}
	switch s := sentence.(type) {
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return nil, nil
		}
		fields.Timestamp = rmcTimestamp(s.Date, s.Time)
		fields.Latitude = degrees(s.Latitude)
		fields.Longitude = degrees(s.Longitude)
	case nmea.GGA:
		if s.FixQuality == "" || s.FixQuality == nmea.Invalid {
			return nil, nil
		}
		fields.Latitude = degrees(s.Latitude)
		fields.Longitude = degrees(s.Longitude)
		if s.HDOP > 0 {
			fields.Accuracy = strconv.FormatFloat(s.HDOP*hdopToMeters, 'f', -1, 64)
		}
	default:
		return nil, nil
	}
	return fields, nil
}

func degrees(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}

// rmcTimestamp yields "" for an incomplete date or time so the sample is
// stamped on arrival.
func rmcTimestamp(d nmea.Date, t nmea.Time) string {
	if !d.Valid || !t.Valid {
		return ""
	}
	ts := time.Date(2000+d.YY, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
	return ts.Format(time.RFC3339Nano)
}
