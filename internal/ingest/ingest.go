package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
	"georisk/internal/normalize"
)

var errQueueFull = errors.New("position queue full")

// SendNonBlocking hands a sample to the engine, dropping it when the queue is
// full. A dropped GPS fix is superseded by the next one.
func SendNonBlocking(ctx context.Context, out chan<- model.PositionSample, ev model.PositionSample, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("position channel full, dropping sample", "device_id", ev.DeviceID, "timestamp", ev.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// forwarder carries lines from one source through parsing and normalisation
// onto the engine queue.
type forwarder struct {
	source string
	cfg    *config.Manager
	out    chan<- model.PositionSample
	logger *slog.Logger
}

// forward handles one line. deviceHint names the device when the line itself
// does not, as with keyed Kafka messages.
func (f forwarder) forward(ctx context.Context, parser *Parser, line, deviceHint string) bool {
	fields, err := parser.ParseLine(line)
	if err != nil {
		if f.logger != nil {
			f.logger.Debug("position parse error", "source", f.source, "err", err)
		}
		return false
	}
	if fields == nil {
		return false
	}
	if fields.DeviceID == "" {
		fields.DeviceID = deviceHint
	}
	sample, err := normalize.Normalize(*fields, f.cfg.Get())
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("position normalize error", "source", f.source, "err", err)
		}
		return false
	}
	sample.Source = f.source
	return SendNonBlocking(ctx, f.out, sample, f.logger)
}
