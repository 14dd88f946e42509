package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"georisk/internal/model"
)

type Notifier interface {
	Notify(ctx context.Context, ev model.AlertEvent) error
}

// Message is the user-facing text for an alert.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format renders the notification text for an alert event. The probability is
// the zone risk score as a percentage.
func Format(ev model.AlertEvent) Message {
	pct := ev.Zone.RiskScore * 100
	switch ev.Zone.Level() {
	case model.RiskHigh:
		return Message{
			Title: "HIGH RISK ZONE",
			Body:  fmt.Sprintf("Accident risk: %.1f%%\nAvoid this zone if possible.", pct),
		}
	case model.RiskMedium:
		return Message{
			Title: "Medium risk zone",
			Body:  fmt.Sprintf("Accident risk: %.1f%%\nDrive with caution.", pct),
		}
	default:
		return Message{
			Title: "Low risk zone",
			Body:  fmt.Sprintf("Accident risk: %.1f%%", pct),
		}
	}
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	msg := Format(ev)
	n.logger.LogAttrs(ctx, slog.LevelWarn, "risk zone alert",
		slog.String("device_id", ev.DeviceID),
		slog.String("zone_id", ev.Zone.ID),
		slog.String("risk_level", string(ev.Zone.Level())),
		slog.Float64("risk_score", ev.Zone.RiskScore),
		slog.Float64("distance_m", ev.DistanceMeters),
		slog.String("title", msg.Title),
		slog.String("body", msg.Body),
	)
	return nil
}

// Fanout delivers an event to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev model.AlertEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LevelGate forwards only events whose zone level reaches a minimum. Lower
// levels are still recorded by the history sink, which sits beside the
// notifier rather than behind it.
type LevelGate struct {
	next  Notifier
	floor atomic.Value
}

func NewLevelGate(floor model.RiskLevel, next Notifier) *LevelGate {
	g := &LevelGate{next: next}
	g.SetMinLevel(floor)
	return g
}

// SetMinLevel changes the threshold; an unknown level admits everything.
func (g *LevelGate) SetMinLevel(level model.RiskLevel) {
	g.floor.Store(level)
}

func (g *LevelGate) MinLevel() model.RiskLevel {
	level, _ := g.floor.Load().(model.RiskLevel)
	return level
}

// Allows reports whether an event at level would be delivered.
func (g *LevelGate) Allows(level model.RiskLevel) bool {
	return level.Rank() >= g.MinLevel().Rank()
}

func (g *LevelGate) Notify(ctx context.Context, ev model.AlertEvent) error {
	if g.next == nil || !g.Allows(ev.Zone.Level()) {
		return nil
	}
	return g.next.Notify(ctx, ev)
}

// ParseMinLevel reads the notify.min_level setting. Empty means medium, the
// level below which the mobile app never raised a notification.
func ParseMinLevel(s string) model.RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium":
		return model.RiskMedium
	case "high":
		return model.RiskHigh
	case "low":
		return model.RiskLow
	}
	return model.RiskMedium
}
