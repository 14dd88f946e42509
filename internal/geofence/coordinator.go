package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"georisk/internal/model"
)

const DefaultCooldownWindow = 3 * time.Minute

type Notifier interface {
	Notify(ctx context.Context, ev model.AlertEvent) error
}

type HistorySink interface {
	Append(ctx context.Context, ev model.AlertEvent) error
}

type StatusSink interface {
	PublishStatus(ctx context.Context, status model.ZoneStatus) error
}

type PreferenceSource interface {
	Preferences() Preferences
}

type Preferences struct {
	NotificationsEnabled bool
	CooldownWindow       time.Duration
	Mode                 MatchMode
}

func DefaultPreferences() Preferences {
	return Preferences{
		NotificationsEnabled: true,
		CooldownWindow:       DefaultCooldownWindow,
		Mode:                 ZoneRadius(150),
	}
}

// StaticPreferences serves the same preferences on every cycle.
type StaticPreferences Preferences

func (p StaticPreferences) Preferences() Preferences { return Preferences(p) }

// Sinks are the outbound collaborators. Any of them may be nil.
type Sinks struct {
	Notifier Notifier
	History  HistorySink
	Status   StatusSink
}

type Options struct {
	DeviceID      string
	FallbackZones []model.RiskZone
	Preferences   PreferenceSource
	Clock         func() time.Time
	Logger        *slog.Logger
}

type Transition string

const (
	TransitionNone   Transition = "none"
	TransitionEnter  Transition = "enter"
	TransitionSwitch Transition = "switch"
	TransitionExit   Transition = "exit"
)

type Suppression string

const (
	SuppressedCooldown      Suppression = "cooldown"
	SuppressedNotifications Suppression = "notifications_disabled"
)

// State is a snapshot of what the coordinator remembers between cycles.
type State struct {
	CurrentZoneID string    `json:"current_zone_id,omitempty"`
	LastAlertAt   time.Time `json:"last_alert_at"`
}

type Evaluation struct {
	Status     model.ZoneStatus
	Matches    []model.ZoneMatch
	Transition Transition
	Event      *model.AlertEvent
	Suppressed Suppression
	Degraded   bool
}

// Coordinator turns position samples into at most one alert per qualifying zone
// transition. It is not safe for concurrent use; callers serialise updates.
type Coordinator struct {
	opts     Options
	sinks    Sinks
	current  string
	cooldown Cooldown
}

func NewCoordinator(opts Options, sinks Sinks) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{opts: opts, sinks: sinks}
}

func (c *Coordinator) preferences() Preferences {
	if c.opts.Preferences == nil {
		return DefaultPreferences()
	}
	return c.opts.Preferences.Preferences()
}

// OnPositionUpdate runs one evaluation cycle. A malformed sample leaves the state
// untouched. When zones is empty the fallback zones are used and the evaluation is
// marked degraded. Sink errors are returned after the state has been committed.
func (c *Coordinator) OnPositionUpdate(ctx context.Context, sample model.PositionSample, zones []model.RiskZone) (Evaluation, error) {
	if err := sample.Coordinate.Validate(); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}
	prefs := c.preferences()

	degraded := false
	if len(zones) == 0 {
		zones = c.opts.FallbackZones
		degraded = true
	}
	matches, err := Match(sample.Coordinate, zones, prefs.Mode)
	if err != nil {
		return Evaluation{}, err
	}

	now := sample.Timestamp
	if now.IsZero() {
		now = c.opts.Clock()
	}

	eval := Evaluation{Matches: matches, Transition: TransitionNone, Degraded: degraded}
	if len(matches) == 0 {
		if c.current != "" {
			eval.Transition = TransitionExit
		}
		c.current = ""
	} else {
		top := matches[0]
		key := zoneKey(top.Zone)
		if key != c.current {
			eval.Transition = TransitionEnter
			if c.current != "" {
				eval.Transition = TransitionSwitch
			}
			c.current = key
			switch {
			case !prefs.NotificationsEnabled:
				eval.Suppressed = SuppressedNotifications
			case !c.cooldown.Ready(now, prefs.CooldownWindow):
				eval.Suppressed = SuppressedCooldown
			default:
				c.cooldown.Mark(now)
				eval.Event = &model.AlertEvent{
					DeviceID:       sample.DeviceID,
					Zone:           top.Zone,
					DistanceMeters: top.DistanceMeters,
					Position:       sample.Coordinate,
					OccurredAt:     now,
				}
			}
		}
	}
	eval.Status = c.status(sample, matches, now, degraded, eval.Event != nil)

	if c.opts.Logger != nil && eval.Transition != TransitionNone {
		c.opts.Logger.Debug("zone transition",
			"device_id", sample.DeviceID,
			"transition", eval.Transition,
			"zone_id", c.current,
			"alerted", eval.Event != nil,
			"suppressed", eval.Suppressed,
		)
	}
	return eval, c.dispatch(ctx, eval)
}

func (c *Coordinator) dispatch(ctx context.Context, eval Evaluation) error {
	var errs []error
	if c.sinks.Status != nil {
		if err := c.sinks.Status.PublishStatus(ctx, eval.Status); err != nil {
			errs = append(errs, fmt.Errorf("status sink: %w", err))
		}
	}
	if eval.Event != nil {
		if c.sinks.Notifier != nil {
			if err := c.sinks.Notifier.Notify(ctx, *eval.Event); err != nil {
				errs = append(errs, fmt.Errorf("notifier: %w", err))
			}
		}
		if c.sinks.History != nil {
			if err := c.sinks.History.Append(ctx, *eval.Event); err != nil {
				errs = append(errs, fmt.Errorf("history sink: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) status(sample model.PositionSample, matches []model.ZoneMatch, now time.Time, degraded, alerted bool) model.ZoneStatus {
	st := model.ZoneStatus{
		DeviceID:  sample.DeviceID,
		Position:  sample.Coordinate,
		Degraded:  degraded,
		Alerted:   alerted,
		UpdatedAt: now,
	}
	if len(matches) > 0 {
		top := matches[0]
		st.Inside = true
		st.ZoneID = c.current
		st.RiskLevel = top.Zone.Level()
		st.RiskScore = top.Zone.RiskScore
		st.DistanceMeters = top.DistanceMeters
	}
	return st
}

// SetFallbackZones replaces the zones used when a cycle receives none.
func (c *Coordinator) SetFallbackZones(zones []model.RiskZone) {
	c.opts.FallbackZones = zones
}

func (c *Coordinator) State() State {
	return State{CurrentZoneID: c.current, LastAlertAt: c.cooldown.Last()}
}

// Reset forgets the occupied zone and the last alert time, as on a tracking restart.
func (c *Coordinator) Reset() {
	c.current = ""
	c.cooldown.Reset()
}

// zoneKey identifies a zone across refreshes. Zones without an ID are keyed by
// their geometry.
func zoneKey(z model.RiskZone) string {
	if z.ID != "" {
		return z.ID
	}
	return strconv.FormatFloat(z.Center.Latitude, 'f', 6, 64) + "," +
		strconv.FormatFloat(z.Center.Longitude, 'f', 6, 64) + "/" +
		strconv.FormatFloat(z.RadiusMeters, 'f', 0, 64)
}
