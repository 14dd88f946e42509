package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"georisk/internal/alerts"
	"georisk/internal/config"
	"georisk/internal/geofence"
	"georisk/internal/logging"
	"georisk/internal/model"
	"georisk/internal/status"
	"georisk/internal/storage"
	"georisk/internal/zones"
)

var (
	ErrDuplicateSample  = errors.New("duplicate sample")
	ErrInaccurateSample = errors.New("sample accuracy above limit")
)

const unknownDevice = "default"

// ZoneSource hands out the zone list for one evaluation cycle.
type ZoneSource interface {
	Zones(ctx context.Context) zones.Snapshot
}

// Broadcaster pushes status changes to live subscribers.
type Broadcaster interface {
	Broadcast(st model.ZoneStatus)
}

type Deps struct {
	Alerts      *alerts.Store
	Status      *status.Store
	Store       storage.Store
	Zones       ZoneSource
	Notifier    geofence.Notifier
	Broadcaster Broadcaster
	Fallback    []model.RiskZone
}

// Engine hosts one geofence coordinator per device and feeds it samples from
// the ingest channel and the poller.
type Engine struct {
	logger   *slog.Logger
	deps     Deps
	cfg      atomic.Value
	fallback atomic.Value
	devices  map[string]*DeviceSession
	mu       sync.Mutex
	started  time.Time
	recent   *recentSamples
	now      func() time.Time
	newID    func() string
}

// DeviceSession serialises updates for one device.
type DeviceSession struct {
	mu          sync.Mutex
	id          string
	coordinator *geofence.Coordinator
	last        model.PositionSample
	hasLast     bool
	lastEval    time.Time
}

// DeviceState is the externally visible view of a session.
type DeviceState struct {
	DeviceID    string                `json:"device_id"`
	State       geofence.State        `json:"state"`
	LastSample  *model.PositionSample `json:"last_sample,omitempty"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
}

func NewEngine(cfg *config.Config, logger *slog.Logger, deps Deps) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	if deps.Status == nil {
		deps.Status = status.NewStore(cfg.Status.StoreLimit)
	}
	e := &Engine{
		logger:  logger,
		deps:    deps,
		devices: make(map[string]*DeviceSession),
		started: time.Now().UTC(),
		recent:  newRecentSamples(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	e.cfg.Store(cfg)
	e.fallback.Store(deps.Fallback)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	if p, ok := e.deps.Zones.(interface{ SetFilter(zones.Filter) }); ok {
		p.SetFilter(zones.FilterFromConfig(cfg.Zones))
	}
}

// SetFallbackZones replaces the degraded-mode zones for every device.
func (e *Engine) SetFallbackZones(list []model.RiskZone) {
	e.fallback.Store(list)
	e.mu.Lock()
	sessions := make([]*DeviceSession, 0, len(e.devices))
	for _, s := range e.devices {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		s.mu.Lock()
		s.coordinator.SetFallbackZones(list)
		s.mu.Unlock()
	}
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) fallbackZones() []model.RiskZone {
	if v, ok := e.fallback.Load().([]model.RiskZone); ok {
		return v
	}
	return nil
}

// Preferences implements geofence.PreferenceSource from the live config.
func (e *Engine) Preferences() geofence.Preferences {
	return PreferencesFromConfig(e.config().Monitor)
}

func PreferencesFromConfig(m config.MonitorConfig) geofence.Preferences {
	prefs := geofence.Preferences{
		NotificationsEnabled: m.NotificationsEnabled,
		CooldownWindow:       m.AlertCooldown,
		Mode:                 geofence.ZoneRadius(m.DefaultRadiusM),
	}
	if m.MatchMode == config.MatchModeFixedProximity {
		prefs.Mode = geofence.FixedProximity(m.ProximityRadiusM)
	}
	return prefs
}

func (e *Engine) Start(ctx context.Context, in <-chan model.PositionSample) {
	go func() {
		for {
			select {
			case sample := <-in:
				_, err := e.ProcessSample(ctx, sample)
				e.logResult(sample, err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) logResult(sample model.PositionSample, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateSample), errors.Is(err, ErrInaccurateSample):
		e.logger.Debug("sample dropped", "device_id", sample.DeviceID, "reason", err.Error())
	case errors.Is(err, geofence.ErrInvalidPosition):
		e.logger.Warn("invalid sample", "device_id", sample.DeviceID, "error", err)
	default:
		e.logger.Error("sample processing failed", "device_id", sample.DeviceID, "error", err)
	}
}

// ProcessSample runs one evaluation cycle for the sample's device. Duplicate and
// inaccurate samples are dropped before they reach the coordinator.
func (e *Engine) ProcessSample(ctx context.Context, sample model.PositionSample) (geofence.Evaluation, error) {
	cfg := e.config()
	now := e.now()
	if sample.DeviceID == "" {
		sample.DeviceID = unknownDevice
	}
	sample.Timestamp = clampTimestamp(sample.Timestamp, now, cfg.Monitor.MaxClockSkew, cfg.Monitor.MaxFutureSkew)

	if cfg.Monitor.MaxAccuracyM > 0 && sample.AccuracyMeters > cfg.Monitor.MaxAccuracyM {
		return geofence.Evaluation{}, ErrInaccurateSample
	}
	if e.isDuplicate(sample, now, cfg.Monitor.DedupeWindow) {
		return geofence.Evaluation{}, ErrDuplicateSample
	}
	return e.evaluate(ctx, e.session(sample.DeviceID), sample)
}

func (e *Engine) evaluate(ctx context.Context, sess *DeviceSession, sample model.PositionSample) (geofence.Evaluation, error) {
	var snap zones.Snapshot
	if e.deps.Zones != nil {
		snap = e.deps.Zones.Zones(ctx)
	}
	if snap.Err != nil {
		e.logger.Warn("zone source degraded",
			"device_id", sample.DeviceID,
			"origin", snap.Origin,
			"stale", snap.Stale,
			"error", snap.Err,
		)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	eval, err := sess.coordinator.OnPositionUpdate(ctx, sample, snap.Zones)
	if errors.Is(err, geofence.ErrInvalidPosition) || errors.Is(err, geofence.ErrInvalidMode) {
		return eval, err
	}
	sess.last = sample
	sess.hasLast = true
	sess.lastEval = e.now()
	if err != nil {
		e.logger.Warn("alert delivery failed",
			"device_id", sample.DeviceID,
			"transition", eval.Transition,
			"error", err,
		)
	}
	return eval, err
}

// Reevaluate runs a cycle for every device at its last known position. The
// poll sample stays on the device's clock: its timestamp is the last sample's
// plus the engine time elapsed since that evaluation, so cooldowns never
// compare device time against server time. Devices evaluated within minAge are
// skipped.
func (e *Engine) Reevaluate(ctx context.Context, minAge time.Duration) int {
	now := e.now()
	n := 0
	for _, sess := range e.sessions() {
		sess.mu.Lock()
		sample, ok := sess.last, sess.hasLast
		elapsed := now.Sub(sess.lastEval)
		sess.mu.Unlock()
		if !ok || (minAge > 0 && elapsed < minAge) {
			continue
		}
		if elapsed > 0 {
			sample.Timestamp = sample.Timestamp.Add(elapsed)
		}
		sample.Source = "poll"
		if _, err := e.evaluate(ctx, sess, sample); err != nil {
			e.logResult(sample, err)
		}
		n++
	}
	return n
}

func (e *Engine) session(deviceID string) *DeviceSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.devices[deviceID]; ok {
		return s
	}
	s := &DeviceSession{id: deviceID}
	s.coordinator = geofence.NewCoordinator(geofence.Options{
		DeviceID:      deviceID,
		FallbackZones: e.fallbackZones(),
		Preferences:   e,
		Clock:         e.now,
		Logger:        e.logger,
	}, geofence.Sinks{
		Notifier: e.deps.Notifier,
		History:  historySink{e},
		Status:   statusSink{e},
	})
	e.devices[deviceID] = s
	return s
}

func (e *Engine) sessions() []*DeviceSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*DeviceSession, 0, len(e.devices))
	for _, s := range e.devices {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Devices lists the tracked devices ordered by ID.
func (e *Engine) Devices() []DeviceState {
	sessions := e.sessions()
	out := make([]DeviceState, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		ds := DeviceState{DeviceID: s.id, State: s.coordinator.State(), EvaluatedAt: s.lastEval}
		if s.hasLast {
			last := s.last
			ds.LastSample = &last
		}
		s.mu.Unlock()
		out = append(out, ds)
	}
	return out
}

// ResetDevice clears the zone state of one device, as on a tracking restart.
func (e *Engine) ResetDevice(deviceID string) bool {
	e.mu.Lock()
	s, ok := e.devices[deviceID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	s.coordinator.Reset()
	s.mu.Unlock()
	return true
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.devices = make(map[string]*DeviceSession)
	e.mu.Unlock()
	e.recent.Clear()
}

func (e *Engine) StartedAt() time.Time {
	return e.started
}

type historySink struct{ e *Engine }

func (h historySink) Append(ctx context.Context, ev model.AlertEvent) error {
	rec := model.AlertRecord{ID: h.e.newID(), AlertEvent: ev, RecordedAt: h.e.now()}
	h.e.deps.Alerts.Add(rec)
	if h.e.deps.Store != nil {
		return h.e.deps.Store.SaveAlert(ctx, rec)
	}
	return nil
}

type statusSink struct{ e *Engine }

func (s statusSink) PublishStatus(ctx context.Context, st model.ZoneStatus) error {
	s.e.deps.Status.Update(st)
	if s.e.deps.Broadcaster != nil {
		s.e.deps.Broadcaster.Broadcast(st)
	}
	if s.e.deps.Store != nil {
		return s.e.deps.Store.SaveStatus(ctx, st)
	}
	return nil
}

func (e *Engine) isDuplicate(sample model.PositionSample, now time.Time, dedupeWindow time.Duration) bool {
	if dedupeWindow <= 0 {
		return false
	}
	return e.recent.Seen(hashSample(sample), now, dedupeWindow)
}

func hashSample(s model.PositionSample) string {
	h := sha256.New()
	h.Write([]byte(s.DeviceID))
	h.Write([]byte{'|'})
	h.Write(strconv.AppendFloat(nil, s.Coordinate.Latitude, 'f', 7, 64))
	h.Write([]byte{'|'})
	h.Write(strconv.AppendFloat(nil, s.Coordinate.Longitude, 'f', 7, 64))
	h.Write([]byte{'|'})
	h.Write([]byte(s.Timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}
