package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"georisk/internal/config"
	"georisk/internal/geofence"
	"georisk/internal/model"
	"georisk/internal/notify"
	"georisk/internal/storage"
	"georisk/internal/zones"
)

var (
	plaza   = model.Coordinate{Latitude: -16.3988, Longitude: -71.5369}
	faraway = model.Coordinate{Latitude: -16.3500, Longitude: -71.4500}
	hotZone = model.RiskZone{ID: "plaza", Center: plaza, RadiusMeters: 150, RiskScore: 0.9}
	clock   = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
)

type fakeZones struct {
	mu   sync.Mutex
	snap zones.Snapshot
}

func (f *fakeZones) Zones(context.Context) zones.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeZones) set(list ...model.RiskZone) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = zones.Snapshot{Zones: list, Origin: zones.OriginRemote}
}

type countingNotifier struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (c *countingNotifier) Notify(_ context.Context, ev model.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type recordingBroadcaster struct {
	statuses []model.ZoneStatus
}

func (r *recordingBroadcaster) Broadcast(st model.ZoneStatus) {
	r.statuses = append(r.statuses, st)
}

type harness struct {
	eng      *Engine
	zones    *fakeZones
	notifier *countingNotifier
	hub      *recordingBroadcaster
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Monitor.DedupeWindow = 2 * time.Second
	cfg.Monitor.MaxAccuracyM = 100
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, store storage.Store, fallback ...model.RiskZone) *harness {
	t.Helper()
	h := &harness{zones: &fakeZones{}, notifier: &countingNotifier{}, hub: &recordingBroadcaster{}}
	h.zones.set(hotZone)
	h.eng = NewEngine(cfg, nil, Deps{
		Store:       store,
		Zones:       h.zones,
		Notifier:    h.notifier,
		Broadcaster: h.hub,
		Fallback:    fallback,
	})
	h.eng.now = func() time.Time { return clock }
	return h
}

func sample(device string, c model.Coordinate, ts time.Time) model.PositionSample {
	return model.PositionSample{DeviceID: device, Coordinate: c, Timestamp: ts, AccuracyMeters: 8}
}

func TestEngineRecordsAlertOnEntry(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	eval, err := h.eng.ProcessSample(context.Background(), sample("phone-1", plaza, clock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Event == nil || eval.Event.Zone.ID != "plaza" {
		t.Fatalf("expected alert for plaza, got %+v", eval)
	}
	recs := h.eng.deps.Alerts.List("", 0)
	if len(recs) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(recs))
	}
	if _, err := uuid.Parse(recs[0].ID); err != nil {
		t.Fatalf("record id is not a uuid: %q", recs[0].ID)
	}
	st, ok := h.eng.deps.Status.Get("phone-1")
	if !ok || !st.Inside || st.ZoneID != "plaza" {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(h.hub.statuses) != 1 || h.notifier.count() != 1 {
		t.Fatalf("expected one broadcast and one notification")
	}
}

func TestEngineDropsDuplicateAndInaccurateSamples(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	s := sample("phone-1", faraway, clock)
	if _, err := h.eng.ProcessSample(ctx, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.eng.ProcessSample(ctx, s); !errors.Is(err, ErrDuplicateSample) {
		t.Fatalf("expected ErrDuplicateSample, got %v", err)
	}
	blurry := sample("phone-1", plaza, clock.Add(time.Second))
	blurry.AccuracyMeters = 500
	if _, err := h.eng.ProcessSample(ctx, blurry); !errors.Is(err, ErrInaccurateSample) {
		t.Fatalf("expected ErrInaccurateSample, got %v", err)
	}
	if h.notifier.count() != 0 {
		t.Fatalf("dropped samples must not alert")
	}
}

func TestEngineRejectsInvalidPosition(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, err := h.eng.ProcessSample(context.Background(), sample("phone-1", model.Coordinate{Latitude: 91}, clock))
	if !errors.Is(err, geofence.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if devs := h.eng.Devices(); len(devs) != 1 || devs[0].LastSample != nil {
		t.Fatalf("invalid sample must not become the last position: %+v", devs)
	}
}

func TestEngineDevicesAreIndependent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	for _, id := range []string{"phone-1", "phone-2"} {
		if _, err := h.eng.ProcessSample(ctx, sample(id, plaza, clock)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if h.notifier.count() != 2 {
		t.Fatalf("expected one alert per device, got %d", h.notifier.count())
	}
	devs := h.eng.Devices()
	if len(devs) != 2 || devs[0].DeviceID != "phone-1" || devs[0].State.CurrentZoneID != "plaza" {
		t.Fatalf("unexpected devices %+v", devs)
	}
}

func TestEngineFallsBackWhenZonesUnavailable(t *testing.T) {
	h := newHarness(t, testConfig(), nil, hotZone)
	h.zones.snap = zones.Snapshot{Origin: zones.OriginNone, Err: zones.ErrUnavailable}
	eval, err := h.eng.ProcessSample(context.Background(), sample("phone-1", plaza, clock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eval.Degraded || eval.Event == nil {
		t.Fatalf("expected degraded alert from fallback zones, got %+v", eval)
	}
}

func TestEngineReevaluatePicksUpNewZones(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	stop := model.Coordinate{Latitude: -16.4090, Longitude: -71.5375}
	if _, err := h.eng.ProcessSample(ctx, sample("phone-1", stop, clock)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.notifier.count() != 0 {
		t.Fatalf("no zone covers the stop yet")
	}
	h.zones.set(hotZone, model.RiskZone{ID: "bridge", Center: stop, RadiusMeters: 100, RiskScore: 0.8})
	h.eng.now = func() time.Time { return clock.Add(5 * time.Minute) }
	if n := h.eng.Reevaluate(ctx, 0); n != 1 {
		t.Fatalf("expected 1 device re-evaluated, got %d", n)
	}
	if h.notifier.count() != 1 || h.notifier.events[0].Zone.ID != "bridge" {
		t.Fatalf("expected alert for bridge after re-evaluation")
	}
	if n := h.eng.Reevaluate(ctx, time.Minute); n != 0 {
		t.Fatalf("recently evaluated devices should be skipped, got %d", n)
	}
}

func TestEngineUpdateConfigDisablesNotifications(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, nil)
	next := *cfg
	next.Monitor.NotificationsEnabled = false
	h.eng.UpdateConfig(&next)
	eval, err := h.eng.ProcessSample(context.Background(), sample("phone-1", plaza, clock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Event != nil || eval.Suppressed != geofence.SuppressedNotifications {
		t.Fatalf("expected suppressed evaluation, got %+v", eval)
	}
	if st, _ := h.eng.deps.Status.Get("phone-1"); !st.Inside {
		t.Fatalf("status should still track the zone")
	}
}

func TestEngineResetDevice(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	_, _ = h.eng.ProcessSample(ctx, sample("phone-1", plaza, clock))
	if !h.eng.ResetDevice("phone-1") {
		t.Fatalf("expected device to be known")
	}
	if h.eng.ResetDevice("ghost") {
		t.Fatalf("unknown device should not reset")
	}
	_, _ = h.eng.ProcessSample(ctx, sample("phone-1", plaza, clock.Add(time.Second)))
	if h.notifier.count() != 2 {
		t.Fatalf("expected a fresh alert after reset, got %d", h.notifier.count())
	}
	h.eng.Reset()
	if len(h.eng.Devices()) != 0 {
		t.Fatalf("expected no devices after reset")
	}
}

func TestEnginePersistsToStorage(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "engine.db")
	store, err := storage.NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	h := newHarness(t, testConfig(), store)
	if _, err := h.eng.ProcessSample(context.Background(), sample("phone-1", plaza, clock)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs, err := store.ListAlerts(context.Background(), "phone-1", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(recs) != 1 || recs[0].Zone.ID != "plaza" {
		t.Fatalf("expected persisted alert, got %+v", recs)
	}
}

func TestPreferencesFromConfig(t *testing.T) {
	m := config.DefaultConfig().Monitor
	prefs := PreferencesFromConfig(m)
	if prefs.Mode.Kind != geofence.KindZoneRadius || prefs.CooldownWindow != 3*time.Minute {
		t.Fatalf("unexpected default preferences %+v", prefs)
	}
	m.MatchMode = config.MatchModeFixedProximity
	m.ProximityRadiusM = 250
	prefs = PreferencesFromConfig(m)
	if prefs.Mode.Kind != geofence.KindFixedProximity || prefs.Mode.ProximityMeters != 250 {
		t.Fatalf("unexpected proximity mode %+v", prefs.Mode)
	}
}

func TestClampTimestamp(t *testing.T) {
	now := clock
	if got := clampTimestamp(time.Time{}, now, time.Minute, time.Minute); !got.Equal(now) {
		t.Fatalf("zero timestamp should become now")
	}
	if got := clampTimestamp(now.Add(-time.Hour), now, time.Minute, 0); !got.Equal(now) {
		t.Fatalf("stale timestamp should be clamped")
	}
	if got := clampTimestamp(now.Add(time.Hour), now, 0, time.Minute); !got.Equal(now) {
		t.Fatalf("future timestamp should be clamped")
	}
	in := now.Add(-30 * time.Second)
	if got := clampTimestamp(in, now, time.Minute, time.Minute); !got.Equal(in) {
		t.Fatalf("timestamp within skew should be kept")
	}
}

func TestPollerReevaluatesOnInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.PollInterval = 20 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.eng.now = func() time.Time { return time.Now().UTC() }

	stop := model.Coordinate{Latitude: -16.4090, Longitude: -71.5375}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := h.eng.ProcessSample(ctx, sample("phone-1", stop, time.Now().UTC())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.zones.set(model.RiskZone{ID: "bridge", Center: stop, RadiusMeters: 100, RiskScore: 0.8})
	NewPoller(h.eng).Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for h.notifier.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("poller never re-evaluated the device")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineLowRiskZoneRecordedButNotNotified(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.eng.deps.Notifier = notify.NewLevelGate(model.RiskMedium, h.notifier)
	h.zones.set(model.RiskZone{ID: "quiet", Center: plaza, RadiusMeters: 150, RiskScore: 0.2})

	eval, err := h.eng.ProcessSample(context.Background(), sample("phone-1", plaza, clock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.Event == nil {
		t.Fatalf("expected an alert event for the low-risk zone")
	}
	if h.notifier.count() != 0 {
		t.Fatalf("low-risk zone must not be notified")
	}
	if recs := h.eng.deps.Alerts.List("phone-1", 0); len(recs) != 1 || recs[0].Zone.ID != "quiet" {
		t.Fatalf("expected low-risk alert in history, got %+v", recs)
	}
}

func TestEngineReevaluateKeepsDeviceClock(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	lag := 5 * time.Minute
	stop := model.Coordinate{Latitude: -16.4090, Longitude: -71.5375}
	at := func(engine time.Duration) { h.eng.now = func() time.Time { return clock.Add(engine) } }

	at(0)
	if _, err := h.eng.ProcessSample(ctx, sample("phone-1", stop, clock.Add(-lag))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.zones.set(hotZone, model.RiskZone{ID: "bridge", Center: stop, RadiusMeters: 100, RiskScore: 0.8})
	at(time.Minute)
	h.eng.Reevaluate(ctx, 0)
	if h.notifier.count() != 1 {
		t.Fatalf("expected poll to alert for bridge")
	}
	if got, want := h.notifier.events[0].OccurredAt, clock.Add(-lag+time.Minute); !got.Equal(want) {
		t.Fatalf("poll alert stamped %s, want device time %s", got, want)
	}

	at(2 * time.Minute)
	if _, err := h.eng.ProcessSample(ctx, sample("phone-1", faraway, clock.Add(-lag+2*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	at(4 * time.Minute)
	if _, err := h.eng.ProcessSample(ctx, sample("phone-1", plaza, clock.Add(-lag+4*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.notifier.count() != 2 {
		t.Fatalf("expected alert once the cooldown elapsed on the device clock, got %d", h.notifier.count())
	}
}
