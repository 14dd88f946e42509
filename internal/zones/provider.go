package zones

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"georisk/internal/model"
)

type Source interface {
	FetchZones(ctx context.Context, f Filter) ([]model.RiskZone, error)
}

type Origin string

const (
	OriginRemote Origin = "remote"
	OriginCache  Origin = "cache"
	OriginNone   Origin = "none"
)

// Snapshot is the zone list handed to one evaluation cycle.
type Snapshot struct {
	Zones     []model.RiskZone
	Origin    Origin
	FetchedAt time.Time
	Stale     bool
	Err       error
}

// Provider caches the remote zone list for RefreshInterval. When a refresh
// fails it keeps serving the last good list marked stale; with nothing cached it
// returns an empty snapshot carrying the error, and the coordinator falls back
// to its static zones.
type Provider struct {
	source  Source
	filter  Filter
	refresh time.Duration
	clock   func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	cached    []model.RiskZone
	fetchedAt time.Time
	lastTry   time.Time
	lastErr   error
	fetching  bool
}

func NewProvider(source Source, f Filter, refresh time.Duration, logger *slog.Logger) *Provider {
	return &Provider{
		source:  source,
		filter:  f,
		refresh: refresh,
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// Zones returns the current snapshot, refreshing from the source when the
// interval has passed. Only one caller fetches at a time and the lock is not
// held during the fetch; concurrent callers get the cached snapshot meanwhile.
func (p *Provider) Zones(ctx context.Context) Snapshot {
	if p == nil || p.source == nil {
		return Snapshot{Origin: OriginNone}
	}
	p.mu.Lock()
	now := p.clock()
	due := p.lastTry.IsZero() || p.refresh <= 0 || now.Sub(p.lastTry) >= p.refresh
	if !due || p.fetching {
		defer p.mu.Unlock()
		return p.cachedSnapshot()
	}
	p.fetching = true
	p.lastTry = now
	f := p.filter
	p.mu.Unlock()

	list, err := p.source.FetchZones(ctx, f)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetching = false
	if err == nil {
		p.cached = list
		p.fetchedAt = now
		p.lastErr = nil
		return Snapshot{Zones: list, Origin: OriginRemote, FetchedAt: now}
	}
	p.lastErr = err
	if p.logger != nil {
		p.logger.Warn("zone refresh failed", "err", err, "cached", len(p.cached))
	}
	return p.cachedSnapshot()
}

// cachedSnapshot must be called with p.mu held.
func (p *Provider) cachedSnapshot() Snapshot {
	if p.fetchedAt.IsZero() {
		return Snapshot{Origin: OriginNone, Err: p.lastErr}
	}
	return Snapshot{Zones: p.cached, Origin: OriginCache, FetchedAt: p.fetchedAt, Stale: p.lastErr != nil, Err: p.lastErr}
}

// Invalidate forces the next call to refresh.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.lastTry = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) SetFilter(f Filter) {
	p.mu.Lock()
	p.filter = f
	p.lastTry = time.Time{}
	p.mu.Unlock()
}
