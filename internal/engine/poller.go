package engine

import (
	"context"
	"time"
)

// Poller re-evaluates every device at its last known position on the
// configured poll interval, so refreshed zones take effect for devices that
// stopped reporting. The interval is read from the live config on every tick.
type Poller struct {
	engine *Engine
}

func NewPoller(e *Engine) *Poller {
	return &Poller{engine: e}
}

func (p *Poller) interval() time.Duration {
	return p.engine.config().Monitor.PollInterval
}

// Run blocks until ctx is done. A non-positive interval disables polling; the
// config is checked again a minute later.
func (p *Poller) Run(ctx context.Context) {
	for {
		interval := p.interval()
		wait := interval
		if wait <= 0 {
			wait = time.Minute
		}
		if !sleep(ctx, wait) {
			return
		}
		if interval <= 0 {
			continue
		}
		n := p.engine.Reevaluate(ctx, interval)
		p.engine.logger.Debug("poll cycle", "devices", n)
	}
}

func (p *Poller) Start(ctx context.Context) {
	go p.Run(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
