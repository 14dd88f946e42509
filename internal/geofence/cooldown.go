package geofence

import "time"

// Cooldown tracks the time of the last emitted alert. The zero value has never
// alerted and is ready immediately.
type Cooldown struct {
	last time.Time
}

func (c *Cooldown) Ready(now time.Time, window time.Duration) bool {
	if window <= 0 || c.last.IsZero() {
		return true
	}
	return now.Sub(c.last) >= window
}

// Mark records an emission. The timestamp never moves backwards.
func (c *Cooldown) Mark(now time.Time) {
	if now.After(c.last) {
		c.last = now
	}
}

func (c *Cooldown) Last() time.Time {
	return c.last
}

func (c *Cooldown) Reset() {
	c.last = time.Time{}
}
