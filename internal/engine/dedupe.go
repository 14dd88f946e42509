package engine

import (
	"sync"
	"time"
)

const recentSamplesMax = 10000

type seenKey struct {
	key string
	at  time.Time
}

// recentSamples drops samples redelivered within a window. Keys expire in
// arrival order, so eviction only ever looks at the head of the queue.
type recentSamples struct {
	mu    sync.Mutex
	queue []seenKey
	last  map[string]time.Time
	max   int
}

func newRecentSamples() *recentSamples {
	return &recentSamples{last: make(map[string]time.Time), max: recentSamplesMax}
}

// Seen records key at now and reports whether it was already recorded within
// window.
func (r *recentSamples) Seen(key string, now time.Time, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expire(now, window)
	if at, ok := r.last[key]; ok && now.Sub(at) <= window {
		return true
	}
	r.last[key] = now
	r.queue = append(r.queue, seenKey{key: key, at: now})
	for len(r.queue) > r.max {
		r.pop()
	}
	return false
}

func (r *recentSamples) expire(now time.Time, window time.Duration) {
	for len(r.queue) > 0 && now.Sub(r.queue[0].at) > window {
		r.pop()
	}
}

// pop removes the head. The map entry goes only if it was not re-recorded later.
func (r *recentSamples) pop() {
	head := r.queue[0]
	r.queue = r.queue[1:]
	if at, ok := r.last[head.key]; ok && at.Equal(head.at) {
		delete(r.last, head.key)
	}
}

func (r *recentSamples) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}

func (r *recentSamples) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
	r.last = make(map[string]time.Time)
}
