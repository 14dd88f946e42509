package engine

import (
	"testing"
	"time"
)

func TestRecentSamplesWindow(t *testing.T) {
	r := newRecentSamples()
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if r.Seen("a", t0, time.Second) {
		t.Fatalf("first sight reported as duplicate")
	}
	if !r.Seen("a", t0.Add(500*time.Millisecond), time.Second) {
		t.Fatalf("expected duplicate inside window")
	}
	if r.Seen("a", t0.Add(3*time.Second), time.Second) {
		t.Fatalf("expected key to expire after window")
	}
	if r.Len() != 1 {
		t.Fatalf("expected one live key, got %d", r.Len())
	}
}

func TestRecentSamplesBounded(t *testing.T) {
	r := newRecentSamples()
	r.max = 3
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for _, k := range []string{"a", "b", "c", "d"} {
		r.Seen(k, t0, time.Hour)
	}
	if r.Len() != 3 {
		t.Fatalf("expected cap of 3, got %d", r.Len())
	}
	if r.Seen("a", t0, time.Hour) {
		t.Fatalf("oldest key should have been evicted")
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty after clear")
	}
}
