package alerts

import (
	"fmt"
	"testing"
	"time"

	"georisk/internal/model"
)

func record(i int, device string, level model.RiskLevel, at time.Time) model.AlertRecord {
	return model.AlertRecord{
		ID: fmt.Sprintf("r%d", i),
		AlertEvent: model.AlertEvent{
			DeviceID:   device,
			Zone:       model.RiskZone{ID: fmt.Sprintf("z%d", i), RiskLevel: level},
			OccurredAt: at,
		},
	}
}

func TestStoreNewestFirstAndBounded(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Add(record(i, "phone-1", model.RiskHigh, base.Add(time.Duration(i)*time.Minute)))
	}
	list := s.List("", 0)
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if list[0].ID != "r4" || list[2].ID != "r2" {
		t.Fatalf("unexpected order %s..%s", list[0].ID, list[2].ID)
	}
	if got := s.List("", 2); len(got) != 2 || got[0].ID != "r4" {
		t.Fatalf("limit not applied: %+v", got)
	}
}

func TestStoreFilters(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s.Add(record(1, "phone-1", model.RiskHigh, base))
	s.Add(record(2, "phone-2", model.RiskMedium, base.Add(time.Hour)))
	s.Add(record(3, "phone-1", model.RiskMedium, base.Add(2*time.Hour)))

	if got := s.List("phone-1", 0); len(got) != 2 {
		t.Fatalf("expected 2 records for phone-1, got %d", len(got))
	}
	if got := s.Since(base.Add(time.Hour)); len(got) != 2 {
		t.Fatalf("expected 2 records since base+1h, got %d", len(got))
	}
	counts := s.CountByLevel()
	if counts[model.RiskHigh] != 1 || counts[model.RiskMedium] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
	s.Clear()
	if len(s.List("", 0)) != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
