package status

import (
	"sort"
	"sync"
	"time"

	"georisk/internal/model"
)

// Store keeps the latest zone status per device. When the device count exceeds
// the limit, the device updated least recently is evicted.
type Store struct {
	mu        sync.RWMutex
	byDevice  map[string]model.ZoneStatus
	updatedAt map[string]time.Time
	limit     int
	now       func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byDevice:  make(map[string]model.ZoneStatus),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Update(st model.ZoneStatus) {
	if st.DeviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice[st.DeviceID] = st
	s.updatedAt[st.DeviceID] = s.now()
	if len(s.byDevice) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(deviceID string) (model.ZoneStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byDevice[deviceID]
	return st, ok
}

// GetAll returns every status ordered by device ID.
func (s *Store) GetAll() []model.ZoneStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ZoneStatus, 0, len(s.byDevice))
	for _, st := range s.byDevice {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Store) Delete(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDevice, deviceID)
	delete(s.updatedAt, deviceID)
}

func (s *Store) evictOldest() {
	var oldestDevice string
	var oldest time.Time
	for device, ts := range s.updatedAt {
		if oldestDevice == "" || ts.Before(oldest) {
			oldestDevice = device
			oldest = ts
		}
	}
	if oldestDevice != "" {
		delete(s.byDevice, oldestDevice)
		delete(s.updatedAt, oldestDevice)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice = make(map[string]model.ZoneStatus)
	s.updatedAt = make(map[string]time.Time)
}
