package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Manager holds the live configuration. Readers call Get on every use so a
// reload or an API update is picked up without restarts.
type Manager struct {
	path string
	cur  atomic.Pointer[Config]

	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cur.Store(cfg)
	m.stamp()
	return m, nil
}

// NewStaticManager serves cfg without a backing file. Update keeps changes in memory.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cur.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if cfg := m.cur.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Update validates cfg, writes it to the backing file if there is one and
// makes it current.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		m.stamp()
	}
	m.cur.Store(cfg)
	return nil
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cur.Store(cfg)
	m.stamp()
	return cfg, nil
}

// changed reports whether the file was modified since the last load or save.
func (m *Manager) changed() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) stamp() {
	info, err := os.Stat(m.path)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.modTime = info.ModTime()
	m.mu.Unlock()
}

// Watch polls the backing file and reloads it when modified, until ctx ends.
// A file that fails to load keeps the previous config current.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onReload func(*Config), onError func(error)) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		changed, err := m.changed()
		if err != nil {
			report(err)
			continue
		}
		if !changed {
			continue
		}
		cfg, err := m.Reload()
		if err != nil {
			m.stamp()
			report(err)
			continue
		}
		if onReload != nil {
			onReload(cfg)
		}
	}
}
