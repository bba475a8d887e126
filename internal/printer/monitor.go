package printer

import (
	"context"
	"sync"
	"time"

	"github.com/thereceipt/label-engine/internal/logging"
)

// Monitor continuously monitors for printer changes
type Monitor struct {
	manager  *Manager
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	previous map[string]Device
}

// NewMonitor creates a new printer monitor
func NewMonitor(manager *Manager, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		manager:  manager,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		previous: make(map[string]Device),
	}
}

// Start takes an initial snapshot and begins polling for changes. Devices
// present at start are not reported as added.
func (m *Monitor) Start() {
	for _, d := range m.manager.Devices(m.ctx) {
		m.previous[d.Name] = d
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.checkChanges()
			}
		}
	}()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) checkChanges() {
	current := make(map[string]Device)
	for _, d := range m.manager.Devices(m.ctx) {
		current[d.Name] = d
	}

	added, removed := m.manager.callbacks()

	for name, d := range current {
		if _, exists := m.previous[name]; exists {
			continue
		}
		logging.Logger().Info("printer added", "printer", name, "backend", d.Backend)
		if added != nil {
			added(d)
		}
	}
	for name, d := range m.previous {
		if _, exists := current[name]; exists {
			continue
		}
		logging.Logger().Info("printer removed", "printer", name, "backend", d.Backend)
		if removed != nil {
			removed(d)
		}
	}

	m.previous = current
}
