package printer

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/tspl"
)

// Device is a listed printer and the backend serving it
type Device struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
}

// Manager routes jobs across an ordered list of backends
type Manager struct {
	backends []Backend
	mu       sync.RWMutex

	// Event callbacks
	onPrinterAdded   func(Device)
	onPrinterRemoved func(Device)
}

// NewManager creates a manager; earlier backends win ownership ties
func NewManager(backends ...Backend) *Manager {
	m := &Manager{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Backends returns the configured backends in routing order
func (m *Manager) Backends() []Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Backend, len(m.backends))
	copy(out, m.backends)
	return out
}

// Devices lists every device with the backend that owns it, sorted by name.
// A backend that fails to list is logged and skipped.
func (m *Manager) Devices(ctx context.Context) []Device {
	seen := make(map[string]bool)
	var devices []Device

	for _, b := range m.Backends() {
		names, err := b.ListDevices(ctx)
		if err != nil {
			logging.Logger().Warn("printer listing failed", "backend", b.Name(), "error", err)
			continue
		}
		for _, name := range names {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			owner := m.owner(name)
			if owner == nil {
				owner = b
			}
			devices = append(devices, Device{Name: name, Backend: owner.Name()})
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Name < devices[j].Name
	})
	return devices
}

// ListDevices returns the merged, sorted and deduplicated device names
func (m *Manager) ListDevices(ctx context.Context) []string {
	devices := m.Devices(ctx)
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names
}

// SendRaw delivers data to the backend owning name
func (m *Manager) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	b, err := m.route(name)
	if err != nil {
		return Result{}, err
	}

	logging.Logger().Info("sending print job", "printer", name, "backend", b.Name(), "bytes", len(data))
	return b.SendRaw(ctx, name, data)
}

// PrintImage prints img on the backend owning name
func (m *Manager) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	b, err := m.route(name)
	if err != nil {
		return Result{}, err
	}

	return b.PrintImage(ctx, name, img, cfg)
}

// OnPrinterAdded sets the callback for a device appearing in a listing
func (m *Manager) OnPrinterAdded(callback func(Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPrinterAdded = callback
}

// OnPrinterRemoved sets the callback for a device disappearing from a listing
func (m *Manager) OnPrinterRemoved(callback func(Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPrinterRemoved = callback
}

func (m *Manager) callbacks() (func(Device), func(Device)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onPrinterAdded, m.onPrinterRemoved
}

func (m *Manager) route(name string) (Backend, error) {
	if b := m.owner(name); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w: no backend for printer %q", labelerr.ErrDeviceUnavailable, name)
}

func (m *Manager) owner(name string) Backend {
	for _, b := range m.Backends() {
		if b.Owns(name) {
			return b
		}
	}
	return nil
}
