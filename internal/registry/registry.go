// Package registry manages persistent IDs and custom names for directly
// attached label printers (network and serial)
package registry

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/thereceipt/label-engine/internal/logging"
)

// Device types
const (
	TypeNetwork = "network"
	TypeSerial  = "serial"
)

// Registry manages printer identities and custom names
type Registry struct {
	filePath string
	data     map[string]*PrinterEntry
	mu       sync.RWMutex
}

// PrinterEntry stores persistent information about a printer
type PrinterEntry struct {
	ID          string `json:"id"`
	IdentityKey string `json:"identity_key"`
	Type        string `json:"type"` // network, serial
	Device      string `json:"device,omitempty"`
	Baud        int    `json:"baud,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Description string `json:"description"`
	Name        string `json:"name,omitempty"` // Custom user-set name
}

// PrinterInfo describes a printer to register
type PrinterInfo struct {
	Type        string
	Description string
	Device      string
	Baud        int
	Host        string
	Port        int
}

// New creates a new Registry backed by filePath
func New(filePath string) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*PrinterEntry),
	}

	if err := r.load(); err != nil {
		// A missing file is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// Address returns the canonical device address of the entry
func (e *PrinterEntry) Address() string {
	switch e.Type {
	case TypeNetwork:
		return fmt.Sprintf("tcp://%s:%d", e.Host, e.Port)
	case TypeSerial:
		return "serial:" + e.Device
	}
	return e.ID
}

// DisplayName is the custom name if set, otherwise the address
func (e *PrinterEntry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Address()
}

// GetPrinterID gets or creates a persistent ID for a printer
func (r *Registry) GetPrinterID(info PrinterInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	identityKey := generateIdentityKey(info)

	if entry, exists := r.data[identityKey]; exists {
		return entry.ID
	}

	entry := &PrinterEntry{
		ID:          uuid.New().String(),
		IdentityKey: identityKey,
		Type:        info.Type,
		Device:      info.Device,
		Baud:        info.Baud,
		Host:        info.Host,
		Port:        info.Port,
		Description: info.Description,
	}
	r.data[identityKey] = entry

	r.saveOrWarn()

	return entry.ID
}

// GetPrinterName gets the custom name for a printer, or empty string if not set
func (r *Registry) GetPrinterName(printerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.data {
		if entry.ID == printerID {
			return entry.Name
		}
	}
	return ""
}

// SetPrinterName sets a custom name for a printer
func (r *Registry) SetPrinterName(printerID string, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.data {
		if entry.ID == printerID {
			entry.Name = name
			r.saveOrWarn()
			return true
		}
	}
	return false
}

// GetPrinterInfo gets all stored information for a printer
func (r *Registry) GetPrinterInfo(printerID string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.data {
		if entry.ID == printerID {
			entryCopy := *entry
			return &entryCopy
		}
	}
	return nil
}

// Lookup finds an entry of the given type by ID, custom name or address
func (r *Registry) Lookup(printerType, name string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.data {
		if entry.Type != printerType {
			continue
		}
		if entry.ID == name || (entry.Name != "" && entry.Name == name) || entry.Address() == name {
			entryCopy := *entry
			return &entryCopy
		}
	}
	return nil
}

// RemovePrinter removes a printer from the registry
func (r *Registry) RemovePrinter(printerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.data {
		if entry.ID == printerID {
			delete(r.data, key)
			r.saveOrWarn()
			return true
		}
	}
	return false
}

// GetAll returns all registered printers
func (r *Registry) GetAll() map[string]*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*PrinterEntry, len(r.data))
	for k, v := range r.data {
		entryCopy := *v
		result[k] = &entryCopy
	}
	return result
}

// ByType returns copies of all entries of one type, ordered by display name
func (r *Registry) ByType(printerType string) []*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*PrinterEntry
	for _, v := range r.data {
		if v.Type == printerType {
			entryCopy := *v
			result = append(result, &entryCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DisplayName() < result[j].DisplayName()
	})
	return result
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(r.filePath, data, 0644)
}

// saveOrWarn persists the registry; failures keep the in-memory state
func (r *Registry) saveOrWarn() {
	if r.filePath == "" {
		return
	}
	if err := r.save(); err != nil {
		logging.Logger().Warn("failed to save printer registry", "path", r.filePath, "error", err)
	}
}

// generateIdentityKey creates a unique key for a printer based on its characteristics
func generateIdentityKey(info PrinterInfo) string {
	switch info.Type {
	case TypeSerial:
		if info.Device != "" {
			return fmt.Sprintf("serial:%s", info.Device)
		}
	case TypeNetwork:
		if info.Host != "" {
			return fmt.Sprintf("network:%s:%d", info.Host, info.Port)
		}
	}

	// Fallback: hash the description
	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}
