package printer

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tarm/serial"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/registry"
	"github.com/thereceipt/label-engine/internal/tspl"
)

const (
	serialPrefix      = "serial:"
	DefaultSerialBaud = 9600 // Default baud rate for most thermal printers
)

// SerialBackend writes raw jobs to serial ports
type SerialBackend struct {
	registry *registry.Registry
	scan     bool
}

// NewSerialBackend lists ports saved in reg, plus USB serial adapters found
// on the system when scan is set
func NewSerialBackend(reg *registry.Registry, scan bool) *SerialBackend {
	return &SerialBackend{registry: reg, scan: scan}
}

// AddPrinter registers a serial device and returns its device name
func (s *SerialBackend) AddPrinter(device string, baud int) (string, error) {
	if device == "" {
		return "", fmt.Errorf("device is required")
	}
	if baud <= 0 {
		baud = DefaultSerialBaud
	}

	id := s.registry.GetPrinterID(registry.PrinterInfo{
		Type:        registry.TypeSerial,
		Device:      device,
		Baud:        baud,
		Description: fmt.Sprintf("Serial: %s", filepath.Base(device)),
	})
	return s.registry.GetPrinterInfo(id).DisplayName(), nil
}

func (s *SerialBackend) Name() string {
	return "serial"
}

func (s *SerialBackend) ListDevices(ctx context.Context) ([]string, error) {
	var names []string
	known := make(map[string]bool)
	for _, entry := range s.registry.ByType(registry.TypeSerial) {
		names = append(names, entry.DisplayName())
		known[entry.Device] = true
	}

	if s.scan {
		for _, port := range scanPorts() {
			if !known[port] {
				names = append(names, serialPrefix+port)
			}
		}
	}
	return names, nil
}

func (s *SerialBackend) Owns(name string) bool {
	if strings.HasPrefix(name, serialPrefix) {
		return true
	}
	return s.registry.Lookup(registry.TypeSerial, name) != nil
}

func (s *SerialBackend) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	device, baud := s.resolve(name)
	if device == "" {
		return Result{}, fmt.Errorf("%w: unknown serial printer %q", labelerr.ErrDeviceUnavailable, name)
	}

	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to open serial port: %v", labelerr.ErrDeviceUnavailable, err)
	}
	defer port.Close()

	if _, err := port.Write(data); err != nil {
		return Result{}, fmt.Errorf("%w: failed to write to serial printer: %v", labelerr.ErrDeviceIO, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("sent %d bytes to %s at %d baud", len(data), device, baud),
	}, nil
}

func (s *SerialBackend) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	return encodeAndSend(ctx, s, name, img, cfg)
}

func (s *SerialBackend) resolve(name string) (string, int) {
	if entry := s.registry.Lookup(registry.TypeSerial, name); entry != nil {
		baud := entry.Baud
		if baud <= 0 {
			baud = DefaultSerialBaud
		}
		return entry.Device, baud
	}
	return strings.TrimPrefix(name, serialPrefix), DefaultSerialBaud
}

// scanPorts finds likely USB serial adapters without opening them
func scanPorts() []string {
	var patterns []string
	switch runtime.GOOS {
	case "darwin":
		patterns = []string{"/dev/cu.usbserial*", "/dev/cu.usbmodem*"}
	case "linux":
		patterns = []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
	default:
		// COM ports cannot be globbed; register them explicitly
		return nil
	}

	var ports []string
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		ports = append(ports, matches...)
	}
	return ports
}
