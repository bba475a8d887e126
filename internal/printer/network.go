package printer

import (
	"context"
	"fmt"
	"image"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/registry"
	"github.com/thereceipt/label-engine/internal/tspl"
)

const (
	networkPrefix      = "tcp://"
	DefaultNetworkPort = 9100
	networkDialTimeout = 5 * time.Second
)

// NetworkBackend sends raw jobs to printers listening on a TCP port
type NetworkBackend struct {
	registry *registry.Registry
	timeout  time.Duration
}

// NewNetworkBackend lists and resolves network printers saved in reg
func NewNetworkBackend(reg *registry.Registry) *NetworkBackend {
	return &NetworkBackend{registry: reg, timeout: networkDialTimeout}
}

// AddPrinter registers host:port and returns its device name
func (n *NetworkBackend) AddPrinter(host string, port int) (string, error) {
	if host == "" {
		return "", fmt.Errorf("host is required")
	}
	if port == 0 {
		port = DefaultNetworkPort
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}

	id := n.registry.GetPrinterID(registry.PrinterInfo{
		Type:        registry.TypeNetwork,
		Host:        host,
		Port:        port,
		Description: fmt.Sprintf("Network: %s:%d", host, port),
	})
	return n.registry.GetPrinterInfo(id).DisplayName(), nil
}

func (n *NetworkBackend) Name() string {
	return "network"
}

func (n *NetworkBackend) ListDevices(ctx context.Context) ([]string, error) {
	var names []string
	for _, entry := range n.registry.ByType(registry.TypeNetwork) {
		names = append(names, entry.DisplayName())
	}
	return names, nil
}

func (n *NetworkBackend) Owns(name string) bool {
	if strings.HasPrefix(name, networkPrefix) {
		return true
	}
	return n.registry.Lookup(registry.TypeNetwork, name) != nil
}

func (n *NetworkBackend) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	address, err := n.resolve(name)
	if err != nil {
		return Result{}, err
	}

	dialer := net.Dialer{Timeout: n.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to connect to network printer: %v", labelerr.ErrDeviceUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(data); err != nil {
		return Result{}, fmt.Errorf("%w: failed to write to network printer: %v", labelerr.ErrDeviceIO, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("sent %d bytes to %s", len(data), address),
	}, nil
}

func (n *NetworkBackend) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	return encodeAndSend(ctx, n, name, img, cfg)
}

// resolve maps a device name to host:port
func (n *NetworkBackend) resolve(name string) (string, error) {
	if entry := n.registry.Lookup(registry.TypeNetwork, name); entry != nil {
		return net.JoinHostPort(entry.Host, strconv.Itoa(entry.Port)), nil
	}
	if !strings.HasPrefix(name, networkPrefix) {
		return "", fmt.Errorf("%w: unknown network printer %q", labelerr.ErrDeviceUnavailable, name)
	}

	address := strings.TrimPrefix(name, networkPrefix)
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(DefaultNetworkPort))
	}
	return address, nil
}
