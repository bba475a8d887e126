//go:build !windows

package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/tspl"
)

// CupsBackend prints through the CUPS command line tools
type CupsBackend struct {
	lpstatPath string
	lpPath     string
}

// NewCupsBackend uses lpstat and lp from PATH
func NewCupsBackend() *CupsBackend {
	return &CupsBackend{lpstatPath: "lpstat", lpPath: "lp"}
}

// NewNativeBackend returns the operating system spooler backend
func NewNativeBackend() Backend {
	return NewCupsBackend()
}

func (c *CupsBackend) Name() string {
	return "cups"
}

func (c *CupsBackend) ListDevices(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, c.lpstatPath, "-p").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(out) == 0 {
			// lpstat exits non-zero when no queues exist
			return nil, nil
		}
		return nil, fmt.Errorf("failed to run lpstat: %w", err)
	}
	return parseLpstat(string(out)), nil
}

// Owns claims every name; the native spooler is the fallback route
func (c *CupsBackend) Owns(name string) bool {
	return name != ""
}

// SendRaw pipes data to `lp -d NAME -o raw -`
func (c *CupsBackend) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	cmd := exec.CommandContext(ctx, c.lpPath, "-d", name, "-o", "raw", "-")
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: lp not found: %v", labelerr.ErrDeviceUnavailable, err)
		}
		return Result{}, fmt.Errorf("%w: lp failed: %v: %s", labelerr.ErrDeviceIO, err, strings.TrimSpace(stderr.String()))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return Result{}, fmt.Errorf("%w: lp reported: %s", labelerr.ErrDeviceIO, msg)
	}

	out := strings.TrimSpace(stdout.String())
	return Result{
		Success: true,
		JobID:   parseJobID(out),
		Message: fmt.Sprintf("sent %d bytes to %s", len(data), name),
		Details: out,
	}, nil
}

func (c *CupsBackend) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	return encodeAndSend(ctx, c, name, img, cfg)
}
