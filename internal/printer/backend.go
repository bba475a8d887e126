// Package printer dispatches TSPL jobs to label printers. Each Backend owns a
// set of device names; the Manager routes a job to the first owner.
package printer

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/thereceipt/label-engine/internal/tspl"
)

// Backend is one way of reaching printers
type Backend interface {
	// Name identifies the backend in logs and device listings
	Name() string
	// ListDevices returns the device names this backend can print to
	ListDevices(ctx context.Context) ([]string, error)
	// Owns reports whether jobs for the device name belong to this backend
	Owns(name string) bool
	// SendRaw delivers an already encoded job unchanged
	SendRaw(ctx context.Context, name string, data []byte) (Result, error)
	// PrintImage encodes img as a single full-page bitmap and sends it
	PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error)
}

// Result describes a delivered job
type Result struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// encodeAndSend is the PrintImage path shared by byte-oriented backends
func encodeAndSend(ctx context.Context, b Backend, name string, img image.Image, cfg tspl.Config) (Result, error) {
	data, err := tspl.EncodeImage(fitToPage(img, cfg), cfg)
	if err != nil {
		return Result{}, err
	}
	return b.SendRaw(ctx, name, data)
}

// fitToPage flattens img onto white, shrinks it to the page if needed and
// converts it to grayscale
func fitToPage(img image.Image, cfg tspl.Config) image.Image {
	w, h := cfg.PageDots()
	b := img.Bounds()
	if w > 0 && h > 0 && (b.Dx() > w || b.Dy() > h) {
		img = imaging.Fit(img, w, h, imaging.Lanczos)
		b = img.Bounds()
	}

	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)
	return imaging.Grayscale(flat)
}
