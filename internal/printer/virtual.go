package printer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/google/uuid"

	"github.com/thereceipt/label-engine/internal/barcode"
	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/renderer"
	"github.com/thereceipt/label-engine/internal/tspl"
)

// VirtualDeviceName is the one device the virtual backend owns
const VirtualDeviceName = "Virtual Label Printer"

// humanReadableGap separates bars from the text under them
const humanReadableGap = 2

// Preview is a composed label image on disk
type Preview struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// VirtualBackend turns jobs into files. Raw jobs are parsed back and
// rasterized so the PNG shows what a printer would make of the stream.
type VirtualBackend struct {
	dir  string
	dpi  int
	text renderer.TextRenderer
}

// NewVirtualBackend writes into dir, creating it if needed. text draws human
// readable barcode lines and may be nil.
func NewVirtualBackend(dir string, dpi int, text renderer.TextRenderer) (*VirtualBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if dpi <= 0 {
		dpi = tspl.DefaultDPI
	}
	return &VirtualBackend{dir: dir, dpi: dpi, text: text}, nil
}

// Dir returns the output directory
func (v *VirtualBackend) Dir() string {
	return v.dir
}

func (v *VirtualBackend) Name() string {
	return "virtual"
}

func (v *VirtualBackend) ListDevices(ctx context.Context) ([]string, error) {
	return []string{VirtualDeviceName}, nil
}

func (v *VirtualBackend) Owns(name string) bool {
	return name == VirtualDeviceName
}

// SendRaw stores the stream as .tspl and its rendering as .png
func (v *VirtualBackend) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	jobID := uuid.New().String()
	base := filepath.Join(v.dir, fmt.Sprintf("label_%s_%s", time.Now().Format("20060102_150405"), jobID[:8]))

	if err := os.WriteFile(base+".tspl", data, 0644); err != nil {
		return Result{}, fmt.Errorf("%w: failed to write job file: %v", labelerr.ErrDeviceIO, err)
	}

	cmds, err := tspl.Parse(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", labelerr.ErrDeviceIO, err)
	}
	page, err := tspl.Rasterize(cmds, tspl.RasterOptions{DPI: v.dpi, Text: v.text})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", labelerr.ErrDeviceIO, err)
	}
	if err := imaging.Save(page, base+".png"); err != nil {
		return Result{}, fmt.Errorf("%w: failed to save preview: %v", labelerr.ErrDeviceIO, err)
	}

	logging.Logger().Info("virtual print", "printer", name, "file", base+".tspl", "bytes", len(data))

	return Result{
		Success: true,
		JobID:   jobID,
		Message: fmt.Sprintf("wrote %d bytes to %s", len(data), base+".tspl"),
		Details: base + ".png",
	}, nil
}

// PrintImage saves the page image without a protocol round trip
func (v *VirtualBackend) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	jobID := uuid.New().String()
	path := filepath.Join(v.dir, fmt.Sprintf("image_%s_%s.png", time.Now().Format("20060102_150405"), jobID[:8]))
	if err := imaging.Save(fitToPage(img, cfg), path); err != nil {
		return Result{}, fmt.Errorf("%w: failed to save image: %v", labelerr.ErrDeviceIO, err)
	}

	return Result{Success: true, JobID: jobID, Message: "image saved", Details: path}, nil
}

// Preview composes a render result into a PNG in the output directory
func (v *VirtualBackend) Preview(result renderer.Result) (*Preview, error) {
	img, err := v.Compose(result)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(v.dir, fmt.Sprintf("preview_%s.png", uuid.New().String()))
	if err := imaging.Save(img, path); err != nil {
		return nil, fmt.Errorf("failed to save preview: %w", err)
	}

	b := img.Bounds()
	return &Preview{Path: path, Width: b.Dx(), Height: b.Dy()}, nil
}

// Compose draws a render result onto a white page
func (v *VirtualBackend) Compose(result renderer.Result) (image.Image, error) {
	if result == nil {
		return nil, fmt.Errorf("render result is nil")
	}

	w, h := result.Size()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid page size %dx%d", w, h)
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()

	switch r := result.(type) {
	case *renderer.FullBitmap:
		dc.DrawImage(r.Canvas, 0, 0)

	case *renderer.MixedMode:
		for _, bm := range r.Bitmaps {
			dc.DrawImage(inkOnly(bm.Image), bm.X, bm.Y)
		}
		for _, bc := range r.Barcodes {
			if err := v.drawBarcode(dc, bc); err != nil {
				return nil, fmt.Errorf("element '%s': %w", bc.ElementID, err)
			}
		}
		if b := r.Border; b != nil && b.Thickness > 0 {
			t := float64(b.Thickness)
			x, y := float64(b.X), float64(b.Y)
			bw, bh := float64(b.Width), float64(b.Height)
			dc.SetColor(color.Black)
			dc.DrawRectangle(x, y, bw, t)
			dc.DrawRectangle(x, y+bh-t, bw, t)
			dc.DrawRectangle(x, y, t, bh)
			dc.DrawRectangle(x+bw-t, y, t, bh)
			dc.Fill()
		}

	default:
		return nil, fmt.Errorf("unsupported render result %T", result)
	}

	return dc.Image(), nil
}

// drawBarcode draws bars the way the printer does for a native BARCODE
// command: narrow width modules starting after the quiet zone
func (v *VirtualBackend) drawBarcode(dc *gg.Context, bc renderer.BarcodeDesc) error {
	modules, err := barcode.Encode(bc.Content)
	if err != nil {
		return err
	}

	x := bc.X + bc.QuietZone
	width, err := barcode.DrawOnCanvas(dc, bc.Content, x, bc.Y, len(modules)*tspl.NarrowBar, bc.Height)
	if err != nil {
		return err
	}

	if !bc.HumanReadable || v.text == nil {
		return nil
	}
	label, err := v.text.Render(bc.Content, tspl.HumanReadableSize)
	if err != nil {
		return err
	}
	dc.DrawImage(inkOnly(label), x+(width-label.Bounds().Dx())/2, bc.Y+bc.Height+humanReadableGap)
	return nil
}

// inkOnly makes white pixels transparent so overlapping elements never
// erase each other
func inkOnly(src *image.Gray) image.Image {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.GrayAt(x, y).Y < 128 {
				out.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBA{A: 0xFF})
			}
		}
	}
	return out
}
