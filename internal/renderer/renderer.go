// Package renderer turns a computed layout into either per-element bitmaps
// plus native barcode descriptors, or one composited page bitmap
package renderer

import (
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/thereceipt/label-engine/internal/barcode"
	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/layout"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

// Mode selects how a layout is rendered
type Mode int

const (
	// ModeMixed rasterizes text and leaves barcodes to the printer
	ModeMixed Mode = iota
	// ModeFullBitmap flattens everything into one page bitmap
	ModeFullBitmap
)

// String returns the canonical name used in templates
func (m Mode) String() string {
	switch m {
	case ModeMixed:
		return labelformat.ModeMixed
	case ModeFullBitmap:
		return labelformat.ModeFullBitmap
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts both the short and the template spelling of a mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mixed", labelformat.ModeMixed:
		return ModeMixed, nil
	case "full-bitmap", labelformat.ModeFullBitmap, "bitmap":
		return ModeFullBitmap, nil
	default:
		return 0, fmt.Errorf("unknown render mode '%s'", s)
	}
}

// TextRenderer rasterizes a text run at a font size
type TextRenderer interface {
	Render(text string, size float64) (*image.Gray, error)
}

// Result is either *MixedMode or *FullBitmap
type Result interface {
	// Size returns the page size in dots
	Size() (width, height int)
	isResult()
}

// Bitmap is a rasterized element placed on the page
type Bitmap struct {
	ElementID string
	X         int
	Y         int
	Image     *image.Gray
}

// BarcodeDesc is a barcode the printer draws itself
type BarcodeDesc struct {
	ElementID     string
	Content       string
	Type          string
	X             int
	Y             int
	Height        int
	QuietZone     int
	HumanReadable bool
}

// MixedMode holds text bitmaps and native barcode descriptors
type MixedMode struct {
	Bitmaps  []Bitmap
	Barcodes []BarcodeDesc
	Width    int
	Height   int
	Border   *layout.Border
}

// FullBitmap holds the single composited page
type FullBitmap struct {
	Canvas *image.Gray
	Width  int
	Height int
}

func (m *MixedMode) Size() (int, int)  { return m.Width, m.Height }
func (f *FullBitmap) Size() (int, int) { return f.Width, f.Height }
func (*MixedMode) isResult()           {}
func (*FullBitmap) isResult()          {}

// Renderer renders layouts. It keeps no per-call state.
type Renderer struct {
	text TextRenderer
}

// New creates a renderer that rasterizes text with tr
func New(tr TextRenderer) *Renderer {
	return &Renderer{text: tr}
}

// Render renders res in the requested mode
func (r *Renderer) Render(res *layout.Result, mode Mode) (Result, error) {
	if res == nil {
		return nil, fmt.Errorf("layout result is nil")
	}

	switch mode {
	case ModeMixed:
		return r.renderMixed(res)
	case ModeFullBitmap:
		return r.renderFull(res)
	default:
		return nil, fmt.Errorf("unsupported render mode: %v", mode)
	}
}

func (r *Renderer) renderMixed(res *layout.Result) (*MixedMode, error) {
	out := &MixedMode{
		Width:  res.CanvasWidth,
		Height: res.CanvasHeight,
		Border: res.Border,
	}

	for _, el := range res.Elements {
		switch el.Kind {
		case labelformat.KindText:
			img, err := r.text.Render(el.Content, el.FontSize)
			if err != nil {
				return nil, fmt.Errorf("failed to render element '%s': %w", el.ID, err)
			}
			if img.Bounds().Empty() {
				continue
			}
			out.Bitmaps = append(out.Bitmaps, Bitmap{ElementID: el.ID, X: el.X, Y: el.Y, Image: img})

		case labelformat.KindBarcode:
			if err := checkBarcodeHeight(el); err != nil {
				return nil, err
			}
			// Encode now so invalid content fails here, not on the printer
			if _, err := barcode.Encode(el.Content); err != nil {
				return nil, fmt.Errorf("failed to render element '%s': %w", el.ID, err)
			}
			out.Barcodes = append(out.Barcodes, BarcodeDesc{
				ElementID:     el.ID,
				Content:       el.Content,
				Type:          el.BarcodeType,
				X:             el.X,
				Y:             el.Y,
				Height:        el.Height,
				QuietZone:     el.QuietZone,
				HumanReadable: el.HumanReadable,
			})
		}
	}

	return out, nil
}

func (r *Renderer) renderFull(res *layout.Result) (*FullBitmap, error) {
	canvas := image.NewGray(image.Rect(0, 0, res.CanvasWidth, res.CanvasHeight))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for _, el := range res.Elements {
		switch el.Kind {
		case labelformat.KindText:
			img, err := r.text.Render(el.Content, el.FontSize)
			if err != nil {
				return nil, fmt.Errorf("failed to render element '%s': %w", el.ID, err)
			}
			Overlay(canvas, img, el.X, el.Y)

		case labelformat.KindBarcode:
			if err := checkBarcodeHeight(el); err != nil {
				return nil, err
			}
			img, err := barcode.RenderBitmap(el.Content, el.Height)
			if err != nil {
				return nil, fmt.Errorf("failed to render element '%s': %w", el.ID, err)
			}
			// centre the real symbol over the space layout reserved for it
			x := el.X + (el.Width-img.Bounds().Dx())/2
			if x < 0 {
				x = 0
			}
			Overlay(canvas, img, x, el.Y)
		}
	}

	if res.Border != nil {
		DrawBorder(canvas, res.Border)
	}

	return &FullBitmap{Canvas: canvas, Width: res.CanvasWidth, Height: res.CanvasHeight}, nil
}

// Overlay copies the black pixels of src onto dst at (x, y). White pixels of
// src never erase dst. Anything outside dst is clipped.
func Overlay(dst, src *image.Gray, x, y int) {
	sb := src.Bounds()
	db := dst.Bounds()
	for sy := sb.Min.Y; sy < sb.Max.Y; sy++ {
		dy := y + sy - sb.Min.Y
		if dy < db.Min.Y || dy >= db.Max.Y {
			continue
		}
		for sx := sb.Min.X; sx < sb.Max.X; sx++ {
			dx := x + sx - sb.Min.X
			if dx < db.Min.X || dx >= db.Max.X {
				continue
			}
			if src.Pix[src.PixOffset(sx, sy)] < 128 {
				dst.Pix[dst.PixOffset(dx, dy)] = 0
			}
		}
	}
}

// DrawBorder fills the four bands of b onto dst
func DrawBorder(dst *image.Gray, b *layout.Border) {
	t := b.Thickness
	if t <= 0 {
		return
	}
	x0, y0 := b.X, b.Y
	x1, y1 := b.X+b.Width, b.Y+b.Height

	bands := []image.Rectangle{
		image.Rect(x0, y0, x1, y0+t), // top
		image.Rect(x0, y1-t, x1, y1), // bottom
		image.Rect(x0, y0, x0+t, y1), // left
		image.Rect(x1-t, y0, x1, y1), // right
	}
	for _, band := range bands {
		draw.Draw(dst, band.Intersect(dst.Bounds()), image.Black, image.Point{}, draw.Src)
	}
}

func checkBarcodeHeight(el layout.Element) error {
	if el.Height <= 0 {
		return fmt.Errorf("%w: barcode '%s' has height %d", labelerr.ErrProtocolGeneration, el.ID, el.Height)
	}
	return nil
}
