package tspl

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/thereceipt/label-engine/internal/barcode"
	"github.com/thereceipt/label-engine/internal/layout"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/renderer"
)

// HumanReadableSize is the font size used for text under native barcodes
const HumanReadableSize = 22

// RasterOptions control how a parsed stream is drawn
type RasterOptions struct {
	DPI int
	// Text draws human readable barcode lines; nil skips them
	Text renderer.TextRenderer
}

// Rasterize draws parsed commands the way a printer would, onto a white
// page sized by the stream's SIZE command
func Rasterize(cmds []Command, opts RasterOptions) (*image.Gray, error) {
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	var canvas *image.Gray
	ensure := func() {
		if canvas == nil {
			canvas = blankPage(layout.MMToDots(76, dpi), layout.MMToDots(130, dpi))
		}
	}

	for _, cmd := range cmds {
		switch cmd.Name {
		case "SIZE":
			w, h, mm, err := ParseSize(cmd.Params)
			if err != nil {
				return nil, err
			}
			if mm {
				canvas = blankPage(layout.MMToDots(w, dpi), layout.MMToDots(h, dpi))
			} else {
				canvas = blankPage(int(w), int(h))
			}

		case "CLS":
			ensure()
			draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

		case "BITMAP":
			ensure()
			drawBitmap(canvas, cmd.Bitmap)

		case "BARCODE":
			ensure()
			p, err := ParseBarcode(cmd.Params)
			if err != nil {
				return nil, err
			}
			if err := drawBarcode(canvas, p, opts.Text); err != nil {
				return nil, err
			}

		case "BOX":
			ensure()
			v, err := ParseInts(cmd.Params, 5)
			if err != nil {
				return nil, err
			}
			renderer.DrawBorder(canvas, &layout.Border{X: v[0], Y: v[1], Width: v[2] - v[0], Height: v[3] - v[1], Thickness: v[4]})

		case "BAR":
			ensure()
			v, err := ParseInts(cmd.Params, 4)
			if err != nil {
				return nil, err
			}
			fill(canvas, image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]))

		case "GAP", "DIRECTION", "PRINT", "DENSITY", "SPEED", "REFERENCE", "SET", "":
			// no effect on the page image

		default:
			logging.Logger().Debug("ignoring unsupported TSPL command", "command", cmd.Name)
		}
	}

	ensure()
	return canvas, nil
}

func blankPage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

func fill(canvas *image.Gray, r image.Rectangle) {
	draw.Draw(canvas, r.Intersect(canvas.Bounds()), image.Black, image.Point{}, draw.Src)
}

// drawBitmap unpacks rows; a cleared bit is a printed dot
func drawBitmap(canvas *image.Gray, bm *Bitmap) {
	b := canvas.Bounds()
	for row := 0; row < bm.Height; row++ {
		y := bm.Y + row
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		line := bm.Data[row*bm.WidthBytes : (row+1)*bm.WidthBytes]
		for col := 0; col < bm.WidthBytes*8; col++ {
			x := bm.X + col
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dot := line[col/8]&(0x80>>uint(col%8)) == 0
			off := canvas.PixOffset(x, y)

			switch bm.Mode {
			case BitmapOR:
				if dot {
					canvas.Pix[off] = 0
				}
			case BitmapXOR:
				if dot {
					canvas.Pix[off] = 255 - canvas.Pix[off]
				}
			default:
				if dot {
					canvas.Pix[off] = 0
				} else {
					canvas.Pix[off] = 255
				}
			}
		}
	}
}

func drawBarcode(canvas *image.Gray, p *BarcodeParams, text renderer.TextRenderer) error {
	if p.Type != "128" && p.Type != "128M" {
		return fmt.Errorf("%w: unsupported barcode type %q", ErrMalformed, p.Type)
	}

	narrow := p.Narrow
	if narrow <= 0 {
		narrow = 1
	}

	modules, err := barcode.Encode(p.Data)
	if err != nil {
		return err
	}
	for i, bar := range modules {
		if bar {
			fill(canvas, image.Rect(p.X+i*narrow, p.Y, p.X+(i+1)*narrow, p.Y+p.Height))
		}
	}

	if !p.HumanReadable || text == nil {
		return nil
	}

	img, err := text.Render(p.Data, HumanReadableSize)
	if err != nil {
		return err
	}
	width := len(modules) * narrow
	x := p.X + (width-img.Bounds().Dx())/2
	renderer.Overlay(canvas, img, x, p.Y+p.Height+2)
	return nil
}
