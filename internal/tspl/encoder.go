// Package tspl writes and reads TSPL label printer streams.
//
// Commands are ASCII lines terminated by CRLF. BITMAP carries raw packed
// rows after its header, so a stream is a byte buffer, not text.
package tspl

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/renderer"
)

// CRLF terminates every command
const CRLF = "\r\n"

// BITMAP modes
const (
	BitmapOverwrite = 0
	BitmapOR        = 1
	BitmapXOR       = 2
)

// Native barcode bar widths in dots. Fixed regardless of the layout estimate.
const (
	NarrowBar = 2
	WideBar   = 2
)

// Encoder accumulates TSPL commands
type Encoder struct {
	buffer    *bytes.Buffer
	threshold uint8
}

// NewEncoder creates an encoder that prints pixels darker than threshold
func NewEncoder(threshold uint8) *Encoder {
	if threshold == 0 {
		threshold = 128
	}
	return &Encoder{
		buffer:    new(bytes.Buffer),
		threshold: threshold,
	}
}

// Size sets the label size
func (e *Encoder) Size(widthMM, heightMM float64) {
	fmt.Fprintf(e.buffer, "SIZE %s mm, %s mm"+CRLF, formatMM(widthMM), formatMM(heightMM))
}

// Gap sets the gap between labels and its offset
func (e *Encoder) Gap(gapMM, offsetMM float64) {
	fmt.Fprintf(e.buffer, "GAP %s mm, %s mm"+CRLF, formatMM(gapMM), formatMM(offsetMM))
}

// Direction sets the print direction, optionally with mirror flag
func (e *Encoder) Direction(d string) {
	fmt.Fprintf(e.buffer, "DIRECTION %s"+CRLF, d)
}

// Cls clears the image buffer
func (e *Encoder) Cls() {
	e.buffer.WriteString("CLS" + CRLF)
}

// Bitmap writes img at (x, y) in overwrite mode
func (e *Encoder) Bitmap(x, y int, img image.Image) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: empty bitmap at (%d,%d)", labelerr.ErrProtocolGeneration, x, y)
	}
	if x < 0 || y < 0 {
		return fmt.Errorf("%w: bitmap origin (%d,%d) is off the page", labelerr.ErrProtocolGeneration, x, y)
	}

	widthBytes, data := PackBitmap(img, e.threshold)
	if len(data) != widthBytes*b.Dy() {
		return fmt.Errorf("%w: bitmap payload is %d bytes, expected %d",
			labelerr.ErrProtocolGeneration, len(data), widthBytes*b.Dy())
	}

	fmt.Fprintf(e.buffer, "BITMAP %d,%d,%d,%d,%d,", x, y, widthBytes, b.Dy(), BitmapOverwrite)
	e.buffer.Write(data)
	e.buffer.WriteString(CRLF)
	return nil
}

// Barcode writes a native Code128 barcode command
func (e *Encoder) Barcode(x, y, height int, humanReadable bool, data string) error {
	if height <= 0 {
		return fmt.Errorf("%w: barcode height %d", labelerr.ErrProtocolGeneration, height)
	}
	if data == "" {
		return fmt.Errorf("%w: empty barcode data", labelerr.ErrProtocolGeneration)
	}

	hr := 0
	if humanReadable {
		hr = 1
	}
	fmt.Fprintf(e.buffer, "BARCODE %d,%d,\"128\",%d,%d,0,%d,%d,\"%s\""+CRLF,
		x, y, height, hr, NarrowBar, WideBar, escapeString(data))
	return nil
}

// Box draws a rectangle outline from (x0, y0) to (x1, y1)
func (e *Encoder) Box(x0, y0, x1, y1, thickness int) {
	fmt.Fprintf(e.buffer, "BOX %d,%d,%d,%d,%d"+CRLF, x0, y0, x1, y1, thickness)
}

// Print triggers printing of the buffer
func (e *Encoder) Print(copies int) {
	fmt.Fprintf(e.buffer, "PRINT %d"+CRLF, copies)
}

// Bytes returns the accumulated stream
func (e *Encoder) Bytes() []byte {
	return e.buffer.Bytes()
}

func (e *Encoder) header(cfg Config) error {
	if cfg.WidthMM <= 0 || cfg.HeightMM <= 0 {
		return fmt.Errorf("%w: page size %vx%v mm", labelerr.ErrProtocolGeneration, cfg.WidthMM, cfg.HeightMM)
	}
	direction := cfg.Direction
	if direction == "" {
		direction = DefaultDirection
	}

	e.Size(cfg.WidthMM, cfg.HeightMM)
	e.Gap(cfg.GapMM, cfg.GapOffsetMM)
	e.Direction(direction)
	e.Cls()
	return nil
}

func (e *Encoder) trailer(cfg Config) error {
	copies := cfg.Copies
	if copies == 0 {
		copies = 1
	}
	if copies < 0 {
		return fmt.Errorf("%w: copies %d", labelerr.ErrProtocolGeneration, copies)
	}
	e.Print(copies)
	return nil
}

// Generate serializes a render result into a complete print job
func Generate(result renderer.Result, cfg Config) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil render result", labelerr.ErrProtocolGeneration)
	}

	e := NewEncoder(cfg.threshold())
	if err := e.header(cfg); err != nil {
		return nil, err
	}

	switch r := result.(type) {
	case *renderer.MixedMode:
		for _, bm := range r.Bitmaps {
			if err := e.Bitmap(bm.X, bm.Y, bm.Image); err != nil {
				return nil, fmt.Errorf("element '%s': %w", bm.ElementID, err)
			}
		}
		for _, bc := range r.Barcodes {
			if !strings.EqualFold(bc.Type, "code128") && bc.Type != "" {
				return nil, fmt.Errorf("%w: element '%s': unsupported barcode type %s",
					labelerr.ErrProtocolGeneration, bc.ElementID, bc.Type)
			}
			if err := e.Barcode(bc.X+bc.QuietZone, bc.Y, bc.Height, bc.HumanReadable, bc.Content); err != nil {
				return nil, fmt.Errorf("element '%s': %w", bc.ElementID, err)
			}
		}
		if b := r.Border; b != nil && b.Thickness > 0 {
			e.Box(b.X, b.Y, b.X+b.Width, b.Y+b.Height, b.Thickness)
		}

	case *renderer.FullBitmap:
		if r.Canvas == nil {
			return nil, fmt.Errorf("%w: full bitmap without canvas", labelerr.ErrProtocolGeneration)
		}
		if err := e.Bitmap(0, 0, r.Canvas); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unsupported render result %T", labelerr.ErrProtocolGeneration, result)
	}

	if err := e.trailer(cfg); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeImage builds a one-bitmap job printing img at the page origin
func EncodeImage(img image.Image, cfg Config) ([]byte, error) {
	e := NewEncoder(cfg.threshold())
	if err := e.header(cfg); err != nil {
		return nil, err
	}
	if err := e.Bitmap(0, 0, img); err != nil {
		return nil, err
	}
	if err := e.trailer(cfg); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// PackBitmap packs img into rows of ceil(width/8) bytes, most significant bit
// first. A set bit leaves the dot blank; a pixel darker than threshold clears
// its bit so the head prints it.
func PackBitmap(img image.Image, threshold uint8) (int, []byte) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	widthBytes := (width + 7) / 8

	data := make([]byte, widthBytes*height)
	for i := range data {
		data[i] = 0xFF
	}

	gray, isGray := img.(*image.Gray)
	for y := 0; y < height; y++ {
		row := data[y*widthBytes : (y+1)*widthBytes]
		for x := 0; x < width; x++ {
			var v uint8
			if isGray {
				v = gray.Pix[gray.PixOffset(b.Min.X+x, b.Min.Y+y)]
			} else {
				v = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
			}
			if v < threshold {
				row[x/8] &^= 0x80 >> uint(x%8)
			}
		}
	}

	return widthBytes, data
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeString escapes double quotes the TSPL way
func escapeString(s string) string {
	return strings.ReplaceAll(s, `"`, `\["]`)
}

func unescapeString(s string) string {
	return strings.ReplaceAll(s, `\["]`, `"`)
}
