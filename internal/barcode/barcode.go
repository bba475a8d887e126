// Package barcode encodes Code128 symbols and draws them as bars
package barcode

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"

	"github.com/thereceipt/label-engine/internal/labelerr"
)

// ModuleWidth is the bar width in dots used by RenderBitmap
const ModuleWidth = 2

// estimatePerChar is the per-character width guess used before encoding
const estimatePerChar = 12

// Encode returns the Code128 set B module sequence for data, true meaning
// bar. The result has 35 + 11*len(data) modules.
func Encode(data string) ([]bool, error) {
	if data == "" {
		return nil, fmt.Errorf("%w: empty content", labelerr.ErrBarcodeEncoding)
	}

	bc, err := encodeSetB(data)
	if err != nil {
		return nil, err
	}

	b := bc.Bounds()
	modules := make([]bool, b.Dx())
	for i := range modules {
		gray := color.GrayModel.Convert(bc.At(b.Min.X+i, b.Min.Y)).(color.Gray)
		modules[i] = gray.Y < 128
	}

	return modules, nil
}

// BarWidth divides the target width across modules, never below one dot
func BarWidth(target, modules int) int {
	if modules <= 0 {
		return 1
	}
	if w := target / modules; w > 1 {
		return w
	}
	return 1
}

// EstimateWidth is the footprint reserved for a barcode before it is encoded
func EstimateWidth(content string, quietZone int) int {
	return len(content)*estimatePerChar + 2*quietZone
}

// RenderBitmap rasterizes data at ModuleWidth dots per module
func RenderBitmap(data string, height int) (*image.Gray, error) {
	return renderModules(data, ModuleWidth, height)
}

// RenderBitmapWidth rasterizes data with the bar width that best fills targetWidth
func RenderBitmapWidth(data string, targetWidth, height int) (*image.Gray, error) {
	modules, err := Encode(data)
	if err != nil {
		return nil, err
	}
	return drawModules(modules, BarWidth(targetWidth, len(modules)), height)
}

func renderModules(data string, moduleWidth, height int) (*image.Gray, error) {
	modules, err := Encode(data)
	if err != nil {
		return nil, err
	}
	return drawModules(modules, moduleWidth, height)
}

func drawModules(modules []bool, moduleWidth, height int) (*image.Gray, error) {
	if height <= 0 {
		return nil, fmt.Errorf("%w: invalid height %d", labelerr.ErrBarcodeEncoding, height)
	}

	img := image.NewGray(image.Rect(0, 0, len(modules)*moduleWidth, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	for i, bar := range modules {
		if !bar {
			continue
		}
		r := image.Rect(i*moduleWidth, 0, (i+1)*moduleWidth, height)
		draw.Draw(img, r, image.Black, image.Point{}, draw.Src)
	}

	return img, nil
}

// DrawOnCanvas draws data starting at (x, y) scaled to width and returns the
// width actually drawn, which is BarWidth(width, modules) * modules
func DrawOnCanvas(dc *gg.Context, data string, x, y, width, height int) (int, error) {
	modules, err := Encode(data)
	if err != nil {
		return 0, err
	}

	barWidth := BarWidth(width, len(modules))
	dc.SetRGB(0, 0, 0)
	for i, bar := range modules {
		if bar {
			dc.DrawRectangle(float64(x+i*barWidth), float64(y), float64(barWidth), float64(height))
		}
	}
	dc.Fill()

	return barWidth * len(modules), nil
}

// DrawCentered draws data horizontally centered on the canvas using the true
// rendered width rather than the layout estimate. It returns the x used.
func DrawCentered(dc *gg.Context, data string, y, width, height int) (int, error) {
	modules, err := Encode(data)
	if err != nil {
		return 0, err
	}

	actual := BarWidth(width, len(modules)) * len(modules)
	x := (dc.Width() - actual) / 2
	if x < 0 {
		x = 0
	}

	if _, err := DrawOnCanvas(dc, data, x, y, width, height); err != nil {
		return 0, err
	}
	return x, nil
}
