// Package layout positions resolved label elements on the page
package layout

import (
	"fmt"

	"github.com/thereceipt/label-engine/internal/barcode"
	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/resolver"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

// Font size search bounds, in pixels per em
const (
	MinFontSize   = 8.0
	MaxFontSize   = 120.0
	fontTolerance = 0.5
	safeMarginMM  = 1.0

	maxScalePasses = 3
)

// Measurer measures text the same way it will later be rendered
type Measurer interface {
	Measure(text string, size float64) (width, height int, err error)
}

// Border is the frame drawn just inside the page margins
type Border struct {
	X         int
	Y         int
	Width     int
	Height    int
	Thickness int
}

// Element is a resolved element with its position and size in dots
type Element struct {
	resolver.ResolvedElement
	X        int
	Y        int
	Width    int
	Height   int
	FontSize float64 // text only

	QuietZone int // barcode only
}

// Result is the computed layout for one label
type Result struct {
	CanvasWidth  int
	CanvasHeight int
	Border       *Border
	Elements     []Element
}

// Engine computes layouts. It holds no per-call state and can be shared.
type Engine struct {
	measurer Measurer
}

// New creates a layout engine using m for text measurement
func New(m Measurer) *Engine {
	return &Engine{measurer: m}
}

type contentArea struct {
	left, top     int
	width, height int
}

// Layout computes positions for resolved elements on tpl's page
func (e *Engine) Layout(tpl *labelformat.Template, resolved []resolver.ResolvedElement) (*Result, error) {
	dpi := tpl.Page.DPI
	result := &Result{
		CanvasWidth:  MMToDots(tpl.Page.WidthMM, dpi),
		CanvasHeight: MMToDots(tpl.Page.HeightMM, dpi),
	}

	area, border := computeArea(tpl, result.CanvasWidth, result.CanvasHeight)
	result.Border = border
	if area.width <= 0 || area.height <= 0 {
		return nil, fmt.Errorf("%w: no printable area left inside margins", labelerr.ErrLayoutOverflow)
	}

	elements := make([]Element, 0, len(resolved))
	for _, r := range resolved {
		el, err := e.measureElement(r, area, dpi)
		if err != nil {
			return nil, fmt.Errorf("failed to lay out element '%s': %w", r.ID, err)
		}
		elements = append(elements, el)
	}

	lineGap := MMToDots(tpl.Layout.LineGapMM, dpi)
	gap := MMToDots(tpl.Layout.GapMM, dpi)
	total, err := e.fitVertically(elements, area, lineGap, gap)
	if err != nil {
		return nil, err
	}

	placeVertically(elements, area, total, tpl.Layout.AlignV, lineGap, gap)
	placeHorizontally(elements, area, tpl.Layout.AlignH)

	result.Elements = elements
	return result, nil
}

func computeArea(tpl *labelformat.Template, canvasW, canvasH int) (contentArea, *Border) {
	dpi := tpl.Page.DPI
	left := MMToDots(tpl.Page.MarginLeftMM, dpi)
	right := MMToDots(tpl.Page.MarginRightMM, dpi)
	top := MMToDots(tpl.Page.MarginTopMM, dpi)
	bottom := MMToDots(tpl.Page.MarginBottomMM, dpi)

	area := contentArea{
		left:   left,
		top:    top,
		width:  canvasW - left - right,
		height: canvasH - top - bottom,
	}

	if !tpl.Page.BorderEnabled {
		return area, nil
	}

	border := &Border{
		X:         left,
		Y:         top,
		Width:     area.width,
		Height:    area.height,
		Thickness: MMToDots(tpl.Page.BorderThicknessMM, dpi),
	}

	t := border.Thickness
	area.left += t
	area.top += t
	area.width -= 2 * t
	area.height -= 2 * t

	return area, border
}

func (e *Engine) measureElement(r resolver.ResolvedElement, area contentArea, dpi int) (Element, error) {
	el := Element{ResolvedElement: r}

	switch r.Kind {
	case labelformat.KindText:
		maxWidth := area.width - MMToDots(safeMarginMM, dpi)
		maxHeight := MMToDots(r.MaxHeightMM, dpi)

		size, err := e.fitFontSize(r.Content, maxWidth, maxHeight)
		if err != nil {
			return el, err
		}
		w, h, err := e.measurer.Measure(r.Content, size)
		if err != nil {
			return el, err
		}
		el.FontSize, el.Width, el.Height = size, w, h

	case labelformat.KindBarcode:
		el.QuietZone = MMToDots(r.QuietZoneMM, dpi)
		el.Width = barcode.EstimateWidth(r.Content, el.QuietZone)
		el.Height = MMToDots(r.HeightMM, dpi)

	default:
		return el, fmt.Errorf("unknown element type: %s", r.Kind)
	}

	return el, nil
}

// fitFontSize binary-searches the largest size whose measured box fits.
// If even MinFontSize does not fit, MinFontSize is returned and the overflow
// pass decides whether the layout is still possible.
func (e *Engine) fitFontSize(text string, maxWidth, maxHeight int) (float64, error) {
	lo, hi := MinFontSize, MaxFontSize

	for hi-lo > fontTolerance {
		mid := (lo + hi) / 2
		w, h, err := e.measurer.Measure(text, mid)
		if err != nil {
			return 0, err
		}
		if w <= maxWidth && h <= maxHeight {
			lo = mid
		} else {
			hi = mid
		}
	}

	return lo, nil
}

// fitVertically runs the overflow correction. Gaps keep their size, so the
// factor is the height left after gaps over the summed element heights.
// Re-measured text can round up by a dot, hence the bounded repeat.
func (e *Engine) fitVertically(elements []Element, area contentArea, lineGap, gap int) (int, error) {
	total := totalHeight(elements, lineGap, gap)

	for pass := 0; total > area.height && pass < maxScalePasses; pass++ {
		gaps := total - sumHeights(elements)
		room := area.height - gaps
		if room <= 0 {
			return 0, fmt.Errorf("%w: gaps alone need %d dots, only %d available",
				labelerr.ErrLayoutOverflow, gaps, area.height)
		}

		scale := float64(room) / float64(sumHeights(elements))
		logging.Logger().Debug("content overflows, scaling down",
			"total", total, "available", area.height, "scale", scale)
		if err := e.scaleDown(elements, scale); err != nil {
			return 0, err
		}
		total = totalHeight(elements, lineGap, gap)
	}

	for _, el := range elements {
		if el.Height > area.height {
			return 0, fmt.Errorf("%w: element '%s' is %d dots tall, only %d available",
				labelerr.ErrLayoutOverflow, el.ID, el.Height, area.height)
		}
	}
	if total > area.height {
		return 0, fmt.Errorf("%w: content needs %d dots after scaling, only %d available",
			labelerr.ErrLayoutOverflow, total, area.height)
	}

	return total, nil
}

// scaleDown applies one uniform factor to every element: text is re-measured
// at the scaled size, barcodes shrink in height only
func (e *Engine) scaleDown(elements []Element, scale float64) error {
	for i := range elements {
		el := &elements[i]
		switch el.Kind {
		case labelformat.KindText:
			size := el.FontSize * scale
			w, h, err := e.measurer.Measure(el.Content, size)
			if err != nil {
				return fmt.Errorf("failed to re-measure element '%s': %w", el.ID, err)
			}
			el.FontSize, el.Width, el.Height = size, w, h
		case labelformat.KindBarcode:
			el.Height = max(1, int(float64(el.Height)*scale))
		}
	}
	return nil
}

// totalHeight is the stacked height including line gaps and the extra gap
// between text and barcode neighbours
func totalHeight(elements []Element, lineGap, gap int) int {
	total := 0
	for i := range elements {
		total += elements[i].Height
		if i > 0 {
			total += lineGap
			if kindChanges(&elements[i-1], &elements[i]) {
				total += gap
			}
		}
	}
	return total
}

func sumHeights(elements []Element) int {
	sum := 0
	for _, el := range elements {
		sum += el.Height
	}
	return sum
}

func kindChanges(a, b *Element) bool {
	return (a.IsText() && b.IsBarcode()) || (a.IsBarcode() && b.IsText())
}

func placeVertically(elements []Element, area contentArea, total int, align string, lineGap, gap int) {
	y := area.top
	if total < area.height {
		switch align {
		case "center":
			y += (area.height - total) / 2
		case "bottom":
			y += area.height - total
		}
	}

	for i := range elements {
		if i > 0 {
			y += lineGap
			if kindChanges(&elements[i-1], &elements[i]) {
				y += gap
			}
		}
		elements[i].Y = y
		y += elements[i].Height
	}
}

func placeHorizontally(elements []Element, area contentArea, align string) {
	for i := range elements {
		el := &elements[i]
		switch align {
		case "left":
			el.X = area.left
		case "right":
			el.X = area.left + area.width - el.Width
		default:
			el.X = area.left + (area.width-el.Width)/2
		}
		if el.X < area.left {
			el.X = area.left
		}
	}
}
