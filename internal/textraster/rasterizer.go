// Package textraster measures and renders mixed CJK/Latin text to 1-bit
// grayscale bitmaps.
//
// Measure and Render walk glyphs identically, so a size chosen by measuring
// always renders to exactly the measured box. Font size is pixels per em.
package textraster

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/thereceipt/label-engine/internal/labelerr"
)

// DefaultThreshold is the gray level below which a pixel is black
const DefaultThreshold = 128

// Options configures font resolution for a Rasterizer
type Options struct {
	LatinPath string // empty uses the built-in Go Bold face
	CJKPath   string // empty searches the system font directories
	// SkipSystemFonts disables the system CJK search
	SkipSystemFonts bool
	Threshold       uint8
	CacheLimit      int
}

// Rasterizer owns the loaded faces and the glyph metrics cache. It is safe
// for concurrent use.
type Rasterizer struct {
	latin     *opentype.Font
	cjk       *opentype.Font
	threshold uint8
	cache     *metricsCache
}

// New loads the fonts described by opts
func New(opts Options) (*Rasterizer, error) {
	latin, err := loadLatin(opts.LatinPath)
	if err != nil {
		return nil, err
	}

	cjk, err := loadCJK(opts.CJKPath, !opts.SkipSystemFonts, latin)
	if err != nil {
		return nil, err
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	return &Rasterizer{
		latin:     latin,
		cjk:       cjk,
		threshold: threshold,
		cache:     newMetricsCache(opts.CacheLimit),
	}, nil
}

// Threshold returns the black/white cut-off used by Render
func (r *Rasterizer) Threshold() uint8 {
	return r.threshold
}

// CacheLen returns the number of cached glyph metrics
func (r *Rasterizer) CacheLen() int {
	return r.cache.len()
}

// ClearCache drops all cached glyph metrics
func (r *Rasterizer) ClearCache() {
	r.cache.clear()
}

// Measure returns the ink width and line height of text at size, in dots
func (r *Rasterizer) Measure(text string, size float64) (int, int, error) {
	run, err := r.layoutRun(text, size)
	if err != nil {
		return 0, 0, err
	}
	defer run.close()

	return run.width, run.height, nil
}

// Render draws text at size onto a white canvas of exactly the measured size
// and thresholds it to pure black and white. Empty or blank text yields an
// empty image.
func (r *Rasterizer) Render(text string, size float64) (*image.Gray, error) {
	run, err := r.layoutRun(text, size)
	if err != nil {
		return nil, err
	}
	defer run.close()

	canvas := image.NewGray(image.Rect(0, 0, run.width, run.height))
	if run.width == 0 || run.height == 0 {
		return canvas, nil
	}
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	offset := fixed.I(run.minX)
	baseline := fixed.I(run.baseline)
	for _, g := range run.glyphs {
		face := run.faces.latin
		if g.cjk {
			face = run.faces.cjk
		}
		dot := fixed.Point26_6{X: g.pen - offset, Y: baseline}
		// Glyph reports ok=false for the notdef glyph even when it drew one
		dr, mask, maskp, _, ok := face.Glyph(dot, g.r)
		if !ok && !g.notdef {
			return nil, fmt.Errorf("%w: no glyph for %q", labelerr.ErrRasterization, g.r)
		}
		if mask == nil {
			continue
		}
		draw.DrawMask(canvas, dr, image.Black, image.Point{}, mask, maskp, draw.Over)
	}

	threshold(canvas, r.threshold)
	return canvas, nil
}

func threshold(img *image.Gray, level uint8) {
	for i, v := range img.Pix {
		if v < level {
			img.Pix[i] = 0
		} else {
			img.Pix[i] = 255
		}
	}
}

type placedGlyph struct {
	r      rune
	cjk    bool
	notdef bool
	pen    fixed.Int26_6
}

type faceSet struct {
	latin font.Face
	cjk   font.Face
}

type textRun struct {
	faces    faceSet
	glyphs   []placedGlyph
	minX     int
	width    int
	height   int
	baseline int
}

func (t *textRun) close() {
	if t.faces.latin != nil {
		t.faces.latin.Close()
	}
	if t.faces.cjk != nil && t.faces.cjk != t.faces.latin {
		t.faces.cjk.Close()
	}
}

func sizeKey(size float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(size * 64))
}

// layoutRun walks the text once, choosing a face per rune and collecting
// pen positions plus the union of ink bounds. Faces are created per call
// since opentype faces are not safe for concurrent use.
func (r *Rasterizer) layoutRun(text string, size float64) (*textRun, error) {
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return nil, fmt.Errorf("%w: invalid font size %v", labelerr.ErrRasterization, size)
	}
	key := sizeKey(size)
	if key <= 0 {
		return nil, fmt.Errorf("%w: font size %v too small", labelerr.ErrRasterization, size)
	}

	run := &textRun{}
	opts := &opentype.FaceOptions{Size: float64(key) / 64, DPI: 72, Hinting: font.HintingNone}

	var err error
	run.faces.latin, err = opentype.NewFace(r.latin, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create latin face: %v", labelerr.ErrRasterization, err)
	}
	if r.cjk != r.latin {
		run.faces.cjk, err = opentype.NewFace(r.cjk, opts)
		if err != nil {
			run.close()
			return nil, fmt.Errorf("%w: failed to create CJK face: %v", labelerr.ErrRasterization, err)
		}
	}

	var (
		pen        fixed.Int26_6
		minX, maxX int
		usedLatin  bool
		usedCJK    bool
	)
	for _, ch := range text {
		cjk := IsCJK(ch) && run.faces.cjk != nil
		face, f := run.faces.latin, r.latin
		if cjk {
			face, f = run.faces.cjk, r.cjk
			usedCJK = true
		} else {
			usedLatin = true
		}

		m, err := r.glyph(face, f, ch, key)
		if err != nil {
			run.close()
			return nil, err
		}

		if !m.bounds.Empty() {
			if x := (pen + m.bounds.Min.X).Floor(); x < minX {
				minX = x
			}
			if x := (pen + m.bounds.Max.X).Ceil(); x > maxX {
				maxX = x
			}
		}

		run.glyphs = append(run.glyphs, placedGlyph{r: ch, cjk: cjk, notdef: m.notdef, pen: pen})
		pen += m.advance
	}

	// Keep the CJK slot usable for Render even when it shares the Latin font
	if run.faces.cjk == nil {
		run.faces.cjk = run.faces.latin
	}

	if len(run.glyphs) == 0 {
		return run, nil
	}

	run.minX = minX
	run.width = maxX - minX
	if usedLatin {
		run.useFace(run.faces.latin)
	}
	if usedCJK {
		run.useFace(run.faces.cjk)
	}

	return run, nil
}

// useFace grows the line height to fit face; the tallest face sets the baseline
func (t *textRun) useFace(face font.Face) {
	m := face.Metrics()
	h := (m.Ascent + m.Descent).Ceil()
	if h > t.height {
		t.height = h
		t.baseline = m.Ascent.Ceil()
	}
}

// glyph returns the metrics of ch in face, which was created from f at key.
// Runes the font does not cover get the metrics of glyph 0 (notdef).
func (r *Rasterizer) glyph(face font.Face, f *opentype.Font, ch rune, key fixed.Int26_6) (glyphMetrics, error) {
	k := glyphKey{r: ch, size: key}
	if m, ok := r.cache.get(k); ok {
		return m, nil
	}

	m := glyphMetrics{}
	var ok bool
	m.bounds, m.advance, ok = face.GlyphBounds(ch)
	if !ok {
		// The face also says !ok for glyph 0, so ask the font what happened
		var buf sfnt.Buffer
		idx, err := f.GlyphIndex(&buf, ch)
		if err != nil {
			return glyphMetrics{}, fmt.Errorf("%w: glyph lookup for %q: %v", labelerr.ErrRasterization, ch, err)
		}
		if idx != 0 {
			return glyphMetrics{}, fmt.Errorf("%w: no glyph metrics for %q", labelerr.ErrRasterization, ch)
		}
		m.bounds, m.advance, err = f.GlyphBounds(&buf, 0, key, font.HintingNone)
		if err != nil {
			return glyphMetrics{}, fmt.Errorf("%w: notdef metrics: %v", labelerr.ErrRasterization, err)
		}
		m.notdef = true
	}

	r.cache.put(k, m)
	return m, nil
}
