package textraster

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/thereceipt/label-engine/internal/labelerr"
)

func newTestRasterizer(t *testing.T) *Rasterizer {
	t.Helper()
	r, err := New(Options{SkipSystemFonts: true})
	if err != nil {
		t.Fatalf("Failed to create rasterizer: %v", err)
	}
	return r
}

func TestIsCJK(t *testing.T) {
	tests := []struct {
		r        rune
		expected bool
	}{
		{'A', false},
		{'7', false},
		{'中', true},
		{'㐀', true},
		{'䶿', true},
		{'鿿', true},
		{'\U00020000', true},
		{'\U0002A6DF', true},
		{'あ', false}, // hiragana
		{'-', false},
	}

	for _, tt := range tests {
		if got := IsCJK(tt.r); got != tt.expected {
			t.Errorf("IsCJK(%U) = %v, want %v", tt.r, got, tt.expected)
		}
	}
}

func TestMeasure_Empty(t *testing.T) {
	r := newTestRasterizer(t)

	w, h, err := r.Measure("", 24)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if w != 0 || h != 0 {
		t.Errorf("Expected 0x0 for empty text, got %dx%d", w, h)
	}
}

func TestMeasure_GrowsWithSize(t *testing.T) {
	r := newTestRasterizer(t)

	w1, h1, err := r.Measure("BG7XXX", 20)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	w2, h2, err := r.Measure("BG7XXX", 40)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if w1 <= 0 || h1 <= 0 {
		t.Fatalf("Expected positive size, got %dx%d", w1, h1)
	}
	if w2 <= w1 || h2 <= h1 {
		t.Errorf("Expected larger box at larger size: %dx%d vs %dx%d", w1, h1, w2, h2)
	}
}

func TestMeasure_InkWidthIgnoresTrailingSpace(t *testing.T) {
	r := newTestRasterizer(t)

	w1, _, _ := r.Measure("AB", 30)
	w2, _, _ := r.Measure("AB   ", 30)
	if w1 != w2 {
		t.Errorf("Trailing spaces changed ink width: %d vs %d", w1, w2)
	}
}

func TestMeasure_InvalidSize(t *testing.T) {
	r := newTestRasterizer(t)

	for _, size := range []float64{0, -5, 0.001} {
		_, _, err := r.Measure("A", size)
		if !errors.Is(err, labelerr.ErrRasterization) {
			t.Errorf("size %v: expected ErrRasterization, got %v", size, err)
		}
	}
}

func TestRender_MatchesMeasure(t *testing.T) {
	r := newTestRasterizer(t)

	for _, text := range []string{"BG7XXX", "SN: 042", "QTY: 3", "jgpq"} {
		t.Run(text, func(t *testing.T) {
			w, h, err := r.Measure(text, 36)
			if err != nil {
				t.Fatalf("Measure failed: %v", err)
			}

			img, err := r.Render(text, 36)
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}

			b := img.Bounds()
			if b.Dx() != w || b.Dy() != h {
				t.Errorf("Render size %dx%d differs from measure %dx%d", b.Dx(), b.Dy(), w, h)
			}

			black := 0
			for _, v := range img.Pix {
				switch v {
				case 0:
					black++
				case 255:
				default:
					t.Fatalf("Found anti-aliased pixel value %d", v)
				}
			}
			if black == 0 {
				t.Error("Expected some black pixels")
			}
		})
	}
}

func TestRender_BlankText(t *testing.T) {
	r := newTestRasterizer(t)

	img, err := r.Render("   ", 24)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !img.Bounds().Empty() {
		t.Errorf("Expected empty image for blank text, got %v", img.Bounds())
	}
}

func TestRender_CJKFallsBackToLatin(t *testing.T) {
	r := newTestRasterizer(t)

	if _, err := r.Render("卡片局 BG7XXX", 24); err != nil {
		t.Errorf("Unexpected error rendering CJK without a CJK font: %v", err)
	}
}

func TestRender_MissingGlyphDrawsNotdefBox(t *testing.T) {
	r := newTestRasterizer(t)

	w1, h1, err := r.Measure("中", 40)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	w2, _, err := r.Measure("卡", 40)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if w1 <= 0 || h1 <= 0 {
		t.Fatalf("Expected a non-empty notdef box, got %dx%d", w1, h1)
	}
	if w1 != w2 {
		t.Errorf("Missing glyphs should share the notdef width: %d vs %d", w1, w2)
	}

	img, err := r.Render("中国", 40)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	black := 0
	for _, v := range img.Pix {
		if v == 0 {
			black++
		}
	}
	if black == 0 {
		t.Error("Expected notdef ink for uncovered runes")
	}

	wide, _, _ := r.Measure("中国", 40)
	if wide <= w1 {
		t.Errorf("Second notdef should advance the pen: %d vs %d", wide, w1)
	}
}

func TestCache_ClearsWhenFull(t *testing.T) {
	r, err := New(Options{SkipSystemFonts: true, CacheLimit: 3})
	if err != nil {
		t.Fatalf("Failed to create rasterizer: %v", err)
	}

	if _, _, err := r.Measure("abcdefg", 20); err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if n := r.CacheLen(); n > 3 {
		t.Errorf("Cache exceeded limit: %d", n)
	}

	r.ClearCache()
	if n := r.CacheLen(); n != 0 {
		t.Errorf("Expected empty cache, got %d", n)
	}
}

func TestCache_KeyedBySize(t *testing.T) {
	r := newTestRasterizer(t)

	r.Measure("A", 20)
	r.Measure("A", 21)
	r.Measure("A", 20)

	if n := r.CacheLen(); n != 2 {
		t.Errorf("Expected 2 cache entries, got %d", n)
	}
}

func TestMeasure_Concurrent(t *testing.T) {
	r, err := New(Options{SkipSystemFonts: true, CacheLimit: 16})
	if err != nil {
		t.Fatalf("Failed to create rasterizer: %v", err)
	}

	want, _, _ := r.Measure("CONCURRENT 123", 28)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w, _, err := r.Measure("CONCURRENT 123", 28)
				if err != nil {
					errs <- err
					return
				}
				if w != want {
					errs <- errors.New("width changed under concurrency")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestNew_MissingFontFile(t *testing.T) {
	_, err := New(Options{LatinPath: filepath.Join(t.TempDir(), "missing.ttf"), SkipSystemFonts: true})
	if !errors.Is(err, labelerr.ErrRasterization) {
		t.Errorf("Expected ErrRasterization, got %v", err)
	}
}
