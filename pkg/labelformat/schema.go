// Package labelformat defines the types for label template files
package labelformat

// Element kinds
const (
	KindText    = "text"
	KindBarcode = "barcode"
)

// Element sources
const (
	SourceFixed    = "fixed"
	SourceInput    = "input"
	SourceComputed = "computed"
)

// Output modes
const (
	ModeMixed      = "text_bitmap_plus_native_barcode"
	ModeFullBitmap = "full_bitmap"
)

// DefaultThreshold is the grayscale cut-off below which a pixel prints
const DefaultThreshold = 128

// Template represents the root structure of a label template
type Template struct {
	Version     string    `json:"version" toml:"version"`
	Name        string    `json:"name,omitempty" toml:"name,omitempty"`
	Description string    `json:"description,omitempty" toml:"description,omitempty"`
	Page        Page      `json:"page" toml:"page"`
	Layout      Layout    `json:"layout" toml:"layout"`
	Fonts       Fonts     `json:"fonts,omitempty" toml:"fonts,omitempty"`
	Elements    []Element `json:"elements" toml:"elements"`
	Output      Output    `json:"output,omitempty" toml:"output,omitempty"`
}

// Page describes the physical label
type Page struct {
	WidthMM           float64 `json:"width_mm" toml:"width_mm"`
	HeightMM          float64 `json:"height_mm" toml:"height_mm"`
	MarginLeftMM      float64 `json:"margin_left_mm" toml:"margin_left_mm"`
	MarginRightMM     float64 `json:"margin_right_mm" toml:"margin_right_mm"`
	MarginTopMM       float64 `json:"margin_top_mm" toml:"margin_top_mm"`
	MarginBottomMM    float64 `json:"margin_bottom_mm" toml:"margin_bottom_mm"`
	BorderEnabled     bool    `json:"border" toml:"border"`
	BorderThicknessMM float64 `json:"border_thickness_mm" toml:"border_thickness_mm"`
	DPI               int     `json:"dpi" toml:"dpi"`
}

// Layout holds the placement policy
type Layout struct {
	AlignH    string  `json:"align_h" toml:"align_h"` // left, center, right
	AlignV    string  `json:"align_v" toml:"align_v"` // top, center, bottom
	GapMM     float64 `json:"gap_mm" toml:"gap_mm"`
	LineGapMM float64 `json:"line_gap_mm" toml:"line_gap_mm"`
}

// Fonts overrides the built-in font faces
type Fonts struct {
	LatinPath string `json:"latin_path,omitempty" toml:"latin_path,omitempty"`
	CJKPath   string `json:"cjk_path,omitempty" toml:"cjk_path,omitempty"`
}

// Element is a single text or barcode item on the label
type Element struct {
	ID     string `json:"id" toml:"id"`
	Kind   string `json:"type" toml:"type"`
	Source string `json:"source" toml:"source"`

	// Exactly one of these is used depending on Source
	Value  string `json:"value,omitempty" toml:"value,omitempty"`
	Key    string `json:"key,omitempty" toml:"key,omitempty"`
	Format string `json:"format,omitempty" toml:"format,omitempty"`

	// Text
	MaxHeightMM float64 `json:"max_height_mm,omitempty" toml:"max_height_mm,omitempty"`

	// Barcode
	BarcodeType   string  `json:"barcode_type,omitempty" toml:"barcode_type,omitempty"`
	HeightMM      float64 `json:"height_mm,omitempty" toml:"height_mm,omitempty"`
	QuietZoneMM   float64 `json:"quiet_zone_mm,omitempty" toml:"quiet_zone_mm,omitempty"`
	HumanReadable bool    `json:"human_readable,omitempty" toml:"human_readable,omitempty"`
}

// Output selects the default render mode for the template
type Output struct {
	Mode      string `json:"mode,omitempty" toml:"mode,omitempty"`
	Threshold int    `json:"threshold,omitempty" toml:"threshold,omitempty"`
}

// IsText reports whether the element is a text element
func (e *Element) IsText() bool {
	return e.Kind == KindText
}

// IsBarcode reports whether the element is a barcode element
func (e *Element) IsBarcode() bool {
	return e.Kind == KindBarcode
}

// ThresholdOrDefault returns the configured threshold or DefaultThreshold
func (o Output) ThresholdOrDefault() int {
	if o.Threshold <= 0 {
		return DefaultThreshold
	}
	return o.Threshold
}

// Default returns the built-in QSL card template
func Default() *Template {
	return &Template{
		Version:     "1.0",
		Name:        "qsl-card",
		Description: "QSL card label, 76x130mm",
		Page: Page{
			WidthMM:           76,
			HeightMM:          130,
			MarginLeftMM:      2,
			MarginRightMM:     2,
			MarginTopMM:       3,
			MarginBottomMM:    3,
			BorderEnabled:     true,
			BorderThicknessMM: 0.3,
			DPI:               203,
		},
		Layout: Layout{
			AlignH:    "center",
			AlignV:    "center",
			GapMM:     2,
			LineGapMM: 2,
		},
		Elements: []Element{
			{ID: "title", Kind: KindText, Source: SourceFixed, Value: "中国无线电协会业余分会-2区卡片局", MaxHeightMM: 10},
			{ID: "subtitle", Kind: KindText, Source: SourceInput, Key: "project_name", MaxHeightMM: 16},
			{ID: "callsign", Kind: KindText, Source: SourceInput, Key: "callsign", MaxHeightMM: 28},
			{ID: "barcode", Kind: KindBarcode, Source: SourceComputed, Format: "{callsign}", BarcodeType: "code128", HeightMM: 18, QuietZoneMM: 2},
			{ID: "sn", Kind: KindText, Source: SourceComputed, Format: "SN: {sn}", MaxHeightMM: 22},
			{ID: "qty", Kind: KindText, Source: SourceComputed, Format: "QTY: {qty}", MaxHeightMM: 22},
		},
		Output: Output{
			Mode:      ModeMixed,
			Threshold: DefaultThreshold,
		},
	}
}

// Placeholders returns the {name} placeholders of a format string in order
// of first appearance, without duplicates
func Placeholders(format string) []string {
	var names []string
	seen := make(map[string]bool)

	for i := 0; i < len(format); i++ {
		if format[i] != '{' {
			continue
		}
		end := -1
		for j := i + 1; j < len(format); j++ {
			if format[j] == '{' {
				break
			}
			if format[j] == '}' {
				end = j
				break
			}
		}
		if end < 0 {
			continue
		}
		name := format[i+1 : end]
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i = end
	}

	return names
}
