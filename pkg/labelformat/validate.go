package labelformat

import (
	"fmt"
	"strings"
)

// Validate validates a Template structure
func Validate(t *Template) error {
	if t.Version == "" {
		return fmt.Errorf("version is required")
	}
	if t.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected 1.0)", t.Version)
	}

	if err := validatePage(&t.Page); err != nil {
		return fmt.Errorf("page: %w", err)
	}

	if err := validateLayout(&t.Layout); err != nil {
		return fmt.Errorf("layout: %w", err)
	}

	if len(t.Elements) == 0 {
		return fmt.Errorf("at least one element is required")
	}

	ids := make(map[string]bool)
	for i := range t.Elements {
		el := &t.Elements[i]
		if el.ID == "" {
			return fmt.Errorf("element[%d]: 'id' is required", i)
		}
		if ids[el.ID] {
			return fmt.Errorf("element[%d]: duplicate id '%s'", i, el.ID)
		}
		ids[el.ID] = true

		if err := validateElement(el); err != nil {
			return fmt.Errorf("element[%d] '%s': %w", i, el.ID, err)
		}
	}

	if t.Output.Mode != "" && t.Output.Mode != ModeMixed && t.Output.Mode != ModeFullBitmap {
		return fmt.Errorf("invalid output mode '%s' (must be %s or %s)", t.Output.Mode, ModeMixed, ModeFullBitmap)
	}
	if t.Output.Threshold < 0 || t.Output.Threshold > 255 {
		return fmt.Errorf("invalid threshold %d (must be 1-255)", t.Output.Threshold)
	}

	return nil
}

func validatePage(p *Page) error {
	if p.WidthMM <= 0 || p.HeightMM <= 0 {
		return fmt.Errorf("width_mm and height_mm must be positive")
	}
	if p.DPI <= 0 {
		return fmt.Errorf("dpi must be positive")
	}
	if p.MarginLeftMM < 0 || p.MarginRightMM < 0 || p.MarginTopMM < 0 || p.MarginBottomMM < 0 {
		return fmt.Errorf("margins cannot be negative")
	}
	if p.BorderThicknessMM < 0 {
		return fmt.Errorf("border_thickness_mm cannot be negative")
	}

	border := 0.0
	if p.BorderEnabled {
		border = 2 * p.BorderThicknessMM
	}
	if p.MarginLeftMM+p.MarginRightMM+border >= p.WidthMM {
		return fmt.Errorf("horizontal margins leave no printable width")
	}
	if p.MarginTopMM+p.MarginBottomMM+border >= p.HeightMM {
		return fmt.Errorf("vertical margins leave no printable height")
	}

	return nil
}

func validateLayout(l *Layout) error {
	if l.AlignH != "" && !oneOf(l.AlignH, "left", "center", "right") {
		return fmt.Errorf("invalid align_h '%s' (must be left, center, or right)", l.AlignH)
	}
	if l.AlignV != "" && !oneOf(l.AlignV, "top", "center", "bottom") {
		return fmt.Errorf("invalid align_v '%s' (must be top, center, or bottom)", l.AlignV)
	}
	if l.GapMM < 0 || l.LineGapMM < 0 {
		return fmt.Errorf("gaps cannot be negative")
	}
	return nil
}

func validateElement(el *Element) error {
	switch el.Source {
	case SourceFixed:
		if el.Value == "" {
			return fmt.Errorf("fixed element requires value")
		}
	case SourceInput:
		if el.Key == "" {
			return fmt.Errorf("input element requires key")
		}
	case SourceComputed:
		if el.Format == "" {
			return fmt.Errorf("computed element requires format")
		}
	case "":
		return fmt.Errorf("source is required")
	default:
		return fmt.Errorf("unknown source '%s' (must be fixed, input, or computed)", el.Source)
	}

	switch el.Kind {
	case KindText:
		if el.MaxHeightMM <= 0 {
			return fmt.Errorf("text element requires max_height_mm")
		}
	case KindBarcode:
		if el.BarcodeType == "" {
			return fmt.Errorf("barcode element requires barcode_type")
		}
		if !strings.EqualFold(el.BarcodeType, "code128") {
			return fmt.Errorf("unsupported barcode_type '%s' (only code128)", el.BarcodeType)
		}
		if el.HeightMM <= 0 {
			return fmt.Errorf("barcode element requires height_mm")
		}
		if el.QuietZoneMM < 0 {
			return fmt.Errorf("quiet_zone_mm cannot be negative")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown element type: %s", el.Kind)
	}

	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
