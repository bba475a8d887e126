package tspl

import (
	"fmt"
	"strings"

	"github.com/thereceipt/label-engine/internal/layout"
)

// Defaults applied when a page config is missing or out of range
const (
	DefaultGapMM       = 2.0
	DefaultGapOffsetMM = 0.0
	DefaultDirection   = "0"
	DefaultDPI         = 203
	MaxGapMM           = 10.0
)

var validDirections = []string{"0", "1", "2", "3", "0,0", "0,1", "1,0", "1,1", "2,0", "2,1", "3,0", "3,1"}

// Config describes the page and job settings written into the stream header
type Config struct {
	WidthMM     float64
	HeightMM    float64
	GapMM       float64
	GapOffsetMM float64
	Direction   string // "0"-"3", optionally ",mirror"
	Copies      int
	Threshold   uint8 // gray level below which a pixel prints, 0 means 128
	DPI         int   // resolution used to size images, 0 means 203
}

// DefaultConfig returns a config for a page of the given size
func DefaultConfig(widthMM, heightMM float64) Config {
	return Config{
		WidthMM:     widthMM,
		HeightMM:    heightMM,
		GapMM:       DefaultGapMM,
		GapOffsetMM: DefaultGapOffsetMM,
		Direction:   DefaultDirection,
		Copies:      1,
		DPI:         DefaultDPI,
	}
}

// PageDots returns the page size in dots
func (c Config) PageDots() (int, int) {
	dpi := c.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return layout.MMToDots(c.WidthMM, dpi), layout.MMToDots(c.HeightMM, dpi)
}

// NormalizeConfig replaces out-of-range settings with defaults and reports
// each replacement as a warning
func NormalizeConfig(cfg Config) (Config, []string) {
	var warnings []string

	if cfg.GapMM < 0 || cfg.GapMM > MaxGapMM {
		warnings = append(warnings, fmt.Sprintf("gap %.2fmm out of range [0, %.0f], using %.0fmm", cfg.GapMM, MaxGapMM, DefaultGapMM))
		cfg.GapMM = DefaultGapMM
	}
	if cfg.GapOffsetMM < 0 || cfg.GapOffsetMM > MaxGapMM {
		warnings = append(warnings, fmt.Sprintf("gap offset %.2fmm out of range [0, %.0f], using %.0fmm", cfg.GapOffsetMM, MaxGapMM, DefaultGapOffsetMM))
		cfg.GapOffsetMM = DefaultGapOffsetMM
	}

	direction := strings.ReplaceAll(cfg.Direction, " ", "")
	if direction == "" {
		direction = DefaultDirection
	} else if !isValidDirection(direction) {
		warnings = append(warnings, fmt.Sprintf("invalid direction %q, using %s", cfg.Direction, DefaultDirection))
		direction = DefaultDirection
	}
	cfg.Direction = direction

	if cfg.Copies < 1 {
		cfg.Copies = 1
	}

	return cfg, warnings
}

func isValidDirection(d string) bool {
	for _, v := range validDirections {
		if d == v {
			return true
		}
	}
	return false
}

func (c Config) threshold() uint8 {
	if c.Threshold == 0 {
		return 128
	}
	return c.Threshold
}
