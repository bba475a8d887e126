package layout

import "math"

const mmPerInch = 25.4

// MMToDots converts millimetres to device dots, rounding up
func MMToDots(mm float64, dpi int) int {
	return int(math.Ceil(mm * float64(dpi) / mmPerInch))
}

// DotsToMM converts device dots back to millimetres
func DotsToMM(dots, dpi int) float64 {
	if dpi <= 0 {
		return 0
	}
	return float64(dots) * mmPerInch / float64(dpi)
}
