// Package labelerr defines the error kinds surfaced by the label pipeline.
//
// Stages wrap these sentinels with fmt.Errorf("...: %w") so callers can
// classify any failure with errors.Is.
package labelerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTemplate means a template failed validation.
	ErrInvalidTemplate = errors.New("invalid template")
	// ErrInvalidMode means an output mode selector was not recognized.
	ErrInvalidMode = errors.New("invalid output mode")
	// ErrMissingDataKey means a template referenced a key absent from the data map.
	ErrMissingDataKey = errors.New("missing data key")
	// ErrLayoutOverflow means an element cannot fit even after global scale-down.
	ErrLayoutOverflow = errors.New("layout overflow")
	// ErrRasterization means a font or glyph could not be loaded or drawn.
	ErrRasterization = errors.New("rasterization failure")
	// ErrBarcodeEncoding means the barcode content cannot be encoded.
	ErrBarcodeEncoding = errors.New("barcode encoding failure")
	// ErrProtocolGeneration means a TSPL serialization invariant was violated.
	ErrProtocolGeneration = errors.New("protocol generation failure")
	// ErrDeviceUnavailable means no backend owns or can reach the device.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrDeviceIO means the device or spooler rejected the job.
	ErrDeviceIO = errors.New("device i/o failure")
)

// MissingKeyError lists every key an element needed but the data map lacked
type MissingKeyError struct {
	ElementID string
	Keys      []string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("element '%s': missing data key(s): %s", e.ElementID, strings.Join(e.Keys, ", "))
}

// Is reports ErrMissingDataKey as a match
func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingDataKey
}
