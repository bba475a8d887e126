//go:build windows

package printer

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/tspl"
)

const (
	printerEnumLocal       = 0x00000002
	printerEnumConnections = 0x00000004
)

var (
	winspool = windows.NewLazySystemDLL("winspool.drv")

	procEnumPrintersW    = winspool.NewProc("EnumPrintersW")
	procOpenPrinterW     = winspool.NewProc("OpenPrinterW")
	procClosePrinter     = winspool.NewProc("ClosePrinter")
	procStartDocPrinterW = winspool.NewProc("StartDocPrinterW")
	procEndDocPrinter    = winspool.NewProc("EndDocPrinter")
	procStartPagePrinter = winspool.NewProc("StartPagePrinter")
	procEndPagePrinter   = winspool.NewProc("EndPagePrinter")
	procWritePrinter     = winspool.NewProc("WritePrinter")
)

// printerInfo4 mirrors PRINTER_INFO_4W
type printerInfo4 struct {
	PrinterName *uint16
	ServerName  *uint16
	Attributes  uint32
}

// docInfo1 mirrors DOC_INFO_1W
type docInfo1 struct {
	DocName    *uint16
	OutputFile *uint16
	Datatype   *uint16
}

// WindowsBackend prints RAW jobs through the Windows spooler
type WindowsBackend struct{}

// NewWindowsBackend creates a spooler backend
func NewWindowsBackend() *WindowsBackend {
	return &WindowsBackend{}
}

// NewNativeBackend returns the operating system spooler backend
func NewNativeBackend() Backend {
	return NewWindowsBackend()
}

func (w *WindowsBackend) Name() string {
	return "winspool"
}

func (w *WindowsBackend) ListDevices(ctx context.Context) ([]string, error) {
	if err := winspool.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", labelerr.ErrDeviceUnavailable, err)
	}

	flags := uintptr(printerEnumLocal | printerEnumConnections)
	var needed, returned uint32

	// First call sizes the buffer
	procEnumPrintersW.Call(flags, 0, 4, 0, 0,
		uintptr(unsafe.Pointer(&needed)), uintptr(unsafe.Pointer(&returned)))
	if needed == 0 {
		return nil, nil
	}

	buf := make([]byte, needed)
	r1, _, err := procEnumPrintersW.Call(flags, 0, 4,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(needed),
		uintptr(unsafe.Pointer(&needed)), uintptr(unsafe.Pointer(&returned)))
	if r1 == 0 {
		return nil, fmt.Errorf("failed to enumerate printers: %v", err)
	}

	infos := unsafe.Slice((*printerInfo4)(unsafe.Pointer(&buf[0])), returned)
	names := make([]string, 0, returned)
	for _, info := range infos {
		if info.PrinterName != nil {
			names = append(names, windows.UTF16PtrToString(info.PrinterName))
		}
	}
	return names, nil
}

// Owns claims every name; the native spooler is the fallback route
func (w *WindowsBackend) Owns(name string) bool {
	return name != ""
}

// SendRaw writes data as a single RAW document
func (w *WindowsBackend) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: empty job", labelerr.ErrDeviceIO)
	}
	if err := winspool.Load(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", labelerr.ErrDeviceUnavailable, err)
	}

	printerName, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return Result{}, fmt.Errorf("%w: invalid printer name: %v", labelerr.ErrDeviceUnavailable, err)
	}

	var handle windows.Handle
	r1, _, callErr := procOpenPrinterW.Call(uintptr(unsafe.Pointer(printerName)), uintptr(unsafe.Pointer(&handle)), 0)
	if r1 == 0 {
		return Result{}, fmt.Errorf("%w: failed to open printer %q: %v", labelerr.ErrDeviceUnavailable, name, callErr)
	}
	defer procClosePrinter.Call(uintptr(handle))

	docName, _ := windows.UTF16PtrFromString("Label")
	datatype, _ := windows.UTF16PtrFromString("RAW")
	doc := docInfo1{DocName: docName, Datatype: datatype}

	jobID, _, callErr := procStartDocPrinterW.Call(uintptr(handle), 1, uintptr(unsafe.Pointer(&doc)))
	if jobID == 0 {
		return Result{}, fmt.Errorf("%w: failed to start document: %v", labelerr.ErrDeviceIO, callErr)
	}
	defer procEndDocPrinter.Call(uintptr(handle))

	if r1, _, callErr := procStartPagePrinter.Call(uintptr(handle)); r1 == 0 {
		return Result{}, fmt.Errorf("%w: failed to start page: %v", labelerr.ErrDeviceIO, callErr)
	}
	defer procEndPagePrinter.Call(uintptr(handle))

	var written uint32
	r1, _, callErr = procWritePrinter.Call(uintptr(handle),
		uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)), uintptr(unsafe.Pointer(&written)))
	if r1 == 0 {
		return Result{}, fmt.Errorf("%w: failed to write job: %v", labelerr.ErrDeviceIO, callErr)
	}
	if int(written) != len(data) {
		return Result{}, fmt.Errorf("%w: short write %d of %d bytes", labelerr.ErrDeviceIO, written, len(data))
	}

	return Result{
		Success: true,
		JobID:   strconv.FormatUint(uint64(jobID), 10),
		Message: fmt.Sprintf("sent %d bytes to %s", written, name),
	}, nil
}

func (w *WindowsBackend) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	return encodeAndSend(ctx, w, name, img, cfg)
}
