package printer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/layout"
	"github.com/thereceipt/label-engine/internal/registry"
	"github.com/thereceipt/label-engine/internal/renderer"
	"github.com/thereceipt/label-engine/internal/tspl"
)

// fakeBackend records jobs and owns a fixed set of names
type fakeBackend struct {
	name    string
	devices []string
	listErr error
	sendErr error

	mu   sync.Mutex
	sent map[string][]byte
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) ListDevices(ctx context.Context) ([]string, error) {
	return f.devices, f.listErr
}

func (f *fakeBackend) Owns(name string) bool {
	for _, d := range f.devices {
		if d == name {
			return true
		}
	}
	return false
}

func (f *fakeBackend) SendRaw(ctx context.Context, name string, data []byte) (Result, error) {
	if f.sendErr != nil {
		return Result{}, f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[string][]byte)
	}
	f.sent[name] = data
	return Result{Success: true, JobID: f.name + "-1"}, nil
}

func (f *fakeBackend) PrintImage(ctx context.Context, name string, img image.Image, cfg tspl.Config) (Result, error) {
	return encodeAndSend(ctx, f, name, img, cfg)
}

func TestManagerListDevices(t *testing.T) {
	a := &fakeBackend{name: "a", devices: []string{"zeta", "alpha"}}
	b := &fakeBackend{name: "b", devices: []string{"alpha", "mid"}}
	broken := &fakeBackend{name: "broken", listErr: errors.New("spooler down")}

	m := NewManager(a, broken, b, nil)

	got := m.ListDevices(context.Background())
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListDevices() = %v, want %v", got, want)
	}

	devices := m.Devices(context.Background())
	if devices[0].Name != "alpha" || devices[0].Backend != "a" {
		t.Errorf("Expected alpha owned by a, got %+v", devices[0])
	}
	if devices[1].Backend != "b" {
		t.Errorf("Expected mid owned by b, got %+v", devices[1])
	}
}

func TestManagerRouting(t *testing.T) {
	a := &fakeBackend{name: "a", devices: []string{"shared"}}
	b := &fakeBackend{name: "b", devices: []string{"shared", "only-b"}}
	m := NewManager(a, b)
	ctx := context.Background()

	if _, err := m.SendRaw(ctx, "shared", []byte("x")); err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	if _, ok := a.sent["shared"]; !ok {
		t.Error("Expected first owning backend to receive the job")
	}
	if _, ok := b.sent["shared"]; ok {
		t.Error("Expected second backend to be skipped")
	}

	res, err := m.SendRaw(ctx, "only-b", []byte("y"))
	if err != nil || res.JobID != "b-1" {
		t.Errorf("Expected job routed to b, got %+v, %v", res, err)
	}

	_, err = m.SendRaw(ctx, "nobody", []byte("z"))
	if !errors.Is(err, labelerr.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestManagerPrintImage(t *testing.T) {
	a := &fakeBackend{name: "a", devices: []string{"p"}}
	m := NewManager(a)

	img := image.NewGray(image.Rect(0, 0, 16, 4))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	if _, err := m.PrintImage(context.Background(), "p", img, tspl.DefaultConfig(76, 130)); err != nil {
		t.Fatalf("PrintImage failed: %v", err)
	}

	cmds, err := tspl.Parse(a.sent["p"])
	if err != nil {
		t.Fatalf("Failed to parse sent job: %v", err)
	}
	var bm *tspl.Bitmap
	for _, c := range cmds {
		if c.Bitmap != nil {
			bm = c.Bitmap
		}
	}
	if bm == nil {
		t.Fatal("Expected a BITMAP command")
	}
	if bm.WidthBytes != 2 || bm.Height != 4 {
		t.Errorf("Expected 2x4 bitmap, got %dx%d", bm.WidthBytes, bm.Height)
	}
	for _, b := range bm.Data {
		if b != 0x00 {
			t.Fatalf("Expected solid black payload, got %#x", b)
		}
	}
}

func TestFitToPage(t *testing.T) {
	cfg := tspl.Config{WidthMM: 10, HeightMM: 10, DPI: 203} // 80x80 dots

	big := imaging.New(400, 200, color.Black)
	out := fitToPage(big, cfg)
	if b := out.Bounds(); b.Dx() != 80 || b.Dy() != 40 {
		t.Errorf("Expected 80x40 after fit, got %dx%d", b.Dx(), b.Dy())
	}

	// Transparent pixels become white, not black
	clear := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	out = fitToPage(clear, cfg)
	if g := color.GrayModel.Convert(out.At(3, 3)).(color.Gray); g.Y != 255 {
		t.Errorf("Expected white, got %d", g.Y)
	}
}

func TestParseLpstat(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []string
	}{
		{
			"english",
			"printer TSC_TTP_244 is idle.  enabled since Mon 01 Jan\nprinter Office disabled since Tue\n\tPaused\n",
			[]string{"TSC_TTP_244", "Office"},
		},
		{
			"chinese",
			"打印机Gprinter_GP_1324D闲置，启用时间始于2025年\n打印机Label已禁用\n打印机Busy正在打印 Busy-3\n",
			[]string{"Gprinter_GP_1324D", "Label", "Busy"},
		},
		{
			"chinese unknown state",
			"打印机Other，something\n",
			[]string{"Other"},
		},
		{"crlf", "printer A is idle.\r\n", []string{"A"}},
		{"empty", "", nil},
		{"noise", "scheduler is running\nno system default destination\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLpstat(tt.out)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseLpstat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		out  string
		want string
	}{
		{"request id is TSC-42 (1 file(s))", "TSC-42"},
		{"request id is Label-7", "Label-7"},
		{"", ""},
		{"something else", ""},
	}

	for _, tt := range tests {
		if got := parseJobID(tt.out); got != tt.want {
			t.Errorf("parseJobID(%q) = %q, want %q", tt.out, got, tt.want)
		}
	}
}

func testMixedResult() *renderer.MixedMode {
	text := image.NewGray(image.Rect(0, 0, 40, 20))
	draw.Draw(text, text.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(text, image.Rect(5, 5, 35, 15), image.Black, image.Point{}, draw.Src)

	return &renderer.MixedMode{
		Width:  200,
		Height: 160,
		Bitmaps: []renderer.Bitmap{
			{ElementID: "t", X: 20, Y: 20, Image: text},
		},
		Barcodes: []renderer.BarcodeDesc{
			{ElementID: "b", Content: "BG7XXX", Type: "code128", X: 0, Y: 60, Height: 40, QuietZone: 8},
		},
		Border: &layout.Border{X: 0, Y: 0, Width: 200, Height: 160, Thickness: 2},
	}
}

func TestVirtualOwnership(t *testing.T) {
	v, err := NewVirtualBackend(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("NewVirtualBackend failed: %v", err)
	}

	if !v.Owns(VirtualDeviceName) {
		t.Error("Expected virtual backend to own its device")
	}
	if v.Owns("TSC_TTP_244") {
		t.Error("Expected virtual backend to reject other names")
	}
	devices, _ := v.ListDevices(context.Background())
	if !reflect.DeepEqual(devices, []string{VirtualDeviceName}) {
		t.Errorf("Unexpected devices %v", devices)
	}
}

func TestVirtualSendRaw(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVirtualBackend(dir, 203, nil)
	if err != nil {
		t.Fatalf("NewVirtualBackend failed: %v", err)
	}

	cfg := tspl.Config{WidthMM: 25, HeightMM: 20, Copies: 1}
	data, err := tspl.Generate(testMixedResult(), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	res, err := v.SendRaw(context.Background(), VirtualDeviceName, data)
	if err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}
	if !res.Success || res.JobID == "" {
		t.Errorf("Unexpected result %+v", res)
	}

	img, err := imaging.Open(res.Details)
	if err != nil {
		t.Fatalf("Failed to open preview: %v", err)
	}
	w, h := cfg.PageDots()
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Errorf("Expected %dx%d page, got %dx%d", w, h, b.Dx(), b.Dy())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tspl"))
	if len(matches) != 1 {
		t.Fatalf("Expected one .tspl file, got %d", len(matches))
	}
	saved, _ := os.ReadFile(matches[0])
	if !reflect.DeepEqual(saved, data) {
		t.Error("Expected stored stream to equal the job bytes")
	}
}

func TestVirtualSendRawMalformed(t *testing.T) {
	v, _ := NewVirtualBackend(t.TempDir(), 203, nil)

	_, err := v.SendRaw(context.Background(), VirtualDeviceName, []byte("BITMAP 0,0,10,10,0,\x00"))
	if !errors.Is(err, labelerr.ErrDeviceIO) {
		t.Errorf("Expected ErrDeviceIO, got %v", err)
	}
}

func TestVirtualPreview(t *testing.T) {
	v, _ := NewVirtualBackend(t.TempDir(), 203, nil)

	p, err := v.Preview(testMixedResult())
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if p.Width != 200 || p.Height != 160 {
		t.Errorf("Expected 200x160, got %dx%d", p.Width, p.Height)
	}
	if _, err := os.Stat(p.Path); err != nil {
		t.Errorf("Expected preview file: %v", err)
	}

	img, err := v.Compose(testMixedResult())
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	tests := []struct {
		name  string
		x, y  int
		black bool
	}{
		{"border", 0, 80, true},
		{"text ink", 30, 30, true},
		{"text background", 22, 22, false},
		{"quiet zone", 4, 80, false},
		{"first bar", 8, 80, true},
		{"below barcode", 50, 120, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := color.GrayModel.Convert(img.At(tt.x, tt.y)).(color.Gray)
			if (g.Y < 128) != tt.black {
				t.Errorf("pixel (%d,%d) = %d, want black=%v", tt.x, tt.y, g.Y, tt.black)
			}
		})
	}
}

func TestVirtualPreviewFullBitmap(t *testing.T) {
	v, _ := NewVirtualBackend(t.TempDir(), 203, nil)

	canvas := image.NewGray(image.Rect(0, 0, 64, 32))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	canvas.SetGray(10, 10, color.Gray{})

	img, err := v.Compose(&renderer.FullBitmap{Canvas: canvas, Width: 64, Height: 32})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if g := color.GrayModel.Convert(img.At(10, 10)).(color.Gray); g.Y != 0 {
		t.Errorf("Expected black pixel, got %d", g.Y)
	}
	if _, err := v.Compose(nil); err == nil {
		t.Error("Expected error for nil result")
	}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return reg
}

func TestNetworkBackend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	addr := ln.Addr().(*net.TCPAddr)
	reg := newTestRegistry(t)
	n := NewNetworkBackend(reg)

	name, err := n.AddPrinter("127.0.0.1", addr.Port)
	if err != nil {
		t.Fatalf("AddPrinter failed: %v", err)
	}
	if name != "tcp://127.0.0.1:"+strconv.Itoa(addr.Port) {
		t.Errorf("Unexpected device name %q", name)
	}

	devices, _ := n.ListDevices(context.Background())
	if !reflect.DeepEqual(devices, []string{name}) {
		t.Errorf("Unexpected devices %v", devices)
	}
	if !n.Owns(name) || !n.Owns("tcp://10.0.0.1:9100") || n.Owns("Office") {
		t.Error("Unexpected ownership")
	}

	if _, err := n.SendRaw(context.Background(), name, []byte("PRINT 1\r\n")); err != nil {
		t.Fatalf("SendRaw failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "PRINT 1\r\n" {
			t.Errorf("Unexpected payload %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for payload")
	}
}

func TestNetworkResolve(t *testing.T) {
	reg := newTestRegistry(t)
	n := NewNetworkBackend(reg)

	id := reg.GetPrinterID(registry.PrinterInfo{Type: registry.TypeNetwork, Host: "10.1.1.9", Port: 9101})
	reg.SetPrinterName(id, "Dock")

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Dock", "10.1.1.9:9101", true},
		{"tcp://printer.local:9200", "printer.local:9200", true},
		{"tcp://printer.local", "printer.local:9100", true},
		{"Office", "", false},
	}

	for _, tt := range tests {
		got, err := n.resolve(tt.name)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("resolve(%q) = %q, %v; want %q, ok=%v", tt.name, got, err, tt.want, tt.ok)
		}
	}

	if _, err := n.AddPrinter("", 0); err == nil {
		t.Error("Expected error for empty host")
	}
	if _, err := n.AddPrinter("h", 70000); err == nil {
		t.Error("Expected error for invalid port")
	}
}

func TestSerialBackend(t *testing.T) {
	reg := newTestRegistry(t)
	s := NewSerialBackend(reg, false)

	name, err := s.AddPrinter("/dev/ttyUSB7", 0)
	if err != nil {
		t.Fatalf("AddPrinter failed: %v", err)
	}
	if name != "serial:/dev/ttyUSB7" {
		t.Errorf("Unexpected device name %q", name)
	}
	if !s.Owns(name) || !s.Owns("serial:COM3") || s.Owns("tcp://x:1") {
		t.Error("Unexpected ownership")
	}

	device, baud := s.resolve(name)
	if device != "/dev/ttyUSB7" || baud != DefaultSerialBaud {
		t.Errorf("resolve() = %s, %d", device, baud)
	}

	_, err = s.SendRaw(context.Background(), "serial:", []byte("x"))
	if !errors.Is(err, labelerr.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestQueueCompletes(t *testing.T) {
	b := &fakeBackend{name: "a", devices: []string{"p"}}
	q := NewPrintQueue(NewManager(b), 3)
	defer q.Stop()

	var mu sync.Mutex
	var statuses []string
	q.OnStatus(func(j PrintJob) {
		mu.Lock()
		statuses = append(statuses, j.Status)
		mu.Unlock()
	})

	id := q.Enqueue("p", []byte("CLS\r\n"))
	job := waitForJob(t, q, id)

	if job.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.Result == nil || job.Result.JobID != "a-1" {
		t.Errorf("Unexpected result %+v", job.Result)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{StatusQueued, StatusPrinting, StatusCompleted}
	if !reflect.DeepEqual(statuses, want) {
		t.Errorf("Statuses = %v, want %v", statuses, want)
	}
}

func TestQueueRetriesThenFails(t *testing.T) {
	b := &fakeBackend{name: "a", devices: []string{"p"}, sendErr: labelerr.ErrDeviceIO}
	q := NewPrintQueue(NewManager(b), 2)
	q.SetRetryDelay(10 * time.Millisecond)
	defer q.Stop()

	id := q.Enqueue("p", []byte("x"))
	job := waitForJob(t, q, id)

	if job.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", job.Status)
	}
	if job.Retries != 2 {
		t.Errorf("Expected 2 attempts, got %d", job.Retries)
	}
	if job.Error == "" {
		t.Error("Expected error message")
	}
}

func TestQueueClearCompleted(t *testing.T) {
	b := &fakeBackend{name: "a", devices: []string{"p"}}
	q := NewPrintQueue(NewManager(b), 1)
	defer q.Stop()

	failID := q.Enqueue("missing", []byte("x"))
	okID := q.Enqueue("p", []byte("y"))
	waitForJob(t, q, failID)
	waitForJob(t, q, okID)

	q.ClearCompleted()
	jobs := q.GetAllJobs()
	if len(jobs) != 1 || jobs[0].ID != failID {
		t.Errorf("Expected only the failed job to remain, got %d jobs", len(jobs))
	}
	if q.GetJob("nope") != nil {
		t.Error("Expected nil for unknown job")
	}
}

func waitForJob(t *testing.T, q *PrintQueue, id string) *PrintJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job := q.GetJob(id)
		if job != nil && (job.Status == StatusCompleted || job.Status == StatusFailed) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for job %s", id)
	return nil
}

func TestMonitorDetectsChanges(t *testing.T) {
	b := &fakeBackend{name: "a", devices: []string{"one"}}
	m := NewManager(b)

	added := make(chan Device, 4)
	removed := make(chan Device, 4)
	m.OnPrinterAdded(func(d Device) { added <- d })
	m.OnPrinterRemoved(func(d Device) { removed <- d })

	mon := NewMonitor(m, time.Hour)
	mon.Start()
	defer mon.Stop()

	b.devices = []string{"two"}
	mon.checkChanges()

	select {
	case d := <-added:
		if d.Name != "two" || d.Backend != "a" {
			t.Errorf("Unexpected added device %+v", d)
		}
	default:
		t.Error("Expected an added event")
	}
	select {
	case d := <-removed:
		if d.Name != "one" {
			t.Errorf("Unexpected removed device %+v", d)
		}
	default:
		t.Error("Expected a removed event")
	}
}
