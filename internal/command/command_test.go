package command

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/thereceipt/label-engine/internal/engine"
	"github.com/thereceipt/label-engine/internal/printer"
	"github.com/thereceipt/label-engine/internal/registry"
	"github.com/thereceipt/label-engine/internal/textraster"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

func newTestExecutor(t *testing.T) (*Executor, *printer.PrintQueue) {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.New(filepath.Join(dir, "registry.json"))
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	eng, err := engine.New(engine.Options{
		Fonts:     textraster.Options{SkipSystemFonts: true},
		OutputDir: filepath.Join(dir, "out"),
		Backends:  []printer.Backend{printer.NewNetworkBackend(reg)},
	})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	queue := printer.NewPrintQueue(eng.Manager(), 1)
	t.Cleanup(queue.Stop)

	return NewExecutor(eng, queue, reg), queue
}

const qslVars = `--var project_name=Spring --var callsign=BG7XXX --var sn=001 --var qty=3`

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"printer list", []string{"printer", "list"}},
		{`print "Virtual Label Printer" --var name='A B'`, []string{"print", "Virtual Label Printer", "--var", "name=A B"}},
		{`printer rename id ""`, []string{"printer", "rename", "id", ""}},
		{"  job\tlist  ", []string{"job", "list"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		got := parseCommand(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseLabelArgs(t *testing.T) {
	la, err := parseLabelArgs([]string{"default", "--var", "callsign=BG7XXX", "--var=sn=a=b", "--mode", "full_bitmap", "--sync"})
	if err != nil {
		t.Fatalf("parseLabelArgs failed: %v", err)
	}
	if la.template != nil {
		t.Error("Expected default template to be left nil")
	}
	want := map[string]string{"callsign": "BG7XXX", "sn": "a=b"}
	if !reflect.DeepEqual(la.data, want) {
		t.Errorf("data = %v, want %v", la.data, want)
	}
	if la.mode != "full_bitmap" || !la.sync {
		t.Errorf("Unexpected mode/sync %q %v", la.mode, la.sync)
	}

	path := filepath.Join(t.TempDir(), "qsl.toml")
	if err := labelformat.Default().SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}
	la, err = parseLabelArgs([]string{path})
	if err != nil || la.template == nil {
		t.Fatalf("Expected template from file, got %v", err)
	}

	bad := [][]string{
		{"--var"},
		{"--var", "novalue"},
		{"--mode"},
		{"--bogus"},
		{"a.json", "b.json"},
		{filepath.Join(t.TempDir(), "missing.json")},
	}
	for _, args := range bad {
		if _, err := parseLabelArgs(args); err == nil {
			t.Errorf("Expected error for %q", args)
		}
	}
}

func TestExecuteUnknown(t *testing.T) {
	e, _ := newTestExecutor(t)

	for _, cmd := range []string{"", "dance", "printer", "printer fly", "job", "job fly"} {
		if res := e.Execute(cmd); res.Success {
			t.Errorf("Expected failure for %q", cmd)
		}
	}
	if res := e.Execute("help"); !res.Success || !strings.Contains(res.Message, "print <printer>") {
		t.Error("Expected help text")
	}
}

func TestExecutePrintQueued(t *testing.T) {
	e, queue := newTestExecutor(t)

	res := e.Execute(`print "` + printer.VirtualDeviceName + `" ` + qslVars)
	if !res.Success {
		t.Fatalf("print failed: %s", res.Error)
	}
	jobID, _ := res.Data["job_id"].(string)
	if jobID == "" {
		t.Fatal("Expected job id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := queue.GetJob(jobID); job != nil && job.Status == printer.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	status := e.Execute("job status " + jobID)
	if !status.Success || status.Data["status"] != printer.StatusCompleted {
		t.Errorf("Expected completed job, got %+v", status)
	}

	list := e.Execute("job list")
	if jobs, _ := list.Data["jobs"].([]map[string]interface{}); len(jobs) != 1 {
		t.Errorf("Expected 1 job, got %v", list.Data["jobs"])
	}

	e.Execute("job clear")
	if len(queue.GetAllJobs()) != 0 {
		t.Error("Expected completed jobs to be cleared")
	}
}

func TestExecutePrintSync(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := e.Execute(`print "` + printer.VirtualDeviceName + `" ` + qslVars + ` --sync --mode full_bitmap`)
	if !res.Success {
		t.Fatalf("print failed: %s", res.Error)
	}
	result, ok := res.Data["result"].(printer.Result)
	if !ok || result.Details == "" {
		t.Fatalf("Unexpected result %+v", res.Data["result"])
	}
	if _, err := os.Stat(result.Details); err != nil {
		t.Errorf("Expected rendered PNG: %v", err)
	}

	res = e.Execute("print Nowhere " + qslVars + " --sync")
	if res.Success {
		t.Error("Expected failure for unknown printer")
	}

	res = e.Execute(`print "` + printer.VirtualDeviceName + `" --var callsign=BG7XXX`)
	if res.Success || !strings.Contains(res.Error, "missing data key") {
		t.Errorf("Expected missing key failure, got %+v", res)
	}
}

func TestExecutePreview(t *testing.T) {
	e, _ := newTestExecutor(t)

	res := e.Execute("preview default " + qslVars)
	if !res.Success {
		t.Fatalf("preview failed: %s", res.Error)
	}
	if res.Data["width"] != 608 || res.Data["height"] != 1039 {
		t.Errorf("Unexpected preview size %v x %v", res.Data["width"], res.Data["height"])
	}
}

func TestExecutePrinterCommands(t *testing.T) {
	e, _ := newTestExecutor(t)

	add := e.Execute("printer add-network 10.0.0.5")
	if !add.Success || add.Data["printer"] != "tcp://10.0.0.5:9100" {
		t.Fatalf("add-network failed: %+v", add)
	}
	if res := e.Execute("printer add-network 10.0.0.5 abc"); res.Success {
		t.Error("Expected invalid port failure")
	}
	if res := e.Execute("printer add-serial /dev/ttyUSB0 19200"); !res.Success {
		t.Errorf("add-serial failed: %s", res.Error)
	}

	list := e.Execute("printer list")
	printers, _ := list.Data["printers"].([]map[string]interface{})
	names := make([]string, len(printers))
	for i, p := range printers {
		names[i] = p["name"].(string)
	}
	want := []string{"Virtual Label Printer", "tcp://10.0.0.5:9100"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("printer list = %v, want %v", names, want)
	}

	registered := e.Execute("printer registered")
	entries, _ := registered.Data["registered"].([]map[string]interface{})
	if len(entries) != 2 {
		t.Fatalf("Expected 2 registered printers, got %d", len(entries))
	}

	var networkID string
	for _, entry := range entries {
		if entry["type"] == registry.TypeNetwork {
			networkID = entry["id"].(string)
		}
	}
	if res := e.Execute(`printer rename ` + networkID + ` "Shack Printer"`); !res.Success {
		t.Fatalf("rename failed: %s", res.Error)
	}
	if res := e.Execute("printer rename nope x"); res.Success {
		t.Error("Expected rename failure for unknown id")
	}

	list = e.Execute("printer list")
	printers, _ = list.Data["printers"].([]map[string]interface{})
	if len(printers) != 2 || printers[0]["name"] != "Shack Printer" {
		t.Errorf("Expected renamed printer first, got %v", printers)
	}
}
