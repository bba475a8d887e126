package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/thereceipt/label-engine/internal/command"
	"github.com/thereceipt/label-engine/internal/printer"
)

type stubDevices []printer.Device

func (s stubDevices) Devices(context.Context) []printer.Device { return s }

type stubJobs []*printer.PrintJob

func (s stubJobs) GetAllJobs() []*printer.PrintJob { return s }

type stubRunner struct {
	commands []string
}

func (s *stubRunner) Execute(cmd string) *command.Result {
	s.commands = append(s.commands, cmd)
	if cmd == "bogus" {
		return &command.Result{Success: false, Error: "unknown command: bogus"}
	}
	return &command.Result{Success: true, Message: "Found 1 printer(s)"}
}

func newTestDashboard(runner *stubRunner) *Dashboard {
	devices := stubDevices{
		{Name: printer.VirtualDeviceName, Backend: "virtual"},
		{Name: "TSC_TTP_244", Backend: "cups"},
	}
	jobs := stubJobs{
		{ID: "a", Printer: "TSC_TTP_244", Status: printer.StatusCompleted, CreatedAt: time.Now()},
		{ID: "b", Printer: "TSC_TTP_244", Status: printer.StatusFailed, Retries: 3, CreatedAt: time.Now()},
		{ID: "c", Printer: printer.VirtualDeviceName, Status: printer.StatusQueued, CreatedAt: time.Now()},
	}
	return NewDashboard(devices, jobs, runner, "12212")
}

func TestDashboardPanels(t *testing.T) {
	d := newTestDashboard(&stubRunner{})
	d.refreshAll()

	if n := d.printersList.GetItemCount(); n != 2 {
		t.Fatalf("Expected 2 printers, got %d", n)
	}
	main, secondary := d.printersList.GetItemText(1)
	if main != "TSC_TTP_244" || secondary != "CUPS" {
		t.Errorf("Unexpected printer item %q / %q", main, secondary)
	}

	if rows := d.queueTable.GetRowCount(); rows != 5 {
		t.Errorf("Expected header, 3 jobs and summary, got %d rows", rows)
	}
	if cell := d.queueTable.GetCell(2, 0).Text; !strings.Contains(cell, printer.StatusFailed) {
		t.Errorf("Unexpected status cell %q", cell)
	}
	if cell := d.queueTable.GetCell(2, 2).Text; cell != "3" {
		t.Errorf("Expected retries 3, got %q", cell)
	}
	if cell := d.queueTable.GetCell(4, 0).Text; cell != "[1] Queued [0] Printing [1] Completed [1] Failed" {
		t.Errorf("Unexpected summary %q", cell)
	}

	if status := d.statusBox.GetText(true); !strings.Contains(status, "Jobs: 3 total") || !strings.Contains(status, ":12212") {
		t.Errorf("Unexpected status %q", status)
	}
}

func TestDashboardEmptyPrinters(t *testing.T) {
	d := NewDashboard(stubDevices{}, stubJobs{}, &stubRunner{}, "1")
	d.refreshAll()

	if main, _ := d.printersList.GetItemText(0); main != "No printers detected" {
		t.Errorf("Unexpected placeholder %q", main)
	}
	if rows := d.queueTable.GetRowCount(); rows != 1 {
		t.Errorf("Expected header only, got %d rows", rows)
	}
}

func TestDashboardCommands(t *testing.T) {
	runner := &stubRunner{}
	d := newTestDashboard(runner)

	d.runCommand("  printer list ")
	d.runCommand("bogus")
	d.runCommand("")

	if len(runner.commands) != 2 || runner.commands[0] != "printer list" {
		t.Fatalf("Unexpected commands %q", runner.commands)
	}

	logs := d.logsArea.GetText(true)
	for _, want := range []string{"> printer list", "Found 1 printer(s)", "unknown command: bogus"} {
		if !strings.Contains(logs, want) {
			t.Errorf("Logs missing %q:\n%s", want, logs)
		}
	}

	d.runCommand("clear")
	if logs := d.logsArea.GetText(true); strings.Contains(logs, "bogus") {
		t.Errorf("Expected cleared logs, got %q", logs)
	}
}

func TestDashboardLogWriter(t *testing.T) {
	d := newTestDashboard(&stubRunner{})
	d.maxLogs = 3

	logger := slog.New(slog.NewTextHandler(d.LogWriter(), nil))
	for i := 0; i < 5; i++ {
		logger.Info("job sent", "n", i)
	}
	logger.Error("device [TSC] unreachable")

	d.mu.Lock()
	count := len(d.logs)
	last := d.logs[len(d.logs)-1]
	d.mu.Unlock()

	if count != 3 {
		t.Errorf("Expected log ring of 3, got %d", count)
	}
	if !strings.HasPrefix(last, "[red]") {
		t.Errorf("Expected error colouring, got %q", last)
	}

	d.refreshLogs()
	logs := d.logsArea.GetText(true)
	if !strings.Contains(logs, "unreachable") {
		t.Errorf("Expected error entry, got %q", logs)
	}
	if strings.Contains(logs, fmt.Sprintf("n=%d", 0)) {
		t.Error("Oldest entries should be dropped")
	}
}
