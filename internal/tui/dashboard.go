// Package tui is the optional terminal dashboard for the label server.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/label-engine/internal/command"
	"github.com/thereceipt/label-engine/internal/printer"
)

// DeviceLister is satisfied by *printer.Manager
type DeviceLister interface {
	Devices(ctx context.Context) []printer.Device
}

// JobLister is satisfied by *printer.PrintQueue
type JobLister interface {
	GetAllJobs() []*printer.PrintJob
}

// CommandRunner is satisfied by *command.Executor
type CommandRunner interface {
	Execute(cmdStr string) *command.Result
}

const (
	refreshInterval = time.Second
	listTimeout     = 3 * time.Second
)

// Dashboard shows printers, the print queue and server logs, and accepts
// the same commands as the CLI.
type Dashboard struct {
	App      *tview.Application
	devices  DeviceLister
	jobs     JobLister
	executor CommandRunner
	port     string

	flex         *tview.Flex
	printersList *tview.List
	queueTable   *tview.Table
	statusBox    *tview.TextView
	logsArea     *tview.TextView
	commandInput *tview.InputField

	mu        sync.Mutex
	logs      []string
	logsDirty bool
	maxLogs   int
	startTime time.Time
}

// NewDashboard builds the dashboard layout. Nothing is drawn until Run.
func NewDashboard(devices DeviceLister, jobs JobLister, executor CommandRunner, port string) *Dashboard {
	d := &Dashboard{
		App:       tview.NewApplication(),
		devices:   devices,
		jobs:      jobs,
		executor:  executor,
		port:      port,
		maxLogs:   200,
		startTime: time.Now(),
	}

	d.setupUI()
	return d
}

func (d *Dashboard) setupUI() {
	d.printersList = tview.NewList()
	d.printersList.SetBorder(true)
	d.printersList.SetTitle("Printers")

	d.queueTable = tview.NewTable()
	d.queueTable.SetBorder(true)
	d.queueTable.SetTitle("Print Queue")

	d.statusBox = tview.NewTextView()
	d.statusBox.SetBorder(true)
	d.statusBox.SetTitle("Server Status")
	d.statusBox.SetDynamicColors(true)

	d.logsArea = tview.NewTextView()
	d.logsArea.SetBorder(true)
	d.logsArea.SetTitle("Logs")
	d.logsArea.SetDynamicColors(true)
	d.logsArea.SetScrollable(true)

	d.commandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0).
		SetPlaceholder("Type a command (e.g., 'help')").
		SetDoneFunc(func(key tcell.Key) {
			if key == tcell.KeyEnter {
				d.runCommand(d.commandInput.GetText())
				d.commandInput.SetText("")
			}
		})

	topRow := tview.NewFlex().
		AddItem(d.printersList, 0, 1, false).
		AddItem(d.queueTable, 0, 2, false).
		AddItem(d.statusBox, 0, 1, false)

	bottom := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.logsArea, 0, 3, false).
		AddItem(d.commandInput, 1, 0, true)

	d.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, false).
		AddItem(bottom, 0, 1, true)

	d.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if d.commandInput.HasFocus() {
			if event.Key() == tcell.KeyEsc {
				d.App.SetFocus(d.printersList)
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyCtrlC:
			d.App.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case ':':
				d.App.SetFocus(d.commandInput)
				return nil
			case 'q':
				d.App.Stop()
				return nil
			}
		}
		return event
	})

	d.App.SetRoot(d.flex, true).SetFocus(d.commandInput)
}

// Run draws the dashboard and blocks until the user quits or ctx is done
func (d *Dashboard) Run(ctx context.Context) error {
	d.refreshAll()

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				d.App.Stop()
				return
			case <-ticker.C:
				d.App.QueueUpdateDraw(d.refreshAll)
			}
		}
	}()

	return d.App.Run()
}

func (d *Dashboard) refreshAll() {
	d.refreshPrinters()
	d.refreshQueue()
	d.refreshStatus()
	d.refreshLogs()
}

func (d *Dashboard) refreshPrinters() {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	d.printersList.Clear()

	devices := d.devices.Devices(ctx)
	if len(devices) == 0 {
		d.printersList.AddItem("No printers detected", "", 0, nil)
		return
	}

	for _, dev := range devices {
		d.printersList.AddItem(dev.Name, strings.ToUpper(dev.Backend), 0, nil)
	}
}

func (d *Dashboard) refreshQueue() {
	d.queueTable.Clear()

	for col, title := range []string{"Status", "Printer", "Retries", "Age"} {
		d.queueTable.SetCell(0, col, tview.NewTableCell(title).
			SetAlign(tview.AlignCenter).
			SetSelectable(false).
			SetTextColor(tcell.ColorYellow))
	}

	jobs := d.jobs.GetAllJobs()
	counts := make(map[string]int)

	for i, job := range jobs {
		row := i + 1
		counts[job.Status]++

		d.queueTable.SetCell(row, 0, tview.NewTableCell(statusIcon(job.Status)+" "+job.Status))
		d.queueTable.SetCell(row, 1, tview.NewTableCell(job.Printer))
		d.queueTable.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", job.Retries)))
		d.queueTable.SetCell(row, 3, tview.NewTableCell(time.Since(job.CreatedAt).Truncate(time.Second).String()))
	}

	if len(jobs) > 0 {
		d.queueTable.SetCell(len(jobs)+1, 0, tview.NewTableCell(queueSummary(counts)).SetSelectable(false))
	}
}

func queueSummary(counts map[string]int) string {
	return fmt.Sprintf("[%d] Queued [%d] Printing [%d] Completed [%d] Failed",
		counts[printer.StatusQueued], counts[printer.StatusPrinting],
		counts[printer.StatusCompleted], counts[printer.StatusFailed])
}

func (d *Dashboard) refreshStatus() {
	uptime := time.Since(d.startTime)

	d.statusBox.SetText(fmt.Sprintf(`[green]Running[white]

Uptime: %dh %dm
API: :%s
Jobs: %d total`, int(uptime.Hours()), int(uptime.Minutes())%60, d.port, len(d.jobs.GetAllJobs())))
}

func (d *Dashboard) refreshLogs() {
	d.mu.Lock()
	if !d.logsDirty {
		d.mu.Unlock()
		return
	}
	text := strings.Join(d.logs, "")
	d.logsDirty = false
	d.mu.Unlock()

	d.logsArea.SetText(text)
	d.logsArea.ScrollToEnd()
}

// runCommand is called on the UI goroutine
func (d *Dashboard) runCommand(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}

	d.AddLog("> "+cmd, "command")

	switch cmd {
	case "clear":
		d.mu.Lock()
		d.logs = nil
		d.logsDirty = true
		d.mu.Unlock()
	case "quit", "exit":
		d.App.Stop()
		return
	default:
		result := d.executor.Execute(cmd)
		if result.Success {
			d.AddLog(result.Message, "info")
		} else {
			msg := result.Error
			if msg == "" {
				msg = result.Message
			}
			d.AddLog(msg, "error")
		}
	}

	d.refreshAll()
}

// AddLog appends a log line. Safe to call from any goroutine; the panel
// picks it up on the next refresh.
func (d *Dashboard) AddLog(message string, level string) {
	var color string
	switch level {
	case "error":
		color = "[red]"
	case "warning":
		color = "[yellow]"
	case "command":
		color = "[cyan]"
	default:
		color = "[white]"
	}

	entry := fmt.Sprintf("%s[%s] %s[white]\n", color, time.Now().Format("15:04:05"), tview.Escape(message))

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logs = append(d.logs, entry)
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
	d.logsDirty = true
}

// LogWriter returns an io.Writer feeding the logs panel, for use as a
// slog handler destination
func (d *Dashboard) LogWriter() io.Writer {
	return &logWriter{dashboard: d}
}

type logWriter struct {
	dashboard *Dashboard
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		if line == "" {
			continue
		}
		level := "info"
		switch {
		case strings.Contains(line, "level=ERROR"):
			level = "error"
		case strings.Contains(line, "level=WARN"):
			level = "warning"
		}
		w.dashboard.AddLog(line, level)
	}
	return len(p), nil
}

func statusIcon(status string) string {
	switch status {
	case printer.StatusQueued:
		return "⏳"
	case printer.StatusPrinting:
		return "🟡"
	case printer.StatusCompleted:
		return "✅"
	case printer.StatusFailed:
		return "❌"
	default:
		return "⚪"
	}
}
