package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/label-engine/internal/printer"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

const syncPrintTimeout = 30 * time.Second

// labelArgs are the template, data and mode shared by print and preview
type labelArgs struct {
	template *labelformat.Template
	data     map[string]string
	mode     string
	sync     bool
}

// parseLabelArgs reads [template] [--var key=value]... [--mode m] [--sync].
// A missing template or "default" selects the built-in one.
func parseLabelArgs(args []string) (*labelArgs, error) {
	la := &labelArgs{data: make(map[string]string)}
	source := ""

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--var":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--var needs key=value")
			}
			i++
			key, value, ok := strings.Cut(args[i], "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid --var %q, expected key=value", args[i])
			}
			la.data[key] = value
		case strings.HasPrefix(arg, "--var="):
			key, value, ok := strings.Cut(strings.TrimPrefix(arg, "--var="), "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid %q, expected --var=key=value", arg)
			}
			la.data[key] = value
		case arg == "--mode":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--mode needs a value")
			}
			i++
			la.mode = args[i]
		case arg == "--sync":
			la.sync = true
		case strings.HasPrefix(arg, "--"):
			return nil, fmt.Errorf("unknown flag %s", arg)
		case source == "":
			source = arg
		default:
			return nil, fmt.Errorf("unexpected argument %q", arg)
		}
	}

	if source != "" && source != "default" {
		tpl, err := labelformat.Load(source)
		if err != nil {
			return nil, fmt.Errorf("failed to load template: %w", err)
		}
		la.template = tpl
	}

	return la, nil
}

// handlePrint handles print commands
// Usage: print <printer> [template] [--var key=value] [--mode m] [--sync]
func (e *Executor) handlePrint(args []string) *Result {
	if len(args) < 1 {
		return failure("usage: print <printer> [template] [--var key=value] [--mode mixed|full_bitmap] [--sync]")
	}

	printerName := args[0]
	la, err := parseLabelArgs(args[1:])
	if err != nil {
		return failure("%v", err)
	}

	if la.sync {
		ctx, cancel := context.WithTimeout(context.Background(), syncPrintTimeout)
		defer cancel()

		res, err := e.engine.Print(ctx, printerName, la.template, la.data, la.mode)
		if err != nil {
			return failure("print failed: %v", err)
		}
		return &Result{
			Success: true,
			Message: res.Message,
			Data: map[string]interface{}{
				"printer": printerName,
				"result":  res,
			},
		}
	}

	job, err := e.engine.GenerateTSPL(la.template, la.data, la.mode)
	if err != nil {
		return failure("failed to render label: %v", err)
	}

	jobID := e.queue.Enqueue(printerName, job)

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Print job queued: %s", jobID),
		Data: map[string]interface{}{
			"job_id":  jobID,
			"printer": printerName,
		},
	}
}

// handlePreview renders a label into a PNG on the server
// Usage: preview [template] [--var key=value] [--mode m]
func (e *Executor) handlePreview(args []string) *Result {
	la, err := parseLabelArgs(args)
	if err != nil {
		return failure("%v", err)
	}

	p, err := e.engine.Preview(la.template, la.data, la.mode)
	if err != nil {
		return failure("preview failed: %v", err)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Preview written to %s", p.Path),
		Data: map[string]interface{}{
			"path":   p.Path,
			"width":  p.Width,
			"height": p.Height,
		},
	}
}

// handlePrinter handles printer commands
// Usage: printer list | registered | add-network <host> [port] | add-serial <device> [baud] | rename <id> <name>
func (e *Executor) handlePrinter(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: printer <list|registered|add-network|add-serial|rename>")
	}

	subcommand := args[0]

	switch subcommand {
	case "list":
		devices := e.engine.Manager().Devices(context.Background())
		printerList := make([]map[string]interface{}, len(devices))
		for i, d := range devices {
			printerList[i] = map[string]interface{}{
				"name":    d.Name,
				"backend": d.Backend,
			}
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d printer(s)", len(devices)),
			Data: map[string]interface{}{
				"printers": printerList,
			},
		}

	case "registered":
		entries := e.registry.GetAll()
		list := make([]map[string]interface{}, 0, len(entries))
		for _, entry := range entries {
			list = append(list, map[string]interface{}{
				"id":      entry.ID,
				"type":    entry.Type,
				"name":    entry.DisplayName(),
				"address": entry.Address(),
			})
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i]["name"].(string) < list[j]["name"].(string)
		})
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d registered printer(s)", len(list)),
			Data: map[string]interface{}{
				"registered": list,
			},
		}

	case "add-network":
		if len(args) < 2 {
			return failure("usage: printer add-network <host> [port]")
		}
		port := printer.DefaultNetworkPort
		if len(args) >= 3 {
			var err error
			port, err = strconv.Atoi(args[2])
			if err != nil {
				return failure("invalid port: %s", args[2])
			}
		}
		name, err := e.network.AddPrinter(args[1], port)
		if err != nil {
			return failure("%v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Added network printer: %s", name),
			Data:    map[string]interface{}{"printer": name},
		}

	case "add-serial":
		if len(args) < 2 {
			return failure("usage: printer add-serial <device> [baud]")
		}
		baud := printer.DefaultSerialBaud
		if len(args) >= 3 {
			var err error
			baud, err = strconv.Atoi(args[2])
			if err != nil {
				return failure("invalid baud rate: %s", args[2])
			}
		}
		name, err := e.serial.AddPrinter(args[1], baud)
		if err != nil {
			return failure("%v", err)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Added serial printer: %s", name),
			Data:    map[string]interface{}{"printer": name},
		}

	case "rename":
		if len(args) < 3 {
			return failure("usage: printer rename <id> <name>")
		}
		printerID := args[1]
		name := args[2]
		if !e.registry.SetPrinterName(printerID, name) {
			return failure("printer not found: %s", printerID)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Renamed printer %s to %s", printerID, name),
		}

	default:
		return failure("unknown printer subcommand: %s. Use: list, registered, add-network, add-serial, rename", subcommand)
	}
}

func jobData(job *printer.PrintJob) map[string]interface{} {
	data := map[string]interface{}{
		"id":         job.ID,
		"printer":    job.Printer,
		"status":     job.Status,
		"retries":    job.Retries,
		"created_at": job.CreatedAt,
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	return data
}

// handleJob handles job commands
// Usage: job list | status <id> | clear
func (e *Executor) handleJob(args []string) *Result {
	if len(args) == 0 {
		return failure("usage: job <list|status|clear>")
	}

	subcommand := args[0]

	switch subcommand {
	case "list":
		jobs := e.queue.GetAllJobs()
		jobList := make([]map[string]interface{}, len(jobs))
		for i, job := range jobs {
			jobList[i] = jobData(job)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d job(s)", len(jobs)),
			Data: map[string]interface{}{
				"jobs": jobList,
			},
		}

	case "status":
		if len(args) < 2 {
			return failure("usage: job status <id>")
		}
		job := e.queue.GetJob(args[1])
		if job == nil {
			return failure("job not found: %s", args[1])
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Job %s: %s", job.ID, job.Status),
			Data:    jobData(job),
		}

	case "clear":
		e.queue.ClearCompleted()
		return &Result{
			Success: true,
			Message: "Cleared completed jobs",
		}

	default:
		return failure("unknown job subcommand: %s. Use: list, status, clear", subcommand)
	}
}

// handleHelp handles help command
func (e *Executor) handleHelp(args []string) *Result {
	helpText := `Available Commands:

  print <printer> [template] [--var key=value] [--mode mixed|full_bitmap] [--sync]
    Render a label and print it. Without --sync the job is queued.
    The template is a JSON or TOML file path, a URL, or "default".

  preview [template] [--var key=value] [--mode mixed|full_bitmap]
    Render a label to a PNG on the server

  printer list
    List all printers across backends

  printer registered
    List saved network and serial printers

  printer add-network <host> [port]
    Add a network printer (default port: 9100)

  printer add-serial <device> [baud]
    Add a serial printer (default baud: 9600)

  printer rename <id> <name>
    Set a custom name for a saved printer

  job list
    List all print jobs

  job status <id>
    Get status of a specific job

  job clear
    Clear completed jobs from the queue

  help
    Show this help message

Examples:
  print "Virtual Label Printer" --var project_name=Spring --var callsign=BG7XXX --var sn=001 --var qty=3
  print TSC_TTP_244 ./qsl.toml --var callsign=BG7XXX --mode full_bitmap --sync
  printer add-network 192.168.1.100 9100
  printer rename 3f1c... "Shack Printer"
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}
