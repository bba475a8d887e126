package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/thereceipt/label-engine/pkg/labelformat"
)

const (
	defaultServerURL = "http://localhost:12212"
)

func main() {
	var serverURL string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	args := flag.Args()

	if args[0] == "tspl" {
		if err := fetchTSPL(serverURL, args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	result := executeCommand(serverURL, joinArgs(args))

	if result.Success {
		printSuccess(result)
		os.Exit(0)
	} else {
		printError(result)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Label Engine CLI

Usage:
  label-cli [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)

Commands:
  print <printer> [template] [--var key=value] [--mode mixed|full_bitmap] [--sync]
    Render a label and print it. Without --sync the job is queued.

  preview [template] [--var key=value] [--mode mixed|full_bitmap]
    Render a PNG preview on the server

  tspl [template] [--var key=value] [--mode m] [-o file]
    Download the TSPL job bytes without printing (stdout by default).
    The template is read locally.

  printer list
    List all printers

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
    Show help message

Examples:
  label-cli print "Virtual Label Printer" --var project_name=Spring --var callsign=BG7XXX --var sn=001 --var qty=3
  label-cli print TSC_TTP_244 ./qsl.toml --var callsign=BG7XXX --mode full_bitmap --sync
  label-cli tspl ./qsl.json --var callsign=BG7XXX -o label.prn
  label-cli printer add-network 192.168.1.100 9100
  label-cli -s http://localhost:8080 printer list

`, defaultServerURL)
}

// joinArgs rebuilds the command line, quoting arguments the server would
// otherwise split
func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		switch {
		case strings.Contains(arg, `"`):
			arg = "'" + arg + "'"
		case arg == "" || strings.ContainsAny(arg, " \t'"):
			arg = `"` + arg + `"`
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}

type CommandResult struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func executeCommand(serverURL, command string) *CommandResult {
	url := strings.TrimSuffix(serverURL, "/") + "/command"

	reqBody := map[string]string{
		"command": command,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to connect to server: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to read response: %v", err),
		}
	}

	var result CommandResult
	if err := json.Unmarshal(body, &result); err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	return &result
}

// fetchTSPL posts a label to /tspl and writes the job bytes
func fetchTSPL(serverURL string, args []string) error {
	req := map[string]interface{}{}
	data := map[string]string{}
	output := ""

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case (arg == "--var" || arg == "--mode" || arg == "-o") && i+1 >= len(args):
			return fmt.Errorf("%s needs a value", arg)
		case arg == "--var":
			i++
			key, value, ok := strings.Cut(args[i], "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid --var %q, expected key=value", args[i])
			}
			data[key] = value
		case arg == "--mode":
			i++
			req["mode"] = args[i]
		case arg == "-o":
			i++
			output = args[i]
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag %s", arg)
		default:
			if _, ok := req["template"]; ok {
				return fmt.Errorf("unexpected argument %q", arg)
			}
			if arg == "default" {
				continue
			}
			tpl, err := labelformat.Load(arg)
			if err != nil {
				return err
			}
			req["template"] = tpl
		}
	}
	req["data"] = data

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(serverURL, "/") + "/tspl"
	resp, err := http.Post(url, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	if output == "" {
		_, err = os.Stdout.Write(body)
		return err
	}
	if err := os.WriteFile(output, body, 0644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", len(body), output)
	return nil
}

func printSuccess(result *CommandResult) {
	if result.Message != "" {
		fmt.Println(result.Message)
	}

	if result.Data != nil {
		if printers, ok := result.Data["printers"].([]interface{}); ok {
			fmt.Println("\nPrinters:")
			for _, p := range printers {
				if printer, ok := p.(map[string]interface{}); ok {
					fmt.Printf("  %s (%s)\n", printer["name"], printer["backend"])
				}
			}
		}

		if registered, ok := result.Data["registered"].([]interface{}); ok {
			fmt.Println("\nRegistered:")
			for _, r := range registered {
				if entry, ok := r.(map[string]interface{}); ok {
					fmt.Printf("  %s: %s [%s] %s\n", entry["id"], entry["name"], entry["type"], entry["address"])
				}
			}
		}

		if jobs, ok := result.Data["jobs"].([]interface{}); ok {
			fmt.Println("\nJobs:")
			for _, j := range jobs {
				if job, ok := j.(map[string]interface{}); ok {
					fmt.Printf("  %s: %s (printer: %s)\n",
						job["id"], job["status"], job["printer"])
				}
			}
		}

		if jobID, ok := result.Data["job_id"].(string); ok {
			fmt.Printf("Job ID: %s\n", jobID)
		}

		if path, ok := result.Data["path"].(string); ok {
			fmt.Printf("Preview: %s\n", path)
		}
	}
}

func printError(result *CommandResult) {
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
	} else if result.Message != "" {
		fmt.Fprintf(os.Stderr, "%s\n", result.Message)
	}
}
