// Package command runs text commands against the label engine. The CLI sends
// these over the API's /command endpoint.
package command

import (
	"fmt"
	"strings"

	"github.com/thereceipt/label-engine/internal/engine"
	"github.com/thereceipt/label-engine/internal/printer"
	"github.com/thereceipt/label-engine/internal/registry"
)

// Executor executes commands
type Executor struct {
	engine   *engine.Engine
	queue    *printer.PrintQueue
	registry *registry.Registry
	network  *printer.NetworkBackend
	serial   *printer.SerialBackend
}

// NewExecutor creates a new command executor
func NewExecutor(eng *engine.Engine, queue *printer.PrintQueue, reg *registry.Registry) *Executor {
	return &Executor{
		engine:   eng,
		queue:    queue,
		registry: reg,
		network:  printer.NewNetworkBackend(reg),
		serial:   printer.NewSerialBackend(reg, false),
	}
}

// Result represents the result of executing a command
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func failure(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return failure("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "print":
		return e.handlePrint(args)
	case "preview":
		return e.handlePreview(args)
	case "printer":
		return e.handlePrinter(args)
	case "job":
		return e.handleJob(args)
	case "help":
		return e.handleHelp(args)
	default:
		return failure("unknown command: %s. Type 'help' for available commands", command)
	}
}

// parseCommand parses a command string into parts, handling quoted strings
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	hasToken := false
	quoteChar := rune(0)

	for _, char := range cmdStr {
		switch {
		case (char == '"' || char == '\'') && !inQuotes:
			inQuotes = true
			quoteChar = char
			hasToken = true
		case inQuotes && char == quoteChar:
			inQuotes = false
			quoteChar = 0
		case (char == ' ' || char == '\t') && !inQuotes:
			if hasToken {
				parts = append(parts, current.String())
				current.Reset()
				hasToken = false
			}
		default:
			current.WriteRune(char)
			hasToken = true
		}
	}

	if hasToken {
		parts = append(parts, current.String())
	}

	return parts
}
