package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/thereceipt/label-engine/internal/api"
	"github.com/thereceipt/label-engine/internal/command"
	"github.com/thereceipt/label-engine/internal/engine"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/printer"
	"github.com/thereceipt/label-engine/internal/registry"
	"github.com/thereceipt/label-engine/internal/textraster"
	"github.com/thereceipt/label-engine/internal/tui"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	port := flag.String("port", envOr("SERVER_PORT", "12212"), "HTTP listen port")
	registryPath := flag.String("registry", "", "printer registry file (default next to the executable)")
	outputDir := flag.String("output-dir", envOr("LABEL_OUTPUT_DIR", "output"), "directory for virtual printer output and previews")
	latinFont := flag.String("latin-font", "", "TTF/OTF used for Latin text (default built-in Go Bold)")
	cjkFont := flag.String("cjk-font", os.Getenv("LABEL_CJK_FONT"), "TTF/OTF used for CJK text (default system search)")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	scanSerial := flag.Bool("scan-serial", false, "list unregistered serial ports as printers")
	useTUI := flag.Bool("tui", false, "show the terminal dashboard")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(2)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	logger := slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	logging.SetLogger(logger)

	if *registryPath == "" {
		*registryPath = getRegistryPath()
	}

	reg, err := registry.New(*registryPath)
	if err != nil {
		logger.Error("failed to load printer registry", "path", *registryPath, "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Options{
		Fonts: textraster.Options{
			LatinPath: *latinFont,
			CJKPath:   *cjkFont,
		},
		OutputDir: *outputDir,
		Backends: []printer.Backend{
			printer.NewNetworkBackend(reg),
			printer.NewSerialBackend(reg, *scanSerial),
			printer.NewNativeBackend(),
		},
	})
	if err != nil {
		logger.Error("failed to start label engine", "error", err)
		os.Exit(1)
	}

	// Create print queue with 3 retries
	queue := printer.NewPrintQueue(eng.Manager(), 3)
	defer queue.Stop()

	server := api.NewServer(eng, queue, reg)
	queue.OnStatus(server.BroadcastJobStatus)

	eng.Manager().OnPrinterAdded(server.BroadcastPrinterAdded)
	eng.Manager().OnPrinterRemoved(server.BroadcastPrinterRemoved)

	monitor := printer.NewMonitor(eng.Manager(), 2*time.Second)
	monitor.Start()
	defer monitor.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices := eng.Manager().Devices(ctx)
	logger.Info("label engine starting",
		"version", Version,
		"port", *port,
		"printers", len(devices),
		"output", eng.Virtual().Dir())

	addr := fmt.Sprintf("0.0.0.0:%s", *port)

	if !*useTUI {
		if err := server.Run(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		logger.Info("shut down")
		return
	}

	dashboard := tui.NewDashboard(eng.Manager(), queue, command.NewExecutor(eng, queue, reg), *port)
	logging.SetLogger(slog.New(slog.NewTextHandler(dashboard.LogWriter(), handlerOpts)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		err := server.Run(ctx, addr)
		cancel()
		serverErr <- err
	}()

	if err := dashboard.Run(ctx); err != nil {
		logger.Error("dashboard error", "error", err)
	}
	cancel()

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getRegistryPath returns the path to the printer registry file.
// It tries to place it next to the executable, or falls back to current directory.
func getRegistryPath() string {
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		testFile := filepath.Join(exeDir, ".label-engine-write-test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return filepath.Join(exeDir, "printer_registry.json")
		}
	}

	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "printer_registry.json")
	}

	var configDir string
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			configDir = filepath.Join(appData, "label-engine")
		} else {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "label-engine")
		}
	} else if home := os.Getenv("HOME"); home != "" {
		configDir = filepath.Join(home, ".config", "label-engine")
	}

	if configDir != "" {
		os.MkdirAll(configDir, 0755)
		return filepath.Join(configDir, "printer_registry.json")
	}

	return "printer_registry.json"
}
