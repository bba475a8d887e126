// Package api handles HTTP and WebSocket API endpoints
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereceipt/label-engine/internal/command"
	"github.com/thereceipt/label-engine/internal/engine"
	"github.com/thereceipt/label-engine/internal/labelerr"
	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/printer"
	"github.com/thereceipt/label-engine/internal/registry"
	"github.com/thereceipt/label-engine/pkg/labelformat"
)

const printTimeout = 30 * time.Second

// Server is the API server
type Server struct {
	router   *gin.Engine
	engine   *engine.Engine
	queue    *printer.PrintQueue
	registry *registry.Registry
	network  *printer.NetworkBackend
	serial   *printer.SerialBackend
	executor *command.Executor
	upgrader websocket.Upgrader
	hub      *hub
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, queue *printer.PrintQueue, reg *registry.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsMiddleware())

	server := &Server{
		router:   router,
		engine:   eng,
		queue:    queue,
		registry: reg,
		network:  printer.NewNetworkBackend(reg),
		serial:   printer.NewSerialBackend(reg, false),
		executor: command.NewExecutor(eng, queue, reg),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		hub: newHub(),
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.router.GET("/printers", s.handleGetPrinters)
	s.router.POST("/printer/network", s.handleAddNetworkPrinter)
	s.router.POST("/printer/serial", s.handleAddSerialPrinter)
	s.router.POST("/printer/:id/name", s.handleSetPrinterName)

	s.router.GET("/template/default", s.handleDefaultTemplate)
	s.router.POST("/preview", s.handlePreview)
	s.router.POST("/tspl", s.handleTSPL)
	s.router.POST("/print", s.handlePrint)

	s.router.GET("/jobs", s.handleGetJobs)
	s.router.GET("/job/:id", s.handleGetJob)

	s.router.POST("/command", s.handleCommand)

	s.router.GET("/ws", s.handleWebSocket)
}

// labelRequest selects a template and supplies its data
type labelRequest struct {
	Template     *labelformat.Template  `json:"template"`
	TemplatePath string                 `json:"template_path"`
	TemplateURL  string                 `json:"template_url"`
	Data         map[string]interface{} `json:"data"`
	Mode         string                 `json:"mode"`
}

type printRequest struct {
	labelRequest
	Printer string `json:"printer" binding:"required"`
}

// template returns the requested template, or nil for the built-in default
func (r *labelRequest) template() (*labelformat.Template, error) {
	switch {
	case r.TemplateURL != "":
		tpl, err := labelformat.Load(r.TemplateURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", labelerr.ErrInvalidTemplate, err)
		}
		return tpl, nil
	case r.TemplatePath != "":
		tpl, err := labelformat.Load(r.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", labelerr.ErrInvalidTemplate, err)
		}
		return tpl, nil
	default:
		return r.Template, nil
	}
}

// data stringifies JSON values so numbers like "qty": 3 are accepted
func (r *labelRequest) data() map[string]string {
	out := make(map[string]string, len(r.Data))
	for k, v := range r.Data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, labelerr.ErrMissingDataKey),
		errors.Is(err, labelerr.ErrInvalidTemplate),
		errors.Is(err, labelerr.ErrInvalidMode),
		errors.Is(err, labelerr.ErrBarcodeEncoding):
		return http.StatusBadRequest
	case errors.Is(err, labelerr.ErrLayoutOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, labelerr.ErrDeviceUnavailable):
		return http.StatusNotFound
	case errors.Is(err, labelerr.ErrDeviceIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.Logger().Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// handleGetPrinters returns every printer across backends
func (s *Server) handleGetPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"printers":   s.engine.Manager().Devices(c.Request.Context()),
		"registered": s.registry.GetAll(),
	})
}

// handleSetPrinterName sets a custom name for a saved printer
func (s *Server) handleSetPrinterName(c *gin.Context) {
	printerID := c.Param("id")

	var req struct {
		Name string `json:"name" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	if !s.registry.SetPrinterName(printerID, req.Name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleAddNetworkPrinter manually adds a network printer
func (s *Server) handleAddNetworkPrinter(c *gin.Context) {
	var req struct {
		Host string `json:"host" binding:"required"`
		Port int    `json:"port"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host is required"})
		return
	}

	name, err := s.network.AddPrinter(req.Host, req.Port)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "printer": name})
}

// handleAddSerialPrinter manually adds a serial printer
func (s *Server) handleAddSerialPrinter(c *gin.Context) {
	var req struct {
		Device string `json:"device" binding:"required"`
		Baud   int    `json:"baud"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device is required"})
		return
	}

	name, err := s.serial.AddPrinter(req.Device, req.Baud)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "printer": name})
}

func (s *Server) handleDefaultTemplate(c *gin.Context) {
	c.JSON(http.StatusOK, labelformat.Default())
}

// handlePreview renders a PNG. With ?download=1 the image itself is returned.
func (s *Server) handlePreview(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := req.template()
	if err != nil {
		s.fail(c, err)
		return
	}

	p, err := s.engine.Preview(tpl, req.data(), req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	if c.Query("download") != "" {
		c.File(p.Path)
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleTSPL returns the raw job bytes without printing
func (s *Server) handleTSPL(c *gin.Context) {
	var req labelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := req.template()
	if err != nil {
		s.fail(c, err)
		return
	}

	job, err := s.engine.GenerateTSPL(tpl, req.data(), req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", job)
}

// handlePrint prints synchronously, or queues the job with ?async=1
func (s *Server) handlePrint(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tpl, err := req.template()
	if err != nil {
		s.fail(c, err)
		return
	}

	if c.Query("async") != "" {
		job, err := s.engine.GenerateTSPL(tpl, req.data(), req.Mode)
		if err != nil {
			s.fail(c, err)
			return
		}
		jobID := s.queue.Enqueue(req.Printer, job)
		c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": jobID})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), printTimeout)
	defer cancel()

	res, err := s.engine.Print(ctx, req.Printer, tpl, req.data(), req.Mode)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// handleGetJobs returns all print jobs
func (s *Server) handleGetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.queue.GetAllJobs()})
}

// handleGetJob returns a specific print job
func (s *Server) handleGetJob(c *gin.Context) {
	job := s.queue.GetJob(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// handleCommand handles command execution requests
func (s *Server) handleCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	result := s.executor.Execute(req.Command)

	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Run starts the API server and stops it when ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Logger().Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
