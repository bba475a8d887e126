package api

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereceipt/label-engine/internal/logging"
	"github.com/thereceipt/label-engine/internal/printer"
)

// WebSocket message types
const (
	EventPrint          = "print"
	EventJobStatus      = "job_status"
	EventPrinterAdded   = "printer_added"
	EventPrinterRemoved = "printer_removed"
	EventResponse       = "response"
	EventError          = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan WSMessage
	server *Server
	once   sync.Once
}

// hub tracks connected clients for broadcasts
type hub struct {
	clients map[*WSClient]bool
	mu      sync.RWMutex
}

func newHub() *hub {
	return &hub{clients: make(map[*WSClient]bool)}
}

func (h *hub) add(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *hub) remove(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *hub) broadcast(message WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Client send buffer full, skip
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]bool)
	h.mu.Unlock()

	for client := range clients {
		client.close()
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Logger().Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan WSMessage, 256),
		server: s,
	}

	s.hub.add(client)
	logging.Logger().Info("websocket client connected", "remote", conn.RemoteAddr().String())

	go client.readPump()
	go client.writePump()
}

func (c *WSClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func (c *WSClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			logging.Logger().Debug("websocket write failed", "error", err)
			return
		}
	}

	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *WSClient) readPump() {
	defer func() {
		c.server.hub.remove(c)
		logging.Logger().Info("websocket client disconnected")
	}()

	for {
		var msg WSMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Logger().Warn("websocket read failed", "error", err)
			}
			return
		}

		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *WSMessage) {
	switch msg.Event {
	case EventPrint:
		c.handlePrintEvent(msg.Data)
	default:
		c.sendError(fmt.Sprintf("unknown event: %s", msg.Event))
	}
}

// handlePrintEvent queues a label; the payload has the shape of a POST /print body
func (c *WSClient) handlePrintEvent(data map[string]interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.sendError(fmt.Sprintf("invalid print request: %v", err))
		return
	}

	var req printRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError(fmt.Sprintf("invalid print request: %v", err))
		return
	}
	if req.Printer == "" {
		c.sendError("printer is required")
		return
	}

	tpl, err := req.template()
	if err != nil {
		c.sendError(err.Error())
		return
	}

	job, err := c.server.engine.GenerateTSPL(tpl, req.data(), req.Mode)
	if err != nil {
		c.sendError(fmt.Sprintf("failed to render label: %v", err))
		return
	}

	jobID := c.server.queue.Enqueue(req.Printer, job)

	c.reply(WSMessage{
		Event: EventResponse,
		Data: map[string]interface{}{
			"success": true,
			"job_id":  jobID,
		},
	})
}

func (c *WSClient) sendError(message string) {
	c.reply(WSMessage{
		Event: EventError,
		Data: map[string]interface{}{
			"error": message,
		},
	})
}

// reply queues a message unless the client is already gone
func (c *WSClient) reply(msg WSMessage) {
	c.server.hub.mu.RLock()
	defer c.server.hub.mu.RUnlock()

	if !c.server.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		logging.Logger().Warn("websocket send buffer full, dropping reply", "event", msg.Event)
	}
}

// BroadcastJobStatus broadcasts a job status change to all connected clients
func (s *Server) BroadcastJobStatus(job printer.PrintJob) {
	data := map[string]interface{}{
		"id":      job.ID,
		"printer": job.Printer,
		"status":  job.Status,
		"retries": job.Retries,
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	s.hub.broadcast(WSMessage{Event: EventJobStatus, Data: data})
}

// BroadcastPrinterAdded broadcasts a printer added event to all connected clients
func (s *Server) BroadcastPrinterAdded(d printer.Device) {
	s.hub.broadcast(WSMessage{
		Event: EventPrinterAdded,
		Data: map[string]interface{}{
			"name":    d.Name,
			"backend": d.Backend,
		},
	})
}

// BroadcastPrinterRemoved broadcasts a printer removed event to all connected clients
func (s *Server) BroadcastPrinterRemoved(d printer.Device) {
	s.hub.broadcast(WSMessage{
		Event: EventPrinterRemoved,
		Data: map[string]interface{}{
			"name":    d.Name,
			"backend": d.Backend,
		},
	})
}
