package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/switchboard/internal/device"
	"github.com/nerrad567/switchboard/internal/infrastructure/config"
	"github.com/nerrad567/switchboard/internal/infrastructure/logging"
)

const (
	// EventDeviceStateChanged is the type of every message the hub sends.
	EventDeviceStateChanged = "device.state_changed"

	// wsSendBufferSize is the per-client outbound queue. A client that lets
	// it fill is disconnected rather than skipped, so it never silently
	// misses a newer state.
	wsSendBufferSize = 64
)

// StateEvent is one committed change as sent to WebSocket clients.
type StateEvent struct {
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	Device    DeviceResponse `json:"device"`
}

// Hub fans committed device changes out to WebSocket clients.
//
// The stream is one-way. Clients choose devices at connect time with
// repeated ?device= parameters; without any they receive every device.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// devices is nil for a client following every device.
	devices map[string]struct{}
}

func (c *wsClient) follows(name string) bool {
	if c.devices == nil {
		return true
	}
	_, ok := c.devices[name]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister removes c and closes its queue. Only the caller that removes
// the client closes the channel.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnStateChange queues change for every client following the device.
//
// The registry calls this while holding the device's write lock, so events
// for one device are queued in version order.
func (h *Hub) OnStateChange(_ context.Context, change device.StateChange) error {
	data, err := json.Marshal(StateEvent{
		Type:      EventDeviceStateChanged,
		EventID:   change.EventID,
		Source:    change.Source,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Device:    newDeviceResponse(change.Device),
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	var full []*wsClient
	for c := range h.clients {
		if !c.follows(change.Device.Name) {
			continue
		}
		select {
		case c.send <- data:
		default:
			full = append(full, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range full {
		h.logger.Warn("websocket client too slow, disconnecting", "device", change.Device.Name)
		h.unregister(c)
	}
	return nil
}

// handleWebSocket validates the ?device= filter and upgrades the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var follow map[string]struct{}
	if names := r.URL.Query()["device"]; len(names) > 0 {
		if _, err := s.registry.GetMany(r.Context(), names); err != nil {
			s.writeDeviceError(w, r, err)
			return
		}
		follow = make(map[string]struct{}, len(names))
		for _, n := range names {
			follow[n] = struct{}{}
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		devices: follow,
	}
	s.hub.register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

// readPump discards client frames and keeps the read deadline moving on pongs.
// It returns, and unregisters the client, when the connection fails.
func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // Connection is done
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // Checked by the next read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // Checked by the next read
	}
}

// writePump drains the queue and pings on the configured interval.
func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Connection is done
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write reports it
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Best effort
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write reports it
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
