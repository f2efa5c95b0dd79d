// Package ui implements the UI collaborator binding: a status-broadcast
// WebSocket hub for dashboards plus the admin/webhook HTTP surface that
// feeds events back into the dispatcher. Grounded on
// _examples/markus-barta-nixfleet's internal/dashboard/hub.go
// browser-broadcast design, narrowed to its browser-only half (this
// service has no agent side — pipelines push status, browsers only
// watch).
package ui

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/pkg/logger"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 64 * 1024
	broadcastQueueSize = 1024
)

// Client is one dashboard browser's WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	closeOnce sync.Once
	closed    atomic.Bool
}

// SafeSend enqueues data for this client without ever panicking on a
// closed channel (a close can race a send from the hub's broadcast loop).
func (c *Client) SafeSend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close closes the client's send channel exactly once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// Hub fans SendStatus notifications out to every connected dashboard
// browser.
type Hub struct {
	log *logger.Logger

	mu       sync.RWMutex
	browsers map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcasts chan []byte
}

// NewHub builds an idle Hub; call Run to start its loops.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewFromEnv("ui")
	}
	return &Hub{
		log:        log,
		browsers:   make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcasts: make(chan []byte, broadcastQueueSize),
	}
}

// Run drives the hub's registration and broadcast loops until stop is
// closed.
func (h *Hub) Run(stop <-chan struct{}) {
	go h.broadcastLoop(stop)

	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.browsers[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			delete(h.browsers, c)
			h.mu.Unlock()
			c.Close()
		}
	}
}

func (h *Hub) broadcastLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case data := <-h.broadcasts:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.browsers))
			for c := range h.browsers {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				c.SafeSend(data)
			}
		}
	}
}

// statusMessage is the JSON shape pushed to dashboards.
type statusMessage struct {
	Type     string `json:"type"`
	Pipeline int64  `json:"pipeline"`
	Pr       string `json:"pr"`
	Status   string `json:"status"`
	Pull     string `json:"pull_commit,omitempty"`
	Merge    string `json:"merge_commit,omitempty"`
	URL      string `json:"url,omitempty"`
}

// BroadcastStatus queues a status update for every connected browser.
// Non-blocking: drops and logs on a full queue rather than stalling the
// caller (the collaborator worker that calls SendStatus).
func (h *Hub) BroadcastStatus(id pipeline.PipelineId, pr pipeline.Pr, status pipeline.Status) {
	msg := statusMessage{
		Type:     "pipeline_status",
		Pipeline: int64(id),
		Pr:       pr.String(),
		Status:   string(status.Kind),
		URL:      status.URL,
	}
	if status.Pull != nil {
		msg.Pull = status.Pull.String()
	}
	if status.Merge != nil {
		msg.Merge = status.Merge.String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithFields(nil).WithError(err).Error("marshal status broadcast")
		return
	}

	select {
	case h.broadcasts <- data:
	default:
		h.log.WithFields(nil).Warn("broadcast queue full, dropping status update")
	}
}

// Register starts a client's read/write pumps and hands it to the hub.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &Client{conn: conn, send: make(chan []byte, 32), hub: h}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
