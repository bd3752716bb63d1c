package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	statusPushInterval = 2 * time.Second
	statusPingInterval = 25 * time.Second
	statusReadTimeout  = 60 * time.Second
	statusClientBuffer = 16
	statusLogBacklog   = 200
)

// StatusSnapshot is pushed to /admin/ws subscribers.
type StatusSnapshot struct {
	SessionConfigured bool       `json:"session_configured"`
	SessionUpdatedAt  *time.Time `json:"session_updated_at,omitempty"`
	DefaultModel      string     `json:"default_model"`
	Models            int        `json:"models"`
	ModelsFetchedAt   *time.Time `json:"models_fetched_at,omitempty"`
	CatalogError      string     `json:"catalog_error,omitempty"`
	ActiveStreams     int64      `json:"active_streams"`
	Version           string     `json:"version"`
}

type statusMessage struct {
	Type   string          `json:"type"`
	Status *StatusSnapshot `json:"status,omitempty"`
	Line   string          `json:"line,omitempty"`
}

type statusClient struct {
	ch chan []byte
}

// StatusHub fans status snapshots and log lines out to websocket clients.
// It is an io.Writer so it can receive the process log stream. The most
// recent lines are kept and replayed to new clients.
type StatusHub struct {
	snapshot func() StatusSnapshot
	refresh  func()

	mu      sync.Mutex
	clients map[*statusClient]struct{}
	partial []byte
	recent  [][]byte
}

func NewStatusHub(snapshot func() StatusSnapshot, refresh func()) *StatusHub {
	return &StatusHub{
		snapshot: snapshot,
		refresh:  refresh,
		clients:  map[*statusClient]struct{}{},
	}
}

// Run pushes a snapshot to every client until ctx is done.
func (h *StatusHub) Run(ctx context.Context) {
	t := time.NewTicker(statusPushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if h.clientCount() > 0 {
				h.broadcast(h.statusPayload())
			}
		}
	}
}

// Write splits p into lines and forwards each as a log message. It never
// logs, since it sits on the log output path.
func (h *StatusHub) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partial = append(h.partial, p...)
	for {
		idx := bytes.IndexByte(h.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(h.partial[:idx]), "\r")
		h.partial = h.partial[idx+1:]
		if line == "" {
			continue
		}
		msg, err := json.Marshal(statusMessage{Type: "log", Line: line})
		if err != nil {
			continue
		}
		h.recent = append(h.recent, msg)
		if len(h.recent) > statusLogBacklog {
			h.recent = h.recent[len(h.recent)-statusLogBacklog:]
		}
		h.broadcastLocked(msg)
	}
	return len(p), nil
}

func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			origin := strings.TrimSpace(req.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, req.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(statusReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(statusReadTimeout))
	})

	client := &statusClient{ch: make(chan []byte, statusClientBuffer+statusLogBacklog)}
	h.register(client)
	defer h.unregister(client)
	h.send(client, h.statusPayload())

	pingTicker := time.NewTicker(statusPingInterval)
	defer pingTicker.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.handleClientMessage(client, payload)
		}
	}()
	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg, ok := <-client.ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// handleClientMessage accepts {"type":"refresh_models"} to force a catalog
// refresh. Anything else is ignored.
func (h *StatusHub) handleClientMessage(client *statusClient, payload []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	switch strings.TrimSpace(msg.Type) {
	case "refresh_models":
		if h.refresh != nil {
			h.refresh()
		}
	case "status":
		h.send(client, h.statusPayload())
	}
}

func (h *StatusHub) statusPayload() []byte {
	var snap StatusSnapshot
	if h.snapshot != nil {
		snap = h.snapshot()
	}
	b, _ := json.Marshal(statusMessage{Type: "status", Status: &snap})
	return b
}

// register adds c and queues the log backlog for it.
func (h *StatusHub) register(c *statusClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, msg := range h.recent {
		select {
		case c.ch <- msg:
		default:
		}
	}
}

func (h *StatusHub) unregister(c *statusClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

func (h *StatusHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast drops the message for clients whose buffer is full.
func (h *StatusHub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(msg)
}

func (h *StatusHub) broadcastLocked(msg []byte) {
	for c := range h.clients {
		select {
		case c.ch <- msg:
		default:
		}
	}
}

func (h *StatusHub) send(c *statusClient, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.ch <- msg:
	default:
	}
}

func (h *StatusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.ch)
	}
}
