// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy for websocket upgrades; localhost is allowed for
	// development proxies.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if strings.HasPrefix(origin, "http://") {
			return origin[len("http://"):] == host
		}
		if strings.HasPrefix(origin, "https://") {
			return origin[len("https://"):] == host
		}
		return false
	},
}

// wsClient is one connected websocket with its job subscriptions. A client
// subscribed to no jobs receives every event.
type wsClient struct {
	conn *websocket.Conn
	jobs map[string]bool
	send chan []byte
}

// wsManager fans hub events out to websocket clients.
type wsManager struct {
	hub       *events.Hub
	logger    *logging.Logger
	collector *metrics.Metrics

	mu         sync.RWMutex
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
}

func newWSManager(hub *events.Hub, logger *logging.Logger, collector *metrics.Metrics) *wsManager {
	m := &wsManager{
		hub:        hub,
		logger:     logger.WithComponent("ws"),
		collector:  collector,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
	go m.run()
	go m.bridge()
	return m
}

func (m *wsManager) run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			m.collector.WSClients.Set(float64(len(m.clients)))
			m.mu.Unlock()
		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				client.conn.Close()
			}
			m.collector.WSClients.Set(float64(len(m.clients)))
			m.mu.Unlock()
		}
	}
}

// bridge forwards every hub event to subscribed clients.
func (m *wsManager) bridge() {
	ch := m.hub.Subscribe(512)
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		m.mu.RLock()
		for client := range m.clients {
			if len(client.jobs) > 0 && ev.JobID != "" && !client.jobs[ev.JobID] {
				continue
			}
			select {
			case client.send <- data:
			default:
				// Client buffer full, skip.
			}
		}
		m.mu.RUnlock()
	}
}

// readPump handles job subscription messages until the connection closes.
func (c *wsClient) readPump(m *wsManager) {
	defer func() {
		m.unregister <- c
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg struct {
			Action string   `json:"action"`
			Jobs   []string `json:"jobs"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			for _, job := range msg.Jobs {
				c.jobs[job] = true
			}
		case "unsubscribe":
			for _, job := range msg.Jobs {
				delete(c.jobs, job)
			}
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}

// handleWS upgrades the connection and attaches it to the event stream.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		jobs: make(map[string]bool),
		send: make(chan []byte, 256),
	}
	s.wsManager.register <- client

	go client.writePump()
	go client.readPump(s.wsManager)
}
