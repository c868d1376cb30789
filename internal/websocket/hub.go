// Package websocket implements the realtime event channel. A single Hub
// fans broadcast messages out to every connected client; clients only send
// heartbeats back.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"txtconv/internal/infrastructure"
)

// Event types pushed to clients.
const (
	TypeConnection  = "connection"
	TypeProgress    = "progress"
	TypeJobComplete = "job:complete"
	TypeJobError    = "job:error"
)

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients map[*Client]bool

	// Outbound messages fanned out to every client
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	totalConnections int64
	messagesSent     int64
	messagesReceived int64

	quit    chan struct{}
	running bool

	// Client keepalive timing, fixed before clients connect
	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewHub creates a hub. A nil logger falls back to the process logger.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		quit:       make(chan struct{}),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

// ConfigureTiming overrides the ping interval and pong deadline for new
// clients. Non-positive values keep the defaults; the ping interval must
// stay below the pong deadline. Call before Start.
func (h *Hub) ConfigureTiming(ping, pong time.Duration) {
	if pong > 0 {
		h.pongWait = pong
	}
	if ping > 0 && ping < h.pongWait {
		h.pingPeriod = ping
	}
}

// Start launches the hub's main loop. Safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run processes register, unregister, and broadcast events until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.totalConnections++
			h.mu.Unlock()

			ctx := context.Background()
			if client.traceID != "" {
				ctx = infrastructure.WithTraceID(ctx, client.traceID)
			}
			h.logger.InfoContext(ctx, "Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			// Greet the new client so the frontend knows the channel is up.
			connMsg := Message{
				Type: TypeConnection,
				Data: map[string]interface{}{
					"status":    "connected",
					"client_id": client.id,
				},
				Timestamp: time.Now().Format(time.RFC3339),
				TraceID:   client.traceID,
			}
			if jsonData, err := json.Marshal(connMsg); err == nil {
				select {
				case client.send <- jsonData:
				default:
					h.logger.WarnContext(ctx, "Failed to send connection message - client buffer full",
						slog.String("client_id", client.id))
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count := len(h.clients)
				h.mu.Unlock()

				ctx := context.Background()
				if client.traceID != "" {
					ctx = infrastructure.WithTraceID(ctx, client.traceID)
				}
				h.logger.InfoContext(ctx, "Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			failCount := 0
			sent := 0
			for _, client := range clients {
				select {
				case client.send <- message:
					sent++
				default:
					// Slow consumer, drop the connection.
					failCount++
					h.mu.Lock()
					close(client.send)
					delete(h.clients, client)
					h.mu.Unlock()
					h.logger.Warn("Client send buffer full, disconnecting",
						slog.String("client_id", client.id))
				}
			}
			if sent > 0 {
				h.mu.Lock()
				h.messagesSent += int64(sent)
				h.mu.Unlock()
			}
			if failCount > 0 {
				h.logger.Warn("Some clients failed to receive broadcast",
					slog.Int("fail_count", failCount),
					slog.Int("client_count", len(clients)))
			}
		}
	}
}

// Message is the wire envelope for every event pushed over the channel.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Broadcast sends an event of the given type to all connected clients.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	h.BroadcastWithTrace(eventType, data, "")
}

// BroadcastWithTrace sends an event carrying a trace id so the frontend can
// correlate it with the HTTP request that started the work.
func (h *Hub) BroadcastWithTrace(eventType string, data interface{}, traceID string) {
	msg := Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		TraceID:   traceID,
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling broadcast message",
			slog.String("error", err.Error()),
			slog.String("type", eventType))
		return
	}

	select {
	case h.broadcast <- jsonData:
	case <-h.quit:
	}
}

// BroadcastProgress reports conversion progress for a job.
func (h *Hub) BroadcastProgress(jobID string, current, total int64, message string) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(current) / float64(total) * 100
	}
	h.Broadcast(TypeProgress, map[string]interface{}{
		"job_id":     jobID,
		"current":    current,
		"total":      total,
		"percentage": percentage,
		"message":    message,
	})
}

// BroadcastJobComplete announces a finished job.
func (h *Hub) BroadcastJobComplete(jobID string, data interface{}) {
	h.Broadcast(TypeJobComplete, map[string]interface{}{
		"job_id": jobID,
		"result": data,
	})
}

// BroadcastJobError announces a failed job.
func (h *Hub) BroadcastJobError(jobID, message string) {
	h.Broadcast(TypeJobError, map[string]interface{}{
		"job_id":  jobID,
		"message": message,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub. Returns immediately if the hub has
// already stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Stop gracefully stops the hub and closes all client connections.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Stats returns hub counters for the health endpoint.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_received": h.messagesReceived,
	}
}
