package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"txtconv/internal/infrastructure"
	ws "txtconv/internal/websocket"
)

// WebSocketHandler upgrades HTTP connections and hands them to the hub.
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates the upgrade handler. allowedOrigins limits
// which origins may connect; "*" allows any. Non-positive buffer sizes fall
// back to 1024 bytes.
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string, readBufferSize, writeBufferSize int, logger *slog.Logger) *WebSocketHandler {
	if readBufferSize <= 0 {
		readBufferSize = 1024
	}
	if writeBufferSize <= 0 {
		writeBufferSize = 1024
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With(slog.String("handler", "websocket")),
	}
}

// ServeHTTP handles GET /ws.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := infrastructure.GetTraceID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response; just log.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	h.logger.InfoContext(r.Context(), "websocket connection established",
		slog.String("remote_addr", r.RemoteAddr))
	ws.ServeWS(h.hub, conn, traceID)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Same-origin requests send no Origin header.
		return origin == "" || allowedSet[origin]
	}
}
