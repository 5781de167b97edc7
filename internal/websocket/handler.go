package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"attendance/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	// Origins are enforced by the CORS layer and the bearer token.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Subscriber delivers presence snapshots to registered connections.
type Subscriber interface {
	Subscribe(conn *Connection) error
	Unsubscribe(conn *Connection)
}

// Handler upgrades presenter requests into presence streams. Streams are
// write-only; anything the client sends is discarded.
type Handler struct {
	subscriber   Subscriber
	pingInterval time.Duration
}

// NewHandler creates a presence stream handler.
func NewHandler(subscriber Subscriber, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Handler{subscriber: subscriber, pingInterval: pingInterval}
}

// Serve upgrades the request and follows sessionID for userID. The caller
// has already authorized userID for the session.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn)
	wsConn.Bind(userID, sessionID)

	if err := h.subscriber.Subscribe(wsConn); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Presence subscription refused")
		_ = wsConn.CloseWithMessage(websocket.ClosePolicyViolation, err.Error())
		return
	}

	go h.handleConnection(wsConn)
}

func (h *Handler) handleConnection(conn *Connection) {
	metrics := telemetry.GetMetrics()
	metrics.PresenceStreams.Add(context.Background(), 1)
	defer func() {
		metrics.PresenceStreams.Add(context.Background(), -1)
		h.subscriber.Unsubscribe(conn)
		_ = conn.Close()
	}()

	readTimeout := 2 * h.pingInterval
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("session_id", conn.GetSessionID()).Msg("Presence stream read error")
			}
			return
		}
	}
}
