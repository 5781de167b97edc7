// Package hub pushes presence snapshots to presenters following a session.
// Every message is a complete snapshot, so a dropped or reordered message
// is repaired by the next one.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"attendance/internal/websocket"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

type event struct {
	sessionID string
	closed    bool
}

// Hub serializes snapshot delivery in a single goroutine. It implements
// interfaces.Notifier and websocket.Subscriber.
type Hub struct {
	eventChannel      chan event
	registerChannel   chan *websocket.Connection
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}
	done              chan struct{}

	store    interfaces.SessionStore
	registry *websocket.Registry
	now      func() time.Time

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over store and registry.
func NewHub(store interfaces.SessionStore, registry *websocket.Registry) *Hub {
	return &Hub{
		eventChannel:      make(chan event, 1000),
		registerChannel:   make(chan *websocket.Connection, 100),
		unregisterChannel: make(chan *websocket.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		done:              make(chan struct{}),
		store:             store,
		registry:          registry,
		now:               time.Now,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Info().Msg("Starting presence hub")
	go h.run(ctx)

	return nil
}

// Stop shuts the hub down and closes every stream.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done
	if n := h.registry.CloseAll(); n > 0 {
		log.Info().Int("streams", n).Msg("Closed presence streams")
	}
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// MarkRecorded queues a snapshot for every stream of sessionID.
func (h *Hub) MarkRecorded(sessionID string) {
	if err := h.enqueue(event{sessionID: sessionID}, 0); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Presence update dropped")
	}
}

// SessionClosed queues a final snapshot and closes the session's streams.
// The final event waits briefly for room rather than being dropped.
func (h *Hub) SessionClosed(sessionID string) {
	if err := h.enqueue(event{sessionID: sessionID, closed: true}, time.Second); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Presence close dropped")
	}
}

func (h *Hub) enqueue(ev event, wait time.Duration) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.eventChannel <- ev:
		return nil
	default:
	}
	if wait <= 0 {
		return ErrEventChannelFull
	}
	select {
	case h.eventChannel <- ev:
		return nil
	case <-time.After(wait):
		return ErrEventChannelFull
	}
}

// Subscribe queues conn for registration; it receives a snapshot right away.
func (h *Hub) Subscribe(conn *websocket.Connection) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Unsubscribe queues conn for removal.
func (h *Hub) Unsubscribe(conn *websocket.Connection) {
	if !h.isRunning() {
		h.registry.UnregisterConnection(conn)
		return
	}
	select {
	case h.unregisterChannel <- conn:
	default:
		h.registry.UnregisterConnection(conn)
	}
}

// Snapshot builds the full presence view of a session.
func (h *Hub) Snapshot(ctx context.Context, sessionID string) (*types.PresenceSnapshot, error) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := h.store.ListPresence(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	status := types.StatusActive
	if !session.IsOpen(h.now()) {
		status = types.StatusClosed
	}
	return &types.PresenceSnapshot{
		SessionID: sessionID,
		Status:    status,
		Entries:   entries,
		TakenAt:   h.now().UTC(),
	}, nil
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer log.Info().Msg("Presence hub stopped")

	for {
		select {
		case ev := <-h.eventChannel:
			h.handleEvent(ctx, ev)

		case conn := <-h.registerChannel:
			h.handleRegistration(ctx, conn)

		case conn := <-h.unregisterChannel:
			h.registry.UnregisterConnection(conn)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev event) {
	conns := h.registry.GetSessionConnections(ev.sessionID)
	if len(conns) == 0 {
		return
	}

	snapshot, err := h.Snapshot(ctx, ev.sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", ev.sessionID).Msg("Failed to build presence snapshot")
		return
	}
	if ev.closed {
		snapshot.Status = types.StatusClosed
	}

	for _, conn := range conns {
		if err := conn.WriteJSON(snapshot); err != nil {
			log.Debug().Err(err).Str("session_id", ev.sessionID).Msg("Presence write failed")
		}
	}

	if snapshot.Status == types.StatusClosed {
		h.registry.CloseSession(ev.sessionID)
	}
}

func (h *Hub) handleRegistration(ctx context.Context, conn *websocket.Connection) {
	if conn == nil {
		return
	}
	sessionID := conn.GetSessionID()

	snapshot, err := h.Snapshot(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Presence stream for unknown session")
		_ = conn.Close()
		return
	}

	if err := conn.WriteJSON(snapshot); err != nil {
		_ = conn.Close()
		return
	}
	if snapshot.Status == types.StatusClosed {
		_ = conn.CloseWithMessage(gorilla.CloseNormalClosure, "session closed")
		return
	}

	if err := h.registry.RegisterConnection(conn); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Presence stream registration failed")
		_ = conn.Close()
		return
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("user_id", conn.GetUserID()).
		Msg("Presence stream registered")
}
