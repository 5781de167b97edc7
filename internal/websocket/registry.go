package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MaxStreamsPerSession bounds presence streams per session; a presenter may
// have the register open on a few devices.
const MaxStreamsPerSession = 8

// Registry tracks presence streams by session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Connection // sessionID -> connID -> Connection
	total    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a bound connection to its session.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsBound() {
		return ErrConnectionNotBound
	}

	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.sessions[sessionID]
	if conns == nil {
		conns = make(map[string]*Connection)
		r.sessions[sessionID] = conns
	}
	if _, exists := conns[conn.ID()]; exists {
		return nil
	}
	if len(conns) >= MaxStreamsPerSession {
		return ErrTooManySubscriptions
	}
	conns[conn.ID()] = conn
	r.total++
	return nil
}

// UnregisterConnection removes conn. Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if _, ok := conns[conn.ID()]; !ok {
		return
	}
	delete(conns, conn.ID())
	r.total--
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
}

// GetSessionConnections returns the streams following sessionID.
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.sessions[sessionID]
	out := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// CloseSession closes and forgets every stream following sessionID.
func (r *Registry) CloseSession(sessionID string) int {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.total -= len(conns)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.CloseWithMessage(websocket.CloseNormalClosure, "session closed"); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("Closing presence stream")
		}
	}
	return len(conns)
}

// GetStats returns registry statistics.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": r.total,
		"active_sessions":   len(r.sessions),
	}
}

// CloseAll closes every stream.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		closed += r.CloseSession(id)
	}
	return closed
}
