package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"attendance/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

const (
	writeBuffer  = 100
	writeTimeout = 5 * time.Second
)

// frame is a queued text message, or a close request when final is set.
type frame struct {
	data      []byte
	final     bool
	closeCode int
	closeText string
}

// Connection is one presenter's presence stream. All writes go through a
// single writer goroutine.
type Connection struct {
	conn      *websocket.Conn
	id        string
	writeCh   chan frame
	userID    string
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.New().String(),
		writeCh: make(chan frame, writeBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.writeCh:
			if f.final {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(f.closeCode, f.closeText), time.Now().Add(time.Second))
				_ = c.Close()
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- frame{data: data}:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithMessage closes the connection after every queued message has
// been written, ending with a close frame.
func (c *Connection) CloseWithMessage(code int, text string) error {
	select {
	case <-c.ctx.Done():
		return nil
	case c.writeCh <- frame{final: true, closeCode: code, closeText: text}:
		return nil
	case <-time.After(time.Second):
		return c.Close()
	}
}

// Close stops the writer and closes the socket. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Bind records who is listening to which session.
func (c *Connection) Bind(userID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.sessionID = sessionID
}

// IsBound reports whether Bind has been called.
func (c *Connection) IsBound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID != ""
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
