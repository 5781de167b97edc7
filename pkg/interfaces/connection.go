package interfaces

// Connection is a push channel to one subscribed presenter.
type Connection interface {
	// WriteJSON queues v for delivery. Safe for concurrent use.
	WriteJSON(v interface{}) error

	// Close closes the connection. Idempotent.
	Close() error

	// ID identifies this connection within the registry.
	ID() string

	// GetUserID returns the subscribed presenter's id.
	GetUserID() string

	// GetSessionID returns the session whose presence this connection follows.
	GetSessionID() string
}
