package types

import "time"

// Request and response bodies of the HTTP contract. Field names are the contract.

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string   `json:"token"`
	User  *Account `json:"user"`
}

type StartSessionRequest struct {
	ClassID   string `json:"classId"`
	SubjectID string `json:"subjectId"`
}

// SessionResponse is a session plus its display label.
type SessionResponse struct {
	Session
	Label string `json:"label"`
}

// NewSessionResponse wraps s for the wire.
func NewSessionResponse(s *Session) *SessionResponse {
	return &SessionResponse{Session: *s, Label: s.Label()}
}

type ScopesResponse struct {
	Scopes []Scope `json:"scopes"`
}

type ResolveCodeRequest struct {
	Code string `json:"code"`
}

type ResolveCodeResponse struct {
	SessionID   string    `json:"sessionId"`
	ClassName   string    `json:"className"`
	SubjectName string    `json:"subjectName"`
	Label       string    `json:"label"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// SubmitRequest carries an encoded capture, see DecodeCapture.
type SubmitRequest struct {
	SessionID string `json:"sessionId"`
	Capture   string `json:"capture"`
}

type SubmitResponse struct {
	MarkID    string    `json:"markId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

type ProfileRequest struct {
	Capture string `json:"capture"`
}

type ProfileResponse struct {
	ParticipantID string `json:"participantId"`
	Registered    bool   `json:"registered"`
}

// ErrorResponse is the body of every non-2xx response. Kind is one of the
// Kind* constants.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
