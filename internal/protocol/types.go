// Package protocol defines the chat channel wire format shared by the server
// hub and the client sync core.
package protocol

import "time"

// Status is the single authoritative lifecycle field of a session.
type Status string

const (
	StatusActive        Status = "active"
	StatusAdminHandling Status = "admin_handling"
	StatusEnded         Status = "ended"
)

// Live reports whether the session can still carry messages.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusAdminHandling
}

// CanTransition reports whether s -> to is a forward move in
// active -> admin_handling -> ended.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusActive:
		return to == StatusAdminHandling || to == StatusEnded
	case StatusAdminHandling:
		return to == StatusEnded
	default:
		return false
	}
}

// Role identifies who authored a message or a typing signal.
type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

type Session struct {
	ID          string     `json:"id"`
	UserID      uint64     `json:"userId"`
	Status      Status     `json:"status"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type Message struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	SenderRole Role      `json:"senderRole"`
	Body       string    `json:"body"`
	Attachment string    `json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Error codes carried by the error event.
const (
	CodeSessionInvalid = "SESSION_INVALID"
	CodeSendFailed     = "SEND_FAILED"
	CodeBadRequest     = "BAD_REQUEST"
	CodeForbidden      = "FORBIDDEN"
)

// SessionAcquired is the get-or-create response. WelcomeMessage is only set
// when the session was just created; it is not stored.
type SessionAcquired struct {
	Session        Session  `json:"session"`
	Created        bool     `json:"created"`
	WelcomeMessage *Message `json:"welcomeMessage,omitempty"`
}

// SessionSnapshot is the authoritative state of one session.
type SessionSnapshot struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}
