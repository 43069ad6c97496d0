package chatsync

import (
	"context"
	"errors"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

var (
	// ErrInvalidSession means the server does not recognize the session or it
	// has already ended.
	ErrInvalidSession = errors.New("chatsync: invalid session")
	// ErrConflict means the server refused a lifecycle transition.
	ErrConflict     = errors.New("chatsync: transition refused")
	ErrNotConnected = errors.New("chatsync: not connected")
	ErrNoSession    = errors.New("chatsync: no live session")
	ErrSendFailed   = errors.New("chatsync: send failed")
	// ErrUnavailable wraps failures to resume or start a session.
	ErrUnavailable = errors.New("chatsync: chat service unavailable")
)

// ChatService is the REST side of the chat service.
type ChatService interface {
	GetOrCreateSession(ctx context.Context) (protocol.SessionAcquired, error)
	GetSessionWithMessages(ctx context.Context, sessionID string) (protocol.SessionSnapshot, error)
	EscalateSession(ctx context.Context, sessionID string) (protocol.Session, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Transport sends events over the message channel. It returns
// ErrNotConnected while the connection is down.
type Transport interface {
	Send(ctx context.Context, ev protocol.Event) error
}
