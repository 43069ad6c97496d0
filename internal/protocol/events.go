package protocol

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Kind string

// Client -> server.
const (
	KindJoinSession Kind = "join_session"
	KindSendMessage Kind = "send_message"
	KindTypingStart Kind = "typing_start"
	KindTypingStop  Kind = "typing_stop"
)

// Server -> client.
const (
	KindSessionCreated   Kind = "session_created"
	KindNewMessage       Kind = "new_message"
	KindAdminMessage     Kind = "admin_message"
	KindAITyping         Kind = "ai_typing"
	KindAdminTyping      Kind = "admin_typing"
	KindUserTyping       Kind = "user_typing"
	KindSessionEscalated Kind = "session_escalated"
	KindSessionEnded     Kind = "session_ended"
	KindError            Kind = "error"
)

// FromClient reports whether k is sent by clients to the server.
func (k Kind) FromClient() bool {
	switch k {
	case KindJoinSession, KindSendMessage, KindTypingStart, KindTypingStop:
		return true
	}
	return false
}

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is implemented by every payload type below and nothing else.
type Event interface {
	Kind() Kind
	isEvent()
}

type JoinSession struct {
	SessionID string `json:"sessionId"`
}

type SendMessage struct {
	Text       string `json:"text"`
	SessionID  string `json:"sessionId"`
	Attachment string `json:"attachment,omitempty"`
}

type TypingStart struct {
	SessionID string `json:"sessionId"`
}

type TypingStop struct {
	SessionID string `json:"sessionId"`
}

type SessionCreated struct {
	Session        Session  `json:"session"`
	WelcomeMessage *Message `json:"welcomeMessage,omitempty"`
}

type NewMessage struct {
	Message   Message `json:"message"`
	Sender    Role    `json:"sender"`
	SessionID string  `json:"sessionId"`
}

type AdminMessage struct {
	Message   Message `json:"message"`
	SessionID string  `json:"sessionId"`
}

type AITyping struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

type AdminTyping struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

type UserTyping struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
}

type SessionEscalated struct {
	SessionID   string    `json:"sessionId"`
	EscalatedAt time.Time `json:"escalatedAt"`
}

type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (JoinSession) Kind() Kind      { return KindJoinSession }
func (SendMessage) Kind() Kind      { return KindSendMessage }
func (TypingStart) Kind() Kind      { return KindTypingStart }
func (TypingStop) Kind() Kind       { return KindTypingStop }
func (SessionCreated) Kind() Kind   { return KindSessionCreated }
func (NewMessage) Kind() Kind       { return KindNewMessage }
func (AdminMessage) Kind() Kind     { return KindAdminMessage }
func (AITyping) Kind() Kind         { return KindAITyping }
func (AdminTyping) Kind() Kind      { return KindAdminTyping }
func (UserTyping) Kind() Kind       { return KindUserTyping }
func (SessionEscalated) Kind() Kind { return KindSessionEscalated }
func (SessionEnded) Kind() Kind     { return KindSessionEnded }
func (Error) Kind() Kind            { return KindError }

func (JoinSession) isEvent()      {}
func (SendMessage) isEvent()      {}
func (TypingStart) isEvent()      {}
func (TypingStop) isEvent()       {}
func (SessionCreated) isEvent()   {}
func (NewMessage) isEvent()       {}
func (AdminMessage) isEvent()     {}
func (AITyping) isEvent()         {}
func (AdminTyping) isEvent()      {}
func (UserTyping) isEvent()       {}
func (SessionEscalated) isEvent() {}
func (SessionEnded) isEvent()     {}
func (Error) isEvent()            {}

// SessionOf returns the session an event is scoped to, or "" when it is not
// scoped (session_created carries the id inside the session, errors carry none).
func SessionOf(ev Event) string {
	switch e := ev.(type) {
	case JoinSession:
		return e.SessionID
	case SendMessage:
		return e.SessionID
	case TypingStart:
		return e.SessionID
	case TypingStop:
		return e.SessionID
	case SessionCreated:
		return e.Session.ID
	case NewMessage:
		return e.SessionID
	case AdminMessage:
		return e.SessionID
	case AITyping:
		return e.SessionID
	case AdminTyping:
		return e.SessionID
	case UserTyping:
		return e.SessionID
	case SessionEscalated:
		return e.SessionID
	case SessionEnded:
		return e.SessionID
	}
	return ""
}

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode frames ev as {"type": ..., "data": ...}.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.Wrap(ErrMalformedEvent, "nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", ev.Kind())
	}
	return json.Marshal(envelope{Type: ev.Kind(), Data: data})
}

// Decode parses one frame. Unknown fields are ignored; an unknown type yields
// ErrUnknownEvent and an unparseable body ErrMalformedEvent.
func Decode(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	switch env.Type {
	case KindJoinSession:
		return decodeAs[JoinSession](env)
	case KindSendMessage:
		return decodeAs[SendMessage](env)
	case KindTypingStart:
		return decodeAs[TypingStart](env)
	case KindTypingStop:
		return decodeAs[TypingStop](env)
	case KindSessionCreated:
		return decodeAs[SessionCreated](env)
	case KindNewMessage:
		return decodeAs[NewMessage](env)
	case KindAdminMessage:
		return decodeAs[AdminMessage](env)
	case KindAITyping:
		return decodeAs[AITyping](env)
	case KindAdminTyping:
		return decodeAs[AdminTyping](env)
	case KindUserTyping:
		return decodeAs[UserTyping](env)
	case KindSessionEscalated:
		return decodeAs[SessionEscalated](env)
	case KindSessionEnded:
		return decodeAs[SessionEnded](env)
	case KindError:
		return decodeAs[Error](env)
	}
	return nil, errors.Wrapf(ErrUnknownEvent, "%q", env.Type)
}

func decodeAs[T Event](env envelope) (Event, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, errors.Wrapf(ErrMalformedEvent, "%s: %v", env.Type, err)
	}
	return v, nil
}
