package chat

import (
	"time"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type Session struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string          `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID    uint64          `gorm:"index;not null" json:"user_id"`
	Status    protocol.Status `gorm:"type:varchar(16);index;not null" json:"status"`
	// LiveKey mirrors UserID while the session is not ended and is NULL after.
	// The unique index allows one live session per user.
	LiveKey     *uint64    `gorm:"uniqueIndex:uniq_chat_session_live" json:"-"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

func (s *Session) Wire() protocol.Session {
	return protocol.Session{
		ID:          s.SessionID,
		UserID:      s.UserID,
		Status:      s.Status,
		EscalatedAt: s.EscalatedAt,
		CreatedAt:   s.CreatedAt,
	}
}

type Message struct {
	ID         uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string        `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_id" json:"session_id"`
	SenderRole protocol.Role `gorm:"type:varchar(16);not null" json:"sender_role"`
	// SenderID is the admin account for admin messages, the owner for user
	// messages and 0 for ai messages.
	SenderID   uint64    `gorm:"not null;default:0" json:"-"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	Attachment string    `gorm:"type:varchar(512)" json:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

func (m *Message) Wire() protocol.Message {
	return protocol.Message{
		ID:         int64(m.ID),
		SessionID:  m.SessionID,
		SenderRole: m.SenderRole,
		Body:       m.Body,
		Attachment: m.Attachment,
		CreatedAt:  m.CreatedAt,
	}
}

// Snapshot is the wire form of a session with its full history.
func Snapshot(sess *Session, msgs []Message) protocol.SessionSnapshot {
	return protocol.SessionSnapshot{Session: sess.Wire(), Messages: wireMessages(msgs)}
}

func wireMessages(msgs []Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Wire())
	}
	return out
}
