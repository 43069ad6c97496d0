package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/auth"
	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// EventSink fans channel events out to room subscribers.
type EventSink interface {
	PublishSession(ctx context.Context, sessionID string, ev protocol.Event) error
	PublishUser(ctx context.Context, userID uint64, ev protocol.Event) error
}

// ReplyQueue hands AI reply jobs to the worker.
type ReplyQueue interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Service struct {
	repo    *Repo
	events  EventSink
	replies ReplyQueue
	welcome string
	now     func() time.Time
}

// NewService wires the session store. replies may be nil, in which case no AI
// replies are scheduled.
func NewService(repo *Repo, events EventSink, replies ReplyQueue, welcome string) *Service {
	return &Service{repo: repo, events: events, replies: replies, welcome: welcome, now: time.Now}
}

// GetOrCreateSession returns the caller's live session, creating one if none
// exists. Concurrent callers for the same user converge on one session.
func (s *Service) GetOrCreateSession(ctx context.Context, userID uint64) (*Session, bool, error) {
	if existing, err := s.repo.GetLiveSession(ctx, userID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, false, err
	}

	sid, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	sess, created, err := s.repo.CreateLiveSessionOrGetExisting(ctx, &Session{
		SessionID: sid,
		UserID:    userID,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		ev := protocol.SessionCreated{Session: sess.Wire(), WelcomeMessage: s.WelcomeMessage(sess)}
		s.publishUser(ctx, userID, ev)
	}
	return sess, created, nil
}

// WelcomeMessage is the greeting shown when a session starts. It is not stored.
func (s *Service) WelcomeMessage(sess *Session) *protocol.Message {
	if s.welcome == "" {
		return nil
	}
	return &protocol.Message{
		SessionID:  sess.SessionID,
		SenderRole: protocol.RoleAI,
		Body:       s.welcome,
		CreatedAt:  sess.CreatedAt,
	}
}

// GetSessionWithMessages returns the authoritative snapshot, ended sessions
// included, so clients can tell an ended session from an unknown one.
func (s *Service) GetSessionWithMessages(ctx context.Context, caller auth.Identity, sessionID string) (*Session, []Message, error) {
	sess, err := s.sessionFor(ctx, caller, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.repo.ListMessagesAsc(ctx, sess.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// ValidateSession checks access and returns the session.
func (s *Service) ValidateSession(ctx context.Context, caller auth.Identity, sessionID string) (*Session, error) {
	return s.sessionFor(ctx, caller, sessionID)
}

// Escalate hands an AI-handled session to a human.
func (s *Service) Escalate(ctx context.Context, caller auth.Identity, sessionID string) (*Session, error) {
	if _, err := s.sessionFor(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	changed, err := s.repo.Transition(ctx, sessionID,
		[]protocol.Status{protocol.StatusActive}, protocol.StatusAdminHandling, at)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !changed {
		if sess.Status == protocol.StatusEnded {
			return sess, ErrSessionEnded
		}
		return sess, ErrInvalidTransition
	}

	log.Info().Str("component", "chat").Str("session_id", sessionID).Uint64("user_id", sess.UserID).Msg("session escalated")
	s.publishSession(ctx, sessionID, protocol.SessionEscalated{SessionID: sessionID, EscalatedAt: at})
	return sess, nil
}

// End closes a live session. Ending an already ended session yields ErrSessionEnded.
func (s *Service) End(ctx context.Context, caller auth.Identity, sessionID string) (*Session, error) {
	if _, err := s.sessionFor(ctx, caller, sessionID); err != nil {
		return nil, err
	}

	changed, err := s.repo.Transition(ctx, sessionID,
		[]protocol.Status{protocol.StatusActive, protocol.StatusAdminHandling}, protocol.StatusEnded, s.now().UTC())
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return sess, ErrSessionEnded
	}

	log.Info().Str("component", "chat").Str("session_id", sessionID).Uint64("user_id", sess.UserID).Msg("session ended")
	s.publishSession(ctx, sessionID, protocol.SessionEnded{SessionID: sessionID})
	return sess, nil
}

// PostUserMessage stores a message from the session owner and, while the
// session is AI-handled, schedules a reply.
func (s *Service) PostUserMessage(ctx context.Context, caller auth.Identity, sessionID, body, attachment string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" && attachment == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := s.sessionFor(ctx, caller, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != caller.UserID {
		return nil, ErrForbidden
	}
	if !sess.Status.Live() {
		return nil, ErrSessionEnded
	}

	msg := &Message{
		SessionID:  sessionID,
		SenderRole: protocol.RoleUser,
		SenderID:   caller.UserID,
		Body:       body,
		Attachment: attachment,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.publishSession(ctx, sessionID, protocol.NewMessage{
		Message:   msg.Wire(),
		Sender:    protocol.RoleUser,
		SessionID: sessionID,
	})

	if sess.Status == protocol.StatusActive {
		s.scheduleReply(ctx, sess, msg)
	}
	return msg, nil
}

// PostAdminMessage stores a reply from a human agent. Only valid while the
// session is admin_handling.
func (s *Service) PostAdminMessage(ctx context.Context, caller auth.Identity, sessionID, body, attachment string) (*Message, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	body = strings.TrimSpace(body)
	if body == "" && attachment == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case protocol.StatusEnded:
		return nil, ErrSessionEnded
	case protocol.StatusActive:
		return nil, ErrInvalidTransition
	}

	msg := &Message{
		SessionID:  sessionID,
		SenderRole: protocol.RoleAdmin,
		SenderID:   caller.UserID,
		Body:       body,
		Attachment: attachment,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.publishSession(ctx, sessionID, protocol.AdminMessage{Message: msg.Wire(), SessionID: sessionID})
	return msg, nil
}

// ListSessions is the admin work queue: sessions in status, oldest activity
// first. An empty status means escalated sessions.
func (s *Service) ListSessions(ctx context.Context, status protocol.Status, limit int) ([]Session, error) {
	if status == "" {
		status = protocol.StatusAdminHandling
	}
	return s.repo.ListSessionsByStatus(ctx, status, limit)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

func (s *Service) scheduleReply(ctx context.Context, sess *Session, trigger *Message) {
	if s.replies == nil {
		return
	}
	jobID, err := common.NewULID()
	if err != nil {
		log.Error().Err(err).Str("component", "chat").Msg("new job id")
		return
	}
	j := &Job{
		ID:               jobID,
		UserID:           sess.UserID,
		SessionID:        sess.SessionID,
		TriggerMessageID: trigger.ID,
		Status:           JobQueued,
	}
	if err := s.repo.CreateJob(ctx, j); err != nil {
		log.Error().Err(err).Str("component", "chat").Str("session_id", sess.SessionID).Msg("create reply job")
		return
	}
	if err := s.replies.PublishJob(ctx, jobID); err != nil {
		log.Error().Err(err).Str("component", "chat").Str("session_id", sess.SessionID).Str("job_id", jobID).Msg("enqueue reply job")
		_ = s.repo.MarkJobFailed(ctx, jobID, "enqueue failed: "+err.Error())
	}
}

// sessionFor loads a session and hides sessions the caller may not see.
func (s *Service) sessionFor(ctx context.Context, caller auth.Identity, sessionID string) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && sess.UserID != caller.UserID {
		// hide existence
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) publishSession(ctx context.Context, sessionID string, ev protocol.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSession(ctx, sessionID, ev); err != nil {
		log.Warn().Err(err).Str("component", "chat").Str("session_id", sessionID).Str("event", string(ev.Kind())).Msg("publish event")
	}
}

func (s *Service) publishUser(ctx context.Context, userID uint64, ev protocol.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishUser(ctx, userID, ev); err != nil {
		log.Warn().Err(err).Str("component", "chat").Uint64("user_id", userID).Str("event", string(ev.Kind())).Msg("publish event")
	}
}
