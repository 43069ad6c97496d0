package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rental-chat/internal/ai"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// Responder runs reply jobs for AI-handled sessions. It lives in the worker.
type Responder struct {
	repo              *Repo
	provider          ai.Provider
	events            EventSink
	contextWindowSize int
}

func NewResponder(repo *Repo, provider ai.Provider, events EventSink, contextWindowSize int) *Responder {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Responder{repo: repo, provider: provider, events: events, contextWindowSize: contextWindowSize}
}

// HandleJob produces and stores the AI reply for jobID. Redelivered jobs that
// were already claimed are acknowledged without doing work, and a session that
// was escalated or ended meanwhile gets no AI reply.
func (r *Responder) HandleJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	claimed, err := r.repo.ClaimJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug().Str("component", "responder").Str("job_id", jobID).Msg("job already claimed")
		return nil
	}

	j, err := r.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if live, err := r.stillAIHandled(ctx, j.SessionID); err != nil || !live {
		if err != nil {
			return r.fail(ctx, j, err)
		}
		return r.repo.MarkJobSkipped(ctx, j.ID)
	}

	r.publish(ctx, j.SessionID, protocol.AITyping{SessionID: j.SessionID, IsTyping: true})
	defer r.publish(context.WithoutCancel(ctx), j.SessionID, protocol.AITyping{SessionID: j.SessionID, IsTyping: false})

	recentDesc, err := r.repo.ListRecentMessagesDesc(ctx, j.SessionID, r.contextWindowSize)
	if err != nil {
		return r.fail(ctx, j, err)
	}
	// provider expects ASC
	providerMsgs := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		providerMsgs = append(providerMsgs, ai.Message{Role: providerRole(m.SenderRole), Content: m.Body})
	}

	genStart := time.Now()
	reply, err := r.provider.Chat(ctx, providerMsgs)
	if err != nil {
		return r.fail(ctx, j, err)
	}
	genCost := time.Since(genStart)

	// The session may have been escalated while the provider was thinking.
	msg := &Message{
		SessionID:  j.SessionID,
		SenderRole: protocol.RoleAI,
		Body:       reply,
	}
	stored, err := r.repo.InsertMessageWhile(ctx, msg, protocol.StatusActive)
	if err != nil {
		return r.fail(ctx, j, err)
	}
	if !stored {
		return r.repo.MarkJobSkipped(ctx, j.ID)
	}
	r.publish(ctx, j.SessionID, protocol.NewMessage{Message: msg.Wire(), Sender: protocol.RoleAI, SessionID: j.SessionID})

	if err := r.repo.MarkJobSucceeded(ctx, j.ID, msg.ID); err != nil {
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		log.Info().Str("component", "responder").Str("job_id", j.ID).
			Dur("gen", genCost).Dur("total", total).Msg("slow reply job")
	}
	return nil
}

func (r *Responder) stillAIHandled(ctx context.Context, sessionID string) (bool, error) {
	sess, err := r.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.Status == protocol.StatusActive, nil
}

func (r *Responder) fail(ctx context.Context, j *Job, cause error) error {
	if err := r.repo.MarkJobFailed(ctx, j.ID, cause.Error()); err != nil {
		log.Error().Err(err).Str("component", "responder").Str("job_id", j.ID).Msg("mark job failed")
	}
	return cause
}

func (r *Responder) publish(ctx context.Context, sessionID string, ev protocol.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishSession(ctx, sessionID, ev); err != nil {
		log.Warn().Err(err).Str("component", "responder").Str("session_id", sessionID).Msg("publish event")
	}
}

func providerRole(role protocol.Role) string {
	if role == protocol.RoleUser {
		return "user"
	}
	return "assistant"
}
