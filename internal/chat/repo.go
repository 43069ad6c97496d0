package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetLiveSession returns the user's non-ended session.
func (r *Repo) GetLiveSession(ctx context.Context, userID uint64) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("live_key = ?", userID).
		First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CreateLiveSessionOrGetExisting inserts s as the user's live session. If the
// user already has one (unique live_key), that session is returned instead.
func (r *Repo) CreateLiveSessionOrGetExisting(ctx context.Context, s *Session) (*Session, bool, error) {
	key := s.UserID
	s.LiveKey = &key
	s.Status = protocol.StatusActive

	err := r.db.WithContext(ctx).Create(s).Error
	if err == nil {
		return s, true, nil
	}

	existing, getErr := r.GetLiveSession(ctx, s.UserID)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, ErrSessionNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// Transition moves a session to `to` only if its current status is one of
// `from`. It reports whether a row changed.
func (r *Repo) Transition(ctx context.Context, sessionID string, from []protocol.Status, to protocol.Status, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case protocol.StatusAdminHandling:
		updates["escalated_at"] = at
	case protocol.StatusEnded:
		updates["ended_at"] = at
		updates["live_key"] = nil
	}

	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ? AND status IN ?", sessionID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) ListSessionsByStatus(ctx context.Context, status protocol.Status, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// InsertMessageWhile stores m only if its session is still in status. The
// session row stays locked until the insert commits, so a concurrent
// Transition cannot slip in between the check and the write.
func (r *Repo) InsertMessageWhile(ctx context.Context, m *Message, status protocol.Status) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND status = ?", m.SessionID, status).
			Limit(1).
			Find(&s)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListMessagesAsc returns the full history in creation order (oldest -> newest).
func (r *Repo) ListMessagesAsc(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimJob moves a queued or previously failed job to running. A redelivered
// job that is running or finished is not claimed again.
func (r *Repo) ClaimJob(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobQueued, JobFailed}).
		Updates(map[string]any{
			"status":   JobRunning,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, resultMsgID uint64) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobSucceeded,
			"result_message_id": resultMsgID,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkJobSkipped(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Update("status", JobSkipped).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            JobFailed,
			"error":             errMsg,
			"result_message_id": nil,
		}).Error
}
