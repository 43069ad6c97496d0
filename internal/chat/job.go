package chat

import "time"

// JobStatus tracks one AI reply through the worker.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	// JobSkipped: the session left the AI-handled state before the reply was ready.
	JobSkipped JobStatus = "skipped"
)

// Job is an AI reply owed to a user message. One per trigger message.
type Job struct {
	ID               string    `gorm:"primaryKey;size:26"`
	UserID           uint64    `gorm:"index;not null"`
	SessionID        string    `gorm:"size:26;index;not null"`
	TriggerMessageID uint64    `gorm:"uniqueIndex;not null"`
	Status           JobStatus `gorm:"type:varchar(16);index;not null"`
	// Attempts counts successful claims, so redeliveries after a failure show up.
	Attempts        int     `gorm:"not null;default:0"`
	ResultMessageID *uint64 `gorm:"index"`
	Error           *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobView is the REST representation of a Job.
type JobView struct {
	JobID            string    `json:"job_id"`
	SessionID        string    `json:"session_id"`
	Status           JobStatus `json:"status"`
	Attempts         int       `json:"attempts"`
	TriggerMessageID uint64    `json:"trigger_message_id"`
	ResultMessageID  *uint64   `json:"result_message_id"`
	Error            *string   `json:"error"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (j *Job) View() JobView {
	return JobView{
		JobID:            j.ID,
		SessionID:        j.SessionID,
		Status:           j.Status,
		Attempts:         j.Attempts,
		TriggerMessageID: j.TriggerMessageID,
		ResultMessageID:  j.ResultMessageID,
		Error:            j.Error,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}
