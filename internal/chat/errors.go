package chat

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionEnded      = errors.New("session ended")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrForbidden         = errors.New("forbidden")
	ErrEmptyMessage      = errors.New("empty message")
)
