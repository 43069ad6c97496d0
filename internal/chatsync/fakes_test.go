package chatsync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeService keeps sessions for a single principal.
type fakeService struct {
	mu       sync.Mutex
	sessions map[string]*protocol.Session
	messages map[string][]protocol.Message
	nextSess int
	nextMsg  int64
	welcome  string
	created  int

	getErr error
}

func newFakeService() *fakeService {
	return &fakeService{
		sessions: map[string]*protocol.Session{},
		messages: map[string][]protocol.Message{},
		nextSess: 1,
		nextMsg:  500,
		welcome:  "Hi! How can I help?",
	}
}

func (s *fakeService) addSession(id string, st protocol.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &protocol.Session{ID: id, UserID: 7, Status: st}
}

func (s *fakeService) setStatus(id string, st protocol.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id].Status = st
}

func (s *fakeService) post(id string, role protocol.Role, body string) protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	m := protocol.Message{ID: s.nextMsg, SessionID: id, SenderRole: role, Body: body}
	s.messages[id] = append(s.messages[id], m)
	return m
}

func (s *fakeService) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status.Live() {
			n++
		}
	}
	return n
}

func (s *fakeService) GetOrCreateSession(context.Context) (protocol.SessionAcquired, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Status.Live() {
			return protocol.SessionAcquired{Session: *sess}, nil
		}
	}
	id := strconv.Itoa(s.nextSess)
	s.nextSess++
	s.created++
	sess := &protocol.Session{ID: id, UserID: 7, Status: protocol.StatusActive}
	s.sessions[id] = sess
	return protocol.SessionAcquired{
		Session:        *sess,
		Created:        true,
		WelcomeMessage: &protocol.Message{SessionID: id, SenderRole: protocol.RoleAI, Body: s.welcome},
	}, nil
}

func (s *fakeService) GetSessionWithMessages(_ context.Context, id string) (protocol.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return protocol.SessionSnapshot{}, s.getErr
	}
	sess, ok := s.sessions[id]
	if !ok {
		return protocol.SessionSnapshot{}, ErrInvalidSession
	}
	msgs := append([]protocol.Message(nil), s.messages[id]...)
	return protocol.SessionSnapshot{Session: *sess, Messages: msgs}, nil
}

func (s *fakeService) EscalateSession(_ context.Context, id string) (protocol.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status == protocol.StatusEnded {
		return protocol.Session{}, ErrInvalidSession
	}
	if sess.Status != protocol.StatusActive {
		return protocol.Session{}, ErrConflict
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sess.Status = protocol.StatusAdminHandling
	sess.EscalatedAt = &at
	return *sess, nil
}

func (s *fakeService) EndSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status == protocol.StatusEnded {
		return ErrInvalidSession
	}
	sess.Status = protocol.StatusEnded
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []protocol.Event
	err  error
}

func (t *fakeTransport) Send(_ context.Context, ev protocol.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, ev)
	return nil
}

func (t *fakeTransport) count(k protocol.Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ev := range t.sent {
		if ev.Kind() == k {
			n++
		}
	}
	return n
}

func (t *fakeTransport) last() protocol.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}
