package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// Notices are the local system lines shown on lifecycle changes.
type Notices struct {
	PreviousEnded string
	Escalated     string
	Ended         string
}

var DefaultNotices = Notices{
	PreviousEnded: "Your previous chat ended. Starting a new conversation.",
	Escalated:     "You're being connected to a support agent.",
	Ended:         "This chat has ended.",
}

type Options struct {
	// TypingQuiet is how long local input must pause before typing_stop is sent.
	TypingQuiet time.Duration
	// TypingExpiry removes a remote typing placeholder that was never stopped.
	TypingExpiry time.Duration
	// RetryMin and RetryMax bound the backoff between attempts to resume a
	// session after the chat service failed while connected.
	RetryMin time.Duration
	RetryMax time.Duration
	Clock    Clock
	Notices  Notices

	// OnChange receives a fresh View after every state change. It is called
	// with the controller locked and must not call back into the Controller.
	OnChange func(View)
	// OnError receives user-visible failures (send failed, service unavailable).
	OnError func(error)
}

func (o Options) withDefaults() Options {
	if o.TypingQuiet <= 0 {
		o.TypingQuiet = 1200 * time.Millisecond
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 2 * time.Second
	}
	if o.RetryMin <= 0 {
		o.RetryMin = time.Second
	}
	if o.RetryMax < o.RetryMin {
		o.RetryMax = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = RealClock
	}
	if o.Notices == (Notices{}) {
		o.Notices = DefaultNotices
	}
	return o
}

// View is what the UI layer renders.
type View struct {
	SessionID string
	Status    protocol.Status
	Connected bool
	Entries   []Entry
}

// Controller is the single source of truth for which session this client is
// attached to. All methods are safe for concurrent use; they run one at a
// time, including timer callbacks.
type Controller struct {
	svc   ChatService
	tx    Transport
	store PointerStore
	opts  Options
	log   zerolog.Logger

	mu        sync.Mutex
	session   *protocol.Session
	entries   []Entry
	connected bool
	localSeq  int64
	typingOut bool
	timers    *timerRegistry

	retryTimer Timer
	retryGen   uint64
	retryDelay time.Duration
}

func NewController(svc ChatService, tx Transport, store PointerStore, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		svc:    svc,
		tx:     tx,
		store:  store,
		opts:   opts,
		log:    log.With().Str("component", "chatsync").Logger(),
		timers: newTimerRegistry(opts.Clock),
	}
}

// View returns a copy of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Connected is called by the transport after every (re)connect. Room
// membership does not survive a reconnect, so the session is resumed from
// scratch.
func (c *Controller) Connected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	c.connected = true
	return c.resumeLocked(ctx)
}

// Disconnected is called by the transport when the connection drops.
func (c *Controller) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	c.connected = false
	c.typingOut = false
	c.stopRetryLocked()
	c.timers.cancelAll()
	c.entries = StripTyping(c.entries)
}

// ResumeOrCreate attaches to the persisted session if it is still live and
// otherwise starts a new one.
func (c *Controller) ResumeOrCreate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	return c.resumeLocked(ctx)
}

// Rejoin re-subscribes to the current room and reconciles history.
func (c *Controller) Rejoin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	if c.session == nil {
		return ErrNoSession
	}
	c.joinLocked(ctx)
	return c.refetchLocked(ctx, true)
}

// Escalate asks for a human agent. Only valid while the session is AI-handled.
func (c *Controller) Escalate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	if c.session == nil || !c.session.Status.Live() {
		return ErrNoSession
	}
	if c.session.Status != protocol.StatusActive {
		return ErrConflict
	}
	id := c.session.ID

	sess, err := c.svc.EscalateSession(ctx, id)
	switch {
	case err == nil:
		at := c.opts.Clock.Now().UTC()
		if sess.EscalatedAt != nil {
			at = *sess.EscalatedAt
		}
		c.applyEscalationLocked(ctx, id, at)
		return nil
	case errors.Is(err, ErrInvalidSession):
		return c.rotateLocked(ctx, id, c.opts.Notices.PreviousEnded, false)
	case errors.Is(err, ErrConflict):
		// another tab or the server moved first; take the server's word
		return c.refetchLocked(ctx, true)
	default:
		c.reportLocked(err)
		return err
	}
}

// End closes the current session and immediately opens a fresh one so the UI
// always has a live channel.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	if c.session == nil {
		return ErrNoSession
	}
	id := c.session.ID
	if err := c.svc.EndSession(ctx, id); err != nil && !errors.Is(err, ErrInvalidSession) {
		c.reportLocked(err)
		return err
	}
	return c.applyEndedLocked(ctx, id)
}

// Send shows text immediately as an optimistic entry and transmits it. The
// optimistic entry is replaced by the next authoritative history fetch.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.session == nil || !c.session.Status.Live() {
		return ErrNoSession
	}
	sid := c.session.ID

	id := c.nextLocalIDLocked()
	c.entries = Reduce(c.entries, AppendOptimistic{ID: id, Text: text, At: c.opts.Clock.Now()})
	c.emitLocked()

	c.stopLocalTypingLocked(ctx)
	if err := c.tx.Send(ctx, protocol.SendMessage{Text: text, SessionID: sid}); err != nil {
		c.entries = Reduce(c.entries, DropEntry{ID: id})
		err = errors.Wrap(ErrSendFailed, err.Error())
		c.reportLocked(err)
		return err
	}
	return nil
}

// HandleEvent applies one inbound channel event.
func (c *Controller) HandleEvent(ctx context.Context, ev protocol.Event) {
	if ev.Kind().FromClient() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.emitLocked()

	switch e := ev.(type) {
	case protocol.SessionCreated:
		c.onSessionCreatedLocked(ctx, e)
	case protocol.NewMessage:
		c.onNewMessageLocked(ctx, e)
	case protocol.AdminMessage:
		if c.isCurrentLocked(e.SessionID) {
			m := e.Message
			m.SenderRole = protocol.RoleAdmin
			c.appendIncomingLocked(m)
		}
	case protocol.AITyping:
		c.remoteTypingLocked(e.SessionID, protocol.RoleAI, e.IsTyping)
	case protocol.AdminTyping:
		c.remoteTypingLocked(e.SessionID, protocol.RoleAdmin, e.IsTyping)
	case protocol.UserTyping:
		// another tab of this user; nothing to show
	case protocol.SessionEscalated:
		c.applyEscalationLocked(ctx, e.SessionID, e.EscalatedAt)
	case protocol.SessionEnded:
		if err := c.applyEndedLocked(ctx, e.SessionID); err != nil {
			c.log.Warn().Err(err).Str("session_id", e.SessionID).Msg("restart after end")
		}
	case protocol.Error:
		c.onServerErrorLocked(ctx, e)
	}
}

// resumeLocked is resumeOrCreateLocked plus recovery: a failure is shown to
// the user and, while connected, retried with backoff.
func (c *Controller) resumeLocked(ctx context.Context) error {
	if err := c.resumeOrCreateLocked(ctx); err != nil {
		c.failResumeLocked(err)
		return err
	}
	c.stopRetryLocked()
	c.retryDelay = 0
	return nil
}

func (c *Controller) failResumeLocked(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.reportLocked(errors.Wrap(ErrUnavailable, err.Error()))
	if !c.connected {
		return
	}

	switch {
	case c.retryDelay == 0:
		c.retryDelay = c.opts.RetryMin
	case c.retryDelay < c.opts.RetryMax:
		c.retryDelay = min(2*c.retryDelay, c.opts.RetryMax)
	}
	c.stopRetryLocked()
	gen := c.retryGen
	c.log.Warn().Err(err).Dur("retry_in", c.retryDelay).Msg("chat service unavailable")
	c.retryTimer = c.opts.Clock.AfterFunc(c.retryDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.retryGen || !c.connected {
			return
		}
		c.retryTimer = nil
		defer c.emitLocked()
		_ = c.resumeLocked(context.Background())
	})
}

func (c *Controller) stopRetryLocked() {
	c.retryGen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) resumeOrCreateLocked(ctx context.Context) error {
	id, ok, err := c.store.Get(ctx)
	if err != nil {
		return errors.Wrap(err, "read session pointer")
	}
	if !ok {
		return c.startSessionLocked(ctx, nil, false)
	}

	snap, err := c.svc.GetSessionWithMessages(ctx, id)
	switch {
	case err == nil && snap.Session.Status.Live():
		return c.attachLocked(ctx, snap.Session)
	case err != nil && !errors.Is(err, ErrInvalidSession):
		return errors.Wrap(err, "fetch session")
	}

	// ended or unknown to the server: drop the pointer and start over
	c.log.Info().Str("session_id", id).Msg("persisted session is gone, starting a new one")
	if err := c.store.Clear(ctx, id); err != nil {
		return errors.Wrap(err, "clear session pointer")
	}
	c.session = nil
	c.entries = nil
	return c.startSessionLocked(ctx, []string{c.opts.Notices.PreviousEnded}, false)
}

func (c *Controller) startSessionLocked(ctx context.Context, notices []string, welcome bool) error {
	acq, err := c.svc.GetOrCreateSession(ctx)
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	if err := c.store.Set(ctx, acq.Session.ID); err != nil {
		return errors.Wrap(err, "write session pointer")
	}
	if err := c.attachLocked(ctx, acq.Session); err != nil {
		return err
	}
	for _, n := range notices {
		c.noticeLocked(protocol.RoleSystem, n)
	}
	if welcome && acq.WelcomeMessage != nil {
		c.noticeLocked(protocol.RoleAI, acq.WelcomeMessage.Body)
	}
	return nil
}

// attachLocked makes s current, joins its room and reconciles history. Join
// goes first so nothing published between fetch and join is lost.
func (c *Controller) attachLocked(ctx context.Context, s protocol.Session) error {
	c.setSessionLocked(s)
	c.joinLocked(ctx)
	return c.refetchLocked(ctx, false)
}

func (c *Controller) rotateLocked(ctx context.Context, oldID, notice string, welcome bool) error {
	c.log.Info().Str("session_id", oldID).Msg("rotating session")
	if err := c.store.Clear(ctx, oldID); err != nil {
		return errors.Wrap(err, "clear session pointer")
	}
	c.timers.cancelAll()
	c.typingOut = false
	c.session = nil
	c.entries = nil
	if err := c.startSessionLocked(ctx, []string{notice}, welcome); err != nil {
		c.failResumeLocked(err)
		return err
	}
	return nil
}

// refetchLocked replaces the list with the authoritative history. With
// allowRotate, a session the server no longer considers live is dropped and
// replaced.
func (c *Controller) refetchLocked(ctx context.Context, allowRotate bool) error {
	if c.session == nil {
		return ErrNoSession
	}
	id := c.session.ID

	snap, err := c.svc.GetSessionWithMessages(ctx, id)
	if err == nil && !snap.Session.Status.Live() {
		err = ErrInvalidSession
	}
	if err != nil {
		if allowRotate && errors.Is(err, ErrInvalidSession) {
			return c.rotateLocked(ctx, id, c.opts.Notices.PreviousEnded, false)
		}
		return errors.Wrap(err, "fetch history")
	}

	escalatedNow := c.applyServerStatusLocked(snap.Session)
	c.timers.cancel(timerKey{SessionID: id, Role: protocol.RoleAI})
	c.timers.cancel(timerKey{SessionID: id, Role: protocol.RoleAdmin})
	c.entries = Reduce(c.entries, ReplaceHistory{Messages: snap.Messages})
	if escalatedNow {
		c.noticeLocked(protocol.RoleSystem, c.opts.Notices.Escalated)
	}
	return nil
}

// applyServerStatusLocked adopts a server-confirmed status, forward moves
// only. It reports whether this moved the session into admin_handling.
func (c *Controller) applyServerStatusLocked(s protocol.Session) bool {
	cur := c.session.Status
	switch {
	case cur == s.Status:
		c.session.EscalatedAt = s.EscalatedAt
		return false
	case cur.CanTransition(s.Status):
		c.session.Status = s.Status
		c.session.EscalatedAt = s.EscalatedAt
		return s.Status == protocol.StatusAdminHandling
	}
	return false
}

func (c *Controller) applyEscalationLocked(ctx context.Context, id string, at time.Time) {
	if !c.isCurrentLocked(id) || c.session.Status != protocol.StatusActive {
		return
	}
	c.session.Status = protocol.StatusAdminHandling
	c.session.EscalatedAt = &at
	c.hideTypingLocked(protocol.RoleAI)

	if err := c.refetchLocked(ctx, true); err != nil {
		c.log.Warn().Err(err).Str("session_id", id).Msg("refetch after escalation")
	}
	if c.isCurrentLocked(id) {
		c.noticeLocked(protocol.RoleSystem, c.opts.Notices.Escalated)
	}
}

func (c *Controller) applyEndedLocked(ctx context.Context, id string) error {
	if !c.isCurrentLocked(id) {
		return nil
	}
	return c.rotateLocked(ctx, id, c.opts.Notices.Ended, true)
}

func (c *Controller) onSessionCreatedLocked(ctx context.Context, e protocol.SessionCreated) {
	if c.session != nil && c.session.ID == e.Session.ID {
		return
	}
	// Another tab started a session; converge on whatever the store and the
	// server now agree on.
	if err := c.resumeLocked(ctx); err != nil {
		c.log.Warn().Err(err).Msg("resume after session_created")
	}
}

func (c *Controller) onNewMessageLocked(ctx context.Context, e protocol.NewMessage) {
	if !c.isCurrentLocked(e.SessionID) {
		return
	}
	m := e.Message
	if e.Sender != "" {
		m.SenderRole = e.Sender
	}
	switch m.SenderRole {
	case protocol.RoleUser:
		// The optimistic copy already shows it. The echo is the server's
		// acknowledgment, so reconcile instead of appending; a message sent
		// from another tab shows up through the same fetch.
		if err := c.refetchLocked(ctx, true); err != nil {
			c.log.Warn().Err(err).Str("session_id", e.SessionID).Msg("refetch after echo")
		}
	case protocol.RoleAI, protocol.RoleAdmin:
		c.appendIncomingLocked(m)
	}
}

func (c *Controller) onServerErrorLocked(ctx context.Context, e protocol.Error) {
	switch e.Code {
	case protocol.CodeSessionInvalid:
		// The error does not say which session it is about; verify the current
		// one, which rotates it if the server no longer knows it.
		if c.session == nil {
			if err := c.resumeLocked(ctx); err != nil {
				c.log.Warn().Err(err).Msg("resume after invalid session")
			}
			return
		}
		if err := c.refetchLocked(ctx, true); err != nil {
			c.log.Warn().Err(err).Msg("verify session after invalid session")
		}
	case protocol.CodeSendFailed:
		c.reportLocked(errors.Wrap(ErrSendFailed, e.Message))
		if c.session != nil {
			_ = c.refetchLocked(ctx, true)
		}
	default:
		c.reportLocked(errors.New(e.Message))
	}
}

func (c *Controller) appendIncomingLocked(m protocol.Message) {
	c.timers.cancel(timerKey{SessionID: c.session.ID, Role: m.SenderRole})
	c.entries = Reduce(c.entries, AppendIncoming{Message: m})
}

func (c *Controller) joinLocked(ctx context.Context) {
	if c.session == nil {
		return
	}
	err := c.tx.Send(ctx, protocol.JoinSession{SessionID: c.session.ID})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn().Err(err).Str("session_id", c.session.ID).Msg("join room")
	}
}

func (c *Controller) setSessionLocked(s protocol.Session) {
	if c.session == nil || c.session.ID != s.ID {
		c.timers.cancelAll()
		c.typingOut = false
		c.entries = nil
	}
	cp := s
	c.session = &cp
}

func (c *Controller) isCurrentLocked(id string) bool {
	return c.session != nil && id != "" && c.session.ID == id
}

func (c *Controller) noticeLocked(role protocol.Role, text string) {
	if text == "" {
		return
	}
	c.entries = Reduce(c.entries, AppendNotice{
		ID:   c.nextLocalIDLocked(),
		Role: role,
		Text: text,
		At:   c.opts.Clock.Now(),
	})
}

func (c *Controller) nextLocalIDLocked() int64 {
	c.localSeq--
	return c.localSeq
}

func (c *Controller) reportLocked(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Controller) emitLocked() {
	if c.opts.OnChange != nil {
		c.opts.OnChange(c.viewLocked())
	}
}

func (c *Controller) viewLocked() View {
	v := View{Connected: c.connected, Entries: clone(c.entries)}
	if c.session != nil {
		v.SessionID = c.session.ID
		v.Status = c.session.Status
	}
	return v
}
