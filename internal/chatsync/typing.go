package chatsync

import (
	"context"

	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// InputActivity records a keystroke. typing_start goes out once per burst;
// typing_stop follows after TypingQuiet without further input.
func (c *Controller) InputActivity(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !c.session.Status.Live() || !c.connected {
		return
	}
	sid := c.session.ID
	if !c.typingOut {
		if err := c.tx.Send(ctx, protocol.TypingStart{SessionID: sid}); err != nil {
			return
		}
		c.typingOut = true
	}

	key := timerKey{SessionID: sid, Role: protocol.RoleUser}
	c.timers.arm(key, c.opts.TypingQuiet, func(gen uint64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.timers.claim(key, gen) {
			return
		}
		c.sendTypingStopLocked(context.Background(), sid)
	})
}

// Blur sends typing_stop right away if a burst is in progress.
func (c *Controller) Blur(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocalTypingLocked(ctx)
}

func (c *Controller) stopLocalTypingLocked(ctx context.Context) {
	if c.session == nil {
		c.typingOut = false
		return
	}
	c.timers.cancel(timerKey{SessionID: c.session.ID, Role: protocol.RoleUser})
	c.sendTypingStopLocked(ctx, c.session.ID)
}

func (c *Controller) sendTypingStopLocked(ctx context.Context, sid string) {
	if !c.typingOut {
		return
	}
	c.typingOut = false
	if err := c.tx.Send(ctx, protocol.TypingStop{SessionID: sid}); err != nil {
		c.log.Debug().Err(err).Str("session_id", sid).Msg("typing_stop not sent")
	}
}

// remoteTypingLocked shows or hides the placeholder for role. A shown
// placeholder removes itself after TypingExpiry unless refreshed.
func (c *Controller) remoteTypingLocked(sid string, role protocol.Role, typing bool) {
	if !c.isCurrentLocked(sid) {
		return
	}
	if !typing || !c.typingAllowedLocked(role) {
		c.hideTypingLocked(role)
		return
	}

	c.entries = Reduce(c.entries, ShowTyping{Role: role})
	key := timerKey{SessionID: sid, Role: role}
	c.timers.arm(key, c.opts.TypingExpiry, func(gen uint64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.timers.claim(key, gen) {
			return
		}
		c.entries = Reduce(c.entries, HideTyping{Role: role})
		c.emitLocked()
	})
}

// typingAllowedLocked: the bot only types while it owns the session, the agent
// only after escalation.
func (c *Controller) typingAllowedLocked(role protocol.Role) bool {
	switch role {
	case protocol.RoleAI:
		return c.session.Status == protocol.StatusActive
	case protocol.RoleAdmin:
		return c.session.Status == protocol.StatusAdminHandling
	}
	return false
}

func (c *Controller) hideTypingLocked(role protocol.Role) {
	if c.session == nil {
		return
	}
	c.timers.cancel(timerKey{SessionID: c.session.ID, Role: role})
	c.entries = Reduce(c.entries, HideTyping{Role: role})
}
