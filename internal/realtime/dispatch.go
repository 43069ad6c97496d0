package realtime

import (
	"context"
	"errors"

	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// dispatch handles one frame from a client. Server kinds and frames without
// a session id are answered with a BAD_REQUEST error event.
func (h *Hub) dispatch(ctx context.Context, c *Client, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("bad frame")
		h.reply(c, protocol.Error{Message: "malformed event", Code: protocol.CodeBadRequest})
		return
	}
	if !ev.Kind().FromClient() {
		h.reply(c, protocol.Error{Message: "unexpected event " + string(ev.Kind()), Code: protocol.CodeBadRequest})
		return
	}
	if protocol.SessionOf(ev) == "" {
		h.reply(c, protocol.Error{Message: "missing sessionId", Code: protocol.CodeBadRequest})
		return
	}

	switch e := ev.(type) {
	case protocol.JoinSession:
		h.handleJoin(ctx, c, e)
	case protocol.SendMessage:
		h.handleSend(ctx, c, e)
	case protocol.TypingStart:
		h.relayTyping(ctx, c, e.SessionID, true)
	case protocol.TypingStop:
		h.relayTyping(ctx, c, e.SessionID, false)
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, e protocol.JoinSession) {
	sess, err := h.svc.ValidateSession(ctx, c.Identity, e.SessionID)
	if err != nil {
		h.replyServiceError(c, err)
		return
	}
	if !sess.Status.Live() {
		h.reply(c, protocol.Error{Message: "session ended", Code: protocol.CodeSessionInvalid})
		return
	}
	h.join(c, e.SessionID)
	c.log.Debug().Str("session_id", e.SessionID).Msg("joined room")
}

func (h *Hub) handleSend(ctx context.Context, c *Client, e protocol.SendMessage) {
	var err error
	if c.Identity.IsAdmin() {
		_, err = h.svc.PostAdminMessage(ctx, c.Identity, e.SessionID, e.Text, e.Attachment)
	} else {
		_, err = h.svc.PostUserMessage(ctx, c.Identity, e.SessionID, e.Text, e.Attachment)
	}
	if err != nil {
		h.replyServiceError(c, err)
	}
}

// relayTyping re-broadcasts a typing signal to the rest of the room. Nothing
// is stored.
func (h *Hub) relayTyping(ctx context.Context, c *Client, sessionID string, typing bool) {
	if !h.isMember(c, sessionID) {
		return
	}
	var ev protocol.Event = protocol.UserTyping{SessionID: sessionID, IsTyping: typing}
	if c.Identity.IsAdmin() {
		ev = protocol.AdminTyping{SessionID: sessionID, IsTyping: typing}
	}
	if err := h.pub.publish(ctx, delivery{SessionID: sessionID, Origin: c.ID}, ev); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID).Msg("relay typing")
	}
}

func (h *Hub) replyServiceError(c *Client, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrSessionEnded):
		h.reply(c, protocol.Error{Message: err.Error(), Code: protocol.CodeSessionInvalid})
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, chat.ErrInvalidTransition):
		h.reply(c, protocol.Error{Message: err.Error(), Code: protocol.CodeForbidden})
	case errors.Is(err, chat.ErrEmptyMessage):
		h.reply(c, protocol.Error{Message: err.Error(), Code: protocol.CodeBadRequest})
	default:
		c.log.Error().Err(err).Msg("channel request failed")
		h.reply(c, protocol.Error{Message: "message could not be sent", Code: protocol.CodeSendFailed})
	}
}

func (h *Hub) reply(c *Client, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return
	}
	c.enqueue(frame)
}
