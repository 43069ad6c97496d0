package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rental-chat/internal/chat"
	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// CreateChatSession returns the caller's live session, creating it if needed.
func (h *Handler) CreateChatSession(c *gin.Context) {
	ident, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "unauthorized")
		return
	}

	sess, created, err := h.ChatSvc.GetOrCreateSession(c.Request.Context(), ident.UserID)
	if err != nil {
		failChat(c, "get_or_create_session", err)
		return
	}

	out := protocol.SessionAcquired{Session: sess.Wire(), Created: created}
	if created {
		out.WelcomeMessage = h.ChatSvc.WelcomeMessage(sess)
	}
	common.OK(c, out)
}

// GetChatSession returns the session with its full ordered history. Ended
// sessions are returned too; the client decides to rotate.
func (h *Handler) GetChatSession(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	sess, msgs, err := h.ChatSvc.GetSessionWithMessages(c.Request.Context(), ident, c.Param("session_id"))
	if err != nil {
		failChat(c, "get_session", err)
		return
	}
	common.OK(c, chat.Snapshot(sess, msgs))
}

func (h *Handler) EscalateChatSession(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	sess, err := h.ChatSvc.Escalate(c.Request.Context(), ident, c.Param("session_id"))
	if err != nil {
		failChat(c, "escalate", err)
		return
	}
	common.OK(c, sess.Wire())
}

func (h *Handler) EndChatSession(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	sess, err := h.ChatSvc.End(c.Request.Context(), ident, c.Param("session_id"))
	if err != nil {
		failChat(c, "end", err)
		return
	}
	common.OK(c, sess.Wire())
}

type postMessageReq struct {
	Text       string `json:"text"`
	Attachment string `json:"attachment"`
}

// PostChatMessage is the REST equivalent of send_message for clients without
// a socket. The message is still broadcast to the room.
func (h *Handler) PostChatMessage(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	var req postMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeInvalidJSON, "invalid json")
		return
	}

	sid := c.Param("session_id")
	var (
		msg *chat.Message
		err error
	)
	if ident.IsAdmin() {
		msg, err = h.ChatSvc.PostAdminMessage(c.Request.Context(), ident, sid, req.Text, req.Attachment)
	} else {
		msg, err = h.ChatSvc.PostUserMessage(c.Request.Context(), ident, sid, req.Text, req.Attachment)
	}
	if err != nil {
		failChat(c, "post_message", err)
		return
	}
	common.OK(c, msg.Wire())
}

// GetChatJob reports the state of an AI reply job.
func (h *Handler) GetChatJob(c *gin.Context) {
	ident, _ := middleware.IdentityFrom(c)

	j, err := h.ChatSvc.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, common.CodeBadParam, "job not found")
			return
		}
		failChat(c, "get_job", err)
		return
	}
	if !ident.IsAdmin() && j.UserID != ident.UserID {
		common.Fail(c, http.StatusNotFound, common.CodeBadParam, "job not found")
		return
	}

	common.OK(c, j.View())
}
