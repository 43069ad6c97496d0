package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

// ListAdminSessions is the agent work queue (?status=admin_handling|active, ?limit=).
func (h *Handler) ListAdminSessions(c *gin.Context) {
	status := protocol.Status(c.Query("status"))
	switch status {
	case "", protocol.StatusActive, protocol.StatusAdminHandling, protocol.StatusEnded:
	default:
		common.Fail(c, http.StatusBadRequest, common.CodeBadParam, "unknown status")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), status, limit)
	if err != nil {
		failChat(c, "list_sessions", err)
		return
	}
	out := make([]protocol.Session, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessions[i].Wire())
	}
	common.OK(c, gin.H{"sessions": out})
}
